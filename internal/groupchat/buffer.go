package groupchat

import "strings"

// OutputBuffer accumulates one participant's streaming text for the current
// turn. Each participant owns exactly one buffer; the router is its only
// writer, so no locking is needed.
type OutputBuffer struct {
	b     strings.Builder
	final string
}

// AddPartial appends a streaming fragment.
func (o *OutputBuffer) AddPartial(text string) {
	o.b.WriteString(text)
}

// SetFinal records the consolidated message text. Agents that stream deltas
// usually repeat the full text in a final record; the final form supersedes
// whatever the fragments accumulated.
func (o *OutputBuffer) SetFinal(text string) {
	o.final = text
}

// Len reports how much content the buffer currently holds.
func (o *OutputBuffer) Len() int {
	if o.final != "" {
		return len(o.final)
	}
	return o.b.Len()
}

// Flush returns the turn's full message and clears the buffer.
func (o *OutputBuffer) Flush() string {
	text := o.final
	if text == "" {
		text = o.b.String()
	}
	o.b.Reset()
	o.final = ""
	return text
}
