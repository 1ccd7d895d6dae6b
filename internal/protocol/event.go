// Package protocol normalizes the streaming output of supported coding-agent
// CLIs into one uniform event model.
//
// Each agent emits newline-delimited structured records on stdout. The framing
// is uniform (one record per line); the field vocabulary is not. One Parser
// implementation per agent identifier maps its vocabulary onto the fixed set
// of event types below.
package protocol

import (
	"encoding/json"
	"time"
)

// EventType is the normalized category of a parsed record.
type EventType string

const (
	EventInit    EventType = "init"     // session start, carries native session id
	EventText    EventType = "text"     // assistant text, partial or final
	EventToolUse EventType = "tool_use" // tool invocation or completion
	EventResult  EventType = "result"   // end of turn, may carry usage
	EventUsage   EventType = "usage"    // standalone usage report
	EventSystem  EventType = "system"   // no user-visible content
	EventError   EventType = "error"    // agent-reported error
)

// ToolStatus tracks the lifecycle of a tool_use event.
type ToolStatus string

const (
	ToolRunning   ToolStatus = "running"
	ToolCompleted ToolStatus = "completed"
)

// Event is the normalized representation of one structured output record.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"` // agent-native id, when present

	// Text content. IsPartial marks a streaming fragment; the final text for
	// a turn arrives with IsPartial false or via the result event.
	Text      string `json:"text,omitempty"`
	IsPartial bool   `json:"is_partial,omitempty"`

	// IsError marks a result record that reports failure. The record still
	// ends the turn; agents emit no further result after it.
	IsError bool `json:"is_error,omitempty"`

	// Tool fields (tool_use only).
	ToolName   string          `json:"tool_name,omitempty"`
	ToolInput  json.RawMessage `json:"tool_input,omitempty"`
	ToolOutput string          `json:"tool_output,omitempty"`
	ToolStatus ToolStatus      `json:"tool_status,omitempty"`

	// Usage payload, when the record carries one. nil means "no usage
	// reported", which is distinct from a present-but-zero payload.
	Usage *UsageStats `json:"usage,omitempty"`

	// Raw is the original line, preserved losslessly for any event built
	// from parser input.
	Raw string `json:"raw,omitempty"`

	Timestamp time.Time `json:"-"`
}

// IsResult reports whether the event ends a turn.
func (e *Event) IsResult() bool {
	return e.Type == EventResult
}

// UsageStats is the normalized token/cost accounting attached to events.
//
// The additive fields combine under Add in any grouping or order. The
// non-additive fields (ContextWindow) take the latest non-zero value.
type UsageStats struct {
	InputTokens         int     `json:"input_tokens"`
	OutputTokens        int     `json:"output_tokens"`
	CacheReadTokens     int     `json:"cache_read_tokens"`
	CacheCreationTokens int     `json:"cache_creation_tokens"`
	ReasoningTokens     int     `json:"reasoning_tokens,omitempty"`
	CostUSD             float64 `json:"cost_usd"`
	ContextWindow       int     `json:"context_window,omitempty"`
}

// Add folds other into u. Additive fields sum; ContextWindow takes the
// latest non-zero value so the fold stays order-independent for totals.
func (u *UsageStats) Add(other *UsageStats) {
	if other == nil {
		return
	}
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.CacheReadTokens += other.CacheReadTokens
	u.CacheCreationTokens += other.CacheCreationTokens
	u.ReasoningTokens += other.ReasoningTokens
	u.CostUSD += other.CostUSD
	if other.ContextWindow != 0 {
		u.ContextWindow = other.ContextWindow
	}
}

// TotalTokens returns the sum of all token counters.
func (u *UsageStats) TotalTokens() int {
	return u.InputTokens + u.OutputTokens + u.CacheReadTokens + u.CacheCreationTokens + u.ReasoningTokens
}

// SumUsage folds a set of partial stats into one total. Order of the inputs
// does not affect the additive fields.
func SumUsage(parts ...*UsageStats) *UsageStats {
	total := &UsageStats{}
	for _, p := range parts {
		total.Add(p)
	}
	return total
}
