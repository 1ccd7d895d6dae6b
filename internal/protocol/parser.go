package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/drewfead/parley/internal/agenterr"
)

// Supported agent identifiers.
const (
	AgentClaude = "claude"
	AgentCodex  = "codex"
	AgentGemini = "gemini"
)

// Parser converts one agent's raw output lines into normalized events.
//
// ParseLine never returns an error: a line the parser cannot interpret
// becomes a fallback text event carrying the line verbatim, so one corrupt
// record can never abort a stream. Blank input yields nil.
type Parser interface {
	// Agent returns the identifier this parser handles.
	Agent() string

	// ParseLine parses one raw output line. Returns nil for blank input.
	ParseLine(line string) *Event

	// IsResult reports whether the event marks end-of-turn.
	IsResult(ev *Event) bool

	// ExtractSessionID returns the agent-native session id carried by the
	// event, or "" when it carries none. Used for later resumption.
	ExtractSessionID(ev *Event) string

	// ExtractUsage normalizes agent-specific usage fields. Returns nil when
	// the event carries no usage.
	ExtractUsage(ev *Event) *UsageStats

	// ExtractSlashCommands returns the slash commands advertised by the
	// event. nil means the agent does not support slash commands at all;
	// an empty non-nil slice means supported but none advertised.
	ExtractSlashCommands(ev *Event) []string

	// DetectErrorFromLine classifies one output line against the agent's
	// error vocabulary. Returns nil when the line matches nothing.
	DetectErrorFromLine(line string) *agenterr.AgentError

	// DetectErrorFromExit classifies a process exit. Returns nil for exit
	// code 0; any non-zero exit yields a non-nil error.
	DetectErrorFromExit(exitCode int, output string) *agenterr.AgentError
}

// ForAgent returns the parser for the given agent identifier.
func ForAgent(agent string) (Parser, error) {
	switch strings.ToLower(agent) {
	case "", AgentClaude:
		return &ClaudeParser{}, nil
	case AgentCodex:
		return &CodexParser{}, nil
	case AgentGemini:
		return &GeminiParser{}, nil
	default:
		return nil, fmt.Errorf("unknown agent: %s", agent)
	}
}

// Agents lists the supported agent identifiers.
func Agents() []string {
	return []string{AgentClaude, AgentCodex, AgentGemini}
}

// fallbackText wraps an unparseable line as a verbatim text event.
func fallbackText(line string) *Event {
	return &Event{
		Type:      EventText,
		Text:      line,
		Raw:       line,
		Timestamp: time.Now(),
	}
}

// contentBlock is the shared shape of message content array entries used by
// stream-json style protocols.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	// tool_use block fields
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result content, which can be a string or a nested block array
	Content json.RawMessage `json:"content,omitempty"`
}

// consolidateText extracts the text-typed blocks from a message body and
// concatenates them in order. Distinct array entries are joined with a single
// space; non-text blocks contribute nothing; an all-non-text body yields "".
func consolidateText(blocks []contentBlock) string {
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, " ")
}

// flattenContent handles bodies that are either a plain JSON string or an
// array of content blocks. Plain strings pass through verbatim.
func flattenContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		return consolidateText(blocks)
	}
	return ""
}
