package protocol

// ClaudeParser handles the Claude Code CLI stream-json vocabulary
// (--output-format stream-json --verbose):
//
//	{"type":"system","subtype":"init","session_id":"...","slash_commands":[...]}
//	{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"text_delta","text":"..."}}}
//	{"type":"assistant","message":{"content":[{"type":"text","text":"..."},{"type":"tool_use","name":"Bash","input":{}}]}}
//	{"type":"user","message":{"content":[{"type":"tool_result","content":"..."}]}}
//	{"type":"result","subtype":"success","result":"...","total_cost_usd":0.12,"usage":{...},"modelUsage":{...}}

import (
	"encoding/json"
	"time"

	"github.com/drewfead/parley/internal/agenterr"
)

type ClaudeParser struct{}

func (p *ClaudeParser) Agent() string { return AgentClaude }

// claudeRecord is the envelope of one stream-json line. Only the fields the
// normalizer needs are declared; everything else rides along in Raw.
type claudeRecord struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	SessionID string `json:"session_id"`
	Message   *struct {
		Content []contentBlock `json:"content"`
		Usage   *claudeUsage   `json:"usage"`
	} `json:"message"`
	Event *struct {
		Type  string `json:"type"`
		Delta *struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"delta"`
	} `json:"event"`

	// result fields
	Result       string                 `json:"result"`
	IsError      bool                   `json:"is_error"`
	TotalCostUSD *float64               `json:"total_cost_usd"`
	Usage        *claudeUsage           `json:"usage"`
	ModelUsage   map[string]claudeUsage `json:"modelUsage"`

	// init fields
	SlashCommands []string `json:"slash_commands"`
}

type claudeUsage struct {
	InputTokens         int     `json:"input_tokens"`
	OutputTokens        int     `json:"output_tokens"`
	CacheReadTokens     int     `json:"cache_read_input_tokens"`
	CacheCreationTokens int     `json:"cache_creation_input_tokens"`
	// modelUsage entries use camelCase variants of the same counters.
	InputTokensCamel    int     `json:"inputTokens"`
	OutputTokensCamel   int     `json:"outputTokens"`
	CacheReadCamel      int     `json:"cacheReadInputTokens"`
	CacheCreationCamel  int     `json:"cacheCreationInputTokens"`
	CostUSD             float64 `json:"costUSD"`
	ContextWindow       int     `json:"contextWindow"`
}

func (u *claudeUsage) normalize() *UsageStats {
	return &UsageStats{
		InputTokens:         u.InputTokens + u.InputTokensCamel,
		OutputTokens:        u.OutputTokens + u.OutputTokensCamel,
		CacheReadTokens:     u.CacheReadTokens + u.CacheReadCamel,
		CacheCreationTokens: u.CacheCreationTokens + u.CacheCreationCamel,
		CostUSD:             u.CostUSD,
		ContextWindow:       u.ContextWindow,
	}
}

func (p *ClaudeParser) ParseLine(line string) *Event {
	if line == "" {
		return nil
	}

	var rec claudeRecord
	if err := json.Unmarshal([]byte(line), &rec); err != nil || rec.Type == "" {
		return fallbackText(line)
	}

	ev := &Event{
		SessionID: rec.SessionID,
		Raw:       line,
		Timestamp: time.Now(),
	}

	switch rec.Type {
	case "system":
		if rec.Subtype == "init" {
			ev.Type = EventInit
		} else {
			ev.Type = EventSystem
		}

	case "stream_event":
		// Partial text fragments from --include-partial-messages.
		ev.Type = EventSystem
		if rec.Event != nil && rec.Event.Delta != nil && rec.Event.Delta.Type == "text_delta" {
			ev.Type = EventText
			ev.Text = rec.Event.Delta.Text
			ev.IsPartial = true
		}

	case "assistant":
		ev.Type = EventText
		if rec.Message != nil {
			ev.Text = consolidateText(rec.Message.Content)
			for _, b := range rec.Message.Content {
				if b.Type == "tool_use" {
					ev.Type = EventToolUse
					ev.ToolName = b.Name
					ev.ToolInput = b.Input
					ev.ToolStatus = ToolRunning
				}
			}
			if rec.Message.Usage != nil {
				ev.Usage = rec.Message.Usage.normalize()
			}
		}

	case "user":
		// Tool results come back wrapped as user messages.
		ev.Type = EventSystem
		if rec.Message != nil {
			for _, b := range rec.Message.Content {
				if b.Type == "tool_result" {
					ev.Type = EventToolUse
					ev.ToolStatus = ToolCompleted
					ev.ToolOutput = flattenContent(b.Content)
				}
			}
		}

	case "result":
		// Error results stay in the result category: the record is the
		// protocol's end-of-turn marker either way.
		ev.Type = EventResult
		ev.Text = rec.Result
		ev.Usage = claudeResultUsage(&rec)
		if rec.IsError || rec.Subtype == "error_during_execution" || rec.Subtype == "error_max_turns" {
			ev.IsError = true
			if ev.Text == "" {
				ev.Text = rec.Subtype
			}
		}

	case "error":
		ev.Type = EventError
		ev.Text = rec.Result

	default:
		ev.Type = EventSystem
	}

	return ev
}

// claudeResultUsage builds the usage payload for a result record. Per-model
// usages sum additively; the context window takes the latest value. A present
// total_cost_usd of 0 still yields a payload, distinguished from "no usage".
func claudeResultUsage(rec *claudeRecord) *UsageStats {
	if rec.Usage == nil && rec.TotalCostUSD == nil && len(rec.ModelUsage) == 0 {
		return nil
	}
	total := &UsageStats{}
	if rec.Usage != nil {
		total.Add(rec.Usage.normalize())
	}
	for _, mu := range rec.ModelUsage {
		total.Add(mu.normalize())
	}
	if rec.TotalCostUSD != nil {
		// The envelope total is authoritative over per-model sums.
		total.CostUSD = *rec.TotalCostUSD
	}
	return total
}

func (p *ClaudeParser) IsResult(ev *Event) bool { return ev.IsResult() }

func (p *ClaudeParser) ExtractSessionID(ev *Event) string { return ev.SessionID }

func (p *ClaudeParser) ExtractUsage(ev *Event) *UsageStats { return ev.Usage }

// ExtractSlashCommands reads the commands advertised by the init record.
// Claude supports slash commands, so a non-init event yields an empty,
// non-nil slice rather than nil.
func (p *ClaudeParser) ExtractSlashCommands(ev *Event) []string {
	if ev.Type != EventInit {
		return []string{}
	}
	var rec claudeRecord
	if err := json.Unmarshal([]byte(ev.Raw), &rec); err != nil {
		return []string{}
	}
	if rec.SlashCommands == nil {
		return []string{}
	}
	return rec.SlashCommands
}

func (p *ClaudeParser) DetectErrorFromLine(line string) *agenterr.AgentError {
	return agenterr.ForAgent(AgentClaude).MatchLine(line)
}

func (p *ClaudeParser) DetectErrorFromExit(exitCode int, output string) *agenterr.AgentError {
	return agenterr.ForAgent(AgentClaude).MatchExit(exitCode, output)
}
