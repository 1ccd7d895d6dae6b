package protocol

// GeminiParser handles the Gemini CLI stream-json vocabulary
// (gemini --output-format stream-json):
//
//	{"type":"init","session_id":"..."}
//	{"type":"message","role":"assistant","content":"...","delta":true}
//	{"type":"tool_call","name":"read_file","args":{...}}
//	{"type":"tool_result","name":"read_file","output":"..."}
//	{"type":"result","status":"success","stats":{"promptTokenCount":10,...}}
//	{"type":"error","message":"..."}

import (
	"encoding/json"
	"time"

	"github.com/drewfead/parley/internal/agenterr"
)

type GeminiParser struct{}

func (p *GeminiParser) Agent() string { return AgentGemini }

type geminiRecord struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	Role      string          `json:"role"`
	Content   json.RawMessage `json:"content"`
	Delta     bool            `json:"delta"`
	Name      string          `json:"name"`
	Args      json.RawMessage `json:"args"`
	Output    string          `json:"output"`
	Status    string          `json:"status"`
	Message   string          `json:"message"`
	Stats     *struct {
		PromptTokenCount    int `json:"promptTokenCount"`
		CandidateTokenCount int `json:"candidatesTokenCount"`
		CachedTokenCount    int `json:"cachedContentTokenCount"`
		ThoughtsTokenCount  int `json:"thoughtsTokenCount"`
	} `json:"stats"`
}

func (p *GeminiParser) ParseLine(line string) *Event {
	if line == "" {
		return nil
	}

	var rec geminiRecord
	if err := json.Unmarshal([]byte(line), &rec); err != nil || rec.Type == "" {
		return fallbackText(line)
	}

	ev := &Event{
		SessionID: rec.SessionID,
		Raw:       line,
		Timestamp: time.Now(),
	}

	switch rec.Type {
	case "init":
		ev.Type = EventInit

	case "message":
		if rec.Role != "assistant" {
			ev.Type = EventSystem
			break
		}
		ev.Type = EventText
		ev.Text = flattenContent(rec.Content)
		ev.IsPartial = rec.Delta

	case "tool_call":
		ev.Type = EventToolUse
		ev.ToolName = rec.Name
		ev.ToolInput = rec.Args
		ev.ToolStatus = ToolRunning

	case "tool_result":
		ev.Type = EventToolUse
		ev.ToolName = rec.Name
		ev.ToolStatus = ToolCompleted
		ev.ToolOutput = rec.Output

	case "result":
		ev.Type = EventResult
		ev.Text = flattenContent(rec.Content)
		if rec.Stats != nil {
			ev.Usage = &UsageStats{
				InputTokens:     rec.Stats.PromptTokenCount,
				OutputTokens:    rec.Stats.CandidateTokenCount,
				CacheReadTokens: rec.Stats.CachedTokenCount,
				ReasoningTokens: rec.Stats.ThoughtsTokenCount,
			}
		}
		if rec.Status == "error" {
			// Still end-of-turn; only flagged as failed.
			ev.IsError = true
			if ev.Text == "" {
				ev.Text = rec.Message
			}
		}

	case "error":
		ev.Type = EventError
		ev.Text = rec.Message

	default:
		ev.Type = EventSystem
	}

	return ev
}

func (p *GeminiParser) IsResult(ev *Event) bool { return ev.IsResult() }

func (p *GeminiParser) ExtractSessionID(ev *Event) string { return ev.SessionID }

func (p *GeminiParser) ExtractUsage(ev *Event) *UsageStats { return ev.Usage }

// ExtractSlashCommands returns nil: the Gemini CLI has no slash command
// surface in its structured output.
func (p *GeminiParser) ExtractSlashCommands(ev *Event) []string { return nil }

func (p *GeminiParser) DetectErrorFromLine(line string) *agenterr.AgentError {
	return agenterr.ForAgent(AgentGemini).MatchLine(line)
}

func (p *GeminiParser) DetectErrorFromExit(exitCode int, output string) *agenterr.AgentError {
	return agenterr.ForAgent(AgentGemini).MatchExit(exitCode, output)
}
