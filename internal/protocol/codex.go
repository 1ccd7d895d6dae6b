package protocol

// CodexParser handles the Codex CLI experimental JSON vocabulary
// (codex exec --json). Records wrap a typed msg payload:
//
//	{"id":"0","msg":{"type":"session_configured","session_id":"..."}}
//	{"id":"1","msg":{"type":"task_started"}}
//	{"id":"1","msg":{"type":"agent_message_delta","delta":"..."}}
//	{"id":"1","msg":{"type":"agent_message","message":"..."}}
//	{"id":"1","msg":{"type":"exec_command_begin","command":["ls"]}}
//	{"id":"1","msg":{"type":"exec_command_end","stdout":"...","exit_code":0}}
//	{"id":"1","msg":{"type":"token_count","input_tokens":10,"output_tokens":3}}
//	{"id":"1","msg":{"type":"task_complete","last_agent_message":"..."}}
//	{"id":"1","msg":{"type":"error","message":"..."}}

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/drewfead/parley/internal/agenterr"
)

type CodexParser struct{}

func (p *CodexParser) Agent() string { return AgentCodex }

type codexRecord struct {
	ID  string `json:"id"`
	Msg *struct {
		Type      string `json:"type"`
		SessionID string `json:"session_id"`
		Message   string `json:"message"`
		Delta     string `json:"delta"`

		Command  []string `json:"command"`
		Stdout   string   `json:"stdout"`
		ExitCode *int     `json:"exit_code"`

		InputTokens        int `json:"input_tokens"`
		OutputTokens       int `json:"output_tokens"`
		CachedInputTokens  int `json:"cached_input_tokens"`
		ReasoningTokens    int `json:"reasoning_output_tokens"`
		ModelContextWindow int `json:"model_context_window"`

		LastAgentMessage string `json:"last_agent_message"`
	} `json:"msg"`
}

func (p *CodexParser) ParseLine(line string) *Event {
	if line == "" {
		return nil
	}

	var rec codexRecord
	if err := json.Unmarshal([]byte(line), &rec); err != nil || rec.Msg == nil || rec.Msg.Type == "" {
		return fallbackText(line)
	}

	msg := rec.Msg
	ev := &Event{
		Raw:       line,
		Timestamp: time.Now(),
	}

	switch msg.Type {
	case "session_configured":
		ev.Type = EventInit
		ev.SessionID = msg.SessionID

	case "agent_message_delta":
		ev.Type = EventText
		ev.Text = msg.Delta
		ev.IsPartial = true

	case "agent_message":
		ev.Type = EventText
		ev.Text = msg.Message

	case "agent_reasoning", "agent_reasoning_delta":
		// Reasoning traces are not user-visible content.
		ev.Type = EventSystem

	case "exec_command_begin":
		ev.Type = EventToolUse
		ev.ToolName = "exec"
		ev.ToolStatus = ToolRunning
		if len(msg.Command) > 0 {
			input, _ := json.Marshal(msg.Command)
			ev.ToolInput = input
		}

	case "exec_command_end":
		ev.Type = EventToolUse
		ev.ToolName = "exec"
		ev.ToolStatus = ToolCompleted
		ev.ToolOutput = msg.Stdout

	case "token_count":
		ev.Type = EventUsage
		ev.Usage = &UsageStats{
			InputTokens:     msg.InputTokens,
			OutputTokens:    msg.OutputTokens,
			CacheReadTokens: msg.CachedInputTokens,
			ReasoningTokens: msg.ReasoningTokens,
			ContextWindow:   msg.ModelContextWindow,
		}

	case "task_complete":
		ev.Type = EventResult
		ev.Text = msg.LastAgentMessage

	case "error":
		ev.Type = EventError
		ev.Text = msg.Message

	case "task_started", "turn_context":
		ev.Type = EventSystem

	default:
		ev.Type = EventSystem
	}

	return ev
}

func (p *CodexParser) IsResult(ev *Event) bool { return ev.IsResult() }

func (p *CodexParser) ExtractSessionID(ev *Event) string { return ev.SessionID }

func (p *CodexParser) ExtractUsage(ev *Event) *UsageStats { return ev.Usage }

// ExtractSlashCommands returns nil: Codex has no slash command surface.
func (p *CodexParser) ExtractSlashCommands(ev *Event) []string { return nil }

func (p *CodexParser) DetectErrorFromLine(line string) *agenterr.AgentError {
	// Error records report through the structured stream; classify only the
	// payload message so JSON punctuation cannot confuse the tables.
	if strings.Contains(line, `"type":"error"`) {
		var rec codexRecord
		if err := json.Unmarshal([]byte(line), &rec); err == nil && rec.Msg != nil {
			return agenterr.ForAgent(AgentCodex).MatchLine(rec.Msg.Message)
		}
	}
	return agenterr.ForAgent(AgentCodex).MatchLine(line)
}

func (p *CodexParser) DetectErrorFromExit(exitCode int, output string) *agenterr.AgentError {
	return agenterr.ForAgent(AgentCodex).MatchExit(exitCode, output)
}
