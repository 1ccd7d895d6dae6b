package protocol

import "testing"

func TestCodexParseLine(t *testing.T) {
	p := &CodexParser{}

	t.Run("SessionConfigured", func(t *testing.T) {
		ev := p.ParseLine(`{"id":"0","msg":{"type":"session_configured","session_id":"sess-9"}}`)
		if ev.Type != EventInit {
			t.Fatalf("expected init, got %s", ev.Type)
		}
		if p.ExtractSessionID(ev) != "sess-9" {
			t.Errorf("expected session id sess-9, got %q", p.ExtractSessionID(ev))
		}
	})

	t.Run("MessageDeltaIsPartial", func(t *testing.T) {
		ev := p.ParseLine(`{"id":"1","msg":{"type":"agent_message_delta","delta":"par"}}`)
		if ev.Type != EventText || !ev.IsPartial || ev.Text != "par" {
			t.Errorf("expected partial text 'par', got %s %v %q", ev.Type, ev.IsPartial, ev.Text)
		}
	})

	t.Run("MessageIsFinalText", func(t *testing.T) {
		ev := p.ParseLine(`{"id":"1","msg":{"type":"agent_message","message":"full answer"}}`)
		if ev.Type != EventText || ev.IsPartial {
			t.Fatalf("expected final text, got %s partial=%v", ev.Type, ev.IsPartial)
		}
	})

	t.Run("ReasoningIsSystem", func(t *testing.T) {
		ev := p.ParseLine(`{"id":"1","msg":{"type":"agent_reasoning","message":"thinking"}}`)
		if ev.Type != EventSystem {
			t.Errorf("expected system event for reasoning, got %s", ev.Type)
		}
	})

	t.Run("ExecCommandLifecycle", func(t *testing.T) {
		begin := p.ParseLine(`{"id":"1","msg":{"type":"exec_command_begin","command":["ls","-la"]}}`)
		if begin.Type != EventToolUse || begin.ToolStatus != ToolRunning {
			t.Fatalf("expected running tool_use, got %s %s", begin.Type, begin.ToolStatus)
		}
		end := p.ParseLine(`{"id":"1","msg":{"type":"exec_command_end","stdout":"file.go","exit_code":0}}`)
		if end.ToolStatus != ToolCompleted || end.ToolOutput != "file.go" {
			t.Errorf("expected completed with output, got %s %q", end.ToolStatus, end.ToolOutput)
		}
	})

	t.Run("TokenCountIsUsage", func(t *testing.T) {
		ev := p.ParseLine(`{"id":"1","msg":{"type":"token_count","input_tokens":100,"output_tokens":20,"cached_input_tokens":50,"model_context_window":272000}}`)
		if ev.Type != EventUsage {
			t.Fatalf("expected usage event, got %s", ev.Type)
		}
		u := p.ExtractUsage(ev)
		if u.InputTokens != 100 || u.CacheReadTokens != 50 || u.ContextWindow != 272000 {
			t.Errorf("usage not normalized: %+v", u)
		}
	})

	t.Run("TaskCompleteIsResult", func(t *testing.T) {
		ev := p.ParseLine(`{"id":"1","msg":{"type":"task_complete","last_agent_message":"done"}}`)
		if !p.IsResult(ev) {
			t.Fatalf("expected result event, got %s", ev.Type)
		}
		if ev.Text != "done" {
			t.Errorf("expected text 'done', got %q", ev.Text)
		}
	})

	t.Run("ErrorRecord", func(t *testing.T) {
		ev := p.ParseLine(`{"id":"1","msg":{"type":"error","message":"stream disconnected"}}`)
		if ev.Type != EventError || ev.Text != "stream disconnected" {
			t.Errorf("expected error event, got %s %q", ev.Type, ev.Text)
		}
	})
}

func TestCodexDetectErrorFromLine(t *testing.T) {
	p := &CodexParser{}

	t.Run("StructuredErrorPayloadClassified", func(t *testing.T) {
		line := `{"id":"1","msg":{"type":"error","message":"Rate limit reached for gpt-5"}}`
		aerr := p.DetectErrorFromLine(line)
		if aerr == nil {
			t.Fatal("expected classification")
		}
		if aerr.Kind != "rate_limited" || !aerr.Recoverable {
			t.Errorf("expected recoverable rate_limited, got %s %v", aerr.Kind, aerr.Recoverable)
		}
	})

	t.Run("OrdinaryOutputNotClassified", func(t *testing.T) {
		if aerr := p.DetectErrorFromLine(`{"id":"1","msg":{"type":"agent_message","message":"hello"}}`); aerr != nil {
			t.Errorf("unexpected classification: %+v", aerr)
		}
	})
}
