package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	for _, name := range []string{"claude", "codex", "gemini"} {
		ac, err := cfg.Agent(name)
		if err != nil {
			t.Fatalf("Agent(%s): %v", name, err)
		}
		if ac.Binary == "" {
			t.Errorf("agent %s: empty binary", name)
		}
	}

	claude, _ := cfg.Agent("claude")
	if len(claude.ResumeArgs) != 2 || claude.ResumeArgs[0] != "--resume" {
		t.Errorf("unexpected claude resume args: %v", claude.ResumeArgs)
	}
	if cfg.Recovery.MaxAttempts != 3 {
		t.Errorf("expected 3 recovery attempts, got %d", cfg.Recovery.MaxAttempts)
	}
	if cfg.Chat.ModeratorTimeout != 2*time.Minute {
		t.Errorf("unexpected moderator timeout: %s", cfg.Chat.ModeratorTimeout)
	}
	if cfg.Transcript.Backend != "sqlite" {
		t.Errorf("unexpected transcript backend: %s", cfg.Transcript.Backend)
	}
}

func TestAgentLookup(t *testing.T) {
	cfg := DefaultConfig()

	if _, err := cfg.Agent("mystery"); err == nil {
		t.Error("expected error for unconfigured agent")
	}

	// A configured agent with no binary falls back to its name.
	cfg.Agents["aider"] = AgentConfig{Args: []string{"--stream"}}
	ac, err := cfg.Agent("aider")
	if err != nil {
		t.Fatalf("Agent(aider): %v", err)
	}
	if ac.Binary != "aider" {
		t.Errorf("expected binary fallback to agent name, got %q", ac.Binary)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
agents:
  codex:
    binary: /opt/codex/bin/codex
recovery:
  max_attempts: 5
transcript:
  backend: memory
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PARLEY_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	codex, _ := cfg.Agent("codex")
	if codex.Binary != "/opt/codex/bin/codex" {
		t.Errorf("file value not applied, binary = %q", codex.Binary)
	}
	if cfg.Recovery.MaxAttempts != 5 {
		t.Errorf("file value not applied, max_attempts = %d", cfg.Recovery.MaxAttempts)
	}
	if cfg.Transcript.Backend != "memory" {
		t.Errorf("file value not applied, backend = %q", cfg.Transcript.Backend)
	}

	// Untouched sections keep their defaults.
	if _, err := cfg.Agent("claude"); err != nil {
		t.Errorf("defaults lost after overlay: %v", err)
	}
	if cfg.Chat.ModeratorAgent != "claude" {
		t.Errorf("defaults lost after overlay, moderator = %q", cfg.Chat.ModeratorAgent)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("PARLEY_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Recovery.MaxAttempts != 3 {
		t.Errorf("expected defaults, got max_attempts = %d", cfg.Recovery.MaxAttempts)
	}
}

func TestEnvExpansion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
agents:
  claude:
    env:
      ANTHROPIC_API_KEY: ${PARLEY_TEST_KEY}
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("PARLEY_CONFIG", path)
	t.Setenv("PARLEY_TEST_KEY", "sk-test-123")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	claude, _ := cfg.Agent("claude")
	if claude.Env["ANTHROPIC_API_KEY"] != "sk-test-123" {
		t.Errorf("env var not expanded, got %q", claude.Env["ANTHROPIC_API_KEY"])
	}
}
