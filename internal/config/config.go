// Package config handles Parley configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for Parley.
type Config struct {
	Agents     map[string]AgentConfig `yaml:"agents"`
	Recovery   RecoveryConfig         `yaml:"recovery"`
	Chat       ChatConfig             `yaml:"chat"`
	Transcript TranscriptConfig       `yaml:"transcript"`
	Logging    LoggingConfig          `yaml:"logging"`
}

// AgentConfig describes how to invoke one agent CLI. The supervisor never
// reads configuration itself; callers inject these values into spawns.
type AgentConfig struct {
	Binary string            `yaml:"binary"`
	Args   []string          `yaml:"args"`
	Env    map[string]string `yaml:"env"`

	// ResumeArgs is appended to Args when resuming a previous session;
	// "{id}" expands to the captured native session id. Empty means the
	// agent cannot resume and recovery replays recent context instead.
	ResumeArgs []string `yaml:"resume_args"`

	// Mode selects pty or pipe wiring. Defaults to pipe.
	Mode string `yaml:"mode"`
}

// RecoveryConfig bounds automatic participant respawns.
type RecoveryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Backoff     BackoffConfig `yaml:"backoff"`
}

// BackoffConfig defines exponential backoff parameters.
type BackoffConfig struct {
	Initial    time.Duration `yaml:"initial"`
	Max        time.Duration `yaml:"max"`
	Multiplier float64       `yaml:"multiplier"`
}

// ChatConfig tunes group conversations.
type ChatConfig struct {
	ModeratorAgent   string        `yaml:"moderator_agent"`
	ModeratorTimeout time.Duration `yaml:"moderator_timeout"`
	ContextTurns     int           `yaml:"context_turns"`
}

// TranscriptConfig selects conversation persistence.
type TranscriptConfig struct {
	// Backend is "sqlite" or "memory".
	Backend  string `yaml:"backend"`
	Database string `yaml:"database"`
}

// LoggingConfig defines log output and error reporting.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	File      string `yaml:"file"`
	SentryDSN string `yaml:"sentry_dsn"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Agents: map[string]AgentConfig{
			"claude": {
				Binary:     "claude",
				Args:       []string{"--print", "--verbose", "--output-format", "stream-json", "--input-format", "stream-json"},
				ResumeArgs: []string{"--resume", "{id}"},
			},
			"codex": {
				Binary: "codex",
				Args:   []string{"exec", "--json"},
			},
			"gemini": {
				Binary: "gemini",
				Args:   []string{"--output-format", "stream-json"},
			},
		},
		Recovery: RecoveryConfig{
			MaxAttempts: 3,
			Backoff:     BackoffConfig{Initial: 500 * time.Millisecond, Max: 10 * time.Second, Multiplier: 2.0},
		},
		Chat: ChatConfig{
			ModeratorAgent:   "claude",
			ModeratorTimeout: 2 * time.Minute,
			ContextTurns:     12,
		},
		Transcript: TranscriptConfig{
			Backend:  "sqlite",
			Database: filepath.Join(homeDir, ".local/share/parley/transcripts.db"),
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(homeDir, ".local/share/parley/parley.log"),
		},
	}
}

// Load reads configuration from the default path, falling back to defaults
// when no file exists. Values in the file overlay the defaults.
func Load() (*Config, error) {
	configPath := DefaultConfigPath()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.expandEnvVars()
	return cfg, nil
}

// DefaultConfigPath returns the default configuration file path.
func DefaultConfigPath() string {
	if p := os.Getenv("PARLEY_CONFIG"); p != "" {
		return p
	}
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".config/parley/config.yaml")
}

// Agent returns the configuration for an agent type.
func (c *Config) Agent(name string) (AgentConfig, error) {
	ac, ok := c.Agents[name]
	if !ok {
		return AgentConfig{}, fmt.Errorf("agent not configured: %s", name)
	}
	if ac.Binary == "" {
		ac.Binary = name
	}
	return ac, nil
}

func (c *Config) expandEnvVars() {
	c.Logging.SentryDSN = os.ExpandEnv(c.Logging.SentryDSN)
	for name, ac := range c.Agents {
		for k, v := range ac.Env {
			ac.Env[k] = os.ExpandEnv(v)
		}
		c.Agents[name] = ac
	}
}
