// Package agenterr classifies raw agent output into a small error taxonomy.
//
// Classification is table-driven: each agent has an ordered list of
// (pattern, kind, message, recoverable) entries; the first match wins. Tables
// are applied either to a single output line or to the combined stderr+stdout
// captured at process exit.
package agenterr

import (
	"fmt"
	"regexp"
	"time"
)

// Kind is the classified error category.
type Kind string

const (
	KindAuthExpired    Kind = "auth_expired"
	KindRateLimited    Kind = "rate_limited"
	KindQuotaExhausted Kind = "quota_exhausted"
	KindAgentCrashed   Kind = "agent_crashed"
	KindNetworkError   Kind = "network_error"
	KindUnknown        Kind = "unknown"
)

// AgentError is a classified failure from a supervised agent process.
type AgentError struct {
	Kind        Kind
	Message     string
	Recoverable bool
	Agent       string
	Timestamp   time.Time

	// Raw diagnostics, always preserved.
	ExitCode int    // -1 when not an exit classification
	Raw      string // offending line, or stderr+stdout tail at exit
}

// Error implements the error interface.
func (e *AgentError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Agent, e.Message, e.Kind)
}

// Pattern is one classification table entry.
type Pattern struct {
	Re          *regexp.Regexp
	Kind        Kind
	Message     string
	Recoverable bool
}

// Matcher classifies output for one agent's error vocabulary.
type Matcher struct {
	agent    string
	patterns []Pattern
}

// NewMatcher builds a matcher for the given agent over an ordered table.
func NewMatcher(agent string, patterns []Pattern) *Matcher {
	return &Matcher{agent: agent, patterns: patterns}
}

// MatchLine classifies a single output line. Returns nil when no pattern
// matches.
func (m *Matcher) MatchLine(line string) *AgentError {
	for _, p := range m.patterns {
		if p.Re.MatchString(line) {
			return &AgentError{
				Kind:        p.Kind,
				Message:     p.Message,
				Recoverable: p.Recoverable,
				Agent:       m.agent,
				Timestamp:   time.Now(),
				ExitCode:    -1,
				Raw:         truncate(line, 500),
			}
		}
	}
	return nil
}

// MatchExit classifies a process exit given its code and captured
// stderr+stdout. Exit code 0 never matches. A non-zero exit with no table
// match still yields a synthetic agent_crashed error carrying the code, so
// callers never need an unclassified branch.
func (m *Matcher) MatchExit(exitCode int, output string) *AgentError {
	if exitCode == 0 {
		return nil
	}
	for _, p := range m.patterns {
		if p.Re.MatchString(output) {
			return &AgentError{
				Kind:        p.Kind,
				Message:     p.Message,
				Recoverable: p.Recoverable,
				Agent:       m.agent,
				Timestamp:   time.Now(),
				ExitCode:    exitCode,
				Raw:         truncate(output, 2000),
			}
		}
	}
	return &AgentError{
		Kind:        KindAgentCrashed,
		Message:     fmt.Sprintf("process exited with code %d", exitCode),
		Recoverable: true,
		Agent:       m.agent,
		Timestamp:   time.Now(),
		ExitCode:    exitCode,
		Raw:         truncate(output, 2000),
	}
}

// Shared pattern fragments. Agents layer their own vocabulary on top.
var (
	reRateLimit = regexp.MustCompile(`(?i)(429|rate.?limit(ed|_error)?|too.?many.?requests|throttl(ed|ing)|overloaded|at.?capacity)`)
	reQuota     = regexp.MustCompile(`(?i)(quota.?exceeded|usage.?limit.?reached|out.?of.?credits|insufficient.?(credit|quota)|billing.?hard.?limit)`)
	reAuth      = regexp.MustCompile(`(?i)(401|unauthorized|auth(entication|orization)?.?(error|expired|failed)|invalid.?api.?key|token.?expired|please.?run.*login|OAuth.?token)`)
	reNetwork   = regexp.MustCompile(`(?i)(ECONNREFUSED|ECONNRESET|ETIMEDOUT|ENOTFOUND|EAI_AGAIN|network.?error|connection.?(refused|reset|closed)|dns.?(error|failure)|tls.?handshake)`)
)

// baseTable is the vocabulary common to all supported agents. Order matters:
// quota before rate-limit so "usage limit reached" does not classify as a
// transient 429.
func baseTable() []Pattern {
	return []Pattern{
		{Re: reQuota, Kind: KindQuotaExhausted, Message: "usage quota exhausted", Recoverable: false},
		{Re: reRateLimit, Kind: KindRateLimited, Message: "rate limited by provider", Recoverable: true},
		{Re: reAuth, Kind: KindAuthExpired, Message: "authentication expired or invalid", Recoverable: false},
		{Re: reNetwork, Kind: KindNetworkError, Message: "network error reaching provider", Recoverable: true},
	}
}

// ForAgent returns the matcher scoped to one agent's vocabulary.
func ForAgent(agent string) *Matcher {
	switch agent {
	case "claude":
		table := []Pattern{
			{Re: regexp.MustCompile(`(?i)Claude.?(Max|Pro).?usage.?limit`), Kind: KindQuotaExhausted, Message: "Claude subscription usage limit reached", Recoverable: false},
			{Re: regexp.MustCompile(`(?i)overloaded_error`), Kind: KindRateLimited, Message: "Anthropic API overloaded", Recoverable: true},
		}
		return NewMatcher(agent, append(table, baseTable()...))
	case "codex":
		table := []Pattern{
			{Re: regexp.MustCompile(`(?i)(tokens?.?per.?min(ute)?|rate.?limit.?reached)`), Kind: KindRateLimited, Message: "OpenAI rate limit reached", Recoverable: true},
			{Re: regexp.MustCompile(`(?i)insufficient_quota`), Kind: KindQuotaExhausted, Message: "OpenAI quota exhausted", Recoverable: false},
		}
		return NewMatcher(agent, append(table, baseTable()...))
	case "gemini":
		table := []Pattern{
			{Re: regexp.MustCompile(`(?i)RESOURCE_EXHAUSTED`), Kind: KindRateLimited, Message: "Gemini resource exhausted", Recoverable: true},
			{Re: regexp.MustCompile(`(?i)PERMISSION_DENIED`), Kind: KindAuthExpired, Message: "Gemini permission denied", Recoverable: false},
		}
		return NewMatcher(agent, append(table, baseTable()...))
	default:
		return NewMatcher(agent, baseTable())
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
