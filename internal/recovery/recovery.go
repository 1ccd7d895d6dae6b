// Package recovery decides whether a failed conversation participant should
// be respawned and performs the respawn. It is the only place that retries
// crashed sessions; standalone sessions that fail are reported upward instead.
package recovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/drewfead/parley/internal/agenterr"
	"github.com/drewfead/parley/internal/logging"
	"github.com/drewfead/parley/internal/supervisor"
	"github.com/drewfead/parley/internal/transcript"
)

// Backoff shapes the delay before each respawn attempt.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
}

// DefaultBackoff matches a fast first retry with a capped tail.
var DefaultBackoff = Backoff{
	Initial:    500 * time.Millisecond,
	Max:        10 * time.Second,
	Multiplier: 2.0,
}

func (b Backoff) delay(attempt int) time.Duration {
	d := b.Initial
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * b.Multiplier)
		if d > b.Max {
			return b.Max
		}
	}
	return d
}

// RespawnSpec carries everything needed to restart a participant's session:
// the original spawn parameters plus the resumption material captured while
// the old process was alive.
type RespawnSpec struct {
	SessionID string
	Agent     string
	Command   string
	Args      []string
	Dir       string
	Env       map[string]string
	Mode      supervisor.Mode

	// NativeID is the agent-native session id captured from the previous
	// process's output stream. Empty when none was observed.
	NativeID string
	// ResumeArgs is the agent's resume argument template, with "{id}"
	// standing in for the native id. Empty when the agent cannot resume.
	ResumeArgs []string

	// ConversationID selects transcript history for the condensed-context
	// fallback when native resumption is unavailable.
	ConversationID string

	// Attempt is the zero-based retry number, used for backoff.
	Attempt int
}

// Manager performs bounded participant respawns. The per-participant attempt
// counter lives on the participant, not here; Manager only enforces the
// ceiling it is told about.
type Manager struct {
	sup          *supervisor.Supervisor
	store        transcript.Store
	maxAttempts  int
	backoff      Backoff
	contextTurns int
}

// New creates a recovery manager. maxAttempts is the per-participant ceiling;
// zero disables recovery entirely.
func New(sup *supervisor.Supervisor, store transcript.Store, maxAttempts int, backoff Backoff) *Manager {
	if backoff.Initial <= 0 {
		backoff = DefaultBackoff
	}
	return &Manager{
		sup:          sup,
		store:        store,
		maxAttempts:  maxAttempts,
		backoff:      backoff,
		contextTurns: 12,
	}
}

// MaxAttempts returns the per-participant respawn ceiling.
func (m *Manager) MaxAttempts() int { return m.maxAttempts }

// NeedsRecovery reports whether a failure warrants a respawn attempt: the
// error must be classified recoverable and the session must still owe the
// conversation a response.
func (m *Manager) NeedsRecovery(err *agenterr.AgentError, pendingTurn bool) bool {
	if err == nil || !err.Recoverable {
		return false
	}
	return pendingTurn
}

// Respawn restarts a participant's session after the attempt's backoff delay.
// When the agent supports native resumption and an id was captured, the new
// process continues the same logical conversation; otherwise the spawn prompt
// replays a condensed tail of the transcript.
func (m *Manager) Respawn(ctx context.Context, spec RespawnSpec) (*supervisor.Handle, error) {
	select {
	case <-time.After(m.backoff.delay(spec.Attempt)):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	cfg := supervisor.SpawnConfig{
		SessionID: spec.SessionID,
		Agent:     spec.Agent,
		Command:   spec.Command,
		Args:      append([]string(nil), spec.Args...),
		Dir:       spec.Dir,
		Env:       spec.Env,
		Mode:      spec.Mode,
	}

	if spec.NativeID != "" && len(spec.ResumeArgs) > 0 {
		for _, arg := range spec.ResumeArgs {
			cfg.Args = append(cfg.Args, strings.ReplaceAll(arg, "{id}", spec.NativeID))
		}
		logging.Info("respawning with native resume",
			"session_id", spec.SessionID, "native_id", spec.NativeID, "attempt", spec.Attempt+1)
	} else {
		prompt, err := m.condensedContext(ctx, spec.ConversationID)
		if err != nil {
			return nil, fmt.Errorf("respawn %s: build context: %w", spec.SessionID, err)
		}
		cfg.Prompt = prompt
		logging.Info("respawning with replayed context",
			"session_id", spec.SessionID, "attempt", spec.Attempt+1)
	}

	return m.sup.Spawn(ctx, cfg)
}

// condensedContext renders the recent transcript tail as a plain-text prompt
// so a fresh process can pick the conversation back up.
func (m *Manager) condensedContext(ctx context.Context, conversationID string) (string, error) {
	if m.store == nil || conversationID == "" {
		return "", nil
	}
	msgs, err := m.store.Recent(ctx, conversationID, m.contextTurns)
	if err != nil {
		return "", err
	}
	if len(msgs) == 0 {
		return "", nil
	}

	var b strings.Builder
	b.WriteString("You rejoined an ongoing conversation after an interruption. Recent history:\n\n")
	for _, msg := range msgs {
		if msg.Text == "" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", msg.Sender, msg.Text)
	}
	b.WriteString("\nContinue from where the conversation left off.")
	return b.String(), nil
}
