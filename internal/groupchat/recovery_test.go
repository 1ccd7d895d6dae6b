//go:build unix

package groupchat

import (
	"context"
	"testing"
	"time"

	"github.com/drewfead/parley/internal/agenterr"
	"github.com/drewfead/parley/internal/recovery"
	"github.com/drewfead/parley/internal/supervisor"
	"github.com/drewfead/parley/internal/transcript"
)

func waitForState(t *testing.T, conv *Conversation, p *Participant, want TurnState) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		conv.mu.Lock()
		got := p.State
		conv.mu.Unlock()
		if got == want {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for state %s, last saw %s", want, got)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// A recoverable failure during a participant's turn respawns the session under
// the same id; once the ceiling is hit, the next failure is permanent.
func TestRecoveryCeiling(t *testing.T) {
	ctx := context.Background()
	sup := supervisor.New()
	defer sup.Close()
	store := transcript.NewMemoryStore()
	rec := recovery.New(sup, store, 1, recovery.Backoff{
		Initial:    time.Millisecond,
		Max:        time.Millisecond,
		Multiplier: 1,
	})
	conv := NewConversation("conv-recov", sup, rec, store)
	defer conv.Close()

	p, err := NewParticipant("alpha", RoleParticipant, supervisor.SpawnConfig{
		SessionID: "conv-recov-alpha",
		Agent:     "claude",
		Command:   "/bin/sh",
		Args:      []string{"-c", "sleep 30"},
		Mode:      supervisor.ModePipe,
	}, nil)
	if err != nil {
		t.Fatalf("NewParticipant: %v", err)
	}
	if err := conv.AddParticipant(p); err != nil {
		t.Fatalf("AddParticipant: %v", err)
	}
	if err := conv.Start(ctx, "go"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	rateLimited := &agenterr.AgentError{
		Kind:        agenterr.KindRateLimited,
		Message:     "429 too many requests",
		Recoverable: true,
	}

	// First failure: within the ceiling, so the session respawns and the
	// participant returns to responding.
	conv.HandleAgentError(ctx, p, rateLimited)
	waitForState(t, conv, p, TurnResponding)
	if p.RecoveryAttempts != 1 {
		t.Errorf("expected 1 recovery attempt, got %d", p.RecoveryAttempts)
	}
	if p.Failed {
		t.Fatal("participant should not be failed after a successful respawn")
	}
	if sup.Get("conv-recov-alpha") == nil {
		t.Fatal("expected respawned session under the original id")
	}

	// Second failure: ceiling of 1 is exhausted, so the participant fails.
	sup.Kill("conv-recov-alpha")
	conv.HandleAgentError(ctx, p, rateLimited)
	if !p.Failed {
		t.Fatal("expected participant failed after exhausting the ceiling")
	}
}

// An unrecoverable failure never respawns even with attempts remaining.
func TestUnrecoverableSkipsRecovery(t *testing.T) {
	ctx := context.Background()
	sup := supervisor.New()
	defer sup.Close()
	store := transcript.NewMemoryStore()
	rec := recovery.New(sup, store, 3, recovery.DefaultBackoff)
	conv := NewConversation("conv-auth", sup, rec, store)
	defer conv.Close()

	p, err := NewParticipant("alpha", RoleParticipant, supervisor.SpawnConfig{
		SessionID: "conv-auth-alpha",
		Agent:     "claude",
		Command:   "/bin/sh",
		Args:      []string{"-c", "sleep 30"},
		Mode:      supervisor.ModePipe,
	}, nil)
	if err != nil {
		t.Fatalf("NewParticipant: %v", err)
	}
	if err := conv.AddParticipant(p); err != nil {
		t.Fatalf("AddParticipant: %v", err)
	}
	if err := conv.Start(ctx, "go"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	conv.HandleAgentError(ctx, p, &agenterr.AgentError{
		Kind:        agenterr.KindAuthExpired,
		Message:     "OAuth token has expired",
		Recoverable: false,
	})
	if !p.Failed {
		t.Fatal("expected unrecoverable error to fail the participant immediately")
	}
	if p.RecoveryAttempts != 0 {
		t.Errorf("expected 0 recovery attempts, got %d", p.RecoveryAttempts)
	}
}
