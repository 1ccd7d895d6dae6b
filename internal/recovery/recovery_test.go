package recovery

import (
	"testing"
	"time"

	"github.com/drewfead/parley/internal/agenterr"
)

func TestNeedsRecovery(t *testing.T) {
	m := New(nil, nil, 3, DefaultBackoff)

	recoverable := &agenterr.AgentError{Kind: agenterr.KindRateLimited, Recoverable: true}
	fatal := &agenterr.AgentError{Kind: agenterr.KindAuthExpired, Recoverable: false}

	t.Run("RecoverableWithPendingTurn", func(t *testing.T) {
		if !m.NeedsRecovery(recoverable, true) {
			t.Error("expected recovery for recoverable error during a turn")
		}
	})

	t.Run("RecoverableWithoutObligation", func(t *testing.T) {
		if m.NeedsRecovery(recoverable, false) {
			t.Error("no pending turn means no recovery")
		}
	})

	t.Run("UnrecoverableNeverRecovers", func(t *testing.T) {
		if m.NeedsRecovery(fatal, true) {
			t.Error("unrecoverable errors forbid respawn")
		}
	})

	t.Run("NilErrorNeverRecovers", func(t *testing.T) {
		if m.NeedsRecovery(nil, true) {
			t.Error("nil error must not trigger recovery")
		}
	})
}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Initial: 100 * time.Millisecond, Max: time.Second, Multiplier: 2.0}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second}, // capped
		{10, time.Second},
	}
	for _, tc := range cases {
		if got := b.delay(tc.attempt); got != tc.want {
			t.Errorf("delay(%d) = %s, want %s", tc.attempt, got, tc.want)
		}
	}
}
