package transcript

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/drewfead/parley/internal/protocol"
)

func setupSQLite(t *testing.T) (*SQLiteStore, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "parley-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	st, err := NewSQLiteStore(filepath.Join(tmpDir, "transcripts.db"))
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("failed to create store: %v", err)
	}

	cleanup := func() {
		st.Close()
		os.RemoveAll(tmpDir)
	}
	return st, cleanup
}

func testStoreContract(t *testing.T, store Store) {
	ctx := context.Background()

	t.Run("AppendAssignsSequence", func(t *testing.T) {
		for i, sender := range []string{"user", "claude", "codex"} {
			seq, err := store.Append(ctx, &Message{
				ConversationID: "conv-1",
				Sender:         sender,
				Kind:           protocol.EventText,
				Text:           "message",
			})
			if err != nil {
				t.Fatalf("Append failed: %v", err)
			}
			if seq != int64(i) {
				t.Errorf("expected sequence %d, got %d", i, seq)
			}
		}
	})

	t.Run("AppendFillsIDAndTimestamp", func(t *testing.T) {
		msg := &Message{ConversationID: "conv-1", Sender: "user", Kind: protocol.EventText, Text: "x"}
		if _, err := store.Append(ctx, msg); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		if msg.ID == "" {
			t.Error("expected generated id")
		}
		if msg.Timestamp.IsZero() {
			t.Error("expected assigned timestamp")
		}
	})

	t.Run("AllInSequenceOrder", func(t *testing.T) {
		msgs, err := store.All(ctx, "conv-1")
		if err != nil {
			t.Fatalf("All failed: %v", err)
		}
		if len(msgs) != 4 {
			t.Fatalf("expected 4 messages, got %d", len(msgs))
		}
		for i, msg := range msgs {
			if msg.Sequence != int64(i) {
				t.Errorf("message %d has sequence %d", i, msg.Sequence)
			}
		}
	})

	t.Run("RecentReturnsTailInOrder", func(t *testing.T) {
		msgs, err := store.Recent(ctx, "conv-1", 2)
		if err != nil {
			t.Fatalf("Recent failed: %v", err)
		}
		if len(msgs) != 2 {
			t.Fatalf("expected 2 messages, got %d", len(msgs))
		}
		if msgs[0].Sequence != 2 || msgs[1].Sequence != 3 {
			t.Errorf("expected sequences 2,3 got %d,%d", msgs[0].Sequence, msgs[1].Sequence)
		}
	})

	t.Run("RecentLargerThanHistory", func(t *testing.T) {
		msgs, err := store.Recent(ctx, "conv-1", 100)
		if err != nil {
			t.Fatalf("Recent failed: %v", err)
		}
		if len(msgs) != 4 {
			t.Errorf("expected all 4 messages, got %d", len(msgs))
		}
	})

	t.Run("ConversationsIsolated", func(t *testing.T) {
		if _, err := store.Append(ctx, &Message{ConversationID: "conv-2", Sender: "user", Kind: protocol.EventText, Text: "y"}); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		msgs, err := store.All(ctx, "conv-2")
		if err != nil {
			t.Fatalf("All failed: %v", err)
		}
		if len(msgs) != 1 {
			t.Errorf("expected 1 message in conv-2, got %d", len(msgs))
		}

		ids, err := store.Conversations(ctx)
		if err != nil {
			t.Fatalf("Conversations failed: %v", err)
		}
		if len(ids) != 2 {
			t.Errorf("expected 2 conversations, got %v", ids)
		}
	})

	t.Run("UsageRoundTrip", func(t *testing.T) {
		in := &Message{
			ConversationID: "conv-usage",
			Sender:         "claude",
			Agent:          "claude",
			Kind:           protocol.EventText,
			Text:           "answer",
			Usage:          &protocol.UsageStats{InputTokens: 12, OutputTokens: 7, CostUSD: 0.03},
		}
		if _, err := store.Append(ctx, in); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		msgs, err := store.All(ctx, "conv-usage")
		if err != nil {
			t.Fatalf("All failed: %v", err)
		}
		u := msgs[0].Usage
		if u == nil || u.InputTokens != 12 || u.CostUSD != 0.03 {
			t.Errorf("usage not preserved: %+v", u)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	testStoreContract(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	st, cleanup := setupSQLite(t)
	defer cleanup()
	testStoreContract(t, st)
}
