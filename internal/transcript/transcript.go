// Package transcript persists conversation history: every message a
// participant or the user contributes, in order, per conversation. Recovery
// reads recent history back out to rebuild context for respawned agents.
package transcript

import (
	"context"
	"time"

	"github.com/drewfead/parley/internal/protocol"
)

// Message is one persisted transcript entry.
type Message struct {
	ID             string
	ConversationID string
	Sender         string // mention name, "user", or "moderator"
	Agent          string // agent type of the sender, empty for the user
	Kind           protocol.EventType
	Sequence       int64 // assigned by the store, contiguous per conversation
	Timestamp      time.Time

	Text       string
	ToolName   string
	ToolInput  string
	ToolOutput string

	Usage *protocol.UsageStats
	Raw   string
}

// Store is append-ordered per-conversation message persistence.
type Store interface {
	// Append persists msg and returns its assigned sequence number. The
	// store fills in ID and Timestamp when the caller left them zero.
	Append(ctx context.Context, msg *Message) (int64, error)

	// Recent returns the last n messages of a conversation in sequence
	// order. Fewer than n exist, all are returned.
	Recent(ctx context.Context, conversationID string, n int) ([]*Message, error)

	// All returns every message of a conversation in sequence order.
	All(ctx context.Context, conversationID string) ([]*Message, error)

	// Conversations lists known conversation ids, most recent first.
	Conversations(ctx context.Context) ([]string, error)

	Close() error
}
