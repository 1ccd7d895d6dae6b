package transcript

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps transcripts in memory. Suited to tests and throwaway
// conversations; nothing survives the process.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string][]*Message // conversationID -> ordered messages
	touched  map[string]time.Time  // conversationID -> last append
}

// NewMemoryStore creates an empty in-memory transcript store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[string][]*Message),
		touched:  make(map[string]time.Time),
	}
}

func (m *MemoryStore) Append(ctx context.Context, msg *Message) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	msgs := m.messages[msg.ConversationID]
	msg.Sequence = int64(len(msgs))
	m.messages[msg.ConversationID] = append(msgs, msg)
	m.touched[msg.ConversationID] = msg.Timestamp
	return msg.Sequence, nil
}

func (m *MemoryStore) Recent(ctx context.Context, conversationID string, n int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.messages[conversationID]
	if n > len(msgs) {
		n = len(msgs)
	}
	out := make([]*Message, n)
	copy(out, msgs[len(msgs)-n:])
	return out, nil
}

func (m *MemoryStore) All(ctx context.Context, conversationID string) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msgs := m.messages[conversationID]
	out := make([]*Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (m *MemoryStore) Conversations(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.messages))
	for id := range m.messages {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return m.touched[ids[i]].After(m.touched[ids[j]])
	})
	return ids, nil
}

func (m *MemoryStore) Close() error { return nil }
