package message

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps messages in process memory, for tests and development.
type MemoryStore struct {
	mu   sync.Mutex
	msgs []*Message
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append stores a copy of the message.
func (s *MemoryStore) Append(ctx context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *msg
	s.msgs = append(s.msgs, &copied)
	return nil
}

// Conversation returns the newest limit messages between the two users,
// oldest first.
func (s *MemoryStore) Conversation(ctx context.Context, userA, userB string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var msgs []*Message
	for _, m := range s.msgs {
		if (m.Sender == userA && m.Recipient == userB) || (m.Sender == userB && m.Recipient == userA) {
			copied := *m
			msgs = append(msgs, &copied)
		}
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.Before(msgs[j].Timestamp)
	})
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

// MarkRead marks unread messages from peer to reader, returning the count.
func (s *MemoryStore) MarkRead(ctx context.Context, reader, peer string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, m := range s.msgs {
		if m.Recipient == reader && m.Sender == peer && !m.Read {
			m.Read = true
			n++
		}
	}
	return n, nil
}

// UnreadCounts returns unread counts grouped by sender.
func (s *MemoryStore) UnreadCounts(ctx context.Context, userID string) (map[string]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[string]int64)
	for _, m := range s.msgs {
		if m.Recipient == userID && !m.Read {
			counts[m.Sender]++
		}
	}
	return counts, nil
}
