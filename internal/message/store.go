package message

import "context"

// Store persists messages and unread state.
type Store interface {
	// Append durably stores a new message.
	Append(ctx context.Context, msg *Message) error

	// Conversation returns up to limit messages between the two users,
	// oldest first. limit <= 0 applies the default page size.
	Conversation(ctx context.Context, userA, userB string, limit int) ([]*Message, error)

	// MarkRead marks every unread message from peer to reader as read and
	// returns how many messages changed state.
	MarkRead(ctx context.Context, reader, peer string) (int64, error)

	// UnreadCounts returns, per sender, how many unread messages the user
	// has from that sender. Senders with zero unread are omitted.
	UnreadCounts(ctx context.Context, userID string) (map[string]int64, error)
}

// DefaultHistoryLimit bounds a history page when the caller does not set one.
const DefaultHistoryLimit = 50
