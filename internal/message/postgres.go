package message

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore persists messages in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store backed by the given database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Append durably stores the message. Returns only after the insert commits.
func (s *PostgresStore) Append(ctx context.Context, msg *Message) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO messages (id, sender_id, recipient_id, content, created_at, read)
VALUES ($1, $2, $3, $4, $5, $6)
`, msg.ID, msg.Sender, msg.Recipient, msg.Content, msg.Timestamp, msg.Read)
	if err != nil {
		return fmt.Errorf("message: append: %w", err)
	}
	return nil
}

// Conversation returns the newest limit messages between the two users,
// reordered oldest first for display.
func (s *PostgresStore) Conversation(ctx context.Context, userA, userB string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT id, sender_id, recipient_id, content, created_at, read
FROM (
	SELECT id, sender_id, recipient_id, content, created_at, read
	FROM messages
	WHERE (sender_id = $1 AND recipient_id = $2)
	   OR (sender_id = $2 AND recipient_id = $1)
	ORDER BY created_at DESC, id DESC
	LIMIT $3
) page
ORDER BY created_at ASC, id ASC
`, userA, userB, limit)
	if err != nil {
		return nil, fmt.Errorf("message: load conversation: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Sender, &m.Recipient, &m.Content, &m.Timestamp, &m.Read); err != nil {
			return nil, fmt.Errorf("message: scan conversation: %w", err)
		}
		msgs = append(msgs, &m)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("message: iterate conversation: %w", rows.Err())
	}
	return msgs, nil
}

// MarkRead marks every unread message from peer to reader as read.
func (s *PostgresStore) MarkRead(ctx context.Context, reader, peer string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
UPDATE messages
SET read = TRUE
WHERE recipient_id = $1 AND sender_id = $2 AND read = FALSE
`, reader, peer)
	if err != nil {
		return 0, fmt.Errorf("message: mark read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("message: mark read rows: %w", err)
	}
	return n, nil
}

// UnreadCounts returns unread message counts grouped by sender.
func (s *PostgresStore) UnreadCounts(ctx context.Context, userID string) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT sender_id, COUNT(*)
FROM messages
WHERE recipient_id = $1 AND read = FALSE
GROUP BY sender_id
`, userID)
	if err != nil {
		return nil, fmt.Errorf("message: unread counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var sender string
		var n int64
		if err := rows.Scan(&sender, &n); err != nil {
			return nil, fmt.Errorf("message: scan unread count: %w", err)
		}
		counts[sender] = n
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("message: iterate unread counts: %w", rows.Err())
	}
	return counts, nil
}
