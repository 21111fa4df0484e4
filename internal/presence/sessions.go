package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// SessionPrefix is the Redis key prefix for all presence session hashes.
	SessionPrefix = "presence:"

	// SessionTTL is the time-to-live for presence session keys. Sessions are
	// refreshed on activity; a crashed server's records expire on their own.
	SessionTTL = 1 * time.Hour
)

// SessionRecord mirrors a user's live connection metadata in Redis. It is
// observational state: the in-memory Registry stays authoritative for
// delivery, while these records let operators see who is connected where.
type SessionRecord struct {
	UserID      string `redis:"user_id"`
	ConnID      string `redis:"conn_id"`
	Server      string `redis:"server"`      // which chat server instance
	ConnectedAt int64  `redis:"connected_at"` // unix timestamp
	LastActive  int64  `redis:"last_active"`  // unix timestamp
}

// SessionStore manages presence session records in Redis.
type SessionStore struct {
	client     *redis.Client
	serverName string
}

// NewSessionStore creates a session store on an existing Redis client,
// tagging every record with this server instance's name.
func NewSessionStore(client *redis.Client, serverName string) *SessionStore {
	return &SessionStore{client: client, serverName: serverName}
}

// Create stores a session record for a freshly authenticated connection.
func (s *SessionStore) Create(ctx context.Context, userID, connID string) error {
	key := SessionPrefix + userID
	now := time.Now().Unix()

	record := map[string]interface{}{
		"user_id":      userID,
		"conn_id":      connID,
		"server":       s.serverName,
		"connected_at": now,
		"last_active":  now,
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, record)
	pipe.Expire(ctx, key, SessionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence: create session for %s: %w", userID, err)
	}
	return nil
}

// Get retrieves a session record. Returns nil if not found.
func (s *SessionStore) Get(ctx context.Context, userID string) (*SessionRecord, error) {
	key := SessionPrefix + userID
	var record SessionRecord
	if err := s.client.HGetAll(ctx, key).Scan(&record); err != nil {
		return nil, err
	}
	if record.UserID == "" {
		return nil, nil // not found
	}
	return &record, nil
}

// Touch refreshes the last-active timestamp and the TTL. Best-effort: callers
// log rather than propagate failures.
func (s *SessionStore) Touch(ctx context.Context, userID string) error {
	key := SessionPrefix + userID
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "last_active", time.Now().Unix())
	pipe.Expire(ctx, key, SessionTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Delete removes a session record, but only if it still belongs to the given
// connection. A record already overwritten by a newer connection (possibly on
// another server) is left alone.
func (s *SessionStore) Delete(ctx context.Context, userID, connID string) error {
	key := SessionPrefix + userID

	current, err := s.client.HGet(ctx, key, "conn_id").Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return fmt.Errorf("presence: delete session for %s: %w", userID, err)
	}
	if current != connID {
		return nil // superseded by a newer connection
	}
	return s.client.Del(ctx, key).Err()
}
