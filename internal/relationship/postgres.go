package relationship

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore persists the relationship graph in PostgreSQL. Every pair
// mutation runs inside a single transaction holding a per-pair advisory lock,
// which is the serialization point required for pair atomicity.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store backed by the given database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// lockPair takes a transaction-scoped advisory lock keyed by the canonical
// pair, serializing concurrent mutations of the same pair. Without it two
// mutual likes arriving together can each miss the other's uncommitted edge
// and never create the match.
func lockPair(ctx context.Context, tx *sql.Tx, a, b string) error {
	userA, userB := PairKey(a, b)
	if _, err := tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1 || ':' || $2, 0))`,
		userA, userB,
	); err != nil {
		return fmt.Errorf("relationship: lock pair: %w", err)
	}
	return nil
}

// ensureUsers verifies both user ids exist inside the current transaction.
// Returns ErrUserNotFound before any mutation is attempted.
func ensureUsers(ctx context.Context, tx *sql.Tx, ids ...string) error {
	var count int
	err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE id = ANY($1)`,
		pq.Array(ids),
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("relationship: verify users: %w", err)
	}
	if count != len(ids) {
		return ErrUserNotFound
	}
	return nil
}

// ApplyLike records the like edge and, if the reciprocal like exists, creates
// the match row in the same transaction. Both users' views reflect the match
// or neither does.
func (s *PostgresStore) ApplyLike(ctx context.Context, actor, target string) (LikeResult, error) {
	var result LikeResult

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := lockPair(ctx, tx, actor, target); err != nil {
			return err
		}
		if err := ensureUsers(ctx, tx, actor, target); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO relationship_edges (actor_id, target_id, disposition, created_at)
VALUES ($1, $2, 'like', NOW())
ON CONFLICT (actor_id, target_id) DO UPDATE SET
	disposition = 'like',
	created_at = NOW()
`, actor, target); err != nil {
			return fmt.Errorf("relationship: upsert like: %w", err)
		}

		var one int
		err := tx.QueryRowContext(ctx, `
SELECT 1
FROM relationship_edges
WHERE actor_id = $1 AND target_id = $2 AND disposition = 'like'
LIMIT 1
`, target, actor).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return nil // one-sided like, no match
		}
		if err != nil {
			return fmt.Errorf("relationship: lookup reciprocal like: %w", err)
		}
		result.Mutual = true

		userA, userB := PairKey(actor, target)
		res, err := tx.ExecContext(ctx, `
INSERT INTO matches (user_a_id, user_b_id, created_at)
VALUES ($1, $2, NOW())
ON CONFLICT (user_a_id, user_b_id) DO NOTHING
`, userA, userB)
		if err != nil {
			return fmt.Errorf("relationship: create match: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("relationship: create match rows: %w", err)
		}
		result.MatchCreated = n > 0
		return nil
	})
	if err != nil {
		return LikeResult{}, err
	}
	return result, nil
}

// ApplyDislike records the dislike edge, replacing any earlier like for the
// pair. Any existing match is left alone; only an explicit unmatch dissolves
// a match.
func (s *PostgresStore) ApplyDislike(ctx context.Context, actor, target string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := lockPair(ctx, tx, actor, target); err != nil {
			return err
		}
		if err := ensureUsers(ctx, tx, actor, target); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO relationship_edges (actor_id, target_id, disposition, created_at)
VALUES ($1, $2, 'dislike', NOW())
ON CONFLICT (actor_id, target_id) DO UPDATE SET
	disposition = 'dislike',
	created_at = NOW()
`, actor, target); err != nil {
			return fmt.Errorf("relationship: upsert dislike: %w", err)
		}
		return nil
	})
}

// RemoveMatch deletes the match row for the pair, reporting whether one
// existed. The single DELETE removes the match from both users' views at
// once because the row is stored canonically ordered.
func (s *PostgresStore) RemoveMatch(ctx context.Context, actor, target string) (bool, error) {
	var existed bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := lockPair(ctx, tx, actor, target); err != nil {
			return err
		}
		if err := ensureUsers(ctx, tx, actor, target); err != nil {
			return err
		}

		userA, userB := PairKey(actor, target)
		res, err := tx.ExecContext(ctx, `
DELETE FROM matches
WHERE user_a_id = $1 AND user_b_id = $2
`, userA, userB)
		if err != nil {
			return fmt.Errorf("relationship: delete match: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("relationship: delete match rows: %w", err)
		}
		existed = n > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return existed, nil
}

// IsMatched reports whether a match row exists for the pair.
func (s *PostgresStore) IsMatched(ctx context.Context, a, b string) (bool, error) {
	userA, userB := PairKey(a, b)

	var one int
	err := s.db.QueryRowContext(ctx, `
SELECT 1
FROM matches
WHERE user_a_id = $1 AND user_b_id = $2
LIMIT 1
`, userA, userB).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("relationship: lookup match: %w", err)
	}
	return true, nil
}

// Matches returns every user matched with the given user, newest first.
func (s *PostgresStore) Matches(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT CASE WHEN user_a_id = $1 THEN user_b_id ELSE user_a_id END AS peer_id
FROM matches
WHERE user_a_id = $1 OR user_b_id = $1
ORDER BY created_at DESC
`, userID)
	if err != nil {
		return nil, fmt.Errorf("relationship: list matches: %w", err)
	}
	defer rows.Close()

	var peers []string
	for rows.Next() {
		var peer string
		if err := rows.Scan(&peer); err != nil {
			return nil, fmt.Errorf("relationship: scan match: %w", err)
		}
		peers = append(peers, peer)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("relationship: iterate matches: %w", rows.Err())
	}
	return peers, nil
}

// Excluded returns every user the actor has already expressed a disposition
// toward, for exclusion from candidate discovery.
func (s *PostgresStore) Excluded(ctx context.Context, actor string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT target_id
FROM relationship_edges
WHERE actor_id = $1
`, actor)
	if err != nil {
		return nil, fmt.Errorf("relationship: list excluded: %w", err)
	}
	defer rows.Close()

	var targets []string
	for rows.Next() {
		var target string
		if err := rows.Scan(&target); err != nil {
			return nil, fmt.Errorf("relationship: scan excluded: %w", err)
		}
		targets = append(targets, target)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("relationship: iterate excluded: %w", rows.Err())
	}
	return targets, nil
}

// withTx runs fn inside a transaction, rolling back on error.
func (s *PostgresStore) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("relationship: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("relationship: commit tx: %w", err)
	}
	return nil
}
