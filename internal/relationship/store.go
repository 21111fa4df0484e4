package relationship

import "context"

// LikeResult reports the effect of an ApplyLike call. Mutual is true whenever
// both directions of a like edge exist afterwards; MatchCreated is true only
// when this call recorded the match row (re-liking an already matched user
// leaves it false, so match events fire exactly once per pair).
type LikeResult struct {
	Mutual       bool
	MatchCreated bool
}

// Store is the minimal persistence contract the match engine consumes. Every
// mutation is atomic from the point of view of concurrent readers: in
// particular ApplyLike records the like edge and, when the reciprocal edge
// exists, creates the match in the same transaction (or behind the same
// per-pair serialization point), so "only one side updated" is never
// observable.
type Store interface {
	// ApplyLike upserts a like edge from actor to target, replacing any
	// earlier dislike for the pair, and creates the match when the reciprocal
	// like exists.
	ApplyLike(ctx context.Context, actor, target string) (LikeResult, error)

	// ApplyDislike upserts a dislike edge from actor to target, replacing any
	// earlier like for the pair. It never consults the target's state.
	ApplyDislike(ctx context.Context, actor, target string) error

	// RemoveMatch deletes the match between the two users, if any. It reports
	// whether a match existed.
	RemoveMatch(ctx context.Context, actor, target string) (bool, error)

	// IsMatched reports whether a match exists between the two users.
	IsMatched(ctx context.Context, a, b string) (bool, error)

	// Matches returns the ids of every user matched with the given user.
	Matches(ctx context.Context, userID string) ([]string, error)

	// Excluded returns every user the actor has already liked or disliked.
	// Candidate discovery must never surface these users again.
	Excluded(ctx context.Context, actor string) ([]string, error)
}
