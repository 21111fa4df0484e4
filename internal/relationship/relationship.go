// Package relationship implements the like/dislike/match graph between users
// and the match engine that turns one-sided likes into confirmed matches.
//
// Dispositions are mutually exclusive per (actor, target) pair: a later
// like or dislike overwrites the earlier one. A match exists exactly when
// both directions of a like edge exist, and is created atomically with the
// second like so no reader can observe a half-recorded match.
package relationship

import "errors"

// Disposition is the recorded attitude of one user toward another.
type Disposition string

const (
	DispositionLike    Disposition = "like"
	DispositionDislike Disposition = "dislike"
)

// Outcome is the result value of a match-engine action. Soft conflicts
// (NotMatched) are outcomes, not errors.
type Outcome int

const (
	OutcomeLiked Outcome = iota
	OutcomeMatched
	OutcomeDisliked
	OutcomeUnmatched
	OutcomeNotMatched
)

// String returns the wire spelling of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeLiked:
		return "liked"
	case OutcomeMatched:
		return "matched"
	case OutcomeDisliked:
		return "disliked"
	case OutcomeUnmatched:
		return "unmatched"
	case OutcomeNotMatched:
		return "not_matched"
	default:
		return "unknown"
	}
}

// ErrUserNotFound is returned when an action references a user id absent from
// the store. No partial mutation is applied in that case.
var ErrUserNotFound = errors.New("relationship: user not found")

// ErrSelfAction is returned when actor and target are the same user.
var ErrSelfAction = errors.New("relationship: action targets self")

// PairKey returns the canonical key for an unordered user pair. Both orders
// of the same pair yield the same key; it is used for per-pair serialization
// and for the canonical column order of match rows.
func PairKey(a, b string) (string, string) {
	if a > b {
		return b, a
	}
	return a, b
}
