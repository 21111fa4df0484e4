package relationship

import (
	"context"
	"log"

	"github.com/vkboi5/FlatBuddies-sub000/internal/metrics"
)

// MatchNotifier receives notifications when a new match is created. The
// events client implements it by publishing to both users' match subjects.
type MatchNotifier interface {
	NotifyMatch(userA, userB string)
}

// Engine applies relationship actions against the store and emits match
// notifications. Notification happens at most once per match creation; a
// repeated like on a mutual pair reports Matched without re-notifying.
type Engine struct {
	store    Store
	notifier MatchNotifier
}

// NewEngine creates an engine over the given store. notifier may be nil, in
// which case matches are created silently.
func NewEngine(store Store, notifier MatchNotifier) *Engine {
	return &Engine{store: store, notifier: notifier}
}

// SetNotifier installs the match notifier after construction. This supports
// the wiring order where the notifier itself depends on the engine.
func (e *Engine) SetNotifier(n MatchNotifier) {
	e.notifier = n
}

// Like records a like from actor to target. Returns OutcomeMatched when the
// pair holds mutual likes, OutcomeLiked otherwise.
func (e *Engine) Like(ctx context.Context, actor, target string) (Outcome, error) {
	if actor == target {
		return 0, ErrSelfAction
	}

	result, err := e.store.ApplyLike(ctx, actor, target)
	if err != nil {
		return 0, err
	}
	if !result.Mutual {
		return OutcomeLiked, nil
	}
	if result.MatchCreated {
		log.Printf("[relationship] match created: %s <-> %s", actor, target)
		metrics.MatchesCreated.Inc()
		if e.notifier != nil {
			e.notifier.NotifyMatch(actor, target)
		}
	}
	return OutcomeMatched, nil
}

// Dislike records a dislike from actor to target, replacing any earlier like.
func (e *Engine) Dislike(ctx context.Context, actor, target string) (Outcome, error) {
	if actor == target {
		return 0, ErrSelfAction
	}
	if err := e.store.ApplyDislike(ctx, actor, target); err != nil {
		return 0, err
	}
	return OutcomeDisliked, nil
}

// Unmatch dissolves the match between actor and target. Returns
// OutcomeNotMatched when no match exists, which a repeated unmatch hits.
func (e *Engine) Unmatch(ctx context.Context, actor, target string) (Outcome, error) {
	if actor == target {
		return 0, ErrSelfAction
	}

	existed, err := e.store.RemoveMatch(ctx, actor, target)
	if err != nil {
		return 0, err
	}
	if !existed {
		return OutcomeNotMatched, nil
	}
	log.Printf("[relationship] match dissolved: %s <-> %s", actor, target)
	return OutcomeUnmatched, nil
}

// IsMatched reports whether the two users are currently matched.
func (e *Engine) IsMatched(ctx context.Context, a, b string) (bool, error) {
	return e.store.IsMatched(ctx, a, b)
}

// Matches lists the users matched with userID.
func (e *Engine) Matches(ctx context.Context, userID string) ([]string, error) {
	return e.store.Matches(ctx, userID)
}

// Excluded lists the users userID has already liked or disliked.
func (e *Engine) Excluded(ctx context.Context, userID string) ([]string, error) {
	return e.store.Excluded(ctx, userID)
}
