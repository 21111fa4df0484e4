package relationship

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

type recordingNotifier struct {
	pairs [][2]string
}

func (n *recordingNotifier) NotifyMatch(userA, userB string) {
	n.pairs = append(n.pairs, [2]string{userA, userB})
}

func newTestEngine(t *testing.T, users ...string) (*Engine, *recordingNotifier) {
	t.Helper()
	store := NewMemoryStore()
	for _, u := range users {
		store.AddUser(u)
	}
	notifier := &recordingNotifier{}
	return NewEngine(store, notifier), notifier
}

func mustOutcome(t *testing.T, got Outcome, err error, want Outcome) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != want {
		t.Fatalf("outcome = %v, want %v", got, want)
	}
}

// --- Likes and matches ---

func TestLikeOneSided(t *testing.T) {
	engine, notifier := newTestEngine(t, "alice", "bob")
	ctx := context.Background()

	outcome, err := engine.Like(ctx, "alice", "bob")
	mustOutcome(t, outcome, err, OutcomeLiked)

	if len(notifier.pairs) != 0 {
		t.Fatalf("one-sided like must not notify, got %v", notifier.pairs)
	}
	matched, err := engine.IsMatched(ctx, "alice", "bob")
	if err != nil || matched {
		t.Fatalf("IsMatched = %v, %v, want false", matched, err)
	}
}

func TestMutualLikeCreatesMatch(t *testing.T) {
	engine, notifier := newTestEngine(t, "alice", "bob")
	ctx := context.Background()

	outcome, err := engine.Like(ctx, "alice", "bob")
	mustOutcome(t, outcome, err, OutcomeLiked)
	outcome, err = engine.Like(ctx, "bob", "alice")
	mustOutcome(t, outcome, err, OutcomeMatched)

	if len(notifier.pairs) != 1 {
		t.Fatalf("want exactly one notification, got %v", notifier.pairs)
	}

	// The match is visible to both sides.
	for _, pair := range [][2]string{{"alice", "bob"}, {"bob", "alice"}} {
		matched, err := engine.IsMatched(ctx, pair[0], pair[1])
		if err != nil || !matched {
			t.Fatalf("IsMatched(%s, %s) = %v, %v, want true", pair[0], pair[1], matched, err)
		}
	}
}

func TestRepeatedLikeIsIdempotent(t *testing.T) {
	engine, notifier := newTestEngine(t, "alice", "bob")
	ctx := context.Background()

	engine.Like(ctx, "alice", "bob")
	engine.Like(ctx, "bob", "alice")

	// Re-liking a matched peer reports the match again without a second
	// notification.
	outcome, err := engine.Like(ctx, "alice", "bob")
	mustOutcome(t, outcome, err, OutcomeMatched)

	if len(notifier.pairs) != 1 {
		t.Fatalf("want exactly one notification after re-like, got %v", notifier.pairs)
	}
}

func TestLikeSelf(t *testing.T) {
	engine, _ := newTestEngine(t, "alice")

	if _, err := engine.Like(context.Background(), "alice", "alice"); !errors.Is(err, ErrSelfAction) {
		t.Fatalf("err = %v, want ErrSelfAction", err)
	}
}

func TestLikeUnknownUser(t *testing.T) {
	engine, _ := newTestEngine(t, "alice")

	if _, err := engine.Like(context.Background(), "alice", "ghost"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("err = %v, want ErrUserNotFound", err)
	}
	if _, err := engine.Like(context.Background(), "ghost", "alice"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("err = %v, want ErrUserNotFound", err)
	}
}

// --- Dislikes ---

func TestDislikeReplacesLike(t *testing.T) {
	engine, notifier := newTestEngine(t, "alice", "bob")
	ctx := context.Background()

	engine.Like(ctx, "alice", "bob")
	outcome, err := engine.Dislike(ctx, "alice", "bob")
	mustOutcome(t, outcome, err, OutcomeDisliked)

	// The earlier like no longer counts toward a match.
	outcome, err = engine.Like(ctx, "bob", "alice")
	mustOutcome(t, outcome, err, OutcomeLiked)
	if len(notifier.pairs) != 0 {
		t.Fatalf("dislike must have cleared the like, got notifications %v", notifier.pairs)
	}
}

func TestLikeReplacesDislike(t *testing.T) {
	engine, _ := newTestEngine(t, "alice", "bob")
	ctx := context.Background()

	engine.Dislike(ctx, "alice", "bob")
	engine.Like(ctx, "bob", "alice")

	outcome, err := engine.Like(ctx, "alice", "bob")
	mustOutcome(t, outcome, err, OutcomeMatched)
}

// --- Unmatch ---

func TestUnmatchDissolvesBothViews(t *testing.T) {
	engine, _ := newTestEngine(t, "alice", "bob")
	ctx := context.Background()

	engine.Like(ctx, "alice", "bob")
	engine.Like(ctx, "bob", "alice")

	outcome, err := engine.Unmatch(ctx, "alice", "bob")
	mustOutcome(t, outcome, err, OutcomeUnmatched)

	matched, err := engine.IsMatched(ctx, "bob", "alice")
	if err != nil || matched {
		t.Fatalf("IsMatched after unmatch = %v, %v, want false", matched, err)
	}
}

func TestUnmatchWithoutMatch(t *testing.T) {
	engine, _ := newTestEngine(t, "alice", "bob")
	ctx := context.Background()

	outcome, err := engine.Unmatch(ctx, "alice", "bob")
	mustOutcome(t, outcome, err, OutcomeNotMatched)

	// Repeating after a real unmatch also reports NotMatched.
	engine.Like(ctx, "alice", "bob")
	engine.Like(ctx, "bob", "alice")
	engine.Unmatch(ctx, "alice", "bob")
	outcome, err = engine.Unmatch(ctx, "bob", "alice")
	mustOutcome(t, outcome, err, OutcomeNotMatched)
}

// --- Listings ---

func TestMatchesAndExcluded(t *testing.T) {
	engine, _ := newTestEngine(t, "alice", "bob", "carol", "dave")
	ctx := context.Background()

	engine.Like(ctx, "alice", "bob")
	engine.Like(ctx, "bob", "alice")
	engine.Like(ctx, "alice", "carol")
	engine.Dislike(ctx, "alice", "dave")

	matches, err := engine.Matches(ctx, "alice")
	if err != nil {
		t.Fatalf("Matches: %v", err)
	}
	if !reflect.DeepEqual(matches, []string{"bob"}) {
		t.Fatalf("Matches = %v, want [bob]", matches)
	}

	excluded, err := engine.Excluded(ctx, "alice")
	if err != nil {
		t.Fatalf("Excluded: %v", err)
	}
	if !reflect.DeepEqual(excluded, []string{"bob", "carol", "dave"}) {
		t.Fatalf("Excluded = %v, want [bob carol dave]", excluded)
	}
}

func TestPairKeyCanonicalOrder(t *testing.T) {
	a1, b1 := PairKey("zoe", "adam")
	a2, b2 := PairKey("adam", "zoe")
	if a1 != a2 || b1 != b2 {
		t.Fatalf("PairKey not symmetric: (%s,%s) vs (%s,%s)", a1, b1, a2, b2)
	}
	if a1 != "adam" || b1 != "zoe" {
		t.Fatalf("PairKey order = (%s,%s), want (adam,zoe)", a1, b1)
	}

	// Byte order, not locale order: uppercase sorts before lowercase. The
	// matches table enforces the same ordering with COLLATE "C".
	a3, b3 := PairKey("alice", "Bob")
	if a3 != "Bob" || b3 != "alice" {
		t.Fatalf("PairKey order = (%s,%s), want (Bob,alice)", a3, b3)
	}
}
