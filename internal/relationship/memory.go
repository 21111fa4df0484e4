package relationship

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps the relationship graph in process memory. Used in tests
// and single-node development setups.
type MemoryStore struct {
	mu      sync.Mutex
	users   map[string]struct{}
	edges   map[string]map[string]Disposition // actor -> target -> disposition
	matches map[string]map[string]struct{}    // canonical userA -> userB
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]struct{}),
		edges:   make(map[string]map[string]Disposition),
		matches: make(map[string]map[string]struct{}),
	}
}

// AddUser registers a user id so relationship operations accept it.
func (s *MemoryStore) AddUser(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = struct{}{}
}

func (s *MemoryStore) ensureUsers(ids ...string) error {
	for _, id := range ids {
		if _, ok := s.users[id]; !ok {
			return ErrUserNotFound
		}
	}
	return nil
}

func (s *MemoryStore) setEdge(actor, target string, d Disposition) {
	m, ok := s.edges[actor]
	if !ok {
		m = make(map[string]Disposition)
		s.edges[actor] = m
	}
	m[target] = d
}

func (s *MemoryStore) matched(a, b string) bool {
	userA, userB := PairKey(a, b)
	_, ok := s.matches[userA][userB]
	return ok
}

// ApplyLike records the like and creates the match when the reciprocal like
// already exists. The store mutex makes the edge write and match check a
// single atomic step.
func (s *MemoryStore) ApplyLike(ctx context.Context, actor, target string) (LikeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureUsers(actor, target); err != nil {
		return LikeResult{}, err
	}

	s.setEdge(actor, target, DispositionLike)
	if s.edges[target][actor] != DispositionLike {
		return LikeResult{}, nil
	}

	result := LikeResult{Mutual: true}
	if !s.matched(actor, target) {
		userA, userB := PairKey(actor, target)
		m, ok := s.matches[userA]
		if !ok {
			m = make(map[string]struct{})
			s.matches[userA] = m
		}
		m[userB] = struct{}{}
		result.MatchCreated = true
	}
	return result, nil
}

// ApplyDislike records the dislike, replacing any earlier like.
func (s *MemoryStore) ApplyDislike(ctx context.Context, actor, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureUsers(actor, target); err != nil {
		return err
	}
	s.setEdge(actor, target, DispositionDislike)
	return nil
}

// RemoveMatch dissolves the match for the pair, reporting whether one existed.
func (s *MemoryStore) RemoveMatch(ctx context.Context, actor, target string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureUsers(actor, target); err != nil {
		return false, err
	}

	userA, userB := PairKey(actor, target)
	if _, ok := s.matches[userA][userB]; !ok {
		return false, nil
	}
	delete(s.matches[userA], userB)
	if len(s.matches[userA]) == 0 {
		delete(s.matches, userA)
	}
	return true, nil
}

// IsMatched reports whether the pair is currently matched.
func (s *MemoryStore) IsMatched(ctx context.Context, a, b string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.matched(a, b), nil
}

// Matches returns every user matched with the given user, sorted for
// deterministic output.
func (s *MemoryStore) Matches(ctx context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var peers []string
	for userA, partners := range s.matches {
		for userB := range partners {
			switch userID {
			case userA:
				peers = append(peers, userB)
			case userB:
				peers = append(peers, userA)
			}
		}
	}
	sort.Strings(peers)
	return peers, nil
}

// Excluded returns every user the actor has liked or disliked, sorted.
func (s *MemoryStore) Excluded(ctx context.Context, actor string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var targets []string
	for target := range s.edges[actor] {
		targets = append(targets, target)
	}
	sort.Strings(targets)
	return targets, nil
}
