// Package room derives deterministic conversation room identifiers from user
// pairs and tracks which connections are currently joined to each room. Room
// membership is advisory grouping for broadcast scoping; message delivery is
// guaranteed through the presence registry regardless of membership.
package room

import (
	"fmt"
	"sync"
)

// Member is the minimal connection surface the router needs. It is satisfied
// by *ws.Connection and by test fakes.
type Member interface {
	WriteMessage(data []byte) error
}

// ID computes the deterministic room identifier for an unordered pair of
// users. Both peers independently compute the same id: ID(a, b) == ID(b, a).
// The first id is length-prefixed so that ids containing the separator cannot
// collide with a different pair.
func ID(userA, userB string) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	return fmt.Sprintf("%d:%s:%s", len(userA), userA, userB)
}

// Entry pairs a joined connection with its connection id so callers can
// attribute broadcast targets.
type Entry struct {
	ConnID string
	Conn   Member
}

// Router maintains the runtime-only membership sets, keyed by room id. It is
// safe for concurrent use; membership is rebuilt on every join/leave and
// cleared on disconnect via LeaveAll.
type Router struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]Member   // room id -> conn id -> member
	byConn map[string]map[string]struct{} // conn id -> set of room ids
}

// NewRouter creates an empty Router ready for use.
func NewRouter() *Router {
	return &Router{
		rooms:  make(map[string]map[string]Member),
		byConn: make(map[string]map[string]struct{}),
	}
}

// Join adds a connection to a room. Joining a room the connection already
// occupies is a no-op. A connection may be in many rooms at once.
func (r *Router) Join(roomID, connID string, m Member) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[roomID]
	if !ok {
		members = make(map[string]Member)
		r.rooms[roomID] = members
	}
	members[connID] = m

	joined, ok := r.byConn[connID]
	if !ok {
		joined = make(map[string]struct{})
		r.byConn[connID] = joined
	}
	joined[roomID] = struct{}{}
}

// Leave removes a connection from a single room. Empty rooms are deleted so
// the map does not accumulate dead keys.
func (r *Router) Leave(roomID, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(roomID, connID)
}

// LeaveAll removes a connection from every room it occupies. It is called on
// disconnect and on presence eviction so no dangling references remain.
func (r *Router) LeaveAll(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for roomID := range r.byConn[connID] {
		r.leaveLocked(roomID, connID)
	}
}

func (r *Router) leaveLocked(roomID, connID string) {
	if members, ok := r.rooms[roomID]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(r.rooms, roomID)
		}
	}
	if joined, ok := r.byConn[connID]; ok {
		delete(joined, roomID)
		if len(joined) == 0 {
			delete(r.byConn, connID)
		}
	}
}

// Contains reports whether the given connection is currently joined to the
// room.
func (r *Router) Contains(roomID, connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[roomID][connID]
	return ok
}

// Members returns a snapshot of the room's current members. The returned
// slice is safe to iterate without holding the lock.
func (r *Router) Members(roomID string) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[roomID]
	out := make([]Entry, 0, len(members))
	for connID, m := range members {
		out = append(out, Entry{ConnID: connID, Conn: m})
	}
	return out
}

// Rooms returns the ids of every room the connection currently occupies.
func (r *Router) Rooms(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byConn[connID]))
	for roomID := range r.byConn[connID] {
		out = append(out, roomID)
	}
	return out
}
