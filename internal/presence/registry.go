// Package presence tracks which users currently have a live, registered
// connection capable of receiving fan-out messages. The in-memory Registry is
// the authoritative delivery table for this process; Redis-backed session
// records (sessions.go) mirror connection metadata for observability and TTL
// based expiry.
package presence

import (
	"log"
	"sync"
)

// Handle is the minimal connection surface the registry needs. It is
// satisfied by *ws.Connection and by test fakes.
type Handle interface {
	WriteMessage(data []byte) error
	Close() error
}

type entry struct {
	connID string
	handle Handle
}

// EvictFunc is called when a user's prior connection is superseded by a new
// registration. It runs before the old handle is closed so the caller can
// tear down room memberships for the evicted connection.
type EvictFunc func(userID, connID string, h Handle)

// Registry is the single shared presence table mapping a user id to their
// currently registered connection handle. At most one handle is live per
// user: a new registration supersedes the previous one (last-connection-wins)
// and the superseded handle is actively closed rather than silently dropped.
type Registry struct {
	mu      sync.RWMutex
	byUser  map[string]entry
	onEvict EvictFunc
}

// NewRegistry creates an empty Registry. The registry is owned by the process
// composition root and passed by reference into the chat façade and message
// pipeline; it is never package-global state.
func NewRegistry() *Registry {
	return &Registry{byUser: make(map[string]entry)}
}

// SetOnEvict installs the eviction callback. It must be called during wiring,
// before any connection registers.
func (r *Registry) SetOnEvict(fn EvictFunc) {
	r.onEvict = fn
}

// Register records the connection handle for a user. If the user already has
// a registered handle, the old handle is evicted first: the eviction callback
// runs (removing it from all rooms), then the handle is closed so the stale
// transport cannot linger as a resource leak.
func (r *Registry) Register(userID, connID string, h Handle) {
	r.mu.Lock()
	old, hadOld := r.byUser[userID]
	r.byUser[userID] = entry{connID: connID, handle: h}
	r.mu.Unlock()

	if hadOld && old.connID != connID {
		log.Printf("[presence] user=%s superseded conn=%s with conn=%s", userID, old.connID, connID)
		if r.onEvict != nil {
			r.onEvict(userID, old.connID, old.handle)
		}
		_ = old.handle.Close()
	}
}

// Unregister removes the user's presence entry, but only if it still refers
// to the given connection. A stale unregister from an already-superseded
// connection is a no-op, so a reconnect racing a disconnect cannot knock the
// new connection offline. Returns true if an entry was removed.
func (r *Registry) Unregister(userID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.byUser[userID]
	if !ok || cur.connID != connID {
		return false
	}
	delete(r.byUser, userID)
	return true
}

// Lookup returns the user's registered handle and its connection id, if any.
func (r *Registry) Lookup(userID string) (Handle, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byUser[userID]
	if !ok {
		return nil, "", false
	}
	return e.handle, e.connID, true
}

// Count returns the number of users currently present.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
