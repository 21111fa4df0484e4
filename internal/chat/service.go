// Package chat is the application layer of the chat server. The Service owns
// per-connection authentication state and translates protocol messages into
// relationship actions, message sends, and room operations. Everything below
// it (presence, rooms, pipeline, engine) is transport-agnostic; everything
// above it (ws server, dispatcher) knows nothing about users.
package chat

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/vkboi5/FlatBuddies-sub000/internal/events"
	"github.com/vkboi5/FlatBuddies-sub000/internal/identity"
	"github.com/vkboi5/FlatBuddies-sub000/internal/message"
	"github.com/vkboi5/FlatBuddies-sub000/internal/presence"
	"github.com/vkboi5/FlatBuddies-sub000/internal/protocol"
	"github.com/vkboi5/FlatBuddies-sub000/internal/ratelimit"
	"github.com/vkboi5/FlatBuddies-sub000/internal/relationship"
	"github.com/vkboi5/FlatBuddies-sub000/internal/room"
	"github.com/vkboi5/FlatBuddies-sub000/internal/ws"
)

// DefaultAuthTimeout is how long a fresh connection may stay unauthenticated
// before the server closes it.
const DefaultAuthTimeout = 10 * time.Second

const opTimeout = 5 * time.Second

// ServiceConfig collects the Service's collaborators. Sessions, Events, and
// Limiter are optional; a nil value disables that concern.
type ServiceConfig struct {
	Verifier    identity.Verifier
	Engine      *relationship.Engine
	Pipeline    *message.Pipeline
	Registry    *presence.Registry
	Rooms       *room.Router
	Sessions    *presence.SessionStore
	Events      *events.Client
	Limiter     *ratelimit.Limiter
	AuthTimeout time.Duration
}

// Service drives a connection through its lifecycle: connecting (registered
// but unauthenticated, under an auth deadline), authenticated (bound to a
// user id, present in the registry), and disconnected (all state cleaned
// up). Room membership is held by the room router, not tracked here.
type Service struct {
	verifier    identity.Verifier
	engine      *relationship.Engine
	pipeline    *message.Pipeline
	registry    *presence.Registry
	rooms       *room.Router
	sessions    *presence.SessionStore
	events      *events.Client
	limiter     *ratelimit.Limiter
	authTimeout time.Duration

	mu     sync.Mutex
	users  map[string]string      // conn id -> user id, authenticated conns only
	timers map[string]*time.Timer // conn id -> pending auth deadline
}

// NewService creates the Service and installs its eviction hook on the
// presence registry.
func NewService(cfg ServiceConfig) *Service {
	s := &Service{
		verifier:    cfg.Verifier,
		engine:      cfg.Engine,
		pipeline:    cfg.Pipeline,
		registry:    cfg.Registry,
		rooms:       cfg.Rooms,
		sessions:    cfg.Sessions,
		events:      cfg.Events,
		limiter:     cfg.Limiter,
		authTimeout: cfg.AuthTimeout,
		users:       make(map[string]string),
		timers:      make(map[string]*time.Timer),
	}
	if s.authTimeout <= 0 {
		s.authTimeout = DefaultAuthTimeout
	}

	// When a new connection supersedes an old one for the same user, the old
	// connection's rooms and auth state must go before the handle is closed.
	s.registry.SetOnEvict(func(userID, connID string, h presence.Handle) {
		s.rooms.LeaveAll(connID)
		s.mu.Lock()
		delete(s.users, connID)
		s.mu.Unlock()
	})

	return s
}

// Register installs the Service's handlers on the dispatcher.
func (s *Service) Register(d *ws.MessageDispatcher) {
	d.Register(protocol.TypeAuth, s.handleAuth)
	d.Register(protocol.TypeJoin, s.handleJoin)
	d.Register(protocol.TypeLeave, s.handleLeave)
	d.Register(protocol.TypeMessage, s.handleMessage)
	d.Register(protocol.TypeLike, s.handleLike)
	d.Register(protocol.TypeDislike, s.handleDislike)
	d.Register(protocol.TypeUnmatch, s.handleUnmatch)
	d.Register(protocol.TypeHistory, s.handleHistory)
	d.Register(protocol.TypeMarkRead, s.handleMarkRead)
	d.Register(protocol.TypeUnreadCounts, s.handleUnreadCounts)
}

// OnConnect starts the authentication deadline for a fresh connection. A
// connection that has not authenticated when the deadline fires is closed.
func (s *Service) OnConnect(conn *ws.Connection) {
	timer := time.AfterFunc(s.authTimeout, func() {
		s.mu.Lock()
		_, pending := s.timers[conn.ID]
		delete(s.timers, conn.ID)
		s.mu.Unlock()
		if !pending {
			return
		}

		log.Printf("[chat] auth timeout conn=%s", conn.ID)
		s.sendError(conn, "auth_timeout", "no credential within deadline")
		_ = conn.Close()
	})

	s.mu.Lock()
	s.timers[conn.ID] = timer
	s.mu.Unlock()
}

// OnDisconnect tears down all state held for a connection. Safe to call for
// connections that never authenticated and for connections already
// superseded by a newer one.
func (s *Service) OnDisconnect(connID string) {
	s.mu.Lock()
	if timer, ok := s.timers[connID]; ok {
		timer.Stop()
		delete(s.timers, connID)
	}
	userID, authed := s.users[connID]
	delete(s.users, connID)
	s.mu.Unlock()

	s.rooms.LeaveAll(connID)

	if !authed {
		return
	}

	// Unregister only removes the presence entry if this connection still
	// owns it; a superseded connection must not knock its successor offline.
	if s.registry.Unregister(userID, connID) {
		if s.events != nil {
			s.events.UnsubscribeMatchEvents(userID)
		}
		if s.sessions != nil {
			ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
			defer cancel()
			if err := s.sessions.Delete(ctx, userID, connID); err != nil {
				log.Printf("[chat] delete session user=%s: %v", userID, err)
			}
		}
		log.Printf("[chat] user offline user=%s conn=%s", userID, connID)
	}
}

// NotifyMatch fans a new match out to both users. With NATS configured the
// event crosses server instances; without it, delivery is in-process.
// Implements the relationship engine's notifier.
func (s *Service) NotifyMatch(userA, userB string) {
	if s.events != nil {
		s.events.NotifyMatch(userA, userB)
		return
	}
	s.deliverMatchEvent(userA, userB)
	s.deliverMatchEvent(userB, userA)
}

// notifyUnmatch mirrors NotifyMatch for match dissolutions.
func (s *Service) notifyUnmatch(userA, userB string) {
	if s.events != nil {
		s.events.NotifyUnmatch(userA, userB)
		return
	}
	s.deliverUnmatchEvent(userA, userB)
	s.deliverUnmatchEvent(userB, userA)
}

// deliverMatchEvent pushes a match_event frame to the user's connection, if
// they are online on this instance.
func (s *Service) deliverMatchEvent(userID, peerID string) {
	handle, _, ok := s.registry.Lookup(userID)
	if !ok {
		return
	}
	frame, err := protocol.NewServerMessage(protocol.TypeMatchEvent, protocol.MatchEventMsg{PeerID: peerID})
	if err != nil {
		log.Printf("[chat] encode match_event for %s: %v", userID, err)
		return
	}
	if err := handle.WriteMessage(frame); err != nil {
		log.Printf("[chat] deliver match_event to %s: %v", userID, err)
	}
}

// deliverUnmatchEvent evicts the user's connection from the dissolved pair's
// room and tells the client it left.
func (s *Service) deliverUnmatchEvent(userID, peerID string) {
	handle, connID, ok := s.registry.Lookup(userID)
	if !ok {
		return
	}
	s.rooms.Leave(room.ID(userID, peerID), connID)

	frame, err := protocol.NewServerMessage(protocol.TypeLeft, protocol.LeftMsg{PeerID: peerID})
	if err != nil {
		log.Printf("[chat] encode left for %s: %v", userID, err)
		return
	}
	if err := handle.WriteMessage(frame); err != nil {
		log.Printf("[chat] deliver left to %s: %v", userID, err)
	}
}

// userFor returns the authenticated user id for a connection, or sends a
// not_authenticated error and reports false.
func (s *Service) userFor(conn *ws.Connection) (string, bool) {
	s.mu.Lock()
	userID, ok := s.users[conn.ID]
	s.mu.Unlock()

	if !ok {
		s.sendError(conn, "not_authenticated", "authenticate first")
		return "", false
	}
	return userID, true
}

// allow checks the rate limit rule for the user. A disabled limiter allows
// everything.
func (s *Service) allow(ctx context.Context, conn *ws.Connection, userID string, rule ratelimit.Rule) bool {
	if s.limiter == nil {
		return true
	}
	ok, _ := s.limiter.Allow(ctx, userID, rule)
	if !ok {
		s.sendError(conn, "rate_limited", "slow down")
	}
	return ok
}

func (s *Service) send(conn *ws.Connection, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("[chat] build %s conn=%s: %v", msgType, conn.ID, err)
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		log.Printf("[chat] send %s conn=%s: %v", msgType, conn.ID, err)
	}
}

func (s *Service) sendError(conn *ws.Connection, code, msg string) {
	s.send(conn, protocol.TypeError, protocol.ErrorMsg{Code: code, Message: msg})
}

// sendActionError maps relationship errors to protocol error codes.
func (s *Service) sendActionError(conn *ws.Connection, err error) {
	switch {
	case errors.Is(err, relationship.ErrSelfAction):
		s.sendError(conn, "self_action", "cannot target yourself")
	case errors.Is(err, relationship.ErrUserNotFound):
		s.sendError(conn, "user_not_found", "no such user")
	default:
		log.Printf("[chat] relationship action failed: %v", err)
		s.sendError(conn, "internal", "action failed")
	}
}
