package chat

import (
	"context"
	"errors"
	"log"

	"github.com/vkboi5/FlatBuddies-sub000/internal/events"
	"github.com/vkboi5/FlatBuddies-sub000/internal/identity"
	"github.com/vkboi5/FlatBuddies-sub000/internal/message"
	"github.com/vkboi5/FlatBuddies-sub000/internal/protocol"
	"github.com/vkboi5/FlatBuddies-sub000/internal/ratelimit"
	"github.com/vkboi5/FlatBuddies-sub000/internal/relationship"
	"github.com/vkboi5/FlatBuddies-sub000/internal/room"
	"github.com/vkboi5/FlatBuddies-sub000/internal/ws"
)

// handleAuth binds a connection to a user id. It must be the first message
// on a connection; an invalid credential closes the connection.
func (s *Service) handleAuth(conn *ws.Connection, msg interface{}) {
	authMsg, ok := msg.(protocol.AuthMsg)
	if !ok {
		return
	}

	s.mu.Lock()
	_, already := s.users[conn.ID]
	s.mu.Unlock()
	if already {
		s.sendError(conn, "already_authenticated", "connection is already bound to a user")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	userID, err := s.verifier.Verify(ctx, authMsg.Token)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredential) {
			log.Printf("[chat] auth rejected conn=%s", conn.ID)
			s.sendError(conn, "auth_failed", "invalid credential")
			_ = conn.Close()
			return
		}
		log.Printf("[chat] auth verify conn=%s: %v", conn.ID, err)
		s.sendError(conn, "internal", "authentication unavailable")
		return
	}

	s.mu.Lock()
	if timer, ok := s.timers[conn.ID]; ok {
		timer.Stop()
		delete(s.timers, conn.ID)
	}
	s.users[conn.ID] = userID
	s.mu.Unlock()

	// Last connection wins; any previous connection for this user is evicted
	// and closed by the registry.
	s.registry.Register(userID, conn.ID, conn)

	if s.sessions != nil {
		if err := s.sessions.Create(ctx, userID, conn.ID); err != nil {
			log.Printf("[chat] create session user=%s: %v", userID, err)
		}
	}
	if s.events != nil {
		err := s.events.SubscribeMatchEvents(userID,
			func(ev events.MatchEvent) { s.deliverMatchEvent(userID, ev.PeerID) },
			func(ev events.MatchEvent) { s.deliverUnmatchEvent(userID, ev.PeerID) },
		)
		if err != nil {
			log.Printf("[chat] subscribe match events user=%s: %v", userID, err)
		}
	}

	log.Printf("[chat] authenticated user=%s conn=%s", userID, conn.ID)
	s.send(conn, protocol.TypeAuthenticated, protocol.AuthenticatedMsg{UserID: userID})
}

// handleJoin puts the connection into the conversation room with a matched
// peer. Joining is optional for delivery; it scopes future room broadcasts.
func (s *Service) handleJoin(conn *ws.Connection, msg interface{}) {
	joinMsg, ok := msg.(protocol.JoinMsg)
	if !ok {
		return
	}
	userID, ok := s.userFor(conn)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	matched, err := s.engine.IsMatched(ctx, userID, joinMsg.PeerID)
	if err != nil {
		log.Printf("[chat] join match check user=%s peer=%s: %v", userID, joinMsg.PeerID, err)
		s.sendError(conn, "internal", "join failed")
		return
	}
	if !matched {
		s.sendError(conn, "not_matched", "no active match with peer")
		return
	}

	roomID := room.ID(userID, joinMsg.PeerID)
	s.rooms.Join(roomID, conn.ID, conn)
	s.send(conn, protocol.TypeJoined, protocol.JoinedMsg{PeerID: joinMsg.PeerID, RoomID: roomID})
}

// handleLeave removes the connection from the conversation room with a peer.
// Leaving a room never blocks message delivery.
func (s *Service) handleLeave(conn *ws.Connection, msg interface{}) {
	leaveMsg, ok := msg.(protocol.LeaveMsg)
	if !ok {
		return
	}
	userID, ok := s.userFor(conn)
	if !ok {
		return
	}

	s.rooms.Leave(room.ID(userID, leaveMsg.PeerID), conn.ID)
	s.send(conn, protocol.TypeLeft, protocol.LeftMsg{PeerID: leaveMsg.PeerID})
}

// handleMessage runs the send pipeline and acknowledges the stored message
// to the sender, reporting whether live delivery happened.
func (s *Service) handleMessage(conn *ws.Connection, msg interface{}) {
	chatMsg, ok := msg.(protocol.ChatMsg)
	if !ok {
		return
	}
	userID, ok := s.userFor(conn)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if !s.allow(ctx, conn, userID, ratelimit.RuleMessage) {
		return
	}
	if err := message.ValidateText(chatMsg.Text); err != nil {
		s.sendError(conn, "invalid_message", err.Error())
		return
	}

	stored, delivered, err := s.pipeline.Send(ctx, userID, chatMsg.PeerID, chatMsg.Text)
	if err != nil {
		if errors.Is(err, message.ErrNotMatched) {
			s.sendError(conn, "not_matched", "no active match with peer")
			return
		}
		log.Printf("[chat] send user=%s peer=%s: %v", userID, chatMsg.PeerID, err)
		s.sendError(conn, "internal", "message not stored")
		return
	}

	if s.sessions != nil {
		if err := s.sessions.Touch(ctx, userID); err != nil {
			log.Printf("[chat] touch session user=%s: %v", userID, err)
		}
	}
	s.send(conn, protocol.TypeMessageSent, protocol.MessageSentMsg{ID: stored.ID, Delivered: delivered})
}

// handleLike records a like and reports "liked" or "matched". Match events
// for both users fan out through the engine's notifier.
func (s *Service) handleLike(conn *ws.Connection, msg interface{}) {
	likeMsg, ok := msg.(protocol.LikeMsg)
	if !ok {
		return
	}
	userID, ok := s.userFor(conn)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if !s.allow(ctx, conn, userID, ratelimit.RuleAction) {
		return
	}

	outcome, err := s.engine.Like(ctx, userID, likeMsg.TargetID)
	if err != nil {
		s.sendActionError(conn, err)
		return
	}
	s.send(conn, protocol.TypeLikeResult, protocol.LikeResultMsg{
		TargetID: likeMsg.TargetID,
		Outcome:  outcome.String(),
	})
}

// handleDislike records a dislike, replacing any earlier like.
func (s *Service) handleDislike(conn *ws.Connection, msg interface{}) {
	dislikeMsg, ok := msg.(protocol.DislikeMsg)
	if !ok {
		return
	}
	userID, ok := s.userFor(conn)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if !s.allow(ctx, conn, userID, ratelimit.RuleAction) {
		return
	}

	if _, err := s.engine.Dislike(ctx, userID, dislikeMsg.TargetID); err != nil {
		s.sendActionError(conn, err)
		return
	}
	s.send(conn, protocol.TypeDislikeResult, protocol.DislikeResultMsg{TargetID: dislikeMsg.TargetID})
}

// handleUnmatch dissolves a match for both sides and tears down the shared
// room.
func (s *Service) handleUnmatch(conn *ws.Connection, msg interface{}) {
	unmatchMsg, ok := msg.(protocol.UnmatchMsg)
	if !ok {
		return
	}
	userID, ok := s.userFor(conn)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if !s.allow(ctx, conn, userID, ratelimit.RuleAction) {
		return
	}

	outcome, err := s.engine.Unmatch(ctx, userID, unmatchMsg.TargetID)
	if err != nil {
		s.sendActionError(conn, err)
		return
	}

	s.send(conn, protocol.TypeUnmatchResult, protocol.UnmatchResultMsg{
		TargetID: unmatchMsg.TargetID,
		Outcome:  outcome.String(),
	})
	if outcome == relationship.OutcomeUnmatched {
		s.notifyUnmatch(userID, unmatchMsg.TargetID)
	}
}

// handleHistory returns the recent conversation with a peer, oldest first.
func (s *Service) handleHistory(conn *ws.Connection, msg interface{}) {
	histMsg, ok := msg.(protocol.HistoryMsg)
	if !ok {
		return
	}
	userID, ok := s.userFor(conn)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	msgs, err := s.pipeline.History(ctx, userID, histMsg.PeerID, 0)
	if err != nil {
		if errors.Is(err, message.ErrNotMatched) {
			s.sendError(conn, "not_matched", "no active match with peer")
			return
		}
		log.Printf("[chat] history user=%s peer=%s: %v", userID, histMsg.PeerID, err)
		s.sendError(conn, "internal", "history unavailable")
		return
	}

	entries := make([]protocol.HistoryEntry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, protocol.HistoryEntry{
			ID:   m.ID,
			From: m.Sender,
			To:   m.Recipient,
			Text: m.Content,
			Ts:   m.Timestamp.UnixMilli(),
			Read: m.Read,
		})
	}
	s.send(conn, protocol.TypeHistory, protocol.ServerHistoryMsg{
		PeerID:   histMsg.PeerID,
		Messages: entries,
	})
}

// handleMarkRead marks the conversation from a peer as read.
func (s *Service) handleMarkRead(conn *ws.Connection, msg interface{}) {
	markMsg, ok := msg.(protocol.MarkReadMsg)
	if !ok {
		return
	}
	userID, ok := s.userFor(conn)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	count, err := s.pipeline.MarkRead(ctx, userID, markMsg.PeerID)
	if err != nil {
		log.Printf("[chat] mark read user=%s peer=%s: %v", userID, markMsg.PeerID, err)
		s.sendError(conn, "internal", "mark read failed")
		return
	}
	s.send(conn, protocol.TypeMarkedRead, protocol.MarkedReadMsg{PeerID: markMsg.PeerID, Count: count})
}

// handleUnreadCounts returns per-peer unread counts for the user.
func (s *Service) handleUnreadCounts(conn *ws.Connection, msg interface{}) {
	if _, ok := msg.(protocol.UnreadCountsMsg); !ok {
		return
	}
	userID, ok := s.userFor(conn)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	counts, err := s.pipeline.UnreadCounts(ctx, userID)
	if err != nil {
		log.Printf("[chat] unread counts user=%s: %v", userID, err)
		s.sendError(conn, "internal", "unread counts unavailable")
		return
	}
	s.send(conn, protocol.TypeUnreadCounts, protocol.ServerUnreadCountsMsg{Counts: counts})
}
