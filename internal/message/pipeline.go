package message

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/vkboi5/FlatBuddies-sub000/internal/metrics"
	"github.com/vkboi5/FlatBuddies-sub000/internal/presence"
	"github.com/vkboi5/FlatBuddies-sub000/internal/protocol"
	"github.com/vkboi5/FlatBuddies-sub000/internal/room"
)

// MatchChecker reports whether two users hold an active match. Satisfied by
// the relationship engine.
type MatchChecker interface {
	IsMatched(ctx context.Context, a, b string) (bool, error)
}

// Pipeline runs the send path: validate, authorize, persist, then deliver to
// the recipient if they are online. Persistence happens before delivery is
// attempted and a delivery failure never unwinds the stored message.
type Pipeline struct {
	store    Store
	matches  MatchChecker
	registry *presence.Registry
	rooms    *room.Router
}

// NewPipeline wires the send path over the given store, match checker,
// presence registry, and room router.
func NewPipeline(store Store, matches MatchChecker, registry *presence.Registry, rooms *room.Router) *Pipeline {
	return &Pipeline{
		store:    store,
		matches:  matches,
		registry: registry,
		rooms:    rooms,
	}
}

// Send validates and persists a message from sender to recipient, then
// attempts real-time delivery. The returned flag reports whether the message
// reached the recipient's connection; the message is durable either way.
func (p *Pipeline) Send(ctx context.Context, sender, recipient, text string) (*Message, bool, error) {
	start := time.Now()

	if err := ValidateText(text); err != nil {
		return nil, false, fmt.Errorf("message: %w", err)
	}

	matched, err := p.matches.IsMatched(ctx, sender, recipient)
	if err != nil {
		return nil, false, err
	}
	if !matched {
		return nil, false, ErrNotMatched
	}

	msg := &Message{
		ID:        uuid.NewString(),
		Sender:    sender,
		Recipient: recipient,
		Content:   text,
		Timestamp: time.Now().UTC(),
	}
	if err := p.store.Append(ctx, msg); err != nil {
		return nil, false, err
	}
	metrics.MessagesPersisted.Inc()

	delivered := p.deliver(msg)
	metrics.SendLatency.Observe(time.Since(start).Seconds())
	return msg, delivered, nil
}

// deliver pushes the stored message to the recipient's connection, if any.
// The recipient sees the message as a chat frame whether or not they have
// joined the room; the room only decides the path label.
func (p *Pipeline) deliver(msg *Message) bool {
	handle, connID, ok := p.registry.Lookup(msg.Recipient)
	if !ok {
		metrics.DeliveryMisses.Inc()
		return false
	}

	frame, err := protocol.NewServerMessage(protocol.TypeMessage, protocol.ServerChatMsg{
		ID:   msg.ID,
		From: msg.Sender,
		Text: msg.Content,
		Ts:   msg.Timestamp.UnixMilli(),
	})
	if err != nil {
		log.Printf("[message] encode delivery for %s: %v", msg.Recipient, err)
		metrics.DeliveryMisses.Inc()
		return false
	}

	if err := handle.WriteMessage(frame); err != nil {
		log.Printf("[message] deliver to %s: %v", msg.Recipient, err)
		metrics.DeliveryMisses.Inc()
		return false
	}

	path := "direct"
	if p.rooms.Contains(room.ID(msg.Sender, msg.Recipient), connID) {
		path = "room"
	}
	metrics.MessagesDelivered.WithLabelValues(path).Inc()
	return true
}

// History returns the recent conversation between requester and peer, oldest
// first. Only matched pairs may read history.
func (p *Pipeline) History(ctx context.Context, requester, peer string, limit int) ([]*Message, error) {
	matched, err := p.matches.IsMatched(ctx, requester, peer)
	if err != nil {
		return nil, err
	}
	if !matched {
		return nil, ErrNotMatched
	}
	return p.store.Conversation(ctx, requester, peer, limit)
}

// MarkRead marks every unread message from peer to reader as read.
func (p *Pipeline) MarkRead(ctx context.Context, reader, peer string) (int64, error) {
	return p.store.MarkRead(ctx, reader, peer)
}

// UnreadCounts returns unread message counts for the user, grouped by sender.
func (p *Pipeline) UnreadCounts(ctx context.Context, userID string) (map[string]int64, error) {
	return p.store.UnreadCounts(ctx, userID)
}
