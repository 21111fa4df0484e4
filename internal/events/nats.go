// Package events provides a NATS client for cross-server fan-out. Match
// notifications are published per user so a user connected to a different
// server instance than the liker still receives the event in real time.
package events

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATS subject patterns used across FlatBuddies chat servers.
const (
	SubjectMatchEvent   = "match.event"   // + .<user_id>
	SubjectUnmatchEvent = "unmatch.event" // + .<user_id>
)

// MatchEvent is the payload published on a user's match and unmatch subjects.
type MatchEvent struct {
	PeerID string `json:"peer_id"`
	Ts     int64  `json:"ts"`
}

// Client wraps the NATS connection with helper methods for match event
// pub/sub.
type Client struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "flatbuddies-chat",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NewClient connects to NATS with the given config and returns a ready
// client. It returns an error if the initial connection fails.
func NewClient(config Config) (*Client, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &Client{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// NotifyMatch publishes the match to both users' match subjects. Implements
// the relationship engine's notifier. Publish failures are logged, not
// returned; the match is already durable and the receiving side reconciles
// from storage on its next connect.
func (c *Client) NotifyMatch(userA, userB string) {
	c.publishEvent(SubjectMatchEvent, userA, userB)
	c.publishEvent(SubjectMatchEvent, userB, userA)
}

// NotifyUnmatch publishes the dissolution to both users' unmatch subjects.
func (c *Client) NotifyUnmatch(userA, userB string) {
	c.publishEvent(SubjectUnmatchEvent, userA, userB)
	c.publishEvent(SubjectUnmatchEvent, userB, userA)
}

func (c *Client) publishEvent(subject, userID, peerID string) {
	data, err := json.Marshal(MatchEvent{PeerID: peerID, Ts: time.Now().UnixMilli()})
	if err != nil {
		log.Printf("[nats] marshal event for %s: %v", userID, err)
		return
	}
	if err := c.conn.Publish(subject+"."+userID, data); err != nil {
		log.Printf("[nats] publish %s.%s: %v", subject, userID, err)
	}
}

// SubscribeMatchEvents subscribes to the match and unmatch subjects for a
// user. The subscription is keyed by user id; a second subscribe for the
// same user replaces the first.
func (c *Client) SubscribeMatchEvents(userID string, onMatch, onUnmatch func(ev MatchEvent)) error {
	if err := c.subscribe(SubjectMatchEvent+"."+userID, onMatch); err != nil {
		return err
	}
	if err := c.subscribe(SubjectUnmatchEvent+"."+userID, onUnmatch); err != nil {
		c.unsubscribe(SubjectMatchEvent + "." + userID)
		return err
	}
	return nil
}

// UnsubscribeMatchEvents removes the user's match and unmatch subscriptions.
func (c *Client) UnsubscribeMatchEvents(userID string) {
	c.unsubscribe(SubjectMatchEvent + "." + userID)
	c.unsubscribe(SubjectUnmatchEvent + "." + userID)
}

func (c *Client) subscribe(subject string, handler func(ev MatchEvent)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		var ev MatchEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Printf("[nats] decode %s: %v", subject, err)
			return
		}
		handler(ev)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	if old, ok := c.subs[subject]; ok {
		_ = old.Unsubscribe()
	}
	c.subs[subject] = sub
	c.mu.Unlock()
	return nil
}

// unsubscribe removes the subscription for a subject. Missing subscriptions
// are ignored so disconnect cleanup is idempotent.
func (c *Client) unsubscribe(subject string) {
	c.mu.Lock()
	sub, ok := c.subs[subject]
	delete(c.subs, subject)
	c.mu.Unlock()

	if !ok {
		return
	}
	if err := sub.Unsubscribe(); err != nil {
		log.Printf("[nats] unsubscribe %s: %v", subject, err)
	}
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for subject, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", subject, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}
