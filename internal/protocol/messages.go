// Package protocol defines the WebSocket message types and structures used for
// communication between the client and server. All messages are serialized as
// JSON and follow a consistent envelope format with a type discriminator.
package protocol

import (
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Client -> Server message types.
const (
	TypeAuth         = "auth"
	TypeJoin         = "join"
	TypeLeave        = "leave"
	TypeMessage      = "message"
	TypeLike         = "like"
	TypeDislike      = "dislike"
	TypeUnmatch      = "unmatch"
	TypeHistory      = "history"
	TypeMarkRead     = "mark_read"
	TypeUnreadCounts = "unread_counts"
	TypePing         = "ping"
)

// Server -> Client message types.
const (
	TypeAuthenticated = "authenticated"
	TypeJoined        = "joined"
	TypeLeft          = "left"
	TypeMessageSent   = "message_sent"
	TypeLikeResult    = "like_result"
	TypeDislikeResult = "dislike_result"
	TypeUnmatchResult = "unmatch_result"
	TypeMatchEvent    = "match_event"
	TypeMarkedRead    = "marked_read"
	TypeError         = "error"
	TypePong          = "pong"
)

// ---------------------------------------------------------------------------
// Envelope, used for initial JSON parsing to extract the type discriminator.
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON implements the json.Unmarshaler interface. It captures the
// full raw bytes and extracts only the "type" field so that the rest of the
// payload can be decoded later into the appropriate concrete struct.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	// Capture the full raw message for deferred parsing.
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	// Extract only the type field.
	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server message structs
// ---------------------------------------------------------------------------

// AuthMsg carries the opaque credential exchanged at connection time. It must
// be the first message sent on a new connection.
type AuthMsg struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// JoinMsg asks the server to join the conversation room with the named peer.
type JoinMsg struct {
	Type   string `json:"type"`
	PeerID string `json:"peer_id"`
}

// LeaveMsg asks the server to leave the conversation room with the named peer.
type LeaveMsg struct {
	Type   string `json:"type"`
	PeerID string `json:"peer_id"`
}

// ChatMsg is a text message addressed to a peer.
type ChatMsg struct {
	Type   string `json:"type"`
	PeerID string `json:"peer_id"`
	Text   string `json:"text"`
}

// LikeMsg records a like toward the target user.
type LikeMsg struct {
	Type     string `json:"type"`
	TargetID string `json:"target_id"`
}

// DislikeMsg records a dislike toward the target user.
type DislikeMsg struct {
	Type     string `json:"type"`
	TargetID string `json:"target_id"`
}

// UnmatchMsg dissolves an existing match with the target user.
type UnmatchMsg struct {
	Type     string `json:"type"`
	TargetID string `json:"target_id"`
}

// HistoryMsg requests the ordered conversation with the named peer.
type HistoryMsg struct {
	Type   string `json:"type"`
	PeerID string `json:"peer_id"`
}

// MarkReadMsg marks all unread messages from the named peer as read.
type MarkReadMsg struct {
	Type   string `json:"type"`
	PeerID string `json:"peer_id"`
}

// UnreadCountsMsg requests the per-peer unread message counts.
type UnreadCountsMsg struct {
	Type string `json:"type"`
}

// PingMsg is a client-initiated keepalive ping.
type PingMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Server -> Client message structs
// ---------------------------------------------------------------------------

// AuthenticatedMsg confirms a successful credential exchange.
type AuthenticatedMsg struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

// JoinedMsg confirms room membership for a conversation.
type JoinedMsg struct {
	Type   string `json:"type"`
	PeerID string `json:"peer_id"`
	RoomID string `json:"room_id"`
}

// LeftMsg confirms the connection left a conversation room.
type LeftMsg struct {
	Type   string `json:"type"`
	PeerID string `json:"peer_id"`
}

// ServerChatMsg is a message delivered to the recipient's connection.
type ServerChatMsg struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	From string `json:"from"`
	Text string `json:"text"`
	Ts   int64  `json:"ts"`
}

// MessageSentMsg acknowledges a persisted message to the sender. Delivered
// reports whether the live fan-out reached the recipient; it does not affect
// the success of the send.
type MessageSentMsg struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Delivered bool   `json:"delivered"`
}

// LikeResultMsg reports the outcome of a like action: "liked" or "matched".
type LikeResultMsg struct {
	Type     string `json:"type"`
	TargetID string `json:"target_id"`
	Outcome  string `json:"outcome"`
}

// DislikeResultMsg confirms a dislike action.
type DislikeResultMsg struct {
	Type     string `json:"type"`
	TargetID string `json:"target_id"`
}

// UnmatchResultMsg reports the outcome of an unmatch action: "unmatched" or
// "not_matched".
type UnmatchResultMsg struct {
	Type     string `json:"type"`
	TargetID string `json:"target_id"`
	Outcome  string `json:"outcome"`
}

// MatchEventMsg notifies a user that a mutual like turned into a match.
type MatchEventMsg struct {
	Type   string `json:"type"`
	PeerID string `json:"peer_id"`
}

// HistoryEntry is one message in a conversation history response.
type HistoryEntry struct {
	ID   string `json:"id"`
	From string `json:"from"`
	To   string `json:"to"`
	Text string `json:"text"`
	Ts   int64  `json:"ts"`
	Read bool   `json:"read"`
}

// ServerHistoryMsg carries the ordered conversation with a peer.
type ServerHistoryMsg struct {
	Type     string         `json:"type"`
	PeerID   string         `json:"peer_id"`
	Messages []HistoryEntry `json:"messages"`
}

// MarkedReadMsg reports how many messages were newly marked as read.
type MarkedReadMsg struct {
	Type   string `json:"type"`
	PeerID string `json:"peer_id"`
	Count  int64  `json:"count"`
}

// ServerUnreadCountsMsg maps peer user ids to their unread message counts.
type ServerUnreadCountsMsg struct {
	Type   string           `json:"type"`
	Counts map[string]int64 `json:"counts"`
}

// ErrorMsg is sent by the server to communicate an error condition.
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client message.
// It returns the message type string, the decoded struct, and any error
// encountered during parsing. An error is returned for unknown or
// server-only message types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeAuth:
		var m AuthMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeJoin:
		var m JoinMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeLeave:
		var m LeaveMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMessage:
		var m ChatMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeLike:
		var m LikeMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeDislike:
		var m DislikeMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeUnmatch:
		var m UnmatchMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeHistory:
		var m HistoryMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeMarkRead:
		var m MarkReadMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeUnreadCounts:
		var m UnreadCountsMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePing:
		var m PingMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage creates a JSON-encoded byte slice for a server message.
// The msgType is injected into the payload under the "type" key. The payload
// should be one of the Server*Msg structs; this function marshals it to JSON,
// injects the type field, and returns the final bytes.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	// Marshal the payload struct to a generic map so we can ensure the "type"
	// field is present and correct.
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("protocol: failed to unmarshal payload into map: %w", err)
	}

	m["type"] = msgType

	out, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal server message: %w", err)
	}
	return out, nil
}
