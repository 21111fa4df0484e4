// Package message persists chat messages and delivers them to online
// recipients. A message is durably stored before any delivery is attempted,
// so a crash between the two steps loses delivery, never the message.
package message

import (
	"errors"
	"time"
)

// Message is one persisted chat message between two users.
type Message struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Read      bool      `json:"read"`
}

// ErrNotMatched is returned when a send is attempted between users without
// an active match.
var ErrNotMatched = errors.New("message: users are not matched")
