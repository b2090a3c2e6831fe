// Package store provides the append-and-replay message log behind the relay,
// with interchangeable in-memory, flat-file, relational, and key-value
// backends selected at startup.
package store

import (
	"context"
	"errors"
	"time"
)

// Message is a single persisted chat entry. Image is either an inline
// data URI or a path to a served stamp asset; Text may be empty when the
// message carries only an image.
type Message struct {
	Name  string    `json:"name"`
	Text  string    `json:"text"`
	Image *string   `json:"image"`
	At    time.Time `json:"at,omitempty"`
}

// ErrClosed is returned by operations on a store that has been closed.
var ErrClosed = errors.New("store: closed")

// MessageStore is the durable log contract shared by all backends. Append
// assigns the persistence timestamp when Message.At is zero. RecentHistory
// returns the most recent entries in insertion order (oldest first); a
// limit of zero or less means the full log. Implementations must be safe
// for concurrent use within a single process.
type MessageStore interface {
	Append(ctx context.Context, msg Message) error
	RecentHistory(ctx context.Context, limit int) ([]Message, error)
	PurgeAll(ctx context.Context) error
	Close() error
}

func stampTime(msg Message) Message {
	if msg.At.IsZero() {
		msg.At = time.Now().UTC()
	}
	return msg
}
