// Package relay defines the wire payload types exchanged with clients and
// helpers for building outbound events.
package relay

import (
	"encoding/json"

	"github.com/samber/lo"

	"stampchat/internal/store"
)

// EventType names a frame on the client channel.
type EventType string

// Client to relay.
const (
	EventJoin       EventType = "join"
	EventChat       EventType = "chat"
	EventAdminCheck EventType = "admin-check"
	EventAdminClear EventType = "admin-clear"
)

// Relay to client. EventChat is shared by both directions.
const (
	EventHistory     EventType = "history"
	EventSystem      EventType = "system"
	EventOnlineCount EventType = "online-count"
	EventAdminOK     EventType = "admin-ok"
	EventClearScreen EventType = "clear-screen"
)

// Envelope is the single JSON frame format used in both directions. Fields
// beyond Event are populated per event type and omitted otherwise.
type Envelope struct {
	Event  EventType `json:"event"`
	Name   string    `json:"name,omitempty"`
	Text   string    `json:"text,omitempty"`
	Image  *string   `json:"image,omitempty"`
	Secret string    `json:"secret,omitempty"`
	Count  *int      `json:"count,omitempty"`
}

func chatEvent(msg store.Message) Envelope {
	return Envelope{Event: EventChat, Name: msg.Name, Text: msg.Text, Image: msg.Image}
}

func historyEvent(msg store.Message) Envelope {
	return Envelope{Event: EventHistory, Name: msg.Name, Text: msg.Text, Image: msg.Image}
}

func systemEvent(text string) Envelope {
	return Envelope{Event: EventSystem, Text: text}
}

func onlineCountEvent(count int) Envelope {
	return Envelope{Event: EventOnlineCount, Count: lo.ToPtr(count)}
}

func adminOKEvent() Envelope {
	return Envelope{Event: EventAdminOK}
}

func clearScreenEvent() Envelope {
	return Envelope{Event: EventClearScreen}
}

func encodeEvent(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}
