package gateway

import (
	"encoding/json"
	"time"
)

// MessageType identifies what a gateway message carries.
type MessageType string

const (
	// MessageSnapshot carries the live clock state. It is sent on connect and after every
	// clock change.
	MessageSnapshot MessageType = "Snapshot"
	// MessageEvent carries an event relayed from the bus.
	MessageEvent MessageType = "Event"
)

// Message is the JSON frame written to WebSocket clients.
type Message struct {
	ID        string          `json:"id"`
	Type      MessageType     `json:"type"`
	EventType string          `json:"event_type,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}
