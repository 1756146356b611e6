package outbox

import (
	"context"
	_ "embed"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Schema creates the outbox table.
//
//go:embed schema.sql
var Schema string

// NotifyChannel is the Postgres channel an insert announces new event IDs on.
const NotifyChannel = "scoreboard_outbox_events"

// OutboxEvent represents an outbox event for the application layer
type OutboxEvent struct {
	ID        uuid.UUID       `json:"id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	SentAt    *time.Time      `json:"sent_at,omitempty"`
}

// EventPublisher delivers an event to the bus.
type EventPublisher interface {
	Publish(ctx context.Context, event OutboxEvent) error
}
