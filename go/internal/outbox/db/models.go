package db

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

type ScoreboardOutbox struct {
	ID        uuid.UUID             `json:"id"`
	EventType string                `json:"event_type"`
	Payload   pqtype.NullRawMessage `json:"payload"`
	CreatedAt time.Time             `json:"created_at"`
	SentAt    sql.NullTime          `json:"sent_at"`
}
