// source: query.sql

package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

const countUnsentOutbox = `-- name: CountUnsentOutbox :one
SELECT COUNT(*) FROM scoreboard_outbox WHERE sent_at IS NULL
`

func (q *Queries) CountUnsentOutbox(ctx context.Context) (int64, error) {
	row := q.db.QueryRowContext(ctx, countUnsentOutbox)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const fetchOutboxByID = `-- name: FetchOutboxByID :one
SELECT id, event_type, payload, created_at, sent_at
FROM scoreboard_outbox
WHERE id = $1 AND sent_at IS NULL
`

func (q *Queries) FetchOutboxByID(ctx context.Context, id uuid.UUID) (ScoreboardOutbox, error) {
	row := q.db.QueryRowContext(ctx, fetchOutboxByID, id)
	var i ScoreboardOutbox
	err := row.Scan(
		&i.ID,
		&i.EventType,
		&i.Payload,
		&i.CreatedAt,
		&i.SentAt,
	)
	return i, err
}

const fetchUnsentOutbox = `-- name: FetchUnsentOutbox :many
SELECT id, event_type, payload, created_at, sent_at
FROM scoreboard_outbox
WHERE sent_at IS NULL
ORDER BY created_at
LIMIT $1
`

func (q *Queries) FetchUnsentOutbox(ctx context.Context, limit int32) ([]ScoreboardOutbox, error) {
	rows, err := q.db.QueryContext(ctx, fetchUnsentOutbox, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ScoreboardOutbox
	for rows.Next() {
		var i ScoreboardOutbox
		if err := rows.Scan(
			&i.ID,
			&i.EventType,
			&i.Payload,
			&i.CreatedAt,
			&i.SentAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const insertOutboxEvent = `-- name: InsertOutboxEvent :exec
INSERT INTO scoreboard_outbox (id, event_type, payload, created_at)
VALUES ($1, $2, $3, $4)
`

type InsertOutboxEventParams struct {
	ID        uuid.UUID             `json:"id"`
	EventType string                `json:"event_type"`
	Payload   pqtype.NullRawMessage `json:"payload"`
	CreatedAt time.Time             `json:"created_at"`
}

func (q *Queries) InsertOutboxEvent(ctx context.Context, arg InsertOutboxEventParams) error {
	_, err := q.db.ExecContext(ctx, insertOutboxEvent,
		arg.ID,
		arg.EventType,
		arg.Payload,
		arg.CreatedAt,
	)
	return err
}

const markOutboxSent = `-- name: MarkOutboxSent :exec
UPDATE scoreboard_outbox SET sent_at = now() WHERE id = $1
`

func (q *Queries) MarkOutboxSent(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.ExecContext(ctx, markOutboxSent, id)
	return err
}

const notifyOutboxEvent = `-- name: NotifyOutboxEvent :exec
SELECT pg_notify('scoreboard_outbox_events', $1::text)
`

func (q *Queries) NotifyOutboxEvent(ctx context.Context, id string) error {
	_, err := q.db.ExecContext(ctx, notifyOutboxEvent, id)
	return err
}
