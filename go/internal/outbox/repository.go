package outbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/mcdev12/scoreboard/go/internal/outbox/db"
	"github.com/mcdev12/scoreboard/go/internal/sqlutil"
)

var ErrEventNotFound = errors.New("outbox event not found or already sent")

type Repository struct {
	db      *sql.DB
	queries *db.Queries
}

func NewRepository(database *sql.DB) *Repository {
	return &Repository{
		db:      database,
		queries: db.New(database),
	}
}

// Store inserts the event and announces its ID on NotifyChannel in one transaction. The
// notification is only delivered on commit.
func (r *Repository) Store(ctx context.Context, event OutboxEvent) error {
	err := sqlutil.Run(ctx, r.db, newQueries, func(q *db.Queries) error {
		if err := q.InsertOutboxEvent(ctx, db.InsertOutboxEventParams{
			ID:        event.ID,
			EventType: event.EventType,
			Payload:   sqlutil.ToNullRawMessage(event.Payload),
			CreatedAt: event.CreatedAt,
		}); err != nil {
			return fmt.Errorf("insert: %w", err)
		}
		if err := q.NotifyOutboxEvent(ctx, event.ID.String()); err != nil {
			return fmt.Errorf("notify: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store %s outbox event: %w", event.EventType, err)
	}
	return nil
}

func (r *Repository) FetchUnsentOutbox(ctx context.Context, limit int32) ([]OutboxEvent, error) {
	rows, err := r.queries.FetchUnsentOutbox(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unsent outbox events: %w", err)
	}

	events := make([]OutboxEvent, len(rows))
	for i, row := range rows {
		events[i] = rowToEvent(row)
	}
	return events, nil
}

func (r *Repository) FetchOutboxByID(ctx context.Context, id uuid.UUID) (*OutboxEvent, error) {
	row, err := r.queries.FetchOutboxByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("failed to fetch outbox event by ID: %w", err)
	}
	event := rowToEvent(row)
	return &event, nil
}

func (r *Repository) MarkOutboxSent(ctx context.Context, id uuid.UUID) error {
	if err := r.queries.MarkOutboxSent(ctx, id); err != nil {
		return fmt.Errorf("failed to mark outbox event as sent: %w", err)
	}
	return nil
}

func (r *Repository) CountUnsentOutbox(ctx context.Context) (int, error) {
	n, err := r.queries.CountUnsentOutbox(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count unsent outbox events: %w", err)
	}
	return int(n), nil
}

func newQueries(tx *sql.Tx) *db.Queries {
	return db.New(tx)
}

func rowToEvent(row db.ScoreboardOutbox) OutboxEvent {
	return OutboxEvent{
		ID:        row.ID,
		EventType: row.EventType,
		Payload:   sqlutil.FromNullRawMessage(row.Payload),
		CreatedAt: row.CreatedAt,
		SentAt:    sqlutil.FromSqlTime(row.SentAt),
	}
}
