package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

type ListenerConfig struct {
	DatabaseURL      string        // Postgres DSN for LISTEN/NOTIFY
	NotifyChannel    string        // Channel name to LISTEN on
	FallbackInterval time.Duration // How often to poll for missed events
	MaxRetries       int
	RetryDelay       time.Duration
	PingInterval     time.Duration
	BatchSize        int32 // Max events to fetch per batch
}

func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		DatabaseURL:      "",
		NotifyChannel:    NotifyChannel,
		FallbackInterval: 30 * time.Second,
		MaxRetries:       5,
		RetryDelay:       200 * time.Millisecond,
		PingInterval:     90 * time.Second,
		BatchSize:        100,
	}
}

// EventStore is the part of the outbox repository the listener reads and acknowledges.
type EventStore interface {
	FetchOutboxByID(ctx context.Context, id uuid.UUID) (*OutboxEvent, error)
	FetchUnsentOutbox(ctx context.Context, limit int32) ([]OutboxEvent, error)
	MarkOutboxSent(ctx context.Context, id uuid.UUID) error
	CountUnsentOutbox(ctx context.Context) (int, error)
}

// NotificationSource delivers NOTIFY payloads. *pq.Listener satisfies it.
type NotificationSource interface {
	NotificationChannel() <-chan *pq.Notification
	Ping() error
	Close() error
}

type Listener struct {
	store     EventStore
	source    NotificationSource
	publisher EventPublisher
	metrics   MetricsCollector
	clock     clockwork.Clock
	cfg       ListenerConfig

	lastActivity atomic.Int64
}

// NewListener opens a LISTEN connection on cfg.NotifyChannel.
func NewListener(store EventStore, publisher EventPublisher, metrics MetricsCollector, cfg ListenerConfig) (*Listener, error) {
	l := pq.NewListener(
		cfg.DatabaseURL,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().
		Str("channel", cfg.NotifyChannel).
		Msg("listening for notifications")

	return NewListenerWithSource(store, l, publisher, metrics, cfg, clockwork.NewRealClock()), nil
}

// NewListenerWithSource builds a listener over an already subscribed notification source.
func NewListenerWithSource(store EventStore, source NotificationSource, publisher EventPublisher, metrics MetricsCollector, cfg ListenerConfig, clock clockwork.Clock) *Listener {
	if metrics == nil {
		metrics = NoOpMetricsCollector{}
	}
	l := &Listener{
		store:     store,
		source:    source,
		publisher: publisher,
		metrics:   metrics,
		clock:     clock,
		cfg:       cfg,
	}
	l.touch()
	return l
}

// LastActivity reports when the listener last handled a notification or polled the outbox.
func (l *Listener) LastActivity() time.Time {
	return time.Unix(0, l.lastActivity.Load())
}

func (l *Listener) touch() {
	l.lastActivity.Store(l.clock.Now().UnixNano())
}

func (l *Listener) Start(ctx context.Context) error {
	log.Info().
		Str("channel", l.cfg.NotifyChannel).
		Dur("ping_interval", l.cfg.PingInterval).
		Dur("fallback_interval", l.cfg.FallbackInterval).
		Msg("listener started")

	pingTicker := l.clock.NewTicker(l.cfg.PingInterval)
	fallbackTicker := l.clock.NewTicker(l.cfg.FallbackInterval)
	defer pingTicker.Stop()
	defer fallbackTicker.Stop()

	// Pick up whatever was left unsent by a previous run.
	if err := l.processUnsent(ctx); err != nil {
		log.Error().Err(err).Msg("failed to process unsent events")
	}

	notes := l.source.NotificationChannel()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("listener shutting down")
			return l.Stop()
		case note := <-notes:
			if note == nil {
				// connection was re-established; notifications may have been missed
				if err := l.processUnsent(ctx); err != nil {
					log.Error().Err(err).Msg("failed to process unsent events")
				}
				continue
			}
			if err := l.handleNotification(ctx, note.Extra); err != nil {
				log.Error().Err(err).Msg("failed to handle notification")
			}
		case <-fallbackTicker.Chan():
			if err := l.processUnsent(ctx); err != nil {
				log.Error().Err(err).Msg("failed to process unsent events")
			}
		case <-pingTicker.Chan():
			if err := l.source.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

func (l *Listener) Stop() error {
	return l.source.Close()
}

// handleNotification publishes the outbox event whose ID arrived as the notification payload.
func (l *Listener) handleNotification(ctx context.Context, extra string) error {
	l.touch()

	id, err := uuid.Parse(extra)
	if err != nil {
		return fmt.Errorf("invalid event ID in notification: %w", err)
	}

	event, err := l.store.FetchOutboxByID(ctx, id)
	if errors.Is(err, ErrEventNotFound) {
		log.Debug().Str("event_id", id.String()).Msg("event already sent by fallback poll")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to fetch outbox event: %w", err)
	}
	if event.SentAt != nil {
		log.Debug().Str("event_id", id.String()).Msg("event already sent")
		return nil
	}

	if err := l.publishWithRetry(ctx, *event); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	log.Info().Str("event_id", id.String()).Str("event_type", event.EventType).Msg("published and marked event as sent")
	return nil
}

// processUnsent publishes a batch of events that were never marked sent.
func (l *Listener) processUnsent(ctx context.Context) error {
	l.touch()
	start := l.clock.Now()

	unsent, err := l.store.FetchUnsentOutbox(ctx, l.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to fetch unsent outbox events: %w", err)
	}

	published := 0
	for _, event := range unsent {
		if err := l.publishWithRetry(ctx, event); err != nil {
			log.Error().Err(err).Str("event_id", event.ID.String()).Msg("failed to publish event")
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		published++
	}
	if len(unsent) > 0 {
		l.metrics.RecordBatchProcessed(published, l.clock.Since(start))
	}

	if pending, err := l.store.CountUnsentOutbox(ctx); err == nil {
		l.metrics.RecordOutboxLag(pending)
	}
	return nil
}

// publishWithRetry publishes an event and marks it sent, backing off linearly between
// attempts.
func (l *Listener) publishWithRetry(ctx context.Context, event OutboxEvent) error {
	var lastErr error

	for attempt := 0; attempt <= l.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := l.cfg.RetryDelay * time.Duration(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-l.clock.After(delay):
			}
		}

		if err := l.publisher.Publish(ctx, event); err != nil {
			lastErr = err
			l.metrics.RecordPublishAttempt(event.EventType, attempt+1, false)
			log.Error().
				Err(err).
				Int("attempt", attempt+1).
				Str("event_id", event.ID.String()).
				Msg("failed to publish, retrying")
			continue
		}
		l.metrics.RecordPublishAttempt(event.EventType, attempt+1, true)

		if err := l.store.MarkOutboxSent(ctx, event.ID); err != nil {
			log.Error().Err(err).Str("event_id", event.ID.String()).Msg("failed to mark outbox event as sent")
			return err
		}

		if attempt > 0 {
			log.Info().
				Int("attempt", attempt+1).
				Str("event_id", event.ID.String()).
				Msg("publish succeeded after retry")
		}
		return nil
	}

	return fmt.Errorf("publish failed after %d attempts: %w", l.cfg.MaxRetries+1, lastErr)
}
