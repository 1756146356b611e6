package outbox

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Sink persists or forwards recorded events. Repository stores them in the outbox table;
// PublisherSink hands them straight to a publisher.
type Sink interface {
	Store(ctx context.Context, event OutboxEvent) error
}

// PublisherSink adapts an EventPublisher to Sink for running without a database.
type PublisherSink struct {
	Publisher EventPublisher
}

func (s PublisherSink) Store(ctx context.Context, event OutboxEvent) error {
	return s.Publisher.Publish(ctx, event)
}

type RecorderConfig struct {
	QueueSize    int
	StoreTimeout time.Duration
}

func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{
		QueueSize:    256,
		StoreTimeout: 5 * time.Second,
	}
}

// Recorder turns domain events into outbox events. Record never blocks: events are queued and
// stored by Run, and dropped with a warning when the queue is full.
type Recorder struct {
	sink    Sink
	clock   clockwork.Clock
	cfg     RecorderConfig
	queue   chan OutboxEvent
	dropped atomic.Uint64
}

func NewRecorder(sink Sink, cfg RecorderConfig, clock clockwork.Clock) *Recorder {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultRecorderConfig().QueueSize
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultRecorderConfig().StoreTimeout
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Recorder{
		sink:  sink,
		clock: clock,
		cfg:   cfg,
		queue: make(chan OutboxEvent, cfg.QueueSize),
	}
}

// Record queues an event. payload is marshalled to JSON; nil records an event without one.
func (r *Recorder) Record(eventType string, payload any) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			log.Warn().Err(err).Str("event_type", eventType).Msg("dropping event with unencodable payload")
			return
		}
		raw = data
	}

	event := OutboxEvent{
		ID:        uuid.New(),
		EventType: eventType,
		Payload:   raw,
		CreatedAt: r.clock.Now().UTC(),
	}

	select {
	case r.queue <- event:
	default:
		n := r.dropped.Add(1)
		log.Warn().
			Str("event_type", eventType).
			Str("event_id", event.ID.String()).
			Uint64("dropped_total", n).
			Msg("outbox queue full, dropping event")
	}
}

// Dropped returns how many events were discarded because the queue was full.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Run stores queued events until ctx is cancelled.
func (r *Recorder) Run(ctx context.Context) error {
	log.Info().Int("queue_size", r.cfg.QueueSize).Msg("event recorder started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Int("pending", len(r.queue)).Msg("event recorder stopped")
			return nil
		case event := <-r.queue:
			r.store(ctx, event)
		}
	}
}

func (r *Recorder) store(ctx context.Context, event OutboxEvent) {
	storeCtx, cancel := context.WithTimeout(ctx, r.cfg.StoreTimeout)
	defer cancel()

	if err := r.sink.Store(storeCtx, event); err != nil {
		log.Error().
			Err(err).
			Str("event_type", event.EventType).
			Str("event_id", event.ID.String()).
			Msg("failed to store event")
		return
	}
	log.Debug().
		Str("event_type", event.EventType).
		Str("event_id", event.ID.String()).
		Msg("event recorded")
}
