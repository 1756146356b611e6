package outbox

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// MetricsCollector defines the interface for collecting outbox metrics
type MetricsCollector interface {
	RecordEventProcessed(eventType string, success bool, duration time.Duration)
	RecordBatchProcessed(count int, duration time.Duration)
	RecordOutboxLag(lag int)
	RecordPublishAttempt(eventType string, attempt int, success bool)
}

// NoOpMetricsCollector is a no-op implementation for when metrics aren't needed
type NoOpMetricsCollector struct{}

func (NoOpMetricsCollector) RecordEventProcessed(eventType string, success bool, duration time.Duration) {}
func (NoOpMetricsCollector) RecordBatchProcessed(count int, duration time.Duration)                    {}
func (NoOpMetricsCollector) RecordOutboxLag(lag int)                                                   {}
func (NoOpMetricsCollector) RecordPublishAttempt(eventType string, attempt int, success bool)          {}

// LogMetricsCollector writes each measurement as a structured log line. Failures log at Warn;
// everything else at Debug.
type LogMetricsCollector struct {
	logger zerolog.Logger
}

func NewLogMetricsCollector() *LogMetricsCollector {
	return &LogMetricsCollector{
		logger: log.With().Str("component", "outbox_metrics").Logger(),
	}
}

func (m *LogMetricsCollector) RecordEventProcessed(eventType string, success bool, duration time.Duration) {
	m.level(success).
		Str("event_type", eventType).
		Bool("success", success).
		Dur("duration", duration).
		Msg("event processed")
}

func (m *LogMetricsCollector) RecordBatchProcessed(count int, duration time.Duration) {
	m.logger.Debug().
		Int("count", count).
		Dur("duration", duration).
		Msg("batch processed")
}

func (m *LogMetricsCollector) RecordOutboxLag(lag int) {
	evt := m.logger.Debug()
	if lag > 0 {
		evt = m.logger.Info()
	}
	evt.Int("pending", lag).Msg("outbox lag")
}

func (m *LogMetricsCollector) RecordPublishAttempt(eventType string, attempt int, success bool) {
	m.level(success).
		Str("event_type", eventType).
		Int("attempt", attempt).
		Bool("success", success).
		Msg("publish attempt")
}

func (m *LogMetricsCollector) level(success bool) *zerolog.Event {
	if success {
		return m.logger.Debug()
	}
	return m.logger.Warn()
}

// MetricPublisher wraps an EventPublisher with metrics collection
type MetricPublisher struct {
	publisher EventPublisher
	metrics   MetricsCollector
	clock     clockwork.Clock
}

func NewMetricPublisher(publisher EventPublisher, metrics MetricsCollector, clock clockwork.Clock) *MetricPublisher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MetricPublisher{
		publisher: publisher,
		metrics:   metrics,
		clock:     clock,
	}
}

func (p *MetricPublisher) Publish(ctx context.Context, event OutboxEvent) error {
	start := p.clock.Now()

	err := p.publisher.Publish(ctx, event)

	p.metrics.RecordEventProcessed(event.EventType, err == nil, p.clock.Since(start))
	return err
}
