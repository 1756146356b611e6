package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

type HealthStatus struct {
	Healthy           bool      `json:"healthy"`
	PendingEvents     int       `json:"pending_events"`
	LastActivity      time.Time `json:"last_activity"`
	DatabaseConnected bool      `json:"database_connected"`
	NATSConnected     bool      `json:"nats_connected"`
	ListenerActive    bool      `json:"listener_active"`
	DroppedEvents     uint64    `json:"dropped_events"`
	Errors            []string  `json:"errors"`
}

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// ConnStatus is satisfied by *nats.Conn.
type ConnStatus interface {
	IsConnected() bool
}

type HealthChecker struct {
	db        Pinger
	store     EventStore
	nats      ConnStatus
	listener  *Listener
	recorder  *Recorder
	clock     clockwork.Clock
	threshold time.Duration // How long the listener may stay idle while events are pending
	maxQueued int
}

// HealthOption wires an optional component into the health check.
type HealthOption func(*HealthChecker)

func WithDatabase(db Pinger, store EventStore) HealthOption {
	return func(h *HealthChecker) {
		h.db = db
		h.store = store
	}
}

func WithNATS(conn ConnStatus) HealthOption {
	return func(h *HealthChecker) { h.nats = conn }
}

func WithListener(l *Listener) HealthOption {
	return func(h *HealthChecker) { h.listener = l }
}

func WithRecorder(r *Recorder) HealthOption {
	return func(h *HealthChecker) { h.recorder = r }
}

func NewHealthChecker(clock clockwork.Clock, threshold time.Duration, opts ...HealthOption) *HealthChecker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	h := &HealthChecker{
		clock:     clock,
		threshold: threshold,
		maxQueued: 1000,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *HealthChecker) Check(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Healthy: true,
		Errors:  []string{},
	}

	if h.recorder != nil {
		status.DroppedEvents = h.recorder.Dropped()
	}

	if h.db != nil {
		if err := h.db.PingContext(ctx); err != nil {
			status.Healthy = false
			status.Errors = append(status.Errors, fmt.Sprintf("database ping failed: %v", err))
		} else {
			status.DatabaseConnected = true
		}
	}

	if h.nats != nil {
		status.NATSConnected = h.nats.IsConnected()
		if !status.NATSConnected {
			status.Healthy = false
			status.Errors = append(status.Errors, "NATS disconnected")
		}
	}

	if h.listener != nil {
		status.LastActivity = h.listener.LastActivity()
		status.ListenerActive = true
	}

	if status.DatabaseConnected && h.store != nil {
		pending, err := h.store.CountUnsentOutbox(ctx)
		if err != nil {
			status.Errors = append(status.Errors, fmt.Sprintf("failed to count pending events: %v", err))
		} else {
			status.PendingEvents = pending
			if pending > h.maxQueued {
				status.Errors = append(status.Errors, fmt.Sprintf("high pending event count: %d", pending))
			}
		}
	}

	if h.listener != nil && status.PendingEvents > 0 {
		if idle := h.clock.Since(status.LastActivity); idle > h.threshold {
			status.Healthy = false
			status.ListenerActive = false
			status.Errors = append(status.Errors, fmt.Sprintf("no events processed for %s", idle))
		}
	}

	return status
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.Check(ctx)

	w.Header().Set("Content-Type", "application/json")
	if !status.Healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(status); err != nil {
		log.Error().Err(err).Msg("failed to write health response")
	}
}
