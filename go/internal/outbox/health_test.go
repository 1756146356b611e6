package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

type pinger struct{ err error }

func (p pinger) PingContext(context.Context) error { return p.err }

type connStatus bool

func (c connStatus) IsConnected() bool { return bool(c) }

func TestHealthCheckHealthy(t *testing.T) {
	store := newMemStore(newEvent("ClockStateChanged", time.Now()))
	h := NewHealthChecker(nil, time.Minute, WithDatabase(pinger{}, store), WithNATS(connStatus(true)))

	status := h.Check(context.Background())
	if !status.Healthy || !status.DatabaseConnected || !status.NATSConnected {
		t.Fatalf("status = %+v", status)
	}
	if status.PendingEvents != 1 {
		t.Fatalf("pending = %d, want 1", status.PendingEvents)
	}
}

func TestHealthCheckReportsFailures(t *testing.T) {
	h := NewHealthChecker(nil, time.Minute,
		WithDatabase(pinger{err: errors.New("connection refused")}, newMemStore()),
		WithNATS(connStatus(false)),
	)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status code = %d", rec.Code)
	}
	var status HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Healthy || len(status.Errors) != 2 {
		t.Fatalf("status = %+v", status)
	}
}

func TestHealthCheckFlagsIdleListener(t *testing.T) {
	fc := clockwork.NewFakeClock()
	store := newMemStore(newEvent("ClockStateChanged", fc.Now()))
	l := NewListenerWithSource(store, newFakeSource(), newFlakyPublisher(0), nil, DefaultListenerConfig(), fc)
	h := NewHealthChecker(fc, time.Minute, WithDatabase(pinger{}, store), WithListener(l))

	if status := h.Check(context.Background()); !status.Healthy {
		t.Fatalf("fresh listener unhealthy: %+v", status)
	}
	fc.Advance(2 * time.Minute)
	if status := h.Check(context.Background()); status.Healthy || status.ListenerActive {
		t.Fatalf("idle listener with pending events reported healthy: %+v", status)
	}
}
