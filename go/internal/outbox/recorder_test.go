package outbox

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

type chanSink struct {
	events chan OutboxEvent
}

func (s chanSink) Store(_ context.Context, event OutboxEvent) error {
	s.events <- event
	return nil
}

func TestRecorderStoresQueuedEvents(t *testing.T) {
	fc := clockwork.NewFakeClockAt(time.Date(2024, 3, 9, 19, 30, 0, 0, time.FixedZone("EST", -5*3600)))
	sink := chanSink{events: make(chan OutboxEvent, 4)}
	r := NewRecorder(sink, DefaultRecorderConfig(), fc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Run(ctx) }()

	r.Record("ClockStateChanged", map[string]any{"state": "RUNNING"})
	r.Record("Horn", nil)

	first := receive(t, sink.events)
	if first.EventType != "ClockStateChanged" {
		t.Fatalf("event type = %q", first.EventType)
	}
	var payload map[string]string
	if err := json.Unmarshal(first.Payload, &payload); err != nil || payload["state"] != "RUNNING" {
		t.Fatalf("payload = %s (%v)", first.Payload, err)
	}
	if first.CreatedAt.Location() != time.UTC || !first.CreatedAt.Equal(fc.Now()) {
		t.Fatalf("created at = %v", first.CreatedAt)
	}

	second := receive(t, sink.events)
	if second.Payload != nil {
		t.Fatalf("nil payload stored as %s", second.Payload)
	}
	if second.ID == first.ID {
		t.Fatal("events share an ID")
	}
}

func TestRecorderDropsWhenQueueIsFull(t *testing.T) {
	r := NewRecorder(chanSink{events: make(chan OutboxEvent, 1)}, RecorderConfig{QueueSize: 2}, nil)

	for i := 0; i < 5; i++ {
		r.Record("ClockStateChanged", i)
	}
	if got := r.Dropped(); got != 3 {
		t.Fatalf("dropped = %d, want 3", got)
	}
}

func TestRecorderSkipsUnencodablePayloads(t *testing.T) {
	r := NewRecorder(chanSink{events: make(chan OutboxEvent, 1)}, RecorderConfig{QueueSize: 1}, nil)
	r.Record("Broken", func() {})
	r.Record("ClockStateChanged", nil)
	if got := r.Dropped(); got != 0 {
		t.Fatalf("dropped = %d, want 0", got)
	}
}

func TestPublisherSinkPublishesDirectly(t *testing.T) {
	pub := newFlakyPublisher(0)
	ev := newEvent("DeviceConnected", time.Now())
	if err := (PublisherSink{Publisher: pub}).Store(context.Background(), ev); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if len(pub.published) != 1 {
		t.Fatalf("published = %v", pub.published)
	}
}

func receive(t *testing.T, ch <-chan OutboxEvent) OutboxEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event stored")
		return OutboxEvent{}
	}
}
