package outbox

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type memStore struct {
	mu     sync.Mutex
	events map[uuid.UUID]OutboxEvent
	marks  []uuid.UUID
	now    time.Time
}

func newMemStore(events ...OutboxEvent) *memStore {
	s := &memStore{events: map[uuid.UUID]OutboxEvent{}, now: time.Date(2024, 3, 9, 19, 30, 0, 0, time.UTC)}
	for _, e := range events {
		s.events[e.ID] = e
	}
	return s
}

func (s *memStore) Store(_ context.Context, event OutboxEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.ID] = event
	return nil
}

func (s *memStore) FetchOutboxByID(_ context.Context, id uuid.UUID) (*OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok || e.SentAt != nil {
		return nil, ErrEventNotFound
	}
	return &e, nil
}

func (s *memStore) FetchUnsentOutbox(_ context.Context, limit int32) ([]OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []OutboxEvent
	for _, e := range s.events {
		if e.SentAt == nil {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > int(limit) {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) MarkOutboxSent(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return ErrEventNotFound
	}
	sent := s.now
	e.SentAt = &sent
	s.events[id] = e
	s.marks = append(s.marks, id)
	return nil
}

func (s *memStore) CountUnsentOutbox(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.SentAt == nil {
			n++
		}
	}
	return n, nil
}

func (s *memStore) markCount(id uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.marks {
		if m == id {
			n++
		}
	}
	return n
}

var errBusDown = errors.New("bus down")

// flakyPublisher fails the first failures publishes of each event, or every publish of the
// events in broken.
type flakyPublisher struct {
	mu        sync.Mutex
	failures  int
	broken    map[uuid.UUID]bool
	attempts  map[uuid.UUID]int
	published []OutboxEvent
	done      chan uuid.UUID
}

func newFlakyPublisher(failures int) *flakyPublisher {
	return &flakyPublisher{
		failures: failures,
		broken:   map[uuid.UUID]bool{},
		attempts: map[uuid.UUID]int{},
		done:     make(chan uuid.UUID, 64),
	}
}

func (p *flakyPublisher) Publish(_ context.Context, event OutboxEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts[event.ID]++
	if p.broken[event.ID] || p.attempts[event.ID] <= p.failures {
		return errBusDown
	}
	p.published = append(p.published, event)
	select {
	case p.done <- event.ID:
	default:
	}
	return nil
}

func (p *flakyPublisher) attemptsFor(id uuid.UUID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts[id]
}

type recordingMetrics struct {
	mu       sync.Mutex
	attempts []bool
	batches  []int
	lags     []int
	events   []bool
}

func (m *recordingMetrics) RecordEventProcessed(_ string, success bool, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, success)
}

func (m *recordingMetrics) RecordBatchProcessed(count int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, count)
}

func (m *recordingMetrics) RecordOutboxLag(lag int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lags = append(m.lags, lag)
}

func (m *recordingMetrics) RecordPublishAttempt(_ string, _ int, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, success)
}

type fakeSource struct {
	notes  chan *pq.Notification
	closed chan struct{}
	once   sync.Once
}

func newFakeSource() *fakeSource {
	return &fakeSource{notes: make(chan *pq.Notification), closed: make(chan struct{})}
}

func (s *fakeSource) NotificationChannel() <-chan *pq.Notification { return s.notes }

func (s *fakeSource) Ping() error { return nil }

func (s *fakeSource) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func newEvent(eventType string, at time.Time) OutboxEvent {
	return OutboxEvent{
		ID:        uuid.New(),
		EventType: eventType,
		Payload:   []byte(`{"state":"RUNNING"}`),
		CreatedAt: at,
	}
}
