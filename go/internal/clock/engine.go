package clock

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/scoreboard/go/internal/models"
	"github.com/mcdev12/scoreboard/go/internal/pubsub"
	"github.com/rs/zerolog/log"
)

const (
	DefaultMinutes      = 10
	DefaultSeconds      = 0
	DefaultShotClock    = 24
	DefaultTickInterval = 100 * time.Millisecond

	MaxMinutes   = 99
	MaxSeconds   = 59
	MaxShotClock = 99
)

// Clock is the interface we use for time operations.
// In production, use clockwork.NewRealClock(). In tests, a FakeClock.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) clockwork.Timer
}

// Listener receives engine events. Listeners run on the goroutine that caused the event (the
// Run loop for ticks and expiry) and must not block or call back into engine mutators.
// Events reach listeners in the order the mutations that produced them were applied.
type Listener func(models.ClockEvent)

// Config holds engine settings.
type Config struct {
	TickInterval time.Duration
}

// DefaultConfig returns the standard 100ms tick.
func DefaultConfig() Config {
	return Config{TickInterval: DefaultTickInterval}
}

// Engine is the authoritative game clock and shot clock. All mutation, including the periodic
// tick, happens under mu, so an operator edit can never interleave with a half-applied tick.
type Engine struct {
	mu           sync.Mutex
	minutes      int
	seconds      int
	milliseconds int
	shotClock    int
	shotEnabled  bool
	state        models.RunState
	digits       models.Digits
	epoch        uint64    // bumped on every transition into Running
	anchor       time.Time // start of the current run; tick n is due at anchor + n*interval

	clock      Clock
	interval   time.Duration
	wakeCh     chan struct{}
	instanceID string
	listeners  pubsub.Hub[Listener]

	nextBatch uint64 // guarded by mu; ticket of the next event batch
	emitMu    sync.Mutex
	emitCond  *sync.Cond
	emitted   uint64 // guarded by emitMu; batches delivered so far
}

// NewEngine creates an engine at the defaults (10:00, 24s, stopped). A nil clock means the
// real wall clock.
func NewEngine(cfg Config, clock Clock) *Engine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	e := &Engine{
		clock:      clock,
		interval:   cfg.TickInterval,
		wakeCh:     make(chan struct{}, 1),
		instanceID: uuid.New().String()[:8],
	}
	e.emitCond = sync.NewCond(&e.emitMu)
	e.resetLocked()
	return e
}

// Subscribe registers l for clock-tick, state-changed and game-clock-expired events.
func (e *Engine) Subscribe(l Listener) (unsubscribe func()) {
	return e.listeners.Subscribe(l)
}

// Snapshot returns a consistent copy of the clock state.
func (e *Engine) Snapshot() models.ClockSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// InstanceID identifies this engine in logs.
func (e *Engine) InstanceID() string {
	return e.instanceID
}

// Start moves Stopped or Paused to Running. It is a no-op when already running.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.state == models.StateRunning {
		e.mu.Unlock()
		return
	}
	e.state = models.StateRunning
	e.epoch++
	e.anchor = e.clock.Now()
	events := []models.ClockEvent{e.eventLocked(models.EventStateChanged)}
	batch := e.claimLocked()
	e.mu.Unlock()

	e.wake()
	e.emit(batch, events)
}

// Stop moves Running to Stopped.
func (e *Engine) Stop() {
	e.transitionFromRunning(models.StateStopped)
}

// Pause moves Running to Paused. Ticking halts exactly as for Stop.
func (e *Engine) Pause() {
	e.transitionFromRunning(models.StatePaused)
}

func (e *Engine) transitionFromRunning(to models.RunState) {
	e.mu.Lock()
	if e.state != models.StateRunning {
		e.mu.Unlock()
		return
	}
	e.state = to
	events := []models.ClockEvent{e.eventLocked(models.EventStateChanged)}
	batch := e.claimLocked()
	e.mu.Unlock()

	e.wake()
	e.emit(batch, events)
}

// SetTime sets the game clock, clamping minutes to [0,99] and seconds to [0,59], and zeroes
// the sub-second part. Out of range input is corrected, never rejected.
func (e *Engine) SetTime(minutes, seconds int) {
	e.mutate(func() {
		e.minutes = clamp(minutes, 0, MaxMinutes)
		e.seconds = clamp(seconds, 0, MaxSeconds)
		e.milliseconds = 0
	})
}

// SetShotClock sets the shot clock, clamped to [0,99].
func (e *Engine) SetShotClock(seconds int) {
	e.mutate(func() {
		e.shotClock = clamp(seconds, 0, MaxShotClock)
	})
}

// ResetShotClockTo14 sets the shot clock to 14.
func (e *Engine) ResetShotClockTo14() { e.SetShotClock(14) }

// ResetShotClockTo24 sets the shot clock to 24.
func (e *Engine) ResetShotClockTo24() { e.SetShotClock(24) }

// SetShotClockEnabled controls whether the shot clock counts down with the game clock.
func (e *Engine) SetShotClockEnabled(enabled bool) {
	e.mutate(func() {
		e.shotEnabled = enabled
	})
}

// ResetToDefaults returns to 10:00, 24s, stopped, shot clock enabled, whatever the current state.
func (e *Engine) ResetToDefaults() {
	e.mu.Lock()
	prev := e.state
	e.resetLocked()
	events := []models.ClockEvent{e.eventLocked(models.EventClockTick)}
	if prev != models.StateStopped {
		events = append(events, e.eventLocked(models.EventStateChanged))
	}
	batch := e.claimLocked()
	e.mu.Unlock()

	if prev == models.StateRunning {
		e.wake()
	}
	e.emit(batch, events)
}

// mutate applies fn under the lock, recomputes digits and publishes a tick snapshot.
func (e *Engine) mutate(fn func()) {
	e.mu.Lock()
	fn()
	e.updateDigitsLocked()
	events := []models.ClockEvent{e.eventLocked(models.EventClockTick)}
	batch := e.claimLocked()
	e.mu.Unlock()

	e.emit(batch, events)
}

func (e *Engine) resetLocked() {
	e.minutes = DefaultMinutes
	e.seconds = DefaultSeconds
	e.milliseconds = 0
	e.shotClock = DefaultShotClock
	e.state = models.StateStopped
	e.shotEnabled = true
	e.updateDigitsLocked()
}

// tick applies one 100ms decrement. It only mutates while Running; the returned events are
// empty otherwise.
func (e *Engine) tick() []models.ClockEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != models.StateRunning {
		return nil
	}
	return e.tickLocked()
}

func (e *Engine) tickLocked() []models.ClockEvent {
	expired := false

	e.milliseconds -= 100
	if e.milliseconds < 0 {
		e.milliseconds = 900
		e.seconds--

		if e.shotEnabled && e.shotClock > 0 {
			e.shotClock--
		}

		if e.seconds < 0 {
			e.seconds = 59
			e.minutes--

			if e.minutes < 0 {
				e.minutes = 0
				e.seconds = 0
				e.milliseconds = 0
				e.state = models.StateStopped
				expired = true
			}
		}
	}
	e.updateDigitsLocked()

	tick := e.eventLocked(models.EventClockTick)
	tick.Countdown = true
	events := []models.ClockEvent{tick}
	if expired {
		events = append(events,
			e.eventLocked(models.EventStateChanged),
			e.eventLocked(models.EventGameClockExpired),
		)
	}
	return events
}

func (e *Engine) updateDigitsLocked() {
	e.digits = models.Digits{
		Min1:   e.minutes / 10,
		Min2:   e.minutes % 10,
		Sec1:   e.seconds / 10,
		Sec2:   e.seconds % 10,
		Tenths: e.milliseconds / 100,
		Shot1:  e.shotClock / 10,
		Shot2:  e.shotClock % 10,
	}
}

func (e *Engine) snapshotLocked() models.ClockSnapshot {
	return models.ClockSnapshot{
		Minutes:          e.minutes,
		Seconds:          e.seconds,
		Milliseconds:     e.milliseconds,
		ShotClock:        e.shotClock,
		ShotClockEnabled: e.shotEnabled,
		State:            e.state,
		Digits:           e.digits,
	}
}

func (e *Engine) eventLocked(t models.ClockEventType) models.ClockEvent {
	return models.ClockEvent{
		Type:     t,
		Snapshot: e.snapshotLocked(),
		At:       e.clock.Now(),
	}
}

// claimLocked hands out the delivery ticket for the events just produced under mu.
func (e *Engine) claimLocked() uint64 {
	batch := e.nextBatch
	e.nextBatch++
	return batch
}

// emit delivers a batch once every earlier batch has been delivered, so a tick computed
// before an operator edit can never reach listeners after it.
func (e *Engine) emit(batch uint64, events []models.ClockEvent) {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()
	for e.emitted != batch {
		e.emitCond.Wait()
	}
	defer func() {
		e.emitted++
		e.emitCond.Broadcast()
	}()

	for _, ev := range events {
		switch ev.Type {
		case models.EventStateChanged:
			log.Info().
				Str("engine", e.instanceID).
				Str("state", string(ev.Snapshot.State)).
				Str("game_time", ev.Snapshot.GameTime()).
				Int("shot_clock", ev.Snapshot.ShotClock).
				Msg("clock state changed")
		case models.EventGameClockExpired:
			log.Info().Str("engine", e.instanceID).Msg("game clock expired")
		}
		e.listeners.Each(func(l Listener) { l(ev) })
	}
}

// wake nudges the Run loop to re-read the run state.
func (e *Engine) wake() {
	select {
	case e.wakeCh <- struct{}{}:
	default:
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
