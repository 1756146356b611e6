package clock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/scoreboard/go/internal/models"
)

func newTestEngine(t *testing.T) (*Engine, *clockwork.FakeClock) {
	t.Helper()
	fc := clockwork.NewFakeClock()
	return NewEngine(DefaultConfig(), fc), fc
}

func TestNewEngineDefaults(t *testing.T) {
	e, _ := newTestEngine(t)
	s := e.Snapshot()

	if s.Minutes != 10 || s.Seconds != 0 || s.Milliseconds != 0 {
		t.Fatalf("game clock = %d:%02d.%d, want 10:00.0", s.Minutes, s.Seconds, s.Milliseconds)
	}
	if s.ShotClock != 24 {
		t.Fatalf("shot clock = %d, want 24", s.ShotClock)
	}
	if s.State != models.StateStopped {
		t.Fatalf("state = %s, want %s", s.State, models.StateStopped)
	}
	if !s.ShotClockEnabled {
		t.Fatal("shot clock should be enabled by default")
	}
	want := models.Digits{Min1: 1, Min2: 0, Sec1: 0, Sec2: 0, Tenths: 0, Shot1: 2, Shot2: 4}
	if s.Digits != want {
		t.Fatalf("digits = %+v, want %+v", s.Digits, want)
	}
}

func TestSetTimeDigitDecomposition(t *testing.T) {
	e, _ := newTestEngine(t)
	for m := 0; m <= 99; m++ {
		for sec := 0; sec <= 59; sec++ {
			e.SetTime(m, sec)
			d := e.Snapshot().Digits
			if d.Min1*10+d.Min2 != m || d.Sec1*10+d.Sec2 != sec {
				t.Fatalf("SetTime(%d, %d) gave digits %+v", m, sec, d)
			}
		}
	}
}

func TestSetTimeClamps(t *testing.T) {
	tests := []struct {
		name             string
		minutes, seconds int
		wantM, wantS     int
	}{
		{"in range", 12, 34, 12, 34},
		{"negative minutes, seconds too high", -5, 75, 0, 59},
		{"minutes too high, negative seconds", 150, -1, 99, 0},
		{"upper bounds", 99, 59, 99, 59},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newTestEngine(t)
			e.Start()
			e.tick() // leave a non-zero sub-second value behind
			e.SetTime(tt.minutes, tt.seconds)

			s := e.Snapshot()
			if s.Minutes != tt.wantM || s.Seconds != tt.wantS {
				t.Fatalf("got %d:%02d, want %d:%02d", s.Minutes, s.Seconds, tt.wantM, tt.wantS)
			}
			if s.Milliseconds != 0 || s.Digits.Tenths != 0 {
				t.Fatalf("milliseconds = %d, tenths = %d, want 0", s.Milliseconds, s.Digits.Tenths)
			}
		})
	}
}

func TestSetShotClockClamps(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{30, 30},
		{150, 99},
		{-3, 0},
		{0, 0},
		{99, 99},
	}
	for _, tt := range tests {
		e, _ := newTestEngine(t)
		e.SetShotClock(tt.in)
		s := e.Snapshot()
		if s.ShotClock != tt.want {
			t.Fatalf("SetShotClock(%d) = %d, want %d", tt.in, s.ShotClock, tt.want)
		}
		if s.Digits.Shot1*10+s.Digits.Shot2 != tt.want {
			t.Fatalf("SetShotClock(%d) digits = %d%d", tt.in, s.Digits.Shot1, s.Digits.Shot2)
		}
	}
}

func TestShotClockResets(t *testing.T) {
	e, _ := newTestEngine(t)
	e.ResetShotClockTo14()
	if got := e.Snapshot().ShotClock; got != 14 {
		t.Fatalf("ResetShotClockTo14: shot clock = %d", got)
	}
	e.ResetShotClockTo24()
	if got := e.Snapshot().ShotClock; got != 24 {
		t.Fatalf("ResetShotClockTo24: shot clock = %d", got)
	}
}

func TestTickDoesNothingUnlessRunning(t *testing.T) {
	e, _ := newTestEngine(t)
	e.SetTime(3, 7)
	before := e.Snapshot()

	if events := e.tick(); events != nil {
		t.Fatalf("tick while stopped returned %d events", len(events))
	}
	if after := e.Snapshot(); after != before {
		t.Fatalf("tick while stopped mutated state: %+v -> %+v", before, after)
	}

	e.Start()
	e.Pause()
	before = e.Snapshot()
	if events := e.tick(); events != nil {
		t.Fatalf("tick while paused returned %d events", len(events))
	}
	if after := e.Snapshot(); after != before {
		t.Fatalf("tick while paused mutated state: %+v -> %+v", before, after)
	}
}

func TestTickFromZeroExpiresOnce(t *testing.T) {
	e, _ := newTestEngine(t)
	e.SetTime(0, 0)
	e.Start()

	events := e.tick()
	var types []models.ClockEventType
	for _, ev := range events {
		types = append(types, ev.Type)
	}
	want := []models.ClockEventType{models.EventClockTick, models.EventStateChanged, models.EventGameClockExpired}
	if len(types) != len(want) {
		t.Fatalf("events = %v, want %v", types, want)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("events = %v, want %v", types, want)
		}
	}

	s := e.Snapshot()
	if s.State != models.StateStopped {
		t.Fatalf("state = %s, want STOPPED", s.State)
	}
	if s.Minutes != 0 || s.Seconds != 0 || s.Milliseconds != 0 {
		t.Fatalf("clock = %d:%02d.%d, want 0:00.0", s.Minutes, s.Seconds, s.Milliseconds)
	}
	if s.Digits.Min1 != 0 || s.Digits.Min2 != 0 || s.Digits.Sec1 != 0 || s.Digits.Sec2 != 0 || s.Digits.Tenths != 0 {
		t.Fatalf("digits = %+v, want all game digits zero", s.Digits)
	}

	if events := e.tick(); events != nil {
		t.Fatalf("second tick after expiry returned %d events", len(events))
	}
}

func TestShotClockDecrementsOnSecondRollover(t *testing.T) {
	e, _ := newTestEngine(t)
	e.SetShotClock(5)
	e.Start()

	// 10:00.0 -> 9:59.9 crosses a whole second on the very first tick
	e.tick()
	if got := e.Snapshot().ShotClock; got != 4 {
		t.Fatalf("after first tick shot clock = %d, want 4", got)
	}
	for i := 0; i < 9; i++ {
		e.tick()
		if got := e.Snapshot().ShotClock; got != 4 {
			t.Fatalf("mid-second tick %d changed shot clock to %d", i+2, got)
		}
	}
	e.tick()
	if got := e.Snapshot().ShotClock; got != 3 {
		t.Fatalf("after 11 ticks shot clock = %d, want 3", got)
	}
}

func TestShotClockClampsAtZero(t *testing.T) {
	e, _ := newTestEngine(t)
	e.SetShotClock(1)
	e.Start()
	for i := 0; i < 50; i++ {
		e.tick()
		if got := e.Snapshot().ShotClock; got < 0 {
			t.Fatalf("shot clock went negative: %d", got)
		}
	}
	s := e.Snapshot()
	if s.ShotClock != 0 {
		t.Fatalf("shot clock = %d, want 0", s.ShotClock)
	}
	if s.State != models.StateRunning {
		t.Fatalf("shot clock expiry changed game state to %s", s.State)
	}
}

func TestShotClockDisabledHolds(t *testing.T) {
	e, _ := newTestEngine(t)
	e.SetShotClockEnabled(false)
	e.Start()
	for i := 0; i < 25; i++ {
		e.tick()
	}
	if got := e.Snapshot().ShotClock; got != 24 {
		t.Fatalf("disabled shot clock = %d, want 24", got)
	}
}

func TestStateTransitions(t *testing.T) {
	e, _ := newTestEngine(t)
	var states []models.RunState
	e.Subscribe(func(ev models.ClockEvent) {
		if ev.Type == models.EventStateChanged {
			states = append(states, ev.Snapshot.State)
		}
	})

	e.Stop()  // stopped: no-op
	e.Pause() // stopped: no-op
	e.Start()
	e.Start() // idempotent
	e.Pause()
	e.Start()
	e.Stop()

	want := []models.RunState{models.StateRunning, models.StatePaused, models.StateRunning, models.StateStopped}
	if len(states) != len(want) {
		t.Fatalf("state changes = %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("state changes = %v, want %v", states, want)
		}
	}
}

func TestResetToDefaults(t *testing.T) {
	e, _ := newTestEngine(t)
	e.SetTime(2, 30)
	e.SetShotClock(7)
	e.SetShotClockEnabled(false)
	e.Start()
	e.tick()

	e.ResetToDefaults()
	s := e.Snapshot()
	if s.Minutes != 10 || s.Seconds != 0 || s.Milliseconds != 0 || s.ShotClock != 24 {
		t.Fatalf("after reset got %d:%02d.%d shot %d", s.Minutes, s.Seconds, s.Milliseconds, s.ShotClock)
	}
	if s.State != models.StateStopped || !s.ShotClockEnabled {
		t.Fatalf("after reset state=%s enabled=%v", s.State, s.ShotClockEnabled)
	}
}

func TestCountdownMarksOnlyTicks(t *testing.T) {
	e, _ := newTestEngine(t)
	var got []bool
	e.Subscribe(func(ev models.ClockEvent) {
		if ev.Type == models.EventClockTick {
			got = append(got, ev.Countdown)
		}
	})

	e.SetShotClock(5)
	e.Start()
	_, epoch, _ := e.runState()
	e.tickEpoch(epoch)
	e.ResetToDefaults()

	want := []bool{false, true, false}
	if len(got) != len(want) {
		t.Fatalf("countdown flags = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("countdown flags = %v, want %v", got, want)
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	e, _ := newTestEngine(t)
	count := 0
	unsub := e.Subscribe(func(models.ClockEvent) { count++ })
	e.SetTime(1, 0)
	unsub()
	e.SetTime(2, 0)
	if count != 1 {
		t.Fatalf("listener called %d times, want 1", count)
	}
}

// runEngine starts the Run loop and returns a context bound to the test.
func runEngine(t *testing.T, e *Engine) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return ctx
}

// advanceTicks waits for the loop to arm its timer before every step, so each Advance fires
// exactly one tick.
func advanceTicks(t *testing.T, ctx context.Context, fc *clockwork.FakeClock, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := fc.BlockUntilContext(ctx, 1); err != nil {
			t.Fatalf("waiting for timer before tick %d: %v", i+1, err)
		}
		fc.Advance(DefaultTickInterval)
	}
}

func TestRunHundredTicks(t *testing.T) {
	e, fc := newTestEngine(t)
	ctx := runEngine(t, e)

	e.Start()
	advanceTicks(t, ctx, fc, 100)
	// the loop re-arms only after the tick has been applied
	if err := fc.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("waiting for re-arm: %v", err)
	}

	s := e.Snapshot()
	if s.Minutes != 9 || s.Seconds != 50 {
		t.Fatalf("game clock = %d:%02d, want 9:50", s.Minutes, s.Seconds)
	}
	if s.ShotClock != 14 {
		t.Fatalf("shot clock = %d, want 14", s.ShotClock)
	}
	if s.State != models.StateRunning {
		t.Fatalf("state = %s, want RUNNING", s.State)
	}
}

func TestRunExpiryRaisesEventOnce(t *testing.T) {
	e, fc := newTestEngine(t)
	events := make(chan models.ClockEvent, 64)
	e.Subscribe(func(ev models.ClockEvent) { events <- ev })
	ctx := runEngine(t, e)

	e.SetTime(0, 0)
	e.Start()
	advanceTicks(t, ctx, fc, 1)

	timeout := time.After(5 * time.Second)
	expired := 0
	for expired == 0 {
		select {
		case ev := <-events:
			if ev.Type == models.EventGameClockExpired {
				expired++
			}
		case <-timeout:
			t.Fatal("game clock expired event not raised")
		}
	}

	// nothing left running: further time passes without ticks or events
	fc.Advance(time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Type == models.EventGameClockExpired {
				t.Fatal("game clock expired raised twice")
			}
		default:
			if s := e.Snapshot(); s.State != models.StateStopped {
				t.Fatalf("state = %s, want STOPPED", s.State)
			}
			return
		}
	}
}

func TestStopTakesEffectBeforeNextTick(t *testing.T) {
	e, fc := newTestEngine(t)
	ctx := runEngine(t, e)

	e.Start()
	advanceTicks(t, ctx, fc, 5)
	if err := fc.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("waiting for re-arm: %v", err)
	}
	e.Stop()
	before := e.Snapshot()

	fc.Advance(time.Second)
	if after := e.Snapshot(); after != before {
		t.Fatalf("tick applied after Stop: %+v -> %+v", before, after)
	}
}

func TestPauseAndResumeKeepsTime(t *testing.T) {
	e, fc := newTestEngine(t)
	ctx := runEngine(t, e)

	e.Start()
	advanceTicks(t, ctx, fc, 3)
	if err := fc.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("waiting for re-arm: %v", err)
	}
	e.Pause()
	paused := e.Snapshot()
	if paused.State != models.StatePaused {
		t.Fatalf("state = %s, want PAUSED", paused.State)
	}

	e.Start()
	advanceTicks(t, ctx, fc, 2)
	if err := fc.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("waiting for re-arm: %v", err)
	}
	s := e.Snapshot()
	// 10:00.0 minus five tenths
	if s.Minutes != 9 || s.Seconds != 59 || s.Milliseconds != 500 {
		t.Fatalf("clock = %d:%02d.%d, want 9:59.5", s.Minutes, s.Seconds, s.Milliseconds)
	}
}

// waitFor polls cond until it holds or a second has passed.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestEventsKeepMutationOrderWhenListenerIsSlow(t *testing.T) {
	e, _ := newTestEngine(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	var (
		mu  sync.Mutex
		got []models.ClockEvent
	)
	e.Subscribe(func(ev models.ClockEvent) {
		if ev.Countdown && len(got) == 1 {
			close(entered)
			<-release
		}
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
	})

	e.Start()
	_, epoch, _ := e.runState()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		e.tickEpoch(epoch)
	}()
	<-entered

	// Both edits are applied while the tick is still being delivered.
	go func() {
		defer wg.Done()
		e.SetTime(5, 0)
	}()
	waitFor(t, "set time", func() bool { return e.Snapshot().Minutes == 5 })
	go func() {
		defer wg.Done()
		e.Stop()
	}()
	waitFor(t, "stop", func() bool { return e.Snapshot().State == models.StateStopped })

	close(release)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 4 {
		t.Fatalf("events = %d, want 4 (start, tick, set time, stop)", len(got))
	}
	tick := got[1].Snapshot
	if !got[1].Countdown || tick.Minutes != 9 || tick.Seconds != 59 {
		t.Fatalf("second event = %+v, want the 9:59 countdown tick", got[1])
	}
	if got[2].Type != models.EventClockTick || got[2].Snapshot.Minutes != 5 {
		t.Fatalf("third event = %+v, want the 5:00 edit", got[2])
	}
	last := got[3]
	if last.Type != models.EventStateChanged || last.Snapshot.State != models.StateStopped ||
		last.Snapshot.Minutes != 5 || last.Snapshot.Seconds != 0 {
		t.Fatalf("last event = %s %s %s, want state change to 05:00 STOPPED",
			last.Type, last.Snapshot.GameTime(), last.Snapshot.State)
	}
}
