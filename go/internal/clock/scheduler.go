package clock

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/scoreboard/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Run drives the tick schedule until ctx is cancelled. Tick n of a run is due at
// anchor + n*interval, where anchor is the moment Start was called, so a late wake-up never
// shifts later ticks. Overdue ticks are applied in order.
func (e *Engine) Run(ctx context.Context) error {
	log.Info().
		Str("engine", e.instanceID).
		Dur("tick_interval", e.interval).
		Msg("clock engine loop started")

	timer := e.clock.NewTimer(e.interval)
	stopAndDrainTimer(timer)

	var (
		armed  bool
		epoch  uint64 // run the local schedule belongs to; 0 means none yet
		anchor time.Time
		ticks  int64 // ticks applied since anchor
	)

	// adopt switches the local schedule to the engine's current run.
	adopt := func(cur uint64, start time.Time) {
		if armed {
			stopAndDrainTimer(timer)
			armed = false
		}
		epoch = cur
		anchor = start
		ticks = 0
	}

	reconcile := func() {
		running, cur, start := e.runState()
		if !running {
			if armed {
				stopAndDrainTimer(timer)
				armed = false
			}
			return
		}
		if cur != epoch {
			adopt(cur, start)
		}
		if !armed {
			next := anchor.Add(time.Duration(ticks+1) * e.interval)
			timer.Reset(next.Sub(e.clock.Now()))
			armed = true
		}
	}

	reconcile()
	for {
		select {
		case <-ctx.Done():
			stopAndDrainTimer(timer)
			log.Info().Str("engine", e.instanceID).Msg("clock engine loop shutting down")
			return nil

		case <-e.wakeCh:
			reconcile()

		case <-timer.Chan():
			armed = false
			if running, cur, start := e.runState(); running && cur != epoch {
				adopt(cur, start)
			}
			now := e.clock.Now()
			for {
				due := anchor.Add(time.Duration(ticks+1) * e.interval)
				if now.Before(due) {
					break
				}
				if !e.tickEpoch(epoch) {
					break
				}
				ticks++
			}
			reconcile()
		}
	}
}

// tickEpoch applies one tick if the engine is still running in the given epoch. A stop (or a
// stop and restart) that happened after the timer fired suppresses the tick entirely.
func (e *Engine) tickEpoch(epoch uint64) bool {
	e.mu.Lock()
	if e.state != models.StateRunning || e.epoch != epoch {
		e.mu.Unlock()
		return false
	}
	events := e.tickLocked()
	running := e.state == models.StateRunning
	batch := e.claimLocked()
	e.mu.Unlock()

	e.emit(batch, events)
	return running
}

func (e *Engine) runState() (running bool, epoch uint64, anchor time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == models.StateRunning, e.epoch, e.anchor
}

// stopAndDrainTimer stops a timer and drains its channel so a stale fire is not observed
// after a later Reset.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
