package scoreboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mcdev12/scoreboard/go/internal/clock"
	"github.com/mcdev12/scoreboard/go/internal/devices"
	"github.com/mcdev12/scoreboard/go/internal/events"
	"github.com/mcdev12/scoreboard/go/internal/models"
	"github.com/mcdev12/scoreboard/go/internal/protocol"
	"github.com/mcdev12/scoreboard/go/internal/pubsub"
	"github.com/mcdev12/scoreboard/go/internal/transport"
	"github.com/rs/zerolog/log"
)

var ErrUnknownCommand = errors.New("unknown command")

// ClockEngine defines what the app layer needs from the clock engine
type ClockEngine interface {
	Start()
	Stop()
	Pause()
	SetTime(minutes, seconds int)
	SetShotClock(seconds int)
	ResetShotClockTo14()
	ResetShotClockTo24()
	SetShotClockEnabled(enabled bool)
	ResetToDefaults()
	Snapshot() models.ClockSnapshot
	Subscribe(l clock.Listener) (unsubscribe func())
}

// DeviceTransport defines what the app layer needs from the session registry
type DeviceTransport interface {
	Connect(ctx context.Context, address, name string) bool
	Disconnect(address string)
	IsConnected(address string) bool
	Scan(ctx context.Context, wanted map[string]string) error
	Subscribe(o transport.Observer) (unsubscribe func())
}

// Dispatcher defines what the app layer needs from the display dispatcher
type Dispatcher interface {
	Broadcast(cmds ...protocol.Command) bool
	BroadcastSequence(cmds ...protocol.Command) bool
	PulseHorn()
	ForceResync() bool
	SetDeviceNames(names map[string]string)
}

// AllowList receives the registered addresses whenever the device slots change.
type AllowList interface {
	SetAllowed(addresses []string)
}

// EventSink journals domain events. Record must not block.
type EventSink interface {
	Record(eventType string, payload any)
}

// TimeRequest is a validated set-time form. Reset means both fields were left empty.
type TimeRequest struct {
	Reset   bool
	Minutes int
	Seconds int
}

// App handles the operator controls. Every operation updates the engine first and then
// broadcasts the matching command byte.
type App struct {
	engine     ClockEngine
	transport  DeviceTransport
	dispatcher Dispatcher
	store      devices.Store
	allow      AllowList
	sink       EventSink

	mu       sync.RWMutex
	slots    []models.DeviceSlot
	lastShot int

	listeners pubsub.Hub[clock.Listener]
	unsubs    []func()
	now       func() time.Time
}

// NewApp creates a new scoreboard App and subscribes it to the engine and the transport.
// allow and sink may be nil.
func NewApp(engine ClockEngine, t DeviceTransport, d Dispatcher, store devices.Store, allow AllowList, sink EventSink) *App {
	if sink == nil {
		sink = NopSink{}
	}
	a := &App{
		engine:     engine,
		transport:  t,
		dispatcher: d,
		store:      store,
		allow:      allow,
		sink:       sink,
		lastShot:   engine.Snapshot().ShotClock,
		now:        time.Now,
	}
	a.unsubs = append(a.unsubs,
		engine.Subscribe(a.onClockEvent),
		t.Subscribe(transport.ObserverFuncs{
			Connected:       a.onConnected,
			Disconnected:    a.onDisconnected,
			ConnectionError: a.onConnectionError,
		}),
	)
	return a
}

// Close detaches the App from the engine and the transport.
func (a *App) Close() {
	for _, u := range a.unsubs {
		u()
	}
	a.unsubs = nil
}

// Subscribe registers l for every engine event plus ShotClockExpired.
func (a *App) Subscribe(l clock.Listener) (unsubscribe func()) {
	return a.listeners.Subscribe(l)
}

// Snapshot returns the current clock state.
func (a *App) Snapshot() models.ClockSnapshot {
	return a.engine.Snapshot()
}

// StartClock starts the game clock and forces a resync of every display.
func (a *App) StartClock() {
	a.engine.Start()
	a.broadcast("start", protocol.StartClock)
	a.dispatcher.ForceResync()
}

// StopClock stops the game clock.
func (a *App) StopClock() {
	a.engine.Stop()
	a.broadcast("stop", protocol.StopClock)
}

// PauseClock pauses the game clock. The display has no pause byte; frames carry the state.
func (a *App) PauseClock() {
	a.engine.Pause()
	a.record("pause", nil, true, "")
}

// SetTime applies a set-time form: an empty form resets to defaults, otherwise the digits are
// pushed as a selector/digit sequence.
func (a *App) SetTime(req TimeRequest) {
	if req.Reset {
		a.engine.ResetToDefaults()
		a.broadcast("reset", protocol.ResetClock)
		return
	}
	a.engine.SetTime(req.Minutes, req.Seconds)
	snap := a.engine.Snapshot()
	seq := protocol.TimeUpdate(snap.Minutes, snap.Seconds)
	ok := a.dispatcher.BroadcastSequence(seq...)
	a.record("set_time", seq, ok, snap.GameTime())
}

// ShotClock14 resets the shot clock to 14 seconds.
func (a *App) ShotClock14() {
	a.engine.ResetShotClockTo14()
	a.broadcast("shot_clock_14", protocol.ShotClock14)
}

// ShotClock24 resets the shot clock to 24 seconds.
func (a *App) ShotClock24() {
	a.engine.ResetShotClockTo24()
	a.broadcast("shot_clock_24", protocol.ShotClock24)
}

// SetShotClock sets an arbitrary shot clock value. 14 and 24 have dedicated bytes; other
// values reach the display through frames only.
func (a *App) SetShotClock(seconds int) {
	switch seconds {
	case 14:
		a.ShotClock14()
	case 24:
		a.ShotClock24()
	default:
		a.engine.SetShotClock(seconds)
		a.record("set_shot_clock", nil, true, fmt.Sprintf("%d", a.engine.Snapshot().ShotClock))
	}
}

// ShotClockStart lets the shot clock count down with the game clock.
func (a *App) ShotClockStart() {
	a.engine.SetShotClockEnabled(true)
	a.broadcast("shot_clock_start", protocol.StartShotClock)
}

// ShotClockStop freezes the shot clock while the game clock keeps running.
func (a *App) ShotClockStop() {
	a.engine.SetShotClockEnabled(false)
	a.broadcast("shot_clock_stop", protocol.StopShotClock)
}

// ShotClockReset resets the shot clock to 24 seconds.
func (a *App) ShotClockReset() {
	a.engine.ResetShotClockTo24()
	a.broadcast("shot_clock_reset", protocol.ResetShotClock)
}

// NewGame resets everything to the defaults and tells the displays to start a new game.
func (a *App) NewGame() {
	a.engine.ResetToDefaults()
	a.broadcast("new_game", protocol.NewGame)
	a.dispatcher.ForceResync()
}

// SendCommand passes a named wire command straight through to every display. Team score,
// foul, timeout and possession arrow commands have no clock state and only exist on the wire.
func (a *App) SendCommand(name string) error {
	cmd, ok := protocol.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
	a.broadcast(name, cmd)
	return nil
}

// Horn sounds the horn through the next frame.
func (a *App) Horn() {
	a.dispatcher.PulseHorn()
	a.record("horn", nil, true, "")
}

// ForceResync pushes the full state to every display. It returns false when a resync is
// already in flight.
func (a *App) ForceResync() bool {
	ok := a.dispatcher.ForceResync()
	a.record("force_resync", nil, ok, "")
	return ok
}

func (a *App) broadcast(operation string, cmd protocol.Command) {
	ok := a.dispatcher.Broadcast(cmd)
	a.record(operation, []protocol.Command{cmd}, ok, "")
}

func (a *App) record(operation string, cmds []protocol.Command, delivered bool, detail string) {
	a.sink.Record(events.TypeOperatorCommand, events.OperatorCommandPayload{
		Operation: operation,
		Bytes:     string(protocol.Bytes(cmds...)),
		Detail:    detail,
		Delivered: delivered,
		IssuedAt:  a.now().UTC(),
	})
}

// onClockEvent runs on the engine goroutine and must not block.
func (a *App) onClockEvent(ev models.ClockEvent) {
	snap := ev.Snapshot

	a.mu.Lock()
	prevShot := a.lastShot
	a.lastShot = snap.ShotClock
	a.mu.Unlock()

	a.listeners.Each(func(l clock.Listener) { l(ev) })

	switch ev.Type {
	case models.EventClockTick:
		// Operator edits to 0 are not an expiry.
		if ev.Countdown && prevShot > 0 && snap.ShotClock == 0 && snap.ShotClockEnabled {
			a.shotClockExpired(ev)
		}
	case models.EventStateChanged:
		a.sink.Record(events.TypeClockStateChanged, events.ClockStateChangedPayload{
			State:     snap.State,
			GameTime:  snap.GameTime(),
			ShotClock: snap.ShotClock,
			Snapshot:  snap,
			ChangedAt: ev.At.UTC(),
		})
	case models.EventGameClockExpired:
		a.dispatcher.Broadcast(protocol.GameBuzzer)
		a.sink.Record(events.TypeGameClockExpired, expiredPayload(ev))
	}
}

func (a *App) shotClockExpired(tick models.ClockEvent) {
	ev := models.ClockEvent{
		Type:     models.EventShotClockExpired,
		Snapshot: tick.Snapshot,
		At:       tick.At,
	}
	log.Info().Str("game_time", ev.Snapshot.GameTime()).Msg("shot clock expired")
	a.dispatcher.Broadcast(protocol.ShotClockBuzzer)
	a.sink.Record(events.TypeShotClockExpired, expiredPayload(ev))
	a.listeners.Each(func(l clock.Listener) { l(ev) })
}

func expiredPayload(ev models.ClockEvent) events.ClockExpiredPayload {
	return events.ClockExpiredPayload{
		GameTime:  ev.Snapshot.GameTime(),
		ShotClock: ev.Snapshot.ShotClock,
		ExpiredAt: ev.At.UTC(),
	}
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) Record(string, any) {}
