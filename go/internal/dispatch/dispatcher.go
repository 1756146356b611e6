// Package dispatch pushes clock state to the connected displays. It turns engine snapshots
// into bulk digit frames, deduplicates and rate-limits them per device, and runs the bounded
// resync bursts used at game start and after a reconnect.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/scoreboard/go/internal/models"
	"github.com/mcdev12/scoreboard/go/internal/protocol"
	"github.com/mcdev12/scoreboard/go/internal/pubsub"
	"github.com/rs/zerolog/log"
)

// Transport is the part of the session registry the dispatcher writes through.
type Transport interface {
	ConnectedAddresses() []string
	Write(address string, p []byte) bool
	SendSequence(address string, bs ...byte) bool
}

// Source provides the current clock state for resyncs.
type Source interface {
	Snapshot() models.ClockSnapshot
}

// StatusListener receives operator-facing status lines.
type StatusListener func(address, message string)

// Config holds dispatcher timing.
type Config struct {
	MinInterval    time.Duration
	ResyncAttempts int
	ResyncDelay    time.Duration
	StatusInterval time.Duration
	QueueSize      int
}

// DefaultConfig returns the timing the displays are known to cope with.
func DefaultConfig() Config {
	return Config{
		MinInterval:    200 * time.Millisecond,
		ResyncAttempts: 3,
		ResyncDelay:    70 * time.Millisecond,
		StatusInterval: time.Second,
		QueueSize:      64,
	}
}

// deviceCache throttles and deduplicates; it is never authoritative.
type deviceCache struct {
	lastFrame  string
	lastSend   time.Time
	lastStatus time.Time
}

type broadcast struct {
	cmds     []protocol.Command
	sequence bool
}

// Dispatcher owns all display writes. Frames and broadcasts are serialized by sendMu so a
// selector/digit sequence never interleaves with a frame.
type Dispatcher struct {
	transport Transport
	source    Source
	clock     clockwork.Clock
	config    Config

	mu        sync.Mutex
	latest    models.ClockSnapshot
	hasLatest bool
	hornOwed  map[string]bool // displays that have not yet been sent the pending horn frame
	caches    map[string]*deviceCache
	names     map[string]string
	ctx       context.Context

	sendMu    sync.Mutex
	wakeCh    chan struct{}
	ops       chan broadcast
	resyncing atomic.Bool
	status    pubsub.Hub[StatusListener]
}

// New creates a dispatcher. A nil clock means the real clock.
func New(config Config, t Transport, source Source, clock clockwork.Clock) *Dispatcher {
	defaults := DefaultConfig()
	if config.MinInterval < 0 {
		config.MinInterval = defaults.MinInterval
	}
	if config.ResyncAttempts <= 0 {
		config.ResyncAttempts = defaults.ResyncAttempts
	}
	if config.ResyncDelay < 0 {
		config.ResyncDelay = defaults.ResyncDelay
	}
	if config.QueueSize <= 0 {
		config.QueueSize = defaults.QueueSize
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Dispatcher{
		transport: t,
		source:    source,
		clock:     clock,
		config:    config,
		hornOwed:  make(map[string]bool),
		caches:    make(map[string]*deviceCache),
		names:     make(map[string]string),
		ctx:       context.Background(),
		wakeCh:    make(chan struct{}, 1),
		ops:       make(chan broadcast, config.QueueSize),
	}
}

// SubscribeStatus registers a status listener.
func (d *Dispatcher) SubscribeStatus(l StatusListener) (unsubscribe func()) {
	return d.status.Subscribe(l)
}

// SetDeviceNames sets the labels used in status lines.
func (d *Dispatcher) SetDeviceNames(names map[string]string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.names = make(map[string]string, len(names))
	for a, n := range names {
		d.names[a] = n
	}
}

// OnClockEvent is the engine listener. It only records the snapshot and wakes the worker, so
// it never blocks the engine.
func (d *Dispatcher) OnClockEvent(ev models.ClockEvent) {
	d.mu.Lock()
	d.latest = ev.Snapshot
	d.hasLatest = true
	d.mu.Unlock()
	d.wake()
}

// PulseHorn includes the horn flag in the next frame sent to each connected display. Each
// display's flag clears after one send attempt to it.
func (d *Dispatcher) PulseHorn() {
	addresses := d.transport.ConnectedAddresses()

	d.mu.Lock()
	for _, a := range addresses {
		d.hornOwed[a] = true
	}
	if !d.hasLatest && d.source != nil {
		d.latest = d.source.Snapshot()
		d.hasLatest = true
	}
	d.mu.Unlock()
	d.wake()
}

// Broadcast queues single-byte commands for every connected display, sent in order after any
// frame already in flight. It returns false when the queue is full.
func (d *Dispatcher) Broadcast(cmds ...protocol.Command) bool {
	return d.enqueue(broadcast{cmds: cmds})
}

// BroadcastSequence queues a multi-byte sequence such as a position/digit time update.
func (d *Dispatcher) BroadcastSequence(cmds ...protocol.Command) bool {
	return d.enqueue(broadcast{cmds: cmds, sequence: true})
}

func (d *Dispatcher) enqueue(b broadcast) bool {
	if len(b.cmds) == 0 {
		return true
	}
	select {
	case d.ops <- b:
		return true
	default:
		log.Warn().Int("commands", len(b.cmds)).Msg("dispatch queue full, dropping broadcast")
		return false
	}
}

func (d *Dispatcher) wake() {
	select {
	case d.wakeCh <- struct{}{}:
	default:
	}
}

// Run is the dispatcher worker. It returns when ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	d.ctx = ctx
	d.mu.Unlock()

	timer := d.clock.NewTimer(time.Hour)
	stopAndDrainTimer(timer)
	armed := false

	log.Info().Dur("min_interval", d.config.MinInterval).Msg("dispatcher started")
	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info().Msg("dispatcher stopped")
			return nil
		case b := <-d.ops:
			d.runBroadcast(b)
		case <-d.wakeCh:
		case <-timer.Chan():
			armed = false
		}

		if wait := d.Flush(); wait > 0 && !armed {
			timer.Reset(wait)
			armed = true
		}
	}
}

// Flush sends the latest recorded snapshot. It returns how long until a rate-limited device
// may be written again, or zero when nothing is pending.
func (d *Dispatcher) Flush() time.Duration {
	d.mu.Lock()
	snap, ok := d.latest, d.hasLatest
	d.mu.Unlock()
	if !ok {
		return 0
	}
	_, wait := d.sendFrame(snap, false, "")
	return wait
}

// Dispatch records snap and sends it right away, subject to dedup and the rate limit.
func (d *Dispatcher) Dispatch(snap models.ClockSnapshot) time.Duration {
	d.mu.Lock()
	d.latest = snap
	d.hasLatest = true
	d.mu.Unlock()
	_, wait := d.sendFrame(snap, false, "")
	return wait
}

// sendFrame writes the frame for snap to every connected device, or only to the given
// address. Unless forced, a device is skipped when its last frame is identical or was sent
// less than MinInterval ago.
func (d *Dispatcher) sendFrame(snap models.ClockSnapshot, force bool, only string) (sent int, wait time.Duration) {
	d.sendMu.Lock()
	defer d.sendMu.Unlock()

	addresses := d.transport.ConnectedAddresses()

	type target struct {
		address string
		payload string
		horn    bool
	}

	d.mu.Lock()
	now := d.clock.Now()
	var targets []target
	for _, a := range addresses {
		if only != "" && a != only {
			continue
		}
		horn := d.hornOwed[a]
		payload := frameFor(snap.Digits, horn).String()
		c := d.cacheLocked(a)
		if !force {
			if c.lastFrame == payload {
				continue
			}
			if since := now.Sub(c.lastSend); !c.lastSend.IsZero() && since < d.config.MinInterval {
				if rem := d.config.MinInterval - since; rem > wait {
					wait = rem
				}
				continue
			}
		}
		targets = append(targets, target{address: a, payload: payload, horn: horn})
	}
	d.mu.Unlock()

	for _, t := range targets {
		ok := d.writeFrame(t.address, t.payload)

		d.mu.Lock()
		if t.horn {
			delete(d.hornOwed, t.address)
		}
		if ok {
			c := d.cacheLocked(t.address)
			c.lastFrame = t.payload
			c.lastSend = now
		}
		d.mu.Unlock()

		if !ok {
			d.report(t.address, "write failed", false)
			continue
		}
		sent++
		log.Debug().Str("address", t.address).Str("frame", t.payload).Bool("forced", force).Msg("frame sent")
		d.report(t.address, fmt.Sprintf("%s / %02d", snap.GameTime(), snap.ShotClock), false)
	}
	return sent, wait
}

// writeFrame sends the payload and the trailing refresh strobe. A panic in the transport is
// turned into a status line.
func (d *Dispatcher) writeFrame(address, payload string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("address", address).Msg("recovered from fault during frame send")
			d.report(address, fmt.Sprintf("sync recovered from fault: %v", r), true)
			ok = false
		}
	}()
	if !d.transport.Write(address, []byte(payload)) {
		return false
	}
	// some displays only redraw after a following command
	if !d.transport.Write(address, []byte{protocol.Null.Byte()}) {
		log.Debug().Str("address", address).Msg("refresh strobe write failed")
	}
	return true
}

func (d *Dispatcher) runBroadcast(b broadcast) {
	d.sendMu.Lock()
	defer d.sendMu.Unlock()

	bs := protocol.Bytes(b.cmds...)
	for _, a := range d.transport.ConnectedAddresses() {
		ok := d.sendCommands(a, b, bs)
		if !ok {
			d.report(a, "write failed", false)
			continue
		}
		desc := "command sequence"
		if len(b.cmds) == 1 {
			desc = b.cmds[0].String()
		}
		d.report(a, "sent "+desc, false)
	}
}

func (d *Dispatcher) sendCommands(address string, b broadcast, bs []byte) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("address", address).Msg("recovered from fault during command send")
			d.report(address, fmt.Sprintf("sync recovered from fault: %v", r), true)
			ok = false
		}
	}()
	if b.sequence {
		return d.transport.SendSequence(address, bs...)
	}
	ok = true
	for _, c := range bs {
		if !d.transport.Write(address, []byte{c}) {
			ok = false
		}
	}
	return ok
}

// ForceResync clears every cache and starts a resync burst on a worker goroutine. It returns
// false when a burst is already running.
func (d *Dispatcher) ForceResync() bool {
	return d.startResync("")
}

// ResyncDevice runs a resync burst for one device.
func (d *Dispatcher) ResyncDevice(address string) bool {
	return d.startResync(address)
}

func (d *Dispatcher) startResync(only string) bool {
	if only == "" && !d.resyncing.CompareAndSwap(false, true) {
		log.Debug().Msg("resync already running")
		return false
	}
	d.mu.Lock()
	ctx := d.ctx
	d.mu.Unlock()
	go func() {
		if only == "" {
			defer d.resyncing.Store(false)
		}
		d.Resync(ctx, only)
	}()
	return true
}

// Resync clears the dedup and rate-limit state and then sends the current frame up to
// ResyncAttempts times, ResyncDelay apart. The link has no acknowledgement, so every attempt
// is made. It blocks and returns the number of attempts that reached at least one device.
func (d *Dispatcher) Resync(ctx context.Context, only string) int {
	d.clearCaches(only)
	delivered := 0
	for attempt := 1; attempt <= d.config.ResyncAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return delivered
			case <-d.clock.After(d.config.ResyncDelay):
			}
		}
		snap := d.snapshot()
		if sent, _ := d.sendFrame(snap, true, only); sent > 0 {
			delivered++
		}
	}
	log.Info().Str("address", only).Int("delivered", delivered).Int("attempts", d.config.ResyncAttempts).Msg("resync finished")
	return delivered
}

func (d *Dispatcher) snapshot() models.ClockSnapshot {
	if d.source != nil {
		return d.source.Snapshot()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.latest
}

func (d *Dispatcher) clearCaches(only string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for a, c := range d.caches {
		if only == "" || a == only {
			c.lastFrame = ""
			c.lastSend = time.Time{}
		}
	}
}

// OnConnected resyncs a display as soon as its session opens.
func (d *Dispatcher) OnConnected(address, name string) {
	d.mu.Lock()
	if _, ok := d.names[address]; !ok && name != "" {
		d.names[address] = name
	}
	d.mu.Unlock()
	d.ResyncDevice(address)
}

// OnDisconnected forgets the device cache and any horn still owed to it.
func (d *Dispatcher) OnDisconnected(address string) {
	d.mu.Lock()
	delete(d.caches, address)
	delete(d.hornOwed, address)
	d.mu.Unlock()
}

func (d *Dispatcher) OnConnectionError(string, int) {}

func (d *Dispatcher) OnScanComplete() {}

func (d *Dispatcher) cacheLocked(address string) *deviceCache {
	c, ok := d.caches[address]
	if !ok {
		c = &deviceCache{}
		d.caches[address] = c
	}
	return c
}

// report sends a status line, at most one per device per StatusInterval unless urgent.
func (d *Dispatcher) report(address, message string, urgent bool) {
	d.mu.Lock()
	now := d.clock.Now()
	c := d.cacheLocked(address)
	if !urgent && !c.lastStatus.IsZero() && now.Sub(c.lastStatus) < d.config.StatusInterval {
		d.mu.Unlock()
		return
	}
	c.lastStatus = now
	label := d.names[address]
	d.mu.Unlock()

	if label == "" {
		label = address
	}
	line := label + ": " + message
	d.status.Each(func(l StatusListener) { l(address, line) })
}

// frameFor builds the bulk frame, clamping every digit even though the engine keeps them in
// range.
func frameFor(digits models.Digits, horn bool) protocol.BulkFrame {
	return protocol.BulkFrame{
		Min1:   digits.Min1,
		Min2:   digits.Min2,
		Sec1:   digits.Sec1,
		Sec2:   digits.Sec2,
		Tenths: digits.Tenths,
		Shot1:  digits.Shot1,
		Shot2:  digits.Shot2,
		Horn:   horn,
	}.Clamped()
}

func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
