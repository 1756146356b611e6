package scoreboard_test

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mcdev12/scoreboard/go/internal/protocol"
	"github.com/mcdev12/scoreboard/go/internal/transport"
)

type fakeDispatcher struct {
	mu        sync.Mutex
	sent      []string
	horns     int
	resyncs   int
	names     map[string]string
	broadcast chan string
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{broadcast: make(chan string, 256)}
}

func (f *fakeDispatcher) Broadcast(cmds ...protocol.Command) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range cmds {
		f.record(string(rune(c)))
	}
	return true
}

func (f *fakeDispatcher) BroadcastSequence(cmds ...protocol.Command) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := "seq:" + string(protocol.Bytes(cmds...))
	f.record(s)
	return true
}

func (f *fakeDispatcher) record(s string) {
	f.sent = append(f.sent, s)
	select {
	case f.broadcast <- s:
	default:
	}
}

func (f *fakeDispatcher) PulseHorn() {
	f.mu.Lock()
	f.horns++
	f.mu.Unlock()
}

func (f *fakeDispatcher) ForceResync() bool {
	f.mu.Lock()
	f.resyncs++
	f.mu.Unlock()
	return true
}

func (f *fakeDispatcher) SetDeviceNames(names map[string]string) {
	f.mu.Lock()
	f.names = names
	f.mu.Unlock()
}

func (f *fakeDispatcher) history() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

// waitFor blocks until want is broadcast or the timeout expires.
func (f *fakeDispatcher) waitFor(want string, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		select {
		case got := <-f.broadcast:
			if got == want {
				return true
			}
		case <-deadline:
			return false
		}
	}
}

type fakeTransport struct {
	mu        sync.Mutex
	connected map[string]string
	refuse    map[string]bool
	observer  transport.Observer
	scanned   map[string]string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{connected: make(map[string]string), refuse: make(map[string]bool)}
}

func (f *fakeTransport) Connect(_ context.Context, address, name string) bool {
	f.mu.Lock()
	if f.refuse[address] {
		obs := f.observer
		f.mu.Unlock()
		if obs != nil {
			obs.OnConnectionError(address, transport.StatusGattError)
		}
		return false
	}
	_, exists := f.connected[address]
	f.connected[address] = name
	obs := f.observer
	f.mu.Unlock()
	if !exists && obs != nil {
		obs.OnConnected(address, name)
	}
	return true
}

func (f *fakeTransport) Disconnect(address string) {
	f.mu.Lock()
	_, ok := f.connected[address]
	delete(f.connected, address)
	obs := f.observer
	f.mu.Unlock()
	if ok && obs != nil {
		obs.OnDisconnected(address)
	}
}

func (f *fakeTransport) IsConnected(address string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.connected[address]
	return ok
}

func (f *fakeTransport) Scan(_ context.Context, wanted map[string]string) error {
	f.mu.Lock()
	f.scanned = wanted
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Subscribe(o transport.Observer) func() {
	f.mu.Lock()
	f.observer = o
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		f.observer = nil
		f.mu.Unlock()
	}
}

func (f *fakeTransport) names() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.connected))
	for k, v := range f.connected {
		out[k] = v
	}
	return out
}

type fakeAllowList struct {
	mu      sync.Mutex
	allowed []string
}

func (f *fakeAllowList) SetAllowed(addresses []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allowed = append([]string(nil), addresses...)
	sort.Strings(f.allowed)
}

type recordedEvent struct {
	eventType string
	payload   any
}

type fakeSink struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (f *fakeSink) Record(eventType string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, recordedEvent{eventType, payload})
}

func (f *fakeSink) ofType(eventType string) []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []any
	for _, e := range f.events {
		if e.eventType == eventType {
			out = append(out, e.payload)
		}
	}
	return out
}
