package transport

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/scoreboard/go/internal/pubsub"
	"github.com/rs/zerolog/log"
)

// SessionInfo describes an open session.
type SessionInfo struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

// Manager is the registry of open sessions keyed by device address.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*session
	closed   bool

	connector Connector
	gate      Gate
	clock     clockwork.Clock
	config    Config

	observers pubsub.Hub[Observer]
	scanning  atomic.Bool
}

// NewManager creates a session registry. A nil gate allows everything; a nil clock means the
// real clock.
func NewManager(config Config, connector Connector, gate Gate, clock clockwork.Clock) *Manager {
	if gate == nil {
		gate = AllowAll{}
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	defaults := DefaultConfig()
	if config.DialTimeout <= 0 {
		config.DialTimeout = defaults.DialTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.ScanTimeout <= 0 {
		config.ScanTimeout = defaults.ScanTimeout
	}
	return &Manager{
		sessions:  make(map[string]*session),
		connector: connector,
		gate:      gate,
		clock:     clock,
		config:    config,
	}
}

// Subscribe registers an observer. The returned function removes it and may be called from
// inside a callback.
func (m *Manager) Subscribe(o Observer) (unsubscribe func()) {
	return m.observers.Subscribe(o)
}

// Connect opens a session to address. It returns true when a session exists afterwards,
// including when one was already open.
func (m *Manager) Connect(ctx context.Context, address, name string) bool {
	if address == "" {
		return false
	}
	m.mu.RLock()
	_, exists := m.sessions[address]
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return false
	}
	if exists {
		log.Debug().Str("address", address).Msg("already connected")
		return true
	}
	if !m.gate.Allow(OpConnect, address) {
		log.Warn().Str("address", address).Msg("connect not permitted")
		return false
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.config.DialTimeout)
	defer cancel()

	log.Info().Str("address", address).Str("name", name).Msg("connecting to display")
	link, err := m.connector.Dial(dialCtx, address)
	if err != nil {
		status := StatusOf(err)
		log.Error().Err(err).Str("address", address).Int("status", status).Msg("connection error")
		m.observers.Each(func(o Observer) { o.OnConnectionError(address, status) })
		return false
	}

	s := newSession(address, name, link)
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = link.Close()
		return false
	}
	if _, raced := m.sessions[address]; raced {
		m.mu.Unlock()
		_ = link.Close()
		return true
	}
	m.sessions[address] = s
	m.mu.Unlock()

	go m.watch(s)

	log.Info().Str("address", address).Str("name", name).Msg("display connected")
	m.observers.Each(func(o Observer) { o.OnConnected(address, name) })
	return true
}

// watch waits for the remote side to drop the link.
func (m *Manager) watch(s *session) {
	select {
	case <-s.link.Done():
		log.Warn().Str("address", s.address).Msg("display dropped the link")
		m.remove(s)
	case <-s.closed:
	}
}

// remove tears down s and notifies observers once.
func (m *Manager) remove(s *session) {
	m.mu.Lock()
	if cur, ok := m.sessions[s.address]; ok && cur == s {
		delete(m.sessions, s.address)
	}
	m.mu.Unlock()

	if !s.teardown() {
		return
	}
	s.invalidate()
	m.observers.Each(func(o Observer) { o.OnDisconnected(s.address) })
}

// Disconnect closes the session for address, if any.
func (m *Manager) Disconnect(address string) {
	m.mu.RLock()
	s, ok := m.sessions[address]
	m.mu.RUnlock()
	if !ok {
		return
	}
	log.Info().Str("address", address).Msg("disconnecting display")
	m.remove(s)
}

// DisconnectAll closes every session.
func (m *Manager) DisconnectAll() {
	for _, address := range m.ConnectedAddresses() {
		m.Disconnect(address)
	}
}

// Close disconnects everything and refuses further connections.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.DisconnectAll()
}

func (m *Manager) session(address string) (*session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[address]
	return s, ok
}

// Send writes a single command byte.
func (m *Manager) Send(address string, b byte) bool {
	return m.Write(address, []byte{b})
}

// Write sends p as one payload. It returns false when there is no session, the gate denies
// the write, or the link reports a failure.
func (m *Manager) Write(address string, p []byte) bool {
	s, ok := m.session(address)
	if !ok {
		return false
	}
	if !m.gate.Allow(OpWrite, address) {
		log.Warn().Str("address", address).Msg("write not permitted")
		return false
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return m.writeLocked(s, p)
}

// SendSequence writes each byte as its own write while holding the session, so a
// selector/digit pair is never split by another writer. It stops at the first failure.
func (m *Manager) SendSequence(address string, bs ...byte) bool {
	s, ok := m.session(address)
	if !ok {
		return false
	}
	if !m.gate.Allow(OpWrite, address) {
		log.Warn().Str("address", address).Msg("write not permitted")
		return false
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	for _, b := range bs {
		if !m.writeLocked(s, []byte{b}) {
			return false
		}
	}
	return true
}

func (m *Manager) writeLocked(s *session, p []byte) bool {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.WriteTimeout)
	defer cancel()
	if err := s.writeLocked(ctx, p); err != nil {
		log.Warn().Err(err).Str("address", s.address).Int("bytes", len(p)).Msg("write failed")
		return false
	}
	return true
}

// SendToAll writes b to every open session. It is true when at least one device accepted it.
func (m *Manager) SendToAll(b byte) bool {
	ok := false
	for _, address := range m.ConnectedAddresses() {
		if m.Send(address, b) {
			ok = true
		}
	}
	return ok
}

// IsConnected reports whether a session is open for address.
func (m *Manager) IsConnected(address string) bool {
	_, ok := m.session(address)
	return ok
}

// ConnectedCount returns the number of open sessions.
func (m *Manager) ConnectedCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// ConnectedAddresses returns the addresses of open sessions in sorted order.
func (m *Manager) ConnectedAddresses() []string {
	m.mu.RLock()
	addresses := make([]string, 0, len(m.sessions))
	for a := range m.sessions {
		addresses = append(addresses, a)
	}
	m.mu.RUnlock()
	sort.Strings(addresses)
	return addresses
}

// Sessions describes the open sessions in address order.
func (m *Manager) Sessions() []SessionInfo {
	m.mu.RLock()
	infos := make([]SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		infos = append(infos, SessionInfo{Address: s.address, Name: s.name})
	}
	m.mu.RUnlock()
	sort.Slice(infos, func(i, j int) bool { return infos[i].Address < infos[j].Address })
	return infos
}

// Scan discovers nearby devices for up to the scan timeout and connects the ones listed in
// wanted (address to display name). It stops early once every wanted device is connected.
// Observers always get OnScanComplete when Scan returns, also when the connector cannot scan.
func (m *Manager) Scan(ctx context.Context, wanted map[string]string) error {
	if !m.scanning.CompareAndSwap(false, true) {
		log.Debug().Msg("scan already in progress")
		return nil
	}
	defer func() {
		m.scanning.Store(false)
		m.observers.Each(func(o Observer) { o.OnScanComplete() })
	}()

	scanner, ok := m.connector.(Scanner)
	if !ok {
		log.Debug().Msg("connector cannot scan")
		return nil
	}
	if !m.gate.Allow(OpScan, "") {
		return ErrPermissionDenied
	}

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	timer := m.clock.NewTimer(m.config.ScanTimeout)
	defer timer.Stop()
	go func() {
		select {
		case <-timer.Chan():
			cancel()
		case <-scanCtx.Done():
		}
	}()

	remaining := func() int {
		n := 0
		for address := range wanted {
			if !m.IsConnected(address) {
				n++
			}
		}
		return n
	}
	if remaining() == 0 {
		return nil
	}

	log.Info().Int("wanted", len(wanted)).Dur("timeout", m.config.ScanTimeout).Msg("scanning for displays")
	err := scanner.Scan(scanCtx, func(address, name string) {
		label, ok := wanted[address]
		if !ok || m.IsConnected(address) {
			return
		}
		if label == "" {
			label = name
		}
		if label == "" {
			label = "Unknown"
		}
		log.Info().Str("address", address).Str("name", label).Msg("found display")
		m.Connect(ctx, address, label)
		if remaining() == 0 {
			cancel()
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("scan failed: %w", err)
	}
	return nil
}
