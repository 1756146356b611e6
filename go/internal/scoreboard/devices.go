package scoreboard

import (
	"context"
	"fmt"

	"github.com/mcdev12/scoreboard/go/internal/devices"
	"github.com/mcdev12/scoreboard/go/internal/events"
	"github.com/mcdev12/scoreboard/go/internal/models"
	"github.com/rs/zerolog/log"
)

// ReloadDevices re-reads the device slots, updates the allow-list and the dispatcher's
// status labels, and connects registered slots that are not connected yet.
func (a *App) ReloadDevices(ctx context.Context) error {
	slots, err := devices.LoadSlots(ctx, a.store)
	if err != nil {
		return fmt.Errorf("failed to load device slots: %w", err)
	}

	registered := devices.Registered(slots)
	addresses := make([]string, 0, len(registered))
	names := make(map[string]string, len(registered))
	for _, s := range registered {
		addresses = append(addresses, s.Address)
		names[s.Address] = s.Name
	}

	a.mu.Lock()
	a.slots = slots
	a.mu.Unlock()

	if a.allow != nil {
		a.allow.SetAllowed(addresses)
	}
	a.dispatcher.SetDeviceNames(names)

	log.Info().
		Int("registered", len(registered)).
		Strs("addresses", addresses).
		Msg("device slots loaded")

	a.ConnectRegistered(ctx)
	return nil
}

// ConnectRegistered connects every registered slot and returns how many are connected
// afterwards.
func (a *App) ConnectRegistered(ctx context.Context) int {
	connected := 0
	for _, s := range devices.Registered(a.Slots()) {
		if a.transport.Connect(ctx, s.Address, s.Name) {
			connected++
		} else {
			log.Warn().
				Int("slot", s.Slot).
				Str("address", s.Address).
				Str("name", s.Name).
				Msg("device not connected")
		}
	}
	return connected
}

// Slots returns a copy of the loaded device slots.
func (a *App) Slots() []models.DeviceSlot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]models.DeviceSlot(nil), a.slots...)
}

// Devices returns every slot with its live connection state.
func (a *App) Devices() []models.DeviceStatus {
	slots := a.Slots()
	out := make([]models.DeviceStatus, 0, len(slots))
	for _, s := range slots {
		out = append(out, models.DeviceStatus{
			DeviceSlot: s,
			Connected:  s.Registered() && a.transport.IsConnected(s.Address),
		})
	}
	return out
}

// Connect connects a single display, labelled with its slot name when it has one.
func (a *App) Connect(ctx context.Context, address string) bool {
	name := a.nameFor(address)
	if name == "" {
		name = "Unknown"
	}
	return a.transport.Connect(ctx, address, name)
}

// Disconnect drops the session for address.
func (a *App) Disconnect(address string) {
	a.transport.Disconnect(address)
}

// Scan searches for the registered displays and connects the ones it finds.
func (a *App) Scan(ctx context.Context) error {
	wanted := make(map[string]string)
	for _, s := range devices.Registered(a.Slots()) {
		wanted[s.Address] = s.Name
	}
	if err := a.transport.Scan(ctx, wanted); err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	return nil
}

func (a *App) nameFor(address string) string {
	for _, s := range a.Slots() {
		if s.Address == address {
			return s.Name
		}
	}
	return ""
}

func (a *App) onConnected(address, name string) {
	a.sink.Record(events.TypeDeviceConnected, events.DevicePayload{
		Address: address,
		Name:    name,
		At:      a.now().UTC(),
	})
}

func (a *App) onDisconnected(address string) {
	a.sink.Record(events.TypeDeviceDisconnected, events.DevicePayload{
		Address: address,
		Name:    a.nameFor(address),
		At:      a.now().UTC(),
	})
}

func (a *App) onConnectionError(address string, status int) {
	a.sink.Record(events.TypeDeviceConnectionError, events.DevicePayload{
		Address: address,
		Name:    a.nameFor(address),
		Status:  status,
		At:      a.now().UTC(),
	})
}
