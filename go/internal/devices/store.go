// Package devices reads the display slots (address and name per position) from the settings
// store. The scoreboard never writes settings; the seed tool and operators do.
package devices

import (
	"context"
	"errors"
	"fmt"

	"github.com/mcdev12/scoreboard/go/internal/models"
)

// SlotCount is the number of display positions: the main clock and two shot clocks.
const SlotCount = 3

// DefaultNames are used when a slot has an address but no name.
var DefaultNames = [SlotCount]string{"Main Clock", "Shot Clock 1", "Shot Clock 2"}

var ErrNotFound = errors.New("setting not found")

// Store is a read-only key-value settings source. Get returns ErrNotFound for a missing key.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
}

// AddressKey is the settings key holding the address of slot (1-based).
func AddressKey(slot int) string {
	return fmt.Sprintf("deviceAddress%d", slot)
}

// NameKey is the settings key holding the display name of slot (1-based).
func NameKey(slot int) string {
	return fmt.Sprintf("deviceName%d", slot)
}

// LoadSlots reads all slots. Missing keys leave the slot unassigned; other store errors are
// returned.
func LoadSlots(ctx context.Context, store Store) ([]models.DeviceSlot, error) {
	slots := make([]models.DeviceSlot, 0, SlotCount)
	for i := 1; i <= SlotCount; i++ {
		address, err := lookup(ctx, store, AddressKey(i))
		if err != nil {
			return nil, err
		}
		name, err := lookup(ctx, store, NameKey(i))
		if err != nil {
			return nil, err
		}
		if name == "" {
			name = DefaultNames[i-1]
		}
		slots = append(slots, models.DeviceSlot{Slot: i, Address: address, Name: name})
	}
	return slots, nil
}

func lookup(ctx context.Context, store Store, key string) (string, error) {
	v, err := store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	return v, nil
}

// Registered returns the slots that have an address.
func Registered(slots []models.DeviceSlot) []models.DeviceSlot {
	var out []models.DeviceSlot
	for _, s := range slots {
		if s.Registered() {
			out = append(out, s)
		}
	}
	return out
}

// MapStore is an in-memory store.
type MapStore map[string]string

func (m MapStore) Get(_ context.Context, key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// Layered asks each store in order; the first one that has the key wins.
type Layered []Store

func (l Layered) Get(ctx context.Context, key string) (string, error) {
	for _, s := range l {
		v, err := s.Get(ctx, key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		return v, err
	}
	return "", ErrNotFound
}
