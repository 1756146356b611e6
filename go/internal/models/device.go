package models

// DeviceSlot is one of the configured display positions (main clock and two shot clocks).
type DeviceSlot struct {
	Slot    int    `json:"slot"`
	Address string `json:"address"`
	Name    string `json:"name"`
}

// Registered reports whether an address has been assigned to the slot.
func (d DeviceSlot) Registered() bool {
	return d.Address != ""
}

// DeviceStatus is a slot together with its live connection state.
type DeviceStatus struct {
	DeviceSlot
	Connected bool `json:"connected"`
}
