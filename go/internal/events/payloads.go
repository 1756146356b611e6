package events

import (
	"encoding/json"
	"time"

	"github.com/mcdev12/scoreboard/go/internal/models"
)

// Event types journaled to the outbox and published on the bus under
// scoreboard.events.<type>.
const (
	TypeClockStateChanged     = "ClockStateChanged"
	TypeGameClockExpired      = "GameClockExpired"
	TypeShotClockExpired      = "ShotClockExpired"
	TypeDeviceConnected       = "DeviceConnected"
	TypeDeviceDisconnected    = "DeviceDisconnected"
	TypeDeviceConnectionError = "DeviceConnectionError"
	TypeOperatorCommand       = "OperatorCommand"
)

// Event payload types that are shared between the scoreboard, outbox and gateway packages

// ClockStateChangedPayload is the payload for a ClockStateChanged event
type ClockStateChangedPayload struct {
	State     models.RunState      `json:"state"`
	GameTime  string               `json:"game_time"`
	ShotClock int                  `json:"shot_clock"`
	Snapshot  models.ClockSnapshot `json:"snapshot"`
	ChangedAt time.Time            `json:"changed_at"`
}

// ClockExpiredPayload is the payload for GameClockExpired and ShotClockExpired events
type ClockExpiredPayload struct {
	GameTime  string    `json:"game_time"`
	ShotClock int       `json:"shot_clock"`
	ExpiredAt time.Time `json:"expired_at"`
}

// DevicePayload is the payload for DeviceConnected, DeviceDisconnected and
// DeviceConnectionError events. Status is only set for connection errors.
type DevicePayload struct {
	Address string    `json:"address"`
	Name    string    `json:"name,omitempty"`
	Status  int       `json:"status,omitempty"`
	At      time.Time `json:"at"`
}

// OperatorCommandPayload is the payload for an OperatorCommand event
type OperatorCommandPayload struct {
	Operation string    `json:"operation"`
	Bytes     string    `json:"bytes,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Delivered bool      `json:"delivered"`
	IssuedAt  time.Time `json:"issued_at"`
}

// Envelope is the JSON body published on the bus.
type Envelope struct {
	EventID   string          `json:"eventId"`
	EventType string          `json:"eventType"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}
