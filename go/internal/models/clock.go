package models

import (
	"fmt"
	"time"
)

// RunState is the run state of the game clock.
type RunState string

const (
	StateStopped RunState = "STOPPED"
	StateRunning RunState = "RUNNING"
	StatePaused  RunState = "PAUSED"
)

// Digits is the per-position decomposition of the clock values as shown on the display.
type Digits struct {
	Min1   int `json:"min1"`
	Min2   int `json:"min2"`
	Sec1   int `json:"sec1"`
	Sec2   int `json:"sec2"`
	Tenths int `json:"tenths"`
	Shot1  int `json:"shot1"`
	Shot2  int `json:"shot2"`
}

// ClockSnapshot is a consistent copy of the clock state taken under the engine lock.
type ClockSnapshot struct {
	Minutes          int      `json:"minutes"`
	Seconds          int      `json:"seconds"`
	Milliseconds     int      `json:"milliseconds"`
	ShotClock        int      `json:"shot_clock"`
	ShotClockEnabled bool     `json:"shot_clock_enabled"`
	State            RunState `json:"state"`
	Digits           Digits   `json:"digits"`
}

// GameTime formats the game clock as MM:SS.
func (s ClockSnapshot) GameTime() string {
	return fmt.Sprintf("%02d:%02d", s.Minutes, s.Seconds)
}

// ClockEventType identifies what a ClockEvent reports.
type ClockEventType string

const (
	EventClockTick        ClockEventType = "ClockTick"
	EventStateChanged     ClockEventType = "StateChanged"
	EventGameClockExpired ClockEventType = "GameClockExpired"
	EventShotClockExpired ClockEventType = "ShotClockExpired"
)

// ClockEvent is delivered to clock subscribers. Snapshot is the state right after the change
// that produced the event. Countdown is set on ticks produced by the running clock, as opposed
// to operator edits.
type ClockEvent struct {
	Type      ClockEventType `json:"type"`
	Snapshot  ClockSnapshot  `json:"snapshot"`
	At        time.Time      `json:"at"`
	Countdown bool           `json:"countdown,omitempty"`
}
