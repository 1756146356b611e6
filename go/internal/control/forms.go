package control

import (
	"errors"
	"strconv"
	"strings"

	"github.com/mcdev12/scoreboard/go/internal/scoreboard"
)

var (
	ErrInvalidTime      = errors.New("please enter valid time values")
	ErrInvalidShotClock = errors.New("please enter a valid shot clock value")
)

// ParseTimeForm validates the set-time form. Both fields empty requests a reset to defaults;
// a single empty field counts as 0. Numbers are passed through unclamped.
func ParseTimeForm(minutes, seconds string) (scoreboard.TimeRequest, error) {
	minutes, seconds = strings.TrimSpace(minutes), strings.TrimSpace(seconds)
	if minutes == "" && seconds == "" {
		return scoreboard.TimeRequest{Reset: true}, nil
	}
	m, err := atoiOrZero(minutes)
	if err != nil {
		return scoreboard.TimeRequest{}, ErrInvalidTime
	}
	s, err := atoiOrZero(seconds)
	if err != nil {
		return scoreboard.TimeRequest{}, ErrInvalidTime
	}
	return scoreboard.TimeRequest{Minutes: m, Seconds: s}, nil
}

// ParseShotClockForm validates the shot clock form. An empty value means 24.
func ParseShotClockForm(value string) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 24, nil
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, ErrInvalidShotClock
	}
	return v, nil
}

func atoiOrZero(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
