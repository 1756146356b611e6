// Package protocol maps scoreboard commands to the single-byte tokens understood by the
// display firmware and builds the multi-byte time updates.
package protocol

import (
	"fmt"
	"sort"
)

// Command is one wire byte. The set of commands is closed; values outside the table are only
// produced by Digit and by decoding unknown input.
type Command byte

// General commands.
const (
	Null        Command = '-'
	Horn        Command = '_'
	ShotClock14 Command = 'q'
	ShotClock24 Command = 'r'
	NewGame     Command = 'v'
)

// Game clock and shot clock control.
const (
	StartClock     Command = 's'
	StopClock      Command = 't'
	ResetClock     Command = 'u'
	StartShotClock Command = 'x'
	StopShotClock  Command = 'y'
	ResetShotClock Command = 'z'
)

// GameBuzzer and ShotClockBuzzer share the horn byte. The display cannot tell them apart.
const (
	GameBuzzer      = Horn
	ShotClockBuzzer = Horn
)

// Digit zero anchors the contiguous range '0'..'9'.
const DigitZero Command = '0'

// Position selectors. A selector moves the display cursor; the next digit byte is written there.
const (
	PosMinute1 Command = 'M'
	PosMinute2 Command = 'N'
	PosSecond1 Command = 'S'
	PosSecond2 Command = 'T'
)

// Team A adjustments.
const (
	TeamAScorePlus1  Command = 'j'
	TeamAScorePlus2  Command = 'k'
	TeamAScoreMinus1 Command = 'm'
	TeamAFoulPlus1   Command = 'l'
	TeamAFoulMinus1  Command = 'C'
	TeamATOLMinus1   Command = 'n'
	TeamATOLPlus1    Command = 'D'
)

// Team B adjustments.
const (
	TeamBScorePlus1  Command = 'a'
	TeamBScorePlus2  Command = 'b'
	TeamBScoreMinus1 Command = 'd'
	TeamBFoulPlus1   Command = 'c'
	TeamBFoulMinus1  Command = 'A'
	TeamBTOLMinus1   Command = 'e'
	TeamBTOLPlus1    Command = 'B'
)

// Possession arrows.
const (
	RightArrow Command = 'W'
	LeftArrow  Command = 'V'
)

type commandInfo struct {
	name        string
	description string
}

var table = map[Command]commandInfo{
	Null:        {"null", "Null"},
	Horn:        {"horn", "Gametime/Shotclock Horn"},
	ShotClock14: {"shot_clock_14", "Shotclock Reset to 14"},
	ShotClock24: {"shot_clock_24", "Shotclock Reset to 24"},
	NewGame:     {"new_game", "New Game"},

	StartClock:     {"start_clock", "Start Clock"},
	StopClock:      {"stop_clock", "Stop Clock"},
	ResetClock:     {"reset_clock", "Reset Clock"},
	StartShotClock: {"start_shot_clock", "Start Shot Clock"},
	StopShotClock:  {"stop_shot_clock", "Stop Shot Clock"},
	ResetShotClock: {"reset_shot_clock", "Reset Shot Clock"},

	PosMinute1: {"position_minute_1", "First Minute Position"},
	PosMinute2: {"position_minute_2", "Second Minute Position"},
	PosSecond1: {"position_second_1", "First Second Position"},
	PosSecond2: {"position_second_2", "Second Second Position"},

	TeamAScorePlus1:  {"team_a_score_plus_1", "Team A Score +1"},
	TeamAScorePlus2:  {"team_a_score_plus_2", "Team A Score +2"},
	TeamAScoreMinus1: {"team_a_score_minus_1", "Team A Score -1"},
	TeamAFoulPlus1:   {"team_a_foul_plus_1", "Team A Foul +1"},
	TeamAFoulMinus1:  {"team_a_foul_minus_1", "Team A Foul -1"},
	TeamATOLMinus1:   {"team_a_tol_minus_1", "Team A TOL -1"},
	TeamATOLPlus1:    {"team_a_tol_plus_1", "Team A TOL +1"},

	TeamBScorePlus1:  {"team_b_score_plus_1", "Team B Score +1"},
	TeamBScorePlus2:  {"team_b_score_plus_2", "Team B Score +2"},
	TeamBScoreMinus1: {"team_b_score_minus_1", "Team B Score -1"},
	TeamBFoulPlus1:   {"team_b_foul_plus_1", "Team B Foul +1"},
	TeamBFoulMinus1:  {"team_b_foul_minus_1", "Team B Foul -1"},
	TeamBTOLMinus1:   {"team_b_tol_minus_1", "Team B TOL -1"},
	TeamBTOLPlus1:    {"team_b_tol_plus_1", "Team B TOL +1"},

	RightArrow: {"right_arrow", "Right Arrow"},
	LeftArrow:  {"left_arrow", "Left Arrow"},
}

var byName map[string]Command

func init() {
	for d := 0; d <= 9; d++ {
		table[DigitZero+Command(d)] = commandInfo{
			name:        fmt.Sprintf("digit_%d", d),
			description: fmt.Sprintf("Digit %d", d),
		}
	}
	byName = make(map[string]Command, len(table))
	for c, info := range table {
		byName[info.name] = c
	}
}

// Byte returns the wire value.
func (c Command) Byte() byte { return byte(c) }

// Name returns the stable snake_case name, or "" for a byte outside the table.
func (c Command) Name() string { return table[c].name }

// Known reports whether c is in the command table.
func (c Command) Known() bool {
	_, ok := table[c]
	return ok
}

func (c Command) String() string { return Describe(byte(c)) }

// Describe returns the operator-facing description of a wire byte. It is total: bytes outside
// the table describe as "Unknown Command: <value>".
func Describe(b byte) string {
	if info, ok := table[Command(b)]; ok {
		return info.description
	}
	return fmt.Sprintf("Unknown Command: %d", b)
}

// Lookup finds a command by its snake_case name.
func Lookup(name string) (Command, bool) {
	c, ok := byName[name]
	return c, ok
}

// All returns every defined command ordered by wire value.
func All() []Command {
	all := make([]Command, 0, len(table))
	for c := range table {
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	return all
}
