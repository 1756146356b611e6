package protocol

import (
	"errors"
	"fmt"
)

// BulkFrameLen is the size of the all-digits payload.
const BulkFrameLen = 8

var ErrMalformedFrame = errors.New("malformed bulk frame")

// Digit returns the wire byte for d. Values outside 0-9 are clamped.
func Digit(d int) Command {
	return DigitZero + Command(clampDigit(d, 9))
}

// TimeUpdate returns the position/digit sequence that writes MM:SS to the display cursor
// positions. Minutes are clamped to 0-99 and seconds to 0-59. The sequence must be written in
// order without other writes in between.
func TimeUpdate(minutes, seconds int) []Command {
	minutes = clampDigit(minutes, 99)
	seconds = clampDigit(seconds, 59)
	return []Command{
		PosMinute1, Digit(minutes / 10),
		PosMinute2, Digit(minutes % 10),
		PosSecond1, Digit(seconds / 10),
		PosSecond2, Digit(seconds % 10),
	}
}

// Bytes flattens a command sequence for a single write.
func Bytes(cmds ...Command) []byte {
	out := make([]byte, len(cmds))
	for i, c := range cmds {
		out[i] = byte(c)
	}
	return out
}

// BulkFrame is the eight-digit payload: min1 min2 sec1 sec2 tenths shot1 shot2 horn.
type BulkFrame struct {
	Min1, Min2 int
	Sec1, Sec2 int
	Tenths     int
	Shot1      int
	Shot2      int
	Horn       bool
}

// Clamped returns a copy with every digit forced into 0-9.
func (f BulkFrame) Clamped() BulkFrame {
	return BulkFrame{
		Min1:   clampDigit(f.Min1, 9),
		Min2:   clampDigit(f.Min2, 9),
		Sec1:   clampDigit(f.Sec1, 9),
		Sec2:   clampDigit(f.Sec2, 9),
		Tenths: clampDigit(f.Tenths, 9),
		Shot1:  clampDigit(f.Shot1, 9),
		Shot2:  clampDigit(f.Shot2, 9),
		Horn:   f.Horn,
	}
}

// String formats the frame as its eight ASCII digits. Digits are clamped first.
func (f BulkFrame) String() string {
	c := f.Clamped()
	horn := 0
	if c.Horn {
		horn = 1
	}
	return fmt.Sprintf("%d%d%d%d%d%d%d%d", c.Min1, c.Min2, c.Sec1, c.Sec2, c.Tenths, c.Shot1, c.Shot2, horn)
}

// Payload returns the frame as wire bytes.
func (f BulkFrame) Payload() []byte {
	return []byte(f.String())
}

// ParseBulkFrame decodes an eight-digit payload.
func ParseBulkFrame(p []byte) (BulkFrame, error) {
	if len(p) != BulkFrameLen {
		return BulkFrame{}, fmt.Errorf("%w: length %d", ErrMalformedFrame, len(p))
	}
	var d [BulkFrameLen]int
	for i, b := range p {
		if b < '0' || b > '9' {
			return BulkFrame{}, fmt.Errorf("%w: byte %d is %q", ErrMalformedFrame, i, b)
		}
		d[i] = int(b - '0')
	}
	if d[7] > 1 {
		return BulkFrame{}, fmt.Errorf("%w: horn flag %d", ErrMalformedFrame, d[7])
	}
	return BulkFrame{
		Min1:   d[0],
		Min2:   d[1],
		Sec1:   d[2],
		Sec2:   d[3],
		Tenths: d[4],
		Shot1:  d[5],
		Shot2:  d[6],
		Horn:   d[7] == 1,
	}, nil
}

func clampDigit(v, hi int) int {
	if v < 0 {
		return 0
	}
	if v > hi {
		return hi
	}
	return v
}
