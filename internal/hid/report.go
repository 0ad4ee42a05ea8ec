package hid

import (
	"errors"
	"fmt"
	"strings"
)

// Report sizes
const (
	KeyboardReportLen = 8
	VendorReportLen   = 4
	MaxKeys           = 6
)

// ErrReportLength is returned when a payload is not a keyboard report
var ErrReportLength = errors.New("invalid keyboard report length")

// Modifier bits of the first report byte
const (
	ModLeftCtrl   byte = 1 << 0
	ModLeftShift  byte = 1 << 1
	ModLeftAlt    byte = 1 << 2
	ModLeftGUI    byte = 1 << 3
	ModRightCtrl  byte = 1 << 4
	ModRightShift byte = 1 << 5
	ModRightAlt   byte = 1 << 6
	ModRightGUI   byte = 1 << 7
)

// KeyboardReport is the 8-byte boot keyboard input report:
// modifier, reserved (always 0), six keycodes.
type KeyboardReport struct {
	Modifier byte
	Keys     [MaxKeys]byte
}

// Press builds a report holding a single key
func Press(modifier, keycode byte) KeyboardReport {
	r := KeyboardReport{Modifier: modifier}
	r.Keys[0] = keycode
	return r
}

// Release is the all-zero report sent after every press
func Release() KeyboardReport {
	return KeyboardReport{}
}

// Bytes encodes the report
func (r KeyboardReport) Bytes() []byte {
	b := make([]byte, KeyboardReportLen)
	b[0] = r.Modifier
	copy(b[2:], r.Keys[:])
	return b
}

// ParseKeyboardReport decodes an 8-byte boot keyboard report. The reserved byte is ignored.
func ParseKeyboardReport(b []byte) (KeyboardReport, error) {
	if len(b) != KeyboardReportLen {
		return KeyboardReport{}, fmt.Errorf("%w: got %d bytes, want %d", ErrReportLength, len(b), KeyboardReportLen)
	}
	r := KeyboardReport{Modifier: b[0]}
	copy(r.Keys[:], b[2:])
	return r, nil
}

// IsRelease reports whether no key and no modifier is held
func (r KeyboardReport) IsRelease() bool {
	return r == KeyboardReport{}
}

// Pressed returns the non-zero keycodes in report order
func (r KeyboardReport) Pressed() []byte {
	var keys []byte
	for _, k := range r.Keys {
		if k != 0 {
			keys = append(keys, k)
		}
	}
	return keys
}

// Shift reports whether either shift modifier is held
func (r KeyboardReport) Shift() bool {
	return r.Modifier&(ModLeftShift|ModRightShift) != 0
}

// Text renders the printable keys of the report
func (r KeyboardReport) Text() string {
	var b strings.Builder
	for _, k := range r.Pressed() {
		if ch, ok := KeycodeRune(k, r.Shift()); ok {
			b.WriteRune(ch)
		}
	}
	return b.String()
}

func (r KeyboardReport) String() string {
	b := r.Bytes()
	parts := make([]string, len(b))
	for i, v := range b {
		parts[i] = fmt.Sprintf("%02x", v)
	}
	return strings.Join(parts, " ")
}

// ProtocolMode is the value of the Protocol Mode characteristic
type ProtocolMode byte

const (
	ProtocolModeBoot   ProtocolMode = 0
	ProtocolModeReport ProtocolMode = 1
)

func (m ProtocolMode) String() string {
	switch m {
	case ProtocolModeBoot:
		return "boot"
	case ProtocolModeReport:
		return "report"
	default:
		return fmt.Sprintf("unknown(%d)", byte(m))
	}
}

// LEDs is the output report bitmask written by the host
type LEDs byte

const (
	LEDNumLock LEDs = 1 << iota
	LEDCapsLock
	LEDScrollLock
	LEDCompose
	LEDKana
)

func (l LEDs) String() string {
	var names []string
	if l&LEDNumLock != 0 {
		names = append(names, "num")
	}
	if l&LEDCapsLock != 0 {
		names = append(names, "caps")
	}
	if l&LEDScrollLock != 0 {
		names = append(names, "scroll")
	}
	if l&LEDCompose != 0 {
		names = append(names, "compose")
	}
	if l&LEDKana != 0 {
		names = append(names, "kana")
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}
