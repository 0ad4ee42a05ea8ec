package main

import (
	"errors"
	"strings"

	"github.com/srg/blehid/internal/device"
)

// Command-level errors
var (
	// ErrNoAdapter indicates the platform BLE device could not be opened
	ErrNoAdapter = errors.New("no usable Bluetooth adapter")
)

// FormatUserError turns an error chain into a one-line message with a hint
// for the failures a user can fix.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()

	var hint string
	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		hint = "turn Bluetooth on and check adapter permissions (Linux needs CAP_NET_ADMIN or root)"
	case errors.Is(err, ErrNoAdapter):
		hint = "check that a Bluetooth adapter is present and not held by another process"
	case errors.Is(err, device.ErrUnsupported):
		hint = "this platform's BLE stack does not support the operation"
	case device.IsFailure(err, device.StructuralFailure):
		hint = "the BLE stack rejected the attribute table; retry after restarting bluetoothd"
	case device.IsFailure(err, device.LinkLoss):
		hint = "the peer went away; move it closer or check its battery"
	case errors.Is(err, device.ErrTimeout):
		hint = "the peer did not answer in time"
	}

	msg = strings.TrimSpace(msg)
	if hint == "" {
		return msg
	}
	return msg + " (" + hint + ")"
}
