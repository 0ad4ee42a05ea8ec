//go:build darwin

package goble

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
)

// newDevice opens CoreBluetooth. Scan and connection parameters are chosen by
// the OS on this platform and are not applied, and CoreBluetooth raises no HCI
// link events, so OnConnect and OnDisconnect are never called.
func newDevice(_ DeviceOptions) (ble.Device, error) {
	return darwin.NewDevice()
}
