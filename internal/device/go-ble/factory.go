package goble

import (
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux/hci/evt"
)

// DeviceOptions are the adapter parameters applied when the device is opened.
// Units follow the HCI commands: 0.625ms for scan, 1.25ms for the connection
// interval and 10ms for the supervision timeout.
type DeviceOptions struct {
	ScanInterval       uint16
	ScanWindow         uint16
	ConnInterval       uint16
	ConnLatency        uint16
	SupervisionTimeout uint16
	DialTimeout        time.Duration

	// OnConnect and OnDisconnect receive the HCI link events. Only the Linux
	// backend delivers them.
	OnConnect    func(evt.LEConnectionComplete)
	OnDisconnect func(evt.DisconnectionComplete)
}

// DeviceFactory opens the platform BLE device (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = func(opts DeviceOptions) (ble.Device, error) {
	dev, err := newDevice(opts)
	if err != nil {
		return nil, NormalizeError(err)
	}
	return dev, nil
}
