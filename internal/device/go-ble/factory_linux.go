//go:build linux

package goble

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/go-ble/ble/linux/hci/cmd"
)

// newDevice opens the first HCI adapter with the configured scan and connection parameters
func newDevice(opts DeviceOptions) (ble.Device, error) {
	options := []ble.Option{
		ble.OptScanParams(cmd.LESetScanParameters{
			LEScanType:           0x01, // active, to receive scan responses carrying the name
			LEScanInterval:       opts.ScanInterval,
			LEScanWindow:         opts.ScanWindow,
			OwnAddressType:       0x00,
			ScanningFilterPolicy: 0x00,
		}),
		ble.OptConnParams(cmd.LECreateConnection{
			LEScanInterval:        opts.ScanInterval,
			LEScanWindow:          opts.ScanWindow,
			InitiatorFilterPolicy: 0x00,
			PeerAddressType:       0x00,
			OwnAddressType:        0x00,
			ConnIntervalMin:       opts.ConnInterval,
			ConnIntervalMax:       opts.ConnInterval,
			ConnLatency:           opts.ConnLatency,
			SupervisionTimeout:    opts.SupervisionTimeout,
			MinimumCELength:       0x0000,
			MaximumCELength:       0x0000,
		}),
	}
	if opts.DialTimeout > 0 {
		options = append(options, ble.OptDialerTimeout(opts.DialTimeout))
	}
	if opts.OnConnect != nil {
		options = append(options, ble.OptConnectHandler(opts.OnConnect))
	}
	if opts.OnDisconnect != nil {
		options = append(options, ble.OptDisconnectHandler(opts.OnDisconnect))
	}
	return linux.NewDevice(options...)
}
