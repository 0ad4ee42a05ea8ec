package goble

import (
	"encoding/binary"

	"github.com/go-ble/ble"
	"github.com/srg/blehid/internal/device"
)

// bluetoothBase is the Bluetooth base UUID 0000xxxx-0000-1000-8000-00805F9B34FB
// in go-ble byte order (little-endian), with the 16-bit slot zeroed.
var bluetoothBase = []byte{
	0xFB, 0x34, 0x9B, 0x5F, 0x80, 0x00, 0x00, 0x80,
	0x00, 0x10, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
}

func toBLEUUID(u device.UUID16) ble.UUID {
	return ble.UUID16(uint16(u))
}

// fromBLEUUID extracts a 16-bit UUID; 128-bit UUIDs outside the base range are rejected
func fromBLEUUID(u ble.UUID) (device.UUID16, bool) {
	switch len(u) {
	case 2:
		return device.UUID16(binary.LittleEndian.Uint16(u)), true
	case 16:
		for i, b := range bluetoothBase {
			if i == 12 || i == 13 {
				continue
			}
			if u[i] != b {
				return 0, false
			}
		}
		return device.UUID16(binary.LittleEndian.Uint16(u[12:14])), true
	default:
		return 0, false
	}
}

var propertyBits = []struct {
	dev device.Property
	ble ble.Property
}{
	{device.PropBroadcast, ble.CharBroadcast},
	{device.PropRead, ble.CharRead},
	{device.PropWriteNoResponse, ble.CharWriteNR},
	{device.PropWrite, ble.CharWrite},
	{device.PropNotify, ble.CharNotify},
	{device.PropIndicate, ble.CharIndicate},
}

func toBLEProperty(p device.Property) ble.Property {
	var out ble.Property
	for _, pb := range propertyBits {
		if p.Has(pb.dev) {
			out |= pb.ble
		}
	}
	return out
}

func fromBLEProperty(p ble.Property) device.Property {
	var out device.Property
	for _, pb := range propertyBits {
		if p&pb.ble != 0 {
			out |= pb.dev
		}
	}
	return out
}
