// Package hid describes the HID-over-GATT keyboard profile: attribute UUIDs,
// the report descriptor, the ordered attribute table and the report codecs.
package hid

import "github.com/srg/blehid/internal/device"

// Assigned numbers used by the HID-over-GATT profile
const (
	ServiceUUID            device.UUID16 = 0x1812
	HIDInformationUUID     device.UUID16 = 0x2A4A
	ReportMapUUID          device.UUID16 = 0x2A4B
	ReportUUID             device.UUID16 = 0x2A4D
	ProtocolModeUUID       device.UUID16 = 0x2A4E
	BootKeyboardInputUUID  device.UUID16 = 0x2A22
	BootKeyboardOutputUUID device.UUID16 = 0x2A32
	CCCDUUID               device.UUID16 = 0x2902
	ReportReferenceUUID    device.UUID16 = 0x2908
)

// AppearanceKeyboard is the GAP appearance advertised by the keyboard
const AppearanceKeyboard uint16 = 0x03C1

var uuidNames = map[device.UUID16]string{
	ServiceUUID:            "Human Interface Device",
	HIDInformationUUID:     "HID Information",
	ReportMapUUID:          "Report Map",
	ReportUUID:             "Report",
	ProtocolModeUUID:       "Protocol Mode",
	BootKeyboardInputUUID:  "Boot Keyboard Input Report",
	BootKeyboardOutputUUID: "Boot Keyboard Output Report",
	CCCDUUID:               "Client Characteristic Configuration",
	ReportReferenceUUID:    "Report Reference",
}

// KnownName returns the profile name of a UUID, or an empty string
func KnownName(u device.UUID16) string {
	return uuidNames[u]
}
