package hid

import "github.com/srg/blehid/internal/device"

// Slot is the logical name of an attribute in the keyboard profile
type Slot string

const (
	SlotService       Slot = "service"
	SlotHIDInfo       Slot = "hid_info"
	SlotProtocolMode  Slot = "protocol_mode"
	SlotReportMap     Slot = "report_map"
	SlotReport1       Slot = "report1"
	SlotReport1CCCD   Slot = "report1_cccd"
	SlotReport1Ref    Slot = "report1_ref"
	SlotReport2       Slot = "report2"
	SlotReport2CCCD   Slot = "report2_cccd"
	SlotReport2Ref    Slot = "report2_ref"
	SlotReport3       Slot = "report3"
	SlotReport3Ref    Slot = "report3_ref"
	SlotBootInput     Slot = "boot_input"
	SlotBootInputCCCD Slot = "boot_input_cccd"
	SlotBootOutput    Slot = "boot_output"
)

// ServiceHandles is the number of handles reserved for the HID service
const ServiceHandles = 40

// Report Reference types
const (
	ReportTypeInput   byte = 0x01
	ReportTypeOutput  byte = 0x02
	ReportTypeFeature byte = 0x03
)

// DescriptorSpec declares a descriptor decorating a profile characteristic
type DescriptorSpec struct {
	Slot   Slot
	UUID   device.UUID16
	Perms  device.Permission
	MaxLen int
	Value  []byte // nil when the stack starts the attribute empty
}

// CharacteristicSpec declares one characteristic of the profile and its descriptors
type CharacteristicSpec struct {
	Slot        Slot
	UUID        device.UUID16
	Props       device.Property
	Perms       device.Permission
	MaxLen      int
	Value       []byte // nil when the stack starts the attribute empty
	Descriptors []DescriptorSpec
}

func cccd(slot Slot) DescriptorSpec {
	return DescriptorSpec{Slot: slot, UUID: CCCDUUID, Perms: device.PermRead | device.PermWrite, MaxLen: 2}
}

func reportRef(slot Slot, id, typ byte) DescriptorSpec {
	return DescriptorSpec{Slot: slot, UUID: ReportReferenceUUID, Perms: device.PermRead, MaxLen: 2, Value: []byte{id, typ}}
}

// Profile is the keyboard attribute table in construction order.
//
// Report characteristics share one UUID, so a stack completion can only be
// matched to its slot by counting earlier completions with the same UUID.
// Reordering entries here changes which report ID a host sees on which handle.
var Profile = []CharacteristicSpec{
	{
		Slot:   SlotHIDInfo,
		UUID:   HIDInformationUUID,
		Props:  device.PropRead,
		Perms:  device.PermRead,
		MaxLen: len(HIDInformation),
		Value:  HIDInformation,
	},
	{
		Slot:   SlotProtocolMode,
		UUID:   ProtocolModeUUID,
		Props:  device.PropRead | device.PropWriteNoResponse,
		Perms:  device.PermRead | device.PermWrite,
		MaxLen: 1,
		Value:  []byte{byte(ProtocolModeReport)},
	},
	{
		Slot:   SlotReportMap,
		UUID:   ReportMapUUID,
		Props:  device.PropRead,
		Perms:  device.PermRead,
		MaxLen: len(ReportMap),
		Value:  ReportMap,
	},
	{
		Slot:   SlotReport1,
		UUID:   ReportUUID,
		Props:  device.PropRead | device.PropNotify,
		Perms:  device.PermRead,
		MaxLen: KeyboardReportLen,
		Descriptors: []DescriptorSpec{
			cccd(SlotReport1CCCD),
			reportRef(SlotReport1Ref, 1, ReportTypeInput),
		},
	},
	{
		Slot:   SlotReport2,
		UUID:   ReportUUID,
		Props:  device.PropRead | device.PropNotify,
		Perms:  device.PermRead,
		MaxLen: VendorReportLen,
		Descriptors: []DescriptorSpec{
			cccd(SlotReport2CCCD),
			reportRef(SlotReport2Ref, 2, ReportTypeInput),
		},
	},
	{
		Slot:   SlotReport3,
		UUID:   ReportUUID,
		Props:  device.PropRead | device.PropWrite | device.PropWriteNoResponse,
		Perms:  device.PermRead | device.PermWrite,
		MaxLen: 16,
		Descriptors: []DescriptorSpec{
			reportRef(SlotReport3Ref, 3, ReportTypeOutput),
		},
	},
	{
		Slot:   SlotBootInput,
		UUID:   BootKeyboardInputUUID,
		Props:  device.PropRead | device.PropNotify,
		Perms:  device.PermRead,
		MaxLen: KeyboardReportLen,
		Value:  make([]byte, KeyboardReportLen),
		Descriptors: []DescriptorSpec{
			cccd(SlotBootInputCCCD),
		},
	},
	{
		Slot:   SlotBootOutput,
		UUID:   BootKeyboardOutputUUID,
		Props:  device.PropRead | device.PropWrite | device.PropWriteNoResponse,
		Perms:  device.PermRead | device.PermWrite,
		MaxLen: 1,
		Value:  []byte{0x00},
	},
}

// CharacteristicCount is the number of characteristics the profile declares
func CharacteristicCount() int {
	return len(Profile)
}

// DescriptorCount is the number of descriptors the profile declares
func DescriptorCount() int {
	n := 0
	for _, c := range Profile {
		n += len(c.Descriptors)
	}
	return n
}

// CharacteristicSlots returns, per UUID, the characteristic slots in construction order
func CharacteristicSlots() map[device.UUID16][]Slot {
	out := make(map[device.UUID16][]Slot)
	for _, c := range Profile {
		out[c.UUID] = append(out[c.UUID], c.Slot)
	}
	return out
}

// DescriptorSlots returns, per UUID, the descriptor slots in construction order
func DescriptorSlots() map[device.UUID16][]Slot {
	out := make(map[device.UUID16][]Slot)
	for _, c := range Profile {
		for _, d := range c.Descriptors {
			out[d.UUID] = append(out[d.UUID], d.Slot)
		}
	}
	return out
}

// Characteristic returns the spec for a characteristic slot
func Characteristic(slot Slot) (CharacteristicSpec, bool) {
	for _, c := range Profile {
		if c.Slot == slot {
			return c, true
		}
	}
	return CharacteristicSpec{}, false
}

// Descriptor returns the spec for a descriptor slot and the slot of the characteristic it decorates
func Descriptor(slot Slot) (DescriptorSpec, Slot, bool) {
	for _, c := range Profile {
		for _, d := range c.Descriptors {
			if d.Slot == slot {
				return d, c.Slot, true
			}
		}
	}
	return DescriptorSpec{}, "", false
}

// CCCDFor returns the CCCD slot of a notifying characteristic
func CCCDFor(char Slot) (Slot, bool) {
	c, ok := Characteristic(char)
	if !ok {
		return "", false
	}
	for _, d := range c.Descriptors {
		if d.UUID == CCCDUUID {
			return d.Slot, true
		}
	}
	return "", false
}

// ReportSlot maps a report target name ("boot", "1", "2") to its characteristic slot
func ReportSlot(target string) (Slot, bool) {
	switch target {
	case "boot":
		return SlotBootInput, true
	case "1", "report1":
		return SlotReport1, true
	case "2", "report2":
		return SlotReport2, true
	default:
		return "", false
	}
}
