//go:build test

package hid_test

import (
	"testing"

	"github.com/srg/blehid/internal/device"
	"github.com/srg/blehid/internal/hid"
	"github.com/stretchr/testify/suite"
)

type ProfileTestSuite struct {
	suite.Suite
}

func (s *ProfileTestSuite) TestConstructionOrder() {
	// GOAL: Verify the attribute table lists characteristics and descriptors in HID construction order
	//
	// TEST SCENARIO: Walk Profile → slots and UUIDs match the fixed order → descriptor sub-order is CCCD then Report Reference

	var slots []hid.Slot
	var uuids []device.UUID16
	for _, c := range hid.Profile {
		slots = append(slots, c.Slot)
		uuids = append(uuids, c.UUID)
	}

	s.Equal([]hid.Slot{
		hid.SlotHIDInfo, hid.SlotProtocolMode, hid.SlotReportMap,
		hid.SlotReport1, hid.SlotReport2, hid.SlotReport3,
		hid.SlotBootInput, hid.SlotBootOutput,
	}, slots, "characteristic slots MUST follow construction order")
	s.Equal([]device.UUID16{0x2A4A, 0x2A4E, 0x2A4B, 0x2A4D, 0x2A4D, 0x2A4D, 0x2A22, 0x2A32}, uuids,
		"characteristic UUIDs MUST match the HID layout")

	for _, c := range hid.Profile {
		seenRef := false
		for _, d := range c.Descriptors {
			if d.UUID == hid.ReportReferenceUUID {
				seenRef = true
			}
			if d.UUID == hid.CCCDUUID {
				s.False(seenRef, "CCCD MUST precede Report Reference on %s", c.Slot)
			}
		}
	}

	s.Equal(8, hid.CharacteristicCount(), "profile MUST declare 8 characteristics")
	s.Equal(6, hid.DescriptorCount(), "profile MUST declare 6 descriptors")
}

func (s *ProfileTestSuite) TestOccurrenceTables() {
	// GOAL: Verify per-UUID occurrence tables used for handle resolution
	//
	// TEST SCENARIO: Build slot tables → Report UUID maps to report1..3 → CCCD and Report Reference follow declaration order

	chars := hid.CharacteristicSlots()
	s.Equal([]hid.Slot{hid.SlotReport1, hid.SlotReport2, hid.SlotReport3}, chars[hid.ReportUUID],
		"Report occurrences MUST map to report1, report2, report3")

	descs := hid.DescriptorSlots()
	s.Equal([]hid.Slot{hid.SlotReport1CCCD, hid.SlotReport2CCCD, hid.SlotBootInputCCCD}, descs[hid.CCCDUUID],
		"CCCD occurrences MUST map to report1, report2, boot input")
	s.Equal([]hid.Slot{hid.SlotReport1Ref, hid.SlotReport2Ref, hid.SlotReport3Ref}, descs[hid.ReportReferenceUUID],
		"Report Reference occurrences MUST map to report1, report2, report3")

	ref, parent, ok := hid.Descriptor(hid.SlotReport3Ref)
	s.Require().True(ok, "report3 reference MUST exist")
	s.Equal(hid.SlotReport3, parent, "report3 reference MUST decorate report3")
	s.Equal([]byte{3, hid.ReportTypeOutput}, ref.Value, "report3 reference MUST be id 3 output")

	cccd, ok := hid.CCCDFor(hid.SlotBootInput)
	s.True(ok, "boot input MUST have a CCCD")
	s.Equal(hid.SlotBootInputCCCD, cccd)

	_, ok = hid.CCCDFor(hid.SlotReport3)
	s.False(ok, "report3 MUST NOT have a CCCD")
}

func (s *ProfileTestSuite) TestStaticValues() {
	// GOAL: Verify static attribute values match the HID keyboard layout
	//
	// TEST SCENARIO: Inspect HID info, report map, protocol mode → bytes match expected values

	s.Equal([]byte{0x11, 0x01, 0x00, 0x00}, hid.HIDInformation, "HID info MUST be bcdHID 1.11")
	s.Len(hid.ReportMap, 128, "report map MUST contain both keyboard collections")
	s.Equal([]byte{0x05, 0x01, 0x09, 0x06, 0xA1, 0x01, 0x85, 0x01}, hid.ReportMap[:8],
		"report map MUST open the keyboard collection with report ID 1")
	s.Equal(byte(0xC0), hid.ReportMap[len(hid.ReportMap)-1], "report map MUST end a collection")

	pm, ok := hid.Characteristic(hid.SlotProtocolMode)
	s.Require().True(ok)
	s.Equal([]byte{1}, pm.Value, "protocol mode MUST start in report mode")
	s.True(pm.Props.Has(device.PropWriteNoResponse), "protocol mode MUST accept write without response")
}

func (s *ProfileTestSuite) TestReportSlot() {
	// GOAL: Verify report target names resolve to notifying characteristics
	//
	// TEST SCENARIO: Resolve boot/1/2/unknown → slots returned → unknown rejected

	for target, want := range map[string]hid.Slot{
		"boot": hid.SlotBootInput, "1": hid.SlotReport1, "report2": hid.SlotReport2,
	} {
		got, ok := hid.ReportSlot(target)
		s.True(ok, "target %q MUST resolve", target)
		s.Equal(want, got)
	}
	_, ok := hid.ReportSlot("3")
	s.False(ok, "output report MUST NOT be a send target")
}

func TestProfileTestSuite(t *testing.T) {
	suite.Run(t, new(ProfileTestSuite))
}

type ReportTestSuite struct {
	suite.Suite
}

func (s *ReportTestSuite) TestPressRelease() {
	// GOAL: Verify press and release reports have the boot keyboard layout
	//
	// TEST SCENARIO: Encode press(0x09) then release → byte 2 holds keycode then 0 → byte 1 always 0

	press := hid.Press(0, 0x09).Bytes()
	release := hid.Release().Bytes()

	s.Equal([]byte{0, 0, 0x09, 0, 0, 0, 0, 0}, press, "press MUST carry the keycode at offset 2")
	s.Equal(make([]byte, 8), release, "release MUST be all zero")
	s.Zero(press[1], "reserved byte MUST be 0")
	s.True(hid.Release().IsRelease())
	s.False(hid.Press(0, 0x09).IsRelease())
}

func (s *ReportTestSuite) TestParse() {
	// GOAL: Verify decoding of received keyboard reports
	//
	// TEST SCENARIO: Parse valid and short payloads → keycodes and text decoded → short payload rejected

	r, err := hid.ParseKeyboardReport([]byte{hid.ModLeftShift, 0xff, 0x04, 0x1E, 0, 0, 0, 0})
	s.Require().NoError(err)
	s.Equal([]byte{0x04, 0x1E}, r.Pressed(), "MUST return non-zero keycodes")
	s.True(r.Shift())
	s.Equal("A!", r.Text(), "shifted keys MUST render upper case")
	s.Equal("02 00 04 1e 00 00 00 00", r.String(), "reserved byte MUST be normalized to 0")

	_, err = hid.ParseKeyboardReport([]byte{0, 0, 4})
	s.ErrorIs(err, hid.ErrReportLength, "short payload MUST be rejected")
}

func (s *ReportTestSuite) TestKeycodes() {
	// GOAL: Verify keycode to character mapping
	//
	// TEST SCENARIO: Map letters, digits, whitespace, unknown → expected runes

	cases := []struct {
		code  byte
		shift bool
		want  rune
		ok    bool
	}{
		{hid.KeyA, false, 'a', true},
		{hid.KeyZ, true, 'Z', true},
		{hid.Key1, false, '1', true},
		{hid.Key0, false, '0', true},
		{hid.Key0, true, ')', true},
		{hid.KeySpace, false, ' ', true},
		{hid.KeyEnter, false, '\n', true},
		{hid.KeyEscape, false, 0, false},
	}
	for _, tc := range cases {
		got, ok := hid.KeycodeRune(tc.code, tc.shift)
		s.Equal(tc.ok, ok, "keycode 0x%02x", tc.code)
		s.Equal(tc.want, got, "keycode 0x%02x", tc.code)
	}

	s.Equal(hid.KeyA, hid.LetterKeycode(0))
	s.Equal(hid.KeyZ, hid.LetterKeycode(25))
	s.Equal(hid.KeyA, hid.LetterKeycode(26), "letters MUST wrap")
}

func (s *ReportTestSuite) TestLEDsAndModes() {
	// GOAL: Verify LED and protocol mode rendering used in logs
	//
	// TEST SCENARIO: Render bitmasks and modes → names listed in bit order

	s.Equal("num,caps", (hid.LEDNumLock | hid.LEDCapsLock).String())
	s.Equal("scroll", hid.LEDScrollLock.String())
	s.Equal("none", hid.LEDs(0).String())
	s.Equal("boot", hid.ProtocolModeBoot.String())
	s.Equal("report", hid.ProtocolModeReport.String())
	s.Equal("unknown(7)", hid.ProtocolMode(7).String())
}

func TestReportTestSuite(t *testing.T) {
	suite.Run(t, new(ReportTestSuite))
}
