//go:build test

package config

import (
	"testing"
	"time"

	"github.com/srg/blehid/internal/central"
	"github.com/srg/blehid/internal/hid"
	"github.com/srg/blehid/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type ConfigTestSuite struct {
	suite.Suite
	helper *testutils.TestHelper
}

func (s *ConfigTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
}

func (s *ConfigTestSuite) TestDefaults() {
	// GOAL: Verify defaults match the keyboard and consumer defaults
	//
	// TEST SCENARIO: Default() → tag defaults applied, options equal the package defaults

	cfg := Default()
	s.Require().NoError(cfg.Validate(), "defaults MUST validate")

	s.Equal("info", cfg.LogLevel)
	s.Equal(uint16(hid.AppearanceKeyboard), cfg.Peripheral.Appearance, "appearance MUST default to keyboard")
	s.Equal(time.Second, cfg.Peripheral.ReportInterval)
	s.Equal(500*time.Millisecond, cfg.Peripheral.KeyDown)
	s.Equal([]string{"boot"}, cfg.Peripheral.Reports)
	s.True(cfg.Peripheral.Encryption)

	p := cfg.PeripheralOptions()
	s.Equal([]hid.Slot{hid.SlotBootInput}, p.Reports)
	s.Equal(22, p.MaxReadChunk)

	s.Equal(central.DefaultOptions(), cfg.CentralOptions(), "central options MUST equal the package defaults")
}

func (s *ConfigTestSuite) TestMissingFileYieldsDefaults() {
	// GOAL: Verify a missing config file is not an error
	//
	// TEST SCENARIO: Load of a path that does not exist → defaults

	cfg, err := Load(s.T().TempDir() + "/absent.yaml")
	s.Require().NoError(err, "missing file MUST NOT fail")
	s.Equal(Default(), cfg)
}

func (s *ConfigTestSuite) TestPartialFileOverrides() {
	// GOAL: Verify a file overrides only the keys it names
	//
	// TEST SCENARIO: file sets name, reports and CCCD strategy → those change, the rest keep defaults

	path := s.helper.WriteTempFile("config.yaml", `
log_level: debug
peripheral:
  device_name: Desk Keyboard
  report_interval: 2s
  reports: [boot, "1", "2"]
central:
  name_filter: Desk
  cccd_strategy: discover
  reconnect_max: 5s
`)
	cfg, err := Load(path)
	s.Require().NoError(err)
	s.Require().NoError(cfg.Validate())

	s.Equal("debug", cfg.LogLevel)
	s.Equal("Desk Keyboard", cfg.Peripheral.DeviceName)
	s.Equal(2*time.Second, cfg.Peripheral.ReportInterval)
	s.Equal(500*time.Millisecond, cfg.Peripheral.KeyDown, "unset key MUST keep its default")
	s.Equal([]hid.Slot{hid.SlotBootInput, hid.SlotReport1, hid.SlotReport2}, cfg.PeripheralOptions().Reports)

	opts := cfg.CentralOptions()
	s.Equal("Desk", opts.NameFilter)
	s.Equal(central.CCCDDiscover, opts.CCCDStrategy)
	s.Equal(5*time.Second, opts.ReconnectMax)
	s.Equal(time.Second, opts.ReconnectBase)
	s.Equal(10*time.Second, cfg.DeviceOptions().DialTimeout)
}

func (s *ConfigTestSuite) TestMalformedFile() {
	// GOAL: Verify unparsable YAML is reported with the file path
	//
	// TEST SCENARIO: invalid YAML → error naming the file

	path := s.helper.WriteTempFile("bad.yaml", "peripheral: [unterminated")
	_, err := Load(path)
	s.Require().Error(err, "malformed YAML MUST fail")
	s.Contains(err.Error(), path)
}

func (s *ConfigTestSuite) TestValidate() {
	// GOAL: Verify invalid settings are rejected with the offending key
	//
	// TEST SCENARIO: table of single-field mutations → error mentioning the key

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero interval", func(c *Config) { c.Peripheral.ReportInterval = 0 }, "report_interval"},
		{"key down too long", func(c *Config) { c.Peripheral.KeyDown = c.Peripheral.ReportInterval }, "key_down"},
		{"unknown report", func(c *Config) { c.Peripheral.Reports = []string{"boot", "3"} }, "unknown report target"},
		{"empty name", func(c *Config) { c.Peripheral.DeviceName = " " }, "device_name"},
		{"empty filter", func(c *Config) { c.Central.NameFilter = "" }, "name_filter"},
		{"window over interval", func(c *Config) { c.Central.ScanWindow = 32 }, "scan_window"},
		{"bad strategy", func(c *Config) { c.Central.CCCDStrategy = "guess" }, "cccd_strategy"},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"no buffer", func(c *Config) { c.Central.EventBuffer = 0 }, "event_buffer"},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			s.Require().Error(err, "%s MUST be rejected", tt.name)
			s.Contains(err.Error(), tt.want)
		})
	}
}

func TestConfigTestSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}
