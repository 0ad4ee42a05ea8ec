// Package config loads the blehid YAML configuration. Defaults come from the
// struct tags and are applied before the file is decoded, so a partial file only
// overrides the keys it names.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/blehid/internal/central"
	goble "github.com/srg/blehid/internal/device/go-ble"
	"github.com/srg/blehid/internal/gatts"
	"github.com/srg/blehid/internal/hid"
	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel   string           `yaml:"log_level" default:"info"`
	Peripheral PeripheralConfig `yaml:"peripheral"`
	Central    CentralConfig    `yaml:"central"`
}

// PeripheralConfig configures the emulated keyboard
type PeripheralConfig struct {
	DeviceName          string        `yaml:"device_name" default:"Go HID Keyboard"`
	Appearance          uint16        `yaml:"appearance" default:"961"` // 0x03C1
	ReportInterval      time.Duration `yaml:"report_interval" default:"1s"`
	KeyDown             time.Duration `yaml:"key_down" default:"500ms"`
	RequireSubscription bool          `yaml:"require_subscription_before_send" default:"false"`
	Reports             []string      `yaml:"reports"`
	MaxReadChunk        int           `yaml:"max_read_chunk" default:"22"`
	RebuildDelay        time.Duration `yaml:"rebuild_delay" default:"1s"`
	Encryption          bool          `yaml:"encryption" default:"true"`
}

// CentralConfig configures the keyboard consumer. Scan and connection values
// use HCI units.
type CentralConfig struct {
	NameFilter         string        `yaml:"name_filter" default:"Keyboard"`
	ScanInterval       uint16        `yaml:"scan_interval" default:"16"`
	ScanWindow         uint16        `yaml:"scan_window" default:"16"`
	ConnInterval       uint16        `yaml:"conn_interval" default:"16"`
	ConnLatency        uint16        `yaml:"conn_latency" default:"0"`
	SupervisionTimeout uint16        `yaml:"supervision_timeout" default:"500"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout" default:"10s"`
	ReconnectBase      time.Duration `yaml:"reconnect_base" default:"1s"`
	ReconnectMax       time.Duration `yaml:"reconnect_max" default:"30s"`
	CCCDStrategy       string        `yaml:"cccd_strategy" default:"adjacent"`
	EventBuffer        int           `yaml:"event_buffer" default:"64"`
}

// DefaultReports are the report targets each key press is sent on
var DefaultReports = []string{"boot"}

// Default returns the configuration used when no file exists
func Default() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	cfg.Peripheral.Reports = append([]string(nil), DefaultReports...)
	return cfg
}

// DefaultConfigPath returns ~/.config/blehid/config.yaml, or "" without a home directory
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "blehid", "config.yaml")
}

// Load decodes path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(expandTilde(path))
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// an explicit list replaces the default one
	cfg.Peripheral.Reports = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	if len(cfg.Peripheral.Reports) == 0 {
		cfg.Peripheral.Reports = append([]string(nil), DefaultReports...)
	}
	return cfg, nil
}

// Validate rejects values no session can run with
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}

	p := c.Peripheral
	if strings.TrimSpace(p.DeviceName) == "" {
		return fmt.Errorf("peripheral.device_name must not be empty")
	}
	if p.ReportInterval <= 0 {
		return fmt.Errorf("peripheral.report_interval must be > 0")
	}
	if p.KeyDown <= 0 || p.KeyDown >= p.ReportInterval {
		return fmt.Errorf("peripheral.key_down must be > 0 and shorter than report_interval (%s), got %s", p.ReportInterval, p.KeyDown)
	}
	if len(p.Reports) == 0 {
		return fmt.Errorf("peripheral.reports must not be empty")
	}
	for _, r := range p.Reports {
		if _, ok := hid.ReportSlot(r); !ok {
			return fmt.Errorf("peripheral.reports: unknown report target %q (want boot, 1 or 2)", r)
		}
	}
	if p.MaxReadChunk <= 0 {
		return fmt.Errorf("peripheral.max_read_chunk must be > 0")
	}

	ce := c.Central
	if strings.TrimSpace(ce.NameFilter) == "" {
		return fmt.Errorf("central.name_filter must not be empty")
	}
	if ce.ScanWindow > ce.ScanInterval {
		return fmt.Errorf("central.scan_window (%d) must not exceed scan_interval (%d)", ce.ScanWindow, ce.ScanInterval)
	}
	if ce.ReconnectBase <= 0 {
		return fmt.Errorf("central.reconnect_base must be > 0")
	}
	if ce.ReconnectMax < 0 {
		return fmt.Errorf("central.reconnect_max must not be negative")
	}
	switch central.CCCDStrategy(ce.CCCDStrategy) {
	case central.CCCDAdjacent, central.CCCDDiscover:
	default:
		return fmt.Errorf("central.cccd_strategy must be %q or %q, got %q", central.CCCDAdjacent, central.CCCDDiscover, ce.CCCDStrategy)
	}
	if ce.EventBuffer <= 0 {
		return fmt.Errorf("central.event_buffer must be > 0")
	}
	return nil
}

// PeripheralOptions converts the peripheral section
func (c *Config) PeripheralOptions() gatts.Options {
	p := c.Peripheral
	opts := gatts.DefaultOptions()
	opts.DeviceName = p.DeviceName
	opts.Appearance = p.Appearance
	opts.ReportInterval = p.ReportInterval
	opts.KeyDown = p.KeyDown
	opts.RequireSubscription = p.RequireSubscription
	opts.MaxReadChunk = p.MaxReadChunk
	opts.RebuildDelay = p.RebuildDelay
	opts.Encryption = p.Encryption

	opts.Reports = opts.Reports[:0:0]
	for _, r := range p.Reports {
		if slot, ok := hid.ReportSlot(r); ok {
			opts.Reports = append(opts.Reports, slot)
		}
	}
	return opts
}

// CentralOptions converts the central section
func (c *Config) CentralOptions() central.Options {
	ce := c.Central
	opts := central.DefaultOptions()
	opts.NameFilter = ce.NameFilter
	opts.Scan = central.ScanParams{Interval: ce.ScanInterval, Window: ce.ScanWindow, Active: true}
	opts.Conn = central.ConnParams{
		ScanInterval:       ce.ScanInterval,
		ScanWindow:         ce.ScanWindow,
		IntervalMin:        ce.ConnInterval,
		IntervalMax:        ce.ConnInterval,
		Latency:            ce.ConnLatency,
		SupervisionTimeout: ce.SupervisionTimeout,
		Timeout:            ce.ConnectTimeout,
	}
	opts.CCCDStrategy = central.CCCDStrategy(ce.CCCDStrategy)
	opts.ReconnectBase = ce.ReconnectBase
	opts.ReconnectMax = ce.ReconnectMax
	opts.EventBuffer = ce.EventBuffer
	return opts
}

// DeviceOptions returns the adapter parameters applied when the BLE device is opened
func (c *Config) DeviceOptions() goble.DeviceOptions {
	ce := c.Central
	return goble.DeviceOptions{
		ScanInterval:       ce.ScanInterval,
		ScanWindow:         ce.ScanWindow,
		ConnInterval:       ce.ConnInterval,
		ConnLatency:        ce.ConnLatency,
		SupervisionTimeout: ce.SupervisionTimeout,
		DialTimeout:        ce.ConnectTimeout,
	}
}

// expandTilde replaces a leading ~ with the user's home directory
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
