package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blehid/internal/config"
	goble "github.com/srg/blehid/internal/device/go-ble"
	"github.com/srg/blehid/internal/gatts"
)

var keyboardCmd = &cobra.Command{
	Use:   "keyboard",
	Short: "Advertise as a BLE keyboard and type letters",
	Long: `Publishes the HID-over-GATT keyboard profile and advertises it. Once a host
connects and enables notifications, a random letter is pressed every interval
and released after the key-down time.

Examples:
  # Default name and one key per second on the boot input report
  blehid keyboard

  # Faster typing on the boot input and report 1
  blehid keyboard --name "Desk Keyboard" --interval 250ms --key-down 100ms --reports boot,1`,
	Args: cobra.NoArgs,
	RunE: runKeyboard,
}

var (
	keyboardName                string
	keyboardInterval            time.Duration
	keyboardKeyDown             time.Duration
	keyboardReports             []string
	keyboardRequireSubscription bool
	keyboardNoEncryption        bool
)

func init() {
	keyboardCmd.Flags().StringVar(&keyboardName, "name", "", "Advertised device name")
	keyboardCmd.Flags().DurationVar(&keyboardInterval, "interval", 0, "Time between key presses")
	keyboardCmd.Flags().DurationVar(&keyboardKeyDown, "key-down", 0, "Time a key stays pressed")
	keyboardCmd.Flags().StringSliceVar(&keyboardReports, "reports", nil, "Input reports to send on: boot, 1, 2")
	keyboardCmd.Flags().BoolVar(&keyboardRequireSubscription, "require-subscription", false, "Send only after the host enabled notifications")
	keyboardCmd.Flags().BoolVar(&keyboardNoEncryption, "no-encryption", false, "Do not request link encryption on connect")
}

// applyKeyboardFlags copies explicitly set flags over the file values
func applyKeyboardFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	p := &cfg.Peripheral
	if f.Changed("name") {
		p.DeviceName = keyboardName
	}
	if f.Changed("interval") {
		p.ReportInterval = keyboardInterval
	}
	if f.Changed("key-down") {
		p.KeyDown = keyboardKeyDown
	}
	if f.Changed("reports") {
		p.Reports = keyboardReports
	}
	if f.Changed("require-subscription") {
		p.RequireSubscription = keyboardRequireSubscription
	}
	if f.Changed("no-encryption") {
		p.Encryption = !keyboardNoEncryption
	}
}

func runKeyboard(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, func(c *config.Config) { applyKeyboardFlags(cmd, c) })
	if err != nil {
		return err
	}
	logger, err := configureLogger(cmd, cfg.LogLevel)
	if err != nil {
		return err
	}

	cmd.SilenceUsage = true

	ctx, cancel := signalContext()
	defer cancel()

	return runKeyboardSession(ctx, cfg, cmd.ErrOrStderr(), logger)
}

// runKeyboardSession runs one peripheral session until ctx ends
func runKeyboardSession(ctx context.Context, cfg *config.Config, out io.Writer, logger *logrus.Logger) error {
	opts := cfg.PeripheralOptions()

	p, err := goble.NewPeripheral(cfg.DeviceOptions(), logger)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNoAdapter, err)
	}

	sess := gatts.NewSession(p, opts, logger)
	p.Start(ctx, sess.HandleEvent)
	if err := sess.Start(ctx); err != nil {
		_ = p.Close()
		return fmt.Errorf("failed to start keyboard: %w", err)
	}

	reports := make([]string, len(opts.Reports))
	for i, slot := range opts.Reports {
		reports[i] = string(slot)
	}
	fmt.Fprintf(out, "Advertising as %s (reports: %s). Press Ctrl+C to stop...\n",
		color.New(color.FgCyan, color.Bold).Sprintf("%q", opts.DeviceName), strings.Join(reports, ","))

	<-ctx.Done()

	st := sess.Status()
	logger.WithFields(logrus.Fields{
		"builder": st.Builder,
		"link":    st.Link,
	}).Info("Keyboard stopping")

	sess.Close()
	if err := p.Close(); err != nil {
		return fmt.Errorf("failed to close BLE device: %w", err)
	}
	return nil
}
