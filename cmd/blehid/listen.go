package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/blehid/internal/central"
	"github.com/srg/blehid/internal/config"
	goble "github.com/srg/blehid/internal/device/go-ble"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Connect to a BLE keyboard and print its key reports",
	Long: `Scans for a keyboard whose advertised name contains the name filter, connects,
subscribes to the Boot Keyboard Input Report and prints every report. When the
keyboard goes away the consumer backs off and reconnects.

Output formats:
  text  - decoded report with typed characters (default)
  hex   - raw report bytes only
  json  - one JSON object per report

Examples:
  # First device whose name contains "Keyboard"
  blehid listen

  # Match a specific keyboard, raw bytes
  blehid listen --name-filter "Desk" --hex

  # Machine readable stream, locate the CCCD by descriptor discovery
  blehid listen --json --cccd discover`,
	Args: cobra.NoArgs,
	RunE: runListen,
}

var (
	listenNameFilter string
	listenCCCD       string
	listenHex        bool
	listenJSON       bool
)

func init() {
	listenCmd.Flags().StringVar(&listenNameFilter, "name-filter", "", "Substring the advertised name must contain")
	listenCmd.Flags().StringVar(&listenCCCD, "cccd", "", "How to find the CCCD: adjacent or discover")
	listenCmd.Flags().BoolVar(&listenHex, "hex", false, "Print raw report bytes only")
	listenCmd.Flags().BoolVar(&listenJSON, "json", false, "Print one JSON object per report")
}

// outputFormat selects how reports are rendered
type outputFormat int

const (
	formatText outputFormat = iota
	formatHex
	formatJSON
)

// reportJSON is the --json rendering of one report
type reportJSON struct {
	Time     string `json:"time"`
	Conn     uint16 `json:"conn"`
	Handle   uint16 `json:"handle"`
	Raw      string `json:"raw"`
	Valid    bool   `json:"valid"`
	Modifier byte   `json:"modifier,omitempty"`
	Keys     []int  `json:"keys,omitempty"`
	Text     string `json:"text,omitempty"`
	Release  bool   `json:"release,omitempty"`
}

func newReportJSON(ev central.ReportEvent) reportJSON {
	r := reportJSON{
		Time:     ev.Time.Format(time.RFC3339Nano),
		Conn:     uint16(ev.Conn),
		Handle:   uint16(ev.Handle),
		Raw:      ev.Hex(),
		Valid:    ev.Valid,
		Modifier: ev.Modifier,
		Text:     ev.Text,
		Release:  ev.Release,
	}
	for _, k := range ev.Keys {
		r.Keys = append(r.Keys, int(k))
	}
	return r
}

var (
	textColor    = color.New(color.FgGreen, color.Bold)
	releaseColor = color.New(color.Faint)
	invalidColor = color.New(color.FgYellow)
)

// writeReport renders one report in the selected format
func writeReport(out io.Writer, format outputFormat, ev central.ReportEvent) error {
	switch format {
	case formatHex:
		_, err := fmt.Fprintln(out, ev.Hex())
		return err
	case formatJSON:
		data, err := json.Marshal(newReportJSON(ev))
		if err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}

	switch {
	case !ev.Valid:
		_, err := invalidColor.Fprintln(out, ev.String())
		return err
	case ev.Release:
		_, err := releaseColor.Fprintln(out, ev.String())
		return err
	default:
		_, err := fmt.Fprintf(out, "%s %s\n", ev.String(), textColor.Sprint(ev.Text))
		return err
	}
}

// applyListenFlags copies explicitly set flags over the file values
func applyListenFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("name-filter") {
		cfg.Central.NameFilter = listenNameFilter
	}
	if f.Changed("cccd") {
		cfg.Central.CCCDStrategy = listenCCCD
	}
}

func runListen(cmd *cobra.Command, _ []string) error {
	if listenHex && listenJSON {
		return fmt.Errorf("--hex and --json are mutually exclusive")
	}
	cfg, err := loadConfig(cmd, func(c *config.Config) { applyListenFlags(cmd, c) })
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

	format := formatText
	switch {
	case listenHex:
		format = formatHex
	case listenJSON:
		format = formatJSON
	}

	var progress *ProgressPrinter
	if format != formatJSON {
		progress = NewProgressPrinter(cmd.ErrOrStderr(),
			fmt.Sprintf("Looking for %q", cfg.Central.NameFilter),
			central.StateScanning.String(), central.StateStreaming.String())
		progress.Start()
		defer progress.Stop()
	}

	return runListenSession(ctx, cfg, cmd.OutOrStdout(), format, progress, logger)
}

// runListenSession streams reports to out until ctx ends. progress may be nil.
func runListenSession(ctx context.Context, cfg *config.Config, out io.Writer, format outputFormat,
	progress *ProgressPrinter, logger *logrus.Logger) error {
	c, err := goble.NewCentral(cfg.DeviceOptions(), logger)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNoAdapter, err)
	}

	sess := central.NewSession(c, cfg.CentralOptions(), logger)
	if progress != nil {
		sess.OnStateChange(func(from, to central.State) {
			progress.SetPhase(to.String())
			switch {
			case to == central.StateStreaming:
				progress.Println("Keyboard connected. Press Ctrl+C to stop...")
			case from == central.StateStreaming:
				progress.Println("Keyboard lost, reconnecting...")
			}
		})
	}

	c.Start(ctx, sess.HandleEvent)
	if err := sess.Start(ctx); err != nil {
		_ = c.Close()
		return err
	}
	defer func() {
		sess.Stop()
		if err := c.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close BLE device")
		}
	}()

	events := sess.Events()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := writeReport(out, format, ev); err != nil {
				return err
			}
		}
	}
}
