package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

var rootCmd = &cobra.Command{
	Use:   "blehid",
	Short: "BLE HID-over-GATT keyboard peripheral and consumer",
	Long: `blehid speaks the HID-over-GATT keyboard profile in both roles:

- keyboard: advertise as a BLE keyboard and type a letter every interval
- listen:   find a BLE keyboard, subscribe to its boot input and print key presses
- profile:  print the keyboard attribute table

Settings come from ~/.config/blehid/config.yaml (see --config); flags override the file.`,
	Version: fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", FormatUserError(err))
		os.Exit(1)
	}
}

func init() {
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(keyboardCmd)
	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(profileCmd)

	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("verbose", false, "Debug logging (same as --log-level debug)")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/blehid/config.yaml)")

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}

// signalContext returns a context cancelled by Ctrl+C or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigChan)
		select {
		case <-sigChan:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
