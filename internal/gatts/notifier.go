package gatts

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blehid/internal/device"
	"github.com/srg/blehid/internal/hid"
)

// ErrNotReady is returned for sends attempted while the readiness gate is closed
var ErrNotReady = errors.New("readiness gate closed")

// reportSink is the session side of the notifier: gate check and gated send
type reportSink interface {
	readyConn() (device.ConnID, bool)
	sendReport(conn device.ConnID, slot hid.Slot, data []byte) error
}

// KeycodeSource picks the key for the next simulated press
type KeycodeSource func() byte

// RandomLetter picks a letter key a..z
func RandomLetter() byte {
	return hid.LetterKeycode(rand.IntN(26))
}

// Notifier periodically types a key: press report, hold, all-zero release.
// Both reports target the same connection; a release whose connection is gone
// is discarded, never queued for the next link.
type Notifier struct {
	sink     reportSink
	targets  []hid.Slot
	interval time.Duration
	keyDown  time.Duration
	keycode  KeycodeSource
	logger   *logrus.Logger
}

func newNotifier(sink reportSink, opts Options, logger *logrus.Logger) *Notifier {
	keycode := opts.Keycode
	if keycode == nil {
		keycode = RandomLetter
	}
	return &Notifier{
		sink:     sink,
		targets:  opts.Reports,
		interval: opts.ReportInterval,
		keyDown:  opts.KeyDown,
		keycode:  keycode,
		logger:   logger,
	}
}

// Run ticks until ctx is cancelled
func (n *Notifier) Run(ctx context.Context) {
	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.Tick(ctx)
		}
	}
}

// Tick performs one press/release cycle if the gate is open.
// It reports whether the press was attempted.
func (n *Notifier) Tick(ctx context.Context) bool {
	conn, ok := n.sink.readyConn()
	if !ok {
		n.logger.Debug("Readiness gate closed, key press suppressed")
		return false
	}

	key := n.keycode()
	fields := logrus.Fields{"conn_id": conn, "keycode": key}
	if ch, ok := hid.KeycodeRune(key, false); ok {
		fields["key"] = string(ch)
	}
	n.logger.WithFields(fields).Info("Sending key press")
	n.sendAll(conn, hid.Press(0, key).Bytes())

	hold := time.NewTimer(n.keyDown)
	select {
	case <-ctx.Done():
		hold.Stop()
	case <-hold.C:
	}

	n.logger.WithFields(fields).Debug("Sending key release")
	n.sendAll(conn, hid.Release().Bytes())
	return true
}

func (n *Notifier) sendAll(conn device.ConnID, data []byte) {
	for _, slot := range n.targets {
		err := n.sink.sendReport(conn, slot, data)
		if err == nil {
			continue
		}
		fields := logrus.Fields{"conn_id": conn, "slot": slot, "error": err}
		switch {
		case errors.Is(err, ErrNotReady), errors.Is(err, device.ErrStaleConn):
			n.logger.WithFields(fields).Warn("Report discarded")
		default:
			n.logger.WithFields(fields).Warn("Report send failed")
		}
	}
}
