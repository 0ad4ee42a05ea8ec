package central

import (
	"fmt"
	"strings"
	"time"

	"github.com/srg/blehid/internal/device"
	"github.com/srg/blehid/internal/hid"
)

// MaxNotificationLen bounds the bytes kept from a single notification
const MaxNotificationLen = 32

// ReportEvent is one decoded keyboard notification
type ReportEvent struct {
	Time     time.Time
	Conn     device.ConnID
	Handle   device.Handle
	Raw      []byte
	Valid    bool // Raw is a well-formed 8 byte boot keyboard report
	Modifier byte
	Keys     []byte // non-zero keycodes in report order
	Text     string // printable rendering of Keys
	Release  bool
}

// NewReportEvent decodes a notification payload. Payloads longer than
// MaxNotificationLen are truncated; payloads that are not boot keyboard
// reports keep only their raw bytes.
func NewReportEvent(at time.Time, conn device.ConnID, handle device.Handle, data []byte) ReportEvent {
	if len(data) > MaxNotificationLen {
		data = data[:MaxNotificationLen]
	}
	ev := ReportEvent{
		Time:   at,
		Conn:   conn,
		Handle: handle,
		Raw:    append([]byte(nil), data...),
	}

	r, err := hid.ParseKeyboardReport(data)
	if err != nil {
		return ev
	}
	ev.Valid = true
	ev.Modifier = r.Modifier
	ev.Keys = r.Pressed()
	ev.Text = r.Text()
	ev.Release = r.IsRelease()
	return ev
}

// Hex renders Raw as space separated upper-case bytes
func (e ReportEvent) Hex() string {
	var sb strings.Builder
	for i, b := range e.Raw {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}

func (e ReportEvent) String() string {
	if !e.Valid {
		return fmt.Sprintf("[REPORT %d] %s", len(e.Raw), e.Hex())
	}
	if e.Release {
		return fmt.Sprintf("[REPORT %d] %s release", len(e.Raw), e.Hex())
	}
	return fmt.Sprintf("[REPORT %d] %s keys=%x text=%q", len(e.Raw), e.Hex(), e.Keys, e.Text)
}
