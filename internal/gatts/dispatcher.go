package gatts

import (
	"encoding/binary"

	"github.com/sirupsen/logrus"
	"github.com/srg/blehid/internal/device"
	"github.com/srg/blehid/internal/hid"
)

// DefaultMaxReadChunk is the ATT_MTU 23 payload of a single read response
const DefaultMaxReadChunk = 22

// Response is the reply to a read or write request. Send is false when the
// request did not ask for a response.
type Response struct {
	Send   bool
	Status device.Status
	Value  []byte
}

// Dispatcher answers read and write requests from in-memory attribute state.
// It never blocks and never answers with an error status.
type Dispatcher struct {
	registry *Registry
	logger   *logrus.Logger
	maxChunk int

	protocolMode hid.ProtocolMode
	leds         hid.LEDs
	lastKnown    map[hid.Slot][]byte
}

// NewDispatcher creates a dispatcher resolving handles through registry
func NewDispatcher(registry *Registry, maxChunk int, logger *logrus.Logger) *Dispatcher {
	if maxChunk <= 0 {
		maxChunk = DefaultMaxReadChunk
	}
	return &Dispatcher{
		registry:     registry,
		logger:       logger,
		maxChunk:     maxChunk,
		protocolMode: hid.ProtocolModeReport,
		lastKnown: map[hid.Slot][]byte{
			hid.SlotReport1:   make([]byte, hid.KeyboardReportLen),
			hid.SlotReport2:   make([]byte, hid.VendorReportLen),
			hid.SlotReport3:   {},
			hid.SlotBootInput: make([]byte, hid.KeyboardReportLen),
		},
	}
}

// ProtocolMode returns the mode last written by the host
func (d *Dispatcher) ProtocolMode() hid.ProtocolMode {
	return d.protocolMode
}

// LEDs returns the LED state last written by the host
func (d *Dispatcher) LEDs() hid.LEDs {
	return d.leds
}

// Remember stores the value of an input report just sent, served on later reads
func (d *Dispatcher) Remember(slot hid.Slot, value []byte) {
	d.lastKnown[slot] = append([]byte(nil), value...)
}

// Read answers a read request. conn may be nil when the request races a disconnect.
func (d *Dispatcher) Read(conn *Connection, req ReadRequest) Response {
	rsp := Response{Send: req.NeedResponse, Status: device.StatusOK}

	entry, ok := d.registry.Lookup(req.Handle)
	if !ok {
		d.logger.WithFields(logrus.Fields{
			"handle":  req.Handle,
			"conn_id": req.Conn,
		}).Warn("Read from unregistered handle, answering empty")
		rsp.Value = []byte{}
		return rsp
	}

	value := d.value(conn, entry)
	rsp.Value = d.chunk(value, req.Offset)

	d.logger.WithFields(logrus.Fields{
		"slot":   entry.Slot,
		"handle": req.Handle,
		"offset": req.Offset,
		"len":    len(rsp.Value),
		"total":  len(value),
	}).Debug("Read request")
	return rsp
}

func (d *Dispatcher) value(conn *Connection, entry Entry) []byte {
	switch entry.Slot {
	case hid.SlotProtocolMode:
		return []byte{byte(d.protocolMode)}
	case hid.SlotBootOutput:
		return []byte{byte(d.leds)}
	case hid.SlotReport1, hid.SlotReport2, hid.SlotReport3, hid.SlotBootInput:
		return d.lastKnown[entry.Slot]
	}

	if entry.Role == RoleDescriptor {
		if entry.UUID == hid.CCCDUUID {
			var v uint16
			if conn != nil {
				v = conn.CCCD(entry.Parent)
			}
			return binary.LittleEndian.AppendUint16(nil, v)
		}
		spec, _, _ := hid.Descriptor(entry.Slot)
		return spec.Value
	}

	if spec, ok := hid.Characteristic(entry.Slot); ok {
		return spec.Value
	}
	return nil
}

// chunk returns at most maxChunk bytes of value starting at offset.
// An offset at or past the end yields an empty value, not an error.
func (d *Dispatcher) chunk(value []byte, offset int) []byte {
	if offset < 0 || offset >= len(value) {
		return []byte{}
	}
	end := offset + d.maxChunk
	if end > len(value) {
		end = len(value)
	}
	return append([]byte(nil), value[offset:end]...)
}

// Write applies a write request. Every write asking for a response gets
// exactly one OK, whatever its target.
func (d *Dispatcher) Write(conn *Connection, req WriteRequest) Response {
	rsp := Response{Send: req.NeedResponse, Status: device.StatusOK}

	fields := logrus.Fields{
		"handle":  req.Handle,
		"conn_id": req.Conn,
		"len":     len(req.Value),
	}

	entry, ok := d.registry.Lookup(req.Handle)
	if !ok {
		d.logger.WithFields(fields).Warn("Write to unregistered handle ignored")
		return rsp
	}
	fields["slot"] = entry.Slot

	switch {
	case entry.UUID == hid.CCCDUUID:
		d.writeCCCD(conn, entry, req.Value, fields)

	case entry.Slot == hid.SlotBootOutput || entry.Slot == hid.SlotReport3:
		d.Remember(entry.Slot, req.Value)
		if len(req.Value) >= 1 {
			leds := hid.LEDs(req.Value[0])
			if entry.Slot == hid.SlotBootOutput {
				d.leds = leds
			}
			fields["leds"] = leds.String()
		}
		d.logger.WithFields(fields).Info("Output report written")

	case entry.Slot == hid.SlotProtocolMode:
		if len(req.Value) < 1 {
			d.logger.WithFields(fields).Warn("Empty protocol mode write ignored")
			break
		}
		mode := hid.ProtocolMode(req.Value[0])
		if mode != hid.ProtocolModeBoot && mode != hid.ProtocolModeReport {
			d.logger.WithFields(fields).WithField("mode", req.Value[0]).Warn("Invalid protocol mode ignored")
			break
		}
		d.protocolMode = mode
		d.logger.WithFields(fields).WithField("mode", mode.String()).Info("Protocol mode set")

	default:
		d.logger.WithFields(fields).Debug("Write to read-only attribute ignored")
	}
	return rsp
}

func (d *Dispatcher) writeCCCD(conn *Connection, entry Entry, value []byte, fields logrus.Fields) {
	if len(value) < 2 {
		d.logger.WithFields(fields).Warn("Short CCCD write ignored")
		return
	}
	if conn == nil {
		d.logger.WithFields(fields).Warn("CCCD write without a connection ignored")
		return
	}
	v := binary.LittleEndian.Uint16(value)
	fields["cccd"] = v
	fields["characteristic"] = entry.Parent

	switch v {
	case CCCDNotify:
		conn.SetCCCD(entry.Parent, v)
		d.logger.WithFields(fields).Info("Notifications enabled")
	case CCCDDisabled:
		conn.SetCCCD(entry.Parent, v)
		d.logger.WithFields(fields).Info("Notifications disabled")
	default:
		d.logger.WithFields(fields).Warn("Unsupported CCCD value ignored")
	}
}
