// Package central implements the keyboard consumer: it scans for a peer whose
// advertised name matches a filter, connects, discovers the HID service and the
// Boot Keyboard Input characteristic, subscribes to it and decodes the
// notifications into report events.
package central

import (
	"time"

	"github.com/srg/blehid/internal/device"
)

// ScanParams are the GAP discovery parameters, in 0.625ms units
type ScanParams struct {
	Interval uint16
	Window   uint16
	Active   bool
}

// ConnParams are the connection parameters. Interval is in 1.25ms units and
// SupervisionTimeout in 10ms units.
type ConnParams struct {
	ScanInterval       uint16
	ScanWindow         uint16
	IntervalMin        uint16
	IntervalMax        uint16
	Latency            uint16
	SupervisionTimeout uint16
	Timeout            time.Duration
}

// Stack is the GATT client capability set consumed by the central session.
// Calls are fire-and-forget; outcomes come back through Session.HandleEvent.
type Stack interface {
	StartScan(params ScanParams) error
	CancelScan() error
	Connect(addr string, params ConnParams) error
	Disconnect(conn device.ConnID) error

	DiscoverServiceByUUID(conn device.ConnID, uuid device.UUID16) error
	DiscoverAllCharacteristics(conn device.ConnID, start, end device.Handle) error
	DiscoverDescriptors(conn device.ConnID, start, end device.Handle) error
	WriteCCCD(conn device.ConnID, valueHandle, cccdHandle device.Handle, value []byte) error
}

// Event is a completion or notification raised by the stack
type Event interface {
	EventName() string
}

// AdvertisementReceived is one scan result
type AdvertisementReceived struct {
	Addr string
	Name string
	RSSI int
}

// ConnectResult completes Connect
type ConnectResult struct {
	Status device.Status
	Conn   device.ConnID
	Addr   string
}

// ServiceDiscovered carries one discovered service. A non-OK status ends the
// procedure; StatusAttributeNotFound is the normal end.
type ServiceDiscovered struct {
	Conn   device.ConnID
	Status device.Status
	UUID   device.UUID16
	Start  device.Handle
	End    device.Handle
}

// CharacteristicDiscovered carries one characteristic; a non-OK status ends the procedure
type CharacteristicDiscovered struct {
	Conn        device.ConnID
	Status      device.Status
	UUID        device.UUID16
	DeclHandle  device.Handle
	ValueHandle device.Handle
	Props       device.Property
}

// DescriptorDiscovered carries one descriptor; a non-OK status ends the procedure
type DescriptorDiscovered struct {
	Conn   device.ConnID
	Status device.Status
	UUID   device.UUID16
	Handle device.Handle
}

// SubscribeResult completes WriteCCCD
type SubscribeResult struct {
	Conn   device.ConnID
	Status device.Status
	Handle device.Handle
}

// NotificationReceived is a value pushed by the peripheral
type NotificationReceived struct {
	Conn   device.ConnID
	Handle device.Handle
	Value  []byte
}

// Disconnected reports the loss of the link, or a failed connection attempt
type Disconnected struct {
	Conn   device.ConnID
	Reason int
}

// BackoffElapsed is raised by the session when the reconnect delay is over
type BackoffElapsed struct{}

func (AdvertisementReceived) EventName() string    { return "advertisement_received" }
func (ConnectResult) EventName() string            { return "connect_result" }
func (ServiceDiscovered) EventName() string        { return "service_discovered" }
func (CharacteristicDiscovered) EventName() string { return "characteristic_discovered" }
func (DescriptorDiscovered) EventName() string     { return "descriptor_discovered" }
func (SubscribeResult) EventName() string          { return "subscribe_result" }
func (NotificationReceived) EventName() string     { return "notification_received" }
func (Disconnected) EventName() string             { return "disconnected" }
func (BackoffElapsed) EventName() string           { return "backoff_elapsed" }

// Command is a stack request produced by the machine
type Command interface {
	Exec(stack Stack) error
	CommandName() string
}

type StartScanCmd struct {
	Params ScanParams
}

type CancelScanCmd struct{}

type ConnectCmd struct {
	Addr   string
	Params ConnParams
}

type DisconnectCmd struct {
	Conn device.ConnID
}

type DiscoverServiceCmd struct {
	Conn device.ConnID
	UUID device.UUID16
}

type DiscoverCharacteristicsCmd struct {
	Conn       device.ConnID
	Start, End device.Handle
}

type DiscoverDescriptorsCmd struct {
	Conn       device.ConnID
	Start, End device.Handle
}

type WriteCCCDCmd struct {
	Conn        device.ConnID
	ValueHandle device.Handle
	CCCDHandle  device.Handle
	Value       []byte
}

func (c StartScanCmd) Exec(s Stack) error  { return s.StartScan(c.Params) }
func (c CancelScanCmd) Exec(s Stack) error { return s.CancelScan() }
func (c ConnectCmd) Exec(s Stack) error    { return s.Connect(c.Addr, c.Params) }
func (c DisconnectCmd) Exec(s Stack) error { return s.Disconnect(c.Conn) }
func (c DiscoverServiceCmd) Exec(s Stack) error {
	return s.DiscoverServiceByUUID(c.Conn, c.UUID)
}
func (c DiscoverCharacteristicsCmd) Exec(s Stack) error {
	return s.DiscoverAllCharacteristics(c.Conn, c.Start, c.End)
}
func (c DiscoverDescriptorsCmd) Exec(s Stack) error {
	return s.DiscoverDescriptors(c.Conn, c.Start, c.End)
}
func (c WriteCCCDCmd) Exec(s Stack) error {
	return s.WriteCCCD(c.Conn, c.ValueHandle, c.CCCDHandle, c.Value)
}

func (StartScanCmd) CommandName() string               { return "start_scan" }
func (CancelScanCmd) CommandName() string              { return "cancel_scan" }
func (ConnectCmd) CommandName() string                 { return "connect" }
func (DisconnectCmd) CommandName() string              { return "disconnect" }
func (DiscoverServiceCmd) CommandName() string         { return "discover_service" }
func (DiscoverCharacteristicsCmd) CommandName() string { return "discover_characteristics" }
func (DiscoverDescriptorsCmd) CommandName() string     { return "discover_descriptors" }
func (WriteCCCDCmd) CommandName() string               { return "write_cccd" }
