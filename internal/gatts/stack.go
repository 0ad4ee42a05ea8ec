// Package gatts implements the keyboard peripheral on top of an asynchronous
// GATT server stack. Structural requests (create service, add characteristic,
// add descriptor) only start synchronously; their completions come back later
// as events, and the package assigns meaning to each completion positionally.
package gatts

import (
	"github.com/srg/blehid/internal/device"
	"github.com/srg/blehid/internal/hid"
)

// Advertisement is the advertising payload of the keyboard
type Advertisement struct {
	Name           string
	Appearance     uint16
	Services       []device.UUID16
	IncludeTxPower bool
}

// Stack is the GATT server capability set consumed by the peripheral session.
//
// Every call is fire-and-forget: its outcome is delivered later through
// Session.HandleEvent. Implementations must not call HandleEvent from inside
// one of these methods; the session holds its lock while issuing commands.
type Stack interface {
	RegisterProfile() error
	SetDeviceName(name string) error
	ConfigureAdvertisement(adv Advertisement) error
	StartAdvertising() error

	CreateService(uuid device.UUID16, primary bool, numHandles int) error
	AddCharacteristic(service device.Handle, spec hid.CharacteristicSpec) error
	AddDescriptor(service, char device.Handle, spec hid.DescriptorSpec) error
	StartService(service device.Handle) error

	SendNotification(conn device.ConnID, handle device.Handle, data []byte, confirm bool) error
	SendReadResponse(conn device.ConnID, trans uint32, status device.Status, value []byte) error
	SendWriteResponse(conn device.ConnID, trans uint32, status device.Status) error

	RequestEncryption(peer string) error
}

// Event is a completion or request raised by the stack
type Event interface {
	EventName() string
}

// Registered completes RegisterProfile
type Registered struct {
	Status device.Status
}

// ServiceCreated completes CreateService
type ServiceCreated struct {
	Status device.Status
	Handle device.Handle
}

// CharacteristicAdded completes AddCharacteristic. Only the UUID and handle are
// reported, so the slot must be derived from completion order.
type CharacteristicAdded struct {
	Status device.Status
	UUID   device.UUID16
	Handle device.Handle
}

// DescriptorAdded completes AddDescriptor
type DescriptorAdded struct {
	Status device.Status
	UUID   device.UUID16
	Handle device.Handle
}

// ServiceStarted completes StartService
type ServiceStarted struct {
	Status device.Status
	Handle device.Handle
}

// AdvertisementConfigured completes ConfigureAdvertisement
type AdvertisementConfigured struct {
	Status device.Status
}

// Connected reports a new link from a central
type Connected struct {
	Conn device.ConnID
	Peer string
}

// Disconnected reports link loss
type Disconnected struct {
	Conn   device.ConnID
	Reason string
}

// ReadRequest asks for an attribute value
type ReadRequest struct {
	Conn         device.ConnID
	Trans        uint32
	Handle       device.Handle
	Offset       int
	NeedResponse bool
}

// WriteRequest carries a value written by the central
type WriteRequest struct {
	Conn         device.ConnID
	Trans        uint32
	Handle       device.Handle
	Offset       int
	Value        []byte
	NeedResponse bool
}

// AuthComplete reports the outcome of link encryption/pairing
type AuthComplete struct {
	Peer    string
	Success bool
	Reason  string
}

func (Registered) EventName() string              { return "registered" }
func (ServiceCreated) EventName() string          { return "service_created" }
func (CharacteristicAdded) EventName() string     { return "characteristic_added" }
func (DescriptorAdded) EventName() string         { return "descriptor_added" }
func (ServiceStarted) EventName() string          { return "service_started" }
func (AdvertisementConfigured) EventName() string { return "advertisement_configured" }
func (Connected) EventName() string               { return "connected" }
func (Disconnected) EventName() string            { return "disconnected" }
func (ReadRequest) EventName() string             { return "read_request" }
func (WriteRequest) EventName() string            { return "write_request" }
func (AuthComplete) EventName() string            { return "auth_complete" }

// Command is a structural request produced by the table builder
type Command interface {
	Exec(stack Stack) error
	CommandName() string
}

// CreateServiceCmd declares the HID service
type CreateServiceCmd struct {
	UUID       device.UUID16
	Primary    bool
	NumHandles int
}

// AddCharacteristicCmd adds one profile characteristic
type AddCharacteristicCmd struct {
	Service device.Handle
	Spec    hid.CharacteristicSpec
}

// AddDescriptorCmd adds one descriptor to an already resolved characteristic
type AddDescriptorCmd struct {
	Service        device.Handle
	Characteristic device.Handle
	Spec           hid.DescriptorSpec
}

// StartServiceCmd starts the completed service
type StartServiceCmd struct {
	Service device.Handle
}

func (c CreateServiceCmd) Exec(s Stack) error {
	return s.CreateService(c.UUID, c.Primary, c.NumHandles)
}

func (c AddCharacteristicCmd) Exec(s Stack) error {
	return s.AddCharacteristic(c.Service, c.Spec)
}

func (c AddDescriptorCmd) Exec(s Stack) error {
	return s.AddDescriptor(c.Service, c.Characteristic, c.Spec)
}

func (c StartServiceCmd) Exec(s Stack) error {
	return s.StartService(c.Service)
}

func (CreateServiceCmd) CommandName() string     { return "create_service" }
func (AddCharacteristicCmd) CommandName() string { return "add_characteristic" }
func (AddDescriptorCmd) CommandName() string     { return "add_descriptor" }
func (StartServiceCmd) CommandName() string      { return "start_service" }
