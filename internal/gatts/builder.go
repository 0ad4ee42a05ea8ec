package gatts

import (
	"fmt"

	"github.com/srg/blehid/internal/device"
	"github.com/srg/blehid/internal/hid"
)

// BuilderState is the construction phase of the attribute table
type BuilderState int

const (
	BuilderIdle BuilderState = iota
	AwaitingServiceCreated
	AddingCharacteristics
	AddingDescriptors
	StartingService
	Started
	Failed
)

func (s BuilderState) String() string {
	switch s {
	case BuilderIdle:
		return "idle"
	case AwaitingServiceCreated:
		return "awaiting_service_created"
	case AddingCharacteristics:
		return "adding_characteristics"
	case AddingDescriptors:
		return "adding_descriptors"
	case StartingService:
		return "starting_service"
	case Started:
		return "started"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Builder drives the HID service into existence, one completion at a time.
//
// Handle is the transition function: it consumes a structural completion and
// returns the commands to issue next. Descriptor adds are issued as soon as
// their characteristic resolves, so descriptor completions may interleave with
// the remaining characteristic completions; both are counted and the service
// is started only once every declared attribute is resolved.
type Builder struct {
	registry *Registry
	state    BuilderState
	service  device.Handle

	expectedChars int
	expectedDescs int
	charsSeen     int
	descsSeen     int
}

// NewBuilder creates a builder populating registry
func NewBuilder(registry *Registry) *Builder {
	return &Builder{
		registry:      registry,
		expectedChars: hid.CharacteristicCount(),
		expectedDescs: hid.DescriptorCount(),
	}
}

// State returns the current phase
func (b *Builder) State() BuilderState {
	return b.state
}

// Progress returns resolved characteristic and descriptor counts
func (b *Builder) Progress() (chars, descs int) {
	return b.charsSeen, b.descsSeen
}

// Service returns the service handle, InvalidHandle before creation
func (b *Builder) Service() device.Handle {
	return b.service
}

// Begin discards any partial table and requests the service declaration
func (b *Builder) Begin() []Command {
	b.registry.Reset()
	b.service = device.InvalidHandle
	b.charsSeen, b.descsSeen = 0, 0
	b.state = AwaitingServiceCreated
	return []Command{CreateServiceCmd{UUID: hid.ServiceUUID, Primary: true, NumHandles: hid.ServiceHandles}}
}

// Fail moves the builder to Failed, e.g. when the stack rejects a command synchronously
func (b *Builder) Fail() {
	b.state = Failed
}

// Handle applies one structural completion. A StructuralFailure error means the
// table is lost and must be rebuilt with Begin; a ProtocolViolation error means
// the event was ignored and the state is unchanged.
func (b *Builder) Handle(ev Event) ([]Command, error) {
	switch e := ev.(type) {
	case ServiceCreated:
		return b.onServiceCreated(e)
	case CharacteristicAdded:
		return b.onCharacteristicAdded(e)
	case DescriptorAdded:
		return b.onDescriptorAdded(e)
	case ServiceStarted:
		return b.onServiceStarted(e)
	default:
		return nil, device.NewProtocolError(ev.EventName(), "not a structural completion")
	}
}

func (b *Builder) onServiceCreated(e ServiceCreated) ([]Command, error) {
	if b.state != AwaitingServiceCreated {
		return nil, b.unexpected(e)
	}
	if !e.Status.OK() {
		return b.fail(e.EventName(), e.Status)
	}
	if err := b.registry.SetService(e.Handle); err != nil {
		return nil, err
	}
	b.service = e.Handle
	b.state = AddingCharacteristics

	cmds := make([]Command, 0, len(hid.Profile))
	for _, spec := range hid.Profile {
		cmds = append(cmds, AddCharacteristicCmd{Service: b.service, Spec: spec})
	}
	return cmds, nil
}

func (b *Builder) onCharacteristicAdded(e CharacteristicAdded) ([]Command, error) {
	if b.state != AddingCharacteristics {
		return nil, b.unexpected(e)
	}
	if !e.Status.OK() {
		return b.fail(e.EventName(), e.Status)
	}
	slot, err := b.registry.ResolveCharacteristic(e.UUID, e.Handle)
	if err != nil {
		return nil, err
	}
	b.charsSeen++

	spec, _ := hid.Characteristic(slot)
	cmds := make([]Command, 0, len(spec.Descriptors)+1)
	for _, d := range spec.Descriptors {
		cmds = append(cmds, AddDescriptorCmd{Service: b.service, Characteristic: e.Handle, Spec: d})
	}
	if b.charsSeen == b.expectedChars {
		b.state = AddingDescriptors
		cmds = append(cmds, b.maybeStart()...)
	}
	return cmds, nil
}

func (b *Builder) onDescriptorAdded(e DescriptorAdded) ([]Command, error) {
	if b.state != AddingCharacteristics && b.state != AddingDescriptors {
		return nil, b.unexpected(e)
	}
	if !e.Status.OK() {
		return b.fail(e.EventName(), e.Status)
	}
	if _, err := b.registry.ResolveDescriptor(e.UUID, e.Handle); err != nil {
		return nil, err
	}
	b.descsSeen++
	if b.state == AddingDescriptors {
		return b.maybeStart(), nil
	}
	return nil, nil
}

func (b *Builder) onServiceStarted(e ServiceStarted) ([]Command, error) {
	if b.state != StartingService {
		return nil, b.unexpected(e)
	}
	if !e.Status.OK() {
		return b.fail(e.EventName(), e.Status)
	}
	b.state = Started
	return nil, nil
}

func (b *Builder) maybeStart() []Command {
	if b.charsSeen < b.expectedChars || b.descsSeen < b.expectedDescs {
		return nil
	}
	b.state = StartingService
	return []Command{StartServiceCmd{Service: b.service}}
}

func (b *Builder) fail(op string, status device.Status) ([]Command, error) {
	b.state = Failed
	return nil, device.NewStructuralError(op, status)
}

func (b *Builder) unexpected(ev Event) error {
	return device.NewProtocolError(ev.EventName(), "unexpected in state %s", b.state)
}
