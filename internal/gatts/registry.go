package gatts

import (
	"github.com/srg/blehid/internal/device"
	"github.com/srg/blehid/internal/hid"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Role of an attribute in the table
type Role string

const (
	RoleService        Role = "service"
	RoleCharacteristic Role = "characteristic"
	RoleDescriptor     Role = "descriptor"
)

// Entry is one resolved attribute
type Entry struct {
	Slot   hid.Slot
	UUID   device.UUID16
	Handle device.Handle
	Role   Role
	Parent hid.Slot // characteristic a descriptor decorates
}

// Registry maps profile slots to stack handles.
//
// Identity is positional: the k-th completion carrying UUID U resolves to the
// k-th slot declared with U in hid.Profile. Counters advance only on a
// successful resolution, so a rejected event never shifts later mappings.
type Registry struct {
	entries  *orderedmap.OrderedMap[hid.Slot, Entry]
	byHandle map[device.Handle]hid.Slot

	charSlots map[device.UUID16][]hid.Slot
	descSlots map[device.UUID16][]hid.Slot
	charSeen  map[device.UUID16]int
	descSeen  map[device.UUID16]int
}

// NewRegistry creates an empty registry for the keyboard profile
func NewRegistry() *Registry {
	r := &Registry{
		charSlots: hid.CharacteristicSlots(),
		descSlots: hid.DescriptorSlots(),
	}
	r.Reset()
	return r
}

// Reset forgets every resolved handle
func (r *Registry) Reset() {
	r.entries = orderedmap.New[hid.Slot, Entry]()
	r.byHandle = make(map[device.Handle]hid.Slot)
	r.charSeen = make(map[device.UUID16]int)
	r.descSeen = make(map[device.UUID16]int)
}

// SetService records the service handle
func (r *Registry) SetService(handle device.Handle) error {
	return r.record(Entry{Slot: hid.SlotService, UUID: hid.ServiceUUID, Handle: handle, Role: RoleService})
}

// ResolveCharacteristic assigns the next characteristic slot declared with uuid
func (r *Registry) ResolveCharacteristic(uuid device.UUID16, handle device.Handle) (hid.Slot, error) {
	slots, ok := r.charSlots[uuid]
	if !ok {
		return "", device.NewProtocolError("characteristic_added", "uuid %s is not part of the profile", uuid)
	}
	n := r.charSeen[uuid]
	if n >= len(slots) {
		return "", device.NewProtocolError("characteristic_added", "unexpected occurrence %d of uuid %s", n+1, uuid)
	}
	entry := Entry{Slot: slots[n], UUID: uuid, Handle: handle, Role: RoleCharacteristic}
	if err := r.record(entry); err != nil {
		return "", err
	}
	r.charSeen[uuid] = n + 1
	return entry.Slot, nil
}

// ResolveDescriptor assigns the next descriptor slot declared with uuid.
// The characteristic it decorates must already be resolved.
func (r *Registry) ResolveDescriptor(uuid device.UUID16, handle device.Handle) (hid.Slot, error) {
	slots, ok := r.descSlots[uuid]
	if !ok {
		return "", device.NewProtocolError("descriptor_added", "uuid %s is not part of the profile", uuid)
	}
	n := r.descSeen[uuid]
	if n >= len(slots) {
		return "", device.NewProtocolError("descriptor_added", "unexpected occurrence %d of uuid %s", n+1, uuid)
	}
	_, parent, _ := hid.Descriptor(slots[n])
	if _, resolved := r.entries.Get(parent); !resolved {
		return "", device.NewProtocolError("descriptor_added", "%s completed before %s", slots[n], parent)
	}
	entry := Entry{Slot: slots[n], UUID: uuid, Handle: handle, Role: RoleDescriptor, Parent: parent}
	if err := r.record(entry); err != nil {
		return "", err
	}
	r.descSeen[uuid] = n + 1
	return entry.Slot, nil
}

func (r *Registry) record(e Entry) error {
	if e.Handle == device.InvalidHandle {
		return device.NewProtocolError("resolve", "%s reported the invalid handle", e.Slot)
	}
	if prev, dup := r.byHandle[e.Handle]; dup {
		return device.NewProtocolError("resolve", "handle %s already registered as %s", e.Handle, prev)
	}
	if prev, dup := r.entries.Get(e.Slot); dup {
		return device.NewProtocolError("resolve", "slot %s already resolved to %s", e.Slot, prev.Handle)
	}
	r.entries.Set(e.Slot, e)
	r.byHandle[e.Handle] = e.Slot
	return nil
}

// Handle returns the handle of a slot
func (r *Registry) Handle(slot hid.Slot) (device.Handle, bool) {
	e, ok := r.entries.Get(slot)
	return e.Handle, ok
}

// Lookup returns the entry registered for a handle
func (r *Registry) Lookup(handle device.Handle) (Entry, bool) {
	slot, ok := r.byHandle[handle]
	if !ok {
		return Entry{}, false
	}
	return r.entries.Get(slot)
}

// Entries returns resolved attributes in resolution order
func (r *Registry) Entries() []Entry {
	out := make([]Entry, 0, r.entries.Len())
	for pair := r.entries.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// Count returns how many attributes of a role are resolved
func (r *Registry) Count(role Role) int {
	n := 0
	for pair := r.entries.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.Role == role {
			n++
		}
	}
	return n
}

// Len returns the number of resolved attributes, the service included
func (r *Registry) Len() int {
	return r.entries.Len()
}
