package device

import (
	"fmt"
	"strings"
)

// UUID16 is a Bluetooth SIG assigned 16-bit attribute UUID
type UUID16 uint16

func (u UUID16) String() string {
	return fmt.Sprintf("%04x", uint16(u))
}

// Handle is a stack-assigned attribute handle, stable for the life of a service
type Handle uint16

// InvalidHandle is never assigned by a stack
const InvalidHandle Handle = 0

func (h Handle) String() string {
	return fmt.Sprintf("0x%04x", uint16(h))
}

// ConnID identifies a live link on the local stack
type ConnID uint16

// NoConn marks the absence of a connection
const NoConn ConnID = 0xFFFF

// Status is an ATT/GATT completion status
type Status uint8

const (
	StatusOK                  Status = 0x00
	StatusInvalidHandle       Status = 0x01
	StatusReadNotPermitted    Status = 0x02
	StatusWriteNotPermitted   Status = 0x03
	StatusInvalidOffset       Status = 0x07
	StatusAttributeNotFound   Status = 0x0A
	StatusUnlikelyError       Status = 0x0E
	StatusInsufficientRes     Status = 0x11
	StatusApplicationError    Status = 0x80
	StatusNoResources         Status = 0x81
	StatusInternalError       Status = 0x85
	StatusWrongState          Status = 0x86
	StatusDatabaseFull        Status = 0x87
	StatusBusy                Status = 0x88
	StatusError               Status = 0x89
	StatusIllegalParameter    Status = 0x8D
	StatusConnectionCancelled Status = 0x94
)

var statusNames = map[Status]string{
	StatusOK:                  "ok",
	StatusInvalidHandle:       "invalid_handle",
	StatusReadNotPermitted:    "read_not_permitted",
	StatusWriteNotPermitted:   "write_not_permitted",
	StatusInvalidOffset:       "invalid_offset",
	StatusAttributeNotFound:   "attribute_not_found",
	StatusUnlikelyError:       "unlikely_error",
	StatusInsufficientRes:     "insufficient_resources",
	StatusApplicationError:    "application_error",
	StatusNoResources:         "no_resources",
	StatusInternalError:       "internal_error",
	StatusWrongState:          "wrong_state",
	StatusDatabaseFull:        "database_full",
	StatusBusy:                "busy",
	StatusError:               "error",
	StatusIllegalParameter:    "illegal_parameter",
	StatusConnectionCancelled: "connection_cancelled",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("0x%02x", uint8(s))
}

// OK reports whether the status denotes success
func (s Status) OK() bool {
	return s == StatusOK
}

// Property is a characteristic property bitmask using the Bluetooth Core bit values
type Property uint8

const (
	PropBroadcast       Property = 0x01
	PropRead            Property = 0x02
	PropWriteNoResponse Property = 0x04
	PropWrite           Property = 0x08
	PropNotify          Property = 0x10
	PropIndicate        Property = 0x20
)

var propertyNames = []struct {
	bit  Property
	name string
}{
	{PropBroadcast, "broadcast"},
	{PropRead, "read"},
	{PropWriteNoResponse, "write-without-response"},
	{PropWrite, "write"},
	{PropNotify, "notify"},
	{PropIndicate, "indicate"},
}

// Has reports whether all bits of p2 are set
func (p Property) Has(p2 Property) bool {
	return p&p2 == p2
}

func (p Property) String() string {
	var names []string
	for _, pn := range propertyNames {
		if p.Has(pn.bit) {
			names = append(names, pn.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}

// Permission is an attribute access permission bitmask
type Permission uint8

const (
	PermRead Permission = 1 << iota
	PermWrite
	PermReadEncrypted
	PermWriteEncrypted
)

func (p Permission) String() string {
	var names []string
	if p&PermRead != 0 {
		names = append(names, "r")
	}
	if p&PermWrite != 0 {
		names = append(names, "w")
	}
	if p&PermReadEncrypted != 0 {
		names = append(names, "r-enc")
	}
	if p&PermWriteEncrypted != 0 {
		names = append(names, "w-enc")
	}
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ",")
}
