package gatts

import (
	"fmt"
	"sort"

	"github.com/cornelk/hashmap"
	"github.com/srg/blehid/internal/device"
	"github.com/srg/blehid/internal/hid"
)

// LinkState is the lifecycle of the single peripheral connection
type LinkState int

const (
	LinkDisconnected LinkState = iota
	LinkConnecting
	LinkConnected
	LinkAuthenticating
	LinkReady
)

func (s LinkState) String() string {
	switch s {
	case LinkDisconnected:
		return "disconnected"
	case LinkConnecting:
		return "connecting"
	case LinkConnected:
		return "connected"
	case LinkAuthenticating:
		return "authenticating"
	case LinkReady:
		return "ready"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// CCCD values
const (
	CCCDDisabled uint16 = 0x0000
	CCCDNotify   uint16 = 0x0001
	CCCDIndicate uint16 = 0x0002
)

// Connection is the live link with a central. It is created on connect and
// dropped on disconnect; nothing in it survives to the next connection.
type Connection struct {
	ID    device.ConnID
	Peer  string
	State LinkState

	// characteristic slot -> CCCD value, read by the notifier without the session lock
	subscriptions *hashmap.Map[hid.Slot, uint16]
}

// NewConnection creates a connection with an empty subscription set
func NewConnection(id device.ConnID, peer string) *Connection {
	return &Connection{
		ID:            id,
		Peer:          peer,
		State:         LinkConnected,
		subscriptions: hashmap.New[hid.Slot, uint16](),
	}
}

// SetCCCD stores the configuration of a characteristic; CCCDDisabled removes it
func (c *Connection) SetCCCD(char hid.Slot, value uint16) {
	if value == CCCDDisabled {
		c.subscriptions.Del(char)
		return
	}
	c.subscriptions.Set(char, value)
}

// CCCD returns the configuration of a characteristic
func (c *Connection) CCCD(char hid.Slot) uint16 {
	v, _ := c.subscriptions.Get(char)
	return v
}

// Subscribed reports whether the central enabled notifications on char
func (c *Connection) Subscribed(char hid.Slot) bool {
	return c.CCCD(char)&CCCDNotify != 0
}

// Subscriptions returns subscribed characteristic slots, sorted
func (c *Connection) Subscriptions() []hid.Slot {
	var out []hid.Slot
	c.subscriptions.Range(func(slot hid.Slot, v uint16) bool {
		if v&CCCDNotify != 0 {
			out = append(out, slot)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
