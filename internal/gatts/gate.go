package gatts

import (
	"strings"
	"sync/atomic"
)

// GateBit is one readiness input
type GateBit uint32

const (
	BitTableStarted GateBit = 1 << iota
	BitConnected
	BitSubscribed
)

// Gate combines readiness inputs into a single Ready decision.
// Bits live in one atomic word so the notifier can test them without the session lock.
type Gate struct {
	bits                atomic.Uint32
	requireSubscription bool
}

// NewGate creates a gate; with requireSubscription the Subscribed bit is also required
func NewGate(requireSubscription bool) *Gate {
	return &Gate{requireSubscription: requireSubscription}
}

// Required returns the bits that must all be set for Ready
func (g *Gate) Required() GateBit {
	req := BitTableStarted | BitConnected
	if g.requireSubscription {
		req |= BitSubscribed
	}
	return req
}

// Set raises bits
func (g *Gate) Set(bits GateBit) {
	g.bits.Or(uint32(bits))
}

// Clear drops bits
func (g *Gate) Clear(bits GateBit) {
	g.bits.And(^uint32(bits))
}

// Bits returns the current bit set
func (g *Gate) Bits() GateBit {
	return GateBit(g.bits.Load())
}

// Ready reports whether every required bit is set
func (g *Gate) Ready() bool {
	req := g.Required()
	return g.Bits()&req == req
}

func (b GateBit) String() string {
	var names []string
	if b&BitTableStarted != 0 {
		names = append(names, "table_started")
	}
	if b&BitConnected != 0 {
		names = append(names, "connected")
	}
	if b&BitSubscribed != 0 {
		names = append(names, "subscribed")
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}
