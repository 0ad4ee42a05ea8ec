//go:build test

package gatts

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

type GateTestSuite struct {
	suite.Suite
}

func (s *GateTestSuite) TestReadyTruthTable() {
	// GOAL: Verify Ready is the conjunction of the required bits and nothing else
	//
	// TEST SCENARIO: Every bit combination with and without required subscription → Ready only when all required bits set

	all := []GateBit{BitTableStarted, BitConnected, BitSubscribed}
	for mask := 0; mask < 1<<len(all); mask++ {
		var bits GateBit
		for i, b := range all {
			if mask&(1<<i) != 0 {
				bits |= b
			}
		}

		for _, requireSub := range []bool{false, true} {
			g := NewGate(requireSub)
			g.Set(bits)

			want := bits&BitTableStarted != 0 && bits&BitConnected != 0
			if requireSub {
				want = want && bits&BitSubscribed != 0
			}
			s.Equal(want, g.Ready(), "bits=%s require_subscription=%v", bits, requireSub)
		}
	}
}

func (s *GateTestSuite) TestSetClear() {
	// GOAL: Verify Set and Clear touch only the named bits
	//
	// TEST SCENARIO: Set all → clear connected|subscribed → table_started remains

	g := NewGate(true)
	s.Equal(BitTableStarted|BitConnected|BitSubscribed, g.Required())

	g.Set(BitTableStarted | BitConnected | BitSubscribed)
	s.True(g.Ready())

	g.Clear(BitConnected | BitSubscribed)
	s.Equal(BitTableStarted, g.Bits(), "MUST keep unrelated bits")
	s.False(g.Ready())

	s.Equal("table_started", g.Bits().String())
	s.Equal("table_started|connected|subscribed", (BitTableStarted | BitConnected | BitSubscribed).String())
	s.Equal("none", GateBit(0).String())
}

func TestGateTestSuite(t *testing.T) {
	suite.Run(t, new(GateTestSuite))
}
