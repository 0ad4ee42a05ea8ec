//go:build test

package testutils

import (
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	goble "github.com/srg/blehid/internal/device/go-ble"
	"github.com/stretchr/testify/suite"
)

// MockBLESuite swaps the go-ble device factory for a mocked remote keyboard.
//
// Configure a custom peer before calling the parent SetupTest:
//
//	func (s *ListenSuite) SetupTest() {
//	    s.Peer = testutils.NewKeyboardPeerBuilder().
//	        WithService("1812", 1, 9).
//	        WithCharacteristic("2A22", "read,notify", 2, 3).
//	        WithDescriptor("2902", 4)
//	    s.MockBLESuite.SetupTest()
//	}
type MockBLESuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	OriginalDeviceFactory func(goble.DeviceOptions) (ble.Device, error)
	TestTimeout           time.Duration

	// Peer describes the remote device; the default keyboard when left nil
	Peer *KeyboardPeerBuilder
}

func (s *MockBLESuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.TestTimeout = 5 * time.Second

	s.OriginalDeviceFactory = goble.DeviceFactory
	s.T().Cleanup(func() {
		if s.OriginalDeviceFactory != nil {
			goble.DeviceFactory = s.OriginalDeviceFactory
		}
	})
}

// SetupTest installs the mocked factory; each open builds a fresh device from Peer
func (s *MockBLESuite) SetupTest() {
	if s.Peer == nil {
		s.Peer = NewKeyboardPeerBuilder().WithDefaultKeyboard()
	}
	peer := s.Peer
	goble.DeviceFactory = func(goble.DeviceOptions) (ble.Device, error) {
		return peer.Build(), nil
	}
}

func (s *MockBLESuite) TearDownTest() {
	if s.OriginalDeviceFactory != nil {
		goble.DeviceFactory = s.OriginalDeviceFactory
	}
	s.Peer = nil
}

// WithPeer returns an empty peer builder for a custom remote device
func (s *MockBLESuite) WithPeer() *KeyboardPeerBuilder {
	if s.Peer == nil {
		s.Peer = NewKeyboardPeerBuilder()
	}
	return s.Peer
}

// NextLink waits for the central to dial the peer
func (s *MockBLESuite) NextLink() *PeerLink {
	select {
	case link := <-s.Peer.Dialed():
		return link
	case <-time.After(s.TestTimeout):
		s.FailNow("peer was not dialed")
		return nil
	}
}
