//go:build test

package gatts

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/srg/blehid/internal/device"
	"github.com/srg/blehid/internal/hid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

const testKeycode byte = 0x09 // 'f'

type SessionTestSuite struct {
	suite.Suite
	logger *logrus.Logger
	hook   *test.Hook
	opts   Options
}

func (s *SessionTestSuite) SetupTest() {
	s.logger, s.hook = test.NewNullLogger()
	s.logger.SetLevel(logrus.DebugLevel)

	s.opts = DefaultOptions()
	s.opts.ReportInterval = time.Hour
	s.opts.KeyDown = time.Millisecond
	s.opts.RebuildDelay = 10 * time.Millisecond
	s.opts.Keycode = func() byte { return testKeycode }
}

// bringUp drives a session through registration and table construction
func (s *SessionTestSuite) bringUp(sess *Session) {
	sess.HandleEvent(Registered{})
	sess.HandleEvent(ServiceCreated{Handle: testServiceHandle})
	for _, ev := range tableEvents(true) {
		sess.HandleEvent(ev)
	}
	sess.HandleEvent(ServiceStarted{Handle: testServiceHandle})
	s.Require().Equal(Started, sess.Status().Builder, "table MUST be started")
}

func (s *SessionTestSuite) handle(sess *Session, slot hid.Slot) device.Handle {
	h, ok := sess.registry.Handle(slot)
	s.Require().True(ok)
	return h
}

func (s *SessionTestSuite) TestBringUp() {
	// GOAL: Verify registration configures naming and advertising and builds the table
	//
	// TEST SCENARIO: Start → Registered → advertisement configured → table events → started, gate has table_started only

	stack := newPermissiveStack(func(m *MockStack) {
		m.On("RegisterProfile").Return(nil).Once()
		m.On("SetDeviceName", s.opts.DeviceName).Return(nil).Once()
		m.On("ConfigureAdvertisement", mock.MatchedBy(func(adv Advertisement) bool {
			return adv.Name == s.opts.DeviceName &&
				adv.Appearance == hid.AppearanceKeyboard &&
				len(adv.Services) == 1 && adv.Services[0] == hid.ServiceUUID
		})).Return(nil).Once()
		m.On("CreateService", hid.ServiceUUID, true, hid.ServiceHandles).Return(nil).Once()
		m.On("StartService", testServiceHandle).Return(nil).Once()
		m.On("StartAdvertising").Return(nil).Once()
	})

	sess := NewSession(stack, s.opts, s.logger)
	s.Require().NoError(sess.Start(context.Background()))
	defer sess.Close()

	s.bringUp(sess)
	sess.HandleEvent(AdvertisementConfigured{})

	st := sess.Status()
	s.Equal(BitTableStarted, st.Gate)
	s.False(st.Ready, "MUST NOT be ready without a connection")
	s.Len(st.Handles, 15, "MUST register service, 8 characteristics and 6 descriptors")
	stack.AssertExpectations(s.T())
}

func (s *SessionTestSuite) TestRegisterFailure() {
	// GOAL: Verify a synchronous registration failure is reported to the caller
	//
	// TEST SCENARIO: RegisterProfile fails → Start returns error

	stack := newPermissiveStack(func(m *MockStack) {
		m.On("RegisterProfile").Return(errors.New("adapter busy")).Once()
	})
	sess := NewSession(stack, s.opts, s.logger)
	err := sess.Start(context.Background())
	s.ErrorContains(err, "adapter busy")
	sess.Close()
}

func (s *SessionTestSuite) TestKeyPressGated() {
	// GOAL: Verify reports go out only while the gate is open, press then release on one connection
	//
	// TEST SCENARIO: Tick before connect → suppressed → connect → press+release on boot input → disconnect → suppressed

	var sent atomic.Int32
	stack := newPermissiveStack(func(m *MockStack) {
		m.On("SendNotification", device.ConnID(7), mock.Anything, mock.Anything, false).
			Run(func(mock.Arguments) { sent.Add(1) }).Return(nil)
	})
	sess := NewSession(stack, s.opts, s.logger)
	ctx := context.Background()

	s.False(sess.notifier.Tick(ctx), "MUST suppress before the table starts")
	s.bringUp(sess)
	s.False(sess.notifier.Tick(ctx), "MUST suppress without a connection")
	s.Zero(sent.Load())

	sess.HandleEvent(Connected{Conn: 7, Peer: "11:22:33:44:55:66"})
	s.True(sess.Ready())
	s.Equal(LinkReady, sess.Status().Link, "unsupported encryption request MUST leave the link ready")

	s.True(sess.notifier.Tick(ctx))
	boot := s.handle(sess, hid.SlotBootInput)
	stack.AssertCalled(s.T(), "SendNotification", device.ConnID(7), boot, []byte{0, 0, testKeycode, 0, 0, 0, 0, 0}, false)
	stack.AssertCalled(s.T(), "SendNotification", device.ConnID(7), boot, make([]byte, 8), false)
	s.Equal(int32(2), sent.Load(), "MUST send exactly press and release")

	sess.HandleEvent(Disconnected{Conn: 7, Reason: "remote user terminated"})
	s.False(sess.Ready())
	s.False(sess.notifier.Tick(ctx), "MUST suppress after disconnect")
	s.Equal(int32(2), sent.Load())
}

func (s *SessionTestSuite) TestRequireSubscription() {
	// GOAL: Verify the strict gate waits for the central to enable notifications
	//
	// TEST SCENARIO: Connect → suppressed → CCCD write {1,0} → ready → CCCD {0,0} → suppressed

	s.opts.RequireSubscription = true
	stack := newPermissiveStack(func(m *MockStack) {
		m.On("SendNotification", mock.Anything, mock.Anything, mock.Anything, false).Return(nil)
	})
	sess := NewSession(stack, s.opts, s.logger)
	s.bringUp(sess)
	sess.HandleEvent(Connected{Conn: 1, Peer: "peer"})
	s.False(sess.Ready(), "MUST wait for subscription")

	cccd := s.handle(sess, hid.SlotBootInputCCCD)
	sess.HandleEvent(WriteRequest{Conn: 1, Trans: 5, Handle: cccd, Value: []byte{1, 0}, NeedResponse: true})
	s.True(sess.Ready())
	s.Equal(BitTableStarted|BitConnected|BitSubscribed, sess.Status().Gate)
	stack.AssertCalled(s.T(), "SendWriteResponse", device.ConnID(1), uint32(5), device.StatusOK)

	report1CCCD := s.handle(sess, hid.SlotReport1CCCD)
	sess.HandleEvent(WriteRequest{Conn: 1, Handle: report1CCCD, Value: []byte{1, 0}})
	sess.HandleEvent(WriteRequest{Conn: 1, Handle: cccd, Value: []byte{0, 0}})
	s.False(sess.Ready(), "subscription on a non-target report MUST NOT open the gate")
}

func (s *SessionTestSuite) TestDisconnectResetsConnection() {
	// GOAL: Verify disconnect drops per-connection state and restarts advertising
	//
	// TEST SCENARIO: Subscribe → disconnect → advertising restarted → reconnect → no subscriptions

	var adverts atomic.Int32
	stack := newPermissiveStack(func(m *MockStack) {
		m.On("StartAdvertising").Run(func(mock.Arguments) { adverts.Add(1) }).Return(nil)
	})
	sess := NewSession(stack, s.opts, s.logger)
	s.bringUp(sess)

	sess.HandleEvent(Connected{Conn: 3, Peer: "a"})
	sess.HandleEvent(WriteRequest{Conn: 3, Handle: s.handle(sess, hid.SlotBootInputCCCD), Value: []byte{1, 0}})
	s.Equal([]hid.Slot{hid.SlotBootInput}, sess.Status().Subscriptions)

	sess.HandleEvent(Disconnected{Conn: 9})
	s.Equal(device.ConnID(3), sess.Status().Conn, "disconnect of an unknown link MUST be ignored")

	sess.HandleEvent(Disconnected{Conn: 3, Reason: "supervision timeout"})
	st := sess.Status()
	s.Equal(device.NoConn, st.Conn)
	s.Equal(BitTableStarted, st.Gate, "MUST clear connected and subscribed")
	s.Equal(int32(1), adverts.Load(), "MUST restart advertising")

	sess.HandleEvent(Connected{Conn: 4, Peer: "b"})
	st = sess.Status()
	s.Empty(st.Subscriptions, "new connection MUST start unsubscribed")
	s.Equal([]byte{0, 0}, sess.dispatcher.Read(sess.conn, ReadRequest{Conn: 4, Handle: s.handle(sess, hid.SlotBootInputCCCD)}).Value)
}

func (s *SessionTestSuite) TestSecondConnectionIgnored() {
	// GOAL: Verify the peripheral serves a single link
	//
	// TEST SCENARIO: Connect 1 → connect 2 → session still on 1

	sess := NewSession(newPermissiveStack(), s.opts, s.logger)
	s.bringUp(sess)
	sess.HandleEvent(Connected{Conn: 1, Peer: "a"})
	sess.HandleEvent(Connected{Conn: 2, Peer: "b"})
	s.Equal(device.ConnID(1), sess.Status().Conn)
}

func (s *SessionTestSuite) TestEncryptionRequested() {
	// GOAL: Verify the link is encrypted on connect when the stack supports it
	//
	// TEST SCENARIO: RequestEncryption ok → authenticating → auth success → ready; failure → connected

	stack := newPermissiveStack(func(m *MockStack) {
		m.On("RequestEncryption", "peer").Return(nil)
	})
	sess := NewSession(stack, s.opts, s.logger)
	s.bringUp(sess)

	sess.HandleEvent(Connected{Conn: 1, Peer: "peer"})
	s.Equal(LinkAuthenticating, sess.Status().Link)
	sess.HandleEvent(AuthComplete{Peer: "other", Success: true})
	s.Equal(LinkAuthenticating, sess.Status().Link, "foreign peer MUST be ignored")
	sess.HandleEvent(AuthComplete{Peer: "peer", Success: true})
	s.Equal(LinkReady, sess.Status().Link)

	sess.HandleEvent(AuthComplete{Peer: "peer", Success: false, Reason: "authentication failure"})
	s.Equal(LinkConnected, sess.Status().Link)
}

func (s *SessionTestSuite) TestReadResponses() {
	// GOAL: Verify read requests are answered through the stack only when asked
	//
	// TEST SCENARIO: Read unknown handle → empty OK; read without response flag → nothing sent

	stack := newPermissiveStack()
	sess := NewSession(stack, s.opts, s.logger)
	s.bringUp(sess)

	sess.HandleEvent(ReadRequest{Conn: 1, Trans: 11, Handle: 0x0999, NeedResponse: true})
	stack.AssertCalled(s.T(), "SendReadResponse", device.ConnID(1), uint32(11), device.StatusOK, []byte{})

	sess.HandleEvent(ReadRequest{Conn: 1, Trans: 12, Handle: s.handle(sess, hid.SlotReportMap)})
	stack.AssertNotCalled(s.T(), "SendReadResponse", device.ConnID(1), uint32(12), mock.Anything, mock.Anything)
}

func (s *SessionTestSuite) TestStaleAndFailedSends() {
	// GOAL: Verify sends on a replaced link are discarded and stack rejections are transport failures
	//
	// TEST SCENARIO: Send on old conn id → ErrStaleConn; stack rejects → TransportFailure; closed gate → ErrNotReady

	stack := newPermissiveStack(func(m *MockStack) {
		m.On("SendNotification", mock.Anything, mock.Anything, mock.Anything, false).Return(errors.New("queue full"))
	})
	sess := NewSession(stack, s.opts, s.logger)

	s.ErrorIs(sess.sendReport(1, hid.SlotBootInput, make([]byte, 8)), ErrNotReady)

	s.bringUp(sess)
	sess.HandleEvent(Connected{Conn: 2, Peer: "b"})
	s.ErrorIs(sess.sendReport(1, hid.SlotBootInput, make([]byte, 8)), device.ErrStaleConn)

	err := sess.sendReport(2, hid.SlotBootInput, make([]byte, 8))
	s.ErrorIs(err, device.ErrTransportFailure)
	s.True(sess.Ready(), "transport failure MUST NOT close the gate")

	s.True(sess.notifier.Tick(context.Background()), "failed sends MUST NOT stop the notifier")
	s.Equal("Report send failed", s.hook.LastEntry().Message)
}

func (s *SessionTestSuite) TestStructuralFailureRebuilds() {
	// GOAL: Verify a rejected structural request triggers a rebuild after the delay
	//
	// TEST SCENARIO: Service creation fails → builder failed, gate closed → CreateService reissued

	var creates atomic.Int32
	stack := newPermissiveStack(func(m *MockStack) {
		m.On("CreateService", mock.Anything, mock.Anything, mock.Anything).
			Run(func(mock.Arguments) { creates.Add(1) }).Return(nil)
	})
	sess := NewSession(stack, s.opts, s.logger)
	s.Require().NoError(sess.Start(context.Background()))
	defer sess.Close()

	sess.HandleEvent(Registered{})
	s.Equal(int32(1), creates.Load())

	sess.HandleEvent(ServiceCreated{Status: device.StatusNoResources})
	s.Equal(Failed, sess.Status().Builder)
	s.False(sess.Ready())

	s.Eventually(func() bool { return creates.Load() == 2 }, time.Second, 5*time.Millisecond,
		"MUST reissue service creation")
	s.Eventually(func() bool { return sess.Status().Builder == AwaitingServiceCreated }, time.Second, 5*time.Millisecond)

	sess.HandleEvent(ServiceCreated{Handle: testServiceHandle})
	for _, ev := range tableEvents(false) {
		sess.HandleEvent(ev)
	}
	sess.HandleEvent(ServiceStarted{Handle: testServiceHandle})
	s.Equal(Started, sess.Status().Builder, "rebuilt table MUST start")
}

func (s *SessionTestSuite) TestSynchronousRejectionRebuilds() {
	// GOAL: Verify a command rejected by the stack call itself fails the table
	//
	// TEST SCENARIO: AddCharacteristic returns error → builder failed → rebuild scheduled

	stack := newPermissiveStack(func(m *MockStack) {
		m.On("AddCharacteristic", mock.Anything, mock.Anything).Return(errors.New("no memory")).Once()
	})
	sess := NewSession(stack, s.opts, s.logger)
	s.Require().NoError(sess.Start(context.Background()))
	defer sess.Close()

	sess.HandleEvent(Registered{})
	sess.HandleEvent(ServiceCreated{Handle: testServiceHandle})
	s.Equal(Failed, sess.Status().Builder)
	s.Eventually(func() bool { return sess.Status().Builder == AwaitingServiceCreated }, time.Second, 5*time.Millisecond)
}

func TestSessionTestSuite(t *testing.T) {
	suite.Run(t, new(SessionTestSuite))
}
