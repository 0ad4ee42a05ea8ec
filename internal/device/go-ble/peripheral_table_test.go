//go:build test

package goble

import (
	"context"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux/hci/evt"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/srg/blehid/internal/device"
	"github.com/srg/blehid/internal/gatts"
	"github.com/srg/blehid/internal/hid"
	"github.com/srg/blehid/internal/testutils/mocks"
	"github.com/stretchr/testify/suite"
)

const tablePeer = "11:22:33:44:55:66"

// PeripheralTableTestSuite drives the adapter directly, without a session
type PeripheralTableTestSuite struct {
	suite.Suite
	logger *logrus.Logger

	dev    *mocks.MockDevice
	p      *Peripheral
	events chan gatts.Event
	cancel context.CancelFunc
}

func (s *PeripheralTableTestSuite) SetupTest() {
	s.logger, _ = test.NewNullLogger()
	s.dev = &mocks.MockDevice{}
	s.dev.On("RemoveAllServices").Return(nil)
	s.dev.On("Stop").Return(nil)

	s.events = make(chan gatts.Event, 64)
	s.p = newPeripheral(s.dev, s.logger)
	s.p.timeout = 500 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.p.Start(ctx, func(ev gatts.Event) {
		if req, ok := ev.(gatts.ReadRequest); ok {
			_ = s.p.SendReadResponse(req.Conn, req.Trans, device.StatusOK, []byte{0x11, 0x01, 0x00, 0x02})
		}
		s.events <- ev
	})
}

func (s *PeripheralTableTestSuite) TearDownTest() {
	s.cancel()
	s.Require().NoError(s.p.Close())
}

func (s *PeripheralTableTestSuite) next() gatts.Event {
	select {
	case ev := <-s.events:
		return ev
	case <-time.After(time.Second):
		s.FailNow("no event raised")
		return nil
	}
}

func (s *PeripheralTableTestSuite) nextOf(name string) gatts.Event {
	deadline := time.After(time.Second)
	for {
		select {
		case ev := <-s.events:
			if ev.EventName() == name {
				return ev
			}
		case <-deadline:
			s.FailNow("event not raised", name)
			return nil
		}
	}
}

func (s *PeripheralTableTestSuite) quiet() {
	select {
	case ev := <-s.events:
		s.Failf("unexpected event", "%s: %+v", ev.EventName(), ev)
	case <-time.After(50 * time.Millisecond):
	}
}

// buildTable adds every profile characteristic and returns the service handle
func (s *PeripheralTableTestSuite) buildTable() device.Handle {
	s.Require().NoError(s.p.CreateService(hid.ServiceUUID, true, hid.ServiceHandles))
	created, ok := s.next().(gatts.ServiceCreated)
	s.Require().True(ok, "first completion MUST be service_created")

	for _, spec := range hid.Profile {
		s.Require().NoError(s.p.AddCharacteristic(created.Handle, spec))
		added, ok := s.next().(gatts.CharacteristicAdded)
		s.Require().True(ok, "each characteristic MUST complete")
		s.Equal(spec.UUID, added.UUID)
	}
	return created.Handle
}

func (s *PeripheralTableTestSuite) readable(service device.Handle, uuid device.UUID16) *ble.Characteristic {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	for _, c := range s.p.services[service].Characteristics {
		if c.UUID.Equal(toBLEUUID(uuid)) {
			return c
		}
	}
	s.FailNow("characteristic not in table", uuid.String())
	return nil
}

func connectionComplete(handle uint16, role byte, peer [6]byte) evt.LEConnectionComplete {
	b := make([]byte, 19)
	b[0] = 0x01 // subevent
	b[2], b[3] = byte(handle), byte(handle>>8)
	b[4] = role
	copy(b[6:12], peer[:])
	return evt.LEConnectionComplete(b)
}

func disconnectionComplete(handle uint16, reason byte) evt.DisconnectionComplete {
	return evt.DisconnectionComplete([]byte{0x00, byte(handle), byte(handle >> 8), reason})
}

func (s *PeripheralTableTestSuite) TestRepeatedReportUUIDs() {
	// GOAL: Verify characteristics sharing a UUID are all added and the adapter stays usable
	//
	// TEST SCENARIO: add the whole profile, three 0x2A4D among them → no panic, three Report characteristics, lock free

	var svc device.Handle
	s.Require().NotPanics(func() { svc = s.buildTable() }, "repeated Report UUIDs MUST NOT panic")

	s.p.mu.Lock()
	reports := 0
	for _, c := range s.p.services[svc].Characteristics {
		if c.UUID.Equal(toBLEUUID(hid.ReportUUID)) {
			reports++
		}
	}
	total := len(s.p.services[svc].Characteristics)
	s.p.mu.Unlock()

	s.Equal(3, reports, "every Report characteristic MUST be kept")
	s.Equal(len(hid.Profile), total, "every profile characteristic MUST be in the service")

	s.Require().True(s.p.mu.TryLock(), "adapter lock MUST be released after the table is built")
	s.p.mu.Unlock()
	s.NoError(s.p.SetDeviceName("kbd"), "adapter MUST accept further calls")
}

func (s *PeripheralTableTestSuite) TestRebuildDropsPartialTable() {
	// GOAL: Verify a new service creation discards a half-built table
	//
	// TEST SCENARIO: service + two characteristics → CreateService again → services removed from device, one empty service, handles restart

	s.Require().NoError(s.p.CreateService(hid.ServiceUUID, true, hid.ServiceHandles))
	first := s.next().(gatts.ServiceCreated)
	for _, spec := range hid.Profile[:2] {
		s.Require().NoError(s.p.AddCharacteristic(first.Handle, spec))
		s.next()
	}
	s.dev.AssertNotCalled(s.T(), "RemoveAllServices")

	s.Require().NoError(s.p.CreateService(hid.ServiceUUID, true, hid.ServiceHandles))
	second := s.next().(gatts.ServiceCreated)

	s.dev.AssertNumberOfCalls(s.T(), "RemoveAllServices", 1)
	s.Equal(first.Handle, second.Handle, "handle allocation MUST restart with the new table")

	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	s.Len(s.p.services, 1, "only the new service MUST remain")
	s.Empty(s.p.services[second.Handle].Characteristics, "new service MUST start empty")
	s.Empty(s.p.attrs, "attributes of the old table MUST be dropped")
	s.Empty(s.p.cccds, "CCCDs of the old table MUST be dropped")
}

func (s *PeripheralTableTestSuite) TestControllerLinkEvents() {
	// GOAL: Verify HCI link events announce and end a connection before any ATT traffic
	//
	// TEST SCENARIO: LE connection complete → connected with peer; read from same peer → same conn, no new link; disconnection complete 0x13 → disconnected once

	svc := s.buildTable()

	s.p.linkUp(connectionComplete(0x0040, hciRolePeripheral, [6]byte{0x66, 0x55, 0x44, 0x33, 0x22, 0x11}))
	conn, ok := s.next().(gatts.Connected)
	s.Require().True(ok, "connection complete MUST announce the link")
	s.Equal(tablePeer, conn.Peer, "peer MUST be the controller address in display order")

	c := &mocks.MockConn{}
	c.On("RemoteAddr").Return(ble.NewAddr(tablePeer))
	rsp := &mocks.ResponseWriter{Max: 22}
	s.readable(svc, hid.HIDInformationUUID).ReadHandler.ServeRead(&mocks.Request{Link: c}, rsp)
	s.Equal(ble.ErrSuccess, rsp.Code, "read MUST be answered")

	req, ok := s.next().(gatts.ReadRequest)
	s.Require().True(ok, "read MUST follow without a second connected event")
	s.Equal(conn.Conn, req.Conn, "request MUST use the announced link")
	c.AssertNotCalled(s.T(), "Disconnected")

	s.p.linkDown(disconnectionComplete(0x0040, 0x13))
	gone, ok := s.next().(gatts.Disconnected)
	s.Require().True(ok)
	s.Equal(conn.Conn, gone.Conn)
	s.Equal("remote user terminated", gone.Reason, "HCI reason MUST be reported")

	s.p.linkDown(disconnectionComplete(0x0040, 0x13))
	s.quiet()
}

func (s *PeripheralTableTestSuite) TestCentralRoleLinksIgnored() {
	// GOAL: Verify only links accepted as peripheral are announced
	//
	// TEST SCENARIO: connection complete with central role → nothing; failed connection complete → nothing

	s.p.linkUp(connectionComplete(0x0041, 0x00, [6]byte{1, 2, 3, 4, 5, 6}))
	failed := connectionComplete(0x0042, hciRolePeripheral, [6]byte{1, 2, 3, 4, 5, 6})
	failed[1] = 0x3E
	s.p.linkUp(failed)
	s.quiet()
}

func (s *PeripheralTableTestSuite) TestLinkLossWithoutControllerEvents() {
	// GOAL: Verify links never announced by the controller are announced on first request and watched
	//
	// TEST SCENARIO: read on unknown conn → connected then read; conn closes → one disconnected with generic reason

	svc := s.buildTable()

	disc := make(chan struct{})
	c := &mocks.MockConn{}
	c.On("RemoteAddr").Return(ble.NewAddr(tablePeer))
	c.On("Disconnected").Return(disc)

	rsp := &mocks.ResponseWriter{Max: 22}
	s.readable(svc, hid.HIDInformationUUID).ReadHandler.ServeRead(&mocks.Request{Link: c}, rsp)

	conn, ok := s.next().(gatts.Connected)
	s.Require().True(ok, "first request MUST announce the link")
	s.Equal(tablePeer, conn.Peer)
	s.nextOf("read_request")

	close(disc)
	gone, ok := s.nextOf("disconnected").(gatts.Disconnected)
	s.Require().True(ok)
	s.Equal(conn.Conn, gone.Conn)
	s.Equal(disconnectReason, gone.Reason)
	s.quiet()
}

func TestPeripheralTableTestSuite(t *testing.T) {
	suite.Run(t, new(PeripheralTableTestSuite))
}
