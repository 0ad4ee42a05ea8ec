//go:build test

package central

import (
	"github.com/srg/blehid/internal/device"
	"github.com/stretchr/testify/mock"
)

type MockStack struct {
	mock.Mock
}

func (m *MockStack) StartScan(params ScanParams) error {
	return m.Called(params).Error(0)
}

func (m *MockStack) CancelScan() error {
	return m.Called().Error(0)
}

func (m *MockStack) Connect(addr string, params ConnParams) error {
	return m.Called(addr, params).Error(0)
}

func (m *MockStack) Disconnect(conn device.ConnID) error {
	return m.Called(conn).Error(0)
}

func (m *MockStack) DiscoverServiceByUUID(conn device.ConnID, uuid device.UUID16) error {
	return m.Called(conn, uuid).Error(0)
}

func (m *MockStack) DiscoverAllCharacteristics(conn device.ConnID, start, end device.Handle) error {
	return m.Called(conn, start, end).Error(0)
}

func (m *MockStack) DiscoverDescriptors(conn device.ConnID, start, end device.Handle) error {
	return m.Called(conn, start, end).Error(0)
}

func (m *MockStack) WriteCCCD(conn device.ConnID, valueHandle, cccdHandle device.Handle, value []byte) error {
	return m.Called(conn, valueHandle, cccdHandle, value).Error(0)
}

// newPermissiveStack accepts every request; expectations from expect match first
func newPermissiveStack(expect ...func(m *MockStack)) *MockStack {
	m := &MockStack{}
	for _, fn := range expect {
		fn(m)
	}
	m.On("StartScan", mock.Anything).Return(nil).Maybe()
	m.On("CancelScan").Return(nil).Maybe()
	m.On("Connect", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("Disconnect", mock.Anything).Return(nil).Maybe()
	m.On("DiscoverServiceByUUID", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("DiscoverAllCharacteristics", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("DiscoverDescriptors", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("WriteCCCD", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	return m
}

const (
	testConn        device.ConnID = 1
	testAddr                      = "A4:C1:38:00:00:01"
	testValueHandle device.Handle = 0x0021
)

// peerTable is the discovery trace of a keyboard peripheral: the HID service
// at 0x0010..0x0030 with the boot input value at 0x0021 and its CCCD next to it
func peerTable() []Event {
	return []Event{
		ServiceDiscovered{Conn: testConn, UUID: 0x1812, Start: 0x0010, End: 0x0030},
		CharacteristicDiscovered{Conn: testConn, UUID: 0x2A4A, DeclHandle: 0x0011, ValueHandle: 0x0012},
		CharacteristicDiscovered{Conn: testConn, UUID: 0x2A4D, DeclHandle: 0x0013, ValueHandle: 0x0014},
		CharacteristicDiscovered{Conn: testConn, UUID: 0x2A22, DeclHandle: 0x0020, ValueHandle: testValueHandle},
		CharacteristicDiscovered{Conn: testConn, UUID: 0x2A32, DeclHandle: 0x0023, ValueHandle: 0x0024},
		CharacteristicDiscovered{Conn: testConn, Status: device.StatusAttributeNotFound},
	}
}
