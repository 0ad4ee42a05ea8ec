//go:build test

package gatts

import (
	"github.com/srg/blehid/internal/device"
	"github.com/srg/blehid/internal/hid"
	"github.com/stretchr/testify/mock"
)

// MockStack records every command the session issues
type MockStack struct {
	mock.Mock
}

func (m *MockStack) RegisterProfile() error {
	return m.Called().Error(0)
}

func (m *MockStack) SetDeviceName(name string) error {
	return m.Called(name).Error(0)
}

func (m *MockStack) ConfigureAdvertisement(adv Advertisement) error {
	return m.Called(adv).Error(0)
}

func (m *MockStack) StartAdvertising() error {
	return m.Called().Error(0)
}

func (m *MockStack) CreateService(uuid device.UUID16, primary bool, numHandles int) error {
	return m.Called(uuid, primary, numHandles).Error(0)
}

func (m *MockStack) AddCharacteristic(service device.Handle, spec hid.CharacteristicSpec) error {
	return m.Called(service, spec).Error(0)
}

func (m *MockStack) AddDescriptor(service, char device.Handle, spec hid.DescriptorSpec) error {
	return m.Called(service, char, spec).Error(0)
}

func (m *MockStack) StartService(service device.Handle) error {
	return m.Called(service).Error(0)
}

func (m *MockStack) SendNotification(conn device.ConnID, handle device.Handle, data []byte, confirm bool) error {
	return m.Called(conn, handle, data, confirm).Error(0)
}

func (m *MockStack) SendReadResponse(conn device.ConnID, trans uint32, status device.Status, value []byte) error {
	return m.Called(conn, trans, status, value).Error(0)
}

func (m *MockStack) SendWriteResponse(conn device.ConnID, trans uint32, status device.Status) error {
	return m.Called(conn, trans, status).Error(0)
}

func (m *MockStack) RequestEncryption(peer string) error {
	return m.Called(peer).Error(0)
}

// newPermissiveStack accepts every command. Expectations registered by expect
// take precedence since testify matches in registration order.
func newPermissiveStack(expect ...func(m *MockStack)) *MockStack {
	m := &MockStack{}
	for _, fn := range expect {
		fn(m)
	}
	m.On("RegisterProfile").Return(nil).Maybe()
	m.On("SetDeviceName", mock.Anything).Return(nil).Maybe()
	m.On("ConfigureAdvertisement", mock.Anything).Return(nil).Maybe()
	m.On("StartAdvertising").Return(nil).Maybe()
	m.On("CreateService", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("AddCharacteristic", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("AddDescriptor", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("StartService", mock.Anything).Return(nil).Maybe()
	m.On("SendReadResponse", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("SendWriteResponse", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	m.On("RequestEncryption", mock.Anything).Return(device.ErrUnsupported).Maybe()
	return m
}

const testServiceHandle device.Handle = 40

// tableEvents returns the completions of the whole profile with handles numbered
// like an ATT database: characteristic declaration, value, then its descriptors.
// With interleaved=false every characteristic completes before any descriptor.
func tableEvents(interleaved bool) []Event {
	h := testServiceHandle
	var chars, descs, all []Event
	for _, c := range hid.Profile {
		h += 2
		ce := CharacteristicAdded{UUID: c.UUID, Handle: h}
		chars = append(chars, ce)
		all = append(all, ce)
		for _, d := range c.Descriptors {
			h++
			de := DescriptorAdded{UUID: d.UUID, Handle: h}
			descs = append(descs, de)
			all = append(all, de)
		}
	}
	if interleaved {
		return all
	}
	return append(chars, descs...)
}
