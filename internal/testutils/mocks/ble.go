//go:build test

// Package mocks holds testify mocks of the go-ble interfaces. Each mock embeds
// the interface it implements, so methods without an override panic if called.
package mocks

import (
	"context"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"
)

// MockDevice mocks ble.Device
type MockDevice struct {
	mock.Mock
	ble.Device
}

func (m *MockDevice) AddService(svc *ble.Service) error {
	return m.Called(svc).Error(0)
}

func (m *MockDevice) RemoveAllServices() error {
	return m.Called().Error(0)
}

func (m *MockDevice) Stop() error {
	return m.Called().Error(0)
}

func (m *MockDevice) AdvertiseNameAndServices(ctx context.Context, name string, uuids ...ble.UUID) error {
	return m.Called(ctx, name, uuids).Error(0)
}

func (m *MockDevice) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	return m.Called(ctx, allowDup, h).Error(0)
}

func (m *MockDevice) Dial(ctx context.Context, a ble.Addr) (ble.Client, error) {
	args := m.Called(ctx, a)
	if fn, ok := args.Get(0).(func(context.Context, ble.Addr) (ble.Client, error)); ok {
		return fn(ctx, a)
	}
	if c, ok := args.Get(0).(ble.Client); ok {
		return c, args.Error(1)
	}
	return nil, args.Error(1)
}

// MockClient mocks ble.Client
type MockClient struct {
	mock.Mock
	ble.Client
}

func (m *MockClient) DiscoverServices(filter []ble.UUID) ([]*ble.Service, error) {
	args := m.Called(filter)
	svcs, _ := args.Get(0).([]*ble.Service)
	return svcs, args.Error(1)
}

func (m *MockClient) DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error) {
	args := m.Called(filter, s)
	chars, _ := args.Get(0).([]*ble.Characteristic)
	return chars, args.Error(1)
}

func (m *MockClient) DiscoverDescriptors(filter []ble.UUID, c *ble.Characteristic) ([]*ble.Descriptor, error) {
	args := m.Called(filter, c)
	descs, _ := args.Get(0).([]*ble.Descriptor)
	return descs, args.Error(1)
}

func (m *MockClient) Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error {
	return m.Called(c, ind, h).Error(0)
}

func (m *MockClient) Unsubscribe(c *ble.Characteristic, ind bool) error {
	return m.Called(c, ind).Error(0)
}

func (m *MockClient) CancelConnection() error {
	return m.Called().Error(0)
}

func (m *MockClient) Disconnected() <-chan struct{} {
	args := m.Called()
	ch, _ := args.Get(0).(chan struct{})
	return ch
}

// MockAdvertisement mocks ble.Advertisement
type MockAdvertisement struct {
	mock.Mock
	ble.Advertisement
}

func (m *MockAdvertisement) LocalName() string {
	return m.Called().String(0)
}

func (m *MockAdvertisement) RSSI() int {
	return m.Called().Int(0)
}

func (m *MockAdvertisement) Addr() ble.Addr {
	args := m.Called()
	a, _ := args.Get(0).(ble.Addr)
	return a
}

func (m *MockAdvertisement) Services() []ble.UUID {
	args := m.Called()
	u, _ := args.Get(0).([]ble.UUID)
	return u
}

// MockConn mocks ble.Conn
type MockConn struct {
	mock.Mock
	ble.Conn
}

func (m *MockConn) RemoteAddr() ble.Addr {
	args := m.Called()
	a, _ := args.Get(0).(ble.Addr)
	return a
}

func (m *MockConn) Disconnected() <-chan struct{} {
	args := m.Called()
	ch, _ := args.Get(0).(chan struct{})
	return ch
}

// Request is a ble.Request carrying fixed values
type Request struct {
	Link  ble.Conn
	Value []byte
	Offs  int
}

func (r *Request) Conn() ble.Conn { return r.Link }
func (r *Request) Data() []byte   { return r.Value }
func (r *Request) Offset() int    { return r.Offs }

// ResponseWriter records what a handler answers
type ResponseWriter struct {
	Buf  []byte
	Code ble.ATTError
	Max  int
}

func (w *ResponseWriter) Write(b []byte) (int, error) {
	w.Buf = append(w.Buf, b...)
	return len(b), nil
}

func (w *ResponseWriter) Status() ble.ATTError        { return w.Code }
func (w *ResponseWriter) SetStatus(code ble.ATTError) { w.Code = code }
func (w *ResponseWriter) Len() int                    { return len(w.Buf) }
func (w *ResponseWriter) Cap() int                    { return w.Max }

// Notifier records notification writes until its context ends
type Notifier struct {
	Ctx    context.Context
	Writes chan []byte
}

func (n *Notifier) Context() context.Context { return n.Ctx }

func (n *Notifier) Write(b []byte) (int, error) {
	n.Writes <- append([]byte(nil), b...)
	return len(b), nil
}

func (n *Notifier) Close() error { return nil }
func (n *Notifier) Cap() int     { return 20 }
