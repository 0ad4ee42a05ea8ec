package goble

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux/hci/evt"
	"github.com/sirupsen/logrus"
	"github.com/srg/blehid/internal/device"
	"github.com/srg/blehid/internal/gatts"
	"github.com/srg/blehid/internal/groutine"
	"github.com/srg/blehid/internal/hid"
)

// DefaultRequestTimeout bounds how long a go-ble read or write callback waits
// for the session to answer
const DefaultRequestTimeout = 2 * time.Second

// disconnectReason is reported for link loss seen only through ble.Conn, where
// the HCI reason code is not available
const disconnectReason = "link closed"

// hciRolePeripheral is the Role of an LE Connection Complete accepted while advertising
const hciRolePeripheral = 0x01

var hciReasons = map[uint8]string{
	0x08: "supervision timeout",
	0x13: "remote user terminated",
	0x16: "local host terminated",
	0x22: "LMP response timeout",
	0x3B: "unacceptable connection parameters",
	0x3D: "MIC failure",
	0x3E: "connection failed to be established",
}

func hciDisconnectReason(code uint8) string {
	if r, ok := hciReasons[code]; ok {
		return r
	}
	return fmt.Sprintf("hci reason 0x%02X", code)
}

type response struct {
	status device.Status
	value  []byte
}

type attribute struct {
	uuid   device.UUID16
	char   *ble.Characteristic
	parent device.Handle
}

// Peripheral binds gatts.Stack to a go-ble device.
//
// go-ble builds the attribute database from *ble.Service values and only
// publishes it on AddService, so handles here are assigned by the adapter in
// ATT order and every structural request completes immediately. Read and
// write callbacks are turned into request events and park until the session
// answers them. go-ble maintains CCCDs itself; notifier start and stop are
// reported to the session as CCCD writes.
//
// Links are announced from the HCI connection events where the platform
// delivers them (Linux). Elsewhere a link is announced on its first request
// and its loss is observed through ble.Conn.
type Peripheral struct {
	dev    ble.Device
	logger *logrus.Logger
	pump   *eventPump[gatts.Event]
	group  *groutine.Group

	handler func(gatts.Event)

	mu         sync.Mutex
	ctx        context.Context
	cancel     context.CancelFunc
	advCancel  context.CancelFunc
	name       string
	adv        gatts.Advertisement
	nextHandle device.Handle
	services   map[device.Handle]*ble.Service
	attrs      map[device.Handle]attribute
	cccds      map[device.Handle]device.Handle // value handle -> CCCD handle
	notifiers  map[device.Handle]ble.Notifier  // value handle -> live notifier
	conns      map[ble.Conn]device.ConnID
	links      map[uint16]device.ConnID // HCI connection handle -> announced link
	live       map[device.ConnID]string // announced links -> peer address
	nextConn   device.ConnID
	pending    map[uint32]chan response
	nextTrans  uint32
	timeout    time.Duration
}

// NewPeripheral opens the BLE device for the peripheral role
func NewPeripheral(opts DeviceOptions, logger *logrus.Logger) (*Peripheral, error) {
	p := newPeripheral(nil, logger)
	opts.OnConnect = p.linkUp
	opts.OnDisconnect = p.linkDown
	dev, err := DeviceFactory(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BLE device: %w", err)
	}
	p.dev = dev
	return p, nil
}

func newPeripheral(dev ble.Device, logger *logrus.Logger) *Peripheral {
	p := &Peripheral{
		dev:       dev,
		logger:    logger,
		group:     groutine.NewGroup(logger),
		ctx:       context.Background(),
		services:  make(map[device.Handle]*ble.Service),
		attrs:     make(map[device.Handle]attribute),
		cccds:     make(map[device.Handle]device.Handle),
		notifiers: make(map[device.Handle]ble.Notifier),
		conns:     make(map[ble.Conn]device.ConnID),
		links:     make(map[uint16]device.ConnID),
		live:      make(map[device.ConnID]string),
		pending:   make(map[uint32]chan response),
		timeout:   DefaultRequestTimeout,
	}
	p.pump = newEventPump(p.deliver)
	return p
}

// deliver hands ev to the installed handler; events raised before Start are dropped
func (p *Peripheral) deliver(ev gatts.Event) {
	p.mu.Lock()
	h := p.handler
	p.mu.Unlock()
	if h == nil {
		p.logger.WithField("event", ev.EventName()).Debug("Event dropped, no handler installed")
		return
	}
	h(ev)
}

// Start begins delivering stack events to handler
func (p *Peripheral) Start(ctx context.Context, handler func(gatts.Event)) {
	p.mu.Lock()
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.handler = handler
	runCtx := p.ctx
	p.mu.Unlock()

	p.group.Go(runCtx, "gatts-event-pump", p.pump.run)
}

// Close stops advertising, removes the service and stops the device
func (p *Peripheral) Close() error {
	p.mu.Lock()
	if p.advCancel != nil {
		p.advCancel()
	}
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Unlock()

	p.group.Wait()
	if err := p.dev.RemoveAllServices(); err != nil {
		p.logger.WithField("error", err).Debug("Failed to remove services")
	}
	return NormalizeError(p.dev.Stop())
}

func (p *Peripheral) post(ev gatts.Event) {
	p.pump.post(ev)
}

// RegisterProfile completes at once; go-ble has no application registration
func (p *Peripheral) RegisterProfile() error {
	p.post(gatts.Registered{Status: device.StatusOK})
	return nil
}

func (p *Peripheral) SetDeviceName(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.name = name
	return nil
}

func (p *Peripheral) ConfigureAdvertisement(adv gatts.Advertisement) error {
	p.mu.Lock()
	p.adv = adv
	p.mu.Unlock()
	p.post(gatts.AdvertisementConfigured{Status: device.StatusOK})
	return nil
}

// StartAdvertising (re)starts advertising the name and services.
// go-ble advertises until the context ends, so the call runs on its own goroutine.
func (p *Peripheral) StartAdvertising() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.advCancel != nil {
		p.advCancel()
	}
	ctx, cancel := context.WithCancel(p.ctx)
	p.advCancel = cancel

	name := p.adv.Name
	if name == "" {
		name = p.name
	}
	uuids := make([]ble.UUID, 0, len(p.adv.Services))
	for _, u := range p.adv.Services {
		uuids = append(uuids, toBLEUUID(u))
	}

	p.group.Go(ctx, "gatts-advertiser", func(ctx context.Context) {
		err := p.dev.AdvertiseNameAndServices(ctx, name, uuids...)
		if err != nil && !isCancelled(err) {
			p.logger.WithFields(logrus.Fields{
				"name":  name,
				"error": NormalizeError(err),
			}).Warn("Advertising stopped")
		}
	})
	return nil
}

func (p *Peripheral) allocHandle() device.Handle {
	p.nextHandle++
	return p.nextHandle
}

// CreateService starts a new attribute table. Whatever an earlier, possibly
// partial, build left behind is removed first.
func (p *Peripheral) CreateService(uuid device.UUID16, primary bool, numHandles int) error {
	h, err := func() (device.Handle, error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		if len(p.services) > 0 {
			p.resetTableLocked()
		}
		if p.nextHandle+device.Handle(numHandles) < p.nextHandle {
			return 0, device.NewTransportError("create_service", errors.New("handle space exhausted"))
		}
		h := p.allocHandle()
		p.services[h] = ble.NewService(toBLEUUID(uuid))
		return h, nil
	}()
	if err != nil {
		return err
	}

	p.logger.WithFields(logrus.Fields{"uuid": uuid, "handle": h, "primary": primary}).Debug("Service created")
	p.post(gatts.ServiceCreated{Status: device.StatusOK, Handle: h})
	return nil
}

// resetTableLocked drops the attribute table and unpublishes it from the device
func (p *Peripheral) resetTableLocked() {
	if err := p.dev.RemoveAllServices(); err != nil {
		p.logger.WithField("error", err).Debug("Failed to remove services")
	}
	p.services = make(map[device.Handle]*ble.Service)
	p.attrs = make(map[device.Handle]attribute)
	p.cccds = make(map[device.Handle]device.Handle)
	p.notifiers = make(map[device.Handle]ble.Notifier)
	p.nextHandle = 0
	p.logger.Debug("Attribute table reset")
}

func (p *Peripheral) AddCharacteristic(service device.Handle, spec hid.CharacteristicSpec) error {
	value, err := p.addCharacteristic(service, spec)
	if err != nil {
		return err
	}
	p.post(gatts.CharacteristicAdded{Status: device.StatusOK, UUID: spec.UUID, Handle: value})
	return nil
}

func (p *Peripheral) addCharacteristic(service device.Handle, spec hid.CharacteristicSpec) (device.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	svc, ok := p.services[service]
	if !ok {
		return 0, &device.NotFoundError{Resource: "service", UUIDs: []string{service.String()}}
	}

	p.allocHandle() // declaration
	value := p.allocHandle()

	c := ble.NewCharacteristic(toBLEUUID(spec.UUID))
	if spec.Props.Has(device.PropRead) {
		c.HandleRead(ble.ReadHandlerFunc(p.readHandler(value)))
	}
	if spec.Props.Has(device.PropWrite) || spec.Props.Has(device.PropWriteNoResponse) {
		c.HandleWrite(ble.WriteHandlerFunc(p.writeHandler(value)))
	}
	if spec.Props.Has(device.PropNotify) {
		c.HandleNotify(ble.NotifyHandlerFunc(p.notifyHandler(value)))
	}
	c.Property = toBLEProperty(spec.Props)
	// ble.Service.AddCharacteristic refuses a UUID twice; the Report characteristics share one
	svc.Characteristics = append(svc.Characteristics, c)
	p.attrs[value] = attribute{uuid: spec.UUID, char: c}
	return value, nil
}

func (p *Peripheral) AddDescriptor(service, char device.Handle, spec hid.DescriptorSpec) error {
	h, err := p.addDescriptor(service, char, spec)
	if err != nil {
		return err
	}
	p.post(gatts.DescriptorAdded{Status: device.StatusOK, UUID: spec.UUID, Handle: h})
	return nil
}

func (p *Peripheral) addDescriptor(service, char device.Handle, spec hid.DescriptorSpec) (device.Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	parent, ok := p.attrs[char]
	if !ok || parent.char == nil {
		return 0, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{service.String(), char.String()}}
	}

	h := p.allocHandle()
	if spec.UUID == hid.CCCDUUID {
		// go-ble adds the CCCD of a notifying characteristic on its own
		p.cccds[char] = h
	} else {
		d := parent.char.NewDescriptor(toBLEUUID(spec.UUID))
		d.HandleRead(ble.ReadHandlerFunc(p.readHandler(h)))
	}
	p.attrs[h] = attribute{uuid: spec.UUID, parent: char}
	return h, nil
}

func (p *Peripheral) StartService(service device.Handle) error {
	p.mu.Lock()
	svc, ok := p.services[service]
	p.mu.Unlock()
	if !ok {
		return &device.NotFoundError{Resource: "service", UUIDs: []string{service.String()}}
	}

	status := device.StatusOK
	if err := p.dev.AddService(svc); err != nil {
		p.logger.WithFields(logrus.Fields{"service": service, "error": err}).Error("Failed to publish service")
		status = device.StatusError
	}
	p.post(gatts.ServiceStarted{Status: status, Handle: service})
	return nil
}

func (p *Peripheral) SendNotification(conn device.ConnID, handle device.Handle, data []byte, confirm bool) error {
	p.mu.Lock()
	n, ok := p.notifiers[handle]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: no subscriber on %s", device.ErrNotConnected, handle)
	}
	if _, err := n.Write(data); err != nil {
		return NormalizeError(err)
	}
	return nil
}

func (p *Peripheral) SendReadResponse(conn device.ConnID, trans uint32, status device.Status, value []byte) error {
	return p.respond(trans, response{status: status, value: value})
}

func (p *Peripheral) SendWriteResponse(conn device.ConnID, trans uint32, status device.Status) error {
	return p.respond(trans, response{status: status})
}

// RequestEncryption is left to the OS pairing agent
func (p *Peripheral) RequestEncryption(peer string) error {
	return device.ErrUnsupported
}

func (p *Peripheral) respond(trans uint32, rsp response) error {
	p.mu.Lock()
	ch, ok := p.pending[trans]
	delete(p.pending, trans)
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: transaction %d already answered or expired", device.ErrTimeout, trans)
	}
	ch <- rsp
	return nil
}

// announceLocked allocates the id of a new link
func (p *Peripheral) announceLocked(peer string) device.ConnID {
	id := p.nextConn
	p.nextConn++
	if p.nextConn == device.NoConn {
		p.nextConn = 0
	}
	p.live[id] = peer
	return id
}

// livePeerLocked finds an announced link by peer address
func (p *Peripheral) livePeerLocked(peer string) (device.ConnID, bool) {
	if peer == "" {
		return device.NoConn, false
	}
	for id, addr := range p.live {
		if addr == peer {
			return id, true
		}
	}
	return device.NoConn, false
}

// dropLink reports the loss of an announced link once
func (p *Peripheral) dropLink(id device.ConnID, reason string) {
	p.mu.Lock()
	_, ok := p.live[id]
	delete(p.live, id)
	for c, cid := range p.conns {
		if cid == id {
			delete(p.conns, c)
		}
	}
	p.mu.Unlock()
	if ok {
		p.post(gatts.Disconnected{Conn: id, Reason: reason})
	}
}

// linkUp announces a central as soon as the controller accepts it
func (p *Peripheral) linkUp(e evt.LEConnectionComplete) {
	if e.Status() != 0x00 || e.Role() != hciRolePeripheral {
		return
	}
	a := e.PeerAddress()
	peer := net.HardwareAddr{a[5], a[4], a[3], a[2], a[1], a[0]}.String()

	p.mu.Lock()
	id, known := p.livePeerLocked(peer)
	if !known {
		id = p.announceLocked(peer)
	}
	p.links[e.ConnectionHandle()] = id
	p.mu.Unlock()

	if !known {
		p.post(gatts.Connected{Conn: id, Peer: peer})
	}
}

// linkDown reports the loss of a link with its HCI reason
func (p *Peripheral) linkDown(e evt.DisconnectionComplete) {
	p.mu.Lock()
	id, ok := p.links[e.ConnectionHandle()]
	delete(p.links, e.ConnectionHandle())
	p.mu.Unlock()
	if !ok {
		return
	}
	p.dropLink(id, hciDisconnectReason(e.Reason()))
}

// connID returns the id of a go-ble connection. Links the controller has not
// announced are announced here and watched for loss.
func (p *Peripheral) connID(c ble.Conn) device.ConnID {
	peer := ""
	if addr := c.RemoteAddr(); addr != nil {
		peer = addr.String()
	}

	p.mu.Lock()
	if id, ok := p.conns[c]; ok {
		p.mu.Unlock()
		return id
	}
	if id, ok := p.livePeerLocked(peer); ok {
		p.conns[c] = id
		p.mu.Unlock()
		return id
	}
	id := p.announceLocked(peer)
	p.conns[c] = id
	ctx := p.ctx
	p.mu.Unlock()

	p.post(gatts.Connected{Conn: id, Peer: peer})

	p.group.Go(ctx, "gatts-link-watch", func(ctx context.Context) {
		select {
		case <-ctx.Done():
			return
		case <-c.Disconnected():
		}
		p.dropLink(id, disconnectReason)
	})
	return id
}

// await registers a transaction, posts the request built for it and waits for the answer
func (p *Peripheral) await(build func(trans uint32) gatts.Event) (response, bool) {
	ch := make(chan response, 1)
	p.mu.Lock()
	p.nextTrans++
	trans := p.nextTrans
	p.pending[trans] = ch
	p.mu.Unlock()

	p.post(build(trans))

	t := time.NewTimer(p.timeout)
	defer t.Stop()
	select {
	case rsp := <-ch:
		return rsp, true
	case <-t.C:
		p.mu.Lock()
		delete(p.pending, trans)
		p.mu.Unlock()
		return response{}, false
	}
}

func (p *Peripheral) readHandler(h device.Handle) func(ble.Request, ble.ResponseWriter) {
	return func(req ble.Request, rsp ble.ResponseWriter) {
		conn := p.connID(req.Conn())
		out, ok := p.await(func(trans uint32) gatts.Event {
			return gatts.ReadRequest{Conn: conn, Trans: trans, Handle: h, Offset: req.Offset(), NeedResponse: true}
		})
		if !ok {
			p.logger.WithFields(logrus.Fields{"handle": h, "conn_id": conn}).Warn("Read request timed out")
			rsp.SetStatus(ble.ErrUnlikely)
			return
		}
		rsp.SetStatus(ble.ATTError(out.status))
		if len(out.value) > 0 {
			if _, err := rsp.Write(out.value); err != nil {
				p.logger.WithFields(logrus.Fields{"handle": h, "error": err}).Warn("Read response truncated")
			}
		}
	}
}

func (p *Peripheral) writeHandler(h device.Handle) func(ble.Request, ble.ResponseWriter) {
	return func(req ble.Request, rsp ble.ResponseWriter) {
		conn := p.connID(req.Conn())
		value := append([]byte(nil), req.Data()...)
		out, ok := p.await(func(trans uint32) gatts.Event {
			return gatts.WriteRequest{Conn: conn, Trans: trans, Handle: h, Offset: req.Offset(), Value: value, NeedResponse: true}
		})
		if !ok {
			p.logger.WithFields(logrus.Fields{"handle": h, "conn_id": conn}).Warn("Write request timed out")
			rsp.SetStatus(ble.ErrUnlikely)
			return
		}
		rsp.SetStatus(ble.ATTError(out.status))
	}
}

// notifyHandler runs while the central keeps notifications enabled on value
func (p *Peripheral) notifyHandler(value device.Handle) func(ble.Request, ble.Notifier) {
	return func(req ble.Request, n ble.Notifier) {
		conn := p.connID(req.Conn())

		p.mu.Lock()
		p.notifiers[value] = n
		cccd, hasCCCD := p.cccds[value]
		p.mu.Unlock()

		if hasCCCD {
			p.post(gatts.WriteRequest{Conn: conn, Handle: cccd, Value: []byte{0x01, 0x00}})
		}
		p.logger.WithFields(logrus.Fields{"handle": value, "conn_id": conn}).Debug("Notifier started")

		<-n.Context().Done()

		p.mu.Lock()
		if p.notifiers[value] == n {
			delete(p.notifiers, value)
		}
		p.mu.Unlock()
		if hasCCCD {
			p.post(gatts.WriteRequest{Conn: conn, Handle: cccd, Value: []byte{0x00, 0x00}})
		}
		p.logger.WithFields(logrus.Fields{"handle": value, "conn_id": conn}).Debug("Notifier stopped")
	}
}
