package goble

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/blehid/internal/central"
	"github.com/srg/blehid/internal/device"
	"github.com/srg/blehid/internal/groutine"
)

// linkLostReason is reported when go-ble signals a closed link; the HCI reason is not exposed
const linkLostReason = 0x13

// link is the go-ble client of one connection and the attributes discovered on it
type link struct {
	client   ble.Client
	services map[device.Handle]*ble.Service        // start handle -> service
	chars    map[device.Handle]*ble.Characteristic // value handle -> characteristic
	next     device.Handle                         // synthetic handle cursor
}

// resolve keeps a platform handle, or allocates one when the platform reports none.
// CoreBluetooth hides attribute handles.
func (l *link) resolve(h uint16) device.Handle {
	if h != 0 {
		if device.Handle(h) > l.next {
			l.next = device.Handle(h)
		}
		return device.Handle(h)
	}
	l.next++
	return l.next
}

// Central binds central.Stack to a go-ble device. Every go-ble call blocks, so
// each request runs on its own goroutine and reports back through the event pump.
type Central struct {
	dev    ble.Device
	logger *logrus.Logger
	pump   *eventPump[central.Event]
	group  *groutine.Group

	mu         sync.Mutex
	handler    func(central.Event)
	ctx        context.Context
	cancel     context.CancelFunc
	scanCancel context.CancelFunc
	links      map[device.ConnID]*link
	nextConn   device.ConnID
}

// NewCentral opens the BLE device for the central role
func NewCentral(opts DeviceOptions, logger *logrus.Logger) (*Central, error) {
	dev, err := DeviceFactory(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BLE device: %w", err)
	}
	return newCentral(dev, logger), nil
}

func newCentral(dev ble.Device, logger *logrus.Logger) *Central {
	c := &Central{
		dev:    dev,
		logger: logger,
		group:  groutine.NewGroup(logger),
		ctx:    context.Background(),
		links:  make(map[device.ConnID]*link),
	}
	c.pump = newEventPump(c.deliver)
	return c
}

// Start begins delivering stack events to handler
func (c *Central) Start(ctx context.Context, handler func(central.Event)) {
	c.mu.Lock()
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.handler = handler
	runCtx := c.ctx
	c.mu.Unlock()

	c.group.Go(runCtx, "central-event-pump", c.pump.run)
}

// Close drops every link and stops the device
func (c *Central) Close() error {
	c.mu.Lock()
	if c.scanCancel != nil {
		c.scanCancel()
	}
	clients := make([]ble.Client, 0, len(c.links))
	for _, l := range c.links {
		clients = append(clients, l.client)
	}
	c.links = make(map[device.ConnID]*link)
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	for _, cl := range clients {
		if err := cl.CancelConnection(); err != nil {
			c.logger.WithField("error", err).Debug("Failed to cancel connection")
		}
	}
	c.group.Wait()
	return NormalizeError(c.dev.Stop())
}

func (c *Central) deliver(ev central.Event) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h == nil {
		c.logger.WithField("event", ev.EventName()).Debug("Event dropped, no handler installed")
		return
	}
	h(ev)
}

func (c *Central) post(ev central.Event) {
	c.pump.post(ev)
}

// spawn runs a blocking go-ble operation under the stack context
func (c *Central) spawn(name string, fn func(ctx context.Context)) {
	c.mu.Lock()
	ctx := c.ctx
	c.mu.Unlock()
	c.group.Go(ctx, name, fn)
}

func (c *Central) lookup(conn device.ConnID) (*link, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.links[conn]
	if !ok {
		return nil, fmt.Errorf("%w: connection %d", device.ErrNotConnected, conn)
	}
	return l, nil
}

// StartScan scans until CancelScan. Scan parameters are fixed when the device
// is opened (see DeviceOptions), so params only affects logging here.
func (c *Central) StartScan(params central.ScanParams) error {
	c.mu.Lock()
	if c.scanCancel != nil {
		c.scanCancel()
	}
	ctx, cancel := context.WithCancel(c.ctx)
	c.scanCancel = cancel
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"interval": params.Interval,
		"window":   params.Window,
		"active":   params.Active,
	}).Debug("Scan started")

	c.group.Go(ctx, "central-scanner", func(ctx context.Context) {
		err := c.dev.Scan(ctx, false, func(adv ble.Advertisement) {
			ev := advertisementEvent(adv)
			if c.logger.IsLevelEnabled(logrus.TraceLevel) {
				c.logger.WithFields(logrus.Fields{
					"addr":     ev.Addr,
					"name":     ev.Name,
					"rssi":     ev.RSSI,
					"services": advertisedServices(adv),
				}).Trace("Advertisement")
			}
			c.post(ev)
		})
		if err != nil && !isCancelled(err) {
			c.logger.WithField("error", NormalizeError(err)).Warn("Scan stopped")
		}
	})
	return nil
}

func (c *Central) CancelScan() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.scanCancel != nil {
		c.scanCancel()
		c.scanCancel = nil
	}
	return nil
}

// Connect dials addr; the connection timeout comes from params
func (c *Central) Connect(addr string, params central.ConnParams) error {
	c.spawn("central-dialer", func(ctx context.Context) {
		if params.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, params.Timeout)
			defer cancel()
		}

		client, err := c.dev.Dial(ctx, ble.NewAddr(addr))
		if err != nil {
			c.logger.WithFields(logrus.Fields{"addr": addr, "error": NormalizeError(err)}).Debug("Dial failed")
			c.post(central.ConnectResult{Status: statusOf(err), Conn: device.NoConn, Addr: addr})
			return
		}

		c.mu.Lock()
		conn := c.nextConn
		c.nextConn++
		if c.nextConn == device.NoConn {
			c.nextConn = 0
		}
		c.links[conn] = &link{
			client:   client,
			services: make(map[device.Handle]*ble.Service),
			chars:    make(map[device.Handle]*ble.Characteristic),
		}
		c.mu.Unlock()

		c.post(central.ConnectResult{Status: device.StatusOK, Conn: conn, Addr: addr})
		c.watch(conn, client)
	})
	return nil
}

// watch reports the end of the link
func (c *Central) watch(conn device.ConnID, client ble.Client) {
	c.spawn("central-link-watch", func(ctx context.Context) {
		select {
		case <-ctx.Done():
			return
		case <-client.Disconnected():
		}
		c.mu.Lock()
		_, live := c.links[conn]
		delete(c.links, conn)
		c.mu.Unlock()
		if live {
			c.post(central.Disconnected{Conn: conn, Reason: linkLostReason})
		}
	})
}

func (c *Central) Disconnect(conn device.ConnID) error {
	l, err := c.lookup(conn)
	if err != nil {
		return err
	}
	c.spawn("central-disconnect", func(context.Context) {
		if err := l.client.CancelConnection(); err != nil {
			c.logger.WithFields(logrus.Fields{"conn_id": conn, "error": err}).Warn("Failed to cancel connection")
		}
	})
	return nil
}

func (c *Central) DiscoverServiceByUUID(conn device.ConnID, uuid device.UUID16) error {
	l, err := c.lookup(conn)
	if err != nil {
		return err
	}
	c.spawn("central-discover-services", func(context.Context) {
		svcs, err := l.client.DiscoverServices([]ble.UUID{toBLEUUID(uuid)})
		if err != nil {
			c.post(central.ServiceDiscovered{Conn: conn, Status: statusOf(err)})
			return
		}
		for _, svc := range svcs {
			u, _ := fromBLEUUID(svc.UUID)

			c.mu.Lock()
			start := l.resolve(svc.Handle)
			end := device.Handle(svc.EndHandle)
			if end < start {
				end = 0xFFFF
			}
			l.services[start] = svc
			c.mu.Unlock()

			c.post(central.ServiceDiscovered{Conn: conn, Status: device.StatusOK, UUID: u, Start: start, End: end})
		}
		c.post(central.ServiceDiscovered{Conn: conn, Status: device.StatusAttributeNotFound})
	})
	return nil
}

func (c *Central) DiscoverAllCharacteristics(conn device.ConnID, start, end device.Handle) error {
	l, err := c.lookup(conn)
	if err != nil {
		return err
	}
	c.mu.Lock()
	svc, ok := l.services[start]
	c.mu.Unlock()
	if !ok {
		return &device.NotFoundError{Resource: "service", UUIDs: []string{start.String()}}
	}

	c.spawn("central-discover-characteristics", func(context.Context) {
		chars, err := l.client.DiscoverCharacteristics(nil, svc)
		if err != nil {
			c.post(central.CharacteristicDiscovered{Conn: conn, Status: statusOf(err)})
			return
		}
		for _, ch := range chars {
			u, _ := fromBLEUUID(ch.UUID)

			c.mu.Lock()
			decl := l.resolve(ch.Handle)
			value := l.resolve(ch.ValueHandle)
			l.chars[value] = ch
			c.mu.Unlock()

			if decl < start || (end != 0 && decl > end) {
				continue
			}
			c.post(central.CharacteristicDiscovered{
				Conn:        conn,
				Status:      device.StatusOK,
				UUID:        u,
				DeclHandle:  decl,
				ValueHandle: value,
				Props:       fromBLEProperty(ch.Property),
			})
		}
		c.post(central.CharacteristicDiscovered{Conn: conn, Status: device.StatusAttributeNotFound})
	})
	return nil
}

// DiscoverDescriptors lists the descriptors of the characteristic whose value
// attribute directly precedes start
func (c *Central) DiscoverDescriptors(conn device.ConnID, start, end device.Handle) error {
	l, err := c.lookup(conn)
	if err != nil {
		return err
	}
	c.mu.Lock()
	ch, ok := l.chars[start-1]
	c.mu.Unlock()
	if !ok {
		return &device.NotFoundError{Resource: "characteristic", UUIDs: []string{(start - 1).String()}}
	}

	c.spawn("central-discover-descriptors", func(context.Context) {
		descs, err := l.client.DiscoverDescriptors(nil, ch)
		if err != nil {
			c.post(central.DescriptorDiscovered{Conn: conn, Status: statusOf(err)})
			return
		}
		for _, d := range descs {
			u, _ := fromBLEUUID(d.UUID)

			c.mu.Lock()
			h := l.resolve(d.Handle)
			c.mu.Unlock()

			if h < start || h > end {
				continue
			}
			c.post(central.DescriptorDiscovered{Conn: conn, Status: device.StatusOK, UUID: u, Handle: h})
		}
		c.post(central.DescriptorDiscovered{Conn: conn, Status: device.StatusAttributeNotFound})
	})
	return nil
}

// WriteCCCD enables or disables notifications on valueHandle through go-ble's
// subscription API, which writes the CCCD itself
func (c *Central) WriteCCCD(conn device.ConnID, valueHandle, cccdHandle device.Handle, value []byte) error {
	l, err := c.lookup(conn)
	if err != nil {
		return err
	}
	c.mu.Lock()
	ch, ok := l.chars[valueHandle]
	if ok && ch.CCCD == nil {
		ch.CCCD = &ble.Descriptor{UUID: ble.ClientCharacteristicConfigUUID, Handle: uint16(cccdHandle)}
	}
	c.mu.Unlock()
	if !ok {
		return &device.NotFoundError{Resource: "characteristic", UUIDs: []string{valueHandle.String()}}
	}

	enable := len(value) > 0 && value[0]&0x01 != 0
	c.spawn("central-subscribe", func(context.Context) {
		var err error
		if enable {
			err = l.client.Subscribe(ch, false, func(data []byte) {
				c.post(central.NotificationReceived{
					Conn:   conn,
					Handle: valueHandle,
					Value:  append([]byte(nil), data...),
				})
			})
		} else {
			err = l.client.Unsubscribe(ch, false)
		}
		if err != nil {
			c.logger.WithFields(logrus.Fields{"handle": valueHandle, "error": NormalizeError(err)}).Debug("CCCD write failed")
		}
		c.post(central.SubscribeResult{Conn: conn, Status: statusOf(err), Handle: cccdHandle})
	})
	return nil
}
