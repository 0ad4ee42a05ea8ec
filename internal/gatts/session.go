package gatts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blehid/internal/device"
	"github.com/srg/blehid/internal/groutine"
	"github.com/srg/blehid/internal/hid"
)

// Options configures a peripheral session
type Options struct {
	DeviceName          string
	Appearance          uint16
	ReportInterval      time.Duration
	KeyDown             time.Duration
	RequireSubscription bool
	Reports             []hid.Slot // input reports each key press is sent on
	MaxReadChunk        int
	RebuildDelay        time.Duration
	Encryption          bool
	Keycode             KeycodeSource // nil picks random letters
}

// DefaultOptions returns the keyboard defaults
func DefaultOptions() Options {
	return Options{
		DeviceName:     "Go HID Keyboard",
		Appearance:     hid.AppearanceKeyboard,
		ReportInterval: time.Second,
		KeyDown:        500 * time.Millisecond,
		Reports:        []hid.Slot{hid.SlotBootInput},
		MaxReadChunk:   DefaultMaxReadChunk,
		RebuildDelay:   time.Second,
		Encryption:     true,
	}
}

// Status is a point-in-time view of a session
type Status struct {
	Builder       BuilderState
	Gate          GateBit
	Ready         bool
	Conn          device.ConnID
	Peer          string
	Link          LinkState
	Subscriptions []hid.Slot
	ProtocolMode  hid.ProtocolMode
	LEDs          hid.LEDs
	Handles       []Entry
}

// Session is one keyboard peripheral instance. All stack events enter through
// HandleEvent and are serialized by the session lock; the notifier runs on its
// own goroutine and consults the gate before every send.
type Session struct {
	mu     sync.Mutex
	stack  Stack
	logger *logrus.Logger
	opts   Options

	registry   *Registry
	builder    *Builder
	dispatcher *Dispatcher
	gate       *Gate
	notifier   *Notifier
	conn       *Connection

	group    *groutine.Group
	ctx      context.Context
	cancel   context.CancelFunc
	rebuilds int
}

// NewSession creates a peripheral session over stack
func NewSession(stack Stack, opts Options, logger *logrus.Logger) *Session {
	registry := NewRegistry()
	s := &Session{
		stack:      stack,
		logger:     logger,
		opts:       opts,
		registry:   registry,
		builder:    NewBuilder(registry),
		dispatcher: NewDispatcher(registry, opts.MaxReadChunk, logger),
		gate:       NewGate(opts.RequireSubscription),
		group:      groutine.NewGroup(logger),
		ctx:        context.Background(),
	}
	s.notifier = newNotifier(s, opts, logger)
	return s
}

// Start registers the profile and starts the report notifier.
// The rest of the bring-up is driven by stack events.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"device_name":          s.opts.DeviceName,
		"reports":              s.opts.Reports,
		"require_subscription": s.opts.RequireSubscription,
	}).Info("Starting HID peripheral")

	if err := s.stack.RegisterProfile(); err != nil {
		s.cancel()
		return fmt.Errorf("failed to register GATT profile: %w", err)
	}
	s.group.Go(s.ctx, "hid-report-notifier", s.notifier.Run)
	return nil
}

// Close stops background work and waits for it
func (s *Session) Close() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.group.Wait()
}

// Ready reports the gate decision
func (s *Session) Ready() bool {
	return s.gate.Ready()
}

// Status returns a snapshot of the session
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Builder:      s.builder.State(),
		Gate:         s.gate.Bits(),
		Ready:        s.gate.Ready(),
		Conn:         device.NoConn,
		ProtocolMode: s.dispatcher.ProtocolMode(),
		LEDs:         s.dispatcher.LEDs(),
		Handles:      s.registry.Entries(),
	}
	if s.conn != nil {
		st.Conn = s.conn.ID
		st.Peer = s.conn.Peer
		st.Link = s.conn.State
		st.Subscriptions = s.conn.Subscriptions()
	}
	return st
}

// HandleEvent applies one stack event. It never fails: every error is logged
// and handled by its recovery strategy.
func (s *Session) HandleEvent(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.WithField("event", ev.EventName()).Debug("Stack event")

	switch e := ev.(type) {
	case Registered:
		s.onRegistered(e)
	case AdvertisementConfigured:
		s.onAdvertisementConfigured(e)
	case ServiceCreated, CharacteristicAdded, DescriptorAdded, ServiceStarted:
		s.onStructural(ev)
	case Connected:
		s.onConnected(e)
	case Disconnected:
		s.onDisconnected(e)
	case AuthComplete:
		s.onAuthComplete(e)
	case ReadRequest:
		s.onRead(e)
	case WriteRequest:
		s.onWrite(e)
	default:
		s.logger.WithField("event", ev.EventName()).Warn("Unhandled stack event")
	}
}

func (s *Session) onRegistered(e Registered) {
	if !e.Status.OK() {
		err := device.NewStructuralError(e.EventName(), e.Status)
		s.logger.WithField("error", err).Error("Profile registration failed")
		s.scheduleRetry("gatts-reregister", func() {
			if err := s.stack.RegisterProfile(); err != nil {
				s.logger.WithField("error", err).Error("Profile registration retry failed")
			}
		})
		return
	}

	if err := s.stack.SetDeviceName(s.opts.DeviceName); err != nil {
		s.logger.WithField("error", err).Warn("Failed to set device name")
	}
	adv := Advertisement{
		Name:           s.opts.DeviceName,
		Appearance:     s.opts.Appearance,
		Services:       []device.UUID16{hid.ServiceUUID},
		IncludeTxPower: true,
	}
	if err := s.stack.ConfigureAdvertisement(adv); err != nil {
		s.logger.WithField("error", err).Warn("Failed to configure advertisement")
	}
	s.beginTable()
}

func (s *Session) onAdvertisementConfigured(e AdvertisementConfigured) {
	if !e.Status.OK() {
		s.logger.WithField("status", e.Status).Warn("Advertisement data rejected")
		return
	}
	s.startAdvertising()
}

func (s *Session) startAdvertising() {
	if err := s.stack.StartAdvertising(); err != nil {
		s.logger.WithField("error", err).Warn("Failed to start advertising")
		return
	}
	s.logger.WithField("device_name", s.opts.DeviceName).Info("Advertising")
}

func (s *Session) beginTable() {
	s.gate.Clear(BitTableStarted)
	s.exec(s.builder.Begin())
}

func (s *Session) onStructural(ev Event) {
	cmds, err := s.builder.Handle(ev)
	if err != nil {
		s.handleBuilderError(ev, err)
		return
	}

	chars, descs := s.builder.Progress()
	s.logger.WithFields(logrus.Fields{
		"event":           ev.EventName(),
		"state":           s.builder.State(),
		"characteristics": chars,
		"descriptors":     descs,
	}).Debug("Attribute table progress")

	s.exec(cmds)

	if s.builder.State() == Started {
		s.gate.Set(BitTableStarted)
		s.rebuilds = 0
		s.logger.WithFields(logrus.Fields{
			"service":         s.builder.Service(),
			"characteristics": s.registry.Count(RoleCharacteristic),
			"descriptors":     s.registry.Count(RoleDescriptor),
		}).Info("HID service started")
	}
}

func (s *Session) handleBuilderError(ev Event, err error) {
	fields := logrus.Fields{"event": ev.EventName(), "state": s.builder.State(), "error": err}
	if errors.Is(err, device.ErrStructuralFailure) {
		s.logger.WithFields(fields).Error("Attribute table construction failed, rebuilding")
		s.scheduleRebuild()
		return
	}
	s.logger.WithFields(fields).Warn("Ignoring unexpected completion")
}

// exec issues builder commands; a synchronous rejection is a structural failure
func (s *Session) exec(cmds []Command) {
	for _, cmd := range cmds {
		if err := cmd.Exec(s.stack); err != nil {
			s.builder.Fail()
			s.logger.WithFields(logrus.Fields{
				"command": cmd.CommandName(),
				"error":   err,
			}).Error("Stack rejected structural request, rebuilding")
			s.scheduleRebuild()
			return
		}
	}
}

func (s *Session) scheduleRebuild() {
	s.gate.Clear(BitTableStarted)
	s.rebuilds++
	s.logger.WithFields(logrus.Fields{
		"attempt": s.rebuilds,
		"delay":   s.opts.RebuildDelay,
	}).Info("Scheduling attribute table rebuild")
	s.scheduleRetry("gatts-rebuild", func() {
		if s.builder.State() == Failed {
			s.beginTable()
		}
	})
}

// scheduleRetry runs fn under the session lock after RebuildDelay
func (s *Session) scheduleRetry(name string, fn func()) {
	delay := s.opts.RebuildDelay
	s.group.Go(s.ctx, name, func(ctx context.Context) {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		fn()
	})
}

func (s *Session) onConnected(e Connected) {
	fields := logrus.Fields{"conn_id": e.Conn, "peer": e.Peer}
	if s.conn != nil {
		s.logger.WithFields(fields).WithField("current", s.conn.ID).Warn("Second connection ignored")
		return
	}

	s.conn = NewConnection(e.Conn, e.Peer)
	s.gate.Set(BitConnected)
	s.gate.Clear(BitSubscribed)
	s.logger.WithFields(fields).Info("Central connected")

	if !s.opts.Encryption {
		s.conn.State = LinkReady
		return
	}
	err := s.stack.RequestEncryption(e.Peer)
	switch {
	case err == nil:
		s.conn.State = LinkAuthenticating
	case errors.Is(err, device.ErrUnsupported):
		s.logger.WithFields(fields).Debug("Stack handles link security itself")
		s.conn.State = LinkReady
	default:
		s.logger.WithFields(fields).WithField("error", err).Warn("Failed to request encryption")
		s.conn.State = LinkReady
	}
}

func (s *Session) onAuthComplete(e AuthComplete) {
	fields := logrus.Fields{"peer": e.Peer}
	if s.conn == nil || s.conn.Peer != e.Peer {
		s.logger.WithFields(fields).Warn("Authentication result for unknown peer ignored")
		return
	}
	if !e.Success {
		// the link stays up; hosts that insist on encryption will drop it themselves
		s.logger.WithFields(fields).WithField("reason", e.Reason).Error("Authentication failed")
		s.conn.State = LinkConnected
		return
	}
	s.conn.State = LinkReady
	s.logger.WithFields(fields).Info("Link encrypted")
}

func (s *Session) onDisconnected(e Disconnected) {
	fields := logrus.Fields{"conn_id": e.Conn, "reason": e.Reason}
	if s.conn == nil || s.conn.ID != e.Conn {
		err := device.NewProtocolError(e.EventName(), "no live connection %d", e.Conn)
		s.logger.WithFields(fields).WithField("error", err).Warn("Ignoring disconnect")
		return
	}

	s.gate.Clear(BitConnected | BitSubscribed)
	s.conn.State = LinkDisconnected
	s.conn = nil
	s.logger.WithFields(fields).Info("Central disconnected")

	s.startAdvertising()
}

func (s *Session) onRead(e ReadRequest) {
	rsp := s.dispatcher.Read(s.connFor(e.Conn), e)
	if !rsp.Send {
		return
	}
	if err := s.stack.SendReadResponse(e.Conn, e.Trans, rsp.Status, rsp.Value); err != nil {
		s.logger.WithFields(logrus.Fields{
			"conn_id": e.Conn,
			"handle":  e.Handle,
			"error":   device.NewTransportError("send_read_response", err),
		}).Warn("Failed to send read response")
	}
}

func (s *Session) onWrite(e WriteRequest) {
	rsp := s.dispatcher.Write(s.connFor(e.Conn), e)
	s.refreshSubscribed()
	if !rsp.Send {
		return
	}
	if err := s.stack.SendWriteResponse(e.Conn, e.Trans, rsp.Status); err != nil {
		s.logger.WithFields(logrus.Fields{
			"conn_id": e.Conn,
			"handle":  e.Handle,
			"error":   device.NewTransportError("send_write_response", err),
		}).Warn("Failed to send write response")
	}
}

func (s *Session) connFor(id device.ConnID) *Connection {
	if s.conn == nil || s.conn.ID != id {
		return nil
	}
	return s.conn
}

// refreshSubscribed raises the Subscribed bit while any report target is subscribed
func (s *Session) refreshSubscribed() {
	if s.conn != nil {
		for _, slot := range s.opts.Reports {
			if s.conn.Subscribed(slot) {
				s.gate.Set(BitSubscribed)
				return
			}
		}
	}
	s.gate.Clear(BitSubscribed)
}

func (s *Session) readyConn() (device.ConnID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.gate.Ready() || s.conn == nil {
		return device.NoConn, false
	}
	return s.conn.ID, true
}

// sendReport sends one input report if the gate is open and conn is still the live link
func (s *Session) sendReport(conn device.ConnID, slot hid.Slot, data []byte) error {
	s.mu.Lock()
	if !s.gate.Ready() {
		s.mu.Unlock()
		return ErrNotReady
	}
	if s.conn == nil || s.conn.ID != conn {
		s.mu.Unlock()
		return device.ErrStaleConn
	}
	handle, ok := s.registry.Handle(slot)
	if !ok {
		s.mu.Unlock()
		return device.NewProtocolError("send_report", "%s has no handle", slot)
	}
	s.dispatcher.Remember(slot, data)
	s.mu.Unlock()

	if err := s.stack.SendNotification(conn, handle, data, false); err != nil {
		return device.NewTransportError("send_notification", err)
	}
	return nil
}
