package central

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/blehid/internal/device"
	"github.com/srg/blehid/internal/hid"
)

// State of the discovery and subscription machine
type State int

const (
	StateIdle State = iota
	StateScanning
	StateConnecting
	StateConnected
	StateDiscoveringService
	StateDiscoveringCharacteristics
	StateDiscoveringDescriptors
	StateSubscribing
	StateStreaming
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDiscoveringService:
		return "discovering_service"
	case StateDiscoveringCharacteristics:
		return "discovering_characteristics"
	case StateDiscoveringDescriptors:
		return "discovering_descriptors"
	case StateSubscribing:
		return "subscribing"
	case StateStreaming:
		return "streaming"
	case StateBackoff:
		return "backoff"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// linked reports whether the state owns a live connection
func (s State) linked() bool {
	return s >= StateConnected && s <= StateStreaming
}

// CCCDStrategy selects how the CCCD of the boot input characteristic is found
type CCCDStrategy string

const (
	// CCCDAdjacent assumes the CCCD sits at value_handle+1
	CCCDAdjacent CCCDStrategy = "adjacent"
	// CCCDDiscover discovers the descriptors of the characteristic
	CCCDDiscover CCCDStrategy = "discover"
)

// Options configures the central
type Options struct {
	NameFilter    string
	Scan          ScanParams
	Conn          ConnParams
	CCCDStrategy  CCCDStrategy
	ReconnectBase time.Duration
	ReconnectMax  time.Duration
	EventBuffer   int
}

// DefaultOptions returns the keyboard consumer defaults
func DefaultOptions() Options {
	return Options{
		NameFilter: "Keyboard",
		Scan:       ScanParams{Interval: 0x10, Window: 0x10, Active: true},
		Conn: ConnParams{
			ScanInterval:       0x10,
			ScanWindow:         0x10,
			IntervalMin:        0x10,
			IntervalMax:        0x10,
			Latency:            0,
			SupervisionTimeout: 500,
			Timeout:            10 * time.Second,
		},
		CCCDStrategy:  CCCDAdjacent,
		ReconnectBase: time.Second,
		ReconnectMax:  30 * time.Second,
		EventBuffer:   64,
	}
}

// Output is what one step asks the session to do
type Output struct {
	Commands []Command
	Report   *ReportEvent
	// Reconnect asks for BackoffElapsed after Delay
	Reconnect bool
	Delay     time.Duration
}

// Transition hook, called for every state change
type TransitionFunc func(from, to State)

// Machine is the central state machine: (state, event) -> (state, output).
// It performs no I/O; the session executes its commands.
type Machine struct {
	opts    Options
	logger  *logrus.Logger
	backoff *Backoff
	now     func() time.Time

	state State
	conn  device.ConnID
	peer  string

	svcStart, svcEnd device.Handle
	valueHandle      device.Handle
	nextDecl         device.Handle
	cccdHandle       device.Handle

	OnTransition TransitionFunc
}

// NewMachine creates an idle machine
func NewMachine(opts Options, logger *logrus.Logger) *Machine {
	if opts.CCCDStrategy == "" {
		opts.CCCDStrategy = CCCDAdjacent
	}
	return &Machine{
		opts:    opts,
		logger:  logger,
		backoff: NewBackoff(opts.ReconnectBase, opts.ReconnectMax),
		now:     time.Now,
		conn:    device.NoConn,
	}
}

// State returns the current state
func (m *Machine) State() State {
	return m.state
}

// Conn returns the live connection id, NoConn when unlinked
func (m *Machine) Conn() device.ConnID {
	return m.conn
}

// Peer returns the address of the peer being connected or streamed from
func (m *Machine) Peer() string {
	return m.peer
}

// ValueHandle returns the boot input value handle once discovered
func (m *Machine) ValueHandle() device.Handle {
	return m.valueHandle
}

// CCCDHandle returns the CCCD handle written to subscribe
func (m *Machine) CCCDHandle() device.Handle {
	return m.cccdHandle
}

// Attempt returns the reconnect attempt counter
func (m *Machine) Attempt() int {
	return m.backoff.Attempt()
}

func (m *Machine) setState(to State) {
	from := m.state
	if from == to {
		return
	}
	m.state = to
	m.logger.WithFields(logrus.Fields{"from": from, "to": to}).Debug("Central state change")
	if m.OnTransition != nil {
		m.OnTransition(from, to)
	}
}

// Start leaves Idle and begins scanning
func (m *Machine) Start() Output {
	if m.state != StateIdle {
		return Output{}
	}
	return m.scan()
}

// Stop returns to Idle, cancelling the scan or dropping the link
func (m *Machine) Stop() Output {
	var out Output
	switch {
	case m.state == StateScanning:
		out.Commands = []Command{CancelScanCmd{}}
	case m.state == StateConnecting || m.state.linked():
		if m.conn != device.NoConn {
			out.Commands = []Command{DisconnectCmd{Conn: m.conn}}
		} else {
			out.Commands = []Command{CancelScanCmd{}}
		}
	}
	m.clearLink()
	m.setState(StateIdle)
	return out
}

func (m *Machine) scan() Output {
	m.setState(StateScanning)
	return Output{Commands: []Command{StartScanCmd{Params: m.opts.Scan}}}
}

func (m *Machine) clearLink() {
	m.conn = device.NoConn
	m.peer = ""
	m.svcStart, m.svcEnd = device.InvalidHandle, device.InvalidHandle
	m.valueHandle = device.InvalidHandle
	m.nextDecl = device.InvalidHandle
	m.cccdHandle = device.InvalidHandle
}

// Step applies one event. A ProtocolViolation error means the event was ignored.
func (m *Machine) Step(ev Event) (Output, error) {
	switch e := ev.(type) {
	case AdvertisementReceived:
		return m.onAdvertisement(e)
	case ConnectResult:
		return m.onConnectResult(e)
	case ServiceDiscovered:
		return m.onService(e)
	case CharacteristicDiscovered:
		return m.onCharacteristic(e)
	case DescriptorDiscovered:
		return m.onDescriptor(e)
	case SubscribeResult:
		return m.onSubscribe(e)
	case NotificationReceived:
		return m.onNotification(e)
	case Disconnected:
		return m.onDisconnected(e)
	case BackoffElapsed:
		return m.onBackoffElapsed()
	default:
		return Output{}, device.NewProtocolError(ev.EventName(), "unknown event")
	}
}

func (m *Machine) unexpected(ev Event) error {
	return device.NewProtocolError(ev.EventName(), "unexpected in state %s", m.state)
}

// checkConn rejects events of a connection other than the live one
func (m *Machine) checkConn(ev Event, conn device.ConnID) error {
	if conn != m.conn {
		return device.NewProtocolError(ev.EventName(), "connection %d is not the live link %d", conn, m.conn)
	}
	return nil
}

func (m *Machine) onAdvertisement(e AdvertisementReceived) (Output, error) {
	if m.state != StateScanning {
		// scan results racing CancelScan are normal
		return Output{}, nil
	}
	if e.Name == "" || !strings.Contains(e.Name, m.opts.NameFilter) {
		return Output{}, nil
	}

	m.logger.WithFields(logrus.Fields{
		"name": e.Name,
		"addr": e.Addr,
		"rssi": e.RSSI,
	}).Info("Found keyboard, connecting")

	m.peer = e.Addr
	m.setState(StateConnecting)
	return Output{Commands: []Command{
		CancelScanCmd{},
		ConnectCmd{Addr: e.Addr, Params: m.opts.Conn},
	}}, nil
}

func (m *Machine) onConnectResult(e ConnectResult) (Output, error) {
	if m.state != StateConnecting {
		return Output{}, m.unexpected(e)
	}
	if !e.Status.OK() {
		m.logger.WithFields(logrus.Fields{"addr": m.peer, "status": e.Status}).Error("Connect failed")
		return m.toBackoff(false), nil
	}

	m.conn = e.Conn
	if e.Addr != "" {
		m.peer = e.Addr
	}
	m.setState(StateConnected)
	m.logger.WithFields(logrus.Fields{"conn_id": m.conn, "addr": m.peer}).Info("Connected")

	m.setState(StateDiscoveringService)
	return Output{Commands: []Command{DiscoverServiceCmd{Conn: m.conn, UUID: hid.ServiceUUID}}}, nil
}

func (m *Machine) onService(e ServiceDiscovered) (Output, error) {
	if err := m.checkConn(e, e.Conn); err != nil {
		return Output{}, err
	}
	switch m.state {
	case StateDiscoveringService:
	case StateDiscoveringCharacteristics, StateDiscoveringDescriptors, StateSubscribing, StateStreaming:
		// trailing results and the end of the service procedure
		return Output{}, nil
	default:
		return Output{}, m.unexpected(e)
	}

	if !e.Status.OK() {
		m.logDone(e.Status, "Service discovery finished without the HID service")
		return Output{Commands: []Command{DisconnectCmd{Conn: m.conn}}}, nil
	}
	if e.UUID != hid.ServiceUUID {
		return Output{}, nil
	}

	m.svcStart, m.svcEnd = e.Start, e.End
	m.logger.WithFields(logrus.Fields{"start": e.Start, "end": e.End}).Info("HID service found")
	m.setState(StateDiscoveringCharacteristics)
	return Output{Commands: []Command{DiscoverCharacteristicsCmd{Conn: m.conn, Start: e.Start, End: e.End}}}, nil
}

func (m *Machine) onCharacteristic(e CharacteristicDiscovered) (Output, error) {
	if err := m.checkConn(e, e.Conn); err != nil {
		return Output{}, err
	}
	if m.state != StateDiscoveringCharacteristics {
		return Output{}, m.unexpected(e)
	}

	if e.Status.OK() {
		switch {
		case e.UUID == hid.BootKeyboardInputUUID && m.valueHandle == device.InvalidHandle:
			m.valueHandle = e.ValueHandle
			m.logger.WithField("value_handle", e.ValueHandle).Info("Found Boot Input Report")
		case m.valueHandle != device.InvalidHandle && m.nextDecl == device.InvalidHandle:
			m.nextDecl = e.DeclHandle
		}
		return Output{}, nil
	}

	// the non-OK status is the end of the procedure
	m.logDone(e.Status, "Characteristic discovery finished")
	if m.valueHandle == device.InvalidHandle {
		m.logger.WithField("conn_id", m.conn).Warn("Peer has no Boot Keyboard Input characteristic")
		return Output{Commands: []Command{DisconnectCmd{Conn: m.conn}}}, nil
	}

	if m.opts.CCCDStrategy == CCCDDiscover {
		end := m.svcEnd
		if m.nextDecl != device.InvalidHandle {
			end = m.nextDecl - 1
		}
		if end > m.valueHandle {
			m.setState(StateDiscoveringDescriptors)
			return Output{Commands: []Command{DiscoverDescriptorsCmd{Conn: m.conn, Start: m.valueHandle + 1, End: end}}}, nil
		}
		m.logger.WithField("value_handle", m.valueHandle).Warn("No descriptor range, assuming adjacent CCCD")
	}
	return m.subscribe(m.valueHandle + 1), nil
}

func (m *Machine) onDescriptor(e DescriptorDiscovered) (Output, error) {
	if err := m.checkConn(e, e.Conn); err != nil {
		return Output{}, err
	}
	if m.state != StateDiscoveringDescriptors {
		return Output{}, m.unexpected(e)
	}

	if e.Status.OK() {
		if e.UUID == hid.CCCDUUID && m.cccdHandle == device.InvalidHandle {
			m.cccdHandle = e.Handle
		}
		return Output{}, nil
	}

	m.logDone(e.Status, "Descriptor discovery finished")
	cccd := m.cccdHandle
	if cccd == device.InvalidHandle {
		cccd = m.valueHandle + 1
		m.logger.WithField("value_handle", m.valueHandle).Warn("CCCD not discovered, assuming adjacent CCCD")
	}
	return m.subscribe(cccd), nil
}

func (m *Machine) subscribe(cccd device.Handle) Output {
	m.cccdHandle = cccd
	m.setState(StateSubscribing)
	return Output{Commands: []Command{WriteCCCDCmd{
		Conn:        m.conn,
		ValueHandle: m.valueHandle,
		CCCDHandle:  cccd,
		Value:       []byte{0x01, 0x00},
	}}}
}

func (m *Machine) onSubscribe(e SubscribeResult) (Output, error) {
	if err := m.checkConn(e, e.Conn); err != nil {
		return Output{}, err
	}
	if m.state != StateSubscribing {
		return Output{}, m.unexpected(e)
	}
	if !e.Status.OK() {
		m.logger.WithFields(logrus.Fields{"cccd": m.cccdHandle, "status": e.Status}).Error("Subscription rejected")
		return Output{Commands: []Command{DisconnectCmd{Conn: m.conn}}}, nil
	}

	m.backoff.Reset()
	m.setState(StateStreaming)
	m.logger.WithFields(logrus.Fields{
		"conn_id":      m.conn,
		"value_handle": m.valueHandle,
		"cccd":         m.cccdHandle,
	}).Info("Subscribed to keyboard reports")
	return Output{}, nil
}

func (m *Machine) onNotification(e NotificationReceived) (Output, error) {
	if err := m.checkConn(e, e.Conn); err != nil {
		return Output{}, err
	}
	if m.state != StateStreaming {
		return Output{}, m.unexpected(e)
	}
	if e.Handle != m.valueHandle {
		return Output{}, device.NewProtocolError(e.EventName(), "notification on foreign handle %s", e.Handle)
	}
	ev := NewReportEvent(m.now(), e.Conn, e.Handle, e.Value)
	return Output{Report: &ev}, nil
}

func (m *Machine) onDisconnected(e Disconnected) (Output, error) {
	if m.state != StateConnecting && !m.state.linked() {
		return Output{}, m.unexpected(e)
	}
	if m.conn != device.NoConn {
		if err := m.checkConn(e, e.Conn); err != nil {
			return Output{}, err
		}
	}

	wasStreaming := m.state == StateStreaming
	m.logger.WithFields(logrus.Fields{
		"conn_id": e.Conn,
		"reason":  e.Reason,
		"state":   m.state,
	}).Warn("Disconnected")
	return m.toBackoff(wasStreaming), nil
}

// toBackoff drops the link and waits before scanning again.
// Losing a streaming link rescans immediately.
func (m *Machine) toBackoff(immediate bool) Output {
	m.clearLink()
	m.setState(StateBackoff)

	var delay time.Duration
	if !immediate {
		delay = m.backoff.Next()
	}
	m.logger.WithFields(logrus.Fields{
		"attempt": m.backoff.Attempt(),
		"delay":   delay,
	}).Info("Reconnect scheduled")
	return Output{Reconnect: true, Delay: delay}
}

func (m *Machine) onBackoffElapsed() (Output, error) {
	if m.state != StateBackoff {
		// a stale timer after Stop
		return Output{}, nil
	}
	return m.scan(), nil
}

// minRetryDelay spaces scan retries after the adapter refused to scan
const minRetryDelay = time.Second

// CommandFailed handles a request the stack rejected synchronously
func (m *Machine) CommandFailed(cmd Command) Output {
	if m.state == StateIdle {
		return Output{}
	}
	switch cmd.(type) {
	case CancelScanCmd:
		return Output{}
	case StartScanCmd:
		out := m.toBackoff(false)
		if out.Delay < minRetryDelay {
			out.Delay = minRetryDelay
		}
		return out
	case ConnectCmd, DisconnectCmd:
		return m.toBackoff(false)
	default:
		if m.conn == device.NoConn {
			return m.toBackoff(false)
		}
		return Output{Commands: []Command{DisconnectCmd{Conn: m.conn}}}
	}
}

func (m *Machine) logDone(status device.Status, msg string) {
	entry := m.logger.WithFields(logrus.Fields{"conn_id": m.conn, "status": status})
	if status == device.StatusAttributeNotFound {
		entry.Debug(msg)
		return
	}
	entry.Warn(msg)
}
