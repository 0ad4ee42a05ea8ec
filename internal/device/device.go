package device

import (
	"errors"
	"fmt"
	"strings"
)

// NotFoundError represents an error when a GATT resource is not found on the remote peer
type NotFoundError struct {
	Resource string   // "service", "characteristic", "descriptor"
	UUIDs    []string // One or more UUIDs (e.g., [serviceUUID] or [serviceUUID, charUUID])
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	parentResource := "service"
	if e.Resource == "descriptor" {
		parentResource = "characteristic"
	}
	return fmt.Sprintf("%s %q not found in %s %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], parentResource, e.UUIDs[0])
}

// FailureKind classifies a session failure by its recovery strategy
type FailureKind string

const (
	StructuralFailure FailureKind = "structural_failure"
	TransportFailure  FailureKind = "transport_failure"
	ProtocolViolation FailureKind = "protocol_violation"
	LinkLoss          FailureKind = "link_loss"
)

// SessionError is the error type produced by the peripheral and central state machines
type SessionError struct {
	Kind FailureKind
	Op   string // operation or event that failed, e.g. "add_characteristic"
	Msg  string
	Err  error
}

// Error implements the error interface
func (e *SessionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes the underlying cause
func (e *SessionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is allows errors.Is to compare SessionError values by Kind
func (e *SessionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*SessionError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Predefined sentinel errors for failure kinds
var (
	ErrStructuralFailure = &SessionError{Kind: StructuralFailure}
	ErrTransportFailure  = &SessionError{Kind: TransportFailure}
	ErrProtocolViolation = &SessionError{Kind: ProtocolViolation}
	ErrLinkLoss          = &SessionError{Kind: LinkLoss}
)

// NewStructuralError reports a structural request rejected by the stack
func NewStructuralError(op string, status Status) error {
	return &SessionError{Kind: StructuralFailure, Op: op, Msg: fmt.Sprintf("status %s", status)}
}

// NewTransportError reports a rejected send or response
func NewTransportError(op string, err error) error {
	return &SessionError{Kind: TransportFailure, Op: op, Err: err}
}

// NewProtocolError reports an event that cannot be applied in the current state
func NewProtocolError(op string, format string, args ...any) error {
	return &SessionError{Kind: ProtocolViolation, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// NewLinkLossError reports a disconnect with the stack-provided reason
func NewLinkLossError(op string, reason string) error {
	return &SessionError{Kind: LinkLoss, Op: op, Msg: reason}
}

// IsFailure reports whether err is a SessionError of the given kind
func IsFailure(err error, kind FailureKind) bool {
	var serr *SessionError
	if errors.As(err, &serr) {
		return serr.Kind == kind
	}
	return false
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	NotInitialized   ConnectionState = "not_initialized"
	BluetoothOff     ConnectionState = "bluetooth_off"
)

// ConnectionError represents any connection-related problem reported by the radio stack
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrNotInitialized   = &ConnectionError{State: NotInitialized}
	ErrBluetoothOff     = &ConnectionError{State: BluetoothOff, Msg: "is Bluetooth turned on?"}
)

// Operation errors
var (
	ErrTimeout     = errors.New("timeout")
	ErrUnsupported = errors.New("unsupported")
	ErrStaleConn   = errors.New("stale connection")
)

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}
