package lifecycle

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/pbus-protocol/pbus-go/pkg/wire"
)

// DefaultHandshakeTimeoutTicks is the join/leave answer deadline in loop
// ticks when the configuration does not override it.
const DefaultHandshakeTimeoutTicks = 64

// Lifecycle errors.
var (
	// ErrInvalidTransition indicates an operation not permitted in the
	// current state.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")

	// ErrProtocolViolation indicates an authenticated control answer
	// bound to the wrong identity.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrStaleAnswer indicates an authenticated answer carrying an
	// out-of-date nonce. Only a replay of an earlier handshake's answer
	// can produce one, so the outstanding handshake is left undisturbed.
	ErrStaleAnswer = errors.New("stale handshake answer")

	// ErrDenied indicates the authority refused the operation.
	ErrDenied = errors.New("denied by authority")
)

// State represents the controller lifecycle state.
type State uint8

const (
	// StateUnregistered is the initial state.
	StateUnregistered State = iota

	// StateRegistering indicates a join handshake is in progress.
	StateRegistering

	// StateRegistered permits normal data forwarding.
	StateRegistered

	// StateDeregistered is terminal until reset.
	StateDeregistered

	// StateFaulted is terminal until reset, entered on unrecoverable
	// security violations.
	StateFaulted
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "UNREGISTERED"
	case StateRegistering:
		return "REGISTERING"
	case StateRegistered:
		return "REGISTERED"
	case StateDeregistered:
		return "DEREGISTERED"
	case StateFaulted:
		return "FAULTED"
	default:
		return "UNKNOWN"
	}
}

type pendingOp uint8

const (
	pendingNone pendingOp = iota
	pendingJoin
	pendingLeave
)

// Machine tracks the registration lifecycle of one controller. It is not
// safe for concurrent use; the control loop owns it.
type Machine struct {
	deviceID     uint16
	timeoutTicks uint64

	state    State
	tick     uint64
	deadline uint64 // 0 = no deadline armed
	pending  pendingOp
	nonce    [wire.NonceSize]byte

	faultReason string

	onStateChange func(oldState, newState State)
}

// NewMachine creates a machine in StateUnregistered. A zero timeoutTicks
// selects DefaultHandshakeTimeoutTicks.
func NewMachine(deviceID uint16, timeoutTicks uint64) *Machine {
	if timeoutTicks == 0 {
		timeoutTicks = DefaultHandshakeTimeoutTicks
	}
	return &Machine{deviceID: deviceID, timeoutTicks: timeoutTicks}
}

// SetOnStateChange installs a callback fired on every transition.
func (m *Machine) SetOnStateChange(fn func(oldState, newState State)) {
	m.onStateChange = fn
}

// State returns the current lifecycle state.
func (m *Machine) State() State {
	return m.state
}

// IsRegistered reports whether data forwarding is permitted.
func (m *Machine) IsRegistered() bool {
	return m.state == StateRegistered
}

// DeviceID returns the identity the machine registers under.
func (m *Machine) DeviceID() uint16 {
	return m.deviceID
}

// FaultReason returns why the machine faulted, empty otherwise.
func (m *Machine) FaultReason() string {
	return m.faultReason
}

// Tick advances the machine clock by one loop iteration and enforces the
// handshake deadline. An unanswered join faults the machine; an
// unanswered leave is abandoned and may be retried.
func (m *Machine) Tick() {
	m.tick++
	if m.deadline == 0 || m.tick < m.deadline {
		return
	}

	m.deadline = 0
	switch m.pending {
	case pendingJoin:
		m.pending = pendingNone
		m.fault("handshake timeout")
	case pendingLeave:
		m.pending = pendingNone
	}
}

// BeginJoin starts the join handshake. It draws a fresh nonce, arms the
// deadline and returns the request to seal onto the registration channel.
func (m *Machine) BeginJoin() (*wire.JoinRequest, error) {
	if m.state != StateUnregistered {
		return nil, fmt.Errorf("%w: join from %s", ErrInvalidTransition, m.state)
	}
	if _, err := rand.Read(m.nonce[:]); err != nil {
		return nil, fmt.Errorf("handshake nonce: %w", err)
	}

	m.pending = pendingJoin
	m.deadline = m.tick + m.timeoutTicks
	m.transition(StateRegistering)

	return &wire.JoinRequest{
		MsgType:  wire.MsgJoinRequest,
		DeviceID: m.deviceID,
		Nonce:    append([]byte(nil), m.nonce[:]...),
	}, nil
}

// CompleteJoin consumes an authenticated JoinAccept. The answer must be
// bound to this device's identity and the outstanding nonce. A stale
// nonce is a replayed answer from an earlier handshake and leaves the
// outstanding one armed; a wrong device identity can only mean the
// credential channel itself is compromised and faults the machine.
func (m *Machine) CompleteJoin(acc *wire.JoinAccept) error {
	if m.state != StateRegistering || m.pending != pendingJoin {
		return fmt.Errorf("%w: join accept in %s", ErrInvalidTransition, m.state)
	}
	if acc.DeviceID != m.deviceID {
		m.fault("join accept bound to wrong device")
		return fmt.Errorf("%w: accept for device %d", ErrProtocolViolation, acc.DeviceID)
	}
	if !bytes.Equal(acc.Nonce, m.nonce[:]) {
		return fmt.Errorf("%w: join accept nonce mismatch", ErrStaleAnswer)
	}

	m.pending = pendingNone
	m.deadline = 0

	switch acc.Status {
	case wire.StatusAccepted, wire.StatusAlready:
		m.transition(StateRegistered)
		return nil
	default:
		m.fault("registration denied")
		return fmt.Errorf("%w: join", ErrDenied)
	}
}

// BeginLeave starts a self-initiated leave handshake. The machine stays
// Registered until the accept arrives; repeating BeginLeave replaces the
// outstanding nonce.
func (m *Machine) BeginLeave() (*wire.LeaveRequest, error) {
	if m.state != StateRegistered {
		return nil, fmt.Errorf("%w: leave from %s", ErrInvalidTransition, m.state)
	}
	if _, err := rand.Read(m.nonce[:]); err != nil {
		return nil, fmt.Errorf("handshake nonce: %w", err)
	}

	m.pending = pendingLeave
	m.deadline = m.tick + m.timeoutTicks

	return &wire.LeaveRequest{
		MsgType:  wire.MsgLeaveRequest,
		DeviceID: m.deviceID,
		Nonce:    append([]byte(nil), m.nonce[:]...),
	}, nil
}

// CompleteLeave consumes an authenticated LeaveAccept, with the same
// identity and nonce binding rules as CompleteJoin.
func (m *Machine) CompleteLeave(acc *wire.LeaveAccept) error {
	if m.state != StateRegistered || m.pending != pendingLeave {
		return fmt.Errorf("%w: leave accept in %s", ErrInvalidTransition, m.state)
	}
	if acc.DeviceID != m.deviceID {
		m.fault("leave accept bound to wrong device")
		return fmt.Errorf("%w: accept for device %d", ErrProtocolViolation, acc.DeviceID)
	}
	if !bytes.Equal(acc.Nonce, m.nonce[:]) {
		return fmt.Errorf("%w: leave accept nonce mismatch", ErrStaleAnswer)
	}

	m.pending = pendingNone
	m.deadline = 0

	switch acc.Status {
	case wire.StatusAccepted, wire.StatusAlready:
		m.transition(StateDeregistered)
		return nil
	default:
		m.fault("deregistration denied")
		return fmt.Errorf("%w: leave", ErrDenied)
	}
}

// HandleLeaveOrder consumes an authority-initiated deregistration carried
// in sealed session traffic. Orders bound to another device are rejected
// without a state change; the caller fault-counts them.
func (m *Machine) HandleLeaveOrder(ord *wire.LeaveOrder) error {
	if m.state != StateRegistered {
		return fmt.Errorf("%w: leave order in %s", ErrInvalidTransition, m.state)
	}
	if ord.DeviceID != m.deviceID {
		return fmt.Errorf("%w: order for device %d", ErrProtocolViolation, ord.DeviceID)
	}

	m.pending = pendingNone
	m.deadline = 0
	m.transition(StateDeregistered)
	return nil
}

// ForceFault drives the machine to Faulted from any state.
func (m *Machine) ForceFault(reason string) {
	m.fault(reason)
}

// Reset returns the machine to Unregistered, as a hardware reset would.
// Callbacks and configuration survive.
func (m *Machine) Reset() {
	m.pending = pendingNone
	m.deadline = 0
	m.faultReason = ""
	m.nonce = [wire.NonceSize]byte{}
	if m.state != StateUnregistered {
		m.transition(StateUnregistered)
	}
}

func (m *Machine) fault(reason string) {
	if m.state == StateFaulted {
		return
	}
	m.faultReason = reason
	m.pending = pendingNone
	m.deadline = 0
	m.transition(StateFaulted)
}

func (m *Machine) transition(next State) {
	old := m.state
	m.state = next
	if m.onStateChange != nil {
		m.onStateChange(old, next)
	}
}
