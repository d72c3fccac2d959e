package wire

import "fmt"

// Host link message types. They share the key-1 namespace with control
// messages but never appear on the bus.
const (
	// MsgHostCommand is a CPU command to its controller.
	MsgHostCommand uint8 = 16

	// MsgHostStatus is the controller's status answer to the CPU.
	MsgHostStatus uint8 = 17
)

// HostOp is the operation requested by a host command.
type HostOp uint8

const (
	// HostOpRegister asks the controller to register with the authority.
	HostOpRegister HostOp = 1

	// HostOpDeregister asks the controller to leave the network.
	HostOpDeregister HostOp = 2

	// HostOpStatus asks for the controller's lifecycle status. It is
	// answerable in every lifecycle state.
	HostOpStatus HostOp = 3
)

// String returns the operation name.
func (op HostOp) String() string {
	switch op {
	case HostOpRegister:
		return "REGISTER"
	case HostOpDeregister:
		return "DEREGISTER"
	case HostOpStatus:
		return "STATUS"
	default:
		return "UNKNOWN"
	}
}

// HostCommand is a CPU request to the controller, carried on the host
// link in a frame addressed to the authority identifier.
// CBOR: { 1: msgType, 2: op }
type HostCommand struct {
	MsgType uint8  `cbor:"1,keyasint"`
	Op      HostOp `cbor:"2,keyasint"`
}

// Validate checks structural validity.
func (m *HostCommand) Validate() error {
	if m.MsgType != MsgHostCommand {
		return fmt.Errorf("%w: type %d, want %d", ErrInvalidMessage, m.MsgType, MsgHostCommand)
	}
	if m.Op < HostOpRegister || m.Op > HostOpStatus {
		return fmt.Errorf("%w: host op %d", ErrInvalidMessage, m.Op)
	}
	return nil
}

// HostStatus reports the controller's lifecycle state to the CPU.
// State carries the lifecycle state's numeric value; the lifecycle
// package owns the enum.
// CBOR: { 1: msgType, 2: state, 3: deviceId, 4: faultCount, 5: blocked }
type HostStatus struct {
	MsgType    uint8    `cbor:"1,keyasint"`
	State      uint8    `cbor:"2,keyasint"`
	DeviceID   uint16   `cbor:"3,keyasint"`
	FaultCount uint32   `cbor:"4,keyasint,omitempty"`
	Blocked    []uint16 `cbor:"5,keyasint,omitempty"`
}

// Validate checks structural validity.
func (m *HostStatus) Validate() error {
	if m.MsgType != MsgHostStatus {
		return fmt.Errorf("%w: type %d, want %d", ErrInvalidMessage, m.MsgType, MsgHostStatus)
	}
	return nil
}

// EncodeHost validates and encodes a host link message.
func EncodeHost(m interface{ Validate() error }) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return Marshal(m)
}

// DecodeHostCommand decodes and validates a host command.
func DecodeHostCommand(data []byte) (*HostCommand, error) {
	var m HostCommand
	if err := Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// DecodeHostStatus decodes and validates a host status.
func DecodeHostStatus(data []byte) (*HostStatus, error) {
	var m HostStatus
	if err := Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
