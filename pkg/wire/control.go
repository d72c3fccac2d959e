package wire

import (
	"errors"
	"fmt"
)

// Control-channel message types (key 1 of every payload).
const (
	// MsgInvalid marks a payload that carries no recognizable type.
	MsgInvalid uint8 = 0

	// MsgJoinRequest asks the authority to register a device.
	MsgJoinRequest uint8 = 1

	// MsgJoinAccept answers a join request; on success it carries the
	// network secret and epoch.
	MsgJoinAccept uint8 = 2

	// MsgLeaveRequest asks the authority to deregister a device.
	MsgLeaveRequest uint8 = 3

	// MsgLeaveAccept answers a leave request.
	MsgLeaveAccept uint8 = 4

	// MsgLeaveOrder is an authority-initiated deregistration, sealed
	// in session traffic so ordinary sequence numbers cover replay.
	MsgLeaveOrder uint8 = 5
)

// Payload size constants.
const (
	// NonceSize is the handshake nonce length in bytes. Each join or
	// leave attempt draws a fresh nonce and the answer must echo it.
	NonceSize = 16

	// NetworkSecretSize is the length of the authority-issued network
	// secret in bytes.
	NetworkSecretSize = 32
)

// Control message errors.
var (
	ErrInvalidMessage = errors.New("invalid control message")
)

// Status is the authority's answer code in accept messages.
type Status uint8

const (
	// StatusAccepted indicates the operation took effect.
	StatusAccepted Status = 0

	// StatusAlready indicates the device was already in the requested
	// lifecycle position; the operation is an idempotent repeat.
	StatusAlready Status = 1

	// StatusDenied indicates an unknown device or credential mismatch.
	StatusDenied Status = 2
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusAccepted:
		return "ACCEPTED"
	case StatusAlready:
		return "ALREADY"
	case StatusDenied:
		return "DENIED"
	default:
		return "UNKNOWN"
	}
}

// JoinRequest initiates registration with the authority.
// CBOR: { 1: msgType, 2: deviceId, 3: nonce }
type JoinRequest struct {
	MsgType  uint8  `cbor:"1,keyasint"`
	DeviceID uint16 `cbor:"2,keyasint"`
	Nonce    []byte `cbor:"3,keyasint"`
}

// Validate checks structural validity.
func (m *JoinRequest) Validate() error {
	if m.MsgType != MsgJoinRequest {
		return fmt.Errorf("%w: type %d, want %d", ErrInvalidMessage, m.MsgType, MsgJoinRequest)
	}
	if len(m.Nonce) != NonceSize {
		return fmt.Errorf("%w: nonce length %d", ErrInvalidMessage, len(m.Nonce))
	}
	return nil
}

// JoinAccept is the authority's answer to a join request. The network
// secret and epoch are present only when Status is StatusAccepted or
// StatusAlready.
// CBOR: { 1: msgType, 2: deviceId, 3: nonce, 4: status, 5: networkSecret, 6: epoch }
type JoinAccept struct {
	MsgType       uint8  `cbor:"1,keyasint"`
	DeviceID      uint16 `cbor:"2,keyasint"`
	Nonce         []byte `cbor:"3,keyasint"`
	Status        Status `cbor:"4,keyasint"`
	NetworkSecret []byte `cbor:"5,keyasint,omitempty"`
	Epoch         uint64 `cbor:"6,keyasint,omitempty"`
}

// Validate checks structural validity.
func (m *JoinAccept) Validate() error {
	if m.MsgType != MsgJoinAccept {
		return fmt.Errorf("%w: type %d, want %d", ErrInvalidMessage, m.MsgType, MsgJoinAccept)
	}
	if len(m.Nonce) != NonceSize {
		return fmt.Errorf("%w: nonce length %d", ErrInvalidMessage, len(m.Nonce))
	}
	switch m.Status {
	case StatusAccepted, StatusAlready:
		if len(m.NetworkSecret) != NetworkSecretSize {
			return fmt.Errorf("%w: network secret length %d", ErrInvalidMessage, len(m.NetworkSecret))
		}
	case StatusDenied:
		if len(m.NetworkSecret) != 0 {
			return fmt.Errorf("%w: denied answer carries a secret", ErrInvalidMessage)
		}
	default:
		return fmt.Errorf("%w: status %d", ErrInvalidMessage, m.Status)
	}
	return nil
}

// LeaveRequest initiates deregistration with the authority.
// CBOR: { 1: msgType, 2: deviceId, 3: nonce }
type LeaveRequest struct {
	MsgType  uint8  `cbor:"1,keyasint"`
	DeviceID uint16 `cbor:"2,keyasint"`
	Nonce    []byte `cbor:"3,keyasint"`
}

// Validate checks structural validity.
func (m *LeaveRequest) Validate() error {
	if m.MsgType != MsgLeaveRequest {
		return fmt.Errorf("%w: type %d, want %d", ErrInvalidMessage, m.MsgType, MsgLeaveRequest)
	}
	if len(m.Nonce) != NonceSize {
		return fmt.Errorf("%w: nonce length %d", ErrInvalidMessage, len(m.Nonce))
	}
	return nil
}

// LeaveAccept is the authority's answer to a leave request.
// CBOR: { 1: msgType, 2: deviceId, 3: nonce, 4: status }
type LeaveAccept struct {
	MsgType  uint8  `cbor:"1,keyasint"`
	DeviceID uint16 `cbor:"2,keyasint"`
	Nonce    []byte `cbor:"3,keyasint"`
	Status   Status `cbor:"4,keyasint"`
}

// Validate checks structural validity.
func (m *LeaveAccept) Validate() error {
	if m.MsgType != MsgLeaveAccept {
		return fmt.Errorf("%w: type %d, want %d", ErrInvalidMessage, m.MsgType, MsgLeaveAccept)
	}
	if len(m.Nonce) != NonceSize {
		return fmt.Errorf("%w: nonce length %d", ErrInvalidMessage, len(m.Nonce))
	}
	if m.Status > StatusDenied {
		return fmt.Errorf("%w: status %d", ErrInvalidMessage, m.Status)
	}
	return nil
}

// LeaveOrder is an authority-initiated deregistration carried in sealed
// session traffic.
// CBOR: { 1: msgType, 2: deviceId }
type LeaveOrder struct {
	MsgType  uint8  `cbor:"1,keyasint"`
	DeviceID uint16 `cbor:"2,keyasint"`
}

// Validate checks structural validity.
func (m *LeaveOrder) Validate() error {
	if m.MsgType != MsgLeaveOrder {
		return fmt.Errorf("%w: type %d, want %d", ErrInvalidMessage, m.MsgType, MsgLeaveOrder)
	}
	return nil
}

// EncodeControl validates and encodes a control message.
func EncodeControl(m interface{ Validate() error }) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return Marshal(m)
}

// DecodeJoinRequest decodes and validates a join request.
func DecodeJoinRequest(data []byte) (*JoinRequest, error) {
	var m JoinRequest
	if err := Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// DecodeJoinAccept decodes and validates a join accept.
func DecodeJoinAccept(data []byte) (*JoinAccept, error) {
	var m JoinAccept
	if err := Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// DecodeLeaveRequest decodes and validates a leave request.
func DecodeLeaveRequest(data []byte) (*LeaveRequest, error) {
	var m LeaveRequest
	if err := Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// DecodeLeaveAccept decodes and validates a leave accept.
func DecodeLeaveAccept(data []byte) (*LeaveAccept, error) {
	var m LeaveAccept
	if err := Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// DecodeLeaveOrder decodes and validates a leave order.
func DecodeLeaveOrder(data []byte) (*LeaveOrder, error) {
	var m LeaveOrder
	if err := Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}
