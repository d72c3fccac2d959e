package wire

import (
	"github.com/fxamacker/cbor/v2"
)

// encMode pins the payload byte layout: canonical map ordering,
// definite lengths, unix timestamps. Both ends of a sealed channel
// must produce identical bytes for identical values.
var encMode = newEncMode()

func newEncMode() cbor.EncMode {
	opts := cbor.CanonicalEncOptions()
	opts.NilContainers = cbor.NilContainerAsNull
	opts.Time = cbor.TimeUnix
	em, err := opts.EncMode()
	if err != nil {
		panic("wire: " + err.Error())
	}
	return em
}

// Marshal encodes a control payload deterministically.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes a control payload. The default decode options suit
// the wire already: unknown keys are skipped so old firmware can read
// payloads from newer builds, and duplicate keys never error.
func Unmarshal(data []byte, v any) error {
	return cbor.Unmarshal(data, v)
}

// PeekMessageType reads the message type (key 1) without decoding the
// rest of the payload. MsgInvalid is returned when the payload is not a
// CBOR map carrying a type.
func PeekMessageType(data []byte) uint8 {
	var peek struct {
		MsgType uint8 `cbor:"1,keyasint"`
	}
	if cbor.Unmarshal(data, &peek) != nil {
		return MsgInvalid
	}
	return peek.MsgType
}

// MessageName returns the name of a message type for logs and tooling.
func MessageName(t uint8) string {
	switch t {
	case MsgJoinRequest:
		return "JOIN_REQUEST"
	case MsgJoinAccept:
		return "JOIN_ACCEPT"
	case MsgLeaveRequest:
		return "LEAVE_REQUEST"
	case MsgLeaveAccept:
		return "LEAVE_ACCEPT"
	case MsgLeaveOrder:
		return "LEAVE_ORDER"
	case MsgHostCommand:
		return "HOST_COMMAND"
	case MsgHostStatus:
		return "HOST_STATUS"
	default:
		return "UNKNOWN"
	}
}
