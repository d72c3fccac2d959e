package plog

import (
	"time"

	"github.com/pbus-protocol/pbus-go/pkg/abuse"
	"github.com/pbus-protocol/pbus-go/pkg/wire"
)

// Event is one captured protocol moment. The envelope fields say who
// captured it and where; exactly one payload pointer is set. Events
// encode as integer-keyed CBOR maps, and the keys are part of the
// capture format.
type Event struct {
	Timestamp time.Time `cbor:"1,keyasint"`

	// TraceID ties the event to one controller run.
	TraceID string `cbor:"2,keyasint"`

	Direction Direction `cbor:"3,keyasint"`
	Layer     Layer     `cbor:"4,keyasint"`
	Category  Category  `cbor:"5,keyasint"`

	// LocalRole and DeviceID identify the capturing endpoint; PeerID
	// names the remote side when it is known.
	LocalRole Role   `cbor:"6,keyasint,omitempty"`
	DeviceID  uint16 `cbor:"7,keyasint,omitempty"`
	PeerID    uint16 `cbor:"8,keyasint,omitempty"`

	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"`
	Control     *ControlEvent     `cbor:"11,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"`
	Fault       *FaultEvent       `cbor:"13,keyasint,omitempty"`
	Error       *ErrorEvent       `cbor:"14,keyasint,omitempty"`
}

// Direction distinguishes received traffic from transmitted.
type Direction uint8

const (
	DirectionIn  Direction = 0
	DirectionOut Direction = 1
)

func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer names the controller stage that captured the event.
type Layer uint8

const (
	// LayerFrame is the codec: raw bytes crossing an interface.
	LayerFrame Layer = 0
	// LayerSecure is the sealing engine: AEAD and replay windows.
	LayerSecure Layer = 1
	// LayerControl is the registration channel.
	LayerControl Layer = 2
	// LayerRoute is dispatch.
	LayerRoute Layer = 3
)

func (l Layer) String() string {
	switch l {
	case LayerFrame:
		return "FRAME"
	case LayerSecure:
		return "SECURE"
	case LayerControl:
		return "CONTROL"
	case LayerRoute:
		return "ROUTE"
	default:
		return "UNKNOWN"
	}
}

// Category tells a capture consumer how to read the event without
// probing the payload pointers.
type Category uint8

const (
	CategoryFrame   Category = 0
	CategoryControl Category = 1
	CategoryState   Category = 2
	CategoryFault   Category = 3
	CategoryError   Category = 4
)

func (c Category) String() string {
	switch c {
	case CategoryFrame:
		return "FRAME"
	case CategoryControl:
		return "CONTROL"
	case CategoryState:
		return "STATE"
	case CategoryFault:
		return "FAULT"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Role is the capturing endpoint's side of the protocol.
type Role uint8

const (
	RoleDevice    Role = 0
	RoleAuthority Role = 1
)

func (r Role) String() string {
	switch r {
	case RoleDevice:
		return "DEVICE"
	case RoleAuthority:
		return "AUTHORITY"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent records one encoded frame crossing an interface.
type FrameEvent struct {
	Destination uint16 `cbor:"1,keyasint"`
	Source      uint16 `cbor:"2,keyasint"`
	Sequence    uint64 `cbor:"3,keyasint"`

	// Size is the full encoded length, even when Data is cut short.
	Size int `cbor:"4,keyasint"`

	// Sealed marks payloads carrying an integrity tag.
	Sealed bool `cbor:"5,keyasint,omitempty"`

	Data      []byte `cbor:"6,keyasint,omitempty"`
	Truncated bool   `cbor:"7,keyasint,omitempty"`
}

// ControlEvent records a decoded registration channel message.
type ControlEvent struct {
	MsgType uint8 `cbor:"1,keyasint"`

	// Status is set on accept messages.
	Status *wire.Status `cbor:"2,keyasint,omitempty"`
}

// StateChangeEvent records a lifecycle, session, or monitor
// transition. OldState is empty when the entity has no prior state.
type StateChangeEvent struct {
	Entity   Entity `cbor:"1,keyasint"`
	OldState string `cbor:"2,keyasint,omitempty"`
	NewState string `cbor:"3,keyasint"`
	Reason   string `cbor:"4,keyasint,omitempty"`
}

// Entity is the state machine a StateChangeEvent belongs to.
type Entity uint8

const (
	EntityLifecycle Entity = 0
	EntitySession   Entity = 1
	EntityMonitor   Entity = 2
)

func (e Entity) String() string {
	switch e {
	case EntityLifecycle:
		return "LIFECYCLE"
	case EntitySession:
		return "SESSION"
	case EntityMonitor:
		return "MONITOR"
	default:
		return "UNKNOWN"
	}
}

// FaultEvent records one abuse monitor fault.
type FaultEvent struct {
	// Peer is the attributed sender, 0 when attribution failed.
	Peer uint16 `cbor:"1,keyasint"`

	Reason abuse.Reason `cbor:"2,keyasint"`

	// Blocked and Lockdown mark faults that tripped the peer or the
	// device threshold.
	Blocked  bool `cbor:"3,keyasint,omitempty"`
	Lockdown bool `cbor:"4,keyasint,omitempty"`
}

// ErrorEvent records a failure the controller absorbed.
type ErrorEvent struct {
	Layer   Layer  `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint"`

	// Context names the operation that failed.
	Context string `cbor:"3,keyasint,omitempty"`
}
