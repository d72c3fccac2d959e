package router

import (
	"github.com/pbus-protocol/pbus-go/pkg/frame"
	"github.com/pbus-protocol/pbus-go/pkg/plog"
	"github.com/pbus-protocol/pbus-go/pkg/wire"
)

// HandleCPU dispatches one decoded frame from the host link. The CPU is
// inside the trust boundary, so its frames are taken at face value;
// everything bound for the bus still passes the lifecycle gate, and the
// engine stamps the true source identity regardless of what the CPU
// wrote in the header.
func (r *Router) HandleCPU(f *frame.Frame) {
	r.logFrame(plog.DirectionIn, f, false)

	switch f.Destination {
	case frame.IDAuthority:
		r.hostCommand(f.Payload)
	case frame.IDBroadcast:
		r.cpuBroadcast(f.Payload)
	case frame.IDExternal:
		r.cpuExternal(f.Payload)
	case r.deviceID:
		// Self-addressed; nothing to route.
	default:
		r.cpuUnicast(f.Destination, f.Payload)
	}
}

// hostCommand runs one CPU command and answers with exactly one status
// reply, whether or not the command took effect. Even an undecodable
// command is answered, so the CPU can always resynchronize on status.
func (r *Router) hostCommand(payload []byte) {
	cmd, err := wire.DecodeHostCommand(payload)
	if err != nil {
		r.logError(plog.LayerControl, "host command", err)
		r.sendStatus()
		return
	}

	switch cmd.Op {
	case wire.HostOpRegister:
		r.beginJoin()
	case wire.HostOpDeregister:
		r.beginLeave()
	case wire.HostOpStatus:
		// The reply below is the whole answer.
	}
	r.sendStatus()
}

// beginJoin starts the join handshake and puts the sealed request on
// the bus. A request that cannot be built or sent leaves the machine in
// Registering; the handshake deadline cleans that up.
func (r *Router) beginJoin() {
	req, err := r.machine.BeginJoin()
	if err != nil {
		r.logError(plog.LayerControl, "begin join", err)
		return
	}
	payload, err := wire.EncodeControl(req)
	if err != nil {
		r.logError(plog.LayerControl, "encode join request", err)
		return
	}
	sealed, err := r.engine.SealControl(frame.IDAuthority, payload)
	if err != nil {
		r.logError(plog.LayerSecure, "seal join request", err)
		return
	}
	if r.transmitBus(sealed, true) {
		r.logControl(plog.DirectionOut, frame.IDAuthority, wire.MsgJoinRequest, nil)
	}
}

// beginLeave starts the leave handshake. Leave messages ride the
// pairwise session with the authority rather than the registration
// key: both parties hold session keys by now, and the session's
// sequence window covers replay.
func (r *Router) beginLeave() {
	req, err := r.machine.BeginLeave()
	if err != nil {
		r.logError(plog.LayerControl, "begin leave", err)
		return
	}
	payload, err := wire.EncodeControl(req)
	if err != nil {
		r.logError(plog.LayerControl, "encode leave request", err)
		return
	}
	sealed, err := r.engine.SealUnicast(frame.IDAuthority, payload)
	if err != nil {
		r.logError(plog.LayerSecure, "seal leave request", err)
		return
	}
	if r.transmitBus(sealed, true) {
		r.logControl(plog.DirectionOut, frame.IDAuthority, wire.MsgLeaveRequest, nil)
	}
}

// sendStatus answers the CPU with the controller's current status. The
// reply travels as a plaintext frame sourced from the authority
// identifier, which never carries data on the host link.
func (r *Router) sendStatus() {
	payload, err := wire.EncodeHost(&wire.HostStatus{
		MsgType:    wire.MsgHostStatus,
		State:      uint8(r.machine.State()),
		DeviceID:   r.deviceID,
		FaultCount: r.monitor.DeviceFaults(),
		Blocked:    r.monitor.BlockedPeers(),
	})
	if err != nil {
		r.logError(plog.LayerControl, "encode status", err)
		return
	}
	r.hostSeq++
	r.transmitCPU(&frame.Frame{
		Destination: r.deviceID,
		Source:      frame.IDAuthority,
		Sequence:    r.hostSeq,
		Payload:     payload,
	})
}

// cpuBroadcast seals a CPU payload under the own broadcast key.
func (r *Router) cpuBroadcast(payload []byte) {
	if !r.machine.IsRegistered() {
		return
	}
	sealed, err := r.engine.SealBroadcast(payload)
	if err != nil {
		r.logError(plog.LayerSecure, "seal broadcast", err)
		return
	}
	r.transmitBus(sealed, true)
}

// cpuExternal emits a plaintext frame toward the external gateway. The
// gateway terminates outside the crypto perimeter, so there is no key
// to seal with; the lifecycle gate still applies.
func (r *Router) cpuExternal(payload []byte) {
	if !r.machine.IsRegistered() {
		return
	}
	if len(payload) > frame.MaxPayload {
		r.logError(plog.LayerFrame, "external payload", frame.ErrPayloadTooLarge)
		return
	}
	r.extSeq++
	r.transmitBus(&frame.Frame{
		Destination: frame.IDExternal,
		Source:      r.deviceID,
		Sequence:    r.extSeq,
		Payload:     payload,
	}, false)
}

// cpuUnicast seals a CPU payload for one registered-domain peer. The
// reserved destinations were all dispatched before this point, so dst
// is a device identifier.
func (r *Router) cpuUnicast(dst uint16, payload []byte) {
	if !r.machine.IsRegistered() {
		return
	}
	sealed, err := r.engine.SealUnicast(dst, payload)
	if err != nil {
		r.logError(plog.LayerSecure, "seal unicast", err)
		return
	}
	r.transmitBus(sealed, true)
}

// transmitBus encodes and sends one frame on the bus and reports
// whether it went out.
func (r *Router) transmitBus(f *frame.Frame, sealed bool) bool {
	data, err := f.Encode()
	if err != nil {
		r.logError(plog.LayerFrame, "encode bus frame", err)
		return false
	}
	if err := r.sendBus(data); err != nil {
		r.logError(plog.LayerFrame, "bus send", err)
		return false
	}
	r.logFrame(plog.DirectionOut, f, sealed)
	return true
}

// transmitCPU encodes and sends one frame on the host link.
func (r *Router) transmitCPU(f *frame.Frame) {
	data, err := f.Encode()
	if err != nil {
		r.logError(plog.LayerFrame, "encode cpu frame", err)
		return
	}
	if err := r.sendCPU(data); err != nil {
		r.logError(plog.LayerFrame, "cpu send", err)
		return
	}
	r.logFrame(plog.DirectionOut, f, false)
}
