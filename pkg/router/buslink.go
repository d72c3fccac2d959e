package router

import (
	"errors"

	"github.com/pbus-protocol/pbus-go/pkg/abuse"
	"github.com/pbus-protocol/pbus-go/pkg/frame"
	"github.com/pbus-protocol/pbus-go/pkg/lifecycle"
	"github.com/pbus-protocol/pbus-go/pkg/plog"
	"github.com/pbus-protocol/pbus-go/pkg/secure"
	"github.com/pbus-protocol/pbus-go/pkg/wire"
)

// HandleBus dispatches one decoded frame from the bus. Everything here
// is hostile until authenticated: claims are checked in cheap-first
// order and a rejected frame produces no observable response.
func (r *Router) HandleBus(f *frame.Frame) {
	r.logFrame(plog.DirectionIn, f, f.Source != frame.IDExternal)

	if f.Source == r.deviceID {
		// Echo, or an impersonation of this node.
		return
	}
	if f.Destination != r.deviceID && f.Destination != frame.IDBroadcast {
		// Addressed elsewhere. An endpoint never relays.
		return
	}
	if f.Source == frame.IDBroadcast {
		// Source zero marks unattributable records; no sender may
		// claim it.
		r.faultUnattributed(abuse.ReasonProtocolViolation)
		return
	}
	if f.Destination == frame.IDBroadcast && !frame.IsDeviceID(f.Source) {
		// Reserved identities never broadcast. Charging the claimed
		// source would let a forger pick its victim, so the fault
		// stays unattributed.
		r.faultUnattributed(abuse.ReasonProtocolViolation)
		return
	}

	if err := r.monitor.Admit(f.Source); err != nil {
		// Blocked and rate-limited traffic vanishes. The block itself
		// was logged when the threshold was crossed.
		return
	}

	if f.Destination == frame.IDBroadcast {
		r.busBroadcast(f)
		return
	}
	r.busUnicast(f)
}

// NoteBusMalformed records a structural decode failure on the bus
// interface. The bytes never formed a frame, so there is no source to
// charge.
func (r *Router) NoteBusMalformed() {
	r.faultUnattributed(abuse.ReasonMalformed)
}

// busBroadcast authenticates a broadcast under the sender's broadcast
// key and delivers it upward. Broadcasts are consumed, never relayed.
func (r *Router) busBroadcast(f *frame.Frame) {
	if !r.machine.IsRegistered() {
		return
	}
	plaintext, err := r.engine.OpenBroadcast(f)
	if err != nil {
		r.logOpenFailure(f.Source, err)
		return
	}
	r.monitor.NoteAuthenticated(f.Source)
	r.deliver(f.Destination, f.Source, f.Sequence, plaintext)
}

// busUnicast handles a frame addressed to this node.
func (r *Router) busUnicast(f *frame.Frame) {
	switch f.Source {
	case frame.IDExternal:
		r.externalInbound(f)
	case frame.IDAuthority:
		r.authorityInbound(f)
	default:
		r.sessionData(f)
	}
}

// externalInbound delivers plaintext gateway traffic. Nothing about it
// is authenticated, so it never resets fault counters.
func (r *Router) externalInbound(f *frame.Frame) {
	if !r.machine.IsRegistered() {
		return
	}
	r.deliver(f.Destination, f.Source, f.Sequence, f.Payload)
}

// authorityInbound dispatches authority traffic by lifecycle state.
// While a join is outstanding the only meaningful authority frame is
// the answer on the registration channel; at any other time authority
// frames ride the pairwise session. The split binds every frame to
// exactly one key, so failures are attributed without guessing.
func (r *Router) authorityInbound(f *frame.Frame) {
	if r.machine.State() == lifecycle.StateRegistering {
		r.joinAnswer(f)
		return
	}
	r.sessionControl(f)
}

// joinAnswer consumes the authority's answer to an outstanding join.
func (r *Router) joinAnswer(f *frame.Frame) {
	if !secure.IsControlSequence(f.Sequence) {
		// A session-domain frame cannot be a registration answer.
		// Replayed session traffic dies here without touching a key.
		return
	}
	plaintext, err := r.engine.OpenControl(f)
	if err != nil {
		r.logOpenFailure(f.Source, err)
		return
	}
	r.monitor.NoteAuthenticated(f.Source)

	if typ := wire.PeekMessageType(plaintext); typ != wire.MsgJoinAccept {
		r.fault(f.Source, abuse.ReasonProtocolViolation)
		return
	}
	acc, err := wire.DecodeJoinAccept(plaintext)
	if err != nil {
		r.fault(f.Source, abuse.ReasonProtocolViolation)
		return
	}
	r.logControl(plog.DirectionIn, f.Source, acc.MsgType, &acc.Status)

	switch err := r.machine.CompleteJoin(acc); {
	case err == nil:
		if kerr := r.engine.InstallNetworkKey(acc.NetworkSecret, acc.Epoch); kerr != nil {
			r.logError(plog.LayerSecure, "install network key", kerr)
			r.machine.ForceFault("network key install failed")
		}
	case errors.Is(err, lifecycle.ErrStaleAnswer):
		// Replay of an earlier genuine answer. Deliberately not
		// recorded: a captured answer must not move any counter.
	case errors.Is(err, lifecycle.ErrProtocolViolation):
		r.fault(f.Source, abuse.ReasonProtocolViolation)
	case errors.Is(err, lifecycle.ErrDenied):
		// Machine is Faulted; the state change is already logged.
	}
}

// sessionControl consumes authority messages on the pairwise session:
// leave answers and leave orders. The authority never sends data, so
// any other payload is a violation.
func (r *Router) sessionControl(f *frame.Frame) {
	if secure.IsControlSequence(f.Sequence) {
		// A registration-key frame outside a handshake is a stale or
		// replayed answer; it costs nothing.
		return
	}
	plaintext, err := r.engine.OpenUnicast(f)
	if err != nil {
		r.logOpenFailure(f.Source, err)
		return
	}
	r.monitor.NoteAuthenticated(f.Source)

	switch wire.PeekMessageType(plaintext) {
	case wire.MsgLeaveAccept:
		acc, err := wire.DecodeLeaveAccept(plaintext)
		if err != nil {
			r.fault(f.Source, abuse.ReasonProtocolViolation)
			return
		}
		r.logControl(plog.DirectionIn, f.Source, acc.MsgType, &acc.Status)
		r.completeLeave(f.Source, acc)
	case wire.MsgLeaveOrder:
		ord, err := wire.DecodeLeaveOrder(plaintext)
		if err != nil {
			r.fault(f.Source, abuse.ReasonProtocolViolation)
			return
		}
		r.logControl(plog.DirectionIn, f.Source, ord.MsgType, nil)
		r.leaveOrder(f.Source, ord)
	default:
		r.fault(f.Source, abuse.ReasonProtocolViolation)
	}
}

func (r *Router) completeLeave(peer uint16, acc *wire.LeaveAccept) {
	switch err := r.machine.CompleteLeave(acc); {
	case err == nil:
	case errors.Is(err, lifecycle.ErrStaleAnswer):
		// Replayed answer, same treatment as in joinAnswer.
	case errors.Is(err, lifecycle.ErrProtocolViolation):
		r.fault(peer, abuse.ReasonProtocolViolation)
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		// Stray answer with no leave outstanding.
	case errors.Is(err, lifecycle.ErrDenied):
		// Machine is Faulted; the state change is already logged.
	}
}

func (r *Router) leaveOrder(peer uint16, ord *wire.LeaveOrder) {
	switch err := r.machine.HandleLeaveOrder(ord); {
	case err == nil:
	case errors.Is(err, lifecycle.ErrProtocolViolation):
		// An order for a different device on our session.
		r.fault(peer, abuse.ReasonProtocolViolation)
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		// Not registered; nothing to leave.
	}
}

// sessionData authenticates sealed peer traffic and delivers it upward.
func (r *Router) sessionData(f *frame.Frame) {
	if !r.machine.IsRegistered() {
		return
	}
	plaintext, err := r.engine.OpenUnicast(f)
	if err != nil {
		r.logOpenFailure(f.Source, err)
		return
	}
	r.monitor.NoteAuthenticated(f.Source)
	r.deliver(f.Destination, f.Source, f.Sequence, plaintext)
}

// deliver hands an accepted payload to the CPU, preserving the bus
// addressing so the host sees who sent what.
func (r *Router) deliver(dst, src uint16, seq uint64, payload []byte) {
	r.transmitCPU(&frame.Frame{
		Destination: dst,
		Source:      src,
		Sequence:    seq,
		Payload:     payload,
	})
}
