package router

import (
	"errors"
	"time"

	"github.com/pbus-protocol/pbus-go/pkg/abuse"
	"github.com/pbus-protocol/pbus-go/pkg/frame"
	"github.com/pbus-protocol/pbus-go/pkg/lifecycle"
	"github.com/pbus-protocol/pbus-go/pkg/plog"
	"github.com/pbus-protocol/pbus-go/pkg/secure"
	"github.com/pbus-protocol/pbus-go/pkg/wire"
)

// base stamps the fields shared by every event this router emits.
func (r *Router) base(dir plog.Direction, layer plog.Layer, cat plog.Category) plog.Event {
	return plog.Event{
		Timestamp: time.Now(),
		TraceID:   r.traceID,
		Direction: dir,
		Layer:     layer,
		Category:  cat,
		LocalRole: plog.RoleDevice,
		DeviceID:  r.deviceID,
	}
}

func (r *Router) logFrame(dir plog.Direction, f *frame.Frame, sealed bool) {
	ev := r.base(dir, plog.LayerFrame, plog.CategoryFrame)
	if dir == plog.DirectionIn {
		ev.PeerID = f.Source
	} else {
		ev.PeerID = f.Destination
	}
	ev.Frame = &plog.FrameEvent{
		Destination: f.Destination,
		Source:      f.Source,
		Sequence:    f.Sequence,
		Size:        f.EncodedSize(),
		Sealed:      sealed,
	}
	r.log.Log(ev)
}

func (r *Router) logControl(dir plog.Direction, peer uint16, msgType uint8, status *wire.Status) {
	ev := r.base(dir, plog.LayerControl, plog.CategoryControl)
	ev.PeerID = peer
	ev.Control = &plog.ControlEvent{MsgType: msgType, Status: status}
	r.log.Log(ev)
}

// fault records an attributed fault and logs it together with the
// thresholds it tripped.
func (r *Router) fault(peer uint16, reason abuse.Reason) {
	r.monitor.RecordFault(peer, reason)
	r.logFault(peer, reason)
}

// faultUnattributed records a fault with no chargeable sender.
func (r *Router) faultUnattributed(reason abuse.Reason) {
	r.monitor.RecordUnattributed(reason)
	r.logFault(0, reason)
}

func (r *Router) logFault(peer uint16, reason abuse.Reason) {
	ev := r.base(plog.DirectionIn, plog.LayerRoute, plog.CategoryFault)
	ev.PeerID = peer
	ev.Fault = &plog.FaultEvent{
		Peer:     peer,
		Reason:   reason,
		Blocked:  peer != 0 && r.monitor.Blocked(peer),
		Lockdown: r.monitor.Lockdown(),
	}
	r.log.Log(ev)
}

// logOpenFailure logs the fault the engine just reported through the
// monitor. Session-setup errors report nothing and log nothing.
func (r *Router) logOpenFailure(peer uint16, err error) {
	switch {
	case errors.Is(err, secure.ErrAuthFailure):
		r.logFault(peer, abuse.ReasonAuthFailure)
	case errors.Is(err, secure.ErrReplayDetected):
		r.logFault(peer, abuse.ReasonReplay)
	}
}

func (r *Router) logLifecycle(oldState, newState lifecycle.State) {
	ev := r.base(plog.DirectionIn, plog.LayerControl, plog.CategoryState)
	sc := &plog.StateChangeEvent{
		Entity:   plog.EntityLifecycle,
		OldState: oldState.String(),
		NewState: newState.String(),
	}
	if newState == lifecycle.StateFaulted {
		sc.Reason = r.machine.FaultReason()
	}
	ev.StateChange = sc
	r.log.Log(ev)
}

func (r *Router) logMonitorState(peer uint16, newState, reason string) {
	ev := r.base(plog.DirectionIn, plog.LayerRoute, plog.CategoryState)
	ev.PeerID = peer
	ev.StateChange = &plog.StateChangeEvent{
		Entity:   plog.EntityMonitor,
		NewState: newState,
		Reason:   reason,
	}
	r.log.Log(ev)
}

func (r *Router) logError(layer plog.Layer, context string, err error) {
	ev := r.base(plog.DirectionIn, layer, plog.CategoryError)
	ev.Error = &plog.ErrorEvent{
		Layer:   layer,
		Message: err.Error(),
		Context: context,
	}
	r.log.Log(ev)
}
