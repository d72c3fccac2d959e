package authority

import (
	"errors"
	"time"

	"github.com/pbus-protocol/pbus-go/pkg/abuse"
	"github.com/pbus-protocol/pbus-go/pkg/frame"
	"github.com/pbus-protocol/pbus-go/pkg/plog"
	"github.com/pbus-protocol/pbus-go/pkg/secure"
	"github.com/pbus-protocol/pbus-go/pkg/wire"
)

func (a *Authority) base(dir plog.Direction, layer plog.Layer, cat plog.Category) plog.Event {
	return plog.Event{
		Timestamp: time.Now(),
		TraceID:   a.traceID,
		Direction: dir,
		Layer:     layer,
		Category:  cat,
		LocalRole: plog.RoleAuthority,
		DeviceID:  frame.IDAuthority,
	}
}

func (a *Authority) logFrame(dir plog.Direction, f *frame.Frame, sealed bool) {
	ev := a.base(dir, plog.LayerFrame, plog.CategoryFrame)
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
	a.log.Log(ev)
}

func (a *Authority) logControl(dir plog.Direction, peer uint16, msgType uint8, status *wire.Status) {
	ev := a.base(dir, plog.LayerControl, plog.CategoryControl)
	ev.PeerID = peer
	ev.Control = &plog.ControlEvent{MsgType: msgType, Status: status}
	a.log.Log(ev)
}

func (a *Authority) fault(peer uint16, reason abuse.Reason) {
	a.monitor.RecordFault(peer, reason)
	a.logFault(peer, reason)
}

func (a *Authority) faultUnattributed(reason abuse.Reason) {
	a.monitor.RecordUnattributed(reason)
	a.logFault(0, reason)
}

func (a *Authority) logFault(peer uint16, reason abuse.Reason) {
	ev := a.base(plog.DirectionIn, plog.LayerRoute, plog.CategoryFault)
	ev.PeerID = peer
	ev.Fault = &plog.FaultEvent{
		Peer:     peer,
		Reason:   reason,
		Blocked:  peer != 0 && a.monitor.Blocked(peer),
		Lockdown: a.monitor.Lockdown(),
	}
	a.log.Log(ev)
}

// logOpenFailure logs the fault the engine just reported through the
// monitor. Session-setup errors report nothing and log nothing.
func (a *Authority) logOpenFailure(peer uint16, err error) {
	switch {
	case errors.Is(err, secure.ErrAuthFailure):
		a.logFault(peer, abuse.ReasonAuthFailure)
	case errors.Is(err, secure.ErrReplayDetected):
		a.logFault(peer, abuse.ReasonReplay)
	}
}

func (a *Authority) logMonitorState(peer uint16, newState, reason string) {
	ev := a.base(plog.DirectionIn, plog.LayerRoute, plog.CategoryState)
	ev.PeerID = peer
	ev.StateChange = &plog.StateChangeEvent{
		Entity:   plog.EntityMonitor,
		NewState: newState,
		Reason:   reason,
	}
	a.log.Log(ev)
}

func (a *Authority) logError(layer plog.Layer, context string, err error) {
	ev := a.base(plog.DirectionIn, layer, plog.CategoryError)
	ev.Error = &plog.ErrorEvent{
		Layer:   layer,
		Message: err.Error(),
		Context: context,
	}
	a.log.Log(ev)
}
