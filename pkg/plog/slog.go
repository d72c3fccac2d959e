package plog

import (
	"context"
	"log/slog"

	"github.com/pbus-protocol/pbus-go/pkg/wire"
)

// SlogSink mirrors capture events into an slog.Logger, for development
// runs where watching the console beats opening the capture file.
type SlogSink struct {
	log *slog.Logger
}

// NewSlogSink returns a sink emitting one Debug record per event.
func NewSlogSink(log *slog.Logger) *SlogSink {
	return &SlogSink{log: log}
}

// Log emits the event as a "protocol" record.
func (s *SlogSink) Log(event Event) {
	attrs := make([]slog.Attr, 0, 12)
	attrs = append(attrs,
		slog.String("trace_id", event.TraceID),
		slog.String("direction", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	)
	if event.DeviceID != 0 {
		attrs = append(attrs, slog.Uint64("device_id", uint64(event.DeviceID)))
	}
	if event.PeerID != 0 {
		attrs = append(attrs, slog.Uint64("peer_id", uint64(event.PeerID)))
	}
	s.log.LogAttrs(context.Background(), slog.LevelDebug, "protocol", event.appendDetail(attrs)...)
}

// appendDetail adds the attributes of whichever payload the event
// carries.
func (e Event) appendDetail(attrs []slog.Attr) []slog.Attr {
	switch {
	case e.Frame != nil:
		f := e.Frame
		return append(attrs,
			slog.Uint64("dst", uint64(f.Destination)),
			slog.Uint64("src", uint64(f.Source)),
			slog.Uint64("seq", f.Sequence),
			slog.Int("frame_size", f.Size),
			slog.Bool("sealed", f.Sealed),
		)
	case e.Control != nil:
		attrs = append(attrs, slog.String("msg_type", wire.MessageName(e.Control.MsgType)))
		if st := e.Control.Status; st != nil {
			attrs = append(attrs, slog.String("status", st.String()))
		}
		return attrs
	case e.StateChange != nil:
		sc := e.StateChange
		attrs = append(attrs,
			slog.String("entity", sc.Entity.String()),
			slog.String("from", sc.OldState),
			slog.String("to", sc.NewState),
		)
		if sc.Reason != "" {
			attrs = append(attrs, slog.String("reason", sc.Reason))
		}
		return attrs
	case e.Fault != nil:
		f := e.Fault
		attrs = append(attrs,
			slog.Uint64("fault_peer", uint64(f.Peer)),
			slog.String("fault_reason", f.Reason.String()),
		)
		if f.Blocked {
			attrs = append(attrs, slog.Bool("blocked", true))
		}
		if f.Lockdown {
			attrs = append(attrs, slog.Bool("lockdown", true))
		}
		return attrs
	case e.Error != nil:
		return append(attrs,
			slog.String("error_layer", e.Error.Layer.String()),
			slog.String("error_msg", e.Error.Message),
			slog.String("error_context", e.Error.Context),
		)
	default:
		return attrs
	}
}

var _ Logger = (*SlogSink)(nil)
