package commands

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/pbus-protocol/pbus-go/pkg/plog"
	"github.com/pbus-protocol/pbus-go/pkg/wire"
)

// ViewFilter narrows the view to one layer, direction, or category.
type ViewFilter struct {
	Layer     *plog.Layer
	Direction *plog.Direction
	Category  *plog.Category
}

// RunView pretty-prints a capture.
func RunView(path string, filter ViewFilter, out io.Writer) error {
	return eachEvent(path, plog.Filter{
		Layer:     filter.Layer,
		Direction: filter.Direction,
		Category:  filter.Category,
	}, func(event plog.Event) error {
		printEvent(out, event)
		return nil
	})
}

// printEvent writes one event as a header line plus detail lines.
func printEvent(w io.Writer, event plog.Event) {
	label, details := describe(event)
	fmt.Fprintf(w, "%s [%s:%d trace:%s] %-3s %s %s\n",
		event.Timestamp.UTC().Format(stampFormat),
		event.LocalRole.String(), event.DeviceID, shortTrace(event.TraceID),
		event.Direction.String(), event.Layer.String(), label)
	if details != nil {
		details(w)
	}
	fmt.Fprintln(w)
}

// describe names the event for the header line and hands back the
// printer for its detail lines.
func describe(event plog.Event) (string, func(io.Writer)) {
	switch {
	case event.Frame != nil:
		f := event.Frame
		return "Frame", func(w io.Writer) { printFrame(w, f) }
	case event.Control != nil:
		c := event.Control
		return wire.MessageName(c.MsgType), func(w io.Writer) { printControl(w, c) }
	case event.StateChange != nil:
		sc := event.StateChange
		return "State", func(w io.Writer) { printTransition(w, sc) }
	case event.Fault != nil:
		f := event.Fault
		return "Fault", func(w io.Writer) { printFault(w, f) }
	case event.Error != nil:
		e := event.Error
		return "Error", func(w io.Writer) { printError(w, e) }
	default:
		return "Unknown", nil
	}
}

func printFrame(w io.Writer, f *plog.FrameEvent) {
	sealed := "plaintext"
	if f.Sealed {
		sealed = "sealed"
	}
	fmt.Fprintf(w, "  %d -> %d  seq %#x  %d bytes  %s\n",
		f.Source, f.Destination, f.Sequence, f.Size, sealed)
	if len(f.Data) > 0 {
		fmt.Fprintf(w, "  Data: %s", hex.EncodeToString(f.Data))
		if f.Truncated {
			fmt.Fprint(w, " (truncated)")
		}
		fmt.Fprintln(w)
	}
}

func printControl(w io.Writer, c *plog.ControlEvent) {
	if c.Status != nil {
		fmt.Fprintf(w, "  Status: %s (%d)\n", c.Status.String(), *c.Status)
	}
}

func printTransition(w io.Writer, sc *plog.StateChangeEvent) {
	from := sc.OldState
	if from == "" {
		from = "-"
	}
	fmt.Fprintf(w, "  %s: %s -> %s\n", sc.Entity, from, sc.NewState)
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func printFault(w io.Writer, f *plog.FaultEvent) {
	if f.Peer != 0 {
		fmt.Fprintf(w, "  Peer: %d\n", f.Peer)
	} else {
		fmt.Fprintln(w, "  Peer: unattributed")
	}
	fmt.Fprintf(w, "  Reason: %s\n", f.Reason.String())
	if f.Blocked {
		fmt.Fprintln(w, "  Peer blocked")
	}
	if f.Lockdown {
		fmt.Fprintln(w, "  Device lockdown")
	}
}

func printError(w io.Writer, e *plog.ErrorEvent) {
	fmt.Fprintf(w, "  %s error: %s\n", e.Layer, e.Message)
	if e.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", e.Context)
	}
}
