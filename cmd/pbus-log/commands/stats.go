package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/pbus-protocol/pbus-go/pkg/abuse"
	"github.com/pbus-protocol/pbus-go/pkg/plog"
)

// Stats aggregates a capture: event counts by classification, fault
// tallies, and a per-run summary.
type Stats struct {
	TotalEvents int
	ByLayer     map[plog.Layer]int
	ByCategory  map[plog.Category]int
	ByDirection map[plog.Direction]int
	ByReason    map[abuse.Reason]int
	Errors      int
	Traces      map[string]*TraceStats
	First       time.Time
	Last        time.Time
}

// TraceStats summarizes one controller run.
type TraceStats struct {
	FirstSeen time.Time
	LastSeen  time.Time
	Events    int
	Role      plog.Role
	DeviceID  uint16
}

func newStats() *Stats {
	return &Stats{
		ByLayer:     make(map[plog.Layer]int),
		ByCategory:  make(map[plog.Category]int),
		ByDirection: make(map[plog.Direction]int),
		ByReason:    make(map[abuse.Reason]int),
		Traces:      make(map[string]*TraceStats),
	}
}

// RunStats tallies a capture and prints the summary.
func RunStats(path string, out io.Writer) error {
	stats := newStats()
	err := eachEvent(path, plog.Filter{}, func(event plog.Event) error {
		stats.observe(event)
		return nil
	})
	if err != nil {
		return err
	}
	stats.print(out)
	return nil
}

// observe folds one event into the totals.
func (s *Stats) observe(event plog.Event) {
	s.TotalEvents++
	s.ByLayer[event.Layer]++
	s.ByCategory[event.Category]++
	s.ByDirection[event.Direction]++

	if s.First.IsZero() || event.Timestamp.Before(s.First) {
		s.First = event.Timestamp
	}
	if event.Timestamp.After(s.Last) {
		s.Last = event.Timestamp
	}

	trace := s.Traces[event.TraceID]
	if trace == nil {
		trace = &TraceStats{
			FirstSeen: event.Timestamp,
			LastSeen:  event.Timestamp,
			Role:      event.LocalRole,
			DeviceID:  event.DeviceID,
		}
		s.Traces[event.TraceID] = trace
	}
	trace.Events++
	if event.Timestamp.After(trace.LastSeen) {
		trace.LastSeen = event.Timestamp
	}

	if event.Fault != nil {
		s.ByReason[event.Fault.Reason]++
	}
	if event.Error != nil {
		s.Errors++
	}
}

func (s *Stats) print(w io.Writer) {
	fmt.Fprintln(w, "Capture summary")
	fmt.Fprintln(w)

	if s.TotalEvents > 0 {
		fmt.Fprintf(w, "Span: %s to %s (%s)\n",
			s.First.Format(time.RFC3339), s.Last.Format(time.RFC3339),
			s.Last.Sub(s.First).Round(time.Second))
	}
	fmt.Fprintf(w, "Total Events: %d\n", s.TotalEvents)
	fmt.Fprintln(w)

	tally(w, "Events by Layer",
		[]plog.Layer{plog.LayerFrame, plog.LayerSecure, plog.LayerControl, plog.LayerRoute}, s.ByLayer)
	tally(w, "Events by Category",
		[]plog.Category{plog.CategoryFrame, plog.CategoryControl, plog.CategoryState, plog.CategoryFault, plog.CategoryError}, s.ByCategory)
	tally(w, "Events by Direction",
		[]plog.Direction{plog.DirectionIn, plog.DirectionOut}, s.ByDirection)

	if len(s.ByReason) > 0 {
		reasons := make([]abuse.Reason, 0, len(s.ByReason))
		for reason := range s.ByReason {
			reasons = append(reasons, reason)
		}
		sort.Slice(reasons, func(i, j int) bool { return reasons[i] < reasons[j] })
		tally(w, "Faults by Reason", reasons, s.ByReason)
	}

	if s.Errors > 0 {
		fmt.Fprintf(w, "Errors: %d\n", s.Errors)
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Traces: %d\n", len(s.Traces))
	ids := make([]string, 0, len(s.Traces))
	for id := range s.Traces {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return s.Traces[ids[i]].FirstSeen.Before(s.Traces[ids[j]].FirstSeen)
	})
	for _, id := range ids {
		tr := s.Traces[id]
		fmt.Fprintf(w, "  %s  %s %d  %d events  %s\n",
			shortTrace(id), tr.Role, tr.DeviceID, tr.Events,
			tr.LastSeen.Sub(tr.FirstSeen).Round(time.Millisecond))
	}
}

// tally prints one counter section. The widest label sets the column
// width; zero counts stay silent.
func tally[T interface {
	comparable
	fmt.Stringer
}](w io.Writer, title string, order []T, counts map[T]int) {
	width := 0
	for _, key := range order {
		if n := len(key.String()); n > width {
			width = n
		}
	}
	fmt.Fprintf(w, "%s:\n", title)
	for _, key := range order {
		if n := counts[key]; n > 0 {
			fmt.Fprintf(w, "  %-*s %d\n", width+1, key.String()+":", n)
		}
	}
	fmt.Fprintln(w)
}
