package plog

import (
	"testing"
	"time"
)

// recorder keeps every event it is handed.
type recorder struct {
	events []Event
}

func (r *recorder) Log(event Event) { r.events = append(r.events, event) }

func TestNoopLoggerZeroValue(t *testing.T) {
	var logger NoopLogger
	logger.Log(Event{})
	logger.Log(Event{
		Timestamp: time.Now(),
		TraceID:   "trace-1",
		Frame:     &FrameEvent{Destination: 7, Source: 12},
	})
}

func TestMultiLoggerFansOut(t *testing.T) {
	first := &recorder{}
	second := &recorder{}
	multi := NewMultiLogger(first, second)

	multi.Log(Event{TraceID: "trace-a"})
	multi.Log(Event{TraceID: "trace-b"})

	for i, r := range []*recorder{first, second} {
		if len(r.events) != 2 {
			t.Fatalf("sink %d saw %d events, want 2", i, len(r.events))
		}
		if r.events[0].TraceID != "trace-a" || r.events[1].TraceID != "trace-b" {
			t.Errorf("sink %d order = %q, %q", i, r.events[0].TraceID, r.events[1].TraceID)
		}
	}
}

func TestMultiLoggerNoSinks(t *testing.T) {
	NewMultiLogger().Log(Event{TraceID: "trace-1"})
}
