package plog

import (
	"io"
	"path/filepath"
	"testing"
	"time"
)

// writeCapture builds a capture file from events and returns its path.
func writeCapture(t *testing.T, events []Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.plog")
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	logger.Close()
	return path
}

func drainReader(t *testing.T, r *Reader) []Event {
	t.Helper()
	var read []Event
	for {
		event, err := r.Next()
		if err == io.EOF {
			return read
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		read = append(read, event)
	}
}

func TestReaderPreservesOrder(t *testing.T) {
	path := writeCapture(t, []Event{
		{Timestamp: time.Now(), TraceID: "trace-1", Layer: LayerFrame},
		{Timestamp: time.Now(), TraceID: "trace-2", Layer: LayerSecure},
		{Timestamp: time.Now(), TraceID: "trace-3", Layer: LayerControl},
	})

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	read := drainReader(t, reader)
	if len(read) != 3 {
		t.Fatalf("read %d events, want 3", len(read))
	}
	for i, want := range []string{"trace-1", "trace-2", "trace-3"} {
		if read[i].TraceID != want {
			t.Errorf("event %d TraceID = %q, want %q", i, read[i].TraceID, want)
		}
	}

	if _, err := reader.Next(); err != io.EOF {
		t.Errorf("Next after drain = %v, want io.EOF", err)
	}
}

func TestReaderEmptyCapture(t *testing.T) {
	path := writeCapture(t, nil)

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader failed: %v", err)
	}
	defer reader.Close()

	if _, err := reader.Next(); err != io.EOF {
		t.Errorf("Next on empty capture = %v, want io.EOF", err)
	}
}

func TestFilteredReader(t *testing.T) {
	base := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	secure := LayerSecure
	in := DirectionIn
	peer := uint16(12)
	start := base.Add(-5 * time.Minute)
	end := base.Add(time.Hour)

	// Four events spanning traces, layers, directions, peers, and times;
	// each case names the traces its filter should let through.
	events := []Event{
		{Timestamp: base.Add(-time.Hour), TraceID: "frame-in", Direction: DirectionIn, Layer: LayerFrame, PeerID: 9},
		{Timestamp: base, TraceID: "secure-out", Direction: DirectionOut, Layer: LayerSecure, PeerID: 12},
		{Timestamp: base.Add(30 * time.Minute), TraceID: "secure-in", Direction: DirectionIn, Layer: LayerSecure, PeerID: 12},
		{Timestamp: base.Add(2 * time.Hour), TraceID: "late-frame", Direction: DirectionOut, Layer: LayerFrame, PeerID: 9},
	}
	path := writeCapture(t, events)

	cases := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"by trace", Filter{TraceID: "secure-in"}, []string{"secure-in"}},
		{"by layer", Filter{Layer: &secure}, []string{"secure-out", "secure-in"}},
		{"by peer", Filter{PeerID: &peer}, []string{"secure-out", "secure-in"}},
		{"by time window", Filter{Since: &start, Until: &end}, []string{"secure-out", "secure-in"}},
		{"combined", Filter{Layer: &secure, Direction: &in}, []string{"secure-in"}},
		{"no match", Filter{TraceID: "absent"}, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reader, err := NewFilteredReader(path, tc.filter)
			if err != nil {
				t.Fatalf("NewFilteredReader failed: %v", err)
			}
			defer reader.Close()

			read := drainReader(t, reader)
			if len(read) != len(tc.want) {
				t.Fatalf("read %d events, want %d", len(read), len(tc.want))
			}
			for i, want := range tc.want {
				if read[i].TraceID != want {
					t.Errorf("event %d = %q, want %q", i, read[i].TraceID, want)
				}
			}
		})
	}
}
