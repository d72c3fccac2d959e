package commands

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pbus-protocol/pbus-go/pkg/plog"
)

func createTestLogFile(t *testing.T, events []plog.Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.plog")

	logger, err := plog.NewFileLogger(path)
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	logger.Close()

	return path
}

func TestExportToJSONL(t *testing.T) {
	ts := time.Date(2026, 8, 20, 10, 15, 32, 123456000, time.UTC)
	events := []plog.Event{
		{
			Timestamp: ts,
			TraceID:   "trace-1",
			Direction: plog.DirectionIn,
			Layer:     plog.LayerFrame,
			Category:  plog.CategoryFrame,
			DeviceID:  10,
			PeerID:    11,
			Frame:     &plog.FrameEvent{Destination: 10, Source: 11, Sequence: 5, Size: 48, Sealed: true},
		},
		{
			Timestamp: ts.Add(time.Second),
			TraceID:   "trace-1",
			Direction: plog.DirectionOut,
			Layer:     plog.LayerControl,
			Category:  plog.CategoryControl,
			DeviceID:  10,
		},
	}

	path := createTestLogFile(t, events)
	out := filepath.Join(t.TempDir(), "out.jsonl")

	if err := RunExport(path, "jsonl", out); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	for i, line := range lines {
		var decoded map[string]any
		if err := json.Unmarshal([]byte(line), &decoded); err != nil {
			t.Errorf("line %d is not valid JSON: %v", i, err)
		}
	}
}

func TestExportToCSV(t *testing.T) {
	ts := time.Date(2026, 8, 20, 10, 15, 32, 0, time.UTC)
	events := []plog.Event{
		{
			Timestamp: ts,
			TraceID:   "trace-1",
			Direction: plog.DirectionIn,
			Layer:     plog.LayerFrame,
			Category:  plog.CategoryFrame,
			DeviceID:  10,
			Frame:     &plog.FrameEvent{Destination: 10, Source: 11, Sequence: 1, Size: 36},
		},
	}

	path := createTestLogFile(t, events)
	out := filepath.Join(t.TempDir(), "out.csv")

	if err := RunExport(path, "csv", out); err != nil {
		t.Fatalf("RunExport failed: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want header + 1 row", len(lines))
	}
	if !strings.HasPrefix(lines[0], "timestamp,trace_id,role") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], "Frame") {
		t.Errorf("row = %q, want Frame type", lines[1])
	}
}

func TestExportUnknownFormat(t *testing.T) {
	path := createTestLogFile(t, []plog.Event{{Timestamp: time.Now()}})
	if err := RunExport(path, "xml", ""); err == nil {
		t.Error("RunExport accepted an unknown format")
	}
}
