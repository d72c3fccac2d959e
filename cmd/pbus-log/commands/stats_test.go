package commands

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/pbus-protocol/pbus-go/pkg/abuse"
	"github.com/pbus-protocol/pbus-go/pkg/plog"
)

func TestStatsCountsByLayer(t *testing.T) {
	ts := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	events := []plog.Event{
		{Timestamp: ts, TraceID: "t1", Layer: plog.LayerFrame, Category: plog.CategoryFrame},
		{Timestamp: ts, TraceID: "t1", Layer: plog.LayerFrame, Category: plog.CategoryFrame},
		{Timestamp: ts, TraceID: "t1", Layer: plog.LayerSecure, Category: plog.CategoryError},
		{Timestamp: ts, TraceID: "t1", Layer: plog.LayerRoute, Category: plog.CategoryState},
	}

	var buf bytes.Buffer
	if err := RunStats(createTestLogFile(t, events), &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "Total Events: 4") {
		t.Error("expected total count in output")
	}
	for _, want := range []string{"FRAME:", "SECURE:", "ROUTE:"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %s in output", want)
		}
	}
}

func TestStatsCountsFaultsByReason(t *testing.T) {
	ts := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	events := []plog.Event{
		{Timestamp: ts, TraceID: "t1", Category: plog.CategoryFault,
			Fault: &plog.FaultEvent{Peer: 11, Reason: abuse.ReasonAuthFailure}},
		{Timestamp: ts, TraceID: "t1", Category: plog.CategoryFault,
			Fault: &plog.FaultEvent{Peer: 11, Reason: abuse.ReasonAuthFailure}},
		{Timestamp: ts, TraceID: "t1", Category: plog.CategoryFault,
			Fault: &plog.FaultEvent{Peer: 0, Reason: abuse.ReasonMalformed}},
	}

	var buf bytes.Buffer
	if err := RunStats(createTestLogFile(t, events), &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "AUTH_FAILURE:") {
		t.Error("expected AUTH_FAILURE count in output")
	}
	if !strings.Contains(output, "MALFORMED:") {
		t.Error("expected MALFORMED count in output")
	}
}

func TestStatsCountsTraces(t *testing.T) {
	ts := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	events := []plog.Event{
		{Timestamp: ts, TraceID: "aaaa-1111", LocalRole: plog.RoleDevice, DeviceID: 10},
		{Timestamp: ts.Add(time.Second), TraceID: "aaaa-1111", LocalRole: plog.RoleDevice, DeviceID: 10},
		{Timestamp: ts, TraceID: "bbbb-2222", LocalRole: plog.RoleAuthority, DeviceID: 1},
	}

	var buf bytes.Buffer
	if err := RunStats(createTestLogFile(t, events), &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "Traces: 2") {
		t.Error("expected trace count in output")
	}
	if !strings.Contains(output, "DEVICE 10") {
		t.Error("expected device trace line in output")
	}
	if !strings.Contains(output, "AUTHORITY 1") {
		t.Error("expected authority trace line in output")
	}
}

func TestStatsEmptyFile(t *testing.T) {
	var buf bytes.Buffer
	if err := RunStats(createTestLogFile(t, nil), &buf); err != nil {
		t.Fatalf("RunStats failed: %v", err)
	}
	if !strings.Contains(buf.String(), "Total Events: 0") {
		t.Error("expected zero total in output")
	}
}
