package abuse

import (
	"errors"
	"testing"
)

func TestAdmitWithinCapacity(t *testing.T) {
	m := NewMonitor(Config{BucketCapacity: 3})

	for i := 0; i < 3; i++ {
		if err := m.Admit(10); err != nil {
			t.Fatalf("admit %d failed: %v", i, err)
		}
	}
	if err := m.Admit(10); !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected ErrRateLimited, got %v", err)
	}
}

func TestBucketRefill(t *testing.T) {
	m := NewMonitor(Config{BucketCapacity: 2, RefillIntervalTicks: 4})

	// Drain the bucket.
	for i := 0; i < 2; i++ {
		if err := m.Admit(10); err != nil {
			t.Fatalf("admit %d failed: %v", i, err)
		}
	}
	if err := m.Admit(10); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	// Fewer ticks than one interval earn nothing.
	for i := 0; i < 3; i++ {
		m.Tick()
	}
	if err := m.Admit(10); !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected ErrRateLimited before refill, got %v", err)
	}

	// One more tick completes an interval: exactly one credit.
	m.Tick()
	if err := m.Admit(10); err != nil {
		t.Errorf("admit after refill failed: %v", err)
	}
	if err := m.Admit(10); !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected ErrRateLimited after single credit, got %v", err)
	}

	// A long quiet period tops up to capacity, never beyond.
	for i := 0; i < 100; i++ {
		m.Tick()
	}
	for i := 0; i < 2; i++ {
		if err := m.Admit(10); err != nil {
			t.Fatalf("admit %d after long refill failed: %v", i, err)
		}
	}
	if err := m.Admit(10); !errors.Is(err, ErrRateLimited) {
		t.Errorf("bucket refilled beyond capacity")
	}
}

func TestPeersHaveIndependentBuckets(t *testing.T) {
	m := NewMonitor(Config{BucketCapacity: 1})

	if err := m.Admit(10); err != nil {
		t.Fatalf("admit peer 10 failed: %v", err)
	}
	if err := m.Admit(11); err != nil {
		t.Fatalf("admit peer 11 failed: %v", err)
	}
	if err := m.Admit(10); !errors.Is(err, ErrRateLimited) {
		t.Errorf("peer 10 not limited")
	}
}

func TestPeerBlockedAfterConsecutiveFaults(t *testing.T) {
	m := NewMonitor(Config{PeerFaultThreshold: 5})

	var blocked []uint16
	m.SetOnPeerBlocked(func(peer uint16) { blocked = append(blocked, peer) })

	for i := 0; i < 4; i++ {
		m.RecordFault(10, ReasonAuthFailure)
	}
	if m.Blocked(10) {
		t.Fatal("blocked before threshold")
	}

	m.RecordFault(10, ReasonAuthFailure)
	if !m.Blocked(10) {
		t.Fatal("not blocked at threshold")
	}
	if err := m.Admit(10); !errors.Is(err, ErrPeerBlocked) {
		t.Errorf("expected ErrPeerBlocked, got %v", err)
	}

	// The callback fires exactly once.
	m.RecordFault(10, ReasonAuthFailure)
	if len(blocked) != 1 || blocked[0] != 10 {
		t.Errorf("blocked callbacks = %v, want [10]", blocked)
	}

	if got := m.BlockedPeers(); len(got) != 1 || got[0] != 10 {
		t.Errorf("BlockedPeers = %v, want [10]", got)
	}
}

func TestAuthenticatedFrameClearsStreak(t *testing.T) {
	m := NewMonitor(Config{PeerFaultThreshold: 5})

	for i := 0; i < 4; i++ {
		m.RecordFault(10, ReasonAuthFailure)
	}
	m.NoteAuthenticated(10)
	for i := 0; i < 4; i++ {
		m.RecordFault(10, ReasonAuthFailure)
	}
	if m.Blocked(10) {
		t.Fatal("blocked although the streak was broken")
	}

	m.RecordFault(10, ReasonAuthFailure)
	if !m.Blocked(10) {
		t.Fatal("not blocked after five consecutive faults")
	}
}

func TestDeviceWideLockdown(t *testing.T) {
	m := NewMonitor(Config{PeerFaultThreshold: 100, DeviceFaultThreshold: 6})

	fired := 0
	m.SetOnLockdown(func() { fired++ })

	// Faults spread across peers still accumulate device-wide.
	for i := 0; i < 6; i++ {
		m.RecordFault(uint16(10+i), ReasonReplay)
	}
	if !m.Lockdown() {
		t.Fatal("no lockdown at device threshold")
	}
	if fired != 1 {
		t.Errorf("lockdown callback fired %d times, want 1", fired)
	}
	if m.DeviceFaults() != 6 {
		t.Errorf("DeviceFaults = %d, want 6", m.DeviceFaults())
	}

	m.RecordFault(50, ReasonReplay)
	if fired != 1 {
		t.Errorf("lockdown callback re-fired")
	}
}

func TestSustainedRateLimitingCountsFaults(t *testing.T) {
	m := NewMonitor(Config{
		BucketCapacity:       1,
		RefillIntervalTicks:  1000,
		RateLimitFaultStreak: 4,
		PeerFaultThreshold:   100,
	})

	if err := m.Admit(10); err != nil {
		t.Fatalf("admit failed: %v", err)
	}

	// Three consecutive limited drops are not yet a fault.
	for i := 0; i < 3; i++ {
		if err := m.Admit(10); !errors.Is(err, ErrRateLimited) {
			t.Fatalf("expected ErrRateLimited, got %v", err)
		}
	}
	if len(m.Records()) != 0 {
		t.Fatalf("fault recorded before streak completed: %v", m.Records())
	}

	// The fourth completes the streak.
	if err := m.Admit(10); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	recs := m.Records()
	if len(recs) != 1 || recs[0].Reason != ReasonRateLimited {
		t.Errorf("records = %v, want one RATE_LIMITED", recs)
	}
}

func TestRecordUnattributed(t *testing.T) {
	m := NewMonitor(Config{DeviceFaultThreshold: 100})

	m.RecordUnattributed(ReasonMalformed)

	if m.DeviceFaults() != 1 {
		t.Errorf("DeviceFaults = %d, want 1", m.DeviceFaults())
	}
	recs := m.Records()
	if len(recs) != 1 || recs[0].Peer != 0 || recs[0].Reason != ReasonMalformed {
		t.Errorf("records = %v", recs)
	}
	if len(m.BlockedPeers()) != 0 {
		t.Errorf("unattributed fault blocked a peer")
	}
}

func TestFaultLogBounded(t *testing.T) {
	m := NewMonitor(Config{PeerFaultThreshold: 1000, DeviceFaultThreshold: 1000})

	for i := 0; i < FaultLogCapacity+10; i++ {
		m.Tick()
		m.RecordFault(10, ReasonProtocolViolation)
	}

	recs := m.Records()
	if len(recs) != FaultLogCapacity {
		t.Fatalf("log holds %d records, want %d", len(recs), FaultLogCapacity)
	}

	// Oldest evicted first: the first surviving record is from tick 11,
	// and ticks increase monotonically across the snapshot.
	if recs[0].Tick != 11 {
		t.Errorf("oldest surviving record tick = %d, want 11", recs[0].Tick)
	}
	for i := 1; i < len(recs); i++ {
		if recs[i].Tick != recs[i-1].Tick+1 {
			t.Fatalf("record ticks out of order at %d: %d after %d", i, recs[i].Tick, recs[i-1].Tick)
		}
	}
}

func TestEvictionKeepsBlockedPeers(t *testing.T) {
	m := NewMonitor(Config{PeerFaultThreshold: 1, DeviceFaultThreshold: 1000})

	// Block one peer, then churn enough others to force eviction.
	m.RecordFault(10, ReasonAuthFailure)
	if !m.Blocked(10) {
		t.Fatal("peer 10 not blocked")
	}

	for i := 0; i < MaxTrackedPeers+8; i++ {
		m.Tick()
		if err := m.Admit(uint16(100 + i)); err != nil {
			t.Fatalf("admit churn peer failed: %v", err)
		}
	}

	if !m.Blocked(10) {
		t.Error("blocked peer was evicted by churn")
	}
}

func TestResetClearsEverything(t *testing.T) {
	m := NewMonitor(Config{BucketCapacity: 1, PeerFaultThreshold: 1})

	m.RecordFault(10, ReasonAuthFailure)
	if err := m.Admit(11); err != nil {
		t.Fatalf("admit failed: %v", err)
	}

	m.Reset()

	if m.Blocked(10) {
		t.Error("peer still blocked after reset")
	}
	if m.Lockdown() {
		t.Error("lockdown survived reset")
	}
	if m.DeviceFaults() != 0 {
		t.Errorf("DeviceFaults = %d after reset", m.DeviceFaults())
	}
	if len(m.Records()) != 0 {
		t.Errorf("records survived reset: %v", m.Records())
	}
	if err := m.Admit(11); err != nil {
		t.Errorf("admit after reset failed: %v", err)
	}
}

func TestReporterRecordsReasons(t *testing.T) {
	m := NewMonitor(Config{PeerFaultThreshold: 100, DeviceFaultThreshold: 100})

	m.ReportAuthFailure(10)
	m.ReportReplay(11)

	recs := m.Records()
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2", len(recs))
	}
	if recs[0].Peer != 10 || recs[0].Reason != ReasonAuthFailure {
		t.Errorf("first record = %+v", recs[0])
	}
	if recs[1].Peer != 11 || recs[1].Reason != ReasonReplay {
		t.Errorf("second record = %+v", recs[1])
	}
}

func TestReasonString(t *testing.T) {
	tests := []struct {
		reason Reason
		want   string
	}{
		{ReasonMalformed, "MALFORMED"},
		{ReasonAuthFailure, "AUTH_FAILURE"},
		{ReasonReplay, "REPLAY"},
		{ReasonProtocolViolation, "PROTOCOL_VIOLATION"},
		{ReasonRateLimited, "RATE_LIMITED"},
		{Reason(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.reason.String(); got != tt.want {
			t.Errorf("Reason(%d).String() = %q, want %q", tt.reason, got, tt.want)
		}
	}
}
