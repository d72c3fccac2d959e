package secure

import (
	"bytes"
	"errors"
	"testing"

	"github.com/pbus-protocol/pbus-go/pkg/frame"
)

type fakeReporter struct {
	authFailures []uint16
	replays      []uint16
}

func (r *fakeReporter) ReportAuthFailure(peer uint16) {
	r.authFailures = append(r.authFailures, peer)
}

func (r *fakeReporter) ReportReplay(peer uint16) {
	r.replays = append(r.replays, peer)
}

func testSecretByte(fill byte) []byte {
	s := make([]byte, SecretSize)
	for i := range s {
		s[i] = fill
	}
	return s
}

// testPair builds two engines sharing a network secret, as two
// registered devices would after completing registration.
func testPair(t *testing.T, idA, idB uint16) (*Engine, *Engine) {
	t.Helper()

	a, err := NewEngine(idA, testSecretByte(0x11))
	if err != nil {
		t.Fatalf("NewEngine(%d) failed: %v", idA, err)
	}
	b, err := NewEngine(idB, testSecretByte(0x22))
	if err != nil {
		t.Fatalf("NewEngine(%d) failed: %v", idB, err)
	}

	netSecret := testSecretByte(0x33)
	if err := a.InstallNetworkKey(netSecret, 1); err != nil {
		t.Fatalf("InstallNetworkKey(a) failed: %v", err)
	}
	if err := b.InstallNetworkKey(netSecret, 1); err != nil {
		t.Fatalf("InstallNetworkKey(b) failed: %v", err)
	}
	return a, b
}

func TestDerivationDeterministic(t *testing.T) {
	secret := testSecretByte(0x44)

	k1, err := DeriveRegistrationKey(secret, 10)
	if err != nil {
		t.Fatalf("DeriveRegistrationKey failed: %v", err)
	}
	k2, err := DeriveRegistrationKey(secret, 10)
	if err != nil {
		t.Fatalf("DeriveRegistrationKey failed: %v", err)
	}
	if !bytes.Equal(k1, k2) {
		t.Error("same inputs produced different registration keys")
	}

	k3, err := DeriveRegistrationKey(secret, 11)
	if err != nil {
		t.Fatalf("DeriveRegistrationKey failed: %v", err)
	}
	if bytes.Equal(k1, k3) {
		t.Error("different device ids produced the same registration key")
	}
}

func TestPairwiseKeySymmetric(t *testing.T) {
	netSecret := testSecretByte(0x55)

	kAB, err := DerivePairwiseKey(netSecret, 1, 10, 11)
	if err != nil {
		t.Fatalf("DerivePairwiseKey failed: %v", err)
	}
	kBA, err := DerivePairwiseKey(netSecret, 1, 11, 10)
	if err != nil {
		t.Fatalf("DerivePairwiseKey failed: %v", err)
	}
	if !bytes.Equal(kAB, kBA) {
		t.Error("pairwise key is not symmetric in the device pair")
	}

	kOther, err := DerivePairwiseKey(netSecret, 1, 10, 12)
	if err != nil {
		t.Fatalf("DerivePairwiseKey failed: %v", err)
	}
	if bytes.Equal(kAB, kOther) {
		t.Error("different pairs produced the same key")
	}

	kNextEpoch, err := DerivePairwiseKey(netSecret, 2, 10, 11)
	if err != nil {
		t.Fatalf("DerivePairwiseKey failed: %v", err)
	}
	if bytes.Equal(kAB, kNextEpoch) {
		t.Error("different epochs produced the same key")
	}
}

func TestDeriveRejectsBadSecretLength(t *testing.T) {
	if _, err := DeriveRegistrationKey([]byte("short"), 10); err == nil {
		t.Error("expected error for short secret")
	}
}

func TestUnicastRoundTrip(t *testing.T) {
	a, b := testPair(t, 10, 11)

	f, err := a.SealUnicast(11, []byte("hello"))
	if err != nil {
		t.Fatalf("SealUnicast failed: %v", err)
	}
	if bytes.Contains(f.Payload, []byte("hello")) {
		t.Error("sealed payload contains plaintext")
	}
	if f.Sequence != 1 {
		t.Errorf("first sequence = %d, want 1", f.Sequence)
	}

	got, err := b.OpenUnicast(f)
	if err != nil {
		t.Fatalf("OpenUnicast failed: %v", err)
	}
	if !bytes.Equal(got, []byte("hello")) {
		t.Errorf("plaintext = %q, want %q", got, "hello")
	}
}

func TestSealedFrameSurvivesCodec(t *testing.T) {
	a, b := testPair(t, 10, 11)

	f, err := a.SealUnicast(11, []byte("through the wire"))
	if err != nil {
		t.Fatalf("SealUnicast failed: %v", err)
	}

	data, err := f.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	decoded, err := frame.Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	got, err := b.OpenUnicast(decoded)
	if err != nil {
		t.Fatalf("OpenUnicast after codec failed: %v", err)
	}
	if !bytes.Equal(got, []byte("through the wire")) {
		t.Errorf("plaintext = %q", got)
	}
}

// TestTagBitFlipRejected covers every bit of the tag: flipping any
// single one must yield an authentication failure and no plaintext.
func TestTagBitFlipRejected(t *testing.T) {
	a, b := testPair(t, 10, 11)

	for bit := 0; bit < frame.TagSize*8; bit++ {
		f, err := a.SealUnicast(11, []byte("sensitive"))
		if err != nil {
			t.Fatalf("SealUnicast failed: %v", err)
		}
		f.Tag[bit/8] ^= 1 << (bit % 8)

		plaintext, err := b.OpenUnicast(f)
		if !errors.Is(err, ErrAuthFailure) {
			t.Fatalf("bit %d: expected ErrAuthFailure, got %v", bit, err)
		}
		if plaintext != nil {
			t.Fatalf("bit %d: plaintext released on auth failure", bit)
		}
	}
}

func TestHeaderTamperRejected(t *testing.T) {
	a, b := testPair(t, 10, 11)

	tests := []struct {
		name   string
		tamper func(f *frame.Frame)
	}{
		{
			name:   "redirected destination",
			tamper: func(f *frame.Frame) { f.Destination = 12 },
		},
		{
			name:   "forged source",
			tamper: func(f *frame.Frame) { f.Source = 12 },
		},
		{
			name:   "payload bit flip",
			tamper: func(f *frame.Frame) { f.Payload[0] ^= 0x01 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := a.SealUnicast(11, []byte("bound to header"))
			if err != nil {
				t.Fatalf("SealUnicast failed: %v", err)
			}
			tt.tamper(f)

			// A forged source changes which session opens the frame;
			// every variant must still end in an auth failure.
			if _, err := b.OpenUnicast(f); !errors.Is(err, ErrAuthFailure) {
				t.Errorf("expected ErrAuthFailure, got %v", err)
			}
		})
	}
}

func TestReplayRejected(t *testing.T) {
	a, b := testPair(t, 10, 11)
	reporter := &fakeReporter{}
	b.SetReporter(reporter)

	f1, err := a.SealUnicast(11, []byte("one"))
	if err != nil {
		t.Fatalf("SealUnicast failed: %v", err)
	}
	f2, err := a.SealUnicast(11, []byte("two"))
	if err != nil {
		t.Fatalf("SealUnicast failed: %v", err)
	}

	if _, err := b.OpenUnicast(f1); err != nil {
		t.Fatalf("OpenUnicast(f1) failed: %v", err)
	}
	if _, err := b.OpenUnicast(f2); err != nil {
		t.Fatalf("OpenUnicast(f2) failed: %v", err)
	}

	// Verbatim replay of f2 and the older f1 must both be rejected.
	if _, err := b.OpenUnicast(f2); !errors.Is(err, ErrReplayDetected) {
		t.Errorf("replay of f2: expected ErrReplayDetected, got %v", err)
	}
	if _, err := b.OpenUnicast(f1); !errors.Is(err, ErrReplayDetected) {
		t.Errorf("replay of f1: expected ErrReplayDetected, got %v", err)
	}

	if len(reporter.replays) != 2 {
		t.Errorf("reporter saw %d replays, want 2", len(reporter.replays))
	}
	for _, peer := range reporter.replays {
		if peer != 10 {
			t.Errorf("replay attributed to %d, want 10", peer)
		}
	}
}

func TestSequenceGapAccepted(t *testing.T) {
	a, b := testPair(t, 10, 11)

	// Frames may be lost on the bus; only monotonicity is required.
	var last *frame.Frame
	for i := 0; i < 5; i++ {
		f, err := a.SealUnicast(11, []byte("burst"))
		if err != nil {
			t.Fatalf("SealUnicast failed: %v", err)
		}
		last = f
	}

	if _, err := b.OpenUnicast(last); err != nil {
		t.Fatalf("OpenUnicast after gap failed: %v", err)
	}
	s, err := b.Session(10)
	if err != nil {
		t.Fatalf("Session failed: %v", err)
	}
	if s.LastSeen() != 5 {
		t.Errorf("LastSeen = %d, want 5", s.LastSeen())
	}
}

func TestAuthFailureReported(t *testing.T) {
	a, b := testPair(t, 10, 11)
	reporter := &fakeReporter{}
	b.SetReporter(reporter)

	f, err := a.SealUnicast(11, []byte("tampered"))
	if err != nil {
		t.Fatalf("SealUnicast failed: %v", err)
	}
	f.Tag[0] ^= 0x01

	if _, err := b.OpenUnicast(f); !errors.Is(err, ErrAuthFailure) {
		t.Fatalf("expected ErrAuthFailure, got %v", err)
	}
	if len(reporter.authFailures) != 1 || reporter.authFailures[0] != 10 {
		t.Errorf("auth failure attribution = %v, want [10]", reporter.authFailures)
	}
}

func TestBroadcastRoundTrip(t *testing.T) {
	a, b := testPair(t, 10, 11)
	c, err := NewEngine(12, testSecretByte(0x66))
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	if err := c.InstallNetworkKey(testSecretByte(0x33), 1); err != nil {
		t.Fatalf("InstallNetworkKey failed: %v", err)
	}

	f, err := a.SealBroadcast([]byte("to everyone"))
	if err != nil {
		t.Fatalf("SealBroadcast failed: %v", err)
	}
	if f.Destination != frame.IDBroadcast {
		t.Errorf("Destination = %d, want broadcast", f.Destination)
	}

	for name, e := range map[string]*Engine{"b": b, "c": c} {
		got, err := e.OpenBroadcast(f)
		if err != nil {
			t.Fatalf("%s: OpenBroadcast failed: %v", name, err)
		}
		if !bytes.Equal(got, []byte("to everyone")) {
			t.Errorf("%s: plaintext = %q", name, got)
		}
	}

	// Replay at one receiver is rejected; sequence windows are per
	// receiver and per sender.
	if _, err := b.OpenBroadcast(f); !errors.Is(err, ErrReplayDetected) {
		t.Errorf("broadcast replay: expected ErrReplayDetected, got %v", err)
	}
}

func TestBroadcastAndUnicastSequencesIndependent(t *testing.T) {
	a, b := testPair(t, 10, 11)

	bc, err := a.SealBroadcast([]byte("bc"))
	if err != nil {
		t.Fatalf("SealBroadcast failed: %v", err)
	}
	uc, err := a.SealUnicast(11, []byte("uc"))
	if err != nil {
		t.Fatalf("SealUnicast failed: %v", err)
	}

	// Both start their own window at 1.
	if bc.Sequence != 1 || uc.Sequence != 1 {
		t.Fatalf("sequences = %d/%d, want 1/1", bc.Sequence, uc.Sequence)
	}

	if _, err := b.OpenBroadcast(bc); err != nil {
		t.Fatalf("OpenBroadcast failed: %v", err)
	}
	if _, err := b.OpenUnicast(uc); err != nil {
		t.Fatalf("OpenUnicast failed: %v", err)
	}
}

func TestControlChannelRoundTrip(t *testing.T) {
	device, err := NewEngine(10, testSecretByte(0x77))
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	// The authority derives the same registration key from its
	// provisioning registry.
	authorityView, err := DeriveRegistrationKey(testSecretByte(0x77), 10)
	if err != nil {
		t.Fatalf("DeriveRegistrationKey failed: %v", err)
	}

	f, err := device.SealControl(frame.IDAuthority, []byte("join"))
	if err != nil {
		t.Fatalf("SealControl failed: %v", err)
	}
	if !IsControlSequence(f.Sequence) {
		t.Errorf("control sequence %#x outside the control domain", f.Sequence)
	}

	got, err := OpenFrame(authorityView, f)
	if err != nil {
		t.Fatalf("OpenFrame failed: %v", err)
	}
	if !bytes.Equal(got, []byte("join")) {
		t.Errorf("plaintext = %q", got)
	}

	// Wrong registry entry must not verify.
	wrongKey, err := DeriveRegistrationKey(testSecretByte(0x78), 10)
	if err != nil {
		t.Fatalf("DeriveRegistrationKey failed: %v", err)
	}
	if _, err := OpenFrame(wrongKey, f); !errors.Is(err, ErrAuthFailure) {
		t.Errorf("expected ErrAuthFailure with wrong key, got %v", err)
	}
}

func TestSessionOpsRequireNetworkKey(t *testing.T) {
	e, err := NewEngine(10, testSecretByte(0x88))
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	if _, err := e.SealUnicast(11, []byte("x")); !errors.Is(err, ErrNoNetworkKey) {
		t.Errorf("SealUnicast: expected ErrNoNetworkKey, got %v", err)
	}
	if _, err := e.SealBroadcast([]byte("x")); !errors.Is(err, ErrNoNetworkKey) {
		t.Errorf("SealBroadcast: expected ErrNoNetworkKey, got %v", err)
	}
	if _, err := e.OpenUnicast(&frame.Frame{Source: 11, Destination: 10, Sequence: 1}); !errors.Is(err, ErrNoNetworkKey) {
		t.Errorf("OpenUnicast: expected ErrNoNetworkKey, got %v", err)
	}
}

func TestClearNetworkKeyDropsSessions(t *testing.T) {
	a, b := testPair(t, 10, 11)

	f, err := a.SealUnicast(11, []byte("before"))
	if err != nil {
		t.Fatalf("SealUnicast failed: %v", err)
	}
	if _, err := b.OpenUnicast(f); err != nil {
		t.Fatalf("OpenUnicast failed: %v", err)
	}

	b.ClearNetworkKey()

	if b.HasNetworkKey() {
		t.Error("network key still installed after clear")
	}
	if len(b.Peers()) != 0 {
		t.Errorf("peers after clear = %v, want none", b.Peers())
	}
	if _, err := b.OpenUnicast(f); !errors.Is(err, ErrNoNetworkKey) {
		t.Errorf("expected ErrNoNetworkKey after clear, got %v", err)
	}
}

func TestPeerTableBound(t *testing.T) {
	a, _ := testPair(t, 10, 11)

	for i := 0; i < MaxPeers; i++ {
		if _, err := a.Session(uint16(100 + i)); err != nil {
			t.Fatalf("Session(%d) failed: %v", 100+i, err)
		}
	}
	if _, err := a.Session(999); !errors.Is(err, ErrPeerTableFull) {
		t.Errorf("expected ErrPeerTableFull, got %v", err)
	}

	// Dropping one frees a slot.
	a.DropSession(100)
	if _, err := a.Session(999); err != nil {
		t.Errorf("Session after drop failed: %v", err)
	}
}

func TestDropSessionResetsCounters(t *testing.T) {
	a, b := testPair(t, 10, 11)

	f, err := a.SealUnicast(11, []byte("x"))
	if err != nil {
		t.Fatalf("SealUnicast failed: %v", err)
	}
	if _, err := b.OpenUnicast(f); err != nil {
		t.Fatalf("OpenUnicast failed: %v", err)
	}

	b.DropSession(10)

	s, err := b.Session(10)
	if err != nil {
		t.Fatalf("Session failed: %v", err)
	}
	if s.LastSeen() != 0 {
		t.Errorf("LastSeen after drop = %d, want 0", s.LastSeen())
	}
}

func TestZeroize(t *testing.T) {
	b := []byte{1, 2, 3, 4}
	Zeroize(b)
	for i, v := range b {
		if v != 0 {
			t.Errorf("byte %d not zeroized: %d", i, v)
		}
	}
	Zeroize(nil)
}
