package secure

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/pbus-protocol/pbus-go/pkg/frame"
)

// Engine errors.
var (
	// ErrAuthFailure indicates the integrity tag did not verify.
	ErrAuthFailure = errors.New("authentication failure")

	// ErrReplayDetected indicates a stale or duplicate sequence number.
	ErrReplayDetected = errors.New("replay detected")

	// ErrNoNetworkKey indicates a session operation before the network
	// secret was installed.
	ErrNoNetworkKey = errors.New("no network key installed")
)

// Reporter receives security failure notifications attributed to a
// peer. The abuse monitor implements it.
type Reporter interface {
	ReportAuthFailure(peer uint16)
	ReportReplay(peer uint16)
}

// Engine holds a node's key material and per-peer sessions and performs
// all sealing and opening of frames. It is not safe for concurrent use;
// the control loop owns it.
type Engine struct {
	deviceID uint16
	regKey   []byte

	networkSecret   []byte
	epoch           uint64
	ownBroadcastKey []byte
	broadcastSeq    uint64

	sessions sessionTable
	reporter Reporter
}

// NewEngine derives the registration key for deviceID from the
// provisioned secret and returns an engine holding only derived
// material. The secret slice is not retained; the caller should wipe
// its copy once the engine exists.
func NewEngine(deviceID uint16, provisionedSecret []byte) (*Engine, error) {
	regKey, err := DeriveRegistrationKey(provisionedSecret, deviceID)
	if err != nil {
		return nil, fmt.Errorf("derive registration key: %w", err)
	}
	return &Engine{
		deviceID: deviceID,
		regKey:   regKey,
	}, nil
}

// SetReporter installs the failure reporter. Pass nil to disable
// notifications.
func (e *Engine) SetReporter(r Reporter) {
	e.reporter = r
}

// DeviceID returns the identity the engine seals for.
func (e *Engine) DeviceID() uint16 {
	return e.deviceID
}

// HasNetworkKey reports whether the network secret is installed.
func (e *Engine) HasNetworkKey() bool {
	return e.networkSecret != nil
}

// Epoch returns the installed network epoch.
func (e *Engine) Epoch() uint64 {
	return e.epoch
}

// InstallNetworkKey installs the authority-issued network secret and
// epoch and derives this node's broadcast key. Any previous network
// state is zeroized first.
func (e *Engine) InstallNetworkKey(networkSecret []byte, epoch uint64) error {
	if len(networkSecret) != SecretSize {
		return fmt.Errorf("network secret length %d, want %d", len(networkSecret), SecretSize)
	}
	e.ClearNetworkKey()

	e.networkSecret = make([]byte, SecretSize)
	copy(e.networkSecret, networkSecret)
	e.epoch = epoch

	key, err := DeriveBroadcastKey(e.networkSecret, epoch, e.deviceID)
	if err != nil {
		e.ClearNetworkKey()
		return err
	}
	e.ownBroadcastKey = key
	return nil
}

// ClearNetworkKey zeroizes the network secret, the broadcast key and
// every session. The registration key survives; it is the device's
// standing credential.
func (e *Engine) ClearNetworkKey() {
	Zeroize(e.networkSecret)
	Zeroize(e.ownBroadcastKey)
	e.networkSecret = nil
	e.ownBroadcastKey = nil
	e.epoch = 0
	e.broadcastSeq = 0
	e.sessions.reset()
}

// Session returns the session for peer, creating it with freshly
// derived keys on first contact.
func (e *Engine) Session(peer uint16) (*Session, error) {
	if s := e.sessions.lookup(peer); s != nil {
		return s, nil
	}
	if !e.HasNetworkKey() {
		return nil, ErrNoNetworkKey
	}

	pairwise, err := DerivePairwiseKey(e.networkSecret, e.epoch, e.deviceID, peer)
	if err != nil {
		return nil, err
	}
	broadcast, err := DeriveBroadcastKey(e.networkSecret, e.epoch, peer)
	if err != nil {
		Zeroize(pairwise)
		return nil, err
	}

	s, err := e.sessions.insert(peer)
	if err != nil {
		Zeroize(pairwise)
		Zeroize(broadcast)
		return nil, err
	}
	s.key = pairwise
	s.broadcastKey = broadcast
	return s, nil
}

// DropSession zeroizes and removes the session for peer.
func (e *Engine) DropSession(peer uint16) {
	e.sessions.drop(peer)
}

// Peers lists peers with live sessions.
func (e *Engine) Peers() []uint16 {
	return e.sessions.peers()
}

// SealUnicast seals plaintext into a frame addressed to peer, using the
// pairwise key and the next outbound sequence number.
func (e *Engine) SealUnicast(peer uint16, plaintext []byte) (*frame.Frame, error) {
	if len(plaintext) > frame.MaxPayload {
		return nil, fmt.Errorf("%w: %d > %d", frame.ErrPayloadTooLarge, len(plaintext), frame.MaxPayload)
	}
	s, err := e.Session(peer)
	if err != nil {
		return nil, err
	}

	f := &frame.Frame{
		Destination: peer,
		Source:      e.deviceID,
		Sequence:    s.NextSend(),
		Payload:     plaintext,
	}
	if err := SealFrame(s.key, f); err != nil {
		return nil, err
	}
	return f, nil
}

// OpenUnicast verifies and decrypts a sealed unicast frame from a peer.
// The sequence is checked before any cryptography; a frame that is not
// strictly newer than the last accepted one is rejected as a replay.
// Both failure kinds notify the reporter and release no plaintext.
func (e *Engine) OpenUnicast(f *frame.Frame) ([]byte, error) {
	s, err := e.Session(f.Source)
	if err != nil {
		return nil, err
	}

	if f.Sequence <= s.lastSeen {
		e.reportReplay(f.Source)
		return nil, fmt.Errorf("%w: sequence %d, last accepted %d", ErrReplayDetected, f.Sequence, s.lastSeen)
	}

	plaintext, err := OpenFrame(s.key, f)
	if err != nil {
		e.reportAuthFailure(f.Source)
		return nil, err
	}

	s.lastSeen = f.Sequence
	return plaintext, nil
}

// SealBroadcast seals plaintext into a broadcast frame under this
// node's broadcast key.
func (e *Engine) SealBroadcast(plaintext []byte) (*frame.Frame, error) {
	if len(plaintext) > frame.MaxPayload {
		return nil, fmt.Errorf("%w: %d > %d", frame.ErrPayloadTooLarge, len(plaintext), frame.MaxPayload)
	}
	if !e.HasNetworkKey() {
		return nil, ErrNoNetworkKey
	}

	e.broadcastSeq++
	f := &frame.Frame{
		Destination: frame.IDBroadcast,
		Source:      e.deviceID,
		Sequence:    e.broadcastSeq,
		Payload:     plaintext,
	}
	if err := SealFrame(e.ownBroadcastKey, f); err != nil {
		return nil, err
	}
	return f, nil
}

// OpenBroadcast verifies and decrypts a broadcast frame using the
// sender's broadcast key. Broadcast sequences are tracked separately
// from unicast ones.
func (e *Engine) OpenBroadcast(f *frame.Frame) ([]byte, error) {
	s, err := e.Session(f.Source)
	if err != nil {
		return nil, err
	}

	if f.Sequence <= s.lastSeenBroadcast {
		e.reportReplay(f.Source)
		return nil, fmt.Errorf("%w: broadcast sequence %d, last accepted %d", ErrReplayDetected, f.Sequence, s.lastSeenBroadcast)
	}

	plaintext, err := OpenFrame(s.broadcastKey, f)
	if err != nil {
		e.reportAuthFailure(f.Source)
		return nil, err
	}

	s.lastSeenBroadcast = f.Sequence
	return plaintext, nil
}

// SealControl seals a control payload to dst under the registration
// key. Control frames carry a random control-domain sequence number;
// their replay protection is the nonce bound into the message, not the
// sequence window.
func (e *Engine) SealControl(dst uint16, plaintext []byte) (*frame.Frame, error) {
	if len(plaintext) > frame.MaxPayload {
		return nil, fmt.Errorf("%w: %d > %d", frame.ErrPayloadTooLarge, len(plaintext), frame.MaxPayload)
	}

	seq, err := ControlSequence()
	if err != nil {
		return nil, err
	}
	f := &frame.Frame{
		Destination: dst,
		Source:      e.deviceID,
		Sequence:    seq,
		Payload:     plaintext,
	}
	if err := SealFrame(e.regKey, f); err != nil {
		return nil, err
	}
	return f, nil
}

// OpenControl verifies and decrypts a control frame under the
// registration key. Failures are attributed to the frame's source.
func (e *Engine) OpenControl(f *frame.Frame) ([]byte, error) {
	plaintext, err := OpenFrame(e.regKey, f)
	if err != nil {
		e.reportAuthFailure(f.Source)
		return nil, err
	}
	return plaintext, nil
}

func (e *Engine) reportAuthFailure(peer uint16) {
	if e.reporter != nil {
		e.reporter.ReportAuthFailure(peer)
	}
}

func (e *Engine) reportReplay(peer uint16) {
	if e.reporter != nil {
		e.reporter.ReportReplay(peer)
	}
}

// SealFrame seals f's payload in place under key: the payload becomes
// ciphertext and the tag is filled. The AEAD nonce is built from the
// frame's addressing and sequence, and the header is bound as
// associated data.
func SealFrame(key []byte, f *frame.Frame) error {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return fmt.Errorf("aead init: %w", err)
	}

	nonce := frameNonce(f)
	aad := f.HeaderBytes()
	sealed := aead.Seal(nil, nonce[:], f.Payload, aad[:])

	n := len(f.Payload)
	f.Payload = sealed[:n]
	copy(f.Tag[:], sealed[n:])
	return nil
}

// OpenFrame verifies f's tag under key and returns the decrypted
// payload. On any mismatch it returns ErrAuthFailure and nothing else.
func OpenFrame(key []byte, f *frame.Frame) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("aead init: %w", err)
	}

	nonce := frameNonce(f)
	aad := f.HeaderBytes()

	sealed := make([]byte, len(f.Payload)+frame.TagSize)
	copy(sealed, f.Payload)
	copy(sealed[len(f.Payload):], f.Tag[:])

	plaintext, err := aead.Open(nil, nonce[:], sealed, aad[:])
	if err != nil {
		return nil, ErrAuthFailure
	}
	return plaintext, nil
}

// frameNonce builds the 12-byte AEAD nonce source || destination ||
// sequence. Within one key's traffic the tuple never repeats: unicast
// directions differ in the prefix and sequences only move forward.
func frameNonce(f *frame.Frame) [chacha20poly1305.NonceSize]byte {
	var n [chacha20poly1305.NonceSize]byte
	binary.BigEndian.PutUint16(n[0:2], f.Source)
	binary.BigEndian.PutUint16(n[2:4], f.Destination)
	binary.BigEndian.PutUint64(n[4:12], f.Sequence)
	return n
}

// ControlDomain marks the half of the sequence space reserved for
// frames sealed under a registration key. Session counters start at one
// and never reach it, so a frame's channel is decidable from the
// cleartext header alone.
const ControlDomain uint64 = 1 << 63

// IsControlSequence reports whether seq lies in the control domain.
func IsControlSequence(seq uint64) bool {
	return seq&ControlDomain != 0
}

// ControlSequence draws a random sequence number in the control domain.
func ControlSequence() (uint64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("control sequence: %w", err)
	}
	return binary.BigEndian.Uint64(b[:]) | ControlDomain, nil
}
