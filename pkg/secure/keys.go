package secure

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Key material sizes.
const (
	// KeySize is the length of every derived key in bytes.
	KeySize = 32

	// SecretSize is the length of the provisioned device secret and of
	// the authority-issued network secret in bytes.
	SecretSize = 32
)

// HKDF derivation labels. Changing any of them is a wire break.
var (
	labelRegistration = []byte("pbus registration v1")
	labelPairwise     = []byte("pbus pairwise v1")
	labelBroadcast    = []byte("pbus broadcast v1")
)

// DeriveRegistrationKey derives the control-channel key for a device
// from its provisioned secret. The secret is read, not retained; the
// caller decides when to wipe it.
func DeriveRegistrationKey(secret []byte, deviceID uint16) ([]byte, error) {
	var info [2]byte
	binary.BigEndian.PutUint16(info[:], deviceID)
	return derive(secret, labelRegistration, info[:])
}

// DerivePairwiseKey derives the session key shared by devices a and b.
// The key is symmetric in a and b, so both ends derive the identical
// key without transmitting it.
func DerivePairwiseKey(networkSecret []byte, epoch uint64, a, b uint16) ([]byte, error) {
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}
	var info [4]byte
	binary.BigEndian.PutUint16(info[0:2], lo)
	binary.BigEndian.PutUint16(info[2:4], hi)
	return derive(networkSecret, epochSalt(labelPairwise, epoch), info[:])
}

// DeriveBroadcastKey derives the key sender seals its broadcast frames
// with. Every registered device can derive any sender's broadcast key.
func DeriveBroadcastKey(networkSecret []byte, epoch uint64, sender uint16) ([]byte, error) {
	var info [2]byte
	binary.BigEndian.PutUint16(info[:], sender)
	return derive(networkSecret, epochSalt(labelBroadcast, epoch), info[:])
}

func epochSalt(label []byte, epoch uint64) []byte {
	salt := make([]byte, len(label)+8)
	copy(salt, label)
	binary.BigEndian.PutUint64(salt[len(label):], epoch)
	return salt
}

func derive(secret, salt, info []byte) ([]byte, error) {
	if len(secret) != SecretSize {
		return nil, fmt.Errorf("secret length %d, want %d", len(secret), SecretSize)
	}
	key := make([]byte, KeySize)
	r := hkdf.New(sha256.New, secret, salt, info)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("key derivation: %w", err)
	}
	return key, nil
}

// Zeroize overwrites b with zeros. Key material goes through it
// whenever a key is replaced or a session is torn down.
func Zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
