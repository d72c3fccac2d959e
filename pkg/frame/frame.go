package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

// Wire layout constants.
const (
	// HeaderSize is the size of the fixed frame header in bytes.
	HeaderSize = 16

	// TagSize is the size of the integrity tag in bytes (Poly1305).
	TagSize = 16

	// ChecksumSize is the size of the trailing structural checksum.
	ChecksumSize = 4

	// MaxPayload is the maximum payload length in bytes.
	MaxPayload = 0x4000

	// MinFrameSize is the encoded size of a frame with an empty payload.
	MinFrameSize = HeaderSize + TagSize + ChecksumSize

	// MaxFrameSize is the encoded size of a frame with a full payload.
	MaxFrameSize = HeaderSize + MaxPayload + TagSize + ChecksumSize
)

// Magic bytes opening every frame.
const (
	Magic0 = 'P'
	Magic1 = 'B'
)

// Reserved bus identifiers. Device identifiers start at FirstDeviceID.
const (
	// IDBroadcast addresses every controller on the bus.
	IDBroadcast uint16 = 0

	// IDAuthority is the registration authority.
	IDAuthority uint16 = 1

	// IDExternal is the radio-facing external gateway. Traffic to or
	// from it terminates outside the crypto perimeter and travels in
	// the clear.
	IDExternal uint16 = 2

	// FirstDeviceID is the lowest identifier assignable to a device.
	FirstDeviceID uint16 = 3
)

// Codec errors.
var (
	// ErrMalformed indicates a structural decode failure. All decode
	// errors wrap it so callers can classify with errors.Is.
	ErrMalformed = errors.New("malformed frame")

	// ErrPayloadTooLarge indicates an encode request whose payload
	// exceeds MaxPayload.
	ErrPayloadTooLarge = errors.New("payload exceeds maximum size")
)

// IsDeviceID reports whether id is in the assignable device range.
func IsDeviceID(id uint16) bool {
	return id >= FirstDeviceID
}

// Frame is one decoded bus message. Payload may be ciphertext or
// plaintext; the codec does not distinguish.
type Frame struct {
	Destination uint16
	Source      uint16
	Sequence    uint64
	Payload     []byte
	Tag         [TagSize]byte
}

// EncodedSize returns the encoded size of f in bytes.
func (f *Frame) EncodedSize() int {
	return MinFrameSize + len(f.Payload)
}

// HeaderBytes returns the encoded fixed header. The secure layer binds
// it as AEAD associated data so addressing and sequencing are
// authenticated even though they travel in the clear.
func (f *Frame) HeaderBytes() [HeaderSize]byte {
	var h [HeaderSize]byte
	h[0] = Magic0
	h[1] = Magic1
	binary.BigEndian.PutUint16(h[2:4], f.Destination)
	binary.BigEndian.PutUint16(h[4:6], f.Source)
	binary.BigEndian.PutUint64(h[6:14], f.Sequence)
	binary.BigEndian.PutUint16(h[14:16], uint16(len(f.Payload)))
	return h
}

// Encode serializes f into wire bytes. The result is always within
// MaxFrameSize; encoding fails only when the payload exceeds MaxPayload.
func (f *Frame) Encode() ([]byte, error) {
	if len(f.Payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(f.Payload), MaxPayload)
	}

	out := make([]byte, f.EncodedSize())
	h := f.HeaderBytes()
	copy(out, h[:])
	copy(out[HeaderSize:], f.Payload)
	copy(out[HeaderSize+len(f.Payload):], f.Tag[:])

	// Checksum covers header, payload and tag.
	sum := Checksum(out[:len(out)-ChecksumSize])
	binary.BigEndian.PutUint32(out[len(out)-ChecksumSize:], sum)
	return out, nil
}

// Decode parses one complete frame from data. It validates structure
// only (magic, length consistency, checksum); tag verification belongs
// to the secure layer. On any failure it returns an error wrapping
// ErrMalformed and releases nothing.
func Decode(data []byte) (*Frame, error) {
	if len(data) < MinFrameSize {
		return nil, fmt.Errorf("%w: %d bytes, need at least %d", ErrMalformed, len(data), MinFrameSize)
	}
	if data[0] != Magic0 || data[1] != Magic1 {
		return nil, fmt.Errorf("%w: bad magic 0x%02x%02x", ErrMalformed, data[0], data[1])
	}

	payloadLen := int(binary.BigEndian.Uint16(data[14:16]))
	if payloadLen > MaxPayload {
		return nil, fmt.Errorf("%w: declared payload %d > %d", ErrMalformed, payloadLen, MaxPayload)
	}
	if len(data) != MinFrameSize+payloadLen {
		return nil, fmt.Errorf("%w: declared payload %d, frame is %d bytes", ErrMalformed, payloadLen, len(data))
	}

	body := data[:len(data)-ChecksumSize]
	want := binary.BigEndian.Uint32(data[len(data)-ChecksumSize:])
	if Checksum(body) != want {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrMalformed)
	}

	f := &Frame{
		Destination: binary.BigEndian.Uint16(data[2:4]),
		Source:      binary.BigEndian.Uint16(data[4:6]),
		Sequence:    binary.BigEndian.Uint64(data[6:14]),
		Payload:     make([]byte, payloadLen),
	}
	copy(f.Payload, data[HeaderSize:HeaderSize+payloadLen])
	copy(f.Tag[:], data[HeaderSize+payloadLen:HeaderSize+payloadLen+TagSize])
	return f, nil
}

// Checksum computes the CRC-32/IEEE structural checksum over b.
func Checksum(b []byte) uint32 {
	return crc32.ChecksumIEEE(b)
}
