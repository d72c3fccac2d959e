// Package frame implements the fixed-layout PBUS wire frame codec.
//
// Every frame on every interface (host link and bus link) uses the same
// bounded layout with big-endian integers:
//
//	┌──────────┬─────────┬─────────┬──────────┬─────────┬─────────┬───────┬──────────┐
//	│ 'P' 'B'  │ dst u16 │ src u16 │ seq u64  │ len u16 │ payload │ tag   │ crc u32  │
//	│ 2 bytes  │ 2 bytes │ 2 bytes │ 8 bytes  │ 2 bytes │ ≤16 KiB │ 16 B  │ 4 bytes  │
//	└──────────┴─────────┴─────────┴──────────┴─────────┴─────────┴───────┴──────────┘
//
// The trailing CRC-32 is a structural checksum covering everything before
// it. It detects corruption and truncation on the wire; it is not a
// security mechanism. Cryptographic integrity lives in the 16-byte tag,
// which the secure layer verifies (frames in the plaintext domain carry an
// all-zero tag that this package does not interpret).
//
// Decoding is strictly bounded: the declared payload length is validated
// against MaxPayload before any payload handling, and no input can cause
// the codec to buffer more than MaxFrameSize bytes.
//
// Scanner recovers frame alignment on a byte stream by hunting for the
// two magic bytes, so garbage injected on a shared medium costs at most
// the garbage itself plus any frame it corrupted.
package frame
