// Package wire defines the CBOR payload types carried inside PBUS frames.
//
// Two payload families share the encoding:
//   - Control channel: join/leave exchanges between a device and the
//     registration authority, sealed inside authenticated frames.
//   - Host link: commands and status between the local CPU and its
//     controller, in the clear on the trusted host link.
//
// All payloads are CBOR maps with integer keys (RFC 8949), encoded
// deterministically. Key 1 is always the message type, so a receiver can
// classify a payload with PeekMessageType before committing to a full
// decode. Application data frames are opaque to this package; only
// control and host payloads have structure.
package wire
