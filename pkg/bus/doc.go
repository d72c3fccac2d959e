// Package bus provides the byte-stream links the controller poll loop
// drives.
//
// A Link carries opaque byte chunks with no framing guarantees: chunk
// boundaries on the receive side need not match those on the send side,
// and a hostile or lossy medium may drop, corrupt, or inject bytes at
// will. Callers feed received chunks to a frame.Scanner, which recovers
// alignment on its own.
//
// The poll contract is asymmetric: Recv never blocks and returns
// ErrNoData when nothing is pending, while Send may block briefly on the
// underlying transport. This keeps the single-threaded controller loop
// responsive without goroutines in the core.
//
// Four implementations cover the simulation spectrum:
//
//   - Pipe: an in-memory bounded pair, one process (host link in tests).
//   - Bus/Tap: an in-memory shared medium where every tap sees every
//     other tap's sends, one process (multi-device tests).
//   - TCPLink/Hub: the shared medium across processes; the hub mirrors
//     each connection's bytes to all others.
//   - MQTTLink: the shared medium over an MQTT broker, one topic for
//     all parties, QoS 0, local echo suppressed.
//
// All bounded queues drop on overflow rather than block; a slow
// receiver loses traffic exactly as it would on a real shared wire.
package bus
