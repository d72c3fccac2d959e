package bus

import "errors"

// Errors returned by link operations.
var (
	// ErrNoData indicates a poll found nothing pending. It is the normal
	// idle result, not a failure.
	ErrNoData = errors.New("bus: no data pending")

	// ErrClosed indicates the link has been closed, either locally or by
	// the peer going away.
	ErrClosed = errors.New("bus: link closed")
)

// DefaultQueueLen is the receive queue depth for in-memory links when
// the caller does not specify one.
const DefaultQueueLen = 64

// Link is a byte-chunk transport endpoint driven by a polling loop.
//
// Recv must not block: it returns the oldest pending chunk, or
// (nil, ErrNoData) when nothing is queued, or (nil, ErrClosed) once the
// link is closed and drained. Send delivers a chunk to the medium and
// may block on the underlying transport; the medium is free to drop it.
// Chunk boundaries carry no meaning.
type Link interface {
	// Recv returns the next pending chunk without blocking.
	Recv() ([]byte, error)

	// Send writes a chunk to the medium.
	Send(data []byte) error

	// Close releases the link. Recv drains queued chunks first.
	Close() error
}

// Compile-time interface satisfaction checks.
var (
	_ Link = (*Pipe)(nil)
	_ Link = (*Tap)(nil)
	_ Link = (*TCPLink)(nil)
	_ Link = (*MQTTLink)(nil)
)
