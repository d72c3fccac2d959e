package bus

import (
	"sync"
	"sync/atomic"
)

// Pipe is one end of an in-memory link pair. Chunks sent on one end
// arrive on the other in order, subject to the bounded queue.
type Pipe struct {
	inbox chan []byte
	peer  *Pipe

	// Shared between both ends: closing either end closes the pair.
	done      chan struct{}
	closeOnce *sync.Once

	dropped atomic.Uint64
}

// NewPipe creates a connected in-memory link pair. Each end buffers up
// to queueLen inbound chunks (DefaultQueueLen if queueLen <= 0); sends
// into a full queue are dropped.
func NewPipe(queueLen int) (*Pipe, *Pipe) {
	if queueLen <= 0 {
		queueLen = DefaultQueueLen
	}
	done := make(chan struct{})
	once := &sync.Once{}
	a := &Pipe{inbox: make(chan []byte, queueLen), done: done, closeOnce: once}
	b := &Pipe{inbox: make(chan []byte, queueLen), done: done, closeOnce: once}
	a.peer = b
	b.peer = a
	return a, b
}

// Send queues a copy of data on the peer end. A full peer queue drops
// the chunk without error.
func (p *Pipe) Send(data []byte) error {
	select {
	case <-p.done:
		return ErrClosed
	default:
	}

	cp := make([]byte, len(data))
	copy(cp, data)

	select {
	case p.peer.inbox <- cp:
	default:
		p.peer.dropped.Add(1)
	}
	return nil
}

// Recv returns the next pending chunk. Queued chunks drain even after
// the pair is closed; once empty a closed pipe reports ErrClosed.
func (p *Pipe) Recv() ([]byte, error) {
	select {
	case data := <-p.inbox:
		return data, nil
	default:
	}

	select {
	case <-p.done:
		return nil, ErrClosed
	default:
	}
	return nil, ErrNoData
}

// Close closes both ends of the pair.
func (p *Pipe) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
	})
	return nil
}

// Dropped reports how many inbound chunks were discarded because this
// end's queue was full.
func (p *Pipe) Dropped() uint64 {
	return p.dropped.Load()
}
