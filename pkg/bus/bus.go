package bus

import (
	"sync"
	"sync/atomic"
)

// Bus is an in-memory shared medium. Every attached tap sees every
// other tap's sends; nothing on the medium is private or ordered across
// senders. It models the hostile broadcast wire for multi-party tests.
type Bus struct {
	queueLen int

	mu   sync.RWMutex
	taps map[*Tap]struct{}
}

// NewBus creates a shared medium. Each attached tap buffers up to
// queueLen inbound chunks (DefaultQueueLen if queueLen <= 0).
func NewBus(queueLen int) *Bus {
	if queueLen <= 0 {
		queueLen = DefaultQueueLen
	}
	return &Bus{
		queueLen: queueLen,
		taps:     make(map[*Tap]struct{}),
	}
}

// Attach connects a new tap to the medium.
func (b *Bus) Attach() *Tap {
	t := &Tap{
		bus:   b,
		inbox: make(chan []byte, b.queueLen),
		done:  make(chan struct{}),
	}
	b.mu.Lock()
	b.taps[t] = struct{}{}
	b.mu.Unlock()
	return t
}

// Inject delivers a chunk to every attached tap, as an attacker with
// wire access would. Tests use it to put arbitrary bytes on the medium
// without holding a tap.
func (b *Bus) Inject(data []byte) {
	b.broadcast(nil, data)
}

// TapCount returns the number of attached taps.
func (b *Bus) TapCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.taps)
}

// broadcast delivers a copy of data to every tap except from. Taps with
// full queues lose the chunk.
func (b *Bus) broadcast(from *Tap, data []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for t := range b.taps {
		if t == from {
			continue
		}
		cp := make([]byte, len(data))
		copy(cp, data)
		select {
		case t.inbox <- cp:
		default:
			t.dropped.Add(1)
		}
	}
}

func (b *Bus) detach(t *Tap) {
	b.mu.Lock()
	delete(b.taps, t)
	b.mu.Unlock()
}

// Tap is one attachment point on a Bus.
type Tap struct {
	bus   *Bus
	inbox chan []byte

	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Uint64
}

// Send puts a chunk on the medium. Every other attached tap receives a
// copy; the sender never hears its own traffic.
func (t *Tap) Send(data []byte) error {
	select {
	case <-t.done:
		return ErrClosed
	default:
	}
	t.bus.broadcast(t, data)
	return nil
}

// Recv returns the next pending chunk. Queued chunks drain even after
// Close; once empty a closed tap reports ErrClosed.
func (t *Tap) Recv() ([]byte, error) {
	select {
	case data := <-t.inbox:
		return data, nil
	default:
	}

	select {
	case <-t.done:
		return nil, ErrClosed
	default:
	}
	return nil, ErrNoData
}

// Close detaches the tap from the medium.
func (t *Tap) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		t.bus.detach(t)
	})
	return nil
}

// Dropped reports how many inbound chunks were discarded because this
// tap's queue was full.
func (t *Tap) Dropped() uint64 {
	return t.dropped.Load()
}
