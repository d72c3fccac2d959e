package bus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultPollTimeout bounds how long TCPLink.Recv waits for bytes
// before reporting ErrNoData.
const DefaultPollTimeout = time.Millisecond

const tcpReadBufferSize = 4096

// TCPLink carries chunks over a TCP connection, typically to a Hub that
// mirrors them to all other participants.
type TCPLink struct {
	conn net.Conn
	poll time.Duration
	buf  []byte

	closed    atomic.Bool
	closeOnce sync.Once
	writeMu   sync.Mutex
	readMu    sync.Mutex
}

// DialTCP connects a link to the given address, normally a Hub.
func DialTCP(ctx context.Context, address string) (*TCPLink, error) {
	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("bus: dial %s: %w", address, err)
	}
	return NewTCPLink(conn), nil
}

// NewTCPLink wraps an established connection.
func NewTCPLink(conn net.Conn) *TCPLink {
	return &TCPLink{
		conn: conn,
		poll: DefaultPollTimeout,
		buf:  make([]byte, tcpReadBufferSize),
	}
}

// SetPollTimeout adjusts how long Recv waits for pending bytes. Call it
// before handing the link to a polling loop.
func (l *TCPLink) SetPollTimeout(d time.Duration) {
	if d > 0 {
		l.poll = d
	}
}

// RemoteAddr returns the remote address of the connection.
func (l *TCPLink) RemoteAddr() net.Addr {
	return l.conn.RemoteAddr()
}

// Send writes the chunk to the connection.
func (l *TCPLink) Send(data []byte) error {
	if l.closed.Load() {
		return ErrClosed
	}

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if _, err := l.conn.Write(data); err != nil {
		if l.closed.Load() || errors.Is(err, net.ErrClosed) {
			return ErrClosed
		}
		return fmt.Errorf("bus: tcp write: %w", err)
	}
	return nil
}

// Recv polls the connection under a short read deadline and returns
// whatever bytes arrived. A quiet connection reports ErrNoData; a peer
// hang-up closes the link.
func (l *TCPLink) Recv() ([]byte, error) {
	if l.closed.Load() {
		return nil, ErrClosed
	}

	l.readMu.Lock()
	defer l.readMu.Unlock()

	l.conn.SetReadDeadline(time.Now().Add(l.poll))
	n, err := l.conn.Read(l.buf)
	if n > 0 {
		out := make([]byte, n)
		copy(out, l.buf[:n])
		return out, nil
	}
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, ErrNoData
		}
		if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || l.closed.Load() {
			l.Close()
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("bus: tcp read: %w", err)
	}
	return nil, ErrNoData
}

// Close closes the underlying connection.
func (l *TCPLink) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		err = l.conn.Close()
	})
	return err
}
