package bus

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultHubPort is the TCP port hubs listen on by default.
const DefaultHubPort = 7287

// hubWriteTimeout bounds how long the mirror waits on one slow
// connection before abandoning that write.
const hubWriteTimeout = 5 * time.Second

// HubConfig configures a Hub.
type HubConfig struct {
	// Address to listen on (default ":7287").
	Address string

	// OnConnect is called when a participant connects.
	OnConnect func(id string, addr net.Addr)

	// OnDisconnect is called when a participant goes away.
	OnDisconnect func(id string)

	// OnError is called for accept and mirror errors.
	OnError func(err error)
}

// Hub is the shared medium across processes: a TCP server that mirrors
// every connection's bytes to all other connections. It never parses or
// filters the bytes; whatever any participant writes, every other
// participant sees.
type Hub struct {
	config   HubConfig
	listener net.Listener

	conns   map[string]*hubConn
	connsMu sync.RWMutex

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type hubConn struct {
	id      string
	conn    net.Conn
	writeMu sync.Mutex
}

// NewHub creates a hub.
func NewHub(config HubConfig) *Hub {
	if config.Address == "" {
		config.Address = fmt.Sprintf(":%d", DefaultHubPort)
	}
	return &Hub{
		config: config,
		conns:  make(map[string]*hubConn),
	}
}

// Start starts the hub and begins accepting connections.
func (h *Hub) Start(ctx context.Context) error {
	if h.running.Load() {
		return fmt.Errorf("bus: hub already running")
	}

	h.ctx, h.cancel = context.WithCancel(ctx)

	listener, err := net.Listen("tcp", h.config.Address)
	if err != nil {
		return fmt.Errorf("bus: listen: %w", err)
	}
	h.listener = listener

	h.running.Store(true)

	h.wg.Add(1)
	go h.acceptLoop()

	return nil
}

// Stop stops the hub and closes all connections.
func (h *Hub) Stop() error {
	if !h.running.Load() {
		return nil
	}

	h.running.Store(false)
	h.cancel()

	if h.listener != nil {
		h.listener.Close()
	}

	h.connsMu.Lock()
	for _, c := range h.conns {
		c.conn.Close()
	}
	h.connsMu.Unlock()

	h.wg.Wait()

	return nil
}

// Addr returns the hub's listen address.
func (h *Hub) Addr() net.Addr {
	if h.listener != nil {
		return h.listener.Addr()
	}
	return nil
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.connsMu.RLock()
	defer h.connsMu.RUnlock()
	return len(h.conns)
}

// acceptLoop accepts incoming connections.
func (h *Hub) acceptLoop() {
	defer h.wg.Done()

	for h.running.Load() {
		conn, err := h.listener.Accept()
		if err != nil {
			if h.running.Load() && h.config.OnError != nil {
				h.config.OnError(fmt.Errorf("bus: accept: %w", err))
			}
			continue
		}

		h.wg.Add(1)
		go h.handleConn(conn)
	}
}

// handleConn reads one connection and mirrors its bytes to the rest.
func (h *Hub) handleConn(conn net.Conn) {
	defer h.wg.Done()

	id := uuid.New().String()
	hc := &hubConn{id: id, conn: conn}

	h.connsMu.Lock()
	h.conns[id] = hc
	h.connsMu.Unlock()

	if h.config.OnConnect != nil {
		h.config.OnConnect(id, conn.RemoteAddr())
	}

	buf := make([]byte, tcpReadBufferSize)
	for {
		select {
		case <-h.ctx.Done():
			conn.Close()
		default:
		}

		n, err := conn.Read(buf)
		if n > 0 {
			h.mirror(id, buf[:n])
		}
		if err != nil {
			break
		}
	}

	conn.Close()

	h.connsMu.Lock()
	delete(h.conns, id)
	h.connsMu.Unlock()

	if h.config.OnDisconnect != nil {
		h.config.OnDisconnect(id)
	}
}

// mirror writes the chunk to every connection except the source. Writes
// complete before mirror returns, so the caller may reuse data.
func (h *Hub) mirror(from string, data []byte) {
	h.connsMu.RLock()
	defer h.connsMu.RUnlock()

	for id, c := range h.conns {
		if id == from {
			continue
		}
		c.writeMu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(hubWriteTimeout))
		_, err := c.conn.Write(data)
		c.writeMu.Unlock()
		if err != nil && h.config.OnError != nil {
			h.config.OnError(fmt.Errorf("bus: mirror to %s: %w", id, err))
		}
	}
}
