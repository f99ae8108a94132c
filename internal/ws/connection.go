package ws

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

const (
	// outboundBuffer is the per-connection outbound frame buffer size.
	outboundBuffer = 64

	// overflowLimit is the number of consecutive dropped frames after which
	// a peer is considered dead. A full buffer that never drains means the
	// peer has stopped reading.
	overflowLimit = 16
)

// Connection represents a single WebSocket client connection. Outbound
// frames go through a bounded buffer drained by a dedicated writer
// goroutine, so senders never block on a slow peer; frames that do not fit
// are dropped (drop-new).
type Connection struct {
	ID        string    // connection id (UUID), unique for the connection's lifetime
	Conn      net.Conn  // underlying TCP connection
	Fd        int       // file descriptor for poller lookups
	CreatedAt time.Time // when the connection was established
	LastPing  time.Time // last activity observed from the client

	writeMu    sync.Mutex // serializes raw frame writes to this connection
	processing int32      // atomic flag: 0 = idle, 1 = being read by handleConn

	outbound  chan []byte
	done      chan struct{}
	closeOnce sync.Once
	overflow  int32 // consecutive Enqueue failures
}

func newConnection(id string, conn net.Conn, fd int) *Connection {
	now := time.Now()
	return &Connection{
		ID:        id,
		Conn:      conn,
		Fd:        fd,
		CreatedAt: now,
		LastPing:  now,
		outbound:  make(chan []byte, outboundBuffer),
		done:      make(chan struct{}),
	}
}

// Enqueue places a text frame on the outbound buffer without blocking. It
// returns false if the connection is closing or the buffer is full; the
// frame is dropped in that case.
func (c *Connection) Enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.outbound <- data:
		atomic.StoreInt32(&c.overflow, 0)
		return true
	default:
		atomic.AddInt32(&c.overflow, 1)
		return false
	}
}

// overflowed reports whether the peer has stopped draining its buffer for
// long enough to be treated as disconnected.
func (c *Connection) overflowed() bool {
	return atomic.LoadInt32(&c.overflow) >= overflowLimit
}

// writeLoop drains the outbound buffer onto the socket. On Close it flushes
// whatever is already buffered (so a final frame such as a ban notice still
// reaches the peer) and then closes the underlying connection.
func (c *Connection) writeLoop(writeTimeout time.Duration) {
	for {
		select {
		case data := <-c.outbound:
			if err := c.writeFrame(data, writeTimeout); err != nil {
				_ = c.Conn.Close()
				return
			}
		case <-c.done:
			for {
				select {
				case data := <-c.outbound:
					if err := c.writeFrame(data, writeTimeout); err != nil {
						_ = c.Conn.Close()
						return
					}
				default:
					_ = c.Conn.Close()
					return
				}
			}
		}
	}
}

// writeFrame writes a single WebSocket text frame. The write mutex ensures
// frames do not interleave with heartbeat pings.
func (c *Connection) writeFrame(data []byte, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if timeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(timeout))
		defer func() { _ = c.Conn.SetWriteDeadline(time.Time{}) }()
	}
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// WritePing sends a WebSocket protocol-level ping frame (opcode 0x9) on the
// connection, bypassing the outbound buffer. The write mutex ensures this
// does not interleave with other outbound frames.
func (c *Connection) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}

// Close signals the writer goroutine to flush buffered frames and close the
// socket. Safe to call multiple times.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}
