package ws

import (
	"net"
	"sync"
)

// Registry is a thread-safe index of live connections, keyed both by
// connection id and by file descriptor for O(1) lookups from the poller.
type Registry struct {
	mu   sync.RWMutex
	byID map[string]*Connection
	byFd map[int]*Connection
}

// NewRegistry creates an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{
		byID: make(map[string]*Connection),
		byFd: make(map[int]*Connection),
	}
}

// Add registers a connection in both lookup maps.
func (r *Registry) Add(conn *Connection) {
	r.mu.Lock()
	r.byID[conn.ID] = conn
	r.byFd[conn.Fd] = conn
	r.mu.Unlock()
}

// Remove removes a connection by id and closes it. Returns true if the
// connection was found and removed, false if it was already gone; callers
// use this to avoid double cleanup when read errors and heartbeat timeouts
// race.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	conn, ok := r.byID[id]
	if ok {
		delete(r.byID, id)
		delete(r.byFd, conn.Fd)
	}
	r.mu.Unlock()

	if ok {
		_ = conn.Close()
	}
	return ok
}

// Get returns the connection for the given id, or nil if not found.
func (r *Registry) Get(id string) *Connection {
	r.mu.RLock()
	conn := r.byID[id]
	r.mu.RUnlock()
	return conn
}

// GetByFd returns the connection for the given file descriptor, or nil.
func (r *Registry) GetByFd(fd int) *Connection {
	r.mu.RLock()
	conn := r.byFd[fd]
	r.mu.RUnlock()
	return conn
}

// GetByConn returns the connection owning the given net.Conn by extracting
// its file descriptor. Returns nil if not found.
func (r *Registry) GetByConn(c net.Conn) *Connection {
	return r.GetByFd(socketFD(c))
}

// Count returns the current number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	n := len(r.byID)
	r.mu.RUnlock()
	return n
}

// All returns a snapshot of all current connections, safe to iterate
// without holding the lock.
func (r *Registry) All() []*Connection {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.byID))
	for _, conn := range r.byID {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()
	return conns
}
