// Package ratelimit provides a per-connection cooldown gate for outbound
// chat messages. A message is accepted only if at least the configured
// cooldown has elapsed since the connection's last accepted message. The
// check is a wall-clock comparison, not a scheduled timer.
package ratelimit

import (
	"sync"
	"time"
)

// DefaultCooldown is the minimum interval between accepted messages from one
// connection.
const DefaultCooldown = 300 * time.Millisecond

// Limiter tracks the last-accepted-message timestamp per connection id. An
// absent entry means "never sent", which is always allowed.
type Limiter struct {
	mu       sync.Mutex
	cooldown time.Duration
	now      func() time.Time
	last     map[string]time.Time
}

// NewLimiter creates a Limiter with the given cooldown. A non-positive
// cooldown falls back to DefaultCooldown.
func NewLimiter(cooldown time.Duration) *Limiter {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Limiter{
		cooldown: cooldown,
		now:      time.Now,
		last:     make(map[string]time.Time),
	}
}

// SetClock replaces the wall-clock source. Tests use this to drive the
// cooldown deterministically.
func (l *Limiter) SetClock(now func() time.Time) {
	l.mu.Lock()
	l.now = now
	l.mu.Unlock()
}

// Allow checks whether id may send a message now. On success it records the
// acceptance timestamp and returns true; within the cooldown it returns
// false and leaves the timestamp untouched, so a flood does not extend its
// own penalty.
func (l *Limiter) Allow(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if last, ok := l.last[id]; ok && now.Sub(last) < l.cooldown {
		return false
	}
	l.last[id] = now
	return true
}

// Forget drops the timestamp for id. Called on disconnect so state does not
// accumulate for dead connections.
func (l *Limiter) Forget(id string) {
	l.mu.Lock()
	delete(l.last, id)
	l.mu.Unlock()
}
