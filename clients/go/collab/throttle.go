package collab

import (
	"sync"
	"time"
)

// DefaultCursorInterval is the minimum spacing between cursor broadcasts.
const DefaultCursorInterval = 60 * time.Millisecond

// Throttle lets one call through per interval and drops the rest.
type Throttle struct {
	interval time.Duration
	now      func() time.Time

	mu   sync.Mutex
	last time.Time
}

// NewThrottle creates a throttle.
func NewThrottle(interval time.Duration) *Throttle {
	return &Throttle{interval: interval, now: time.Now}
}

// Allow reports whether a call may proceed now.
func (t *Throttle) Allow() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if !t.last.IsZero() && now.Sub(t.last) < t.interval {
		return false
	}
	t.last = now
	return true
}
