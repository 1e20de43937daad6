package collab

import (
	"sync"
	"time"
)

// Gate drops incoming snapshots that are our own echo or older than what is on screen.
type Gate struct {
	mu       sync.Mutex
	clientID string
	last     int64
	now      func() time.Time
}

// NewGate creates a gate for the given local client id.
func NewGate(clientID string) *Gate {
	return &Gate{clientID: clientID, now: time.Now}
}

// Accept reports whether a snapshot stamped ts from origin should be applied,
// and records ts as last-applied when it should. A zero ts is stamped with now.
func (g *Gate) Accept(ts int64, origin string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if origin != "" && origin == g.clientID {
		return false
	}
	if ts == 0 {
		g.last = g.now().UnixMilli()
		return true
	}
	if ts <= g.last {
		return false
	}
	g.last = ts
	return true
}

// Observe raises last-applied to ts. Called for local emits.
func (g *Gate) Observe(ts int64) {
	g.mu.Lock()
	if ts > g.last {
		g.last = ts
	}
	g.mu.Unlock()
}

// Reset forgets last-applied.
func (g *Gate) Reset() {
	g.mu.Lock()
	g.last = 0
	g.mu.Unlock()
}

// Last returns the last-applied timestamp.
func (g *Gate) Last() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}
