package collab

import (
	"sync"
	"time"
)

// DefaultDebounce is the quiet period before a local edit is broadcast.
const DefaultDebounce = 120 * time.Millisecond

// Debouncer calls fn with the last value of a burst once the burst has been
// quiet for delay.
type Debouncer[T any] struct {
	delay time.Duration
	fn    func(T)

	mu      sync.Mutex
	timer   *time.Timer
	pending T
	armed   bool
	gen     uint64
	stopped bool
}

// NewDebouncer creates a debouncer.
func NewDebouncer[T any](delay time.Duration, fn func(T)) *Debouncer[T] {
	return &Debouncer[T]{delay: delay, fn: fn}
}

// Trigger replaces the pending value and restarts the delay.
func (d *Debouncer[T]) Trigger(v T) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}

	d.pending = v
	d.armed = true
	d.gen++
	gen := d.gen
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, func() { d.fire(gen) })
}

func (d *Debouncer[T]) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || !d.armed {
		d.mu.Unlock()
		return
	}
	v := d.pending
	var zero T
	d.pending, d.armed = zero, false
	d.mu.Unlock()

	d.fn(v)
}

// Flush sends the pending value now, if any.
func (d *Debouncer[T]) Flush() {
	d.mu.Lock()
	if !d.armed {
		d.mu.Unlock()
		return
	}
	v := d.pending
	d.disarm()
	d.mu.Unlock()

	d.fn(v)
}

// Cancel drops the pending value.
func (d *Debouncer[T]) Cancel() {
	d.mu.Lock()
	d.disarm()
	d.mu.Unlock()
}

// Stop drops the pending value and ignores later triggers.
func (d *Debouncer[T]) Stop() {
	d.mu.Lock()
	d.disarm()
	d.stopped = true
	d.mu.Unlock()
}

// disarm must be called with mu held.
func (d *Debouncer[T]) disarm() {
	var zero T
	d.pending, d.armed = zero, false
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
