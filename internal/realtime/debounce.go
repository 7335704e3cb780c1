package realtime

import (
	"sync"
	"time"

	"github.com/nanoassist/dashboard/internal/clock"
)

// Debouncer runs fn once a burst of Trigger calls has been quiet for the
// configured wait.
type Debouncer struct {
	clock clock.Clock
	wait  time.Duration
	fn    func()

	mu      sync.Mutex
	timer   clock.Timer
	stopped bool
}

// NewDebouncer creates a new Debouncer.
func NewDebouncer(c clock.Clock, wait time.Duration, fn func()) *Debouncer {
	return &Debouncer{clock: c, wait: wait, fn: fn}
}

// Trigger restarts the quiet period.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = d.clock.AfterFunc(d.wait, d.fire)
}

// Stop cancels a pending run. Later Trigger calls are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.mu.Unlock()
	d.fn()
}
