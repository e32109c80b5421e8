package daemon

import (
	"sync"
	"time"
)

// Debouncer coalesces a burst of notifications into one firing after
// a quiet window.  A write storm for a single message triggers the
// pipeline once, not once per event.
type Debouncer struct {
	window time.Duration
	fire   func()

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

func NewDebouncer(window time.Duration, fire func()) *Debouncer {
	return &Debouncer{window: window, fire: fire}
}

// Trigger arms or re-arms the quiet window.
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if d.timer == nil {
		d.timer = time.AfterFunc(d.window, d.fire)
		return
	}
	d.timer.Reset(d.window)
}

// Stop cancels any pending firing.  Subsequent triggers are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
}
