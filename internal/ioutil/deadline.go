package ioutil

import (
	"sync"
	"time"
)

// Deadline signals the expiry of a read or write deadline.
// The zero time means no deadline. It is safe for concurrent use.
type Deadline struct {
	mu     sync.Mutex
	timer  *time.Timer
	cancel chan struct{} // closed when the deadline expires
}

// NewDeadline creates a Deadline that is not set.
func NewDeadline() *Deadline {
	return &Deadline{cancel: make(chan struct{})}
}

// Set moves the deadline to t. Setting a deadline in the past expires it immediately,
// setting the zero time clears it.
func (d *Deadline) Set(t time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil && !d.timer.Stop() {
		<-d.cancel // wait for the timer callback to finish closing cancel
	}
	d.timer = nil

	closed := isClosedChan(d.cancel)
	if t.IsZero() {
		if closed {
			d.cancel = make(chan struct{})
		}
		return
	}

	if dur := time.Until(t); dur > 0 {
		if closed {
			d.cancel = make(chan struct{})
		}
		cancel := d.cancel
		d.timer = time.AfterFunc(dur, func() { close(cancel) })
		return
	}

	if !closed {
		close(d.cancel)
	}
}

// Wait returns a channel that is closed once the deadline has expired.
func (d *Deadline) Wait() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cancel
}

// Expired reports whether the deadline has passed.
func (d *Deadline) Expired() bool {
	return isClosedChan(d.Wait())
}

func isClosedChan(c <-chan struct{}) bool {
	select {
	case <-c:
		return true
	default:
		return false
	}
}
