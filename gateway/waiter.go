package gateway

import (
	"sync"
	"time"
)

// Waiter is a timed wait that another goroutine can cut short.
// The zero value is armed and ready to use.
type Waiter struct {
	mu      sync.Mutex
	stop    chan struct{}
	stopped bool
}

func (w *Waiter) channel() chan struct{} {
	if w.stop == nil {
		w.stop = make(chan struct{})
	}
	return w.stop
}

// Arm clears a previous Cancel so that Wait blocks again.
func (w *Waiter) Arm() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		w.stop = make(chan struct{})
		w.stopped = false
	}
}

// Wait blocks for d. It returns true if d elapsed and false if the waiter
// was cancelled.
func (w *Waiter) Wait(d time.Duration) bool {
	w.mu.Lock()
	stop := w.channel()
	w.mu.Unlock()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-stop:
		return false
	}
}

// Cancel wakes every current and future Wait until the next Arm.
func (w *Waiter) Cancel() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.stopped {
		close(w.channel())
		w.stopped = true
	}
}
