package runtime

import (
	"sync"
	"sync/atomic"
	"time"
)

// Abort is a one-way cancellation flag shared between the goroutine running a
// script and whoever wants to stop it. Once set it stays set.
type Abort struct {
	set  atomic.Bool
	once sync.Once
	done chan struct{}
}

// NewAbort returns a cleared flag.
func NewAbort() *Abort {
	return &Abort{done: make(chan struct{})}
}

// Set raises the flag and wakes any pending Wait. Safe to call any number of
// times from any goroutine.
func (a *Abort) Set() {
	a.once.Do(func() {
		a.set.Store(true)
		close(a.done)
	})
}

// IsSet reports whether the flag has been raised.
func (a *Abort) IsSet() bool { return a.set.Load() }

// Done is closed when the flag is raised.
func (a *Abort) Done() <-chan struct{} { return a.done }

// Wait blocks for d or until the flag is raised, whichever comes first. It
// returns true if the flag was raised.
func (a *Abort) Wait(d time.Duration) bool {
	if a.IsSet() {
		return true
	}
	if d <= 0 {
		return false
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-a.done:
		return true
	case <-timer.C:
		return a.IsSet()
	}
}
