package routemanager

import (
	"errors"
	"sync/atomic"
)

// errWoken marks a wait ended by the waker; the facades translate it
// into shutdown or context cancellation.
var errWoken = errors.New("route wait woken")

// isWoken reports whether a kernel wait ended because the waker fired
// rather than because of a transport failure.
func isWoken(err error) bool { return errors.Is(err, errWoken) }

// waker interrupts a blocked kernel wait. The Windows waits are channel
// selects rather than descriptor polls, so the waker is a one-slot
// channel instead of a self-pipe.
type waker struct {
	ch     chan struct{}
	closed atomic.Bool
}

func newWaker() (*waker, error) {
	return &waker{ch: make(chan struct{}, 1)}, nil
}

// Wake releases a blocked wait. A pending wakeup already does that, so
// the send never blocks.
func (wk *waker) Wake() error {
	if wk.closed.Load() {
		return nil
	}
	select {
	case wk.ch <- struct{}{}:
	default:
	}
	return nil
}

// Drain consumes a pending wakeup so a stale one does not satisfy the
// next wait.
func (wk *waker) Drain() {
	select {
	case <-wk.ch:
	default:
	}
}

// Close marks the waker unusable. Safe to call more than once.
func (wk *waker) Close() error {
	wk.closed.CompareAndSwap(false, true)
	return nil
}

func (wk *waker) woken() <-chan struct{} { return wk.ch }
