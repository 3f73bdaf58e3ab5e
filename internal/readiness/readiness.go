//go:build linux || darwin || freebsd || openbsd

// Package readiness waits for kernel descriptors to become readable.
//
// It is the suspension point shared by the blocking and the context-aware
// facades: both park here until the route handle is readable, the wake
// descriptor fires, or the deadline passes. Two interchangeable backends
// implement the wait — poll(2) by default and select(2) behind the
// `routeselect` build tag — with identical observable behavior.
package readiness

import (
	"errors"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

var (
	// ErrTimedOut is returned by Wait when the deadline passes before the
	// descriptor becomes readable.
	ErrTimedOut = errors.New("readiness: wait timed out")
	// ErrWoken is returned by Wait when the wake descriptor fired.
	ErrWoken = errors.New("readiness: woken")
)

// Wake is a cross-goroutine wakeup primitive built on a self-pipe. One
// side is owned by whoever blocks in Wait; Wake may be called from any
// goroutine, any number of times, including after Close.
type Wake struct {
	r      int
	w      int
	closed atomic.Bool
}

// NewWake creates the pipe pair, non-blocking on both ends.
func NewWake() (*Wake, error) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return nil, err
	}
	for _, fd := range p {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(p[0])
			unix.Close(p[1])
			return nil, err
		}
	}
	return &Wake{r: p[0], w: p[1]}, nil
}

// ReadFD returns the descriptor Wait multiplexes alongside the route
// handle.
func (wk *Wake) ReadFD() int { return wk.r }

// Wake makes the read side readable, releasing a blocked Wait. A full
// pipe already wakes the waiter, so EAGAIN is not an error.
func (wk *Wake) Wake() error {
	if wk.closed.Load() {
		return nil
	}
	one := [1]byte{1}
	_, err := unix.Write(wk.w, one[:])
	if err == unix.EAGAIN {
		return nil
	}
	return err
}

// Drain consumes any pending wakeups so a stale byte does not satisfy the
// next Wait.
func (wk *Wake) Drain() {
	if wk.closed.Load() {
		return
	}
	var buf [8]byte
	for {
		n, err := unix.Read(wk.r, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}

// Close releases both pipe ends. Safe to call once.
func (wk *Wake) Close() error {
	if !wk.closed.CompareAndSwap(false, true) {
		return nil
	}
	err1 := unix.Close(wk.r)
	err2 := unix.Close(wk.w)
	if err1 != nil {
		return err1
	}
	return err2
}
