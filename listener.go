package routemanager

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/wesleywu/route-manager/internal/logger"
)

// Listener delivers kernel route-table changes one at a time. Changes
// made by any process show up, including this one's.
//
// Listen blocks the calling goroutine; Shutdown releases it from any
// other goroutine. After shutdown every Listen reports ErrClosed.
type Listener struct {
	mu      sync.Mutex
	sys     *sysListener
	wake    *waker
	log     *logger.Logger
	pending []RouteChange
	closed  atomic.Bool
}

// NewListener subscribes to route-change notifications for both address
// families.
func NewListener() (*Listener, error) {
	sys, err := newSysListener()
	if err != nil {
		return nil, opError("listen", Route{}, classify(err), err)
	}
	wake, err := newWaker()
	if err != nil {
		sys.close()
		return nil, opError("listen", Route{}, classify(err), err)
	}
	return &Listener{sys: sys, wake: wake, log: logger.Discard()}, nil
}

// SetLogger replaces the logger, which discards everything by default.
func (l *Listener) SetLogger(lg *logger.Logger) {
	l.log = lg.WithComponent("listener")
}

// Listen blocks until the next route change. Changes that arrive while
// no one is listening are queued, not lost. A malformed kernel message
// is reported as an ErrMalformedMessage error; the listener stays usable
// and the next call picks up where it left off.
func (l *Listener) Listen() (RouteChange, error) {
	for {
		change, err := l.next()
		if err != nil && isWoken(err) {
			// Stray wakeup from a canceled async call on the same
			// listener; nothing happened, wait again.
			continue
		}
		return change, err
	}
}

// next delivers one queued change or waits on the kernel for the next
// one. A wakeup with the listener still open comes back as the raw woken
// error so the async facade can test its context against it.
func (l *Listener) next() (RouteChange, error) {
	for {
		if l.closed.Load() {
			return RouteChange{}, opError("listen", Route{}, ErrClosed, nil)
		}
		l.mu.Lock()
		if l.sys == nil {
			l.mu.Unlock()
			return RouteChange{}, opError("listen", Route{}, ErrClosed, nil)
		}
		if len(l.pending) > 0 {
			change := l.pending[0]
			l.pending = l.pending[1:]
			l.mu.Unlock()
			l.log.RouteChange(change.Kind.String(), change.Route.String())
			return change, nil
		}
		changes, err := l.sys.recv(time.Time{}, l.wake)
		l.pending = append(l.pending, changes...)
		l.mu.Unlock()

		if err != nil {
			if isWoken(err) {
				l.wake.Drain()
				if l.closed.Load() {
					return RouteChange{}, opError("listen", Route{}, ErrClosed, nil)
				}
				return RouteChange{}, err
			}
			return RouteChange{}, opError("listen", Route{}, classify(err), err)
		}
	}
}

// Shutdown releases a blocked Listen. It may be called from any
// goroutine, any number of times.
func (l *Listener) Shutdown() {
	if !l.closed.CompareAndSwap(false, true) {
		return
	}
	l.wake.Wake()
	l.log.ListenerStop()
}

// ShutdownHandle returns a handle that shuts the listener down from
// other goroutines without exposing the rest of its surface.
func (l *Listener) ShutdownHandle() *ShutdownHandle {
	return &ShutdownHandle{l: l}
}

// Close shuts the listener down and releases the notification handle.
func (l *Listener) Close() error {
	l.Shutdown()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sys == nil {
		return nil
	}
	err := l.sys.close()
	l.sys = nil
	l.wake.Close()
	if err != nil {
		return opError("close", Route{}, classify(err), err)
	}
	return nil
}

// ShutdownHandle stops a Listener. Handles are cheap, shareable across
// goroutines, and stay valid after the listener is gone.
type ShutdownHandle struct {
	l *Listener
}

// Shutdown releases a blocked Listen. Idempotent.
func (h *ShutdownHandle) Shutdown() { h.l.Shutdown() }
