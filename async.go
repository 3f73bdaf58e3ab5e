package routemanager

import (
	"context"
	"net/netip"
	"time"

	"github.com/wesleywu/route-manager/internal/logger"
)

// AsyncManager is the context-aware facade over the same route handle
// the blocking Manager drives. Cancellation takes effect at the kernel
// wait: the wait is interrupted, the operation returns ctx.Err(), and
// the handle stays usable.
//
// Cancelling a mutation does not undo it; the kernel may have applied
// the change before the wait was interrupted.
type AsyncManager struct {
	m *Manager
}

// NewAsyncManager opens a route handle for context-aware use.
func NewAsyncManager() (*AsyncManager, error) {
	m, err := New()
	if err != nil {
		return nil, err
	}
	return &AsyncManager{m: m}, nil
}

// SetTimeout replaces the fallback timeout used when a context carries
// no deadline. Zero disables it.
func (am *AsyncManager) SetTimeout(d time.Duration) { am.m.SetTimeout(d) }

// SetLogger replaces the logger, which discards everything by default.
func (am *AsyncManager) SetLogger(l *logger.Logger) { am.m.SetLogger(l) }

// Close releases the route handle and unblocks pending operations.
func (am *AsyncManager) Close() error { return am.m.Close() }

// Add inserts the route. See Manager.Add.
func (am *AsyncManager) Add(ctx context.Context, r Route) error {
	return am.run(ctx, func(deadline time.Time, stale func() bool) error {
		return am.m.doAdd(r, deadline, am.m.wake, stale)
	})
}

// Delete removes the route matching the destination network. See
// Manager.Delete.
func (am *AsyncManager) Delete(ctx context.Context, r Route) error {
	return am.run(ctx, func(deadline time.Time, stale func() bool) error {
		return am.m.doDelete(r, deadline, am.m.wake, stale)
	})
}

// List returns the current routing table, both address families.
func (am *AsyncManager) List(ctx context.Context) ([]Route, error) {
	var routes []Route
	err := am.run(ctx, func(deadline time.Time, stale func() bool) error {
		var lerr error
		routes, lerr = am.m.doList(deadline, am.m.wake, stale)
		return lerr
	})
	return routes, err
}

// Get returns the routes matching the filter.
func (am *AsyncManager) Get(ctx context.Context, f Filter) ([]Route, error) {
	routes, err := am.List(ctx)
	if err != nil {
		return nil, err
	}
	return filterRoutes(routes, f), nil
}

// Find returns the most specific route covering dest. See Manager.Find.
func (am *AsyncManager) Find(ctx context.Context, dest netip.Addr) (Route, error) {
	routes, err := am.List(ctx)
	if err != nil {
		return Route{}, err
	}
	return findRoute(routes, dest)
}

// run executes one operation with the context bridged onto the waker.
// The stale predicate disowns wakeups that belong to neither this
// context nor a Close (leftovers from an earlier cancellation); the
// transport drains those and resumes waiting on the request it already
// sent. Requests are never re-sent.
func (am *AsyncManager) run(ctx context.Context, fn func(deadline time.Time, stale func() bool) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	am.m.wake.Drain()
	stop := context.AfterFunc(ctx, func() { am.m.wake.Wake() })
	defer stop()
	stale := func() bool {
		return ctx.Err() == nil && !am.m.closed.Load()
	}
	err := fn(am.deadline(ctx), stale)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// deadline picks the context's deadline when it has one, the configured
// timeout otherwise.
func (am *AsyncManager) deadline(ctx context.Context) time.Time {
	if dl, ok := ctx.Deadline(); ok {
		return dl
	}
	return am.m.deadline()
}

// AsyncListener is the context-aware facade over a Listener. Both
// facades share the shutdown semantics: after Shutdown every Listen
// reports ErrClosed regardless of context state.
type AsyncListener struct {
	l *Listener
}

// NewAsyncListener subscribes to route-change notifications for
// context-aware use.
func NewAsyncListener() (*AsyncListener, error) {
	l, err := NewListener()
	if err != nil {
		return nil, err
	}
	return &AsyncListener{l: l}, nil
}

// SetLogger replaces the logger, which discards everything by default.
func (al *AsyncListener) SetLogger(lg *logger.Logger) { al.l.SetLogger(lg) }

// Listen blocks until the next route change, the context ends, or the
// listener shuts down.
func (al *AsyncListener) Listen(ctx context.Context) (RouteChange, error) {
	stop := context.AfterFunc(ctx, func() { al.l.wake.Wake() })
	defer stop()
	for {
		if err := ctx.Err(); err != nil {
			return RouteChange{}, err
		}
		change, err := al.l.next()
		if err != nil && isWoken(err) {
			if ctx.Err() != nil {
				return RouteChange{}, ctx.Err()
			}
			continue
		}
		return change, err
	}
}

// Shutdown releases blocked Listen calls on every facade of this
// listener. Idempotent, callable from any goroutine.
func (al *AsyncListener) Shutdown() { al.l.Shutdown() }

// ShutdownHandle returns a handle that shuts the listener down from
// other goroutines.
func (al *AsyncListener) ShutdownHandle() *ShutdownHandle { return al.l.ShutdownHandle() }

// Close shuts the listener down and releases the notification handle.
func (al *AsyncListener) Close() error { return al.l.Close() }
