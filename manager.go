package routemanager

import (
	"net/netip"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wesleywu/route-manager/internal/logger"
)

// DefaultTimeout bounds how long an operation waits for the kernel to
// answer. Operations are never retried internally; retry policy belongs
// to the caller.
const DefaultTimeout = 5 * time.Second

// Manager is the blocking facade over the kernel routing table. Methods
// may be called from any goroutine; operations on one Manager are
// serialized.
type Manager struct {
	mu      sync.Mutex
	sys     *sysManager
	wake    *waker
	log     *logger.Logger
	timeout time.Duration
	closed  atomic.Bool
}

// New opens a route handle. The caller needs the platform's
// administrative privilege for mutations; opening itself may already
// fail without it on some platforms.
func New() (*Manager, error) {
	sys, err := newSysManager()
	if err != nil {
		return nil, opError("open", Route{}, classify(err), err)
	}
	wake, err := newWaker()
	if err != nil {
		sys.close()
		return nil, opError("open", Route{}, classify(err), err)
	}
	return &Manager{
		sys:     sys,
		wake:    wake,
		log:     logger.Discard(),
		timeout: DefaultTimeout,
	}, nil
}

// SetTimeout replaces the per-operation timeout. Zero disables it.
func (m *Manager) SetTimeout(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeout = d
}

// SetLogger replaces the logger, which discards everything by default.
func (m *Manager) SetLogger(l *logger.Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log = l.WithComponent("manager")
}

// Close releases the route handle. Safe to call more than once; every
// later operation reports ErrClosed. The closed flag flips before the
// wakeup so a blocked operation sees the wake as genuine.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.wake.Wake()
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.sys.close()
	m.wake.Close()
	if err != nil {
		return opError("close", Route{}, classify(err), err)
	}
	return nil
}

// Add inserts the route. Adding a route the kernel already has reports
// ErrRouteExists; the existing entry is never replaced.
func (m *Manager) Add(r Route) error {
	return m.doAdd(r, m.deadline(), nil, nil)
}

// Delete removes the route matching the destination network. A gateway
// or interface narrows the match when set; otherwise any route to the
// destination matches. A missing route reports ErrRouteNotFound.
func (m *Manager) Delete(r Route) error {
	return m.doDelete(r, m.deadline(), nil, nil)
}

// List returns the current routing table, both address families.
func (m *Manager) List() ([]Route, error) {
	return m.doList(m.deadline(), nil, nil)
}

// Get returns the routes matching the filter.
func (m *Manager) Get(f Filter) ([]Route, error) {
	routes, err := m.doList(m.deadline(), nil, nil)
	if err != nil {
		return nil, err
	}
	return filterRoutes(routes, f), nil
}

// Find returns the most specific route covering dest, breaking prefix
// ties by metric the way the kernel would. ErrRouteNotFound when no
// route covers it.
func (m *Manager) Find(dest netip.Addr) (Route, error) {
	routes, err := m.doList(m.deadline(), nil, nil)
	if err != nil {
		return Route{}, err
	}
	return findRoute(routes, dest)
}

func (m *Manager) deadline() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.timeout <= 0 {
		return time.Time{}
	}
	return time.Now().Add(m.timeout)
}

func (m *Manager) doAdd(r Route, deadline time.Time, wake *waker, stale func() bool) error {
	if err := r.Validate(); err != nil {
		return opError("add", r, classify(err), err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed.Load() {
		return opError("add", r, ErrClosed, nil)
	}
	start := time.Now()
	if err := m.sys.add(r, deadline, wake, stale); err != nil {
		if woken, werr := m.wokenError("add", r, err); woken {
			return werr
		}
		m.log.RouteOperation("add", r.String(), time.Since(start).Milliseconds(), false)
		return opError("add", r, classify(err), err)
	}
	m.log.RouteOperation("add", r.String(), time.Since(start).Milliseconds(), true)
	return nil
}

func (m *Manager) doDelete(r Route, deadline time.Time, wake *waker, stale func() bool) error {
	if err := r.Validate(); err != nil {
		return opError("delete", r, classify(err), err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed.Load() {
		return opError("delete", r, ErrClosed, nil)
	}
	start := time.Now()
	if err := m.sys.delete(r, deadline, wake, stale); err != nil {
		if woken, werr := m.wokenError("delete", r, err); woken {
			return werr
		}
		m.log.RouteOperation("delete", r.String(), time.Since(start).Milliseconds(), false)
		return opError("delete", r, classify(err), err)
	}
	m.log.RouteOperation("delete", r.String(), time.Since(start).Milliseconds(), true)
	return nil
}

func (m *Manager) doList(deadline time.Time, wake *waker, stale func() bool) ([]Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed.Load() {
		return nil, opError("list", Route{}, ErrClosed, nil)
	}
	routes, err := m.sys.list(deadline, wake, stale)
	if err != nil {
		if woken, werr := m.wokenError("list", Route{}, err); woken {
			return nil, werr
		}
		return nil, opError("list", Route{}, classify(err), err)
	}
	return routes, nil
}

// wokenError interprets a wakeup surfacing from the transport: a Close
// racing the operation means ErrClosed, anything else is handed back raw
// so the async facade can test its context against it.
func (m *Manager) wokenError(op string, r Route, err error) (bool, error) {
	if !isWoken(err) {
		return false, nil
	}
	if m.closed.Load() {
		return true, opError(op, r, ErrClosed, nil)
	}
	return true, err
}

// findRoute picks the winning route for dest from a table snapshot:
// longest prefix first, then lowest metric.
func findRoute(routes []Route, dest netip.Addr) (Route, error) {
	candidates := routes[:0:0]
	for _, r := range routes {
		if r.Contains(dest) {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return Route{}, opError("find", Route{}, ErrRouteNotFound, nil)
	}
	slices.SortStableFunc(candidates, func(a, b Route) int {
		return -a.compare(b)
	})
	return candidates[0], nil
}
