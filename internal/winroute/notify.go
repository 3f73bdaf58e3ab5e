//go:build windows

package winroute

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/windows"
)

// MIB_NOTIFICATION_TYPE values delivered to route-change callbacks.
const (
	NotifyParameterChange = 0
	NotifyAddInstance     = 1
	NotifyDeleteInstance  = 2
	NotifyInitial         = 3
)

// Change is one route notification. HasRow is false for the initial
// notification, which carries no row.
type Change struct {
	Type   uint32
	Route  RouteInfo
	HasRow bool
}

// notifyBuffer bounds how far the consumer may lag before notifications
// are dropped; the callback runs on an iphlpapi thread and must never
// block.
const notifyBuffer = 256

// Notifier delivers kernel route-change notifications on a channel. The
// channel buffers notifyBuffer changes; if the consumer lags further
// behind, additional changes are dropped and counted, retrievable
// through Dropped.
type Notifier struct {
	handle  windows.Handle
	id      uintptr
	ch      chan Change
	dropped atomic.Uint64
}

var (
	notifyMu   sync.Mutex
	notifiers  = make(map[uintptr]*Notifier)
	nextNotify uintptr
	notifyCB   = windows.NewCallback(routeChanged)
)

// routeChanged is invoked by iphlpapi on its own thread. The row is
// copied out immediately; the pointer is only valid for the call.
func routeChanged(ctx, rowPtr, notificationType uintptr) uintptr {
	notifyMu.Lock()
	n := notifiers[ctx]
	notifyMu.Unlock()
	if n == nil {
		return 0
	}
	change := Change{Type: uint32(notificationType)}
	if rowPtr != 0 {
		row := *(*Row)(unsafe.Pointer(rowPtr))
		if ri, err := fromRow(&row); err == nil {
			change.Route = ri
			change.HasRow = true
		}
	}
	select {
	case n.ch <- change:
	default:
		// Consumer lagging; dropping beats stalling the system thread.
		n.dropped.Add(1)
	}
	return 0
}

// NewNotifier registers for route-change notifications across both
// address families.
func NewNotifier() (*Notifier, error) {
	n := &Notifier{ch: make(chan Change, notifyBuffer)}

	notifyMu.Lock()
	nextNotify++
	n.id = nextNotify
	notifiers[n.id] = n
	notifyMu.Unlock()

	ret, _, _ := procNotifyRouteChange2.Call(
		uintptr(windows.AF_UNSPEC),
		notifyCB,
		n.id,
		0, // no initial notification
		uintptr(unsafe.Pointer(&n.handle)),
	)
	if err := callStatus(ret); err != nil {
		notifyMu.Lock()
		delete(notifiers, n.id)
		notifyMu.Unlock()
		return nil, err
	}
	return n, nil
}

// Changes returns the notification channel. It is never closed; callers
// multiplex it with their own shutdown signal.
func (n *Notifier) Changes() <-chan Change { return n.ch }

// Dropped returns how many notifications were discarded because the
// consumer lagged more than notifyBuffer changes behind.
func (n *Notifier) Dropped() uint64 { return n.dropped.Load() }

// Close cancels the registration. In-flight callbacks finish before
// CancelMibChangeNotify2 returns, after which no more sends happen.
func (n *Notifier) Close() error {
	ret, _, _ := procCancelMibChangeNotify2.Call(uintptr(n.handle))

	notifyMu.Lock()
	delete(notifiers, n.id)
	notifyMu.Unlock()

	return callStatus(ret)
}
