package routemanager

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/wesleywu/route-manager/internal/winroute"
)

func isMalformed(err error) bool { return errors.Is(err, winroute.ErrMalformed) }

// sysManager drives route mutations through the IP Helper API. The calls
// are synchronous, so deadlines and wakers do not apply here; the async
// facade handles context cancellation around them.
type sysManager struct{}

func newSysManager() (*sysManager, error) { return &sysManager{}, nil }

func (s *sysManager) close() error { return nil }

func (s *sysManager) add(r Route, _ time.Time, _ *waker, _ func() bool) error {
	ri, err := routeToInfo(r)
	if err != nil {
		return err
	}
	return winroute.Create(&ri)
}

// delete resolves the route to an existing table row first, since
// DeleteIpForwardEntry2 matches on the exact interface and next hop.
// Gateway and interface narrow the match only when the caller set them.
func (s *sysManager) delete(r Route, _ time.Time, _ *waker, _ func() bool) error {
	rows, err := winroute.List()
	if err != nil {
		return err
	}
	want := NewRoute(r.dst, r.prefixLen)
	wantIdx := r.resolvedIfIndex()
	for i := range rows {
		row := &rows[i]
		if row.Dst != want.Network() || row.PrefixLen != r.prefixLen {
			continue
		}
		if r.gateway.IsValid() && row.Gateway != r.gateway {
			continue
		}
		if wantIdx != 0 && row.IfIndex != wantIdx {
			continue
		}
		if r.luid != 0 && row.Luid != r.luid {
			continue
		}
		return winroute.Delete(row)
	}
	return fmt.Errorf("%w: no table row matches %s", ErrRouteNotFound, r)
}

func (s *sysManager) list(_ time.Time, _ *waker, _ func() bool) ([]Route, error) {
	infos, err := winroute.List()
	if err != nil {
		return nil, err
	}
	routes := make([]Route, 0, len(infos))
	for i := range infos {
		routes = append(routes, infoToRoute(&infos[i]))
	}
	return routes, nil
}

// sysListener adapts NotifyRouteChange2 callbacks into the recv shape
// the facades share.
type sysListener struct {
	notifier *winroute.Notifier
}

func newSysListener() (*sysListener, error) {
	notifier, err := winroute.NewNotifier()
	if err != nil {
		return nil, err
	}
	return &sysListener{notifier: notifier}, nil
}

func (s *sysListener) close() error { return s.notifier.Close() }

// recv blocks until a route notification arrives, the waker fires, or
// the deadline passes.
func (s *sysListener) recv(deadline time.Time, wake *waker) ([]RouteChange, error) {
	var timeout <-chan time.Time
	if !deadline.IsZero() {
		t := time.NewTimer(time.Until(deadline))
		defer t.Stop()
		timeout = t.C
	}
	for {
		select {
		case change := <-s.notifier.Changes():
			if !change.HasRow {
				continue
			}
			var kind ChangeKind
			switch change.Type {
			case winroute.NotifyAddInstance:
				kind = RouteAdded
			case winroute.NotifyDeleteInstance:
				kind = RouteRemoved
			case winroute.NotifyParameterChange:
				kind = RouteChanged
			default:
				continue
			}
			return []RouteChange{{Kind: kind, Route: infoToRoute(&change.Route)}}, nil
		case <-wake.woken():
			return nil, errWoken
		case <-timeout:
			return nil, ErrTimeout
		}
	}
}

// routeToInfo translates the portable route into an IP Helper row. The
// API cannot infer an interface from the next hop the way the Unix
// kernels do, so a route that names none is rejected up front.
func routeToInfo(r Route) (winroute.RouteInfo, error) {
	ri := winroute.RouteInfo{
		Dst:       r.Network(),
		PrefixLen: r.prefixLen,
		Gateway:   r.gateway,
		IfIndex:   r.resolvedIfIndex(),
		Luid:      r.luid,
	}
	if ri.IfIndex == 0 && ri.Luid == 0 {
		return ri, fmt.Errorf("%w: route binds no interface", ErrInvalidRoute)
	}
	if metric, ok := r.Metric(); ok {
		ri.Metric = metric
		ri.HasMetric = true
	}
	return ri, nil
}

func infoToRoute(info *winroute.RouteInfo) Route {
	r := NewRoute(info.Dst, info.PrefixLen).WithLuid(info.Luid)
	if info.Gateway.IsValid() {
		r = r.WithGateway(info.Gateway)
	}
	if info.IfIndex != 0 {
		r = r.WithIfIndex(info.IfIndex)
		if ifi, err := net.InterfaceByIndex(info.IfIndex); err == nil {
			r = r.WithIfName(ifi.Name)
		}
	}
	if info.HasMetric {
		r = r.WithMetric(info.Metric)
	}
	return r
}
