//go:build darwin || freebsd || openbsd

package routemanager

import (
	"errors"
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/wesleywu/route-manager/internal/readiness"
	"github.com/wesleywu/route-manager/internal/rtsock"
)

func isMalformed(err error) bool { return errors.Is(err, rtsock.ErrMalformed) }

// sysManager drives route mutations over a dedicated PF_ROUTE socket.
type sysManager struct {
	conn *rtsock.Conn
}

func newSysManager() (*sysManager, error) {
	conn, err := rtsock.Dial()
	if err != nil {
		return nil, err
	}
	return &sysManager{conn: conn}, nil
}

func (s *sysManager) close() error { return s.conn.Close() }

func (s *sysManager) add(r Route, deadline time.Time, wake *readiness.Wake, stale func() bool) error {
	ri := routeToInfo(r)
	return s.conn.Execute(&ri, unix.RTM_ADD, deadline, wake, stale)
}

func (s *sysManager) delete(r Route, deadline time.Time, wake *readiness.Wake, stale func() bool) error {
	ri := routeToInfo(r)
	return s.conn.Execute(&ri, unix.RTM_DELETE, deadline, wake, stale)
}

// list goes through the sysctl dump rather than the socket, so it never
// competes with request echoes. The deadline does not apply; sysctl
// completes without blocking on the network.
func (s *sysManager) list(time.Time, *readiness.Wake, func() bool) ([]Route, error) {
	infos, err := rtsock.FetchRoutes()
	if err != nil {
		return nil, err
	}
	routes := make([]Route, 0, len(infos))
	for _, info := range infos {
		routes = append(routes, infoToRoute(info))
	}
	return routes, nil
}

// sysListener receives unsolicited routing messages; every PF_ROUTE
// socket hears all of them.
type sysListener struct {
	conn *rtsock.Conn
}

func newSysListener() (*sysListener, error) {
	conn, err := rtsock.Dial()
	if err != nil {
		return nil, err
	}
	return &sysListener{conn: conn}, nil
}

func (s *sysListener) close() error { return s.conn.Close() }

// recv blocks until the kernel reports a route change or the wake pipe
// fires. Cloned cache churn and non-route messages are filtered out.
func (s *sysListener) recv(deadline time.Time, wake *readiness.Wake) ([]RouteChange, error) {
	for {
		m, err := s.conn.Receive(deadline, wake)
		if err != nil {
			return nil, err
		}
		var kind ChangeKind
		switch m.Type {
		case unix.RTM_ADD:
			kind = RouteAdded
		case unix.RTM_DELETE:
			kind = RouteRemoved
		case unix.RTM_CHANGE:
			kind = RouteChanged
		default:
			continue
		}
		if !m.HasRoute || rtsock.Transient(m.Flags) {
			continue
		}
		return []RouteChange{{Kind: kind, Route: infoToRoute(m.Route)}}, nil
	}
}

func routeToInfo(r Route) rtsock.RouteInfo {
	return rtsock.RouteInfo{
		Dst:       r.Network(),
		PrefixLen: r.prefixLen,
		Gateway:   r.gateway,
		IfIndex:   r.resolvedIfIndex(),
	}
}

func infoToRoute(info rtsock.RouteInfo) Route {
	r := NewRoute(info.Dst, info.PrefixLen)
	if info.Gateway.IsValid() {
		r = r.WithGateway(info.Gateway)
	}
	if info.IfIndex != 0 {
		r = r.WithIfIndex(info.IfIndex)
		if ifi, err := net.InterfaceByIndex(info.IfIndex); err == nil {
			r = r.WithIfName(ifi.Name)
		}
	}
	return r
}
