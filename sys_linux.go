package routemanager

import (
	"errors"
	"net"
	"net/netip"
	"time"

	"golang.org/x/sys/unix"

	"github.com/wesleywu/route-manager/internal/netlink"
	"github.com/wesleywu/route-manager/internal/readiness"
)

func isMalformed(err error) bool { return errors.Is(err, netlink.ErrMalformed) }

// sysManager drives route mutations over a dedicated netlink socket.
type sysManager struct {
	conn *netlink.Conn
}

func newSysManager() (*sysManager, error) {
	conn, err := netlink.Dial()
	if err != nil {
		return nil, err
	}
	return &sysManager{conn: conn}, nil
}

func (s *sysManager) close() error { return s.conn.Close() }

func (s *sysManager) add(r Route, deadline time.Time, wake *readiness.Wake, stale func() bool) error {
	ri := routeToInfo(r)
	ri.Protocol = unix.RTPROT_STATIC
	ri.Type = unix.RTN_UNICAST
	if r.gateway.IsValid() {
		ri.Scope = unix.RT_SCOPE_UNIVERSE
	} else {
		ri.Scope = unix.RT_SCOPE_LINK
	}
	flags := uint16(unix.NLM_F_ACK | unix.NLM_F_CREATE | unix.NLM_F_EXCL)
	_, err := s.conn.Execute(unix.RTM_NEWROUTE, flags, ri.Marshal(), deadline, wake, stale)
	return err
}

func (s *sysManager) delete(r Route, deadline time.Time, wake *readiness.Wake, stale func() bool) error {
	ri := routeToInfo(r)
	// RT_SCOPE_NOWHERE wildcards the scope so link and universe routes
	// both match; gateway and interface narrow the match only when set.
	ri.Scope = unix.RT_SCOPE_NOWHERE
	_, err := s.conn.Execute(unix.RTM_DELROUTE, unix.NLM_F_ACK, ri.Marshal(), deadline, wake, stale)
	return err
}

func (s *sysManager) list(deadline time.Time, wake *readiness.Wake, stale func() bool) ([]Route, error) {
	var routes []Route
	var firstErr error
	ok := 0
	for _, family := range []uint8{unix.AF_INET, unix.AF_INET6} {
		ri := netlink.RouteInfo{Family: family}
		msgs, err := s.conn.Execute(unix.RTM_GETROUTE, unix.NLM_F_DUMP, ri.Marshal(), deadline, wake, stale)
		if err != nil {
			// One family may be compiled out of the kernel. Fail only
			// when neither dump succeeds.
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		ok++
		for _, m := range msgs {
			if m.Header.Type != unix.RTM_NEWROUTE {
				continue
			}
			info, err := netlink.ParseRouteInfo(m.Data)
			if err != nil {
				return nil, err
			}
			if r, keep := infoToRoute(info); keep {
				routes = append(routes, r)
			}
		}
	}
	if ok == 0 {
		return nil, firstErr
	}
	return routes, nil
}

// sysListener receives unsolicited route notifications from the
// IPv4/IPv6 route multicast groups on its own socket.
type sysListener struct {
	conn *netlink.Conn
}

func newSysListener() (*sysListener, error) {
	conn, err := netlink.Dial()
	if err != nil {
		return nil, err
	}
	for _, group := range []int{unix.RTNLGRP_IPV4_ROUTE, unix.RTNLGRP_IPV6_ROUTE} {
		if err := conn.JoinGroup(group); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return &sysListener{conn: conn}, nil
}

func (s *sysListener) close() error { return s.conn.Close() }

// recv blocks until the kernel reports at least one route change or the
// wake pipe fires. A decode failure returns the changes decoded so far
// together with the error; the socket stays usable afterwards.
func (s *sysListener) recv(deadline time.Time, wake *readiness.Wake) ([]RouteChange, error) {
	for {
		msgs, err := s.conn.Receive(deadline, wake)
		if err != nil {
			return nil, err
		}
		var changes []RouteChange
		for _, m := range msgs {
			var kind ChangeKind
			switch m.Header.Type {
			case unix.RTM_NEWROUTE:
				kind = RouteAdded
				if m.Header.Flags&unix.NLM_F_REPLACE != 0 {
					kind = RouteChanged
				}
			case unix.RTM_DELROUTE:
				kind = RouteRemoved
			default:
				continue
			}
			info, err := netlink.ParseRouteInfo(m.Data)
			if err != nil {
				return changes, err
			}
			if r, keep := infoToRoute(info); keep {
				changes = append(changes, RouteChange{Kind: kind, Route: r})
			}
		}
		if len(changes) > 0 {
			return changes, nil
		}
		// The datagram held only messages we do not observe; keep waiting.
	}
}

// routeToInfo translates the portable route into rtnetlink terms. The
// caller fills protocol, scope and type, which differ between add and
// delete requests.
func routeToInfo(r Route) netlink.RouteInfo {
	ri := netlink.RouteInfo{
		DstLen:   uint8(r.prefixLen),
		Table:    unix.RT_TABLE_MAIN,
		Gateway:  r.gateway,
		PrefSrc:  r.prefSrc,
		OifIndex: uint32(r.resolvedIfIndex()),
	}
	if r.dst.Is4() {
		ri.Family = unix.AF_INET
	} else {
		ri.Family = unix.AF_INET6
	}
	if r.prefixLen > 0 {
		ri.Dst = r.Network()
	}
	if r.table != 0 {
		ri.Table = r.table
	}
	if r.src.IsValid() {
		ri.Src = r.src.Masked().Addr()
		ri.SrcLen = uint8(r.src.Bits())
	}
	if metric, ok := r.Metric(); ok {
		ri.Priority = metric
		ri.HasPriority = true
	}
	return ri
}

// infoToRoute translates a kernel route back into the portable form.
// Cloned cache entries are skipped; they are lookup artifacts, not
// table entries.
func infoToRoute(info *netlink.RouteInfo) (Route, bool) {
	if info.Flags&unix.RTM_F_CLONED != 0 {
		return Route{}, false
	}
	dst := info.Dst
	if !dst.IsValid() {
		if info.Family == unix.AF_INET {
			dst = netip.IPv4Unspecified()
		} else {
			dst = netip.IPv6Unspecified()
		}
	}
	r := NewRoute(dst, int(info.DstLen)).WithTable(info.Table)
	if info.Gateway.IsValid() {
		r = r.WithGateway(info.Gateway)
	}
	if info.OifIndex != 0 {
		r = r.WithIfIndex(int(info.OifIndex))
		if ifi, err := net.InterfaceByIndex(int(info.OifIndex)); err == nil {
			r = r.WithIfName(ifi.Name)
		}
	}
	if info.HasPriority {
		r = r.WithMetric(info.Priority)
	}
	if info.SrcLen > 0 && info.Src.IsValid() {
		r = r.WithSource(netip.PrefixFrom(info.Src, int(info.SrcLen)))
	}
	if info.PrefSrc.IsValid() {
		r = r.WithPrefSource(info.PrefSrc)
	}
	return r, true
}
