//go:build darwin || freebsd || openbsd

package rtsock

import (
	"fmt"
	"net/netip"

	"golang.org/x/net/route"
	"golang.org/x/sys/unix"
)

// FetchRoutes reads the full routing table through the NET_RT_DUMP
// sysctl. Dumping via sysctl instead of the socket avoids racing the
// dump against unsolicited monitor traffic.
func FetchRoutes() ([]RouteInfo, error) {
	rib, err := route.FetchRIB(unix.AF_UNSPEC, route.RIBTypeRoute, 0)
	if err != nil {
		return nil, fmt.Errorf("rtsock: fetch rib: %w", err)
	}
	msgs, err := route.ParseRIB(route.RIBTypeRoute, rib)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var routes []RouteInfo
	for _, m := range msgs {
		rm, ok := m.(*route.RouteMessage)
		if !ok {
			continue
		}
		if Transient(int32(rm.Flags)) {
			continue
		}
		if ri, ok := fromRouteMessage(rm); ok {
			routes = append(routes, ri)
		}
	}
	return routes, nil
}

// fromRouteMessage converts one parsed RIB entry. Entries without an
// inet destination (AF_LINK noise in the dump) are skipped.
func fromRouteMessage(rm *route.RouteMessage) (RouteInfo, bool) {
	var ri RouteInfo

	dst, _ := inetAddr(addrAt(rm.Addrs, unix.RTAX_DST))
	if !dst.IsValid() {
		return ri, false
	}
	ri.Dst = dst
	ri.IfIndex = rm.Index

	switch gw := addrAt(rm.Addrs, unix.RTAX_GATEWAY).(type) {
	case *route.LinkAddr:
		if gw.Index != 0 {
			ri.IfIndex = gw.Index
		}
	default:
		if addr, zone := inetAddr(gw); addr.IsValid() {
			ri.Gateway = addr
			if ri.IfIndex == 0 {
				ri.IfIndex = zone
			}
		}
	}

	switch {
	case rm.Flags&unix.RTF_HOST != 0:
		ri.PrefixLen = dst.BitLen()
	default:
		ri.PrefixLen = maskPrefix(addrAt(rm.Addrs, unix.RTAX_NETMASK), dst.Is4())
	}
	return ri, true
}

// addrAt guards the positional RTAX lookup; the parsed slice length
// varies across the BSDs.
func addrAt(addrs []route.Addr, idx int) route.Addr {
	if idx >= len(addrs) {
		return nil
	}
	return addrs[idx]
}

// inetAddr converts a route.Addr to netip, returning the zone for
// IPv6 link-local addresses. The route package already scrubs the
// KAME-embedded scope id into ZoneID.
func inetAddr(a route.Addr) (netip.Addr, int) {
	switch a := a.(type) {
	case *route.Inet4Addr:
		return netip.AddrFrom4(a.IP), 0
	case *route.Inet6Addr:
		return netip.AddrFrom16(a.IP), a.ZoneID
	default:
		return netip.Addr{}, 0
	}
}

// maskPrefix counts the leading ones of a netmask address. A missing
// netmask on a non-host route means /0.
func maskPrefix(a route.Addr, is4 bool) int {
	var b []byte
	switch a := a.(type) {
	case *route.Inet4Addr:
		b = a.IP[:]
	case *route.Inet6Addr:
		b = a.IP[:]
	default:
		return 0
	}
	if is4 && len(b) > 4 {
		b = b[:4]
	}
	bits := 0
	for _, v := range b {
		if v == 0xff {
			bits += 8
			continue
		}
		for mask := byte(0x80); mask != 0 && v&mask != 0; mask >>= 1 {
			bits++
		}
		break
	}
	return bits
}
