// Package routemanager manipulates the host kernel's IP routing table:
// adding, deleting and querying routes, and observing route-table changes
// as the kernel reports them.
//
// The same operations are exposed twice: Manager and Listener block the
// calling goroutine, AsyncManager and AsyncListener take a context and
// suspend at the readiness wait instead. Both facades drive the same
// per-platform transport (netlink on Linux, a PF_ROUTE routing socket on
// the BSDs and macOS, the IP Helper API on Windows).
package routemanager

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// Route is one entry of the kernel forwarding table: a destination network
// plus optional next hop, outbound interface and metric.
//
// Route is an immutable value. The With* methods return a copy with the
// attribute set, so partially built routes are never observable:
//
//	r := routemanager.NewRoute(netip.MustParseAddr("192.168.2.0"), 24).
//		WithGateway(netip.MustParseAddr("192.168.1.1")).
//		WithIfIndex(1)
type Route struct {
	dst       netip.Addr
	prefixLen int
	gateway   netip.Addr // zero value means unset
	ifIndex   int        // 0 means unset / kernel-chosen
	ifName    string
	metric    uint32
	hasMetric bool

	// Linux-only payload, ignored by the other backends.
	table   uint8
	src     netip.Prefix
	prefSrc netip.Addr

	// Windows-only interface LUID, preferred over the index when set.
	luid uint64
}

// NewRoute returns a minimal route for the given destination network.
// Attribute validity (prefix range, family consistency) is checked by
// Validate, which every Manager operation runs before touching the kernel.
func NewRoute(destination netip.Addr, prefixLen int) Route {
	return Route{dst: destination.Unmap(), prefixLen: prefixLen}
}

// WithGateway sets the next-hop address.
func (r Route) WithGateway(gateway netip.Addr) Route {
	r.gateway = gateway.Unmap()
	return r
}

// WithIfIndex sets the outbound interface by index.
func (r Route) WithIfIndex(ifIndex int) Route {
	r.ifIndex = ifIndex
	return r
}

// WithIfName sets the outbound interface by name (e.g. "eth0").
func (r Route) WithIfName(name string) Route {
	r.ifName = name
	return r
}

// WithMetric sets the route preference value; lower is preferred.
func (r Route) WithMetric(metric uint32) Route {
	r.metric = metric
	r.hasMetric = true
	return r
}

// WithTable sets the routing table ID. Only the Linux backend uses it.
func (r Route) WithTable(table uint8) Route {
	r.table = table
	return r
}

// WithSource sets the source selector for policy routing. Linux only.
func (r Route) WithSource(src netip.Prefix) Route {
	r.src = src
	return r
}

// WithPrefSource sets the preferred source address. Linux only.
func (r Route) WithPrefSource(prefSrc netip.Addr) Route {
	r.prefSrc = prefSrc.Unmap()
	return r
}

// WithLuid sets the outbound interface by LUID. Only the Windows backend
// uses it; the other platforms identify interfaces by index or name.
func (r Route) WithLuid(luid uint64) Route {
	r.luid = luid
	return r
}

// Destination returns the destination network address.
func (r Route) Destination() netip.Addr { return r.dst }

// PrefixLen returns the destination prefix length.
func (r Route) PrefixLen() int { return r.prefixLen }

// Gateway returns the next-hop address; the zero netip.Addr when unset.
func (r Route) Gateway() netip.Addr { return r.gateway }

// IfIndex returns the outbound interface index, 0 when unset.
func (r Route) IfIndex() int { return r.ifIndex }

// IfName returns the outbound interface name, "" when unset.
func (r Route) IfName() string { return r.ifName }

// Metric returns the route preference value and whether one was set.
func (r Route) Metric() (uint32, bool) { return r.metric, r.hasMetric }

// Table returns the Linux routing table ID (0 = main).
func (r Route) Table() uint8 { return r.table }

// Source returns the policy-routing source selector. Linux only.
func (r Route) Source() netip.Prefix { return r.src }

// PrefSource returns the preferred source address. Linux only.
func (r Route) PrefSource() netip.Addr { return r.prefSrc }

// Luid returns the Windows interface LUID, 0 when unset.
func (r Route) Luid() uint64 { return r.luid }

// Validate checks that the route can be encoded for the kernel: prefix
// length within the family's range, gateway in the destination's family,
// and interface name/index resolvable and consistent with each other.
func (r Route) Validate() error {
	if !r.dst.IsValid() {
		return fmt.Errorf("%w: no destination address", ErrInvalidRoute)
	}
	if r.prefixLen < 0 || r.prefixLen > r.dst.BitLen() {
		return fmt.Errorf("%w: prefix length %d out of range for %s", ErrInvalidRoute, r.prefixLen, r.dst)
	}
	if r.gateway.IsValid() && r.gateway.Is4() != r.dst.Is4() {
		return fmt.Errorf("%w: gateway %s does not match destination family", ErrInvalidRoute, r.gateway)
	}
	if r.src.IsValid() && r.src.Addr().Is4() != r.dst.Is4() {
		return fmt.Errorf("%w: source %s does not match destination family", ErrInvalidRoute, r.src)
	}
	if r.prefSrc.IsValid() && r.prefSrc.Is4() != r.dst.Is4() {
		return fmt.Errorf("%w: preferred source %s does not match destination family", ErrInvalidRoute, r.prefSrc)
	}
	if r.ifIndex > 0 {
		if _, err := net.InterfaceByIndex(r.ifIndex); err != nil {
			return fmt.Errorf("%w: interface index %d: %v", ErrInvalidRoute, r.ifIndex, err)
		}
	}
	if r.ifName != "" {
		ifi, err := net.InterfaceByName(r.ifName)
		if err != nil {
			return fmt.Errorf("%w: interface %q: %v", ErrInvalidRoute, r.ifName, err)
		}
		if r.ifIndex > 0 && ifi.Index != r.ifIndex {
			return fmt.Errorf("%w: interface %q has index %d, route says %d",
				ErrInvalidRoute, r.ifName, ifi.Index, r.ifIndex)
		}
	}
	return nil
}

// Prefix returns the destination as a masked netip.Prefix.
func (r Route) Prefix() netip.Prefix {
	p, err := r.dst.Prefix(r.prefixLen)
	if err != nil {
		return netip.Prefix{}
	}
	return p
}

// Network returns the destination network address, i.e. the destination
// with the host bits cleared.
func (r Route) Network() netip.Addr {
	return maskAddr(r.dst, r.prefixLen)
}

// Mask returns the subnet mask as an address of the destination's family.
// Out-of-range prefix lengths are clamped; accessors never panic on a
// route that Validate would reject.
func (r Route) Mask() netip.Addr {
	prefixLen := r.prefixLen
	if prefixLen < 0 {
		prefixLen = 0
	}
	if r.dst.Is4() {
		if prefixLen > 32 {
			prefixLen = 32
		}
		var m uint32
		if prefixLen > 0 {
			m = ^uint32(0) << (32 - prefixLen)
		}
		var b [4]byte
		b[0], b[1], b[2], b[3] = byte(m>>24), byte(m>>16), byte(m>>8), byte(m)
		return netip.AddrFrom4(b)
	}
	if prefixLen > 128 {
		prefixLen = 128
	}
	var b [16]byte
	for i := 0; i < prefixLen/8; i++ {
		b[i] = 0xff
	}
	if rem := prefixLen % 8; rem > 0 {
		b[prefixLen/8] = ^byte(0) << (8 - rem)
	}
	return netip.AddrFrom16(b)
}

// Contains reports whether the destination network covers addr.
func (r Route) Contains(addr netip.Addr) bool {
	addr = addr.Unmap()
	if addr.Is4() != r.dst.Is4() {
		return false
	}
	return maskAddr(addr, r.prefixLen) == r.Network()
}

// resolvedIfIndex returns the interface index, falling back to a lookup by
// name when only the name was set.
func (r Route) resolvedIfIndex() int {
	if r.ifIndex > 0 {
		return r.ifIndex
	}
	if r.ifName != "" {
		if ifi, err := net.InterfaceByName(r.ifName); err == nil {
			return ifi.Index
		}
	}
	return 0
}

// compare orders routes for longest-prefix-first lookup: larger prefix
// wins, metric breaks ties with lower preferred.
func (r Route) compare(other Route) int {
	if r.prefixLen != other.prefixLen {
		if r.prefixLen > other.prefixLen {
			return 1
		}
		return -1
	}
	rm, rok := r.Metric()
	om, ook := other.Metric()
	switch {
	case rok && ook && rm != om:
		if rm < om {
			return 1
		}
		return -1
	case rok != ook:
		// A route with an explicit metric sorts after one without, which
		// keeps kernel-default routes preferred on ties.
		if !rok {
			return 1
		}
		return -1
	}
	return 0
}

func (r Route) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s/%d", r.dst, r.prefixLen)
	if r.gateway.IsValid() {
		fmt.Fprintf(&sb, " via %s", r.gateway)
	}
	if r.ifName != "" {
		fmt.Fprintf(&sb, " dev %s", r.ifName)
	} else if r.ifIndex > 0 {
		fmt.Fprintf(&sb, " dev #%d", r.ifIndex)
	}
	if r.hasMetric {
		fmt.Fprintf(&sb, " metric %d", r.metric)
	}
	return sb.String()
}

func maskAddr(addr netip.Addr, prefixLen int) netip.Addr {
	if addr.Is4() {
		b := addr.As4()
		v := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
		var m uint32
		if prefixLen > 0 && prefixLen <= 32 {
			m = ^uint32(0) << (32 - prefixLen)
		}
		v &= m
		return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
	}
	b := addr.As16()
	if prefixLen < 0 {
		prefixLen = 0
	}
	if prefixLen > 128 {
		prefixLen = 128
	}
	for i := range b {
		bitsLeft := prefixLen - i*8
		switch {
		case bitsLeft >= 8:
		case bitsLeft <= 0:
			b[i] = 0
		default:
			b[i] &= ^byte(0) << (8 - bitsLeft)
		}
	}
	return netip.AddrFrom16(b)
}
