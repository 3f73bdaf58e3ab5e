package routemanager

import "net/netip"

// Family selects an address family for queries.
type Family int

const (
	// FamilyAny matches both IPv4 and IPv6 routes.
	FamilyAny Family = iota
	// FamilyIPv4 matches IPv4 routes only.
	FamilyIPv4
	// FamilyIPv6 matches IPv6 routes only.
	FamilyIPv6
)

// Filter narrows a route-table query. The zero value matches every route.
type Filter struct {
	// IfIndex, when positive, matches routes bound to that interface.
	IfIndex int
	// Family restricts the address family.
	Family Family
	// Contains, when valid, matches routes whose destination network
	// covers the address.
	Contains netip.Addr
}

// Match reports whether the route passes the filter.
func (f Filter) Match(r Route) bool {
	if f.IfIndex > 0 && r.IfIndex() != f.IfIndex {
		return false
	}
	switch f.Family {
	case FamilyIPv4:
		if !r.Destination().Is4() {
			return false
		}
	case FamilyIPv6:
		if r.Destination().Is4() {
			return false
		}
	}
	if f.Contains.IsValid() && !r.Contains(f.Contains) {
		return false
	}
	return true
}

func filterRoutes(routes []Route, f Filter) []Route {
	out := routes[:0:0]
	for _, r := range routes {
		if f.Match(r) {
			out = append(out, r)
		}
	}
	return out
}
