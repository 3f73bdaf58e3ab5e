package routemanager

import (
	"github.com/cespare/xxhash/v2"
)

// RouteSet is a set of routes keyed by destination network. Two routes
// with the same network and prefix length are duplicates no matter how
// their other attributes differ, which is what route-list deduplication
// wants.
type RouteSet struct {
	routes map[uint64]Route
}

// NewRouteSet returns an empty set.
func NewRouteSet() *RouteSet {
	return &RouteSet{
		routes: make(map[uint64]Route),
	}
}

// Add inserts the route, reporting false when its destination network is
// already present. The first route for a network wins.
func (rs *RouteSet) Add(r Route) bool {
	hash := hashRoute(r)
	if _, exists := rs.routes[hash]; exists {
		return false
	}
	rs.routes[hash] = r
	return true
}

// Contains checks whether a route to the same destination network is in
// the set.
func (rs *RouteSet) Contains(r Route) bool {
	_, exists := rs.routes[hashRoute(r)]
	return exists
}

// Len returns the number of distinct destination networks.
func (rs *RouteSet) Len() int {
	return len(rs.routes)
}

// Routes returns the set's routes in no particular order.
func (rs *RouteSet) Routes() []Route {
	routes := make([]Route, 0, len(rs.routes))
	for _, r := range rs.routes {
		routes = append(routes, r)
	}
	return routes
}

// hashRoute hashes the masked destination network and prefix length.
func hashRoute(r Route) uint64 {
	h := xxhash.New()

	network := r.Network()
	if network.Is4() {
		b := network.As4()
		_, _ = h.Write(b[:])
	} else {
		b := network.As16()
		_, _ = h.Write(b[:])
	}
	_, _ = h.Write([]byte{byte(r.PrefixLen())})

	return h.Sum64()
}
