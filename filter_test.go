package routemanager

import (
	"net/netip"
	"testing"
)

func TestFilterMatch(t *testing.T) {
	v4 := NewRoute(netip.MustParseAddr("192.168.2.0"), 24).WithIfIndex(2)
	v6 := NewRoute(netip.MustParseAddr("2001:db8::"), 64).WithIfIndex(3)

	tests := []struct {
		name   string
		filter Filter
		route  Route
		want   bool
	}{
		{"zero filter matches v4", Filter{}, v4, true},
		{"zero filter matches v6", Filter{}, v6, true},
		{"family v4 rejects v6", Filter{Family: FamilyIPv4}, v6, false},
		{"family v6 rejects v4", Filter{Family: FamilyIPv6}, v4, false},
		{"interface match", Filter{IfIndex: 2}, v4, true},
		{"interface mismatch", Filter{IfIndex: 9}, v4, false},
		{"contains match", Filter{Contains: netip.MustParseAddr("192.168.2.7")}, v4, true},
		{"contains mismatch", Filter{Contains: netip.MustParseAddr("192.168.3.7")}, v4, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Match(tt.route); got != tt.want {
				t.Errorf("Match(%s) = %v, want %v", tt.route, got, tt.want)
			}
		})
	}
}

func TestFilterRoutes(t *testing.T) {
	routes := []Route{
		NewRoute(netip.MustParseAddr("192.168.2.0"), 24).WithIfIndex(2),
		NewRoute(netip.MustParseAddr("10.0.0.0"), 8).WithIfIndex(3),
		NewRoute(netip.MustParseAddr("2001:db8::"), 64).WithIfIndex(2),
	}

	got := filterRoutes(routes, Filter{IfIndex: 2})
	if len(got) != 2 {
		t.Fatalf("Expected 2 routes on interface 2, got %d", len(got))
	}

	got = filterRoutes(routes, Filter{Family: FamilyIPv6})
	if len(got) != 1 || got[0].Destination().Is4() {
		t.Fatalf("Expected only the v6 route, got %v", got)
	}

	if got = filterRoutes(routes, Filter{IfIndex: 99}); len(got) != 0 {
		t.Fatalf("Expected no routes, got %v", got)
	}
}

func TestRouteSetDeduplicates(t *testing.T) {
	set := NewRouteSet()

	a := NewRoute(netip.MustParseAddr("192.168.2.0"), 24)
	b := NewRoute(netip.MustParseAddr("192.168.2.0"), 24).WithGateway(netip.MustParseAddr("10.0.0.1"))
	c := NewRoute(netip.MustParseAddr("192.168.2.0"), 25)

	if !set.Add(a) {
		t.Error("First insert should succeed")
	}
	if set.Add(b) {
		t.Error("Same network with a different gateway is still a duplicate")
	}
	if !set.Add(c) {
		t.Error("A different prefix length is a different network")
	}
	if set.Len() != 2 {
		t.Errorf("Expected 2 networks, got %d", set.Len())
	}
	if !set.Contains(b) {
		t.Error("Contains should match by destination network")
	}
	if got := len(set.Routes()); got != 2 {
		t.Errorf("Routes() returned %d entries, want 2", got)
	}
}

func TestChangeKindString(t *testing.T) {
	tests := []struct {
		kind     ChangeKind
		expected string
	}{
		{RouteAdded, "Added"},
		{RouteRemoved, "Removed"},
		{RouteChanged, "Changed"},
		{ChangeKind(42), "UnknownChange"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.expected {
			t.Errorf("Expected %s, got %s", tt.expected, got)
		}
	}
}
