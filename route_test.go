package routemanager

import (
	"errors"
	"net/netip"
	"testing"
)

func TestRouteBuilders(t *testing.T) {
	dst := netip.MustParseAddr("192.168.2.0")
	gw := netip.MustParseAddr("192.168.1.1")

	r := NewRoute(dst, 24).
		WithGateway(gw).
		WithIfIndex(1).
		WithMetric(100)

	if r.Destination() != dst {
		t.Errorf("Expected destination %v, got %v", dst, r.Destination())
	}
	if r.PrefixLen() != 24 {
		t.Errorf("Expected prefix length 24, got %d", r.PrefixLen())
	}
	if r.Gateway() != gw {
		t.Errorf("Expected gateway %v, got %v", gw, r.Gateway())
	}
	if r.IfIndex() != 1 {
		t.Errorf("Expected interface index 1, got %d", r.IfIndex())
	}
	metric, ok := r.Metric()
	if !ok || metric != 100 {
		t.Errorf("Expected metric 100, got %d (set=%v)", metric, ok)
	}
}

func TestRouteImmutability(t *testing.T) {
	base := NewRoute(netip.MustParseAddr("10.0.0.0"), 8)
	withGw := base.WithGateway(netip.MustParseAddr("10.0.0.1"))

	if base.Gateway().IsValid() {
		t.Error("Base route should not gain a gateway from a derived route")
	}
	if !withGw.Gateway().IsValid() {
		t.Error("Derived route should have a gateway")
	}
	if _, ok := base.Metric(); ok {
		t.Error("Base route should have no metric")
	}
}

func TestRouteValidate(t *testing.T) {
	tests := []struct {
		name    string
		route   Route
		wantErr bool
	}{
		{
			name:    "valid v4",
			route:   NewRoute(netip.MustParseAddr("192.168.2.0"), 24),
			wantErr: false,
		},
		{
			name:    "valid v6",
			route:   NewRoute(netip.MustParseAddr("2001:db8::"), 64),
			wantErr: false,
		},
		{
			name:    "no destination",
			route:   Route{},
			wantErr: true,
		},
		{
			name:    "prefix too long for v4",
			route:   NewRoute(netip.MustParseAddr("192.168.2.0"), 33),
			wantErr: true,
		},
		{
			name:    "negative prefix",
			route:   NewRoute(netip.MustParseAddr("192.168.2.0"), -1),
			wantErr: true,
		},
		{
			name: "gateway family mismatch",
			route: NewRoute(netip.MustParseAddr("192.168.2.0"), 24).
				WithGateway(netip.MustParseAddr("2001:db8::1")),
			wantErr: true,
		},
		{
			name: "preferred source family mismatch",
			route: NewRoute(netip.MustParseAddr("2001:db8::"), 64).
				WithPrefSource(netip.MustParseAddr("192.168.1.5")),
			wantErr: true,
		},
		{
			name: "unknown interface name",
			route: NewRoute(netip.MustParseAddr("192.168.2.0"), 24).
				WithIfName("no-such-interface-xyz"),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.route.Validate()
			if tt.wantErr && err == nil {
				t.Errorf("Expected validation error for %s", tt.route)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Unexpected validation error: %v", err)
			}
			if tt.wantErr && err != nil && !errors.Is(err, ErrInvalidRoute) {
				t.Errorf("Validation error should wrap ErrInvalidRoute, got %v", err)
			}
		})
	}
}

func TestRouteNetworkAndMask(t *testing.T) {
	r := NewRoute(netip.MustParseAddr("192.168.2.77"), 24)

	if got := r.Network(); got != netip.MustParseAddr("192.168.2.0") {
		t.Errorf("Expected network 192.168.2.0, got %v", got)
	}
	if got := r.Mask(); got != netip.MustParseAddr("255.255.255.0") {
		t.Errorf("Expected mask 255.255.255.0, got %v", got)
	}

	v6 := NewRoute(netip.MustParseAddr("2001:db8:abcd::1"), 48)
	if got := v6.Network(); got != netip.MustParseAddr("2001:db8:abcd::") {
		t.Errorf("Expected network 2001:db8:abcd::, got %v", got)
	}
}

func TestRouteContains(t *testing.T) {
	r := NewRoute(netip.MustParseAddr("192.168.2.0"), 24)

	tests := []struct {
		addr string
		want bool
	}{
		{"192.168.2.1", true},
		{"192.168.2.255", true},
		{"192.168.3.1", false},
		{"10.0.0.1", false},
		{"2001:db8::1", false}, // wrong family
	}
	for _, tt := range tests {
		if got := r.Contains(netip.MustParseAddr(tt.addr)); got != tt.want {
			t.Errorf("Contains(%s) = %v, want %v", tt.addr, got, tt.want)
		}
	}

	def := NewRoute(netip.MustParseAddr("0.0.0.0"), 0)
	if !def.Contains(netip.MustParseAddr("8.8.8.8")) {
		t.Error("Default route should contain every v4 address")
	}
}

func TestFindRoute(t *testing.T) {
	routes := []Route{
		NewRoute(netip.MustParseAddr("0.0.0.0"), 0).WithGateway(netip.MustParseAddr("192.168.1.1")),
		NewRoute(netip.MustParseAddr("192.168.0.0"), 16),
		NewRoute(netip.MustParseAddr("192.168.2.0"), 24).WithMetric(200),
		NewRoute(netip.MustParseAddr("192.168.2.0"), 24).WithMetric(100),
	}

	got, err := findRoute(routes, netip.MustParseAddr("192.168.2.50"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got.PrefixLen() != 24 {
		t.Errorf("Expected the /24 to win, got /%d", got.PrefixLen())
	}
	if metric, _ := got.Metric(); metric != 100 {
		t.Errorf("Expected metric 100 to win the tie, got %d", metric)
	}

	got, err = findRoute(routes, netip.MustParseAddr("10.1.2.3"))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got.PrefixLen() != 0 {
		t.Errorf("Expected the default route, got %s", got)
	}

	_, err = findRoute(nil, netip.MustParseAddr("10.1.2.3"))
	if !errors.Is(err, ErrRouteNotFound) {
		t.Errorf("Expected ErrRouteNotFound on an empty table, got %v", err)
	}
}

func TestRouteString(t *testing.T) {
	r := NewRoute(netip.MustParseAddr("192.168.2.0"), 24).
		WithGateway(netip.MustParseAddr("192.168.1.1")).
		WithIfName("eth0").
		WithMetric(50)

	want := "192.168.2.0/24 via 192.168.1.1 dev eth0 metric 50"
	if got := r.String(); got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}

	bare := NewRoute(netip.MustParseAddr("10.0.0.0"), 8)
	if got := bare.String(); got != "10.0.0.0/8" {
		t.Errorf("Expected %q, got %q", "10.0.0.0/8", got)
	}
}

func TestMaskClampsOutOfRangePrefix(t *testing.T) {
	// Kernel-decoded values reach accessors before any Validate call,
	// so an out-of-range prefix must degrade instead of panicking.
	tests := []struct {
		dst       string
		prefixLen int
		want      string
	}{
		{"192.168.2.0", 40, "255.255.255.255"},
		{"192.168.2.0", -1, "0.0.0.0"},
		{"2001:db8::", 200, "ffff:ffff:ffff:ffff:ffff:ffff:ffff:ffff"},
		{"2001:db8::", -1, "::"},
	}
	for _, tc := range tests {
		r := NewRoute(netip.MustParseAddr(tc.dst), tc.prefixLen)
		if got := r.Mask(); got != netip.MustParseAddr(tc.want) {
			t.Errorf("NewRoute(%s, %d).Mask() = %s, want %s", tc.dst, tc.prefixLen, got, tc.want)
		}
	}
}
