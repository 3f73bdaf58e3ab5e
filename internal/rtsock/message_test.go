//go:build darwin || freebsd || openbsd

package rtsock

import (
	"errors"
	"net/netip"
	"testing"

	"golang.org/x/sys/unix"
)

func TestMarshalParseRoundTrip(t *testing.T) {
	in := RouteInfo{
		Dst:       netip.MustParseAddr("192.168.2.0"),
		PrefixLen: 24,
		Gateway:   netip.MustParseAddr("192.168.1.1"),
	}
	buf, err := in.Marshal(unix.RTM_ADD, 9)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	m, err := ParseMessage(buf)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if m.Type != unix.RTM_ADD || m.Seq != 9 {
		t.Errorf("Header lost: type=%d seq=%d", m.Type, m.Seq)
	}
	if !m.HasRoute {
		t.Fatal("Expected a decoded route")
	}
	if m.Route.Dst != in.Dst || m.Route.PrefixLen != 24 {
		t.Errorf("Destination lost: %v/%d", m.Route.Dst, m.Route.PrefixLen)
	}
	if m.Route.Gateway != in.Gateway {
		t.Errorf("Gateway lost: %v", m.Route.Gateway)
	}
	if m.Flags&unix.RTF_GATEWAY == 0 {
		t.Error("Expected RTF_GATEWAY on a gatewayed route")
	}
}

func TestMarshalHostRoute(t *testing.T) {
	in := RouteInfo{
		Dst:       netip.MustParseAddr("10.0.0.5"),
		PrefixLen: 32,
		Gateway:   netip.MustParseAddr("10.0.0.1"),
	}
	buf, err := in.Marshal(unix.RTM_ADD, 1)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	m, err := ParseMessage(buf)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if m.Flags&unix.RTF_HOST == 0 {
		t.Error("Expected RTF_HOST on a full-length prefix")
	}
	if m.Route.PrefixLen != 32 {
		t.Errorf("Expected /32, got /%d", m.Route.PrefixLen)
	}
}

func TestMarshalInterfaceRoute(t *testing.T) {
	in := RouteInfo{
		Dst:       netip.MustParseAddr("192.168.5.0"),
		PrefixLen: 24,
		IfIndex:   3,
	}
	buf, err := in.Marshal(unix.RTM_ADD, 2)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	m, err := ParseMessage(buf)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if m.Route.Gateway.IsValid() {
		t.Errorf("Interface route should have no inet gateway, got %v", m.Route.Gateway)
	}
	if m.Route.IfIndex != 3 {
		t.Errorf("Expected interface index 3, got %d", m.Route.IfIndex)
	}
}

func TestMarshalV6RoundTrip(t *testing.T) {
	in := RouteInfo{
		Dst:       netip.MustParseAddr("2001:db8:abcd::"),
		PrefixLen: 48,
		Gateway:   netip.MustParseAddr("2001:db8::1"),
	}
	buf, err := in.Marshal(unix.RTM_ADD, 3)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	m, err := ParseMessage(buf)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if m.Route.Dst != in.Dst || m.Route.PrefixLen != 48 {
		t.Errorf("Destination lost: %v/%d", m.Route.Dst, m.Route.PrefixLen)
	}
	if m.Route.Gateway != in.Gateway {
		t.Errorf("Gateway lost: %v", m.Route.Gateway)
	}
}

func TestLinkLocalScopeScrubbed(t *testing.T) {
	in := RouteInfo{
		Dst:       netip.MustParseAddr("2001:db8::"),
		PrefixLen: 64,
		Gateway:   netip.MustParseAddr("fe80::1"),
		IfIndex:   4,
	}
	buf, err := in.Marshal(unix.RTM_ADD, 4)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	m, err := ParseMessage(buf)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	// The scope id was embedded into the address bytes on encode; decode
	// must hand back the clean address and surface the index.
	if m.Route.Gateway != in.Gateway {
		t.Errorf("Expected scrubbed gateway %v, got %v", in.Gateway, m.Route.Gateway)
	}
	if m.Route.IfIndex != 4 {
		t.Errorf("Expected interface index 4, got %d", m.Route.IfIndex)
	}
}

func TestParseMessageMalformed(t *testing.T) {
	if _, err := ParseMessage([]byte{1, 2, 3}); !errors.Is(err, ErrMalformed) {
		t.Errorf("Short buffer should be ErrMalformed, got %v", err)
	}

	in := RouteInfo{Dst: netip.MustParseAddr("10.0.0.0"), PrefixLen: 8}
	buf, err := in.Marshal(unix.RTM_ADD, 1)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	buf[2] = 0xee // rtm_version
	if _, err := ParseMessage(buf); !errors.Is(err, ErrMalformed) {
		t.Errorf("Foreign rtm_version should be ErrMalformed, got %v", err)
	}
}

func TestSaRoundup(t *testing.T) {
	if got := saRoundup(0); got != saAlignTo {
		t.Errorf("A zero sa_len still consumes one slot, got %d", got)
	}
	if got := saRoundup(1); got != saAlignTo {
		t.Errorf("saRoundup(1) = %d, want %d", got, saAlignTo)
	}
	if got := saRoundup(saAlignTo); got != saAlignTo {
		t.Errorf("saRoundup(%d) = %d, want %d", saAlignTo, got, saAlignTo)
	}
}

func TestMaskToPrefixTruncated(t *testing.T) {
	dst := netip.MustParseAddr("192.168.2.0")

	// Kernels truncate netmask sockaddrs after the last nonzero byte:
	// sa_len 7 covers offset 4..7, i.e. the first three mask bytes.
	truncated := []byte{7, 0, 0, 0, 0xff, 0xff, 0xff}
	if got := maskToPrefix(truncated, dst); got != 24 {
		t.Errorf("Expected /24 from a truncated mask, got /%d", got)
	}

	// A zero sa_len means /0 by routing-socket convention.
	if got := maskToPrefix([]byte{0}, dst); got != 0 {
		t.Errorf("Expected /0 from a zero-length mask, got /%d", got)
	}
	if got := maskToPrefix(nil, dst); got != 0 {
		t.Errorf("Expected /0 from a missing mask, got /%d", got)
	}

	// Non-octet-aligned prefix.
	partial := []byte{8, 0, 0, 0, 0xff, 0xff, 0xff, 0xc0}
	if got := maskToPrefix(partial, dst); got != 26 {
		t.Errorf("Expected /26, got /%d", got)
	}
}

func TestSplitSockaddrsShortChain(t *testing.T) {
	_, err := splitSockaddrs(unix.RTA_DST|unix.RTA_GATEWAY, []byte{16, 2, 0, 0})
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("Sockaddr claiming bytes past the buffer should be ErrMalformed, got %v", err)
	}
}
