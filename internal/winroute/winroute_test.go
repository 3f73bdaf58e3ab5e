//go:build windows

package winroute

import (
	"errors"
	"net/netip"
	"testing"
	"unsafe"
)

// TestRowLayout pins the struct layout to the MIB_IPFORWARD_ROW2
// declaration in netioapi.h. iphlpapi reads these offsets directly.
func TestRowLayout(t *testing.T) {
	var row Row
	checks := []struct {
		name string
		got  uintptr
		want uintptr
	}{
		{"InterfaceIndex", unsafe.Offsetof(row.InterfaceIndex), 8},
		{"DestinationPrefix", unsafe.Offsetof(row.DestinationPrefix), 12},
		{"NextHop", unsafe.Offsetof(row.NextHop), 44},
		{"SitePrefixLength", unsafe.Offsetof(row.SitePrefixLength), 72},
		{"ValidLifetime", unsafe.Offsetof(row.ValidLifetime), 76},
		{"Metric", unsafe.Offsetof(row.Metric), 84},
		{"Protocol", unsafe.Offsetof(row.Protocol), 88},
		{"Age", unsafe.Offsetof(row.Age), 96},
		{"Origin", unsafe.Offsetof(row.Origin), 100},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("Offsetof(%s) = %d, want %d", c.name, c.got, c.want)
		}
	}
	if size := unsafe.Sizeof(row); size != 104 {
		t.Errorf("Sizeof(Row) = %d, want 104", size)
	}
	if size := unsafe.Sizeof(sockaddrInet{}); size != 28 {
		t.Errorf("Sizeof(sockaddrInet) = %d, want 28", size)
	}
}

func TestSockaddrInetRoundTrip(t *testing.T) {
	tests := []string{"192.168.2.1", "2001:db8::1", "fe80::1"}
	for _, s := range tests {
		in := netip.MustParseAddr(s)
		var sa sockaddrInet
		sa.setAddr(in)
		out, err := sa.addr()
		if err != nil {
			t.Fatalf("addr(%s): %v", s, err)
		}
		if out != in {
			t.Errorf("Round trip of %s gave %s", in, out)
		}
	}

	var unspec sockaddrInet
	out, err := unspec.addr()
	if err != nil {
		t.Fatalf("AF_UNSPEC should decode cleanly: %v", err)
	}
	if out.IsValid() {
		t.Errorf("AF_UNSPEC should be the zero Addr, got %v", out)
	}
}

func TestFromRowPrefixOutOfRange(t *testing.T) {
	var row Row
	row.DestinationPrefix.Prefix.setAddr(netip.MustParseAddr("192.168.2.0"))
	row.DestinationPrefix.PrefixLength = 200
	if _, err := fromRow(&row); !errors.Is(err, ErrMalformed) {
		t.Errorf("PrefixLength 200 on a v4 row should be ErrMalformed, got %v", err)
	}

	row.DestinationPrefix.PrefixLength = 24
	if _, err := fromRow(&row); err != nil {
		t.Errorf("PrefixLength 24 on a v4 row should convert, got %v", err)
	}
}

func TestNotifierDropsWhenLagging(t *testing.T) {
	n := &Notifier{ch: make(chan Change, 1)}
	notifyMu.Lock()
	nextNotify++
	n.id = nextNotify
	notifiers[n.id] = n
	notifyMu.Unlock()
	defer func() {
		notifyMu.Lock()
		delete(notifiers, n.id)
		notifyMu.Unlock()
	}()

	routeChanged(n.id, 0, NotifyAddInstance)
	routeChanged(n.id, 0, NotifyAddInstance)

	if got := n.Dropped(); got != 1 {
		t.Errorf("Dropped() = %d, want 1", got)
	}
	select {
	case c := <-n.ch:
		if c.Type != NotifyAddInstance || c.HasRow {
			t.Errorf("Unexpected change %+v", c)
		}
	default:
		t.Error("First notification was not delivered")
	}
}
