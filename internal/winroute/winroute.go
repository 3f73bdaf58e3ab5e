//go:build windows

// Package winroute wraps the IP Helper forwarding-table API: creating
// and deleting MIB_IPFORWARD_ROW2 entries, dumping the table, and
// registering for change notifications.
//
// The row structures are declared with their exact memory layout and
// passed straight to iphlpapi.dll; there is no wire format to frame,
// only fixed structs to fill.
package winroute

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

// ErrMalformed reports a table row that could not be interpreted, such
// as an address family this package does not speak.
var ErrMalformed = errors.New("winroute: malformed row")

var (
	modiphlpapi = windows.NewLazySystemDLL("iphlpapi.dll")

	procInitializeIpForwardEntry = modiphlpapi.NewProc("InitializeIpForwardEntry")
	procCreateIpForwardEntry2    = modiphlpapi.NewProc("CreateIpForwardEntry2")
	procDeleteIpForwardEntry2    = modiphlpapi.NewProc("DeleteIpForwardEntry2")
	procGetIpForwardTable2       = modiphlpapi.NewProc("GetIpForwardTable2")
	procFreeMibTable             = modiphlpapi.NewProc("FreeMibTable")
	procNotifyRouteChange2       = modiphlpapi.NewProc("NotifyRouteChange2")
	procCancelMibChangeNotify2   = modiphlpapi.NewProc("CancelMibChangeNotify2")
)

// RouteInfo is the wire-neutral form of one forwarding-table row.
type RouteInfo struct {
	Dst       netip.Addr
	PrefixLen int
	Gateway   netip.Addr
	IfIndex   int
	Luid      uint64
	Metric    uint32
	HasMetric bool
}

// sockaddrInet mirrors SOCKADDR_INET: a union of sockaddr_in and
// sockaddr_in6 discriminated by the leading family field.
type sockaddrInet struct {
	Family uint16
	data   [26]byte
}

func (sa *sockaddrInet) setAddr(addr netip.Addr) {
	*sa = sockaddrInet{}
	if !addr.IsValid() {
		return
	}
	if addr.Is4() {
		sa.Family = windows.AF_INET
		a4 := addr.As4()
		copy(sa.data[2:6], a4[:]) // sin_addr follows sin_port
		return
	}
	sa.Family = windows.AF_INET6
	a16 := addr.As16()
	copy(sa.data[6:22], a16[:]) // sin6_addr follows sin6_port, sin6_flowinfo
}

// setScope fills sin6_scope_id; link-local next hops need it to name
// their interface.
func (sa *sockaddrInet) setScope(scope uint32) {
	if sa.Family == windows.AF_INET6 {
		binary.LittleEndian.PutUint32(sa.data[22:26], scope)
	}
}

// addr decodes the union. An AF_UNSPEC slot (an on-link next hop) is the
// zero Addr, not an error.
func (sa *sockaddrInet) addr() (netip.Addr, error) {
	switch sa.Family {
	case windows.AF_UNSPEC:
		return netip.Addr{}, nil
	case windows.AF_INET:
		return netip.AddrFrom4([4]byte(sa.data[2:6])), nil
	case windows.AF_INET6:
		// The scope id after the address bytes duplicates the row's
		// interface index; the address alone is what callers need.
		return netip.AddrFrom16([16]byte(sa.data[6:22])), nil
	default:
		return netip.Addr{}, fmt.Errorf("%w: address family %d", ErrMalformed, sa.Family)
	}
}

// ipAddressPrefix mirrors IP_ADDRESS_PREFIX.
type ipAddressPrefix struct {
	Prefix       sockaddrInet
	PrefixLength uint8
	_            [3]byte
}

// Row mirrors MIB_IPFORWARD_ROW2 byte for byte. Rows cross into
// iphlpapi.dll by pointer, so field order and padding are load-bearing.
type Row struct {
	InterfaceLuid        uint64
	InterfaceIndex       uint32
	DestinationPrefix    ipAddressPrefix
	NextHop              sockaddrInet
	SitePrefixLength     uint8
	_                    [3]byte
	ValidLifetime        uint32
	PreferredLifetime    uint32
	Metric               uint32
	Protocol             uint32
	Loopback             uint8
	AutoconfigureAddress uint8
	Publish              uint8
	Immortal             uint8
	Age                  uint32
	Origin               uint32
}

// nlRouteProtocolNetMgmt marks administratively added routes.
const nlRouteProtocolNetMgmt = 3

// newRow asks iphlpapi to initialize the defaults, then overlays the
// fields the route specifies.
func newRow(ri *RouteInfo) (*Row, error) {
	var row Row
	procInitializeIpForwardEntry.Call(uintptr(unsafe.Pointer(&row)))

	if ri.Luid != 0 {
		row.InterfaceLuid = ri.Luid
	}
	row.InterfaceIndex = uint32(ri.IfIndex)
	if row.InterfaceLuid == 0 && row.InterfaceIndex == 0 {
		return nil, fmt.Errorf("%w: route binds no interface", ErrMalformed)
	}
	row.DestinationPrefix.Prefix.setAddr(ri.Dst)
	row.DestinationPrefix.PrefixLength = uint8(ri.PrefixLen)
	row.NextHop.setAddr(ri.Gateway)
	if ri.Gateway.Is6() && ri.Gateway.IsLinkLocalUnicast() {
		row.NextHop.setScope(uint32(ri.IfIndex))
	}
	if !ri.Gateway.IsValid() {
		// An on-link route still needs a next-hop slot of the
		// destination's family.
		if ri.Dst.Is4() {
			row.NextHop.setAddr(netip.IPv4Unspecified())
		} else {
			row.NextHop.setAddr(netip.IPv6Unspecified())
		}
	}
	if ri.HasMetric {
		row.Metric = ri.Metric
	}
	row.Protocol = nlRouteProtocolNetMgmt
	return &row, nil
}

func callStatus(ret uintptr) error {
	if ret == 0 {
		return nil
	}
	return syscall.Errno(ret)
}

// Create inserts one forwarding entry.
func Create(ri *RouteInfo) error {
	row, err := newRow(ri)
	if err != nil {
		return err
	}
	ret, _, _ := procCreateIpForwardEntry2.Call(uintptr(unsafe.Pointer(row)))
	return callStatus(ret)
}

// Delete removes the entry identified by interface, destination prefix
// and next hop.
func Delete(ri *RouteInfo) error {
	row, err := newRow(ri)
	if err != nil {
		return err
	}
	ret, _, _ := procDeleteIpForwardEntry2.Call(uintptr(unsafe.Pointer(row)))
	return callStatus(ret)
}

// List dumps the forwarding table for both address families.
func List() ([]RouteInfo, error) {
	var table *mibIPforwardTable2
	ret, _, _ := procGetIpForwardTable2.Call(
		uintptr(windows.AF_UNSPEC),
		uintptr(unsafe.Pointer(&table)),
	)
	if err := callStatus(ret); err != nil {
		return nil, err
	}
	defer procFreeMibTable.Call(uintptr(unsafe.Pointer(table)))

	rows := unsafe.Slice(&table.firstRow, table.NumEntries)
	routes := make([]RouteInfo, 0, len(rows))
	for i := range rows {
		ri, err := fromRow(&rows[i])
		if err != nil {
			return nil, err
		}
		routes = append(routes, ri)
	}
	return routes, nil
}

// mibIPforwardTable2 mirrors MIB_IPFORWARD_TABLE2. Only the first row is
// declared; the rest are addressed through unsafe.Slice.
type mibIPforwardTable2 struct {
	NumEntries uint32
	_          [4]byte
	firstRow   Row
}

func fromRow(row *Row) (RouteInfo, error) {
	dst, err := row.DestinationPrefix.Prefix.addr()
	if err != nil {
		return RouteInfo{}, err
	}
	if dst.IsValid() && int(row.DestinationPrefix.PrefixLength) > dst.BitLen() {
		return RouteInfo{}, fmt.Errorf("%w: prefix length %d for %s",
			ErrMalformed, row.DestinationPrefix.PrefixLength, dst)
	}
	gw, err := row.NextHop.addr()
	if err != nil {
		return RouteInfo{}, err
	}
	ri := RouteInfo{
		Dst:       dst,
		PrefixLen: int(row.DestinationPrefix.PrefixLength),
		IfIndex:   int(row.InterfaceIndex),
		Luid:      row.InterfaceLuid,
		Metric:    row.Metric,
		HasMetric: true,
	}
	if gw.IsValid() && !gw.IsUnspecified() {
		ri.Gateway = gw
	}
	return ri, nil
}
