//go:build linux

package netlink

import (
	"fmt"
	"net/netip"

	"golang.org/x/sys/unix"
)

// RouteInfo is the wire-neutral form of one kernel route: the rtmsg
// header fields plus the attributes this package knows how to carry.
type RouteInfo struct {
	Family   uint8
	DstLen   uint8
	SrcLen   uint8
	Table    uint8
	Protocol uint8
	Scope    uint8
	Type     uint8
	Flags    uint32

	Dst     netip.Addr
	Gateway netip.Addr
	Src     netip.Addr
	PrefSrc netip.Addr

	OifIndex uint32

	Priority    uint32
	HasPriority bool
}

// Marshal encodes the rtmsg body followed by one attribute per set field.
func (ri *RouteInfo) Marshal() []byte {
	body := make([]byte, rtMsgLen)
	body[0] = ri.Family
	body[1] = ri.DstLen
	body[2] = ri.SrcLen
	// body[3] is TOS, always zero.
	body[4] = ri.Table
	body[5] = ri.Protocol
	body[6] = ri.Scope
	body[7] = ri.Type
	// bytes 8..12 are rtm_flags, always zero.

	var attrs attrBuilder
	if ri.Dst.IsValid() {
		attrs.addBytes(unix.RTA_DST, ri.Dst.AsSlice())
	}
	if ri.Gateway.IsValid() {
		attrs.addBytes(unix.RTA_GATEWAY, ri.Gateway.AsSlice())
	}
	if ri.Src.IsValid() {
		attrs.addBytes(unix.RTA_SRC, ri.Src.AsSlice())
	}
	if ri.PrefSrc.IsValid() {
		attrs.addBytes(unix.RTA_PREFSRC, ri.PrefSrc.AsSlice())
	}
	if ri.OifIndex != 0 {
		attrs.addUint32(unix.RTA_OIF, ri.OifIndex)
	}
	if ri.HasPriority {
		attrs.addUint32(unix.RTA_PRIORITY, ri.Priority)
	}
	return append(body, attrs.b...)
}

// ParseRouteInfo decodes one RTM_NEWROUTE/RTM_DELROUTE payload. Unknown
// attributes are skipped; addresses whose length does not match the
// address family are ErrMalformed.
func ParseRouteInfo(data []byte) (*RouteInfo, error) {
	if len(data) < rtMsgLen {
		return nil, fmt.Errorf("%w: short rtmsg body (%d bytes)", ErrMalformed, len(data))
	}
	ri := &RouteInfo{
		Family:   data[0],
		DstLen:   data[1],
		SrcLen:   data[2],
		Table:    data[4],
		Protocol: data[5],
		Scope:    data[6],
		Type:     data[7],
		Flags:    native.Uint32(data[8:12]),
	}
	maxBits := uint8(0)
	switch ri.Family {
	case unix.AF_INET:
		maxBits = 32
	case unix.AF_INET6:
		maxBits = 128
	}
	if maxBits > 0 && (ri.DstLen > maxBits || ri.SrcLen > maxBits) {
		return nil, fmt.Errorf("%w: prefix lengths %d/%d for family %d",
			ErrMalformed, ri.DstLen, ri.SrcLen, ri.Family)
	}

	var attrErr error
	err := forEachAttr(data[rtMsgLen:], func(typ uint16, value []byte) {
		if attrErr != nil {
			return
		}
		switch typ {
		case unix.RTA_DST:
			ri.Dst, attrErr = parseAddr(ri.Family, value)
		case unix.RTA_GATEWAY:
			ri.Gateway, attrErr = parseAddr(ri.Family, value)
		case unix.RTA_SRC:
			ri.Src, attrErr = parseAddr(ri.Family, value)
		case unix.RTA_PREFSRC:
			ri.PrefSrc, attrErr = parseAddr(ri.Family, value)
		case unix.RTA_OIF:
			if len(value) >= 4 {
				ri.OifIndex = native.Uint32(value[0:4])
			}
		case unix.RTA_PRIORITY:
			if len(value) >= 4 {
				ri.Priority = native.Uint32(value[0:4])
				ri.HasPriority = true
			}
		}
	})
	if err != nil {
		return nil, err
	}
	if attrErr != nil {
		return nil, attrErr
	}
	return ri, nil
}

func parseAddr(family uint8, value []byte) (netip.Addr, error) {
	switch family {
	case unix.AF_INET:
		if len(value) != 4 {
			return netip.Addr{}, fmt.Errorf("%w: %d-byte IPv4 address", ErrMalformed, len(value))
		}
	case unix.AF_INET6:
		if len(value) != 16 {
			return netip.Addr{}, fmt.Errorf("%w: %d-byte IPv6 address", ErrMalformed, len(value))
		}
	default:
		return netip.Addr{}, fmt.Errorf("%w: address for family %d", ErrMalformed, family)
	}
	addr, _ := netip.AddrFromSlice(value)
	return addr, nil
}
