//go:build darwin || freebsd || openbsd

// Package rtsock speaks the PF_ROUTE routing-socket protocol shared by
// macOS and the BSDs: encoding rt_msghdr messages with their
// bitmask-ordered sockaddr chain, decoding kernel replies and monitor
// traffic, and fetching the routing table via sysctl.
//
// The sockaddr chain is the tricky part. Each address is padded to a
// per-OS boundary, a zero sa_len still consumes one padding slot, and
// netmask sockaddrs arrive truncated to their significant bytes with a
// junk family field. Decoding interprets the netmask positionally,
// against the destination's family.
package rtsock

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ErrMalformed reports a routing-socket message that could not be
// decoded: truncated header, a length field past the buffer, or a
// sockaddr chain that does not add up.
var ErrMalformed = errors.New("rtsock: malformed message")

// RouteInfo is the wire-neutral form of one routing-table entry.
type RouteInfo struct {
	Dst       netip.Addr
	PrefixLen int
	Gateway   netip.Addr
	IfIndex   int
}

// Message is one decoded routing-socket message.
type Message struct {
	Type  uint8
	Flags int32
	Index uint16
	Pid   int32
	Seq   int32
	Errno int32

	Route    RouteInfo
	HasRoute bool
}

// saRoundup rounds a sockaddr length up to the platform boundary. A zero
// sa_len still occupies one boundary slot.
func saRoundup(n int) int {
	if n == 0 {
		return saAlignTo
	}
	return (n + saAlignTo - 1) &^ (saAlignTo - 1)
}

// Marshal frames one request: rt_msghdr followed by the DST, GATEWAY and
// NETMASK sockaddrs in RTAX order. The gateway slot carries either the
// next-hop address or, for interface routes, a sockaddr_dl naming the
// outbound interface.
func (ri *RouteInfo) Marshal(msgType uint8, seq int32) ([]byte, error) {
	if !ri.Dst.IsValid() {
		return nil, fmt.Errorf("%w: request without destination", ErrMalformed)
	}

	var hdr unix.RtMsghdr
	hdr.Version = unix.RTM_VERSION
	hdr.Type = msgType
	hdr.Seq = seq
	hdr.Flags = unix.RTF_UP | unix.RTF_STATIC
	hdr.Addrs = unix.RTA_DST | unix.RTA_NETMASK
	hdr.Index = uint16(ri.IfIndex)

	host := ri.PrefixLen == ri.Dst.BitLen()
	if host {
		hdr.Flags |= unix.RTF_HOST
	}

	buf := make([]byte, unix.SizeofRtMsghdr, unix.SizeofRtMsghdr+4*unix.SizeofSockaddrInet6)
	buf = appendInetAddr(buf, ri.Dst, ri.IfIndex)

	switch {
	case ri.Gateway.IsValid():
		hdr.Addrs |= unix.RTA_GATEWAY
		hdr.Flags |= unix.RTF_GATEWAY
		buf = appendInetAddr(buf, ri.Gateway, ri.IfIndex)
	case ri.IfIndex != 0:
		hdr.Addrs |= unix.RTA_GATEWAY
		buf = appendLinkAddr(buf, ri.IfIndex)
	}

	buf = appendNetmask(buf, ri.Dst, ri.PrefixLen)

	hdr.Msglen = uint16(len(buf))
	finalizeHdr(&hdr)
	copy(buf[:unix.SizeofRtMsghdr], (*[unix.SizeofRtMsghdr]byte)(unsafe.Pointer(&hdr))[:])
	return buf, nil
}

// ParseMessage decodes one routing-socket message. Messages carrying a
// foreign rtm_version are rejected rather than misread.
func ParseMessage(b []byte) (*Message, error) {
	if len(b) < unix.SizeofRtMsghdr {
		return nil, fmt.Errorf("%w: %d-byte header", ErrMalformed, len(b))
	}
	hdr := (*unix.RtMsghdr)(unsafe.Pointer(&b[0]))
	if hdr.Version != unix.RTM_VERSION {
		return nil, fmt.Errorf("%w: rtm_version %d", ErrMalformed, hdr.Version)
	}
	msglen := int(hdr.Msglen)
	if msglen < unix.SizeofRtMsghdr || msglen > len(b) {
		return nil, fmt.Errorf("%w: header claims %d of %d bytes", ErrMalformed, msglen, len(b))
	}

	m := &Message{
		Type:  hdr.Type,
		Flags: int32(hdr.Flags),
		Index: hdr.Index,
		Pid:   int32(hdr.Pid),
		Seq:   hdr.Seq,
		Errno: hdr.Errno,
	}

	off := payloadOffset(hdr)
	if off > msglen {
		return nil, fmt.Errorf("%w: payload offset %d past message", ErrMalformed, off)
	}
	raw, err := splitSockaddrs(int(hdr.Addrs), b[off:msglen])
	if err != nil {
		return nil, err
	}

	dstRaw := raw[unix.RTAX_DST]
	if dstRaw == nil {
		return m, nil
	}
	dst, dstScope, err := parseInetAddr(dstRaw)
	if err != nil {
		return nil, err
	}
	if !dst.IsValid() {
		// Not an inet destination (AF_LINK etc.); nothing to report.
		return m, nil
	}

	m.HasRoute = true
	m.Route.Dst = dst
	m.Route.IfIndex = int(hdr.Index)
	if m.Route.IfIndex == 0 {
		m.Route.IfIndex = dstScope
	}

	if gwRaw := raw[unix.RTAX_GATEWAY]; gwRaw != nil {
		if len(gwRaw) >= 2 && gwRaw[1] == unix.AF_LINK {
			if idx := linkIndex(gwRaw); idx != 0 {
				m.Route.IfIndex = idx
			}
		} else {
			gw, gwScope, err := parseInetAddr(gwRaw)
			if err != nil {
				return nil, err
			}
			m.Route.Gateway = gw
			if m.Route.IfIndex == 0 {
				m.Route.IfIndex = gwScope
			}
		}
	}

	switch {
	case hdr.Flags&unix.RTF_HOST != 0:
		m.Route.PrefixLen = dst.BitLen()
	default:
		m.Route.PrefixLen = maskToPrefix(raw[unix.RTAX_NETMASK], dst)
	}
	return m, nil
}

// splitSockaddrs slices the sockaddr chain by the rtm_addrs bitmask,
// returning the raw bytes of each present RTAX slot.
func splitSockaddrs(addrs int, b []byte) ([unix.RTAX_MAX][]byte, error) {
	var raw [unix.RTAX_MAX][]byte
	for i := 0; i < unix.RTAX_MAX; i++ {
		if addrs&(1<<uint(i)) == 0 {
			continue
		}
		if len(b) == 0 {
			return raw, fmt.Errorf("%w: sockaddr chain shorter than rtm_addrs", ErrMalformed)
		}
		saLen := int(b[0])
		if saLen > len(b) {
			return raw, fmt.Errorf("%w: sockaddr claims %d of %d bytes", ErrMalformed, saLen, len(b))
		}
		raw[i] = b[:saLen:saLen]
		advance := saRoundup(saLen)
		if advance >= len(b) {
			b = nil
		} else {
			b = b[advance:]
		}
	}
	return raw, nil
}

// parseInetAddr decodes an AF_INET/AF_INET6 sockaddr. For link-local
// IPv6 addresses the KAME kernels embed the scope id in address bytes
// 2..4; it is extracted and scrubbed so callers see a clean address.
// Non-inet families return the zero Addr without error.
func parseInetAddr(b []byte) (netip.Addr, int, error) {
	if len(b) == 0 {
		return netip.Addr{}, 0, nil
	}
	if len(b) < 2 {
		return netip.Addr{}, 0, fmt.Errorf("%w: %d-byte sockaddr", ErrMalformed, len(b))
	}
	switch b[1] {
	case unix.AF_INET:
		if len(b) < unix.SizeofSockaddrInet4 {
			return netip.Addr{}, 0, fmt.Errorf("%w: short sockaddr_in", ErrMalformed)
		}
		sa := (*unix.RawSockaddrInet4)(unsafe.Pointer(&b[0]))
		return netip.AddrFrom4(sa.Addr), 0, nil
	case unix.AF_INET6:
		if len(b) < unix.SizeofSockaddrInet6 {
			return netip.Addr{}, 0, fmt.Errorf("%w: short sockaddr_in6", ErrMalformed)
		}
		sa := (*unix.RawSockaddrInet6)(unsafe.Pointer(&b[0]))
		addrBytes := sa.Addr
		scope := int(sa.Scope_id)
		if addrBytes[0] == 0xfe && addrBytes[1]&0xc0 == 0x80 {
			if embedded := int(binary.BigEndian.Uint16(addrBytes[2:4])); embedded != 0 {
				scope = embedded
				addrBytes[2], addrBytes[3] = 0, 0
			}
		}
		return netip.AddrFrom16(addrBytes), scope, nil
	default:
		return netip.Addr{}, 0, nil
	}
}

// linkIndex pulls the interface index out of a sockaddr_dl.
func linkIndex(b []byte) int {
	if len(b) < 4 {
		return 0
	}
	sa := (*unix.RawSockaddrDatalink)(unsafe.Pointer(&b[0]))
	return int(sa.Index)
}

// maskToPrefix converts a netmask sockaddr to a prefix length. Netmask
// sockaddrs are positional: the family field is unreliable and the
// address bytes may be truncated at the last nonzero byte. A zero sa_len
// means /0 by routing-socket convention.
func maskToPrefix(b []byte, dst netip.Addr) int {
	if len(b) == 0 || b[0] == 0 {
		return 0
	}
	addrOff := 4 // offsetof(sockaddr_in.sin_addr)
	maxBits := 32
	if dst.Is6() {
		addrOff = 8 // offsetof(sockaddr_in6.sin6_addr)
		maxBits = 128
	}
	saLen := int(b[0])
	if saLen > len(b) {
		saLen = len(b)
	}
	bits := 0
	for i := addrOff; i < saLen && bits < maxBits; i++ {
		switch v := b[i]; {
		case v == 0xff:
			bits += 8
		default:
			for mask := byte(0x80); mask != 0 && v&mask != 0; mask >>= 1 {
				bits++
			}
			return bits
		}
	}
	return bits
}

// appendInetAddr encodes one inet sockaddr, padded to the platform
// boundary. Link-local IPv6 addresses get the scope id embedded the way
// the kernel expects.
func appendInetAddr(buf []byte, addr netip.Addr, ifIndex int) []byte {
	if addr.Is4() {
		sa := unix.RawSockaddrInet4{
			Len:    unix.SizeofSockaddrInet4,
			Family: unix.AF_INET,
			Addr:   addr.As4(),
		}
		return appendPadded(buf, (*[unix.SizeofSockaddrInet4]byte)(unsafe.Pointer(&sa))[:])
	}
	sa := unix.RawSockaddrInet6{
		Len:    unix.SizeofSockaddrInet6,
		Family: unix.AF_INET6,
		Addr:   addr.As16(),
	}
	if addr.IsLinkLocalUnicast() && ifIndex != 0 {
		binary.BigEndian.PutUint16(sa.Addr[2:4], uint16(ifIndex))
	}
	return appendPadded(buf, (*[unix.SizeofSockaddrInet6]byte)(unsafe.Pointer(&sa))[:])
}

// appendLinkAddr encodes a sockaddr_dl naming an interface by index,
// used as the gateway of interface-scoped routes.
func appendLinkAddr(buf []byte, ifIndex int) []byte {
	sa := unix.RawSockaddrDatalink{
		Len:    unix.SizeofSockaddrDatalink,
		Family: unix.AF_LINK,
		Index:  uint16(ifIndex),
	}
	return appendPadded(buf, (*[unix.SizeofSockaddrDatalink]byte)(unsafe.Pointer(&sa))[:])
}

func appendNetmask(buf []byte, dst netip.Addr, prefixLen int) []byte {
	mask := maskAddr(dst, prefixLen)
	return appendInetAddr(buf, mask, 0)
}

func appendPadded(buf, sa []byte) []byte {
	buf = append(buf, sa...)
	for pad := saRoundup(len(sa)) - len(sa); pad > 0; pad-- {
		buf = append(buf, 0)
	}
	return buf
}

func maskAddr(dst netip.Addr, prefixLen int) netip.Addr {
	if dst.Is4() {
		var m uint32
		if prefixLen > 0 {
			m = ^uint32(0) << (32 - prefixLen)
		}
		return netip.AddrFrom4([4]byte{byte(m >> 24), byte(m >> 16), byte(m >> 8), byte(m)})
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
