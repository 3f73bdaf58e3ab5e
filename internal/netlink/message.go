//go:build linux

// Package netlink speaks the rtnetlink route protocol: framing and
// parsing of NETLINK_ROUTE messages, and a connection that correlates
// requests with their kernel responses.
//
// The codec is deliberately explicit about byte layout. Every length
// field coming from the kernel is validated against the remaining buffer
// before use, and unknown attribute types are skipped rather than
// rejected, since kernels freely add new ones.
package netlink

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ErrMalformed reports a kernel message that could not be decoded:
// truncated header, length field pointing past the buffer, or an
// attribute stream that does not add up.
var ErrMalformed = errors.New("netlink: malformed message")

// native is the host byte order; netlink is a host-order protocol.
var native = binary.NativeEndian

const (
	// nlmsgHdrLen is the fixed netlink header size: length, type, flags,
	// sequence, port id.
	nlmsgHdrLen = unix.SizeofNlMsghdr
	// rtMsgLen is the fixed rtmsg body size that follows the header on
	// route messages.
	rtMsgLen = unix.SizeofRtMsg
	// rtAttrHdrLen is the type-length prefix of one attribute.
	rtAttrHdrLen = unix.SizeofRtAttr
)

// nlmsgAlign rounds n up to the 4-byte netlink message boundary.
func nlmsgAlign(n int) int {
	return (n + unix.NLMSG_ALIGNTO - 1) &^ (unix.NLMSG_ALIGNTO - 1)
}

// rtaAlign rounds n up to the 4-byte attribute boundary.
func rtaAlign(n int) int {
	return (n + unix.RTA_ALIGNTO - 1) &^ (unix.RTA_ALIGNTO - 1)
}

// Message is one decoded netlink message: the fixed header plus its
// payload bytes (not including inter-message padding).
type Message struct {
	Header unix.NlMsghdr
	Data   []byte
}

// marshalRequest frames one request message. The length field is
// computed from the body, never hand-maintained.
func marshalRequest(typ, flags uint16, seq, pid uint32, body []byte) []byte {
	length := nlmsgHdrLen + len(body)
	buf := make([]byte, nlmsgAlign(length))
	native.PutUint32(buf[0:4], uint32(length))
	native.PutUint16(buf[4:6], typ)
	native.PutUint16(buf[6:8], flags)
	native.PutUint32(buf[8:12], seq)
	native.PutUint32(buf[12:16], pid)
	copy(buf[nlmsgHdrLen:], body)
	return buf
}

// ParseMessages splits one received datagram into its messages, in order.
// Kernels batch several messages per datagram; trailing zero padding is
// tolerated, anything else that does not frame cleanly is ErrMalformed.
func ParseMessages(buf []byte) ([]Message, error) {
	var msgs []Message
	for len(buf) > 0 {
		if len(buf) < nlmsgHdrLen {
			if allZero(buf) {
				break
			}
			return nil, fmt.Errorf("%w: %d trailing bytes", ErrMalformed, len(buf))
		}
		var hdr unix.NlMsghdr
		hdr.Len = native.Uint32(buf[0:4])
		hdr.Type = native.Uint16(buf[4:6])
		hdr.Flags = native.Uint16(buf[6:8])
		hdr.Seq = native.Uint32(buf[8:12])
		hdr.Pid = native.Uint32(buf[12:16])

		length := int(hdr.Len)
		if length < nlmsgHdrLen || length > len(buf) {
			return nil, fmt.Errorf("%w: header claims %d of %d bytes", ErrMalformed, length, len(buf))
		}
		msgs = append(msgs, Message{Header: hdr, Data: buf[nlmsgHdrLen:length:length]})

		advance := nlmsgAlign(length)
		if advance >= len(buf) {
			break
		}
		buf = buf[advance:]
	}
	return msgs, nil
}

// errno extracts the status of an NLMSG_ERROR message. Zero is the
// kernel's acknowledgement of a successful request.
func (m *Message) errno() (unix.Errno, error) {
	if len(m.Data) < 4 {
		return 0, fmt.Errorf("%w: short NLMSG_ERROR payload", ErrMalformed)
	}
	code := int32(native.Uint32(m.Data[0:4]))
	if code >= 0 {
		return unix.Errno(code), nil
	}
	return unix.Errno(-code), nil
}

// attrBuilder accumulates a type-length-value attribute stream, each
// attribute padded to the 4-byte boundary.
type attrBuilder struct {
	b []byte
}

func (ab *attrBuilder) addBytes(typ uint16, value []byte) {
	length := rtAttrHdrLen + len(value)
	off := len(ab.b)
	ab.b = append(ab.b, make([]byte, rtaAlign(length))...)
	native.PutUint16(ab.b[off:off+2], uint16(length))
	native.PutUint16(ab.b[off+2:off+4], typ)
	copy(ab.b[off+rtAttrHdrLen:], value)
}

func (ab *attrBuilder) addUint32(typ uint16, value uint32) {
	var v [4]byte
	native.PutUint32(v[:], value)
	ab.addBytes(typ, v[:])
}

// forEachAttr walks an attribute stream, invoking fn with each type and
// value. It never reads past buf: a length field that disagrees with the
// remaining bytes is ErrMalformed.
func forEachAttr(buf []byte, fn func(typ uint16, value []byte)) error {
	for len(buf) > 0 {
		if len(buf) < rtAttrHdrLen {
			if allZero(buf) {
				return nil
			}
			return fmt.Errorf("%w: %d trailing attribute bytes", ErrMalformed, len(buf))
		}
		length := int(native.Uint16(buf[0:2]))
		typ := native.Uint16(buf[2:4])
		if length < rtAttrHdrLen || length > len(buf) {
			return fmt.Errorf("%w: attribute claims %d of %d bytes", ErrMalformed, length, len(buf))
		}
		fn(typ, buf[rtAttrHdrLen:length:length])

		advance := rtaAlign(length)
		if advance >= len(buf) {
			return nil
		}
		buf = buf[advance:]
	}
	return nil
}

func allZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
