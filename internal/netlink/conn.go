//go:build linux

package netlink

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/wesleywu/route-manager/internal/readiness"
)

// receiveBufSize holds the largest datagram the kernel sends on route
// dumps. 64 KiB covers full tables on busy routers.
const receiveBufSize = 1 << 16

// Conn is one NETLINK_ROUTE socket. The socket is nonblocking; all
// waiting happens through the readiness layer so a wake pipe can
// interrupt a blocked receive.
//
// A Conn is not safe for concurrent use; callers serialize access.
type Conn struct {
	fd     int
	pid    uint32
	seq    atomic.Uint32
	closed atomic.Bool
	rbuf   []byte
}

// Dial opens a NETLINK_ROUTE socket, binds it, and records the port id
// the kernel assigned, which response correlation matches against.
func Dial() (*Conn, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.NETLINK_ROUTE)
	if err != nil {
		return nil, fmt.Errorf("netlink: socket: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("netlink: set nonblocking: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrNetlink{Family: unix.AF_NETLINK}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("netlink: bind: %w", err)
	}
	sa, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("netlink: getsockname: %w", err)
	}
	nlsa, ok := sa.(*unix.SockaddrNetlink)
	if !ok {
		unix.Close(fd)
		return nil, fmt.Errorf("netlink: unexpected socket address %T", sa)
	}
	return &Conn{fd: fd, pid: nlsa.Pid, rbuf: make([]byte, receiveBufSize)}, nil
}

// JoinGroup subscribes the socket to a multicast group such as
// unix.RTNLGRP_IPV4_ROUTE. Joined groups deliver unsolicited change
// notifications through Receive.
func (c *Conn) JoinGroup(group int) error {
	err := unix.SetsockoptInt(c.fd, unix.SOL_NETLINK, unix.NETLINK_ADD_MEMBERSHIP, group)
	if err != nil {
		return fmt.Errorf("netlink: join group %d: %w", group, err)
	}
	return nil
}

// Close releases the socket. Safe to call more than once.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return unix.Close(c.fd)
}

// send frames and writes one request, returning the sequence number the
// response will carry.
func (c *Conn) send(typ, flags uint16, body []byte) (uint32, error) {
	seq := c.seq.Add(1)
	req := marshalRequest(typ, flags|unix.NLM_F_REQUEST, seq, c.pid, body)
	err := unix.Sendto(c.fd, req, 0, &unix.SockaddrNetlink{Family: unix.AF_NETLINK})
	if err != nil {
		return 0, fmt.Errorf("netlink: send: %w", err)
	}
	return seq, nil
}

// Receive waits for the next datagram and returns its messages. A zero
// deadline blocks indefinitely. If wake is non-nil and fires first,
// Receive returns readiness.ErrWoken without consuming socket data.
func (c *Conn) Receive(deadline time.Time, wake *readiness.Wake) ([]Message, error) {
	for {
		if err := readiness.Wait(c.fd, wake, deadline); err != nil {
			return nil, err
		}
		n, _, err := unix.Recvfrom(c.fd, c.rbuf, 0)
		if err == unix.EAGAIN || err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("netlink: recv: %w", err)
		}
		return ParseMessages(c.rbuf[:n])
	}
}

// Execute sends one request and collects its response. For NLM_F_DUMP
// requests it accumulates messages until NLMSG_DONE; otherwise it waits
// for the NLMSG_ERROR acknowledgement. Messages whose sequence or port
// id do not match the request are discarded, never misattributed.
//
// The request is sent exactly once. A wakeup the stale predicate
// disowns is drained and the wait resumes on the same sequence number;
// the in-flight request is never re-sent.
//
// A nonzero kernel status comes back as the raw unix.Errno so callers
// can map it onto their own error taxonomy.
func (c *Conn) Execute(typ, flags uint16, body []byte, deadline time.Time, wake *readiness.Wake, stale func() bool) ([]Message, error) {
	seq, err := c.send(typ, flags, body)
	if err != nil {
		return nil, err
	}
	var out []Message
	for {
		msgs, err := c.Receive(deadline, wake)
		if err != nil {
			if stale != nil && errors.Is(err, readiness.ErrWoken) && stale() {
				wake.Drain()
				continue
			}
			return nil, err
		}
		for _, m := range msgs {
			if m.Header.Seq != seq || m.Header.Pid != c.pid {
				continue
			}
			switch m.Header.Type {
			case unix.NLMSG_ERROR:
				code, err := m.errno()
				if err != nil {
					return nil, err
				}
				if code != 0 {
					return nil, code
				}
				return out, nil
			case unix.NLMSG_DONE:
				return out, nil
			case unix.NLMSG_NOOP, unix.NLMSG_OVERRUN:
				// Nothing useful to collect.
			default:
				out = append(out, m)
			}
		}
	}
}

// FD exposes the socket descriptor for readiness polling by listeners.
func (c *Conn) FD() int { return c.fd }
