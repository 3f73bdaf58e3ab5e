//go:build darwin || freebsd || openbsd

package rtsock

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/wesleywu/route-manager/internal/readiness"
)

// receiveBufSize fits any single routing-socket message; reads on
// PF_ROUTE return exactly one message.
const receiveBufSize = 4096

// Conn is one PF_ROUTE socket. The descriptor is nonblocking; all
// waiting goes through the readiness layer so a wake pipe can interrupt
// a blocked receive.
//
// A Conn is not safe for concurrent use; callers serialize access.
type Conn struct {
	fd     int
	pid    int32
	seq    atomic.Int32
	closed atomic.Bool
	rbuf   []byte
}

// Dial opens a routing socket. The kernel echoes our own requests back
// tagged with the process id, which Execute matches against.
func Dial() (*Conn, error) {
	fd, err := unix.Socket(unix.AF_ROUTE, unix.SOCK_RAW, unix.AF_UNSPEC)
	if err != nil {
		return nil, fmt.Errorf("rtsock: socket: %w", err)
	}
	unix.CloseOnExec(fd)
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("rtsock: set nonblocking: %w", err)
	}
	return &Conn{fd: fd, pid: int32(unix.Getpid()), rbuf: make([]byte, receiveBufSize)}, nil
}

// Close releases the socket. Safe to call more than once.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return unix.Close(c.fd)
}

// FD exposes the socket descriptor for readiness polling by listeners.
func (c *Conn) FD() int { return c.fd }

// Receive waits for the next message and decodes it. A zero deadline
// blocks indefinitely. If wake is non-nil and fires first, Receive
// returns readiness.ErrWoken without consuming socket data.
func (c *Conn) Receive(deadline time.Time, wake *readiness.Wake) (*Message, error) {
	for {
		if err := readiness.Wait(c.fd, wake, deadline); err != nil {
			return nil, err
		}
		n, err := unix.Read(c.fd, c.rbuf)
		if err == unix.EAGAIN || err == unix.EINTR {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("rtsock: read: %w", err)
		}
		if n == 0 {
			return nil, fmt.Errorf("rtsock: socket closed by kernel")
		}
		return ParseMessage(c.rbuf[:n])
	}
}

// Execute writes one RTM_ADD or RTM_DELETE request and waits for the
// kernel's echo. Routing sockets report most failures synchronously on
// the write itself (EEXIST, ESRCH); the echo confirms acceptance and
// carries any deferred errno. Echoes of other processes' requests are
// discarded by the (pid, seq) match.
//
// The request is written exactly once. A wakeup the stale predicate
// disowns is drained and the wait resumes on the same sequence number.
func (c *Conn) Execute(ri *RouteInfo, msgType uint8, deadline time.Time, wake *readiness.Wake, stale func() bool) error {
	seq := c.seq.Add(1)
	buf, err := ri.Marshal(msgType, seq)
	if err != nil {
		return err
	}
	if _, err := unix.Write(c.fd, buf); err != nil {
		return err
	}
	for {
		m, err := c.Receive(deadline, wake)
		if err != nil {
			if stale != nil && errors.Is(err, readiness.ErrWoken) && stale() {
				wake.Drain()
				continue
			}
			return err
		}
		if m.Pid != c.pid || m.Seq != seq || m.Type != msgType {
			continue
		}
		if m.Errno != 0 {
			return unix.Errno(m.Errno)
		}
		return nil
	}
}
