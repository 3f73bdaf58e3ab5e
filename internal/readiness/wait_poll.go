//go:build (linux || darwin || freebsd || openbsd) && !routeselect

package readiness

import (
	"time"

	"golang.org/x/sys/unix"
)

// Wait blocks until fd is readable, the wake descriptor fires, or the
// deadline passes. A zero deadline means no timeout. wake may be nil.
//
// This is the poll(2) backend, selected by default.
func Wait(fd int, wake *Wake, deadline time.Time) error {
	fds := make([]unix.PollFd, 1, 2)
	fds[0] = unix.PollFd{Fd: int32(fd), Events: unix.POLLIN}
	if wake != nil {
		fds = append(fds, unix.PollFd{Fd: int32(wake.ReadFD()), Events: unix.POLLIN})
	}
	for {
		timeout := -1
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return ErrTimedOut
			}
			timeout = int(remaining.Milliseconds())
			if timeout == 0 {
				timeout = 1
			}
		}
		for i := range fds {
			fds[i].Revents = 0
		}
		n, err := unix.Poll(fds, timeout)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrTimedOut
		}
		// Shutdown wins over pending data.
		if wake != nil && fds[1].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			return ErrWoken
		}
		if fds[0].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			return nil
		}
	}
}
