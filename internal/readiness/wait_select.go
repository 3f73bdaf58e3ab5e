//go:build (linux || darwin || freebsd || openbsd) && routeselect

package readiness

import (
	"time"

	"golang.org/x/sys/unix"
)

// Wait blocks until fd is readable, the wake descriptor fires, or the
// deadline passes. A zero deadline means no timeout. wake may be nil.
//
// This is the select(2) backend, chosen with `-tags routeselect`. It is
// behaviorally identical to the poll(2) backend.
func Wait(fd int, wake *Wake, deadline time.Time) error {
	wakeFD := -1
	if wake != nil {
		wakeFD = wake.ReadFD()
	}
	nfds := fd + 1
	if wakeFD >= nfds {
		nfds = wakeFD + 1
	}
	for {
		var set unix.FdSet
		set.Set(fd)
		if wakeFD >= 0 {
			set.Set(wakeFD)
		}
		var tv *unix.Timeval
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return ErrTimedOut
			}
			t := unix.NsecToTimeval(remaining.Nanoseconds())
			tv = &t
		}
		n, err := unix.Select(nfds, &set, nil, nil, tv)
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
		if wakeFD >= 0 && set.IsSet(wakeFD) {
			return ErrWoken
		}
		if set.IsSet(fd) {
			return nil
		}
	}
}
