//go:build linux || darwin || freebsd || openbsd

package routemanager

import (
	"errors"

	"golang.org/x/sys/unix"

	"github.com/wesleywu/route-manager/internal/readiness"
)

// classify maps a transport-level error onto the package's error kinds.
// Anything it does not recognize stays ErrIO so the raw cause still
// reaches the caller through RouteError.Cause.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case knownKind(err) != nil:
		return knownKind(err)
	case errors.Is(err, readiness.ErrTimedOut):
		return ErrTimeout
	case errors.Is(err, readiness.ErrWoken):
		return ErrClosed
	case isMalformed(err):
		return ErrMalformedMessage
	}
	var errno unix.Errno
	if errors.As(err, &errno) {
		switch errno {
		case unix.EEXIST:
			return ErrRouteExists
		case unix.ESRCH, unix.ENOENT:
			return ErrRouteNotFound
		case unix.EPERM, unix.EACCES:
			return ErrPermission
		case unix.EAFNOSUPPORT, unix.EPROTONOSUPPORT, unix.EOPNOTSUPP:
			return ErrUnsupported
		}
	}
	return ErrIO
}
