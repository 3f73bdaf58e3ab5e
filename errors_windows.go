package routemanager

import (
	"errors"
	"syscall"

	"golang.org/x/sys/windows"
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
	case isWoken(err):
		return ErrClosed
	case isMalformed(err):
		return ErrMalformedMessage
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case windows.ERROR_OBJECT_ALREADY_EXISTS, windows.ERROR_ALREADY_EXISTS:
			return ErrRouteExists
		case windows.ERROR_NOT_FOUND, windows.ERROR_FILE_NOT_FOUND:
			return ErrRouteNotFound
		case windows.ERROR_ACCESS_DENIED:
			return ErrPermission
		case windows.ERROR_NOT_SUPPORTED, windows.ERROR_INVALID_FUNCTION:
			return ErrUnsupported
		}
	}
	return ErrIO
}
