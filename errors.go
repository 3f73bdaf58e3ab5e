package routemanager

import (
	"errors"
	"fmt"
)

// Error kinds. Operations wrap one of these sentinels (usually inside a
// *RouteError), so callers classify failures with errors.Is:
//
//	if errors.Is(err, routemanager.ErrRouteExists) { ... }
var (
	// ErrInvalidRoute marks a route that cannot be encoded: mismatched
	// address families, out-of-range prefix, unresolvable interface.
	ErrInvalidRoute = errors.New("invalid route")
	// ErrRouteExists is reported when adding a route the kernel already has.
	ErrRouteExists = errors.New("route already exists")
	// ErrRouteNotFound is reported when deleting or querying a route absent
	// from the kernel table.
	ErrRouteNotFound = errors.New("route not found")
	// ErrPermission means the caller lacks privilege to open the handle or
	// mutate the table.
	ErrPermission = errors.New("permission denied")
	// ErrUnsupported means the capability is unavailable on this platform
	// or kernel version.
	ErrUnsupported = errors.New("not supported on this platform")
	// ErrTimeout means no kernel response arrived within the bounded wait.
	// The operation is not retried internally; retry policy belongs to the
	// caller.
	ErrTimeout = errors.New("operation timed out")
	// ErrMalformedMessage means a kernel message could not be decoded. It
	// is surfaced, never silently dropped.
	ErrMalformedMessage = errors.New("malformed kernel message")
	// ErrClosed is reported for any operation attempted after shutdown.
	ErrClosed = errors.New("route handle closed")
	// ErrIO marks an underlying transport failure: handle closed
	// unexpectedly, descriptor error, short write.
	ErrIO = errors.New("transport failure")
)

// errorKinds lists the sentinels classify recognizes when an error
// already carries one, e.g. a sys-layer validation failure.
var errorKinds = []error{
	ErrInvalidRoute, ErrRouteExists, ErrRouteNotFound, ErrPermission,
	ErrUnsupported, ErrTimeout, ErrMalformedMessage, ErrClosed,
}

// knownKind returns the sentinel err already wraps, or nil.
func knownKind(err error) error {
	for _, kind := range errorKinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// RouteError describes a failed route operation: which operation, on which
// route, classified by kind, with the underlying transport error attached.
type RouteError struct {
	Op    string // "add", "delete", "get", "listen", "open"
	Route Route  // zero value when the operation has no single route
	Kind  error  // one of the sentinel kinds above
	Cause error  // underlying OS/transport error, may be nil
}

// Error implements the error interface.
func (e *RouteError) Error() string {
	msg := fmt.Sprintf("route %s", e.Op)
	if e.Route.Destination().IsValid() {
		msg += " " + e.Route.String()
	}
	msg += ": " + e.Kind.Error()
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes both the kind sentinel and the cause to errors.Is/As.
func (e *RouteError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// IsRetryable reports whether the failure might be temporary.
func (e *RouteError) IsRetryable() bool {
	return errors.Is(e.Kind, ErrTimeout)
}

func opError(op string, route Route, kind, cause error) *RouteError {
	if kind == nil {
		kind = ErrIO
	}
	return &RouteError{Op: op, Route: route, Kind: kind, Cause: cause}
}
