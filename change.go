package routemanager

import "fmt"

// ChangeKind classifies a route-table change notification.
type ChangeKind int

const (
	// RouteAdded means a route was inserted into the kernel table.
	RouteAdded ChangeKind = iota
	// RouteRemoved means a route was deleted from the kernel table.
	RouteRemoved
	// RouteChanged means an existing route's attributes were modified.
	RouteChanged
)

// String returns the string representation of the change kind.
func (k ChangeKind) String() string {
	switch k {
	case RouteAdded:
		return "Added"
	case RouteRemoved:
		return "Removed"
	case RouteChanged:
		return "Changed"
	default:
		return "UnknownChange"
	}
}

// RouteChange is one route-table change event as reported by the kernel.
// Events are delivered in kernel-notification order; this layer never
// reorders or coalesces them.
type RouteChange struct {
	Kind  ChangeKind
	Route Route
}

func (c RouteChange) String() string {
	return fmt.Sprintf("%s(%s)", c.Kind, c.Route)
}
