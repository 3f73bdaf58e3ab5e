//go:build linux || darwin || freebsd || openbsd

package routemanager

import (
	"errors"

	"github.com/wesleywu/route-manager/internal/readiness"
)

// waker interrupts a blocked kernel wait: shutdown for listeners,
// context cancellation for the async facade. On the Unix platforms it is
// the readiness self-pipe, multiplexed alongside the route descriptor.
type waker = readiness.Wake

func newWaker() (*waker, error) { return readiness.NewWake() }

// isWoken reports whether a kernel wait ended because the waker fired
// rather than because of a transport failure.
func isWoken(err error) bool { return errors.Is(err, readiness.ErrWoken) }
