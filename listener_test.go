package routemanager

import (
	"context"
	"errors"
	"net/netip"
	"os"
	"testing"
	"time"
)

func newTestListener(t *testing.T) *Listener {
	t.Helper()
	l, err := NewListener()
	if err != nil {
		t.Skipf("cannot open change listener: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestListenerShutdownUnblocks(t *testing.T) {
	l := newTestListener(t)

	done := make(chan error, 1)
	go func() {
		for {
			_, err := l.Listen()
			if err != nil {
				done <- err
				return
			}
			// A real change may slip in before the shutdown; keep
			// listening until the shutdown lands.
		}
	}()

	time.Sleep(50 * time.Millisecond)
	l.Shutdown()

	select {
	case err := <-done:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("Shutdown should surface ErrClosed, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Shutdown did not unblock Listen")
	}

	if _, err := l.Listen(); !errors.Is(err, ErrClosed) {
		t.Errorf("Listen after shutdown should report ErrClosed, got %v", err)
	}
}

func TestListenerShutdownIdempotent(t *testing.T) {
	l := newTestListener(t)

	handle := l.ShutdownHandle()
	handle.Shutdown()
	handle.Shutdown()
	l.Shutdown()

	if _, err := l.Listen(); !errors.Is(err, ErrClosed) {
		t.Errorf("Listen after shutdown should report ErrClosed, got %v", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("Close after shutdown: %v", err)
	}
}

func TestListenerShutdownBeforeListen(t *testing.T) {
	l := newTestListener(t)

	l.Shutdown()
	if _, err := l.Listen(); !errors.Is(err, ErrClosed) {
		t.Errorf("Listen on a shut-down listener should report ErrClosed, got %v", err)
	}
}

func TestAsyncListenerContextCancel(t *testing.T) {
	al, err := NewAsyncListener()
	if err != nil {
		t.Skipf("cannot open change listener: %v", err)
	}
	defer al.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := al.Listen(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Canceled context should report context.Canceled, got %v", err)
	}

	// Cancellation must not kill the listener; a fresh context still works
	// and shutdown still wins.
	ctx2, cancel2 := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel2()
	change, err := al.Listen(ctx2)
	if err == nil {
		t.Logf("route change arrived during the wait: %v", change)
	} else if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected context.DeadlineExceeded, got %v", err)
	}

	al.Shutdown()
	if _, err := al.Listen(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Listen after shutdown should report ErrClosed, got %v", err)
	}
}

// TestListenerObservesAddedRoute mutates the real routing table, so it
// only runs as root: a blocked Listen must deliver the Added event for a
// route inserted through a Manager within a bounded window.
func TestListenerObservesAddedRoute(t *testing.T) {
	if os.Getuid() != 0 {
		t.Skip("route mutation requires root")
	}
	l := newTestListener(t)
	m := newTestManager(t)
	lo := loopbackInterface(t)

	r := NewRoute(netip.MustParseAddr("192.0.2.0"), 24).WithIfIndex(lo.Index)

	events := make(chan RouteChange, 16)
	listenErr := make(chan error, 1)
	go func() {
		for {
			change, err := l.Listen()
			if err != nil {
				listenErr <- err
				return
			}
			events <- change
		}
	}()

	// Let the goroutine block in Listen before mutating the table.
	time.Sleep(50 * time.Millisecond)

	if err := m.Add(r); err != nil {
		t.Fatalf("Add: %v", err)
	}
	defer m.Delete(r)
	defer l.Shutdown()

	timeout := time.After(5 * time.Second)
	for {
		select {
		case change := <-events:
			if change.Kind == RouteAdded &&
				change.Route.Network() == r.Network() &&
				change.Route.PrefixLen() == r.PrefixLen() {
				return
			}
			// Unrelated table churn; keep waiting for our route.
		case err := <-listenErr:
			t.Fatalf("Listen: %v", err)
		case <-timeout:
			t.Fatal("Added route did not reach the listener within 5s")
		}
	}
}
