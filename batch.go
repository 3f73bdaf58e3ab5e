package routemanager

import (
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
)

// DefaultBatchConcurrency bounds how many route operations a batch keeps
// in flight at once.
const DefaultBatchConcurrency = 8

// BatchResult summarizes one batch: per-route errors are collected, not
// short-circuited, so one bad route never blocks the rest.
type BatchResult struct {
	Total     int
	Succeeded int
	Failed    int
	Errors    []error
}

// BatchAdd inserts the routes concurrently through a worker pool.
// concurrency <= 0 selects DefaultBatchConcurrency. The returned error
// is non-nil when any route failed; BatchResult carries the details.
func (m *Manager) BatchAdd(routes []Route, concurrency int) (*BatchResult, error) {
	return m.batch("add", routes, concurrency, m.Add)
}

// BatchDelete removes the routes concurrently through a worker pool.
func (m *Manager) BatchDelete(routes []Route, concurrency int) (*BatchResult, error) {
	return m.batch("delete", routes, concurrency, m.Delete)
}

func (m *Manager) batch(action string, routes []Route, concurrency int, op func(Route) error) (*BatchResult, error) {
	if concurrency <= 0 {
		concurrency = DefaultBatchConcurrency
	}
	pool, err := ants.NewPool(concurrency)
	if err != nil {
		return nil, opError(action, Route{}, ErrIO, err)
	}
	defer pool.Release()

	result := &BatchResult{Total: len(routes)}
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	start := time.Now()
	for _, r := range routes {
		r := r
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			err := op(r)
			mu.Lock()
			if err != nil {
				result.Failed++
				result.Errors = append(result.Errors, err)
			} else {
				result.Succeeded++
			}
			mu.Unlock()
		})
		if submitErr != nil {
			wg.Done()
			mu.Lock()
			result.Failed++
			result.Errors = append(result.Errors, submitErr)
			mu.Unlock()
		}
	}
	wg.Wait()

	m.log.BatchOperation(action, result.Total, result.Succeeded, result.Failed, time.Since(start).Milliseconds())
	if result.Failed > 0 {
		return result, fmt.Errorf("batch %s: %d of %d operations failed", action, result.Failed, result.Total)
	}
	return result, nil
}
