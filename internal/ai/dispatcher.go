package ai

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
)

// Dispatcher runs AI turns on a bounded worker pool so a slow model never
// holds up the session that asked.
type Dispatcher struct {
	adapter *Adapter
	pool    *ants.Pool
	log     *slog.Logger

	// mu orders wg.Add against Close; after Close every turn is rejected.
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher creates a pool of workers goroutines.
func NewDispatcher(adapter *Adapter, workers int, log *slog.Logger) (*Dispatcher, error) {
	if workers <= 0 {
		workers = 16
	}
	pool, err := ants.NewPool(workers, ants.WithNonblocking(true))
	if err != nil {
		return nil, err
	}
	return &Dispatcher{adapter: adapter, pool: pool, log: log}, nil
}

// Dispatch schedules a turn. When every worker is busy the turn is
// answered with the apology right away.
func (d *Dispatcher) Dispatch(projectID, body string) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.log.Warn("AI dispatcher is closed, rejecting turn", "project", projectID)
		d.adapter.reject(context.Background(), projectID)
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	err := d.pool.Submit(func() {
		defer d.wg.Done()
		d.adapter.Handle(context.Background(), projectID, body)
	})
	if err == nil {
		return
	}
	d.wg.Done()

	if errors.Is(err, ants.ErrPoolOverload) {
		d.log.Warn("AI pool is full, rejecting turn", "project", projectID)
	} else {
		d.log.Error("Failed to schedule AI turn", "project", projectID, "error", err)
	}
	d.adapter.reject(context.Background(), projectID)
}

// Close waits for in-flight turns and releases the pool. Turns dispatched
// afterwards get the apology.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.wg.Wait()
	if err := d.pool.ReleaseTimeout(5 * time.Second); err != nil {
		d.log.Warn("AI pool release timed out", "error", err)
	}
}
