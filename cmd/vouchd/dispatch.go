package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fuelcart/vouch/platform"

	"golang.org/x/sync/semaphore"
)

type eventHandler interface {
	HandleEvent(ctx context.Context, evt *platform.Event) error
}

// Dispatcher runs each event on its own goroutine, bounded by a semaphore.
type Dispatcher struct {
	handler eventHandler
	sem     *semaphore.Weighted
	wg      sync.WaitGroup
	timeout time.Duration
	logger  *slog.Logger
}

func NewDispatcher(handler eventHandler, concurrency int, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if concurrency <= 0 {
		concurrency = 16
	}
	if timeout <= 0 {
		timeout = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		handler: handler,
		sem:     semaphore.NewWeighted(int64(concurrency)),
		timeout: timeout,
		logger:  logger.With("component", "dispatcher"),
	}
}

// Submit blocks until a worker slot is free (or ctx is done), then processes
// evt in the background. The event outlives ctx: once accepted it runs to
// completion or to the per-event timeout.
func (d *Dispatcher) Submit(ctx context.Context, evt *platform.Event, transport string) error {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	eventsReceived.WithLabelValues(transport).Inc()
	eventsInFlight.Inc()
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.sem.Release(1)
		defer eventsInFlight.Dec()

		ectx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
		defer cancel()
		if err := d.handler.HandleEvent(ectx, evt); err != nil {
			d.logger.Error("failed to handle event", "type", evt.Type, "transport", transport, "err", err)
		}
	}()
	return nil
}

// Wait blocks until every accepted event has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
