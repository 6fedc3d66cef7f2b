// Package dispatcher connects the run queue to its workers.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/search-console-tap/internal/tap"
	"github.com/JakeFAU/search-console-tap/internal/worker"
)

// Dispatcher fans out queue work to a pool of workers. Serve mode runs a
// single worker so extraction stays sequential.
type Dispatcher struct {
	queue   tap.Queue
	workers []*worker.Worker
}

// New creates a Dispatcher.
func New(queue tap.Queue, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
	}
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item tap.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Cancel stops runID on whichever worker is executing it.
func (d *Dispatcher) Cancel(runID string) bool {
	for _, w := range d.workers {
		if w.Cancel(runID) {
			return true
		}
	}
	return false
}
