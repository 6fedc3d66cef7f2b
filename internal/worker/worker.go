// Package worker executes queued sync runs one at a time.
package worker

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/search-console-tap/internal/metrics"
	"github.com/JakeFAU/search-console-tap/internal/tap"
)

// Executor performs a single sync run.
type Executor interface {
	Run(ctx context.Context, runID string, req tap.RunRequest) (tap.RunCounters, error)
}

// Worker consumes queue items and drives the executor.
type Worker struct {
	queue  tap.Queue
	runs   tap.RunStore
	exec   Executor
	logger *zap.Logger

	mu      sync.Mutex
	current string
	cancel  context.CancelFunc
}

// New constructs a Worker.
func New(queue tap.Queue, runs tap.RunStore, exec Executor, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Worker{
		queue:  queue,
		runs:   runs,
		exec:   exec,
		logger: logger,
	}
}

// Run blocks, consuming queue items until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued run", zap.String("run_id", item.RunID))
		w.processRun(ctx, item)
	}
}

// Cancel stops runID if it is executing and reports whether it was.
func (w *Worker) Cancel(runID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current != runID || w.cancel == nil {
		return false
	}
	w.cancel()
	return true
}

func (w *Worker) processRun(ctx context.Context, item tap.QueueItem) {
	logger := w.logger.With(zap.String("run_id", item.RunID))
	run, err := w.runs.GetRun(ctx, item.RunID)
	if err != nil {
		logger.Error("load run failed", zap.Error(err))
		return
	}
	if run.Status == tap.RunStatusCanceled {
		logger.Info("skipping canceled run")
		return
	}
	if w.exec == nil {
		logger.Error("no executor configured")
		if err := w.runs.UpdateRunStatus(ctx, item.RunID, tap.RunStatusFailed, "no executor configured", tap.RunCounters{}); err != nil {
			logger.Error("fail run status update", zap.Error(err))
		}
		return
	}
	if err := w.runs.UpdateRunStatus(ctx, item.RunID, tap.RunStatusRunning, "", tap.RunCounters{}); err != nil {
		logger.Error("update run status failed", zap.Error(err))
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.setCurrent(item.RunID, cancel)
	metrics.IncActiveRuns()
	counters, runErr := w.exec.Run(runCtx, item.RunID, item.Request)
	metrics.DecActiveRuns()
	status, errText := deriveFinalStatus(runCtx, runErr)
	w.setCurrent("", nil)
	cancel()

	metrics.ObserveRun(string(status))
	// The parent context may be done during shutdown; the final status is
	// still written.
	if err := w.runs.UpdateRunStatus(context.WithoutCancel(ctx), item.RunID, status, errText, counters); err != nil {
		logger.Error("final run status update failed", zap.Error(err))
		return
	}
	logger.Info("run finished",
		zap.String("status", string(status)),
		zap.Int("records", counters.Records),
	)
}

func (w *Worker) setCurrent(runID string, cancel context.CancelFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.current = runID
	w.cancel = cancel
}

func deriveFinalStatus(ctx context.Context, err error) (tap.RunStatus, string) {
	switch {
	case err == nil:
		return tap.RunStatusSucceeded, ""
	case errors.Is(err, context.Canceled) || ctx.Err() != nil:
		return tap.RunStatusCanceled, err.Error()
	default:
		return tap.RunStatusFailed, err.Error()
	}
}
