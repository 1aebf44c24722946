package backtest

import (
	"context"
	"time"

	"quantlab/internal/errors"
	"quantlab/internal/logger"
)

// Executor starts a backtest for a strategy version against a dataset
// and returns the run ID. Execution is asynchronous; completion is
// observed through RunReader.
type Executor interface {
	Execute(ctx context.Context, strategyVersionID, datasetID string) (runID string, err error)
}

// RunReader exposes run state and metrics to the completion waiter.
type RunReader interface {
	GetRun(ctx context.Context, runID string) (*Run, error)
	GetRunMetrics(ctx context.Context, runID string) (*RunMetrics, error)
}

// Waiter polls run status until the executor reports a terminal state.
// Polling replaces a fixed post-submit delay: the run row is the
// completion signal.
type Waiter struct {
	runs     RunReader
	interval time.Duration
	timeout  time.Duration
	log      logger.Logger
}

// NewWaiter creates a completion waiter.
func NewWaiter(runs RunReader, interval, timeout time.Duration) *Waiter {
	if interval <= 0 {
		interval = time.Second
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &Waiter{
		runs:     runs,
		interval: interval,
		timeout:  timeout,
		log:      logger.Global().WithField("component", "backtest_waiter"),
	}
}

// Await blocks until the run reaches a terminal status, then returns
// its metrics. A failed run or an expired deadline is an error.
func (w *Waiter) Await(ctx context.Context, runID string) (*RunMetrics, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		run, err := w.runs.GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		switch run.Status {
		case RunStatusDone:
			return w.runs.GetRunMetrics(ctx, runID)
		case RunStatusFailed:
			return nil, errors.Newf(errors.ErrCodeInternal,
				"backtest run %s failed: %s", runID, run.Error)
		}

		select {
		case <-ctx.Done():
			w.log.Error("backtest run did not complete in time",
				"run_id", runID, "timeout", w.timeout.String())
			return nil, errors.Newf(errors.ErrCodeBacktestTimeout,
				"backtest run %s did not complete within %s", runID, w.timeout)
		case <-ticker.C:
		}
	}
}
