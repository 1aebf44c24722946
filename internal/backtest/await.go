package backtest

import (
	"context"
)

// AwaitingExecutor pairs an Executor with a completion Waiter so
// callers get a blocking execute-then-collect call.
type AwaitingExecutor struct {
	exec   Executor
	waiter *Waiter
}

// NewAwaitingExecutor creates a blocking executor facade.
func NewAwaitingExecutor(exec Executor, waiter *Waiter) *AwaitingExecutor {
	return &AwaitingExecutor{exec: exec, waiter: waiter}
}

// ExecuteAndWait submits a run and blocks until its metrics are
// available or the wait deadline expires.
func (a *AwaitingExecutor) ExecuteAndWait(ctx context.Context, strategyVersionID, datasetID string) (*RunMetrics, error) {
	runID, err := a.exec.Execute(ctx, strategyVersionID, datasetID)
	if err != nil {
		return nil, err
	}
	return a.waiter.Await(ctx, runID)
}
