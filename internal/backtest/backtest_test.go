package backtest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantlab/internal/errors"
)

func TestBestObserved(t *testing.T) {
	metrics := []RunMetrics{
		{ProfitFactor: 1.2, NetPnL: 500, TradeCount: 20, WinRate: 0.55, MaxDrawdown: 0.12, Fees: 30, Slippage: 5},
		{ProfitFactor: 1.5, NetPnL: 300, TradeCount: 18, WinRate: 0.50, MaxDrawdown: 0.08, Fees: 25, Slippage: 7},
		{ProfitFactor: 1.1, NetPnL: 650, TradeCount: 25, WinRate: 0.60, MaxDrawdown: 0.15, Fees: 40, Slippage: 4},
	}

	best, ok := BestObserved(metrics)
	require.True(t, ok)
	assert.Equal(t, 1.5, best.ProfitFactor)
	assert.Equal(t, 650.0, best.NetPnL)
	assert.Equal(t, 25, best.TradeCount)
	assert.Equal(t, 0.60, best.WinRate)
	assert.Equal(t, 0.08, best.MaxDrawdown)
	assert.Equal(t, 25.0, best.Fees)
	assert.Equal(t, 4.0, best.Slippage)
}

func TestBestObservedEmpty(t *testing.T) {
	_, ok := BestObserved(nil)
	assert.False(t, ok)
}

func TestBestObservedSingle(t *testing.T) {
	m := RunMetrics{ProfitFactor: 1.3, MaxDrawdown: 0.1}
	best, ok := BestObserved([]RunMetrics{m})
	require.True(t, ok)
	assert.Equal(t, m.ProfitFactor, best.ProfitFactor)
	assert.Equal(t, m.MaxDrawdown, best.MaxDrawdown)
}

// fakeRunReader flips a run to done after a number of polls.
type fakeRunReader struct {
	mu        sync.Mutex
	polls     int
	doneAfter int
	fail      bool
}

func (f *fakeRunReader) GetRun(ctx context.Context, runID string) (*Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	if f.polls < f.doneAfter {
		return &Run{ID: runID, Status: RunStatusRunning}, nil
	}
	if f.fail {
		return &Run{ID: runID, Status: RunStatusFailed, Error: "executor crashed"}, nil
	}
	return &Run{ID: runID, Status: RunStatusDone}, nil
}

func (f *fakeRunReader) GetRunMetrics(ctx context.Context, runID string) (*RunMetrics, error) {
	return &RunMetrics{RunID: runID, ProfitFactor: 1.4, TradeCount: 12}, nil
}

func TestWaiterAwait(t *testing.T) {
	reader := &fakeRunReader{doneAfter: 3}
	w := NewWaiter(reader, 5*time.Millisecond, time.Second)

	metrics, err := w.Await(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, 1.4, metrics.ProfitFactor)
	assert.GreaterOrEqual(t, reader.polls, 3)
}

func TestWaiterAwaitFailedRun(t *testing.T) {
	w := NewWaiter(&fakeRunReader{doneAfter: 2, fail: true}, 5*time.Millisecond, time.Second)

	_, err := w.Await(context.Background(), "run-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "executor crashed")
}

func TestWaiterAwaitTimeout(t *testing.T) {
	// A run that never completes hits the deadline.
	w := NewWaiter(&fakeRunReader{doneAfter: 1 << 30}, 5*time.Millisecond, 30*time.Millisecond)

	_, err := w.Await(context.Background(), "run-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeBacktestTimeout))
}

func TestRunStatusIsTerminal(t *testing.T) {
	assert.True(t, RunStatusDone.IsTerminal())
	assert.True(t, RunStatusFailed.IsTerminal())
	assert.False(t, RunStatusPending.IsTerminal())
	assert.False(t, RunStatusRunning.IsTerminal())
}
