package tuner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantlab/internal/backtest"
)

func TestGateMinTradesOverridesPerfectScore(t *testing.T) {
	gate := NewGate(nil)
	challenger := backtest.RunMetrics{
		ProfitFactor: 10, NetPnL: 5000, WinRate: 1.0, MaxDrawdown: 0.01, TradeCount: 4,
	}
	champion := backtest.RunMetrics{TradeCount: 50, MaxDrawdown: 0.1}

	results, accepted, reason := gate.Evaluate(challenger, champion, 99.0, 0.5)
	assert.False(t, accepted, "too few trades rejects regardless of score")
	assert.Contains(t, reason, "trades:")

	for _, r := range results {
		if r.Name == "score" {
			assert.True(t, r.Passed)
		}
	}
}

func TestGateAcceptsScoreTie(t *testing.T) {
	gate := NewGate(nil)
	m := backtest.RunMetrics{TradeCount: 20, MaxDrawdown: 0.05}

	_, accepted, reason := gate.Evaluate(m, m, 1.2345, 1.2345)
	assert.True(t, accepted)
	assert.Empty(t, reason)
}

func TestGateScoreRejectionNamesScore(t *testing.T) {
	gate := NewGate(nil)
	m := backtest.RunMetrics{TradeCount: 20, MaxDrawdown: 0.05}

	_, accepted, reason := gate.Evaluate(m, m, 0.9, 1.0)
	require.False(t, accepted)
	assert.Contains(t, reason, "score:")
}

func TestGateDrawdownCeilingRelaxesWithChampion(t *testing.T) {
	gate := NewGate(&GateConfig{MinTrades: 5, MaxDrawdown: 0.10})

	// Champion already draws down 20%; the effective ceiling becomes
	// 0.20 * 1.25 = 0.25, not the configured 0.10.
	champion := backtest.RunMetrics{TradeCount: 30, MaxDrawdown: 0.20}
	challenger := backtest.RunMetrics{TradeCount: 30, MaxDrawdown: 0.24}

	_, accepted, _ := gate.Evaluate(challenger, champion, 1.1, 1.0)
	assert.True(t, accepted)

	challenger.MaxDrawdown = 0.26
	_, accepted, reason := gate.Evaluate(challenger, champion, 1.1, 1.0)
	assert.False(t, accepted)
	assert.Contains(t, reason, "drawdown:")
}

func TestGateCompositeReasonListsAllFailures(t *testing.T) {
	gate := NewGate(nil)
	challenger := backtest.RunMetrics{TradeCount: 2, MaxDrawdown: 0.9}
	champion := backtest.RunMetrics{TradeCount: 30, MaxDrawdown: 0.05}

	_, accepted, reason := gate.Evaluate(challenger, champion, 0.1, 1.0)
	require.False(t, accepted)
	assert.Contains(t, reason, "trades:")
	assert.Contains(t, reason, "drawdown:")
	assert.Contains(t, reason, "score:")
}

func TestNewGateDefaults(t *testing.T) {
	gate := NewGate(nil)
	assert.Equal(t, 5, gate.Config.MinTrades)
	assert.Equal(t, 0.25, gate.Config.MaxDrawdown)

	gate = NewGate(&GateConfig{MinTrades: 10})
	assert.Equal(t, 10, gate.Config.MinTrades)
	assert.Equal(t, 0.25, gate.Config.MaxDrawdown, "unset threshold keeps the default")
}
