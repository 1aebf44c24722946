// Package backtest defines the contract with the backtest executor.
// The executor itself is an external collaborator: it turns a strategy
// version and a dataset into a completed run with summary metrics. This
// package owns the run/metrics types and the completion wait, not the
// simulation.
package backtest

import (
	"time"
)

// RunType distinguishes what produced a run.
type RunType string

const (
	RunTypeBacktest RunType = "backtest"
	RunTypePaper    RunType = "paper"
	RunTypeShadow   RunType = "shadow"
	RunTypeLive     RunType = "live"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunStatusPending RunStatus = "pending"
	RunStatusRunning RunStatus = "running"
	RunStatusDone    RunStatus = "done"
	RunStatusFailed  RunStatus = "failed"
)

// IsTerminal reports whether no further status transitions happen.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusDone || s == RunStatusFailed
}

// Run binds a strategy version to a dataset and a run type.
type Run struct {
	ID                string    `json:"id"`
	StrategyVersionID string    `json:"strategy_version_id"`
	DatasetID         string    `json:"dataset_id"`
	Type              RunType   `json:"type"`
	Status            RunStatus `json:"status"`
	Error             string    `json:"error,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	CompletedAt       time.Time `json:"completed_at,omitempty"`
}

// RunMetrics is the 1:1 summary attached once a run completes.
type RunMetrics struct {
	RunID        string  `json:"run_id"`
	ProfitFactor float64 `json:"profit_factor"`
	NetPnL       float64 `json:"net_pnl"`
	TradeCount   int     `json:"trade_count"`
	WinRate      float64 `json:"win_rate"`
	MaxDrawdown  float64 `json:"max_drawdown"`
	Fees         float64 `json:"fees"`
	Slippage     float64 `json:"slippage"`
}

// BestObserved reduces completed-run metrics for one version into the
// element-wise best across repeated runs: drawdown takes the minimum,
// everything else the maximum. Returns false when the slice is empty.
func BestObserved(metrics []RunMetrics) (RunMetrics, bool) {
	if len(metrics) == 0 {
		return RunMetrics{}, false
	}
	best := metrics[0]
	for _, m := range metrics[1:] {
		if m.ProfitFactor > best.ProfitFactor {
			best.ProfitFactor = m.ProfitFactor
		}
		if m.NetPnL > best.NetPnL {
			best.NetPnL = m.NetPnL
		}
		if m.TradeCount > best.TradeCount {
			best.TradeCount = m.TradeCount
		}
		if m.WinRate > best.WinRate {
			best.WinRate = m.WinRate
		}
		if m.MaxDrawdown < best.MaxDrawdown {
			best.MaxDrawdown = m.MaxDrawdown
		}
		if m.Fees < best.Fees {
			best.Fees = m.Fees
		}
		if m.Slippage < best.Slippage {
			best.Slippage = m.Slippage
		}
	}
	best.RunID = ""
	return best, true
}
