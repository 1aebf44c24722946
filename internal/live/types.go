package live

import (
	"time"

	"quantlab/internal/strategy"
)

// DeploymentStatus is the lifecycle state of a paper deployment.
type DeploymentStatus string

const (
	StatusRunning    DeploymentStatus = "running"
	StatusEvaluating DeploymentStatus = "evaluating"
	StatusStopped    DeploymentStatus = "stopped"
)

// PassCriteria are the thresholds a deployment must meet to graduate
// from paper evaluation.
type PassCriteria struct {
	MinTrades   int     `json:"min_trades"`
	MinWinRate  float64 `json:"min_win_rate"`
	MinNetPnL   float64 `json:"min_net_pnl"`
	MaxDrawdown float64 `json:"max_drawdown"`
}

// DeploymentConfig is the risk and sizing configuration of one
// deployment, fixed at creation.
type DeploymentConfig struct {
	StartingEquity     float64      `json:"starting_equity"`
	MaxDailyLoss       float64      `json:"max_daily_loss"`
	MaxPositionSizeUSD float64      `json:"max_position_size_usd"`
	ATRPeriod          int          `json:"atr_period"`
	StopLossATRMult    float64      `json:"stop_loss_atr_mult"`
	TakeProfitATRMult  float64      `json:"take_profit_atr_mult"`
	PassCriteria       PassCriteria `json:"pass_criteria"`
}

// Deployment is one live-paper execution context. It is mutated only
// by the execution loop and by explicit stop/evaluate/clear actions.
type Deployment struct {
	ID                string             `json:"id"`
	StrategyVersionID string             `json:"strategy_version_id"`
	Family            strategy.Family    `json:"family"`
	Params            map[string]float64 `json:"params"`
	Symbols           []string           `json:"symbols"`
	Config            DeploymentConfig   `json:"config"`
	Status            DeploymentStatus   `json:"status"`
	Halted            bool               `json:"halted"`
	HaltReason        string             `json:"halt_reason,omitempty"`
	Position          *strategy.Position `json:"current_position,omitempty"`
	DailyPnL          float64            `json:"daily_pnl"`
	DailyTrades       int                `json:"daily_trades"`
	TradingDay        string             `json:"trading_day"`
	LastSignalType    string             `json:"last_signal_type,omitempty"`
	LastSignalAt      *time.Time         `json:"last_signal_at,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// PrimarySymbol returns the symbol the loop trades. A deployment may
// watch several symbols but holds at most one position.
func (d *Deployment) PrimarySymbol() string {
	if len(d.Symbols) == 0 {
		return ""
	}
	return d.Symbols[0]
}

// Snapshot is one periodic equity/cash/position record. Snapshots are
// the source of truth for equity curves and daily drawdown, independent
// of trade activity.
type Snapshot struct {
	ID           string             `json:"id"`
	DeploymentID string             `json:"deployment_id"`
	Equity       float64            `json:"equity"`
	Cash         float64            `json:"cash"`
	Position     *strategy.Position `json:"position,omitempty"`
	DailyPnL     float64            `json:"daily_pnl"`
	CreatedAt    time.Time          `json:"created_at"`
}

// TickRequest invokes the execution loop for one deployment.
type TickRequest struct {
	DeploymentID   string `json:"deployment_id"`
	ForceTestTrade bool   `json:"force_test_trade,omitempty"`
}

// TickResult is the outcome of one execution loop invocation.
type TickResult struct {
	DeploymentID    string             `json:"deployment_id"`
	Signal          string             `json:"signal"`
	SignalReason    string             `json:"signal_reason"`
	CurrentPosition *strategy.Position `json:"current_position,omitempty"`
	OrderPlaced     bool               `json:"order_placed"`
	Equity          float64            `json:"equity"`
	DailyPnL        float64            `json:"daily_pnl"`
	MarketOpen      bool               `json:"market_open"`
	Halted          bool               `json:"halted"`
}

// TickBatchResult aggregates one pass over all running deployments.
// Failures are recorded per deployment so one exception never aborts
// the siblings.
type TickBatchResult struct {
	Results []TickResult      `json:"results"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// CriterionResult is the outcome of one pass-criteria check.
type CriterionResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// EvaluationResult is the verdict on a deployment's paper run.
type EvaluationResult struct {
	DeploymentID string            `json:"deployment_id"`
	Passed       bool              `json:"passed"`
	Checks       []CriterionResult `json:"checks"`
}

// DeploymentStats summarizes a deployment's realized performance,
// derived from its order and snapshot history.
type DeploymentStats struct {
	Trades      int     `json:"trades"`
	NetPnL      float64 `json:"net_pnl"`
	WinRate     float64 `json:"win_rate"`
	MaxDrawdown float64 `json:"max_drawdown"`
}
