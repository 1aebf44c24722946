package tuner

import (
	"time"

	"quantlab/internal/backtest"
)

// ObjectiveConfig holds the score weights owned by an experiment group.
// Weights need not sum to 1.
type ObjectiveConfig struct {
	ProfitFactorWeight float64 `json:"profit_factor_weight"`
	ReturnWeight       float64 `json:"return_weight"`
	WinRateWeight      float64 `json:"win_rate_weight"`
	DrawdownWeight     float64 `json:"drawdown_weight"`
}

// DefaultObjective is applied when a group has no explicit weights.
var DefaultObjective = ObjectiveConfig{
	ProfitFactorWeight: 1.0,
	ReturnWeight:       0.5,
	WinRateWeight:      0.25,
	DrawdownWeight:     0.5,
}

// ExperimentGroup is a named collection of strategy versions sharing a
// template, dataset and objective. At most one champion at any time.
type ExperimentGroup struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	StrategyID        string          `json:"strategy_id"`
	DatasetID         string          `json:"dataset_id"`
	Objective         ObjectiveConfig `json:"objective"`
	ChampionVersionID string          `json:"champion_version_id"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// GateConfig holds the absolute acceptance thresholds.
type GateConfig struct {
	MinTrades   int     `json:"min_trades"`
	MaxDrawdown float64 `json:"max_drawdown"`
}

// DefaultGateConfig mirrors the platform defaults.
var DefaultGateConfig = GateConfig{
	MinTrades:   5,
	MaxDrawdown: 0.25,
}

// GateResult records the outcome of one acceptance sub-condition.
type GateResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// Iteration is the immutable audit record of one optimization trial.
// Rows are append-only and never updated.
type Iteration struct {
	ID              string              `json:"id"`
	GroupID         string              `json:"group_id"`
	Number          int                 `json:"iteration_number"`
	ParentVersionID string              `json:"parent_version_id"`
	ChildVersionID  string              `json:"child_version_id"`
	ParamDiff       string              `json:"param_diff"`
	MetricBefore    backtest.RunMetrics `json:"metric_before"`
	MetricAfter     backtest.RunMetrics `json:"metric_after"`
	GateResults     []GateResult        `json:"gate_results"`
	Accepted        bool                `json:"accepted"`
	RejectReason    string              `json:"reject_reason,omitempty"`
	ScoreBefore     float64             `json:"score_before"`
	ScoreAfter      float64             `json:"score_after"`
	CreatedAt       time.Time           `json:"created_at"`
}

// JobStatus is the lifecycle state of a tuning job.
type JobStatus string

const (
	JobStatusRunning JobStatus = "running"
	JobStatusPaused  JobStatus = "paused"
	JobStatusDone    JobStatus = "done"
)

// TuningJob is a resumable dataset-split search. Workers pick up from
// TrialsCompleted, so a separate invocation continues rather than
// restarts.
type TuningJob struct {
	ID              string    `json:"id"`
	GroupID         string    `json:"group_id"`
	Status          JobStatus `json:"status"`
	TrialsTotal     int       `json:"trials_total"`
	TrialsCompleted int       `json:"trials_completed"`
	BestScore       float64   `json:"best_score"`
	BestVersionID   string    `json:"best_version_id,omitempty"`
	TrainDatasetID  string    `json:"train_dataset_id"`
	ValDatasetID    string    `json:"val_dataset_id"`
	TestDatasetID   string    `json:"test_dataset_id"`
	TestScore       float64   `json:"test_score"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TuningTrial is one completed trial of a tuning job.
type TuningTrial struct {
	ID         string             `json:"id"`
	JobID      string             `json:"job_id"`
	Index      int                `json:"trial_index"`
	VersionID  string             `json:"version_id"`
	Params     map[string]float64 `json:"params"`
	TrainScore float64            `json:"train_score"`
	ValScore   float64            `json:"val_score"`
	Accepted   bool               `json:"accepted"`
	CreatedAt  time.Time          `json:"created_at"`
}

// IterateRequest invokes the iteration loop for one group.
type IterateRequest struct {
	GroupID        string      `json:"experiment_group_id"`
	TriggerType    string      `json:"trigger_type"`
	MaxIterations  int         `json:"max_iterations"`
	Aggressiveness float64     `json:"mutation_aggressiveness"`
	StopOnFailure  bool        `json:"stop_on_failure,omitempty"`
	Gates          *GateConfig `json:"gates,omitempty"`
}

// IterationResult summarizes one trial for the caller.
type IterationResult struct {
	IterationNumber int          `json:"iteration_number"`
	Accepted        bool         `json:"accepted"`
	ChallengerID    string       `json:"challenger_id"`
	ParamDiff       string       `json:"param_diff"`
	GateResults     []GateResult `json:"gate_results"`
	RejectReason    string       `json:"reject_reason,omitempty"`
	ScoreBefore     float64      `json:"score_before"`
	ScoreAfter      float64      `json:"score_after"`
}

// IterateResponse is the batch outcome of one loop invocation.
type IterateResponse struct {
	IterationsRun        int               `json:"iterations_run"`
	SuccessfulIterations int               `json:"successful_iterations"`
	CurrentChampionID    string            `json:"current_champion_id"`
	Results              []IterationResult `json:"results"`
}
