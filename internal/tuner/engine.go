package tuner

import (
	"context"
	"time"

	"github.com/google/uuid"

	"quantlab/internal/backtest"
	"quantlab/internal/errors"
	"quantlab/internal/logger"
	"quantlab/internal/monitoring"
	"quantlab/internal/strategy"
)

// Store is the persistence surface the iteration engine needs.
type Store interface {
	GetGroup(ctx context.Context, id string) (*ExperimentGroup, error)
	GetStrategy(ctx context.Context, id string) (*strategy.Strategy, error)
	GetVersion(ctx context.Context, id string) (*strategy.Version, error)
	CreateVersion(ctx context.Context, v *strategy.Version) error
	UpdateVersionStatus(ctx context.Context, id string, status strategy.LifecycleStatus) error
	// SetChampion atomically moves the group's champion pointer.
	SetChampion(ctx context.Context, groupID, versionID string) error
	// ListCompletedRunMetrics returns metrics of all completed runs for
	// a version, feeding the element-wise best aggregation.
	ListCompletedRunMetrics(ctx context.Context, versionID string) ([]backtest.RunMetrics, error)
	// CreateIteration appends the audit record, assigning it.Number
	// from the group-owned sequence.
	CreateIteration(ctx context.Context, it *Iteration) error
}

// Executor runs a backtest and blocks until its metrics are available.
type Executor interface {
	ExecuteAndWait(ctx context.Context, versionID, datasetID string) (*backtest.RunMetrics, error)
}

// Engine is the hill-climbing iteration loop: it mutates the champion,
// backtests the challenger and promotes it when the acceptance gate
// passes, carrying the new baseline forward within the same batch.
type Engine struct {
	store    Store
	executor Executor
	mutator  *Mutator
	metrics  *monitoring.Metrics
	log      logger.Logger
}

// NewEngine creates an iteration engine.
func NewEngine(store Store, executor Executor, mutator *Mutator, metrics *monitoring.Metrics) *Engine {
	return &Engine{
		store:    store,
		executor: executor,
		mutator:  mutator,
		metrics:  metrics,
		log:      logger.Global().WithField("component", "tuner_engine"),
	}
}

// Iterate runs up to req.MaxIterations trials for the group. A zero
// iteration count is a no-op: no versions are created and the champion
// pointer does not move.
func (e *Engine) Iterate(ctx context.Context, req IterateRequest) (*IterateResponse, error) {
	group, err := e.store.GetGroup(ctx, req.GroupID)
	if err != nil {
		return nil, err
	}
	resp := &IterateResponse{CurrentChampionID: group.ChampionVersionID}
	if req.MaxIterations <= 0 {
		return resp, nil
	}

	strat, err := e.store.GetStrategy(ctx, group.StrategyID)
	if err != nil {
		return nil, err
	}
	if group.ChampionVersionID == "" {
		return nil, errors.Newf(errors.ErrCodeConfigInvalid,
			"experiment group %s has no champion version", group.ID)
	}
	champion, err := e.store.GetVersion(ctx, group.ChampionVersionID)
	if err != nil {
		return nil, err
	}

	gate := NewGate(req.Gates)
	objective := group.Objective
	if objective == (ObjectiveConfig{}) {
		objective = DefaultObjective
	}

	bestID := champion.ID
	bestParams := champion.Params
	bestMetrics, err := e.baseline(ctx, champion, group.DatasetID)
	if err != nil {
		return nil, err
	}
	bestScore := Score(bestMetrics, objective)

	log := e.log.WithFields(map[string]interface{}{
		"group_id": group.ID,
		"trigger":  req.TriggerType,
	})
	log.Info("iteration loop starting",
		"max_iterations", req.MaxIterations,
		"champion_id", bestID,
		"champion_score", bestScore)

	for i := 0; i < req.MaxIterations; i++ {
		result, challenger, challengerMetrics, err := e.runTrial(
			ctx, group, strat, gate, objective, bestID, bestParams, bestMetrics, bestScore, req.Aggressiveness)
		if err != nil {
			// A failed backtest aborts the batch; completed trials are
			// still reported.
			resp.CurrentChampionID = bestID
			return resp, err
		}

		resp.IterationsRun++
		resp.Results = append(resp.Results, *result)
		if e.metrics != nil {
			e.metrics.ObserveIteration(group.ID, result.Accepted)
		}

		if result.Accepted {
			resp.SuccessfulIterations++
			// Progressive improvement: the promoted challenger becomes
			// the baseline for the next trial in this batch.
			bestID = challenger.ID
			bestParams = challenger.Params
			bestMetrics = challengerMetrics
			bestScore = result.ScoreAfter
		} else if req.StopOnFailure {
			log.Info("stopping on first rejection", "iteration_number", result.IterationNumber)
			break
		}
	}

	resp.CurrentChampionID = bestID
	log.Info("iteration loop finished",
		"iterations_run", resp.IterationsRun,
		"accepted", resp.SuccessfulIterations,
		"champion_id", bestID)
	return resp, nil
}

// baseline aggregates the champion's completed runs; when none exist it
// runs one baseline backtest first so the very first challenger has
// something to beat.
func (e *Engine) baseline(ctx context.Context, champion *strategy.Version, datasetID string) (backtest.RunMetrics, error) {
	metrics, err := e.store.ListCompletedRunMetrics(ctx, champion.ID)
	if err != nil {
		return backtest.RunMetrics{}, err
	}
	if best, ok := backtest.BestObserved(metrics); ok {
		return best, nil
	}

	e.log.Info("champion has no completed backtest, running baseline",
		"version_id", champion.ID, "dataset_id", datasetID)
	if _, err := e.executor.ExecuteAndWait(ctx, champion.ID, datasetID); err != nil {
		return backtest.RunMetrics{}, err
	}
	metrics, err = e.store.ListCompletedRunMetrics(ctx, champion.ID)
	if err != nil {
		return backtest.RunMetrics{}, err
	}
	best, ok := backtest.BestObserved(metrics)
	if !ok {
		return backtest.RunMetrics{}, errors.Newf(errors.ErrCodeInternal,
			"baseline backtest for version %s produced no metrics", champion.ID)
	}
	return best, nil
}

func (e *Engine) runTrial(
	ctx context.Context,
	group *ExperimentGroup,
	strat *strategy.Strategy,
	gate *Gate,
	objective ObjectiveConfig,
	bestID string,
	bestParams map[string]float64,
	bestMetrics backtest.RunMetrics,
	bestScore float64,
	aggressiveness float64,
) (*IterationResult, *strategy.Version, backtest.RunMetrics, error) {
	mutated, mutatedKey, err := e.mutator.Mutate(bestParams, strat.Schema, aggressiveness)
	if err != nil {
		return nil, nil, backtest.RunMetrics{}, err
	}
	if err := strat.Schema.Validate(mutated); err != nil {
		return nil, nil, backtest.RunMetrics{}, err
	}

	parent, err := e.store.GetVersion(ctx, bestID)
	if err != nil {
		return nil, nil, backtest.RunMetrics{}, err
	}
	challenger := strategy.NewVersion(strat.ID, mutated, parent.RiskLimits)
	if err := e.store.CreateVersion(ctx, challenger); err != nil {
		return nil, nil, backtest.RunMetrics{}, err
	}

	if _, err := e.executor.ExecuteAndWait(ctx, challenger.ID, group.DatasetID); err != nil {
		// The challenger never got scored; mark it rejected so it does
		// not linger as a draft.
		_ = e.store.UpdateVersionStatus(ctx, challenger.ID, strategy.StatusRejected)
		return nil, nil, backtest.RunMetrics{}, err
	}

	runMetrics, err := e.store.ListCompletedRunMetrics(ctx, challenger.ID)
	if err != nil {
		return nil, nil, backtest.RunMetrics{}, err
	}
	challengerMetrics, ok := backtest.BestObserved(runMetrics)
	if !ok {
		return nil, nil, backtest.RunMetrics{}, errors.Newf(errors.ErrCodeInternal,
			"backtest for challenger %s produced no metrics", challenger.ID)
	}

	challengerScore := Score(challengerMetrics, objective)
	gateResults, accepted, rejectReason := gate.Evaluate(
		challengerMetrics, bestMetrics, challengerScore, bestScore)

	iteration := &Iteration{
		ID:              uuid.NewString(),
		GroupID:         group.ID,
		ParentVersionID: bestID,
		ChildVersionID:  challenger.ID,
		ParamDiff:       strategy.ParamDiff(bestParams, mutated),
		MetricBefore:    bestMetrics,
		MetricAfter:     challengerMetrics,
		GateResults:     gateResults,
		Accepted:        accepted,
		RejectReason:    rejectReason,
		ScoreBefore:     bestScore,
		ScoreAfter:      challengerScore,
		CreatedAt:       time.Now(),
	}
	if err := e.store.CreateIteration(ctx, iteration); err != nil {
		return nil, nil, backtest.RunMetrics{}, err
	}

	log := e.log.WithFields(map[string]interface{}{
		"group_id":         group.ID,
		"iteration_number": iteration.Number,
		"challenger_id":    challenger.ID,
		"mutated_param":    mutatedKey,
	})
	if accepted {
		if err := e.store.UpdateVersionStatus(ctx, challenger.ID, strategy.StatusBacktested); err != nil {
			return nil, nil, backtest.RunMetrics{}, err
		}
		if err := e.store.SetChampion(ctx, group.ID, challenger.ID); err != nil {
			return nil, nil, backtest.RunMetrics{}, err
		}
		log.Info("challenger promoted to champion",
			"score_before", bestScore,
			"score_after", challengerScore,
			"profit_factor", challengerMetrics.ProfitFactor,
			"max_drawdown", challengerMetrics.MaxDrawdown,
			"trades", challengerMetrics.TradeCount)
	} else {
		if err := e.store.UpdateVersionStatus(ctx, challenger.ID, strategy.StatusRejected); err != nil {
			return nil, nil, backtest.RunMetrics{}, err
		}
		log.Info("challenger rejected", "reason", rejectReason)
	}

	return &IterationResult{
		IterationNumber: iteration.Number,
		Accepted:        accepted,
		ChallengerID:    challenger.ID,
		ParamDiff:       iteration.ParamDiff,
		GateResults:     gateResults,
		RejectReason:    rejectReason,
		ScoreBefore:     bestScore,
		ScoreAfter:      challengerScore,
	}, challenger, challengerMetrics, nil
}
