package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"quantlab/internal/backtest"
)

// Execute enqueues a backtest run for a worker to pick up and returns
// the run ID. Completion is observed by polling the run row.
func (s *Store) Execute(ctx context.Context, strategyVersionID, datasetID string) (string, error) {
	run := &backtest.Run{
		ID:                uuid.NewString(),
		StrategyVersionID: strategyVersionID,
		DatasetID:         datasetID,
		Type:              backtest.RunTypeBacktest,
		Status:            backtest.RunStatusPending,
		CreatedAt:         time.Now(),
	}
	if err := s.CreateRun(ctx, run); err != nil {
		return "", err
	}
	return run.ID, nil
}

// CreateRun saves a new run row.
func (s *Store) CreateRun(ctx context.Context, r *backtest.Run) error {
	query := `
		INSERT INTO runs (id, strategy_version_id, dataset_id, run_type, status, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := s.db.ExecContext(ctx, query,
		r.ID, r.StrategyVersionID, r.DatasetID, r.Type, r.Status, r.Error, r.CreatedAt); err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// GetRun loads a run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (*backtest.Run, error) {
	query := `
		SELECT id, strategy_version_id, dataset_id, run_type, status, COALESCE(error, ''),
		       created_at, COALESCE(completed_at, 'epoch'::timestamptz)
		FROM runs
		WHERE id = $1
	`
	var r backtest.Run
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&r.ID, &r.StrategyVersionID, &r.DatasetID, &r.Type, &r.Status,
		&r.Error, &r.CreatedAt, &r.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &r, nil
}

// CompleteRun marks a run terminal and, on success, attaches its
// metrics in the same transaction.
func (s *Store) CompleteRun(ctx context.Context, runID string, status backtest.RunStatus, runErr string, metrics *backtest.RunMetrics) error {
	if !status.IsTerminal() {
		return fmt.Errorf("status %s is not terminal", status)
	}
	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		query := `
			UPDATE runs SET status = $2, error = $3, completed_at = NOW()
			WHERE id = $1
		`
		result, err := tx.ExecContext(ctx, query, runID, status, runErr)
		if err != nil {
			return fmt.Errorf("failed to complete run: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return fmt.Errorf("run %s not found", runID)
		}
		if metrics == nil {
			return nil
		}

		metricsQuery := `
			INSERT INTO run_metrics
				(run_id, profit_factor, net_pnl, trade_count, win_rate, max_drawdown, fees, slippage)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (run_id)
			DO UPDATE SET
				profit_factor = EXCLUDED.profit_factor,
				net_pnl = EXCLUDED.net_pnl,
				trade_count = EXCLUDED.trade_count,
				win_rate = EXCLUDED.win_rate,
				max_drawdown = EXCLUDED.max_drawdown,
				fees = EXCLUDED.fees,
				slippage = EXCLUDED.slippage
		`
		if _, err := tx.ExecContext(ctx, metricsQuery,
			runID, metrics.ProfitFactor, metrics.NetPnL, metrics.TradeCount,
			metrics.WinRate, metrics.MaxDrawdown, metrics.Fees, metrics.Slippage); err != nil {
			return fmt.Errorf("failed to save run metrics: %w", err)
		}
		return nil
	})
}

// GetRunMetrics loads the metrics attached to a completed run.
func (s *Store) GetRunMetrics(ctx context.Context, runID string) (*backtest.RunMetrics, error) {
	query := `
		SELECT run_id, profit_factor, net_pnl, trade_count, win_rate, max_drawdown, fees, slippage
		FROM run_metrics
		WHERE run_id = $1
	`
	var m backtest.RunMetrics
	err := s.db.QueryRowContext(ctx, query, runID).Scan(
		&m.RunID, &m.ProfitFactor, &m.NetPnL, &m.TradeCount,
		&m.WinRate, &m.MaxDrawdown, &m.Fees, &m.Slippage)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("metrics for run %s not found", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run metrics: %w", err)
	}
	return &m, nil
}

// ListCompletedRunMetrics returns metrics for every completed run of a
// strategy version, feeding the element-wise best aggregation.
func (s *Store) ListCompletedRunMetrics(ctx context.Context, strategyVersionID string) ([]backtest.RunMetrics, error) {
	query := `
		SELECT m.run_id, m.profit_factor, m.net_pnl, m.trade_count, m.win_rate, m.max_drawdown, m.fees, m.slippage
		FROM run_metrics m
		JOIN runs r ON r.id = m.run_id
		WHERE r.strategy_version_id = $1 AND r.status = 'done'
		ORDER BY r.created_at
	`
	rows, err := s.db.QueryContext(ctx, query, strategyVersionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list run metrics: %w", err)
	}
	defer rows.Close()

	var out []backtest.RunMetrics
	for rows.Next() {
		var m backtest.RunMetrics
		if err := rows.Scan(&m.RunID, &m.ProfitFactor, &m.NetPnL, &m.TradeCount,
			&m.WinRate, &m.MaxDrawdown, &m.Fees, &m.Slippage); err != nil {
			return nil, fmt.Errorf("failed to scan run metrics: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// NextQueuedRun claims the oldest queued run for a backtest worker,
// marking it running so concurrent workers skip it.
func (s *Store) NextQueuedRun(ctx context.Context) (*backtest.Run, error) {
	query := `
		UPDATE runs SET status = 'running'
		WHERE id = (
			SELECT id FROM runs
			WHERE status = 'pending'
			ORDER BY created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING id, strategy_version_id, dataset_id, run_type, status, COALESCE(error, ''), created_at
	`
	var r backtest.Run
	err := s.db.QueryRowContext(ctx, query).Scan(
		&r.ID, &r.StrategyVersionID, &r.DatasetID, &r.Type, &r.Status, &r.Error, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim queued run: %w", err)
	}
	return &r, nil
}
