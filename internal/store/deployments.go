package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"quantlab/internal/broker"
	"quantlab/internal/live"
	"quantlab/internal/strategy"
)

// CreateDeployment saves a new paper deployment.
func (s *Store) CreateDeployment(ctx context.Context, d *live.Deployment) error {
	paramsJSON, err := json.Marshal(d.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}
	symbolsJSON, err := json.Marshal(d.Symbols)
	if err != nil {
		return fmt.Errorf("failed to marshal symbols: %w", err)
	}
	configJSON, err := json.Marshal(d.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	query := `
		INSERT INTO deployments
			(id, strategy_version_id, family, params, symbols, config, status,
			 halted, halt_reason, position, daily_pnl, daily_trades, trading_day,
			 last_signal_type, last_signal_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULL, $10, $11, $12, $13, $14, NOW(), NOW())
	`
	if _, err := s.db.ExecContext(ctx, query,
		d.ID, d.StrategyVersionID, d.Family, paramsJSON, symbolsJSON, configJSON,
		d.Status, d.Halted, d.HaltReason, d.DailyPnL, d.DailyTrades, d.TradingDay,
		d.LastSignalType, d.LastSignalAt); err != nil {
		return fmt.Errorf("failed to create deployment: %w", err)
	}
	return nil
}

// GetDeployment loads a deployment by ID.
func (s *Store) GetDeployment(ctx context.Context, id string) (*live.Deployment, error) {
	query := deploymentSelect + ` WHERE id = $1`
	d, err := s.scanDeployment(s.db.QueryRowContext(ctx, query, id))
	if err == errDeploymentNotFound {
		return nil, fmt.Errorf("deployment %s not found", id)
	}
	return d, err
}

// ListDeployments returns all deployments, newest first.
func (s *Store) ListDeployments(ctx context.Context) ([]*live.Deployment, error) {
	return s.listDeployments(ctx, deploymentSelect+` ORDER BY created_at DESC`)
}

// ListRunningDeployments returns deployments eligible for execution.
func (s *Store) ListRunningDeployments(ctx context.Context) ([]*live.Deployment, error) {
	return s.listDeployments(ctx, deploymentSelect+` WHERE status = 'running' ORDER BY created_at`)
}

func (s *Store) listDeployments(ctx context.Context, query string) ([]*live.Deployment, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	defer rows.Close()

	var out []*live.Deployment
	for rows.Next() {
		d, err := s.scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// SaveDeployment persists the deployment's mutable execution state.
func (s *Store) SaveDeployment(ctx context.Context, d *live.Deployment) error {
	positionJSON, err := marshalNullable(d.Position)
	if err != nil {
		return fmt.Errorf("failed to marshal position: %w", err)
	}

	query := `
		UPDATE deployments
		SET status = $2, halted = $3, halt_reason = $4, position = $5,
		    daily_pnl = $6, daily_trades = $7, trading_day = $8,
		    last_signal_type = $9, last_signal_at = $10, updated_at = NOW()
		WHERE id = $1
	`
	result, err := s.db.ExecContext(ctx, query,
		d.ID, d.Status, d.Halted, d.HaltReason, positionJSON,
		d.DailyPnL, d.DailyTrades, d.TradingDay, d.LastSignalType, d.LastSignalAt)
	if err != nil {
		return fmt.Errorf("failed to save deployment: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("deployment %s not found", d.ID)
	}
	return nil
}

// AcquireLease claims exclusive processing of a deployment with a
// compare-and-swap on the lease column. An expired lease is claimable,
// so a crashed worker never blocks a deployment forever.
func (s *Store) AcquireLease(ctx context.Context, deploymentID string, until time.Time) (bool, error) {
	query := `
		UPDATE deployments
		SET lease_until = $2
		WHERE id = $1 AND (lease_until IS NULL OR lease_until < NOW())
	`
	result, err := s.db.ExecContext(ctx, query, deploymentID, until)
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease: %w", err)
	}
	return n == 1, nil
}

// ReleaseLease frees the deployment for the next worker.
func (s *Store) ReleaseLease(ctx context.Context, deploymentID string) error {
	query := `UPDATE deployments SET lease_until = NULL WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, query, deploymentID); err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}

// UpsertOrder mirrors a brokerage order. The row is keyed by the
// brokerage's own order ID, so repeated syncs of the same order are
// safe to re-run.
func (s *Store) UpsertOrder(ctx context.Context, deploymentID string, o *broker.Order) error {
	query := `
		INSERT INTO orders
			(broker_order_id, deployment_id, symbol, side, qty, order_type, status,
			 submitted_at, filled_at, filled_avg_price, filled_qty, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (broker_order_id)
		DO UPDATE SET
			status = EXCLUDED.status,
			filled_at = EXCLUDED.filled_at,
			filled_avg_price = EXCLUDED.filled_avg_price,
			filled_qty = EXCLUDED.filled_qty,
			updated_at = NOW()
	`
	if _, err := s.db.ExecContext(ctx, query,
		o.ID, deploymentID, o.Symbol, o.Side, o.Qty, o.Type, o.Status,
		o.SubmittedAt, o.FilledAt, o.FilledAvgPrice, o.FilledQty); err != nil {
		return fmt.Errorf("failed to upsert order: %w", err)
	}
	return nil
}

// SyncOrders mirrors a batch of brokerage orders for a deployment.
func (s *Store) SyncOrders(ctx context.Context, deploymentID string, orders []broker.Order) error {
	for i := range orders {
		if err := s.UpsertOrder(ctx, deploymentID, &orders[i]); err != nil {
			return err
		}
	}
	return nil
}

// CreateSnapshot appends one equity/cash/position snapshot.
func (s *Store) CreateSnapshot(ctx context.Context, snap *live.Snapshot) error {
	positionJSON, err := marshalNullable(snap.Position)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot position: %w", err)
	}

	query := `
		INSERT INTO position_snapshots (id, deployment_id, equity, cash, position, daily_pnl, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now()
	}
	if _, err := s.db.ExecContext(ctx, query,
		snap.ID, snap.DeploymentID, snap.Equity, snap.Cash, positionJSON,
		snap.DailyPnL, snap.CreatedAt); err != nil {
		return fmt.Errorf("failed to create snapshot: %w", err)
	}
	return nil
}

// GetDeploymentStats derives realized performance from the order
// mirror and the snapshot equity curve.
func (s *Store) GetDeploymentStats(ctx context.Context, deploymentID string) (*live.DeploymentStats, error) {
	stats := &live.DeploymentStats{}

	// Round trips from the filled-order mirror: orders alternate
	// open/close for a single-position deployment.
	orderQuery := `
		SELECT side, filled_qty, filled_avg_price
		FROM orders
		WHERE deployment_id = $1 AND status = 'filled'
		ORDER BY submitted_at
	`
	rows, err := s.db.QueryContext(ctx, orderQuery, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load orders: %w", err)
	}
	defer rows.Close()

	type fill struct {
		side  string
		qty   int64
		price float64
	}
	var open *fill
	wins := 0
	for rows.Next() {
		var f fill
		if err := rows.Scan(&f.side, &f.qty, &f.price); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		if open == nil {
			open = &f
			continue
		}
		// Closing fill: realize P&L against the opening fill.
		dir := 1.0
		if open.side == string(broker.OrderSideSell) {
			dir = -1.0
		}
		pnl := dir * (f.price - open.price) * float64(open.qty)
		stats.NetPnL += pnl
		stats.Trades++
		if pnl > 0 {
			wins++
		}
		open = nil
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if stats.Trades > 0 {
		stats.WinRate = float64(wins) / float64(stats.Trades)
	}

	// Max drawdown from the snapshot equity curve.
	snapQuery := `
		SELECT equity FROM position_snapshots
		WHERE deployment_id = $1
		ORDER BY created_at
	`
	snapRows, err := s.db.QueryContext(ctx, snapQuery, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshots: %w", err)
	}
	defer snapRows.Close()

	var peak float64
	for snapRows.Next() {
		var equity float64
		if err := snapRows.Scan(&equity); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		if equity > peak {
			peak = equity
		}
		if peak > 0 {
			if dd := (peak - equity) / peak; dd > stats.MaxDrawdown {
				stats.MaxDrawdown = dd
			}
		}
	}
	return stats, snapRows.Err()
}

const deploymentSelect = `
	SELECT id, strategy_version_id, family, params, symbols, config, status,
	       halted, COALESCE(halt_reason, ''), position, daily_pnl, daily_trades,
	       COALESCE(trading_day, ''), COALESCE(last_signal_type, ''), last_signal_at,
	       created_at, updated_at
	FROM deployments`

var errDeploymentNotFound = fmt.Errorf("deployment not found")

func (s *Store) scanDeployment(row rowScanner) (*live.Deployment, error) {
	var (
		d            live.Deployment
		paramsJSON   []byte
		symbolsJSON  []byte
		configJSON   []byte
		positionJSON []byte
		lastSignalAt sql.NullTime
	)
	err := row.Scan(&d.ID, &d.StrategyVersionID, &d.Family, &paramsJSON, &symbolsJSON,
		&configJSON, &d.Status, &d.Halted, &d.HaltReason, &positionJSON,
		&d.DailyPnL, &d.DailyTrades, &d.TradingDay, &d.LastSignalType, &lastSignalAt,
		&d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errDeploymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan deployment: %w", err)
	}
	if err := json.Unmarshal(paramsJSON, &d.Params); err != nil {
		return nil, fmt.Errorf("failed to unmarshal params: %w", err)
	}
	if err := json.Unmarshal(symbolsJSON, &d.Symbols); err != nil {
		return nil, fmt.Errorf("failed to unmarshal symbols: %w", err)
	}
	if err := json.Unmarshal(configJSON, &d.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if len(positionJSON) > 0 {
		if err := json.Unmarshal(positionJSON, &d.Position); err != nil {
			return nil, fmt.Errorf("failed to unmarshal position: %w", err)
		}
	}
	if lastSignalAt.Valid {
		d.LastSignalAt = &lastSignalAt.Time
	}
	return &d, nil
}

// marshalNullable encodes a position as JSON, mapping nil to SQL NULL.
func marshalNullable(p *strategy.Position) (interface{}, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(p)
}
