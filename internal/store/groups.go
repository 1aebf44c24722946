package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"quantlab/internal/tuner"
)

// CreateGroup saves a new experiment group.
func (s *Store) CreateGroup(ctx context.Context, g *tuner.ExperimentGroup) error {
	objectiveJSON, err := json.Marshal(g.Objective)
	if err != nil {
		return fmt.Errorf("failed to marshal objective: %w", err)
	}

	query := `
		INSERT INTO experiment_groups
			(id, name, strategy_id, dataset_id, objective, champion_version_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NOW(), NOW())
	`
	if _, err := s.db.ExecContext(ctx, query,
		g.ID, g.Name, g.StrategyID, g.DatasetID, objectiveJSON, g.ChampionVersionID); err != nil {
		return fmt.Errorf("failed to create experiment group: %w", err)
	}
	return nil
}

// GetGroup loads an experiment group by ID.
func (s *Store) GetGroup(ctx context.Context, id string) (*tuner.ExperimentGroup, error) {
	query := `
		SELECT id, name, strategy_id, dataset_id, objective, COALESCE(champion_version_id, ''), created_at, updated_at
		FROM experiment_groups
		WHERE id = $1
	`
	var (
		g             tuner.ExperimentGroup
		objectiveJSON []byte
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&g.ID, &g.Name, &g.StrategyID, &g.DatasetID, &objectiveJSON,
		&g.ChampionVersionID, &g.CreatedAt, &g.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("experiment group %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get experiment group: %w", err)
	}
	if err := json.Unmarshal(objectiveJSON, &g.Objective); err != nil {
		return nil, fmt.Errorf("failed to unmarshal objective: %w", err)
	}
	return &g, nil
}

// ListGroups returns every experiment group, newest first.
func (s *Store) ListGroups(ctx context.Context) ([]*tuner.ExperimentGroup, error) {
	query := `
		SELECT id, name, strategy_id, dataset_id, objective, COALESCE(champion_version_id, ''), created_at, updated_at
		FROM experiment_groups
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiment groups: %w", err)
	}
	defer rows.Close()

	var out []*tuner.ExperimentGroup
	for rows.Next() {
		var (
			g             tuner.ExperimentGroup
			objectiveJSON []byte
		)
		if err := rows.Scan(&g.ID, &g.Name, &g.StrategyID, &g.DatasetID, &objectiveJSON,
			&g.ChampionVersionID, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan experiment group: %w", err)
		}
		if err := json.Unmarshal(objectiveJSON, &g.Objective); err != nil {
			return nil, fmt.Errorf("failed to unmarshal objective: %w", err)
		}
		out = append(out, &g)
	}
	return out, rows.Err()
}

// SetChampion atomically moves the group's champion pointer. The group
// owns the pointer, so there is never more than one champion.
func (s *Store) SetChampion(ctx context.Context, groupID, versionID string) error {
	query := `
		UPDATE experiment_groups
		SET champion_version_id = $2, updated_at = NOW()
		WHERE id = $1
	`
	result, err := s.db.ExecContext(ctx, query, groupID, versionID)
	if err != nil {
		return fmt.Errorf("failed to set champion: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("experiment group %s not found", groupID)
	}
	return nil
}

// CreateIteration appends one audit record. The iteration number is
// allocated from a sequence column on the group row under a row lock,
// monotonic within the group across invocations and safe under
// concurrent writers.
func (s *Store) CreateIteration(ctx context.Context, it *tuner.Iteration) error {
	beforeJSON, err := json.Marshal(it.MetricBefore)
	if err != nil {
		return fmt.Errorf("failed to marshal metric_before: %w", err)
	}
	afterJSON, err := json.Marshal(it.MetricAfter)
	if err != nil {
		return fmt.Errorf("failed to marshal metric_after: %w", err)
	}
	gatesJSON, err := json.Marshal(it.GateResults)
	if err != nil {
		return fmt.Errorf("failed to marshal gate_results: %w", err)
	}

	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		seqQuery := `
			UPDATE experiment_groups
			SET iteration_seq = iteration_seq + 1, updated_at = NOW()
			WHERE id = $1
			RETURNING iteration_seq
		`
		if err := tx.QueryRowContext(ctx, seqQuery, it.GroupID).Scan(&it.Number); err != nil {
			if err == sql.ErrNoRows {
				return fmt.Errorf("experiment group %s not found", it.GroupID)
			}
			return fmt.Errorf("failed to allocate iteration number: %w", err)
		}

		insertQuery := `
			INSERT INTO iterations
				(id, group_id, iteration_number, parent_version_id, child_version_id,
				 param_diff, metric_before, metric_after, gate_results, accepted, reject_reason,
				 score_before, score_after, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`
		if it.CreatedAt.IsZero() {
			it.CreatedAt = time.Now()
		}
		if _, err := tx.ExecContext(ctx, insertQuery,
			it.ID, it.GroupID, it.Number, it.ParentVersionID, it.ChildVersionID,
			it.ParamDiff, beforeJSON, afterJSON, gatesJSON,
			it.Accepted, it.RejectReason, it.ScoreBefore, it.ScoreAfter, it.CreatedAt); err != nil {
			return fmt.Errorf("failed to create iteration: %w", err)
		}
		return nil
	})
}

// ListIterations returns a group's lineage in iteration order.
func (s *Store) ListIterations(ctx context.Context, groupID string) ([]*tuner.Iteration, error) {
	query := `
		SELECT id, group_id, iteration_number, parent_version_id, child_version_id,
		       param_diff, metric_before, metric_after, gate_results, accepted, reject_reason,
		       score_before, score_after, created_at
		FROM iterations
		WHERE group_id = $1
		ORDER BY iteration_number
	`
	rows, err := s.db.QueryContext(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list iterations: %w", err)
	}
	defer rows.Close()

	var out []*tuner.Iteration
	for rows.Next() {
		var (
			it         tuner.Iteration
			beforeJSON []byte
			afterJSON  []byte
			gatesJSON  []byte
		)
		if err := rows.Scan(&it.ID, &it.GroupID, &it.Number, &it.ParentVersionID,
			&it.ChildVersionID, &it.ParamDiff, &beforeJSON, &afterJSON, &gatesJSON,
			&it.Accepted, &it.RejectReason, &it.ScoreBefore, &it.ScoreAfter, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan iteration: %w", err)
		}
		if err := json.Unmarshal(beforeJSON, &it.MetricBefore); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metric_before: %w", err)
		}
		if err := json.Unmarshal(afterJSON, &it.MetricAfter); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metric_after: %w", err)
		}
		if err := json.Unmarshal(gatesJSON, &it.GateResults); err != nil {
			return nil, fmt.Errorf("failed to unmarshal gate_results: %w", err)
		}
		out = append(out, &it)
	}
	return out, rows.Err()
}
