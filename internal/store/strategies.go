package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"quantlab/internal/strategy"
)

// CreateStrategy saves a new strategy container with its schema.
func (s *Store) CreateStrategy(ctx context.Context, st *strategy.Strategy) error {
	schemaJSON, err := json.Marshal(st.Schema)
	if err != nil {
		return fmt.Errorf("failed to marshal schema: %w", err)
	}

	query := `
		INSERT INTO strategies (id, name, family, schema, current_version_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), NOW(), NOW())
	`
	if _, err := s.db.ExecContext(ctx, query,
		st.ID, st.Name, st.Family, schemaJSON, st.CurrentVersionID); err != nil {
		return fmt.Errorf("failed to create strategy: %w", err)
	}
	return nil
}

// GetStrategy loads a strategy by ID.
func (s *Store) GetStrategy(ctx context.Context, id string) (*strategy.Strategy, error) {
	query := `
		SELECT id, name, family, schema, COALESCE(current_version_id, ''), created_at, updated_at
		FROM strategies
		WHERE id = $1
	`
	var (
		st         strategy.Strategy
		schemaJSON []byte
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&st.ID, &st.Name, &st.Family, &schemaJSON, &st.CurrentVersionID, &st.CreatedAt, &st.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("strategy %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get strategy: %w", err)
	}
	if err := json.Unmarshal(schemaJSON, &st.Schema); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schema: %w", err)
	}
	return &st, nil
}

// ListStrategies returns all strategies ordered by creation time.
func (s *Store) ListStrategies(ctx context.Context) ([]*strategy.Strategy, error) {
	query := `
		SELECT id, name, family, schema, COALESCE(current_version_id, ''), created_at, updated_at
		FROM strategies
		ORDER BY created_at
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list strategies: %w", err)
	}
	defer rows.Close()

	var out []*strategy.Strategy
	for rows.Next() {
		var (
			st         strategy.Strategy
			schemaJSON []byte
		)
		if err := rows.Scan(&st.ID, &st.Name, &st.Family, &schemaJSON,
			&st.CurrentVersionID, &st.CreatedAt, &st.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan strategy: %w", err)
		}
		if err := json.Unmarshal(schemaJSON, &st.Schema); err != nil {
			return nil, fmt.Errorf("failed to unmarshal schema: %w", err)
		}
		out = append(out, &st)
	}
	return out, rows.Err()
}

// SetCurrentVersion updates the strategy's pointer to its active version.
func (s *Store) SetCurrentVersion(ctx context.Context, strategyID, versionID string) error {
	query := `UPDATE strategies SET current_version_id = $2, updated_at = NOW() WHERE id = $1`
	if _, err := s.db.ExecContext(ctx, query, strategyID, versionID); err != nil {
		return fmt.Errorf("failed to set current version: %w", err)
	}
	return nil
}

// CreateVersion saves a new strategy version. The version number is
// drawn from a sequence owned by the strategy row under a row lock, so
// concurrent writers cannot allocate the same number.
func (s *Store) CreateVersion(ctx context.Context, v *strategy.Version) error {
	paramsJSON, err := json.Marshal(v.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}
	limitsJSON, err := json.Marshal(v.RiskLimits)
	if err != nil {
		return fmt.Errorf("failed to marshal risk limits: %w", err)
	}

	return s.db.WithTx(ctx, func(tx *sql.Tx) error {
		seqQuery := `
			UPDATE strategies
			SET version_seq = version_seq + 1, updated_at = NOW()
			WHERE id = $1
			RETURNING version_seq
		`
		if err := tx.QueryRowContext(ctx, seqQuery, v.StrategyID).Scan(&v.VersionNumber); err != nil {
			if err == sql.ErrNoRows {
				return fmt.Errorf("strategy %s not found", v.StrategyID)
			}
			return fmt.Errorf("failed to allocate version number: %w", err)
		}

		insertQuery := `
			INSERT INTO strategy_versions
				(id, strategy_id, version_number, params, risk_limits, content_hash, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`
		if v.CreatedAt.IsZero() {
			v.CreatedAt = time.Now()
		}
		if _, err := tx.ExecContext(ctx, insertQuery,
			v.ID, v.StrategyID, v.VersionNumber, paramsJSON, limitsJSON,
			v.ContentHash, v.Status, v.CreatedAt); err != nil {
			return fmt.Errorf("failed to create version: %w", err)
		}
		return nil
	})
}

// GetVersion loads a strategy version by ID.
func (s *Store) GetVersion(ctx context.Context, id string) (*strategy.Version, error) {
	query := `
		SELECT id, strategy_id, version_number, params, risk_limits, content_hash, status, created_at
		FROM strategy_versions
		WHERE id = $1
	`
	return s.scanVersion(s.db.QueryRowContext(ctx, query, id))
}

// FindVersionByHash returns an existing version of the strategy with
// the same content hash, if any. Used to detect duplicate
// configurations before creating a new version.
func (s *Store) FindVersionByHash(ctx context.Context, strategyID, contentHash string) (*strategy.Version, error) {
	query := `
		SELECT id, strategy_id, version_number, params, risk_limits, content_hash, status, created_at
		FROM strategy_versions
		WHERE strategy_id = $1 AND content_hash = $2
		ORDER BY version_number DESC
		LIMIT 1
	`
	v, err := s.scanVersion(s.db.QueryRowContext(ctx, query, strategyID, contentHash))
	if err != nil && err.Error() == "version not found" {
		return nil, nil
	}
	return v, err
}

// UpdateVersionStatus changes a version's lifecycle tag. The rest of
// the row is immutable after creation.
func (s *Store) UpdateVersionStatus(ctx context.Context, id string, status strategy.LifecycleStatus) error {
	query := `UPDATE strategy_versions SET status = $2 WHERE id = $1`
	result, err := s.db.ExecContext(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to update version status: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("version %s not found", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) scanVersion(row rowScanner) (*strategy.Version, error) {
	var (
		v          strategy.Version
		paramsJSON []byte
		limitsJSON []byte
	)
	err := row.Scan(&v.ID, &v.StrategyID, &v.VersionNumber, &paramsJSON,
		&limitsJSON, &v.ContentHash, &v.Status, &v.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("version not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan version: %w", err)
	}
	if err := json.Unmarshal(paramsJSON, &v.Params); err != nil {
		return nil, fmt.Errorf("failed to unmarshal params: %w", err)
	}
	if err := json.Unmarshal(limitsJSON, &v.RiskLimits); err != nil {
		return nil, fmt.Errorf("failed to unmarshal risk limits: %w", err)
	}
	return &v, nil
}
