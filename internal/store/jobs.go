package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"quantlab/internal/tuner"
)

// CreateJob saves a new tuning job.
func (s *Store) CreateJob(ctx context.Context, j *tuner.TuningJob) error {
	query := `
		INSERT INTO tuning_jobs
			(id, group_id, status, trials_total, trials_completed, best_score,
			 best_version_id, train_dataset_id, val_dataset_id, test_dataset_id, test_score,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, $9, $10, $11, NOW(), NOW())
	`
	if _, err := s.db.ExecContext(ctx, query,
		j.ID, j.GroupID, j.Status, j.TrialsTotal, j.TrialsCompleted, j.BestScore,
		j.BestVersionID, j.TrainDatasetID, j.ValDatasetID, j.TestDatasetID, j.TestScore); err != nil {
		return fmt.Errorf("failed to create tuning job: %w", err)
	}
	return nil
}

// GetJob loads a tuning job by ID.
func (s *Store) GetJob(ctx context.Context, id string) (*tuner.TuningJob, error) {
	query := `
		SELECT id, group_id, status, trials_total, trials_completed, best_score,
		       COALESCE(best_version_id, ''), train_dataset_id, val_dataset_id, test_dataset_id,
		       test_score, created_at, updated_at
		FROM tuning_jobs
		WHERE id = $1
	`
	var j tuner.TuningJob
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&j.ID, &j.GroupID, &j.Status, &j.TrialsTotal, &j.TrialsCompleted, &j.BestScore,
		&j.BestVersionID, &j.TrainDatasetID, &j.ValDatasetID, &j.TestDatasetID,
		&j.TestScore, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("tuning job %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tuning job: %w", err)
	}
	return &j, nil
}

// ListJobsByStatus returns tuning jobs in the given state, oldest
// first so interrupted jobs resume in submission order.
func (s *Store) ListJobsByStatus(ctx context.Context, status tuner.JobStatus) ([]*tuner.TuningJob, error) {
	query := `
		SELECT id, group_id, status, trials_total, trials_completed, best_score,
		       COALESCE(best_version_id, ''), train_dataset_id, val_dataset_id, test_dataset_id,
		       test_score, created_at, updated_at
		FROM tuning_jobs
		WHERE status = $1
		ORDER BY created_at
	`
	rows, err := s.db.QueryContext(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list tuning jobs: %w", err)
	}
	defer rows.Close()

	var out []*tuner.TuningJob
	for rows.Next() {
		var j tuner.TuningJob
		if err := rows.Scan(
			&j.ID, &j.GroupID, &j.Status, &j.TrialsTotal, &j.TrialsCompleted, &j.BestScore,
			&j.BestVersionID, &j.TrainDatasetID, &j.ValDatasetID, &j.TestDatasetID,
			&j.TestScore, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tuning job: %w", err)
		}
		out = append(out, &j)
	}
	return out, rows.Err()
}

// UpdateJob persists a job's mutable progress fields.
func (s *Store) UpdateJob(ctx context.Context, j *tuner.TuningJob) error {
	query := `
		UPDATE tuning_jobs
		SET status = $2, trials_completed = $3, best_score = $4,
		    best_version_id = NULLIF($5, ''), test_score = $6, updated_at = NOW()
		WHERE id = $1
	`
	result, err := s.db.ExecContext(ctx, query,
		j.ID, j.Status, j.TrialsCompleted, j.BestScore, j.BestVersionID, j.TestScore)
	if err != nil {
		return fmt.Errorf("failed to update tuning job: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("tuning job %s not found", j.ID)
	}
	return nil
}

// CreateTrial appends one completed trial record.
func (s *Store) CreateTrial(ctx context.Context, t *tuner.TuningTrial) error {
	paramsJSON, err := json.Marshal(t.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal trial params: %w", err)
	}

	query := `
		INSERT INTO tuning_trials
			(id, job_id, trial_index, version_id, params, train_score, val_score, accepted, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
	`
	if _, err := s.db.ExecContext(ctx, query,
		t.ID, t.JobID, t.Index, t.VersionID, paramsJSON,
		t.TrainScore, t.ValScore, t.Accepted); err != nil {
		return fmt.Errorf("failed to create tuning trial: %w", err)
	}
	return nil
}

// ListTrials returns a job's trials in execution order.
func (s *Store) ListTrials(ctx context.Context, jobID string) ([]*tuner.TuningTrial, error) {
	query := `
		SELECT id, job_id, trial_index, version_id, params, train_score, val_score, accepted, created_at
		FROM tuning_trials
		WHERE job_id = $1
		ORDER BY trial_index
	`
	rows, err := s.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tuning trials: %w", err)
	}
	defer rows.Close()

	var out []*tuner.TuningTrial
	for rows.Next() {
		var (
			t          tuner.TuningTrial
			paramsJSON []byte
		)
		if err := rows.Scan(&t.ID, &t.JobID, &t.Index, &t.VersionID, &paramsJSON,
			&t.TrainScore, &t.ValScore, &t.Accepted, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tuning trial: %w", err)
		}
		if err := json.Unmarshal(paramsJSON, &t.Params); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trial params: %w", err)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}
