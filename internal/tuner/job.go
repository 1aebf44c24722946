package tuner

import (
	"context"
	"time"

	"github.com/google/uuid"

	"quantlab/internal/errors"
	"quantlab/internal/logger"
	"quantlab/internal/strategy"
)

// JobStore persists tuning jobs and their trials.
type JobStore interface {
	Store

	GetJob(ctx context.Context, id string) (*TuningJob, error)
	CreateJob(ctx context.Context, job *TuningJob) error
	UpdateJob(ctx context.Context, job *TuningJob) error
	CreateTrial(ctx context.Context, trial *TuningTrial) error
}

// JobRunner executes tuning jobs trial by trial. Progress is persisted
// after every trial so a paused or crashed job resumes from where it
// stopped instead of starting over.
type JobRunner struct {
	store    JobStore
	executor Executor
	mutator  *Mutator
	log      logger.Logger
}

// NewJobRunner creates a tuning job runner.
func NewJobRunner(store JobStore, executor Executor, mutator *Mutator) *JobRunner {
	return &JobRunner{
		store:    store,
		executor: executor,
		mutator:  mutator,
		log:      logger.Global().WithField("component", "tuner_jobs"),
	}
}

// Start creates a new running job for the group and returns it. The
// caller drives it with Run.
func (r *JobRunner) Start(ctx context.Context, groupID string, trials int, trainDS, valDS, testDS string) (*TuningJob, error) {
	if trials <= 0 {
		return nil, errors.Newf(errors.ErrCodeConfigInvalid, "trials_total must be positive, got %d", trials)
	}
	job := &TuningJob{
		ID:             uuid.NewString(),
		GroupID:        groupID,
		Status:         JobStatusRunning,
		TrialsTotal:    trials,
		TrainDatasetID: trainDS,
		ValDatasetID:   valDS,
		TestDatasetID:  testDS,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}
	if err := r.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Pause marks a running job paused. The running loop observes the flag
// between trials.
func (r *JobRunner) Pause(ctx context.Context, jobID string) error {
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != JobStatusRunning {
		return errors.Newf(errors.ErrCodeConfigInvalid, "job %s is %s, not running", jobID, job.Status)
	}
	job.Status = JobStatusPaused
	job.UpdatedAt = time.Now()
	return r.store.UpdateJob(ctx, job)
}

// Resume flips a paused job back to running and continues its trials.
func (r *JobRunner) Resume(ctx context.Context, jobID string) (*TuningJob, error) {
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != JobStatusPaused {
		return nil, errors.Newf(errors.ErrCodeConfigInvalid, "job %s is %s, not paused", jobID, job.Status)
	}
	job.Status = JobStatusRunning
	job.UpdatedAt = time.Now()
	if err := r.store.UpdateJob(ctx, job); err != nil {
		return nil, err
	}
	return job, r.Run(ctx, job.ID)
}

// Run executes trials until the job completes, is paused, or the
// context is cancelled. On completion the best candidate is scored once
// on the held-out test dataset.
func (r *JobRunner) Run(ctx context.Context, jobID string) error {
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status == JobStatusDone {
		return nil
	}

	group, err := r.store.GetGroup(ctx, job.GroupID)
	if err != nil {
		return err
	}
	strat, err := r.store.GetStrategy(ctx, group.StrategyID)
	if err != nil {
		return err
	}
	if group.ChampionVersionID == "" {
		return errors.Newf(errors.ErrCodeConfigInvalid,
			"experiment group %s has no champion version", group.ID)
	}
	champion, err := r.store.GetVersion(ctx, group.ChampionVersionID)
	if err != nil {
		return err
	}
	objective := group.Objective
	if objective == (ObjectiveConfig{}) {
		objective = DefaultObjective
	}

	log := r.log.WithFields(map[string]interface{}{
		"job_id":   job.ID,
		"group_id": job.GroupID,
	})
	log.Info("tuning job running",
		"trials_completed", job.TrialsCompleted,
		"trials_total", job.TrialsTotal)

	for job.TrialsCompleted < job.TrialsTotal {
		if err := ctx.Err(); err != nil {
			return err
		}
		// Re-read the status so an external Pause takes effect at the
		// next trial boundary.
		current, err := r.store.GetJob(ctx, job.ID)
		if err != nil {
			return err
		}
		if current.Status == JobStatusPaused {
			log.Info("tuning job paused", "trials_completed", job.TrialsCompleted)
			return nil
		}

		trial, err := r.runTrial(ctx, job, strat, champion, objective)
		if err != nil {
			return err
		}

		job.TrialsCompleted++
		if trial.Accepted {
			job.BestScore = trial.ValScore
			job.BestVersionID = trial.VersionID
		}
		job.UpdatedAt = time.Now()
		if err := r.store.UpdateJob(ctx, job); err != nil {
			return err
		}
	}

	return r.finish(ctx, job, objective, log)
}

// runTrial mutates off the champion, scores the candidate on train and
// validation splits, and keeps it when validation improves on the best
// seen so far.
func (r *JobRunner) runTrial(ctx context.Context, job *TuningJob, strat *strategy.Strategy, champion *strategy.Version, objective ObjectiveConfig) (*TuningTrial, error) {
	mutated, _, err := r.mutator.Mutate(champion.Params, strat.Schema, 1.0)
	if err != nil {
		return nil, err
	}
	candidate := strategy.NewVersion(strat.ID, mutated, champion.RiskLimits)
	if err := r.store.CreateVersion(ctx, candidate); err != nil {
		return nil, err
	}

	trainMetrics, err := r.executor.ExecuteAndWait(ctx, candidate.ID, job.TrainDatasetID)
	if err != nil {
		return nil, err
	}
	valMetrics, err := r.executor.ExecuteAndWait(ctx, candidate.ID, job.ValDatasetID)
	if err != nil {
		return nil, err
	}

	trainScore := Score(*trainMetrics, objective)
	valScore := Score(*valMetrics, objective)
	accepted := job.BestVersionID == "" || valScore > job.BestScore

	trial := &TuningTrial{
		ID:         uuid.NewString(),
		JobID:      job.ID,
		Index:      job.TrialsCompleted,
		VersionID:  candidate.ID,
		Params:     mutated,
		TrainScore: trainScore,
		ValScore:   valScore,
		Accepted:   accepted,
		CreatedAt:  time.Now(),
	}
	if err := r.store.CreateTrial(ctx, trial); err != nil {
		return nil, err
	}
	status := strategy.StatusRejected
	if accepted {
		status = strategy.StatusBacktested
	}
	if err := r.store.UpdateVersionStatus(ctx, candidate.ID, status); err != nil {
		return nil, err
	}
	return trial, nil
}

// finish scores the best candidate on the untouched test split and
// marks the job done. A job whose trials all regressed finishes with no
// best version and no test score.
func (r *JobRunner) finish(ctx context.Context, job *TuningJob, objective ObjectiveConfig, log logger.Logger) error {
	if job.BestVersionID != "" {
		testMetrics, err := r.executor.ExecuteAndWait(ctx, job.BestVersionID, job.TestDatasetID)
		if err != nil {
			return err
		}
		job.TestScore = Score(*testMetrics, objective)
	}
	job.Status = JobStatusDone
	job.UpdatedAt = time.Now()
	if err := r.store.UpdateJob(ctx, job); err != nil {
		return err
	}
	log.Info("tuning job finished",
		"best_version_id", job.BestVersionID,
		"best_val_score", job.BestScore,
		"test_score", job.TestScore)
	return nil
}
