package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"quantlab/internal/errors"
	"quantlab/internal/live"
	"quantlab/internal/monitoring"
	"quantlab/internal/store"
	"quantlab/internal/strategy"
	"quantlab/internal/tuner"
)

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

// TunerService runs optimization batches.
type TunerService interface {
	Iterate(ctx context.Context, req tuner.IterateRequest) (*tuner.IterateResponse, error)
}

// JobService drives resumable tuning jobs.
type JobService interface {
	Start(ctx context.Context, groupID string, trials int, trainDS, valDS, testDS string) (*tuner.TuningJob, error)
	Run(ctx context.Context, jobID string) error
	Pause(ctx context.Context, jobID string) error
	Resume(ctx context.Context, jobID string) (*tuner.TuningJob, error)
}

// ExecutionService runs the live execution loop.
type ExecutionService interface {
	Tick(ctx context.Context, req live.TickRequest) (*live.TickResult, error)
	TickAll(ctx context.Context) (*live.TickBatchResult, error)
	Stop(ctx context.Context, deploymentID string) (*live.Deployment, error)
	ClearHalt(ctx context.Context, deploymentID string) (*live.Deployment, error)
	Evaluate(ctx context.Context, deploymentID string) (*live.EvaluationResult, error)
}

// TunerHandler handles optimization API requests
type TunerHandler struct {
	engine  TunerService
	jobs    JobService
	store   *store.Store
	metrics *monitoring.Metrics
}

// NewTunerHandler creates a new tuner handler
func NewTunerHandler(engine TunerService, jobs JobService, st *store.Store, metrics *monitoring.Metrics) *TunerHandler {
	return &TunerHandler{engine: engine, jobs: jobs, store: st, metrics: metrics}
}

// Iterate runs an optimization batch for an experiment group
func (h *TunerHandler) Iterate(c *gin.Context) {
	var req tuner.IterateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return
	}
	if req.GroupID == "" {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: "experiment_group_id is required"})
		return
	}

	resp, err := h.engine.Iterate(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: resp})
}

// ListIterations returns a group's optimization lineage
func (h *TunerHandler) ListIterations(c *gin.Context) {
	iterations, err := h.store.ListIterations(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: iterations})
}

// StartJob creates and runs a tuning job
func (h *TunerHandler) StartJob(c *gin.Context) {
	var req struct {
		GroupID        string `json:"experiment_group_id" binding:"required"`
		Trials         int    `json:"trials_total" binding:"required"`
		TrainDatasetID string `json:"train_dataset_id" binding:"required"`
		ValDatasetID   string `json:"val_dataset_id" binding:"required"`
		TestDatasetID  string `json:"test_dataset_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return
	}

	job, err := h.jobs.Start(c.Request.Context(), req.GroupID, req.Trials,
		req.TrainDatasetID, req.ValDatasetID, req.TestDatasetID)
	if err != nil {
		respondError(c, err)
		return
	}
	if err := h.jobs.Run(c.Request.Context(), job.ID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: job})
}

// GetJob returns a tuning job with its trials
func (h *TunerHandler) GetJob(c *gin.Context) {
	job, err := h.store.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	trials, err := h.store.ListTrials(c.Request.Context(), job.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: gin.H{"job": job, "trials": trials}})
}

// PauseJob pauses a running tuning job at the next trial boundary
func (h *TunerHandler) PauseJob(c *gin.Context) {
	if err := h.jobs.Pause(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Message: "job paused"})
}

// ResumeJob continues a paused tuning job from its last completed trial
func (h *TunerHandler) ResumeJob(c *gin.Context) {
	job, err := h.jobs.Resume(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: job})
}

// ExecutorHandler handles live execution API requests
type ExecutorHandler struct {
	engine  ExecutionService
	store   *store.Store
	metrics *monitoring.Metrics
	feed    *WebSocketHandler
}

// NewExecutorHandler creates a new executor handler
func NewExecutorHandler(engine ExecutionService, st *store.Store, metrics *monitoring.Metrics, feed *WebSocketHandler) *ExecutorHandler {
	return &ExecutorHandler{engine: engine, store: st, metrics: metrics, feed: feed}
}

// Tick runs one execution pass for one or all deployments
func (h *ExecutorHandler) Tick(c *gin.Context) {
	var req live.TickRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return
	}

	// An omitted deployment_id processes every running deployment.
	if req.DeploymentID == "" {
		batch, err := h.engine.TickAll(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		if h.feed != nil {
			for i := range batch.Results {
				h.feed.BroadcastTick(&batch.Results[i])
			}
		}
		c.JSON(http.StatusOK, Response{Success: true, Data: batch})
		return
	}

	result, err := h.engine.Tick(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	if h.feed != nil {
		h.feed.BroadcastTick(result)
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: result})
}

// CreateDeployment registers a new paper deployment
func (h *ExecutorHandler) CreateDeployment(c *gin.Context) {
	var d live.Deployment
	if err := c.ShouldBindJSON(&d); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return
	}
	if d.StrategyVersionID == "" || len(d.Symbols) == 0 {
		c.JSON(http.StatusBadRequest, Response{Success: false,
			Error: "strategy_version_id and symbols are required"})
		return
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Status == "" {
		d.Status = live.StatusRunning
	}
	if err := h.store.CreateDeployment(c.Request.Context(), &d); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: d})
}

// ListDeployments returns all deployments
func (h *ExecutorHandler) ListDeployments(c *gin.Context) {
	deployments, err := h.store.ListDeployments(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: deployments})
}

// GetDeployment returns one deployment
func (h *ExecutorHandler) GetDeployment(c *gin.Context) {
	d, err := h.store.GetDeployment(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: d})
}

// StopDeployment flattens and stops a deployment
func (h *ExecutorHandler) StopDeployment(c *gin.Context) {
	d, err := h.engine.Stop(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: d})
}

// ClearHalt lifts a deployment's risk halt
func (h *ExecutorHandler) ClearHalt(c *gin.Context) {
	d, err := h.engine.ClearHalt(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: d})
}

// EvaluateDeployment checks pass criteria and stops the deployment
func (h *ExecutorHandler) EvaluateDeployment(c *gin.Context) {
	result, err := h.engine.Evaluate(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: result})
}

// StrategyHandler handles strategy and version API requests
type StrategyHandler struct {
	store *store.Store
}

// NewStrategyHandler creates a new strategy handler
func NewStrategyHandler(st *store.Store) *StrategyHandler {
	return &StrategyHandler{store: st}
}

// CreateStrategy registers a strategy container with its schema
func (h *StrategyHandler) CreateStrategy(c *gin.Context) {
	var st strategy.Strategy
	if err := c.ShouldBindJSON(&st); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return
	}
	if !st.Family.IsValid() {
		c.JSON(http.StatusBadRequest, Response{Success: false,
			Error: "family must be one of breakout, mean_reversion, regime_switch"})
		return
	}
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	if err := h.store.CreateStrategy(c.Request.Context(), &st); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: st})
}

// ListStrategies returns all strategies
func (h *StrategyHandler) ListStrategies(c *gin.Context) {
	strategies, err := h.store.ListStrategies(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: strategies})
}

// GetStrategy returns one strategy
func (h *StrategyHandler) GetStrategy(c *gin.Context) {
	st, err := h.store.GetStrategy(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: st})
}

// CreateVersion creates a strategy version after schema validation.
// An existing version with the same content hash is returned instead
// of creating a duplicate.
func (h *StrategyHandler) CreateVersion(c *gin.Context) {
	var req struct {
		Params     map[string]float64 `json:"params" binding:"required"`
		RiskLimits map[string]float64 `json:"risk_limits"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, Response{Success: false, Error: err.Error()})
		return
	}

	st, err := h.store.GetStrategy(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if err := st.Schema.Validate(req.Params); err != nil {
		respondError(c, err)
		return
	}

	hash := strategy.ContentHash(req.Params, req.RiskLimits)
	if existing, err := h.store.FindVersionByHash(c.Request.Context(), st.ID, hash); err == nil && existing != nil {
		c.JSON(http.StatusOK, Response{Success: true, Data: existing,
			Message: "identical configuration already exists"})
		return
	}

	v := strategy.NewVersion(st.ID, req.Params, req.RiskLimits)
	if err := h.store.CreateVersion(c.Request.Context(), v); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: v})
}

// DuplicateVersion creates a fresh draft copy of an existing version
func (h *StrategyHandler) DuplicateVersion(c *gin.Context) {
	v, err := h.store.GetVersion(c.Request.Context(), c.Param("versionId"))
	if err != nil {
		respondError(c, err)
		return
	}
	dup := v.Duplicate()
	if err := h.store.CreateVersion(c.Request.Context(), dup); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, Response{Success: true, Data: dup})
}

// respondError maps application errors to HTTP status codes.
func respondError(c *gin.Context, err error) {
	status := errors.AsAppError(err).HTTPStatus()
	c.JSON(status, Response{Success: false, Error: err.Error()})
}
