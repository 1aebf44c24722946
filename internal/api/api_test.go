package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quantlab/internal/config"
	"quantlab/internal/errors"
	"quantlab/internal/live"
	"quantlab/internal/tuner"
)

type stubTuner struct {
	resp *tuner.IterateResponse
	err  error
	last tuner.IterateRequest
}

func (s *stubTuner) Iterate(_ context.Context, req tuner.IterateRequest) (*tuner.IterateResponse, error) {
	s.last = req
	return s.resp, s.err
}

type stubExecution struct {
	tick    *live.TickResult
	batch   *live.TickBatchResult
	tickErr error
}

func (s *stubExecution) Tick(_ context.Context, _ live.TickRequest) (*live.TickResult, error) {
	return s.tick, s.tickErr
}

func (s *stubExecution) TickAll(_ context.Context) (*live.TickBatchResult, error) {
	return s.batch, nil
}

func (s *stubExecution) Stop(_ context.Context, _ string) (*live.Deployment, error) {
	return &live.Deployment{Status: live.StatusStopped}, nil
}

func (s *stubExecution) ClearHalt(_ context.Context, _ string) (*live.Deployment, error) {
	return &live.Deployment{}, nil
}

func (s *stubExecution) Evaluate(_ context.Context, _ string) (*live.EvaluationResult, error) {
	return &live.EvaluationResult{Passed: true}, nil
}

func testRouter(t *testing.T, tunerSvc TunerService, execSvc ExecutionService) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{}
	cfg.App.Name = "quantlab-test"
	server := NewServer(cfg, Dependencies{
		Tuner:    tunerSvc,
		Executor: execSvc,
	})
	return server.Router()
}

func TestIterateEndpoint(t *testing.T) {
	stub := &stubTuner{resp: &tuner.IterateResponse{
		IterationsRun:        2,
		SuccessfulIterations: 1,
		CurrentChampionID:    "ver-9",
	}}
	router := testRouter(t, stub, &stubExecution{})

	body, _ := json.Marshal(map[string]interface{}{
		"experiment_group_id":     "group-1",
		"trigger_type":            "manual",
		"max_iterations":          2,
		"mutation_aggressiveness": 0.5,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/tuner/iterate", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "group-1", stub.last.GroupID)
	assert.Equal(t, 2, stub.last.MaxIterations)
}

func TestIterateEndpointRequiresGroupID(t *testing.T) {
	router := testRouter(t, &stubTuner{}, &stubExecution{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tuner/iterate", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTickEndpointSingleDeployment(t *testing.T) {
	stub := &stubExecution{tick: &live.TickResult{
		DeploymentID: "dep-1",
		Signal:       "hold",
		MarketOpen:   true,
	}}
	router := testRouter(t, &stubTuner{}, stub)

	body, _ := json.Marshal(map[string]string{"deployment_id": "dep-1"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/executor/tick", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
}

func TestTickEndpointAllDeployments(t *testing.T) {
	stub := &stubExecution{batch: &live.TickBatchResult{
		Results: []live.TickResult{{DeploymentID: "dep-1"}, {DeploymentID: "dep-2"}},
		Errors:  map[string]string{"dep-3": "boom"},
	}}
	router := testRouter(t, &stubTuner{}, stub)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/executor/tick", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Success bool                 `json:"success"`
		Data    live.TickBatchResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Data.Results, 2)
	assert.Contains(t, resp.Data.Errors, "dep-3")
}

func TestTickEndpointMapsMarketClosedTo422(t *testing.T) {
	stub := &stubExecution{tickErr: errors.New(errors.ErrCodeMarketClosed,
		"test trade rejected: market is closed")}
	router := testRouter(t, &stubTuner{}, stub)

	body, _ := json.Marshal(map[string]interface{}{
		"deployment_id":    "dep-1",
		"force_test_trade": true,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/executor/tick", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var resp Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "market is closed")
}

func TestHealthEndpoint(t *testing.T) {
	router := testRouter(t, &stubTuner{}, &stubExecution{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var health map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health["status"])
}
