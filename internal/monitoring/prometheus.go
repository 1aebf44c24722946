package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight *prometheus.GaugeVec
	activeConnections    prometheus.Gauge
	apiErrorsTotal       *prometheus.CounterVec

	iterationsTotal    *prometheus.CounterVec
	backtestRunsTotal  *prometheus.CounterVec
	executorTicksTotal *prometheus.CounterVec
	ordersPlacedTotal  *prometheus.CounterVec
	riskHaltsTotal     *prometheus.CounterVec
	deploymentEquity   *prometheus.GaugeVec
}

// NewMetrics creates new Prometheus metrics
func NewMetrics() *Metrics {
	m := &Metrics{
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		httpRequestsInFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Current number of HTTP requests being processed",
			},
			[]string{"method", "endpoint"},
		),
		activeConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "websocket_connections_active",
				Help: "Number of active WebSocket connections",
			},
		),
		apiErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "api_errors_total",
				Help: "Total number of API errors",
			},
			[]string{"endpoint", "error_type"},
		),
		iterationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tuner_iterations_total",
				Help: "Total number of optimization iterations",
			},
			[]string{"group_id", "outcome"},
		),
		backtestRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "backtest_runs_total",
				Help: "Total number of backtest runs",
			},
			[]string{"status"},
		),
		executorTicksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "executor_ticks_total",
				Help: "Total number of live execution ticks",
			},
			[]string{"deployment_id", "outcome"},
		),
		ordersPlacedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orders_placed_total",
				Help: "Total number of orders placed with the brokerage",
			},
			[]string{"symbol", "side"},
		),
		riskHaltsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "risk_halts_total",
				Help: "Total number of risk halts triggered",
			},
			[]string{"reason"},
		),
		deploymentEquity: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "deployment_equity",
				Help: "Last observed account equity per deployment",
			},
			[]string{"deployment_id"},
		),
	}

	// Register metrics
	prometheus.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.httpRequestsInFlight,
		m.activeConnections,
		m.apiErrorsTotal,
		m.iterationsTotal,
		m.backtestRunsTotal,
		m.executorTicksTotal,
		m.ordersPlacedTotal,
		m.riskHaltsTotal,
		m.deploymentEquity,
	)

	return m
}

// MetricsMiddleware creates a Prometheus metrics middleware
func (m *Metrics) MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		// Track in-flight requests
		m.httpRequestsInFlight.WithLabelValues(c.Request.Method, path).Inc()
		defer m.httpRequestsInFlight.WithLabelValues(c.Request.Method, path).Dec()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		m.httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		m.httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)

		if c.Writer.Status() >= 400 {
			errorType := "client_error"
			if c.Writer.Status() >= 500 {
				errorType = "server_error"
			}
			m.apiErrorsTotal.WithLabelValues(path, errorType).Inc()
		}
	}
}

// PrometheusHandler returns the Prometheus metrics handler
func PrometheusHandler() http.Handler {
	return promhttp.Handler()
}

// ObserveIteration records one optimization trial outcome
func (m *Metrics) ObserveIteration(groupID string, accepted bool) {
	outcome := "rejected"
	if accepted {
		outcome = "accepted"
	}
	m.iterationsTotal.WithLabelValues(groupID, outcome).Inc()
}

// RecordBacktestRun records a backtest run reaching a terminal status
func (m *Metrics) RecordBacktestRun(status string) {
	m.backtestRunsTotal.WithLabelValues(status).Inc()
}

// RecordTick records one live execution tick
func (m *Metrics) RecordTick(deploymentID, outcome string) {
	m.executorTicksTotal.WithLabelValues(deploymentID, outcome).Inc()
}

// RecordOrderPlaced records an order accepted by the brokerage
func (m *Metrics) RecordOrderPlaced(symbol, side string) {
	m.ordersPlacedTotal.WithLabelValues(symbol, side).Inc()
}

// RecordRiskHalt records a triggered risk halt
func (m *Metrics) RecordRiskHalt(reason string) {
	m.riskHaltsTotal.WithLabelValues(reason).Inc()
}

// SetDeploymentEquity sets the last observed equity for a deployment
func (m *Metrics) SetDeploymentEquity(deploymentID string, equity float64) {
	m.deploymentEquity.WithLabelValues(deploymentID).Set(equity)
}

// SetActiveConnections sets the number of active WebSocket connections
func (m *Metrics) SetActiveConnections(count float64) {
	m.activeConnections.Set(count)
}
