package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"quantlab/internal/config"
	"quantlab/internal/database"
	"quantlab/internal/logger"
	"quantlab/internal/monitoring"
	"quantlab/internal/store"
)

// Server represents the API server
type Server struct {
	config     *config.Config
	router     *gin.Engine
	httpServer *http.Server
	upgrader   websocket.Upgrader
	handlers   *Handlers

	db      *database.DB
	metrics *monitoring.Metrics
	log     logger.Logger
}

// Handlers contains all API handlers
type Handlers struct {
	Tuner     *TunerHandler
	Executor  *ExecutorHandler
	Strategy  *StrategyHandler
	WebSocket *WebSocketHandler
}

// Dependencies carries the wired services the server exposes.
type Dependencies struct {
	DB       *database.DB
	Store    *store.Store
	Tuner    TunerService
	Jobs     JobService
	Executor ExecutionService
	Metrics  *monitoring.Metrics
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, deps Dependencies) *Server {
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	server := &Server{
		config: cfg,
		router: gin.New(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		db:      deps.DB,
		metrics: deps.Metrics,
		log:     logger.Global().WithField("component", "api"),
	}

	feed := NewWebSocketHandler(server.upgrader, deps.Metrics)
	server.handlers = &Handlers{
		Tuner:     NewTunerHandler(deps.Tuner, deps.Jobs, deps.Store, deps.Metrics),
		Executor:  NewExecutorHandler(deps.Executor, deps.Store, deps.Metrics, feed),
		Strategy:  NewStrategyHandler(deps.Store),
		WebSocket: feed,
	}

	server.setupRoutes()
	return server
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())
	if s.metrics != nil {
		s.router.Use(s.metrics.MetricsMiddleware())
	}

	if s.config.Monitoring.PrometheusEnabled {
		s.router.GET(s.config.Monitoring.PrometheusPath, gin.WrapH(monitoring.PrometheusHandler()))
	}

	s.router.GET("/health", s.healthCheck)

	v1 := s.router.Group("/api/v1")
	{
		tuner := v1.Group("/tuner")
		{
			tuner.POST("/iterate", s.handlers.Tuner.Iterate)
			tuner.POST("/jobs", s.handlers.Tuner.StartJob)
			tuner.GET("/jobs/:id", s.handlers.Tuner.GetJob)
			tuner.POST("/jobs/:id/pause", s.handlers.Tuner.PauseJob)
			tuner.POST("/jobs/:id/resume", s.handlers.Tuner.ResumeJob)
		}

		v1.GET("/groups/:id/iterations", s.handlers.Tuner.ListIterations)

		v1.POST("/executor/tick", s.handlers.Executor.Tick)

		deployments := v1.Group("/deployments")
		{
			deployments.POST("", s.handlers.Executor.CreateDeployment)
			deployments.GET("", s.handlers.Executor.ListDeployments)
			deployments.GET("/:id", s.handlers.Executor.GetDeployment)
			deployments.POST("/:id/stop", s.handlers.Executor.StopDeployment)
			deployments.POST("/:id/clear-halt", s.handlers.Executor.ClearHalt)
			deployments.POST("/:id/evaluate", s.handlers.Executor.EvaluateDeployment)
		}

		strategies := v1.Group("/strategies")
		{
			strategies.POST("", s.handlers.Strategy.CreateStrategy)
			strategies.GET("", s.handlers.Strategy.ListStrategies)
			strategies.GET("/:id", s.handlers.Strategy.GetStrategy)
			strategies.POST("/:id/versions", s.handlers.Strategy.CreateVersion)
			strategies.POST("/:id/versions/:versionId/duplicate", s.handlers.Strategy.DuplicateVersion)
		}

		v1.GET("/ws", s.handlers.WebSocket.TickStream)
	}
}

// loggingMiddleware logs each request through the structured logger.
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		c.Next()
		s.log.Info("http request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP())
	}
}

// healthCheck reports server and database health
func (s *Server) healthCheck(c *gin.Context) {
	status := "healthy"
	checks := gin.H{}

	if s.db != nil {
		if err := s.db.HealthCheck(c.Request.Context()); err != nil {
			status = "degraded"
			checks["database"] = err.Error()
		} else {
			checks["database"] = "ok"
		}
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":  status,
		"version": s.config.App.Version,
		"checks":  checks,
		"time":    time.Now().UTC(),
	})
}

// Start runs the HTTP server until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.httpServer = &http.Server{
		Addr:           addr,
		Handler:        s.router,
		ReadTimeout:    s.config.Server.ReadTimeout,
		WriteTimeout:   s.config.Server.WriteTimeout,
		MaxHeaderBytes: s.config.Server.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("api server listening", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.log.Info("api server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}
