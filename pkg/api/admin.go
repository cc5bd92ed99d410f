package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"refreshd/pkg/api/middleware"
	"refreshd/pkg/resilience"
	"refreshd/pkg/storage"
)

const (
	defaultRunListLimit = 20
	maxRunListLimit     = 100
)

// AdminServer serves metrics and run history on a separate listener, which
// keeps every GET on the webhook port a plain health check.
type AdminServer struct {
	router     *gin.Engine
	httpServer *http.Server

	runs    storage.RunStore
	logs    storage.LogStore
	breaker *resilience.CircuitBreaker
	log     *zap.Logger
}

// AdminConfig holds admin server configuration.
type AdminConfig struct {
	Addr    string
	Runs    storage.RunStore
	Logs    storage.LogStore           // optional
	Breaker *resilience.CircuitBreaker // optional
	Logger  *zap.Logger
}

// NewAdminServer creates the admin server.
func NewAdminServer(cfg AdminConfig) *AdminServer {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	router := gin.New()
	s := &AdminServer{
		router:  router,
		runs:    cfg.Runs,
		logs:    cfg.Logs,
		breaker: cfg.Breaker,
		log:     cfg.Logger.Named("admin"),
	}

	router.Use(gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, err any) {
		s.log.Error("panic while handling admin request", zap.Any("panic", err), zap.Stack("stack"))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprint(err)})
	}))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.RequestLogger(s.log))

	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *AdminServer) registerRoutes() {
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/status", s.status)

	runs := s.router.Group("/runs")
	{
		runs.GET("", s.listRuns)
		runs.GET("/:id", s.getRun)
		runs.GET("/:id/log", s.getRunLog)
	}
}

// Handler exposes the router for tests and embedding.
func (s *AdminServer) Handler() http.Handler {
	return s.router
}

// Start begins listening for HTTP requests.
func (s *AdminServer) Start() error {
	s.log.Info("admin server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start admin server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *AdminServer) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// status handles GET /status
func (s *AdminServer) status(c *gin.Context) {
	resp := gin.H{"status": "ok"}
	if s.breaker != nil && s.breaker.Enabled() {
		resp["breaker"] = s.breaker.Snapshot()
	}
	if latest, err := s.runs.ListRuns(c.Request.Context(), 1); err == nil && len(latest) > 0 {
		resp["last_run"] = latest[0]
	}
	c.JSON(http.StatusOK, resp)
}

// listRuns handles GET /runs
func (s *AdminServer) listRuns(c *gin.Context) {
	limit := defaultRunListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = min(n, maxRunListLimit)
	}

	runs, err := s.runs.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list runs: " + err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"runs":  runs,
		"count": len(runs),
	})
}

// getRun handles GET /runs/:id
func (s *AdminServer) getRun(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run ID"})
		return
	}

	run, err := s.runs.GetRun(c.Request.Context(), id)
	if err != nil {
		s.storeError(c, "run", err)
		return
	}

	c.JSON(http.StatusOK, run)
}

// getRunLog handles GET /runs/:id/log
func (s *AdminServer) getRunLog(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run ID"})
		return
	}

	run, err := s.runs.GetRun(c.Request.Context(), id)
	if err != nil {
		s.storeError(c, "run", err)
		return
	}
	if s.logs == nil || run.LogURI == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "no log recorded for run"})
		return
	}

	transcript, err := s.logs.Retrieve(c.Request.Context(), run.LogURI)
	if err != nil {
		s.storeError(c, "log", err)
		return
	}

	c.Data(http.StatusOK, "text/plain; charset=utf-8", transcript)
}

func (s *AdminServer) storeError(c *gin.Context, what string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": what + " not found"})
		return
	}
	s.log.Error("failed to read "+what, zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read " + what})
}
