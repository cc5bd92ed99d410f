package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"refreshd/pkg/api/middleware"
	"refreshd/pkg/auth"
	"refreshd/pkg/executor"
	"refreshd/pkg/observability"
)

// Server is the webhook listener. It has no registered routes: every GET is
// a health check and every POST is a refresh trigger, whatever the path.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	limiter    *middleware.RateLimiter

	refresher executor.Refresher
	memory    MemoryFunc
	log       *zap.Logger
}

// Config holds webhook server configuration.
type Config struct {
	Addr      string
	Secret    string
	Tokens    *auth.TokenService // optional bearer token support
	Refresher executor.Refresher
	RateLimit middleware.RateLimiterConfig
	// MaxBodyBytes caps request bodies, which are read and discarded.
	MaxBodyBytes int64
	Logger       *zap.Logger
	// Memory reports available host memory for the health response.
	// Defaults to gopsutil.
	Memory MemoryFunc
}

// NewServer creates the webhook server.
func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.Memory == nil {
		cfg.Memory = AvailableMemory
	}

	router := gin.New()
	s := &Server{
		router:    router,
		refresher: cfg.Refresher,
		memory:    cfg.Memory,
		log:       cfg.Logger.Named("api"),
	}

	// Middleware stack (order matters)
	router.Use(gin.CustomRecoveryWithWriter(io.Discard, s.recovered))
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.TracingMiddleware(observability.TracerName))
	router.Use(middleware.RequestLogger(s.log))

	webhook := []gin.HandlerFunc{s.dispatch}
	if cfg.RateLimit.Enabled() {
		s.limiter = middleware.NewRateLimiter(cfg.RateLimit)
		webhook = append(webhook, s.limiter.Middleware())
	}
	webhook = append(webhook,
		middleware.WebhookAuthMiddleware(middleware.AuthConfig{Secret: cfg.Secret, Tokens: cfg.Tokens}),
		// Only authenticated POSTs have their body limited.
		middleware.BodySizeLimitMiddleware(cfg.MaxBodyBytes),
		s.refresh,
	)
	router.NoRoute(webhook...)

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// No WriteTimeout: a webhook response waits for the whole refresh.
		IdleTimeout: 60 * time.Second,
	}

	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.log.Info("webhook server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server, waiting for in-flight refreshes
// until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down webhook server")
	if s.limiter != nil {
		s.limiter.Stop()
	}
	return s.httpServer.Shutdown(ctx)
}

// dispatch routes by method: GET and HEAD answer the health check, POST
// continues down the webhook chain, anything else is not found.
func (s *Server) dispatch(c *gin.Context) {
	switch c.Request.Method {
	case http.MethodGet, http.MethodHead:
		s.health(c)
		c.Abort()
	case http.MethodPost:
		c.Next()
	default:
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
	}
}

// recovered turns a panic into a 500 with the same shape as other errors.
func (s *Server) recovered(c *gin.Context, err any) {
	s.log.Error("panic while handling request",
		zap.Any("panic", err),
		zap.String("path", c.Request.URL.Path),
		zap.String("request_id", middleware.RequestID(c)),
		zap.Stack("stack"),
	)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprint(err)})
}
