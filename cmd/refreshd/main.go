package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	config "refreshd/configs"
	"refreshd/pkg/api"
	"refreshd/pkg/api/middleware"
	"refreshd/pkg/app"
	"refreshd/pkg/auth"
	"refreshd/pkg/executor/runner"
	"refreshd/pkg/logger"
	"refreshd/pkg/observability"
	"refreshd/pkg/scheduler"
)

// shutdownGrace bounds how long shutdown waits for an in-flight refresh.
const shutdownGrace = 10 * time.Minute

func main() {
	envFile := pflag.String("env-file", "", "dotenv file to load before reading the environment (default ./.env if present)")
	pflag.Parse()

	if err := run(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "refreshd: %v\n", err)
		os.Exit(1)
	}
}

func run(envFile string) error {
	if err := config.LoadEnvFile(envFile); err != nil {
		return err
	}
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logCfg := logger.DefaultConfig("refreshd")
	logCfg.Level = cfg.LogLevel
	logCfg.Encoding = cfg.LogEncoding
	log, err := logger.Init(logCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	traceCfg := observability.DefaultConfig("refreshd")
	traceCfg.Endpoint = cfg.OTLPEndpoint
	tracing, err := observability.Init(ctx, traceCfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracing.Shutdown(shutdownCtx); err != nil {
			log.Warn("failed to flush traces", zap.Error(err))
		}
	}()

	a, err := app.Build(ctx, cfg, runner.NewShellRunner(), log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("failed to close backends", zap.Error(err))
		}
	}()

	tokens, err := auth.NewTokenService(auth.DefaultTokenConfig(cfg.WebhookSecret))
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)

	rateCfg := middleware.DefaultRateLimiterConfig()
	rateCfg.RequestsPerMinute = cfg.RateLimitPerMinute
	server := api.NewServer(api.Config{
		Addr:      cfg.ListenAddr(),
		Secret:    cfg.WebhookSecret,
		Tokens:    tokens,
		Refresher: a.Executor,
		RateLimit: rateCfg,
		Logger:    log,
	})

	errCh := make(chan error, 2)
	go func() { errCh <- server.Start() }()

	var admin *api.AdminServer
	if cfg.AdminAddr != "" {
		admin = api.NewAdminServer(api.AdminConfig{
			Addr:    cfg.AdminAddr,
			Runs:    a.Runs,
			Logs:    a.Logs,
			Breaker: a.Breaker,
			Logger:  log,
		})
		go func() { errCh <- admin.Start() }()
	}

	var sched *scheduler.Scheduler
	if cfg.RefreshSchedule != "" {
		sched, err = scheduler.NewScheduler(cfg.RefreshSchedule, a.Executor, cfg.ExporterTimeout*2, log)
		if err != nil {
			return err
		}
		sched.Start(ctx)
	}

	log.Info("refreshd started",
		zap.String("addr", cfg.ListenAddr()),
		zap.String("admin_addr", cfg.AdminAddr),
		zap.String("publish_repo", cfg.PublishRepo),
	)

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case serveErr = <-errCh:
		log.Error("listener stopped", zap.Error(serveErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	var errs []error
	if sched != nil {
		errs = append(errs, sched.Stop(shutdownCtx))
	}
	errs = append(errs, server.Shutdown(shutdownCtx))
	if admin != nil {
		errs = append(errs, admin.Shutdown(shutdownCtx))
	}
	if err := errors.Join(errs...); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}

	log.Info("shutdown complete")
	return serveErr
}
