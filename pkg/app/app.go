// Package app assembles the refresh executor and its collaborators from
// configuration. Both binaries build through here.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	config "refreshd/configs"
	"refreshd/pkg/coordination"
	"refreshd/pkg/coordination/etcd"
	"refreshd/pkg/coordination/redis"
	"refreshd/pkg/executor"
	"refreshd/pkg/executor/runner"
	"refreshd/pkg/resilience"
	"refreshd/pkg/storage"
	"refreshd/pkg/storage/postgres"
)

// App is a wired executor plus everything that must be closed with it.
type App struct {
	Executor *executor.Executor
	Runs     storage.RunStore
	Logs     storage.LogStore // nil when transcripts are not kept
	Breaker  *resilience.CircuitBreaker

	closers []func() error
}

// Build connects the configured lock backend and stores and returns a
// ready executor. On error everything opened so far is closed.
func Build(ctx context.Context, cfg *config.Config, jobRunner runner.JobRunner, log *zap.Logger) (_ *App, err error) {
	a := &App{}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	locker, err := newLocker(cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, locker.Close)
	log.Info("refresh lock ready", zap.String("backend", cfg.LockBackend))

	switch cfg.RunStore {
	case "postgres":
		store, err := postgres.NewPostgresStore(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, store.Close)
		a.Runs = store
	default:
		a.Runs = storage.NewMemoryRunStore(100)
	}
	log.Info("run store ready", zap.String("backend", cfg.RunStore))

	switch cfg.LogStore {
	case "s3":
		a.Logs, err = storage.NewS3LogStore(ctx, storage.S3LogStoreConfig{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKey,
			SecretAccessKey: cfg.S3SecretKey,
		})
	case "local":
		a.Logs, err = storage.NewLocalLogStore(cfg.LogDir)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open log store: %w", err)
	}

	breakerCfg := resilience.DefaultCircuitBreakerConfig()
	breakerCfg.FailureThreshold = cfg.BreakerFailureThreshold
	breakerCfg.Timeout = cfg.BreakerTimeout
	breakerCfg.OnStateChange = func(name string, from, to resilience.CircuitState) {
		log.Warn("circuit breaker state changed",
			zap.String("breaker", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	a.Breaker = resilience.NewCircuitBreaker("refresh", breakerCfg)

	pipeline := executor.NewPipeline(PipelineConfig(cfg), jobRunner, log.Named("pipeline"))
	a.Executor = executor.NewExecutor(executor.Config{
		Pipeline: pipeline,
		Locker:   locker,
		Breaker:  a.Breaker,
		Runs:     a.Runs,
		Logs:     a.Logs,
		Logger:   log.Named("executor"),
	})
	return a, nil
}

// PipelineConfig maps configuration onto the refresh sequence.
func PipelineConfig(cfg *config.Config) executor.PipelineConfig {
	return executor.PipelineConfig{
		ExporterPython:  cfg.ExporterPython,
		ExporterDir:     cfg.ExporterDir,
		ExporterScript:  cfg.ExporterScriptPath(),
		ExporterTimeout: cfg.ExporterTimeout,
		ExportOutput:    cfg.ExportOutputPath(),
		PublishRepo:     cfg.PublishRepo,
		PublishPath:     cfg.PublishPath,
		Remote:          cfg.GitRemote,
		DevelopBranch:   cfg.DevelopBranch,
		MainBranch:      cfg.MainBranch,
	}
}

func newLocker(cfg *config.Config) (coordination.Locker, error) {
	switch cfg.LockBackend {
	case "redis":
		return redis.NewRedisLocker(redis.DefaultLockerConfig(cfg.RedisAddr))
	case "etcd":
		return etcd.NewEtcdLocker(cfg.EtcdEndpoints, cfg.EtcdLockTTL, etcd.DefaultLockKey)
	default:
		return coordination.NewLocalLocker(), nil
	}
}

// Close releases backend connections in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
