package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"refreshd/pkg/coordination"
	"refreshd/pkg/metrics"
	"refreshd/pkg/models"
	"refreshd/pkg/observability"
	"refreshd/pkg/resilience"
	"refreshd/pkg/storage"
)

// ErrSuspended is returned by Trigger while the circuit breaker is open.
var ErrSuspended = errors.New("refresh suspended: too many consecutive failures")

var errRefreshFailed = errors.New("refresh failed")

// TriggerInfo describes who asked for a refresh.
type TriggerInfo struct {
	Source    models.Trigger
	RequestID string
}

// Refresher runs the refresh sequence on demand.
type Refresher interface {
	Trigger(ctx context.Context, info TriggerInfo) (*Result, error)
}

// Executor serializes refreshes and records each one.
type Executor struct {
	pipeline *Pipeline
	locker   coordination.Locker
	breaker  *resilience.CircuitBreaker
	runs     storage.RunStore
	logs     storage.LogStore // optional
	log      *zap.Logger
	now      func() time.Time
}

// Config holds the collaborators of an Executor. Only Pipeline is required.
type Config struct {
	Pipeline *Pipeline
	Locker   coordination.Locker
	Breaker  *resilience.CircuitBreaker
	Runs     storage.RunStore
	Logs     storage.LogStore
	Logger   *zap.Logger
}

func NewExecutor(cfg Config) *Executor {
	e := &Executor{
		pipeline: cfg.Pipeline,
		locker:   cfg.Locker,
		breaker:  cfg.Breaker,
		runs:     cfg.Runs,
		logs:     cfg.Logs,
		log:      cfg.Logger,
		now:      time.Now,
	}
	if e.locker == nil {
		e.locker = coordination.NewLocalLocker()
	}
	if e.breaker == nil {
		e.breaker = resilience.NewCircuitBreaker("refresh", resilience.CircuitBreakerConfig{})
	}
	if e.runs == nil {
		e.runs = storage.NewMemoryRunStore(100)
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	return e
}

// Runs exposes the run history store.
func (e *Executor) Runs() storage.RunStore { return e.runs }

// Logs exposes the transcript store, which may be nil.
func (e *Executor) Logs() storage.LogStore { return e.logs }

// Breaker exposes the circuit breaker for status reporting.
func (e *Executor) Breaker() *resilience.CircuitBreaker { return e.breaker }

// Trigger waits for the refresh lock and runs the sequence once. Step
// failures are reported in the Result; the error is non-nil only when the
// refresh could not run at all.
//
// ctx bounds the wait for the lock. Once started, the sequence is detached
// from ctx so a disconnecting caller cannot interrupt a push half way.
func (e *Executor) Trigger(ctx context.Context, info TriggerInfo) (*Result, error) {
	var (
		res    *Result
		runErr error
	)
	err := e.breaker.Execute(ctx, func(ctx context.Context) error {
		res, runErr = e.runLocked(ctx, info)
		switch {
		case runErr != nil:
			// Nothing ran, so there is no outcome to count.
			return resilience.NotAttempted(runErr)
		case !res.Success:
			return errRefreshFailed
		}
		return nil
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		metrics.Rejected.WithLabelValues("circuit_open").Inc()
		e.log.Warn("refresh rejected: circuit open",
			zap.String("trigger", string(info.Source)),
			zap.String("request_id", info.RequestID),
		)
		return nil, ErrSuspended
	}
	return res, runErr
}

func (e *Executor) runLocked(ctx context.Context, info TriggerInfo) (*Result, error) {
	waitStart := time.Now()
	release, err := e.locker.Acquire(ctx)
	if err != nil {
		metrics.Rejected.WithLabelValues("lock").Inc()
		return nil, fmt.Errorf("failed to acquire refresh lock: %w", err)
	}
	metrics.LockWait.Observe(time.Since(waitStart).Seconds())

	runCtx := context.WithoutCancel(ctx)
	defer func() {
		if err := release(runCtx); err != nil {
			e.log.Error("failed to release refresh lock", zap.Error(err))
		}
	}()

	metrics.InProgress.Inc()
	defer metrics.InProgress.Dec()

	run := &models.Run{
		ID:        uuid.New(),
		Trigger:   info.Source,
		RequestID: info.RequestID,
		Status:    models.RunRunning,
		StartedAt: e.now().UTC(),
	}
	log := e.log.With(
		zap.String("run_id", run.ID.String()),
		zap.String("trigger", string(info.Source)),
		zap.String("request_id", info.RequestID),
	)
	if err := e.runs.CreateRun(runCtx, run); err != nil {
		log.Warn("failed to record run start", zap.Error(err))
	}

	runCtx, span := observability.StartSpan(runCtx, "refresh",
		attribute.String("refresh.run_id", run.ID.String()),
		attribute.String("refresh.trigger", string(info.Source)),
	)
	log.Info("data refresh started")

	outcome := e.pipeline.Run(runCtx)
	outcome.Result.RunID = run.ID.String()
	completedAt := e.now().UTC()

	logURI := e.storeTranscript(runCtx, log, run.ID, outcome)

	status, failedStep := models.RunSuccess, ""
	var stepErr error
	if outcome.Err != nil {
		status, failedStep, stepErr = models.RunFailed, outcome.Err.Step, outcome.Err
	}
	if err := e.runs.CompleteRun(runCtx, run.ID, status, failedStep, outcome.Result.Error, logURI, completedAt); err != nil {
		log.Warn("failed to record run result", zap.Error(err))
	}
	observability.EndSpan(span, stepErr)

	duration := completedAt.Sub(run.StartedAt)
	metrics.RecordRun(strings.ToLower(string(status)), string(info.Source), duration, completedAt)
	if outcome.Err != nil {
		log.Error("data refresh failed",
			zap.String("step", failedStep),
			zap.Duration("duration", duration),
			zap.Error(stepErr),
		)
	} else {
		log.Info("data refresh complete", zap.Duration("duration", duration))
	}

	return &outcome.Result, nil
}

func (e *Executor) storeTranscript(ctx context.Context, log *zap.Logger, id uuid.UUID, outcome *Outcome) string {
	if e.logs == nil {
		return ""
	}
	ref, err := e.logs.Store(ctx, id.String(), outcome.Transcript())
	if err != nil {
		log.Warn("failed to store run transcript", zap.Error(err))
		return ""
	}
	return ref
}
