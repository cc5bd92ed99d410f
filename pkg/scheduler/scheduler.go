// Package scheduler triggers refreshes on a local cron schedule, for hosts
// the remote caller cannot reach.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"refreshd/pkg/executor"
	"refreshd/pkg/models"
)

// parser accepts standard five-field expressions and descriptors such as
// "@hourly" or "@every 30m".
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Scheduler fires the refresh sequence on a cron expression.
type Scheduler struct {
	expr      string
	schedule  cron.Schedule
	refresher executor.Refresher
	cron      *cron.Cron
	log       *zap.Logger
	timeout   time.Duration
	baseCtx   context.Context
}

// NewScheduler validates expr and prepares a scheduler. timeout bounds how
// long a scheduled trigger waits for the refresh lock; zero means no bound.
func NewScheduler(expr string, refresher executor.Refresher, timeout time.Duration, log *zap.Logger) (*Scheduler, error) {
	if refresher == nil {
		return nil, errors.New("scheduler needs a refresher")
	}
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", expr, err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("scheduler")

	s := &Scheduler{
		expr:      expr,
		schedule:  schedule,
		refresher: refresher,
		log:       log,
		timeout:   timeout,
		baseCtx:   context.Background(),
	}
	cl := cronLogger{log.Sugar()}
	s.cron = cron.New(
		cron.WithParser(parser),
		cron.WithLogger(cl),
		// A slow refresh must not pile up scheduled triggers behind the lock.
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	s.cron.Schedule(schedule, cron.FuncJob(func() { s.RunOnce(s.baseCtx) }))
	return s, nil
}

// Next reports when the schedule fires next after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

// Start runs the schedule in the background until Stop. ctx is the parent
// of every scheduled trigger.
func (s *Scheduler) Start(ctx context.Context) {
	s.baseCtx = ctx
	s.log.Info("refresh schedule started",
		zap.String("schedule", s.expr),
		zap.Time("next", s.Next(time.Now())),
	)
	s.cron.Start()
}

// Stop halts the schedule and waits for a running trigger to finish or ctx
// to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce triggers a single scheduled refresh and logs its outcome.
func (s *Scheduler) RunOnce(ctx context.Context) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	res, err := s.refresher.Trigger(ctx, executor.TriggerInfo{Source: models.TriggerSchedule})
	switch {
	case errors.Is(err, executor.ErrSuspended):
		s.log.Warn("scheduled refresh skipped", zap.Error(err))
	case err != nil:
		s.log.Error("scheduled refresh could not run", zap.Error(err))
	case !res.Success:
		s.log.Warn("scheduled refresh failed",
			zap.String("run_id", res.RunID),
			zap.String("step", res.Step),
			zap.String("error", res.Error),
		)
	default:
		s.log.Info("scheduled refresh complete", zap.String("run_id", res.RunID))
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
