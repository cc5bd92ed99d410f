package executor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"refreshd/pkg/executor/runner"
	"refreshd/pkg/git"
	"refreshd/pkg/metrics"
	"refreshd/pkg/observability"
)

// PipelineConfig locates the exporter, its output, and the publish repository.
type PipelineConfig struct {
	ExporterPython  string
	ExporterDir     string
	ExporterScript  string // absolute path
	ExporterTimeout time.Duration
	ExportOutput    string // absolute path

	PublishRepo   string
	PublishPath   string // relative to PublishRepo
	Remote        string
	DevelopBranch string
	MainBranch    string
}

// Pipeline runs the fixed refresh sequence: export, copy, publish.
type Pipeline struct {
	cfg    PipelineConfig
	runner runner.JobRunner
	log    *zap.Logger
	now    func() time.Time
}

func NewPipeline(cfg PipelineConfig, r runner.JobRunner, log *zap.Logger) *Pipeline {
	return &Pipeline{cfg: cfg, runner: r, log: log, now: time.Now}
}

// WithClock replaces the clock used for commit messages and timestamps.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// Run executes the sequence once. The first failing step aborts the rest.
func (p *Pipeline) Run(ctx context.Context) *Outcome {
	t := &transcript{inner: p.runner}
	out := &Outcome{}

	steps := []struct {
		name string
		fn   func(context.Context, *transcript) error
	}{
		{StepExport, p.export},
		{StepCopy, p.copy},
		{StepPublish, p.publish},
	}

	for _, step := range steps {
		t.step = step.name
		if err := p.runStep(ctx, step.name, func(ctx context.Context) error { return step.fn(ctx, t) }); err != nil {
			out.Commands = t.records()
			out.Err = &StepError{Step: step.name, Err: err}
			out.Result = Result{Success: false, Error: err.Error(), Step: step.name}
			return out
		}
	}

	out.Commands = t.records()
	out.Result = Result{
		Success:   true,
		Message:   SuccessMessage,
		Timestamp: p.now().Format(DateLayout),
	}
	return out
}

func (p *Pipeline) runStep(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := observability.StartSpan(ctx, "refresh."+name, attribute.String("refresh.step", name))
	start := time.Now()
	p.log.Info("refresh step started", zap.String("step", name))

	err := fn(ctx)

	status := "success"
	if err != nil {
		status = "failure"
		p.log.Error("refresh step failed", zap.String("step", name), zap.Duration("duration", time.Since(start)), zap.Error(err))
	} else {
		p.log.Info("refresh step completed", zap.String("step", name), zap.Duration("duration", time.Since(start)))
	}
	metrics.RecordStep(name, status, time.Since(start))
	observability.EndSpan(span, err)
	return err
}

func (p *Pipeline) export(ctx context.Context, t *transcript) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ExporterTimeout)
	defer cancel()

	res := t.Run(ctx, runner.Command{
		Name: p.cfg.ExporterPython,
		Args: []string{p.cfg.ExporterScript},
		Dir:  p.cfg.ExporterDir,
	})
	if !res.Failed() {
		return nil
	}
	if errors.Is(res.Error, context.DeadlineExceeded) {
		return fmt.Errorf("data export timed out after %s", p.cfg.ExporterTimeout)
	}
	detail := strings.TrimSpace(res.Stderr)
	if detail == "" && res.Error != nil {
		detail = res.Error.Error()
	}
	return fmt.Errorf("data export failed: %s", detail)
}

func (p *Pipeline) copy(ctx context.Context, t *transcript) error {
	cmd := runner.Command{
		Name: "cp",
		Args: []string{p.cfg.ExportOutput, p.publishFile()},
		Dir:  p.cfg.PublishRepo,
	}
	res := t.Run(ctx, cmd)
	if !res.Failed() {
		return nil
	}
	msg := fmt.Sprintf("copy failed: %s: exit status %d", cmd.String(), res.ExitCode)
	if stderr := strings.TrimSpace(res.Stderr); stderr != "" {
		msg += ": " + stderr
	} else if res.Error != nil {
		msg += ": " + res.Error.Error()
	}
	return errors.New(msg)
}

func (p *Pipeline) publish(ctx context.Context, t *transcript) error {
	repo := git.NewRepository(p.cfg.PublishRepo, t)
	c := p.cfg

	branch, err := repo.CurrentBranch(ctx)
	if err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}
	p.log.Info("publish repository state", zap.String("current_branch", branch))

	ops := []func() error{
		func() error { return repo.Checkout(ctx, c.DevelopBranch) },
		func() error { return repo.Pull(ctx, c.Remote, c.DevelopBranch) },
		func() error { return repo.Add(ctx, c.PublishPath) },
		func() error { return repo.Commit(ctx, "data: refresh "+p.now().Format(DateLayout)) },
		func() error { return repo.Push(ctx, c.Remote, c.DevelopBranch) },
		func() error { return repo.Checkout(ctx, c.MainBranch) },
		func() error { return repo.Pull(ctx, c.Remote, c.MainBranch) },
		func() error { return repo.Merge(ctx, c.DevelopBranch) },
		func() error { return repo.Push(ctx, c.Remote, c.MainBranch) },
	}
	for _, op := range ops {
		if err := op(); err != nil {
			return fmt.Errorf("publish failed: %w", err)
		}
	}
	return nil
}

func (p *Pipeline) publishFile() string {
	return filepath.Join(p.cfg.PublishRepo, p.cfg.PublishPath)
}

// transcript is a runner.JobRunner that records every command of one run.
type transcript struct {
	inner runner.JobRunner
	step  string

	mu   sync.Mutex
	recs []CommandRecord
}

func (t *transcript) Run(ctx context.Context, cmd runner.Command) runner.Result {
	res := t.inner.Run(ctx, cmd)
	t.mu.Lock()
	t.recs = append(t.recs, CommandRecord{Step: t.step, Command: cmd, Result: res})
	t.mu.Unlock()
	return res
}

func (t *transcript) records() []CommandRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]CommandRecord, len(t.recs))
	copy(out, t.recs)
	return out
}
