package runner

import (
	"context"

	"go.uber.org/zap"
)

// DryRunner logs each command instead of executing it and reports success.
type DryRunner struct {
	log *zap.Logger
}

func NewDryRunner(log *zap.Logger) *DryRunner {
	return &DryRunner{log: log}
}

func (d *DryRunner) Run(ctx context.Context, c Command) Result {
	d.log.Info("dry run: skipping command",
		zap.String("command", c.String()),
		zap.String("dir", c.Dir),
	)
	return Result{}
}
