// Package runnertest provides a scripted runner.JobRunner for tests that
// must not spawn processes.
package runnertest

import (
	"context"
	"sync"

	"refreshd/pkg/executor/runner"
)

// Recorder records every command it is asked to run and answers with the
// scripted result for that command line, or a zero Result (success).
type Recorder struct {
	mu      sync.Mutex
	results map[string]runner.Result
	calls   []runner.Command
}

func NewRecorder() *Recorder {
	return &Recorder{results: make(map[string]runner.Result)}
}

// On scripts the result returned for the given command line, as rendered
// by runner.Command.String.
func (r *Recorder) On(commandLine string, result runner.Result) *Recorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[commandLine] = result
	return r
}

// Fail scripts a non-zero exit with the given stderr.
func (r *Recorder) Fail(commandLine string, exitCode int, stderr string) *Recorder {
	return r.On(commandLine, runner.Result{ExitCode: exitCode, Stderr: stderr})
}

func (r *Recorder) Run(ctx context.Context, c runner.Command) runner.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, c)
	if err := ctx.Err(); err != nil {
		return runner.Result{ExitCode: -1, Error: err}
	}
	return r.results[c.String()]
}

// Calls returns a copy of the commands run so far, in order.
func (r *Recorder) Calls() []runner.Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]runner.Command, len(r.calls))
	copy(out, r.calls)
	return out
}

// CommandLines returns the rendered command lines run so far, in order.
func (r *Recorder) CommandLines() []string {
	calls := r.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.String()
	}
	return out
}
