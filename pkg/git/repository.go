// Package git provides typed access to the git CLI for the publish
// repository. Every command runs with the repository as its explicit
// working directory, so concurrent callers never depend on the process
// working directory.
package git

import (
	"context"
	"fmt"
	"strings"

	"refreshd/pkg/executor/runner"
)

// CommandError reports a git command that exited non-zero or failed to start.
type CommandError struct {
	Args     []string
	Dir      string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("git %s in %s: exit status %d", strings.Join(e.Args, " "), e.Dir, e.ExitCode)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + stderr
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

// Repository is a git working tree at a fixed directory.
type Repository struct {
	dir    string
	runner runner.JobRunner
}

// NewRepository returns a Repository targeting dir. Commands run through r.
func NewRepository(dir string, r runner.JobRunner) *Repository {
	return &Repository{dir: dir, runner: r}
}

// Dir returns the repository directory.
func (r *Repository) Dir() string {
	return r.dir
}

// Command builds the runner.Command for a git invocation without running it.
func (r *Repository) Command(args ...string) runner.Command {
	return runner.Command{Name: "git", Args: args, Dir: r.dir}
}

// Run executes a git command in the repository and returns the full result.
// A non-zero exit is reported as a *CommandError.
func (r *Repository) Run(ctx context.Context, args ...string) (runner.Result, error) {
	res := r.runner.Run(ctx, r.Command(args...))
	if res.Failed() {
		return res, &CommandError{
			Args:     args,
			Dir:      r.dir,
			ExitCode: res.ExitCode,
			Stderr:   res.Stderr,
			Err:      res.Error,
		}
	}
	return res, nil
}

// CurrentBranch returns the checked-out branch name.
func (r *Repository) CurrentBranch(ctx context.Context) (string, error) {
	res, err := r.Run(ctx, "branch", "--show-current")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}

func (r *Repository) Checkout(ctx context.Context, branch string) error {
	_, err := r.Run(ctx, "checkout", branch)
	return err
}

func (r *Repository) Pull(ctx context.Context, remote, branch string) error {
	_, err := r.Run(ctx, "pull", remote, branch)
	return err
}

func (r *Repository) Add(ctx context.Context, paths ...string) error {
	_, err := r.Run(ctx, append([]string{"add"}, paths...)...)
	return err
}

func (r *Repository) Commit(ctx context.Context, message string) error {
	_, err := r.Run(ctx, "commit", "-m", message)
	return err
}

func (r *Repository) Push(ctx context.Context, remote, branch string) error {
	_, err := r.Run(ctx, "push", remote, branch)
	return err
}

func (r *Repository) Merge(ctx context.Context, branch string) error {
	_, err := r.Run(ctx, "merge", branch)
	return err
}
