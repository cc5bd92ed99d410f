package runner

import (
	"context"
	"strings"
	"time"
)

// Command describes one external process invocation.
type Command struct {
	Name string
	Args []string
	// Dir is the working directory of the process. It is always set
	// explicitly; the receiver never changes its own working directory.
	Dir string
	// Env is appended to the parent environment.
	Env []string
}

// String renders the command line for logs and error messages.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Result captures the outcome of a command execution.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	Error    error // detailed go error if any
}

// Failed reports whether the command did not complete with exit status 0.
func (r Result) Failed() bool {
	return r.ExitCode != 0 || r.Error != nil
}

// JobRunner executes a single external command.
type JobRunner interface {
	// Run executes the command within the context and returns its exit
	// code and captured output. It never panics on process failure.
	Run(ctx context.Context, cmd Command) Result
}
