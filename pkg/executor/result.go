package executor

import (
	"fmt"
	"strings"
	"time"

	"refreshd/pkg/executor/runner"
)

// Step names of the refresh sequence.
const (
	StepExport  = "export"
	StepCopy    = "copy"
	StepPublish = "publish"
)

// DateLayout matches the default output of date(1).
const DateLayout = time.UnixDate

// SuccessMessage is reported by a completed refresh.
const SuccessMessage = "Data refresh completed successfully"

// Result is the JSON object reported to the caller of a refresh.
type Result struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Step      string `json:"step,omitempty"`
	RunID     string `json:"run_id,omitempty"`
}

// StepError is the failure of one step; its message becomes Result.Error.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string { return e.Err.Error() }
func (e *StepError) Unwrap() error { return e.Err }

// CommandRecord is one external command executed during a refresh.
type CommandRecord struct {
	Step    string
	Command runner.Command
	Result  runner.Result
}

// Outcome is everything a refresh produced.
type Outcome struct {
	Result   Result
	Commands []CommandRecord
	Err      *StepError
}

// Transcript renders the executed commands and their output as plain text.
func (o *Outcome) Transcript() []byte {
	var b strings.Builder
	for _, rec := range o.Commands {
		fmt.Fprintf(&b, "[%s] $ %s\n", rec.Step, rec.Command.String())
		fmt.Fprintf(&b, "dir: %s\nexit: %d  duration: %s\n", rec.Command.Dir, rec.Result.ExitCode, rec.Result.Duration)
		if rec.Result.Error != nil {
			fmt.Fprintf(&b, "error: %v\n", rec.Result.Error)
		}
		fmt.Fprintf(&b, "STDOUT:\n%s\nSTDERR:\n%s\n\n", rec.Result.Stdout, rec.Result.Stderr)
	}
	if o.Err != nil {
		fmt.Fprintf(&b, "FAILED at %s: %s\n", o.Err.Step, o.Err.Error())
	} else {
		fmt.Fprintf(&b, "OK: %s\n", o.Result.Message)
	}
	return []byte(b.String())
}
