// Package compile holds the outcome type shared by the subprocess runner and
// the asset pipelines.
package compile

import "time"

// Status is the outcome of one collaborator invocation.
type Status int

const (
	Success Status = iota
	Failure
)

func (s Status) String() string {
	if s == Success {
		return "success"
	}
	return "failure"
}

// Result is the outcome of one external-compiler invocation or pipeline run.
type Result struct {
	// Status is Success or Failure.
	Status Status

	// ExitCode is the process exit code, -1 when the process never started.
	ExitCode int

	// Output is the captured stdout (or the collaborator's output).
	Output string

	// Stderr is the captured stderr.
	Stderr string

	// Err describes the failure. Nil on success.
	Err error

	// Files lists the output files written.
	Files []string

	// Duration is how long the invocation took.
	Duration time.Duration
}

// OK reports whether the result is a success.
func (r Result) OK() bool {
	return r.Status == Success
}

// AsError converts the result to an error, nil on success.
func (r Result) AsError() error {
	if r.OK() {
		return nil
	}
	if r.Err != nil {
		return r.Err
	}
	return errFailed
}

// Succeeded builds a success result.
func Succeeded(output string, files ...string) Result {
	return Result{Status: Success, Output: output, Files: files}
}

// Failed builds a failure result.
func Failed(err error) Result {
	return Result{Status: Failure, Err: err}
}

type failedError struct{}

func (failedError) Error() string { return "compile failed" }

var errFailed error = failedError{}
