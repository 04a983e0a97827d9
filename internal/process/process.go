// Package process runs external compilers (the Go toolchain, dart-sass, any
// configured command) and maps their exit status to a compile.Result.
//
// Output is streamed line by line to a *slog.Logger as it arrives, so long
// watch-triggered rebuilds report progress, and is captured at the same time
// for the caller.
//
// A non-zero exit is a normal outcome reported as compile.Failure, never a
// returned error or a panic.
package process

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/shlex"

	"github.com/assetrun/assetrun/internal/compile"
	"github.com/assetrun/assetrun/internal/errors"
)

// Spec describes one process invocation.
type Spec struct {
	// Command is the executable name or path.
	Command string

	// Args are the command arguments.
	Args []string

	// Dir is the working directory. Empty means the current directory.
	Dir string

	// Env holds extra KEY=VALUE pairs appended to the parent environment.
	Env []string

	// Capture keeps stdout out of the log at info level. Use it when stdout
	// is the product (compiled CSS) rather than progress output.
	Capture bool
}

// String renders the spec as a shell-like command line.
func (s Spec) String() string {
	parts := make([]string, 0, len(s.Env)+len(s.Args)+1)
	for _, kv := range s.Env {
		parts = append(parts, quote(kv))
	}
	parts = append(parts, quote(s.Command))
	for _, a := range s.Args {
		parts = append(parts, quote(a))
	}
	return strings.Join(parts, " ")
}

func quote(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\n\"'\\$") {
		return strconv.Quote(s)
	}
	return s
}

// WithEnv returns a copy of the spec with extra environment entries.
func (s Spec) WithEnv(env ...string) Spec {
	out := s
	out.Env = append(append([]string(nil), s.Env...), env...)
	return out
}

// Runner executes a Spec.
type Runner interface {
	Run(ctx context.Context, spec Spec) compile.Result
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, spec Spec) compile.Result

// Run calls f(ctx, spec).
func (f RunnerFunc) Run(ctx context.Context, spec Spec) compile.Result {
	return f(ctx, spec)
}

var envAssignment = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*=`)

// ParseCommand splits a configured command line into a Spec using shell
// quoting rules. Leading NAME=value words become environment entries, as in
// "GOOS=js GOARCH=wasm go build -o main.wasm".
func ParseCommand(line, dir string) (Spec, error) {
	words, err := shlex.Split(line)
	if err != nil {
		return Spec{}, errors.New(errors.CodeConfigInvalid).
			WithDetailf("cannot parse command %q", line).
			Wrap(err)
	}

	var env []string
	for len(words) > 0 && envAssignment.MatchString(words[0]) {
		env = append(env, words[0])
		words = words[1:]
	}
	if len(words) == 0 {
		return Spec{}, errors.New(errors.CodeConfigInvalid).
			WithDetailf("command %q has no executable", line)
	}

	return Spec{
		Command: words[0],
		Args:    words[1:],
		Dir:     dir,
		Env:     env,
	}, nil
}
