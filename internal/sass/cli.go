package sass

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/assetrun/assetrun/internal/errors"
	"github.com/assetrun/assetrun/internal/process"
)

// Locator finds the sass executable.
type Locator interface {
	Locate(ctx context.Context) (string, error)
}

// Executable is a Locator for a fixed executable name or path.
type Executable string

// Locate returns the executable unchanged.
func (e Executable) Locate(context.Context) (string, error) {
	return string(e), nil
}

// CLICompiler runs the dart-sass command line for each file and takes its
// stdout as the compiled CSS.
type CLICompiler struct {
	Runner  process.Runner
	Locator Locator
}

// NewCLICompiler creates a compiler that runs the executable found by locator.
func NewCLICompiler(runner process.Runner, locator Locator) *CLICompiler {
	return &CLICompiler{Runner: runner, Locator: locator}
}

// Compile implements Compiler.
func (c *CLICompiler) Compile(ctx context.Context, path string, opts Options) ([]byte, error) {
	bin, err := c.Locator.Locate(ctx)
	if err != nil {
		return nil, err
	}

	args := []string{"--no-source-map", "--no-color"}
	if opts.Style != "" {
		args = append(args, "--style="+opts.Style)
	}
	for _, dir := range opts.LoadPaths {
		args = append(args, "--load-path="+dir)
	}
	args = append(args, path)

	res := c.Runner.Run(ctx, process.Spec{Command: bin, Args: args, Capture: true})
	if res.OK() {
		return []byte(res.Output), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if res.ExitCode < 0 {
		return nil, errors.New(errors.CodeSassBinary).
			WithDetailf("cannot run %s", bin).
			Wrap(res.Err)
	}
	return nil, ParseError(path, res.Stderr)
}

var (
	errorLine = regexp.MustCompile(`(?m)^Error:\s*(.+)$`)
	traceLine = regexp.MustCompile(`(?m)^\s*\S+\s+(\d+):(\d+)\s+root stylesheet\s*$`)
)

// ParseError builds a FileError for path from dart-sass stderr. The first
// "Error:" line is the message; the "root stylesheet" trace line carries the
// line and column.
func ParseError(path, stderr string) *FileError {
	fe := &FileError{Path: path}

	if m := errorLine.FindStringSubmatch(stderr); m != nil {
		fe.Message = strings.TrimSpace(m[1])
	} else if msg := strings.TrimSpace(stderr); msg != "" {
		fe.Message = firstLine(msg)
	} else {
		fe.Message = "sass exited with an error"
	}

	if m := traceLine.FindStringSubmatch(stderr); m != nil {
		fe.Line, _ = strconv.Atoi(m[1])
		fe.Column, _ = strconv.Atoi(m[2])
	}
	return fe
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
