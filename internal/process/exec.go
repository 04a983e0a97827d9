package process

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/assetrun/assetrun/internal/compile"
	"github.com/assetrun/assetrun/internal/errors"
)

// maxLineSize bounds a single streamed line. Longer lines are still
// captured, only their logging stops.
const maxLineSize = 4 << 20

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	logger *slog.Logger
}

// NewExecRunner creates a runner that streams output to logger.
func NewExecRunner(logger *slog.Logger) *ExecRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecRunner{logger: logger}
}

// Run executes spec and waits for it to exit.
func (r *ExecRunner) Run(ctx context.Context, spec Spec) compile.Result {
	start := time.Now()
	logger := r.logger.With("cmd", spec.Command)

	cmd := exec.CommandContext(ctx, spec.Command, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = append(os.Environ(), spec.Env...)
	configureProcess(cmd)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return startFailure(spec, err, start)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return startFailure(spec, err, start)
	}

	logger.Debug("starting", "args", spec.Args, "dir", spec.Dir)
	if err := cmd.Start(); err != nil {
		return startFailure(spec, err, start)
	}

	stdoutLevel := slog.LevelInfo
	if spec.Capture {
		stdoutLevel = slog.LevelDebug
	}

	var stdout, stderr bytes.Buffer
	var wg sync.WaitGroup
	wg.Add(2)
	go stream(&wg, stdoutPipe, &stdout, logger.With("stream", "stdout"), stdoutLevel)
	go stream(&wg, stderrPipe, &stderr, logger.With("stream", "stderr"), slog.LevelInfo)
	wg.Wait()

	waitErr := cmd.Wait()
	result := compile.Result{
		Output:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if waitErr == nil {
		result.Status = compile.Success
		return result
	}

	result.Status = compile.Failure
	result.ExitCode = -1
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
	}
	if ctx.Err() != nil {
		waitErr = ctx.Err()
	}

	detail := result.Stderr
	if detail == "" {
		detail = result.Output
	}
	if detail == "" {
		detail = spec.String()
	}
	result.Err = errors.New(errors.CodeProcessFailed).
		WithDetail(detail).
		Wrap(waitErr)
	return result
}

// stream copies r into buf and logs each complete line at level.
func stream(wg *sync.WaitGroup, r io.Reader, buf *bytes.Buffer, logger *slog.Logger, level slog.Level) {
	defer wg.Done()

	tee := io.TeeReader(r, buf)
	scanner := bufio.NewScanner(tee)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		logger.Log(context.Background(), level, scanner.Text())
	}
	// Keep draining so the child never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, tee)
}

func startFailure(spec Spec, err error, start time.Time) compile.Result {
	return compile.Result{
		Status:   compile.Failure,
		ExitCode: -1,
		Duration: time.Since(start),
		Err: errors.New(errors.CodeProcessFailed).
			WithDetailf("cannot start %s", spec.String()).
			Wrap(err),
	}
}
