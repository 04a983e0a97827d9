//go:build !windows

package process

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assetrun/assetrun/internal/compile"
	"github.com/assetrun/assetrun/internal/errors"
)

// syncBuffer is a bytes.Buffer safe for the two streaming goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testLogger(w *syncBuffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestExecRunner_Success(t *testing.T) {
	var logs syncBuffer
	r := NewExecRunner(testLogger(&logs))

	res := r.Run(context.Background(), Spec{
		Command: "sh",
		Args:    []string{"-c", "echo one; echo two >&2"},
	})

	require.True(t, res.OK(), "err: %v", res.Err)
	assert.Equal(t, compile.Success, res.Status)
	assert.Equal(t, "one\n", res.Output)
	assert.Equal(t, "two\n", res.Stderr)
	assert.Contains(t, logs.String(), "stream=stdout")
	assert.Contains(t, logs.String(), "stream=stderr")
	assert.Contains(t, logs.String(), "msg=one")
}

func TestExecRunner_NonZeroExit(t *testing.T) {
	r := NewExecRunner(slog.New(slog.NewTextHandler(&syncBuffer{}, nil)))

	res := r.Run(context.Background(), Spec{
		Command: "sh",
		Args:    []string{"-c", "echo broken >&2; exit 3"},
	})

	assert.Equal(t, compile.Failure, res.Status)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "broken\n", res.Stderr)
	require.Error(t, res.Err)
	assert.True(t, errors.Is(res.Err, errors.ErrProcessFailed))
}

func TestExecRunner_MissingExecutable(t *testing.T) {
	r := NewExecRunner(nil)

	res := r.Run(context.Background(), Spec{Command: "assetrun-no-such-binary"})

	assert.Equal(t, compile.Failure, res.Status)
	assert.Equal(t, -1, res.ExitCode)
	assert.True(t, errors.Is(res.Err, errors.ErrProcessFailed))
}

func TestExecRunner_WorkingDirAndEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "marker.txt"), []byte("x"), 0644))

	r := NewExecRunner(nil)
	res := r.Run(context.Background(), Spec{
		Command: "sh",
		Args:    []string{"-c", "ls; echo $ASSETRUN_TEST"},
		Dir:     dir,
		Env:     []string{"ASSETRUN_TEST=wasm"},
	})

	require.True(t, res.OK())
	assert.Contains(t, res.Output, "marker.txt")
	assert.Contains(t, res.Output, "wasm")
}

func TestExecRunner_CaptureLogsStdoutAtDebug(t *testing.T) {
	var logs syncBuffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelInfo}))
	r := NewExecRunner(logger)

	res := r.Run(context.Background(), Spec{
		Command: "sh",
		Args:    []string{"-c", "echo '.a{color:red}'"},
		Capture: true,
	})

	require.True(t, res.OK())
	assert.Equal(t, ".a{color:red}\n", res.Output)
	assert.NotContains(t, logs.String(), "color:red")
}

func TestExecRunner_Cancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	r := NewExecRunner(nil)
	start := time.Now()
	res := r.Run(ctx, Spec{Command: "sh", Args: []string{"-c", "sleep 10"}})

	assert.Equal(t, compile.Failure, res.Status)
	assert.Less(t, time.Since(start), 8*time.Second)
	assert.True(t, errors.Is(res.Err, context.DeadlineExceeded))
}

func TestExecRunner_LongLineStillCaptured(t *testing.T) {
	r := NewExecRunner(slog.New(slog.NewTextHandler(&syncBuffer{}, nil)))

	res := r.Run(context.Background(), Spec{
		Command: "sh",
		Args:    []string{"-c", "head -c 5000000 /dev/zero | tr '\\0' 'a'"},
		Capture: true,
	})

	require.True(t, res.OK())
	assert.Equal(t, 5000000, len(strings.TrimSpace(res.Output)))
}
