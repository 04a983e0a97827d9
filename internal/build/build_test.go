package build

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assetrun/assetrun/internal/bundle"
	"github.com/assetrun/assetrun/internal/compile"
	"github.com/assetrun/assetrun/internal/config"
	"github.com/assetrun/assetrun/internal/errors"
	"github.com/assetrun/assetrun/internal/metrics"
	"github.com/assetrun/assetrun/internal/process"
	"github.com/assetrun/assetrun/internal/sass"
	"github.com/assetrun/assetrun/internal/task"
	"github.com/assetrun/assetrun/internal/watch"
)

type recordingRunner struct {
	mu    sync.Mutex
	specs []process.Spec
	fail  string
}

func (r *recordingRunner) Run(_ context.Context, spec process.Spec) compile.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs = append(r.specs, spec)
	if spec.Command == r.fail {
		return compile.Result{
			Status:   compile.Failure,
			ExitCode: 1,
			Err:      errors.New(errors.CodeProcessFailed).WithDetailf("%s exited with 1", spec.Command),
		}
	}
	return compile.Succeeded("")
}

func (r *recordingRunner) commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.specs))
	for i, s := range r.specs {
		out[i] = s.Command + " " + strings.Join(s.Args, " ")
	}
	return out
}

type stubCompiler struct {
	mu    sync.Mutex
	calls int
}

func (c *stubCompiler) Compile(_ context.Context, path string, _ sass.Options) ([]byte, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return []byte("/* " + filepath.Base(path) + " */"), nil
}

func (c *stubCompiler) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type memoryBucket struct {
	mu   sync.Mutex
	keys []string
}

func (m *memoryBucket) HeadObject(context.Context, *s3.HeadObjectInput, ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	return nil, fmt.Errorf("NotFound")
}

func (m *memoryBucket) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = append(m.keys, aws.ToString(in.Key))
	return &s3.PutObjectOutput{}, nil
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// project writes assetrun.json into a fresh directory and loads it.
func project(t *testing.T, configJSON string) *config.Config {
	t.Helper()
	for _, key := range []string{config.EnvDefaultTask, config.EnvParallel, config.EnvLogLevel, config.EnvSassBinary, config.EnvPublishBucket} {
		t.Setenv(key, "")
	}
	root := t.TempDir()
	writeFile(t, filepath.Join(root, config.ConfigFileName), configJSON)
	cfg, err := config.Load(root)
	require.NoError(t, err)
	return cfg
}

type fixture struct {
	builder  *Builder
	runner   *recordingRunner
	compiler *stubCompiler
	bucket   *memoryBucket
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T, cfg *config.Config, mutate ...func(*Options)) fixture {
	t.Helper()
	f := fixture{
		runner:   &recordingRunner{},
		compiler: &stubCompiler{},
		bucket:   &memoryBucket{},
		metrics:  metrics.New(metrics.WithRegistry(prometheus.NewRegistry())),
	}
	opts := Options{
		Config:   cfg,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:  f.metrics,
		Runner:   f.runner,
		Compiler: f.compiler,
		Minifier: bundle.Passthrough{},
		Storage:  f.bucket,
	}
	for _, m := range mutate {
		m(&opts)
	}
	b, err := New(opts)
	require.NoError(t, err)
	f.builder = b
	return f
}

func TestNew_RegistersTaskTable(t *testing.T) {
	cfg := project(t, `{"tasks": [{"name": "lint", "command": "golangci-lint run"}]}`)
	f := newFixture(t, cfg)

	assert.Equal(t, []string{
		"assets:js", "build", "default", "go:generate", "go:wasm", "go:watch",
		"js:watch", "lint", "publish", "sass", "sass:watch", "watch",
	}, f.builder.Registry().Names())

	buildTask, ok := f.builder.Registry().Lookup(TaskBuild)
	require.True(t, ok)
	assert.Equal(t, []string{TaskSass, TaskJS, TaskGenerate}, buildTask.Deps)

	def, _ := f.builder.Registry().Lookup(TaskDefault)
	assert.Equal(t, []string{TaskSass}, def.Deps)

	assert.True(t, f.builder.IsWatchTask(TaskWatch))
	assert.True(t, f.builder.IsWatchTask(TaskSassWatch))
	assert.False(t, f.builder.IsWatchTask(TaskBuild))
	assert.False(t, f.builder.IsWatchTask("missing"))
}

func TestBuild_RunsSassJSAndGenerate(t *testing.T) {
	cfg := project(t, `{
  "js": {"vendor": ["vendor/lib.js"], "local": "assets/js/*.js", "output": "static/js/app.js"}
}`)
	root := cfg.Dir()
	writeFile(t, filepath.Join(root, "assets", "sass", "main.scss"), "a{}")
	writeFile(t, filepath.Join(root, "assets", "sass", "_vars.scss"), "$x: 1;")
	writeFile(t, filepath.Join(root, "vendor", "lib.js"), "var lib;")
	writeFile(t, filepath.Join(root, "assets", "js", "app.js"), "lib.start();")
	f := newFixture(t, cfg)

	require.NoError(t, f.builder.Run(context.Background(), TaskBuild, task.RunOptions{}))

	css, err := os.ReadFile(filepath.Join(root, "static", "css", "main.css"))
	require.NoError(t, err)
	assert.Equal(t, "/* main.scss */", string(css))
	assert.NoFileExists(t, filepath.Join(root, "static", "css", "_vars.css"))

	js, err := os.ReadFile(filepath.Join(root, "static", "js", "app.js"))
	require.NoError(t, err)
	assert.Equal(t, "var lib;\nlib.start();", string(js))

	require.Len(t, f.runner.specs, 1)
	spec := f.runner.specs[0]
	assert.Equal(t, "go", spec.Command)
	assert.Equal(t, []string{"generate"}, spec.Args)
	assert.Equal(t, filepath.Join(root, "frontend"), spec.Dir)

	series, err := testutil.GatherAndCount(f.metrics.Registry(), "assetrun_task_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 3, series, "one series per task with an action")
}

func TestJS_SkippedWithoutOutput(t *testing.T) {
	f := newFixture(t, project(t, `{}`))

	assert.NoError(t, f.builder.Run(context.Background(), TaskJS, task.RunOptions{}))
}

func TestWasm_CrossCompiles(t *testing.T) {
	cfg := project(t, `{"wasm": {"enabled": true}}`)
	f := newFixture(t, cfg)

	buildTask, _ := f.builder.Registry().Lookup(TaskBuild)
	assert.Contains(t, buildTask.Deps, TaskWasm)
	assert.NotContains(t, buildTask.Deps, TaskGenerate)

	require.NoError(t, f.builder.Run(context.Background(), TaskWasm, task.RunOptions{}))

	require.Len(t, f.runner.specs, 1)
	spec := f.runner.specs[0]
	assert.Equal(t, "go", spec.Command)
	assert.Equal(t, []string{"build", "-o", cfg.WasmOutputPath(), "-ldflags", "-s -w", "-trimpath", "."}, spec.Args)
	assert.Subset(t, spec.Env, []string{"GOOS=js", "GOARCH=wasm"})
	assert.DirExists(t, filepath.Dir(cfg.WasmOutputPath()))
}

func TestWasm_CustomCommand(t *testing.T) {
	cfg := project(t, `{"wasm": {"enabled": true, "command": "tinygo build -o main.wasm ."}}`)
	f := newFixture(t, cfg)

	require.NoError(t, f.builder.Run(context.Background(), TaskWasm, task.RunOptions{}))

	assert.Equal(t, []string{"tinygo build -o main.wasm ."}, f.runner.commands())
	assert.Subset(t, f.runner.specs[0].Env, []string{"GOOS=js", "GOARCH=wasm"})
}

func TestGenerate_FailureIsTaskError(t *testing.T) {
	f := newFixture(t, project(t, `{}`))
	f.runner.fail = "go"

	err := f.builder.Run(context.Background(), TaskGenerate, task.RunOptions{})

	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrTaskExecution)
	assert.ErrorIs(t, err, errors.ErrProcessFailed)
	series, err := testutil.GatherAndCount(f.metrics.Registry(), "assetrun_task_runs_total")
	require.NoError(t, err)
	assert.Equal(t, 1, series)
}

func TestCustomTasks(t *testing.T) {
	cfg := project(t, `{
  "defaultTask": "ci",
  "tasks": [
    {"name": "ci", "deps": ["lint", "build"]},
    {"name": "lint", "command": "golangci-lint run ./...", "dir": "frontend", "deps": ["go:generate"]}
  ]
}`)
	f := newFixture(t, cfg)

	require.NoError(t, f.builder.Run(context.Background(), TaskDefault, task.RunOptions{}))

	assert.Equal(t, []string{"go generate", "golangci-lint run ./..."}, f.runner.commands())
	assert.Equal(t, filepath.Join(cfg.Dir(), "frontend"), f.runner.specs[1].Dir)
}

func TestCustomTasks_ConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		json string
		want error
	}{
		{"unknown dependency", `{"tasks": [{"name": "a", "command": "true", "deps": ["nope"]}]}`, errors.ErrUnknownDependency},
		{"cycle", `{"tasks": [{"name": "a", "deps": ["b"]}, {"name": "b", "deps": ["a"]}]}`, errors.ErrCyclicDependency},
		{"builtin name", `{"tasks": [{"name": "sass", "command": "true"}]}`, errors.ErrDuplicateTask},
		{"bad command", `{"tasks": [{"name": "a", "command": "echo 'unterminated"}]}`, errors.ErrConfigInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := project(t, tt.json)
			_, err := New(Options{
				Config: cfg,
				Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
				Runner: &recordingRunner{},
			})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestPublish(t *testing.T) {
	cfg := project(t, `{"publish": {"bucket": "assets", "prefix": "v2"}}`)
	writeFile(t, filepath.Join(cfg.Dir(), "assets", "sass", "main.scss"), "a{}")
	f := newFixture(t, cfg)

	require.NoError(t, f.builder.Run(context.Background(), TaskPublish, task.RunOptions{Parallel: true}))

	assert.Equal(t, []string{"v2/static/css/main.css"}, f.bucket.keys)
}

func TestPublish_RequiresBucket(t *testing.T) {
	f := newFixture(t, project(t, `{}`))

	err := f.builder.Run(context.Background(), TaskPublish, task.RunOptions{})

	assert.ErrorIs(t, err, errors.ErrPublish)
	assert.Empty(t, f.bucket.keys)
}

func TestWatch_NothingToWatch(t *testing.T) {
	f := newFixture(t, project(t, `{}`))

	err := f.builder.Run(context.Background(), TaskSassWatch, task.RunOptions{})

	assert.ErrorIs(t, err, errors.ErrWatch)
}

func TestSassWatch_RecompilesOnChange(t *testing.T) {
	cfg := project(t, `{"watch": {"debounce": "20ms"}}`)
	root := cfg.Dir()
	writeFile(t, filepath.Join(root, "assets", "sass", "main.scss"), "a{}")

	f := newFixture(t, cfg, func(o *Options) {
		o.Backend = func() (watch.Backend, error) {
			return watch.NewPoll(10*time.Millisecond, watch.DefaultIgnore), nil
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.builder.Run(ctx, TaskSassWatch, task.RunOptions{}) }()

	// The poller records existing files on Add; keep touching a new file until
	// its output appears.
	extra := filepath.Join(root, "assets", "sass", "extra.scss")
	require.Eventually(t, func() bool {
		_ = os.WriteFile(extra, []byte(fmt.Sprintf("b{x:%d}", time.Now().UnixNano())), 0o644)
		_, err := os.Stat(filepath.Join(root, "static", "css", "extra.css"))
		return err == nil
	}, 5*time.Second, 50*time.Millisecond)
	assert.Positive(t, f.compiler.count())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch task did not stop after cancel")
	}
}
