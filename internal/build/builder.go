package build

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/assetrun/assetrun/internal/bundle"
	"github.com/assetrun/assetrun/internal/config"
	"github.com/assetrun/assetrun/internal/errors"
	"github.com/assetrun/assetrun/internal/metrics"
	"github.com/assetrun/assetrun/internal/process"
	"github.com/assetrun/assetrun/internal/publish"
	"github.com/assetrun/assetrun/internal/sass"
	"github.com/assetrun/assetrun/internal/task"
	"github.com/assetrun/assetrun/internal/watch"
)

// Built-in task names.
const (
	TaskSass      = "sass"
	TaskJS        = "assets:js"
	TaskGenerate  = "go:generate"
	TaskWasm      = "go:wasm"
	TaskBuild     = "build"
	TaskPublish   = "publish"
	TaskSassWatch = "sass:watch"
	TaskJSWatch   = "js:watch"
	TaskGoWatch   = "go:watch"
	TaskWatch     = "watch"
	TaskDefault   = "default"
)

// Options configures a Builder. Only Config is required; every collaborator
// defaults to the real implementation.
type Options struct {
	Config *config.Config

	Logger  *slog.Logger
	Metrics *metrics.Metrics
	Tracer  trace.Tracer

	// Runner runs go and custom commands. Default: process.ExecRunner.
	Runner process.Runner

	// Compiler compiles Sass. Default: dart-sass through Runner.
	Compiler sass.Compiler

	// Minifier minifies the JS bundle. Default: esbuild, or Passthrough
	// when js.noMinify is set.
	Minifier bundle.Minifier

	// Storage receives published files. Default: an S3 client from
	// publish.* settings, created on first use.
	Storage publish.Client

	// Backend creates the watch backend. Default: fsnotify, or polling when
	// watch.poll is set.
	Backend func() (watch.Backend, error)

	// FailFast stops the sass task at the first failing file.
	FailFast bool

	// NoDevServer keeps `watch` from starting the dev server.
	NoDevServer bool

	// Run configures the runs triggered by watchers.
	Run task.RunOptions
}

// Builder assembles the task registry of a project.
type Builder struct {
	cfg      *config.Config
	opts     Options
	logger   *slog.Logger
	registry *task.Registry

	pipeline *sass.Pipeline
	bundler  *bundle.Bundler

	watchTasks map[string]bool
}

// New creates a Builder and registers every task. Configuration errors in
// custom tasks (unknown dependencies, cycles, unparsable commands) are
// reported here, before anything runs.
func New(opts Options) (*Builder, error) {
	if opts.Config == nil {
		return nil, errors.New(errors.CodeConfigInvalid).WithDetail("no configuration")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Runner == nil {
		opts.Runner = process.NewExecRunner(opts.Logger)
	}

	cfg := opts.Config
	b := &Builder{
		cfg:        cfg,
		opts:       opts,
		logger:     opts.Logger,
		watchTasks: make(map[string]bool),
	}

	registryOpts := []task.Option{
		task.WithLogger(opts.Logger),
		task.WithHooks(opts.Metrics.TaskHooks()),
	}
	if opts.Tracer != nil {
		registryOpts = append(registryOpts, task.WithTracer(opts.Tracer))
	}
	b.registry = task.NewRegistry(registryOpts...)

	b.pipeline = sass.NewPipeline(b.sassCompiler(), sass.PipelineOptions{
		Root:      cfg.Dir(),
		Style:     cfg.Sass.Style,
		LoadPaths: resolveAll(cfg, cfg.Sass.LoadPaths),
		FailFast:  opts.FailFast || cfg.Sass.FailFast,
		Logger:    opts.Logger,
		OnFile:    opts.Metrics.SassFile,
	})
	b.bundler = bundle.NewBundler(cfg.Dir(), b.minifier(), opts.Logger)

	if err := b.registerBuiltins(); err != nil {
		return nil, err
	}
	if err := b.registerConfigured(); err != nil {
		return nil, err
	}
	if err := b.registry.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// Registry returns the assembled registry.
func (b *Builder) Registry() *task.Registry {
	return b.registry
}

// Config returns the project configuration.
func (b *Builder) Config() *config.Config {
	return b.cfg
}

// Run runs name and its dependencies.
func (b *Builder) Run(ctx context.Context, name string, opts task.RunOptions) error {
	return b.registry.Run(ctx, name, opts)
}

// IsWatchTask reports whether name, or one of its dependencies, runs until
// cancelled.
func (b *Builder) IsWatchTask(name string) bool {
	plan, err := b.registry.Plan(name)
	if err != nil {
		return false
	}
	for _, n := range plan {
		if b.watchTasks[n] {
			return true
		}
	}
	return false
}

func (b *Builder) sassCompiler() sass.Compiler {
	if b.opts.Compiler != nil {
		return b.opts.Compiler
	}
	bin := sass.NewBinary(b.cfg.Sass.Binary)
	if b.cfg.Sass.Version != "" {
		bin.Version = b.cfg.Sass.Version
	}
	bin.AutoInstall = !b.cfg.Sass.NoInstall
	bin.Logger = b.logger
	return sass.NewCLICompiler(b.opts.Runner, bin)
}

func (b *Builder) minifier() bundle.Minifier {
	switch {
	case b.opts.Minifier != nil:
		return b.opts.Minifier
	case b.cfg.JS.NoMinify:
		return bundle.Passthrough{}
	default:
		return bundle.EsbuildMinifier{}
	}
}

func resolveAll(cfg *config.Config, paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = cfg.Resolve(p)
	}
	return out
}
