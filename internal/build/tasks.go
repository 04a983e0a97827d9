package build

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/assetrun/assetrun/internal/compile"
	"github.com/assetrun/assetrun/internal/config"
	"github.com/assetrun/assetrun/internal/errors"
	"github.com/assetrun/assetrun/internal/process"
	"github.com/assetrun/assetrun/internal/publish"
	"github.com/assetrun/assetrun/internal/task"
	"github.com/assetrun/assetrun/internal/watch"
)

func (b *Builder) registerBuiltins() error {
	goTask := b.goTask()

	builtins := []task.Task{
		{Name: TaskSass, Action: b.sass, Description: "Compile Sass sources to CSS"},
		{Name: TaskJS, Action: b.bundleJS, Description: "Bundle and minify vendor and local JavaScript"},
		{Name: TaskGenerate, Action: b.generate, Description: "Run the Go code generator"},
		{Name: TaskWasm, Action: b.wasm, Description: "Build the WebAssembly module (GOOS=js GOARCH=wasm)"},
		{
			Name:        TaskBuild,
			Deps:        []string{TaskSass, TaskJS, goTask},
			Description: "Build every asset",
		},
		{
			Name:        TaskPublish,
			Deps:        []string{TaskBuild},
			Action:      b.publish,
			Description: "Upload built assets to the configured bucket",
		},
		{Name: TaskSassWatch, Action: b.watchAction(b.sassSubscriptions), Description: "Recompile Sass on change"},
		{Name: TaskJSWatch, Action: b.watchAction(b.jsSubscriptions), Description: "Rebundle JavaScript on change"},
		{Name: TaskGoWatch, Action: b.watchAction(b.goSubscriptions), Description: "Re-run " + goTask + " on change"},
	}
	for _, t := range builtins {
		if err := b.registry.RegisterTask(t); err != nil {
			return err
		}
	}
	for _, name := range []string{TaskSassWatch, TaskJSWatch, TaskGoWatch, TaskWatch} {
		b.watchTasks[name] = true
	}
	return nil
}

// registerConfigured registers the custom tasks, `watch` and `default` in one
// batch, so they may refer to each other in any order.
func (b *Builder) registerConfigured() error {
	batch := make([]task.Task, 0, len(b.cfg.Tasks)+2)
	for _, tc := range b.cfg.Tasks {
		t, err := b.commandTask(tc)
		if err != nil {
			return err
		}
		batch = append(batch, t)
	}

	batch = append(batch, task.Task{
		Name:        TaskWatch,
		Action:      b.watchAll,
		Description: "Watch everything and serve with live reload when dev.enabled is set",
	})
	if b.cfg.DefaultTask != TaskDefault {
		batch = append(batch, task.Task{
			Name:        TaskDefault,
			Deps:        []string{b.cfg.DefaultTask},
			Description: "Alias for " + b.cfg.DefaultTask,
		})
	}
	return b.registry.RegisterBatch(batch)
}

func (b *Builder) commandTask(tc config.TaskConfig) (task.Task, error) {
	t := task.Task{
		Name:        tc.Name,
		Deps:        tc.Deps,
		Description: tc.Description,
	}
	if tc.Description == "" && tc.Command != "" {
		t.Description = tc.Command
	}
	if tc.Command == "" {
		return t, nil
	}

	dir := b.cfg.Dir()
	if tc.Dir != "" {
		dir = b.cfg.Resolve(tc.Dir)
	}
	spec, err := process.ParseCommand(tc.Command, dir)
	if err != nil {
		return task.Task{}, errors.New(errors.CodeConfigInvalid).
			WithDetailf("task %q", tc.Name).
			Wrap(err)
	}
	t.Action = func(ctx context.Context) error {
		return b.opts.Runner.Run(ctx, b.withEnv(spec)).AsError()
	}
	return t, nil
}

// goTask is the task go:watch re-runs and build depends on.
func (b *Builder) goTask() string {
	if b.cfg.Wasm.Enabled {
		return TaskWasm
	}
	return TaskGenerate
}

func (b *Builder) sass(ctx context.Context) error {
	res := b.pipeline.Compile(ctx, b.cfg.Sass.Source, b.cfg.Sass.Dest)
	b.report(TaskSass, res)
	return res.AsError()
}

func (b *Builder) bundleJS(ctx context.Context) error {
	if !b.cfg.HasJS() {
		b.logger.Info("no js.output configured, nothing to bundle", "task", TaskJS)
		return nil
	}
	res := b.bundler.Bundle(ctx, b.cfg.JS.Vendor, b.cfg.JS.Local, b.cfg.JS.Output)
	b.report(TaskJS, res)
	return res.AsError()
}

func (b *Builder) generate(ctx context.Context) error {
	spec, err := process.ParseCommand(b.cfg.Go.Command, b.cfg.GoDirPath())
	if err != nil {
		return err
	}
	return b.opts.Runner.Run(ctx, b.withEnv(spec)).AsError()
}

func (b *Builder) wasm(ctx context.Context) error {
	var spec process.Spec
	if b.cfg.Wasm.Command != "" {
		parsed, err := process.ParseCommand(b.cfg.Wasm.Command, b.cfg.GoDirPath())
		if err != nil {
			return err
		}
		spec = parsed
	} else {
		out := b.cfg.WasmOutputPath()
		if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
			return errors.New(errors.CodeProcessFailed).Wrap(err)
		}
		spec = process.Spec{
			Command: "go",
			Args:    []string{"build", "-o", out, "-ldflags", "-s -w", "-trimpath", "."},
			Dir:     b.cfg.GoDirPath(),
		}
	}
	spec = b.withEnv(spec).WithEnv("GOOS=js", "GOARCH=wasm")
	res := b.opts.Runner.Run(ctx, spec)
	b.report(TaskWasm, res)
	return res.AsError()
}

func (b *Builder) publish(ctx context.Context) error {
	if b.cfg.Publish.Bucket == "" {
		return errors.New(errors.CodePublish).
			WithDetail("no bucket configured").
			WithSuggestion("Set publish.bucket in assetrun.json or " + config.EnvPublishBucket)
	}

	storage := b.opts.Storage
	if storage == nil {
		client, err := publish.NewClient(ctx, publish.ClientConfig{
			Region:    b.cfg.Publish.Region,
			Profile:   b.cfg.Publish.Profile,
			Endpoint:  b.cfg.Publish.Endpoint,
			PathStyle: b.cfg.Publish.PathStyle,
		})
		if err != nil {
			return err
		}
		storage = client
	}

	paths := []string{b.cfg.Sass.Dest}
	if b.cfg.HasJS() {
		paths = append(paths, b.cfg.JS.Output)
	}
	if b.cfg.Wasm.Enabled {
		paths = append(paths, b.cfg.Wasm.Output)
	}

	p := publish.New(storage, publish.Options{
		Bucket:       b.cfg.Publish.Bucket,
		Prefix:       b.cfg.Publish.Prefix,
		Root:         b.cfg.Dir(),
		CacheControl: b.cfg.Publish.CacheControl,
		Logger:       b.logger,
		OnUpload: func(_ string, err error) {
			b.opts.Metrics.Upload(err)
		},
	})
	res := p.Publish(ctx, paths...)
	b.report(TaskPublish, res)
	return res.AsError()
}

func (b *Builder) withEnv(spec process.Spec) process.Spec {
	if env := b.cfg.Environ(); len(env) > 0 {
		return spec.WithEnv(env...)
	}
	return spec
}

func (b *Builder) report(name string, res compile.Result) {
	if !res.OK() {
		return
	}
	b.logger.Info("task output",
		"task", name,
		"files", len(res.Files),
		"duration", res.Duration.Round(time.Millisecond),
	)
}

func (b *Builder) sassSubscriptions() []watch.Subscription {
	return subscriptions(b.cfg.Sass.Watch, TaskSass)
}

func (b *Builder) jsSubscriptions() []watch.Subscription {
	if !b.cfg.HasJS() {
		return nil
	}
	return subscriptions(b.cfg.JSWatchGlobs(), TaskJS)
}

func (b *Builder) goSubscriptions() []watch.Subscription {
	return subscriptions(b.cfg.Go.Watch, b.goTask())
}

func (b *Builder) customSubscriptions() []watch.Subscription {
	var subs []watch.Subscription
	for _, tc := range b.cfg.Tasks {
		subs = append(subs, subscriptions(tc.Watch, tc.Name)...)
	}
	return subs
}

func subscriptions(globs []string, taskName string) []watch.Subscription {
	subs := make([]watch.Subscription, 0, len(globs))
	for _, g := range globs {
		subs = append(subs, watch.Subscription{Glob: g, Task: taskName})
	}
	return subs
}
