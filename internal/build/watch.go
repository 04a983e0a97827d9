package build

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/assetrun/assetrun/internal/dev"
	"github.com/assetrun/assetrun/internal/errors"
	"github.com/assetrun/assetrun/internal/fsutil"
	"github.com/assetrun/assetrun/internal/task"
	"github.com/assetrun/assetrun/internal/watch"
)

func (b *Builder) watchAction(subs func() []watch.Subscription) task.Action {
	return func(ctx context.Context) error {
		return b.watch(ctx, subs(), false)
	}
}

func (b *Builder) watchAll(ctx context.Context) error {
	var subs []watch.Subscription
	subs = append(subs, b.sassSubscriptions()...)
	subs = append(subs, b.jsSubscriptions()...)
	subs = append(subs, b.goSubscriptions()...)
	subs = append(subs, b.customSubscriptions()...)
	return b.watch(ctx, subs, b.cfg.Dev.Enabled && !b.opts.NoDevServer)
}

// watch re-runs the subscribed tasks on change until ctx is cancelled, and
// serves the build output with live reload when serve is set. Globs whose
// base directory does not exist are skipped with a warning.
func (b *Builder) watch(ctx context.Context, subs []watch.Subscription, serve bool) error {
	subs = b.existing(subs)
	if len(subs) == 0 {
		return errors.New(errors.CodeWatch).
			WithDetail("nothing to watch").
			WithSuggestion("Check the watch globs in assetrun.json; their directories must exist")
	}

	backend, err := b.newBackend()
	if err != nil {
		return errors.FromError(err, errors.CodeWatch)
	}

	var server *dev.Server
	if serve {
		server = dev.NewServer(dev.Options{
			Addr:    b.cfg.DevAddress(),
			Root:    b.cfg.DevRootPath(),
			Metrics: b.opts.Metrics,
			Logger:  b.logger,
		})
	}

	w := watch.New(backend, watch.Options{
		Root:     b.cfg.Dir(),
		Debounce: b.cfg.DebounceDuration(),
		Ignore:   b.ignore(),
		Logger:   b.logger,
		OnTrigger: func(name string, started bool) {
			b.opts.Metrics.WatchTrigger(name, started)
		},
		AfterRun: func(name string, d time.Duration, err error) {
			if server != nil {
				server.AfterRun(name, d, err)
			}
		},
	})
	defer w.Close()

	g, gctx := errgroup.WithContext(ctx)
	if server != nil {
		g.Go(func() error { return server.Start(gctx) })
	}
	g.Go(func() error {
		return w.Run(gctx, subs, func(ctx context.Context, name string) error {
			return b.registry.Run(ctx, name, b.opts.Run)
		})
	})
	return g.Wait()
}

func (b *Builder) existing(subs []watch.Subscription) []watch.Subscription {
	out := subs[:0:0]
	for _, sub := range subs {
		base := fsutil.GlobBase(fsutil.Resolve(b.cfg.Dir(), sub.Glob))
		if !fsutil.Exists(base) {
			b.logger.Warn("watch directory does not exist, skipping", "glob", sub.Glob, "task", sub.Task)
			continue
		}
		out = append(out, sub)
	}
	return out
}

func (b *Builder) newBackend() (watch.Backend, error) {
	if b.opts.Backend != nil {
		return b.opts.Backend()
	}
	if b.cfg.Watch.Poll {
		return watch.NewPoll(b.cfg.PollIntervalDuration(), b.ignore()), nil
	}
	backend, err := watch.NewFSNotify(b.ignore())
	if err != nil {
		return nil, err
	}
	return backend, nil
}

func (b *Builder) ignore() watch.Ignore {
	return append(append(watch.Ignore(nil), watch.DefaultIgnore...), b.cfg.Watch.Ignore...)
}
