package watch

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/assetrun/assetrun/internal/errors"
	"github.com/assetrun/assetrun/internal/fsutil"
)

// DefaultDebounce is the quiet period after the last change before a batch
// is emitted.
const DefaultDebounce = 100 * time.Millisecond

// Subscription binds a glob to the task it re-runs.
type Subscription struct {
	Glob string
	Task string
}

// Batch is a debounced group of changed paths for one subscription.
type Batch struct {
	Task  string
	Paths []string
}

// Options configures a Watcher.
type Options struct {
	// Root is the directory relative globs resolve against. Defaults to the
	// working directory.
	Root string

	// Debounce defaults to DefaultDebounce.
	Debounce time.Duration

	// Ignore is matched against paths relative to Root. Nil means
	// DefaultIgnore.
	Ignore Ignore

	Logger *slog.Logger

	// AfterRun is called after every task run started by Run.
	AfterRun func(task string, duration time.Duration, err error)

	// OnTrigger is called for every batch; started is false when the run was
	// coalesced into a pending one.
	OnTrigger func(task string, started bool)
}

// Watcher routes backend events to subscriptions.
type Watcher struct {
	backend Backend
	opts    Options

	mu       sync.Mutex
	streams  map[*Stream]struct{}
	started  bool
	closed   bool
	dispatch chan struct{}
}

// New creates a Watcher reading from backend. The Watcher owns the backend
// and closes it in Close.
func New(backend Backend, opts Options) *Watcher {
	if root, err := filepath.Abs(opts.Root); err == nil {
		opts.Root = root
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Ignore == nil {
		opts.Ignore = DefaultIgnore
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Watcher{
		backend:  backend,
		opts:     opts,
		streams:  make(map[*Stream]struct{}),
		dispatch: make(chan struct{}),
	}
}

// Subscribe watches the base directory of sub.Glob and returns a stream of
// debounced batches of matching paths.
func (w *Watcher) Subscribe(sub Subscription) (*Stream, error) {
	pattern := fsutil.Resolve(w.opts.Root, sub.Glob)
	if err := w.backend.Add(fsutil.GlobBase(pattern)); err != nil {
		return nil, errors.FromError(err, errors.CodeWatch)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil, errors.New(errors.CodeWatch).WithDetail("watcher is closed")
	}

	s := newStream(w, sub, pattern, w.opts.Debounce)
	w.streams[s] = struct{}{}
	if !w.started {
		w.started = true
		go w.route()
	}
	return s, nil
}

// Close stops every stream and the backend.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	streams := make([]*Stream, 0, len(w.streams))
	for s := range w.streams {
		streams = append(streams, s)
	}
	started := w.started
	w.mu.Unlock()

	for _, s := range streams {
		s.Close()
	}
	err := w.backend.Close()
	if started {
		<-w.dispatch
	}
	return err
}

func (w *Watcher) activeStreams() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.streams)
}

func (w *Watcher) remove(s *Stream) {
	w.mu.Lock()
	delete(w.streams, s)
	w.mu.Unlock()
}

func (w *Watcher) route() {
	defer close(w.dispatch)

	events, errs := w.backend.Events(), w.backend.Errors()
	for events != nil || errs != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			w.deliver(ev)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.opts.Logger.Warn("watch backend error", "error", err)
		}
	}
}

func (w *Watcher) deliver(ev Event) {
	rel, err := filepath.Rel(w.opts.Root, ev.Path)
	if err != nil {
		rel = ev.Path
	}
	if w.opts.Ignore.Match(rel) {
		return
	}

	w.mu.Lock()
	targets := make([]*Stream, 0, len(w.streams))
	for s := range w.streams {
		if fsutil.Match(s.pattern, ev.Path) {
			targets = append(targets, s)
		}
	}
	w.mu.Unlock()

	for _, s := range targets {
		s.add(ev.Path)
	}
}

// Run subscribes to every subscription and re-runs the bound task for each
// batch, through one Coalescer per task: runs of the same task never
// overlap, runs of different tasks are independent. A failing run is logged
// and watching continues. Run returns nil once ctx is cancelled and every
// in-flight run has finished.
func (w *Watcher) Run(ctx context.Context, subs []Subscription, run func(ctx context.Context, task string) error) error {
	streams := make([]*Stream, 0, len(subs))
	for _, sub := range subs {
		s, err := w.Subscribe(sub)
		if err != nil {
			for _, s := range streams {
				s.Close()
			}
			return err
		}
		streams = append(streams, s)
		w.opts.Logger.Info("watching", "glob", sub.Glob, "task", sub.Task)
	}

	coalescers := xsync.NewMapOf[string, *Coalescer]()
	var wg sync.WaitGroup
	for _, s := range streams {
		task := s.sub.Task
		c, _ := coalescers.LoadOrCompute(task, func() *Coalescer {
			return NewCoalescer(w.runTask(task, run))
		})

		wg.Add(1)
		go func(s *Stream, c *Coalescer) {
			defer wg.Done()
			for b := range s.C() {
				started := c.Trigger(ctx)
				w.opts.Logger.Info("change detected", "task", b.Task, "files", len(b.Paths), "queued", !started)
				if w.opts.OnTrigger != nil {
					w.opts.OnTrigger(b.Task, started)
				}
			}
		}(s, c)
	}

	<-ctx.Done()
	for _, s := range streams {
		s.Close()
	}
	wg.Wait()
	coalescers.Range(func(_ string, c *Coalescer) bool {
		c.Wait()
		return true
	})
	return nil
}

func (w *Watcher) runTask(task string, run func(ctx context.Context, task string) error) func(ctx context.Context) {
	return func(ctx context.Context) {
		start := time.Now()
		err := run(ctx, task)
		duration := time.Since(start)

		switch {
		case err != nil && ctx.Err() != nil:
			w.opts.Logger.Debug("task interrupted", "task", task)
		case err != nil:
			w.opts.Logger.Error("task failed, still watching", "task", task, "error", err)
		default:
			w.opts.Logger.Info("task finished", "task", task, "duration", duration.Round(time.Millisecond))
		}
		// Runs cut short by shutdown are not reported.
		if w.opts.AfterRun != nil && ctx.Err() == nil {
			w.opts.AfterRun(task, duration, err)
		}
	}
}

// Stream delivers debounced batches for one subscription.
type Stream struct {
	w        *Watcher
	sub      Subscription
	pattern  string
	debounce time.Duration

	c      chan Batch
	in     chan string
	done   chan struct{}
	exited chan struct{}
	once   sync.Once
}

func newStream(w *Watcher, sub Subscription, pattern string, debounce time.Duration) *Stream {
	s := &Stream{
		w:        w,
		sub:      sub,
		pattern:  pattern,
		debounce: debounce,
		c:        make(chan Batch),
		in:       make(chan string, 64),
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
	}
	go s.loop()
	return s
}

// C returns the batch channel. It is closed by Close.
func (s *Stream) C() <-chan Batch {
	return s.c
}

// Subscription returns the subscription the stream serves.
func (s *Stream) Subscription() Subscription {
	return s.sub
}

// Close stops the stream. No batch is delivered after Close returns.
func (s *Stream) Close() {
	s.once.Do(func() {
		close(s.done)
	})
	<-s.exited
	s.w.remove(s)
}

func (s *Stream) add(path string) {
	select {
	case s.in <- path:
	case <-s.done:
	}
}

func (s *Stream) loop() {
	defer close(s.exited)
	defer close(s.c)

	timer := time.NewTimer(s.debounce)
	timer.Stop()
	defer timer.Stop()

	var (
		timerC  <-chan time.Time
		pending = make(map[string]struct{})
		ready   = make(map[string]struct{})
		out     chan<- Batch
		batch   Batch
	)
	for {
		select {
		case <-s.done:
			return

		case p := <-s.in:
			pending[p] = struct{}{}
			timer.Reset(s.debounce)
			timerC = timer.C

		case <-timerC:
			timerC = nil
			for p := range pending {
				ready[p] = struct{}{}
			}
			clear(pending)
			batch = Batch{Task: s.sub.Task, Paths: sortedKeys(ready)}
			out = s.c

		case out <- batch:
			clear(ready)
			out = nil
		}
	}
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
