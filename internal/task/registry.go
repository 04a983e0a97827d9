package task

import (
	"context"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/assetrun/assetrun/internal/errors"
)

// Action is the work a task performs.
type Action func(ctx context.Context) error

// Task is a named, dependency-ordered unit of build work.
type Task struct {
	// Name is the unique task identifier (e.g., "sass", "assets:js").
	Name string

	// Deps are the tasks that must complete before this one starts.
	Deps []string

	// Action is the work to perform. A nil action makes the task a pure
	// aggregate of its dependencies.
	Action Action

	// Description is shown by `assetrun list`.
	Description string
}

// Hooks observe task execution.
type Hooks struct {
	// OnStart is called before a task's action runs.
	OnStart func(name string)

	// OnFinish is called after a task's action returns.
	OnFinish func(name string, duration time.Duration, err error)
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for task progress.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithTracer sets the tracer used to wrap each task in a span.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Registry) {
		r.tracer = tracer
	}
}

// WithHooks installs execution hooks.
func WithHooks(hooks Hooks) Option {
	return func(r *Registry) {
		r.hooks = hooks
	}
}

// Registry holds named tasks. Tasks are registered once at startup and never
// mutated; the registry is safe for concurrent lookups and runs.
type Registry struct {
	mu     sync.RWMutex
	tasks  map[string]*Task
	order  []string
	logger *slog.Logger
	tracer trace.Tracer
	hooks  Hooks
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		tasks:  make(map[string]*Task),
		logger: slog.Default(),
		tracer: otel.Tracer("github.com/assetrun/assetrun/internal/task"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a task whose dependencies must already be registered.
func (r *Registry) Register(name string, deps []string, action Action) error {
	return r.RegisterTask(Task{Name: name, Deps: deps, Action: action})
}

// RegisterTask adds a single task value. Like Register, it never refers
// forward, so a task cannot depend on itself.
func (r *Registry) RegisterTask(t Task) error {
	return r.register([]Task{t}, false)
}

// RegisterBatch adds several tasks atomically. Dependencies may refer to
// tasks already registered or to any task of the batch, in any order. On
// error nothing is registered.
func (r *Registry) RegisterBatch(batch []Task) error {
	return r.register(batch, true)
}

func (r *Registry) register(batch []Task, forward bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	pending := make(map[string]bool, len(batch))
	for _, t := range batch {
		if t.Name == "" {
			return errors.New(errors.CodeConfigInvalid).WithDetail("task name must not be empty")
		}
		if _, exists := r.tasks[t.Name]; exists || pending[t.Name] {
			return errors.New(errors.CodeDuplicateTask).WithDetailf("task %q is already registered", t.Name)
		}
		pending[t.Name] = true
	}

	for _, t := range batch {
		for _, dep := range t.Deps {
			if _, ok := r.tasks[dep]; ok || (forward && pending[dep]) {
				continue
			}
			return errors.New(errors.CodeUnknownDependency).
				WithDetailf("task %q depends on %q, which is not registered", t.Name, dep)
		}
	}

	for _, t := range batch {
		t.Deps = slices.Clone(t.Deps)
		r.tasks[t.Name] = &t
		r.order = append(r.order, t.Name)
	}
	return nil
}

// Lookup returns the task registered under name.
func (r *Registry) Lookup(name string) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[name]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

// Names returns all task names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := slices.Clone(r.order)
	sort.Strings(names)
	return names
}

// Tasks returns all tasks in registration order.
func (r *Registry) Tasks() []Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Task, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, *r.tasks[name])
	}
	return out
}

// Plan resolves the transitive dependency set of name by depth-first
// traversal and returns it with every dependency before its dependents.
// Dependencies are visited in declared order, so the plan is deterministic.
func (r *Registry) Plan(name string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.tasks[name]; !ok {
		return nil, errors.New(errors.CodeUnknownTask).WithDetailf("task %q is not registered", name)
	}

	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int)
	var stack []string
	var plan []string

	var visit func(n string) error
	visit = func(n string) error {
		switch color[n] {
		case black:
			return nil
		case gray:
			i := slices.Index(stack, n)
			cycle := append(slices.Clone(stack[i:]), n)
			return errors.New(errors.CodeCyclicDependency).WithDetail(strings.Join(cycle, " -> "))
		}

		color[n] = gray
		stack = append(stack, n)
		for _, dep := range r.tasks[n].Deps {
			if err := visit(dep); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		color[n] = black
		plan = append(plan, n)
		return nil
	}

	if err := visit(name); err != nil {
		return nil, err
	}
	return plan, nil
}

// Validate checks every registered task for reachable cycles.
func (r *Registry) Validate() error {
	for _, name := range r.Names() {
		if _, err := r.Plan(name); err != nil {
			return err
		}
	}
	return nil
}
