package task

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/assetrun/assetrun/internal/errors"
)

// RunOptions configures one run.
type RunOptions struct {
	// Parallel runs independent branches of the dependency graph
	// concurrently. Dependencies still complete before their dependents.
	Parallel bool

	// Jobs bounds the number of concurrent tasks in parallel mode.
	// Zero means unbounded.
	Jobs int

	// KeepGoing keeps starting independent branches after a failure and
	// reports every failure. By default no task starts after the first one
	// fails; tasks already dispatched are allowed to finish.
	KeepGoing bool
}

// Run executes name and its transitive dependencies, each exactly once,
// dependencies strictly before dependents. Nothing runs if the plan cannot
// be resolved. A failing action is reported as a TaskExecutionError.
func (r *Registry) Run(ctx context.Context, name string, opts RunOptions) error {
	plan, err := r.Plan(name)
	if err != nil {
		return err
	}

	if opts.Parallel {
		return r.runParallel(ctx, plan, opts)
	}
	return r.runSequential(ctx, plan, opts)
}

func (r *Registry) runSequential(ctx context.Context, plan []string, opts RunOptions) error {
	var merr *multierror.Error
	failed := make(map[string]bool)

	for _, name := range plan {
		if err := ctx.Err(); err != nil {
			return err
		}
		t, _ := r.Lookup(name)
		if dependsOnFailed(t, failed) {
			failed[name] = true
			continue
		}
		if err := r.execute(ctx, t); err != nil {
			if !opts.KeepGoing {
				return err
			}
			failed[name] = true
			merr = multierror.Append(merr, err)
		}
	}
	return flatten(merr)
}

type completion struct {
	name string
	err  error
}

func (r *Registry) runParallel(ctx context.Context, plan []string, opts RunOptions) error {
	inPlan := make(map[string]bool, len(plan))
	for _, name := range plan {
		inPlan[name] = true
	}

	waiting := make(map[string]int, len(plan))
	dependents := make(map[string][]string, len(plan))
	for _, name := range plan {
		t, _ := r.Lookup(name)
		for _, dep := range uniq(t.Deps) {
			if inPlan[dep] {
				waiting[name]++
				dependents[dep] = append(dependents[dep], name)
			}
		}
	}

	var g errgroup.Group
	if opts.Jobs > 0 {
		g.SetLimit(opts.Jobs)
	}
	done := make(chan completion, len(plan))
	running := 0

	launch := func(name string) {
		running++
		t, _ := r.Lookup(name)
		g.Go(func() error {
			done <- completion{name: name, err: r.execute(ctx, t)}
			return nil
		})
	}

	for _, name := range plan {
		if waiting[name] == 0 {
			launch(name)
		}
	}

	var merr *multierror.Error
	stopped := false
	for running > 0 {
		c := <-done
		running--

		if c.err != nil {
			merr = multierror.Append(merr, c.err)
			if !opts.KeepGoing {
				stopped = true
			}
			continue
		}
		if stopped || ctx.Err() != nil {
			continue
		}
		for _, next := range dependents[c.name] {
			waiting[next]--
			if waiting[next] == 0 {
				launch(next)
			}
		}
	}
	_ = g.Wait()

	if merr == nil {
		return ctx.Err()
	}
	if !opts.KeepGoing {
		return merr.Errors[0]
	}
	return flatten(merr)
}

// execute runs a single task's action inside a span.
func (r *Registry) execute(ctx context.Context, t Task) error {
	if t.Action == nil {
		return nil
	}

	ctx, span := r.tracer.Start(ctx, "assetrun.task",
		trace.WithAttributes(attribute.String("assetrun.task.name", t.Name)))
	defer span.End()

	if r.hooks.OnStart != nil {
		r.hooks.OnStart(t.Name)
	}
	r.logger.Info("starting task", "task", t.Name)

	start := time.Now()
	err := t.Action(ctx)
	duration := time.Since(start)

	if r.hooks.OnFinish != nil {
		r.hooks.OnFinish(t.Name, duration, err)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.logger.Error("task failed", "task", t.Name, "code", errors.Code(err), "duration", duration.Round(time.Millisecond), "error", err)
		return errors.New(errors.CodeTaskExecution).
			WithDetailf("task %q", t.Name).
			Wrap(err)
	}

	span.SetStatus(codes.Ok, "")
	r.logger.Info("finished task", "task", t.Name, "duration", duration.Round(time.Millisecond))
	return nil
}

func dependsOnFailed(t Task, failed map[string]bool) bool {
	for _, dep := range t.Deps {
		if failed[dep] {
			return true
		}
	}
	return false
}

func uniq(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := names[:0:0]
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

// flatten returns nil, the single error, or the aggregate.
func flatten(merr *multierror.Error) error {
	if merr == nil || len(merr.Errors) == 0 {
		return nil
	}
	if len(merr.Errors) == 1 {
		return merr.Errors[0]
	}
	return merr
}
