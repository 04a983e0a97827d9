// Package task implements the task registry: named build tasks with declared
// dependencies, resolved into a run order and executed once each.
//
// # Registration
//
// Register requires every dependency to exist already, so a registry built
// one task at a time is always acyclic. RegisterBatch accepts forward
// references within the batch (this is how tasks declared in assetrun.json are
// loaded); cycles introduced that way are rejected by Plan and Run before any
// action executes.
//
// # Execution
//
// Run executes sequentially by default. With RunOptions.Parallel, tasks with
// no ancestor/descendant relation run concurrently; the run joins every
// dispatched task before returning the first error.
//
//	reg := task.NewRegistry(task.WithLogger(logger))
//	_ = reg.Register("sass", nil, compileSass)
//	_ = reg.Register("assets:js", nil, bundleJS)
//	_ = reg.Register("build", []string{"sass", "assets:js"}, nil)
//
//	if err := reg.Run(ctx, "build", task.RunOptions{Parallel: true}); err != nil {
//	    return err
//	}
package task
