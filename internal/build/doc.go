// Package build assembles the task registry of a project from assetrun.json.
//
// Built-in tasks:
//
//	sass         compile sass.source into sass.dest
//	assets:js    bundle js.vendor + js.local into js.output
//	go:generate  run go.command in go.dir
//	go:wasm      build the WebAssembly module with GOOS=js GOARCH=wasm
//	build        sass, assets:js and go:generate (go:wasm when wasm.enabled)
//	publish      upload the build output to publish.bucket
//	sass:watch   re-run sass on change
//	js:watch     re-run assets:js on change
//	go:watch     re-run the go task on change
//	watch        every watcher, plus the dev server when dev.enabled is set
//	default      alias for defaultTask
//
// Entries of tasks[] become command tasks registered together with watch and
// default, so their dependencies may name any task.
//
// # Usage
//
//	b, err := build.New(build.Options{Config: cfg, Logger: logger})
//	if err != nil {
//	    return err
//	}
//	return b.Run(ctx, "build", task.RunOptions{Parallel: true})
package build
