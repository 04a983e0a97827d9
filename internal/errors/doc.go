// Package errors provides structured, actionable error messages for assetrun.
//
// Every failure the orchestrator reports carries a registered code:
//
//	E201  duplicate task            E208  missing vendor file
//	E202  unknown dependency        E209  minification failed
//	E203  cyclic dependency         E210  configuration not found
//	E204  unknown task              E211  invalid configuration
//	E205  task execution failed     E212  file watcher failed
//	E206  command failed            E213  publish failed
//	E207  sass compilation failed   E214  sass compiler unavailable
//
// Registration and configuration errors (E201-E204, E210, E211) are fatal at
// startup. E205 wraps the first failing action of a run.
//
// # Usage
//
//	err := errors.New(errors.CodeMissingFile).
//	    WithDetail("static/js/vendor/jquery.js")
//
//	if errors.Is(err, errors.ErrMissingFile) {
//	    fmt.Print(err.Format())
//	}
package errors
