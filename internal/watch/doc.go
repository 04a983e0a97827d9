// Package watch re-runs tasks when files matching a glob change.
//
// A Backend (FSNotify, or Poll where notifications are unavailable) reports
// raw events for directory trees. A Watcher routes them to subscriptions,
// each of which yields debounced batches on a Stream. Run binds streams to
// tasks through a per-task Coalescer, so a burst of changes during a build
// produces exactly one follow-up build of that task.
package watch
