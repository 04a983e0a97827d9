// Package dev serves build output during `assetrun run watch` and reloads
// connected browsers after every task run.
//
// # Routes
//
//	/_assetrun/reload   WebSocket live reload channel
//	/healthz            liveness probe
//	/metrics            Prometheus metrics
//	/*                  files under the served root
//
// HTML pages get ClientScript injected before </body>.
//
// # Reload Protocol
//
// Messages are JSON-encoded:
//
//	{"type": "reload"}                 // Triggers full page reload
//	{"type": "css"}                    // Re-fetches stylesheets only
//	{"type": "error", "error": "..."}  // Shows error overlay
//	{"type": "clear"}                  // Clears error overlay
//
// A failed task shows the overlay; the next successful run clears it. CSS
// tasks (sass by default) refresh stylesheets, every other task reloads the
// page.
package dev
