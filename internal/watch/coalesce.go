package watch

import (
	"context"
	"sync"
)

// Coalescer serializes runs of one task. A trigger while idle starts a run;
// a trigger while a run is in flight marks exactly one pending re-run, and any
// further triggers before that re-run starts collapse into it.
type Coalescer struct {
	run func(ctx context.Context)

	mu      sync.Mutex
	running bool
	pending bool
	wg      sync.WaitGroup
}

// NewCoalescer creates a coalescer around run.
func NewCoalescer(run func(ctx context.Context)) *Coalescer {
	return &Coalescer{run: run}
}

// Trigger requests a run. It never blocks on the run itself and reports
// whether a new run was started (false means it was coalesced).
func (c *Coalescer) Trigger(ctx context.Context) bool {
	c.mu.Lock()
	if c.running {
		c.pending = true
		c.mu.Unlock()
		return false
	}
	c.running = true
	c.wg.Add(1)
	c.mu.Unlock()

	go c.loop(ctx)
	return true
}

func (c *Coalescer) loop(ctx context.Context) {
	defer c.wg.Done()

	for {
		c.run(ctx)

		c.mu.Lock()
		if !c.pending || ctx.Err() != nil {
			c.running = false
			c.pending = false
			c.mu.Unlock()
			return
		}
		c.pending = false
		c.mu.Unlock()
	}
}

// Busy reports whether a run is in flight.
func (c *Coalescer) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Wait blocks until no run is in flight.
func (c *Coalescer) Wait() {
	c.wg.Wait()
}
