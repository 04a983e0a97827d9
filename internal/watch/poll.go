package watch

import (
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/assetrun/assetrun/internal/errors"
)

// DefaultPollInterval is the scan period of a Poll backend.
const DefaultPollInterval = 250 * time.Millisecond

// Poll is a Backend that rescans watched trees for modification-time
// changes. It works on filesystems without change notifications (network
// mounts, some container volumes).
type Poll struct {
	interval time.Duration
	ignore   Ignore

	mu         sync.Mutex
	roots      []string
	timestamps map[string]stamp

	events    chan Event
	errors    chan error
	closeOnce sync.Once
	closeCh   chan struct{}
	wg        sync.WaitGroup
}

// NewPoll starts a polling backend. A zero interval uses
// DefaultPollInterval.
func NewPoll(interval time.Duration, ignore Ignore) *Poll {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	p := &Poll{
		interval:   interval,
		ignore:     ignore,
		timestamps: make(map[string]stamp),
		events:     make(chan Event, 256),
		errors:     make(chan error, 16),
		closeCh:    make(chan struct{}),
	}
	p.wg.Add(1)
	go p.loop()
	return p
}

// Add implements Backend. Files already present are recorded without
// producing events.
func (p *Poll) Add(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	if _, err := os.Stat(abs); err != nil {
		return errors.New(errors.CodeWatch).WithDetailf("cannot watch %s", dir).Wrap(err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range p.roots {
		if r == abs {
			return nil
		}
	}
	p.roots = append(p.roots, abs)
	p.walk(abs, func(path string, st stamp) {
		p.timestamps[path] = st
	})
	return nil
}

// Events implements Backend.
func (p *Poll) Events() <-chan Event { return p.events }

// Errors implements Backend.
func (p *Poll) Errors() <-chan error { return p.errors }

// Close implements Backend.
func (p *Poll) Close() error {
	p.closeOnce.Do(func() {
		close(p.closeCh)
		p.wg.Wait()
		close(p.events)
		close(p.errors)
	})
	return nil
}

func (p *Poll) loop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.closeCh:
			return
		case <-ticker.C:
			for _, ev := range p.scan() {
				select {
				case p.events <- ev:
				case <-p.closeCh:
					return
				}
			}
		}
	}
}

// scan compares the trees against the recorded stamps.
func (p *Poll) scan() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()

	var changes []Event
	seen := make(map[string]bool, len(p.timestamps))
	for _, root := range p.roots {
		p.walk(root, func(path string, st stamp) {
			seen[path] = true
			last, exists := p.timestamps[path]
			switch {
			case !exists:
				changes = append(changes, Event{Path: path, Op: OpCreate})
			case st != last:
				changes = append(changes, Event{Path: path, Op: OpWrite})
			default:
				return
			}
			p.timestamps[path] = st
		})
	}

	for path := range p.timestamps {
		if !seen[path] {
			delete(p.timestamps, path)
			changes = append(changes, Event{Path: path, Op: OpRemove})
		}
	}
	return changes
}

// stamp identifies one version of a file.
type stamp struct {
	mod  time.Time
	size int64
}

func (p *Poll) walk(root string, fn func(path string, st stamp)) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && p.ignore.Match(path) {
				return filepath.SkipDir
			}
			return nil
		}
		if p.ignore.Match(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		fn(path, stamp{mod: info.ModTime(), size: info.Size()})
		return nil
	})
}
