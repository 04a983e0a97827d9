package watch

import (
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/assetrun/assetrun/internal/errors"
)

// FSNotify is a Backend on top of the operating system's notification API.
// Directories created below a watched tree are watched automatically.
type FSNotify struct {
	mu      sync.Mutex
	watcher *fsnotify.Watcher
	ignore  Ignore
	dirs    map[string]bool
	events  chan Event
	errors  chan error
	closed  bool
	closeCh chan struct{}
	wg      sync.WaitGroup
}

// NewFSNotify starts an fsnotify backend. Directories matching ignore are
// never watched.
func NewFSNotify(ignore Ignore) (*FSNotify, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.New(errors.CodeWatch).WithDetail("cannot start file notifications").Wrap(err)
	}

	b := &FSNotify{
		watcher: fsw,
		ignore:  ignore,
		dirs:    make(map[string]bool),
		events:  make(chan Event, 256),
		errors:  make(chan error, 16),
		closeCh: make(chan struct{}),
	}
	b.wg.Add(1)
	go b.loop()
	return b, nil
}

// Add implements Backend.
func (b *FSNotify) Add(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return errors.New(errors.CodeWatch).WithDetailf("cannot watch %s", dir).Wrap(err)
	}
	if !info.IsDir() {
		abs = filepath.Dir(abs)
	}

	return filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if p != abs && b.ignore.Match(p) {
			return filepath.SkipDir
		}
		return b.addDir(p)
	})
}

func (b *FSNotify) addDir(dir string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.New(errors.CodeWatch).WithDetail("watcher is closed")
	}
	if b.dirs[dir] {
		return nil
	}
	if err := b.watcher.Add(dir); err != nil {
		return errors.New(errors.CodeWatch).WithDetailf("cannot watch %s", dir).Wrap(err)
	}
	b.dirs[dir] = true
	return nil
}

// Events implements Backend.
func (b *FSNotify) Events() <-chan Event { return b.events }

// Errors implements Backend.
func (b *FSNotify) Errors() <-chan error { return b.errors }

// Close implements Backend.
func (b *FSNotify) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.closeCh)
	b.mu.Unlock()

	err := b.watcher.Close()
	b.wg.Wait()
	close(b.events)
	close(b.errors)
	return err
}

func (b *FSNotify) loop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.closeCh:
			return

		case ev, ok := <-b.watcher.Events:
			if !ok {
				return
			}
			b.handle(ev)

		case err, ok := <-b.watcher.Errors:
			if !ok {
				return
			}
			select {
			case b.errors <- err:
			default:
			}
		}
	}
}

func (b *FSNotify) handle(ev fsnotify.Event) {
	op := convertOp(ev.Op)
	if op == 0 || b.ignore.Match(ev.Name) {
		return
	}

	if op&OpCreate != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			_ = b.Add(ev.Name)
		}
	}

	select {
	case b.events <- Event{Path: ev.Name, Op: op}:
	case <-b.closeCh:
	}
}

// convertOp maps fsnotify operations; chmod-only events are dropped.
func convertOp(fsOp fsnotify.Op) Op {
	var op Op
	if fsOp.Has(fsnotify.Create) {
		op |= OpCreate
	}
	if fsOp.Has(fsnotify.Write) {
		op |= OpWrite
	}
	if fsOp.Has(fsnotify.Remove) {
		op |= OpRemove
	}
	if fsOp.Has(fsnotify.Rename) {
		op |= OpRename
	}
	return op
}
