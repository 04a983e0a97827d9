package watch

import "fmt"

// Op is a set of file operations.
type Op uint8

const (
	OpCreate Op = 1 << iota
	OpWrite
	OpRemove
	OpRename
)

func (op Op) String() string {
	switch {
	case op&OpCreate != 0:
		return "create"
	case op&OpWrite != 0:
		return "write"
	case op&OpRemove != 0:
		return "remove"
	case op&OpRename != 0:
		return "rename"
	default:
		return fmt.Sprintf("op(%d)", uint8(op))
	}
}

// Event is a change to a single path, as reported by a Backend.
type Event struct {
	Path string
	Op   Op
}

// Backend delivers raw change events for watched directory trees.
type Backend interface {
	// Add watches dir and every directory below it.
	Add(dir string) error

	// Events delivers changes. Closed by Close.
	Events() <-chan Event

	// Errors delivers non-fatal backend errors. Closed by Close.
	Errors() <-chan error

	// Close stops the backend.
	Close() error
}
