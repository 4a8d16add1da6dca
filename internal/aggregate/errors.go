package aggregate

import (
	"fmt"
	"os"
)

// NotFoundError reports that the target directory does not exist.
type NotFoundError struct {
	Path string
	Err  error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("directory not found: %s", e.Path)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// PermissionError reports denied read access on a chunk or denied write
// access on the output artifact.
type PermissionError struct {
	Op   string // "read" or "write"
	Path string
	Err  error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: %s %s", e.Op, e.Path)
}

func (e *PermissionError) Unwrap() error { return e.Err }

// IOError reports any other read/write failure (disk full, file removed
// mid-scan).
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("i/o error: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// classify maps a raw filesystem error onto the aggregator's error taxonomy.
func classify(op, path string, err error) error {
	switch {
	case os.IsPermission(err):
		return &PermissionError{Op: op, Path: path, Err: err}
	default:
		return &IOError{Op: op, Path: path, Err: err}
	}
}
