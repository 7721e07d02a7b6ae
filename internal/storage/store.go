// Package storage implements a single-file hierarchical container of groups
// and typed datasets on top of SQLite. Every node is addressed by an absolute
// slash separated path, groups may be nested, and datasets hold a scalar or a
// one dimensional array of a single element type.
package storage

import (
	"context"
	"fmt"

	"github.com/roman-kulish/vibrometry/internal/faults"
)

var (
	ErrNotFound    = fmt.Errorf("%w: node not found", faults.ErrStorage)
	ErrExists      = fmt.Errorf("%w: node already exists", faults.ErrStorage)
	ErrNotGroup    = fmt.Errorf("%w: node is not a group", faults.ErrStorage)
	ErrNotDataset  = fmt.Errorf("%w: node is not a dataset", faults.ErrStorage)
	ErrInvalidPath = fmt.Errorf("%w: invalid node path", faults.ErrStorage)
	ErrReadOnly    = fmt.Errorf("%w: container is read-only", faults.ErrStorage)
	ErrNotStore    = fmt.Errorf("%w: not a container file", faults.ErrStorage)
)

// Node is a child entry returned by List.
type Node struct {
	Name    string
	Path    string
	IsGroup bool
}

// Entry pairs a dataset with its destination path for batch writes.
type Entry struct {
	Path    string
	Dataset Dataset
}

// Writer is the write side of a container.
type Writer interface {
	// CreateGroup creates an empty group and any missing parent groups.
	// Creating a group that already exists fails with ErrExists.
	CreateGroup(ctx context.Context, path string) error

	// Write stores a dataset at path, creating parent groups as needed.
	// Writing to an existing path fails with ErrExists.
	Write(ctx context.Context, path string, d Dataset) error

	// WriteBatch stores all entries in a single transaction. Either every
	// entry is written or none is.
	WriteBatch(ctx context.Context, entries []Entry) error

	Close() error
}

// Reader is the read side of a container.
type Reader interface {
	// Read returns the dataset stored at path.
	Read(ctx context.Context, path string) (Dataset, error)

	// List returns the children of a group sorted by name.
	List(ctx context.Context, group string) ([]Node, error)

	Exists(ctx context.Context, path string) (bool, error)
	IsGroup(ctx context.Context, path string) (bool, error)

	Close() error
}
