package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roman-kulish/vibrometry/internal/faults"
)

// Open opens an existing container read-only.
func Open(ctx context.Context, path string) (f *File, err error) {
	if _, err = os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, faults.Storage("opening %s: file does not exist", path)
		}
		return nil, faults.Storage("opening %s: %v", path, err)
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", path, "mode=ro"))
	if err != nil {
		return nil, faults.Storage("opening %s: %v", path, err)
	}

	var format string
	if err = db.QueryRowContext(ctx, selectFormatSQL).Scan(&format); err != nil || format != formatName {
		_ = db.Close()
		if err == nil {
			err = fmt.Errorf("unexpected format %q", format)
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrNotStore, path, err)
	}

	return &File{path: path, readOnly: true, db: db, groups: make(map[string]struct{})}, nil
}

func (f *File) Read(ctx context.Context, path string) (Dataset, error) {
	p, err := validNodePath(path)
	if err != nil {
		return Dataset{}, err
	}

	var (
		kind   int
		dtype  sql.NullString
		rank   sql.NullInt64
		length sql.NullInt64
		data   []byte
	)

	err = f.db.QueryRowContext(ctx, selectDatasetSQL, p).Scan(&kind, &dtype, &rank, &length, &data)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return Dataset{}, fmt.Errorf("%w: %s", ErrNotFound, p)
	case err != nil:
		return Dataset{}, faults.Storage("reading %s: %v", p, err)
	case kind != nodeKindDataset:
		return Dataset{}, fmt.Errorf("%w: %s", ErrNotDataset, p)
	}

	d, err := decodeDataset(DType(dtype.String), rank.Int64 == 0, int(length.Int64), data)
	if err != nil {
		return Dataset{}, faults.Storage("decoding %s: %v", p, err)
	}
	return d, nil
}

func (f *File) List(ctx context.Context, group string) (nodes []Node, err error) {
	p := cleanPath(group)
	if p != Root {
		kind, kErr := f.nodeKind(ctx, p)
		if kErr != nil {
			return nil, kErr
		}
		if kind != nodeKindGroup {
			return nil, fmt.Errorf("%w: %s", ErrNotGroup, p)
		}
	}

	rows, err := f.db.QueryContext(ctx, selectChildrenSQL, p)
	if err != nil {
		return nil, faults.Storage("listing %s: %v", p, err)
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var (
			n    Node
			kind int
		)
		if err = rows.Scan(&n.Name, &n.Path, &kind); err != nil {
			return nil, faults.Storage("scanning %s: %v", p, err)
		}
		n.IsGroup = kind == nodeKindGroup
		nodes = append(nodes, n)
	}
	if err = rows.Err(); err != nil {
		return nil, faults.Storage("listing %s: %v", p, err)
	}
	return nodes, nil
}

func (f *File) Exists(ctx context.Context, path string) (bool, error) {
	p := cleanPath(path)
	if p == Root {
		return true, nil
	}
	_, err := f.nodeKind(ctx, p)
	switch {
	case errors.Is(err, ErrNotFound):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

func (f *File) IsGroup(ctx context.Context, path string) (bool, error) {
	p := cleanPath(path)
	if p == Root {
		return true, nil
	}
	kind, err := f.nodeKind(ctx, p)
	if err != nil {
		return false, err
	}
	return kind == nodeKindGroup, nil
}

func (f *File) nodeKind(ctx context.Context, p string) (int, error) {
	var kind int
	err := f.db.QueryRowContext(ctx, selectNodeKindSQL, p).Scan(&kind)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, fmt.Errorf("%w: %s", ErrNotFound, p)
	case err != nil:
		return 0, faults.Storage("looking up %s: %v", p, err)
	}
	return kind, nil
}
