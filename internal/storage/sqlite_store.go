package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/roman-kulish/vibrometry/internal/faults"
)

// File is a container backed by a single SQLite database file.
type File struct {
	path     string
	readOnly bool
	db       *sql.DB

	// groups caches paths known to be groups.
	mu     sync.Mutex
	groups map[string]struct{}

	closeOnce sync.Once
	closeErr  error
}

var (
	_ Writer = (*File)(nil)
	_ Reader = (*File)(nil)
)

// Create creates a new container at path. It fails with faults.ErrFileExists
// when anything already exists at path.
func Create(ctx context.Context, path string) (*File, error) {
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("%w: %s", faults.ErrFileExists, path)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, faults.Storage("checking %s: %v", path, err)
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", path, "_journal_mode=DELETE&_synchronous=NORMAL"))
	if err != nil {
		return nil, faults.Storage("opening %s: %v", path, err)
	}
	db.SetMaxOpenConns(1)

	if err = initContainer(ctx, db); err != nil {
		_ = db.Close()
		_ = os.Remove(path)
		return nil, faults.Storage("initializing %s: %v", path, err)
	}

	return &File{path: path, db: db, groups: make(map[string]struct{})}, nil
}

func initContainer(ctx context.Context, db *sql.DB) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	if _, err = tx.ExecContext(ctx, initSchemaSQL); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	if _, err = tx.ExecContext(ctx, insertFormatSQL, formatName, formatVersion); err != nil {
		return fmt.Errorf("writing format marker: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Path returns the file path of the container.
func (f *File) Path() string {
	return f.path
}

func (f *File) CreateGroup(ctx context.Context, path string) (err error) {
	if f.readOnly {
		return ErrReadOnly
	}
	p, err := validNodePath(path)
	if err != nil {
		return err
	}

	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return faults.Storage("beginning transaction: %v", err)
	}
	defer rollbackWithError(tx, &err)

	created, err := f.ensureGroups(ctx, tx, ancestors(p))
	if err != nil {
		return err
	}

	parent, name := splitPath(p)
	if _, err = tx.ExecContext(ctx, insertGroupSQL, p, parent, name); err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("%w: %s", ErrExists, p)
		}
		return faults.Storage("creating group %s: %v", p, err)
	}

	if err = tx.Commit(); err != nil {
		return faults.Storage("committing transaction: %v", err)
	}

	f.rememberGroups(append(created, p))
	return nil
}

func (f *File) Write(ctx context.Context, path string, d Dataset) error {
	return f.WriteBatch(ctx, []Entry{{Path: path, Dataset: d}})
}

func (f *File) WriteBatch(ctx context.Context, entries []Entry) (err error) {
	if f.readOnly {
		return ErrReadOnly
	}
	if len(entries) == 0 {
		return nil
	}

	paths := make([]string, len(entries))
	for i, e := range entries {
		if paths[i], err = validNodePath(e.Path); err != nil {
			return err
		}
		if err = e.Dataset.validate(); err != nil {
			return faults.Storage("dataset %s: %v", paths[i], err)
		}
	}

	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return faults.Storage("beginning transaction: %v", err)
	}
	defer rollbackWithError(tx, &err)

	stmt, err := tx.PrepareContext(ctx, insertDatasetSQL)
	if err != nil {
		return faults.Storage("preparing statement: %v", err)
	}
	defer closeWithError(stmt, &err)

	var created []string
	for i, e := range entries {
		p := paths[i]

		newGroups, gErr := f.ensureGroups(ctx, tx, ancestors(p))
		if gErr != nil {
			return gErr
		}
		created = append(created, newGroups...)

		rank := 1
		if e.Dataset.Scalar {
			rank = 0
		}

		parent, name := splitPath(p)
		if _, err = stmt.ExecContext(ctx, p, parent, name, string(e.Dataset.DType), rank, e.Dataset.Len(), encodeDataset(e.Dataset)); err != nil {
			if isConstraintViolation(err) {
				return fmt.Errorf("%w: %s", ErrExists, p)
			}
			return faults.Storage("writing dataset %s: %v", p, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return faults.Storage("committing transaction: %v", err)
	}

	f.rememberGroups(created)
	return nil
}

// ensureGroups creates missing groups along paths and returns the ones not
// yet cached. An existing dataset on the way fails with ErrNotGroup.
func (f *File) ensureGroups(ctx context.Context, tx *sql.Tx, paths []string) ([]string, error) {
	var ensured []string

	for _, p := range paths {
		if f.knownGroup(p) {
			continue
		}

		parent, name := splitPath(p)
		if _, err := tx.ExecContext(ctx, ensureGroupSQL, p, parent, name); err != nil {
			return nil, faults.Storage("creating group %s: %v", p, err)
		}

		var kind int
		if err := tx.QueryRowContext(ctx, selectNodeKindSQL, p).Scan(&kind); err != nil {
			return nil, faults.Storage("checking group %s: %v", p, err)
		}
		if kind != nodeKindGroup {
			return nil, fmt.Errorf("%w: %s", ErrNotGroup, p)
		}
		ensured = append(ensured, p)
	}

	return ensured, nil
}

func (f *File) knownGroup(p string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, ok := f.groups[p]
	return ok
}

func (f *File) rememberGroups(paths []string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, p := range paths {
		f.groups[p] = struct{}{}
	}
}

// Close releases the database handle. It is safe to call Close multiple times.
func (f *File) Close() error {
	f.closeOnce.Do(func() {
		if f.db != nil {
			f.closeErr = f.db.Close()
			f.db = nil
		}
	})

	return f.closeErr
}
