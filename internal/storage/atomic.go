package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/roman-kulish/vibrometry/internal/faults"
)

// Pending is a container written to a hidden sibling of its target path. The
// target only appears once Commit succeeds, so a failed write leaves nothing
// behind.
type Pending struct {
	*File

	target    string
	overwrite bool

	doneOnce sync.Once
	doneErr  error
}

// CreatePending starts a container destined for target. Without overwrite it
// fails with faults.ErrFileExists if target exists.
func CreatePending(ctx context.Context, target string, overwrite bool) (*Pending, error) {
	if err := checkTarget(target, overwrite); err != nil {
		return nil, err
	}

	tmp := filepath.Join(filepath.Dir(target), fmt.Sprintf(".%s.%s.tmp", filepath.Base(target), uuid.NewString()))
	f, err := Create(ctx, tmp)
	if err != nil {
		return nil, err
	}

	return &Pending{File: f, target: target, overwrite: overwrite}, nil
}

// Target returns the final path of the container.
func (p *Pending) Target() string {
	return p.target
}

// Commit closes the container and moves it into place. Commit and Abort are
// safe to call multiple times; only the first call has an effect.
func (p *Pending) Commit() error {
	p.doneOnce.Do(func() {
		tmp := p.File.Path()

		if err := p.File.Close(); err != nil {
			p.doneErr = errors.Join(faults.Storage("closing %s: %v", tmp, err), removeFile(tmp))
			return
		}
		if err := checkTarget(p.target, p.overwrite); err != nil {
			p.doneErr = errors.Join(err, removeFile(tmp))
			return
		}
		if err := os.Rename(tmp, p.target); err != nil {
			p.doneErr = errors.Join(faults.Storage("moving %s into place: %v", p.target, err), removeFile(tmp))
		}
	})

	return p.doneErr
}

// Abort closes and deletes the temporary container.
func (p *Pending) Abort() error {
	p.doneOnce.Do(func() {
		p.doneErr = errors.Join(p.File.Close(), removeFile(p.File.Path()))
	})

	return p.doneErr
}

func checkTarget(target string, overwrite bool) error {
	info, err := os.Stat(target)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil
	case err != nil:
		return faults.Storage("checking %s: %v", target, err)
	case info.IsDir():
		return faults.Storage("%s is a directory", target)
	case !overwrite:
		return fmt.Errorf("%w: %s", faults.ErrFileExists, target)
	}
	return nil
}

func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
