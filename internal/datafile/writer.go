// Package datafile reads and writes single-run vibrometer store files and
// derives their SI companion stores.
package datafile

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"sync"

	"github.com/roman-kulish/vibrometry/internal/acquisition"
	"github.com/roman-kulish/vibrometry/internal/faults"
	"github.com/roman-kulish/vibrometry/internal/metadata"
	"github.com/roman-kulish/vibrometry/internal/storage"
)

// Dataset names inside a channel group.
const (
	UnitName        = "unit"
	ScaleFactorName = "scalefactor"
	IDName          = "ID"
	OverrangeGroup  = "overrange"
)

// WithLogger sets the logger for the writer
func WithLogger(logger *slog.Logger) func(w *Writer) {
	return func(w *Writer) {
		w.logger = logger.With(slog.String("component", "datafile"))
	}
}

// Writer persists acquisition buffers and run metadata. It owns at most one
// open output at a time; the output only appears at its path once CloseFile
// succeeds.
type Writer struct {
	mu     sync.Mutex
	active *storage.Pending

	logger *slog.Logger
}

// NewWriter creates a Writer with a discard logger.
func NewWriter(options ...func(w *Writer)) *Writer {
	w := Writer{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, option := range options {
		option(&w)
	}

	return &w
}

// OpenFile starts a new output. It fails with faults.ErrFileExists when path
// exists and overwrite is false, and with faults.ErrInvalidState when an
// output is already open.
func (w *Writer) OpenFile(ctx context.Context, path string, overwrite bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.active != nil {
		return faults.InvalidState("opening %s: %s is still open", path, w.active.Target())
	}

	p, err := storage.CreatePending(ctx, path, overwrite)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	w.active = p

	w.logger.Debug("output opened", slog.String("path", path))
	return nil
}

// ActiveFile returns the path of the open output.
func (w *Writer) ActiveFile() (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.active == nil {
		return "", faults.InvalidState("no active file")
	}
	return w.active.Target(), nil
}

// WriteChannelData writes one group per channel holding unit, scalefactor,
// ID and one dataset per block, plus an overrange subgroup for measurement
// channels.
func (w *Writer) WriteChannelData(ctx context.Context, buf *acquisition.Buffer) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.active == nil {
		return faults.InvalidState("writing channel data: no active file")
	}

	for _, cb := range buf.Channels() {
		if err := w.active.WriteBatch(ctx, channelEntries(cb)); err != nil {
			return fmt.Errorf("writing channel %s: %w", cb.Name(), err)
		}
	}
	return nil
}

func channelEntries(cb *acquisition.ChannelBuffer) []storage.Entry {
	name := cb.Name()
	blocks, _ := cb.Shape()

	entries := make([]storage.Entry, 0, 3+2*blocks)
	entries = append(entries,
		storage.Entry{Path: storage.Join(name, UnitName), Dataset: storage.StringScalar(cb.Channel.Unit)},
		storage.Entry{Path: storage.Join(name, ScaleFactorName), Dataset: storage.Float64Scalar(cb.Channel.ScaleFactor)},
		storage.Entry{Path: storage.Join(name, IDName), Dataset: storage.Int64Scalar(cb.Channel.ID)},
	)

	for b := range blocks {
		var ds storage.Dataset
		if cb.Channel.IsBoolean() {
			ds = storage.BoolArray(cb.Bools[b])
		} else {
			ds = storage.Int32Array(cb.Int32s[b])
		}
		entries = append(entries, storage.Entry{Path: storage.Join(name, strconv.Itoa(b)), Dataset: ds})

		if cb.HasOverrange() {
			entries = append(entries, storage.Entry{
				Path:    storage.Join(name, OverrangeGroup, strconv.Itoa(b)),
				Dataset: storage.BoolArray(cb.Overrange[b]),
			})
		}
	}

	return entries
}

// WriteMetadata writes every entry as a top level dataset named
// "{namespace}__{key}". Names containing the delimiter are rejected before
// anything is written.
func (w *Writer) WriteMetadata(ctx context.Context, m metadata.Mapping) error {
	flat, err := m.Flatten()
	if err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}

	entries := make([]storage.Entry, 0, len(flat))
	for _, name := range slices.Sorted(maps.Keys(flat)) {
		ds, err := ToDataset(flat[name])
		if err != nil {
			return fmt.Errorf("writing metadata %s: %w", name, err)
		}
		entries = append(entries, storage.Entry{Path: storage.Join(name), Dataset: ds})
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.active == nil {
		return faults.InvalidState("writing metadata: no active file")
	}
	if err = w.active.WriteBatch(ctx, entries); err != nil {
		return fmt.Errorf("writing metadata: %w", err)
	}
	return nil
}

// CloseFile commits the open output to its path. It is safe to call when no
// output is open.
func (w *Writer) CloseFile() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.active == nil {
		return nil
	}

	p := w.active
	w.active = nil

	if err := p.Commit(); err != nil {
		return fmt.Errorf("closing %s: %w", p.Target(), err)
	}

	w.logger.Info("output written", slog.String("path", p.Target()))
	return nil
}

// Discard drops the open output without creating the file.
func (w *Writer) Discard() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.active == nil {
		return nil
	}

	p := w.active
	w.active = nil

	if err := p.Abort(); err != nil {
		return fmt.Errorf("discarding %s: %w", p.Target(), err)
	}
	w.logger.Debug("output discarded", slog.String("path", p.Target()))
	return nil
}
