// Package gather merges a directory of single-run store files into one store
// organized by trace.
//
// Each run file declares, in its traces namespace, the source locations it
// covers, the receiver location(s) and the number of shots fired per point.
// Its blocks are split into contiguous runs of shots_per_point blocks, one per
// source location, and every run becomes a trace with the next global index:
//
//	/experiment/*                      experiment metadata of the first file
//	/device/*                          vibrometer settings of the first file
//	/galvo/*, /rotator/*, /sample/*    when present
//	/data/trace/<i>/Velocity/<shot>    SI samples, also Overrange, RSSI, Trigger
//	/data/trace/<i>/Time
//	/data/trace/<i>/BaseTime
//	/data/trace/<i>/AverageVelocity
//	/metadata/trace/<i>/receiver_location
//	/metadata/trace/<i>/source_location
//	/experiment/total_traces
package gather

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/roman-kulish/vibrometry/internal/datafile"
	"github.com/roman-kulish/vibrometry/internal/faults"
	"github.com/roman-kulish/vibrometry/internal/metadata"
	"github.com/roman-kulish/vibrometry/internal/storage"
)

// Output layout.
const (
	ExperimentGroup = "experiment"
	DeviceGroup     = "device"
	DataTraceGroup  = "data/trace"
	MetaTraceGroup  = "metadata/trace"

	TotalTracesName      = "total_traces"
	AverageVelocityName  = "AverageVelocity"
	ReceiverLocationName = "receiver_location"
	SourceLocationName   = "source_location"

	// OutputSuffix names the default output "<prefix>-gather.sqlite", which
	// does not match the input pattern.
	OutputSuffix = "-gather.sqlite"
)

// Keys read from the traces namespace of every input.
const (
	ReceiverLocKey   = "receiver_loc"
	SrcLocationsKey  = "src_locations"
	ShotsPerPointKey = "shots_per_point"
)

// optionalGroups are copied from the first input when it has them.
var optionalGroups = []metadata.Namespace{metadata.Galvo, metadata.Rotator, metadata.Sample}

// Option configures RecvGatherToOneFile.
type Option func(o *options)

type options struct {
	output      string
	overwrite   bool
	concurrency int
	logger      *slog.Logger
}

// WithOutput sets the output path. The default is "<dir>/<prefix>-gather.sqlite".
func WithOutput(path string) Option {
	return func(o *options) {
		o.output = path
	}
}

// WithOverwrite allows replacing an existing output.
func WithOverwrite(overwrite bool) Option {
	return func(o *options) {
		o.overwrite = overwrite
	}
}

// WithConcurrency bounds the number of inputs validated in parallel.
func WithConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithLogger sets the logger for the aggregation
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger.With(slog.String("component", "gather"))
	}
}

// Result describes a written gather store.
type Result struct {
	Output      string
	Files       []string
	TotalTraces int
}

// plan is the validated trace layout of one input.
type plan struct {
	path          string
	blockCount    int
	shotsPerPoint int
	receivers     []metadata.Value
	sources       []metadata.Value
}

func (p plan) traces() int {
	return len(p.sources)
}

// RecvGatherToOneFile aggregates every "<prefix>_*" store in dir, in
// lexicographic order, into one gather store. All inputs are validated before
// the output is created; an input whose shots_per_point * num_traces differs
// from its block count fails with a *faults.IntegrityError. Nothing is written
// unless the whole aggregation succeeds.
func RecvGatherToOneFile(ctx context.Context, dir, prefix string, opts ...Option) (*Result, error) {
	o := options{
		output:      filepath.Join(dir, prefix+OutputSuffix),
		concurrency: runtime.NumCPU(),
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&o)
	}

	files, err := Discover(dir, prefix)
	if err != nil {
		return nil, err
	}
	files = slices.DeleteFunc(files, func(f string) bool {
		return filepath.Clean(f) == filepath.Clean(o.output)
	})
	if len(files) == 0 {
		return nil, faults.Storage("no files matching %s_* in %s", prefix, dir)
	}

	plans, err := validate(ctx, files, o.concurrency)
	if err != nil {
		return nil, err
	}

	o.logger.Info("inputs validated", slog.Int("files", len(files)))

	total, err := write(ctx, plans, o)
	if err != nil {
		return nil, err
	}

	if info, err := os.Stat(o.output); err == nil {
		o.logger.Info("gather written",
			slog.String("path", o.output),
			slog.Int("traces", total),
			slog.String("size", humanize.Bytes(uint64(info.Size()))))
	}

	return &Result{Output: o.output, Files: files, TotalTraces: total}, nil
}

// Discover returns the regular files in dir matching "<prefix>_*", sorted.
// Hidden files are skipped.
func Discover(dir, prefix string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, prefix+"_*"))
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}

	files := make([]string, 0, len(matches))
	for _, m := range matches {
		if strings.HasPrefix(filepath.Base(m), ".") {
			continue
		}
		info, err := os.Stat(m)
		if err != nil {
			return nil, faults.Storage("checking %s: %v", m, err)
		}
		if info.Mode().IsRegular() {
			files = append(files, m)
		}
	}

	slices.Sort(files)
	return files, nil
}

// validate plans every input concurrently and returns the plans in input order.
func validate(ctx context.Context, files []string, concurrency int) ([]plan, error) {
	plans := make([]plan, len(files))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, path := range files {
		g.Go(func() error {
			p, err := planFile(gctx, path)
			if err != nil {
				return err
			}
			plans[i] = p
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return plans, nil
}

func planFile(ctx context.Context, path string) (p plan, err error) {
	r, err := datafile.Open(ctx, path)
	if err != nil {
		return p, err
	}
	defer func() {
		err = errors.Join(err, r.Close())
	}()

	m := r.Metadata()
	get := func(key string) (metadata.Value, error) {
		v, ok := m.Get(metadata.Traces, key)
		if !ok {
			return v, faults.MissingField(path, metadata.FlatName(metadata.Traces, key))
		}
		return v, nil
	}

	sources, err := get(SrcLocationsKey)
	if err != nil {
		return p, err
	}
	receivers, err := get(ReceiverLocKey)
	if err != nil {
		return p, err
	}
	sppValue, err := get(ShotsPerPointKey)
	if err != nil {
		return p, err
	}
	spp, ok := sppValue.AsInt()
	if !ok || spp < 1 {
		return p, fmt.Errorf("%w: %s: %s must be a positive integer, got %s",
			faults.ErrDataIntegrity, path, ShotsPerPointKey, sppValue)
	}

	numTraces := sources.Len()
	if expected := spp * int64(numTraces); expected != int64(r.BlockCount()) {
		return p, &faults.IntegrityError{
			File:     path,
			Expected: expected,
			Actual:   int64(r.BlockCount()),
			Detail:   fmt.Sprintf("%s %d * %d traces", ShotsPerPointKey, spp, numTraces),
		}
	}

	broadcast := !receivers.Kind().IsArray()
	if !broadcast && receivers.Len() != numTraces {
		return p, fmt.Errorf("%w: %s: %d receiver locations for %d traces",
			faults.ErrDataIntegrity, path, receivers.Len(), numTraces)
	}

	p = plan{path: path, blockCount: r.BlockCount(), shotsPerPoint: int(spp)}
	for j := range numTraces {
		src, err := sources.Index(j)
		if err != nil {
			return p, err
		}
		rcv := receivers
		if !broadcast {
			if rcv, err = receivers.Index(j); err != nil {
				return p, err
			}
		}
		p.sources = append(p.sources, src)
		p.receivers = append(p.receivers, rcv)
	}
	return p, nil
}

func write(ctx context.Context, plans []plan, o options) (total int, err error) {
	out, err := storage.CreatePending(ctx, o.output, o.overwrite)
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", o.output, err)
	}
	defer func() {
		if err != nil {
			_ = out.Abort()
		}
	}()

	for i, p := range plans {
		r, err := datafile.Open(ctx, p.path)
		if err != nil {
			return 0, err
		}

		if i == 0 {
			err = writeHeader(ctx, out, r.Metadata())
		}
		for j := 0; err == nil && j < p.traces(); j++ {
			err = writeTrace(ctx, out, r, p, j, total)
			total++
		}

		if err = errors.Join(err, r.Close()); err != nil {
			return 0, fmt.Errorf("%s: %w", p.path, err)
		}
		o.logger.Debug("input merged",
			slog.String("path", p.path),
			slog.Int("blocks", p.blockCount),
			slog.Int("traces", p.traces()))
	}

	if err = out.Write(ctx, storage.Join(ExperimentGroup, TotalTracesName), storage.Int64Scalar(int64(total))); err != nil {
		return 0, fmt.Errorf("writing %s: %w", TotalTracesName, err)
	}
	if err = out.Commit(); err != nil {
		return 0, err
	}
	return total, nil
}

// section maps a metadata namespace onto an output group.
type section struct {
	ns    metadata.Namespace
	group string
}

func writeHeader(ctx context.Context, out *storage.Pending, m metadata.Mapping) error {
	groups := []section{
		{metadata.Experiment, ExperimentGroup},
		{metadata.Vibrometer, DeviceGroup},
	}
	for _, ns := range optionalGroups {
		if len(m.Keys(ns)) > 0 {
			groups = append(groups, section{ns, string(ns)})
		}
	}

	var entries []storage.Entry
	for _, g := range groups {
		e, err := datafile.NamespaceEntries(m, g.ns, g.group)
		if err != nil {
			return err
		}
		entries = append(entries, e...)
	}

	for _, group := range []string{ExperimentGroup, DataTraceGroup, MetaTraceGroup} {
		if err := out.CreateGroup(ctx, group); err != nil {
			return fmt.Errorf("creating %s: %w", group, err)
		}
	}
	return out.WriteBatch(ctx, entries)
}

// writeTrace writes trace j of the input as global trace index.
func writeTrace(ctx context.Context, out *storage.Pending, r *datafile.Reader, p plan, j, index int) error {
	first := j * p.shotsPerPoint
	dataPath := storage.Join(DataTraceGroup, strconv.Itoa(index))
	metaPath := storage.Join(MetaTraceGroup, strconv.Itoa(index))

	var entries []storage.Entry
	for shot := range p.shotsPerPoint {
		block, err := r.SIBlock(ctx, first+shot, strconv.Itoa(shot))
		if err != nil {
			return err
		}
		for _, e := range block {
			entries = append(entries, storage.Entry{Path: storage.Join(dataPath, e.Path), Dataset: e.Dataset})
		}
	}

	avg, err := r.AverageVelocity(ctx, first, first+p.shotsPerPoint)
	if err != nil {
		return err
	}
	receiver, err := datafile.ToDataset(p.receivers[j])
	if err != nil {
		return fmt.Errorf("%s: %w", ReceiverLocationName, err)
	}
	source, err := datafile.ToDataset(p.sources[j])
	if err != nil {
		return fmt.Errorf("%s: %w", SourceLocationName, err)
	}

	entries = append(entries,
		storage.Entry{Path: storage.Join(dataPath, datafile.SITime), Dataset: storage.Float64Array(slices.Collect(r.TimeArray(true)))},
		storage.Entry{Path: storage.Join(dataPath, datafile.SIBaseTime), Dataset: storage.Float64Array(slices.Collect(r.TimeArray(false)))},
		storage.Entry{Path: storage.Join(dataPath, AverageVelocityName), Dataset: storage.Float64Array(avg)},
		storage.Entry{Path: storage.Join(metaPath, ReceiverLocationName), Dataset: receiver},
		storage.Entry{Path: storage.Join(metaPath, SourceLocationName), Dataset: source},
	)

	if err = out.WriteBatch(ctx, entries); err != nil {
		return fmt.Errorf("writing trace %d: %w", index, err)
	}
	return nil
}
