// Package export converts gather stores into columnar files for analysis
// tools.
package export

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/parquet-go/parquet-go"

	"github.com/roman-kulish/vibrometry/internal/datafile"
	"github.com/roman-kulish/vibrometry/internal/gather"
	"github.com/roman-kulish/vibrometry/internal/storage"
)

// File level key/value metadata.
const (
	TotalTracesKey = "total_traces"
	SourceKey      = "source"
)

// TraceSample is one averaged velocity sample of a trace.
type TraceSample struct {
	Trace            int32   `parquet:"trace"`
	Time             float64 `parquet:"time"`
	AverageVelocity  float64 `parquet:"average_velocity"`
	ReceiverLocation string  `parquet:"receiver_location,zstd"`
	SourceLocation   string  `parquet:"source_location,zstd"`
}

// WriteGatherParquet writes one row per trace sample of the gather store at
// gatherPath to w and returns the number of rows. Time is truncated to the
// length of AverageVelocity.
func WriteGatherParquet(ctx context.Context, gatherPath string, w io.Writer) (rows int64, err error) {
	f, err := storage.Open(ctx, gatherPath)
	if err != nil {
		return 0, err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	totalDs, err := f.Read(ctx, storage.Join(gather.ExperimentGroup, gather.TotalTracesName))
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", gather.TotalTracesName, err)
	}
	total, err := totalDs.ScalarFloat64()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", gather.TotalTracesName, err)
	}

	pw := parquet.NewGenericWriter[TraceSample](w,
		parquet.Compression(&parquet.Zstd),
		parquet.KeyValueMetadata(TotalTracesKey, strconv.Itoa(int(total))),
		parquet.KeyValueMetadata(SourceKey, filepath.Base(gatherPath)),
	)

	for i := range int(total) {
		if err = ctx.Err(); err != nil {
			return rows, err
		}

		batch, err := traceRows(ctx, f, i)
		if err != nil {
			return rows, err
		}
		n, err := pw.Write(batch)
		rows += int64(n)
		if err != nil {
			return rows, fmt.Errorf("writing trace %d: %w", i, err)
		}
	}

	if err = pw.Close(); err != nil {
		return rows, fmt.Errorf("closing parquet writer: %w", err)
	}
	return rows, nil
}

func traceRows(ctx context.Context, f *storage.File, i int) ([]TraceSample, error) {
	trace := strconv.Itoa(i)
	read := func(elem ...string) (storage.Dataset, error) {
		p := storage.Join(elem...)
		d, err := f.Read(ctx, p)
		if err != nil {
			return d, fmt.Errorf("reading %s: %w", p, err)
		}
		return d, nil
	}

	timeDs, err := read(gather.DataTraceGroup, trace, datafile.SITime)
	if err != nil {
		return nil, err
	}
	avgDs, err := read(gather.DataTraceGroup, trace, gather.AverageVelocityName)
	if err != nil {
		return nil, err
	}
	receiver, err := read(gather.MetaTraceGroup, trace, gather.ReceiverLocationName)
	if err != nil {
		return nil, err
	}
	source, err := read(gather.MetaTraceGroup, trace, gather.SourceLocationName)
	if err != nil {
		return nil, err
	}

	times, err := timeDs.AsFloat64s()
	if err != nil {
		return nil, err
	}
	avg, err := avgDs.AsFloat64s()
	if err != nil {
		return nil, err
	}

	rcv, src := label(receiver), label(source)
	n := min(len(times), len(avg))
	out := make([]TraceSample, n)
	for k := range n {
		out[k] = TraceSample{
			Trace:            int32(i),
			Time:             times[k],
			AverageVelocity:  avg[k],
			ReceiverLocation: rcv,
			SourceLocation:   src,
		}
	}
	return out, nil
}

// label renders a location dataset as text; arrays are comma separated.
func label(d storage.Dataset) string {
	if d.DType == storage.String {
		return strings.Join(d.Strings, ",")
	}

	values, err := d.AsFloat64s()
	if err != nil {
		return ""
	}
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}
