package app

import (
	"context"
	"fmt"
	"strconv"

	"github.com/roman-kulish/vibrometry/internal/datafile"
	"github.com/roman-kulish/vibrometry/internal/gather"
	"github.com/roman-kulish/vibrometry/internal/storage"
)

// Section holds the averaged traces of a gather, one row per trace.
type Section struct {
	Width, Height    int
	TimeMin, TimeMax float64
	Traces           [][]float64
	Bounds           Bounds
}

// LoadSection reads the average velocity of every trace in the gather store.
// The time axis is taken from the first trace.
func LoadSection(ctx context.Context, gatherPath string) (s *Section, err error) {
	f, err := storage.Open(ctx, gatherPath)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	totalDs, err := f.Read(ctx, storage.Join(gather.ExperimentGroup, gather.TotalTracesName))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", gather.TotalTracesName, err)
	}
	total, err := totalDs.ScalarFloat64()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", gather.TotalTracesName, err)
	}

	s = &Section{Traces: make([][]float64, 0, int(total))}
	for i := range int(total) {
		trace := strconv.Itoa(i)

		d, err := f.Read(ctx, storage.Join(gather.DataTraceGroup, trace, gather.AverageVelocityName))
		if err != nil {
			return nil, fmt.Errorf("reading trace %d: %w", i, err)
		}
		avg, err := d.AsFloat64s()
		if err != nil {
			return nil, fmt.Errorf("trace %d: %w", i, err)
		}

		if i == 0 {
			if s.TimeMin, s.TimeMax, err = timeRange(ctx, f, trace, len(avg)); err != nil {
				return nil, err
			}
		}

		s.Width = max(s.Width, len(avg))
		s.Traces = append(s.Traces, avg)
	}

	s.Height = len(s.Traces)
	s.Bounds = PercentileBounds(s.Traces)
	return s, nil
}

// timeRange returns the first and last time stamp of the n averaged samples.
func timeRange(ctx context.Context, f *storage.File, trace string, n int) (float64, float64, error) {
	d, err := f.Read(ctx, storage.Join(gather.DataTraceGroup, trace, datafile.SITime))
	if err != nil {
		return 0, 0, fmt.Errorf("reading %s: %w", datafile.SITime, err)
	}
	times, err := d.AsFloat64s()
	if err != nil {
		return 0, 0, err
	}
	if n = min(n, len(times)); n == 0 {
		return 0, 0, nil
	}
	return times[0], times[n-1], nil
}
