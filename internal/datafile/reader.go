package datafile

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math"
	"strconv"

	"gonum.org/v1/gonum/floats"

	"github.com/roman-kulish/vibrometry/internal/faults"
	"github.com/roman-kulish/vibrometry/internal/metadata"
	"github.com/roman-kulish/vibrometry/internal/storage"
	"github.com/roman-kulish/vibrometry/internal/vibrometer"
)

// ErrBlockRange is returned for block indexes or ranges outside the file.
var ErrBlockRange = errors.New("block index out of range")

var (
	velocityChannel = vibrometer.ChannelVelocity.String()
	rssiChannel     = vibrometer.ChannelRSSI.String()
	triggerChannel  = vibrometer.ChannelTrigger.String()
)

// Reader gives access to a single-run store in physical units. A Reader is
// not safe for concurrent use.
type Reader struct {
	path string
	file *storage.File

	meta         metadata.Mapping
	scaleFactors map[string]float64

	freqFactor     int
	prePostTrigger int64
	baseSamples    int
	totalSamples   int
	baseSampleRate float64
	sampleRate     float64
	blockCount     int
}

// Open opens a run file and derives its sampling parameters from the
// vibrometer metadata. A missing required field fails with
// faults.ErrMissingField.
func Open(ctx context.Context, path string) (r *Reader, err error) {
	f, err := storage.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = f.Close()
		}
	}()

	r = &Reader{path: path, file: f, scaleFactors: make(map[string]float64)}
	if err = r.load(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Reader) load(ctx context.Context) error {
	nodes, err := r.file.List(ctx, storage.Root)
	if err != nil {
		return err
	}

	flat := make(map[string]metadata.Value)
	for _, n := range nodes {
		if n.IsGroup {
			sf, err := r.file.Read(ctx, storage.Join(n.Name, ScaleFactorName))
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("reading %s scale factor: %w", n.Name, err)
			}
			if r.scaleFactors[n.Name], err = sf.ScalarFloat64(); err != nil {
				return faults.Storage("%s: %s/%s: %v", r.path, n.Name, ScaleFactorName, err)
			}
			continue
		}

		if _, _, ok := metadata.SplitName(n.Name); !ok {
			continue
		}
		d, err := r.file.Read(ctx, n.Path)
		if err != nil {
			return fmt.Errorf("reading metadata %s: %w", n.Name, err)
		}
		if flat[n.Name], err = FromDataset(d); err != nil {
			return faults.Storage("%s: metadata %s: %v", r.path, n.Name, err)
		}
	}
	r.meta = metadata.Unflatten(flat)

	sampleRate, err := r.requireFloat(vibrometer.SettingSampleRate)
	if err != nil {
		return err
	}
	baseSampleRate, err := r.requireFloat(vibrometer.SettingBaseSampleRate)
	if err != nil {
		return err
	}
	prePostTrigger, err := r.requireInt(vibrometer.SettingPrePostTrigger)
	if err != nil {
		return err
	}
	blockSize, err := r.requireInt(vibrometer.SettingBlockSize)
	if err != nil {
		return err
	}
	blockCount, err := r.requireInt(vibrometer.SettingBlockCount)
	if err != nil {
		return err
	}

	if baseSampleRate <= 0 || sampleRate < baseSampleRate {
		return faults.Storage("%s: sample rate %g is not a multiple of base sample rate %g", r.path, sampleRate, baseSampleRate)
	}
	if blockSize < 1 || blockCount < 1 {
		return faults.Storage("%s: invalid block layout %d x %d", r.path, blockCount, blockSize)
	}

	r.freqFactor = int(math.Floor(sampleRate / baseSampleRate))
	r.prePostTrigger = prePostTrigger
	r.baseSamples = int(blockSize)
	r.totalSamples = r.baseSamples * r.freqFactor
	r.baseSampleRate = baseSampleRate
	r.sampleRate = baseSampleRate / float64(r.freqFactor)
	r.blockCount = int(blockCount)

	return nil
}

func (r *Reader) require(s vibrometer.Setting) (metadata.Value, error) {
	v, ok := r.meta.Get(metadata.Vibrometer, string(s))
	if !ok {
		return v, faults.MissingField(r.path, metadata.FlatName(metadata.Vibrometer, string(s)))
	}
	return v, nil
}

func (r *Reader) requireFloat(s vibrometer.Setting) (float64, error) {
	v, err := r.require(s)
	if err != nil {
		return 0, err
	}
	f, ok := v.AsFloat()
	if !ok {
		return 0, faults.Storage("%s: %s is %s, want a number", r.path, s, v.Kind())
	}
	return f, nil
}

func (r *Reader) requireInt(s vibrometer.Setting) (int64, error) {
	v, err := r.require(s)
	if err != nil {
		return 0, err
	}
	i, ok := v.AsInt()
	if !ok {
		return 0, faults.Storage("%s: %s is %s, want an integer", r.path, s, v.Kind())
	}
	return i, nil
}

func (r *Reader) Path() string { return r.path }

// Metadata returns a copy of the run metadata.
func (r *Reader) Metadata() metadata.Mapping {
	m := metadata.New()
	_ = m.Merge(r.meta)
	return m
}

func (r *Reader) FreqFactor() int         { return r.freqFactor }
func (r *Reader) PrePostTrigger() int64   { return r.prePostTrigger }
func (r *Reader) BaseSamples() int        { return r.baseSamples }
func (r *Reader) TotalSamples() int       { return r.totalSamples }
func (r *Reader) BaseSampleRate() float64 { return r.baseSampleRate }
func (r *Reader) SampleRate() float64     { return r.sampleRate }
func (r *Reader) BlockCount() int         { return r.blockCount }

// HasChannel reports whether the file holds the named channel group.
func (r *Reader) HasChannel(name string) bool {
	_, ok := r.scaleFactors[name]
	return ok
}

// Velocity returns block n of the velocity channel multiplied by its scale
// factor.
func (r *Reader) Velocity(ctx context.Context, n int) ([]float64, error) {
	return r.scaled(ctx, velocityChannel, n)
}

// RSSI returns block n of the RSSI channel multiplied by its scale factor.
func (r *Reader) RSSI(ctx context.Context, n int) ([]float64, error) {
	return r.scaled(ctx, rssiChannel, n)
}

// Trigger returns block n of the trigger channel.
func (r *Reader) Trigger(ctx context.Context, n int) ([]bool, error) {
	return r.flags(ctx, triggerChannel, storage.Join(triggerChannel, strconv.Itoa(n)), n)
}

// Overrange returns the velocity overrange flags of block n.
func (r *Reader) Overrange(ctx context.Context, n int) ([]bool, error) {
	return r.flags(ctx, velocityChannel, storage.Join(velocityChannel, OverrangeGroup, strconv.Itoa(n)), n)
}

func (r *Reader) scaled(ctx context.Context, channel string, n int) ([]float64, error) {
	if err := r.checkBlock(n); err != nil {
		return nil, err
	}
	sf, ok := r.scaleFactors[channel]
	if !ok {
		return nil, faults.MissingField(r.path, channel)
	}

	d, err := r.read(ctx, storage.Join(channel, strconv.Itoa(n)))
	if err != nil {
		return nil, err
	}
	values, err := d.AsFloat64s()
	if err != nil {
		return nil, faults.Storage("%s: %s/%d: %v", r.path, channel, n, err)
	}

	floats.Scale(sf, values)
	return values, nil
}

func (r *Reader) flags(ctx context.Context, channel, path string, n int) ([]bool, error) {
	if err := r.checkBlock(n); err != nil {
		return nil, err
	}
	if !r.HasChannel(channel) {
		return nil, faults.MissingField(r.path, channel)
	}

	d, err := r.read(ctx, path)
	if err != nil {
		return nil, err
	}
	if d.DType == storage.Bool {
		return d.Bools, nil
	}

	values, err := d.AsFloat64s()
	if err != nil {
		return nil, faults.Storage("%s: %s: %v", r.path, path, err)
	}
	out := make([]bool, len(values))
	for i, v := range values {
		out[i] = v != 0
	}
	return out, nil
}

func (r *Reader) read(ctx context.Context, path string) (storage.Dataset, error) {
	d, err := r.file.Read(ctx, path)
	if errors.Is(err, storage.ErrNotFound) {
		return d, faults.MissingField(r.path, path)
	}
	return d, err
}

func (r *Reader) checkBlock(n int) error {
	if n < 0 || n >= r.blockCount {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrBlockRange, n, r.blockCount)
	}
	return nil
}

// AverageVelocity returns the elementwise mean of the velocity blocks in
// [start, end).
func (r *Reader) AverageVelocity(ctx context.Context, start, end int) ([]float64, error) {
	if end <= start {
		return nil, fmt.Errorf("%w: empty range [%d, %d)", ErrBlockRange, start, end)
	}
	if start < 0 || end > r.blockCount {
		return nil, fmt.Errorf("%w: [%d, %d) not within [0, %d)", ErrBlockRange, start, end, r.blockCount)
	}

	var sum []float64
	for n := start; n < end; n++ {
		v, err := r.Velocity(ctx, n)
		if err != nil {
			return nil, err
		}
		if sum == nil {
			sum = v
			continue
		}
		if len(v) != len(sum) {
			return nil, fmt.Errorf("%w: %s: velocity block %d has %d samples, expected %d",
				faults.ErrDataIntegrity, r.path, n, len(v), len(sum))
		}
		floats.Add(sum, v)
	}

	floats.Scale(1/float64(end-start), sum)
	return sum, nil
}

// AverageVelocityAll averages every block.
func (r *Reader) AverageVelocityAll(ctx context.Context) ([]float64, error) {
	return r.AverageVelocity(ctx, 0, r.blockCount)
}

// TimeArray yields sample timestamps relative to the trigger. With the
// frequency factor applied it yields TotalSamples*FreqFactor values at
// (i - pre_post_trigger) / sample_rate; without, TotalSamples values at
// (i - pre_post_trigger // freq_factor) / base_sample_rate. The sequence can
// be ranged over any number of times.
func (r *Reader) TimeArray(applyFreqFactor bool) iter.Seq[float64] {
	n := r.totalSamples
	offset := r.prePostTrigger
	rate := r.baseSampleRate

	if applyFreqFactor {
		n *= r.freqFactor
		rate = r.sampleRate
	} else {
		offset = floorDiv(offset, int64(r.freqFactor))
	}

	return func(yield func(float64) bool) {
		for i := range n {
			if !yield(float64(int64(i)-offset) / rate) {
				return
			}
		}
	}
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// Close releases the underlying store.
func (r *Reader) Close() error {
	return r.file.Close()
}
