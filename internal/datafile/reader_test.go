package datafile

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"slices"
	"testing"

	"github.com/roman-kulish/vibrometry/internal/faults"
	"github.com/roman-kulish/vibrometry/internal/metadata"
	"github.com/roman-kulish/vibrometry/internal/storage"
	"github.com/roman-kulish/vibrometry/internal/vibrometer"
)

func openTestFile(t *testing.T) *Reader {
	t.Helper()

	path := filepath.Join(t.TempDir(), "run.sqlite")
	writeTestFile(t, path, testMetadata())

	r, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func almostEqual(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(a[i]-b[i]) > 1e-9 {
			return false
		}
	}
	return true
}

func TestReader_Parameters(t *testing.T) {
	r := openTestFile(t)

	if r.FreqFactor() != 2 {
		t.Errorf("Expected freq factor 2, got %d", r.FreqFactor())
	}
	if r.BaseSamples() != 4 || r.TotalSamples() != 8 {
		t.Errorf("Expected 4 base and 8 total samples, got %d and %d", r.BaseSamples(), r.TotalSamples())
	}
	if r.SampleRate() != 50 || r.BaseSampleRate() != 100 {
		t.Errorf("Expected rates 50 and 100, got %g and %g", r.SampleRate(), r.BaseSampleRate())
	}
	if r.BlockCount() != testBlockCount || r.PrePostTrigger() != testPrePostTrigger {
		t.Errorf("Expected %d blocks and trigger offset %d, got %d and %d",
			testBlockCount, testPrePostTrigger, r.BlockCount(), r.PrePostTrigger())
	}
	for _, ch := range []string{"Velocity", "RSSI", "Trigger"} {
		if !r.HasChannel(ch) {
			t.Errorf("Expected channel %s", ch)
		}
	}
}

func TestReader_Metadata(t *testing.T) {
	r := openTestFile(t)

	if got := r.Metadata(); !got.Equal(testMetadata()) {
		t.Errorf("Metadata did not round trip: %v", got)
	}

	// the copy is detached
	m := r.Metadata()
	m.MustSet(metadata.Experiment, "operator", metadata.String("changed"))
	if v, _ := r.Metadata().Get(metadata.Experiment, "operator"); !v.Equal(metadata.String("lab")) {
		t.Errorf("Metadata copy leaked into the reader: %v", v)
	}
}

func TestReader_ScaledChannels(t *testing.T) {
	r := openTestFile(t)
	ctx := context.Background()

	for b := range testBlockCount {
		v, err := r.Velocity(ctx, b)
		if err != nil {
			t.Fatalf("Velocity block %d: %v", b, err)
		}
		want := make([]float64, 8)
		for i := range want {
			want[i] = float64(10*b+i) * velocityScale
		}
		if !almostEqual(v, want) {
			t.Errorf("Block %d: expected velocity %v, got %v", b, want, v)
		}
	}

	rssi, err := r.RSSI(ctx, 2)
	if err != nil {
		t.Fatalf("RSSI: %v", err)
	}
	if !almostEqual(rssi, []float64{4.02, 4.02, 4.02, 4.02}) {
		t.Errorf("Unexpected RSSI %v", rssi)
	}

	trig, err := r.Trigger(ctx, 0)
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if idx := slices.Index(trig, true); idx != testPrePostTrigger*2 {
		t.Errorf("Expected trigger at %d, got %d", testPrePostTrigger*2, idx)
	}

	for b, want := range []bool{false, true, false} {
		flags, err := r.Overrange(ctx, b)
		if err != nil {
			t.Fatalf("Overrange(%d): %v", b, err)
		}
		if flags[len(flags)-1] != want {
			t.Errorf("Block %d: expected last overrange flag %t", b, want)
		}
	}

	if _, err = r.Velocity(ctx, testBlockCount); !errors.Is(err, ErrBlockRange) {
		t.Errorf("Expected ErrBlockRange, got %v", err)
	}
}

func TestReader_AverageVelocity(t *testing.T) {
	r := openTestFile(t)
	ctx := context.Background()

	tests := []struct {
		name       string
		start, end int
		base       float64
		wantErr    bool
	}{
		{name: "all blocks", start: 0, end: 3, base: 10},
		{name: "tail", start: 1, end: 3, base: 15},
		{name: "single block", start: 2, end: 3, base: 20},
		{name: "empty range", start: 2, end: 2, wantErr: true},
		{name: "reversed range", start: 2, end: 1, wantErr: true},
		{name: "past the end", start: 1, end: 4, wantErr: true},
		{name: "negative start", start: -1, end: 2, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			avg, err := r.AverageVelocity(ctx, tt.start, tt.end)
			if tt.wantErr {
				if !errors.Is(err, ErrBlockRange) {
					t.Errorf("Expected ErrBlockRange, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("AverageVelocity: %v", err)
			}

			want := make([]float64, 8)
			for i := range want {
				want[i] = (tt.base + float64(i)) * velocityScale
			}
			if !almostEqual(avg, want) {
				t.Errorf("Expected %v, got %v", want, avg)
			}
		})
	}

	all, err := r.AverageVelocityAll(ctx)
	if err != nil {
		t.Fatalf("AverageVelocityAll: %v", err)
	}
	if math.Abs(all[0]-5) > 1e-9 {
		t.Errorf("Expected first averaged sample 5, got %g", all[0])
	}
}

func TestReader_TimeArray(t *testing.T) {
	r := openTestFile(t)

	withFactor := slices.Collect(r.TimeArray(true))
	if len(withFactor) != 16 {
		t.Fatalf("Expected 16 timestamps, got %d", len(withFactor))
	}
	if withFactor[0] != -0.02 || withFactor[1] != 0 || withFactor[15] != 14.0/50 {
		t.Errorf("Unexpected time axis %v", withFactor)
	}

	base := slices.Collect(r.TimeArray(false))
	if len(base) != 8 {
		t.Fatalf("Expected 8 base timestamps, got %d", len(base))
	}
	if base[0] != 0 || base[7] != 0.07 {
		t.Errorf("Unexpected base time axis %v", base)
	}

	// the sequence is reusable
	if again := slices.Collect(r.TimeArray(false)); !slices.Equal(again, base) {
		t.Error("Second iteration differs from the first")
	}
}

func TestReader_MissingField(t *testing.T) {
	for _, setting := range []vibrometer.Setting{
		vibrometer.SettingSampleRate,
		vibrometer.SettingBaseSampleRate,
		vibrometer.SettingPrePostTrigger,
		vibrometer.SettingBlockSize,
		vibrometer.SettingBlockCount,
	} {
		t.Run(string(setting), func(t *testing.T) {
			m := testMetadata()
			delete(m[metadata.Vibrometer], string(setting))

			path := filepath.Join(t.TempDir(), "run.sqlite")
			writeTestFile(t, path, m)

			_, err := Open(context.Background(), path)
			if !errors.Is(err, faults.ErrMissingField) {
				t.Errorf("Expected ErrMissingField, got %v", err)
			}
		})
	}
}

func TestReader_WriteSIDataFile(t *testing.T) {
	r := openTestFile(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "run_si.sqlite")

	if err := r.WriteSIDataFile(ctx, path, false); err != nil {
		t.Fatalf("WriteSIDataFile: %v", err)
	}
	if err := r.WriteSIDataFile(ctx, path, false); !errors.Is(err, faults.ErrFileExists) {
		t.Errorf("Expected ErrFileExists, got %v", err)
	}

	f, err := storage.Open(ctx, path)
	if err != nil {
		t.Fatalf("Open SI file: %v", err)
	}
	defer f.Close()

	tests := []struct {
		path   string
		dtype  storage.DType
		length int
	}{
		{"/Time", storage.Float64, 16},
		{"/BaseTime", storage.Float64, 8},
		{"/Velocity/0", storage.Float64, 8},
		{"/Overrange/1", storage.Bool, 8},
		{"/RSSI/2", storage.Float64, 4},
		{"/Trigger/0", storage.Bool, 8},
		{"/metadata/vibrometer/block_count", storage.Int64, 1},
		{"/metadata/traces/receiver_loc", storage.Float64, 3},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			d, err := f.Read(ctx, tt.path)
			if err != nil {
				t.Fatalf("Read: %v", err)
			}
			if d.DType != tt.dtype || d.Len() != tt.length {
				t.Errorf("Expected %s[%d], got %s[%d]", tt.dtype, tt.length, d.DType, d.Len())
			}
		})
	}

	d, err := f.Read(ctx, "/Velocity/2")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if d.Float64s[3] != 11.5 {
		t.Errorf("Expected scaled sample 11.5, got %g", d.Float64s[3])
	}
}
