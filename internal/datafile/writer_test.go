package datafile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/roman-kulish/vibrometry/internal/acquisition"
	"github.com/roman-kulish/vibrometry/internal/faults"
	"github.com/roman-kulish/vibrometry/internal/metadata"
	"github.com/roman-kulish/vibrometry/internal/storage"
	"github.com/roman-kulish/vibrometry/internal/vibrometer"
)

const (
	testBlockCount     = 3
	testBlockSize      = 4
	testPrePostTrigger = 1
	velocityScale      = 0.5
	rssiScale          = 0.01
)

var testChannels = []vibrometer.ChannelDescriptor{
	{Type: vibrometer.ChannelVelocity, ID: 1, Unit: "m/s", ScaleFactor: velocityScale},
	{Type: vibrometer.ChannelRSSI, ID: 2, Unit: "dB", ScaleFactor: rssiScale},
	{Type: vibrometer.ChannelTrigger, ID: 3, Unit: vibrometer.BooleanUnit, ScaleFactor: 1},
}

// testBuffer builds a 3 block buffer at frequency factor 2. Velocity sample i
// of block b is 10*b+i, RSSI is 400+b and the trigger fires at
// pre_post_trigger*2.
func testBuffer(t *testing.T) *acquisition.Buffer {
	t.Helper()

	buf, err := acquisition.Allocate(testChannels, testBlockCount, testBlockSize, vibrometer.FrequencyFactor(200, 100))
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	vel, _ := buf.Channel("Velocity")
	rssi, _ := buf.Channel("RSSI")
	trig, _ := buf.Channel("Trigger")
	for b := range testBlockCount {
		for i := range vel.Int32s[b] {
			vel.Int32s[b][i] = int32(10*b + i)
		}
		vel.Overrange[b][len(vel.Overrange[b])-1] = b == 1
		for i := range rssi.Int32s[b] {
			rssi.Int32s[b][i] = int32(400 + b)
		}
		trig.Bools[b][testPrePostTrigger*2] = true
	}
	return buf
}

func testMetadata() metadata.Mapping {
	m := metadata.New()
	m.MustSet(metadata.Vibrometer, string(vibrometer.SettingSampleRate), metadata.Float(200))
	m.MustSet(metadata.Vibrometer, string(vibrometer.SettingBaseSampleRate), metadata.Float(100))
	m.MustSet(metadata.Vibrometer, string(vibrometer.SettingPrePostTrigger), metadata.Int(testPrePostTrigger))
	m.MustSet(metadata.Vibrometer, string(vibrometer.SettingBlockSize), metadata.Int(testBlockSize))
	m.MustSet(metadata.Vibrometer, string(vibrometer.SettingBlockCount), metadata.Int(testBlockCount))
	m.MustSet(metadata.Vibrometer, string(vibrometer.SettingTriggerMode), metadata.String("Analog"))
	m.MustSet(metadata.Experiment, "operator", metadata.String("lab"))
	m.MustSet(metadata.Traces, "receiver_loc", metadata.Floats(0.5, 1.5, 2.5))
	m.MustSet(metadata.Traces, "qtec", metadata.Bool(true))
	return m
}

func writeTestFile(t *testing.T, path string, m metadata.Mapping) {
	t.Helper()
	ctx := context.Background()

	w := NewWriter()
	if err := w.OpenFile(ctx, path, false); err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if err := w.WriteChannelData(ctx, testBuffer(t)); err != nil {
		t.Fatalf("WriteChannelData: %v", err)
	}
	if err := w.WriteMetadata(ctx, m); err != nil {
		t.Fatalf("WriteMetadata: %v", err)
	}
	if err := w.CloseFile(); err != nil {
		t.Fatalf("CloseFile: %v", err)
	}
}

func TestWriter_Layout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.sqlite")
	writeTestFile(t, path, testMetadata())

	f, err := storage.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	ctx := context.Background()
	tests := []struct {
		path   string
		dtype  storage.DType
		length int
	}{
		{"/Velocity/unit", storage.String, 1},
		{"/Velocity/scalefactor", storage.Float64, 1},
		{"/Velocity/ID", storage.Int64, 1},
		{"/Velocity/0", storage.Int32, 8},
		{"/Velocity/2", storage.Int32, 8},
		{"/Velocity/overrange/1", storage.Bool, 8},
		{"/RSSI/0", storage.Int32, 4},
		{"/Trigger/2", storage.Bool, 8},
		{"/vibrometer__block_count", storage.Int64, 1},
		{"/traces__receiver_loc", storage.Float64, 3},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			d, err := f.Read(ctx, tt.path)
			if err != nil {
				t.Fatalf("Read: %v", err)
			}
			if d.DType != tt.dtype {
				t.Errorf("Expected dtype %s, got %s", tt.dtype, d.DType)
			}
			if d.Len() != tt.length {
				t.Errorf("Expected length %d, got %d", tt.length, d.Len())
			}
		})
	}

	if ok, _ := f.Exists(ctx, "/RSSI/overrange"); ok {
		t.Error("RSSI must not carry overrange flags")
	}
	if ok, _ := f.Exists(ctx, "/Trigger/overrange"); ok {
		t.Error("Trigger must not carry overrange flags")
	}
}

func TestWriter_OpenFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "run.sqlite")
	if err := os.WriteFile(path, []byte("existing"), 0o644); err != nil {
		t.Fatal(err)
	}

	w := NewWriter()
	if err := w.OpenFile(ctx, path, false); !errors.Is(err, faults.ErrFileExists) {
		t.Fatalf("Expected ErrFileExists, got %v", err)
	}
	if _, err := w.ActiveFile(); !errors.Is(err, faults.ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState without an open file, got %v", err)
	}

	if err := w.OpenFile(ctx, path, true); err != nil {
		t.Fatalf("OpenFile with overwrite: %v", err)
	}
	if active, err := w.ActiveFile(); err != nil || active != path {
		t.Errorf("Expected active file %s, got %q (%v)", path, active, err)
	}
	if err := w.OpenFile(ctx, path, true); !errors.Is(err, faults.ErrInvalidState) {
		t.Errorf("Expected ErrInvalidState for a second open, got %v", err)
	}

	if err := w.WriteMetadata(ctx, testMetadata()); err != nil {
		t.Fatalf("WriteMetadata: %v", err)
	}
	if err := w.CloseFile(); err != nil {
		t.Fatalf("CloseFile: %v", err)
	}
	if err := w.CloseFile(); err != nil {
		t.Errorf("Second CloseFile: %v", err)
	}

	f, err := storage.Open(ctx, path)
	if err != nil {
		t.Fatalf("Overwritten file is not a store: %v", err)
	}
	_ = f.Close()
}

func TestWriter_RejectsDelimiterInName(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "run.sqlite")

	w := NewWriter()
	if err := w.OpenFile(ctx, path, false); err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer w.Discard()

	m := metadata.Mapping{metadata.Experiment: {"bad__name": metadata.Int(1)}}
	if err := w.WriteMetadata(ctx, m); !errors.Is(err, faults.ErrConfiguration) {
		t.Errorf("Expected ErrConfiguration, got %v", err)
	}
}

func TestWriter_RequiresOpenFile(t *testing.T) {
	ctx := context.Background()
	w := NewWriter()

	if err := w.WriteChannelData(ctx, testBuffer(t)); !errors.Is(err, faults.ErrInvalidState) {
		t.Errorf("WriteChannelData: expected ErrInvalidState, got %v", err)
	}
	if err := w.WriteMetadata(ctx, testMetadata()); !errors.Is(err, faults.ErrInvalidState) {
		t.Errorf("WriteMetadata: expected ErrInvalidState, got %v", err)
	}
	if err := w.CloseFile(); err != nil {
		t.Errorf("CloseFile without an open file: %v", err)
	}
}

func TestWriter_Discard(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "run.sqlite")

	w := NewWriter()
	if err := w.OpenFile(ctx, path, false); err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if err := w.WriteChannelData(ctx, testBuffer(t)); err != nil {
		t.Fatalf("WriteChannelData: %v", err)
	}
	if err := w.Discard(); err != nil {
		t.Fatalf("Discard: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected an empty directory after Discard, found %d entries", len(entries))
	}
}
