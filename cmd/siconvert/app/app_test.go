package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/roman-kulish/vibrometry/internal/acquisition"
	"github.com/roman-kulish/vibrometry/internal/datafile"
	"github.com/roman-kulish/vibrometry/internal/faults"
	"github.com/roman-kulish/vibrometry/internal/metadata"
	"github.com/roman-kulish/vibrometry/internal/storage"
	"github.com/roman-kulish/vibrometry/internal/vibrometer"
)

func writeRunFile(t *testing.T, path string) {
	t.Helper()
	ctx := context.Background()

	channels := []vibrometer.ChannelDescriptor{
		{Type: vibrometer.ChannelVelocity, ID: 1, Unit: "m/s", ScaleFactor: 0.25},
	}
	buf, err := acquisition.Allocate(channels, 2, 4, vibrometer.FrequencyFactor(100, 100))
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	vel, _ := buf.Channel("Velocity")
	for b := range 2 {
		for i := range vel.Int32s[b] {
			vel.Int32s[b][i] = int32(4 * (b + 1))
		}
	}

	m := metadata.New()
	m.MustSet(metadata.Vibrometer, string(vibrometer.SettingSampleRate), metadata.Float(100))
	m.MustSet(metadata.Vibrometer, string(vibrometer.SettingBaseSampleRate), metadata.Float(100))
	m.MustSet(metadata.Vibrometer, string(vibrometer.SettingPrePostTrigger), metadata.Int(0))
	m.MustSet(metadata.Vibrometer, string(vibrometer.SettingBlockSize), metadata.Int(4))
	m.MustSet(metadata.Vibrometer, string(vibrometer.SettingBlockCount), metadata.Int(2))

	w := datafile.NewWriter()
	if err = w.OpenFile(ctx, path, false); err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if err = w.WriteChannelData(ctx, buf); err != nil {
		t.Fatalf("WriteChannelData: %v", err)
	}
	if err = w.WriteMetadata(ctx, m); err != nil {
		t.Fatalf("WriteMetadata: %v", err)
	}
	if err = w.CloseFile(); err != nil {
		t.Fatalf("CloseFile: %v", err)
	}
}

func TestOutputPath(t *testing.T) {
	tests := []struct {
		outputDir string
		input     string
		want      string
	}{
		{"", "data/run_001.sqlite", filepath.Join("data", "SI_run_001.sqlite")},
		{"si", "data/run_001.sqlite", filepath.Join("si", "SI_run_001.sqlite")},
	}
	for _, tt := range tests {
		c := Config{OutputDir: tt.outputDir}
		if got := c.OutputPath(tt.input); got != tt.want {
			t.Errorf("OutputPath(%q): expected %q, got %q", tt.input, tt.want, got)
		}
	}
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "run_001.sqlite")
	writeRunFile(t, input)

	config := &Config{InputFiles: []string{input}, OutputDir: filepath.Join(dir, "si")}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	if err := Run(ctx, config, logger); err != nil {
		t.Fatalf("Run: %v", err)
	}

	f, err := storage.Open(ctx, config.OutputPath(input))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	d, err := f.Read(ctx, "/Velocity/1")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	values, err := d.AsFloat64s()
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range values {
		if v != 2 {
			t.Errorf("Velocity[%d]: expected 2 m/s, got %g", i, v)
		}
	}

	// a second conversion does not replace the SI file
	if err = Run(ctx, config, logger); !errors.Is(err, faults.ErrFileExists) {
		t.Errorf("Expected ErrFileExists, got %v", err)
	}
	config.Overwrite = true
	if err = Run(ctx, config, logger); err != nil {
		t.Errorf("Run with overwrite: %v", err)
	}
}

func TestRun_MissingInput(t *testing.T) {
	dir := t.TempDir()
	config := &Config{InputFiles: []string{filepath.Join(dir, "missing.sqlite")}}

	err := Run(context.Background(), config, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if !errors.Is(err, faults.ErrStorage) {
		t.Errorf("Expected a storage error, got %v", err)
	}
	if entries, _ := os.ReadDir(dir); len(entries) != 0 {
		t.Errorf("Expected no output, got %d entries", len(entries))
	}
}
