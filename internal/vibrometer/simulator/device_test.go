package simulator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/roman-kulish/vibrometry/internal/faults"
	"github.com/roman-kulish/vibrometry/internal/vibrometer"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SampleRate = 200
	cfg.BaseSampleRate = 100
	cfg.PrePostTrigger = 2
	cfg.TriggerDelay = 0
	cfg.AutofocusLatency = 0
	cfg.Signal = SignalConfig{Amplitude: 0.002, Frequency: 25}
	return cfg
}

func newSimulator(t *testing.T, cfg Config) *Simulator {
	t.Helper()

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func channel(t *testing.T, s *Simulator, typ vibrometer.ChannelType) vibrometer.ChannelDescriptor {
	t.Helper()

	channels, _ := s.ActiveChannels(context.Background())
	for _, ch := range channels {
		if ch.Type == typ {
			return ch
		}
	}
	t.Fatalf("no %s channel", typ)
	return vibrometer.ChannelDescriptor{}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"no channels", func(c *Config) { c.Channels = nil }},
		{"duplicate channel", func(c *Config) { c.Channels = append(c.Channels, c.Channels[0]) }},
		{"zero scale factor", func(c *Config) { c.Channels[0].ScaleFactor = 0 }},
		{"zero base rate", func(c *Config) { c.BaseSampleRate = 0 }},
		{"fractional factor", func(c *Config) { c.SampleRate = 150 }},
		{"zero block size", func(c *Config) { c.BlockSize = 0 }},
		{"unknown trigger mode", func(c *Config) { c.TriggerMode = "Manual" }},
		{"negative delay", func(c *Config) { c.TriggerDelay = vibrometer.NewTimeDuration(-time.Second) }},
		{"signal level", func(c *Config) { c.SignalLevel = vibrometer.SignalLevelMax + 1 }},
		{"focus position", func(c *Config) { c.FocusPosition = vibrometer.FocusPositionMax + 1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.modify(&cfg)

			if _, err := New(cfg); !errors.Is(err, faults.ErrConfiguration) {
				t.Errorf("Expected ErrConfiguration, got %v", err)
			}
		})
	}
}

func TestSimulator_ReadData(t *testing.T) {
	cfg := testConfig()
	cfg.OverrangeThreshold = 2000
	s := newSimulator(t, cfg)
	ctx := context.Background()

	if err := s.StartAcquisition(ctx); err != nil {
		t.Fatalf("StartAcquisition: %v", err)
	}
	if err := s.WaitForTrigger(ctx, "Analog"); err != nil {
		t.Fatalf("WaitForTrigger: %v", err)
	}
	if err := s.ReadData(ctx, 4, time.Second); err != nil {
		t.Fatalf("ReadData: %v", err)
	}

	velocity := channel(t, s, vibrometer.ChannelVelocity)
	rssi := channel(t, s, vibrometer.ChannelRSSI)
	trigger := channel(t, s, vibrometer.ChannelTrigger)

	if n := s.ExtractedSampleCount(velocity); n != 8 {
		t.Errorf("Expected 8 velocity samples, got %d", n)
	}
	if n := s.ExtractedSampleCount(rssi); n != 4 {
		t.Errorf("Expected 4 RSSI samples, got %d", n)
	}

	levels, err := s.Int32Samples(rssi, 4)
	if err != nil {
		t.Fatalf("Int32Samples: %v", err)
	}
	for i, v := range levels {
		if v != cfg.RSSILevel {
			t.Errorf("RSSI[%d]: expected %d, got %d", i, cfg.RSSILevel, v)
		}
	}

	// the trigger fires at pre_post_trigger on the fast clock
	marks, err := s.Int32Samples(trigger, 8)
	if err != nil {
		t.Fatalf("Int32Samples: %v", err)
	}
	for i, v := range marks {
		want := int32(0)
		if i == 4 {
			want = 1
		}
		if v != want {
			t.Errorf("Trigger[%d]: expected %d, got %d", i, want, v)
		}
	}

	// a quarter period every two samples puts the peaks at 2 and 6
	flags, err := s.OverrangeFlags(velocity, 8)
	if err != nil {
		t.Fatalf("OverrangeFlags: %v", err)
	}
	if !flags[2] || !flags[6] || flags[4] {
		t.Errorf("Unexpected overrange flags %v", flags)
	}

	if _, err = s.Int32Samples(velocity, 9); err == nil {
		t.Error("Expected an error reading more samples than staged")
	}
}

func TestSimulator_NotAcquiring(t *testing.T) {
	s := newSimulator(t, testConfig())
	ctx := context.Background()

	if err := s.ReadData(ctx, 4, time.Second); !errors.Is(err, ErrNotAcquiring) {
		t.Errorf("Expected ErrNotAcquiring, got %v", err)
	}
	if err := s.WaitForTrigger(ctx, "Analog"); !errors.Is(err, ErrNotAcquiring) {
		t.Errorf("Expected ErrNotAcquiring, got %v", err)
	}
	if err := s.WaitForTrigger(ctx, "Manual"); err == nil {
		t.Error("Expected an error for an unknown trigger mode")
	}

	if err := s.StartAcquisition(ctx); err != nil {
		t.Fatalf("StartAcquisition: %v", err)
	}
	if err := s.StartAcquisition(ctx); err == nil {
		t.Error("Expected an error starting twice")
	}
	if err := s.StopAcquisition(ctx); err != nil {
		t.Fatalf("StopAcquisition: %v", err)
	}
	if s.Stops() != 1 {
		t.Errorf("Expected 1 stop, got %d", s.Stops())
	}
}

func TestSimulator_ReadTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.FailReadAtChunk = 2
	s := newSimulator(t, cfg)
	ctx := context.Background()

	if err := s.StartAcquisition(ctx); err != nil {
		t.Fatalf("StartAcquisition: %v", err)
	}
	if err := s.WaitForTrigger(ctx, "Off"); err != nil {
		t.Fatalf("WaitForTrigger: %v", err)
	}
	if err := s.ReadData(ctx, 2, 10*time.Millisecond); err != nil {
		t.Fatalf("first ReadData: %v", err)
	}
	if err := s.ReadData(ctx, 2, 10*time.Millisecond); !errors.Is(err, vibrometer.ErrReadTimeout) {
		t.Errorf("Expected ErrReadTimeout, got %v", err)
	}
}

func TestSimulator_Autofocus(t *testing.T) {
	ctx := context.Background()

	slow := testConfig()
	slow.AutofocusLatency = vibrometer.NewTimeDuration(time.Hour)
	s := newSimulator(t, slow)

	if state, _ := s.AutofocusStatus(ctx); state != vibrometer.AutofocusDone {
		t.Errorf("Expected done before any request, got %s", state)
	}
	if err := s.Autofocus(ctx); err != nil {
		t.Fatalf("Autofocus: %v", err)
	}
	if state, _ := s.AutofocusStatus(ctx); state != vibrometer.AutofocusBusy {
		t.Errorf("Expected busy, got %s", state)
	}

	s = newSimulator(t, testConfig())
	if err := s.Autofocus(ctx); err != nil {
		t.Fatalf("Autofocus: %v", err)
	}
	if state, _ := s.AutofocusStatus(ctx); state != vibrometer.AutofocusDone {
		t.Errorf("Expected done, got %s", state)
	}
}

func TestSimulator_Settings(t *testing.T) {
	s := newSimulator(t, testConfig())
	ctx := context.Background()

	if err := s.SetItem(ctx, vibrometer.SettingVelocityRange, "1m/s"); err != nil {
		t.Fatalf("SetItem: %v", err)
	}
	if item, _ := s.Item(ctx, vibrometer.SettingVelocityRange); item != "1m/s" {
		t.Errorf("Expected 1m/s, got %q", item)
	}
	if err := s.SetItem(ctx, vibrometer.SettingVelocityRange, "3m/s"); err == nil {
		t.Error("Expected an error for an unavailable item")
	}

	if err := s.SetInt(ctx, vibrometer.SettingBlockCount, 6); err != nil {
		t.Fatalf("SetInt: %v", err)
	}
	if v, _ := s.Int(ctx, vibrometer.SettingBlockCount); v != 6 {
		t.Errorf("Expected 6 blocks, got %d", v)
	}
	if _, err := s.Float(ctx, vibrometer.SettingBlockCount); err == nil {
		t.Error("Expected an error reading an integer setting as float")
	}
}
