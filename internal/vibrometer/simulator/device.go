// Package simulator provides an in-memory vibrometer that produces a
// deterministic waveform. It stands in for the device transport in tools and
// tests: trigger delays, read latency, autofocus latency and read timeouts
// are all configurable.
package simulator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/roman-kulish/vibrometry/internal/vibrometer"
)

const Device = "VibroFlex simulator"

var (
	triggerModes    = []string{"Off", "Analog", "Digital", "Software"}
	triggerEdges    = []string{"Rising", "Falling"}
	velocityRanges  = []string{"10mm/s", "50mm/s", "100mm/s", "500mm/s", "1m/s", "2m/s"}
	lowPassFilters  = []string{"Off", "1kHz", "10kHz", "100kHz"}
	highPassFilters = []string{"Off", "10Hz", "100Hz"}
	trackingFilters = []string{"Off", "Slow", "Fast"}
)

// ErrNotAcquiring is returned by data calls made outside an acquisition.
var ErrNotAcquiring = errors.New("acquisition not started")

type staged struct {
	samples []int32
	flags   []bool
}

// WithLogger sets the logger for the simulator
func WithLogger(logger *slog.Logger) func(d *Simulator) {
	return func(d *Simulator) {
		d.logger = logger.With(slog.String("device", Device))
	}
}

// Simulator implements vibrometer.Instrument.
type Simulator struct {
	cfg      Config
	channels []vibrometer.ChannelDescriptor

	mu     sync.Mutex
	items  map[vibrometer.Setting]string
	lists  map[vibrometer.Setting][]string
	ints   map[vibrometer.Setting]int64
	floats map[vibrometer.Setting]float64

	acquiring bool
	block     int   // index of the block being transferred, -1 before the first trigger
	position  int64 // base samples transferred in the current block
	reads     int
	stops     int
	staged    map[vibrometer.ChannelType]staged

	autofocusAt time.Time

	logger *slog.Logger
}

var _ vibrometer.Instrument = (*Simulator)(nil)

// New creates a simulator from a validated configuration.
func New(cfg Config, options ...func(d *Simulator)) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := Simulator{
		cfg:    cfg,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		items: map[vibrometer.Setting]string{
			vibrometer.SettingTriggerMode:    cfg.TriggerMode,
			vibrometer.SettingTriggerEdge:    triggerEdges[0],
			vibrometer.SettingVelocityRange:  velocityRanges[2],
			vibrometer.SettingLowPassFilter:  lowPassFilters[0],
			vibrometer.SettingHighPassFilter: highPassFilters[0],
			vibrometer.SettingTrackingFilter: trackingFilters[0],
		},
		lists: map[vibrometer.Setting][]string{
			vibrometer.SettingTriggerMode:    triggerModes,
			vibrometer.SettingTriggerEdge:    triggerEdges,
			vibrometer.SettingVelocityRange:  velocityRanges,
			vibrometer.SettingLowPassFilter:  lowPassFilters,
			vibrometer.SettingHighPassFilter: highPassFilters,
			vibrometer.SettingTrackingFilter: trackingFilters,
		},
		ints: map[vibrometer.Setting]int64{
			vibrometer.SettingBlockSize:      cfg.BlockSize,
			vibrometer.SettingBlockCount:     cfg.BlockCount,
			vibrometer.SettingPrePostTrigger: cfg.PrePostTrigger,
			vibrometer.SettingFocusPosition:  cfg.FocusPosition,
			vibrometer.SettingQTec:           0,
		},
		floats: map[vibrometer.Setting]float64{
			vibrometer.SettingSampleRate:     cfg.SampleRate,
			vibrometer.SettingBaseSampleRate: cfg.BaseSampleRate,
		},
		staged: make(map[vibrometer.ChannelType]staged),
	}
	if cfg.QTec {
		s.ints[vibrometer.SettingQTec] = 1
	}

	for i, ch := range cfg.Channels {
		s.channels = append(s.channels, vibrometer.ChannelDescriptor{
			Type:        ch.Type,
			ID:          int64(i + 1),
			Unit:        ch.Unit,
			ScaleFactor: ch.ScaleFactor,
		})
	}

	for _, option := range options {
		option(&s)
	}

	return &s, nil
}

func (s *Simulator) ActiveChannels(_ context.Context) ([]vibrometer.ChannelDescriptor, error) {
	return slices.Clone(s.channels), nil
}

func (s *Simulator) StartAcquisition(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.acquiring {
		return fmt.Errorf("acquisition already started")
	}

	s.acquiring = true
	s.block = -1
	s.position = 0
	s.reads = 0
	clear(s.staged)

	s.logger.Debug("acquisition started")
	return nil
}

func (s *Simulator) StopAcquisition(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.acquiring = false
	s.stops++

	s.logger.Debug("acquisition stopped")
	return nil
}

// Stops returns how many times StopAcquisition was called.
func (s *Simulator) Stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.stops
}

func (s *Simulator) WaitForTrigger(ctx context.Context, mode vibrometer.TriggerMode) error {
	if !isAvailable(triggerModes, string(mode)) {
		return fmt.Errorf("unknown trigger mode %q", mode)
	}

	if mode != "Off" && s.cfg.TriggerDelay > 0 {
		if err := sleep(ctx, s.cfg.TriggerDelay.Duration()); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.acquiring {
		return ErrNotAcquiring
	}
	s.block++
	s.position = 0

	s.logger.Debug("trigger fired", slog.Int("block", s.block))
	return nil
}

func (s *Simulator) ReadData(ctx context.Context, count int, timeout time.Duration) error {
	if count < 1 {
		return fmt.Errorf("invalid sample count %d", count)
	}

	s.mu.Lock()
	if !s.acquiring {
		s.mu.Unlock()
		return ErrNotAcquiring
	}
	s.reads++
	failing := s.cfg.FailReadAtChunk > 0 && s.reads == s.cfg.FailReadAtChunk
	s.mu.Unlock()

	latency := s.cfg.ReadLatency.Duration()
	if failing || latency > timeout {
		if err := sleep(ctx, timeout); err != nil {
			return err
		}
		return fmt.Errorf("%w: %d samples after %s", vibrometer.ErrReadTimeout, count, timeout)
	}
	if err := sleep(ctx, latency); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ch := range s.channels {
		s.staged[ch.Type] = s.generate(ch, count)
	}
	s.position += int64(count)

	return nil
}

func (s *Simulator) ExtractedSampleCount(ch vibrometer.ChannelDescriptor) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.staged[ch.Type].samples)
}

func (s *Simulator) Int32Samples(ch vibrometer.ChannelDescriptor, count int) ([]int32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := s.staged[ch.Type]
	if count > len(data.samples) {
		return nil, fmt.Errorf("%s: requested %d samples, %d available", ch.Name(), count, len(data.samples))
	}
	return slices.Clone(data.samples[:count]), nil
}

func (s *Simulator) OverrangeFlags(ch vibrometer.ChannelDescriptor, count int) ([]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data := s.staged[ch.Type]
	if count > len(data.flags) {
		return nil, fmt.Errorf("%s: requested %d overrange flags, %d available", ch.Name(), count, len(data.flags))
	}
	return slices.Clone(data.flags[:count]), nil
}

func (s *Simulator) Autofocus(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.autofocusAt = time.Now()
	return nil
}

func (s *Simulator) AutofocusStatus(ctx context.Context) (vibrometer.AutofocusState, error) {
	if err := ctx.Err(); err != nil {
		return vibrometer.AutofocusBusy, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.autofocusAt.IsZero() || time.Since(s.autofocusAt) >= s.cfg.AutofocusLatency.Duration() {
		return vibrometer.AutofocusDone, nil
	}
	return vibrometer.AutofocusBusy, nil
}

func (s *Simulator) SignalLevel(_ context.Context) (int, error) {
	return s.cfg.SignalLevel, nil
}

func (s *Simulator) Item(_ context.Context, setting vibrometer.Setting) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[setting]
	if !ok {
		return "", fmt.Errorf("%s is not an item setting", setting)
	}
	return item, nil
}

func (s *Simulator) Items(_ context.Context, setting vibrometer.Setting) ([]string, error) {
	list, ok := s.lists[setting]
	if !ok {
		return nil, fmt.Errorf("%s is not an item setting", setting)
	}
	return slices.Clone(list), nil
}

func (s *Simulator) SetItem(_ context.Context, setting vibrometer.Setting, item string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !isAvailable(s.lists[setting], item) {
		return fmt.Errorf("%s: item %q not available", setting, item)
	}
	s.items[setting] = item
	return nil
}

func (s *Simulator) Int(_ context.Context, setting vibrometer.Setting) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.ints[setting]
	if !ok {
		return 0, fmt.Errorf("%s is not an integer setting", setting)
	}
	return v, nil
}

func (s *Simulator) SetInt(_ context.Context, setting vibrometer.Setting, v int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.ints[setting]; !ok {
		return fmt.Errorf("%s is not an integer setting", setting)
	}
	s.ints[setting] = v
	return nil
}

func (s *Simulator) Float(_ context.Context, setting vibrometer.Setting) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.floats[setting]
	if !ok {
		return 0, fmt.Errorf("%s is not a float setting", setting)
	}
	return v, nil
}

// generate renders count base-rate samples of ch starting at the current
// block position. Must be called with s.mu held.
func (s *Simulator) generate(ch vibrometer.ChannelDescriptor, count int) staged {
	ff := 1
	if ch.Type != vibrometer.ChannelRSSI {
		ff = s.cfg.FrequencyFactor()
	}

	n := count * ff
	out := staged{samples: make([]int32, n)}
	if ch.Type.IsMeasurement() {
		out.flags = make([]bool, n)
	}

	rate := s.cfg.BaseSampleRate * float64(ff)
	first := s.position * int64(ff)
	trigger := s.cfg.PrePostTrigger * int64(ff)

	sig := s.cfg.Signal
	amplitude := sig.Amplitude * (1 + sig.BlockGain*float64(max(s.block, 0)))
	omega := 2 * math.Pi * sig.Frequency

	for k := range n {
		i := first + int64(k)
		t := float64(i-trigger) / rate

		var value float64
		switch ch.Type {
		case vibrometer.ChannelVelocity:
			value = amplitude * math.Sin(omega*t)
		case vibrometer.ChannelDisplacement:
			if omega > 0 {
				value = -amplitude / omega * math.Cos(omega*t)
			}
		case vibrometer.ChannelAcceleration:
			value = amplitude * omega * math.Cos(omega*t)
		case vibrometer.ChannelRSSI:
			value = float64(s.cfg.RSSILevel) * ch.ScaleFactor
		case vibrometer.ChannelTrigger:
			if i == trigger {
				value = ch.ScaleFactor
			}
		}

		raw := math.Round(value / ch.ScaleFactor)
		raw = max(min(raw, math.MaxInt32), math.MinInt32)
		out.samples[k] = int32(raw)

		if out.flags != nil && s.cfg.OverrangeThreshold > 0 {
			out.flags[k] = math.Abs(raw) >= float64(s.cfg.OverrangeThreshold)
		}
	}

	return out
}

func isAvailable(list []string, item string) bool {
	return slices.Contains(list, item)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
