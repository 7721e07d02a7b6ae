package vibrometer

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/roman-kulish/vibrometry/internal/faults"
	"github.com/roman-kulish/vibrometry/internal/metadata"
)

// Setting names double as metadata keys in the vibrometer namespace.
const (
	SettingSampleRate     Setting = "daq_sample_rate"
	SettingBaseSampleRate Setting = "daq_base_sample_rate"
	SettingBlockSize      Setting = "block_size"
	SettingBlockCount     Setting = "block_count"
	SettingPrePostTrigger Setting = "pre_post_trigger"
	SettingTriggerMode    Setting = "trigger_mode"
	SettingTriggerEdge    Setting = "trigger_edge"

	SettingVelocityRange  Setting = "velocity_range"
	SettingLowPassFilter  Setting = "low_pass_filter"
	SettingHighPassFilter Setting = "high_pass_filter"
	SettingTrackingFilter Setting = "tracking_filter"

	SettingQTec          Setting = "qtec"
	SettingFocusPosition Setting = "focus_position"
)

const (
	SignalLevelMax   = 512
	FocusPositionMin = 0
	FocusPositionMax = 1835
)

// Setting names a device register.
type Setting string

// Settings groups the device configuration by subsystem.
type Settings struct {
	Daq    DaqSettings
	VelEnc VelEncSettings
	Misc   MiscSettings
}

// NewSettings binds all setting groups to one instrument.
func NewSettings(inst Instrument) *Settings {
	return &Settings{
		Daq:    DaqSettings{c: inst},
		VelEnc: VelEncSettings{c: inst},
		Misc:   MiscSettings{inst: inst},
	}
}

// Metadata snapshots every setting into the vibrometer namespace.
func (s *Settings) Metadata(ctx context.Context) (metadata.Mapping, error) {
	m := metadata.New()

	if err := s.Daq.snapshot(ctx, m); err != nil {
		return nil, fmt.Errorf("reading DAQ settings: %w", err)
	}
	if err := s.VelEnc.snapshot(ctx, m); err != nil {
		return nil, fmt.Errorf("reading velocity encoder settings: %w", err)
	}
	if err := s.Misc.snapshot(ctx, m); err != nil {
		return nil, fmt.Errorf("reading miscellaneous settings: %w", err)
	}

	return m, nil
}

// DaqSettings covers sampling, block layout and triggering.
type DaqSettings struct {
	c Controller
}

func (d DaqSettings) SampleRate(ctx context.Context) (float64, error) {
	return d.c.Float(ctx, SettingSampleRate)
}

func (d DaqSettings) BaseSampleRate(ctx context.Context) (float64, error) {
	return d.c.Float(ctx, SettingBaseSampleRate)
}

// FrequencyFactor returns the channel sample multiplier for the current
// sample rates. A factor below one is a configuration error.
func (d DaqSettings) FrequencyFactor(ctx context.Context) (func(ChannelDescriptor) int, error) {
	rate, err := d.SampleRate(ctx)
	if err != nil {
		return nil, err
	}
	base, err := d.BaseSampleRate(ctx)
	if err != nil {
		return nil, err
	}
	if base <= 0 || rate < base {
		return nil, faults.NewConfigError(string(SettingSampleRate), rate,
			fmt.Sprintf("must be at least the base sample rate %g", base))
	}
	return FrequencyFactor(rate, base), nil
}

func (d DaqSettings) BlockSize(ctx context.Context) (int64, error) {
	return d.c.Int(ctx, SettingBlockSize)
}

func (d DaqSettings) SetBlockSize(ctx context.Context, v int64) error {
	if v < 1 {
		return faults.NewMinimumError(string(SettingBlockSize), v, 1)
	}
	return d.c.SetInt(ctx, SettingBlockSize, v)
}

func (d DaqSettings) BlockCount(ctx context.Context) (int64, error) {
	return d.c.Int(ctx, SettingBlockCount)
}

func (d DaqSettings) SetBlockCount(ctx context.Context, v int64) error {
	if v < 1 {
		return faults.NewMinimumError(string(SettingBlockCount), v, 1)
	}
	return d.c.SetInt(ctx, SettingBlockCount, v)
}

// PrePostTrigger is the trigger position within a block in base samples.
// Negative values place the trigger before the block start.
func (d DaqSettings) PrePostTrigger(ctx context.Context) (int64, error) {
	return d.c.Int(ctx, SettingPrePostTrigger)
}

func (d DaqSettings) SetPrePostTrigger(ctx context.Context, v int64) error {
	return d.c.SetInt(ctx, SettingPrePostTrigger, v)
}

func (d DaqSettings) TriggerMode(ctx context.Context) (TriggerMode, error) {
	item, err := d.c.Item(ctx, SettingTriggerMode)
	return TriggerMode(item), err
}

func (d DaqSettings) SetTriggerMode(ctx context.Context, mode TriggerMode) error {
	return setItem(ctx, d.c, SettingTriggerMode, string(mode))
}

func (d DaqSettings) TriggerModes(ctx context.Context) ([]string, error) {
	return d.c.Items(ctx, SettingTriggerMode)
}

func (d DaqSettings) TriggerEdge(ctx context.Context) (string, error) {
	return d.c.Item(ctx, SettingTriggerEdge)
}

func (d DaqSettings) SetTriggerEdge(ctx context.Context, edge string) error {
	return setItem(ctx, d.c, SettingTriggerEdge, edge)
}

func (d DaqSettings) snapshot(ctx context.Context, m metadata.Mapping) error {
	for _, s := range []Setting{SettingSampleRate, SettingBaseSampleRate} {
		v, err := d.c.Float(ctx, s)
		if err != nil {
			return fmt.Errorf("%s: %w", s, err)
		}
		m.MustSet(metadata.Vibrometer, string(s), metadata.Float(v))
	}
	for _, s := range []Setting{SettingBlockSize, SettingBlockCount, SettingPrePostTrigger} {
		v, err := d.c.Int(ctx, s)
		if err != nil {
			return fmt.Errorf("%s: %w", s, err)
		}
		m.MustSet(metadata.Vibrometer, string(s), metadata.Int(v))
	}
	return snapshotItems(ctx, d.c, m, SettingTriggerMode, SettingTriggerEdge)
}

// VelEncSettings covers the velocity decoder: measurement range and filters.
type VelEncSettings struct {
	c Controller
}

func (v VelEncSettings) Range(ctx context.Context) (string, error) {
	return v.c.Item(ctx, SettingVelocityRange)
}

func (v VelEncSettings) SetRange(ctx context.Context, item string) error {
	return setItem(ctx, v.c, SettingVelocityRange, item)
}

func (v VelEncSettings) Ranges(ctx context.Context) ([]string, error) {
	return v.c.Items(ctx, SettingVelocityRange)
}

func (v VelEncSettings) LowPassFilter(ctx context.Context) (string, error) {
	return v.c.Item(ctx, SettingLowPassFilter)
}

func (v VelEncSettings) SetLowPassFilter(ctx context.Context, item string) error {
	return setItem(ctx, v.c, SettingLowPassFilter, item)
}

func (v VelEncSettings) HighPassFilter(ctx context.Context) (string, error) {
	return v.c.Item(ctx, SettingHighPassFilter)
}

func (v VelEncSettings) SetHighPassFilter(ctx context.Context, item string) error {
	return setItem(ctx, v.c, SettingHighPassFilter, item)
}

func (v VelEncSettings) TrackingFilter(ctx context.Context) (string, error) {
	return v.c.Item(ctx, SettingTrackingFilter)
}

func (v VelEncSettings) SetTrackingFilter(ctx context.Context, item string) error {
	return setItem(ctx, v.c, SettingTrackingFilter, item)
}

func (v VelEncSettings) snapshot(ctx context.Context, m metadata.Mapping) error {
	return snapshotItems(ctx, v.c, m, SettingVelocityRange, SettingLowPassFilter, SettingHighPassFilter, SettingTrackingFilter)
}

// MiscSettings covers the sensor head: autofocus, signal level, QTec and
// focus position.
type MiscSettings struct {
	inst Instrument
}

// Autofocus requests an autofocus run without waiting for it.
func (m MiscSettings) Autofocus(ctx context.Context) error {
	return m.inst.Autofocus(ctx)
}

// AutofocusAndWait requests autofocus and polls its status every interval
// until done. A zero timeout waits indefinitely.
func (m MiscSettings) AutofocusAndWait(ctx context.Context, interval, timeout time.Duration) error {
	if err := m.inst.Autofocus(ctx); err != nil {
		return fmt.Errorf("requesting autofocus: %w", err)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeoutCause(ctx, timeout,
			fmt.Errorf("%w: autofocus not done after %s", faults.ErrAcquisitionTimeout, timeout))
		defer cancel()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		state, err := m.inst.AutofocusStatus(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return context.Cause(ctx)
			}
			return fmt.Errorf("querying autofocus status: %w", err)
		}
		if state == AutofocusDone {
			return nil
		}

		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-ticker.C:
		}
	}
}

func (m MiscSettings) AutofocusStatus(ctx context.Context) (AutofocusState, error) {
	return m.inst.AutofocusStatus(ctx)
}

// SignalLevel is read-only, between 0 and SignalLevelMax.
func (m MiscSettings) SignalLevel(ctx context.Context) (int, error) {
	return m.inst.SignalLevel(ctx)
}

func (m MiscSettings) QTec(ctx context.Context) (bool, error) {
	v, err := m.inst.Int(ctx, SettingQTec)
	return v == 1, err
}

func (m MiscSettings) SetQTec(ctx context.Context, on bool) error {
	var v int64
	if on {
		v = 1
	}
	return m.inst.SetInt(ctx, SettingQTec, v)
}

func (m MiscSettings) FocusPosition(ctx context.Context) (int64, error) {
	return m.inst.Int(ctx, SettingFocusPosition)
}

func (m MiscSettings) SetFocusPosition(ctx context.Context, v int64) error {
	if v < FocusPositionMin || v > FocusPositionMax {
		return faults.NewConfigError(string(SettingFocusPosition), v,
			fmt.Sprintf("must be between %d and %d", FocusPositionMin, FocusPositionMax))
	}
	return m.inst.SetInt(ctx, SettingFocusPosition, v)
}

func (m MiscSettings) snapshot(ctx context.Context, mapping metadata.Mapping) error {
	qtec, err := m.QTec(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", SettingQTec, err)
	}
	focus, err := m.FocusPosition(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", SettingFocusPosition, err)
	}
	level, err := m.SignalLevel(ctx)
	if err != nil {
		return fmt.Errorf("signal_level: %w", err)
	}

	mapping.MustSet(metadata.Vibrometer, string(SettingQTec), metadata.Bool(qtec))
	mapping.MustSet(metadata.Vibrometer, string(SettingFocusPosition), metadata.Int(focus))
	mapping.MustSet(metadata.Vibrometer, "signal_level", metadata.Int(int64(level)))
	return nil
}

func setItem(ctx context.Context, c Controller, s Setting, item string) error {
	items, err := c.Items(ctx, s)
	if err != nil {
		return fmt.Errorf("listing %s: %w", s, err)
	}
	if !slices.Contains(items, item) {
		return faults.NewConfigError(string(s), item,
			fmt.Sprintf("not available, choose one of: %s", strings.Join(items, ", ")))
	}
	return c.SetItem(ctx, s, item)
}

func snapshotItems(ctx context.Context, c Controller, m metadata.Mapping, settings ...Setting) error {
	for _, s := range settings {
		item, err := c.Item(ctx, s)
		if err != nil {
			return fmt.Errorf("%s: %w", s, err)
		}
		m.MustSet(metadata.Vibrometer, string(s), metadata.String(item))
	}
	return nil
}
