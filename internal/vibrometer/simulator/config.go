package simulator

import (
	"fmt"
	"math"
	"time"

	"github.com/roman-kulish/vibrometry/internal/faults"
	"github.com/roman-kulish/vibrometry/internal/vibrometer"
)

/*
Example: two-rate head with trigger channel

    channels:
      - type: velocity
        unit: m/s
        scaleFactor: 0.000001
      - type: rssi
        unit: dB
        scaleFactor: 0.01
      - type: trigger
        unit: bool
        scaleFactor: 1
    sampleRate: 204800
    baseSampleRate: 102400
    prePostTrigger: 128
    triggerMode: Analog
    triggerDelay: 20ms
    signal:
      amplitude: 0.002
      frequency: 1200
*/

// ChannelConfig declares one simulated DAQ channel.
type ChannelConfig struct {
	Type        vibrometer.ChannelType `yaml:"type" json:"type"`
	Unit        string                 `yaml:"unit" json:"unit"`
	ScaleFactor float64                `yaml:"scaleFactor" json:"scaleFactor"`
}

// SignalConfig shapes the velocity waveform seen by the head. Displacement
// and acceleration channels report its integral and derivative.
type SignalConfig struct {
	Amplitude float64 `yaml:"amplitude" json:"amplitude"` // m/s
	Frequency float64 `yaml:"frequency" json:"frequency"` // Hz
	// BlockGain grows the amplitude by this fraction per block, so that
	// blocks are distinguishable.
	BlockGain float64 `yaml:"blockGain" json:"blockGain"`
}

// Config is the simulated instrument configuration.
type Config struct {
	Channels []ChannelConfig `yaml:"channels" json:"channels"`

	SampleRate     float64 `yaml:"sampleRate" json:"sampleRate"`         // Hz
	BaseSampleRate float64 `yaml:"baseSampleRate" json:"baseSampleRate"` // Hz
	BlockSize      int64   `yaml:"blockSize" json:"blockSize"`
	BlockCount     int64   `yaml:"blockCount" json:"blockCount"`
	PrePostTrigger int64   `yaml:"prePostTrigger" json:"prePostTrigger"`

	TriggerMode  string                  `yaml:"triggerMode" json:"triggerMode"`
	TriggerDelay vibrometer.TimeDuration `yaml:"triggerDelay" json:"triggerDelay"`
	ReadLatency  vibrometer.TimeDuration `yaml:"readLatency" json:"readLatency"`

	Signal    SignalConfig `yaml:"signal" json:"signal"`
	RSSILevel int32        `yaml:"rssiLevel" json:"rssiLevel"` // raw counts

	// OverrangeThreshold flags raw samples whose magnitude reaches it.
	// Zero disables overrange.
	OverrangeThreshold int32 `yaml:"overrangeThreshold" json:"overrangeThreshold"`

	AutofocusLatency vibrometer.TimeDuration `yaml:"autofocusLatency" json:"autofocusLatency"`
	SignalLevel      int                     `yaml:"signalLevel" json:"signalLevel"`
	FocusPosition    int64                   `yaml:"focusPosition" json:"focusPosition"`
	QTec             bool                    `yaml:"qtec" json:"qtec"`

	// FailReadAtChunk makes the n-th ReadData call (1-based, counted per
	// acquisition) time out. Zero disables it.
	FailReadAtChunk int `yaml:"failReadAtChunk" json:"failReadAtChunk"`
}

// DefaultConfig returns a velocity, RSSI and trigger head sampling velocity at
// twice the base rate.
func DefaultConfig() Config {
	return Config{
		Channels: []ChannelConfig{
			{Type: vibrometer.ChannelVelocity, Unit: "m/s", ScaleFactor: 1e-6},
			{Type: vibrometer.ChannelRSSI, Unit: "dB", ScaleFactor: 0.01},
			{Type: vibrometer.ChannelTrigger, Unit: vibrometer.BooleanUnit, ScaleFactor: 1},
		},
		SampleRate:     204_800,
		BaseSampleRate: 102_400,
		BlockSize:      1024,
		BlockCount:     1,
		PrePostTrigger: 128,
		TriggerMode:    "Analog",
		TriggerDelay:   vibrometer.NewTimeDuration(5 * time.Millisecond),
		Signal: SignalConfig{
			Amplitude: 0.002,
			Frequency: 1200,
			BlockGain: 0.1,
		},
		RSSILevel:        4200,
		AutofocusLatency: vibrometer.NewTimeDuration(300 * time.Millisecond),
		SignalLevel:      420,
		FocusPosition:    900,
		QTec:             true,
	}
}

// FrequencyFactor is the velocity channel sample multiplier.
func (c *Config) FrequencyFactor() int {
	return int(c.SampleRate / c.BaseSampleRate)
}

func (c *Config) Validate() error {
	if len(c.Channels) == 0 {
		return fmt.Errorf("simulator.Config: %w", faults.NewConfigError("channels", 0, "at least one channel is required"))
	}

	seen := make(map[vibrometer.ChannelType]struct{}, len(c.Channels))
	for i, ch := range c.Channels {
		if ch.Type == vibrometer.ChannelUnknown {
			return fmt.Errorf("simulator.Config: %w", faults.NewConfigError(fmt.Sprintf("channels[%d].type", i), ch.Type, "unknown channel type"))
		}
		if _, ok := seen[ch.Type]; ok {
			return fmt.Errorf("simulator.Config: %w", faults.NewConfigError(fmt.Sprintf("channels[%d].type", i), ch.Type, "duplicate channel"))
		}
		seen[ch.Type] = struct{}{}

		if ch.ScaleFactor <= 0 || math.IsNaN(ch.ScaleFactor) || math.IsInf(ch.ScaleFactor, 0) {
			return fmt.Errorf("simulator.Config: %w", faults.NewConfigError(fmt.Sprintf("channels[%d].scaleFactor", i), ch.ScaleFactor, "must be a positive number"))
		}
	}

	if c.BaseSampleRate <= 0 {
		return fmt.Errorf("simulator.Config: %w", faults.NewConfigError("baseSampleRate", c.BaseSampleRate, "must be positive"))
	}
	if c.SampleRate < c.BaseSampleRate || math.Mod(c.SampleRate, c.BaseSampleRate) != 0 {
		return fmt.Errorf("simulator.Config: %w", faults.NewConfigError("sampleRate", c.SampleRate,
			fmt.Sprintf("must be a whole multiple of the base sample rate %g", c.BaseSampleRate)))
	}
	if c.BlockSize < 1 {
		return fmt.Errorf("simulator.Config: %w", faults.NewMinimumError("blockSize", c.BlockSize, 1))
	}
	if c.BlockCount < 1 {
		return fmt.Errorf("simulator.Config: %w", faults.NewMinimumError("blockCount", c.BlockCount, 1))
	}
	if !isAvailable(triggerModes, c.TriggerMode) {
		return fmt.Errorf("simulator.Config: %w", faults.NewConfigError("triggerMode", c.TriggerMode, "unknown trigger mode"))
	}
	if c.TriggerDelay < 0 || c.ReadLatency < 0 || c.AutofocusLatency < 0 {
		return fmt.Errorf("simulator.Config: %w", faults.NewConfigError("latency", nil, "durations must not be negative"))
	}
	if c.SignalLevel < 0 || c.SignalLevel > vibrometer.SignalLevelMax {
		return fmt.Errorf("simulator.Config: %w", faults.NewConfigError("signalLevel", c.SignalLevel,
			fmt.Sprintf("must be between 0 and %d", vibrometer.SignalLevelMax)))
	}
	if c.FocusPosition < vibrometer.FocusPositionMin || c.FocusPosition > vibrometer.FocusPositionMax {
		return fmt.Errorf("simulator.Config: %w", faults.NewConfigError("focusPosition", c.FocusPosition,
			fmt.Sprintf("must be between %d and %d", vibrometer.FocusPositionMin, vibrometer.FocusPositionMax)))
	}
	if c.OverrangeThreshold < 0 {
		return fmt.Errorf("simulator.Config: %w", faults.NewMinimumError("overrangeThreshold", c.OverrangeThreshold, 0))
	}
	if c.FailReadAtChunk < 0 {
		return fmt.Errorf("simulator.Config: %w", faults.NewMinimumError("failReadAtChunk", c.FailReadAtChunk, 0))
	}

	return nil
}
