package acquisition

import (
	"time"

	"github.com/roman-kulish/vibrometry/internal/faults"
	"github.com/roman-kulish/vibrometry/internal/vibrometer"
)

const (
	DefaultChunkSize        = 1024
	DefaultAcqTimeout       = time.Second
	DefaultAutofocusTimeout = 30 * time.Second

	// AutofocusPollInterval is how often the autofocus status is queried.
	AutofocusPollInterval = 100 * time.Millisecond
)

// Config holds the parameters of one acquisition session.
type Config struct {
	BlockCount int `yaml:"blockCount" json:"blockCount"`
	BlockSize  int `yaml:"blockSize" json:"blockSize"` // base-rate samples per block
	ChunkSize  int `yaml:"chunkSize" json:"chunkSize"` // base-rate samples per read

	AcqTimeout vibrometer.TimeDuration `yaml:"acqTimeout" json:"acqTimeout"` // per chunk read

	AutoAutofocus bool `yaml:"autoAutofocus" json:"autoAutofocus"`
	// AutofocusTimeout bounds the autofocus wait, zero waits indefinitely.
	AutofocusTimeout vibrometer.TimeDuration `yaml:"autofocusTimeout" json:"autofocusTimeout"`

	TriggerMode vibrometer.TriggerMode `yaml:"triggerMode" json:"triggerMode"`
}

// DefaultConfig returns a single block configuration with the default chunk
// size and timeouts.
func DefaultConfig() Config {
	return Config{
		BlockCount:       1,
		BlockSize:        1024,
		ChunkSize:        DefaultChunkSize,
		AcqTimeout:       vibrometer.NewTimeDuration(DefaultAcqTimeout),
		AutofocusTimeout: vibrometer.NewTimeDuration(DefaultAutofocusTimeout),
		TriggerMode:      "Analog",
	}
}

// Validate checks every field against its minimum.
func (c *Config) Validate() error {
	if c.BlockCount < 1 {
		return faults.NewMinimumError("block_count", c.BlockCount, 1)
	}
	if c.BlockSize < 1 {
		return faults.NewMinimumError("block_size", c.BlockSize, 1)
	}
	if c.ChunkSize < 1 {
		return faults.NewMinimumError("chunk_size", c.ChunkSize, 1)
	}
	if ms := c.AcqTimeout.Duration().Milliseconds(); ms < 1 {
		return faults.NewMinimumError("acq_timeout_ms", ms, 1)
	}
	if c.AutofocusTimeout < 0 {
		return faults.NewMinimumError("autofocus_timeout_ms", c.AutofocusTimeout.Duration().Milliseconds(), 0)
	}
	if c.TriggerMode == "" {
		return faults.NewConfigError("trigger_mode", c.TriggerMode, "must not be empty")
	}
	return nil
}
