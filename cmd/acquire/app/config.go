package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roman-kulish/vibrometry/internal/acquisition"
	"github.com/roman-kulish/vibrometry/internal/faults"
	"github.com/roman-kulish/vibrometry/internal/metadata"
	"github.com/roman-kulish/vibrometry/internal/vibrometer/simulator"
)

/*
Example:

    settings:
      logLevel: info
      runs: 2
      siConvert: true
    output:
      directory: data
      prefix: shot
    instrument:
      sampleRate: 204800
      baseSampleRate: 102400
      prePostTrigger: 128
    acquisition:
      blockCount: 6
      blockSize: 2048
      chunkSize: 512
      acqTimeout: 2s
      autoAutofocus: true
      autofocusTimeout: 30s
      triggerMode: Analog
    metadata:
      experiment:
        operator: lab
      traces:
        receiver_loc: 0.25
        src_locations: [1.0, 1.5]
        shots_per_point: 3
*/

const defaultPrefix = "run"

// Config represents the acquisition tool configuration
type Config struct {
	Settings    Settings                  `yaml:"settings"`
	Output      OutputConfig              `yaml:"output"`
	Instrument  simulator.Config          `yaml:"instrument"`
	Acquisition acquisition.Config        `yaml:"acquisition"`
	Metadata    map[string]map[string]any `yaml:"metadata"`
}

// Settings represents global tool settings
type Settings struct {
	LogLevel  slog.Level `yaml:"logLevel"`
	Runs      int        `yaml:"runs"`
	SIConvert bool       `yaml:"siConvert"`
}

// OutputConfig represents where run files are written
type OutputConfig struct {
	Directory string `yaml:"directory"`
	Prefix    string `yaml:"prefix"`
	Overwrite bool   `yaml:"overwrite"`
}

// NewConfig returns a configuration with one run on the default simulated
// instrument.
func NewConfig() *Config {
	return &Config{
		Settings:    Settings{LogLevel: slog.LevelInfo, Runs: 1},
		Output:      OutputConfig{Directory: ".", Prefix: defaultPrefix},
		Instrument:  simulator.DefaultConfig(),
		Acquisition: acquisition.DefaultConfig(),
	}
}

// LoadConfig reads a YAML configuration on top of the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	c := NewConfig()
	if err = yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err = c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	if c.Settings.Runs < 1 {
		return faults.NewMinimumError("settings.runs", c.Settings.Runs, 1)
	}
	if c.Output.Prefix == "" {
		return faults.NewConfigError("output.prefix", c.Output.Prefix, "must not be empty")
	}
	if err := c.Instrument.Validate(); err != nil {
		return err
	}
	if err := c.Acquisition.Validate(); err != nil {
		return fmt.Errorf("acquisition: %w", err)
	}
	if _, err := c.Mapping(); err != nil {
		return err
	}
	return nil
}

// Mapping converts the user supplied metadata. The vibrometer namespace is
// reserved for the device snapshot.
func (c *Config) Mapping() (metadata.Mapping, error) {
	m := metadata.New()

	var errs []error
	for ns, keys := range c.Metadata {
		if metadata.Namespace(ns) == metadata.Vibrometer {
			errs = append(errs, faults.NewConfigError("metadata."+ns, ns, "namespace is recorded from the instrument"))
			continue
		}
		for key, raw := range keys {
			v, err := metadata.FromAny(raw)
			if err != nil {
				errs = append(errs, fmt.Errorf("metadata.%s.%s: %w", ns, key, err))
				continue
			}
			if err = m.Set(metadata.Namespace(ns), key, v); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if len(errs) > 0 {
		slices.SortFunc(errs, func(a, b error) int {
			return strings.Compare(a.Error(), b.Error())
		})
		return nil, errors.Join(errs...)
	}
	return m, nil
}
