package faults

import (
	"errors"
	"fmt"
	"testing"
)

func TestCategories(t *testing.T) {
	tests := []struct {
		name string
		err  error
		is   []error
		not  []error
	}{
		{
			name: "file exists",
			err:  fmt.Errorf("opening run.sqlite: %w", ErrFileExists),
			is:   []error{ErrFileExists, ErrStorage},
			not:  []error{ErrMissingField, ErrConfiguration},
		},
		{
			name: "missing field",
			err:  MissingField("run.sqlite", "vibrometer__block_count"),
			is:   []error{ErrMissingField, ErrStorage},
			not:  []error{ErrFileExists},
		},
		{
			name: "minimum",
			err:  NewMinimumError("block_count", 0, 1),
			is:   []error{ErrConfiguration},
			not:  []error{ErrStorage},
		},
		{
			name: "integrity",
			err:  &IntegrityError{File: "run_001.sqlite", Expected: 8, Actual: 6, Detail: "shots"},
			is:   []error{ErrDataIntegrity},
			not:  []error{ErrStorage},
		},
		{
			name: "invalid state",
			err:  InvalidState("arming %s", "session"),
			is:   []error{ErrInvalidState},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, target := range tt.is {
				if !errors.Is(tt.err, target) {
					t.Errorf("Expected %v to match %v", tt.err, target)
				}
			}
			for _, target := range tt.not {
				if errors.Is(tt.err, target) {
					t.Errorf("Did not expect %v to match %v", tt.err, target)
				}
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{NewMinimumError("acq_timeout_ms", 0, 1), "invalid acq_timeout_ms: 0 is below minimum 1"},
		{NewConfigError("trigger_mode", "", "must not be empty"), "invalid trigger_mode: : must not be empty"},
		{
			&IntegrityError{File: "run_002.sqlite", Expected: 8, Actual: 6, Detail: "shots_per_point 4 * 2 traces"},
			"run_002.sqlite: shots_per_point 4 * 2 traces: expected 8 blocks, found 6",
		},
	}

	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Expected %q, got %q", tt.want, got)
		}
	}

	var cfg *ConfigError
	if !errors.As(fmt.Errorf("wrapped: %w", NewMinimumError("block_size", 0, 1)), &cfg) || cfg.Field != "block_size" {
		t.Errorf("Expected to unwrap a ConfigError for block_size, got %+v", cfg)
	}
}
