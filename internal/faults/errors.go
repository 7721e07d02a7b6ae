// Package faults defines the error taxonomy shared by acquisition, storage and
// aggregation. Callers match categories with errors.Is against the sentinels
// and pull details out of the typed errors with errors.As.
package faults

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration reports invalid session or channel parameters. It is
	// raised before any hardware interaction.
	ErrConfiguration = errors.New("configuration error")

	// ErrInvalidState reports a protocol violation such as arming while armed
	// or writing before a file is open.
	ErrInvalidState = errors.New("invalid state")

	// ErrAcquisitionTimeout reports that the instrument did not deliver data
	// (or finish autofocus) in time. The session is abandoned.
	ErrAcquisitionTimeout = errors.New("acquisition timeout")

	// ErrDataIntegrity reports input files whose shot and trace counts do not
	// reconcile.
	ErrDataIntegrity = errors.New("data integrity error")

	// ErrStorage is the parent of every store related failure.
	ErrStorage = errors.New("storage error")

	// ErrFileExists is returned when an output file exists and overwrite was
	// not requested.
	ErrFileExists = fmt.Errorf("%w: file exists", ErrStorage)

	// ErrMissingField is returned when a store lacks a required dataset.
	ErrMissingField = fmt.Errorf("%w: missing required field", ErrStorage)
)

// ConfigError is a validation failure of a single configuration field.
type ConfigError struct {
	Field  string
	Value  any
	Min    *int64
	Reason string
}

// NewConfigError creates a ConfigError with a free-form reason.
func NewConfigError(field string, value any, reason string) *ConfigError {
	return &ConfigError{Field: field, Value: value, Reason: reason}
}

// NewMinimumError creates a ConfigError for a value below its minimum.
func NewMinimumError(field string, value any, min int64) *ConfigError {
	return &ConfigError{Field: field, Value: value, Min: &min}
}

func (e *ConfigError) Error() string {
	if e.Min != nil {
		return fmt.Sprintf("invalid %s: %v is below minimum %d", e.Field, e.Value, *e.Min)
	}
	return fmt.Sprintf("invalid %s: %v: %s", e.Field, e.Value, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return ErrConfiguration
}

// IntegrityError names an input file whose block layout does not match its
// declared shots and traces.
type IntegrityError struct {
	File     string
	Expected int64
	Actual   int64
	Detail   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("%s: %s: expected %d blocks, found %d", e.File, e.Detail, e.Expected, e.Actual)
}

func (e *IntegrityError) Unwrap() error {
	return ErrDataIntegrity
}

// InvalidState wraps ErrInvalidState with the operation that was attempted.
func InvalidState(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}

// Storage wraps ErrStorage with context.
func Storage(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrStorage, fmt.Sprintf(format, args...))
}

// MissingField reports an absent dataset in the named file.
func MissingField(file, field string) error {
	return fmt.Errorf("%w: %s in %s", ErrMissingField, field, file)
}
