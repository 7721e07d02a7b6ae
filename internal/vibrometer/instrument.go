// Package vibrometer describes the boundary to a laser Doppler vibrometer:
// the channels it exposes, the acquisition calls the buffer state machine
// drives, and the typed device settings recorded with every run.
package vibrometer

import (
	"context"
	"errors"
	"time"
)

const (
	AutofocusBusy AutofocusState = 0
	AutofocusDone AutofocusState = 1
)

// ErrReadTimeout is returned by ReadData when the requested samples did not
// arrive within the timeout.
var ErrReadTimeout = errors.New("read timed out")

// AutofocusState is the result of the autofocus status query.
type AutofocusState int

func (s AutofocusState) String() string {
	if s == AutofocusDone {
		return "done"
	}
	return "busy"
}

// TriggerMode is one of the trigger modes offered by the DAQ, e.g. "Off",
// "Analog" or "Software".
type TriggerMode string

// Instrument is the acquisition side of the device.
type Instrument interface {
	Controller

	ActiveChannels(ctx context.Context) ([]ChannelDescriptor, error)

	StartAcquisition(ctx context.Context) error
	StopAcquisition(ctx context.Context) error

	// WaitForTrigger blocks until the trigger fires according to mode.
	WaitForTrigger(ctx context.Context, mode TriggerMode) error

	// ReadData transfers count base-rate samples into the device side
	// staging area. It fails with ErrReadTimeout after timeout.
	ReadData(ctx context.Context, count int, timeout time.Duration) error

	// ExtractedSampleCount returns how many samples the last ReadData
	// produced for the channel.
	ExtractedSampleCount(ch ChannelDescriptor) int

	Int32Samples(ch ChannelDescriptor, count int) ([]int32, error)
	OverrangeFlags(ch ChannelDescriptor, count int) ([]bool, error)

	Autofocus(ctx context.Context) error
	AutofocusStatus(ctx context.Context) (AutofocusState, error)
	SignalLevel(ctx context.Context) (int, error)
}

// Controller exposes the raw typed setting registers of the device. Item
// settings pick one entry out of a device supplied list.
type Controller interface {
	Item(ctx context.Context, s Setting) (string, error)
	Items(ctx context.Context, s Setting) ([]string, error)
	SetItem(ctx context.Context, s Setting, item string) error

	Int(ctx context.Context, s Setting) (int64, error)
	SetInt(ctx context.Context, s Setting, v int64) error

	Float(ctx context.Context, s Setting) (float64, error)
}
