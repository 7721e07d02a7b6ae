package vibrometer

import (
	"fmt"
	"strings"
)

const (
	ChannelUnknown ChannelType = iota
	ChannelVelocity
	ChannelDisplacement
	ChannelAcceleration
	ChannelRSSI
	ChannelTrigger
)

// BooleanUnit marks channels whose samples are stored as booleans.
const BooleanUnit = "bool"

var channelNames = map[ChannelType]string{
	ChannelUnknown:      "Unknown",
	ChannelVelocity:     "Velocity",
	ChannelDisplacement: "Displacement",
	ChannelAcceleration: "Acceleration",
	ChannelRSSI:         "RSSI",
	ChannelTrigger:      "Trigger",
}

// ChannelType identifies what a DAQ channel measures.
type ChannelType int

func (c ChannelType) String() string {
	if name, ok := channelNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ChannelType(%d)", int(c))
}

// IsMeasurement reports whether the channel carries overrange flags.
func (c ChannelType) IsMeasurement() bool {
	switch c {
	case ChannelVelocity, ChannelDisplacement, ChannelAcceleration:
		return true
	}
	return false
}

// ParseChannelType is the inverse of ChannelType.String, case-insensitive.
func ParseChannelType(s string) (ChannelType, error) {
	for c, name := range channelNames {
		if c != ChannelUnknown && strings.EqualFold(name, s) {
			return c, nil
		}
	}
	return ChannelUnknown, fmt.Errorf("unknown channel type %q", s)
}

func (c *ChannelType) UnmarshalText(text []byte) error {
	v, err := ParseChannelType(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

func (c ChannelType) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// ChannelDescriptor holds the static properties of an active channel. It is
// fixed for the duration of a session.
type ChannelDescriptor struct {
	Type        ChannelType
	ID          int64 // device handle, opaque to the caller
	Unit        string
	ScaleFactor float64
}

// Name is the channel group name used in buffers and stores.
func (d ChannelDescriptor) Name() string {
	return d.Type.String()
}

// IsBoolean reports whether samples are flags rather than integer counts.
func (d ChannelDescriptor) IsBoolean() bool {
	return d.Unit == BooleanUnit
}

// FrequencyFactor returns the per-channel sample multiplier for a DAQ sample
// rate and base rate. RSSI is always sampled at the base rate.
func FrequencyFactor(sampleRate, baseSampleRate float64) func(ChannelDescriptor) int {
	factor := 0
	if baseSampleRate > 0 {
		factor = int(sampleRate / baseSampleRate)
	}

	return func(d ChannelDescriptor) int {
		if d.Type == ChannelRSSI {
			return 1
		}
		return factor
	}
}
