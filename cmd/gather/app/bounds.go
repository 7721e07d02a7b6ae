package app

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"
)

const (
	lowerQuantile = 0.05
	upperQuantile = 0.95

	// Below this many samples the quantiles are the extremes anyway.
	minimumSampleCount = 20
)

// Bounds is the velocity range spread over the color map.
type Bounds struct {
	Min, Max float64
}

func (b Bounds) Span() float64 {
	return b.Max - b.Min
}

// Symmetric widens b around zero so that zero velocity sits in the middle of
// a diverging color map.
func (b Bounds) Symmetric() Bounds {
	m := max(math.Abs(b.Min), math.Abs(b.Max))
	return Bounds{Min: -m, Max: m}
}

// PercentileBounds returns the 5th and 95th percentile of the finite values,
// which keeps a few spikes from washing out the section.
func PercentileBounds(traces [][]float64) Bounds {
	var values []float64
	for _, trace := range traces {
		for _, v := range trace {
			if !math.IsNaN(v) && !math.IsInf(v, 0) {
				values = append(values, v)
			}
		}
	}
	if len(values) == 0 {
		return Bounds{Min: -1, Max: 1}
	}

	slices.Sort(values)

	var b Bounds
	if len(values) < minimumSampleCount {
		b = Bounds{Min: values[0], Max: values[len(values)-1]}
	} else {
		b = Bounds{
			Min: stat.Quantile(lowerQuantile, stat.Empirical, values, nil),
			Max: stat.Quantile(upperQuantile, stat.Empirical, values, nil),
		}
	}

	if b.Span() == 0 {
		b.Min, b.Max = b.Min-1, b.Max+1
	}
	return b
}
