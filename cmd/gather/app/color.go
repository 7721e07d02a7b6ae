package app

import (
	"image/color"
	"math"

	"github.com/lucasb-eyer/go-colorful"
)

// ColorTheme names a velocity to color scheme.
type ColorTheme string

const (
	SeismicTheme   ColorTheme = "seismic"   // blue through white to red, zero is white
	ClassicTheme   ColorTheme = "classic"   // blue to red hue sweep
	GrayscaleTheme ColorTheme = "grayscale" // black to white
	ThermalTheme   ColorTheme = "thermal"   // black, red, yellow, white

	DefaultColorMapSize = 256
)

var (
	seismicLow  = colorful.Color{R: 0.02, G: 0.19, B: 0.58}
	seismicMid  = colorful.Color{R: 1, G: 1, B: 1}
	seismicHigh = colorful.Color{R: 0.64, G: 0.04, B: 0.06}

	thermalStops = []colorful.Color{
		{R: 0, G: 0, B: 0},
		{R: 0.85, G: 0.1, B: 0},
		{R: 1, G: 0.85, B: 0.1},
		{R: 1, G: 1, B: 1},
	}
)

// colorThemes maps a normalized value in [0,1] to a color.
var colorThemes = map[ColorTheme]func(float64) color.Color{
	SeismicTheme: func(v float64) color.Color {
		if v < 0.5 {
			return seismicLow.BlendLab(seismicMid, v*2).Clamped()
		}
		return seismicMid.BlendLab(seismicHigh, (v-0.5)*2).Clamped()
	},
	ClassicTheme: func(v float64) color.Color {
		return colorful.Hsv(240-v*240, 0.9+v*0.1, 0.35+math.Pow(v, 0.7)*0.65)
	},
	GrayscaleTheme: func(v float64) color.Color {
		g := uint8(math.Pow(v, 0.7) * 255)
		return color.RGBA{R: g, G: g, B: g, A: 255}
	},
	ThermalTheme: func(v float64) color.Color {
		segments := float64(len(thermalStops) - 1)
		i := min(int(v*segments), len(thermalStops)-2)
		return thermalStops[i].BlendRgb(thermalStops[i+1], v*segments-float64(i)).Clamped()
	},
}

// ColorMapper maps velocities within Bounds onto a precomputed gradient.
type ColorMapper struct {
	colorMap []color.Color
	bounds   Bounds
	step     float64
}

func NewColorMapper(theme ColorTheme, bounds Bounds) *ColorMapper {
	return NewColorMapperWithSize(theme, bounds, DefaultColorMapSize)
}

func NewColorMapperWithSize(theme ColorTheme, bounds Bounds, size int) *ColorMapper {
	if size < 2 {
		size = DefaultColorMapSize
	}
	fn, ok := colorThemes[theme]
	if !ok {
		fn = colorThemes[SeismicTheme]
	}

	cm := &ColorMapper{colorMap: make([]color.Color, size)}
	for i := range size {
		cm.colorMap[i] = fn(float64(i) / float64(size-1))
	}
	cm.UpdateBounds(bounds)
	return cm
}

// UpdateBounds rescales the mapper without rebuilding the gradient.
func (cm *ColorMapper) UpdateBounds(bounds Bounds) {
	cm.bounds = bounds
	cm.step = bounds.Span() / float64(len(cm.colorMap)-1)
}

// Color returns the color of v; values outside the bounds are clamped and
// NaN maps to the middle of the gradient.
func (cm *ColorMapper) Color(v float64) color.Color {
	last := len(cm.colorMap) - 1
	if math.IsNaN(v) || cm.step <= 0 {
		return cm.colorMap[last/2]
	}

	index := int(math.Round((v - cm.bounds.Min) / cm.step))
	return cm.colorMap[max(0, min(index, last))]
}

func (cm *ColorMapper) Size() int {
	return len(cm.colorMap)
}
