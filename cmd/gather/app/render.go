package app

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

const (
	dpi            = 96.0
	fontSize       = 10.0
	tickMarkLength = 5

	pixelsPerTimeLabel  = 120.0
	pixelsPerTraceLabel = 40.0

	// Short gathers are stretched to at least this many pixels.
	minSectionWidth  = 600
	minSectionHeight = 300

	defaultTopBorder    = 40
	defaultLeftBorder   = 70
	defaultBottomBorder = 40
	defaultRightBorder  = 30

	velocityUnit = "m/s"
	timeUnit     = "s"
)

var errEmptySection = errors.New("section has no samples")

// BorderConfig defines the white space around the section.
type BorderConfig struct {
	Top    int // time scale
	Left   int // trace scale
	Bottom int // information bar
	Right  int
}

type RenderConfig struct {
	FontSize      float64
	ColorTheme    ColorTheme
	ColorMapSize  int
	NoAnnotations bool
	BorderConfig  BorderConfig
}

// SectionRenderer draws a gather as an image: one band per trace, time
// running left to right and color encoding the average velocity.
type SectionRenderer struct {
	config RenderConfig
}

func NewSectionRenderer(config RenderConfig) (*SectionRenderer, error) {
	if config.FontSize == 0 {
		config.FontSize = fontSize
	}
	if config.ColorTheme == "" {
		config.ColorTheme = SeismicTheme
	}
	if _, ok := colorThemes[config.ColorTheme]; !ok {
		return nil, fmt.Errorf("unknown color theme: %s", config.ColorTheme)
	}
	if config.ColorMapSize == 0 {
		config.ColorMapSize = DefaultColorMapSize
	}

	if config.NoAnnotations {
		config.BorderConfig = BorderConfig{}
	} else {
		b := &config.BorderConfig
		if b.Top == 0 {
			b.Top = defaultTopBorder
		}
		if b.Left == 0 {
			b.Left = defaultLeftBorder
		}
		if b.Bottom == 0 {
			b.Bottom = defaultBottomBorder
		}
		if b.Right == 0 {
			b.Right = defaultRightBorder
		}
	}

	return &SectionRenderer{config: config}, nil
}

// layout is the placement of the section inside the image.
type layout struct {
	area       image.Rectangle
	colScale   int
	traceScale int
}

func (r *SectionRenderer) layout(s *Section) layout {
	colScale := max(1, int(math.Ceil(float64(minSectionWidth)/float64(s.Width))))
	traceScale := max(1, int(math.Ceil(float64(minSectionHeight)/float64(s.Height))))

	b := r.config.BorderConfig
	return layout{
		area:       image.Rect(b.Left, b.Top, b.Left+s.Width*colScale, b.Top+s.Height*traceScale),
		colScale:   colScale,
		traceScale: traceScale,
	}
}

// Render creates the section image.
func (r *SectionRenderer) Render(s *Section) (*image.RGBA, error) {
	if s.Width == 0 || s.Height == 0 {
		return nil, errEmptySection
	}

	l := r.layout(s)
	b := r.config.BorderConfig
	img := image.NewRGBA(image.Rect(0, 0, l.area.Max.X+b.Right, l.area.Max.Y+b.Bottom))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	bounds := s.Bounds
	if r.config.ColorTheme == SeismicTheme {
		bounds = bounds.Symmetric()
	}
	colors := NewColorMapperWithSize(r.config.ColorTheme, bounds, r.config.ColorMapSize)

	if !r.config.NoAnnotations {
		ann, err := newAnnotator(r.config.FontSize, l)
		if err != nil {
			return nil, fmt.Errorf("creating annotator: %w", err)
		}
		defer ann.Close()

		if err = ann.annotate(img, s, bounds); err != nil {
			return nil, fmt.Errorf("drawing annotations: %w", err)
		}
	}

	r.renderSection(img, l, s, colors)
	return img, nil
}

func (r *SectionRenderer) renderSection(img *image.RGBA, l layout, s *Section, colors *ColorMapper) {
	for y, trace := range s.Traces {
		top := l.area.Min.Y + y*l.traceScale
		for x, v := range trace {
			left := l.area.Min.X + x*l.colScale
			cell := image.Rect(left, top, left+l.colScale, top+l.traceScale)
			draw.Draw(img, cell, image.NewUniform(colors.Color(v)), image.Point{}, draw.Src)
		}
	}
}

type annotator struct {
	context  *freetype.Context
	fontFace font.Face
	layout   layout
}

func newAnnotator(size float64, l layout) (*annotator, error) {
	parsedFont, err := freetype.ParseFont(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	ctx := freetype.NewContext()
	ctx.SetDPI(dpi)
	ctx.SetFont(parsedFont)
	ctx.SetFontSize(size)
	ctx.SetHinting(font.HintingNone)
	ctx.SetSrc(image.Black)

	return &annotator{
		context: ctx,
		layout:  l,
		fontFace: truetype.NewFace(parsedFont, &truetype.Options{
			Size:    size,
			DPI:     dpi,
			Hinting: font.HintingNone,
		}),
	}, nil
}

func (a *annotator) Close() error {
	return a.fontFace.Close()
}

func (a *annotator) annotate(img *image.RGBA, s *Section, bounds Bounds) error {
	a.context.SetClip(img.Bounds())
	a.context.SetDst(img)

	if err := a.drawTimeScale(img, s); err != nil {
		return fmt.Errorf("drawing time scale: %w", err)
	}
	if err := a.drawTraceScale(img, s); err != nil {
		return fmt.Errorf("drawing trace scale: %w", err)
	}
	if err := a.drawInfoBar(img, s, bounds); err != nil {
		return fmt.Errorf("drawing info bar: %w", err)
	}
	return nil
}

func (a *annotator) fontHeight() int {
	m := a.fontFace.Metrics()
	return (m.Ascent + m.Descent).Round()
}

func (a *annotator) drawTimeScale(img *image.RGBA, s *Section) error {
	area := a.layout.area
	span := s.TimeMax - s.TimeMin
	textY := area.Min.Y - tickMarkLength - a.fontHeight()/2

	ticks := []float64{s.TimeMin}
	if span > 0 {
		step := niceStep(span, float64(area.Dx())/pixelsPerTimeLabel)
		ticks = ticks[:0]
		first := math.Ceil(s.TimeMin/step) * step
		for k := 0; ; k++ {
			t := first + float64(k)*step
			if t > s.TimeMax+step*1e-9 {
				break
			}
			ticks = append(ticks, t)
		}
		if len(ticks) == 0 {
			ticks = append(ticks, s.TimeMin)
		}
	}

	for _, t := range ticks {
		x := area.Min.X
		if span > 0 {
			x += int((t - s.TimeMin) / span * float64(area.Dx()-1))
		}

		for y := area.Min.Y - tickMarkLength; y < area.Min.Y; y++ {
			img.Set(x, y, color.Black)
		}

		label := humanize.SIWithDigits(roundTick(t), 2, timeUnit)
		width := font.MeasureString(a.fontFace, label).Round()
		if _, err := a.context.DrawString(label, freetype.Pt(x-width/2, textY)); err != nil {
			return fmt.Errorf("drawing time label: %w", err)
		}
	}
	return nil
}

func (a *annotator) drawTraceScale(img *image.RGBA, s *Section) error {
	area := a.layout.area
	step := max(1, int(niceStep(float64(s.Height), float64(area.Dy())/pixelsPerTraceLabel)))
	descent := a.fontFace.Metrics().Descent.Round()

	for i := 0; i < s.Height; i += step {
		y := area.Min.Y + i*a.layout.traceScale + a.layout.traceScale/2

		for x := area.Min.X - tickMarkLength; x < area.Min.X; x++ {
			img.Set(x, y, color.Black)
		}

		label := strconv.Itoa(i)
		width := font.MeasureString(a.fontFace, label).Round()
		pt := freetype.Pt(area.Min.X-tickMarkLength-3-width, y+a.fontHeight()/2-descent)
		if _, err := a.context.DrawString(label, pt); err != nil {
			return fmt.Errorf("drawing trace label: %w", err)
		}
	}
	return nil
}

func (a *annotator) drawInfoBar(img *image.RGBA, s *Section, bounds Bounds) error {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Traces: %d", s.Height)
	fmt.Fprintf(&sb, "; Time: %s to %s",
		humanize.SIWithDigits(s.TimeMin, 2, timeUnit),
		humanize.SIWithDigits(s.TimeMax, 2, timeUnit))
	fmt.Fprintf(&sb, "; Velocity: %s to %s",
		humanize.SIWithDigits(bounds.Min, 2, velocityUnit),
		humanize.SIWithDigits(bounds.Max, 2, velocityUnit))

	descent := a.fontFace.Metrics().Descent.Round()
	bottom := img.Bounds().Max.Y - a.layout.area.Max.Y
	textY := img.Bounds().Max.Y - (bottom-a.fontHeight())/2 - descent

	if _, err := a.context.DrawString(sb.String(), freetype.Pt(a.layout.area.Min.X, textY)); err != nil {
		return fmt.Errorf("drawing info text: %w", err)
	}
	return nil
}

// niceStep returns a 1, 2 or 5 times power of ten step that splits span into
// at most about count labels.
func niceStep(span, count float64) float64 {
	if span <= 0 {
		return 1
	}
	count = max(1, count)

	raw := span / count
	magnitude := math.Pow(10, math.Floor(math.Log10(raw)))
	for _, m := range []float64{1, 2, 5} {
		if step := m * magnitude; step >= raw {
			return step
		}
	}
	return 10 * magnitude
}

// roundTick removes accumulated floating point noise from a tick value.
func roundTick(v float64) float64 {
	if math.Abs(v) < 1e-12 {
		return 0
	}
	return v
}
