package chart

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"time"

	"github.com/roman-kulish/rocket-telemetry/internal/history"
)

const (
	defaultWidth    = 1100
	defaultHeight   = 700
	defaultFontSize = 10.0

	// Default border sizes in pixels
	defaultTopBorder    = 30
	defaultLeftBorder   = 80
	defaultBottomBorder = 50
	defaultRightBorder  = 30

	panelGap = 50

	defaultTimeFormat = "15:04:05"
)

var (
	// TemperatureColor is the line color of the temperature panel.
	TemperatureColor = color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 0xff}

	// GasColor is the line color of the MQ135 panel.
	GasColor = color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff}

	frameColor = color.RGBA{R: 0x40, G: 0x40, B: 0x40, A: 0xff}
	gridColor  = color.RGBA{R: 0xe6, G: 0xe6, B: 0xe6, A: 0xff}
)

// BorderConfig defines the white space around the plot area
type BorderConfig struct {
	Top    int
	Left   int // Space for value scales
	Bottom int // Space for time scale and information bar
	Right  int
}

// RenderConfig holds the chart layout options. Zero values take defaults.
type RenderConfig struct {
	Width      int
	Height     int
	FontSize   float64 // Font size in points
	TimeFormat string  // Format of the time range in the information bar
	Location   *time.Location

	BorderConfig BorderConfig
}

// Renderer draws the rolling temperature and gas history as two stacked
// line charts sharing a time axis in seconds since the first point.
type Renderer struct {
	config RenderConfig
}

// NewRenderer creates a renderer with the given configuration.
func NewRenderer(config RenderConfig) (*Renderer, error) {
	if config.Width == 0 {
		config.Width = defaultWidth
	}
	if config.Height == 0 {
		config.Height = defaultHeight
	}
	if config.FontSize == 0 {
		config.FontSize = defaultFontSize
	}
	if config.TimeFormat == "" {
		config.TimeFormat = defaultTimeFormat
	}
	if config.Location == nil {
		config.Location = time.Local
	}
	if config.BorderConfig.Top == 0 {
		config.BorderConfig.Top = defaultTopBorder
	}
	if config.BorderConfig.Left == 0 {
		config.BorderConfig.Left = defaultLeftBorder
	}
	if config.BorderConfig.Bottom == 0 {
		config.BorderConfig.Bottom = defaultBottomBorder
	}
	if config.BorderConfig.Right == 0 {
		config.BorderConfig.Right = defaultRightBorder
	}

	b := config.BorderConfig
	if config.Width <= b.Left+b.Right || config.Height <= b.Top+b.Bottom+panelGap {
		return nil, fmt.Errorf("image size %dx%d is too small for the borders", config.Width, config.Height)
	}

	return &Renderer{config: config}, nil
}

// panel is one chart within the image.
type panel struct {
	title  string
	area   image.Rectangle
	values []float64
	color  color.Color
	yMin   float64
	yMax   float64
}

// Render draws snap into a new image.
func (r *Renderer) Render(snap history.Snapshot) (*image.RGBA, error) {
	img := image.NewRGBA(image.Rect(0, 0, r.config.Width, r.config.Height))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	b := r.config.BorderConfig
	panelHeight := (r.config.Height - b.Top - b.Bottom - panelGap) / 2
	left, right := b.Left, r.config.Width-b.Right

	panels := []*panel{
		{
			title:  "Temperature (°C)",
			area:   image.Rect(left, b.Top, right, b.Top+panelHeight),
			values: snap.Temperatures,
			color:  TemperatureColor,
		},
		{
			title:  "MQ135",
			area:   image.Rect(left, b.Top+panelHeight+panelGap, right, b.Top+2*panelHeight+panelGap),
			values: snap.Gases,
			color:  GasColor,
		},
	}

	offsets, span := timeOffsets(snap.Times)

	ann, err := newAnnotator(annotatorConfig{
		FontSize:   r.config.FontSize,
		TimeFormat: r.config.TimeFormat,
		Location:   r.config.Location,
		Borders:    b,
	})
	if err != nil {
		return nil, fmt.Errorf("creating annotator: %w", err)
	}
	defer ann.Close()

	ann.bind(img)

	for _, p := range panels {
		p.yMin, p.yMax = valueRange(p.values)

		drawGrid(img, p.area)
		if err = ann.drawValueScale(img, p); err != nil {
			return nil, fmt.Errorf("drawing value scale: %w", err)
		}
		if err = ann.drawTimeScale(img, p.area, span); err != nil {
			return nil, fmt.Errorf("drawing time scale: %w", err)
		}
		if err = ann.drawTitle(p); err != nil {
			return nil, fmt.Errorf("drawing title: %w", err)
		}

		drawSeries(img, p, offsets, span)
		drawFrame(img, p.area)
	}

	if err = ann.drawInfoBar(img, snap); err != nil {
		return nil, fmt.Errorf("drawing info bar: %w", err)
	}

	return img, nil
}

// timeOffsets converts timestamps to seconds since the first one. The span
// is at least one second so a single point still has a scale.
func timeOffsets(times []time.Time) ([]float64, float64) {
	offsets := make([]float64, len(times))
	if len(times) == 0 {
		return offsets, 1
	}

	for i, t := range times {
		offsets[i] = t.Sub(times[0]).Seconds()
	}

	span := offsets[len(offsets)-1]
	if span < 1 {
		span = 1
	}
	return offsets, span
}

// valueRange returns the padded min and max of the finite values.
func valueRange(values []float64) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}

	switch {
	case math.IsInf(lo, 1):
		return 0, 1
	case lo == hi:
		return lo - 1, hi + 1
	}

	pad := (hi - lo) * 0.05
	return lo - pad, hi + pad
}

func (p *panel) point(offset, value, span float64) image.Point {
	x := p.area.Min.X + int(math.Round(offset/span*float64(p.area.Dx()-1)))
	y := p.area.Max.Y - 1 - int(math.Round((value-p.yMin)/(p.yMax-p.yMin)*float64(p.area.Dy()-1)))
	return image.Pt(x, y)
}

// drawSeries connects consecutive finite values. A NaN ends the current
// segment, leaving a gap for readings the device did not send.
func drawSeries(img *image.RGBA, p *panel, offsets []float64, span float64) {
	var prev *image.Point
	for i, v := range p.values {
		if i >= len(offsets) || math.IsNaN(v) || math.IsInf(v, 0) {
			prev = nil
			continue
		}

		pt := p.point(offsets[i], v, span)
		if prev == nil {
			img.Set(pt.X, pt.Y, p.color)
		} else {
			drawLine(img, *prev, pt, p.color)
		}
		prev = &pt
	}
}

// drawLine is Bresenham's line algorithm.
func drawLine(img *image.RGBA, from, to image.Point, c color.Color) {
	dx := abs(to.X - from.X)
	dy := -abs(to.Y - from.Y)
	sx, sy := 1, 1
	if from.X > to.X {
		sx = -1
	}
	if from.Y > to.Y {
		sy = -1
	}

	x, y := from.X, from.Y
	e := dx + dy
	for {
		img.Set(x, y, c)
		if x == to.X && y == to.Y {
			return
		}
		e2 := 2 * e
		if e2 >= dy {
			e += dy
			x += sx
		}
		if e2 <= dx {
			e += dx
			y += sy
		}
	}
}

func drawFrame(img *image.RGBA, area image.Rectangle) {
	for x := area.Min.X; x < area.Max.X; x++ {
		img.Set(x, area.Min.Y, frameColor)
		img.Set(x, area.Max.Y-1, frameColor)
	}
	for y := area.Min.Y; y < area.Max.Y; y++ {
		img.Set(area.Min.X, y, frameColor)
		img.Set(area.Max.X-1, y, frameColor)
	}
}

func drawGrid(img *image.RGBA, area image.Rectangle) {
	for i := 1; i < valueTicks; i++ {
		y := area.Max.Y - 1 - i*(area.Dy()-1)/valueTicks
		for x := area.Min.X; x < area.Max.X; x++ {
			img.Set(x, y, gridColor)
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
