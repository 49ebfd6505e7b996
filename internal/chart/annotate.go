package chart

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/roman-kulish/rocket-telemetry/internal/history"
)

const (
	dpi            = 96.0
	tickMarkLength = 5
	valueTicks     = 4
	pixelsPerLabel = 120
)

var parseFont = sync.OnceValues(func() (*truetype.Font, error) {
	return freetype.ParseFont(goregular.TTF)
})

type annotatorConfig struct {
	FontSize   float64
	TimeFormat string
	Location   *time.Location
	Borders    BorderConfig
}

type annotator struct {
	context  *freetype.Context
	config   annotatorConfig
	fontFace font.Face
}

func newAnnotator(config annotatorConfig) (*annotator, error) {
	parsedFont, err := parseFont()
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	ctx := freetype.NewContext()
	ctx.SetDPI(dpi)
	ctx.SetFont(parsedFont)
	ctx.SetFontSize(config.FontSize)
	ctx.SetHinting(font.HintingNone)
	ctx.SetSrc(image.Black)

	return &annotator{
		context: ctx,
		config:  config,
		fontFace: truetype.NewFace(parsedFont, &truetype.Options{
			Size:    config.FontSize,
			DPI:     dpi,
			Hinting: font.HintingNone,
		}),
	}, nil
}

func (a *annotator) Close() error {
	if a.fontFace != nil {
		return a.fontFace.Close()
	}
	return nil
}

func (a *annotator) bind(img *image.RGBA) {
	a.context.SetClip(img.Bounds())
	a.context.SetDst(img)
}

func (a *annotator) fontHeight() int {
	metrics := a.fontFace.Metrics()
	return (metrics.Ascent + metrics.Descent).Round()
}

func (a *annotator) drawTitle(p *panel) error {
	pt := freetype.Pt(p.area.Min.X, p.area.Min.Y-a.fontHeight()/2)
	if _, err := a.context.DrawString(p.title, pt); err != nil {
		return fmt.Errorf("drawing %q: %w", p.title, err)
	}
	return nil
}

func (a *annotator) drawValueScale(img *image.RGBA, p *panel) error {
	descent := a.fontFace.Metrics().Descent.Round()

	for i := 0; i <= valueTicks; i++ {
		y := p.area.Max.Y - 1 - i*(p.area.Dy()-1)/valueTicks
		value := p.yMin + float64(i)*(p.yMax-p.yMin)/valueTicks

		for x := p.area.Min.X - tickMarkLength; x < p.area.Min.X; x++ {
			img.Set(x, y, color.Black)
		}

		label := formatValue(value)
		width := font.MeasureString(a.fontFace, label).Round()
		pt := freetype.Pt(p.area.Min.X-tickMarkLength-4-width, y+a.fontHeight()/2-descent)
		if _, err := a.context.DrawString(label, pt); err != nil {
			return fmt.Errorf("drawing value label: %w", err)
		}
	}
	return nil
}

func (a *annotator) drawTimeScale(img *image.RGBA, area image.Rectangle, span float64) error {
	step := niceStep(span, area.Dx()/pixelsPerLabel)
	textY := area.Max.Y + tickMarkLength + a.fontHeight()

	for offset := 0.0; offset <= span+step/1e6; offset += step {
		x := area.Min.X + int(math.Round(offset/span*float64(area.Dx()-1)))

		for y := area.Max.Y; y < area.Max.Y+tickMarkLength; y++ {
			img.Set(x, y, color.Black)
		}

		label := humanize.FtoaWithDigits(offset, 2) + "s"
		width := font.MeasureString(a.fontFace, label).Round()
		if _, err := a.context.DrawString(label, freetype.Pt(x-width/2, textY)); err != nil {
			return fmt.Errorf("drawing time label: %w", err)
		}
	}
	return nil
}

func (a *annotator) drawInfoBar(img *image.RGBA, snap history.Snapshot) error {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Points: %s", humanize.Comma(int64(snap.Len()))))
	if n := snap.Len(); n > 0 {
		sb.WriteString("; ")
		sb.WriteString(fmt.Sprintf("Time: %s - %s",
			snap.Times[0].In(a.config.Location).Format(a.config.TimeFormat),
			snap.Times[n-1].In(a.config.Location).Format(a.config.TimeFormat)))
	}

	descent := a.fontFace.Metrics().Descent.Round()
	textY := img.Bounds().Max.Y - descent - 4

	pt := freetype.Pt(a.config.Borders.Left, textY)
	if _, err := a.context.DrawString(sb.String(), pt); err != nil {
		return fmt.Errorf("drawing info text: %w", err)
	}
	return nil
}

// formatValue renders a scale value with an SI suffix for large readings.
func formatValue(v float64) string {
	if math.Abs(v) < 1000 {
		return humanize.FtoaWithDigits(v, 2)
	}
	fract, suffix := humanize.ComputeSI(v)
	return humanize.FtoaWithDigits(fract, 2) + suffix
}

// niceStep picks a 1, 2 or 5 times power of ten step giving at most
// maxLabels intervals over span.
func niceStep(span float64, maxLabels int) float64 {
	if maxLabels < 1 {
		maxLabels = 1
	}

	rough := span / float64(maxLabels)
	magnitude := math.Pow(10, math.Floor(math.Log10(rough)))

	for _, m := range []float64{1, 2, 5, 10} {
		if step := m * magnitude; step >= rough {
			return step
		}
	}
	return 10 * magnitude
}
