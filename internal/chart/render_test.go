package chart

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/rocket-telemetry/internal/history"
)

func countColor(img *image.RGBA, c color.RGBA) int {
	var n int
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if img.RGBAAt(x, y) == c {
				n++
			}
		}
	}
	return n
}

func snapshot(n int, gasGapAt int) history.Snapshot {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	snap := history.Snapshot{
		Times:        make([]time.Time, n),
		Temperatures: make([]float64, n),
		Gases:        make([]float64, n),
	}
	for i := 0; i < n; i++ {
		snap.Times[i] = start.Add(time.Duration(i) * 500 * time.Millisecond)
		snap.Temperatures[i] = 20 + math.Sin(float64(i)/5)
		snap.Gases[i] = 300 + float64(i)
		if i == gasGapAt {
			snap.Gases[i] = math.NaN()
		}
	}
	return snap
}

func TestRenderer_Render(t *testing.T) {
	r, err := NewRenderer(RenderConfig{Location: time.UTC})
	require.NoError(t, err)

	img, err := r.Render(snapshot(60, 30))
	require.NoError(t, err)

	assert.Equal(t, image.Rect(0, 0, defaultWidth, defaultHeight), img.Bounds())
	assert.Greater(t, countColor(img, TemperatureColor), 100)
	assert.Greater(t, countColor(img, GasColor), 100)
}

func TestRenderer_RenderEmpty(t *testing.T) {
	r, err := NewRenderer(RenderConfig{Width: 400, Height: 300})
	require.NoError(t, err)

	img, err := r.Render(history.Snapshot{})
	require.NoError(t, err)
	assert.Zero(t, countColor(img, TemperatureColor))
	assert.Zero(t, countColor(img, GasColor))
}

func TestRenderer_AllGasMissing(t *testing.T) {
	snap := snapshot(10, -1)
	for i := range snap.Gases {
		snap.Gases[i] = math.NaN()
	}

	r, err := NewRenderer(RenderConfig{})
	require.NoError(t, err)

	img, err := r.Render(snap)
	require.NoError(t, err)
	assert.Zero(t, countColor(img, GasColor))
	assert.NotZero(t, countColor(img, TemperatureColor))
}

func TestNewRenderer_TooSmall(t *testing.T) {
	_, err := NewRenderer(RenderConfig{Width: 50, Height: 50})
	assert.Error(t, err)
}

func TestValueRange(t *testing.T) {
	lo, hi := valueRange([]float64{math.NaN(), 10, 20})
	assert.InDelta(t, 9.5, lo, 1e-9)
	assert.InDelta(t, 20.5, hi, 1e-9)

	lo, hi = valueRange([]float64{5, 5})
	assert.Equal(t, 4.0, lo)
	assert.Equal(t, 6.0, hi)

	lo, hi = valueRange([]float64{math.NaN()})
	assert.Equal(t, 0.0, lo)
	assert.Equal(t, 1.0, hi)
}

func TestNiceStep(t *testing.T) {
	testCases := []struct {
		span      float64
		maxLabels int
		want      float64
	}{
		{1, 8, 0.2},
		{30, 8, 5},
		{250, 8, 50},
		{100, 10, 10},
		{7, 0, 10},
	}

	for _, tc := range testCases {
		assert.InDelta(t, tc.want, niceStep(tc.span, tc.maxLabels), 1e-9, "span %v", tc.span)
	}
}

func TestEncode(t *testing.T) {
	r, err := NewRenderer(RenderConfig{Width: 300, Height: 250})
	require.NoError(t, err)

	img, err := r.Render(snapshot(5, -1))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, img, PNG))

	decoded, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, img.Bounds(), decoded.Bounds())

	buf.Reset()
	require.NoError(t, Encode(&buf, img, JPEG))
	assert.NotZero(t, buf.Len())

	assert.Error(t, Encode(&buf, img, Format("bmp")))
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("JPG")
	require.NoError(t, err)
	assert.Equal(t, JPEG, f)

	f, err = ParseFormat("png")
	require.NoError(t, err)
	assert.Equal(t, PNG, f)

	_, err = ParseFormat("gif")
	assert.Error(t, err)
}
