package app

import (
	"bytes"
	"context"
	"image/png"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/rocket-telemetry/internal/chart"
	"github.com/roman-kulish/rocket-telemetry/internal/history"
	"github.com/roman-kulish/rocket-telemetry/internal/storage"
	"github.com/roman-kulish/rocket-telemetry/internal/telemetry"
)

var flightStart = time.Date(2024, 3, 9, 14, 5, 0, 0, time.Local)

func flightSample(i int) telemetry.Sample {
	s := telemetry.Sample{
		CapturedAt:  flightStart.Add(time.Duration(i) * 100 * time.Millisecond),
		Temperature: telemetry.Float(20 + float64(i)/10),
	}
	if i%3 != 0 {
		s.Gas = telemetry.Float(400 + float64(i))
	}
	return s
}

func writeSessionLog(t *testing.T, n int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "esp32_data_20240309_140500.csv")
	log := storage.NewSessionLog(path)
	require.NoError(t, log.Open())
	for i := 0; i < n; i++ {
		require.NoError(t, log.Append(flightSample(i)))
	}
	require.NoError(t, log.Close())
	return path
}

func TestLoadSessionLog_KeepsMostRecent(t *testing.T) {
	path := writeSessionLog(t, 25)

	snap, err := loadSessionLog(path, 10, timeWindow{})
	require.NoError(t, err)
	require.Equal(t, 10, snap.Len())

	assert.InDelta(t, 21.5, snap.Temperatures[0], 1e-9)
	assert.InDelta(t, 22.4, snap.Temperatures[9], 1e-9)
	assert.True(t, math.IsNaN(snap.Gases[0]), "sample 15 has no gas reading")
	assert.InDelta(t, 416, snap.Gases[1], 1e-9)
	assert.True(t, math.IsNaN(snap.Gases[3]), "sample 18 has no gas reading")
}

func TestLoadSessionLog_Errors(t *testing.T) {
	_, err := loadSessionLog(filepath.Join(t.TempDir(), "missing.csv"), 10, timeWindow{})
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = loadSessionLog(writeSessionLog(t, 1), 0, timeWindow{})
	assert.Error(t, err)
}

func TestLoadArchivedSession(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "archive.sqlite")

	archive := storage.NewSqliteArchive(dbPath)
	rec, err := archive.BeginSession(ctx, "/dev/ttyUSB0", 115200, "")
	require.NoError(t, err)
	for i := 0; i < 8; i++ {
		require.NoError(t, archive.StoreSample(ctx, rec.ID, flightSample(i)))
	}
	require.NoError(t, archive.Close())

	snap, err := loadArchivedSession(ctx, dbPath, rec.ID, 5)
	require.NoError(t, err)
	require.Equal(t, 5, snap.Len())
	assert.True(t, snap.Times[4].Equal(flightSample(7).CapturedAt))
	assert.InDelta(t, 20.7, snap.Temperatures[4], 1e-9)

	_, err = loadArchivedSession(ctx, filepath.Join(t.TempDir(), "none.sqlite"), rec.ID, 5)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestPlotter_Plot(t *testing.T) {
	renderer, err := chart.NewRenderer(chart.RenderConfig{Width: 400, Height: 300})
	require.NoError(t, err)

	output := filepath.Join(t.TempDir(), "chart.png")
	p := &plotter{
		renderer: renderer,
		format:   chart.PNG,
		output:   output,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	input := writeSessionLog(t, 30)
	require.NoError(t, p.plot(func() (history.Snapshot, error) { return loadSessionLog(input, 50, timeWindow{}) }))

	f, err := os.Open(output)
	require.NoError(t, err)
	defer f.Close()

	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 400, img.Bounds().Dx())
	assert.Equal(t, 300, img.Bounds().Dy())

	entries, err := os.ReadDir(filepath.Dir(output))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary image must be renamed into place")
}

func TestPlotter_Follow(t *testing.T) {
	renderer, err := chart.NewRenderer(chart.RenderConfig{Width: 400, Height: 300})
	require.NoError(t, err)

	input := writeSessionLog(t, 5)
	output := filepath.Join(t.TempDir(), "chart.png")
	p := &plotter{
		renderer: renderer,
		format:   chart.PNG,
		output:   output,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	rendered := make(chan int, 8)
	load := func() (history.Snapshot, error) {
		snap, err := loadSessionLog(input, 50, timeWindow{})
		if err == nil {
			select {
			case rendered <- snap.Len():
			default:
			}
		}
		return snap, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.follow(ctx, input, load) }()

	log := storage.NewSessionLog(input)
	require.NoError(t, log.Open())
	defer log.Close()

	// The watcher may not be registered yet; keep appending until a
	// re-render reports the new rows.
	require.Eventually(t, func() bool {
		if err := log.Append(flightSample(99)); err != nil {
			return false
		}
		select {
		case n := <-rendered:
			return n > 5
		default:
			return false
		}
	}, 5*time.Second, 100*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.FileExists(t, output)
}

func TestLoadSessionLog_Window(t *testing.T) {
	path := writeSessionLog(t, 25)

	window := timeWindow{from: flightSample(5).CapturedAt, to: flightSample(9).CapturedAt}
	snap, err := loadSessionLog(path, 50, window)
	require.NoError(t, err)
	require.Equal(t, 5, snap.Len())
	assert.True(t, snap.Times[0].Equal(flightSample(5).CapturedAt))
	assert.True(t, snap.Times[4].Equal(flightSample(9).CapturedAt))

	snap, err = loadSessionLog(path, 50, timeWindow{from: flightSample(20).CapturedAt})
	require.NoError(t, err)
	assert.Equal(t, 5, snap.Len())
}

func TestLoadArchivedSession_Window(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "archive.sqlite")

	archive := storage.NewSqliteArchive(dbPath)
	rec, err := archive.BeginSession(ctx, "/dev/ttyUSB0", 115200, "")
	require.NoError(t, err)
	for i := 0; i < 8; i++ {
		require.NoError(t, archive.StoreSample(ctx, rec.ID, flightSample(i)))
	}
	require.NoError(t, archive.Close())

	tests := []struct {
		name   string
		window timeWindow
		first  int
		last   int
	}{
		{"range", timeWindow{from: flightSample(2).CapturedAt, to: flightSample(5).CapturedAt}, 2, 5},
		{"from", timeWindow{from: flightSample(6).CapturedAt}, 6, 7},
		{"to", timeWindow{to: flightSample(1).CapturedAt}, 0, 1},
		{"open", timeWindow{}, 0, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, err := loadArchivedSession(ctx, dbPath, rec.ID, 50, tt.window.readerOptions()...)
			require.NoError(t, err)
			require.Equal(t, tt.last-tt.first+1, snap.Len())
			assert.True(t, snap.Times[0].Equal(flightSample(tt.first).CapturedAt))
			assert.True(t, snap.Times[snap.Len()-1].Equal(flightSample(tt.last).CapturedAt))
		})
	}
}

func TestPlotOptions_Window(t *testing.T) {
	po := plotOptions{from: "2024-03-09 14:05:00", to: "2024-03-09T14:06:00+00:00"}
	w, err := po.window()
	require.NoError(t, err)
	assert.True(t, w.from.Equal(time.Date(2024, 3, 9, 14, 5, 0, 0, time.Local)))
	assert.True(t, w.to.Equal(time.Date(2024, 3, 9, 14, 6, 0, 0, time.UTC)))

	po = plotOptions{from: "2024-03-09 14:06:00", to: "2024-03-09 14:05:00"}
	_, err = po.window()
	assert.ErrorContains(t, err, "is after")

	po = plotOptions{to: "yesterday"}
	_, err = po.window()
	assert.ErrorContains(t, err, "invalid --to time")

	w, err = (&plotOptions{}).window()
	require.NoError(t, err)
	assert.Nil(t, w.readerOptions())
	assert.True(t, w.contains(flightStart))
}

func TestListSessions(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "archive.sqlite")

	archive := storage.NewSqliteArchive(dbPath)
	done, err := archive.BeginSession(ctx, "/dev/ttyUSB0", 115200, "flight.csv")
	require.NoError(t, err)
	require.NoError(t, archive.EndSession(ctx, done.ID, done.StartTime.Add(90*time.Second)))
	_, err = archive.BeginSession(ctx, "COM3", 9600, "")
	require.NoError(t, err)
	require.NoError(t, archive.Close())

	var out bytes.Buffer
	require.NoError(t, listSessions(ctx, dbPath, &out))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"ID", "STARTED", "DURATION", "PORT", "BAUD", "LOG"}, strings.Fields(lines[0]))
	assert.Contains(t, out.String(), "1m30s")
	assert.Contains(t, out.String(), "/dev/ttyUSB0")
	assert.Contains(t, out.String(), "flight.csv")
	assert.Contains(t, out.String(), "active")
	assert.Contains(t, out.String(), "COM3")

	err = listSessions(ctx, filepath.Join(t.TempDir(), "none.sqlite"), &out)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestPrintSessions_Empty(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printSessions(&out, nil))
	assert.Equal(t, "no archived sessions\n", out.String())
}
