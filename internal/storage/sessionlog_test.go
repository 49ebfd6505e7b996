package storage

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/rocket-telemetry/internal/telemetry"
)

const headerLine = "timestamp,iso_time,temp,alt,x,y,roll,pitch,yaw,mq135"

func sampleAt(sec int64, temp float64) telemetry.Sample {
	return telemetry.Sample{
		CapturedAt:  time.Unix(sec, 0),
		Temperature: telemetry.Float(temp),
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}

func TestSessionLog_AppendWritesHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.csv")

	l := NewSessionLog(path)
	require.NoError(t, l.Open())
	require.NoError(t, l.Append(sampleAt(1, 20)))
	require.NoError(t, l.Close())

	require.NoError(t, l.Open())
	require.NoError(t, l.Append(sampleAt(2, 21)))
	require.NoError(t, l.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 3)
	assert.Equal(t, headerLine, lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "1.000000,"))
	assert.True(t, strings.HasPrefix(lines[2], "2.000000,"))
}

func TestSessionLog_RowsVisibleBeforeClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.csv")

	l := NewSessionLog(path)
	require.NoError(t, l.Open())
	defer l.Close()

	require.NoError(t, l.Append(sampleAt(1, 20)))
	assert.Len(t, readLines(t, path), 2)
}

func TestSessionLog_AppendClosed(t *testing.T) {
	l := NewSessionLog(filepath.Join(t.TempDir(), "log.csv"))
	assert.ErrorIs(t, l.Append(sampleAt(1, 20)), ErrLogClosed)
	assert.False(t, l.IsOpen())
	assert.NoError(t, l.Close())
}

func TestSessionLog_OpenFailure(t *testing.T) {
	l := NewSessionLog(filepath.Join(t.TempDir(), "missing", "log.csv"))
	assert.Error(t, l.Open())
	assert.False(t, l.IsOpen())
}

func TestSessionLog_RetargetWhileOpen(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.csv")
	second := filepath.Join(dir, "second.csv")

	l := NewSessionLog(first)
	require.NoError(t, l.Open())
	require.NoError(t, l.Append(sampleAt(1, 20)))
	require.NoError(t, l.Append(sampleAt(2, 21)))

	require.NoError(t, l.Retarget(second))
	assert.Equal(t, second, l.Path())
	assert.True(t, l.IsOpen())

	require.NoError(t, l.Append(sampleAt(3, 22)))
	require.NoError(t, l.Close())

	lines := readLines(t, second)
	require.Len(t, lines, 4)
	assert.Equal(t, headerLine, lines[0])
	for i, prefix := range []string{"1.000000,", "2.000000,", "3.000000,"} {
		assert.True(t, strings.HasPrefix(lines[i+1], prefix), lines[i+1])
	}

	assert.Len(t, readLines(t, first), 3)

	info, err := os.Stat(second)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o644), info.Mode().Perm())
}

func TestSessionLog_RetargetWhileClosed(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.csv")
	second := filepath.Join(dir, "second.csv")

	l := NewSessionLog(first)
	require.NoError(t, l.Retarget(second))
	assert.Equal(t, second, l.Path())
	assert.False(t, l.IsOpen())

	assert.Equal(t, []string{headerLine}, readLines(t, second))

	require.NoError(t, l.Open())
	require.NoError(t, l.Append(sampleAt(5, 1)))
	require.NoError(t, l.Close())
	assert.Len(t, readLines(t, second), 2)
}

func TestSessionLog_RetargetSamePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.csv")

	l := NewSessionLog(path)
	require.NoError(t, l.Open())
	require.NoError(t, l.Append(sampleAt(1, 20)))
	require.NoError(t, l.Retarget(path))
	require.NoError(t, l.Append(sampleAt(2, 20)))
	require.NoError(t, l.Close())

	assert.Len(t, readLines(t, path), 3)
}

func TestSessionLog_RetargetFailureKeepsDestination(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "log.csv")

	l := NewSessionLog(path)
	require.NoError(t, l.Open())
	require.NoError(t, l.Append(sampleAt(1, 20)))

	assert.Error(t, l.Retarget(filepath.Join(dir, "missing", "log.csv")))
	assert.Equal(t, path, l.Path())

	require.NoError(t, l.Append(sampleAt(2, 20)))
	require.NoError(t, l.Close())
	assert.Len(t, readLines(t, path), 3)
}

func TestSessionLog_RetargetFailureLeavesNoCopy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "log.csv")
	target := filepath.Join(dir, "export")
	require.NoError(t, os.Mkdir(target, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(target, "keep.txt"), nil, 0o600))

	l := NewSessionLog(path)
	require.NoError(t, l.Open())
	require.NoError(t, l.Append(sampleAt(1, 20)))

	// A non-empty directory cannot be replaced by the copy.
	require.Error(t, l.Retarget(target))
	assert.Equal(t, path, l.Path())
	assert.True(t, l.IsOpen())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{"log.csv", "export"}, names)

	require.NoError(t, l.Append(sampleAt(2, 20)))
	require.NoError(t, l.Close())
	assert.Len(t, readLines(t, path), 3)
}

func TestSessionLog_ConcurrentAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.csv")

	l := NewSessionLog(path)
	require.NoError(t, l.Open())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				assert.NoError(t, l.Append(sampleAt(int64(i*100+j), float64(j))))
			}
		}(i)
	}
	wg.Wait()
	require.NoError(t, l.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 1+8*25)
	for _, line := range lines[1:] {
		assert.Len(t, strings.Split(line, ","), len(Header))
	}
}
