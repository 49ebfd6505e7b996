package storage

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/roman-kulish/rocket-telemetry/internal/telemetry"
)

// ErrLogClosed is returned by Append when no destination file is open.
var ErrLogClosed = errors.New("session log is not open")

const logFileMode = 0o644

// SessionLog appends decoded samples as CSV rows to a destination file.
// The header is written exactly once per file, and every row is flushed and
// synced before Append returns. The destination can be moved while the log
// is open without losing rows.
type SessionLog struct {
	logger *slog.Logger

	mu     sync.Mutex
	path   string
	file   *os.File
	writer *csv.Writer
}

// WithLogger sets the logger used to report retargets and sync failures.
func WithLogger(logger *slog.Logger) func(*SessionLog) {
	return func(l *SessionLog) {
		l.logger = logger.With(slog.String("component", "session_log"))
	}
}

// NewSessionLog returns a closed log whose destination is path. Nothing is
// touched on disk until Open is called.
func NewSessionLog(path string, options ...func(*SessionLog)) *SessionLog {
	l := &SessionLog{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		path:   path,
	}
	for _, option := range options {
		option(l)
	}
	return l
}

// Path returns the current destination.
func (l *SessionLog) Path() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.path
}

// IsOpen reports whether the log holds an open destination file.
func (l *SessionLog) IsOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.file != nil
}

// Open opens the current destination in append mode, writing the header if
// the file is new or empty. Opening an already open log is a no-op.
func (l *SessionLog) Open() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return nil
	}

	f, err := openLogFile(l.path)
	if err != nil {
		return err
	}

	l.file = f
	l.writer = csv.NewWriter(f)
	return nil
}

// Append writes one sample as a CSV row.
func (l *SessionLog) Append(s telemetry.Sample) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return ErrLogClosed
	}

	if err := writeRecord(l.file, l.writer, Record(s)); err != nil {
		l.writer = csv.NewWriter(l.file)
		return fmt.Errorf("appending to %s: %w", l.path, err)
	}
	return nil
}

// Retarget moves the log to newPath. The rows written so far are copied to
// the new destination and subsequent appends go there. If the copy fails, the
// previous destination remains in effect, nothing is left at newPath and the
// error is returned. Retargeting to the current path is a no-op.
func (l *SessionLog) Retarget(newPath string) error {
	if newPath == "" {
		return errors.New("destination path is empty")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if sameFile(l.path, newPath) {
		return nil
	}

	if l.file != nil {
		if err := l.writer.Error(); err != nil {
			return fmt.Errorf("flushing %s: %w", l.path, err)
		}
	}

	f, err := copyLog(l.path, newPath, l.file != nil)
	if err != nil {
		return fmt.Errorf("copying log to %s: %w", newPath, err)
	}

	if l.file == nil {
		l.path = newPath
		return nil
	}

	old, oldPath := l.file, l.path
	l.file, l.writer, l.path = f, csv.NewWriter(f), newPath

	if err = old.Close(); err != nil {
		l.logger.Warn("closing previous log destination",
			slog.String("path", oldPath),
			slog.String("error", err.Error()))
	}

	l.logger.Info("log destination moved",
		slog.String("from", oldPath),
		slog.String("to", newPath))
	return nil
}

// Close closes the destination file. The destination path is kept so the log
// can be reopened. It is safe to call Close multiple times.
func (l *SessionLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}

	l.writer.Flush()
	err := errors.Join(l.writer.Error(), l.file.Sync(), l.file.Close())

	l.file, l.writer = nil, nil
	if err != nil {
		return fmt.Errorf("closing %s: %w", l.path, err)
	}
	return nil
}

func openLogFile(path string) (*os.File, error) {
	if path == "" {
		return nil, errors.New("destination path is empty")
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, logFileMode)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("inspecting %s: %w", path, err)
	}

	if info.Size() == 0 {
		if err = writeRecord(f, csv.NewWriter(f), Header); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("writing header to %s: %w", path, err)
		}
	}
	return f, nil
}

func writeRecord(f *os.File, w *csv.Writer, record []string) error {
	if err := w.Write(record); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Sync()
}

// copyLog writes the contents of src to dst through a temporary file in the
// destination directory. A missing or empty src yields a header-only dst.
// With keep set the copy is returned open and positioned for appending, so
// nothing can fail between the rename and the switch to dst.
func copyLog(src, dst string, keep bool) (f *os.File, err error) {
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".telemetry-*.csv")
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	n, err := copyFrom(tmp, src)
	if err != nil {
		return nil, err
	}

	if n == 0 {
		if err = writeRecord(tmp, csv.NewWriter(tmp), Header); err != nil {
			return nil, err
		}
	} else if err = tmp.Sync(); err != nil {
		return nil, err
	}

	if err = tmp.Chmod(logFileMode); err != nil {
		return nil, err
	}
	if err = os.Rename(tmp.Name(), dst); err != nil {
		return nil, err
	}

	if keep {
		return tmp, nil
	}
	if err = tmp.Close(); err != nil {
		return nil, fmt.Errorf("closing %s: %w", dst, err)
	}
	return nil, nil
}

func copyFrom(w io.Writer, src string) (n int64, err error) {
	if src == "" {
		return 0, nil
	}

	f, err := os.Open(src)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer closeWithError(f, &err)

	return io.Copy(w, f)
}

func sameFile(a, b string) bool {
	if a == b {
		return true
	}
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	return errA == nil && errB == nil && absA == absB
}
