package storage

import (
	"context"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roman-kulish/rocket-telemetry/internal/telemetry"
)

// Archive keeps a durable record of telemetry sessions alongside the CSV
// session log. Every write is a single statement, so each call is atomic.
type Archive interface {
	// BeginSession records a new connection and returns its record with a
	// freshly generated UUID.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - port: Serial port the session is attached to
	//   - baudRate: Baud rate of the link
	//   - logPath: Session log destination at attach time, empty if none
	BeginSession(ctx context.Context, port string, baudRate int, logPath string) (*SessionRecord, error)

	// EndSession stamps the end time of a session. Ending a session twice
	// overwrites the end time.
	EndSession(ctx context.Context, sessionID int64, endTime time.Time) error

	// StoreSample saves one decoded sample. The sample must carry a capture
	// time.
	StoreSample(ctx context.Context, sessionID int64, s telemetry.Sample) error

	// Session retrieves a session by its ID.
	Session(ctx context.Context, sessionID int64) (*SessionRecord, error)

	// Sessions returns all archived sessions ordered by start time.
	Sessions(ctx context.Context) ([]*SessionRecord, error)

	// ReadSamples returns a reader over the samples of a session in capture
	// order. The reader must be closed after use.
	ReadSamples(ctx context.Context, sessionID int64, opts ...ReaderOption) (SampleReader, error)

	// Close releases all database connections. It is safe to call Close
	// multiple times.
	Close() error
}

// SampleReader iterates over archived samples.
type SampleReader interface {
	// Session returns the session the reader is bound to.
	Session() *SessionRecord

	// Next advances to the next sample. It returns false at the end of the
	// data or on error; check Error to tell them apart.
	Next(context.Context) bool

	// Current returns the sample at the current position.
	Current() telemetry.Sample

	Error() error
	Close() error
}
