package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roman-kulish/rocket-telemetry/internal/telemetry"
)

// SqliteSampleReader implements SampleReader for the SQLite archive.
type SqliteSampleReader struct {
	db *sql.DB

	sessionID int64
	session   *SessionRecord

	startTime *time.Time // Optional start of time range filter
	endTime   *time.Time // Optional end of time range filter

	current telemetry.Sample
	rows    *sql.Rows
	err     error
}

func newSqliteSampleReader(ctx context.Context, db *sql.DB, sessionID int64, opts ...ReaderOption) (*SqliteSampleReader, error) {
	sr := &SqliteSampleReader{
		db:        db,
		sessionID: sessionID,
	}
	for _, opt := range opts {
		opt(sr)
	}
	if err := sr.init(ctx); err != nil {
		return nil, fmt.Errorf("initializing reader: %w", err)
	}
	return sr, nil
}

func (sr *SqliteSampleReader) init(ctx context.Context) error {
	if sr.db == nil {
		return errors.New("database connection required")
	}
	if sr.sessionID <= 0 {
		return errors.New("session ID required")
	}

	steps := []struct {
		msg string
		fn  func(context.Context) error
	}{
		{msg: "loading session", fn: sr.loadSession},
		{msg: "initializing filters", fn: sr.initFilters},
		{msg: "initializing query", fn: sr.initQuery},
	}
	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			return fmt.Errorf("%s: %w", s.msg, err)
		}
	}
	return nil
}

func (sr *SqliteSampleReader) loadSession(ctx context.Context) (err error) {
	sr.session, err = loadSession(ctx, sr.db, sr.sessionID)
	return err
}

func (sr *SqliteSampleReader) initFilters(ctx context.Context) (err error) {
	if sr.startTime != nil && sr.endTime != nil {
		if sr.startTime.After(*sr.endTime) {
			return fmt.Errorf("start time %s is after end time %s", sr.startTime, sr.endTime)
		}
		return nil
	}

	stmt, err := sr.db.PrepareContext(ctx, selectSampleBoundsSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	var first, last int64
	if err = stmt.QueryRowContext(ctx, sr.sessionID).Scan(&first, &last); err != nil {
		return fmt.Errorf("scanning sample bounds: %w", err)
	}

	if sr.startTime == nil {
		t := time.UnixMicro(first)
		sr.startTime = &t
	}
	if sr.endTime == nil {
		t := time.UnixMicro(last)
		sr.endTime = &t
	}
	return nil
}

func (sr *SqliteSampleReader) initQuery(ctx context.Context) (err error) {
	stmt, err := sr.db.PrepareContext(ctx, selectSamplesSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	sr.rows, err = stmt.QueryContext(ctx, sr.sessionID, sr.startTime.UnixMicro(), sr.endTime.UnixMicro())
	return err
}

func (sr *SqliteSampleReader) Session() *SessionRecord {
	return sr.session
}

func (sr *SqliteSampleReader) Next(ctx context.Context) bool {
	if sr.err != nil || sr.rows == nil {
		return false
	}

	select {
	case <-ctx.Done():
		sr.err = ctx.Err()
		return false
	default:
	}

	if !sr.rows.Next() {
		return false
	}

	var data sampleData
	sr.err = sr.rows.Scan(
		&data.CapturedAt,
		&data.Temperature,
		&data.Altitude,
		&data.PosX,
		&data.PosY,
		&data.Roll,
		&data.Pitch,
		&data.Yaw,
		&data.Gas,
	)
	if sr.err != nil {
		sr.err = fmt.Errorf("scanning sample: %w", sr.err)
		return false
	}

	data.SessionID = sr.sessionID
	sr.current = fromSampleData(&data)
	return true
}

func (sr *SqliteSampleReader) Current() telemetry.Sample {
	return sr.current
}

func (sr *SqliteSampleReader) Error() error {
	if sr.err != nil {
		return sr.err
	}
	if sr.rows != nil {
		return sr.rows.Err()
	}
	return nil
}

func (sr *SqliteSampleReader) Close() error {
	if sr.rows != nil {
		err := sr.rows.Close()
		sr.rows = nil
		return err
	}
	return nil
}
