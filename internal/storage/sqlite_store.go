package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roman-kulish/rocket-telemetry/internal/telemetry"
)

// ErrSessionNotFound is returned when a session ID has no archived record.
var ErrSessionNotFound = errors.New("session not found")

// SqliteArchive implements Archive on top of a SQLite database file. Writes
// and reads use separate connection pools opened on first use.
type SqliteArchive struct {
	dbPath string

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

// NewSqliteArchive returns an archive backed by the database at dbPath. The
// file and schema are created on the first write.
func NewSqliteArchive(dbPath string) *SqliteArchive {
	return &SqliteArchive{dbPath: dbPath}
}

func runSQLCommand(db *sql.DB, sql string) error {
	_, err := db.Exec(sql)
	return err
}

func (s *SqliteArchive) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL"))
		if err != nil {
			s.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}
		db.SetMaxOpenConns(1)

		if err = runSQLCommand(db, initSchemaSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		s.writeDB = db
	})

	return s.writeDB, s.writeDBErr
}

func (s *SqliteArchive) getReadDB() (*sql.DB, error) {
	s.readDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "mode=ro"))
		if err != nil {
			s.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}
		s.readDB = db
	})

	return s.readDB, s.readDBErr
}

func (s *SqliteArchive) BeginSession(ctx context.Context, port string, baudRate int, logPath string) (rec *SessionRecord, err error) {
	db, err := s.getWriteDB()
	if err != nil {
		return nil, fmt.Errorf("getting write connection: %w", err)
	}

	stmt, err := db.PrepareContext(ctx, insertSessionSQL)
	if err != nil {
		return nil, fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	data := sessionData{
		UUID:      uuid.NewString(),
		Port:      port,
		BaudRate:  baudRate,
		LogPath:   toNullString(logPath),
		StartTime: time.Now().UTC(),
	}

	result, err := stmt.ExecContext(ctx, data.UUID, data.Port, data.BaudRate, data.LogPath, data.StartTime)
	if err != nil {
		return nil, fmt.Errorf("inserting session: %w", err)
	}

	if data.ID, err = result.LastInsertId(); err != nil {
		return nil, fmt.Errorf("getting session ID: %w", err)
	}

	return toSessionRecord(&data), nil
}

func (s *SqliteArchive) EndSession(ctx context.Context, sessionID int64, endTime time.Time) (err error) {
	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	stmt, err := db.PrepareContext(ctx, updateSessionEndSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	result, err := stmt.ExecContext(ctx, endTime.UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("session %d: %w", sessionID, ErrSessionNotFound)
	}
	return nil
}

func (s *SqliteArchive) StoreSample(ctx context.Context, sessionID int64, sample telemetry.Sample) (err error) {
	if sample.CapturedAt.IsZero() {
		return errors.New("sample has no capture time")
	}

	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	stmt, err := db.PrepareContext(ctx, insertSampleSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	data := toSampleData(sessionID, sample)

	if _, err = stmt.ExecContext(
		ctx,
		data.SessionID,
		data.CapturedAt,
		data.Temperature,
		data.Altitude,
		data.PosX,
		data.PosY,
		data.Roll,
		data.Pitch,
		data.Yaw,
		data.Gas,
	); err != nil {
		return fmt.Errorf("inserting sample: %w", err)
	}
	return nil
}

func (s *SqliteArchive) Session(ctx context.Context, sessionID int64) (*SessionRecord, error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}
	return loadSession(ctx, db, sessionID)
}

func (s *SqliteArchive) Sessions(ctx context.Context) (sessions []*SessionRecord, err error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}

	rows, err := db.QueryContext(ctx, selectSessionsSQL)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var data sessionData
		if err = scanSession(rows, &data); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, toSessionRecord(&data))
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return sessions, nil
}

// ReadSamples creates a reader over the samples of a session, optionally
// narrowed by WithStartTime, WithEndTime or WithTimeRange.
func (s *SqliteArchive) ReadSamples(ctx context.Context, sessionID int64, opts ...ReaderOption) (SampleReader, error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}
	return newSqliteSampleReader(ctx, db, sessionID, opts...)
}

func (s *SqliteArchive) Close() error {
	s.closeOnce.Do(func() {
		var writeErr, readErr error

		if s.writeDB != nil {
			_ = runSQLCommand(s.writeDB, initIndexesSQL)

			writeErr = s.writeDB.Close()
			s.writeDB = nil
		}

		if s.readDB != nil {
			readErr = s.readDB.Close()
			s.readDB = nil
		}

		s.closeErr = errors.Join(writeErr, readErr)
	})

	return s.closeErr
}

func loadSession(ctx context.Context, db *sql.DB, sessionID int64) (rec *SessionRecord, err error) {
	stmt, err := db.PrepareContext(ctx, selectSessionSQL)
	if err != nil {
		return nil, fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	var data sessionData
	if err = scanSession(stmt.QueryRowContext(ctx, sessionID), &data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session %d: %w", sessionID, ErrSessionNotFound)
		}
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	return toSessionRecord(&data), nil
}

func scanSession(row interface{ Scan(...any) error }, data *sessionData) error {
	return row.Scan(&data.ID, &data.UUID, &data.Port, &data.BaudRate, &data.LogPath, &data.StartTime, &data.EndTime)
}
