package storage

import (
	"database/sql"
	"time"

	"github.com/roman-kulish/rocket-telemetry/internal/telemetry"
)

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

func toSampleData(sessionID int64, s telemetry.Sample) *sampleData {
	return &sampleData{
		SessionID:   sessionID,
		CapturedAt:  s.CapturedAt.UnixMicro(),
		Temperature: toNullFloat64(s.Temperature),
		Altitude:    toNullFloat64(s.Altitude),
		PosX:        toNullFloat64(s.PosX),
		PosY:        toNullFloat64(s.PosY),
		Roll:        toNullFloat64(s.Roll),
		Pitch:       toNullFloat64(s.Pitch),
		Yaw:         toNullFloat64(s.Yaw),
		Gas:         toNullFloat64(s.Gas),
	}
}

func fromSampleData(d *sampleData) telemetry.Sample {
	return telemetry.Sample{
		CapturedAt:  time.UnixMicro(d.CapturedAt),
		Temperature: fromNullFloat64(d.Temperature),
		Altitude:    fromNullFloat64(d.Altitude),
		PosX:        fromNullFloat64(d.PosX),
		PosY:        fromNullFloat64(d.PosY),
		Roll:        fromNullFloat64(d.Roll),
		Pitch:       fromNullFloat64(d.Pitch),
		Yaw:         fromNullFloat64(d.Yaw),
		Gas:         fromNullFloat64(d.Gas),
	}
}

func toSessionRecord(d *sessionData) *SessionRecord {
	rec := &SessionRecord{
		ID:        d.ID,
		UUID:      d.UUID,
		Port:      d.Port,
		BaudRate:  d.BaudRate,
		StartTime: d.StartTime,
	}
	if d.LogPath.Valid {
		rec.LogPath = &d.LogPath.String
	}
	if d.EndTime.Valid {
		rec.EndTime = &d.EndTime.Time
	}
	return rec
}

func toNullFloat64(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func fromNullFloat64(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func toNullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
