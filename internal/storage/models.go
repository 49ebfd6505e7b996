package storage

import (
	"database/sql"
	"time"
)

type sessionData struct {
	ID        int64
	UUID      string
	Port      string
	BaudRate  int
	LogPath   sql.NullString
	StartTime time.Time
	EndTime   sql.NullTime
}

type sampleData struct {
	SessionID   int64
	CapturedAt  int64
	Temperature sql.NullFloat64
	Altitude    sql.NullFloat64
	PosX        sql.NullFloat64
	PosY        sql.NullFloat64
	Roll        sql.NullFloat64
	Pitch       sql.NullFloat64
	Yaw         sql.NullFloat64
	Gas         sql.NullFloat64
}
