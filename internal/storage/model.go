package storage

import (
	"time"
)

// SessionRecord describes one archived connection, from attach to teardown.
type SessionRecord struct {
	ID        int64      `json:"id"`
	UUID      string     `json:"uuid"`
	Port      string     `json:"port"`
	BaudRate  int        `json:"baudRate"`
	LogPath   *string    `json:"logPath,omitempty"`
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`
}
