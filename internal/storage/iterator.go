package storage

import (
	"time"
)

// ReaderOption narrows the samples returned by a SampleReader.
type ReaderOption func(*SqliteSampleReader)

// WithStartTime excludes samples captured before t.
func WithStartTime(t time.Time) ReaderOption {
	return func(r *SqliteSampleReader) {
		r.startTime = &t
	}
}

// WithEndTime excludes samples captured after t.
func WithEndTime(t time.Time) ReaderOption {
	return func(r *SqliteSampleReader) {
		r.endTime = &t
	}
}

// WithTimeRange is equivalent to applying both WithStartTime and WithEndTime.
func WithTimeRange(startTime, endTime time.Time) ReaderOption {
	return func(r *SqliteSampleReader) {
		r.startTime = &startTime
		r.endTime = &endTime
	}
}
