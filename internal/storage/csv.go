package storage

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/roman-kulish/rocket-telemetry/internal/telemetry"
)

// ISOTimeLayout renders the capture instant in the iso_time column.
const ISOTimeLayout = "2006-01-02 15:04:05.000000"

// Header is the fixed first row of every session log.
var Header = []string{"timestamp", "iso_time", "temp", "alt", "x", "y", "roll", "pitch", "yaw", "mq135"}

// Record converts a sample into a session log row. Absent readings render
// as empty fields.
func Record(s telemetry.Sample) []string {
	return []string{
		strconv.FormatFloat(float64(s.CapturedAt.UnixMicro())/1e6, 'f', 6, 64),
		s.CapturedAt.Local().Format(ISOTimeLayout),
		formatValue(s.Temperature),
		formatValue(s.Altitude),
		formatValue(s.PosX),
		formatValue(s.PosY),
		formatValue(s.Roll),
		formatValue(s.Pitch),
		formatValue(s.Yaw),
		formatValue(s.Gas),
	}
}

// ParseRecord is the inverse of Record. The iso_time column is ignored in
// favour of the numeric timestamp.
func ParseRecord(record []string) (telemetry.Sample, error) {
	if len(record) != len(Header) {
		return telemetry.Sample{}, fmt.Errorf("expected %d columns, got %d", len(Header), len(record))
	}

	secs, err := strconv.ParseFloat(record[0], 64)
	if err != nil {
		return telemetry.Sample{}, fmt.Errorf("invalid timestamp %q: %w", record[0], err)
	}

	values := make([]*float64, 0, len(record)-2)
	for i, field := range record[2:] {
		v, err := parseValue(field)
		if err != nil {
			return telemetry.Sample{}, fmt.Errorf("invalid %s value %q: %w", Header[i+2], field, err)
		}
		values = append(values, v)
	}

	return telemetry.Sample{
		CapturedAt:  time.UnixMicro(int64(math.Round(secs * 1e6))),
		Temperature: values[0],
		Altitude:    values[1],
		PosX:        values[2],
		PosY:        values[3],
		Roll:        values[4],
		Pitch:       values[5],
		Yaw:         values[6],
		Gas:         values[7],
	}, nil
}

// ReadLog reads the session log at path and calls fn for every data row in
// file order. The header is checked and skipped.
func ReadLog(path string, fn func(telemetry.Sample) error) (err error) {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening session log: %w", err)
	}
	defer closeWithError(f, &err)

	return readLog(f, fn)
}

func readLog(r io.Reader, fn func(telemetry.Sample) error) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Header)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading header: %w", err)
	}
	if header[0] != Header[0] {
		return fmt.Errorf("unexpected header: %v", header)
	}

	for line := 2; ; line++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading row %d: %w", line, err)
		}

		sample, err := ParseRecord(record)
		if err != nil {
			return fmt.Errorf("parsing row %d: %w", line, err)
		}

		if err = fn(sample); err != nil {
			return err
		}
	}
}

func formatValue(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func parseValue(field string) (*float64, error) {
	if field == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(field, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
