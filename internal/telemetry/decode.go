package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
)

// NumFields is the number of positional values in a comma-separated line:
// temp, alt, x, y, roll, pitch, yaw, mq135.
const NumFields = 8

var (
	// ErrBlankLine is returned for empty or whitespace-only lines. These are
	// not parse failures and should not be reported as such.
	ErrBlankLine = errors.New("blank line")

	// ErrNotEnoughFields is returned when a comma-separated line carries
	// fewer than NumFields values.
	ErrNotEnoughFields = errors.New("not enough fields")
)

// documentAPI keeps JSON numbers as literals so values beyond float64 range
// can be read as ±Inf instead of failing the whole document.
var documentAPI = sonic.Config{UseNumber: true}.Froze()

var fieldNames = [NumFields]string{"temp", "alt", "x", "y", "roll", "pitch", "yaw", "mq135"}

// Decode turns one line received from the device into a Sample. Two formats
// are accepted and detected per line:
//
//	{"temp":25.3,"gps":{"alt":120.5,"x":4.1,"y":-74.2},"imu":{"roll":1,"pitch":2,"yaw":3},"mq135":410}
//	25.3,120.5,4.1,-74.2,1,2,3,410
//
// The returned Sample has a zero CapturedAt; stamping is left to the caller.
// Decode never panics and reports false for lines it cannot use.
func Decode(line string) (Sample, bool) {
	s, err := Parse(line)
	return s, err == nil
}

// Parse is Decode with the reason a line was rejected. The error is meant for
// diagnostics only.
func Parse(line string) (Sample, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Sample{}, ErrBlankLine
	}

	if s, ok := decodeDocument(line); ok {
		return s, nil
	}

	return decodeFields(line)
}

// decodeDocument accepts any JSON object. Keys it does not know are ignored
// and keys it knows but cannot read as numbers are left nil, so an empty
// object yields an all-nil sample.
func decodeDocument(line string) (Sample, bool) {
	var doc map[string]any
	if err := documentAPI.UnmarshalFromString(line, &doc); err != nil || doc == nil {
		return Sample{}, false
	}

	gps := object(doc, "gps")
	imu := object(doc, "imu")

	return Sample{
		Temperature: number(doc, "temp"),
		Altitude:    number(gps, "alt"),
		PosX:        number(gps, "x"),
		PosY:        number(gps, "y"),
		Roll:        number(imu, "roll"),
		Pitch:       number(imu, "pitch"),
		Yaw:         number(imu, "yaw"),
		Gas:         number(doc, "mq135"),
	}, true
}

func decodeFields(line string) (Sample, error) {
	tokens := make([]string, 0, NumFields)
	for _, token := range strings.Split(line, ",") {
		if token = strings.TrimSpace(token); token != "" {
			tokens = append(tokens, token)
		}
	}

	if len(tokens) < NumFields {
		return Sample{}, fmt.Errorf("%w: got %d, want at least %d", ErrNotEnoughFields, len(tokens), NumFields)
	}

	var values [NumFields]float64
	for i := range values {
		v, err := strconv.ParseFloat(tokens[i], 64)
		if err != nil {
			return Sample{}, fmt.Errorf("invalid %s value %q: %w", fieldNames[i], tokens[i], err)
		}
		values[i] = v
	}

	return Sample{
		Temperature: Float(values[0]),
		Altitude:    Float(values[1]),
		PosX:        Float(values[2]),
		PosY:        Float(values[3]),
		Roll:        Float(values[4]),
		Pitch:       Float(values[5]),
		Yaw:         Float(values[6]),
		Gas:         Float(values[7]),
	}, nil
}

func object(doc map[string]any, key string) map[string]any {
	obj, _ := doc[key].(map[string]any)
	return obj
}

// number reads doc[key] as a float. Literals outside float64 range become
// ±Inf, or 0 when too small.
func number(doc map[string]any, key string) *float64 {
	switch v := doc[key].(type) {
	case float64:
		return &v
	case json.Number:
		f, err := strconv.ParseFloat(v.String(), 64)
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			return nil
		}
		return &f
	default:
		return nil
	}
}
