package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/rocket-telemetry/internal/telemetry"
)

func TestRecord(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 30, 15, 123456000, time.Local)

	rec := Record(telemetry.Sample{
		CapturedAt:  at,
		Temperature: telemetry.Float(25.3),
		PosY:        telemetry.Float(-74.08),
		Gas:         telemetry.Float(412),
	})

	require.Len(t, rec, len(Header))
	assert.Equal(t, "2024-05-01 12:30:15.123456", rec[1])
	assert.Equal(t, []string{"25.3", "", "", "-74.08", "", "", "", "412"}, rec[2:])
	assert.True(t, strings.HasSuffix(rec[0], ".123456"), rec[0])
}

func TestParseRecord_RoundTrip(t *testing.T) {
	in := telemetry.Sample{
		CapturedAt:  time.UnixMicro(1714566615123456),
		Temperature: telemetry.Float(25.3),
		Altitude:    telemetry.Float(0),
		Yaw:         telemetry.Float(180),
	}

	out, err := ParseRecord(Record(in))
	require.NoError(t, err)
	assert.True(t, in.CapturedAt.Equal(out.CapturedAt))
	out.CapturedAt = in.CapturedAt
	assert.Equal(t, in, out)
}

func TestParseRecord_Errors(t *testing.T) {
	_, err := ParseRecord([]string{"1"})
	assert.Error(t, err)

	_, err = ParseRecord([]string{"x", "", "", "", "", "", "", "", "", ""})
	assert.ErrorContains(t, err, "timestamp")

	_, err = ParseRecord([]string{"1.0", "", "", "", "", "", "", "", "", "hot"})
	assert.ErrorContains(t, err, "mq135")
}

func TestReadLog(t *testing.T) {
	input := strings.Join([]string{
		strings.Join(Header, ","),
		"1714566615.000000,2024-05-01 12:30:15.000000,20,,,,,,,300",
		"1714566616.500000,2024-05-01 12:30:16.500000,21,,,,,,,",
	}, "\n") + "\n"

	var got []telemetry.Sample
	err := readLog(strings.NewReader(input), func(s telemetry.Sample) error {
		got = append(got, s)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 20.0, *got[0].Temperature)
	assert.Equal(t, 300.0, *got[0].Gas)
	assert.Nil(t, got[1].Gas)
	assert.Equal(t, int64(1714566616500000), got[1].CapturedAt.UnixMicro())
}

func TestReadLog_Empty(t *testing.T) {
	called := false
	err := readLog(strings.NewReader(""), func(telemetry.Sample) error {
		called = true
		return nil
	})
	assert.NoError(t, err)
	assert.False(t, called)
}

func TestReadLog_BadHeader(t *testing.T) {
	err := readLog(strings.NewReader("a,b,c,d,e,f,g,h,i,j\n"), func(telemetry.Sample) error { return nil })
	assert.ErrorContains(t, err, "unexpected header")
}
