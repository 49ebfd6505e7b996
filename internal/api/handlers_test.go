package api

import (
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roman-kulish/rocket-telemetry/internal/history"
	"github.com/roman-kulish/rocket-telemetry/internal/link"
	"github.com/roman-kulish/rocket-telemetry/internal/session"
	"github.com/roman-kulish/rocket-telemetry/internal/telemetry"
)

type fakeController struct {
	mu sync.Mutex

	connectErr  error
	retargetErr error
	status      session.Status
	snapshot    history.Snapshot
	latest      *telemetry.Sample

	connected  []string
	retargeted []string
}

func (f *fakeController) Connect(port string, baud int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.connectErr != nil {
		return f.connectErr
	}
	f.connected = append(f.connected, port)
	f.status.State = session.Connecting
	f.status.Port, f.status.BaudRate = port, baud
	return nil
}

func (f *fakeController) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.status.State = session.Idle
	return nil
}

func (f *fakeController) Retarget(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.retargetErr != nil {
		return f.retargetErr
	}
	f.retargeted = append(f.retargeted, path)
	f.status.LogPath = path
	return nil
}

func (f *fakeController) Status() session.Status {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.status
}

func (f *fakeController) History() history.Snapshot {
	return f.snapshot
}

func (f *fakeController) Latest() (telemetry.Sample, bool) {
	if f.latest == nil {
		return telemetry.Sample{}, false
	}
	return *f.latest, true
}

func newTestServer(c Controller) *Server {
	return NewServer(Dependencies{
		Controller: c,
		Ports: func() ([]link.PortInfo, error) {
			return []link.PortInfo{{Name: "/dev/ttyUSB0", Description: "CP2102 USB to UART", IsUSB: true}}, nil
		},
		Version: "test",
	})
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHandleHealth(t *testing.T) {
	rec := do(t, newTestServer(&fakeController{}), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"version":"test"`)
}

func TestHandleConnect(t *testing.T) {
	testCases := []struct {
		name     string
		body     string
		err      error
		wantCode int
		wantErr  string
	}{
		{"accepted", `{"port":"/dev/ttyUSB0","baudRate":9600}`, nil, http.StatusAccepted, ""},
		{"default baud", `{"port":"COM3"}`, nil, http.StatusAccepted, ""},
		{"missing port", `{"baudRate":9600}`, nil, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"invalid baud", `{"port":"COM3","baudRate":1234}`, nil, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"malformed body", `{"port":`, nil, http.StatusBadRequest, "HTTP_ERROR"},
		{"already active", `{"port":"COM3"}`, session.ErrSessionActive, http.StatusConflict, "CONFLICT"},
		{"other failure", `{"port":"COM3"}`, errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := &fakeController{connectErr: tc.err}
			rec := do(t, newTestServer(ctrl), http.MethodPost, "/api/connect", tc.body)

			require.Equal(t, tc.wantCode, rec.Code, rec.Body.String())
			if tc.wantErr != "" {
				apiErr := decode[APIError](t, rec)
				assert.Equal(t, tc.wantErr, apiErr.Code)
				return
			}

			state := decode[map[string]any](t, rec)
			assert.Equal(t, "connecting", state["state"])
		})
	}

	ctrl := &fakeController{}
	do(t, newTestServer(ctrl), http.MethodPost, "/api/connect", `{"port":"COM3"}`)
	assert.Equal(t, link.DefaultBaudRate, ctrl.Status().BaudRate)
}

func TestHandleDisconnect(t *testing.T) {
	ctrl := &fakeController{status: session.Status{State: session.Connected}}
	rec := do(t, newTestServer(ctrl), http.MethodPost, "/api/disconnect", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "idle", decode[map[string]any](t, rec)["state"])
}

func TestHandleExport(t *testing.T) {
	ctrl := &fakeController{}
	s := newTestServer(ctrl)

	rec := do(t, s, http.MethodPost, "/api/export", `{"path":"/data/flight/export.csv"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	state := decode[StateResponse](t, rec)
	assert.Equal(t, "/data/flight/export.csv", state.LogPath)
	assert.Equal(t, "/data/flight", state.LogDir)
	assert.Equal(t, []string{"/data/flight/export.csv"}, ctrl.retargeted)

	rec = do(t, s, http.MethodPost, "/api/export", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ctrl.retargetErr = errors.New("permission denied")
	rec = do(t, s, http.MethodPost, "/api/export", `{"path":"/root/x.csv"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decode[APIError](t, rec).Details, "permission denied")
}

func TestHandleHistory(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ctrl := &fakeController{snapshot: history.Snapshot{
		Times:        []time.Time{start, start.Add(time.Second)},
		Temperatures: []float64{20.5, math.NaN()},
		Gases:        []float64{math.NaN(), 301},
	}}

	rec := do(t, newTestServer(ctrl), http.MethodGet, "/api/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"temperatures":[20.5,null]`)
	assert.Contains(t, rec.Body.String(), `"gases":[null,301]`)
}

func TestHandleLatest(t *testing.T) {
	ctrl := &fakeController{}
	s := newTestServer(ctrl)

	rec := do(t, s, http.MethodGet, "/api/latest", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	ctrl.latest = &telemetry.Sample{
		CapturedAt:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Temperature: telemetry.Float(22),
		Gas:         telemetry.Float(410),
	}
	rec = do(t, s, http.MethodGet, "/api/latest", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"temperature":22`)
	assert.Contains(t, rec.Body.String(), `"mq135":410`)
	assert.NotContains(t, rec.Body.String(), `"altitude"`)
}

func TestHandleLatest_NonFiniteReadings(t *testing.T) {
	sample, ok := telemetry.Decode("nan,120.5,4.6,-74.0,inf,2,3,410")
	require.True(t, ok)
	sample.CapturedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	s := newTestServer(&fakeController{latest: &sample})
	rec := do(t, s, http.MethodGet, "/api/latest", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[map[string]any](t, rec)
	assert.NotContains(t, body, "temperature")
	assert.NotContains(t, body, "roll")
	assert.Equal(t, 120.5, body["altitude"])
	assert.Equal(t, 410.0, body["mq135"])
}

func TestHandlePorts(t *testing.T) {
	rec := do(t, newTestServer(&fakeController{}), http.MethodGet, "/api/ports", "")
	require.Equal(t, http.StatusOK, rec.Code)

	ports := decode[[]link.PortInfo](t, rec)
	require.Len(t, ports, 1)
	assert.Equal(t, "/dev/ttyUSB0", ports[0].Name)

	s := NewServer(Dependencies{
		Controller: &fakeController{},
		Ports:      func() ([]link.PortInfo, error) { return nil, errors.New("no enumerator") },
	})
	rec = do(t, s, http.MethodGet, "/api/ports", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestErrorHandler_NotFound(t *testing.T) {
	rec := do(t, newTestServer(&fakeController{}), http.MethodGet, "/api/nope", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "HTTP_ERROR", decode[APIError](t, rec).Code)
}
