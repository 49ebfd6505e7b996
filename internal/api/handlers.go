package api

import (
	"errors"
	"math"
	"net/http"
	"path/filepath"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/roman-kulish/rocket-telemetry/internal/history"
	"github.com/roman-kulish/rocket-telemetry/internal/link"
	"github.com/roman-kulish/rocket-telemetry/internal/session"
	"github.com/roman-kulish/rocket-telemetry/internal/telemetry"
)

// Controller is the part of a telemetry session the HTTP host drives.
type Controller interface {
	telemetry.Provider

	Connect(port string, baud int) error
	Disconnect() error
	Retarget(path string) error
	Status() session.Status
	History() history.Snapshot
}

// PortLister enumerates serial ports.
type PortLister func() ([]link.PortInfo, error)

// ConnectRequest is the body of POST /api/connect.
type ConnectRequest struct {
	Port     string `json:"port"`
	BaudRate int    `json:"baudRate,omitempty"`
}

// ExportRequest is the body of POST /api/export.
type ExportRequest struct {
	Path string `json:"path"`
}

// StateResponse describes the session and where its log is written.
type StateResponse struct {
	session.Status
	LogDir string `json:"logDir,omitempty"`
}

// HistoryResponse holds the rolling series. Missing readings are null.
type HistoryResponse struct {
	Times        []time.Time `json:"times"`
	Temperatures []*float64  `json:"temperatures"`
	Gases        []*float64  `json:"gases"`
}

type handlers struct {
	controller Controller
	ports      PortLister
	version    string
}

func (h *handlers) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "ok",
		"version": h.version,
	})
}

func (h *handlers) HandleState(c echo.Context) error {
	return c.JSON(http.StatusOK, newStateResponse(h.controller.Status()))
}

func (h *handlers) HandleConnect(c echo.Context) error {
	var req ConnectRequest
	if err := c.Bind(&req); err != nil {
		return err
	}

	if req.Port == "" {
		return NewValidationError("port", errors.New("port is required"))
	}
	if req.BaudRate == 0 {
		req.BaudRate = link.DefaultBaudRate
	}
	if err := link.ValidateBaud(req.BaudRate); err != nil {
		return NewValidationError("baudRate", err)
	}

	if err := h.controller.Connect(req.Port, req.BaudRate); err != nil {
		if errors.Is(err, session.ErrSessionActive) {
			return NewConflictError("a session is already active, disconnect first")
		}
		return NewInternalError("connecting", err)
	}

	return c.JSON(http.StatusAccepted, newStateResponse(h.controller.Status()))
}

func (h *handlers) HandleDisconnect(c echo.Context) error {
	if err := h.controller.Disconnect(); err != nil {
		return NewInternalError("disconnecting", err)
	}
	return c.JSON(http.StatusOK, newStateResponse(h.controller.Status()))
}

func (h *handlers) HandleExport(c echo.Context) error {
	var req ExportRequest
	if err := c.Bind(&req); err != nil {
		return err
	}

	if req.Path == "" {
		return NewValidationError("path", errors.New("path is required"))
	}

	if err := h.controller.Retarget(req.Path); err != nil {
		return NewInternalError("exporting session log", err)
	}
	return c.JSON(http.StatusOK, newStateResponse(h.controller.Status()))
}

func (h *handlers) HandleHistory(c echo.Context) error {
	return c.JSON(http.StatusOK, newHistoryResponse(h.controller.History()))
}

func (h *handlers) HandleLatest(c echo.Context) error {
	sample, ok := h.controller.Latest()
	if !ok {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusOK, sample)
}

func (h *handlers) HandlePorts(c echo.Context) error {
	ports, err := h.ports()
	if err != nil {
		return NewInternalError("listing serial ports", err)
	}
	if ports == nil {
		ports = []link.PortInfo{}
	}
	return c.JSON(http.StatusOK, ports)
}

func newStateResponse(status session.Status) StateResponse {
	resp := StateResponse{Status: status}
	if status.LogPath != "" {
		if abs, err := filepath.Abs(status.LogPath); err == nil {
			resp.LogDir = filepath.Dir(abs)
		}
	}
	return resp
}

func newHistoryResponse(snap history.Snapshot) HistoryResponse {
	return HistoryResponse{
		Times:        snap.Times,
		Temperatures: nullable(snap.Temperatures),
		Gases:        nullable(snap.Gases),
	}
}

func nullable(values []float64) []*float64 {
	out := make([]*float64, len(values))
	for i, v := range values {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out[i] = telemetry.Float(v)
		}
	}
	return out
}
