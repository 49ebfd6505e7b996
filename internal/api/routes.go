package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/roman-kulish/rocket-telemetry/internal/link"
)

const shutdownTimeout = 5 * time.Second

// Dependencies holds everything the HTTP host needs.
type Dependencies struct {
	Controller Controller
	Ports      PortLister // link.ListPorts if nil
	Version    string
}

// WithLogger sets the logger for the server.
func WithLogger(logger *slog.Logger) func(*Server) {
	return func(s *Server) {
		s.logger = logger.With(slog.String("component", "api"))
	}
}

// Server is the HTTP and websocket host of a telemetry session.
type Server struct {
	echo   *echo.Echo
	hub    *Hub
	logger *slog.Logger
}

// NewServer creates the echo instance and registers all routes.
func NewServer(deps Dependencies, options ...func(*Server)) *Server {
	s := &Server{
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
	}
	for _, option := range options {
		option(s)
	}

	if deps.Ports == nil {
		deps.Ports = link.ListPorts
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.JSONSerializer = sonicSerializer{}
	e.HTTPErrorHandler = NewErrorHandler(s.logger)

	s.echo = e
	s.hub = newHub(s.logger)

	registerRoutes(e, &handlers{
		controller: deps.Controller,
		ports:      deps.Ports,
		version:    deps.Version,
	}, s.hub)

	return s
}

// registerRoutes registers all API routes with the Echo instance
func registerRoutes(e *echo.Echo, h *handlers, hub *Hub) {
	e.GET("/health", h.HandleHealth)

	g := e.Group("/api")
	g.GET("/state", h.HandleState)
	g.POST("/connect", h.HandleConnect)
	g.POST("/disconnect", h.HandleDisconnect)
	g.POST("/export", h.HandleExport)
	g.GET("/history", h.HandleHistory)
	g.GET("/latest", h.HandleLatest)
	g.GET("/ports", h.HandlePorts)
	g.GET("/ws", hub.HandleWebSocket)
}

// Handler returns the HTTP handler serving all routes.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Hub returns the websocket hub events are broadcast through.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", slog.String("addr", addr))
		errCh <- s.echo.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serving http: %w", err)

	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	return nil
}
