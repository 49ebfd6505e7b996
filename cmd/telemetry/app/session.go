package app

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/roman-kulish/rocket-telemetry/internal/link"
	"github.com/roman-kulish/rocket-telemetry/internal/session"
	"github.com/roman-kulish/rocket-telemetry/internal/storage"
)

// sessionFlags are the config overrides shared by the run and serve hosts.
type sessionFlags struct {
	port    string
	baud    int
	logPath string
	archive bool
	connect bool
}

func (f *sessionFlags) register(cmd *cobra.Command, connectByDefault bool) {
	cmd.Flags().StringVarP(&f.port, "port", "p", "", "Serial port, overrides serial.port")
	cmd.Flags().IntVarP(&f.baud, "baud", "b", 0, "Baud rate, overrides serial.baudRate")
	cmd.Flags().StringVar(&f.logPath, "log", "", "CSV session log path, overrides log.path")
	cmd.Flags().BoolVar(&f.archive, "archive", false, "Record the session in the SQLite archive")
	cmd.Flags().BoolVar(&f.connect, "connect", connectByDefault, "Connect to the serial port on start")
}

func (f *sessionFlags) apply(config *Config) error {
	if f.port != "" {
		config.Serial.Port = f.port
	}
	if f.baud != 0 {
		config.Serial.BaudRate = f.baud
	}
	if f.logPath != "" {
		config.Log.Path = f.logPath
	}
	if f.archive {
		config.Archive.Enabled = true
	}
	return config.Validate()
}

// sessionHost owns a session together with the optional archive backing it.
type sessionHost struct {
	session *session.Session
	archive *storage.SqliteArchive
	config  *Config
	logger  *slog.Logger
}

func newSessionHost(config *Config, opener link.Opener, logger *slog.Logger) (*sessionHost, error) {
	logPath := config.LogPath(time.Now())

	options := []func(*session.Session){
		session.WithLogger(logger),
		session.WithHistoryCapacity(config.History.Capacity),
		session.WithEventBuffer(config.Events.Buffer),
		session.WithLogPath(logPath),
		session.WithStopTimeout(config.Serial.StopTimeout.Duration()),
	}

	h := &sessionHost{config: config, logger: logger}
	if config.Archive.Enabled {
		h.archive = storage.NewSqliteArchive(config.Archive.Path)
		options = append(options, session.WithArchive(h.archive))
	}

	sess, err := session.New(opener, options...)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("creating session: %w", err), h.closeArchive())
	}
	h.session = sess

	logger.Info("session ready",
		slog.String("log", logPath),
		slog.Bool("archive", config.Archive.Enabled),
		slog.Int("historyCapacity", config.History.Capacity))

	return h, nil
}

func serialOpener(config *Config) link.Opener {
	return link.SerialOpener{ReadTimeout: config.Serial.ReadTimeout.Duration()}
}

// connect opens the configured port.
func (h *sessionHost) connect() error {
	return h.session.Connect(h.config.Serial.Port, h.config.Serial.BaudRate)
}

// Close ends the session and releases the archive.
func (h *sessionHost) Close() error {
	return errors.Join(h.session.Disconnect(), h.closeArchive())
}

func (h *sessionHost) closeArchive() error {
	if h.archive == nil {
		return nil
	}
	return h.archive.Close()
}
