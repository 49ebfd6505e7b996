package app

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
)

// Version is reported by the HTTP host health check.
var Version = "dev"

type rootOptions struct {
	configPath string
	logLevel   string
	config     *Config
	logger     *slog.Logger
}

// NewRootCommand builds the telemetry command tree. The configuration is
// loaded once before any subcommand runs and the log level is applied to
// level. Logs are written to the command's error stream so they never mix
// with terminal output.
func NewRootCommand(level *slog.LevelVar) *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "telemetry",
		Short: "Rocket flight computer telemetry ingestion",
		Long: `telemetry reads the serial telemetry stream of the rocket flight computer,
logs every reading to a CSV session log and exposes the live session.

Examples:
  telemetry ports                               # List serial ports
  telemetry run --port /dev/ttyUSB0             # Terminal session
  telemetry serve -c telemetry.yaml             # HTTP and websocket host
  telemetry plot esp32_data_20240309_140507.csv # Render a session log`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd.ErrOrStderr(), level)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"Path to the configuration file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "",
		"Log level (DEBUG, INFO, WARN, ERROR), overrides settings.logLevel")

	cmd.AddCommand(
		newRunCommand(opts),
		newServeCommand(opts),
		newPortsCommand(),
		newPlotCommand(opts),
	)

	return cmd
}

func (o *rootOptions) load(logOut io.Writer, level *slog.LevelVar) error {
	config := Default()
	if o.configPath != "" {
		var err error
		if config, err = LoadConfig(o.configPath); err != nil {
			return fmt.Errorf("failed to load configuration file '%s': %w", o.configPath, err)
		}
	}

	if o.logLevel != "" {
		config.Settings.LogLevel = o.logLevel
	}
	if err := level.UnmarshalText([]byte(config.Settings.LogLevel)); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	o.config = config
	o.logger = slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level}))
	return nil
}
