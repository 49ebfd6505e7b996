package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roman-kulish/rocket-telemetry/internal/history"
	"github.com/roman-kulish/rocket-telemetry/internal/link"
	"github.com/roman-kulish/rocket-telemetry/internal/session"
)

const (
	defaultLogLevel        = "INFO"
	defaultPort            = "/dev/ttyUSB0"
	defaultListen          = ":8080"
	defaultArchivePath     = "telemetry.sqlite"
	defaultHistoryInterval = 300 * time.Millisecond

	logFilePrefix     = "esp32_data_"
	logFileTimeLayout = "20060102_150405"
)

// Duration is a time.Duration that reads and writes as "1s", "300ms" in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	duration, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("app.Duration: failed to parse: %s", err)
	}

	*d = Duration(duration)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Config represents the main application configuration
type Config struct {
	Settings Settings      `yaml:"settings"`
	Serial   SerialConfig  `yaml:"serial"`
	Log      LogConfig     `yaml:"log"`
	History  HistoryConfig `yaml:"history"`
	Events   EventsConfig  `yaml:"events"`
	Archive  ArchiveConfig `yaml:"archive"`
	Server   ServerConfig  `yaml:"server"`
}

// Settings represents global application settings
type Settings struct {
	LogLevel string `yaml:"logLevel"`
}

// SerialConfig represents the device link settings
type SerialConfig struct {
	Port        string   `yaml:"port"`
	BaudRate    int      `yaml:"baudRate"`
	ReadTimeout Duration `yaml:"readTimeout"`
	StopTimeout Duration `yaml:"stopTimeout"`
}

// LogConfig represents the CSV session log settings. When Path is empty a
// timestamped file is created in Directory.
type LogConfig struct {
	Path      string `yaml:"path"`
	Directory string `yaml:"directory"`
}

// HistoryConfig represents the live chart buffer settings
type HistoryConfig struct {
	Capacity int `yaml:"capacity"`
}

// EventsConfig sizes the channel session events are delivered on. The
// reader stalls while the buffer is full.
type EventsConfig struct {
	Buffer int `yaml:"buffer"`
}

// ArchiveConfig represents the SQLite session archive settings
type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// ServerConfig represents the HTTP host settings
type ServerConfig struct {
	Listen          string   `yaml:"listen"`
	HistoryInterval Duration `yaml:"historyInterval"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	config := &Config{}
	config.applyDefaults()
	return config
}

// LoadConfig reads the YAML file at path, fills in defaults and validates
// the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	config := &Config{}
	if err = yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	config.applyDefaults()
	if err = config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) applyDefaults() {
	if c.Settings.LogLevel == "" {
		c.Settings.LogLevel = defaultLogLevel
	}
	if c.Serial.Port == "" {
		c.Serial.Port = defaultPort
	}
	if c.Serial.BaudRate == 0 {
		c.Serial.BaudRate = link.DefaultBaudRate
	}
	if c.Serial.ReadTimeout == 0 {
		c.Serial.ReadTimeout = Duration(link.DefaultReadTimeout)
	}
	if c.Serial.StopTimeout == 0 {
		c.Serial.StopTimeout = Duration(session.DefaultStopTimeout)
	}
	if c.Log.Directory == "" {
		c.Log.Directory = "."
	}
	if c.History.Capacity == 0 {
		c.History.Capacity = history.DefaultCapacity
	}
	if c.Events.Buffer == 0 {
		c.Events.Buffer = session.DefaultEventBuffer
	}
	if c.Archive.Path == "" {
		c.Archive.Path = defaultArchivePath
	}
	if c.Server.Listen == "" {
		c.Server.Listen = defaultListen
	}
	if c.Server.HistoryInterval == 0 {
		c.Server.HistoryInterval = Duration(defaultHistoryInterval)
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Settings.LogLevel)); err != nil {
		errs = append(errs, fmt.Errorf("settings.logLevel: %w", err))
	}
	if err := link.ValidateBaud(c.Serial.BaudRate); err != nil {
		errs = append(errs, fmt.Errorf("serial.baudRate: %w", err))
	}
	if c.Serial.ReadTimeout < 0 {
		errs = append(errs, fmt.Errorf("serial.readTimeout: must not be negative: %s", c.Serial.ReadTimeout.Duration()))
	}
	if c.Serial.StopTimeout < 0 {
		errs = append(errs, fmt.Errorf("serial.stopTimeout: must not be negative: %s", c.Serial.StopTimeout.Duration()))
	}
	if c.History.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("history.capacity: must be positive: %d given", c.History.Capacity))
	}
	if c.Events.Buffer <= 0 {
		errs = append(errs, fmt.Errorf("events.buffer: must be positive: %d given", c.Events.Buffer))
	}
	if c.Server.HistoryInterval < 0 {
		errs = append(errs, fmt.Errorf("server.historyInterval: must not be negative: %s", c.Server.HistoryInterval.Duration()))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// LogPath resolves the session log destination. An explicit path wins,
// otherwise a file named after now is placed in the log directory.
func (c *Config) LogPath(now time.Time) string {
	if strings.TrimSpace(c.Log.Path) != "" {
		return c.Log.Path
	}
	return DefaultLogPath(c.Log.Directory, now)
}

// DefaultLogPath returns esp32_data_<YYYYmmdd_HHMMSS>.csv inside dir.
func DefaultLogPath(dir string, now time.Time) string {
	return filepath.Join(dir, logFilePrefix+now.Format(logFileTimeLayout)+".csv")
}
