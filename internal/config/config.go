package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/1broseidon/viewmgr/internal/platform"
)

const (
	BackendHeadless = "headless"
	BackendX11      = "x11"
)

const (
	DefaultEventBuffer = 256
	DefaultLogMaxSize  = 10
	DefaultLogMaxFiles = 3
)

// Config is the effective daemon configuration.
type Config struct {
	Backend     string         `yaml:"backend"`
	Display     string         `yaml:"display"`
	Monitor     string         `yaml:"monitor"`
	RootBounds  platform.Rect  `yaml:"root_bounds"`
	EventBuffer int            `yaml:"event_buffer"`
	Snapshot    SnapshotConfig `yaml:"snapshot"`
	Logging     LoggingConfig  `yaml:"logging"`
}

// SnapshotConfig controls periodic tree snapshots. An interval of zero
// disables them; snapshots can still be requested over IPC.
type SnapshotConfig struct {
	IntervalSeconds int    `yaml:"interval_seconds"`
	Path            string `yaml:"path"`
}

// LoggingConfig configures the daemon log. An empty file logs to stderr.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	File      string `yaml:"file"`
	MaxSizeMB int    `yaml:"max_size_mb"`
	MaxFiles  int    `yaml:"max_files"`
}

func DefaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "viewmgr", "config.yaml"), nil
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Backend:     BackendHeadless,
		Display:     ":0",
		RootBounds:  platform.Rect{Width: 1920, Height: 1080},
		EventBuffer: DefaultEventBuffer,
		Logging: LoggingConfig{
			Level:     "info",
			MaxSizeMB: DefaultLogMaxSize,
			MaxFiles:  DefaultLogMaxFiles,
		},
	}
}

// Validate performs strict validation of the effective configuration.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendHeadless, BackendX11:
	default:
		return &ValidationError{Path: "backend", Err: fmt.Errorf("backend must be one of: headless, x11")}
	}
	if c.Backend == BackendX11 && strings.TrimSpace(c.Display) == "" {
		return &ValidationError{Path: "display", Err: fmt.Errorf("display is required for the x11 backend")}
	}
	if c.RootBounds.Width <= 0 || c.RootBounds.Height <= 0 {
		return &ValidationError{Path: "root_bounds", Err: fmt.Errorf("root_bounds width and height must be > 0")}
	}
	if c.EventBuffer <= 0 {
		return &ValidationError{Path: "event_buffer", Err: fmt.Errorf("event_buffer must be > 0")}
	}
	if c.Snapshot.IntervalSeconds < 0 {
		return &ValidationError{Path: "snapshot.interval_seconds", Err: fmt.Errorf("interval_seconds must be >= 0")}
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return &ValidationError{Path: "logging.level", Err: fmt.Errorf("level must be one of: debug, info, warn, error")}
	}
	if c.Logging.MaxSizeMB <= 0 {
		return &ValidationError{Path: "logging.max_size_mb", Err: fmt.Errorf("max_size_mb must be > 0")}
	}
	if c.Logging.MaxFiles < 0 {
		return &ValidationError{Path: "logging.max_files", Err: fmt.Errorf("max_files must be >= 0")}
	}
	return nil
}

// Marshal renders the effective configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}
