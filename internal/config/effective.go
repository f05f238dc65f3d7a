package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ValidationError points at the offending key and, when known, the file
// position that set it.
type ValidationError struct {
	Path   string
	Source Source
	Err    error
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Source.Kind == SourceFile && e.Source.File != "" && e.Source.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s: %v", e.Source.File, e.Source.Line, e.Source.Column, e.Path, e.Err)
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %v", e.Path, e.Err)
	}
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error { return e.Err }

// BuildEffectiveConfig applies raw on top of the defaults.
func BuildEffectiveConfig(raw RawConfig) (*Config, error) {
	cfg := DefaultConfig()

	if raw.Backend != nil {
		cfg.Backend = strings.ToLower(strings.TrimSpace(*raw.Backend))
	}
	if raw.Display != nil {
		cfg.Display = *raw.Display
	}
	if raw.Monitor != nil {
		cfg.Monitor = *raw.Monitor
	}
	if raw.RootBounds != nil {
		cfg.RootBounds = *raw.RootBounds
	}
	if raw.EventBuffer != nil {
		cfg.EventBuffer = *raw.EventBuffer
	}
	if s := raw.Snapshot; s != nil {
		if s.IntervalSeconds != nil {
			cfg.Snapshot.IntervalSeconds = *s.IntervalSeconds
		}
		if s.Path != nil {
			path, err := expandHome(*s.Path)
			if err != nil {
				return nil, &ValidationError{Path: "snapshot.path", Err: err}
			}
			cfg.Snapshot.Path = path
		}
	}
	if l := raw.Logging; l != nil {
		if l.Level != nil {
			cfg.Logging.Level = strings.ToLower(*l.Level)
		}
		if l.File != nil {
			path, err := expandHome(*l.File)
			if err != nil {
				return nil, &ValidationError{Path: "logging.file", Err: err}
			}
			cfg.Logging.File = path
		}
		if l.MaxSizeMB != nil {
			cfg.Logging.MaxSizeMB = *l.MaxSizeMB
		}
		if l.MaxFiles != nil {
			cfg.Logging.MaxFiles = *l.MaxFiles
		}
	}
	return cfg, nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, path[2:]), nil
}
