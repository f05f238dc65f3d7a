package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/1broseidon/viewmgr/internal/platform"
)

// IncludeList supports either:
//
//	include: "/path/to/file.yaml"
//
// or:
//
//	include:
//	  - "/path/to/file.yaml"
//	  - "/path/to/dir"
type IncludeList []string

func (l *IncludeList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case 0:
		*l = nil
		return nil
	case yaml.ScalarNode:
		if value.Tag != "!!str" {
			return fmt.Errorf("include must be a string or list of strings")
		}
		*l = []string{value.Value}
		return nil
	case yaml.SequenceNode:
		out := make([]string, 0, len(value.Content))
		for _, item := range value.Content {
			if item.Kind != yaml.ScalarNode || item.Tag != "!!str" {
				return fmt.Errorf("include entries must be strings")
			}
			out = append(out, item.Value)
		}
		*l = out
		return nil
	default:
		return fmt.Errorf("include must be a string or list of strings")
	}
}

// RawConfig is one file as written. Nil fields were not set and fall
// through to includes or defaults.
type RawConfig struct {
	Include     IncludeList    `yaml:"include"`
	Backend     *string        `yaml:"backend"`
	Display     *string        `yaml:"display"`
	Monitor     *string        `yaml:"monitor"`
	RootBounds  *platform.Rect `yaml:"root_bounds"`
	EventBuffer *int           `yaml:"event_buffer"`
	Snapshot    *RawSnapshot   `yaml:"snapshot"`
	Logging     *RawLogging    `yaml:"logging"`
}

type RawSnapshot struct {
	IntervalSeconds *int    `yaml:"interval_seconds"`
	Path            *string `yaml:"path"`
}

type RawLogging struct {
	Level     *string `yaml:"level"`
	File      *string `yaml:"file"`
	MaxSizeMB *int    `yaml:"max_size_mb"`
	MaxFiles  *int    `yaml:"max_files"`
}

// merge returns r overlaid with the fields set in other.
func (r RawConfig) merge(other RawConfig) RawConfig {
	out := r
	out.Include = nil
	setIf(&out.Backend, other.Backend)
	setIf(&out.Display, other.Display)
	setIf(&out.Monitor, other.Monitor)
	setIf(&out.RootBounds, other.RootBounds)
	setIf(&out.EventBuffer, other.EventBuffer)

	if other.Snapshot != nil {
		snap := RawSnapshot{}
		if out.Snapshot != nil {
			snap = *out.Snapshot
		}
		setIf(&snap.IntervalSeconds, other.Snapshot.IntervalSeconds)
		setIf(&snap.Path, other.Snapshot.Path)
		out.Snapshot = &snap
	}
	if other.Logging != nil {
		lg := RawLogging{}
		if out.Logging != nil {
			lg = *out.Logging
		}
		setIf(&lg.Level, other.Logging.Level)
		setIf(&lg.File, other.Logging.File)
		setIf(&lg.MaxSizeMB, other.Logging.MaxSizeMB)
		setIf(&lg.MaxFiles, other.Logging.MaxFiles)
		out.Logging = &lg
	}
	return out
}

func setIf[T any](dst **T, src *T) {
	if src != nil {
		*dst = src
	}
}
