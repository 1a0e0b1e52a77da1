// Package config loads the discordsync configuration from a YAML (or JSON)
// file plus DISCORDSYNC_* environment overrides and resolves it into the
// settings of each component.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration accepts "90s"-style strings or bare integers in milliseconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	v, err := parseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) { return time.Duration(d).String(), nil }

func (d Duration) Std() time.Duration { return time.Duration(d) }

func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

// File mirrors the on-disk document. Pointer fields distinguish "unset" from
// an explicit zero.
type File struct {
	Token    string       `yaml:"token"`
	Cache    CacheFile    `yaml:"cache"`
	Dispatch DispatchFile `yaml:"dispatch"`
	Log      LogFile      `yaml:"log"`
	Storage  StorageFile  `yaml:"storage"`
	Control  ControlFile  `yaml:"control"`
}

type CacheFile struct {
	// DefaultLimit applies to kinds without an entry in Limits; -1 is unlimited.
	DefaultLimit    *int           `yaml:"default_limit"`
	RemoveOneOnFull *bool          `yaml:"remove_one_on_full"`
	Limits          map[string]int `yaml:"limits"`
	Disabled        []string       `yaml:"disabled"`
	Sweepers        []SweeperFile  `yaml:"sweepers"`
}

type SweeperFile struct {
	Name     string   `yaml:"name"`
	Kind     string   `yaml:"kind"`
	Interval Duration `yaml:"interval"`
	// Lifetime <= 0 keeps entries forever.
	Lifetime Duration `yaml:"lifetime"`
}

type DispatchFile struct {
	DisabledEvents       []string  `yaml:"disabled_events"`
	TrackEvents          bool      `yaml:"track_events"`
	ReadyTimeout         *Duration `yaml:"ready_timeout"`
	SlowHandlerThreshold *Duration `yaml:"slow_handler_threshold"`
}

type LogFile struct {
	Dir        string `yaml:"dir"`
	File       string `yaml:"file"`
	Level      string `yaml:"level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
	Quiet      bool   `yaml:"quiet"`
}

type StorageFile struct {
	// Path of the SQLite stats database; empty disables persistence.
	Path           string    `yaml:"path"`
	FlushInterval  *Duration `yaml:"flush_interval"`
	SweepRetention *Duration `yaml:"sweep_retention"`
}

type ControlFile struct {
	// Addr of the HTTP status server, e.g. "127.0.0.1:8377"; empty disables it.
	Addr string `yaml:"addr"`
}
