package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/small-frappuccino/discordsync/pkg/discord/cache"
	"github.com/small-frappuccino/discordsync/pkg/discord/client"
	"github.com/small-frappuccino/discordsync/pkg/discord/dispatch"
	"github.com/small-frappuccino/discordsync/pkg/discord/entity"
	"github.com/small-frappuccino/discordsync/pkg/discord/perf"
	"github.com/small-frappuccino/discordsync/pkg/errutil"
	"github.com/small-frappuccino/discordsync/pkg/log"
	"github.com/small-frappuccino/discordsync/pkg/util"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DISCORDSYNC_"

const (
	DefaultReadyTimeout   = 15 * time.Second
	DefaultSlowHandler    = 200 * time.Millisecond
	DefaultFlushInterval  = time.Minute
	DefaultSweepRetention = 7 * 24 * time.Hour
)

var ErrInvalid = errors.New("invalid configuration")

// Config is the validated, resolved configuration.
type Config struct {
	Token        string
	Cache        cache.DirectoryConfig
	Dispatch     dispatch.Config
	ReadyTimeout time.Duration
	SlowHandler  time.Duration
	Log          log.Config
	Storage      StorageConfig
	Control      ControlConfig
}

type ControlConfig struct {
	Addr string
}

type StorageConfig struct {
	Path           string
	FlushInterval  time.Duration
	SweepRetention time.Duration
}

// Client returns the client settings, with a perf tracker for SlowHandler.
func (c Config) Client() client.Config {
	d := c.Dispatch
	if d.Perf == nil {
		d.Perf = perf.NewTracker(c.SlowHandler)
	}
	return client.Config{Cache: c.Cache, Dispatch: d, ReadyTimeout: c.ReadyTimeout}
}

// Load reads path (skipped when empty), applies environment overrides from
// the process and from envFiles, validates and resolves the result.
func Load(path string, envFiles ...string) (Config, error) {
	var f File
	if path != "" {
		err := errutil.HandleConfigError("load", path, func() error {
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			return Decode(data, &f)
		})
		if err != nil {
			return Config{}, err
		}
	}
	if err := util.LoadEnvFiles(envFiles...); err != nil {
		return Config{}, err
	}
	if err := ApplyEnv(&f, os.Getenv); err != nil {
		return Config{}, err
	}
	return Resolve(f)
}

// Decode parses a YAML or JSON document into f. ${VAR} references are
// expanded first; unknown keys are rejected.
func Decode(data []byte, f *File) error {
	data = []byte(os.ExpandEnv(string(data)))
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(f); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// ApplyEnv overlays DISCORDSYNC_* variables read through getenv onto f.
func ApplyEnv(f *File, getenv func(string) string) error {
	get := func(name string) (string, bool) {
		v := strings.TrimSpace(getenv(EnvPrefix + name))
		return v, v != ""
	}
	list := func(v string) []string {
		var out []string
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	duration := func(name string, dst **Duration) error {
		v, ok := get(name)
		if !ok {
			return nil
		}
		d, err := parseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %s%s: %v", ErrInvalid, EnvPrefix, name, err)
		}
		dd := Duration(d)
		*dst = &dd
		return nil
	}
	boolean := func(v string) bool {
		b, err := strconv.ParseBool(v)
		return err == nil && b || strings.EqualFold(v, "yes") || strings.EqualFold(v, "on")
	}

	if v, ok := get("TOKEN"); ok {
		f.Token = v
	}
	if v, ok := get("CACHE_DEFAULT_LIMIT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %sCACHE_DEFAULT_LIMIT=%q", ErrInvalid, EnvPrefix, v)
		}
		f.Cache.DefaultLimit = &n
	}
	if v, ok := get("CACHE_REMOVE_ONE_ON_FULL"); ok {
		b := boolean(v)
		f.Cache.RemoveOneOnFull = &b
	}
	if v, ok := get("CACHE_DISABLED"); ok {
		f.Cache.Disabled = list(v)
	}
	if v, ok := get("DISABLED_EVENTS"); ok {
		f.Dispatch.DisabledEvents = list(v)
	}
	if v, ok := get("TRACK_EVENTS"); ok {
		f.Dispatch.TrackEvents = boolean(v)
	}
	if err := duration("READY_TIMEOUT", &f.Dispatch.ReadyTimeout); err != nil {
		return err
	}
	if err := duration("SLOW_HANDLER_THRESHOLD", &f.Dispatch.SlowHandlerThreshold); err != nil {
		return err
	}
	if v, ok := get("LOG_DIR"); ok {
		f.Log.Dir = v
	}
	if v, ok := get("LOG_LEVEL"); ok {
		f.Log.Level = v
	}
	if v, ok := get("DB_PATH"); ok {
		f.Storage.Path = v
	}
	if err := duration("STATS_FLUSH_INTERVAL", &f.Storage.FlushInterval); err != nil {
		return err
	}
	if v, ok := get("CONTROL_ADDR"); ok {
		f.Control.Addr = v
	}
	return duration("SWEEP_RETENTION", &f.Storage.SweepRetention)
}

// Resolve validates f and fills in defaults. Every problem found is reported
// in one joined error.
func Resolve(f File) (Config, error) {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	out := Config{Token: f.Token}

	def := cache.DefaultPolicy()
	if f.Cache.DefaultLimit != nil {
		if *f.Cache.DefaultLimit < cache.Unlimited {
			bad("cache.default_limit %d below -1", *f.Cache.DefaultLimit)
		}
		def.Limit = *f.Cache.DefaultLimit
	}
	if f.Cache.RemoveOneOnFull != nil {
		def.RemoveOneOnFull = *f.Cache.RemoveOneOnFull
	}
	if def == (cache.Policy{}) {
		// A zero default reads as unbounded in the directory; keep it a
		// zero-limit cache instead.
		def.Disabled = true
	}
	out.Cache.Default = def

	for name, limit := range f.Cache.Limits {
		kind, err := entity.ParseKind(name)
		if err != nil {
			bad("cache.limits: %v", err)
			continue
		}
		if limit < cache.Unlimited {
			bad("cache.limits.%s %d below -1", name, limit)
			continue
		}
		if out.Cache.PerKind == nil {
			out.Cache.PerKind = make(map[entity.Kind]cache.Policy)
		}
		out.Cache.PerKind[kind] = cache.Policy{Limit: limit, RemoveOneOnFull: def.RemoveOneOnFull}
	}
	for _, name := range f.Cache.Disabled {
		kind, err := entity.ParseKind(name)
		if err != nil {
			bad("cache.disabled: %v", err)
			continue
		}
		out.Cache.DisabledKinds = append(out.Cache.DisabledKinds, kind)
	}

	seen := make(map[entity.Kind]bool)
	for i, s := range f.Cache.Sweepers {
		kind, err := entity.ParseKind(s.Kind)
		if err != nil {
			bad("cache.sweepers[%d]: %v", i, err)
			continue
		}
		if seen[kind] {
			bad("cache.sweepers[%d]: kind %s listed twice", i, kind)
			continue
		}
		seen[kind] = true
		if s.Interval.Std() <= 0 {
			bad("cache.sweepers[%d]: interval must be positive", i)
			continue
		}
		name := s.Name
		if name == "" {
			name = string(kind) + "-sweeper"
		}
		out.Cache.Sweepers = append(out.Cache.Sweepers, cache.JobConfig{
			Name:     name,
			Kind:     kind,
			Interval: s.Interval.Std(),
			Lifetime: s.Lifetime.Std(),
		})
	}

	for _, tag := range f.Dispatch.DisabledEvents {
		tag = strings.ToUpper(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if dispatch.IsBootstrap(tag) {
			bad("dispatch.disabled_events: %s can not be disabled", tag)
			continue
		}
		out.Dispatch.DisabledEvents = append(out.Dispatch.DisabledEvents, tag)
	}
	out.Dispatch.TrackEvents = f.Dispatch.TrackEvents

	out.ReadyTimeout = orDefault(f.Dispatch.ReadyTimeout, DefaultReadyTimeout)
	out.SlowHandler = orDefault(f.Dispatch.SlowHandlerThreshold, DefaultSlowHandler)
	if out.ReadyTimeout <= 0 {
		bad("dispatch.ready_timeout must be positive")
	}

	level, err := parseLevel(f.Log.Level)
	if err != nil {
		bad("log.level: %v", err)
	}
	out.Log = log.Config{
		Dir:        f.Log.Dir,
		FileName:   f.Log.File,
		Level:      level,
		MaxSizeMB:  f.Log.MaxSizeMB,
		MaxBackups: f.Log.MaxBackups,
		MaxAgeDays: f.Log.MaxAgeDays,
		Compress:   f.Log.Compress,
		Quiet:      f.Log.Quiet,
	}

	out.Storage = StorageConfig{
		Path:           f.Storage.Path,
		FlushInterval:  orDefault(f.Storage.FlushInterval, DefaultFlushInterval),
		SweepRetention: orDefault(f.Storage.SweepRetention, DefaultSweepRetention),
	}
	if out.Storage.Path != "" && out.Storage.FlushInterval <= 0 {
		bad("storage.flush_interval must be positive")
	}
	out.Control = ControlConfig{Addr: strings.TrimSpace(f.Control.Addr)}

	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	return out, nil
}

func orDefault(d *Duration, def time.Duration) time.Duration {
	if d == nil {
		return def
	}
	return d.Std()
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if strings.TrimSpace(s) == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo, err
	}
	return l, nil
}
