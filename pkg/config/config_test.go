package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/small-frappuccino/discordsync/pkg/discord/cache"
	"github.com/small-frappuccino/discordsync/pkg/discord/entity"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Setenv("SYNC_TEST_TOKEN", "abc")
	path := writeFile(t, "discordsync.yaml", `
token: ${SYNC_TEST_TOKEN}
cache:
  default_limit: 500
  limits:
    message: 200
    presence: -1
  disabled: [voice_state]
  sweepers:
    - kind: message
      interval: 1h
      lifetime: 30m
    - name: threads
      kind: channel
      interval: 60000
dispatch:
  disabled_events: [typing_start]
  track_events: true
  ready_timeout: 5s
log:
  level: debug
  max_backups: 3
storage:
  path: /tmp/stats.db
control:
  addr: " :9000 "
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Token != "abc" {
		t.Fatalf("env reference not expanded: %q", cfg.Token)
	}
	if cfg.Cache.Default.Limit != 500 || !cfg.Cache.Default.RemoveOneOnFull {
		t.Fatalf("unexpected default policy %+v", cfg.Cache.Default)
	}
	if p := cfg.Cache.PerKind[entity.KindMessage]; p.Limit != 200 {
		t.Fatalf("unexpected message policy %+v", p)
	}
	if p := cfg.Cache.PerKind[entity.KindPresence]; p.Limit != cache.Unlimited {
		t.Fatalf("unexpected presence policy %+v", p)
	}
	if len(cfg.Cache.DisabledKinds) != 1 || cfg.Cache.DisabledKinds[0] != entity.KindVoiceState {
		t.Fatalf("unexpected disabled kinds %v", cfg.Cache.DisabledKinds)
	}
	if len(cfg.Cache.Sweepers) != 2 {
		t.Fatalf("expected 2 sweepers, got %d", len(cfg.Cache.Sweepers))
	}
	if s := cfg.Cache.Sweepers[0]; s.Name != "message-sweeper" || s.Interval != time.Hour || s.Lifetime != 30*time.Minute {
		t.Fatalf("unexpected first sweeper %+v", s)
	}
	if s := cfg.Cache.Sweepers[1]; s.Name != "threads" || s.Interval != time.Minute || s.Lifetime != 0 {
		t.Fatalf("unexpected second sweeper %+v", s)
	}
	if len(cfg.Dispatch.DisabledEvents) != 1 || cfg.Dispatch.DisabledEvents[0] != "TYPING_START" {
		t.Fatalf("unexpected disabled events %v", cfg.Dispatch.DisabledEvents)
	}
	if !cfg.Dispatch.TrackEvents || cfg.ReadyTimeout != 5*time.Second {
		t.Fatalf("unexpected dispatch settings %+v ready=%v", cfg.Dispatch, cfg.ReadyTimeout)
	}
	if cfg.Log.Level != slog.LevelDebug || cfg.Log.MaxBackups != 3 {
		t.Fatalf("unexpected log config %+v", cfg.Log)
	}
	if cfg.Storage.Path != "/tmp/stats.db" || cfg.Storage.FlushInterval != DefaultFlushInterval || cfg.Storage.SweepRetention != DefaultSweepRetention {
		t.Fatalf("unexpected storage config %+v", cfg.Storage)
	}
	if cfg.Control.Addr != ":9000" {
		t.Fatalf("unexpected control addr %q", cfg.Control.Addr)
	}

	cc := cfg.Client()
	if cc.Dispatch.Perf == nil || cc.ReadyTimeout != 5*time.Second {
		t.Fatalf("client config not derived: %+v", cc)
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "discordsync.json", `{"token":"t","cache":{"limits":{"member":10}},"dispatch":{"slow_handler_threshold":"50ms"}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Cache.PerKind[entity.KindMember].Limit != 10 || cfg.SlowHandler != 50*time.Millisecond {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Cache.Default != cache.DefaultPolicy() {
		t.Fatalf("expected default policy, got %+v", cfg.Cache.Default)
	}
	if cfg.ReadyTimeout != DefaultReadyTimeout || cfg.SlowHandler != DefaultSlowHandler {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Log.Level != slog.LevelInfo {
		t.Fatalf("unexpected default level %v", cfg.Log.Level)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestDecodeRejectsUnknownKeys(t *testing.T) {
	var f File
	err := Decode([]byte("cache:\n  defualt_limit: 5\n"), &f)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for a misspelled key, got %v", err)
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"DISCORDSYNC_TOKEN":                "from-env",
		"DISCORDSYNC_CACHE_DEFAULT_LIMIT":  "50",
		"DISCORDSYNC_CACHE_DISABLED":       "presence, voice_state",
		"DISCORDSYNC_DISABLED_EVENTS":      "TYPING_START",
		"DISCORDSYNC_TRACK_EVENTS":         "yes",
		"DISCORDSYNC_READY_TIMEOUT":        "2s",
		"DISCORDSYNC_LOG_LEVEL":            "warn",
		"DISCORDSYNC_DB_PATH":              "stats.db",
		"DISCORDSYNC_STATS_FLUSH_INTERVAL": "30s",
		"DISCORDSYNC_CONTROL_ADDR":         "127.0.0.1:8377",
	}
	f := File{Token: "from-file"}
	if err := ApplyEnv(&f, func(k string) string { return env[k] }); err != nil {
		t.Fatalf("apply env: %v", err)
	}
	cfg, err := Resolve(f)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.Token != "from-env" || cfg.Cache.Default.Limit != 50 {
		t.Fatalf("env did not override: %+v", cfg)
	}
	if len(cfg.Cache.DisabledKinds) != 2 || !cfg.Dispatch.TrackEvents {
		t.Fatalf("unexpected cache/dispatch overrides %+v %+v", cfg.Cache, cfg.Dispatch)
	}
	if cfg.ReadyTimeout != 2*time.Second || cfg.Log.Level != slog.LevelWarn {
		t.Fatalf("unexpected timeout/level %v %v", cfg.ReadyTimeout, cfg.Log.Level)
	}
	if cfg.Storage.Path != "stats.db" || cfg.Storage.FlushInterval != 30*time.Second {
		t.Fatalf("unexpected storage %+v", cfg.Storage)
	}
	if cfg.Control.Addr != "127.0.0.1:8377" {
		t.Fatalf("unexpected control addr %q", cfg.Control.Addr)
	}
}

func TestApplyEnvBadValues(t *testing.T) {
	for name, value := range map[string]string{
		"DISCORDSYNC_CACHE_DEFAULT_LIMIT": "many",
		"DISCORDSYNC_READY_TIMEOUT":       "soon",
	} {
		var f File
		err := ApplyEnv(&f, func(k string) string {
			if k == name {
				return value
			}
			return ""
		})
		if !errors.Is(err, ErrInvalid) {
			t.Fatalf("%s=%s: expected ErrInvalid, got %v", name, value, err)
		}
	}
}

func TestLoadEnvFile(t *testing.T) {
	envPath := writeFile(t, ".env", "DISCORDSYNC_TOKEN=dotenv-token\n")
	t.Setenv("DISCORDSYNC_TOKEN", "")
	os.Unsetenv("DISCORDSYNC_TOKEN")

	cfg, err := Load("", envPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Token != "dotenv-token" {
		t.Fatalf("token not read from env file: %q", cfg.Token)
	}
}

func TestResolveCollectsEveryProblem(t *testing.T) {
	low := -2
	f := File{
		Cache: CacheFile{
			DefaultLimit: &low,
			Limits:       map[string]int{"emoji": 5},
			Disabled:     []string{"nope"},
			Sweepers: []SweeperFile{
				{Kind: "message", Interval: Duration(time.Minute)},
				{Kind: "message", Interval: Duration(time.Minute)},
				{Kind: "user"},
			},
		},
		Dispatch: DispatchFile{DisabledEvents: []string{"READY"}},
		Log:      LogFile{Level: "chatty"},
	}
	_, err := Resolve(f)
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	msg := err.Error()
	for _, want := range []string{"default_limit", "cache.limits", "cache.disabled", "listed twice", "interval must be positive", "READY can not be disabled", "log.level"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error does not mention %q: %s", want, msg)
		}
	}
}

func TestResolveZeroDefaultDisablesCaching(t *testing.T) {
	zero := 0
	off := false
	cfg, err := Resolve(File{Cache: CacheFile{DefaultLimit: &zero, RemoveOneOnFull: &off}})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if p := cfg.Cache.PolicyFor(entity.KindUser); p.Limit != 0 {
		t.Fatalf("a zero default must not read as unbounded: %+v", p)
	}
}
