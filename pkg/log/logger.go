package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

type Category int

const (
	Application Category = iota
	DiscordEvents
	Cache
	Database
	Errors
)

func (c Category) String() string {
	switch c {
	case Application:
		return "application"
	case DiscordEvents:
		return "discord"
	case Cache:
		return "cache"
	case Database:
		return "database"
	case Errors:
		return "error"
	default:
		return "unknown"
	}
}

// Config controls where log lines go. The zero value logs text to stderr only.
type Config struct {
	// Dir enables a rotating JSON log file at Dir/FileName.
	Dir      string
	FileName string
	Level    slog.Level
	// Rotation knobs forwarded to lumberjack.
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	// Quiet disables the stderr copy.
	Quiet bool
}

// Logger groups the per-category slog loggers and the rotating file they share.
type Logger struct {
	categories map[Category]*slog.Logger
	file       *lumberjack.Logger
}

var (
	mu           sync.RWMutex
	GlobalLogger *Logger
)

// SetupLogger builds the global logger. Calling it again replaces the previous
// logger after closing its file.
func SetupLogger(cfg Config) error {
	l, err := NewLogger(cfg)
	if err != nil {
		return err
	}
	mu.Lock()
	prev := GlobalLogger
	GlobalLogger = l
	mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}
	return nil
}

// NewLogger creates a standalone Logger from cfg.
func NewLogger(cfg Config) (*Logger, error) {
	var handlers []slog.Handler
	opts := &slog.HandlerOptions{Level: cfg.Level}

	if !cfg.Quiet {
		handlers = append(handlers, slog.NewTextHandler(os.Stderr, opts))
	}

	var file *lumberjack.Logger
	if strings.TrimSpace(cfg.Dir) != "" {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("error creating logs directory: %w", err)
		}
		name := cfg.FileName
		if name == "" {
			name = "discordsync.log"
		}
		file = &lumberjack.Logger{
			Filename:   filepath.Join(cfg.Dir, name),
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		handlers = append(handlers, slog.NewJSONHandler(file, opts))
	}

	var root slog.Handler
	switch len(handlers) {
	case 0:
		root = slog.NewTextHandler(io.Discard, opts)
	case 1:
		root = handlers[0]
	default:
		root = fanout(handlers)
	}

	base := slog.New(root)
	cats := make(map[Category]*slog.Logger, 5)
	for _, c := range []Category{Application, DiscordEvents, Cache, Database, Errors} {
		cats[c] = base.With("category", c.String())
	}
	return &Logger{categories: cats, file: file}, nil
}

// For returns the logger of a category.
func (l *Logger) For(c Category) *slog.Logger {
	if l == nil {
		return slog.Default().With("category", c.String())
	}
	if lg, ok := l.categories[c]; ok {
		return lg
	}
	return l.categories[Application]
}

// Close releases the rotating file, if any.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Sync is kept for call sites that flush on exit; lumberjack writes through.
func (l *Logger) Sync() {}

func current(c Category) *slog.Logger {
	mu.RLock()
	l := GlobalLogger
	mu.RUnlock()
	return l.For(c)
}

func ApplicationLogger() *slog.Logger { return current(Application) }
func DiscordLogger() *slog.Logger     { return current(DiscordEvents) }
func CacheLogger() *slog.Logger       { return current(Cache) }
func DatabaseLogger() *slog.Logger    { return current(Database) }
func ErrorLoggerRaw() *slog.Logger    { return current(Errors) }

// CloseGlobalLogger closes the global logger's file.
func CloseGlobalLogger() error {
	mu.RLock()
	l := GlobalLogger
	mu.RUnlock()
	return l.Close()
}
