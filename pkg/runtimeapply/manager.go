package runtimeapply

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/small-frappuccino/discordsync/pkg/config"
	"github.com/small-frappuccino/discordsync/pkg/discord/cache"
	"github.com/small-frappuccino/discordsync/pkg/discord/entity"
	"github.com/small-frappuccino/discordsync/pkg/log"
)

// DefaultDebounce groups the burst of events an editor produces on save.
const DefaultDebounce = 250 * time.Millisecond

// Manager hot-applies configuration changes to a running cache directory.
//
// Only cache policies (limits, remove-one-on-full, disabled kinds) take effect
// immediately. Changes to sweepers, dispatch, storage or control settings are
// logged and wait for a restart.
type Manager struct {
	mu sync.Mutex

	dir      *cache.Directory
	path     string
	envFiles []string
	debounce time.Duration

	// lastApplied is the baseline for diffs; it only moves on a successful apply.
	lastApplied config.Config
}

// New creates a Manager for the configuration file at path. initial is the
// configuration the directory was built from.
func New(dir *cache.Directory, path string, initial config.Config, envFiles ...string) *Manager {
	return &Manager{
		dir:         dir,
		path:        path,
		envFiles:    envFiles,
		debounce:    DefaultDebounce,
		lastApplied: initial,
	}
}

// Apply pushes the cache policies of next into the directory and returns the
// kinds whose policy changed.
func (m *Manager) Apply(next config.Config) []entity.Kind {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.lastApplied
	changed := m.dir.ApplyPolicies(next.Cache)

	var pending []string
	if !slices.Equal(prev.Cache.Sweepers, next.Cache.Sweepers) {
		pending = append(pending, "cache.sweepers")
	}
	if !slices.Equal(prev.Dispatch.DisabledEvents, next.Dispatch.DisabledEvents) || prev.Dispatch.TrackEvents != next.Dispatch.TrackEvents {
		pending = append(pending, "dispatch")
	}
	if prev.Storage != next.Storage {
		pending = append(pending, "storage")
	}
	if prev.Control != next.Control {
		pending = append(pending, "control")
	}
	if len(pending) > 0 {
		log.ApplicationLogger().Warn("Configuration changes need a restart", "sections", pending)
	}

	m.lastApplied = next
	return changed
}

// Reload reads the configuration file again and applies it. An invalid file
// leaves the running policies untouched.
func (m *Manager) Reload() ([]entity.Kind, error) {
	next, err := config.Load(m.path, m.envFiles...)
	if err != nil {
		return nil, fmt.Errorf("reload config: %w", err)
	}
	return m.Apply(next), nil
}

// Watch reloads the configuration whenever its file is written, created or
// replaced, until ctx ends. The parent directory is watched so editors that
// save through a rename are seen too.
func (m *Manager) Watch(ctx context.Context) error {
	abs, err := filepath.Abs(m.path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}
	log.ApplicationLogger().Info("Watching configuration for changes", "path", abs)

	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return errors.New("config watcher closed")
			}
			if filepath.Clean(ev.Name) != abs || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			fire = time.After(m.debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New("config watcher closed")
			}
			log.ErrorLoggerRaw().Error("Config watcher error", "err", err)
		case <-fire:
			fire = nil
			changed, err := m.Reload()
			if err != nil {
				log.ErrorLoggerRaw().Error("Configuration reload rejected", "path", abs, "err", err)
				continue
			}
			log.ApplicationLogger().Info("Configuration reloaded", "path", abs, "changed", len(changed))
		}
	}
}
