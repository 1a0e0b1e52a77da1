package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/small-frappuccino/discordsync/pkg/config"
	"github.com/small-frappuccino/discordsync/pkg/control"
	"github.com/small-frappuccino/discordsync/pkg/discord/cache"
	"github.com/small-frappuccino/discordsync/pkg/discord/client"
	"github.com/small-frappuccino/discordsync/pkg/discord/entity"
	"github.com/small-frappuccino/discordsync/pkg/discord/events"
	"github.com/small-frappuccino/discordsync/pkg/discord/gateway"
	"github.com/small-frappuccino/discordsync/pkg/discord/rest"
	"github.com/small-frappuccino/discordsync/pkg/log"
	"github.com/small-frappuccino/discordsync/pkg/runtimeapply"
	"github.com/small-frappuccino/discordsync/pkg/storage"
	"github.com/small-frappuccino/discordsync/pkg/task"
	"github.com/small-frappuccino/discordsync/pkg/util"
)

// TokenEnv is consulted (with the ~/.local/bin/.env fallback) when neither
// the config file nor DISCORDSYNC_TOKEN provide a token.
const TokenEnv = "DISCORDSYNC_TOKEN"

// ShutdownTimeout bounds the graceful shutdown.
const ShutdownTimeout = 30 * time.Second

// Options configures Run.
type Options struct {
	// AppName affects the data directory and the startup banner.
	AppName string
	// ConfigPath is optional; empty runs on defaults plus environment.
	ConfigPath string
	// EnvFiles are loaded (without overriding the process environment)
	// before the configuration is resolved.
	EnvFiles []string
}

// Stubbed in tests.
var (
	createSession = gateway.CreateSession
	connectClient = func(c *client.Client, s *discordgo.Session) error { return c.Connect(s) }
	waitShutdown  = util.WaitForInterruptWithCallback
)

// Run loads the configuration, connects the cache client to the gateway and
// blocks until ctx ends or an interrupt arrives.
func Run(ctx context.Context, opts Options) error {
	started := time.Now()
	if opts.AppName == "" {
		opts.AppName = "discordsync"
	}

	cfg, err := config.Load(opts.ConfigPath, opts.EnvFiles...)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Token == "" {
		token, envErr := util.LoadEnvWithLocalBinFallback(TokenEnv)
		if envErr != nil {
			log.ApplicationLogger().Warn(fmt.Sprintf("Warning: %v", envErr))
		}
		cfg.Token = token
	}
	if cfg.Log.Dir == "" && cfg.Log.FileName != "" {
		cfg.Log.Dir = filepath.Join(util.DataDir(opts.AppName), "logs")
	}

	if err := log.SetupLogger(cfg.Log); err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}
	defer func() { _ = log.CloseGlobalLogger() }()

	log.ApplicationLogger().Info(formatStartupMessage(opts.AppName, AppVersion(), Version))

	if cfg.Token == "" {
		return fmt.Errorf("%s not set in config, environment or .env file", TokenEnv)
	}

	var (
		store    *storage.Store
		router   *task.TaskRouter
		adapters *task.StatsAdapters
	)
	if cfg.Storage.Path != "" {
		store = storage.NewStore(cfg.Storage.Path)
		if err := store.Init(); err != nil {
			return fmt.Errorf("initialize SQLite store: %w", err)
		}
		defer func() { _ = store.Close() }()
		if last, ok, err := store.GetHeartbeat(); err == nil && ok {
			log.DatabaseLogger().Info("Previous run last seen", "heartbeat", last.Format(time.RFC3339))
		}
		router = task.NewRouter(task.Defaults())
		defer router.Close()
	}

	log.DiscordLogger().Info("🔑 Creating Discord session (token redacted)")
	session, err := createSession(cfg.Token, gateway.DefaultIntents)
	if err != nil {
		return err
	}

	var clientOpts []client.Option
	var statsSource *clientStats
	if router != nil {
		statsSource = &clientStats{}
		adapters = task.NewStatsAdapters(router, store, statsSource, cfg.Storage.SweepRetention)
		clientOpts = append(clientOpts, client.WithShiftHook(adapters.EnqueueShift))
	}
	c, err := client.New(cfg.Client(), rest.NewSessionRequester(session), clientOpts...)
	if err != nil {
		return fmt.Errorf("create cache client: %w", err)
	}
	if statsSource != nil {
		statsSource.c = c
	}
	watch(c)

	if err := connectClient(c, session); err != nil {
		_ = c.Close(context.Background())
		return err
	}
	if err := c.Start(); err != nil {
		_ = c.Close(context.Background())
		return fmt.Errorf("start sweepers: %w", err)
	}
	if adapters != nil {
		if err := store.SetStarted(started); err != nil {
			log.DatabaseLogger().Warn("Failed to record start time", "err", err)
		}
		adapters.Start(cfg.Storage.FlushInterval)
	}

	ctrl := control.NewServer(cfg.Control.Addr, c)
	if err := ctrl.Start(); err != nil {
		_ = c.Close(context.Background())
		return err
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	watchDone := make(chan struct{})
	if opts.ConfigPath != "" {
		reloader := runtimeapply.New(c.Directory(), opts.ConfigPath, cfg, opts.EnvFiles...)
		go func() {
			defer close(watchDone)
			if err := reloader.Watch(watchCtx); err != nil {
				log.ErrorLoggerRaw().Error("Config watcher stopped", "err", err)
			}
		}()
	} else {
		close(watchDone)
	}

	log.ApplicationLogger().Info(fmt.Sprintf("🎯 %s initialized in %s", opts.AppName, time.Since(started).Round(time.Millisecond)))
	log.ApplicationLogger().Info(fmt.Sprintf("🤖 %s running. Press Ctrl+C to stop...", opts.AppName))

	waitShutdown(ctx, nil)
	log.ApplicationLogger().Info(fmt.Sprintf("🛑 Stopping %s...", opts.AppName))

	shutdownCtx, cancel := context.WithTimeoutCause(context.Background(), ShutdownTimeout, errors.New("application shutdown"))
	defer cancel()

	stopWatch()
	<-watchDone

	var errs []error
	if err := ctrl.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := c.Close(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("close client: %w", err))
	}
	if adapters != nil {
		adapters.Stop()
		if err := adapters.Flush(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("final stats flush: %w", err))
		}
	}
	return errors.Join(errs...)
}

// watch logs the lifecycle events an operator cares about.
func watch(c *client.Client) {
	c.On(events.Ready, func(any) {
		log.DiscordLogger().Info("✅ Cache ready", "guilds", c.Stats()[entity.KindGuild].Size)
	})
	c.On(events.GuildUnavailable, func(p any) {
		if gp, ok := p.(events.GuildPayload); ok && gp.Guild != nil {
			log.DiscordLogger().Warn("Guild unavailable", "guildID", gp.Guild.ID)
		}
	})
	c.On(events.GuildAvailable, func(p any) {
		if gp, ok := p.(events.GuildPayload); ok && gp.Guild != nil {
			log.DiscordLogger().Info("Guild available again", "guildID", gp.Guild.ID)
		}
	})
}

// clientStats defers to the client once it exists.
type clientStats struct {
	c *client.Client
}

func (s *clientStats) Counts() map[string]uint64 {
	if s.c == nil {
		return nil
	}
	return s.c.Counts()
}

func (s *clientStats) Stats() map[entity.Kind]cache.Stats {
	if s.c == nil {
		return nil
	}
	return s.c.Stats()
}
