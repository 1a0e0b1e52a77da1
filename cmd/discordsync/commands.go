package main

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/small-frappuccino/discordsync/pkg/app"
	"github.com/small-frappuccino/discordsync/pkg/config"
	"github.com/small-frappuccino/discordsync/pkg/discord/entity"
	"github.com/small-frappuccino/discordsync/pkg/storage"
)

type runOptions struct {
	configPath string
	envFiles   []string
}

func (c *cli) newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to the gateway and keep the cache in sync",
		Long: `Connect to the Discord gateway and keep the in-memory cache in sync until
interrupted.

The token comes from the config file, DISCORDSYNC_TOKEN, or
~/.local/bin/.env, in that order.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Run(cmd.Context(), app.Options{
				AppName:    "discordsync",
				ConfigPath: opts.configPath,
				EnvFiles:   opts.envFiles,
			})
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Path to a YAML or JSON configuration file")
	cmd.Flags().StringSliceVar(&opts.envFiles, "env-file", []string{".env"}, "Env files loaded before the configuration is resolved")
	return cmd
}

func (c *cli) newValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file and print the resolved settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			c.printConfig(cfg)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a YAML or JSON configuration file")
	return cmd
}

func (c *cli) printConfig(cfg config.Config) {
	w := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()

	token := "missing"
	if cfg.Token != "" {
		token = "set"
	}
	fmt.Fprintf(w, "token\t%s\n", token)
	for _, k := range entity.AllKinds() {
		p := cfg.Cache.PolicyFor(k)
		limit := fmt.Sprint(p.Limit)
		if p.Limit < 0 {
			limit = "unlimited"
		}
		if p.Disabled {
			limit = "disabled"
		}
		fmt.Fprintf(w, "cache.%s\t%s\n", k, limit)
	}
	for _, s := range cfg.Cache.Sweepers {
		fmt.Fprintf(w, "sweeper.%s\t%s every %s, lifetime %s\n", s.Name, s.Kind, s.Interval, s.Lifetime)
	}
	disabled := "none"
	if len(cfg.Dispatch.DisabledEvents) > 0 {
		disabled = strings.Join(cfg.Dispatch.DisabledEvents, ",")
	}
	fmt.Fprintf(w, "dispatch.disabled_events\t%s\n", disabled)
	fmt.Fprintf(w, "dispatch.track_events\t%v\n", cfg.Dispatch.TrackEvents)
	fmt.Fprintf(w, "dispatch.ready_timeout\t%s\n", cfg.ReadyTimeout)
	fmt.Fprintf(w, "log.level\t%s\n", cfg.Log.Level)
	if cfg.Storage.Path != "" {
		fmt.Fprintf(w, "storage.path\t%s\n", cfg.Storage.Path)
		fmt.Fprintf(w, "storage.flush_interval\t%s\n", cfg.Storage.FlushInterval)
	}
	if cfg.Control.Addr != "" {
		fmt.Fprintf(w, "control.addr\t%s\n", cfg.Control.Addr)
	}
}

type statsOptions struct {
	dbPath string
	sweeps int
}

func (c *cli) newStatsCmd() *cobra.Command {
	opts := &statsOptions{}
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print the statistics persisted by a running or past sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.dbPath == "" {
				return fmt.Errorf("--db is required")
			}
			store := storage.NewStore(opts.dbPath)
			if err := store.Init(); err != nil {
				return err
			}
			defer store.Close()
			return c.printStats(store, opts.sweeps)
		},
	}
	cmd.Flags().StringVar(&opts.dbPath, "db", "", "Path of the stats database")
	cmd.Flags().IntVar(&opts.sweeps, "sweeps", 10, "Number of recent sweep shifts to show")
	return cmd
}

func (c *cli) printStats(store *storage.Store, sweeps int) error {
	w := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()

	if hb, ok, err := store.GetHeartbeat(); err != nil {
		return err
	} else if ok {
		fmt.Fprintf(w, "heartbeat\t%s\n", hb.Format(time.RFC3339))
	}

	counts, err := store.EventCounts()
	if err != nil {
		return err
	}
	tags := make([]string, 0, len(counts))
	for tag := range counts {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	fmt.Fprintln(w, "\nEVENT\tCOUNT")
	for _, tag := range tags {
		fmt.Fprintf(w, "%s\t%d\n", tag, counts[tag])
	}

	stats, err := store.CacheStats()
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "\nKIND\tSIZE\tLIMIT\tHITS\tMISSES\tEVICTIONS\tREJECTED")
	for _, s := range stats {
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%d\n", s.Kind, s.Size, s.Limit, s.Hits, s.Misses, s.Evictions, s.Rejected)
	}

	recent, err := store.RecentSweeps(sweeps)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "\nJOB\tKIND\tSETTLED\tEVICTED\tERROR")
	for _, r := range recent {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", r.Job, r.Kind, r.SettledAt.Format(time.RFC3339), r.Evicted, r.Error)
	}
	return nil
}
