package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/japaniel/wordfamily/pkg/bundle"
	"github.com/japaniel/wordfamily/pkg/config"
	"github.com/japaniel/wordfamily/pkg/db"
	"github.com/japaniel/wordfamily/pkg/learned"
	"github.com/japaniel/wordfamily/pkg/loader"
	"github.com/japaniel/wordfamily/pkg/logger"
	"github.com/japaniel/wordfamily/pkg/remote"
	"github.com/japaniel/wordfamily/pkg/session"
	"github.com/japaniel/wordfamily/pkg/window"
)

// app carries the resolved configuration and logger shared by subcommands.
type app struct {
	configPath string
	dbPath     string
	remoteURL  string
	userID     string

	cfg config.Config
	log *logger.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "wordfamily",
		Short: "Browse and learn the Oxford 3000 word list",
		Long: `Browse a vocabulary list page by page and track which words you know.

Words come from a remote vocabulary service when one is configured, from the
local SQLite cache otherwise, and from the bundled word list as a last resort.
Learned words are saved locally first and sent to the remote when it is
reachable.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.log != nil {
				a.log.Sync()
			}
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "path to a YAML config file")
	pf.StringVar(&a.dbPath, "db", "", "path to the local SQLite database")
	pf.StringVar(&a.remoteURL, "remote", "", "base URL of the remote vocabulary service (e.g. http://host:8080/api)")
	pf.StringVar(&a.userID, "user", "", "user id scoping cached pages")

	root.AddCommand(newBrowseCmd(a))
	root.AddCommand(newStatsCmd(a))
	root.AddCommand(newMarkCmd(a))
	root.AddCommand(newSyncCmd(a))
	root.AddCommand(newServeCmd(a))
	root.AddCommand(newResetCmd(a))
	return root
}

func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("db") {
		cfg.DBPath = a.dbPath
	}
	if cmd.Flags().Changed("remote") {
		cfg.Remote.BaseURL = a.remoteURL
	}
	if cmd.Flags().Changed("user") {
		cfg.UserID = a.userID
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	return a.openLogger(cfg.Log.File)
}

func (a *app) openLogger(path string) error {
	var (
		log *logger.Logger
		err error
	)
	if path != "" {
		log, err = logger.NewFile(a.cfg.Log.Mode, path)
	} else {
		log, err = logger.New(a.cfg.Log.Mode)
	}
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	a.log = log.WithHashSalt(a.cfg.UserID)
	return nil
}

func (a *app) openStore() (*db.Store, error) {
	if a.cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(a.cfg.DBPath), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	return db.Open(a.cfg.DBPath)
}

// openBundle loads the configured dataset, downloading it when missing. Any
// failure falls back to the embedded sample.
func (a *app) openBundle(ctx context.Context) (*bundle.Dataset, error) {
	if path := a.cfg.Bundle.Path; path != "" {
		err := bundle.Ensure(ctx, path, a.cfg.Bundle.URL)
		if err == nil {
			ds, lerr := bundle.Load(path)
			if lerr == nil {
				return ds, nil
			}
			err = lerr
		}
		a.log.Warn("bundled dataset unavailable, using the embedded sample", "path", path, "error", err)
	}
	return bundle.Default()
}

func (a *app) remoteClient() *remote.Client {
	if a.cfg.Remote.BaseURL == "" {
		return nil
	}
	return remote.New(a.cfg.Remote.BaseURL, a.cfg.Remote.Token, a.cfg.Remote.Timeout)
}

// openSession wires a session from the configuration. The returned cleanup
// closes the session and everything opened for it.
func (a *app) openSession(ctx context.Context, wopts window.Options) (*session.Session, func(), error) {
	store, err := a.openStore()
	if err != nil {
		return nil, nil, err
	}
	ds, err := a.openBundle(ctx)
	if err != nil {
		store.Close()
		return nil, nil, err
	}
	var rdb goredis.UniversalClient
	if a.cfg.Redis.Addr != "" {
		rdb, err = loader.DialRedis(ctx, a.cfg.Redis.Addr)
		if err != nil {
			a.log.Warn("redis cache disabled", "addr", a.cfg.Redis.Addr, "error", err)
			rdb = nil
		}
	}

	wc := a.cfg.Window
	wopts.PageSize = wc.PageSize
	wopts.PrefetchAhead = wc.PrefetchAhead
	wopts.PrefetchBehind = wc.PrefetchBehind
	wopts.MaxWindow = wc.MaxWindow

	s, err := session.Open(ctx, session.Deps{
		Log:           a.log,
		Store:         store,
		Remote:        a.remoteClient(),
		Bundle:        ds,
		Redis:         rdb,
		RedisPrefix:   a.cfg.Redis.Prefix,
		RedisTTL:      a.cfg.Redis.TTL,
		BatchSize:     a.cfg.Cache.BatchSize,
		FlushInterval: a.cfg.Cache.FlushInterval,
		Window:        wopts,
		Sync: learned.Options{
			Workers:      a.cfg.Sync.Workers,
			RefreshStats: a.cfg.Sync.RefreshStats,
		},
	}, a.cfg.UserID)
	if err != nil {
		if rdb != nil {
			rdb.Close()
		}
		store.Close()
		return nil, nil, err
	}
	cleanup := func() {
		if err := s.Close(); err != nil {
			a.log.Warn("session close", "error", err)
		}
		if rdb != nil {
			rdb.Close()
		}
		store.Close()
	}
	return s, cleanup, nil
}
