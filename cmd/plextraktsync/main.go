// Plextraktsync keeps a Plex Media Server and a Trakt account in step:
// watched state, ratings, collection, the watchlist and liked lists.
//
// Usage:
//
//	plextraktsync sync [--sync all|movies|tv] [--config <path>] [--verbose]
//	plextraktsync cache clear [--config <path>]
//	plextraktsync status [--config <path>]
//	plextraktsync version
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/urfave/cli/v3"

	"github.com/njoerd114/plextraktsync/internal/config"
	"github.com/njoerd114/plextraktsync/internal/logging"
	"github.com/njoerd114/plextraktsync/internal/state"
	"github.com/njoerd114/plextraktsync/internal/telemetry"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	err := newApp().Run(ctx, os.Args)
	stop()
	if err != nil {
		slog.Error("fatal error", "error", err)
		if errors.Is(err, config.ErrConfiguration) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "plextraktsync",
		Usage:   "Sync watched state, ratings, collection and lists between Plex and Trakt",
		Version: version,
		Commands: []*cli.Command{
			syncCommand(),
			cacheCommand(),
			statusCommand(),
			{
				Name:  "version",
				Usage: "Print version",
				Action: func(_ context.Context, cmd *cli.Command) error {
					fmt.Fprintln(cmd.Root().Writer, "plextraktsync", version)
					return nil
				},
			},
		},
	}
}

func configFlag() cli.Flag {
	defaultCfg, _ := config.DefaultPath()
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to config.yaml",
		Value:   defaultCfg,
	}
}

func verboseFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "verbose",
		Usage: "Enable debug logging",
	}
}

// env holds what every command needs once the config is loaded.
type env struct {
	cfg   *config.Config
	log   *slog.Logger
	store *state.Store

	closers []func()
}

// open loads the config, builds the logger, starts telemetry if configured
// and opens the state database.
func open(ctx context.Context, cmd *cli.Command) (*env, error) {
	cfgPath := cmd.String("config")
	cfg, err := config.Load(afero.NewOsFs(), cfgPath)
	if err != nil {
		return nil, fmt.Errorf("loading config from %q: %w", cfgPath, err)
	}

	rt := &env{cfg: cfg}

	logOpts := logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		OTel:       cfg.Telemetry != nil,
	}
	if cmd.Bool("verbose") {
		logOpts.Level = "debug"
	}
	logger, logCloser := logging.New(os.Stderr, logOpts)
	slog.SetDefault(logger)
	rt.log = logger
	rt.onClose(func() { closeQuietly(logCloser) })

	if cfg.Telemetry != nil {
		shutdownTel, err := telemetry.Setup(ctx, telemetry.FromConfig(cfg.Telemetry, version))
		if err != nil {
			logger.Error("telemetry setup failed, continuing without telemetry", "error", err)
		} else {
			logger.Info("telemetry enabled", "endpoint", cfg.Telemetry.OTLPEndpoint)
			rt.onClose(func() {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTel(flushCtx); err != nil {
					logger.Error("telemetry shutdown error", "error", err)
				}
			})
		}
	}

	dbPath := cfg.Cache.Path
	if dbPath == "" {
		if dbPath, err = state.DefaultDBPath(); err != nil {
			rt.close()
			return nil, fmt.Errorf("resolving state DB path: %w", err)
		}
	}
	store, err := state.Open(ctx, dbPath)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("opening state DB at %q: %w", dbPath, err)
	}
	rt.store = store
	rt.onClose(func() {
		if err := store.Close(); err != nil {
			logger.Error("closing state DB", "error", err)
		}
	})
	logger.Debug("state DB opened", "path", dbPath)

	return rt, nil
}

func (rt *env) onClose(fn func()) {
	rt.closers = append(rt.closers, fn)
}

// close releases resources in reverse order of acquisition.
func (rt *env) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}

func closeQuietly(c io.Closer) {
	_ = c.Close()
}
