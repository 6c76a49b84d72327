package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/oauth2"

	"github.com/njoerd114/plextraktsync/internal/config"
	"github.com/njoerd114/plextraktsync/internal/logging"
	"github.com/njoerd114/plextraktsync/internal/match"
	"github.com/njoerd114/plextraktsync/internal/plex"
	"github.com/njoerd114/plextraktsync/internal/state"
	syncp "github.com/njoerd114/plextraktsync/internal/sync"
	"github.com/njoerd114/plextraktsync/internal/trakt"
	"github.com/njoerd114/plextraktsync/internal/transport"
)

// --- sync --------------------------------------------------------------------

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Run one full sync pass",
		Flags: []cli.Flag{
			configFlag(),
			verboseFlag(),
			&cli.StringFlag{
				Name:  "sync",
				Usage: "What to sync: all, movies or tv",
				Value: "all",
				Validator: func(s string) error {
					_, _, err := selection(s)
					return err
				},
			},
		},
		Action: runSync,
	}
}

// selection maps the --sync choice to the media kinds walked.
func selection(choice string) (movies, shows bool, err error) {
	switch strings.ToLower(choice) {
	case "all":
		return true, true, nil
	case "movies":
		return true, false, nil
	case "tv", "shows":
		return false, true, nil
	default:
		return false, false, fmt.Errorf("--sync must be one of all, movies, tv (got %q)", choice)
	}
}

func runSync(ctx context.Context, cmd *cli.Command) error {
	doMovies, doShows, err := selection(cmd.String("sync"))
	if err != nil {
		return err
	}
	if !doMovies && !doShows {
		fmt.Fprintln(cmd.Root().Writer, "Nothing to sync!")
		return nil
	}

	rt, err := open(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.close()
	cfg, logger := rt.cfg, rt.log

	plexClient := plex.New(plex.Options{
		URL:           cfg.Plex.URL,
		Token:         cfg.Plex.Token,
		PageSize:      cfg.Plex.PageSize,
		CollectionTag: cfg.Plex.CollectionTag,
		Transport:     rt.transport(plex.IsMutation),
		Logger:        logger.With("service", "plex"),
	})
	traktClient := trakt.New(ctx, trakt.Options{
		ClientID:     cfg.Trakt.ClientID,
		ClientSecret: cfg.Trakt.ClientSecret,
		Username:     cfg.Trakt.Username,
		Token: &oauth2.Token{
			AccessToken:  cfg.Trakt.AccessToken,
			RefreshToken: cfg.Trakt.RefreshToken,
			Expiry:       cfg.Trakt.Expiry,
			TokenType:    "Bearer",
		},
		Transport: rt.transport(nil),
		Logger:    logger.With("service", "trakt"),
	})

	ident, err := plexClient.Identity(ctx)
	if err != nil {
		return fmt.Errorf("%w: reaching plex at %q: %w", config.ErrConfiguration, cfg.Plex.URL, err)
	}
	logger.Info("plex server", "version", ident.Version, "updated_at", ident.UpdatedAt.Format(time.DateTime))
	if recent, err := plexClient.RecentlyAdded(transport.WithoutCache(ctx), 5); err != nil {
		logger.Warn("listing recently added failed", "error", err)
	} else {
		for _, title := range recent {
			logger.Info("recently added", "title", title)
		}
	}

	engine := syncp.NewEngine(syncp.Options{
		Local:        plexClient,
		Remote:       traktClient,
		Lists:        plexClient,
		Resolver:     match.NewCachedResolver(traktClient, rt.store),
		Recorder:     rt.store,
		MovieDomains: syncp.ParseDomains(cfg.Sync.Movies),
		ShowDomains:  syncp.ParseDomains(cfg.Sync.Shows),
		Logger:       logger,
	})

	logger.Info("syncing", "movies", doMovies, "shows", doShows)
	defer logging.Measure(logger, "completed full sync")()

	res, err := engine.RunSync(ctx, doMovies, doShows)
	if err != nil {
		return err
	}
	if res.Errors > 0 {
		logger.Warn("sync finished with errors", "errors", res.Errors, "run_id", res.RunID)
	}
	return nil
}

// transport wraps the default transport with the response cache. A
// negative TTL disables caching.
func (rt *env) transport(mutation func(*http.Request) bool) http.RoundTripper {
	if rt.cfg.Cache.TTL < 0 {
		return http.DefaultTransport
	}
	return &transport.CachingTransport{
		Base:     http.DefaultTransport,
		Cache:    rt.store,
		TTL:      rt.cfg.Cache.TTL,
		Log:      rt.log,
		Mutation: mutation,
	}
}

// --- cache -------------------------------------------------------------------

func cacheCommand() *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Manage the HTTP response cache",
		Commands: []*cli.Command{
			{
				Name:   "clear",
				Usage:  "Delete every cached response",
				Flags:  []cli.Flag{configFlag(), verboseFlag()},
				Action: runCacheClear,
			},
		},
	}
}

func runCacheClear(ctx context.Context, cmd *cli.Command) error {
	rt, err := open(ctx, cmd)
	if err != nil {
		return err
	}
	defer rt.close()

	n, err := rt.store.ClearResponses(ctx)
	if err != nil {
		return fmt.Errorf("clearing response cache: %w", err)
	}
	fmt.Fprintf(cmd.Root().Writer, "Removed %d cached responses\n", n)
	return nil
}

// --- status ------------------------------------------------------------------

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show configuration and recent runs",
		Flags: []cli.Flag{
			configFlag(),
			verboseFlag(),
			&cli.IntFlag{
				Name:  "runs",
				Usage: "Number of recent runs to show",
				Value: 5,
			},
		},
		Action: runStatus,
	}
}

func runStatus(ctx context.Context, cmd *cli.Command) error {
	w := cmd.Root().Writer
	cfgPath := cmd.String("config")

	fmt.Fprintln(w, "plextraktsync status")
	fmt.Fprintln(w, "────────────────────")

	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Fprintf(w, "  Config:    not found (%s)\n", cfgPath)
		return nil
	}
	rt, err := open(ctx, cmd)
	if err != nil {
		fmt.Fprintf(w, "  Config:    %s (invalid: %v)\n", cfgPath, err)
		return nil
	}
	defer rt.close()

	fmt.Fprintf(w, "  Config:    %s ✓\n", cfgPath)
	fmt.Fprintf(w, "  Plex:      %s\n", rt.cfg.Plex.URL)
	fmt.Fprintf(w, "  Trakt:     %s\n", rt.cfg.Trakt.Username)
	fmt.Fprintf(w, "  Movies:    %s\n", strings.Join(rt.cfg.Sync.Movies, ", "))
	fmt.Fprintf(w, "  Shows:     %s\n", strings.Join(rt.cfg.Sync.Shows, ", "))

	runs, err := rt.store.RecentRuns(ctx, int(cmd.Int("runs")))
	if err != nil {
		return fmt.Errorf("reading run history: %w", err)
	}
	if len(runs) == 0 {
		fmt.Fprintln(w, "  Runs:      none yet")
		return nil
	}
	fmt.Fprintln(w, "  Runs:")
	for _, r := range runs {
		fmt.Fprintf(w, "    %s  %-9s  %s  items=%d errors=%d\n",
			r.StartedAt.Local().Format(time.DateTime), r.State, runDuration(r), r.Items, r.Errors)
	}
	return nil
}

func runDuration(r *state.Run) string {
	if r.FinishedAt.IsZero() {
		return "-"
	}
	return r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
}
