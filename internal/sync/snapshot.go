package sync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sourcegraph/conc/pool"

	"github.com/njoerd114/plextraktsync/internal/logging"
	"github.com/njoerd114/plextraktsync/internal/match"
	"github.com/njoerd114/plextraktsync/internal/model"
)

// remoteState is the per-run view of the Trakt catalog. Keys are
// [model.MediaItem.CanonicalKey] values of remote items. The reconciler
// updates it after each successful Trakt write.
type remoteState struct {
	movies   *match.Index
	episodes *match.Index

	watched   map[string]bool
	collected map[string]bool
	ratings   map[string]model.Rating

	watchlist []model.ListEntry
	liked     []model.ListRef
}

func newRemoteState() *remoteState {
	return &remoteState{
		movies:    match.NewIndex(),
		episodes:  match.NewIndex(),
		watched:   make(map[string]bool),
		collected: make(map[string]bool),
		ratings:   make(map[string]model.Rating),
	}
}

// snapshotRequest selects which parts of the catalog a run needs.
type snapshotRequest struct {
	movies DomainSet
	shows  DomainSet
}

func (r snapshotRequest) lists() bool {
	return r.movies.Has(DomainLists) || r.shows.Has(DomainLists)
}

// loadSnapshot fetches the Trakt catalog concurrently. The first failure
// cancels the remaining fetches and is returned.
func loadSnapshot(ctx context.Context, remote RemoteTracker, req snapshotRequest, logger *slog.Logger) (*remoteState, error) {
	var (
		watchedMovies, collection, ratings, watchedEpisodes []model.MediaItem
		watchlist                                           []model.ListEntry
		liked                                               []model.ListRef
	)

	p := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError()
	fetch := func(name string, fn func(ctx context.Context) error) {
		p.Go(func(ctx context.Context) error {
			defer logging.Measure(logger, "loaded trakt "+name)()
			if err := fn(ctx); err != nil {
				return fmt.Errorf("loading %s: %w", name, err)
			}
			return nil
		})
	}

	if req.movies.Has(DomainWatched) {
		fetch("watched movies", func(ctx context.Context) (err error) {
			watchedMovies, err = remote.WatchedMovies(ctx)
			return err
		})
	}
	if req.movies.Has(DomainCollection) {
		fetch("collection", func(ctx context.Context) (err error) {
			collection, err = remote.Collection(ctx)
			return err
		})
	}
	if req.movies.Has(DomainRatings) {
		fetch("ratings", func(ctx context.Context) (err error) {
			ratings, err = remote.Ratings(ctx)
			return err
		})
	}
	if req.shows.Has(DomainWatched) {
		fetch("watched shows", func(ctx context.Context) (err error) {
			watchedEpisodes, err = remote.WatchedShows(ctx)
			return err
		})
	}
	if req.lists() {
		fetch("watchlist", func(ctx context.Context) (err error) {
			watchlist, err = remote.Watchlist(ctx)
			return err
		})
		fetch("liked lists", func(ctx context.Context) (err error) {
			liked, err = remote.LikedLists(ctx)
			return err
		})
	}

	if err := p.Wait(); err != nil {
		return nil, err
	}

	rs := newRemoteState()
	for _, item := range watchedMovies {
		rs.movies.Add(item)
		rs.watched[item.CanonicalKey()] = true
	}
	for _, item := range collection {
		rs.movies.Add(item)
		rs.collected[item.CanonicalKey()] = true
	}
	for _, item := range ratings {
		rs.movies.Add(item)
		if item.Rating.Valid() {
			rs.ratings[item.CanonicalKey()] = item.Rating
		}
	}
	for _, item := range watchedEpisodes {
		rs.episodes.Add(item)
		rs.watched[item.CanonicalKey()] = true
	}
	for _, e := range watchlist {
		if e.Item.Kind == model.KindMovie {
			rs.movies.Add(e.Item)
		}
	}
	rs.watchlist = watchlist
	rs.liked = liked

	logger.Debug("snapshot loaded",
		"movies", rs.movies.Len(),
		"episodes", rs.episodes.Len(),
		"watchlist", len(watchlist),
		"liked_lists", len(liked),
	)
	return rs, nil
}
