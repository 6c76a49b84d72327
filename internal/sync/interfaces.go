// Package sync implements the Plex ↔ Trakt reconciliation engine. It loads
// snapshots of the remote catalog, walks the local library section by
// section, decides per item and per domain which side needs an update, and
// collects curated list membership for a single diffed flush at the end of
// the run.
//
// The package contains three main components:
//
//   - [Engine] drives one run through its phases and owns telemetry.
//   - The walker and reconciler decide and apply per-item updates.
//   - [ListAggregator] accumulates list membership and flushes it once.
package sync

import (
	"context"
	"iter"
	"time"

	"github.com/njoerd114/plextraktsync/internal/model"
	"github.com/njoerd114/plextraktsync/internal/state"
)

// LocalLibrary provides read/write access to the local media library.
// Implemented by [plex.Client].
type LocalLibrary interface {
	Sections(ctx context.Context, kind model.Kind) ([]model.Section, error)
	// Items lists a section lazily. Each iteration starts over.
	Items(ctx context.Context, section model.Section) iter.Seq2[model.MediaItem, error]
	MarkWatched(ctx context.Context, item *model.MediaItem) error
	SetRating(ctx context.Context, item *model.MediaItem, rating model.Rating) error
	SetCollected(ctx context.Context, item *model.MediaItem, collected bool) error
}

// RemoteTracker provides read/write access to the remote tracking service.
// Implemented by [trakt.Client].
type RemoteTracker interface {
	WatchedMovies(ctx context.Context) ([]model.MediaItem, error)
	WatchedShows(ctx context.Context) ([]model.MediaItem, error)
	Collection(ctx context.Context) ([]model.MediaItem, error)
	Ratings(ctx context.Context) ([]model.MediaItem, error)
	Watchlist(ctx context.Context) ([]model.ListEntry, error)
	LikedLists(ctx context.Context) ([]model.ListRef, error)
	ListItems(ctx context.Context, ref model.ListRef) ([]model.ListEntry, error)
	MarkWatched(ctx context.Context, item *model.MediaItem, at time.Time) error
	SetRating(ctx context.Context, item *model.MediaItem, rating model.Rating) error
	AddToCollection(ctx context.Context, item *model.MediaItem) error
}

// ListTarget applies list membership. The implementation computes the
// difference against the current membership and applies only that.
// Implemented by [plex.Client].
type ListTarget interface {
	DiffAndApplyListMembership(ctx context.Context, owner, name string, desired []model.MediaItem) (model.ListDelta, error)
}

// RunRecorder persists run history. Implemented by [state.Store].
type RunRecorder interface {
	RecordRun(ctx context.Context, run *state.Run) error
}
