package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/njoerd114/plextraktsync/internal/model"
)

// ErrNoMatch is returned when a local item has no remote counterpart. It is
// a normal outcome, not a failure.
var ErrNoMatch = errors.New("no remote match")

// Resolver looks up remote ids for an item missing from the snapshot.
// Implemented by [trakt.Client] and wrapped by [CachedResolver].
type Resolver interface {
	Resolve(ctx context.Context, kind model.Kind, ids model.IDs) (model.IDs, bool, error)
}

// Matcher pairs local items with remote items.
type Matcher struct {
	movies   *Index
	episodes *Index
	resolver Resolver
	log      *slog.Logger
}

// NewMatcher creates a Matcher over the movie and episode indexes. resolver
// may be nil, in which case only the snapshot is consulted.
func NewMatcher(movies, episodes *Index, resolver Resolver, logger *slog.Logger) *Matcher {
	if movies == nil {
		movies = NewIndex()
	}
	if episodes == nil {
		episodes = NewIndex()
	}
	return &Matcher{movies: movies, episodes: episodes, resolver: resolver, log: logger}
}

// Match returns the remote counterpart of local. Lookup order is the
// identifier index, the title/year fallback, then the resolver. Items
// without identifiers never reach the resolver.
func (m *Matcher) Match(ctx context.Context, local *model.MediaItem) (model.MediaItem, error) {
	index := m.movies
	if local.Kind == model.KindEpisode {
		index = m.episodes
	}

	if remote, ok := index.Lookup(local); ok {
		return remote, nil
	}
	if m.resolver == nil || local.IDs.Empty() {
		return model.MediaItem{}, ErrNoMatch
	}

	kind := local.Kind
	if kind == model.KindEpisode {
		kind = model.KindShow
	}
	ids, found, err := m.resolver.Resolve(ctx, kind, local.IDs)
	if err != nil {
		return model.MediaItem{}, fmt.Errorf("resolving %s: %w", local, err)
	}
	if !found {
		return model.MediaItem{}, ErrNoMatch
	}
	m.log.Debug("resolved outside snapshot", "item", local.String(), "trakt", ids[model.ProviderTrakt])

	return model.MediaItem{
		Kind:    local.Kind,
		IDs:     ids.Merge(local.IDs),
		Title:   local.Title,
		Year:    local.Year,
		Season:  local.Season,
		Episode: local.Episode,
	}, nil
}
