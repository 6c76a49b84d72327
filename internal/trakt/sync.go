package trakt

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/njoerd114/plextraktsync/internal/model"
)

// WatchedMovies returns every movie with at least one play.
func (c *Client) WatchedMovies(ctx context.Context) ([]model.MediaItem, error) {
	var rows []watchedMovie
	if _, err := c.do(ctx, http.MethodGet, "/sync/watched/movies", nil, nil, &rows); err != nil {
		return nil, fmt.Errorf("fetching watched movies: %w", err)
	}
	items := make([]model.MediaItem, 0, len(rows))
	for i := range rows {
		item := movieItem(&rows[i].Movie)
		item.Watched = true
		item.LastWatchedAt = rows[i].LastWatchedAt
		items = append(items, item)
	}
	return items, nil
}

// WatchedShows returns every watched episode, identified by its show.
func (c *Client) WatchedShows(ctx context.Context) ([]model.MediaItem, error) {
	var rows []watchedShow
	if _, err := c.do(ctx, http.MethodGet, "/sync/watched/shows", nil, nil, &rows); err != nil {
		return nil, fmt.Errorf("fetching watched shows: %w", err)
	}
	var items []model.MediaItem
	for i := range rows {
		s := showItem(&rows[i].Show)
		for _, season := range rows[i].Seasons {
			for _, ep := range season.Episodes {
				items = append(items, model.MediaItem{
					Kind:          model.KindEpisode,
					IDs:           s.IDs.Clone(),
					Title:         s.Title,
					Year:          s.Year,
					Season:        season.Number,
					Episode:       ep.Number,
					Watched:       true,
					LastWatchedAt: ep.LastWatchedAt,
				})
			}
		}
	}
	return items, nil
}

// Collection returns the collected movies.
func (c *Client) Collection(ctx context.Context) ([]model.MediaItem, error) {
	var rows []collectedMovie
	if _, err := c.do(ctx, http.MethodGet, "/sync/collection/movies", nil, nil, &rows); err != nil {
		return nil, fmt.Errorf("fetching collection: %w", err)
	}
	items := make([]model.MediaItem, 0, len(rows))
	for i := range rows {
		item := movieItem(&rows[i].Movie)
		item.Collected = true
		items = append(items, item)
	}
	return items, nil
}

// Ratings returns the rated movies.
func (c *Client) Ratings(ctx context.Context) ([]model.MediaItem, error) {
	var rows []ratedMovie
	if _, err := c.do(ctx, http.MethodGet, "/sync/ratings/movies", nil, nil, &rows); err != nil {
		return nil, fmt.Errorf("fetching ratings: %w", err)
	}
	items := make([]model.MediaItem, 0, len(rows))
	for i := range rows {
		item := movieItem(&rows[i].Movie)
		item.Rating = model.ClampRating(float64(rows[i].Rating))
		items = append(items, item)
	}
	return items, nil
}

// Watchlist returns the user's watchlist movies and shows in rank order.
func (c *Client) Watchlist(ctx context.Context) ([]model.ListEntry, error) {
	var rows []listItem
	path := "/users/" + url.PathEscape(c.user) + "/watchlist"
	if _, err := c.do(ctx, http.MethodGet, path, nil, nil, &rows); err != nil {
		return nil, fmt.Errorf("fetching watchlist: %w", err)
	}
	return entries(rows), nil
}

// LikedLists returns the custom lists the user has liked.
func (c *Client) LikedLists(ctx context.Context) ([]model.ListRef, error) {
	rows, err := getAll[likedList](ctx, c, "/users/likes/lists")
	if err != nil {
		return nil, fmt.Errorf("fetching liked lists: %w", err)
	}
	refs := make([]model.ListRef, 0, len(rows))
	for _, r := range rows {
		owner := r.List.User.IDs.Slug
		if owner == "" {
			owner = r.List.User.Username
		}
		slug := r.List.IDs.Slug
		if slug == "" {
			slug = itoa(r.List.IDs.Trakt)
		}
		refs = append(refs, model.ListRef{Owner: owner, Name: r.List.Name, Slug: slug})
	}
	return refs, nil
}

// ListItems returns the entries of a custom list in rank order.
func (c *Client) ListItems(ctx context.Context, ref model.ListRef) ([]model.ListEntry, error) {
	path := "/users/" + url.PathEscape(ref.Owner) + "/lists/" + url.PathEscape(ref.Slug) + "/items"
	rows, err := getAll[listItem](ctx, c, path)
	if err != nil {
		return nil, fmt.Errorf("fetching list %s/%s: %w", ref.Owner, ref.Name, err)
	}
	return entries(rows), nil
}

func entries(rows []listItem) []model.ListEntry {
	out := make([]model.ListEntry, 0, len(rows))
	for i := range rows {
		if e, ok := rows[i].entry(); ok {
			out = append(out, e)
		}
	}
	return out
}

// --- writes ------------------------------------------------------------------

type syncEpisode struct {
	Number    int    `json:"number"`
	WatchedAt string `json:"watched_at,omitempty"`
	Rating    int    `json:"rating,omitempty"`
}

type syncSeason struct {
	Number   int           `json:"number"`
	Episodes []syncEpisode `json:"episodes"`
}

type syncEntry struct {
	IDs       ids          `json:"ids"`
	WatchedAt string       `json:"watched_at,omitempty"`
	Rating    int          `json:"rating,omitempty"`
	Seasons   []syncSeason `json:"seasons,omitempty"`
}

type syncRequest struct {
	Movies []syncEntry `json:"movies,omitempty"`
	Shows  []syncEntry `json:"shows,omitempty"`
}

func formatWatchedAt(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// buildRequest wraps one item in a /sync payload. Episodes are nested under
// their show.
func buildRequest(item *model.MediaItem, watchedAt time.Time, rating model.Rating) syncRequest {
	at := formatWatchedAt(watchedAt)
	entry := syncEntry{IDs: fromModelIDs(item.IDs)}
	switch item.Kind {
	case model.KindEpisode:
		entry.Seasons = []syncSeason{{
			Number:   item.Season,
			Episodes: []syncEpisode{{Number: item.Episode, WatchedAt: at, Rating: int(rating)}},
		}}
		return syncRequest{Shows: []syncEntry{entry}}
	case model.KindShow:
		entry.WatchedAt = at
		entry.Rating = int(rating)
		return syncRequest{Shows: []syncEntry{entry}}
	default:
		entry.WatchedAt = at
		entry.Rating = int(rating)
		return syncRequest{Movies: []syncEntry{entry}}
	}
}

func (c *Client) post(ctx context.Context, path string, item *model.MediaItem, body syncRequest) error {
	var resp syncResponse
	if _, err := c.do(ctx, http.MethodPost, path, nil, body, &resp); err != nil {
		return err
	}
	if resp.notFound() > 0 {
		return fmt.Errorf("%s not found on Trakt", item)
	}
	return nil
}

// MarkWatched adds a play at the given time. A zero time lets the server
// use the current time.
func (c *Client) MarkWatched(ctx context.Context, item *model.MediaItem, at time.Time) error {
	if err := c.post(ctx, "/sync/history", item, buildRequest(item, at, model.NoRating)); err != nil {
		return fmt.Errorf("adding %s to history: %w", item, err)
	}
	return nil
}

// SetRating rates the item on the 1–10 scale.
func (c *Client) SetRating(ctx context.Context, item *model.MediaItem, rating model.Rating) error {
	if !rating.Valid() {
		return fmt.Errorf("rating %d out of range for %s", rating, item)
	}
	if err := c.post(ctx, "/sync/ratings", item, buildRequest(item, time.Time{}, rating)); err != nil {
		return fmt.Errorf("rating %s: %w", item, err)
	}
	return nil
}

// AddToCollection adds the item to the user's collection.
func (c *Client) AddToCollection(ctx context.Context, item *model.MediaItem) error {
	if err := c.post(ctx, "/sync/collection", item, buildRequest(item, time.Time{}, model.NoRating)); err != nil {
		return fmt.Errorf("collecting %s: %w", item, err)
	}
	return nil
}
