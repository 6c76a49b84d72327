package trakt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/njoerd114/plextraktsync/internal/model"
	"github.com/njoerd114/plextraktsync/internal/transport"
)

// searchProviders are the id types the search endpoint accepts, in lookup
// order.
var searchProviders = []model.Provider{model.ProviderIMDB, model.ProviderTMDB, model.ProviderTVDB}

// Resolve looks up the Trakt ids of a movie or show by external id. It
// reports false when no provider id is known to Trakt.
func (c *Client) Resolve(ctx context.Context, kind model.Kind, in model.IDs) (model.IDs, bool, error) {
	if in[model.ProviderTrakt] != "" {
		return in.Clone(), true, nil
	}
	typ := "movie"
	if kind == model.KindShow || kind == model.KindEpisode {
		typ = "show"
	}

	for _, p := range searchProviders {
		id := in[p]
		if id == "" {
			continue
		}
		q := url.Values{}
		q.Set("type", typ)
		path := "/search/" + string(p) + "/" + url.PathEscape(id)

		var results []searchResult
		_, err := c.do(ctx, http.MethodGet, path, q, nil, &results)
		var se *transport.StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("searching %s %s: %w", p, id, err)
		}
		for _, r := range results {
			switch {
			case typ == "movie" && r.Movie != nil:
				return toModelIDs(r.Movie.IDs), true, nil
			case typ == "show" && r.Show != nil:
				return toModelIDs(r.Show.IDs), true, nil
			}
		}
	}
	return nil, false, nil
}
