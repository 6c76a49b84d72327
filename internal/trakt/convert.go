package trakt

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/njoerd114/plextraktsync/internal/model"
)

// ids is the Trakt ids object. Numeric ids are null for unknown entries.
type ids struct {
	Trakt int64  `json:"trakt,omitempty"`
	Slug  string `json:"slug,omitempty"`
	IMDB  string `json:"imdb,omitempty"`
	TMDB  int64  `json:"tmdb,omitempty"`
	TVDB  int64  `json:"tvdb,omitempty"`
}

type movie struct {
	Title string `json:"title,omitempty"`
	Year  int    `json:"year,omitempty"`
	IDs   ids    `json:"ids"`
}

// show shares the movie shape.
type show = movie

type episode struct {
	Season int    `json:"season"`
	Number int    `json:"number"`
	Title  string `json:"title,omitempty"`
	IDs    ids    `json:"ids"`
}

type watchedMovie struct {
	Plays         int       `json:"plays"`
	LastWatchedAt time.Time `json:"last_watched_at"`
	Movie         movie     `json:"movie"`
}

type watchedShow struct {
	Show    show `json:"show"`
	Seasons []struct {
		Number   int `json:"number"`
		Episodes []struct {
			Number        int       `json:"number"`
			Plays         int       `json:"plays"`
			LastWatchedAt time.Time `json:"last_watched_at"`
		} `json:"episodes"`
	} `json:"seasons"`
}

type collectedMovie struct {
	CollectedAt time.Time `json:"collected_at"`
	Movie       movie     `json:"movie"`
}

type ratedMovie struct {
	Rating  int       `json:"rating"`
	RatedAt time.Time `json:"rated_at"`
	Movie   movie     `json:"movie"`
}

// listItem is an entry of the watchlist or a custom list.
type listItem struct {
	Rank    int      `json:"rank"`
	Type    string   `json:"type"`
	Movie   *movie   `json:"movie,omitempty"`
	Show    *show    `json:"show,omitempty"`
	Episode *episode `json:"episode,omitempty"`
}

type likedList struct {
	Type string `json:"type"`
	List struct {
		Name string `json:"name"`
		IDs  struct {
			Trakt int64  `json:"trakt"`
			Slug  string `json:"slug"`
		} `json:"ids"`
		User struct {
			Username string `json:"username"`
			IDs      struct {
				Slug string `json:"slug"`
			} `json:"ids"`
		} `json:"user"`
	} `json:"list"`
}

type searchResult struct {
	Type  string `json:"type"`
	Movie *movie `json:"movie,omitempty"`
	Show  *show  `json:"show,omitempty"`
}

// syncResponse is the body of /sync/* write endpoints.
type syncResponse struct {
	NotFound struct {
		Movies   []json.RawMessage `json:"movies"`
		Shows    []json.RawMessage `json:"shows"`
		Episodes []json.RawMessage `json:"episodes"`
	} `json:"not_found"`
}

func (r *syncResponse) notFound() int {
	return len(r.NotFound.Movies) + len(r.NotFound.Shows) + len(r.NotFound.Episodes)
}

func itoa(n int64) string {
	if n == 0 {
		return ""
	}
	return strconv.FormatInt(n, 10)
}

func atoi(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

// toModelIDs converts Trakt ids to the shared id set.
func toModelIDs(in ids) model.IDs {
	out := model.IDs{}
	set := func(p model.Provider, v string) {
		if v != "" {
			out[p] = v
		}
	}
	set(model.ProviderTrakt, itoa(in.Trakt))
	set(model.ProviderSlug, in.Slug)
	set(model.ProviderIMDB, in.IMDB)
	set(model.ProviderTMDB, itoa(in.TMDB))
	set(model.ProviderTVDB, itoa(in.TVDB))
	return out
}

// fromModelIDs converts the shared id set to Trakt ids for write payloads.
func fromModelIDs(in model.IDs) ids {
	return ids{
		Trakt: atoi(in[model.ProviderTrakt]),
		Slug:  in[model.ProviderSlug],
		IMDB:  in[model.ProviderIMDB],
		TMDB:  atoi(in[model.ProviderTMDB]),
		TVDB:  atoi(in[model.ProviderTVDB]),
	}
}

func movieItem(m *movie) model.MediaItem {
	return model.MediaItem{
		Kind:  model.KindMovie,
		IDs:   toModelIDs(m.IDs),
		Title: m.Title,
		Year:  m.Year,
	}
}

func showItem(s *show) model.MediaItem {
	item := movieItem(s)
	item.Kind = model.KindShow
	return item
}

// entry converts a list item to a ranked entry. Episodes and seasons are
// reported as their show; unknown types are skipped.
func (li *listItem) entry() (model.ListEntry, bool) {
	switch {
	case li.Movie != nil && li.Type == "movie":
		return model.ListEntry{Rank: li.Rank, Item: movieItem(li.Movie)}, true
	case li.Show != nil:
		return model.ListEntry{Rank: li.Rank, Item: showItem(li.Show)}, true
	default:
		return model.ListEntry{}, false
	}
}
