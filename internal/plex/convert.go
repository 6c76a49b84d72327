package plex

import (
	"strings"
	"time"

	"github.com/njoerd114/plextraktsync/internal/model"
)

// Plex metadata type numbers used in the type= query parameter.
const (
	typeMovie   = 1
	typeShow    = 2
	typeEpisode = 4

	libraryIdentifier = "com.plexapp.plugins.library"
)

// container is the envelope of every Plex JSON response.
type container struct {
	MediaContainer mediaContainer `json:"MediaContainer"`
}

type mediaContainer struct {
	Size              int         `json:"size"`
	TotalSize         int         `json:"totalSize"`
	MachineIdentifier string      `json:"machineIdentifier"`
	Version           string      `json:"version"`
	UpdatedAt         int64       `json:"updatedAt"`
	Directory         []directory `json:"Directory"`
	Metadata          []metadata  `json:"Metadata"`
}

type directory struct {
	Key   string `json:"key"`
	Title string `json:"title"`
	Type  string `json:"type"`
}

type tag struct {
	Tag string `json:"tag"`
}

type guid struct {
	ID string `json:"id"`
}

type media struct {
	ID   int64  `json:"id"`
	Part []part `json:"Part"`
}

type part struct {
	File string `json:"file"`
}

// metadata is one library item, playlist, or playlist entry.
type metadata struct {
	RatingKey            string  `json:"ratingKey"`
	Type                 string  `json:"type"`
	Title                string  `json:"title"`
	Year                 int     `json:"year"`
	GUID                 string  `json:"guid"`
	Guid                 []guid  `json:"Guid"` //nolint:revive // mirrors the Plex field name
	ViewCount            int     `json:"viewCount"`
	LastViewedAt         int64   `json:"lastViewedAt"`
	UserRating           float64 `json:"userRating"`
	Media                []media `json:"Media"`
	Collection           []tag   `json:"Collection"`
	LibrarySectionID     int64   `json:"librarySectionID"`
	GrandparentRatingKey string  `json:"grandparentRatingKey"`
	GrandparentTitle     string  `json:"grandparentTitle"`
	ParentIndex          int     `json:"parentIndex"`
	Index                int     `json:"index"`
	PlaylistItemID       int64   `json:"playlistItemID"`
	PlaylistType         string  `json:"playlistType"`
	Smart                bool    `json:"smart"`
}

// legacyAgents maps old-style agent guid prefixes to providers.
var legacyAgents = map[string]model.Provider{
	"com.plexapp.agents.imdb":       model.ProviderIMDB,
	"com.plexapp.agents.themoviedb": model.ProviderTMDB,
	"com.plexapp.agents.tmdb":       model.ProviderTMDB,
	"com.plexapp.agents.thetvdb":    model.ProviderTVDB,
	"com.plexapp.agents.tvdb":       model.ProviderTVDB,
}

// newAgentProviders maps new-agent Guid entry schemes to providers.
var newAgentProviders = map[string]model.Provider{
	"imdb": model.ProviderIMDB,
	"tmdb": model.ProviderTMDB,
	"tvdb": model.ProviderTVDB,
}

// parseGUIDs extracts external ids from the item guid and the new-agent Guid
// list. Local-only agents (local://, none://) yield nothing.
func parseGUIDs(primary string, extra []guid) model.IDs {
	ids := model.IDs{}
	for _, g := range extra {
		scheme, value, ok := strings.Cut(g.ID, "://")
		if !ok || value == "" {
			continue
		}
		if p, known := newAgentProviders[scheme]; known && ids[p] == "" {
			ids[p] = value
		}
	}

	scheme, rest, ok := strings.Cut(primary, "://")
	if !ok {
		return ids
	}
	p, known := legacyAgents[scheme]
	if !known {
		return ids
	}
	value, _, _ := strings.Cut(rest, "?")
	// Legacy tvdb episode guids carry "/season/episode" after the show id.
	value, _, _ = strings.Cut(value, "/")
	if value != "" && ids[p] == "" {
		ids[p] = value
	}
	return ids
}

func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

func sectionKind(t string) (model.Kind, bool) {
	switch t {
	case "movie":
		return model.KindMovie, true
	case "show":
		return model.KindShow, true
	default:
		return 0, false
	}
}

// hasTag reports whether the item carries the named collection tag.
func (m *metadata) hasTag(name string) bool {
	for _, c := range m.Collection {
		if strings.EqualFold(c.Tag, name) {
			return true
		}
	}
	return false
}

// hasFile reports whether any media part points at a file.
func (m *metadata) hasFile() bool {
	for _, md := range m.Media {
		if len(md.Part) > 0 {
			return true
		}
	}
	return false
}

// toMovie converts a movie entry.
func toMovie(m *metadata, sectionKey, collectionTag string) model.MediaItem {
	return model.MediaItem{
		Kind:          model.KindMovie,
		IDs:           parseGUIDs(m.GUID, m.Guid),
		Title:         m.Title,
		Year:          m.Year,
		LocalID:       m.RatingKey,
		SectionKey:    sectionKey,
		Watched:       m.ViewCount > 0,
		LastWatchedAt: unixTime(m.LastViewedAt),
		Rating:        model.ClampRating(m.UserRating),
		Collected:     m.hasFile() || m.hasTag(collectionTag),
	}
}

// toEpisode converts an episode entry, taking identity from its show.
func toEpisode(m *metadata, show *model.MediaItem, sectionKey string) model.MediaItem {
	item := model.MediaItem{
		Kind:          model.KindEpisode,
		Title:         m.GrandparentTitle,
		Season:        m.ParentIndex,
		Episode:       m.Index,
		LocalID:       m.RatingKey,
		SectionKey:    sectionKey,
		ShowLocalID:   m.GrandparentRatingKey,
		Watched:       m.ViewCount > 0,
		LastWatchedAt: unixTime(m.LastViewedAt),
		Rating:        model.ClampRating(m.UserRating),
		Collected:     m.hasFile(),
	}
	if show != nil {
		item.IDs = show.IDs.Clone()
		item.Title = show.Title
		item.Year = show.Year
	}
	return item
}
