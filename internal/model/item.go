// Package model defines shared types used across the sync engine and the
// Plex and Trakt adapters.
package model

import (
	"fmt"
	"strings"
	"time"
)

// Kind identifies what a [MediaItem] or [Section] holds.
type Kind int

const (
	// KindMovie is a single movie.
	KindMovie Kind = iota
	// KindShow is a whole TV show. Sections of this kind yield episodes.
	KindShow
	// KindEpisode is a single episode of a show.
	KindEpisode
)

// String returns the lower-case label used in logs and cache keys.
func (k Kind) String() string {
	switch k {
	case KindMovie:
		return "movie"
	case KindShow:
		return "show"
	case KindEpisode:
		return "episode"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Rating is a user rating on the shared 1–10 scale. The zero value means
// "not rated".
type Rating int

const (
	// NoRating is the unset rating.
	NoRating Rating = 0
	// MinRating and MaxRating bound valid ratings.
	MinRating Rating = 1
	MaxRating Rating = 10
)

// Valid reports whether r is a set rating inside the accepted scale.
func (r Rating) Valid() bool {
	return r >= MinRating && r <= MaxRating
}

// ClampRating converts a raw rating from either service to a [Rating].
// Values below 0.5 are treated as unset; values above 10 are capped.
func ClampRating(raw float64) Rating {
	if raw < 0.5 {
		return NoRating
	}
	r := Rating(raw + 0.5)
	if r > MaxRating {
		return MaxRating
	}
	return r
}

// MediaItem is the normalised representation of a movie, show, or episode
// shared between the Plex adapter, the Trakt adapter, and the sync engine.
//
// For episodes, IDs, Title and Year describe the parent show; Season and
// Episode locate the episode inside it.
type MediaItem struct {
	Kind Kind

	// IDs holds the cross-service external identifiers.
	IDs IDs

	Title string
	Year  int

	Season  int
	Episode int

	// LocalID is the Plex ratingKey. Empty for remote items.
	LocalID string

	// SectionKey is the Plex library section the item lives in.
	SectionKey string

	// ShowLocalID is the Plex ratingKey of the parent show (episodes only).
	ShowLocalID string

	Watched       bool
	LastWatchedAt time.Time

	Rating Rating

	Collected bool
}

// RemoteID returns the Trakt id once the item has been matched or loaded
// from Trakt, or "" otherwise.
func (m *MediaItem) RemoteID() string {
	return m.IDs[ProviderTrakt]
}

// episodeSuffix scopes an identity key to one episode of a show.
func (m *MediaItem) episodeSuffix() string {
	if m.Kind != KindEpisode {
		return ""
	}
	return fmt.Sprintf("/s%02de%02d", m.Season, m.Episode)
}

// IDKeys returns the item's identity keys in probe priority order, scoped
// to the episode for episodes.
func (m *MediaItem) IDKeys() []string {
	keys := m.IDs.Keys()
	if suffix := m.episodeSuffix(); suffix != "" {
		for i := range keys {
			keys[i] += suffix
		}
	}
	return keys
}

// FallbackKey returns the normalised "title|year" key used when no
// identifier matches, or "" when the item has no usable title.
func (m *MediaItem) FallbackKey() string {
	title := NormalizeTitle(m.Title)
	if title == "" {
		return ""
	}
	return fmt.Sprintf("%s|%d%s", title, m.Year, m.episodeSuffix())
}

// CanonicalKey is the single key remote state is tracked under: the Trakt
// id when known, else the highest-priority identifier, else the fallback
// key.
func (m *MediaItem) CanonicalKey() string {
	if id := m.RemoteID(); id != "" {
		return string(ProviderTrakt) + ":" + id + m.episodeSuffix()
	}
	if keys := m.IDKeys(); len(keys) > 0 {
		return keys[0]
	}
	return m.FallbackKey()
}

// Show returns the parent show of an episode, carrying the episode's
// identity fields. Non-episodes are returned unchanged.
func (m MediaItem) Show() MediaItem {
	if m.Kind != KindEpisode {
		return m
	}
	return MediaItem{
		Kind:       KindShow,
		IDs:        m.IDs.Clone(),
		Title:      m.Title,
		Year:       m.Year,
		LocalID:    m.ShowLocalID,
		SectionKey: m.SectionKey,
	}
}

// String renders the item for log output.
func (m MediaItem) String() string {
	var b strings.Builder
	b.WriteString(m.Title)
	if m.Year > 0 {
		fmt.Fprintf(&b, " (%d)", m.Year)
	}
	if m.Kind == KindEpisode {
		fmt.Fprintf(&b, " S%02dE%02d", m.Season, m.Episode)
	}
	return b.String()
}

// Section is a Plex library section holding items of one kind.
type Section struct {
	Key   string
	Title string
	Kind  Kind
}

// ListRef identifies a Trakt list. Owner is empty for the user's own
// watchlist.
type ListRef struct {
	Owner string
	Name  string
	// Slug is the Trakt list slug or id used to fetch its items.
	Slug string
}

// ListEntry is one ranked item in a Trakt list.
type ListEntry struct {
	Rank int
	Item MediaItem
}

// ListDelta reports what a list membership update changed.
type ListDelta struct {
	Created bool
	Added   int
	Removed int
}
