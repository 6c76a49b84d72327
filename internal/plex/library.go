package plex

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"strconv"

	"github.com/njoerd114/plextraktsync/internal/model"
	"github.com/njoerd114/plextraktsync/internal/transport"
)

// Sections returns the library sections holding items of kind.
func (c *Client) Sections(ctx context.Context, kind model.Kind) ([]model.Section, error) {
	var out container
	if err := c.do(ctx, http.MethodGet, "/library/sections", nil, &out); err != nil {
		return nil, fmt.Errorf("listing sections: %w", err)
	}
	var sections []model.Section
	for _, d := range out.MediaContainer.Directory {
		k, ok := sectionKind(d.Type)
		if !ok || k != kind {
			continue
		}
		sections = append(sections, model.Section{Key: d.Key, Title: d.Title, Kind: k})
	}
	return sections, nil
}

// Items yields every item of section. Movie sections yield movies; show
// sections yield episodes carrying their show's identity. Each call to the
// returned sequence starts a fresh listing.
func (c *Client) Items(ctx context.Context, section model.Section) iter.Seq2[model.MediaItem, error] {
	return func(yield func(model.MediaItem, error) bool) {
		switch section.Kind {
		case model.KindMovie:
			for m, err := range c.pages(ctx, section.Key, typeMovie) {
				if err != nil {
					yield(model.MediaItem{}, err)
					return
				}
				if !yield(toMovie(m, section.Key, c.collectionTag), nil) {
					return
				}
			}

		case model.KindShow:
			shows := make(map[string]model.MediaItem)
			for m, err := range c.pages(ctx, section.Key, typeShow) {
				if err != nil {
					yield(model.MediaItem{}, err)
					return
				}
				shows[m.RatingKey] = model.MediaItem{
					Kind:       model.KindShow,
					IDs:        parseGUIDs(m.GUID, m.Guid),
					Title:      m.Title,
					Year:       m.Year,
					LocalID:    m.RatingKey,
					SectionKey: section.Key,
				}
			}
			for m, err := range c.pages(ctx, section.Key, typeEpisode) {
				if err != nil {
					yield(model.MediaItem{}, err)
					return
				}
				var show *model.MediaItem
				if s, ok := shows[m.GrandparentRatingKey]; ok {
					show = &s
				}
				if !yield(toEpisode(m, show, section.Key), nil) {
					return
				}
			}

		default:
			yield(model.MediaItem{}, fmt.Errorf("section %q has unsupported kind %v", section.Title, section.Kind))
		}
	}
}

// pages lists one metadata type of a section page by page.
func (c *Client) pages(ctx context.Context, sectionKey string, typ int) iter.Seq2[*metadata, error] {
	return func(yield func(*metadata, error) bool) {
		path := "/library/sections/" + url.PathEscape(sectionKey) + "/all"
		for start := 0; ; {
			q := url.Values{}
			q.Set("type", strconv.Itoa(typ))
			q.Set("includeGuids", "1")
			q.Set("X-Plex-Container-Start", strconv.Itoa(start))
			q.Set("X-Plex-Container-Size", strconv.Itoa(c.pageSize))

			var out container
			if err := c.do(ctx, http.MethodGet, path, q, &out); err != nil {
				yield(nil, fmt.Errorf("listing section %s: %w", sectionKey, err))
				return
			}
			batch := out.MediaContainer.Metadata
			for i := range batch {
				if !yield(&batch[i], nil) {
					return
				}
			}

			start += len(batch)
			total := out.MediaContainer.TotalSize
			if len(batch) < c.pageSize || (total > 0 && start >= total) {
				return
			}
		}
	}
}

// MarkWatched scrobbles the item.
func (c *Client) MarkWatched(ctx context.Context, item *model.MediaItem) error {
	q := url.Values{}
	q.Set("key", item.LocalID)
	q.Set("identifier", libraryIdentifier)
	if err := c.do(ctx, http.MethodGet, "/:/scrobble", q, nil); err != nil {
		return fmt.Errorf("marking %s watched: %w", item, err)
	}
	return nil
}

// SetRating writes the user rating on the 1–10 scale.
func (c *Client) SetRating(ctx context.Context, item *model.MediaItem, rating model.Rating) error {
	if !rating.Valid() {
		return fmt.Errorf("rating %d out of range for %s", rating, item)
	}
	q := url.Values{}
	q.Set("key", item.LocalID)
	q.Set("identifier", libraryIdentifier)
	q.Set("rating", strconv.Itoa(int(rating)))
	if err := c.do(ctx, http.MethodPut, "/:/rate", q, nil); err != nil {
		return fmt.Errorf("rating %s: %w", item, err)
	}
	return nil
}

// SetCollected adds or removes the configured collection tag, keeping the
// item's other collections.
func (c *Client) SetCollected(ctx context.Context, item *model.MediaItem, collected bool) error {
	var out container
	path := "/library/metadata/" + url.PathEscape(item.LocalID)
	if err := c.do(transport.WithoutCache(ctx), http.MethodGet, path, nil, &out); err != nil {
		return fmt.Errorf("reading collections of %s: %w", item, err)
	}
	if len(out.MediaContainer.Metadata) == 0 {
		return fmt.Errorf("item %s not found on server", item)
	}
	current := &out.MediaContainer.Metadata[0]
	if current.hasTag(c.collectionTag) == collected {
		return nil
	}

	typ := typeMovie
	switch item.Kind {
	case model.KindShow:
		typ = typeShow
	case model.KindEpisode:
		typ = typeEpisode
	}

	q := url.Values{}
	q.Set("type", strconv.Itoa(typ))
	q.Set("id", item.LocalID)
	q.Set("collection.locked", "1")
	if collected {
		i := 0
		for _, t := range current.Collection {
			q.Set(fmt.Sprintf("collection[%d].tag.tag", i), t.Tag)
			i++
		}
		q.Set(fmt.Sprintf("collection[%d].tag.tag", i), c.collectionTag)
	} else {
		q.Set("collection[].tag.tag-", c.collectionTag)
	}

	sectionPath := "/library/sections/" + url.PathEscape(item.SectionKey) + "/all"
	if err := c.do(ctx, http.MethodPut, sectionPath, q, nil); err != nil {
		return fmt.Errorf("updating collections of %s: %w", item, err)
	}
	return nil
}
