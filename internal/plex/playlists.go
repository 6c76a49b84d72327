package plex

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/njoerd114/plextraktsync/internal/model"
)

// DiffAndApplyListMembership makes the video playlist titled name contain
// exactly desired. Missing items are added in one call, extra items are
// removed one by one, and the playlist is created when absent and desired is
// non-empty. Plex playlists have no owner, so lists owned by someone are
// titled "<name> (<owner>)".
//
// Adding a show puts its episodes in the playlist, so episode entries count
// as their show when the show itself is desired.
func (c *Client) DiffAndApplyListMembership(ctx context.Context, owner, name string, desired []model.MediaItem) (model.ListDelta, error) {
	var delta model.ListDelta
	name = playlistTitle(owner, name)

	want := make([]string, 0, len(desired))
	wanted := make(map[string]bool, len(desired))
	for i := range desired {
		if desired[i].LocalID != "" {
			want = append(want, desired[i].LocalID)
			wanted[desired[i].LocalID] = true
		}
	}

	playlist, err := c.findPlaylist(ctx, name)
	if err != nil {
		return delta, err
	}

	if playlist == nil {
		add, _ := model.DiffMembership(nil, want)
		if len(add) == 0 {
			return delta, nil
		}
		if err := c.createPlaylist(ctx, name, add); err != nil {
			return delta, err
		}
		c.log.Debug("created playlist", "playlist", name, "owner", owner, "items", len(add))
		return model.ListDelta{Created: true, Added: len(add)}, nil
	}

	entries, err := c.playlistEntries(ctx, playlist.RatingKey)
	if err != nil {
		return delta, err
	}
	current := make([]string, 0, len(entries))
	entryIDs := make(map[string][]int64, len(entries))
	for _, e := range entries {
		key := e.RatingKey
		if e.Type == "episode" && wanted[e.GrandparentRatingKey] {
			key = e.GrandparentRatingKey
		}
		if _, seen := entryIDs[key]; !seen {
			current = append(current, key)
		}
		entryIDs[key] = append(entryIDs[key], e.PlaylistItemID)
	}

	add, remove := model.DiffMembership(current, want)

	if len(add) > 0 {
		uri, err := c.itemsURI(ctx, add)
		if err != nil {
			return delta, err
		}
		q := url.Values{}
		q.Set("uri", uri)
		path := "/playlists/" + url.PathEscape(playlist.RatingKey) + "/items"
		if err := c.do(ctx, http.MethodPut, path, q, nil); err != nil {
			return delta, fmt.Errorf("adding %d items to playlist %q: %w", len(add), name, err)
		}
		delta.Added = len(add)
	}

	for _, key := range remove {
		for _, id := range entryIDs[key] {
			path := "/playlists/" + url.PathEscape(playlist.RatingKey) + "/items/" + strconv.FormatInt(id, 10)
			if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
				return delta, fmt.Errorf("removing item %s from playlist %q: %w", key, name, err)
			}
		}
		delta.Removed++
	}
	return delta, nil
}

// playlistTitle is the Plex playlist title for the list name owned by owner.
func playlistTitle(owner, name string) string {
	if owner == "" {
		return name
	}
	return name + " (" + owner + ")"
}

func (c *Client) findPlaylist(ctx context.Context, name string) (*metadata, error) {
	q := url.Values{}
	q.Set("playlistType", "video")
	var out container
	if err := c.do(ctx, http.MethodGet, "/playlists", q, &out); err != nil {
		return nil, fmt.Errorf("listing playlists: %w", err)
	}
	for i := range out.MediaContainer.Metadata {
		p := &out.MediaContainer.Metadata[i]
		if p.Title == name && !p.Smart {
			return p, nil
		}
	}
	return nil, nil //nolint:nilnil // not found
}

func (c *Client) playlistEntries(ctx context.Context, id string) ([]metadata, error) {
	var out container
	path := "/playlists/" + url.PathEscape(id) + "/items"
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("reading playlist %s: %w", id, err)
	}
	return out.MediaContainer.Metadata, nil
}

func (c *Client) createPlaylist(ctx context.Context, name string, keys []string) error {
	uri, err := c.itemsURI(ctx, keys)
	if err != nil {
		return err
	}
	q := url.Values{}
	q.Set("type", "video")
	q.Set("title", name)
	q.Set("smart", "0")
	q.Set("uri", uri)
	if err := c.do(ctx, http.MethodPost, "/playlists", q, nil); err != nil {
		return fmt.Errorf("creating playlist %q: %w", name, err)
	}
	return nil
}

// itemsURI builds the library uri Plex expects when adding items.
func (c *Client) itemsURI(ctx context.Context, keys []string) (string, error) {
	machine, err := c.machine(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("server://%s/%s/library/metadata/%s", machine, libraryIdentifier, strings.Join(keys, ",")), nil
}
