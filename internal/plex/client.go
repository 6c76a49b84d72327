// Package plex is the local library adapter. It talks to a Plex Media
// Server over its JSON API to list sections and items, write watched state,
// ratings and collection tags, and keep video playlists in step with remote
// lists.
package plex

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/njoerd114/plextraktsync/internal/transport"
)

const (
	defaultPageSize      = 200
	defaultCollectionTag = "Trakt Collection"
	defaultTimeout       = 30 * time.Second
)

// Options configures a [Client].
type Options struct {
	URL           string
	Token         string
	PageSize      int
	CollectionTag string

	// Transport is the base round tripper, typically a
	// [transport.CachingTransport]. Nil uses http.DefaultTransport.
	Transport http.RoundTripper
	Timeout   time.Duration
	Logger    *slog.Logger
}

// Identity describes the connected server.
type Identity struct {
	MachineID string
	Version   string
	UpdatedAt time.Time
}

// Client is the Plex adapter. It implements sync.LocalLibrary and
// sync.ListTarget.
type Client struct {
	baseURL       string
	token         string
	pageSize      int
	collectionTag string
	hc            *http.Client
	log           *slog.Logger

	machineID string
}

// New creates a Client.
func New(opts Options) *Client {
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.CollectionTag == "" {
		opts.CollectionTag = defaultCollectionTag
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Client{
		baseURL:       strings.TrimRight(opts.URL, "/"),
		token:         opts.Token,
		pageSize:      opts.PageSize,
		collectionTag: opts.CollectionTag,
		hc:            &http.Client{Transport: opts.Transport, Timeout: opts.Timeout},
		log:           opts.Logger,
	}
}

// IsMutation reports whether req changes server state. Plex exposes some
// writes (scrobble, rate) as GET requests under "/:/".
func IsMutation(req *http.Request) bool {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return true
	}
	return strings.HasPrefix(req.URL.Path, "/:/")
}

// Identity fetches the server's machine id and version, bypassing the
// response cache.
func (c *Client) Identity(ctx context.Context) (Identity, error) {
	var out container
	if err := c.do(transport.WithoutCache(ctx), http.MethodGet, "/", nil, &out); err != nil {
		return Identity{}, fmt.Errorf("fetching server identity: %w", err)
	}
	mc := out.MediaContainer
	if mc.MachineIdentifier == "" {
		return Identity{}, fmt.Errorf("server at %s returned no machine identifier", c.baseURL)
	}
	c.machineID = mc.MachineIdentifier
	return Identity{
		MachineID: mc.MachineIdentifier,
		Version:   mc.Version,
		UpdatedAt: unixTime(mc.UpdatedAt),
	}, nil
}

func (c *Client) machine(ctx context.Context) (string, error) {
	if c.machineID != "" {
		return c.machineID, nil
	}
	id, err := c.Identity(ctx)
	if err != nil {
		return "", err
	}
	return id.MachineID, nil
}

// RecentlyAdded returns display titles of the n most recently added items.
func (c *Client) RecentlyAdded(ctx context.Context, n int) ([]string, error) {
	q := url.Values{}
	q.Set("X-Plex-Container-Start", "0")
	q.Set("X-Plex-Container-Size", fmt.Sprint(n))
	var out container
	if err := c.do(ctx, http.MethodGet, "/library/recentlyAdded", q, &out); err != nil {
		return nil, fmt.Errorf("fetching recently added: %w", err)
	}
	titles := make([]string, 0, len(out.MediaContainer.Metadata))
	for _, m := range out.MediaContainer.Metadata {
		title := m.Title
		if m.GrandparentTitle != "" {
			title = m.GrandparentTitle + " - " + m.Title
		}
		titles = append(titles, title)
		if len(titles) == n {
			break
		}
	}
	return titles, nil
}

// do performs one API call with retries, decoding the JSON body into out
// when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	return transport.Retry(ctx, transport.DefaultMaxAttempts, func() error {
		req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("X-Plex-Token", c.token)
		req.Header.Set("X-Plex-Product", "plextraktsync")
		req.Header.Set("X-Plex-Client-Identifier", "plextraktsync")
		req.Header.Set("Accept", "application/json")

		resp, err := c.hc.Do(req)
		if err != nil {
			return fmt.Errorf("%s %s: %w", method, path, err)
		}
		if err := transport.CheckResponse(resp); err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding %s: %w", path, err)
		}
		return nil
	})
}
