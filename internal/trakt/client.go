// Package trakt is the remote tracker adapter. It reads the user's watched
// history, collection, ratings, watchlist and liked lists from the Trakt
// API, writes history, ratings and collection entries back, and resolves
// external ids to Trakt ids.
//
// Requests carry an OAuth bearer token that is refreshed automatically
// through golang.org/x/oauth2, and are paced by separate read and write
// rate limiters.
package trakt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/njoerd114/plextraktsync/internal/transport"
)

const (
	// DefaultBaseURL is the production API.
	DefaultBaseURL = "https://api.trakt.tv"

	apiVersion     = "2"
	pageLimit      = 100
	defaultTimeout = 30 * time.Second
)

// Default pacing: reads 1000 per 5 minutes, writes one per second.
var (
	defaultReadLimit  = rate.Limit(1000.0 / 300.0)
	defaultWriteLimit = rate.Every(time.Second)
)

// Options configures a [Client].
type Options struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Token        *oauth2.Token
	// Username owns the watchlist. Defaults to "me".
	Username string

	// Transport is the base round tripper beneath the OAuth transport.
	Transport http.RoundTripper
	Timeout   time.Duration
	Logger    *slog.Logger

	// ReadLimit and WriteLimit override the default pacing. Zero keeps the
	// default; rate.Inf disables pacing.
	ReadLimit  rate.Limit
	WriteLimit rate.Limit
}

// Client is the Trakt adapter. It implements sync.RemoteTracker and
// match.Resolver.
type Client struct {
	base     string
	clientID string
	user     string
	hc       *http.Client
	read     *rate.Limiter
	write    *rate.Limiter
	log      *slog.Logger
}

// New creates a Client. ctx scopes token refreshes.
func New(ctx context.Context, opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Username == "" {
		opts.Username = "me"
	}
	if opts.ReadLimit == 0 {
		opts.ReadLimit = defaultReadLimit
	}
	if opts.WriteLimit == 0 {
		opts.WriteLimit = defaultWriteLimit
	}
	base := opts.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	conf := &oauth2.Config{
		ClientID:     opts.ClientID,
		ClientSecret: opts.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  opts.BaseURL + "/oauth/authorize",
			TokenURL: opts.BaseURL + "/oauth/token",
		},
	}
	token := opts.Token
	if token == nil {
		token = &oauth2.Token{}
	}
	refreshCtx := context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Transport: base, Timeout: opts.Timeout})

	return &Client{
		base:     opts.BaseURL,
		clientID: opts.ClientID,
		user:     opts.Username,
		hc: &http.Client{
			Transport: &oauth2.Transport{Source: conf.TokenSource(refreshCtx, token), Base: base},
			Timeout:   opts.Timeout,
		},
		read:  rate.NewLimiter(opts.ReadLimit, 10),
		write: rate.NewLimiter(opts.WriteLimit, 1),
		log:   opts.Logger,
	}
}

// do performs one API call with pacing and retries. body, when non-nil, is
// sent as JSON; out, when non-nil, receives the decoded response.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) (http.Header, error) {
	endpoint := c.base + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("encoding %s body: %w", path, err)
		}
	}

	limiter := c.read
	if method != http.MethodGet {
		limiter = c.write
	}

	var header http.Header
	err := transport.Retry(ctx, transport.DefaultMaxAttempts, func() error {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}

		var rd io.Reader
		if payload != nil {
			rd = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, rd)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("trakt-api-version", apiVersion)
		req.Header.Set("trakt-api-key", c.clientID)

		resp, err := c.hc.Do(req)
		if err != nil {
			return fmt.Errorf("%s %s: %w", method, path, err)
		}
		if err := transport.CheckResponse(resp); err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		header = resp.Header
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding %s: %w", path, err)
		}
		return nil
	})
	return header, err
}

// getAll fetches every page of a paginated list endpoint.
func getAll[T any](ctx context.Context, c *Client, path string) ([]T, error) {
	var all []T
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("page", strconv.Itoa(page))
		q.Set("limit", strconv.Itoa(pageLimit))

		var batch []T
		header, err := c.do(ctx, http.MethodGet, path, q, nil, &batch)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)

		pages, _ := strconv.Atoi(header.Get("X-Pagination-Page-Count"))
		if page >= pages || len(batch) == 0 {
			return all, nil
		}
	}
}
