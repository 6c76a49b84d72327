package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// CachedResponse is a stored GET response.
type CachedResponse struct {
	Status   int
	Header   http.Header
	Body     []byte
	StoredAt time.Time
}

// ResponseCache persists responses keyed by request URL.
// Implemented by [state.Store].
type ResponseCache interface {
	GetResponse(ctx context.Context, key string) (*CachedResponse, error)
	PutResponse(ctx context.Context, key string, resp *CachedResponse) error
	PurgeResponses(ctx context.Context, prefix string) error
}

type bypassKey struct{}

// WithoutCache returns a context whose requests skip the response cache in
// both directions. The bypass ends with the returned context.
func WithoutCache(ctx context.Context) context.Context {
	return context.WithValue(ctx, bypassKey{}, true)
}

func bypassed(ctx context.Context) bool {
	v, _ := ctx.Value(bypassKey{}).(bool)
	return v
}

// CachingTransport serves successful GET responses from a [ResponseCache]
// until they are older than TTL. Any successful mutating request purges the
// cached entries of its host so later reads observe the change.
type CachingTransport struct {
	Base  http.RoundTripper
	Cache ResponseCache
	TTL   time.Duration
	Log   *slog.Logger

	// Mutation classifies requests that change server state. Nil means
	// every non-GET, non-HEAD request.
	Mutation func(*http.Request) bool

	now func() time.Time
}

func (t *CachingTransport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *CachingTransport) clock() time.Time {
	if t.now != nil {
		return t.now()
	}
	return time.Now()
}

func (t *CachingTransport) isMutation(req *http.Request) bool {
	if t.Mutation != nil {
		return t.Mutation(req)
	}
	return req.Method != http.MethodGet && req.Method != http.MethodHead
}

func hostPrefix(req *http.Request) string {
	return req.URL.Scheme + "://" + req.URL.Host + "/"
}

// RoundTrip implements http.RoundTripper.
func (t *CachingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if t.Cache == nil || t.TTL <= 0 {
		return t.base().RoundTrip(req)
	}

	if t.isMutation(req) {
		resp, err := t.base().RoundTrip(req)
		if err == nil && resp.StatusCode < 300 {
			if perr := t.Cache.PurgeResponses(ctx, hostPrefix(req)); perr != nil {
				t.logger().Warn("purging response cache", "host", req.URL.Host, "error", perr)
			}
		}
		return resp, err
	}

	if req.Method != http.MethodGet || bypassed(ctx) {
		return t.base().RoundTrip(req)
	}

	key := req.URL.String()
	cached, err := t.Cache.GetResponse(ctx, key)
	if err != nil {
		t.logger().Warn("reading response cache", "url", key, "error", err)
	}
	if cached != nil && t.clock().Sub(cached.StoredAt) < t.TTL {
		return &http.Response{
			Status:        fmt.Sprintf("%d %s", cached.Status, http.StatusText(cached.Status)),
			StatusCode:    cached.Status,
			Proto:         "HTTP/1.1",
			ProtoMajor:    1,
			ProtoMinor:    1,
			Header:        cached.Header.Clone(),
			Body:          io.NopCloser(bytes.NewReader(cached.Body)),
			ContentLength: int64(len(cached.Body)),
			Request:       req,
		}, nil
	}

	resp, err := t.base().RoundTrip(req)
	if err != nil || resp.StatusCode != http.StatusOK {
		return resp, err
	}
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	entry := &CachedResponse{
		Status:   resp.StatusCode,
		Header:   resp.Header.Clone(),
		Body:     body,
		StoredAt: t.clock(),
	}
	if err := t.Cache.PutResponse(ctx, key, entry); err != nil {
		t.logger().Warn("writing response cache", "url", key, "error", err)
	}
	return resp, nil
}

func (t *CachingTransport) logger() *slog.Logger {
	if t.Log != nil {
		return t.Log
	}
	return slog.Default()
}
