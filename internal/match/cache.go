package match

import (
	"context"
	"fmt"
	"time"

	"github.com/njoerd114/plextraktsync/internal/model"
)

// missTTL bounds how long a cached "not found" answer is trusted. Found
// answers do not expire.
const missTTL = 7 * 24 * time.Hour

// Store persists resolver answers between runs. A nil ids value records a
// miss. Implemented by [state.Store].
type Store interface {
	LookupMatch(ctx context.Context, key string) (ids model.IDs, resolvedAt time.Time, found bool, err error)
	RememberMatch(ctx context.Context, key string, ids model.IDs) error
}

// CachedResolver memoises another Resolver in a [Store].
type CachedResolver struct {
	next  Resolver
	store Store
	now   func() time.Time
}

// NewCachedResolver wraps next with a persistent cache.
func NewCachedResolver(next Resolver, store Store) *CachedResolver {
	return &CachedResolver{next: next, store: store, now: time.Now}
}

// Resolve answers from the cache when possible and records the outcome of
// every call that reaches next, misses included.
func (c *CachedResolver) Resolve(ctx context.Context, kind model.Kind, ids model.IDs) (model.IDs, bool, error) {
	keys := ids.Keys()
	if len(keys) == 0 {
		return nil, false, nil
	}
	key := kind.String() + "|" + keys[0]

	cached, at, found, err := c.store.LookupMatch(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("reading match cache: %w", err)
	}
	if found {
		if cached != nil {
			return cached, true, nil
		}
		if c.now().Sub(at) < missTTL {
			return nil, false, nil
		}
	}

	resolved, ok, err := c.next.Resolve(ctx, kind, ids)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		resolved = nil
	}
	if err := c.store.RememberMatch(ctx, key, resolved); err != nil {
		return nil, false, fmt.Errorf("writing match cache: %w", err)
	}
	return resolved, ok, nil
}
