// Package match resolves the remote counterpart of a local library item.
//
// Remote items are indexed under every identifier key they carry and under
// their normalised title/year fallback key. A [Matcher] probes that index in
// provider priority order and, when an item carries identifiers the snapshot
// does not know, optionally asks a [Resolver] before giving up.
package match

import (
	"github.com/njoerd114/plextraktsync/internal/model"
)

// Index maps identity keys to remote items. The first item inserted under a
// key keeps it; later collisions are ignored.
type Index struct {
	byID       map[string]model.MediaItem
	byFallback map[string]model.MediaItem
	n          int
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{
		byID:       make(map[string]model.MediaItem),
		byFallback: make(map[string]model.MediaItem),
	}
}

// Add indexes item under all of its keys.
func (x *Index) Add(item model.MediaItem) {
	x.n++
	for _, k := range item.IDKeys() {
		if _, taken := x.byID[k]; !taken {
			x.byID[k] = item
		}
	}
	if k := item.FallbackKey(); k != "" {
		if _, taken := x.byFallback[k]; !taken {
			x.byFallback[k] = item
		}
	}
}

// Lookup returns the remote item for local, probing identifier keys in
// provider priority order before the fallback key.
func (x *Index) Lookup(local *model.MediaItem) (model.MediaItem, bool) {
	if item, ok := x.LookupID(local); ok {
		return item, true
	}
	k := local.FallbackKey()
	if k == "" {
		return model.MediaItem{}, false
	}
	item, ok := x.byFallback[k]
	return item, ok
}

// LookupID probes only the identifier keys. An item without identifiers
// never matches.
func (x *Index) LookupID(local *model.MediaItem) (model.MediaItem, bool) {
	for _, k := range local.IDKeys() {
		if item, ok := x.byID[k]; ok {
			return item, true
		}
	}
	return model.MediaItem{}, false
}

// Len reports how many items were added, counting collisions.
func (x *Index) Len() int {
	return x.n
}
