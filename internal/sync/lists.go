package sync

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/njoerd114/plextraktsync/internal/match"
	"github.com/njoerd114/plextraktsync/internal/model"
)

// WatchlistRef is the list the user's Trakt watchlist is mirrored into.
var WatchlistRef = model.ListRef{Name: "Trakt Watchlist"}

// ListKey identifies a registered list inside a [ListAggregator].
func ListKey(ref model.ListRef) string {
	return ref.Owner + "/" + ref.Name
}

type rankedItem struct {
	rank int
	seq  int
	item model.MediaItem
}

type pendingList struct {
	ref   model.ListRef
	items []rankedItem
	// seen holds the LocalIDs already in items.
	seen map[string]bool
}

func (l *pendingList) add(item model.MediaItem, rank int) bool {
	if item.LocalID == "" || l.seen[item.LocalID] {
		return false
	}
	l.seen[item.LocalID] = true
	l.items = append(l.items, rankedItem{rank: rank, seq: len(l.items), item: item})
	return true
}

// desired returns the members in list rank order.
func (l *pendingList) desired() []model.MediaItem {
	sorted := slices.Clone(l.items)
	slices.SortFunc(sorted, func(a, b rankedItem) int {
		if c := cmp.Compare(a.rank, b.rank); c != 0 {
			return c
		}
		return cmp.Compare(a.seq, b.seq)
	})
	out := make([]model.MediaItem, len(sorted))
	for i, r := range sorted {
		out[i] = r.item
	}
	return out
}

type membership struct {
	list int
	rank int
}

// ListAggregator collects the local members of Trakt lists while the library
// is walked and applies them in one diffed update per list. It is not safe
// for concurrent use.
type ListAggregator struct {
	remote RemoteTracker
	log    *slog.Logger

	lists  []*pendingList
	byKey  map[string]int
	movies *match.Index
	shows  *match.Index
	// members maps a list entry's canonical key to the lists holding it.
	members map[string][]membership

	flushed bool
}

// NewListAggregator creates an empty aggregator. remote is used to fetch
// list definitions registered without entries.
func NewListAggregator(remote RemoteTracker, logger *slog.Logger) *ListAggregator {
	return &ListAggregator{
		remote:  remote,
		log:     logger,
		byKey:   make(map[string]int),
		movies:  match.NewIndex(),
		shows:   match.NewIndex(),
		members: make(map[string][]membership),
	}
}

// AddList registers a list definition. When entries is nil the definition
// is fetched from Trakt. Registering the same list twice is a no-op.
func (a *ListAggregator) AddList(ctx context.Context, ref model.ListRef, entries []model.ListEntry) error {
	if a.flushed {
		return ErrListsFlushed
	}
	key := ListKey(ref)
	if _, ok := a.byKey[key]; ok {
		a.log.Debug("list already registered", "list", key)
		return nil
	}
	if entries == nil {
		var err error
		if entries, err = a.remote.ListItems(ctx, ref); err != nil {
			return fmt.Errorf("loading list %q: %w", ref.Name, err)
		}
	}

	idx := len(a.lists)
	a.lists = append(a.lists, &pendingList{ref: ref, seen: make(map[string]bool)})
	a.byKey[key] = idx

	for _, e := range entries {
		item := e.Item.Show()
		switch item.Kind {
		case model.KindMovie:
			a.movies.Add(item)
		case model.KindShow:
			a.shows.Add(item)
		default:
			continue
		}
		ck := item.CanonicalKey()
		if slices.ContainsFunc(a.members[ck], func(m membership) bool { return m.list == idx }) {
			continue
		}
		a.members[ck] = append(a.members[ck], membership{list: idx, rank: e.Rank})
	}
	a.log.Debug("registered list", "list", key, "entries", len(entries))
	return nil
}

// Fold adds a local item to every registered list containing it. Episodes
// are folded as their show. It returns the number of lists the item joined.
func (a *ListAggregator) Fold(local model.MediaItem) int {
	if a.flushed {
		return 0
	}
	target := local.Show()
	index := a.movies
	if target.Kind == model.KindShow {
		index = a.shows
	}
	entry, ok := index.Lookup(&target)
	if !ok {
		return 0
	}

	n := 0
	for _, m := range a.members[entry.CanonicalKey()] {
		if a.lists[m.list].add(target, m.rank) {
			n++
		}
	}
	return n
}

// Add appends item to the list registered under key, after all ranked
// members.
func (a *ListAggregator) Add(key string, item model.MediaItem) error {
	if a.flushed {
		return ErrListsFlushed
	}
	idx, ok := a.byKey[key]
	if !ok {
		return fmt.Errorf("list %q is not registered", key)
	}
	a.lists[idx].add(item, math.MaxInt)
	return nil
}

// Len reports the number of registered lists.
func (a *ListAggregator) Len() int {
	return len(a.lists)
}

// Flush applies every registered list once, in registration order. A
// failing list is logged and the remaining lists are still applied. It
// returns the number of lists applied and the first error. Any call after
// the first returns [ErrListsFlushed].
func (a *ListAggregator) Flush(ctx context.Context, target ListTarget) (int, error) {
	if a.flushed {
		return 0, ErrListsFlushed
	}
	a.flushed = true

	var firstErr error
	applied := 0
	for _, l := range a.lists {
		desired := l.desired()
		delta, err := target.DiffAndApplyListMembership(ctx, l.ref.Owner, l.ref.Name, desired)
		if err != nil {
			a.log.Warn("updating list failed", "list", l.ref.Name, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("updating list %q: %w", l.ref.Name, err)
			}
			continue
		}
		applied++
		a.log.Info("updated list",
			"list", l.ref.Name,
			"items", len(desired),
			"added", delta.Added,
			"removed", delta.Removed,
			"created", delta.Created,
		)
	}
	return applied, firstErr
}
