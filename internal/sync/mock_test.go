package sync

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/njoerd114/plextraktsync/internal/model"
	"github.com/njoerd114/plextraktsync/internal/state"
)

var errBoom = errors.New("boom")

// --- Mock Local Library ------------------------------------------------------

type mockLocal struct {
	mu       sync.Mutex
	sections []model.Section
	items    map[string][]*model.MediaItem // section key → items
	listErr  map[string]error              // section key → error yielded after the items
	failOn   map[string]error              // LocalID → write error
	// afterYield runs after each yielded item.
	afterYield func(item model.MediaItem)

	watched   []string
	ratings   map[string]model.Rating
	collected []string
}

func newMockLocal() *mockLocal {
	return &mockLocal{
		items:   make(map[string][]*model.MediaItem),
		listErr: make(map[string]error),
		failOn:  make(map[string]error),
		ratings: make(map[string]model.Rating),
	}
}

func (m *mockLocal) addSection(key, title string, kind model.Kind, items ...*model.MediaItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sections = append(m.sections, model.Section{Key: key, Title: title, Kind: kind})
	for _, it := range items {
		it.SectionKey = key
	}
	m.items[key] = append(m.items[key], items...)
}

func (m *mockLocal) Sections(_ context.Context, kind model.Kind) ([]model.Section, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Section
	for _, s := range m.sections {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockLocal) Items(_ context.Context, section model.Section) iter.Seq2[model.MediaItem, error] {
	return func(yield func(model.MediaItem, error) bool) {
		m.mu.Lock()
		snapshot := make([]model.MediaItem, len(m.items[section.Key]))
		for i, it := range m.items[section.Key] {
			snapshot[i] = *it
			snapshot[i].IDs = it.IDs.Clone()
		}
		listErr := m.listErr[section.Key]
		after := m.afterYield
		m.mu.Unlock()

		for _, it := range snapshot {
			if !yield(it, nil) {
				return
			}
			if after != nil {
				after(it)
			}
		}
		if listErr != nil {
			yield(model.MediaItem{}, listErr)
		}
	}
}

func (m *mockLocal) find(localID string) *model.MediaItem {
	for _, items := range m.items {
		for _, it := range items {
			if it.LocalID == localID {
				return it
			}
		}
	}
	return nil
}

func (m *mockLocal) MarkWatched(_ context.Context, item *model.MediaItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failOn[item.LocalID]; err != nil {
		return err
	}
	m.watched = append(m.watched, item.LocalID)
	if it := m.find(item.LocalID); it != nil {
		it.Watched = true
	}
	return nil
}

func (m *mockLocal) SetRating(_ context.Context, item *model.MediaItem, rating model.Rating) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failOn[item.LocalID]; err != nil {
		return err
	}
	m.ratings[item.LocalID] = rating
	if it := m.find(item.LocalID); it != nil {
		it.Rating = rating
	}
	return nil
}

func (m *mockLocal) SetCollected(_ context.Context, item *model.MediaItem, collected bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failOn[item.LocalID]; err != nil {
		return err
	}
	m.collected = append(m.collected, item.LocalID)
	if it := m.find(item.LocalID); it != nil {
		it.Collected = collected
	}
	return nil
}

func (m *mockLocal) writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.watched) + len(m.ratings) + len(m.collected)
}

// --- Mock Remote Tracker -----------------------------------------------------

type mockRemote struct {
	mu sync.Mutex

	watchedMovies   []model.MediaItem
	watchedEpisodes []model.MediaItem
	collection      []model.MediaItem
	ratings         []model.MediaItem
	watchlist       []model.ListEntry
	liked           []model.ListRef
	lists           map[string][]model.ListEntry // slug → entries

	snapshotErr error
	failOn      map[string]error // trakt id → write error

	marked    []string
	rated     map[string]model.Rating
	collected []string
	fetched   []string
}

func newMockRemote() *mockRemote {
	return &mockRemote{
		lists:  make(map[string][]model.ListEntry),
		failOn: make(map[string]error),
		rated:  make(map[string]model.Rating),
	}
}

func (m *mockRemote) WatchedMovies(context.Context) ([]model.MediaItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneItems(m.watchedMovies), m.snapshotErr
}

func (m *mockRemote) WatchedShows(context.Context) ([]model.MediaItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneItems(m.watchedEpisodes), m.snapshotErr
}

func (m *mockRemote) Collection(context.Context) ([]model.MediaItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneItems(m.collection), nil
}

func (m *mockRemote) Ratings(context.Context) ([]model.MediaItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneItems(m.ratings), nil
}

func (m *mockRemote) Watchlist(context.Context) ([]model.ListEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.ListEntry(nil), m.watchlist...), nil
}

func (m *mockRemote) LikedLists(context.Context) ([]model.ListRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.ListRef(nil), m.liked...), nil
}

func (m *mockRemote) ListItems(_ context.Context, ref model.ListRef) ([]model.ListEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetched = append(m.fetched, ref.Slug)
	entries, ok := m.lists[ref.Slug]
	if !ok {
		return nil, fmt.Errorf("list %q: %w", ref.Slug, errBoom)
	}
	return entries, nil
}

func (m *mockRemote) MarkWatched(_ context.Context, item *model.MediaItem, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failOn[item.RemoteID()]; err != nil {
		return err
	}
	m.marked = append(m.marked, item.CanonicalKey())
	cp := *item
	cp.Watched = true
	cp.LastWatchedAt = at
	if item.Kind == model.KindEpisode {
		m.watchedEpisodes = append(m.watchedEpisodes, cp)
	} else {
		m.watchedMovies = append(m.watchedMovies, cp)
	}
	return nil
}

func (m *mockRemote) SetRating(_ context.Context, item *model.MediaItem, rating model.Rating) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failOn[item.RemoteID()]; err != nil {
		return err
	}
	m.rated[item.CanonicalKey()] = rating
	cp := *item
	cp.Rating = rating
	m.ratings = append(m.ratings, cp)
	return nil
}

func (m *mockRemote) AddToCollection(_ context.Context, item *model.MediaItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failOn[item.RemoteID()]; err != nil {
		return err
	}
	m.collected = append(m.collected, item.CanonicalKey())
	cp := *item
	cp.Collected = true
	m.collection = append(m.collection, cp)
	return nil
}

func (m *mockRemote) writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.marked) + len(m.rated) + len(m.collected)
}

func cloneItems(items []model.MediaItem) []model.MediaItem {
	out := make([]model.MediaItem, len(items))
	for i, it := range items {
		out[i] = it
		out[i].IDs = it.IDs.Clone()
	}
	return out
}

// --- Mock List Target --------------------------------------------------------

type listCall struct {
	owner, name string
	keys        []string
}

type mockListTarget struct {
	mu      sync.Mutex
	current map[string][]string // list name → LocalIDs
	failOn  map[string]error    // list name → error
	calls   []listCall
}

func newMockListTarget() *mockListTarget {
	return &mockListTarget{current: make(map[string][]string), failOn: make(map[string]error)}
}

func (m *mockListTarget) DiffAndApplyListMembership(_ context.Context, owner, name string, desired []model.MediaItem) (model.ListDelta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, len(desired))
	for i, it := range desired {
		keys[i] = it.LocalID
	}
	m.calls = append(m.calls, listCall{owner: owner, name: name, keys: keys})
	if err := m.failOn[name]; err != nil {
		return model.ListDelta{}, err
	}

	cur, exists := m.current[name]
	add, remove := model.DiffMembership(cur, keys)
	m.current[name] = keys
	return model.ListDelta{Created: !exists && len(keys) > 0, Added: len(add), Removed: len(remove)}, nil
}

func (m *mockListTarget) callsFor(name string) []listCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []listCall
	for _, c := range m.calls {
		if c.name == name {
			out = append(out, c)
		}
	}
	return out
}

// --- Mock Run Recorder -------------------------------------------------------

type mockRecorder struct {
	mu   sync.Mutex
	runs []state.Run
}

func (m *mockRecorder) RecordRun(_ context.Context, run *state.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, *run)
	return nil
}

func (m *mockRecorder) last() state.Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.runs) == 0 {
		return state.Run{}
	}
	return m.runs[len(m.runs)-1]
}

// --- Mock Resolver -----------------------------------------------------------

type mockResolver struct {
	ids   map[string]model.IDs // first id key → resolved ids
	calls int
}

func (m *mockResolver) Resolve(_ context.Context, _ model.Kind, ids model.IDs) (model.IDs, bool, error) {
	m.calls++
	keys := ids.Keys()
	if len(keys) == 0 {
		return nil, false, nil
	}
	out, ok := m.ids[keys[0]]
	return out, ok, nil
}

// --- Fixtures ----------------------------------------------------------------

func localMovie(localID, title string, year int, ids model.IDs) *model.MediaItem {
	return &model.MediaItem{Kind: model.KindMovie, LocalID: localID, Title: title, Year: year, IDs: ids}
}

func localEpisode(localID, showID, title string, year, season, episode int, ids model.IDs) *model.MediaItem {
	return &model.MediaItem{
		Kind:        model.KindEpisode,
		LocalID:     localID,
		ShowLocalID: showID,
		Title:       title,
		Year:        year,
		Season:      season,
		Episode:     episode,
		IDs:         ids,
	}
}

func remoteMovie(trakt, imdb, title string, year int) model.MediaItem {
	return model.MediaItem{
		Kind:  model.KindMovie,
		IDs:   model.IDs{model.ProviderTrakt: trakt, model.ProviderIMDB: imdb},
		Title: title,
		Year:  year,
	}
}
