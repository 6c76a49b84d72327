package sync

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/njoerd114/plextraktsync/internal/model"
	"github.com/njoerd114/plextraktsync/internal/state"
)

type engineFixture struct {
	local    *mockLocal
	remote   *mockRemote
	lists    *mockListTarget
	recorder *mockRecorder
	resolver *mockResolver
}

func newEngineFixture() *engineFixture {
	return &engineFixture{
		local:    newMockLocal(),
		remote:   newMockRemote(),
		lists:    newMockListTarget(),
		recorder: &mockRecorder{},
	}
}

func (f *engineFixture) engine() *Engine {
	opts := Options{
		Local:        f.local,
		Remote:       f.remote,
		Lists:        f.lists,
		Recorder:     f.recorder,
		MovieDomains: allMovieDomains,
		ShowDomains:  DomainSet{DomainWatched, DomainLists},
		Logger:       testLogger,
	}
	if f.resolver != nil {
		opts.Resolver = f.resolver
	}
	return NewEngine(opts)
}

// ---------------------------------------------------------------------------
// Phases
// ---------------------------------------------------------------------------

func TestRunSync_PhaseOrder(t *testing.T) {
	f := newEngineFixture()
	f.local.addSection("1", "Movies", model.KindMovie)

	res, err := f.engine().RunSync(context.Background(), true, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []Phase{PhaseIdle, PhaseSnapshotsLoaded, PhaseWalking, PhaseListsFlushed, PhaseDone}
	if !reflect.DeepEqual(res.Phases, want) {
		t.Errorf("Phases = %v, want %v", res.Phases, want)
	}
	if res.RunID == "" {
		t.Error("RunID is empty")
	}
	if got := f.recorder.last(); got.State != state.RunCompleted || got.ID != res.RunID {
		t.Errorf("recorded run = %+v", got)
	}
}

func TestRunResult_AdvanceRejectsSkips(t *testing.T) {
	res := RunResult{}
	if err := res.advance(PhaseWalking); !errors.Is(err, ErrPhase) {
		t.Errorf("advance(Walking) from Idle = %v, want ErrPhase", err)
	}
	if err := res.advance(PhaseSnapshotsLoaded); err != nil {
		t.Errorf("advance(SnapshotsLoaded) = %v", err)
	}
}

// ---------------------------------------------------------------------------
// Scenarios
// ---------------------------------------------------------------------------

func TestRunSync_RemoteWatchedWritesLocalOnceThenConverges(t *testing.T) {
	f := newEngineFixture()
	f.local.addSection("1", "Movies", model.KindMovie,
		localMovie("100", "Alien", 1979, model.IDs{model.ProviderIMDB: "tt0078748"}))
	f.remote.watchedMovies = []model.MediaItem{remoteMovie("10", "tt0078748", "Alien", 1979)}
	f.remote.watchedMovies[0].Watched = true

	e := f.engine()
	res, err := e.RunSync(context.Background(), true, false)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(f.local.watched, []string{"100"}) {
		t.Errorf("local watched = %v, want [100]", f.local.watched)
	}
	if len(f.remote.marked) != 0 {
		t.Errorf("remote marked = %v, want none", f.remote.marked)
	}
	if res.Stats.WrittenLocal != 1 || res.ItemsProcessed != 1 {
		t.Errorf("stats = %+v", res.Stats)
	}

	localWrites, remoteWrites := f.local.writes(), f.remote.writes()
	res, err = e.RunSync(context.Background(), true, false)
	if err != nil {
		t.Fatal(err)
	}
	if f.local.writes() != localWrites || f.remote.writes() != remoteWrites {
		t.Errorf("second run wrote: local %d→%d remote %d→%d",
			localWrites, f.local.writes(), remoteWrites, f.remote.writes())
	}
	if res.Stats.WrittenLocal+res.Stats.WrittenRemote != 0 {
		t.Errorf("second run stats = %+v", res.Stats)
	}
}

func TestRunSync_FullRunIsIdempotent(t *testing.T) {
	f := newEngineFixture()
	a := localMovie("100", "Alien", 1979, model.IDs{model.ProviderIMDB: "tt0078748"})
	a.Watched = true
	a.Rating = 9
	a.Collected = true
	b := localMovie("200", "Brazil", 1985, model.IDs{model.ProviderIMDB: "tt0088846"})
	f.local.addSection("1", "Movies", model.KindMovie, a, b)

	rb := remoteMovie("20", "tt0088846", "Brazil", 1985)
	rb.Watched = true
	f.remote.watchedMovies = []model.MediaItem{rb}
	rb.Rating = 7
	f.remote.ratings = []model.MediaItem{rb}
	// Alien is known to Trakt only through the watchlist.
	f.remote.watchlist = []model.ListEntry{{Rank: 1, Item: remoteMovie("10", "tt0078748", "Alien", 1979)}}

	e := f.engine()
	if _, err := e.RunSync(context.Background(), true, false); err != nil {
		t.Fatal(err)
	}
	if f.local.writes() == 0 || f.remote.writes() == 0 {
		t.Fatalf("first run should write both sides: local %d remote %d", f.local.writes(), f.remote.writes())
	}

	localWrites, remoteWrites := f.local.writes(), f.remote.writes()
	if _, err := e.RunSync(context.Background(), true, false); err != nil {
		t.Fatal(err)
	}
	if f.local.writes() != localWrites || f.remote.writes() != remoteWrites {
		t.Errorf("second run wrote: local %d→%d remote %d→%d",
			localWrites, f.local.writes(), remoteWrites, f.remote.writes())
	}
	if calls := f.lists.callsFor(WatchlistRef.Name); len(calls) != 2 || !reflect.DeepEqual(calls[0].keys, calls[1].keys) {
		t.Errorf("watchlist calls = %+v", calls)
	}
}

func TestRunSync_UnmatchableItemProducesNoWrites(t *testing.T) {
	f := newEngineFixture()
	f.local.addSection("1", "Movies", model.KindMovie,
		&model.MediaItem{Kind: model.KindMovie, LocalID: "100", Title: "Home Video", Watched: true, Rating: 5, Collected: true})
	f.remote.watchedMovies = []model.MediaItem{remoteMovie("10", "tt0078748", "Alien", 1979)}

	res, err := f.engine().RunSync(context.Background(), true, false)
	if err != nil {
		t.Fatal(err)
	}
	if f.local.writes() != 0 || f.remote.writes() != 0 {
		t.Errorf("writes: local %d remote %d, want none", f.local.writes(), f.remote.writes())
	}
	if res.Stats.Unmatched != 1 {
		t.Errorf("Unmatched = %d, want 1", res.Stats.Unmatched)
	}
}

func TestRunSync_EpisodesMatchWatchedShows(t *testing.T) {
	f := newEngineFixture()
	ids := model.IDs{model.ProviderTVDB: "81189"}
	e1 := localEpisode("e1", "s1", "Breaking Bad", 2008, 1, 1, ids)
	e2 := localEpisode("e2", "s1", "Breaking Bad", 2008, 1, 2, ids)
	e2.Watched = true
	f.local.addSection("2", "TV Shows", model.KindShow, e1, e2)

	showIDs := model.IDs{model.ProviderTrakt: "1388", model.ProviderTVDB: "81189"}
	f.remote.watchedEpisodes = []model.MediaItem{
		{Kind: model.KindEpisode, IDs: showIDs, Title: "Breaking Bad", Year: 2008, Season: 1, Episode: 1, Watched: true},
	}

	f.resolver = &mockResolver{ids: map[string]model.IDs{"tvdb:81189": showIDs}}
	if _, err := f.engine().RunSync(context.Background(), false, true); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(f.local.watched, []string{"e1"}) {
		t.Errorf("local watched = %v, want [e1]", f.local.watched)
	}
	if !reflect.DeepEqual(f.remote.marked, []string{"trakt:1388/s01e02"}) {
		t.Errorf("remote marked = %v", f.remote.marked)
	}
}

func TestRunSync_ResolverFindsItemsOutsideSnapshot(t *testing.T) {
	f := newEngineFixture()
	item := localMovie("100", "Alien", 1979, model.IDs{model.ProviderIMDB: "tt0078748"})
	item.Watched = true
	f.local.addSection("1", "Movies", model.KindMovie, item)
	f.resolver = &mockResolver{ids: map[string]model.IDs{
		"imdb:tt0078748": {model.ProviderTrakt: "10", model.ProviderIMDB: "tt0078748"},
	}}

	if _, err := f.engine().RunSync(context.Background(), true, false); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(f.remote.marked, []string{"trakt:10"}) {
		t.Errorf("remote marked = %v, want [trakt:10]", f.remote.marked)
	}
	if f.resolver.calls != 1 {
		t.Errorf("resolver calls = %d, want 1", f.resolver.calls)
	}
}

// ---------------------------------------------------------------------------
// Failures
// ---------------------------------------------------------------------------

func TestRunSync_SnapshotFailureWritesNothing(t *testing.T) {
	f := newEngineFixture()
	item := localMovie("100", "Alien", 1979, model.IDs{model.ProviderIMDB: "tt0078748"})
	item.Watched = true
	f.local.addSection("1", "Movies", model.KindMovie, item)
	f.remote.snapshotErr = errBoom

	res, err := f.engine().RunSync(context.Background(), true, true)
	if !errors.Is(err, errBoom) {
		t.Fatalf("err = %v, want errBoom", err)
	}
	if res.Phase != PhaseIdle {
		t.Errorf("Phase = %s, want idle", res.Phase)
	}
	if f.local.writes() != 0 || f.remote.writes() != 0 || len(f.lists.calls) != 0 {
		t.Error("snapshot failure must not write")
	}
	if got := f.recorder.last(); got.State != state.RunFailed || got.Error == "" {
		t.Errorf("recorded run = %+v", got)
	}
}

func TestRunSync_ItemFailureIsIsolated(t *testing.T) {
	f := newEngineFixture()
	a := localMovie("100", "Alien", 1979, model.IDs{model.ProviderIMDB: "tt0078748"})
	b := localMovie("200", "Brazil", 1985, model.IDs{model.ProviderIMDB: "tt0088846"})
	a.Watched, b.Watched = true, true
	f.local.addSection("1", "Movies", model.KindMovie, a, b)
	f.remote.collection = []model.MediaItem{
		remoteMovie("10", "tt0078748", "Alien", 1979),
		remoteMovie("20", "tt0088846", "Brazil", 1985),
	}
	f.remote.failOn["10"] = errBoom

	res, err := f.engine().RunSync(context.Background(), true, false)
	if err != nil {
		t.Fatalf("item failure should not fail the run: %v", err)
	}
	if res.Errors == 0 {
		t.Error("Errors = 0, want the failed item counted")
	}
	if !reflect.DeepEqual(f.remote.marked, []string{"trakt:20"}) {
		t.Errorf("remote marked = %v, want [trakt:20]", f.remote.marked)
	}
	if res.Phase != PhaseDone {
		t.Errorf("Phase = %s, want done", res.Phase)
	}
}

func TestRunSync_SectionListingErrorContinues(t *testing.T) {
	f := newEngineFixture()
	f.local.addSection("1", "Broken", model.KindMovie)
	f.local.listErr["1"] = errBoom
	b := localMovie("200", "Brazil", 1985, model.IDs{model.ProviderIMDB: "tt0088846"})
	b.Watched = true
	f.local.addSection("2", "Movies", model.KindMovie, b)
	f.remote.collection = []model.MediaItem{remoteMovie("20", "tt0088846", "Brazil", 1985)}

	res, err := f.engine().RunSync(context.Background(), true, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Errors != 1 || len(f.remote.marked) != 1 {
		t.Errorf("Errors = %d, marked = %v", res.Errors, f.remote.marked)
	}
}

func TestRunSync_CancellationStillFlushesLists(t *testing.T) {
	f := newEngineFixture()
	a := localMovie("100", "Alien", 1979, model.IDs{model.ProviderIMDB: "tt0078748"})
	b := localMovie("200", "Brazil", 1985, model.IDs{model.ProviderIMDB: "tt0088846"})
	b.Watched = true
	f.local.addSection("1", "Movies", model.KindMovie, a, b)
	f.remote.watchlist = []model.ListEntry{
		{Rank: 1, Item: remoteMovie("10", "tt0078748", "Alien", 1979)},
		{Rank: 2, Item: remoteMovie("20", "tt0088846", "Brazil", 1985)},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.local.afterYield = func(model.MediaItem) { cancel() }

	res, err := f.engine().RunSync(ctx, true, false)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if res.Phase != PhaseDone || res.ListsFlushed != 1 {
		t.Errorf("Phase = %s, ListsFlushed = %d", res.Phase, res.ListsFlushed)
	}
	calls := f.lists.callsFor(WatchlistRef.Name)
	if len(calls) != 1 || !reflect.DeepEqual(calls[0].keys, []string{"100"}) {
		t.Errorf("watchlist calls = %+v, want one call with [100]", calls)
	}
	if len(f.remote.marked) != 0 {
		t.Errorf("walked past cancellation: marked = %v", f.remote.marked)
	}
	if got := f.recorder.last(); got.State != state.RunCancelled {
		t.Errorf("recorded state = %q, want cancelled", got.State)
	}
}

func TestRunSync_LikedListsFlushedInOrder(t *testing.T) {
	f := newEngineFixture()
	f.local.addSection("1", "Movies", model.KindMovie,
		localMovie("100", "Alien", 1979, model.IDs{model.ProviderIMDB: "tt0078748"}))
	alien := remoteMovie("10", "tt0078748", "Alien", 1979)
	f.remote.liked = []model.ListRef{
		{Owner: "a", Name: "Sci-Fi", Slug: "sci-fi"},
		{Owner: "b", Name: "Missing", Slug: "missing"},
		{Owner: "c", Name: "Horror", Slug: "horror"},
	}
	f.remote.lists["sci-fi"] = []model.ListEntry{{Rank: 1, Item: alien}}
	f.remote.lists["horror"] = []model.ListEntry{{Rank: 1, Item: alien}}

	res, err := f.engine().RunSync(context.Background(), true, false)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, c := range f.lists.calls {
		names = append(names, c.name)
	}
	// The empty watchlist is not registered.
	if want := []string{"Sci-Fi", "Horror"}; !reflect.DeepEqual(names, want) {
		t.Errorf("flushed = %v, want %v", names, want)
	}
	if res.ListsFlushed != 2 || res.Errors != 1 {
		t.Errorf("ListsFlushed = %d, Errors = %d", res.ListsFlushed, res.Errors)
	}
}

func TestNewEngine_IgnoresShowDomainsNotLoaded(t *testing.T) {
	f := newEngineFixture()
	ids := model.IDs{model.ProviderTVDB: "81189"}
	ep := localEpisode("e1", "s1", "Breaking Bad", 2008, 1, 1, ids)
	ep.Rating = 8
	ep.Collected = true
	f.local.addSection("2", "TV Shows", model.KindShow, ep)
	showIDs := model.IDs{model.ProviderTrakt: "1388", model.ProviderTVDB: "81189"}
	f.resolver = &mockResolver{ids: map[string]model.IDs{"tvdb:81189": showIDs}}

	e := NewEngine(Options{
		Local:       f.local,
		Remote:      f.remote,
		Recorder:    f.recorder,
		Resolver:    f.resolver,
		ShowDomains: DomainSet{DomainWatched, DomainRatings, DomainCollection},
		Logger:      testLogger,
	})
	for range 2 {
		if _, err := e.RunSync(context.Background(), false, true); err != nil {
			t.Fatal(err)
		}
	}
	if len(f.remote.rated) != 0 || len(f.remote.collected) != 0 {
		t.Errorf("rated = %v, collected = %v, want none", f.remote.rated, f.remote.collected)
	}
}

func TestRunSync_CancelledListingIsNotAnError(t *testing.T) {
	f := newEngineFixture()
	f.local.addSection("1", "Movies", model.KindMovie,
		localMovie("100", "Alien", 1979, model.IDs{model.ProviderIMDB: "tt0078748"}))
	f.local.listErr["1"] = fmt.Errorf("reading page: %w", context.Canceled)

	res, err := f.engine().RunSync(context.Background(), true, false)
	if err != nil {
		t.Fatal(err)
	}
	if res.Errors != 0 || res.Stats.Errors != 0 {
		t.Errorf("Errors = %d, Stats.Errors = %d, want 0", res.Errors, res.Stats.Errors)
	}
	if res.ItemsProcessed != 1 {
		t.Errorf("ItemsProcessed = %d, want 1", res.ItemsProcessed)
	}
}
