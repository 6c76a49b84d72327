package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"github.com/njoerd114/plextraktsync/internal/logging"
	"github.com/njoerd114/plextraktsync/internal/match"
	"github.com/njoerd114/plextraktsync/internal/model"
	"github.com/njoerd114/plextraktsync/internal/state"
)

const (
	otelScope          = "plextraktsync/sync"
	spanRun            = "sync.run"
	spanSnapshot       = "sync.snapshot"
	spanSection        = "sync.section"
	spanFlush          = "sync.flush"
	metricItems        = "plextraktsync.sync.items"
	metricUnmatched    = "plextraktsync.sync.unmatched"
	metricDecisions    = "plextraktsync.sync.decisions"
	metricErrors       = "plextraktsync.sync.errors"
	metricListsFlushed = "plextraktsync.sync.lists.flushed"
)

// Phase is a step of a sync run. A run moves strictly forward:
// Idle → SnapshotsLoaded → Walking → ListsFlushed → Done.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSnapshotsLoaded
	PhaseWalking
	PhaseListsFlushed
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseSnapshotsLoaded:
		return "snapshots_loaded"
	case PhaseWalking:
		return "walking"
	case PhaseListsFlushed:
		return "lists_flushed"
	case PhaseDone:
		return "done"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// RunResult summarises one run.
type RunResult struct {
	RunID          string
	ItemsProcessed int
	Errors         int
	ListsFlushed   int
	Stats          Stats
	// Phase is the last phase reached. Phases lists every phase entered,
	// in order.
	Phase  Phase
	Phases []Phase
}

func (r *RunResult) advance(to Phase) error {
	if to != r.Phase+1 {
		return fmt.Errorf("%w: %s to %s", ErrPhase, r.Phase, to)
	}
	r.Phase = to
	r.Phases = append(r.Phases, to)
	return nil
}

// Options configures an [Engine].
type Options struct {
	Local  LocalLibrary
	Remote RemoteTracker
	// Lists receives list membership. When nil, lists are not synced.
	Lists ListTarget
	// Resolver looks up items missing from the snapshot. May be nil.
	Resolver match.Resolver
	// Recorder persists run history. May be nil.
	Recorder RunRecorder

	MovieDomains DomainSet
	ShowDomains  DomainSet

	Logger *slog.Logger
}

// Engine runs full sync passes. Create one with [NewEngine] and run it with
// [Engine.RunSync].
type Engine struct {
	local    LocalLibrary
	remote   RemoteTracker
	lists    ListTarget
	resolver match.Resolver
	recorder RunRecorder
	movies   DomainSet
	shows    DomainSet
	log      *slog.Logger
	now      func() time.Time

	// OTel instruments — always non-nil (no-op when telemetry is disabled).
	tracer          trace.Tracer
	cntItems        metric.Int64Counter
	cntUnmatched    metric.Int64Counter
	cntDecisions    metric.Int64Counter
	cntErrors       metric.Int64Counter
	cntListsFlushed metric.Int64Counter
}

// NewEngine creates an Engine.
func NewEngine(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracer := otel.Tracer(otelScope)
	meter := otel.Meter(otelScope)

	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	return &Engine{
		local:    opts.Local,
		remote:   opts.Remote,
		lists:    opts.Lists,
		resolver: opts.Resolver,
		recorder: opts.Recorder,
		movies:   opts.MovieDomains,
		shows:    showDomains(opts.ShowDomains, logger),
		log:      logger,
		now:      time.Now,

		tracer:          tracer,
		cntItems:        mustCounter(metricItems, "Number of library items walked"),
		cntUnmatched:    mustCounter(metricUnmatched, "Number of library items without a Trakt match"),
		cntDecisions:    mustCounter(metricDecisions, "Number of sync decisions that wrote to either side"),
		cntErrors:       mustCounter(metricErrors, "Number of errors encountered during sync"),
		cntListsFlushed: mustCounter(metricListsFlushed, "Number of lists applied to Plex"),
	}
}

// RunSync performs one full pass over the selected media kinds. Per-item and
// per-section failures are logged and counted in the result without
// stopping the run. It returns an error when the Trakt snapshot cannot be
// loaded, in which case nothing was written, or when ctx is cancelled. Lists
// collected before a cancellation are still flushed.
func (e *Engine) RunSync(ctx context.Context, doMovies, doShows bool) (RunResult, error) {
	res := RunResult{RunID: uuid.NewString(), Phases: []Phase{PhaseIdle}}
	log := e.log.With("run_id", res.RunID)

	req := snapshotRequest{}
	if doMovies {
		req.movies = e.movies
	}
	if doShows {
		req.shows = e.shows
	}
	if e.lists == nil {
		req.movies = without(req.movies, DomainLists)
		req.shows = without(req.shows, DomainLists)
	}

	ctx, span := e.tracer.Start(ctx, spanRun, trace.WithAttributes(
		attribute.String("sync.run_id", res.RunID),
		attribute.Bool("sync.movies", doMovies),
		attribute.Bool("sync.shows", doShows),
	))
	defer span.End()

	run := &state.Run{ID: res.RunID, StartedAt: e.now(), State: state.RunRunning}
	e.record(ctx, log, run)
	log.Info("sync started", "movies", doMovies, "shows", doShows)

	// Idle → SnapshotsLoaded
	rs, err := e.snapshot(ctx, req, log)
	if err != nil {
		e.finish(ctx, log, run, &res, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "snapshot failed")
		return res, fmt.Errorf("loading trakt snapshot: %w", err)
	}
	agg := NewListAggregator(e.remote, log)
	if req.lists() {
		e.registerLists(ctx, log, agg, rs, &res)
	}
	if err := res.advance(PhaseSnapshotsLoaded); err != nil {
		return res, err
	}

	// SnapshotsLoaded → Walking
	if err := res.advance(PhaseWalking); err != nil {
		return res, err
	}
	w := &walker{
		local:     e.local,
		matcher:   match.NewMatcher(rs.movies, rs.episodes, e.resolver, log),
		rec:       newReconciler(e.local, e.remote, rs, log),
		lists:     agg,
		log:       log,
		onOutcome: e.countOutcome,
	}
	if doMovies && len(req.movies) > 0 {
		e.walkKind(ctx, log, w, model.KindMovie, req.movies, &res)
	}
	if doShows && len(req.shows) > 0 {
		e.walkKind(ctx, log, w, model.KindShow, req.shows, &res)
	}
	walkErr := ctx.Err()

	// Walking → ListsFlushed. Runs even after cancellation.
	e.flush(context.WithoutCancel(ctx), log, agg, &res)
	if err := res.advance(PhaseListsFlushed); err != nil {
		return res, err
	}

	// ListsFlushed → Done
	if err := res.advance(PhaseDone); err != nil {
		return res, err
	}
	e.finish(ctx, log, run, &res, walkErr)

	span.SetAttributes(
		attribute.Int("sync.items", res.ItemsProcessed),
		attribute.Int("sync.unmatched", res.Stats.Unmatched),
		attribute.Int("sync.written_local", res.Stats.WrittenLocal),
		attribute.Int("sync.written_remote", res.Stats.WrittenRemote),
		attribute.Int("sync.conflicts", res.Stats.Conflicts),
		attribute.Int("sync.errors", res.Errors),
		attribute.Int("sync.lists_flushed", res.ListsFlushed),
	)
	log.Info("sync complete",
		"items", res.ItemsProcessed,
		"unmatched", res.Stats.Unmatched,
		"written_local", res.Stats.WrittenLocal,
		"written_remote", res.Stats.WrittenRemote,
		"conflicts", res.Stats.Conflicts,
		"lists", res.ListsFlushed,
		"errors", res.Errors,
	)
	if walkErr != nil {
		span.RecordError(walkErr)
		return res, fmt.Errorf("sync interrupted: %w", walkErr)
	}
	return res, nil
}

func (e *Engine) snapshot(ctx context.Context, req snapshotRequest, log *slog.Logger) (*remoteState, error) {
	ctx, span := e.tracer.Start(ctx, spanSnapshot)
	defer span.End()

	rs, err := loadSnapshot(ctx, e.remote, req, log)
	if err != nil {
		span.RecordError(err)
		e.cntErrors.Add(ctx, 1)
		return nil, err
	}
	return rs, nil
}

// registerLists adds the watchlist, when it has entries, and every liked
// list. A list that cannot be loaded is skipped.
func (e *Engine) registerLists(ctx context.Context, log *slog.Logger, agg *ListAggregator, rs *remoteState, res *RunResult) {
	if len(rs.watchlist) > 0 {
		if err := agg.AddList(ctx, WatchlistRef, rs.watchlist); err != nil {
			res.Errors++
			e.cntErrors.Add(ctx, 1)
			log.Warn("skipping watchlist", "error", err)
		}
	}
	for _, ref := range rs.liked {
		if err := agg.AddList(ctx, ref, nil); err != nil {
			res.Errors++
			e.cntErrors.Add(ctx, 1)
			log.Warn("skipping list", "list", ref.Name, "owner", ref.Owner, "error", err)
		}
	}
}

// walkKind walks every section of one kind. A failing section is logged and
// the next one is walked.
func (e *Engine) walkKind(ctx context.Context, log *slog.Logger, w *walker, kind model.Kind, domains DomainSet, res *RunResult) {
	sections, err := e.local.Sections(ctx, kind)
	if err != nil {
		res.Errors++
		e.cntErrors.Add(ctx, 1)
		log.Error("listing sections failed", "kind", kind.String(), "error", err)
		return
	}

	for _, section := range sections {
		if ctx.Err() != nil {
			return
		}
		stats, err := e.walkSection(ctx, log, w, section, domains)
		res.Stats.add(stats)
		res.ItemsProcessed += stats.Items
		res.Errors += stats.Errors
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			log.Error("section failed", "section", section.Title, "error", err)
		}
	}
}

func (e *Engine) walkSection(ctx context.Context, log *slog.Logger, w *walker, section model.Section, domains DomainSet) (Stats, error) {
	ctx, span := e.tracer.Start(ctx, spanSection, trace.WithAttributes(
		attribute.String("plex.section", section.Title),
		attribute.String("plex.kind", section.Kind.String()),
	))
	defer span.End()
	start := e.now()

	stats, err := w.walkSection(ctx, section, domains)

	log.Info("processed section",
		"section", section.Title,
		"items", stats.Items,
		"unmatched", stats.Unmatched,
		"written_local", stats.WrittenLocal,
		"written_remote", stats.WrittenRemote,
		"errors", stats.Errors,
		"elapsed", e.now().Sub(start).Round(time.Millisecond),
	)

	if stats.Items > 0 {
		e.cntItems.Add(ctx, int64(stats.Items))
	}
	if stats.Unmatched > 0 {
		e.cntUnmatched.Add(ctx, int64(stats.Unmatched))
	}
	span.SetAttributes(
		attribute.Int("sync.items", stats.Items),
		attribute.Int("sync.unmatched", stats.Unmatched),
		attribute.Int("sync.errors", stats.Errors),
	)
	if err != nil {
		span.RecordError(err)
	}
	return stats, err
}

// countOutcome records the metric for one domain decision.
func (e *Engine) countOutcome(ctx context.Context, o Outcome) {
	if o.Err != nil {
		e.cntErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("domain", string(o.Domain))))
		return
	}
	if o.Decision == DecisionNone {
		return
	}
	e.cntDecisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("domain", string(o.Domain)),
		attribute.String("decision", o.Decision.String()),
	))
}

func (e *Engine) flush(ctx context.Context, log *slog.Logger, agg *ListAggregator, res *RunResult) {
	if e.lists == nil || agg.Len() == 0 {
		return
	}
	ctx, span := e.tracer.Start(ctx, spanFlush, trace.WithAttributes(attribute.Int("sync.lists", agg.Len())))
	defer span.End()
	defer logging.Measure(log, "updated plex lists")()

	n, err := agg.Flush(ctx, e.lists)
	res.ListsFlushed = n
	if n > 0 {
		e.cntListsFlushed.Add(ctx, int64(n))
	}
	if failed := agg.Len() - n; failed > 0 {
		res.Errors += failed
		e.cntErrors.Add(ctx, int64(failed))
	}
	if err != nil {
		span.RecordError(err)
	}
}

// finish records the final run row. cause is nil for a completed run.
func (e *Engine) finish(ctx context.Context, log *slog.Logger, run *state.Run, res *RunResult, cause error) {
	run.FinishedAt = e.now()
	run.Items = res.ItemsProcessed
	run.Errors = res.Errors
	switch {
	case cause == nil:
		run.State = state.RunCompleted
	case errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded):
		run.State = state.RunCancelled
		run.Error = cause.Error()
	default:
		run.State = state.RunFailed
		run.Error = cause.Error()
	}
	e.record(context.WithoutCancel(ctx), log, run)
}

func (e *Engine) record(ctx context.Context, log *slog.Logger, run *state.Run) {
	if e.recorder == nil {
		return
	}
	if err := e.recorder.RecordRun(ctx, run); err != nil {
		log.Warn("recording run failed", "error", err)
	}
}

// showDomains drops the domains the snapshot does not load for shows. Remote
// episode ratings and collection are never fetched, so reconciling them would
// re-post every local value on each run.
func showDomains(s DomainSet, logger *slog.Logger) DomainSet {
	out := make(DomainSet, 0, len(s))
	for _, d := range s {
		if d == DomainWatched || d == DomainLists {
			out = append(out, d)
			continue
		}
		logger.Warn("domain not supported for shows, ignoring", "domain", string(d))
	}
	return out
}

func without(s DomainSet, d Domain) DomainSet {
	out := make(DomainSet, 0, len(s))
	for _, x := range s {
		if x != d {
			out = append(out, x)
		}
	}
	return out
}
