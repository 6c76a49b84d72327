package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/njoerd114/plextraktsync/internal/match"
	"github.com/njoerd114/plextraktsync/internal/model"
)

// Stats tracks what a walk did.
type Stats struct {
	Items         int
	Unmatched     int
	WrittenLocal  int
	WrittenRemote int
	Conflicts     int
	ListFolds     int
	Errors        int
}

func (s *Stats) add(o Stats) {
	s.Items += o.Items
	s.Unmatched += o.Unmatched
	s.WrittenLocal += o.WrittenLocal
	s.WrittenRemote += o.WrittenRemote
	s.Conflicts += o.Conflicts
	s.ListFolds += o.ListFolds
	s.Errors += o.Errors
}

// walker iterates library sections and feeds each item to the reconciler
// and the list aggregator.
type walker struct {
	local   LocalLibrary
	matcher *match.Matcher
	rec     *reconciler
	lists   *ListAggregator
	log     *slog.Logger

	// onOutcome is called for every domain decision, including failures.
	onOutcome func(ctx context.Context, o Outcome)
}

// walkSection processes every item of one section. Per-item failures are
// logged and counted. It returns early with ctx.Err() when cancelled and
// with an error when the section cannot be listed.
func (w *walker) walkSection(ctx context.Context, section model.Section, domains DomainSet) (Stats, error) {
	var stats Stats
	log := w.log.With("section", section.Title)

	for item, err := range w.local.Items(ctx, section) {
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				stats.Errors++
			}
			return stats, fmt.Errorf("listing section %q: %w", section.Title, err)
		}
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Items++

		if domains.Has(DomainLists) && w.lists != nil {
			stats.ListFolds += w.lists.Fold(item)
		}
		if !domains.itemDomains() {
			continue
		}

		remote, err := w.matcher.Match(ctx, &item)
		if errors.Is(err, match.ErrNoMatch) {
			stats.Unmatched++
			log.Debug("no match", "item", item.String())
			continue
		}
		if err != nil {
			stats.Errors++
			log.Warn("matching failed", "item", item.String(), "error", err)
			continue
		}

		for _, o := range w.rec.reconcile(ctx, domains, &item, &remote) {
			if w.onOutcome != nil {
				w.onOutcome(ctx, o)
			}
			if o.Err != nil {
				stats.Errors++
				log.Warn("sync failed", "item", item.String(), "domain", string(o.Domain), "decision", o.Decision.String(), "error", o.Err)
				continue
			}
			if o.Decision.writesLocal() {
				stats.WrittenLocal++
			}
			if o.Decision.writesRemote() {
				stats.WrittenRemote++
			}
			if o.Decision.conflict() {
				stats.Conflicts++
			}
		}
	}
	return stats, ctx.Err()
}
