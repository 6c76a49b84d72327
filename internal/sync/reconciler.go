package sync

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/njoerd114/plextraktsync/internal/config"
	"github.com/njoerd114/plextraktsync/internal/model"
)

// Domain names one synchronised aspect of an item.
type Domain string

const (
	DomainWatched    Domain = config.DomainWatched
	DomainRatings    Domain = config.DomainRatings
	DomainCollection Domain = config.DomainCollection
	DomainLists      Domain = config.DomainLists
)

// DomainSet is the set of domains enabled for one media kind.
type DomainSet []Domain

// ParseDomains converts configured domain names. Validation happens in
// [config.Load].
func ParseDomains(names []string) DomainSet {
	out := make(DomainSet, 0, len(names))
	for _, n := range names {
		out = append(out, Domain(n))
	}
	return out
}

// Has reports whether d is enabled.
func (s DomainSet) Has(d Domain) bool {
	return slices.Contains(s, d)
}

// itemDomains reports whether any domain needs a remote match.
func (s DomainSet) itemDomains() bool {
	return s.Has(DomainWatched) || s.Has(DomainRatings) || s.Has(DomainCollection)
}

// Decision describes the mutation the reconciler wants for one domain.
type Decision int

const (
	DecisionNone Decision = iota
	// DecisionWriteLocal copies the remote value to Plex.
	DecisionWriteLocal
	// DecisionWriteRemote copies the local value to Trakt.
	DecisionWriteRemote
	// DecisionConflictLocal means both sides hold different values and the
	// remote one is written to Plex.
	DecisionConflictLocal
	// DecisionConflictRemote means both sides differ and the local value is
	// written to Trakt. The current policy never produces it.
	DecisionConflictRemote
)

func (d Decision) String() string {
	switch d {
	case DecisionNone:
		return "none"
	case DecisionWriteLocal:
		return "write_local"
	case DecisionWriteRemote:
		return "write_remote"
	case DecisionConflictLocal:
		return "conflict_local"
	case DecisionConflictRemote:
		return "conflict_remote"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// writesLocal reports whether d results in a Plex write.
func (d Decision) writesLocal() bool {
	return d == DecisionWriteLocal || d == DecisionConflictLocal
}

// writesRemote reports whether d results in a Trakt write.
func (d Decision) writesRemote() bool {
	return d == DecisionWriteRemote || d == DecisionConflictRemote
}

// conflict reports whether both sides held a value.
func (d Decision) conflict() bool {
	return d == DecisionConflictLocal || d == DecisionConflictRemote
}

// decideWatched merges watched state as a union. Neither side is ever
// unmarked.
func decideWatched(local, remote bool) Decision {
	switch {
	case local && !remote:
		return DecisionWriteRemote
	case !local && remote:
		return DecisionWriteLocal
	default:
		return DecisionNone
	}
}

// decideRating fills an unset side from the other. When both sides are set
// and differ, Trakt wins. The returned rating is the value to write.
func decideRating(local, remote model.Rating) (Decision, model.Rating) {
	switch {
	case local == remote:
		return DecisionNone, model.NoRating
	case remote == model.NoRating:
		return DecisionWriteRemote, local
	case local == model.NoRating:
		return DecisionWriteLocal, remote
	default:
		return DecisionConflictLocal, remote
	}
}

// decideCollection merges collection state as a union. Neither side is ever
// cleared.
func decideCollection(local, remote bool) Decision {
	return decideWatched(local, remote)
}

// Outcome is the result of reconciling one domain of one item.
type Outcome struct {
	Domain   Domain
	Decision Decision
	Err      error
}

// reconciler applies per-domain decisions for matched pairs. Remote state is
// read from and written back to the run's [remoteState], so a pair
// reconciled twice in one run produces no second write.
type reconciler struct {
	local  LocalLibrary
	remote RemoteTracker
	state  *remoteState
	log    *slog.Logger
}

func newReconciler(local LocalLibrary, remote RemoteTracker, rs *remoteState, logger *slog.Logger) *reconciler {
	return &reconciler{local: local, remote: remote, state: rs, log: logger}
}

// reconcile decides and applies every enabled domain for one pair. A failed
// domain does not stop the others. local is updated in place after
// successful Plex writes.
func (r *reconciler) reconcile(ctx context.Context, domains DomainSet, local *model.MediaItem, remote *model.MediaItem) []Outcome {
	var out []Outcome
	key := remote.CanonicalKey()

	if domains.Has(DomainWatched) {
		out = append(out, r.watched(ctx, key, local, remote))
	}
	if domains.Has(DomainRatings) {
		out = append(out, r.rating(ctx, key, local, remote))
	}
	if domains.Has(DomainCollection) {
		out = append(out, r.collection(ctx, key, local, remote))
	}
	return out
}

func (r *reconciler) watched(ctx context.Context, key string, local, remote *model.MediaItem) Outcome {
	o := Outcome{Domain: DomainWatched, Decision: decideWatched(local.Watched, r.state.watched[key])}
	switch o.Decision {
	case DecisionWriteLocal:
		r.log.Info("marking watched in plex", "item", local.String())
		if o.Err = r.local.MarkWatched(ctx, local); o.Err == nil {
			local.Watched = true
		}
	case DecisionWriteRemote:
		r.log.Info("marking watched on trakt", "item", local.String())
		if o.Err = r.remote.MarkWatched(ctx, remote, local.LastWatchedAt); o.Err == nil {
			r.state.watched[key] = true
		}
	}
	return o
}

func (r *reconciler) rating(ctx context.Context, key string, local, remote *model.MediaItem) Outcome {
	d, value := decideRating(local.Rating, r.state.ratings[key])
	o := Outcome{Domain: DomainRatings, Decision: d}
	switch {
	case d.writesLocal():
		r.log.Info("rating in plex", "item", local.String(), "rating", int(value), "was", int(local.Rating))
		if o.Err = r.local.SetRating(ctx, local, value); o.Err == nil {
			local.Rating = value
		}
	case d.writesRemote():
		r.log.Info("rating on trakt", "item", local.String(), "rating", int(value))
		if o.Err = r.remote.SetRating(ctx, remote, value); o.Err == nil {
			r.state.ratings[key] = value
		}
	}
	return o
}

func (r *reconciler) collection(ctx context.Context, key string, local, remote *model.MediaItem) Outcome {
	o := Outcome{Domain: DomainCollection, Decision: decideCollection(local.Collected, r.state.collected[key])}
	switch o.Decision {
	case DecisionWriteLocal:
		r.log.Info("adding to plex collection", "item", local.String())
		if o.Err = r.local.SetCollected(ctx, local, true); o.Err == nil {
			local.Collected = true
		}
	case DecisionWriteRemote:
		r.log.Info("adding to trakt collection", "item", local.String())
		if o.Err = r.remote.AddToCollection(ctx, remote); o.Err == nil {
			r.state.collected[key] = true
		}
	}
	return o
}
