package sync

import (
	"errors"

	"github.com/njoerd114/plextraktsync/internal/config"
	"github.com/njoerd114/plextraktsync/internal/match"
	"github.com/njoerd114/plextraktsync/internal/transport"
)

var (
	// ErrNoMatch means a local item has no remote counterpart. Such items
	// are skipped without writes.
	ErrNoMatch = match.ErrNoMatch

	// ErrTransient is a network, 429 or 5xx failure that survived the
	// client retries. The affected item is logged and skipped.
	ErrTransient = transport.ErrTransient

	// ErrConfiguration is fatal before any write.
	ErrConfiguration = config.ErrConfiguration

	// ErrListsFlushed is returned when a [ListAggregator] is mutated or
	// flushed after its flush.
	ErrListsFlushed = errors.New("lists already flushed")

	// ErrPhase is returned for an out-of-order run phase transition.
	ErrPhase = errors.New("invalid run phase transition")
)
