package analytics

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/apsvt/svt-registry/internal/domain/registry"
)

// Service rebuilds the projection on demand. Snapshots are memoized against
// the event log revision, so repeated dashboard reads between writes reuse
// one computation.
type Service struct {
	store        registry.EventStore
	cohortTarget int
	logger       zerolog.Logger

	mu             sync.Mutex
	cachedRevision string
	cachedDay      string
	cached         *Projection
	cachedEvents   int
}

func NewService(store registry.EventStore, cohortTarget int, logger zerolog.Logger) *Service {
	return &Service{
		store:        store,
		cohortTarget: cohortTarget,
		logger:       logger.With().Str("component", "analytics").Logger(),
	}
}

// Snapshot returns the current projection plus the number of raw submissions
// behind it.
func (s *Service) Snapshot(ctx context.Context) (*Projection, int, error) {
	revision, err := s.store.Revision()
	if err != nil {
		return nil, 0, err
	}
	today := time.Now().UTC()
	day := today.Format("2006-01-02")

	s.mu.Lock()
	defer s.mu.Unlock()

	// Follow-up statuses move with the calendar, so a cached snapshot is
	// only valid within the day it was computed.
	if s.cached != nil && s.cachedRevision == revision && s.cachedDay == day {
		return s.cached, s.cachedEvents, nil
	}

	events, skipped, err := s.store.ReadAll(ctx)
	if err != nil {
		return nil, 0, err
	}
	if skipped > 0 {
		s.logger.Warn().Int("skipped", skipped).Msg("malformed event lines ignored")
	}

	projection := Compute(events, s.cohortTarget, today)
	s.cached = projection
	s.cachedRevision = revision
	s.cachedDay = day
	s.cachedEvents = len(events)

	s.logger.Debug().
		Int("events", len(events)).
		Int("patients", projection.Summary.TotalPatients).
		Msg("projection rebuilt")
	return projection, len(events), nil
}
