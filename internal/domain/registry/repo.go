package registry

import "context"

// EventStore is the append-only record of patient submissions. Events are
// never mutated or deleted; corrections are new events.
type EventStore interface {
	// Append persists the submission and returns the new event ID.
	Append(ctx context.Context, s *PatientSubmission) (string, error)
	// ReadAll returns every stored event in append order plus the count of
	// malformed lines that were skipped.
	ReadAll(ctx context.Context) ([]StoredEvent, int, error)
	// Revision identifies the current state of the log. Any append yields a
	// different revision, which read-side caches key on.
	Revision() (string, error)
}
