package assist

import (
	"context"
	"errors"
)

var (
	// ErrJobNotFound is returned for unknown job IDs.
	ErrJobNotFound = errors.New("job not found")
	// ErrReviewNotReady rejects reviews of jobs that have not completed.
	ErrReviewNotReady = errors.New("review is only valid for completed jobs")
	// ErrReviewConflict rejects a second review with a different outcome.
	ErrReviewConflict = errors.New("job has already been reviewed")
	// ErrRetryConflict rejects retrying a job that is currently running.
	ErrRetryConflict = errors.New("job is currently processing")
	// ErrInvalidSection rejects sections other than lab or imaging.
	ErrInvalidSection = errors.New("section must be either 'lab' or 'imaging'")
	// ErrInvalidDecision rejects decisions other than accepted or rejected.
	ErrInvalidDecision = errors.New("decision must be 'accepted' or 'rejected'")
)

// JobRepository persists extraction jobs. Implementations must return deep
// copies so callers cannot mutate stored state.
type JobRepository interface {
	// Save upserts the full job snapshot.
	Save(ctx context.Context, job *Job) error
	// Get returns one job or ErrJobNotFound.
	Get(ctx context.Context, jobID string) (*Job, error)
	// List returns every stored job in no particular order.
	List(ctx context.Context) ([]*Job, error)
	// PendingJobIDs returns jobs in the queued state, oldest first. Jobs
	// found processing at load time are demoted to queued first.
	PendingJobIDs(ctx context.Context) ([]string, error)
}
