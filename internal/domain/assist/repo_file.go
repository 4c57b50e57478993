package assist

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// FileJobRepository keeps every job in memory and writes the whole set to a
// JSON file on each change. Job counts stay small (a few per attachment), so
// whole-file snapshots are simpler and safer than incremental writes.
type FileJobRepository struct {
	path string

	mu        sync.Mutex
	jobs      map[string]*Job
	updatedAt string
}

type jobsFileSnapshot struct {
	Version   int             `json:"version"`
	UpdatedAt string          `json:"updated_at,omitempty"`
	Jobs      map[string]*Job `json:"jobs"`
}

// NewFileJobRepository loads the snapshot at path. Jobs that were queued or
// processing when the server last stopped are demoted to queued so the worker
// picks them up again. A missing or corrupt file starts empty.
func NewFileJobRepository(path string) (*FileJobRepository, error) {
	repo := &FileJobRepository{path: path, jobs: map[string]*Job{}}

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return repo, nil
		}
		return nil, fmt.Errorf("read jobs file: %w", err)
	}

	var snapshot jobsFileSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return repo, nil
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for jobID, job := range snapshot.Jobs {
		if job == nil || jobID == "" {
			continue
		}
		job.JobID = jobID
		if job.Status == StatusQueued || job.Status == StatusProcessing {
			job.Status = StatusQueued
			job.UpdatedAt = now
		}
		repo.jobs[jobID] = job
	}
	repo.updatedAt = snapshot.UpdatedAt
	return repo, nil
}

func (r *FileJobRepository) Save(_ context.Context, job *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.jobs[job.JobID] = job.Clone()
	r.updatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	return r.persistLocked()
}

func (r *FileJobRepository) persistLocked() error {
	snapshot := jobsFileSnapshot{
		Version:   1,
		UpdatedAt: r.updatedAt,
		Jobs:      r.jobs,
	}
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal jobs snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create jobs directory: %w", err)
	}
	if err := os.WriteFile(r.path, raw, 0o644); err != nil {
		return fmt.Errorf("write jobs snapshot: %w", err)
	}
	return nil
}

func (r *FileJobRepository) Get(_ context.Context, jobID string) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return job.Clone(), nil
}

func (r *FileJobRepository) List(_ context.Context) ([]*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, job.Clone())
	}
	return out, nil
}

func (r *FileJobRepository) PendingJobIDs(_ context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var pending []*Job
	for _, job := range r.jobs {
		if job.Status == StatusQueued {
			pending = append(pending, job)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		if pending[i].CreatedAt != pending[j].CreatedAt {
			return pending[i].CreatedAt < pending[j].CreatedAt
		}
		return pending[i].JobID < pending[j].JobID
	})

	ids := make([]string, 0, len(pending))
	for _, job := range pending {
		ids = append(ids, job.JobID)
	}
	return ids, nil
}
