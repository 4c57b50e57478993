package assist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGJobRepository stores each job as a JSONB document keyed by job ID, with
// the fields the queries filter on lifted into columns.
type PGJobRepository struct {
	pool *pgxpool.Pool
}

func NewPGJobRepository(pool *pgxpool.Pool) *PGJobRepository {
	return &PGJobRepository{pool: pool}
}

// EnsureSchema creates the jobs table when it does not exist yet.
func (r *PGJobRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS attachment_assist_job (
			job_id     TEXT PRIMARY KEY,
			status     TEXT NOT NULL,
			patient_id TEXT,
			created_at TEXT NOT NULL,
			doc        JSONB NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("ensure jobs schema: %w", err)
	}
	// Jobs interrupted mid-flight on the previous run go back to the queue.
	_, err = r.pool.Exec(ctx, `
		UPDATE attachment_assist_job
		SET status = 'queued',
		    doc = jsonb_set(doc, '{status}', '"queued"')
		WHERE status = 'processing'`)
	if err != nil {
		return fmt.Errorf("requeue interrupted jobs: %w", err)
	}
	return nil
}

func (r *PGJobRepository) Save(ctx context.Context, job *Job) error {
	doc, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO attachment_assist_job (job_id, status, patient_id, created_at, doc)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5)
		ON CONFLICT (job_id) DO UPDATE
		SET status = EXCLUDED.status,
		    patient_id = EXCLUDED.patient_id,
		    doc = EXCLUDED.doc`,
		job.JobID, job.Status, job.PatientID, job.CreatedAt, doc)
	if err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	return nil
}

func (r *PGJobRepository) Get(ctx context.Context, jobID string) (*Job, error) {
	var doc []byte
	err := r.pool.QueryRow(ctx,
		`SELECT doc FROM attachment_assist_job WHERE job_id = $1`, jobID).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	var job Job
	if err := json.Unmarshal(doc, &job); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &job, nil
}

func (r *PGJobRepository) List(ctx context.Context) ([]*Job, error) {
	rows, err := r.pool.Query(ctx, `SELECT doc FROM attachment_assist_job`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		var job Job
		if err := json.Unmarshal(doc, &job); err != nil {
			continue
		}
		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}

func (r *PGJobRepository) PendingJobIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT job_id FROM attachment_assist_job
		WHERE status = 'queued'
		ORDER BY created_at, job_id`)
	if err != nil {
		return nil, fmt.Errorf("list pending jobs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan job id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
