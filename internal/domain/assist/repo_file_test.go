package assist

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/apsvt/svt-registry/internal/platform/uploads"
)

func sampleJob(jobID, status, createdAt string) *Job {
	return &Job{
		JobID:     jobID,
		Status:    status,
		Section:   SectionLab,
		PatientID: "AP-SVT-001",
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
		UploadedFile: uploads.Descriptor{
			FileName:   "cbc.txt",
			StoredPath: "/tmp/cbc.txt",
			SizeBytes:  42,
		},
		Review: newReview(),
	}
}

func TestFileJobRepositoryRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs", "attachment_assist_jobs.json")
	repo, err := NewFileJobRepository(path)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	job := sampleJob("ajob_1", StatusQueued, "2026-01-01T00:00:00Z")
	if err := repo.Save(ctx, job); err != nil {
		t.Fatal(err)
	}

	got, err := repo.Get(ctx, "ajob_1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Section != SectionLab || got.UploadedFile.FileName != "cbc.txt" {
		t.Fatalf("job = %+v", got)
	}

	// Returned job is a copy; mutating it must not touch the stored one.
	got.Status = StatusFailed
	again, _ := repo.Get(ctx, "ajob_1")
	if again.Status != StatusQueued {
		t.Fatal("repository state leaked through returned copy")
	}

	if _, err := repo.Get(ctx, "ajob_missing"); err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestFileJobRepositoryRequeuesInterruptedJobs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "attachment_assist_jobs.json")
	repo, err := NewFileJobRepository(path)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	repo.Save(ctx, sampleJob("ajob_a", StatusProcessing, "2026-01-01T00:00:01Z"))
	repo.Save(ctx, sampleJob("ajob_b", StatusQueued, "2026-01-01T00:00:02Z"))
	repo.Save(ctx, sampleJob("ajob_c", StatusCompleted, "2026-01-01T00:00:03Z"))

	reloaded, err := NewFileJobRepository(path)
	if err != nil {
		t.Fatal(err)
	}

	a, _ := reloaded.Get(ctx, "ajob_a")
	if a.Status != StatusQueued {
		t.Fatalf("processing job should reload as queued, got %q", a.Status)
	}
	c, _ := reloaded.Get(ctx, "ajob_c")
	if c.Status != StatusCompleted {
		t.Fatalf("completed job must keep its status, got %q", c.Status)
	}

	pending, err := reloaded.PendingJobIDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 || pending[0] != "ajob_a" || pending[1] != "ajob_b" {
		t.Fatalf("pending = %v", pending)
	}
}

func TestFileJobRepositorySurvivesCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "attachment_assist_jobs.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	repo, err := NewFileJobRepository(path)
	if err != nil {
		t.Fatal(err)
	}
	jobs, err := repo.List(context.Background())
	if err != nil || len(jobs) != 0 {
		t.Fatalf("jobs = %v err = %v", jobs, err)
	}
}
