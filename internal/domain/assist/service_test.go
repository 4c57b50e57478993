package assist

import (
	"bytes"
	"context"
	"errors"
	"mime/multipart"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/apsvt/svt-registry/internal/platform/uploads"
)

func multipartFile(t *testing.T, fieldName, fileName string, content []byte) *multipart.FileHeader {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile(fieldName, fileName)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatal(err)
	}
	writer.Close()

	req := httptest.NewRequest("POST", "/", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if err := req.ParseMultipartForm(32 << 20); err != nil {
		t.Fatal(err)
	}
	return req.MultipartForm.File[fieldName][0]
}

func newAssistService(t *testing.T) *Service {
	t.Helper()
	root := t.TempDir()

	files, err := uploads.NewStore(filepath.Join(root, "uploads"))
	if err != nil {
		t.Fatal(err)
	}
	repo, err := NewFileJobRepository(filepath.Join(root, "attachment_assist_jobs.json"))
	if err != nil {
		t.Fatal(err)
	}
	extractor := NewExtractor("marker_single", time.Minute, 500000)
	return NewService(repo, files, extractor, zerolog.Nop())
}

func TestEnqueueRejectsUnknownSection(t *testing.T) {
	svc := newAssistService(t)
	fh := multipartFile(t, "file", "cbc.txt", []byte("Hb 10"))

	_, err := svc.Enqueue(context.Background(), "pathology", "AP-SVT-001", fh)
	if !errors.Is(err, ErrInvalidSection) {
		t.Fatalf("err = %v", err)
	}
}

func TestEnqueueAndProcessTextReport(t *testing.T) {
	svc := newAssistService(t)
	ctx := context.Background()

	fh := multipartFile(t, "file", "cbc_2026-01-12.txt", []byte(labReport))
	job, err := svc.Enqueue(ctx, "LAB", "ap-svt-001", fh)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != StatusQueued || job.Section != SectionLab {
		t.Fatalf("job = %+v", job)
	}
	if job.PatientID != "AP-SVT-001" {
		t.Errorf("patient = %q", job.PatientID)
	}
	if job.Review.Status != ReviewNotReady {
		t.Errorf("review = %+v", job.Review)
	}

	svc.processJob(job.JobID)

	processed, err := svc.Get(ctx, job.JobID)
	if err != nil {
		t.Fatal(err)
	}
	if processed.Status != StatusCompleted {
		t.Fatalf("status = %q, error = %q", processed.Status, processed.Error)
	}
	if processed.Review.Status != ReviewPendingReview {
		t.Errorf("review = %+v", processed.Review)
	}
	if processed.Result == nil || processed.Result.Extractor != "native_text" {
		t.Fatalf("result = %+v", processed.Result)
	}
	if len(processed.Result.Suggestions.LabEntries) == 0 {
		t.Error("expected lab suggestions")
	}
	if processed.StartedAt == "" || processed.FinishedAt == "" {
		t.Errorf("timestamps missing: %+v", processed)
	}
}

func TestProcessUnsupportedExtensionFails(t *testing.T) {
	svc := newAssistService(t)
	ctx := context.Background()

	fh := multipartFile(t, "file", "report.xlsx", []byte("binary"))
	job, err := svc.Enqueue(ctx, SectionLab, "AP-SVT-001", fh)
	if err != nil {
		t.Fatal(err)
	}

	svc.processJob(job.JobID)

	processed, _ := svc.Get(ctx, job.JobID)
	if processed.Status != StatusFailed {
		t.Fatalf("status = %q", processed.Status)
	}
	if processed.Error == "" {
		t.Error("failed job should carry the extraction error")
	}
	if processed.Review.Status != ReviewNotReady {
		t.Errorf("review = %+v", processed.Review)
	}

	// Failed jobs cannot be reviewed.
	if _, err := svc.Review(ctx, job.JobID, "accepted", "", nil); !errors.Is(err, ErrReviewNotReady) {
		t.Fatalf("err = %v", err)
	}
}

func TestProcessIsCompareAndSet(t *testing.T) {
	svc := newAssistService(t)
	ctx := context.Background()

	fh := multipartFile(t, "file", "cbc.txt", []byte(labReport))
	job, _ := svc.Enqueue(ctx, SectionLab, "AP-SVT-001", fh)

	svc.processJob(job.JobID)
	first, _ := svc.Get(ctx, job.JobID)

	// Second delivery of the same ID is a no-op.
	svc.processJob(job.JobID)
	second, _ := svc.Get(ctx, job.JobID)
	if second.FinishedAt != first.FinishedAt {
		t.Fatal("completed job must not be reprocessed")
	}
}

func TestReviewAcceptMergesIdempotently(t *testing.T) {
	svc := newAssistService(t)
	ctx := context.Background()

	fh := multipartFile(t, "file", "cbc.txt", []byte(labReport))
	job, _ := svc.Enqueue(ctx, SectionLab, "AP-SVT-001", fh)
	svc.processJob(job.JobID)

	applied := &AppliedPayload{
		LabEntries: []LabEntry{
			{Date: "2026-01-12", Parameter: "Hemoglobin", Value: "9.8 g/dL"},
			{Date: "2026-01-12", Parameter: "CRP", Value: "86.4 mg/L"},
		},
	}

	reviewed, err := svc.Review(ctx, job.JobID, "accepted", "Verified against the paper report", applied)
	if err != nil {
		t.Fatal(err)
	}
	if reviewed.Review.Status != ReviewAccepted || reviewed.Review.Decision != ReviewAccepted {
		t.Fatalf("review = %+v", reviewed.Review)
	}
	if len(reviewed.Review.AppliedPayload.LabEntries) != 2 {
		t.Fatalf("applied = %+v", reviewed.Review.AppliedPayload)
	}

	// Accepting again with overlapping rows must not duplicate them.
	again, err := svc.Review(ctx, job.JobID, "accepted", "", &AppliedPayload{
		LabEntries: []LabEntry{
			{Date: "2026-01-12", Parameter: "Hemoglobin", Value: "9.8 g/dL"},
			{Date: "2026-01-12", Parameter: "ALP", Value: "161 U/L"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(again.Review.AppliedPayload.LabEntries) != 3 {
		t.Fatalf("applied after merge = %+v", again.Review.AppliedPayload.LabEntries)
	}

	// Flipping the decision is a conflict.
	if _, err := svc.Review(ctx, job.JobID, "rejected", "", nil); !errors.Is(err, ErrReviewConflict) {
		t.Fatalf("err = %v", err)
	}
}

func TestReviewRejectIsOneShot(t *testing.T) {
	svc := newAssistService(t)
	ctx := context.Background()

	fh := multipartFile(t, "file", "cbc.txt", []byte(labReport))
	job, _ := svc.Enqueue(ctx, SectionLab, "AP-SVT-001", fh)
	svc.processJob(job.JobID)

	reviewed, err := svc.Review(ctx, job.JobID, "rejected", "Wrong patient", nil)
	if err != nil {
		t.Fatal(err)
	}
	if reviewed.Review.Status != ReviewRejected || reviewed.Review.AppliedPayload != nil {
		t.Fatalf("review = %+v", reviewed.Review)
	}

	if _, err := svc.Review(ctx, job.JobID, "accepted", "", nil); !errors.Is(err, ErrReviewConflict) {
		t.Fatalf("err = %v", err)
	}
}

func TestReviewValidatesDecision(t *testing.T) {
	svc := newAssistService(t)
	if _, err := svc.Review(context.Background(), "ajob_x", "maybe", "", nil); !errors.Is(err, ErrInvalidDecision) {
		t.Fatalf("err = %v", err)
	}
}

func TestRetryAfterFailureSucceeds(t *testing.T) {
	svc := newAssistService(t)
	ctx := context.Background()

	fh := multipartFile(t, "file", "cbc.txt", []byte(labReport))
	job, _ := svc.Enqueue(ctx, SectionLab, "AP-SVT-001", fh)

	// Hide the stored file so the first attempt fails, then restore it.
	storedPath := job.UploadedFile.StoredPath
	hidden := storedPath + ".hidden"
	if err := os.Rename(storedPath, hidden); err != nil {
		t.Fatal(err)
	}

	svc.processJob(job.JobID)
	failed, _ := svc.Get(ctx, job.JobID)
	if failed.Status != StatusFailed {
		t.Fatalf("status = %q", failed.Status)
	}

	if err := os.Rename(hidden, storedPath); err != nil {
		t.Fatal(err)
	}

	retried, err := svc.Retry(ctx, job.JobID)
	if err != nil {
		t.Fatal(err)
	}
	if retried.Status != StatusQueued || retried.Error != "" || retried.Result != nil {
		t.Fatalf("retried = %+v", retried)
	}
	if retried.Review.Status != ReviewNotReady {
		t.Errorf("review = %+v", retried.Review)
	}

	svc.processJob(job.JobID)
	final, _ := svc.Get(ctx, job.JobID)
	if final.Status != StatusCompleted {
		t.Fatalf("status = %q, error = %q", final.Status, final.Error)
	}
	if final.Error != "" {
		t.Errorf("residual error = %q", final.Error)
	}
	if final.Review.Status != ReviewPendingReview {
		t.Errorf("review = %+v", final.Review)
	}
}

func TestListFiltersAndSorts(t *testing.T) {
	svc := newAssistService(t)
	ctx := context.Background()

	for _, patientID := range []string{"AP-SVT-001", "AP-SVT-002", "AP-SVT-001"} {
		fh := multipartFile(t, "file", "cbc.txt", []byte(labReport))
		if _, err := svc.Enqueue(ctx, SectionLab, patientID, fh); err != nil {
			t.Fatal(err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	all, err := svc.List(ctx, "", "", 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("len(all) = %d", len(all))
	}
	if all[0].CreatedAt < all[1].CreatedAt || all[1].CreatedAt < all[2].CreatedAt {
		t.Error("jobs should sort newest first")
	}

	mine, err := svc.List(ctx, "ap-svt-001", "", 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(mine) != 2 {
		t.Fatalf("len(mine) = %d", len(mine))
	}

	queued, err := svc.List(ctx, "", StatusQueued, 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(queued) != 3 {
		t.Fatalf("len(queued) = %d", len(queued))
	}

	limited, err := svc.List(ctx, "", "", 1)
	if err != nil || len(limited) != 1 {
		t.Fatalf("limited = %v err = %v", limited, err)
	}
}

func TestWorkerLifecycle(t *testing.T) {
	svc := newAssistService(t)
	ctx := context.Background()

	fh := multipartFile(t, "file", "cbc.txt", []byte(labReport))
	job, err := svc.Enqueue(ctx, SectionLab, "AP-SVT-001", fh)
	if err != nil {
		t.Fatal(err)
	}

	svc.Start(ctx)
	defer svc.Stop()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		current, err := svc.Get(ctx, job.JobID)
		if err != nil {
			t.Fatal(err)
		}
		if current.Status == StatusCompleted {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("worker did not complete the job in time")
}
