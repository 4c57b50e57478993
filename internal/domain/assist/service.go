package assist

import (
	"context"
	"fmt"
	"mime/multipart"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/apsvt/svt-registry/internal/platform/uploads"
)

const queueCapacity = 256

// Service owns the job lifecycle: enqueue, background extraction, review,
// and retry. A single worker goroutine processes jobs so the OCR command
// never runs concurrently with itself.
type Service struct {
	repo      JobRepository
	files     *uploads.Store
	extractor *Extractor
	logger    zerolog.Logger

	// mu serializes job state transitions across the HTTP handlers and the
	// worker.
	mu sync.Mutex

	queue chan string
	stop  chan struct{}
	done  chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

func NewService(repo JobRepository, files *uploads.Store, extractor *Extractor, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		files:     files,
		extractor: extractor,
		logger:    logger.With().Str("component", "assist").Logger(),
		queue:     make(chan string, queueCapacity),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// Start launches the worker and re-enqueues jobs that were interrupted by
// the previous shutdown.
func (s *Service) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		pending, err := s.repo.PendingJobIDs(ctx)
		if err != nil {
			s.logger.Error().Err(err).Msg("load pending jobs")
		}
		for _, jobID := range pending {
			s.push(jobID)
		}
		if len(pending) > 0 {
			s.logger.Info().Int("count", len(pending)).Msg("requeued interrupted jobs")
		}
		go s.workerLoop()
	})
}

// Stop signals the worker and waits for the in-flight job to finish.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		select {
		case <-s.done:
		case <-time.After(5 * time.Second):
			s.logger.Warn().Msg("worker did not stop in time")
		}
	})
}

func (s *Service) push(jobID string) {
	select {
	case s.queue <- jobID:
	default:
		// The periodic pending scan picks the job up later.
		s.logger.Warn().Str("job_id", jobID).Msg("job queue full")
	}
}

func (s *Service) workerLoop() {
	defer close(s.done)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case jobID := <-s.queue:
			s.processJob(jobID)
		case <-ticker.C:
			// Catch jobs dropped from a full queue or left behind by a crash.
			pending, err := s.repo.PendingJobIDs(context.Background())
			if err != nil {
				continue
			}
			for _, jobID := range pending {
				select {
				case <-s.stop:
					return
				default:
				}
				s.processJob(jobID)
			}
		}
	}
}

// Enqueue stores the upload and creates a queued job for it.
func (s *Service) Enqueue(ctx context.Context, section, patientID string, fh *multipart.FileHeader) (*Job, error) {
	normalizedSection := strings.ToLower(strings.TrimSpace(section))
	if normalizedSection != SectionLab && normalizedSection != SectionImaging {
		return nil, ErrInvalidSection
	}

	descriptor, err := s.files.Save(fh, patientID)
	if err != nil {
		return nil, fmt.Errorf("store attachment: %w", err)
	}

	now := nowISO()
	job := &Job{
		JobID:        "ajob_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Status:       StatusQueued,
		Section:      normalizedSection,
		PatientID:    strings.ToUpper(strings.TrimSpace(patientID)),
		CreatedAt:    now,
		UpdatedAt:    now,
		UploadedFile: descriptor,
		Review:       newReview(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.repo.Save(ctx, job); err != nil {
		return nil, err
	}
	s.push(job.JobID)

	s.logger.Info().
		Str("job_id", job.JobID).
		Str("section", job.Section).
		Str("file", descriptor.FileName).
		Msg("extraction job queued")
	return job.Clone(), nil
}

// List returns jobs filtered by patient and status, newest first.
func (s *Service) List(ctx context.Context, patientID, status string, limit int) ([]*Job, error) {
	jobs, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	patientToken := strings.ToUpper(strings.TrimSpace(patientID))
	statusToken := strings.ToLower(strings.TrimSpace(status))

	filtered := make([]*Job, 0, len(jobs))
	for _, job := range jobs {
		if patientToken != "" && job.PatientID != patientToken {
			continue
		}
		if statusToken != "" && job.Status != statusToken {
			continue
		}
		filtered = append(filtered, job)
	}

	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].CreatedAt != filtered[j].CreatedAt {
			return filtered[i].CreatedAt > filtered[j].CreatedAt
		}
		return filtered[i].JobID > filtered[j].JobID
	})

	if limit < 1 {
		limit = 1
	}
	if limit > 300 {
		limit = 300
	}
	if len(filtered) > limit {
		filtered = filtered[:limit]
	}
	return filtered, nil
}

func (s *Service) Get(ctx context.Context, jobID string) (*Job, error) {
	return s.repo.Get(ctx, strings.TrimSpace(jobID))
}

// Review records the investigator decision on a completed job. The decision
// is one-shot; the only repeatable call is accepting again, which merges the
// applied rows without duplication.
func (s *Service) Review(ctx context.Context, jobID, decision, reviewerNote string, applied *AppliedPayload) (*Job, error) {
	normalizedDecision := strings.ToLower(strings.TrimSpace(decision))
	if normalizedDecision != ReviewAccepted && normalizedDecision != ReviewRejected {
		return nil, ErrInvalidDecision
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.repo.Get(ctx, strings.TrimSpace(jobID))
	if err != nil {
		return nil, err
	}
	if job.Status != StatusCompleted {
		return nil, ErrReviewNotReady
	}

	switch job.Review.Status {
	case ReviewPendingReview:
		// First decision.
	case ReviewAccepted:
		if normalizedDecision != ReviewAccepted {
			return nil, ErrReviewConflict
		}
		// Repeated accept merges rows idempotently.
		mergeApplied(&job.Review, applied, job.Result)
		job.Review.ReviewedAt = nowISO()
		job.UpdatedAt = job.Review.ReviewedAt
		if err := s.repo.Save(ctx, job); err != nil {
			return nil, err
		}
		return job.Clone(), nil
	default:
		return nil, ErrReviewConflict
	}

	now := nowISO()
	job.Review.Status = normalizedDecision
	job.Review.Decision = normalizedDecision
	job.Review.ReviewedAt = now
	job.Review.ReviewerNote = strings.TrimSpace(reviewerNote)
	if normalizedDecision == ReviewAccepted {
		mergeApplied(&job.Review, applied, job.Result)
	} else {
		job.Review.AppliedPayload = nil
	}
	job.UpdatedAt = now

	if err := s.repo.Save(ctx, job); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("job_id", job.JobID).
		Str("decision", normalizedDecision).
		Msg("extraction job reviewed")
	return job.Clone(), nil
}

// mergeApplied folds the accepted rows into the review payload. Rows default
// to the job's own suggestions when the reviewer sends none.
func mergeApplied(review *Review, applied *AppliedPayload, result *Result) {
	if applied == nil {
		applied = &AppliedPayload{}
		if result != nil && result.Suggestions != nil {
			applied.LabEntries = result.Suggestions.LabEntries
			applied.ImagingEntries = result.Suggestions.ImagingEntries
			applied.ExtraFields = result.Suggestions.ExtraFields
		}
	}
	if review.AppliedPayload == nil {
		review.AppliedPayload = &AppliedPayload{}
	}
	target := review.AppliedPayload

	seenLab := map[string]bool{}
	for _, row := range target.LabEntries {
		seenLab[row.Date+"|"+row.Parameter+"|"+row.Value] = true
	}
	for _, row := range applied.LabEntries {
		key := row.Date + "|" + row.Parameter + "|" + row.Value
		if seenLab[key] {
			continue
		}
		seenLab[key] = true
		target.LabEntries = append(target.LabEntries, row)
	}

	seenImaging := map[string]bool{}
	for _, row := range target.ImagingEntries {
		seenImaging[row.Date+"|"+row.Modality+"|"+row.Findings] = true
	}
	for _, row := range applied.ImagingEntries {
		key := row.Date + "|" + row.Modality + "|" + row.Findings
		if seenImaging[key] {
			continue
		}
		seenImaging[key] = true
		target.ImagingEntries = append(target.ImagingEntries, row)
	}

	if len(applied.ExtraFields) > 0 {
		if target.ExtraFields == nil {
			target.ExtraFields = map[string]string{}
		}
		for key, value := range applied.ExtraFields {
			target.ExtraFields[key] = value
		}
	}
}

// Retry resets a job and puts it back in the queue. A job that is currently
// running cannot be retried.
func (s *Service) Retry(ctx context.Context, jobID string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.repo.Get(ctx, strings.TrimSpace(jobID))
	if err != nil {
		return nil, err
	}
	if job.Status == StatusProcessing {
		return nil, ErrRetryConflict
	}

	now := nowISO()
	job.Status = StatusQueued
	job.UpdatedAt = now
	job.StartedAt = ""
	job.FinishedAt = ""
	job.Error = ""
	job.Result = nil
	job.Review = newReview()

	if err := s.repo.Save(ctx, job); err != nil {
		return nil, err
	}
	s.push(job.JobID)

	s.logger.Info().Str("job_id", job.JobID).Msg("extraction job requeued")
	return job.Clone(), nil
}

// processJob runs extraction for one queued job. The queued to processing
// transition is a compare-and-set, so a job is attempted at most once even
// when its ID reaches the worker twice.
func (s *Service) processJob(jobID string) {
	ctx := context.Background()

	s.mu.Lock()
	job, err := s.repo.Get(ctx, jobID)
	if err != nil || job.Status != StatusQueued {
		s.mu.Unlock()
		return
	}
	started := nowISO()
	job.Status = StatusProcessing
	job.StartedAt = started
	job.UpdatedAt = started
	job.Error = ""
	if err := s.repo.Save(ctx, job); err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("mark job processing")
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	result := s.runExtraction(ctx, job)

	status := StatusFailed
	if result.ExtractionStatus == "ok" {
		status = StatusCompleted
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.repo.Get(ctx, jobID)
	if err != nil {
		return
	}
	finished := nowISO()
	current.Status = status
	current.FinishedAt = finished
	current.UpdatedAt = finished
	current.Error = result.ExtractionError
	current.Result = result
	if status == StatusCompleted {
		current.Review.Status = ReviewPendingReview
	} else {
		current.Review.Status = ReviewNotReady
	}

	if err := s.repo.Save(ctx, current); err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("record job outcome")
		return
	}

	event := s.logger.Info()
	if status == StatusFailed {
		event = s.logger.Warn().Str("error", result.ExtractionError)
	}
	event.Str("job_id", jobID).Str("status", status).Msg("extraction job finished")
}

// runExtraction resolves the stored upload and turns it into a result,
// successful or not.
func (s *Service) runExtraction(ctx context.Context, job *Job) *Result {
	path, err := s.files.Resolve(job.UploadedFile.StoredPath)
	if err != nil {
		return failedResult(job.Section, "none", err.Error())
	}

	if !SupportedExtension(path) {
		return unsupportedResult(job.Section, strings.ToLower(filepath.Ext(path)))
	}

	text, extractor, err := s.extractor.Extract(ctx, path)
	if err != nil {
		return failedResult(job.Section, extractor, err.Error())
	}
	return buildResult(job.Section, job.UploadedFile.FileName, text, extractor)
}
