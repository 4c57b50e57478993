// Package assist runs OCR extraction jobs over uploaded lab and imaging
// reports and drafts proforma suggestions for investigator review. Suggestions
// never enter the event log until an investigator accepts them.
package assist

import "github.com/apsvt/svt-registry/internal/platform/uploads"

// Job statuses.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Review statuses.
const (
	ReviewNotReady      = "not_ready"
	ReviewPendingReview = "pending_review"
	ReviewAccepted      = "accepted"
	ReviewRejected      = "rejected"
)

// Sections a job can target.
const (
	SectionLab     = "lab"
	SectionImaging = "imaging"
)

// LabEntry is one suggested laboratory value.
type LabEntry struct {
	Date      string `json:"date"`
	Parameter string `json:"parameter"`
	Value     string `json:"value"`
}

// ImagingEntry is one suggested imaging report row.
type ImagingEntry struct {
	Date     string `json:"date"`
	Modality string `json:"modality"`
	Findings string `json:"findings"`
}

// Suggestions is the draft auto-fill payload built from extracted text.
type Suggestions struct {
	LabEntries     []LabEntry        `json:"lab_entries"`
	ImagingEntries []ImagingEntry    `json:"imaging_entries"`
	ExtraFields    map[string]string `json:"extra_fields"`
	ReviewNotes    []string          `json:"review_notes"`
}

// Result is the outcome of one extraction attempt.
type Result struct {
	Section              string       `json:"section"`
	ExtractionStatus     string       `json:"extraction_status"`
	Extractor            string       `json:"extractor"`
	ExtractionError      string       `json:"extraction_error,omitempty"`
	ExtractedTextPreview string       `json:"extracted_text_preview"`
	Suggestions          *Suggestions `json:"suggestions"`
}

// AppliedPayload is what an accepting reviewer actually committed. Repeated
// accepts merge into it without duplicating rows.
type AppliedPayload struct {
	LabEntries     []LabEntry        `json:"lab_entries,omitempty"`
	ImagingEntries []ImagingEntry    `json:"imaging_entries,omitempty"`
	ExtraFields    map[string]string `json:"extra_fields,omitempty"`
}

// Review is the one-shot investigator decision attached to a job.
type Review struct {
	Status         string          `json:"status"`
	Decision       string          `json:"decision,omitempty"`
	ReviewedAt     string          `json:"reviewed_at,omitempty"`
	ReviewerNote   string          `json:"reviewer_note,omitempty"`
	AppliedPayload *AppliedPayload `json:"applied_payload,omitempty"`
}

// Job is one attachment extraction job and its full lifecycle state.
type Job struct {
	JobID        string             `json:"job_id"`
	Status       string             `json:"status"`
	Section      string             `json:"section"`
	PatientID    string             `json:"patient_id,omitempty"`
	CreatedAt    string             `json:"created_at"`
	UpdatedAt    string             `json:"updated_at"`
	StartedAt    string             `json:"started_at,omitempty"`
	FinishedAt   string             `json:"finished_at,omitempty"`
	Error        string             `json:"error,omitempty"`
	UploadedFile uploads.Descriptor `json:"uploaded_file"`
	Result       *Result            `json:"result,omitempty"`
	Review       Review             `json:"review"`
}

func newReview() Review {
	return Review{Status: ReviewNotReady}
}

// Clone returns a deep copy so callers never share mutable state with the
// repository.
func (j *Job) Clone() *Job {
	copied := *j
	if j.Result != nil {
		result := *j.Result
		if j.Result.Suggestions != nil {
			suggestions := *j.Result.Suggestions
			suggestions.LabEntries = append([]LabEntry(nil), j.Result.Suggestions.LabEntries...)
			suggestions.ImagingEntries = append([]ImagingEntry(nil), j.Result.Suggestions.ImagingEntries...)
			suggestions.ExtraFields = copyStringMap(j.Result.Suggestions.ExtraFields)
			suggestions.ReviewNotes = append([]string(nil), j.Result.Suggestions.ReviewNotes...)
			result.Suggestions = &suggestions
		}
		copied.Result = &result
	}
	if j.Review.AppliedPayload != nil {
		applied := *j.Review.AppliedPayload
		applied.LabEntries = append([]LabEntry(nil), j.Review.AppliedPayload.LabEntries...)
		applied.ImagingEntries = append([]ImagingEntry(nil), j.Review.AppliedPayload.ImagingEntries...)
		applied.ExtraFields = copyStringMap(j.Review.AppliedPayload.ExtraFields)
		copied.Review.AppliedPayload = &applied
	}
	return &copied
}

func copyStringMap(src map[string]string) map[string]string {
	if src == nil {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
