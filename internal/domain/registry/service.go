package registry

import (
	"context"
	"errors"
	"fmt"
	"mime/multipart"

	"github.com/rs/zerolog"

	"github.com/apsvt/svt-registry/internal/platform/uploads"
)

// ErrCaseNotFound is returned when a patient has no stored events.
var ErrCaseNotFound = errors.New("case not found")

// Service runs the ingestion pipeline and the read side of the case index.
type Service struct {
	store     EventStore
	templates *TemplateRegistry
	notes     *NoteWriter
	files     *uploads.Store
	logger    zerolog.Logger
}

func NewService(store EventStore, templates *TemplateRegistry, notes *NoteWriter, files *uploads.Store, logger zerolog.Logger) *Service {
	return &Service{
		store:     store,
		templates: templates,
		notes:     notes,
		files:     files,
		logger:    logger.With().Str("component", "registry").Logger(),
	}
}

// Ingest validates and persists one submission, then writes its log note.
// Field and template violations come back as *ValidationError; an unknown
// template comes back as ErrTemplateNotFound.
func (s *Service) Ingest(ctx context.Context, sub *PatientSubmission) (*IngestionAck, error) {
	if fieldErrs := Normalize(sub); len(fieldErrs) > 0 {
		return nil, &ValidationError{Errors: fieldErrs}
	}

	tmpl, err := s.templates.Get(sub.TemplateID)
	if err != nil {
		return nil, err
	}
	if fieldErrs := ValidateAgainstTemplate(sub, tmpl); len(fieldErrs) > 0 {
		return nil, &ValidationError{Errors: fieldErrs}
	}

	eventID, err := s.store.Append(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("append submission: %w", err)
	}

	notePath, err := s.notes.Write(sub, eventID)
	if err != nil {
		// The event is already durable; a note is reproducible from it.
		s.logger.Warn().Err(err).Str("event_id", eventID).Msg("note write failed")
		notePath = ""
	}

	s.logger.Info().
		Str("event_id", eventID).
		Str("patient_id", sub.PatientID).
		Str("visit_type", sub.VisitType).
		Msg("submission accepted")

	return &IngestionAck{EventID: eventID, NotePath: notePath}, nil
}

// IngestCSV runs the pipeline row by row. Rejected rows never block accepted
// ones; each failure is reported with its spreadsheet row number.
func (s *Service) IngestCSV(ctx context.Context, raw []byte) (*CsvIngestionAck, error) {
	rows, err := ParseCsvSubmissions(raw)
	if err != nil {
		return nil, err
	}

	ack := &CsvIngestionAck{
		EventIDs:  []string{},
		NotePaths: []string{},
		Errors:    []CsvRowError{},
	}
	ack.TotalRows = len(rows)

	for _, row := range rows {
		sub := row.Submission
		result, err := s.Ingest(ctx, &sub)
		if err != nil {
			ack.RejectedRows++
			ack.Errors = append(ack.Errors, CsvRowError{
				RowNumber: row.RowNumber,
				Message:   csvErrorMessage(err),
			})
			continue
		}
		ack.AcceptedRows++
		ack.EventIDs = append(ack.EventIDs, result.EventID)
		if result.NotePath != "" {
			ack.NotePaths = append(ack.NotePaths, result.NotePath)
		}
	}

	s.logger.Info().
		Int("total", ack.TotalRows).
		Int("accepted", ack.AcceptedRows).
		Int("rejected", ack.RejectedRows).
		Msg("csv ingestion finished")
	return ack, nil
}

func csvErrorMessage(err error) string {
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		parts := make([]string, 0, len(vErr.Errors))
		for _, fe := range vErr.Errors {
			parts = append(parts, fe.Field+": "+fe.Reason)
		}
		return joinSemicolon(parts)
	}
	return err.Error()
}

func joinSemicolon(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "; "
		}
		out += p
	}
	return out
}

// SaveFiles stores uploaded source documents under the patient's directory.
func (s *Service) SaveFiles(patientID string, headers []*multipart.FileHeader) (*FileUploadAck, error) {
	descriptors, err := s.files.SaveAll(headers, patientID)
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("patient_id", patientID).
		Int("count", len(descriptors)).
		Msg("source files stored")
	return &FileUploadAck{UploadedCount: len(descriptors), Files: descriptors}, nil
}

// ListCases returns the filtered latest-state case index.
func (s *Service) ListCases(ctx context.Context, query string, limit int) ([]CaseSummary, error) {
	events, skipped, err := s.store.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		s.logger.Warn().Int("skipped", skipped).Msg("malformed event lines ignored")
	}
	return FilterCases(BuildCaseIndex(events), query, limit), nil
}

// GetCase returns the detail view for one patient or ErrCaseNotFound.
func (s *Service) GetCase(ctx context.Context, patientID string) (*CaseDetail, error) {
	events, _, err := s.store.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	detail := BuildCaseDetail(events, patientID)
	if detail == nil {
		return nil, fmt.Errorf("%w: %s", ErrCaseNotFound, patientID)
	}
	return detail, nil
}

// ListTemplates returns all loadable proforma templates.
func (s *Service) ListTemplates() []TemplateSummary {
	return s.templates.List()
}

// GetTemplate returns one template or ErrTemplateNotFound.
func (s *Service) GetTemplate(templateID string) (*Template, error) {
	return s.templates.Get(templateID)
}
