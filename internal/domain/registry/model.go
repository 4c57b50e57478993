package registry

// Visit types in protocol order.
var ProtocolVisits = []string{
	"baseline",
	"day7_reassessment",
	"discharge",
	"week2_followup",
	"month1_followup",
	"month3_followup",
}

var ValidVesselValues = map[string]bool{
	"pv": true, "smv": true, "sv": true, "multiple": true, "unknown": true,
}

var validVisitTypes = map[string]bool{
	"baseline": true, "day7_reassessment": true, "discharge": true,
	"week2_followup": true, "month1_followup": true, "month3_followup": true,
}

var validSVTStatuses = map[string]bool{
	"with_svt": true, "without_svt": true,
}

var validCohortStatuses = map[string]bool{
	"screened": true, "enrolled": true, "active": true,
	"completed": true, "terminal_outcome": true,
}

var validRecanalizationStatuses = map[string]bool{
	"pending": true, "complete": true, "partial": true,
	"none": true, "progressed": true, "not_applicable": true,
}

// DefaultTemplateID is assumed when a submission does not name a template.
const DefaultTemplateID = "patient-template-v2"

// PatientSubmission is one visit record for a study patient. Dates are ISO
// strings after normalization.
type PatientSubmission struct {
	TemplateID              string            `json:"template_id"`
	PatientID               string            `json:"patient_id"`
	EncounterDate           string            `json:"encounter_date"`
	Diagnosis               string            `json:"diagnosis"`
	VisitType               string            `json:"visit_type"`
	SVTStatus               string            `json:"svt_status"`
	Ward                    string            `json:"ward"`
	CohortStatus            string            `json:"cohort_status"`
	VesselInvolvement       []string          `json:"vessel_involvement"`
	Mortality               string            `json:"mortality"`
	DeathDate               string            `json:"death_date,omitempty"`
	CauseOfDeath            string            `json:"cause_of_death,omitempty"`
	RecanalizationStatus    string            `json:"recanalization_status"`
	PrimaryEndpointComplete bool              `json:"primary_endpoint_complete"`
	Notes                   string            `json:"notes,omitempty"`
	ExtraFields             map[string]string `json:"extra_fields,omitempty"`
	SourceFiles             []string          `json:"source_files,omitempty"`
}

// StoredEvent is one line of the event log. Payload stays loosely typed so a
// malformed stored payload never breaks reads; consumers normalize defensively.
type StoredEvent struct {
	EventID   string                 `json:"event_id"`
	EventType string                 `json:"event_type"`
	CreatedAt string                 `json:"created_at"`
	Payload   map[string]interface{} `json:"payload"`
}

// FieldError is one field-level validation failure.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError aggregates the field errors that rejected a submission.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "validation failed"
	}
	return "validation failed: " + e.Errors[0].Field + " " + e.Errors[0].Reason
}

// IngestionAck acknowledges an accepted submission.
type IngestionAck struct {
	EventID  string `json:"event_id"`
	NotePath string `json:"note_path"`
}

// FileUploadAck acknowledges stored source files.
type FileUploadAck struct {
	UploadedCount int         `json:"uploaded_count"`
	Files         interface{} `json:"files"`
}

// CsvRowError reports one rejected CSV row. Row numbers are 1-based file
// lines, so the first data row is 2.
type CsvRowError struct {
	RowNumber int    `json:"row_number"`
	Message   string `json:"message"`
}

// CsvIngestionAck summarizes a bulk CSV ingestion.
type CsvIngestionAck struct {
	TotalRows    int           `json:"total_rows"`
	AcceptedRows int           `json:"accepted_rows"`
	RejectedRows int           `json:"rejected_rows"`
	EventIDs     []string      `json:"event_ids"`
	NotePaths    []string      `json:"note_paths"`
	Errors       []CsvRowError `json:"errors"`
}
