package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/apsvt/svt-registry/internal/platform/uploads"
)

// NoteWriter renders one markdown log note per accepted submission. Notes
// mirror the event log for human review and never feed back into it.
type NoteWriter struct {
	root string
}

func NewNoteWriter(root string) *NoteWriter {
	return &NoteWriter{root: root}
}

// Write renders the note for a stored submission and returns its path.
func (w *NoteWriter) Write(s *PatientSubmission, eventID string) (string, error) {
	if err := os.MkdirAll(w.root, 0o755); err != nil {
		return "", fmt.Errorf("create notes directory: %w", err)
	}

	safePatient := uploads.Sanitize(s.PatientID)
	fileName := fmt.Sprintf("%s-%s-%s.md", s.EncounterDate, safePatient, eventID)
	notePath := filepath.Join(w.root, fileName)

	vessels := "None"
	if len(s.VesselInvolvement) > 0 {
		vessels = strings.Join(s.VesselInvolvement, ", ")
	}

	sourceLines := "- None"
	if len(s.SourceFiles) > 0 {
		var b strings.Builder
		for i, name := range s.SourceFiles {
			if i > 0 {
				b.WriteByte('\n')
			}
			b.WriteString("- " + name)
		}
		sourceLines = b.String()
	}

	extraLines := "- None"
	if len(s.ExtraFields) > 0 {
		keys := make([]string, 0, len(s.ExtraFields))
		for key := range s.ExtraFields {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		var b strings.Builder
		for i, key := range keys {
			if i > 0 {
				b.WriteByte('\n')
			}
			b.WriteString(fmt.Sprintf("- %s: %s", key, s.ExtraFields[key]))
		}
		extraLines = b.String()
	}

	notesBody := s.Notes
	if notesBody == "" {
		notesBody = "No additional notes provided."
	}

	lines := []string{
		"---",
		`type: "patient-ingestion"`,
		fmt.Sprintf("event_id: %q", eventID),
		fmt.Sprintf("patient_id: %q", s.PatientID),
		fmt.Sprintf("encounter_date: %q", s.EncounterDate),
		fmt.Sprintf("svt_status: %q", s.SVTStatus),
		fmt.Sprintf("ward: %q", s.Ward),
		fmt.Sprintf("template_id: %q", s.TemplateID),
		fmt.Sprintf("created_at: %q", time.Now().UTC().Format(time.RFC3339Nano)),
		"tags:",
		"  - thesis",
		"  - patient-ingestion",
		"---",
		"",
		"# Patient Ingestion Log: " + s.PatientID,
		"",
		"## Summary",
		"- Event ID: `" + eventID + "`",
		"- Encounter Date: " + s.EncounterDate,
		"- Diagnosis: " + s.Diagnosis,
		"- Visit Type: " + s.VisitType,
		"- Cohort Status: " + s.CohortStatus,
		"- SVT Status: " + s.SVTStatus,
		"- Vessel Involvement: " + vessels,
		"- Mortality: " + s.Mortality,
		"- Recanalization Status: " + s.RecanalizationStatus,
		fmt.Sprintf("- Primary Endpoint Complete: %t", s.PrimaryEndpointComplete),
		"- Ward: " + s.Ward,
		"",
		"## Notes",
		notesBody,
		"",
		"## Proforma Fields",
		extraLines,
		"",
		"## Source Files",
		sourceLines,
		"",
	}

	if err := os.WriteFile(notePath, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		return "", fmt.Errorf("write note: %w", err)
	}
	return notePath, nil
}
