package registry

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// CsvDefaultTemplateID is assumed for bulk rows that name no template. Bulk
// sheets come from the full proforma export, not the short entry form.
const CsvDefaultTemplateID = "patient-proforma-v3"

// knownCsvColumns are the header names that map onto submission fields.
// Anything else lands in extra_fields verbatim.
var knownCsvColumns = map[string]bool{
	"template_id":               true,
	"patient_id":                true,
	"encounter_date":            true,
	"diagnosis":                 true,
	"visit_type":                true,
	"svt_status":                true,
	"ward":                      true,
	"cohort_status":             true,
	"vessel_involvement":        true,
	"mortality":                 true,
	"death_date":                true,
	"cause_of_death":            true,
	"recanalization_status":     true,
	"primary_endpoint_complete": true,
	"notes":                     true,
	"source_files":              true,
}

func parseBoolish(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "yes", "1", "t":
		return true
	}
	return false
}

func splitListColumn(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ";") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// CsvRow is one parsed data row with its 1-based file line number.
type CsvRow struct {
	RowNumber  int
	Submission PatientSubmission
}

// ParseCsvSubmissions decodes a proforma CSV export into submissions. The
// first line is the header; data rows are numbered from 2 to match what the
// investigator sees in a spreadsheet. Fully empty rows are skipped.
func ParseCsvSubmissions(raw []byte) ([]CsvRow, error) {
	// Spreadsheet exports often carry a UTF-8 BOM.
	raw = bytes.TrimPrefix(raw, []byte{0xEF, 0xBB, 0xBF})

	reader := csv.NewReader(bytes.NewReader(raw))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.ToLower(strings.TrimSpace(header[i]))
	}

	var rows []CsvRow
	rowNumber := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		rowNumber++
		if err != nil {
			return nil, fmt.Errorf("read csv row %d: %w", rowNumber, err)
		}

		empty := true
		for _, cell := range record {
			if strings.TrimSpace(cell) != "" {
				empty = false
				break
			}
		}
		if empty {
			continue
		}

		sub := PatientSubmission{ExtraFields: map[string]string{}}
		for i, cell := range record {
			if i >= len(header) {
				break
			}
			key := header[i]
			value := strings.TrimSpace(cell)
			if key == "" || value == "" {
				continue
			}
			if !knownCsvColumns[key] {
				sub.ExtraFields[key] = value
				continue
			}
			switch key {
			case "template_id":
				sub.TemplateID = value
			case "patient_id":
				sub.PatientID = value
			case "encounter_date":
				sub.EncounterDate = value
			case "diagnosis":
				sub.Diagnosis = value
			case "visit_type":
				sub.VisitType = value
			case "svt_status":
				sub.SVTStatus = value
			case "ward":
				sub.Ward = value
			case "cohort_status":
				sub.CohortStatus = value
			case "vessel_involvement":
				sub.VesselInvolvement = splitListColumn(value)
			case "mortality":
				sub.Mortality = value
			case "death_date":
				sub.DeathDate = value
			case "cause_of_death":
				sub.CauseOfDeath = value
			case "recanalization_status":
				sub.RecanalizationStatus = value
			case "primary_endpoint_complete":
				sub.PrimaryEndpointComplete = parseBoolish(value)
			case "notes":
				sub.Notes = value
			case "source_files":
				sub.SourceFiles = splitListColumn(value)
			}
		}
		if sub.TemplateID == "" {
			sub.TemplateID = CsvDefaultTemplateID
		}
		rows = append(rows, CsvRow{RowNumber: rowNumber, Submission: sub})
	}
	return rows, nil
}
