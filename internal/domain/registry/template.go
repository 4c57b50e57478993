package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrTemplateNotFound is returned when a submission names an unknown template.
var ErrTemplateNotFound = errors.New("template not found")

// TemplateField defines one proforma field with optional enum constraints and
// a conditional-requirement clause.
type TemplateField struct {
	Key          string            `json:"key"`
	Type         string            `json:"type"`
	Options      []string          `json:"options,omitempty"`
	RequiredWhen map[string]string `json:"required_when,omitempty"`
}

// Template is a proforma definition loaded from a JSON file.
type Template struct {
	TemplateID     string          `json:"template_id"`
	Version        int             `json:"version"`
	Title          string          `json:"title"`
	RequiredFields []string        `json:"required_fields"`
	Fields         []TemplateField `json:"fields"`
}

// TemplateSummary is the list form of a template.
type TemplateSummary struct {
	TemplateID     string   `json:"template_id"`
	Version        int      `json:"version"`
	Title          string   `json:"title"`
	RequiredFields []string `json:"required_fields"`
}

// TemplateRegistry reads proforma templates from a directory of JSON files.
// Files are re-read per lookup; the directory is tiny and editable in place.
type TemplateRegistry struct {
	dir string
}

func NewTemplateRegistry(dir string) *TemplateRegistry {
	return &TemplateRegistry{dir: dir}
}

func (r *TemplateRegistry) readTemplate(path string) *Template {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var tmpl Template
	if err := json.Unmarshal(raw, &tmpl); err != nil {
		return nil
	}
	if tmpl.TemplateID == "" {
		tmpl.TemplateID = strings.TrimSuffix(filepath.Base(path), ".json")
	}
	if tmpl.Version == 0 {
		tmpl.Version = 1
	}
	if tmpl.Title == "" {
		tmpl.Title = tmpl.TemplateID
	}
	return &tmpl
}

func (r *TemplateRegistry) templatePaths() []string {
	matches, err := filepath.Glob(filepath.Join(r.dir, "*.json"))
	if err != nil {
		return nil
	}
	sort.Strings(matches)
	return matches
}

// List returns summaries of every readable template. Unreadable or malformed
// files are skipped.
func (r *TemplateRegistry) List() []TemplateSummary {
	var out []TemplateSummary
	for _, path := range r.templatePaths() {
		tmpl := r.readTemplate(path)
		if tmpl == nil {
			continue
		}
		out = append(out, TemplateSummary{
			TemplateID:     tmpl.TemplateID,
			Version:        tmpl.Version,
			Title:          tmpl.Title,
			RequiredFields: tmpl.RequiredFields,
		})
	}
	return out
}

// Get returns the template with the given ID, or ErrTemplateNotFound.
func (r *TemplateRegistry) Get(templateID string) (*Template, error) {
	for _, path := range r.templatePaths() {
		tmpl := r.readTemplate(path)
		if tmpl == nil {
			continue
		}
		if tmpl.TemplateID == templateID {
			return tmpl, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, templateID)
}

// ValidateAgainstTemplate checks a normalized submission against the template
// definition: required fields, enum membership, and conditional requirements.
// Template rules are enforced server-side so no client can skip them.
func ValidateAgainstTemplate(s *PatientSubmission, tmpl *Template) []FieldError {
	data := submissionFieldMap(s)
	var errs []FieldError

	for _, fieldName := range tmpl.RequiredFields {
		if isMissingValue(data[fieldName]) {
			errs = append(errs, FieldError{Field: fieldName, Reason: "missing required field"})
		}
	}

	fieldDefs := make(map[string]TemplateField, len(tmpl.Fields))
	for _, def := range tmpl.Fields {
		if def.Key != "" {
			fieldDefs[def.Key] = def
		}
	}

	for key, value := range data {
		def, ok := fieldDefs[key]
		if !ok || isMissingValue(value) {
			continue
		}
		switch def.Type {
		case "enum":
			text, _ := value.(string)
			if !containsString(def.Options, text) {
				errs = append(errs, FieldError{Field: key, Reason: fmt.Sprintf("invalid enum value: %s", text)})
			}
		case "enum_list":
			list, ok := value.([]string)
			if !ok {
				errs = append(errs, FieldError{Field: key, Reason: "invalid list value"})
				continue
			}
			var invalid []string
			for _, item := range list {
				if !containsString(def.Options, item) {
					invalid = append(invalid, item)
				}
			}
			if len(invalid) > 0 {
				errs = append(errs, FieldError{Field: key, Reason: "invalid enum list values: " + strings.Join(invalid, ", ")})
			}
		}
	}

	for key, def := range fieldDefs {
		if len(def.RequiredWhen) == 0 {
			continue
		}
		shouldRequire := true
		for condKey, condValue := range def.RequiredWhen {
			if text, _ := data[condKey].(string); text != condValue {
				shouldRequire = false
				break
			}
		}
		if shouldRequire && isMissingValue(data[key]) {
			errs = append(errs, FieldError{Field: key, Reason: "missing conditionally required field"})
		}
	}

	return errs
}

// submissionFieldMap flattens a submission into the field names templates
// refer to.
func submissionFieldMap(s *PatientSubmission) map[string]interface{} {
	return map[string]interface{}{
		"template_id":               s.TemplateID,
		"patient_id":                s.PatientID,
		"encounter_date":            s.EncounterDate,
		"diagnosis":                 s.Diagnosis,
		"visit_type":                s.VisitType,
		"svt_status":                s.SVTStatus,
		"ward":                      s.Ward,
		"cohort_status":             s.CohortStatus,
		"vessel_involvement":        s.VesselInvolvement,
		"mortality":                 s.Mortality,
		"death_date":                s.DeathDate,
		"cause_of_death":            s.CauseOfDeath,
		"recanalization_status":     s.RecanalizationStatus,
		"primary_endpoint_complete": s.PrimaryEndpointComplete,
		"notes":                     s.Notes,
	}
}

func isMissingValue(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []string:
		return len(v) == 0
	}
	return false
}

func containsString(options []string, value string) bool {
	for _, opt := range options {
		if opt == value {
			return true
		}
	}
	return false
}
