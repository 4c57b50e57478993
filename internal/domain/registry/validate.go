package registry

import (
	"regexp"
	"strings"
	"time"
)

var patientIDPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9-]{2,63}$`)

// dateLayouts are the accepted input formats, tried in order. Everything is
// normalized to ISO on the way in.
var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"02-01-2006",
	"01/02/2006",
	"02.01.2006",
	"2006/01/02",
}

// ParseFlexibleDate parses a date in any accepted format and returns it in
// ISO form. A leading timestamp portion ("T...") is dropped first.
func ParseFlexibleDate(value string) (string, bool) {
	text := strings.TrimSpace(value)
	if text == "" {
		return "", false
	}
	if idx := strings.IndexByte(text, 'T'); idx > 0 {
		text = text[:idx]
	}
	for _, layout := range dateLayouts {
		if parsed, err := time.Parse(layout, text); err == nil {
			return parsed.Format("2006-01-02"), true
		}
	}
	return "", false
}

// NormalizeVessels lowercases, splits on common delimiters, and dedups the
// vessel list. Unknown tokens are returned separately for error reporting.
func NormalizeVessels(values []string) (normalized []string, invalid []string) {
	seen := map[string]bool{}
	for _, raw := range values {
		for _, token := range regexp.MustCompile(`[;,/|]`).Split(raw, -1) {
			value := strings.ToLower(strings.TrimSpace(token))
			if value == "" || seen[value] {
				continue
			}
			seen[value] = true
			if !ValidVesselValues[value] {
				invalid = append(invalid, value)
				continue
			}
			normalized = append(normalized, value)
		}
	}
	return normalized, invalid
}

// Normalize cleans a submission in place and returns every rule violation.
// The submission must not be persisted when any errors come back.
func Normalize(s *PatientSubmission) []FieldError {
	var errs []FieldError
	add := func(field, reason string) {
		errs = append(errs, FieldError{Field: field, Reason: reason})
	}

	s.TemplateID = strings.TrimSpace(s.TemplateID)
	if s.TemplateID == "" {
		s.TemplateID = DefaultTemplateID
	}
	if len(s.TemplateID) < 2 || len(s.TemplateID) > 80 {
		add("template_id", "must be between 2 and 80 characters")
	}

	s.PatientID = strings.ToUpper(strings.TrimSpace(s.PatientID))
	if s.PatientID == "" {
		add("patient_id", "must not be empty")
	} else if !patientIDPattern.MatchString(s.PatientID) {
		add("patient_id", "must be a pseudonymous ID (letters/numbers/hyphens only)")
	}

	if iso, ok := ParseFlexibleDate(s.EncounterDate); ok {
		s.EncounterDate = iso
	} else {
		add("encounter_date", "must be a valid date")
	}

	s.Diagnosis = strings.TrimSpace(s.Diagnosis)
	if len(s.Diagnosis) < 2 || len(s.Diagnosis) > 200 {
		add("diagnosis", "must be between 2 and 200 characters")
	}

	s.Ward = strings.TrimSpace(s.Ward)
	if len(s.Ward) < 1 || len(s.Ward) > 120 {
		add("ward", "must be between 1 and 120 characters")
	}

	s.VisitType = strings.TrimSpace(s.VisitType)
	if s.VisitType == "" {
		s.VisitType = "baseline"
	}
	if !validVisitTypes[s.VisitType] {
		add("visit_type", "must be one of the protocol visit types")
	}

	s.SVTStatus = strings.ToLower(strings.TrimSpace(s.SVTStatus))
	if !validSVTStatuses[s.SVTStatus] {
		add("svt_status", "must be with_svt or without_svt")
	}

	s.CohortStatus = strings.TrimSpace(s.CohortStatus)
	if s.CohortStatus == "" {
		s.CohortStatus = "active"
	}
	if !validCohortStatuses[s.CohortStatus] {
		add("cohort_status", "must be a valid cohort status")
	}

	vessels, invalid := NormalizeVessels(s.VesselInvolvement)
	s.VesselInvolvement = vessels
	if len(invalid) > 0 {
		add("vessel_involvement", "invalid vessel values: "+strings.Join(invalid, ", "))
	}

	s.Mortality = strings.ToLower(strings.TrimSpace(s.Mortality))
	if s.Mortality == "" {
		s.Mortality = "no"
	}
	if s.Mortality != "yes" && s.Mortality != "no" {
		add("mortality", "must be yes or no")
	}

	s.DeathDate = strings.TrimSpace(s.DeathDate)
	if s.DeathDate != "" {
		if iso, ok := ParseFlexibleDate(s.DeathDate); ok {
			s.DeathDate = iso
		} else {
			add("death_date", "must be a valid date")
		}
	}
	s.CauseOfDeath = strings.TrimSpace(s.CauseOfDeath)
	if len(s.CauseOfDeath) > 400 {
		add("cause_of_death", "must be at most 400 characters")
	}

	s.RecanalizationStatus = strings.TrimSpace(s.RecanalizationStatus)
	if s.RecanalizationStatus == "" {
		s.RecanalizationStatus = "pending"
	}
	if !validRecanalizationStatuses[s.RecanalizationStatus] {
		add("recanalization_status", "must be a valid recanalization status")
	}

	s.Notes = strings.TrimSpace(s.Notes)
	if len(s.Notes) > 4000 {
		add("notes", "must be at most 4000 characters")
	}

	s.ExtraFields = normalizeExtraFields(s.ExtraFields)
	s.SourceFiles = normalizeStringList(s.SourceFiles)

	// Cross-field rules. Skipped when the fields involved already failed.
	if len(errs) == 0 {
		errs = append(errs, crossFieldRules(s)...)
	}
	return errs
}

func crossFieldRules(s *PatientSubmission) []FieldError {
	var errs []FieldError
	add := func(field, reason string) {
		errs = append(errs, FieldError{Field: field, Reason: reason})
	}

	if s.Mortality == "yes" {
		if s.DeathDate == "" {
			add("death_date", "required when mortality is yes")
		}
		if s.CauseOfDeath == "" {
			add("cause_of_death", "required when mortality is yes")
		}
	}

	if s.SVTStatus == "with_svt" {
		if len(s.VesselInvolvement) == 0 {
			add("vessel_involvement", "required when svt_status is with_svt")
		}
	} else {
		if len(s.VesselInvolvement) > 0 {
			add("vessel_involvement", "must be empty when svt_status is without_svt")
		}
		if s.RecanalizationStatus != "not_applicable" {
			// pending is the default on blank forms, fix it silently
			if s.RecanalizationStatus == "pending" {
				s.RecanalizationStatus = "not_applicable"
			} else {
				add("recanalization_status", "must be not_applicable when svt_status is without_svt")
			}
		}
	}

	if s.VisitType == "month3_followup" && s.SVTStatus == "with_svt" {
		if s.RecanalizationStatus == "pending" || s.RecanalizationStatus == "not_applicable" {
			add("recanalization_status", "month3_followup requires a final recanalization status for with_svt cases")
		}
	}

	// The endpoint can only be closed at month 3; earlier visits lose the flag.
	if s.PrimaryEndpointComplete && s.VisitType != "month3_followup" {
		s.PrimaryEndpointComplete = false
	}

	return errs
}

func normalizeExtraFields(fields map[string]string) map[string]string {
	if len(fields) == 0 {
		return map[string]string{}
	}
	normalized := make(map[string]string, len(fields))
	for rawKey, rawValue := range fields {
		key := strings.TrimSpace(rawKey)
		value := strings.TrimSpace(rawValue)
		if key == "" || value == "" {
			continue
		}
		normalized[key] = value
	}
	return normalized
}

func normalizeStringList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
