package registry

import (
	"sort"
	"strings"
)

// CaseSummary is the latest-state row for one patient in the case index.
type CaseSummary struct {
	PatientID     string `json:"patient_id"`
	EventID       string `json:"event_id"`
	EncounterDate string `json:"encounter_date,omitempty"`
	VisitType     string `json:"visit_type"`
	SVTStatus     string `json:"svt_status"`
	CohortStatus  string `json:"cohort_status"`
	Diagnosis     string `json:"diagnosis"`
	Ward          string `json:"ward"`
	TemplateID    string `json:"template_id"`
	UpdatedAt     string `json:"updated_at,omitempty"`
	EventCount    int    `json:"event_count"`
}

// CaseDetail is the full view of one patient: latest summary, the raw latest
// payload, and the visit history newest first.
type CaseDetail struct {
	Summary CaseSummary            `json:"summary"`
	Payload map[string]interface{} `json:"payload"`
	History []CaseSummary          `json:"history"`
}

func stringField(payload map[string]interface{}, key, fallback string) string {
	if raw, ok := payload[key]; ok {
		if text, ok := raw.(string); ok && strings.TrimSpace(text) != "" {
			return strings.TrimSpace(text)
		}
	}
	return fallback
}

// caseSummaryFromEvent extracts an index row, or nil when the event carries
// no usable patient ID.
func caseSummaryFromEvent(event StoredEvent) *CaseSummary {
	if event.Payload == nil {
		return nil
	}
	patientID := strings.ToUpper(stringField(event.Payload, "patient_id", ""))
	if patientID == "" {
		return nil
	}

	encounter := ""
	if iso, ok := ParseFlexibleDate(stringField(event.Payload, "encounter_date", "")); ok {
		encounter = iso
	}

	return &CaseSummary{
		PatientID:     patientID,
		EventID:       event.EventID,
		EncounterDate: encounter,
		VisitType:     stringField(event.Payload, "visit_type", "baseline"),
		SVTStatus:     stringField(event.Payload, "svt_status", "without_svt"),
		CohortStatus:  stringField(event.Payload, "cohort_status", "active"),
		Diagnosis:     stringField(event.Payload, "diagnosis", ""),
		Ward:          stringField(event.Payload, "ward", ""),
		TemplateID:    stringField(event.Payload, "template_id", ""),
		UpdatedAt:     event.CreatedAt,
		EventCount:    1,
	}
}

// caseSortKey orders events by encounter date then ingestion time.
func caseSortKey(s *CaseSummary) string {
	return s.EncounterDate + "\x00" + s.UpdatedAt
}

// BuildCaseIndex folds events into one latest-state summary per patient,
// sorted by recency of update.
func BuildCaseIndex(events []StoredEvent) []CaseSummary {
	latest := map[string]*CaseSummary{}
	counts := map[string]int{}

	for _, event := range events {
		summary := caseSummaryFromEvent(event)
		if summary == nil {
			continue
		}
		counts[summary.PatientID]++
		previous, ok := latest[summary.PatientID]
		if !ok || caseSortKey(summary) >= caseSortKey(previous) {
			latest[summary.PatientID] = summary
		}
	}

	items := make([]CaseSummary, 0, len(latest))
	for patientID, summary := range latest {
		summary.EventCount = counts[patientID]
		items = append(items, *summary)
	}

	sort.Slice(items, func(i, j int) bool {
		if items[i].UpdatedAt != items[j].UpdatedAt {
			return items[i].UpdatedAt > items[j].UpdatedAt
		}
		return items[i].PatientID > items[j].PatientID
	})
	return items
}

// FilterCases applies a free-text filter over patient ID, diagnosis, and
// ward, then truncates to limit.
func FilterCases(items []CaseSummary, query string, limit int) []CaseSummary {
	token := strings.ToLower(strings.TrimSpace(query))
	if token != "" {
		filtered := make([]CaseSummary, 0, len(items))
		for _, item := range items {
			joined := strings.ToLower(item.PatientID + " " + item.Diagnosis + " " + item.Ward)
			if strings.Contains(joined, token) {
				filtered = append(filtered, item)
			}
		}
		items = filtered
	}
	if limit < 1 {
		limit = 1
	}
	if limit > 500 {
		limit = 500
	}
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}

// BuildCaseDetail assembles the detail view for one patient, or nil when the
// patient has no events.
func BuildCaseDetail(events []StoredEvent, patientID string) *CaseDetail {
	normalized := strings.ToUpper(strings.TrimSpace(patientID))
	if normalized == "" {
		return nil
	}

	var matching []StoredEvent
	var rows []CaseSummary
	for _, event := range events {
		summary := caseSummaryFromEvent(event)
		if summary == nil || summary.PatientID != normalized {
			continue
		}
		matching = append(matching, event)
		rows = append(rows, *summary)
	}
	if len(matching) == 0 {
		return nil
	}

	// Latest event by (encounter_date, created_at).
	latestIdx := 0
	for i := range rows {
		if caseSortKey(&rows[i]) >= caseSortKey(&rows[latestIdx]) {
			latestIdx = i
		}
	}

	summary := rows[latestIdx]
	summary.EventCount = len(rows)

	history := make([]CaseSummary, len(rows))
	copy(history, rows)
	sort.Slice(history, func(i, j int) bool {
		if history[i].EncounterDate != history[j].EncounterDate {
			return history[i].EncounterDate > history[j].EncounterDate
		}
		return history[i].UpdatedAt > history[j].UpdatedAt
	})

	return &CaseDetail{
		Summary: summary,
		Payload: matching[latestIdx].Payload,
		History: history,
	}
}
