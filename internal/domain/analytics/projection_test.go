package analytics

import (
	"testing"
	"time"

	"github.com/apsvt/svt-registry/internal/domain/registry"
)

func event(eventID, createdAt string, payload map[string]interface{}) registry.StoredEvent {
	return registry.StoredEvent{
		EventID:   eventID,
		EventType: registry.EventTypeSubmission,
		CreatedAt: createdAt,
		Payload:   payload,
	}
}

func day(value string) time.Time {
	parsed, err := time.Parse("2006-01-02", value)
	if err != nil {
		panic(err)
	}
	return parsed
}

func patientByID(t *testing.T, p *Projection, patientID string) PatientRow {
	t.Helper()
	for _, row := range p.Cohort.Patients {
		if row.PatientID == patientID {
			return row
		}
	}
	t.Fatalf("patient %s not in projection", patientID)
	return PatientRow{}
}

func followupByID(t *testing.T, p *Projection, patientID string) FollowupItem {
	t.Helper()
	for _, item := range p.Followups.Items {
		if item.PatientID == patientID {
			return item
		}
	}
	t.Fatalf("patient %s not in followups", patientID)
	return FollowupItem{}
}

func qualityByID(t *testing.T, p *Projection, patientID string) QualityItem {
	t.Helper()
	for _, item := range p.DataQuality.Items {
		if item.PatientID == patientID {
			return item
		}
	}
	t.Fatalf("patient %s not in quality items", patientID)
	return QualityItem{}
}

func TestComputeEmptyLog(t *testing.T) {
	p := Compute(nil, 32, day("2026-03-01"))
	if p.Summary.TotalPatients != 0 {
		t.Errorf("total = %d", p.Summary.TotalPatients)
	}
	if p.Summary.EndpointCompletionRate != 0.0 || p.Summary.AverageCompleteness != 0.0 {
		t.Errorf("rates should be 0.0 with no patients: %+v", p.Summary)
	}
	if p.Cohort.Target != 32 {
		t.Errorf("target = %d", p.Cohort.Target)
	}
	if p.Cohort.Patients == nil || p.Followups.Items == nil || p.DataQuality.Items == nil {
		t.Error("empty slices should not be nil")
	}
}

func TestComputeLatestEventWinsAndVisitsUnion(t *testing.T) {
	events := []registry.StoredEvent{
		event("evt_1", "2026-01-10T08:00:00Z", map[string]interface{}{
			"patient_id":     "AP-SVT-001",
			"encounter_date": "2026-01-10",
			"visit_type":     "baseline",
			"svt_status":     "with_svt",
			"vessel_involvement": []interface{}{
				"pv",
			},
			"cohort_status": "enrolled",
			"ward":          "Gastro 4",
		}),
		event("evt_2", "2026-01-20T08:00:00Z", map[string]interface{}{
			"patient_id":     "ap-svt-001",
			"encounter_date": "2026-01-18",
			"visit_type":     "discharge",
			"svt_status":     "with_svt",
			"vessel_involvement": []interface{}{
				"pv", "smv",
			},
			"cohort_status": "active",
			"ward":          "Gastro 4",
		}),
	}

	p := Compute(events, 32, day("2026-01-25"))
	row := patientByID(t, p, "AP-SVT-001")
	if row.LatestVisit != "discharge" {
		t.Errorf("latest visit = %q", row.LatestVisit)
	}
	if row.CohortStatus != "active" {
		t.Errorf("cohort = %q, latest event should win", row.CohortStatus)
	}
	if len(row.VisitsCompleted) != 2 {
		t.Errorf("visits = %v, want union of both events", row.VisitsCompleted)
	}
	if row.EventCount != 2 {
		t.Errorf("event count = %d", row.EventCount)
	}
	// baseline + discharge of 5 required.
	if row.CompletenessPct != 40.0 {
		t.Errorf("completeness = %v, want 40.0", row.CompletenessPct)
	}
}

func TestFollowupStatuses(t *testing.T) {
	mk := func(id, dischargeDate string) []registry.StoredEvent {
		return []registry.StoredEvent{
			event("evt_"+id, "2026-01-01T08:00:00Z", map[string]interface{}{
				"patient_id":     id,
				"encounter_date": dischargeDate,
				"visit_type":     "discharge",
			}),
		}
	}

	// Discharge 2026-01-01: week2 due 2026-01-15, grace 3 days.
	t.Run("overdue past grace", func(t *testing.T) {
		p := Compute(mk("AP-SVT-010", "2026-01-01"), 32, day("2026-01-19"))
		item := followupByID(t, p, "AP-SVT-010")
		if item.Status != "overdue" {
			t.Fatalf("status = %q", item.Status)
		}
		if item.DaysOverdue != 4 {
			t.Errorf("days overdue = %d, want 4", item.DaysOverdue)
		}
		if item.NextVisit == nil || *item.NextVisit != "week2_followup" {
			t.Errorf("next visit = %v", item.NextVisit)
		}
		if item.DueDate == nil || *item.DueDate != "2026-01-15" {
			t.Errorf("due date = %v", item.DueDate)
		}
	})

	t.Run("inside grace is due_soon not overdue", func(t *testing.T) {
		p := Compute(mk("AP-SVT-011", "2026-01-01"), 32, day("2026-01-17"))
		item := followupByID(t, p, "AP-SVT-011")
		if item.Status != "due_soon" {
			t.Fatalf("status = %q", item.Status)
		}
		if item.DaysOverdue != 2 {
			t.Errorf("days overdue = %d", item.DaysOverdue)
		}
	})

	t.Run("due within a week", func(t *testing.T) {
		p := Compute(mk("AP-SVT-012", "2026-01-01"), 32, day("2026-01-10"))
		item := followupByID(t, p, "AP-SVT-012")
		if item.Status != "due_soon" {
			t.Fatalf("status = %q", item.Status)
		}
		if item.DaysUntilDue == nil || *item.DaysUntilDue != 5 {
			t.Errorf("days until due = %v", item.DaysUntilDue)
		}
	})

	t.Run("scheduled when far out", func(t *testing.T) {
		p := Compute(mk("AP-SVT-013", "2026-01-01"), 32, day("2026-01-02"))
		item := followupByID(t, p, "AP-SVT-013")
		if item.Status != "scheduled" {
			t.Fatalf("status = %q", item.Status)
		}
	})

	t.Run("insufficient data without reference date", func(t *testing.T) {
		events := []registry.StoredEvent{
			event("evt_x", "2026-01-01T08:00:00Z", map[string]interface{}{
				"patient_id": "AP-SVT-014",
				"visit_type": "week2_followup",
			}),
		}
		p := Compute(events, 32, day("2026-01-02"))
		item := followupByID(t, p, "AP-SVT-014")
		if item.Status != "insufficient_data" {
			t.Fatalf("status = %q", item.Status)
		}
		if item.NextVisit != nil || item.DueDate != nil || item.DaysUntilDue != nil {
			t.Errorf("expected nil schedule fields: %+v", item)
		}
	})

	t.Run("complete when all plan visits done", func(t *testing.T) {
		events := mk("AP-SVT-015", "2026-01-01")
		for i, visit := range []string{"week2_followup", "month1_followup", "month3_followup"} {
			events = append(events, event("evt_f"+visit, "2026-02-01T08:00:00Z", map[string]interface{}{
				"patient_id":     "AP-SVT-015",
				"encounter_date": "2026-02-0" + string(rune('1'+i)),
				"visit_type":     visit,
				"svt_status":     "with_svt",
				"vessel_involvement": []interface{}{
					"pv",
				},
				"recanalization_status": "complete",
			}))
		}
		p := Compute(events, 32, day("2026-04-10"))
		item := followupByID(t, p, "AP-SVT-015")
		if item.Status != "complete" {
			t.Fatalf("status = %q", item.Status)
		}
	})
}

func TestReferenceDateFallsBackToBaseline(t *testing.T) {
	events := []registry.StoredEvent{
		event("evt_1", "2026-01-01T08:00:00Z", map[string]interface{}{
			"patient_id":     "AP-SVT-020",
			"encounter_date": "2026-01-01",
			"visit_type":     "baseline",
		}),
	}
	p := Compute(events, 32, day("2026-01-02"))
	item := followupByID(t, p, "AP-SVT-020")
	if item.DueDate == nil || *item.DueDate != "2026-01-15" {
		t.Fatalf("due date = %v, want schedule from baseline", item.DueDate)
	}
}

func TestDeathDateForcesMortality(t *testing.T) {
	events := []registry.StoredEvent{
		event("evt_1", "2026-01-01T08:00:00Z", map[string]interface{}{
			"patient_id":     "AP-SVT-030",
			"encounter_date": "2026-01-01",
			"visit_type":     "baseline",
			"mortality":      "no",
			"death_date":     "2026-01-20",
		}),
	}
	p := Compute(events, 32, day("2026-02-01"))
	row := patientByID(t, p, "AP-SVT-030")
	if row.Mortality != "yes" {
		t.Fatalf("mortality = %q, death date should force yes", row.Mortality)
	}
	if p.Summary.TerminalOutcomes != 1 {
		t.Errorf("terminal outcomes = %d", p.Summary.TerminalOutcomes)
	}
	// Death recorded without a cause is a quality issue.
	q := qualityByID(t, p, "AP-SVT-030")
	found := false
	for _, issue := range q.Issues {
		if issue == "mortality_missing_details" {
			found = true
		}
	}
	if !found {
		t.Errorf("issues = %v", q.Issues)
	}
}

func TestWithoutSVTClearsVesselsAndRecanalization(t *testing.T) {
	events := []registry.StoredEvent{
		event("evt_1", "2026-01-01T08:00:00Z", map[string]interface{}{
			"patient_id":            "AP-SVT-040",
			"encounter_date":        "2026-01-01",
			"visit_type":            "baseline",
			"svt_status":            "without_svt",
			"vessel_involvement":    "pv;smv",
			"recanalization_status": "pending",
		}),
	}
	p := Compute(events, 32, day("2026-01-02"))
	row := patientByID(t, p, "AP-SVT-040")
	if len(row.VesselInvolvement) != 0 {
		t.Errorf("vessels = %v", row.VesselInvolvement)
	}
	if row.RecanalizationStatus != "not_applicable" {
		t.Errorf("recanalization = %q", row.RecanalizationStatus)
	}
}

func TestQualityIssues(t *testing.T) {
	events := []registry.StoredEvent{
		event("evt_1", "2026-01-01T08:00:00Z", map[string]interface{}{
			"patient_id":            "AP-SVT-050",
			"encounter_date":        "2026-01-01",
			"visit_type":            "month3_followup",
			"svt_status":            "with_svt",
			"recanalization_status": "pending",
			"template_id":           "patient-template-v1",
		}),
	}
	p := Compute(events, 32, day("2026-01-02"))
	q := qualityByID(t, p, "AP-SVT-050")

	want := map[string]bool{
		"missing_required_visits":       true,
		"svt_missing_vessels":           true,
		"legacy_template":               true,
		"month3_pending_recanalization": true,
	}
	if q.IssueCount != len(want) {
		t.Fatalf("issues = %v", q.Issues)
	}
	for _, issue := range q.Issues {
		if !want[issue] {
			t.Errorf("unexpected issue %q", issue)
		}
	}
	if p.DataQuality.IssuesByType["legacy_template"] != 1 {
		t.Errorf("issues_by_type = %v", p.DataQuality.IssuesByType)
	}
	if p.DataQuality.PatientsWithIssues != 1 {
		t.Errorf("patients_with_issues = %d", p.DataQuality.PatientsWithIssues)
	}
}

func TestEndpointCompletion(t *testing.T) {
	events := []registry.StoredEvent{
		event("evt_1", "2026-01-01T08:00:00Z", map[string]interface{}{
			"patient_id":     "AP-SVT-060",
			"encounter_date": "2026-01-01",
			"visit_type":     "baseline",
			"svt_status":     "with_svt",
			"vessel_involvement": []interface{}{
				"pv",
			},
		}),
		event("evt_2", "2026-04-01T08:00:00Z", map[string]interface{}{
			"patient_id":     "AP-SVT-060",
			"encounter_date": "2026-04-01",
			"visit_type":     "month3_followup",
			"svt_status":     "with_svt",
			"vessel_involvement": []interface{}{
				"pv",
			},
			"recanalization_status": "partial",
		}),
	}
	p := Compute(events, 32, day("2026-04-02"))
	row := patientByID(t, p, "AP-SVT-060")
	if !row.PrimaryEndpointComplete {
		t.Fatal("month3 visit with final recanalization should complete the endpoint")
	}
	if p.Summary.EndpointCompleted != 1 || p.Summary.EndpointCompletionRate != 100.0 {
		t.Errorf("summary = %+v", p.Summary)
	}
}

func TestFollowupSortOverdueWorstFirst(t *testing.T) {
	events := []registry.StoredEvent{
		event("evt_1", "2026-01-01T08:00:00Z", map[string]interface{}{
			"patient_id": "AP-SVT-071", "encounter_date": "2026-01-01", "visit_type": "discharge",
		}),
		event("evt_2", "2026-01-05T08:00:00Z", map[string]interface{}{
			"patient_id": "AP-SVT-070", "encounter_date": "2026-01-05", "visit_type": "discharge",
		}),
	}
	p := Compute(events, 32, day("2026-02-15"))
	items := p.Followups.Items
	if len(items) != 2 {
		t.Fatalf("items = %v", items)
	}
	if items[0].PatientID != "AP-SVT-071" {
		t.Errorf("most overdue patient should sort first: %v", items)
	}
	if p.Followups.OverdueCount != 2 {
		t.Errorf("overdue count = %d", p.Followups.OverdueCount)
	}
}

func TestSummaryCounts(t *testing.T) {
	events := []registry.StoredEvent{
		event("evt_1", "2026-01-01T08:00:00Z", map[string]interface{}{
			"patient_id": "AP-SVT-080", "encounter_date": "2026-01-01", "visit_type": "baseline",
			"cohort_status": "screened",
		}),
		event("evt_2", "2026-01-01T09:00:00Z", map[string]interface{}{
			"patient_id": "AP-SVT-081", "encounter_date": "2026-01-01", "visit_type": "baseline",
			"cohort_status": "active", "svt_status": "with_svt",
			"vessel_involvement": []interface{}{"smv"},
		}),
		event("evt_3", "2026-01-01T10:00:00Z", map[string]interface{}{
			"patient_id": "AP-SVT-082", "encounter_date": "2026-01-01", "visit_type": "baseline",
			"cohort_status": "terminal_outcome", "mortality": "yes",
			"death_date": "2026-01-10", "cause_of_death": "Multiorgan failure",
		}),
	}
	p := Compute(events, 32, day("2026-01-02"))
	s := p.Summary
	if s.TotalPatients != 3 || s.EnrolledPatients != 2 || s.ActivePatients != 1 {
		t.Errorf("summary = %+v", s)
	}
	if s.TerminalOutcomes != 1 || s.SVTPatients != 1 || s.NonSVTPatients != 2 {
		t.Errorf("summary = %+v", s)
	}
	if s.AverageCompleteness != 20.0 {
		t.Errorf("average completeness = %v, want 20.0", s.AverageCompleteness)
	}
}

func TestEventsWithoutPatientIDAreSkipped(t *testing.T) {
	events := []registry.StoredEvent{
		event("evt_1", "2026-01-01T08:00:00Z", map[string]interface{}{"diagnosis": "orphan"}),
		event("evt_2", "2026-01-01T08:00:00Z", nil),
	}
	p := Compute(events, 32, day("2026-01-02"))
	if p.Summary.TotalPatients != 0 {
		t.Fatalf("total = %d", p.Summary.TotalPatients)
	}
}
