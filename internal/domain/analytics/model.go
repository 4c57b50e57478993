// Package analytics derives read-only study views from the event log. Every
// view is recomputed from scratch; no derived state is ever persisted.
package analytics

// Visit names used by the projection. The required set drives completeness;
// day7_reassessment is tracked but optional.
var (
	RequiredVisits = []string{"baseline", "discharge", "week2_followup", "month1_followup", "month3_followup"}
)

// FollowupRule schedules one follow-up visit relative to the reference date.
type FollowupRule struct {
	Visit      string
	OffsetDays int
	GraceDays  int
}

// FollowupPlan is the protocol follow-up schedule in order.
var FollowupPlan = []FollowupRule{
	{Visit: "week2_followup", OffsetDays: 14, GraceDays: 3},
	{Visit: "month1_followup", OffsetDays: 30, GraceDays: 7},
	{Visit: "month3_followup", OffsetDays: 90, GraceDays: 14},
}

// PatientRow is the per-patient cohort view.
type PatientRow struct {
	PatientID               string   `json:"patient_id"`
	CohortStatus            string   `json:"cohort_status"`
	SVTStatus               string   `json:"svt_status"`
	Ward                    string   `json:"ward"`
	Diagnosis               string   `json:"diagnosis"`
	LatestVisit             string   `json:"latest_visit"`
	LastEncounterDate       *string  `json:"last_encounter_date"`
	EventCount              int      `json:"event_count"`
	VisitsCompleted         []string `json:"visits_completed"`
	MissingRequiredVisits   []string `json:"missing_required_visits"`
	CompletenessPct         float64  `json:"completeness_pct"`
	RecanalizationStatus    string   `json:"recanalization_status"`
	PrimaryEndpointComplete bool     `json:"primary_endpoint_complete"`
	Mortality               string   `json:"mortality"`
	DeathDate               *string  `json:"death_date"`
	CauseOfDeath            *string  `json:"cause_of_death"`
	VesselInvolvement       []string `json:"vessel_involvement"`
	TemplateID              string   `json:"template_id"`
}

// FollowupItem is one patient's position in the follow-up schedule.
type FollowupItem struct {
	PatientID         string  `json:"patient_id"`
	CohortStatus      string  `json:"cohort_status"`
	SVTStatus         string  `json:"svt_status"`
	LastEncounterDate *string `json:"last_encounter_date"`
	NextVisit         *string `json:"next_visit"`
	DueDate           *string `json:"due_date"`
	Status            string  `json:"status"`
	DaysUntilDue      *int    `json:"days_until_due"`
	DaysOverdue       int     `json:"days_overdue"`
}

// QualityItem is one patient's data-quality report.
type QualityItem struct {
	PatientID             string   `json:"patient_id"`
	TemplateID            string   `json:"template_id"`
	CompletenessPct       float64  `json:"completeness_pct"`
	MissingRequiredVisits []string `json:"missing_required_visits"`
	IssueCount            int      `json:"issue_count"`
	Issues                []string `json:"issues"`
}

// Summary is the top-level study dashboard.
type Summary struct {
	CohortTarget           int     `json:"cohort_target"`
	TotalPatients          int     `json:"total_patients"`
	EnrolledPatients       int     `json:"enrolled_patients"`
	ActivePatients         int     `json:"active_patients"`
	CompletedPatients      int     `json:"completed_patients"`
	TerminalOutcomes       int     `json:"terminal_outcomes"`
	SVTPatients            int     `json:"svt_patients"`
	NonSVTPatients         int     `json:"non_svt_patients"`
	EndpointCompleted      int     `json:"endpoint_completed"`
	EndpointCompletionRate float64 `json:"endpoint_completion_rate"`
	FollowupsOverdue       int     `json:"followups_overdue"`
	FollowupsDueSoon       int     `json:"followups_due_soon"`
	AverageCompleteness    float64 `json:"average_completeness"`
	TotalSubmissions       int     `json:"total_submissions"`
}

// CohortView groups the per-patient rows with headline counts.
type CohortView struct {
	Target           int          `json:"target"`
	Enrolled         int          `json:"enrolled"`
	Active           int          `json:"active"`
	Completed        int          `json:"completed"`
	TerminalOutcomes int          `json:"terminal_outcomes"`
	Patients         []PatientRow `json:"patients"`
}

// FollowupView lists every patient's follow-up status, most urgent first.
type FollowupView struct {
	OverdueCount int            `json:"overdue_count"`
	DueSoonCount int            `json:"due_soon_count"`
	Items        []FollowupItem `json:"items"`
}

// QualityView lists every patient's quality report, worst first.
type QualityView struct {
	AverageCompleteness float64        `json:"average_completeness"`
	PatientsWithIssues  int            `json:"patients_with_issues"`
	IssuesByType        map[string]int `json:"issues_by_type"`
	Items               []QualityItem  `json:"items"`
}

// Projection is the full analytics snapshot built from the event log.
type Projection struct {
	GeneratedAt string       `json:"generated_at"`
	Summary     Summary      `json:"summary"`
	Cohort      CohortView   `json:"cohort"`
	Followups   FollowupView `json:"followups"`
	DataQuality QualityView  `json:"data_quality"`
}
