package analytics

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/apsvt/svt-registry/internal/domain/registry"
)

// normalizedEvent is one event coerced into the shape the projection folds
// over. Stored payloads are never trusted; every field gets a default.
type normalizedEvent struct {
	eventID                 string
	createdAt               string
	encounterDate           *time.Time
	templateID              string
	patientID               string
	diagnosis               string
	visitType               string
	svtStatus               string
	vesselInvolvement       []string
	ward                    string
	cohortStatus            string
	mortality               string
	deathDate               *string
	causeOfDeath            *string
	recanalizationStatus    string
	primaryEndpointComplete bool
}

func parseProjectionDate(value string) *time.Time {
	text := strings.TrimSpace(value)
	if text == "" {
		return nil
	}
	if idx := strings.IndexByte(text, 'T'); idx > 0 {
		text = text[:idx]
	}
	for _, candidate := range []string{text, strings.ReplaceAll(text, "/", "-")} {
		if parsed, err := time.Parse("2006-01-02", candidate); err == nil {
			return &parsed
		}
	}
	return nil
}

func payloadString(payload map[string]interface{}, key string) string {
	if raw, ok := payload[key]; ok {
		if text, ok := raw.(string); ok {
			return strings.TrimSpace(text)
		}
	}
	return ""
}

func payloadBool(payload map[string]interface{}, key string) bool {
	switch v := payload[key].(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "yes", "y":
			return true
		}
	}
	return false
}

// payloadVessels accepts both the list form and a delimited string form, the
// latter surviving from early hand-edited log files.
func payloadVessels(payload map[string]interface{}, key string) []string {
	var tokens []string
	switch v := payload[key].(type) {
	case []interface{}:
		for _, item := range v {
			if text, ok := item.(string); ok {
				tokens = append(tokens, text)
			}
		}
	case []string:
		tokens = v
	case string:
		tokens = strings.Split(strings.ReplaceAll(v, ";", ","), ",")
	}

	var normalized []string
	seen := map[string]bool{}
	for _, token := range tokens {
		value := strings.ToLower(strings.TrimSpace(token))
		if value == "" || seen[value] {
			continue
		}
		seen[value] = true
		normalized = append(normalized, value)
	}
	return normalized
}

var protocolVisitSet = func() map[string]bool {
	set := make(map[string]bool, len(registry.ProtocolVisits))
	for _, v := range registry.ProtocolVisits {
		set[v] = true
	}
	return set
}()

// normalizeEvent coerces one stored event, or returns nil when it carries no
// usable patient ID.
func normalizeEvent(event registry.StoredEvent) *normalizedEvent {
	payload := event.Payload
	if payload == nil {
		return nil
	}

	patientID := strings.ToUpper(payloadString(payload, "patient_id"))
	if patientID == "" {
		return nil
	}

	svtStatus := strings.ToLower(payloadString(payload, "svt_status"))
	if svtStatus != "with_svt" && svtStatus != "without_svt" {
		svtStatus = "without_svt"
	}

	visitType := payloadString(payload, "visit_type")
	if !protocolVisitSet[visitType] {
		visitType = "baseline"
	}

	cohortStatus := payloadString(payload, "cohort_status")
	switch cohortStatus {
	case "screened", "enrolled", "active", "completed", "terminal_outcome":
	default:
		cohortStatus = "active"
	}

	mortality := strings.ToLower(payloadString(payload, "mortality"))
	if mortality != "yes" && mortality != "no" {
		mortality = "no"
	}

	var deathDate *string
	if parsed := parseProjectionDate(payloadString(payload, "death_date")); parsed != nil {
		iso := parsed.Format("2006-01-02")
		deathDate = &iso
		// A recorded death date overrides a stale mortality flag.
		mortality = "yes"
	}

	recanalization := payloadString(payload, "recanalization_status")
	if recanalization == "" {
		if svtStatus == "with_svt" {
			recanalization = "pending"
		} else {
			recanalization = "not_applicable"
		}
	}
	if svtStatus == "without_svt" {
		recanalization = "not_applicable"
	}

	vessels := payloadVessels(payload, "vessel_involvement")
	if svtStatus == "without_svt" {
		vessels = nil
	}

	templateID := payloadString(payload, "template_id")
	if templateID == "" {
		templateID = "unknown"
	}

	var causeOfDeath *string
	if text := payloadString(payload, "cause_of_death"); text != "" {
		causeOfDeath = &text
	}

	return &normalizedEvent{
		eventID:                 event.EventID,
		createdAt:               strings.TrimSpace(event.CreatedAt),
		encounterDate:           parseProjectionDate(payloadString(payload, "encounter_date")),
		templateID:              templateID,
		patientID:               patientID,
		diagnosis:               payloadString(payload, "diagnosis"),
		visitType:               visitType,
		svtStatus:               svtStatus,
		vesselInvolvement:       vessels,
		ward:                    payloadString(payload, "ward"),
		cohortStatus:            cohortStatus,
		mortality:               mortality,
		deathDate:               deathDate,
		causeOfDeath:            causeOfDeath,
		recanalizationStatus:    recanalization,
		primaryEndpointComplete: payloadBool(payload, "primary_endpoint_complete"),
	}
}

func eventSortKey(e *normalizedEvent) string {
	encounter := ""
	if e.encounterDate != nil {
		encounter = e.encounterDate.Format("2006-01-02")
	}
	return encounter + "\x00" + e.createdAt
}

type followupState struct {
	status       string
	nextVisit    *string
	dueDate      *string
	daysOverdue  int
	daysUntilDue *int
}

// computeFollowup walks the plan and reports the first visit still owed.
// Without a reference date nothing can be scheduled.
func computeFollowup(today time.Time, visitsCompleted map[string]bool, reference *time.Time) followupState {
	if reference == nil {
		return followupState{status: "insufficient_data"}
	}

	for _, rule := range FollowupPlan {
		if visitsCompleted[rule.Visit] {
			continue
		}

		due := reference.AddDate(0, 0, rule.OffsetDays)
		cutoff := due.AddDate(0, 0, rule.GraceDays)
		daysUntilDue := daysBetween(today, due)
		daysOverdue := daysBetween(due, today)

		status := "scheduled"
		if today.After(cutoff) {
			status = "overdue"
		} else if daysUntilDue <= 7 {
			status = "due_soon"
		}

		visit := rule.Visit
		dueISO := due.Format("2006-01-02")
		if daysOverdue < 0 {
			daysOverdue = 0
		}
		return followupState{
			status:       status,
			nextVisit:    &visit,
			dueDate:      &dueISO,
			daysOverdue:  daysOverdue,
			daysUntilDue: &daysUntilDue,
		}
	}

	return followupState{status: "complete"}
}

func daysBetween(from, to time.Time) int {
	fromDay := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	toDay := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(toDay.Sub(fromDay).Hours() / 24)
}

func round1(value float64) float64 {
	return math.Round(value*10) / 10
}

// Compute folds the event log into the full analytics snapshot. It is a pure
// function of its inputs; today is injected so schedules are testable.
func Compute(events []registry.StoredEvent, cohortTarget int, today time.Time) *Projection {
	grouped := map[string][]*normalizedEvent{}
	var order []string
	for _, event := range events {
		normalized := normalizeEvent(event)
		if normalized == nil {
			continue
		}
		if _, ok := grouped[normalized.patientID]; !ok {
			order = append(order, normalized.patientID)
		}
		grouped[normalized.patientID] = append(grouped[normalized.patientID], normalized)
	}

	var patients []PatientRow
	var followupItems []FollowupItem
	var qualityItems []QualityItem
	issuesByType := map[string]int{}

	for _, patientID := range order {
		patientEvents := grouped[patientID]
		sort.SliceStable(patientEvents, func(i, j int) bool {
			return eventSortKey(patientEvents[i]) < eventSortKey(patientEvents[j])
		})
		latest := patientEvents[len(patientEvents)-1]

		visitsCompleted := map[string]bool{}
		for _, e := range patientEvents {
			visitsCompleted[e.visitType] = true
		}
		missingRequired := []string{}
		for _, visit := range RequiredVisits {
			if !visitsCompleted[visit] {
				missingRequired = append(missingRequired, visit)
			}
		}

		requiredCompleted := len(RequiredVisits) - len(missingRequired)
		completeness := round1(float64(requiredCompleted) / float64(len(RequiredVisits)) * 100)

		var baselineDate, dischargeDate *time.Time
		for _, e := range patientEvents {
			if e.visitType == "baseline" && baselineDate == nil {
				baselineDate = e.encounterDate
			}
			if e.visitType == "discharge" && dischargeDate == nil {
				dischargeDate = e.encounterDate
			}
		}
		reference := dischargeDate
		if reference == nil {
			reference = baselineDate
		}

		followup := computeFollowup(today, visitsCompleted, reference)

		endpointComplete := latest.primaryEndpointComplete ||
			(visitsCompleted["month3_followup"] &&
				latest.recanalizationStatus != "pending" &&
				latest.recanalizationStatus != "not_applicable")

		issues := []string{}
		if len(missingRequired) > 0 {
			issues = append(issues, "missing_required_visits")
		}
		if latest.mortality == "yes" && (latest.deathDate == nil || latest.causeOfDeath == nil) {
			issues = append(issues, "mortality_missing_details")
		}
		if latest.svtStatus == "with_svt" && len(latest.vesselInvolvement) == 0 {
			issues = append(issues, "svt_missing_vessels")
		}
		if strings.HasSuffix(latest.templateID, "v1") {
			issues = append(issues, "legacy_template")
		}
		if latest.visitType == "month3_followup" && latest.svtStatus == "with_svt" && latest.recanalizationStatus == "pending" {
			issues = append(issues, "month3_pending_recanalization")
		}
		for _, issue := range issues {
			issuesByType[issue]++
		}

		var lastEncounter *string
		if latest.encounterDate != nil {
			iso := latest.encounterDate.Format("2006-01-02")
			lastEncounter = &iso
		}

		visitList := make([]string, 0, len(visitsCompleted))
		for visit := range visitsCompleted {
			visitList = append(visitList, visit)
		}
		sort.Strings(visitList)

		vessels := latest.vesselInvolvement
		if vessels == nil {
			vessels = []string{}
		}

		patients = append(patients, PatientRow{
			PatientID:               patientID,
			CohortStatus:            latest.cohortStatus,
			SVTStatus:               latest.svtStatus,
			Ward:                    latest.ward,
			Diagnosis:               latest.diagnosis,
			LatestVisit:             latest.visitType,
			LastEncounterDate:       lastEncounter,
			EventCount:              len(patientEvents),
			VisitsCompleted:         visitList,
			MissingRequiredVisits:   missingRequired,
			CompletenessPct:         completeness,
			RecanalizationStatus:    latest.recanalizationStatus,
			PrimaryEndpointComplete: endpointComplete,
			Mortality:               latest.mortality,
			DeathDate:               latest.deathDate,
			CauseOfDeath:            latest.causeOfDeath,
			VesselInvolvement:       vessels,
			TemplateID:              latest.templateID,
		})

		followupItems = append(followupItems, FollowupItem{
			PatientID:         patientID,
			CohortStatus:      latest.cohortStatus,
			SVTStatus:         latest.svtStatus,
			LastEncounterDate: lastEncounter,
			NextVisit:         followup.nextVisit,
			DueDate:           followup.dueDate,
			Status:            followup.status,
			DaysUntilDue:      followup.daysUntilDue,
			DaysOverdue:       followup.daysOverdue,
		})

		qualityItems = append(qualityItems, QualityItem{
			PatientID:             patientID,
			TemplateID:            latest.templateID,
			CompletenessPct:       completeness,
			MissingRequiredVisits: missingRequired,
			IssueCount:            len(issues),
			Issues:                issues,
		})
	}

	sort.Slice(patients, func(i, j int) bool {
		return patients[i].PatientID < patients[j].PatientID
	})
	sort.Slice(followupItems, func(i, j int) bool {
		a, b := followupItems[i], followupItems[j]
		if a.Status != b.Status {
			return a.Status < b.Status
		}
		if a.DaysOverdue != b.DaysOverdue {
			return a.DaysOverdue > b.DaysOverdue
		}
		return a.PatientID < b.PatientID
	})
	sort.Slice(qualityItems, func(i, j int) bool {
		a, b := qualityItems[i], qualityItems[j]
		if a.IssueCount != b.IssueCount {
			return a.IssueCount > b.IssueCount
		}
		if a.CompletenessPct != b.CompletenessPct {
			return a.CompletenessPct < b.CompletenessPct
		}
		return a.PatientID < b.PatientID
	})

	totalPatients := len(patients)
	var enrolled, active, completed, terminal, endpointCount, withSVT, overdue, dueSoon int
	var completenessSum float64
	for _, p := range patients {
		switch p.CohortStatus {
		case "enrolled", "active", "completed", "terminal_outcome":
			enrolled++
		}
		if p.CohortStatus == "active" {
			active++
		}
		if p.CohortStatus == "completed" {
			completed++
		}
		if p.CohortStatus == "terminal_outcome" || p.Mortality == "yes" {
			terminal++
		}
		if p.PrimaryEndpointComplete {
			endpointCount++
		}
		if p.SVTStatus == "with_svt" {
			withSVT++
		}
		completenessSum += p.CompletenessPct
	}
	for _, item := range followupItems {
		switch item.Status {
		case "overdue":
			overdue++
		case "due_soon":
			dueSoon++
		}
	}

	endpointRate := 0.0
	avgCompleteness := 0.0
	if totalPatients > 0 {
		endpointRate = round1(float64(endpointCount) / float64(totalPatients) * 100)
		avgCompleteness = round1(completenessSum / float64(totalPatients))
	}

	if patients == nil {
		patients = []PatientRow{}
	}
	if followupItems == nil {
		followupItems = []FollowupItem{}
	}
	if qualityItems == nil {
		qualityItems = []QualityItem{}
	}

	patientsWithIssues := 0
	for _, item := range qualityItems {
		if item.IssueCount > 0 {
			patientsWithIssues++
		}
	}

	return &Projection{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339Nano),
		Summary: Summary{
			CohortTarget:           cohortTarget,
			TotalPatients:          totalPatients,
			EnrolledPatients:       enrolled,
			ActivePatients:         active,
			CompletedPatients:      completed,
			TerminalOutcomes:       terminal,
			SVTPatients:            withSVT,
			NonSVTPatients:         totalPatients - withSVT,
			EndpointCompleted:      endpointCount,
			EndpointCompletionRate: endpointRate,
			FollowupsOverdue:       overdue,
			FollowupsDueSoon:       dueSoon,
			AverageCompleteness:    avgCompleteness,
		},
		Cohort: CohortView{
			Target:           cohortTarget,
			Enrolled:         enrolled,
			Active:           active,
			Completed:        completed,
			TerminalOutcomes: terminal,
			Patients:         patients,
		},
		Followups: FollowupView{
			OverdueCount: overdue,
			DueSoonCount: dueSoon,
			Items:        followupItems,
		},
		DataQuality: QualityView{
			AverageCompleteness: avgCompleteness,
			PatientsWithIssues:  patientsWithIssues,
			IssuesByType:        issuesByType,
			Items:               qualityItems,
		},
	}
}
