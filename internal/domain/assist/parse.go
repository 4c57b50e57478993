package assist

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

type labMetric struct {
	key      string
	label    string
	unit     string
	patterns []*regexp.Regexp
}

// labMetrics are the trend parameters the thesis proforma tracks, with the
// spellings that show up in scanned lab reports.
var labMetrics = []labMetric{
	{key: "hb", label: "Hemoglobin", unit: "g/dL", patterns: []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:hb|hgb|ha?emoglobin)\b`),
	}},
	{key: "wbc", label: "WBC / TLC", unit: "10^3/uL", patterns: []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:wbc|tlc|total\s+leucocyte|total\s+leukocyte)\b`),
	}},
	{key: "platelets", label: "Platelets", unit: "10^3/uL", patterns: []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:platelet(?:s)?|plt)\b`),
	}},
	{key: "crp", label: "CRP", unit: "mg/L", patterns: []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:crp|c[\s-]?reactive\s+protein)\b`),
	}},
	{key: "bilirubin_total", label: "Bilirubin Total", unit: "mg/dL", patterns: []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:total\s+bilirubin|bilirubin\s+total)\b`),
	}},
	{key: "ast", label: "AST / SGOT", unit: "U/L", patterns: []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:ast|sgot)\b`),
	}},
	{key: "alt", label: "ALT / SGPT", unit: "U/L", patterns: []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:alt|sgpt)\b`),
	}},
	{key: "alp", label: "ALP", unit: "U/L", patterns: []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(?:alp|alkaline\s+phosphatase)\b`),
	}},
}

var numberPattern = regexp.MustCompile(`[-+]?\d+(?:\.\d+)?`)

// Filename date forms: yyyy-mm-dd and dd-mm-yyyy with -, _ or . separators.
var fileDatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:^|[^\d])(20\d{2})[-_.](\d{1,2})[-_.](\d{1,2})(?:[^\d]|$)`),
	regexp.MustCompile(`(?:^|[^\d])(\d{1,2})[-_.](\d{1,2})[-_.](20\d{2})(?:[^\d]|$)`),
}

// In-text date forms: d/m/yyyy and yyyy/m/d with / or - separators.
var (
	textDateDMY = regexp.MustCompile(`(?:^|[^\d])(\d{1,2})[/-](\d{1,2})[/-](20\d{2})(?:[^\d]|$)`)
	textDateYMD = regexp.MustCompile(`(?:^|[^\d])(20\d{2})[/-](\d{1,2})[/-](\d{1,2})(?:[^\d]|$)`)
)

type modalityRule struct {
	pattern *regexp.Regexp
	label   string
}

var imagingModalityRules = []modalityRule{
	{regexp.MustCompile(`(?i)\b(?:mri|mrcp)\b`), "MRI/MRCP"},
	{regexp.MustCompile(`(?i)\b(?:cect|ncct|ct)\b`), "CT"},
	{regexp.MustCompile(`(?i)\b(?:usg|ultrasound|sonography)\b`), "USG"},
	{regexp.MustCompile(`(?i)\b(?:doppler|duplex)\b`), "Doppler"},
	{regexp.MustCompile(`(?i)\b(?:endoscopy|egd)\b`), "Endoscopy"},
}

var imagingFindingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:thromb|occlu|non[-\s]?opaci|filling defect)`),
	regexp.MustCompile(`(?i)\b(?:portal vein|splenic vein|smv|superior mesenteric vein|sv)\b`),
	regexp.MustCompile(`(?i)\b(?:ascites|splenomegaly|varices|collateral|portal hypertension)\b`),
	regexp.MustCompile(`(?i)\b(?:necrosis|pseudocyst|won|fluid collection|pseudoaneurysm|infarction)\b`),
}

var (
	ctsiPattern      = regexp.MustCompile(`(?i)(?:modified\s*(?:ctsi|ct\s*severity\s*index)|ctsi)\s*[:=-]?\s*(\d{1,2}(?:\.\d+)?)`)
	splenicSVPattern = regexp.MustCompile(`\bsv\b`)
)

const (
	maxLabRows         = 18
	maxImagingFindings = 4
	previewChars       = 2500
)

func validDate(year, month, day int) (string, bool) {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return "", false
	}
	parsed := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if parsed.Year() != year || int(parsed.Month()) != month || parsed.Day() != day {
		return "", false
	}
	return parsed.Format("2006-01-02"), true
}

func atoiGroup(text string) int {
	value, _ := strconv.Atoi(text)
	return value
}

// extractReportDate recovers the report date from the file name first, then
// from the extracted text.
func extractReportDate(fileName, text string) string {
	for i, pattern := range fileDatePatterns {
		match := pattern.FindStringSubmatch(fileName)
		if match == nil {
			continue
		}
		var year, month, day int
		if i == 0 {
			year, month, day = atoiGroup(match[1]), atoiGroup(match[2]), atoiGroup(match[3])
		} else {
			day, month, year = atoiGroup(match[1]), atoiGroup(match[2]), atoiGroup(match[3])
		}
		if iso, ok := validDate(year, month, day); ok {
			return iso
		}
	}

	for _, match := range textDateDMY.FindAllStringSubmatch(text, -1) {
		if iso, ok := validDate(atoiGroup(match[3]), atoiGroup(match[2]), atoiGroup(match[1])); ok {
			return iso
		}
	}
	for _, match := range textDateYMD.FindAllStringSubmatch(text, -1) {
		if iso, ok := validDate(atoiGroup(match[1]), atoiGroup(match[2]), atoiGroup(match[3])); ok {
			return iso
		}
	}
	return ""
}

// parseNumberAfter picks the first plausible number at or after the match
// end, falling back to any number on the line.
func parseNumberAfter(line string, start int) (float64, bool) {
	cleaned := strings.ReplaceAll(line, ",", "")
	matches := numberPattern.FindAllStringIndex(cleaned, -1)
	if len(matches) == 0 {
		return 0, false
	}

	var ordered [][]int
	for _, m := range matches {
		if m[0] >= start {
			ordered = append(ordered, m)
		}
	}
	if len(ordered) == 0 {
		ordered = matches
	}

	for _, m := range ordered {
		value, err := strconv.ParseFloat(cleaned[m[0]:m[1]], 64)
		if err != nil {
			continue
		}
		if math.Abs(value) > 100000 {
			continue
		}
		return math.Round(value*100) / 100, true
	}
	return 0, false
}

func collapseWhitespace(line string) string {
	return strings.Join(strings.Fields(line), " ")
}

func firstNonEmptyLine(text string, maxChars int) string {
	for _, raw := range strings.Split(text, "\n") {
		if line := collapseWhitespace(raw); line != "" {
			if len(line) > maxChars {
				return line[:maxChars]
			}
			return line
		}
	}
	return ""
}

// parseLabEntries scans each line for metric mentions and takes the first
// value per metric.
func parseLabEntries(text, fileName string) ([]LabEntry, []string) {
	dateValue := extractReportDate(fileName, text)
	var rows []LabEntry
	seen := map[string]bool{}

	for _, metric := range labMetrics {
		var found float64
		ok := false

	lines:
		for _, raw := range strings.Split(text, "\n") {
			line := collapseWhitespace(raw)
			if line == "" {
				continue
			}
			for _, pattern := range metric.patterns {
				loc := pattern.FindStringIndex(line)
				if loc == nil {
					continue
				}
				if value, parsed := parseNumberAfter(line, loc[1]); parsed {
					found, ok = value, true
					break lines
				}
			}
		}

		if !ok {
			continue
		}
		signature := fmt.Sprintf("%s:%g", metric.key, found)
		if seen[signature] {
			continue
		}
		seen[signature] = true

		value := fmt.Sprintf("%g", found)
		if metric.unit != "" {
			value += " " + metric.unit
		}
		rows = append(rows, LabEntry{Date: dateValue, Parameter: metric.label, Value: value})
	}

	if len(rows) > maxLabRows {
		rows = rows[:maxLabRows]
	}

	var notes []string
	if len(rows) > 0 {
		notes = append(notes, fmt.Sprintf("Auto-filled %d laboratory values from OCR.", len(rows)))
	} else {
		notes = append(notes, "No structured laboratory values detected from this attachment.")
	}
	return rows, notes
}

func detectModality(fileName, text string) string {
	preview := text
	if len(preview) > previewChars {
		preview = preview[:previewChars]
	}
	blob := fileName + "\n" + preview
	for _, rule := range imagingModalityRules {
		if rule.pattern.MatchString(blob) {
			return rule.label
		}
	}
	return "Imaging"
}

func collectImagingFindings(text string) []string {
	var findings []string
	seen := map[string]bool{}

	for _, raw := range strings.Split(text, "\n") {
		line := collapseWhitespace(raw)
		if line == "" {
			continue
		}
		if len(line) > 260 {
			line = line[:257] + "..."
		}
		matched := false
		for _, pattern := range imagingFindingPatterns {
			if pattern.MatchString(line) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		key := strings.ToLower(line)
		if seen[key] {
			continue
		}
		seen[key] = true
		findings = append(findings, line)
		if len(findings) >= maxImagingFindings {
			break
		}
	}

	if len(findings) == 0 {
		if first := firstNonEmptyLine(text, 220); first != "" {
			findings = append(findings, first)
		}
	}
	return findings
}

// buildImagingExtraFields maps report language onto the vascular assessment
// fields of the proforma.
func buildImagingExtraFields(text string) map[string]string {
	lowered := strings.ToLower(text)
	extra := map[string]string{}

	clot := strings.Contains(lowered, "thromb") || strings.Contains(lowered, "occlu")
	if strings.Contains(lowered, "portal vein") && clot {
		extra["splanchnic_venous_assessment__portal_vein_pv"] = "Thrombosis/occlusion suggested on imaging report"
	}
	if (strings.Contains(lowered, "smv") || strings.Contains(lowered, "superior mesenteric vein")) && clot {
		extra["splanchnic_venous_assessment__smv"] = "Thrombosis/occlusion suggested on imaging report"
	}
	if (strings.Contains(lowered, "splenic vein") || splenicSVPattern.MatchString(lowered)) && clot {
		extra["splanchnic_venous_assessment__splenic_vein_sv"] = "Thrombosis/occlusion suggested on imaging report"
	}
	if strings.Contains(lowered, "ascites") {
		extra["portal_hypertensive_changes__ascites"] = "present on imaging report"
	}
	if strings.Contains(lowered, "splenomegaly") {
		extra["portal_hypertensive_changes__splenomegaly"] = "present on imaging report"
	}
	if strings.Contains(lowered, "varices") {
		extra["portal_hypertensive_changes__varices"] = "present on imaging report"
	}

	if match := ctsiPattern.FindStringSubmatch(text); match != nil {
		extra["overall_findings__modified_ctsi"] = match[1]
	}
	if strings.Contains(lowered, "pseudocyst") || strings.Contains(lowered, "won") {
		extra["overall_findings__pseudocyst_won"] = "present on imaging report"
	}
	return extra
}

func parseImagingEntries(text, fileName string) ([]ImagingEntry, map[string]string, []string) {
	dateValue := extractReportDate(fileName, text)
	modality := detectModality(fileName, text)
	findings := collectImagingFindings(text)
	extraFields := buildImagingExtraFields(text)

	joined := findings
	if len(joined) > 3 {
		joined = joined[:3]
	}
	row := ImagingEntry{
		Date:     dateValue,
		Modality: modality,
		Findings: strings.TrimSpace(strings.Join(joined, "; ")),
	}

	var notes []string
	if row.Findings != "" {
		notes = append(notes, "Imaging findings were drafted from OCR text.")
	} else {
		notes = append(notes, "No structured imaging findings were detected from this attachment.")
	}
	if len(extraFields) > 0 {
		notes = append(notes, fmt.Sprintf("Suggested %d vascular/imaging field updates.", len(extraFields)))
	}
	return []ImagingEntry{row}, extraFields, notes
}

func emptySuggestions(notes ...string) *Suggestions {
	return &Suggestions{
		LabEntries:     []LabEntry{},
		ImagingEntries: []ImagingEntry{},
		ExtraFields:    map[string]string{},
		ReviewNotes:    notes,
	}
}

func unsupportedResult(section, extension string) *Result {
	return &Result{
		Section:              section,
		ExtractionStatus:     "failed",
		Extractor:            "unsupported",
		ExtractionError:      fmt.Sprintf("unsupported file extension: %s", extension),
		ExtractedTextPreview: "",
		Suggestions:          emptySuggestions("Upload a PDF, image, markdown, or text report for auto-fill."),
	}
}

func failedResult(section, extractor, message string) *Result {
	return &Result{
		Section:              section,
		ExtractionStatus:     "failed",
		Extractor:            extractor,
		ExtractionError:      message,
		ExtractedTextPreview: "",
		Suggestions:          emptySuggestions("OCR extraction failed. You can still attach this file and enter values manually."),
	}
}

// buildResult assembles the completed analysis for successfully extracted
// text.
func buildResult(section, fileName, text, extractor string) *Result {
	labEntries := []LabEntry{}
	imagingEntries := []ImagingEntry{}
	extraFields := map[string]string{}
	var reviewNotes []string

	switch section {
	case SectionLab:
		labEntries, reviewNotes = parseLabEntries(text, fileName)
	case SectionImaging:
		imagingEntries, extraFields, reviewNotes = parseImagingEntries(text, fileName)
	default:
		reviewNotes = append(reviewNotes, "Section was not recognized for structured auto-fill.")
	}
	reviewNotes = append(reviewNotes, "Review and confirm every auto-filled value before final submission.")

	preview := text
	if len(preview) > previewChars {
		preview = preview[:previewChars]
	}
	if labEntries == nil {
		labEntries = []LabEntry{}
	}

	return &Result{
		Section:              section,
		ExtractionStatus:     "ok",
		Extractor:            extractor,
		ExtractedTextPreview: preview,
		Suggestions: &Suggestions{
			LabEntries:     labEntries,
			ImagingEntries: imagingEntries,
			ExtraFields:    extraFields,
			ReviewNotes:    reviewNotes,
		},
	}
}
