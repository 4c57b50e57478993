package assist

import (
	"strings"
	"testing"
)

const labReport = `CBC REPORT 12/01/2026
Hemoglobin 9.8 g/dL
TLC 14.2
Platelets 210
CRP: 86.4 mg/L
Total Bilirubin 1.9
AST 58 U/L
ALT 41
ALP 161
`

func TestParseLabEntries(t *testing.T) {
	rows, notes := parseLabEntries(labReport, "cbc_report.pdf")
	if len(rows) != 8 {
		t.Fatalf("len(rows) = %d: %+v", len(rows), rows)
	}

	byParameter := map[string]LabEntry{}
	for _, row := range rows {
		byParameter[row.Parameter] = row
	}
	if byParameter["Hemoglobin"].Value != "9.8 g/dL" {
		t.Errorf("hb = %+v", byParameter["Hemoglobin"])
	}
	if byParameter["CRP"].Value != "86.4 mg/L" {
		t.Errorf("crp = %+v", byParameter["CRP"])
	}
	if byParameter["Hemoglobin"].Date != "2026-01-12" {
		t.Errorf("date = %q, want parsed from text", byParameter["Hemoglobin"].Date)
	}
	if len(notes) != 1 || !strings.Contains(notes[0], "Auto-filled 8 laboratory values") {
		t.Errorf("notes = %v", notes)
	}
}

func TestParseLabEntriesNoValues(t *testing.T) {
	rows, notes := parseLabEntries("clinical narrative without numbers", "note.txt")
	if len(rows) != 0 {
		t.Fatalf("rows = %v", rows)
	}
	if len(notes) != 1 || !strings.Contains(notes[0], "No structured laboratory values") {
		t.Errorf("notes = %v", notes)
	}
}

func TestParseNumberSkipsHugeValues(t *testing.T) {
	if _, ok := parseNumberAfter("Hb 12345678", 2); ok {
		t.Fatal("values above 100000 should be rejected")
	}
	// Commas stripped first, so 1,50,000 reads as 150000 and is rejected;
	// the next plausible number on the line wins.
	value, ok := parseNumberAfter("Platelets 1,50,000 corrected 250", 9)
	if !ok || value != 250 {
		t.Fatalf("value = %v ok = %v", value, ok)
	}
}

func TestExtractReportDateFromFileName(t *testing.T) {
	cases := []struct {
		fileName string
		want     string
	}{
		{"cect_2026-01-18.pdf", "2026-01-18"},
		{"usg_18_01_2026.png", "2026-01-18"},
		{"report.pdf", ""},
	}
	for _, tc := range cases {
		if got := extractReportDate(tc.fileName, ""); got != tc.want {
			t.Errorf("extractReportDate(%q) = %q, want %q", tc.fileName, got, tc.want)
		}
	}
}

func TestDetectModality(t *testing.T) {
	cases := []struct {
		fileName string
		text     string
		want     string
	}{
		{"cect_abdomen.pdf", "", "CT"},
		{"scan.pdf", "MRCP shows dilated ducts", "MRI/MRCP"},
		{"scan.pdf", "Doppler study of splenic vein", "Doppler"},
		{"scan.pdf", "ultrasound abdomen", "USG"},
		{"scan.pdf", "no recognizable words", "Imaging"},
	}
	for _, tc := range cases {
		if got := detectModality(tc.fileName, tc.text); got != tc.want {
			t.Errorf("detectModality(%q, %q) = %q, want %q", tc.fileName, tc.text, got, tc.want)
		}
	}
}

const imagingReport = `CECT ABDOMEN 18/01/2026
Portal vein shows thrombosis with partial occlusion.
Splenomegaly with moderate ascites.
Pseudocyst in the lesser sac.
Modified CTSI: 8
`

func TestParseImagingEntries(t *testing.T) {
	rows, extra, notes := parseImagingEntries(imagingReport, "cect_abdomen.pdf")
	if len(rows) != 1 {
		t.Fatalf("rows = %v", rows)
	}
	row := rows[0]
	if row.Modality != "CT" {
		t.Errorf("modality = %q", row.Modality)
	}
	if row.Date != "2026-01-18" {
		t.Errorf("date = %q", row.Date)
	}
	if !strings.Contains(row.Findings, "thrombosis") {
		t.Errorf("findings = %q", row.Findings)
	}

	if extra["splanchnic_venous_assessment__portal_vein_pv"] == "" {
		t.Errorf("extra = %v", extra)
	}
	if extra["portal_hypertensive_changes__ascites"] != "present on imaging report" {
		t.Errorf("extra = %v", extra)
	}
	if extra["portal_hypertensive_changes__splenomegaly"] == "" {
		t.Errorf("extra = %v", extra)
	}
	if extra["overall_findings__modified_ctsi"] != "8" {
		t.Errorf("ctsi = %q", extra["overall_findings__modified_ctsi"])
	}
	if extra["overall_findings__pseudocyst_won"] == "" {
		t.Errorf("extra = %v", extra)
	}

	foundDrafted := false
	for _, note := range notes {
		if strings.Contains(note, "drafted from OCR text") {
			foundDrafted = true
		}
	}
	if !foundDrafted {
		t.Errorf("notes = %v", notes)
	}
}

func TestCollectImagingFindingsFallback(t *testing.T) {
	findings := collectImagingFindings("Plain narrative line with nothing vascular.\nSecond line.")
	if len(findings) != 1 || !strings.Contains(findings[0], "Plain narrative") {
		t.Fatalf("findings = %v", findings)
	}
}

func TestBuildResultLab(t *testing.T) {
	result := buildResult(SectionLab, "cbc_2026-01-12.txt", labReport, "native_text")
	if result.ExtractionStatus != "ok" {
		t.Fatalf("status = %q", result.ExtractionStatus)
	}
	if result.Extractor != "native_text" {
		t.Errorf("extractor = %q", result.Extractor)
	}
	if len(result.Suggestions.LabEntries) == 0 {
		t.Error("expected lab suggestions")
	}
	if len(result.Suggestions.ImagingEntries) != 0 {
		t.Error("lab section should not produce imaging entries")
	}
	last := result.Suggestions.ReviewNotes[len(result.Suggestions.ReviewNotes)-1]
	if !strings.Contains(last, "Review and confirm every auto-filled value") {
		t.Errorf("notes = %v", result.Suggestions.ReviewNotes)
	}
}

func TestUnsupportedResult(t *testing.T) {
	result := unsupportedResult(SectionLab, ".xlsx")
	if result.ExtractionStatus != "failed" || result.Extractor != "unsupported" {
		t.Fatalf("result = %+v", result)
	}
	if !strings.Contains(result.ExtractionError, ".xlsx") {
		t.Errorf("error = %q", result.ExtractionError)
	}
	if len(result.Suggestions.ReviewNotes) != 1 {
		t.Errorf("notes = %v", result.Suggestions.ReviewNotes)
	}
}
