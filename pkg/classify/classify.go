// Package classify implements the report-presence heuristics applied to
// series lists. Two independently tuned variants exist: a broad
// ingestion heuristic that favors recall, and a strict verification
// predicate restricted to text-report modalities that favors precision.
// They are deliberately separate functions so their false-positive and
// false-negative tradeoffs stay auditable.
package classify

import (
	"strings"

	"github.com/medcohort/tcia-fetch/pkg/tcia"
)

// ReportKeywords are the base description keywords indicating report
// content. Matching is case-insensitive substring containment.
var ReportKeywords = []string{
	"report",
	"rtstruct",
	"sc", // Secondary Capture
	"doc",
}

// ExtendedReportKeywords widen ReportKeywords for the preflight probe,
// where a missed collection is more costly than a wasted fetch.
var ExtendedReportKeywords = []string{
	"report",
	"rtstruct",
	"sc",
	"doc",
	"annotation",
	"segmentation",
	"measurement",
	"findings",
	"impression",
	"diagnosis",
}

// broadModalities are modality codes accepted by the broad heuristics.
var broadModalities = map[string]bool{
	"SR":       true,
	"DOC":      true,
	"SEG":      true,
	"RTSTRUCT": true,
}

// TextReportModalities are the modalities accepted by the strict
// verification pass. SEG is excluded: a segmentation proves annotation
// work happened but carries no report text.
var TextReportModalities = map[string]bool{
	"SR":       true,
	"DOC":      true,
	"RTSTRUCT": true,
}

// HasReportSeries is the ingestion heuristic: true if any series has
// modality SR or a description containing a base report keyword. Used
// when filtering fetched patients.
func HasReportSeries(seriesList []tcia.Series) bool {
	for _, s := range seriesList {
		if strings.EqualFold(s.Modality, "SR") {
			return true
		}
		if containsAny(s.SeriesDescription, ReportKeywords) {
			return true
		}
	}
	return false
}

// HasAnyReportIndicator is the broad preflight heuristic: true if any
// series has a report-ish modality or a description containing any
// extended keyword. A false negative here skips an entire collection,
// so this variant casts the widest net.
func HasAnyReportIndicator(seriesList []tcia.Series) bool {
	for _, s := range seriesList {
		if broadModalities[strings.ToUpper(s.Modality)] {
			return true
		}
		if containsAny(s.SeriesDescription, ExtendedReportKeywords) {
			return true
		}
	}
	return false
}

// HasTextReport is the strict verification predicate: true only if a
// series carries one of the text-report modalities. Descriptions are
// ignored; keyword matches are too noisy for verification.
func HasTextReport(seriesList []tcia.Series) bool {
	for _, s := range seriesList {
		if TextReportModalities[strings.ToUpper(s.Modality)] {
			return true
		}
	}
	return false
}

// TextReportTypes returns the distinct text-report modalities present
// in the series list, for verification records.
func TextReportTypes(seriesList []tcia.Series) []string {
	seen := make(map[string]bool)
	var types []string
	for _, s := range seriesList {
		m := strings.ToUpper(s.Modality)
		if TextReportModalities[m] && !seen[m] {
			seen[m] = true
			types = append(types, m)
		}
	}
	return types
}

func containsAny(description string, keywords []string) bool {
	desc := strings.ToLower(description)
	for _, kw := range keywords {
		if strings.Contains(desc, kw) {
			return true
		}
	}
	return false
}
