package gapanalysis

import (
	"fmt"
	"math"
	"strings"

	"github.com/odyssey-erp/fundops/internal/compliance"
)

// Summarize rolls checks up per policy category. Scores are compliant/total;
// an empty set is PENDING with score 0.
func Summarize(checks []compliance.Check) Report {
	report := Report{
		Overall:    compliance.OverallStatus(checks),
		Total:      len(checks),
		ByCategory: map[string]CategorySummary{},
		Gaps:       []string{},
	}
	for _, check := range checks {
		category := strings.TrimSpace(check.PolicyCategory)
		if category == "" {
			category = GeneralCategory
		}
		cs := report.ByCategory[category]
		cs.Total++
		if check.Status == compliance.StatusCompliant {
			cs.Compliant++
			report.Compliant++
		}
		report.ByCategory[category] = cs
		report.Gaps = append(report.Gaps, check.Result.GapMessages()...)
	}
	for category, cs := range report.ByCategory {
		cs.Score = ratio(cs.Compliant, cs.Total)
		report.ByCategory[category] = cs
	}
	report.Score = ratio(report.Compliant, report.Total)
	return report
}

func ratio(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 1000
}

func summarizeFindings(findings []Finding) FindingSummary {
	summary := FindingSummary{Total: len(findings), ByType: map[FindingType]int{}}
	for _, f := range findings {
		switch f.Severity {
		case SeverityHigh:
			summary.High++
		case SeverityMedium:
			summary.Medium++
		case SeverityLow:
			summary.Low++
		}
		summary.ByType[f.Type]++
	}
	return summary
}

// Recommendations turns findings into next steps for the coordinator.
func Recommendations(findings []Finding) []string {
	summary := summarizeFindings(findings)
	var out []string
	if summary.High > 0 {
		out = append(out, fmt.Sprintf("Immediate action required: %d high-priority gaps found. Address expired documents and policy violations first.", summary.High))
	}
	if n := summary.ByType[FindingMissingDocument]; n > 0 {
		out = append(out, fmt.Sprintf("Upload %d missing required document(s) to ensure full compliance.", n))
	}
	if n := summary.ByType[FindingPolicyViolation]; n > 0 {
		out = append(out, fmt.Sprintf("Review and update %d non-compliant document(s) to meet policy requirements.", n))
	}
	if n := summary.ByType[FindingMissingField]; n > 0 {
		out = append(out, fmt.Sprintf("Complete metadata for %d document(s) with missing required fields.", n))
	}
	if len(out) == 0 {
		out = append(out, "No gaps found. All documents are compliant.")
	}
	return out
}

func violationSeverity(ruleScore float64) Severity {
	switch {
	case ruleScore < 0.3:
		return SeverityHigh
	case ruleScore < 0.7:
		return SeverityMedium
	}
	return SeverityLow
}
