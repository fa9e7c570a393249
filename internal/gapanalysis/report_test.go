package gapanalysis

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/fundops/internal/compliance"
)

func check(category string, status compliance.Status, gaps ...string) compliance.Check {
	c := compliance.Check{PolicyCategory: category, Status: status, Score: compliance.Score(status)}
	for _, g := range gaps {
		c.Result.Gaps = append(c.Result.Gaps, compliance.Gap{Message: g})
	}
	return c
}

func TestSummarizeEmptyIsPending(t *testing.T) {
	report := Summarize(nil)
	require.Equal(t, compliance.StatusPending, report.Overall)
	require.Equal(t, 0.0, report.Score)
	require.Empty(t, report.ByCategory)
	require.Empty(t, report.Gaps)
}

func TestSummarizeCategoryRollup(t *testing.T) {
	report := Summarize([]compliance.Check{
		check("KYC", compliance.StatusCompliant),
		check("KYC", compliance.StatusCompliant),
		check("KYC", compliance.StatusNonCompliant, "Passport missing"),
	})
	require.Equal(t, compliance.StatusNonCompliant, report.Overall)
	require.Equal(t, 0.667, report.ByCategory["KYC"].Score)
	require.Equal(t, 3, report.ByCategory["KYC"].Total)
	require.Equal(t, 0.667, report.Score)
	require.Equal(t, []string{"Passport missing"}, report.Gaps)
}

func TestSummarizeGeneralFallback(t *testing.T) {
	report := Summarize([]compliance.Check{
		check("", compliance.StatusNeedsReview, "Missing fields: taxId"),
		check("  ", compliance.StatusCompliant),
		check("AML", compliance.StatusCompliant),
	})
	require.Equal(t, compliance.StatusNeedsReview, report.Overall)
	require.Equal(t, CategorySummary{Total: 2, Compliant: 1, Score: 0.5}, report.ByCategory[GeneralCategory])
	require.Equal(t, CategorySummary{Total: 1, Compliant: 1, Score: 1}, report.ByCategory["AML"])
	require.Equal(t, 0.667, report.Score)
}

func TestSummarizeNonCompliantDominatesProperty(t *testing.T) {
	statuses := []compliance.Status{compliance.StatusCompliant, compliance.StatusNeedsReview, compliance.StatusPending, compliance.StatusNonCompliant}
	categories := []string{"", "KYC", "AML"}

	properties := gopter.NewProperties(gopter.DefaultTestParameters())
	properties.Property("adding a NON_COMPLIANT check always yields NON_COMPLIANT", prop.ForAll(
		func(picks []int) bool {
			checks := make([]compliance.Check, 0, len(picks)+1)
			for _, p := range picks {
				checks = append(checks, check(categories[p%len(categories)], statuses[p%len(statuses)]))
			}
			before := Summarize(checks)
			after := Summarize(append(checks, check("KYC", compliance.StatusNonCompliant)))
			return after.Overall == compliance.StatusNonCompliant && after.Score <= before.Score
		},
		gen.SliceOf(gen.IntRange(0, 11)),
	))
	properties.Property("score is compliant over total", prop.ForAll(
		func(picks []int) bool {
			checks := make([]compliance.Check, 0, len(picks))
			compliant := 0
			for _, p := range picks {
				s := statuses[p%len(statuses)]
				if s == compliance.StatusCompliant {
					compliant++
				}
				checks = append(checks, check(categories[p%len(categories)], s))
			}
			report := Summarize(checks)
			if len(checks) == 0 {
				return report.Score == 0 && report.Overall == compliance.StatusPending
			}
			return report.Compliant == compliant && report.Score == ratio(compliant, len(checks))
		},
		gen.SliceOf(gen.IntRange(0, 11)),
	))
	properties.TestingRun(t)
}

func TestRecommendations(t *testing.T) {
	require.Equal(t, []string{"No gaps found. All documents are compliant."}, Recommendations(nil))

	recs := Recommendations([]Finding{
		{Type: FindingExpired, Severity: SeverityHigh},
		{Type: FindingMissingDocument, Severity: SeverityHigh},
		{Type: FindingPolicyViolation, Severity: SeverityMedium},
		{Type: FindingMissingField, Severity: SeverityMedium},
	})
	require.Equal(t, []string{
		"Immediate action required: 2 high-priority gaps found. Address expired documents and policy violations first.",
		"Upload 1 missing required document(s) to ensure full compliance.",
		"Review and update 1 non-compliant document(s) to meet policy requirements.",
		"Complete metadata for 1 document(s) with missing required fields.",
	}, recs)
}

func TestViolationSeverity(t *testing.T) {
	require.Equal(t, SeverityHigh, violationSeverity(0))
	require.Equal(t, SeverityMedium, violationSeverity(0.5))
	require.Equal(t, SeverityLow, violationSeverity(0.7))
}
