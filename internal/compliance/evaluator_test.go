package compliance

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func kycDocument() Document {
	return Document{
		ID:            "doc-1",
		ClientID:      "client-1",
		FileName:      "kyc.pdf",
		Title:         "KYC file",
		DocumentType:  "KYC",
		Category:      "KYC",
		Status:        DocumentIndexed,
		ExtractedText: "Beneficial owner: Jane Doe. Passport verified on 2024-01-02.",
		Metadata: map[string]any{
			"investor":   map[string]any{"name": "Jane Doe"},
			"riskRating": "low",
		},
		PublishDate:   day(2024, 1, 1),
		EffectiveDate: day(2024, 1, 2),
		ExpiryDate:    day(2025, 1, 1),
		UploadedAt:    *day(2024, 1, 3),
	}
}

type stubAnalyzer struct {
	result AnalysisResult
	err    error
	reqs   []AnalysisRequest
}

func (s *stubAnalyzer) Analyze(_ context.Context, req AnalysisRequest) (AnalysisResult, error) {
	s.reqs = append(s.reqs, req)
	return s.result, s.err
}

func newTestEvaluator(t *testing.T, analyzer Analyzer, now time.Time) *Evaluator {
	t.Helper()
	expressions, err := NewExpressionEvaluator()
	require.NoError(t, err)
	e := NewEvaluator(analyzer, expressions, discard())
	e.now = func() time.Time { return now }
	return e
}

var june2024 = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func TestEvaluateCompliantRules(t *testing.T) {
	e := newTestEvaluator(t, nil, june2024)
	policy := Policy{
		ID:          "kyc-basic",
		Name:        "KYC basics",
		Description: "Beneficial owner identified",
		Rules: []Rule{
			{ID: "owner", Name: "Beneficial owner", CheckType: CheckTextMatch, Pattern: "beneficial owner"},
			{ID: "fields", Name: "Investor fields", CheckType: CheckPresence, Pattern: "title, investor.name, riskRating"},
			{ID: "dates", Name: "Dates", CheckType: CheckDate},
			{ID: "valid", Name: "Still valid", CheckType: CheckExpression, Expression: `doc.category == "KYC" && doc.expiryDate > now`},
		},
	}

	eval := e.Evaluate(context.Background(), kycDocument(), policy)
	require.Equal(t, StatusCompliant, eval.Status)
	require.Equal(t, "Beneficial owner identified", eval.Requirement)
	require.Empty(t, eval.Result.Gaps)
	require.Len(t, eval.Result.Outcomes, 4)
	require.Equal(t, 1.0, eval.Result.RuleScore)
	require.Contains(t, eval.Result.Evidence, "Beneficial owner")
	require.Equal(t, "Checked 4 rules. All compliant.", eval.Notes)
}

func TestEvaluateNonCriticalGapNeedsReview(t *testing.T) {
	e := newTestEvaluator(t, nil, june2024)
	policy := Policy{
		ID:   "kyc-tax",
		Name: "Tax residency",
		Rules: []Rule{
			{ID: "fields", Name: "Tax fields", CheckType: CheckPresence, Pattern: "title, taxId"},
		},
	}

	eval := e.Evaluate(context.Background(), kycDocument(), policy)
	require.Equal(t, StatusNeedsReview, eval.Status)
	require.Equal(t, []string{"Missing fields: taxId"}, eval.Result.GapMessages())
	require.Equal(t, 0.5, eval.Result.RuleScore)
	require.False(t, eval.Result.Gaps[0].Critical)
}

func TestEvaluateCriticalGapIsNonCompliant(t *testing.T) {
	e := newTestEvaluator(t, nil, june2024)

	t.Run("rule flag", func(t *testing.T) {
		policy := Policy{ID: "aml", Name: "AML", Rules: []Rule{
			{ID: "pep", Name: "PEP screening", CheckType: CheckTextMatch, Pattern: "PEP screened", Critical: true},
		}}
		eval := e.Evaluate(context.Background(), kycDocument(), policy)
		require.Equal(t, StatusNonCompliant, eval.Status)
		require.True(t, eval.Result.Gaps[0].Critical)
	})

	t.Run("requirement marked critical", func(t *testing.T) {
		policy := Policy{ID: "sub", Name: "Subscription", Requirements: Requirements{
			RequiredCategories: []string{"SUBSCRIPTION"},
			Critical:           []string{"requiredCategories"},
		}}
		eval := e.Evaluate(context.Background(), kycDocument(), policy)
		require.Equal(t, StatusNonCompliant, eval.Status)
		require.Contains(t, eval.Result.Gaps[0].Message, "SUBSCRIPTION")
	})

	t.Run("rule named in critical list", func(t *testing.T) {
		policy := Policy{ID: "aml", Name: "AML", Rules: []Rule{
			{ID: "pep", Name: "PEP screening", CheckType: CheckTextMatch, Pattern: "PEP screened"},
		}, Requirements: Requirements{Critical: []string{"pep"}}}
		eval := e.Evaluate(context.Background(), kycDocument(), policy)
		require.Equal(t, StatusNonCompliant, eval.Status)
	})
}

func TestEvaluateExpiredDocumentIsAlwaysCritical(t *testing.T) {
	e := newTestEvaluator(t, nil, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	policy := Policy{ID: "kyc-basic", Name: "KYC basics", Rules: []Rule{
		{ID: "owner", Name: "Beneficial owner", CheckType: CheckTextMatch, Pattern: "beneficial owner"},
	}}

	eval := e.Evaluate(context.Background(), kycDocument(), policy)
	require.Equal(t, StatusNonCompliant, eval.Status)
	require.Len(t, eval.Result.Gaps, 1)
	require.Equal(t, "expiry", eval.Result.Gaps[0].Requirement)
	require.True(t, strings.HasPrefix(eval.Result.Gaps[0].Message, "Document has expired"))

	policy.Rules = append(policy.Rules, Rule{ID: "dates", Name: "Dates", CheckType: CheckDate})
	eval = e.Evaluate(context.Background(), kycDocument(), policy)
	require.Equal(t, StatusNonCompliant, eval.Status)
	require.Len(t, eval.Result.Gaps, 1, "date rule already reports the expiry")
}

func TestEvaluateEmptyPolicyIsPending(t *testing.T) {
	e := newTestEvaluator(t, nil, june2024)
	eval := e.Evaluate(context.Background(), kycDocument(), Policy{ID: "empty", Name: "Empty"})
	require.Equal(t, StatusPending, eval.Status)
	require.Equal(t, 0.0, Score(eval.Status))
	require.Empty(t, eval.Result.Outcomes)
}

func TestEvaluateMaxAge(t *testing.T) {
	e := newTestEvaluator(t, nil, june2024)
	policy := Policy{ID: "fresh", Name: "Freshness", Requirements: Requirements{MaxAgeDays: 30}}
	eval := e.Evaluate(context.Background(), kycDocument(), policy)
	require.Equal(t, StatusNeedsReview, eval.Status)
	require.Equal(t, "Document is older than 30 days", eval.Result.Gaps[0].Message)

	policy.Requirements.MaxAgeDays = 365
	eval = e.Evaluate(context.Background(), kycDocument(), policy)
	require.Equal(t, StatusCompliant, eval.Status)
}

func TestEvaluateAIAnalysis(t *testing.T) {
	rule := Rule{ID: "ai", Name: "Source of funds", Description: "Source of funds is explained", CheckType: CheckAI}
	policy := Policy{ID: "sof", Name: "Source of funds", Rules: []Rule{rule}}

	t.Run("not compliant", func(t *testing.T) {
		analyzer := &stubAnalyzer{result: AnalysisResult{Compliant: false, Score: 0.2, Gaps: []string{"no bank statement"}}}
		e := newTestEvaluator(t, analyzer, june2024)
		eval := e.Evaluate(context.Background(), kycDocument(), policy)
		require.Equal(t, StatusNeedsReview, eval.Status)
		require.Equal(t, []string{"no bank statement"}, eval.Result.GapMessages())
		require.Equal(t, 0.2, eval.Result.RuleScore)
		require.Equal(t, "Source of funds is explained", analyzer.reqs[0].Requirement)
	})

	t.Run("analyzer failure needs review", func(t *testing.T) {
		e := newTestEvaluator(t, &stubAnalyzer{err: errors.New("rate limited")}, june2024)
		eval := e.Evaluate(context.Background(), kycDocument(), policy)
		require.Equal(t, StatusNeedsReview, eval.Status)
		require.Contains(t, eval.Result.Gaps[0].Message, "rate limited")
	})

	t.Run("not configured", func(t *testing.T) {
		e := newTestEvaluator(t, nil, june2024)
		eval := e.Evaluate(context.Background(), kycDocument(), policy)
		require.Equal(t, StatusNeedsReview, eval.Status)
		require.Equal(t, 0.5, eval.Result.RuleScore)
	})
}

func TestEvaluateExpressionFalse(t *testing.T) {
	e := newTestEvaluator(t, nil, june2024)
	policy := Policy{ID: "risk", Name: "Risk", Rules: []Rule{
		{ID: "risk", Name: "High risk reviewed", CheckType: CheckExpression, Expression: `doc.metadata.riskRating == "high"`},
	}}
	eval := e.Evaluate(context.Background(), kycDocument(), policy)
	require.Equal(t, StatusNeedsReview, eval.Status)
	require.Contains(t, eval.Result.Gaps[0].Message, "Expression not satisfied")
}

func TestEvaluateInvalidPatternNeedsReview(t *testing.T) {
	e := newTestEvaluator(t, nil, june2024)
	policy := Policy{ID: "bad", Name: "Bad", Rules: []Rule{
		{ID: "bad", Name: "Bad pattern", CheckType: CheckTextMatch, Pattern: "("},
	}}
	eval := e.Evaluate(context.Background(), kycDocument(), policy)
	require.Equal(t, StatusNeedsReview, eval.Status)
	require.Contains(t, eval.Result.Outcomes[0].Notes, "Invalid pattern")
}
