package gapanalysis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/fundops/internal/compliance"
	"github.com/odyssey-erp/fundops/internal/tasks"
)

const defaultScanLimit = 500

// CheckLister reads check history newest first.
type CheckLister interface {
	ListChecks(ctx context.Context, filter compliance.CheckFilter) ([]compliance.Check, error)
}

// TaskCreator opens follow-up tasks for findings.
type TaskCreator interface {
	CreateForGaps(ctx context.Context, clientID string, gaps []tasks.GapInput, assigneeID string) ([]tasks.Task, error)
}

// Service builds gap analyses from stored check history. It never writes
// checks; the only side effect is the optional task creation.
type Service struct {
	docs      compliance.DocumentStore
	policies  compliance.PolicyStore
	checks    CheckLister
	tasks     TaskCreator
	scanLimit int
	group     singleflight.Group
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs the service. taskCreator may be nil.
func NewService(docs compliance.DocumentStore, policies compliance.PolicyStore, checks CheckLister, taskCreator TaskCreator, scanLimit int, logger *slog.Logger) *Service {
	if scanLimit <= 0 {
		scanLimit = defaultScanLimit
	}
	return &Service{
		docs:      docs,
		policies:  policies,
		checks:    checks,
		tasks:     taskCreator,
		scanLimit: scanLimit,
		logger:    logger,
		now:       time.Now,
	}
}

// Analyze reports on the latest check per document and policy in scope.
// Identical concurrent requests share one computation, which runs detached
// from any single caller's cancellation.
func (s *Service) Analyze(ctx context.Context, scope Scope) (Analysis, error) {
	scope.DocumentID = strings.TrimSpace(scope.DocumentID)
	scope.ClientID = strings.TrimSpace(scope.ClientID)
	if scope.DocumentID == "" && scope.ClientID == "" {
		return Analysis{}, compliance.ErrInvalidScope
	}
	key := "doc:" + scope.DocumentID + "|client:" + scope.ClientID
	ch := s.group.DoChan(key, func() (any, error) {
		return s.analyze(context.WithoutCancel(ctx), scope)
	})
	select {
	case <-ctx.Done():
		return Analysis{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Analysis{}, res.Err
		}
		return res.Val.(Analysis), nil
	}
}

func (s *Service) analyze(ctx context.Context, scope Scope) (Analysis, error) {
	var docs []compliance.Document
	clientID := scope.ClientID
	if scope.DocumentID != "" {
		doc, err := s.docs.GetDocument(ctx, scope.DocumentID)
		if err != nil {
			return Analysis{}, err
		}
		docs = []compliance.Document{doc}
		if clientID == "" {
			clientID = doc.ClientID
		}
	} else {
		listed, err := s.docs.ListDocuments(ctx, compliance.DocumentFilter{ClientID: scope.ClientID})
		if err != nil {
			return Analysis{}, fmt.Errorf("list documents: %w", err)
		}
		docs = listed
	}

	history, err := s.checks.ListChecks(ctx, compliance.CheckFilter{DocumentID: scope.DocumentID, ClientID: scope.ClientID, Limit: s.scanLimit})
	if err != nil {
		return Analysis{}, fmt.Errorf("list checks: %w", err)
	}
	latest := compliance.LatestPerPolicy(history)

	now := s.now()
	byDoc := make(map[string][]compliance.Check, len(docs))
	for _, check := range latest {
		byDoc[check.DocumentID] = append(byDoc[check.DocumentID], check)
	}
	findings := []Finding{}
	for _, doc := range docs {
		findings = append(findings, documentFindings(doc, byDoc[doc.ID], now)...)
	}
	if scope.DocumentID == "" && scope.ClientID != "" {
		missing, err := s.missingDocuments(ctx, scope.ClientID, docs)
		if err != nil {
			return Analysis{}, err
		}
		findings = append(findings, missing...)
	}

	analysis := Analysis{
		Scope:           scope,
		ClientID:        clientID,
		Report:          Summarize(latest),
		Findings:        findings,
		Summary:         summarizeFindings(findings),
		Recommendations: Recommendations(findings),
		GeneratedAt:     now.UTC(),
	}
	s.log().Info("gap analysis built",
		slog.String("document_id", scope.DocumentID),
		slog.String("client_id", scope.ClientID),
		slog.Int("checks", len(latest)),
		slog.Int("findings", len(findings)),
		slog.String("overall", string(analysis.Report.Overall)),
	)
	return analysis, nil
}

// CreateTasks opens QC_CHECK tasks for the high and medium findings.
func (s *Service) CreateTasks(ctx context.Context, analysis Analysis, assigneeID string) ([]tasks.Task, error) {
	if s.tasks == nil {
		return nil, fmt.Errorf("gap analysis: task creation not configured")
	}
	gaps := make([]tasks.GapInput, 0, len(analysis.Findings))
	for _, f := range analysis.Findings {
		gaps = append(gaps, tasks.GapInput{
			ID:             f.ID,
			Type:           string(f.Type),
			Severity:       string(f.Severity),
			Title:          f.Title,
			Description:    f.Description,
			DocumentID:     f.DocumentID,
			PolicyID:       f.PolicyID,
			Recommendation: f.Recommendation,
		})
	}
	return s.tasks.CreateForGaps(ctx, analysis.ClientID, gaps, assigneeID)
}

func documentFindings(doc compliance.Document, checks []compliance.Check, now time.Time) []Finding {
	var findings []Finding
	if compliance.OverallStatus(checks) == compliance.StatusNonCompliant {
		n := 0
		for _, check := range checks {
			if check.Status != compliance.StatusNonCompliant {
				continue
			}
			for _, gap := range check.Result.Gaps {
				findings = append(findings, Finding{
					ID:             fmt.Sprintf("%s-%s-%d", doc.ID, check.PolicyID, n),
					Type:           FindingPolicyViolation,
					Severity:       violationSeverity(check.Result.RuleScore),
					Title:          "Non-compliance: " + check.Requirement,
					Description:    gap.Message,
					DocumentID:     doc.ID,
					PolicyID:       check.PolicyID,
					Requirement:    check.Requirement,
					Recommendation: "Review and update document to meet requirement: " + check.Requirement,
				})
				n++
			}
		}
	}
	if doc.Expired(now) {
		findings = append(findings, Finding{
			ID:             doc.ID + "-expired",
			Type:           FindingExpired,
			Severity:       SeverityHigh,
			Title:          "Document has expired",
			Description:    fmt.Sprintf("Document %q expired on %s", doc.FileName, doc.ExpiryDate.UTC().Format(time.DateOnly)),
			DocumentID:     doc.ID,
			Recommendation: "Update or replace expired document",
		})
	}
	var missing []string
	if strings.TrimSpace(doc.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(doc.ExtractedText) == "" {
		missing = append(missing, "extracted text")
	}
	if strings.TrimSpace(doc.DocumentType) == "" {
		missing = append(missing, "document type")
	}
	if strings.TrimSpace(doc.Category) == "" {
		missing = append(missing, "category")
	}
	if len(missing) > 0 {
		findings = append(findings, Finding{
			ID:             doc.ID + "-missing-fields",
			Type:           FindingMissingField,
			Severity:       SeverityMedium,
			Title:          "Missing required fields",
			Description:    "Document is missing: " + strings.Join(missing, ", "),
			DocumentID:     doc.ID,
			Recommendation: "Complete document metadata",
		})
	}
	return findings
}

func (s *Service) missingDocuments(ctx context.Context, clientID string, docs []compliance.Document) ([]Finding, error) {
	policies, err := s.policies.ListActivePolicies(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active policies: %w", err)
	}
	indexed := map[string]bool{}
	for _, doc := range docs {
		if doc.Status == compliance.DocumentIndexed && doc.DocumentType != "" {
			indexed[doc.DocumentType] = true
		}
	}
	var findings []Finding
	seen := map[string]bool{}
	for _, policy := range policies {
		for _, required := range policy.Requirements.RequiredDocuments {
			if indexed[required] {
				continue
			}
			id := clientID + "-missing-" + required
			if seen[id] {
				continue
			}
			seen[id] = true
			findings = append(findings, Finding{
				ID:             id,
				Type:           FindingMissingDocument,
				Severity:       SeverityHigh,
				Title:          "Missing required document: " + required,
				Description:    fmt.Sprintf("Policy %q requires a document of type %q", policy.Name, required),
				PolicyID:       policy.ID,
				Recommendation: fmt.Sprintf("Upload or create a %s document", required),
			})
		}
	}
	return findings, nil
}

func (s *Service) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(slog.String("component", "gap_analysis"))
	}
	return slog.Default().With(slog.String("component", "gap_analysis"))
}
