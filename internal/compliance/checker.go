package compliance

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	jobmetrics "github.com/odyssey-erp/fundops/internal/jobs"
	"github.com/odyssey-erp/fundops/internal/shared"
)

const (
	defaultConcurrency = 4
	defaultScanLimit   = 500
)

// CheckerConfig tunes fan-out and history scans.
type CheckerConfig struct {
	Concurrency int
	ScanLimit   int
}

// Checker evaluates documents against policies and keeps the check history.
type Checker struct {
	docs      DocumentStore
	policies  PolicyStore
	checks    CheckStore
	evaluator *Evaluator
	audit     AuditRecorder
	metrics   *jobmetrics.Metrics
	cfg       CheckerConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewChecker wires the checker. audit and metrics may be nil.
func NewChecker(docs DocumentStore, policies PolicyStore, checks CheckStore, evaluator *Evaluator, audit AuditRecorder, metrics *jobmetrics.Metrics, cfg CheckerConfig, logger *slog.Logger) *Checker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.ScanLimit <= 0 {
		cfg.ScanLimit = defaultScanLimit
	}
	if evaluator == nil {
		evaluator = NewEvaluator(nil, nil, logger)
	}
	return &Checker{
		docs:      docs,
		policies:  policies,
		checks:    checks,
		evaluator: evaluator,
		audit:     audit,
		metrics:   metrics,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Check evaluates one document against one policy and appends the result to
// the history. Re-checking never overwrites an earlier record.
func (c *Checker) Check(ctx context.Context, documentID, policyID string) (Check, error) {
	doc, err := c.indexedDocument(ctx, documentID)
	if err != nil {
		return Check{}, err
	}
	policy, err := c.policies.GetPolicy(ctx, strings.TrimSpace(policyID))
	if err != nil {
		return Check{}, err
	}
	if policy.LoadError != "" {
		return Check{}, fmt.Errorf("%w: %s", ErrInvalidPolicy, policy.LoadError)
	}
	return c.checkAndStore(ctx, doc, policy)
}

// CheckAll evaluates the document against every active policy, bounded by
// the configured concurrency. Each successful evaluation is persisted; a
// policy whose evaluation or write fails is reported in Failures and left out
// of Checks.
func (c *Checker) CheckAll(ctx context.Context, documentID string) (CheckAllResult, error) {
	doc, err := c.indexedDocument(ctx, documentID)
	if err != nil {
		return CheckAllResult{}, err
	}
	policies, err := c.policies.ListActivePolicies(ctx)
	if err != nil {
		return CheckAllResult{}, fmt.Errorf("list active policies: %w", err)
	}

	checks := make([]*Check, len(policies))
	failures := make([]*PolicyFailure, len(policies))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for i, policy := range policies {
		if policy.LoadError != "" {
			c.log().Warn("skipping invalid policy",
				slog.String("document_id", doc.ID),
				slog.String("policy_id", policy.ID),
				slog.String("error", policy.LoadError),
			)
			failures[i] = &PolicyFailure{PolicyID: policy.ID, PolicyName: policy.Name, Error: policy.LoadError}
			continue
		}
		g.Go(func() error {
			check, err := c.checkAndStore(gctx, doc, policy)
			if err != nil {
				c.log().Warn("policy check failed",
					slog.String("document_id", doc.ID),
					slog.String("policy_id", policy.ID),
					slog.Any("error", err),
				)
				failures[i] = &PolicyFailure{PolicyID: policy.ID, PolicyName: policy.Name, Error: err.Error()}
				return nil
			}
			checks[i] = &check
			return nil
		})
	}
	_ = g.Wait()

	out := CheckAllResult{DocumentID: doc.ID, Checks: []Check{}, Failures: []PolicyFailure{}}
	for i := range policies {
		if checks[i] != nil {
			out.Checks = append(out.Checks, *checks[i])
		}
		if failures[i] != nil {
			out.Failures = append(out.Failures, *failures[i])
		}
	}
	return out, nil
}

// DocumentStatus rolls up the latest check per policy for a document.
func (c *Checker) DocumentStatus(ctx context.Context, documentID string) (DocumentStatus, error) {
	doc, err := c.docs.GetDocument(ctx, strings.TrimSpace(documentID))
	if err != nil {
		return DocumentStatus{}, err
	}
	history, err := c.checks.ListChecks(ctx, CheckFilter{DocumentID: doc.ID, Limit: c.cfg.ScanLimit})
	if err != nil {
		return DocumentStatus{}, err
	}
	latest := LatestPerPolicy(history)
	status := DocumentStatus{
		DocumentID: doc.ID,
		Overall:    OverallStatus(latest),
		Score:      MeanScore(latest),
		Checks:     latest,
		Gaps:       []string{},
	}
	for _, check := range latest {
		status.Gaps = append(status.Gaps, check.Result.GapMessages()...)
	}
	return status, nil
}

// Summary counts the latest checks per document and policy for a client, or
// across all clients when clientID is empty.
func (c *Checker) Summary(ctx context.Context, clientID string) (Summary, error) {
	clientID = strings.TrimSpace(clientID)
	history, err := c.checks.ListChecks(ctx, CheckFilter{ClientID: clientID, Limit: c.cfg.ScanLimit})
	if err != nil {
		return Summary{}, err
	}
	latest := LatestPerPolicy(history)
	summary := Summary{
		ClientID: clientID,
		Total:    len(latest),
		ByStatus: map[Status]int{},
		ByPolicy: []PolicySummary{},
	}
	docs := map[string]struct{}{}
	byPolicy := map[string]*PolicySummary{}
	for _, check := range latest {
		docs[check.DocumentID] = struct{}{}
		summary.ByStatus[check.Status]++
		ps, ok := byPolicy[check.PolicyID]
		if !ok {
			ps = &PolicySummary{PolicyID: check.PolicyID, PolicyName: check.PolicyName}
			byPolicy[check.PolicyID] = ps
		}
		ps.Total++
		if check.Status == StatusCompliant {
			ps.Compliant++
		}
	}
	summary.Documents = len(docs)
	if summary.Total > 0 {
		summary.Score = round3(float64(summary.ByStatus[StatusCompliant]) / float64(summary.Total))
	}
	for _, ps := range byPolicy {
		ps.Score = round3(float64(ps.Compliant) / float64(ps.Total))
		summary.ByPolicy = append(summary.ByPolicy, *ps)
	}
	sort.Slice(summary.ByPolicy, func(i, j int) bool {
		return summary.ByPolicy[i].PolicyID < summary.ByPolicy[j].PolicyID
	})
	return summary, nil
}

func (c *Checker) indexedDocument(ctx context.Context, documentID string) (Document, error) {
	doc, err := c.docs.GetDocument(ctx, strings.TrimSpace(documentID))
	if err != nil {
		return Document{}, err
	}
	if doc.Status != DocumentIndexed {
		return Document{}, fmt.Errorf("%w: %s is %s", ErrDocumentNotIndexed, doc.ID, doc.Status)
	}
	return doc, nil
}

func (c *Checker) checkAndStore(ctx context.Context, doc Document, policy Policy) (Check, error) {
	if err := ctx.Err(); err != nil {
		return Check{}, err
	}
	eval := c.evaluator.Evaluate(ctx, doc, policy)
	check := Check{
		ID:             uuid.New(),
		DocumentID:     doc.ID,
		ClientID:       doc.ClientID,
		PolicyID:       policy.ID,
		PolicyName:     policy.Name,
		PolicyCategory: policy.Category,
		Requirement:    eval.Requirement,
		Status:         eval.Status,
		Score:          Score(eval.Status),
		Result:         eval.Result,
		Notes:          eval.Notes,
		CheckedAt:      c.now().UTC(),
	}
	if err := c.checks.InsertCheck(ctx, check); err != nil {
		return Check{}, fmt.Errorf("store check: %w", err)
	}
	c.metrics.AddComplianceCheck(string(check.Status))
	c.log().Info("compliance check stored",
		slog.String("document_id", doc.ID),
		slog.String("policy_id", policy.ID),
		slog.String("status", string(check.Status)),
		slog.Int("gaps", len(check.Result.Gaps)),
	)
	if c.audit != nil {
		if err := c.audit.Record(ctx, shared.AuditLog{
			Action:   "compliance.check",
			Entity:   "document",
			EntityID: doc.ID,
			Meta: map[string]any{
				"check_id":  check.ID.String(),
				"policy_id": policy.ID,
				"status":    string(check.Status),
				"score":     check.Score,
			},
			At: check.CheckedAt,
		}); err != nil {
			c.log().Warn("record compliance audit", slog.Any("error", err))
		}
	}
	return check, nil
}

func (c *Checker) log() *slog.Logger {
	if c.logger != nil {
		return c.logger.With(slog.String("component", "compliance_checker"))
	}
	return slog.Default().With(slog.String("component", "compliance_checker"))
}

// OverallStatus applies the strict priority rollup: PENDING for no checks,
// NON_COMPLIANT if any check is, COMPLIANT only if every check is, else
// NEEDS_REVIEW.
func OverallStatus(checks []Check) Status {
	if len(checks) == 0 {
		return StatusPending
	}
	all := true
	for _, check := range checks {
		if check.Status == StatusNonCompliant {
			return StatusNonCompliant
		}
		if check.Status != StatusCompliant {
			all = false
		}
	}
	if all {
		return StatusCompliant
	}
	return StatusNeedsReview
}

// MeanScore averages check scores; zero checks score 0.
func MeanScore(checks []Check) float64 {
	if len(checks) == 0 {
		return 0
	}
	var sum float64
	for _, check := range checks {
		sum += check.Score
	}
	return round3(sum / float64(len(checks)))
}

// LatestPerPolicy keeps the newest check per (document, policy). The result
// is ordered newest first, then by document and policy id.
func LatestPerPolicy(checks []Check) []Check {
	type key struct{ doc, policy string }
	latest := make(map[key]Check, len(checks))
	for _, check := range checks {
		k := key{check.DocumentID, check.PolicyID}
		if cur, ok := latest[k]; !ok || check.CheckedAt.After(cur.CheckedAt) {
			latest[k] = check
		}
	}
	out := make([]Check, 0, len(latest))
	for _, check := range latest {
		out = append(out, check)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CheckedAt.Equal(out[j].CheckedAt) {
			return out[i].CheckedAt.After(out[j].CheckedAt)
		}
		if out[i].DocumentID != out[j].DocumentID {
			return out[i].DocumentID < out[j].DocumentID
		}
		return out[i].PolicyID < out[j].PolicyID
	})
	return out
}
