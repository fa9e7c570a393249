package compliance

import (
	"context"

	"github.com/odyssey-erp/fundops/internal/shared"
)

// DocumentFilter narrows document listings.
type DocumentFilter struct {
	ClientID string
	Status   DocumentState
}

// DocumentStore supplies indexed documents.
type DocumentStore interface {
	GetDocument(ctx context.Context, id string) (Document, error)
	ListDocuments(ctx context.Context, filter DocumentFilter) ([]Document, error)
}

// PolicyStore supplies policies. The checker only reads from it.
type PolicyStore interface {
	GetPolicy(ctx context.Context, id string) (Policy, error)
	ListActivePolicies(ctx context.Context) ([]Policy, error)
}

// CheckStore appends and reads check history.
type CheckStore interface {
	InsertCheck(ctx context.Context, check Check) error
	ListChecks(ctx context.Context, filter CheckFilter) ([]Check, error)
}

// AnalysisRequest is the input to an AI-backed rule.
type AnalysisRequest struct {
	Requirement string
	Text        string
}

// AnalysisResult is the structured verdict of an AI-backed rule.
type AnalysisResult struct {
	Compliant bool     `json:"compliant"`
	Score     float64  `json:"score"`
	Evidence  []string `json:"evidence"`
	Gaps      []string `json:"gaps"`
}

// Analyzer evaluates free-text requirements.
type Analyzer interface {
	Analyze(ctx context.Context, req AnalysisRequest) (AnalysisResult, error)
}

// AuditRecorder stores the audit trail for checks.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}
