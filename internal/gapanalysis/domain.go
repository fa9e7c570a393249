package gapanalysis

import (
	"time"

	"github.com/odyssey-erp/fundops/internal/compliance"
)

// GeneralCategory groups checks whose policy carries no category.
const GeneralCategory = "GENERAL"

// CategorySummary counts checks for one policy category.
type CategorySummary struct {
	Total     int     `json:"total"`
	Compliant int     `json:"compliant"`
	Score     float64 `json:"score"`
}

// Report is the rollup of a set of checks. It is derived on every request and
// never stored.
type Report struct {
	Overall    compliance.Status          `json:"overall"`
	Score      float64                    `json:"score"`
	Total      int                        `json:"total"`
	Compliant  int                        `json:"compliant"`
	ByCategory map[string]CategorySummary `json:"byCategory"`
	Gaps       []string                   `json:"gaps"`
}

// FindingType classifies a gap finding.
type FindingType string

const (
	FindingMissingDocument FindingType = "missing_document"
	FindingNonCompliant    FindingType = "non_compliant"
	FindingExpired         FindingType = "expired"
	FindingMissingField    FindingType = "missing_field"
	FindingPolicyViolation FindingType = "policy_violation"
)

// Severity ranks findings for follow-up.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Finding is one actionable gap.
type Finding struct {
	ID             string      `json:"id"`
	Type           FindingType `json:"type"`
	Severity       Severity    `json:"severity"`
	Title          string      `json:"title"`
	Description    string      `json:"description"`
	DocumentID     string      `json:"documentId,omitempty"`
	PolicyID       string      `json:"policyId,omitempty"`
	Requirement    string      `json:"requirement,omitempty"`
	Recommendation string      `json:"recommendation,omitempty"`
}

// FindingSummary counts findings by severity and type.
type FindingSummary struct {
	Total  int                 `json:"total"`
	High   int                 `json:"high"`
	Medium int                 `json:"medium"`
	Low    int                 `json:"low"`
	ByType map[FindingType]int `json:"byType"`
}

// Scope selects the checks to analyse. At least one field must be set.
type Scope struct {
	DocumentID string `json:"documentId,omitempty"`
	ClientID   string `json:"clientId,omitempty"`
}

// Analysis is the full gap analysis for a scope.
type Analysis struct {
	Scope           Scope          `json:"scope"`
	ClientID        string         `json:"clientId,omitempty"`
	Report          Report         `json:"report"`
	Findings        []Finding      `json:"findings"`
	Summary         FindingSummary `json:"summary"`
	Recommendations []string       `json:"recommendations"`
	GeneratedAt     time.Time      `json:"generatedAt"`
}
