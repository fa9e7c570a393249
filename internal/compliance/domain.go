package compliance

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the verdict of one check, or the rollup over many.
type Status string

const (
	StatusCompliant    Status = "COMPLIANT"
	StatusNonCompliant Status = "NON_COMPLIANT"
	StatusNeedsReview  Status = "NEEDS_REVIEW"
	StatusPending      Status = "PENDING"
)

// Score maps a status onto [0,1]. NEEDS_REVIEW counts as half compliant
// everywhere.
func Score(s Status) float64 {
	switch s {
	case StatusCompliant:
		return 1
	case StatusNeedsReview:
		return 0.5
	}
	return 0
}

// DocumentState tracks the external processing pipeline.
type DocumentState string

const (
	DocumentUploaded   DocumentState = "UPLOADED"
	DocumentProcessing DocumentState = "PROCESSING"
	DocumentIndexed    DocumentState = "INDEXED"
	DocumentFailed     DocumentState = "FAILED"
)

// CheckType selects how a rule is evaluated.
type CheckType string

const (
	CheckTextMatch  CheckType = "text_match"
	CheckPresence   CheckType = "presence"
	CheckDate       CheckType = "date"
	CheckAI         CheckType = "ai_analysis"
	CheckExpression CheckType = "expression"
)

var (
	// ErrDocumentNotFound indicates the document does not exist.
	ErrDocumentNotFound = errors.New("compliance: document not found")
	// ErrPolicyNotFound indicates the policy does not exist.
	ErrPolicyNotFound = errors.New("compliance: policy not found")
	// ErrDocumentNotIndexed means the document has not finished processing.
	ErrDocumentNotIndexed = errors.New("compliance: document not indexed")
	// ErrInvalidPolicy flags rules or requirements that fail schema validation.
	ErrInvalidPolicy = errors.New("compliance: invalid policy definition")
	// ErrInvalidScope flags a query without document or client.
	ErrInvalidScope = errors.New("compliance: document or client required")
)

// Document is the indexed view the checker reads. The checker never mutates it.
type Document struct {
	ID            string         `json:"id"`
	ClientID      string         `json:"clientId,omitempty"`
	FileName      string         `json:"fileName"`
	Title         string         `json:"title,omitempty"`
	DocumentType  string         `json:"documentType,omitempty"`
	Category      string         `json:"category,omitempty"`
	Status        DocumentState  `json:"status"`
	ExtractedText string         `json:"extractedText,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	PublishDate   *time.Time     `json:"publishDate,omitempty"`
	EffectiveDate *time.Time     `json:"effectiveDate,omitempty"`
	ExpiryDate    *time.Time     `json:"expiryDate,omitempty"`
	UploadedAt    time.Time      `json:"uploadedAt"`
}

// Expired reports whether the document expired before now.
func (d Document) Expired(now time.Time) bool {
	return d.ExpiryDate != nil && d.ExpiryDate.Before(now)
}

// Rule is one predicate of a policy.
type Rule struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CheckType   CheckType `json:"checkType"`
	Pattern     string    `json:"pattern,omitempty"`
	Expression  string    `json:"expression,omitempty"`
	Critical    bool      `json:"critical,omitempty"`
}

// Requirements are named expectations a document must meet. Critical lists
// the requirement names (or rule ids) whose gaps make a check NON_COMPLIANT.
type Requirements struct {
	RequiredFields     []string `json:"requiredFields,omitempty"`
	RequiredCategories []string `json:"requiredCategories,omitempty"`
	MaxAgeDays         int      `json:"maxAgeDays,omitempty"`
	RequiredDocuments  []string `json:"requiredDocuments,omitempty"`
	Critical           []string `json:"critical,omitempty"`
}

// Empty reports whether no per-document requirement is set.
func (r Requirements) Empty() bool {
	return len(r.RequiredFields) == 0 && len(r.RequiredCategories) == 0 && r.MaxAgeDays <= 0
}

// IsCritical reports whether the named requirement is marked critical.
func (r Requirements) IsCritical(name string) bool {
	for _, c := range r.Critical {
		if c == name {
			return true
		}
	}
	return false
}

// Policy is a named set of rules and requirements.
type Policy struct {
	ID            string       `json:"id"`
	Name          string       `json:"name"`
	Description   string       `json:"description,omitempty"`
	Category      string       `json:"category,omitempty"`
	Rules         []Rule       `json:"rules"`
	Requirements  Requirements `json:"requirements"`
	EffectiveDate *time.Time   `json:"effectiveDate,omitempty"`
	ExpiryDate    *time.Time   `json:"expiryDate,omitempty"`
	IsActive      bool         `json:"isActive"`
	UpdatedAt     time.Time    `json:"updatedAt"`
	// LoadError is set when the stored definition failed validation. Such a
	// policy is listed so callers can report it, but is never evaluated.
	LoadError     string       `json:"loadError,omitempty"`
}

// Gap is a missing or failed expectation.
type Gap struct {
	Requirement string `json:"requirement"`
	Message     string `json:"message"`
	Critical    bool   `json:"critical"`
}

// RuleOutcome is the evaluation of one rule or requirement.
type RuleOutcome struct {
	Requirement string   `json:"requirement"`
	CheckType   string   `json:"checkType"`
	Passed      bool     `json:"passed"`
	Score       float64  `json:"score"`
	Evidence    []string `json:"evidence,omitempty"`
	Gaps        []Gap    `json:"gaps,omitempty"`
	Notes       string   `json:"notes,omitempty"`
}

// CheckResult is the evidence and gap detail stored with a check.
// RuleScore averages the per-rule scores and grades violation severity.
type CheckResult struct {
	Evidence  []string      `json:"evidence"`
	Gaps      []Gap         `json:"gaps"`
	Outcomes  []RuleOutcome `json:"outcomes"`
	RuleScore float64       `json:"ruleScore"`
}

// GapMessages returns the gap texts in order.
func (r CheckResult) GapMessages() []string {
	out := make([]string, 0, len(r.Gaps))
	for _, g := range r.Gaps {
		out = append(out, g.Message)
	}
	return out
}

// Check is one append-only evaluation of a document against a policy.
type Check struct {
	ID             uuid.UUID   `json:"id"`
	DocumentID     string      `json:"documentId"`
	ClientID       string      `json:"clientId,omitempty"`
	PolicyID       string      `json:"policyId"`
	PolicyName     string      `json:"policyName"`
	PolicyCategory string      `json:"policyCategory,omitempty"`
	Requirement    string      `json:"requirement"`
	Status         Status      `json:"status"`
	Score          float64     `json:"score"`
	Result         CheckResult `json:"result"`
	Notes          string      `json:"notes,omitempty"`
	CheckedAt      time.Time   `json:"checkedAt"`
}

// PolicyFailure is a policy left out of a CheckAll run.
type PolicyFailure struct {
	PolicyID   string `json:"policyId"`
	PolicyName string `json:"policyName"`
	Error      string `json:"error"`
}

// CheckAllResult is the outcome of checking a document against every
// active policy. Failed policies appear only in Failures.
type CheckAllResult struct {
	DocumentID string          `json:"documentId"`
	Checks     []Check         `json:"checks"`
	Failures   []PolicyFailure `json:"failures"`
}

// DocumentStatus rolls up the latest check per policy for one document.
type DocumentStatus struct {
	DocumentID string   `json:"documentId"`
	Overall    Status   `json:"overall"`
	Score      float64  `json:"score"`
	Checks     []Check  `json:"checks"`
	Gaps       []string `json:"gaps"`
}

// PolicySummary counts checks for one policy.
type PolicySummary struct {
	PolicyID   string  `json:"policyId"`
	PolicyName string  `json:"policyName"`
	Total      int     `json:"total"`
	Compliant  int     `json:"compliant"`
	Score      float64 `json:"score"`
}

// Summary counts the latest checks for a client, or for everything when
// ClientID is empty.
type Summary struct {
	ClientID  string          `json:"clientId,omitempty"`
	Documents int             `json:"documents"`
	Total     int             `json:"total"`
	ByStatus  map[Status]int  `json:"byStatus"`
	ByPolicy  []PolicySummary `json:"byPolicy"`
	Score     float64         `json:"score"` // compliant / total
}

// CheckFilter scopes check history queries. Limit caps the number of rows
// returned, newest first.
type CheckFilter struct {
	DocumentID string
	ClientID   string
	Limit      int
}
