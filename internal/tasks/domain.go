package tasks

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Kind enumerates the work item types.
type Kind string

const (
	KindBankRecon       Kind = "BANK_RECON"
	KindKYCReview       Kind = "KYC_REVIEW"
	KindReportDraft     Kind = "REPORT_DRAFT"
	KindComplianceCheck Kind = "COMPLIANCE_CHECK"
	KindQCCheck         Kind = "QC_CHECK"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindBankRecon, KindKYCReview, KindReportDraft, KindComplianceCheck, KindQCCheck:
		return true
	}
	return false
}

// Status tracks a task through its lifecycle.
type Status string

const (
	StatusQueued      Status = "QUEUED"
	StatusInProgress  Status = "IN_PROGRESS"
	StatusBlocked     Status = "BLOCKED"
	StatusNeedsReview Status = "NEEDS_REVIEW"
	StatusDone        Status = "DONE"
)

// Priority orders the coordinator inbox.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
)

// Severity grades a flag.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Flag is an issue raised while processing a task.
type Flag struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Code     string   `json:"code"`
}

var (
	// ErrTaskNotFound indicates the task does not exist.
	ErrTaskNotFound = errors.New("tasks: task not found")
	// ErrInvalidKind flags an unknown kind.
	ErrInvalidKind = errors.New("tasks: invalid kind")
	// ErrInvalidPayload flags a payload that does not fit its kind.
	ErrInvalidPayload = errors.New("tasks: invalid payload")
	// ErrInvalidTransition flags a status change that is not allowed.
	ErrInvalidTransition = errors.New("tasks: invalid status transition")
	// ErrInvalidInput flags malformed create input.
	ErrInvalidInput = errors.New("tasks: invalid input")
)

// Task is a unit of work on the coordinator board. Payload and Result are
// stored as JSON; use DecodePayload for the typed view.
type Task struct {
	ID          uuid.UUID       `json:"id"`
	ClientID    string          `json:"clientId"`
	Kind        Kind            `json:"kind"`
	Status      Status          `json:"status"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Priority    Priority        `json:"priority"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Flags       []Flag          `json:"flags"`
	AssigneeID  string          `json:"assigneeId,omitempty"`
	DueAt       *time.Time      `json:"dueAt,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// DecodePayload returns the typed payload for the task kind.
func (t Task) DecodePayload() (Payload, error) {
	return DecodePayload(t.Kind, t.Payload)
}

// CreateInput describes a new task.
type CreateInput struct {
	ClientID    string          `json:"clientId" validate:"required"`
	Kind        Kind            `json:"kind" validate:"required"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Priority    Priority        `json:"priority" validate:"omitempty,oneof=LOW MEDIUM HIGH"`
	Payload     json.RawMessage `json:"payload"`
	AssigneeID  string          `json:"assigneeId"`
	DueAt       *time.Time      `json:"dueAt"`
}

// Outcome is what a job hands back when it finishes with a task.
type Outcome struct {
	Status Status
	Result any
	Flags  []Flag
}

// ListFilter narrows task listings.
type ListFilter struct {
	ClientID string
	Kind     Kind
	Status   Status
	Limit    int
}

// GapInput is a compliance gap that may warrant a QC_CHECK task.
type GapInput struct {
	ID             string
	Type           string
	Severity       string
	Title          string
	Description    string
	DocumentID     string
	PolicyID       string
	Recommendation string
}
