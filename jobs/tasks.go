package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskBankRecon runs a bank reconciliation for a BANK_RECON task record.
	TaskBankRecon = "recon:bank"
	// TaskComplianceCheck evaluates one document against one or all active policies.
	TaskComplianceCheck = "compliance:check"
	// TaskComplianceSweep checks every indexed document, optionally per client.
	TaskComplianceSweep = "compliance:sweep"
	// TaskIdempotencyCleanup prunes expired Idempotency-Key records.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// BankReconPayload references the task record holding the reconciliation request.
type BankReconPayload struct {
	TaskID string `json:"task_id"`
}

// ComplianceCheckPayload identifies the document (and optionally the policy)
// to evaluate. TaskID links the run back to a COMPLIANCE_CHECK task when set.
type ComplianceCheckPayload struct {
	DocumentID string `json:"document_id"`
	PolicyID   string `json:"policy_id,omitempty"`
	TaskID     string `json:"task_id,omitempty"`
}

// ComplianceSweepPayload scopes the nightly sweep.
type ComplianceSweepPayload struct {
	ClientID string `json:"client_id,omitempty"`
}

// NewBankReconTask constructs an Asynq task.
func NewBankReconTask(payload BankReconPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBankRecon, data), nil
}

// NewComplianceCheckTask constructs an Asynq task.
func NewComplianceCheckTask(payload ComplianceCheckPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskComplianceCheck, data), nil
}

// NewComplianceSweepTask constructs the sweep task used by the scheduler.
func NewComplianceSweepTask(clientID string) (*asynq.Task, error) {
	data, err := json.Marshal(ComplianceSweepPayload{ClientID: clientID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskComplianceSweep, data), nil
}
