package tasks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Payload is implemented by every kind-specific payload variant.
type Payload interface {
	Kind() Kind
}

// ReconArtifacts carries uploaded statement exports for a reconciliation
// that should not read from the bank feed.
type ReconArtifacts struct {
	BankCSV   string `json:"bankCsv" validate:"required"`
	LedgerCSV string `json:"ledgerCsv" validate:"required"`
}

// BankReconPayload requests a reconciliation for a period.
type BankReconPayload struct {
	PeriodStart time.Time       `json:"periodStart" validate:"required"`
	PeriodEnd   time.Time       `json:"periodEnd" validate:"required,gtefield=PeriodStart"`
	Currency    string          `json:"currency,omitempty" validate:"omitempty,len=3,alpha"`
	Artifacts   *ReconArtifacts `json:"artifacts,omitempty"`
}

// Kind implements Payload.
func (BankReconPayload) Kind() Kind { return KindBankRecon }

// KYCReviewPayload requests a review of an investor file.
type KYCReviewPayload struct {
	InvestorID string `json:"investorId" validate:"required"`
	Notes      string `json:"notes,omitempty"`
}

// Kind implements Payload.
func (KYCReviewPayload) Kind() Kind { return KindKYCReview }

// DefaultReportType is used when a REPORT_DRAFT omits its type.
const DefaultReportType = "FUND_ACCOUNTING"

// ReportDraftPayload requests a periodic report draft.
type ReportDraftPayload struct {
	ReportType  string     `json:"reportType" validate:"required"`
	PeriodStart *time.Time `json:"periodStart,omitempty"`
	PeriodEnd   *time.Time `json:"periodEnd,omitempty"`
}

// Kind implements Payload.
func (ReportDraftPayload) Kind() Kind { return KindReportDraft }

// ComplianceCheckPayload requests a document check against one policy, or
// every active policy when PolicyID is empty.
type ComplianceCheckPayload struct {
	DocumentID string `json:"documentId" validate:"required"`
	PolicyID   string `json:"policyId,omitempty"`
}

// Kind implements Payload.
func (ComplianceCheckPayload) Kind() Kind { return KindComplianceCheck }

// QCCheckPayload points a reviewer at a compliance gap.
type QCCheckPayload struct {
	GapID      string `json:"gapId,omitempty"`
	GapType    string `json:"gapType" validate:"required"`
	Severity   string `json:"severity" validate:"required,oneof=high medium low"`
	DocumentID string `json:"documentId,omitempty"`
	PolicyID   string `json:"policyId,omitempty"`
}

// Kind implements Payload.
func (QCCheckPayload) Kind() Kind { return KindQCCheck }

// DecodePayload parses raw JSON into the variant for kind, applies defaults
// and validates it.
func DecodePayload(kind Kind, raw json.RawMessage) (Payload, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		raw = json.RawMessage("{}")
	}
	var (
		payload Payload
		err     error
	)
	switch kind {
	case KindBankRecon:
		var p BankReconPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	case KindKYCReview:
		var p KYCReviewPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	case KindReportDraft:
		var p ReportDraftPayload
		err = json.Unmarshal(raw, &p)
		if p.ReportType == "" {
			p.ReportType = DefaultReportType
		}
		payload = p
	case KindComplianceCheck:
		var p ComplianceCheckPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	case KindQCCheck:
		var p QCCheckPayload
		err = json.Unmarshal(raw, &p)
		payload = p
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if err := validate.Struct(payload); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	return payload, nil
}
