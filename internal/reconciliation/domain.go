package reconciliation

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fundops/internal/ledger"
)

// DiscrepancyType classifies an explained difference between the two sides.
type DiscrepancyType string

const (
	// DiscrepancyMissing marks an entry with no counterpart on the other side.
	DiscrepancyMissing DiscrepancyType = "MISSING_TRANSACTION"
	// DiscrepancyRounding marks a pair whose amounts differ within tolerance.
	DiscrepancyRounding DiscrepancyType = "ROUNDING_ERROR"
	// DiscrepancyTiming marks a pair with equal amounts booked on different days.
	DiscrepancyTiming DiscrepancyType = "TIMING_DIFFERENCE"
	// DiscrepancyIncorrectAmount marks a pair whose amounts differ beyond tolerance.
	DiscrepancyIncorrectAmount DiscrepancyType = "INCORRECT_AMOUNT"
)

// Status summarises whether a run needs a human.
type Status string

const (
	StatusPassed         Status = "PASSED"
	StatusReviewRequired Status = "REVIEW_REQUIRED"
)

var (
	// ErrUnreconciled means the discrepancy records do not add up to the
	// bank/ledger difference.
	ErrUnreconciled = errors.New("reconciliation: records do not explain discrepancy")
)

// Discrepancy is one explained difference. AmountDelta is always
// bankAmount - ledgerAmount with a missing side counted as zero.
type Discrepancy struct {
	Type              DiscrepancyType `json:"type"`
	BankTransactionID string          `json:"bankTransactionId,omitempty"`
	LedgerEntryID     string          `json:"ledgerEntryId,omitempty"`
	AmountDelta       decimal.Decimal `json:"amountDelta"`
	DateDeltaDays     int             `json:"dateDeltaDays"`
	Description       string          `json:"description"`
}

// Match is a bank/ledger pairing with its confidence score.
type Match struct {
	BankTransactionID string   `json:"bankTransactionId"`
	LedgerEntryID     string   `json:"ledgerEntryId"`
	Confidence        float64  `json:"confidence"`
	MatchedOn         []string `json:"matchedOn"`
}

// Totals aggregates one side of the run.
type Totals struct {
	Credits decimal.Decimal `json:"credits"`
	Debits  decimal.Decimal `json:"debits"`
	Balance decimal.Decimal `json:"balance"`
	Count   int             `json:"count"`
}

// Result is the outcome of one reconciliation run.
type Result struct {
	ClientID           string               `json:"clientId,omitempty"`
	PeriodStart        time.Time            `json:"periodStart,omitempty"`
	PeriodEnd          time.Time            `json:"periodEnd,omitempty"`
	Currency           string               `json:"currency,omitempty"`
	BankBalance        decimal.Decimal      `json:"bankBalance"`
	LedgerBalance      decimal.Decimal      `json:"ledgerBalance"`
	Discrepancy        decimal.Decimal      `json:"discrepancy"`
	Discrepancies      []Discrepancy        `json:"discrepancies"`
	Matches            []Match              `json:"matches"`
	MatchRate          float64              `json:"matchRate"`
	Status             Status               `json:"status"`
	BankTotals         Totals               `json:"bankTotals"`
	LedgerTotals       Totals               `json:"ledgerTotals"`
	RecentTransactions []ledger.Transaction `json:"recentTransactions"`
	GeneratedAt        time.Time            `json:"generatedAt,omitempty"`
}

// CountByType tallies discrepancy records per type.
func (r Result) CountByType() map[DiscrepancyType]int {
	out := make(map[DiscrepancyType]int)
	for _, d := range r.Discrepancies {
		out[d.Type]++
	}
	return out
}
