package ledger

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Source identifies the upstream system a ledger entry was booked in.
type Source string

const (
	SourceFortnox Source = "FORTNOX"
	SourceAllvue  Source = "ALLVUE"
	SourceBank    Source = "BANK"
	SourceSKV     Source = "SKV"
	SourceFI      Source = "FI"
	SourceSigma   Source = "SIGMA"
	SourceManual  Source = "MANUAL"
)

// Side tells which set a normalized transaction belongs to.
type Side string

const (
	SideBank   Side = "BANK"
	SideLedger Side = "LEDGER"
)

// Direction is the optional cash-flow indicator carried by upstream rows.
type Direction string

const (
	DirectionNone   Direction = ""
	DirectionCredit Direction = "CREDIT"
	DirectionDebit  Direction = "DEBIT"
)

// ParseDirection accepts the long form and the ISO 20022 codes (CRDT/DBIT).
func ParseDirection(raw string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "":
		return DirectionNone, nil
	case "CREDIT", "CRDT", "CR", "C":
		return DirectionCredit, nil
	case "DEBIT", "DBIT", "DR", "D":
		return DirectionDebit, nil
	default:
		return DirectionNone, errors.New("ledger: unknown direction " + raw)
	}
}

var (
	// ErrDataUnavailable is returned when an upstream feed cannot be read.
	// It is distinct from an empty result set.
	ErrDataUnavailable = errors.New("ledger: data unavailable")
	// ErrMixedCurrency is returned when a set cannot be reduced to one currency.
	ErrMixedCurrency = errors.New("ledger: mixed currency")
	// ErrInvalidCurrency flags a code that is not ISO 4217.
	ErrInvalidCurrency = errors.New("ledger: invalid currency")
	// ErrInvalidRequest flags a malformed fetch request.
	ErrInvalidRequest = errors.New("ledger: invalid request")
)

// RawBankTransaction is a bank feed row before normalization.
type RawBankTransaction struct {
	ID               string
	ClientID         string
	IBAN             string
	Date             time.Time
	Amount           decimal.Decimal
	Direction        Direction
	Currency         string
	Description      string
	CounterpartyName string
	Reference        string
}

// RawLedgerEntry is an accounting system row before normalization.
type RawLedgerEntry struct {
	ID          string
	ClientID    string
	Source      Source
	BookingDate time.Time
	Account     string
	Amount      decimal.Decimal
	Direction   Direction
	Currency    string
	Description string
	Reference   string
}

// Transaction is the normalized form consumed by the matching engine.
type Transaction struct {
	ID          string          `json:"id"`
	Side        Side            `json:"side"`
	Source      Source          `json:"source,omitempty"`
	ClientID    string          `json:"clientId"`
	Date        time.Time       `json:"date"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Description string          `json:"description,omitempty"`
	Reference   string          `json:"reference,omitempty"`
	Account     string          `json:"account,omitempty"`
	Seq         int             `json:"seq"`
}

// Sets carries both normalized sides for one client and period.
type Sets struct {
	Currency string        `json:"currency"`
	Bank     []Transaction `json:"bank"`
	Ledger   []Transaction `json:"ledger"`
}

// Request scopes a fetch to a client and an inclusive booking-date window.
type Request struct {
	ClientID    string    `json:"clientId" validate:"required"`
	PeriodStart time.Time `json:"periodStart" validate:"required"`
	PeriodEnd   time.Time `json:"periodEnd" validate:"required"`
	Currency    string    `json:"currency,omitempty"`
}

// Validate ensures the request can be served.
func (r Request) Validate() error {
	if strings.TrimSpace(r.ClientID) == "" {
		return errors.Join(ErrInvalidRequest, errors.New("client id required"))
	}
	if r.PeriodStart.IsZero() || r.PeriodEnd.IsZero() {
		return errors.Join(ErrInvalidRequest, errors.New("period bounds required"))
	}
	if Day(r.PeriodEnd).Before(Day(r.PeriodStart)) {
		return errors.Join(ErrInvalidRequest, errors.New("period end before start"))
	}
	return nil
}

// Day truncates t to its UTC calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
