package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/currency"
)

// Normalizer turns raw feed rows into comparable transaction sets.
type Normalizer struct {
	bank   BankFeed
	ledger LedgerSource
	logger *slog.Logger
}

// NewNormalizer wires the upstream ports.
func NewNormalizer(bank BankFeed, ledger LedgerSource, logger *slog.Logger) *Normalizer {
	return &Normalizer{bank: bank, ledger: ledger, logger: logger}
}

// Fetch reads both sides concurrently and normalizes them. An upstream
// failure is reported as ErrDataUnavailable; an empty window is not an error.
func (n *Normalizer) Fetch(ctx context.Context, req Request) (Sets, error) {
	if err := req.Validate(); err != nil {
		return Sets{}, err
	}
	if n.bank == nil || n.ledger == nil {
		return Sets{}, fmt.Errorf("%w: feeds not configured", ErrDataUnavailable)
	}
	start, end := Day(req.PeriodStart), Day(req.PeriodEnd)

	var (
		rawBank   []RawBankTransaction
		rawLedger []RawLedgerEntry
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := n.bank.FetchBankTransactions(gctx, req.ClientID, start, end)
		if err != nil {
			return fmt.Errorf("%w: bank feed: %w", ErrDataUnavailable, err)
		}
		rawBank = rows
		return nil
	})
	g.Go(func() error {
		rows, err := n.ledger.FetchLedgerEntries(gctx, req.ClientID, start, end)
		if err != nil {
			return fmt.Errorf("%w: ledger source: %w", ErrDataUnavailable, err)
		}
		rawLedger = rows
		return nil
	})
	if err := g.Wait(); err != nil {
		n.log().Warn("fetch failed", slog.String("client_id", req.ClientID), slog.Any("error", err))
		return Sets{}, err
	}

	bank := make([]Transaction, 0, len(rawBank))
	for _, row := range rawBank {
		if row.ClientID != "" && row.ClientID != req.ClientID {
			continue
		}
		tx, err := normalizeRow(row.ID, SideBank, SourceBank, req.ClientID, row.Date, row.Amount, row.Direction, row.Currency)
		if err != nil {
			return Sets{}, fmt.Errorf("bank row %s: %w", row.ID, err)
		}
		if !inWindow(tx.Date, start, end) {
			continue
		}
		tx.Description = strings.TrimSpace(row.Description)
		if tx.Description == "" {
			tx.Description = strings.TrimSpace(row.CounterpartyName)
		}
		tx.Reference = strings.TrimSpace(row.Reference)
		tx.Account = row.IBAN
		tx.Seq = len(bank)
		bank = append(bank, tx)
	}

	entries := make([]Transaction, 0, len(rawLedger))
	for _, row := range rawLedger {
		if row.ClientID != "" && row.ClientID != req.ClientID {
			continue
		}
		tx, err := normalizeRow(row.ID, SideLedger, row.Source, req.ClientID, row.BookingDate, row.Amount, row.Direction, row.Currency)
		if err != nil {
			return Sets{}, fmt.Errorf("ledger row %s: %w", row.ID, err)
		}
		if !inWindow(tx.Date, start, end) {
			continue
		}
		tx.Description = strings.TrimSpace(row.Description)
		tx.Reference = strings.TrimSpace(row.Reference)
		tx.Account = row.Account
		tx.Seq = len(entries)
		entries = append(entries, tx)
	}

	code, err := commonCurrency(req.Currency, bank, entries)
	if err != nil {
		return Sets{}, err
	}

	n.log().Debug("normalized sets",
		slog.String("client_id", req.ClientID),
		slog.Int("bank", len(bank)),
		slog.Int("ledger", len(entries)),
	)
	return Sets{Currency: code, Bank: bank, Ledger: entries}, nil
}

func (n *Normalizer) log() *slog.Logger {
	if n.logger != nil {
		return n.logger.With(slog.String("component", "ledger_normalizer"))
	}
	return slog.Default().With(slog.String("component", "ledger_normalizer"))
}

func normalizeRow(id string, side Side, source Source, clientID string, date time.Time, amount decimal.Decimal, dir Direction, code string) (Transaction, error) {
	unit, err := ParseCurrency(code)
	if err != nil {
		return Transaction{}, err
	}
	switch dir {
	case DirectionCredit:
		amount = amount.Abs()
	case DirectionDebit:
		amount = amount.Abs().Neg()
	}
	return Transaction{
		ID:       id,
		Side:     side,
		Source:   source,
		ClientID: clientID,
		Date:     Day(date),
		Amount:   RoundAmount(amount, unit),
		Currency: unit.String(),
	}, nil
}

// ParseCurrency validates an ISO 4217 code.
func ParseCurrency(code string) (currency.Unit, error) {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return currency.Unit{}, fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
	}
	return unit, nil
}

// RoundAmount rounds to the currency's standard minor-unit scale.
func RoundAmount(amount decimal.Decimal, unit currency.Unit) decimal.Decimal {
	scale, _ := currency.Standard.Rounding(unit)
	return amount.Round(int32(scale))
}

func inWindow(day, start, end time.Time) bool {
	return !day.Before(start) && !day.After(end)
}

func commonCurrency(requested string, sets ...[]Transaction) (string, error) {
	code := ""
	if strings.TrimSpace(requested) != "" {
		unit, err := ParseCurrency(requested)
		if err != nil {
			return "", err
		}
		code = unit.String()
	}
	for _, set := range sets {
		for _, tx := range set {
			if code == "" {
				code = tx.Currency
				continue
			}
			if tx.Currency != code {
				return "", fmt.Errorf("%w: %s and %s (%s)", ErrMixedCurrency, code, tx.Currency, tx.ID)
			}
		}
	}
	return code, nil
}
