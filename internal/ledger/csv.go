package ledger

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const csvDateLayout = "2006-01-02"

// ParseBankCSV reads a statement export. Columns are matched by header name:
// id, date, amount and currency are required; iban, direction, description,
// counterparty and reference are optional.
func ParseBankCSV(r io.Reader) ([]RawBankTransaction, error) {
	records, cols, err := readCSV(r, "id", "date", "amount", "currency")
	if err != nil {
		return nil, fmt.Errorf("bank csv: %w", err)
	}
	out := make([]RawBankTransaction, 0, len(records))
	for i, rec := range records {
		line := i + 2
		amount, dir, date, err := parseCommon(cols, rec, "date")
		if err != nil {
			return nil, fmt.Errorf("bank csv line %d: %w", line, err)
		}
		out = append(out, RawBankTransaction{
			ID:               cols.get(rec, "id"),
			ClientID:         cols.get(rec, "client_id"),
			IBAN:             cols.get(rec, "iban"),
			Date:             date,
			Amount:           amount,
			Direction:        dir,
			Currency:         cols.get(rec, "currency"),
			Description:      cols.get(rec, "description"),
			CounterpartyName: cols.get(rec, "counterparty"),
			Reference:        cols.get(rec, "reference"),
		})
	}
	return out, nil
}

// ParseLedgerCSV reads a ledger export. Columns id, booking_date, amount and
// currency are required; source defaults to MANUAL.
func ParseLedgerCSV(r io.Reader) ([]RawLedgerEntry, error) {
	records, cols, err := readCSV(r, "id", "booking_date", "amount", "currency")
	if err != nil {
		return nil, fmt.Errorf("ledger csv: %w", err)
	}
	out := make([]RawLedgerEntry, 0, len(records))
	for i, rec := range records {
		line := i + 2
		amount, dir, date, err := parseCommon(cols, rec, "booking_date")
		if err != nil {
			return nil, fmt.Errorf("ledger csv line %d: %w", line, err)
		}
		source := Source(strings.ToUpper(cols.get(rec, "source")))
		if source == "" {
			source = SourceManual
		}
		out = append(out, RawLedgerEntry{
			ID:          cols.get(rec, "id"),
			ClientID:    cols.get(rec, "client_id"),
			Source:      source,
			BookingDate: date,
			Account:     cols.get(rec, "account"),
			Amount:      amount,
			Direction:   dir,
			Currency:    cols.get(rec, "currency"),
			Description: cols.get(rec, "description"),
			Reference:   cols.get(rec, "reference"),
		})
	}
	return out, nil
}

type columns map[string]int

func (c columns) get(rec []string, name string) string {
	idx, ok := c[name]
	if !ok || idx >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[idx])
}

func readCSV(r io.Reader, required ...string) ([][]string, columns, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, errors.New("missing header")
		}
		return nil, nil, err
	}
	cols := make(columns, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range required {
		if _, ok := cols[name]; !ok {
			return nil, nil, fmt.Errorf("missing column %q", name)
		}
	}
	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, err
	}
	return records, cols, nil
}

func parseCommon(cols columns, rec []string, dateCol string) (decimal.Decimal, Direction, time.Time, error) {
	amount, err := decimal.NewFromString(cols.get(rec, "amount"))
	if err != nil {
		return decimal.Zero, DirectionNone, time.Time{}, fmt.Errorf("amount: %w", err)
	}
	dir, err := ParseDirection(cols.get(rec, "direction"))
	if err != nil {
		return decimal.Zero, DirectionNone, time.Time{}, err
	}
	date, err := time.Parse(csvDateLayout, cols.get(rec, dateCol))
	if err != nil {
		return decimal.Zero, DirectionNone, time.Time{}, fmt.Errorf("%s: %w", dateCol, err)
	}
	return amount, dir, date, nil
}

// StaticFeed serves rows already in memory, typically parsed from uploaded
// artifacts. It satisfies both BankFeed and LedgerSource.
type StaticFeed struct {
	Bank   []RawBankTransaction
	Ledger []RawLedgerEntry
}

// NewStaticFeedFromCSV parses both artifacts into a feed.
func NewStaticFeedFromCSV(bankCSV, ledgerCSV string) (*StaticFeed, error) {
	bank, err := ParseBankCSV(strings.NewReader(bankCSV))
	if err != nil {
		return nil, err
	}
	entries, err := ParseLedgerCSV(strings.NewReader(ledgerCSV))
	if err != nil {
		return nil, err
	}
	return &StaticFeed{Bank: bank, Ledger: entries}, nil
}

// FetchBankTransactions returns the in-memory bank rows. Window filtering is
// left to the Normalizer.
func (f *StaticFeed) FetchBankTransactions(ctx context.Context, clientID string, start, end time.Time) ([]RawBankTransaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.Bank, nil
}

// FetchLedgerEntries returns the in-memory ledger rows.
func (f *StaticFeed) FetchLedgerEntries(ctx context.Context, clientID string, start, end time.Time) ([]RawLedgerEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.Ledger, nil
}
