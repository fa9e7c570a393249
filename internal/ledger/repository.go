package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository reads bank and ledger rows from Postgres. It satisfies both
// BankFeed and LedgerSource.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// FetchBankTransactions loads statement rows booked inside the window.
func (r *Repository) FetchBankTransactions(ctx context.Context, clientID string, start, end time.Time) ([]RawBankTransaction, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, client_id, COALESCE(iban, ''), booked_on, amount::text, COALESCE(direction, ''), currency,
	COALESCE(description, ''), COALESCE(counterparty, ''), COALESCE(reference, '')
FROM bank_transactions
WHERE client_id = $1 AND booked_on BETWEEN $2 AND $3
ORDER BY booked_on, created_at, id`, clientID, start, end)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (RawBankTransaction, error) {
		var (
			tx     RawBankTransaction
			amount string
			dir    string
		)
		if err := row.Scan(&tx.ID, &tx.ClientID, &tx.IBAN, &tx.Date, &amount, &dir, &tx.Currency, &tx.Description, &tx.CounterpartyName, &tx.Reference); err != nil {
			return RawBankTransaction{}, err
		}
		if err := scanAmount(amount, dir, &tx.Amount, &tx.Direction); err != nil {
			return RawBankTransaction{}, fmt.Errorf("bank transaction %s: %w", tx.ID, err)
		}
		return tx, nil
	})
}

// FetchLedgerEntries loads ledger rows booked inside the window.
func (r *Repository) FetchLedgerEntries(ctx context.Context, clientID string, start, end time.Time) ([]RawLedgerEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, client_id, source, booking_date, COALESCE(account, ''), amount::text, COALESCE(direction, ''), currency,
	COALESCE(description, ''), COALESCE(reference, '')
FROM ledger_entries
WHERE client_id = $1 AND booking_date BETWEEN $2 AND $3
ORDER BY booking_date, created_at, id`, clientID, start, end)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (RawLedgerEntry, error) {
		var (
			entry  RawLedgerEntry
			source string
			amount string
			dir    string
		)
		if err := row.Scan(&entry.ID, &entry.ClientID, &source, &entry.BookingDate, &entry.Account, &amount, &dir, &entry.Currency, &entry.Description, &entry.Reference); err != nil {
			return RawLedgerEntry{}, err
		}
		entry.Source = Source(source)
		if err := scanAmount(amount, dir, &entry.Amount, &entry.Direction); err != nil {
			return RawLedgerEntry{}, fmt.Errorf("ledger entry %s: %w", entry.ID, err)
		}
		return entry, nil
	})
}

func scanAmount(raw, dir string, amount *decimal.Decimal, direction *Direction) error {
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return err
	}
	d, err := ParseDirection(dir)
	if err != nil {
		return err
	}
	*amount = value
	*direction = d
	return nil
}
