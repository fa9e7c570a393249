package ledger

import (
	"context"
	"time"
)

// BankFeed yields bank-statement rows for a client and window.
//
//go:generate mockgen -destination=mocks/mock_ports.go -package=mocks -source=ports.go BankFeed,LedgerSource
type BankFeed interface {
	FetchBankTransactions(ctx context.Context, clientID string, start, end time.Time) ([]RawBankTransaction, error)
}

// LedgerSource yields booked ledger entries for a client and window.
type LedgerSource interface {
	FetchLedgerEntries(ctx context.Context, clientID string, start, end time.Time) ([]RawLedgerEntry, error)
}
