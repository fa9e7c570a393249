package reconciliation

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/fundops/internal/ledger"
)

var base = time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)

func bankTx(id string, amount string, dayOffset int, desc string) ledger.Transaction {
	return ledger.Transaction{ID: id, Side: ledger.SideBank, Date: base.AddDate(0, 0, dayOffset), Amount: decimal.RequireFromString(amount), Currency: "SEK", Description: desc}
}

func ledgerTx(id string, amount string, dayOffset int, desc string) ledger.Transaction {
	return ledger.Transaction{ID: id, Side: ledger.SideLedger, Date: base.AddDate(0, 0, dayOffset), Amount: decimal.RequireFromString(amount), Currency: "SEK", Description: desc}
}

func withSeq(txs ...ledger.Transaction) []ledger.Transaction {
	for i := range txs {
		txs[i].Seq = i
	}
	return txs
}

func TestMatchExact(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil)
	res := e.Match(withSeq(bankTx("b1", "100.00", 0, "")), withSeq(ledgerTx("l1", "100.00", 0, "")))
	if !res.Discrepancy.IsZero() {
		t.Fatalf("expected zero discrepancy, got %s", res.Discrepancy)
	}
	if len(res.Discrepancies) != 0 {
		t.Fatalf("expected no discrepancy records, got %d", len(res.Discrepancies))
	}
	if len(res.Matches) != 1 || res.Matches[0].LedgerEntryID != "l1" {
		t.Fatalf("expected b1 matched to l1, got %+v", res.Matches)
	}
	if res.Status != StatusPassed {
		t.Fatalf("expected PASSED, got %s", res.Status)
	}
	if res.MatchRate != 1 {
		t.Fatalf("expected match rate 1, got %f", res.MatchRate)
	}
}

func TestMatchTimingDifference(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil)
	res := e.Match(withSeq(bankTx("b1", "100", 0, "")), withSeq(ledgerTx("l1", "100", 2, "")))
	if len(res.Discrepancies) != 1 {
		t.Fatalf("expected 1 record, got %d", len(res.Discrepancies))
	}
	d := res.Discrepancies[0]
	if d.Type != DiscrepancyTiming {
		t.Fatalf("expected TIMING_DIFFERENCE, got %s", d.Type)
	}
	if d.DateDeltaDays != -2 {
		t.Fatalf("expected -2 day delta, got %d", d.DateDeltaDays)
	}
	if !res.Discrepancy.IsZero() {
		t.Fatalf("expected zero discrepancy, got %s", res.Discrepancy)
	}
}

func TestMatchOutsideWindowIsMissing(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil)
	res := e.Match(withSeq(bankTx("b1", "100", 0, "")), withSeq(ledgerTx("l1", "100", 4, "")))
	counts := res.CountByType()
	if counts[DiscrepancyMissing] != 2 {
		t.Fatalf("expected both sides missing, got %+v", counts)
	}
	if err := Verify(res); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestMatchMissingTransaction(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil)
	res := e.Match(withSeq(bankTx("b1", "100", 0, "")), nil)
	if len(res.Discrepancies) != 1 || res.Discrepancies[0].Type != DiscrepancyMissing {
		t.Fatalf("expected one MISSING_TRANSACTION, got %+v", res.Discrepancies)
	}
	if !res.Discrepancy.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected discrepancy 100, got %s", res.Discrepancy)
	}
	if res.Discrepancies[0].BankTransactionID != "b1" {
		t.Fatalf("expected bank id b1, got %q", res.Discrepancies[0].BankTransactionID)
	}
	if res.Status != StatusReviewRequired {
		t.Fatalf("expected REVIEW_REQUIRED, got %s", res.Status)
	}
}

func TestMatchMissingBankSide(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil)
	res := e.Match(nil, withSeq(ledgerTx("l1", "50", 0, "")))
	if len(res.Discrepancies) != 1 {
		t.Fatalf("expected 1 record, got %d", len(res.Discrepancies))
	}
	d := res.Discrepancies[0]
	if d.LedgerEntryID != "l1" || !d.AmountDelta.Equal(decimal.NewFromInt(-50)) {
		t.Fatalf("unexpected record %+v", d)
	}
	if err := Verify(res); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestMatchRoundingError(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil)
	res := e.Match(withSeq(bankTx("b1", "100.00", 0, "")), withSeq(ledgerTx("l1", "99.99", 1, "")))
	if len(res.Discrepancies) != 1 || res.Discrepancies[0].Type != DiscrepancyRounding {
		t.Fatalf("expected one ROUNDING_ERROR, got %+v", res.Discrepancies)
	}
	if !res.Discrepancies[0].AmountDelta.Equal(decimal.RequireFromString("0.01")) {
		t.Fatalf("expected delta 0.01, got %s", res.Discrepancies[0].AmountDelta)
	}
}

func TestMatchIncorrectAmount(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil)
	res := e.Match(
		withSeq(bankTx("b1", "-1250.00", 0, "Acme Fund Services invoice 1001")),
		withSeq(ledgerTx("l1", "-1205.00", 1, "Acme Fund Services invoice 1001")),
	)
	if len(res.Discrepancies) != 1 || res.Discrepancies[0].Type != DiscrepancyIncorrectAmount {
		t.Fatalf("expected one INCORRECT_AMOUNT, got %+v", res.Discrepancies)
	}
	if !res.Discrepancies[0].AmountDelta.Equal(decimal.NewFromInt(-45)) {
		t.Fatalf("expected delta -45, got %s", res.Discrepancies[0].AmountDelta)
	}
	if res.MatchRate != 0 {
		t.Fatalf("incorrect amounts should not count as matched, got %f", res.MatchRate)
	}
	if err := Verify(res); err != nil {
		t.Fatalf("verify: %v", err)
	}
}

func TestMatchIncorrectAmountByReference(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil)
	b := bankTx("b1", "500", 0, "SEPA transfer")
	b.Reference = "OCR-778"
	l := ledgerTx("l1", "550", 0, "Subscription")
	l.Reference = "ocr-778"
	res := e.Match(withSeq(b), withSeq(l))
	if len(res.Discrepancies) != 1 || res.Discrepancies[0].Type != DiscrepancyIncorrectAmount {
		t.Fatalf("expected INCORRECT_AMOUNT via reference, got %+v", res.Discrepancies)
	}
}

func TestMatchPrefersNearestDateThenEntryOrder(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil)
	res := e.Match(
		withSeq(bankTx("b1", "100", 0, "")),
		withSeq(ledgerTx("l1", "100", 2, ""), ledgerTx("l2", "100", -1, "")),
	)
	if res.Matches[0].LedgerEntryID != "l2" {
		t.Fatalf("expected nearest ledger l2, got %s", res.Matches[0].LedgerEntryID)
	}

	res = e.Match(
		withSeq(bankTx("b1", "100", 0, "")),
		withSeq(ledgerTx("l1", "100", 1, ""), ledgerTx("l2", "100", -1, "")),
	)
	if res.Matches[0].LedgerEntryID != "l1" {
		t.Fatalf("expected first ledger l1 on tie, got %s", res.Matches[0].LedgerEntryID)
	}
}

func TestMatchEmptyInputs(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil)
	res := e.Match(nil, nil)
	if len(res.Discrepancies) != 0 {
		t.Fatalf("expected no records, got %d", len(res.Discrepancies))
	}
	if !res.Discrepancy.IsZero() {
		t.Fatalf("expected zero discrepancy, got %s", res.Discrepancy)
	}
}

func TestMatchIsIdempotent(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil)
	bank := withSeq(bankTx("b1", "100", 0, "Rent"), bankTx("b2", "-20", 1, "Fee"), bankTx("b3", "7", 2, ""))
	entries := withSeq(ledgerTx("l1", "100", 1, "Rent"), ledgerTx("l2", "-20.01", 1, "Fee"))
	first := e.Match(bank, entries)
	second := e.Match(bank, entries)
	if len(first.Discrepancies) != len(second.Discrepancies) {
		t.Fatalf("non-deterministic record count %d vs %d", len(first.Discrepancies), len(second.Discrepancies))
	}
	for i := range first.Discrepancies {
		a, b := first.Discrepancies[i], second.Discrepancies[i]
		if a.Type != b.Type || a.BankTransactionID != b.BankTransactionID || a.LedgerEntryID != b.LedgerEntryID || !a.AmountDelta.Equal(b.AmountDelta) {
			t.Fatalf("record %d differs: %+v vs %+v", i, a, b)
		}
	}
}

func TestVerifyDetectsUnexplainedDifference(t *testing.T) {
	e := NewEngine(DefaultConfig(), nil)
	res := e.Match(withSeq(bankTx("b1", "100", 0, "")), nil)
	res.Discrepancies = nil
	if err := Verify(res); !errors.Is(err, ErrUnreconciled) {
		t.Fatalf("expected ErrUnreconciled, got %v", err)
	}
}

func TestRecentTransactionsNewestFirst(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RecentLimit = 2
	e := NewEngine(cfg, nil)
	res := e.Match(withSeq(bankTx("b1", "1", 0, ""), bankTx("b2", "2", 5, ""), bankTx("b3", "3", 3, "")), nil)
	if len(res.RecentTransactions) != 2 {
		t.Fatalf("expected 2 recent transactions, got %d", len(res.RecentTransactions))
	}
	if res.RecentTransactions[0].ID != "b2" || res.RecentTransactions[1].ID != "b3" {
		t.Fatalf("unexpected order %s, %s", res.RecentTransactions[0].ID, res.RecentTransactions[1].ID)
	}
}

func TestSimilarity(t *testing.T) {
	if Similarity("", "rent") != 0 {
		t.Fatalf("empty description must not match")
	}
	if Similarity("Rent March", "rent") != 1 {
		t.Fatalf("containment should be a full match")
	}
	if s := Similarity("management fee", "managment fee"); s < 0.8 {
		t.Fatalf("expected high similarity, got %f", s)
	}
}
