package reconciliation

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/texttheater/golang-levenshtein/levenshtein"

	"github.com/odyssey-erp/fundops/internal/ledger"
)

// Config tunes the matching engine.
type Config struct {
	AmountTolerance       decimal.Decimal
	DateWindowDays        int
	DescriptionSimilarity float64
	RecentLimit           int
}

// DefaultConfig mirrors the production defaults: one cent, three days.
func DefaultConfig() Config {
	return Config{
		AmountTolerance:       decimal.New(1, -2),
		DateWindowDays:        3,
		DescriptionSimilarity: 0.8,
		RecentLimit:           10,
	}
}

var passThreshold = decimal.New(1, -2)

const passMatchRate = 0.95

// Engine pairs bank transactions with ledger entries and explains the
// difference between the two balances.
type Engine struct {
	cfg    Config
	logger *slog.Logger
}

// NewEngine constructs an engine. Out-of-range config values fall back to defaults.
func NewEngine(cfg Config, logger *slog.Logger) *Engine {
	def := DefaultConfig()
	if cfg.AmountTolerance.IsNegative() || cfg.AmountTolerance.IsZero() {
		cfg.AmountTolerance = def.AmountTolerance
	}
	if cfg.DateWindowDays < 0 {
		cfg.DateWindowDays = def.DateWindowDays
	}
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = def.RecentLimit
	}
	return &Engine{cfg: cfg, logger: logger}
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

type pair struct {
	bank   int
	ledger int
	pass   int
}

// Match runs the two-pass greedy matcher. The inputs are not modified and
// identical inputs always yield identical results.
func (e *Engine) Match(bank, entries []ledger.Transaction) Result {
	res := Result{
		BankBalance:        sum(bank),
		LedgerBalance:      sum(entries),
		Discrepancies:      []Discrepancy{},
		Matches:            []Match{},
		BankTotals:         totals(bank),
		LedgerTotals:       totals(entries),
		RecentTransactions: recent(bank, e.cfg.RecentLimit),
	}
	res.Discrepancy = res.BankBalance.Sub(res.LedgerBalance)

	usedLedger := make([]bool, len(entries))
	pairs := make([]*pair, len(bank))

	// Pass 1: amount within tolerance, date within window. Nearest date
	// wins, then ledger order.
	for i, b := range bank {
		best, bestDays := -1, 0
		for j, l := range entries {
			if usedLedger[j] {
				continue
			}
			if b.Amount.Sub(l.Amount).Abs().GreaterThan(e.cfg.AmountTolerance) {
				continue
			}
			days := absInt(dateDelta(b, l))
			if days > e.cfg.DateWindowDays {
				continue
			}
			if best == -1 || days < bestDays {
				best, bestDays = j, days
			}
		}
		if best >= 0 {
			usedLedger[best] = true
			pairs[i] = &pair{bank: i, ledger: best, pass: 1}
		}
	}

	// Pass 2: same event booked with a different amount. Requires a shared
	// reference or a similar description inside the date window.
	for i, b := range bank {
		if pairs[i] != nil {
			continue
		}
		best, bestRef, bestSim, bestDays := -1, false, 0.0, 0
		for j, l := range entries {
			if usedLedger[j] {
				continue
			}
			days := absInt(dateDelta(b, l))
			if days > e.cfg.DateWindowDays {
				continue
			}
			ref := sameReference(b, l)
			sim := Similarity(b.Description, l.Description)
			if !ref && (e.cfg.DescriptionSimilarity <= 0 || sim < e.cfg.DescriptionSimilarity) {
				continue
			}
			if best == -1 || better(ref, sim, days, bestRef, bestSim, bestDays) {
				best, bestRef, bestSim, bestDays = j, ref, sim, days
			}
		}
		if best >= 0 {
			usedLedger[best] = true
			pairs[i] = &pair{bank: i, ledger: best, pass: 2}
		}
	}

	matched := 0
	for i, b := range bank {
		p := pairs[i]
		if p == nil {
			res.Discrepancies = append(res.Discrepancies, Discrepancy{
				Type:              DiscrepancyMissing,
				BankTransactionID: b.ID,
				AmountDelta:       b.Amount,
				Description:       fmt.Sprintf("bank transaction %s (%s on %s) has no ledger entry", b.ID, b.Amount.StringFixed(2), b.Date.Format("2006-01-02")),
			})
			continue
		}
		l := entries[p.ledger]
		delta := b.Amount.Sub(l.Amount)
		days := dateDelta(b, l)
		res.Matches = append(res.Matches, Match{
			BankTransactionID: b.ID,
			LedgerEntryID:     l.ID,
			Confidence:        e.confidence(b, l),
			MatchedOn:         e.matchedOn(b, l),
		})
		if p.pass == 2 {
			res.Discrepancies = append(res.Discrepancies, Discrepancy{
				Type:              DiscrepancyIncorrectAmount,
				BankTransactionID: b.ID,
				LedgerEntryID:     l.ID,
				AmountDelta:       delta,
				DateDeltaDays:     days,
				Description:       fmt.Sprintf("bank %s vs ledger %s differ by %s", b.Amount.StringFixed(2), l.Amount.StringFixed(2), delta.StringFixed(2)),
			})
			continue
		}
		matched++
		switch {
		case !delta.IsZero():
			res.Discrepancies = append(res.Discrepancies, Discrepancy{
				Type:              DiscrepancyRounding,
				BankTransactionID: b.ID,
				LedgerEntryID:     l.ID,
				AmountDelta:       delta,
				DateDeltaDays:     days,
				Description:       fmt.Sprintf("amounts differ by %s within tolerance", delta.String()),
			})
		case days != 0:
			res.Discrepancies = append(res.Discrepancies, Discrepancy{
				Type:              DiscrepancyTiming,
				BankTransactionID: b.ID,
				LedgerEntryID:     l.ID,
				AmountDelta:       decimal.Zero,
				DateDeltaDays:     days,
				Description:       fmt.Sprintf("booked %d day(s) apart (bank %s, ledger %s)", absInt(days), b.Date.Format("2006-01-02"), l.Date.Format("2006-01-02")),
			})
		}
	}

	for j, l := range entries {
		if usedLedger[j] {
			continue
		}
		res.Discrepancies = append(res.Discrepancies, Discrepancy{
			Type:          DiscrepancyMissing,
			LedgerEntryID: l.ID,
			AmountDelta:   l.Amount.Neg(),
			Description:   fmt.Sprintf("ledger entry %s (%s on %s) has no bank transaction", l.ID, l.Amount.StringFixed(2), l.Date.Format("2006-01-02")),
		})
	}

	switch {
	case len(bank) > 0:
		res.MatchRate = round4(float64(matched) / float64(len(bank)))
	case len(entries) == 0:
		res.MatchRate = 1
	}
	res.Status = StatusReviewRequired
	if res.Discrepancy.Abs().LessThan(passThreshold) && res.MatchRate > passMatchRate {
		res.Status = StatusPassed
	}
	e.log().Debug("match complete",
		slog.Int("bank", len(bank)),
		slog.Int("ledger", len(entries)),
		slog.Int("matched", matched),
		slog.Int("discrepancies", len(res.Discrepancies)),
		slog.String("discrepancy", res.Discrepancy.String()),
	)
	return res
}

func (e *Engine) log() *slog.Logger {
	if e.logger != nil {
		return e.logger.With(slog.String("component", "recon_engine"))
	}
	return slog.Default().With(slog.String("component", "recon_engine"))
}

// Verify checks that the discrepancy records add up to the difference
// between the two balances.
func Verify(res Result) error {
	expected := res.BankBalance.Sub(res.LedgerBalance)
	if !expected.Equal(res.Discrepancy) {
		return fmt.Errorf("%w: discrepancy %s, balances differ by %s", ErrUnreconciled, res.Discrepancy, expected)
	}
	explained := decimal.Zero
	for _, d := range res.Discrepancies {
		explained = explained.Add(d.AmountDelta)
	}
	if !explained.Equal(res.Discrepancy) {
		return fmt.Errorf("%w: explained %s of %s", ErrUnreconciled, explained, res.Discrepancy)
	}
	return nil
}

// Similarity returns a 0..1 Levenshtein ratio of two descriptions. Empty
// descriptions never match; containment counts as a full match.
func Similarity(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == "" || b == "" {
		return 0
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return 1
	}
	return levenshtein.RatioForStrings([]rune(a), []rune(b), levenshtein.DefaultOptions)
}

func (e *Engine) confidence(b, l ledger.Transaction) float64 {
	score := 0.0
	if !b.Amount.Sub(l.Amount).Abs().GreaterThan(e.cfg.AmountTolerance) {
		score += 0.4
	}
	days := absInt(dateDelta(b, l))
	if days <= e.cfg.DateWindowDays {
		if e.cfg.DateWindowDays == 0 {
			score += 0.3
		} else {
			score += 0.3 * (1 - float64(days)/float64(e.cfg.DateWindowDays))
		}
	}
	if sim := Similarity(b.Description, l.Description); sim > 0.5 {
		score += 0.3 * sim
	}
	return round4(score)
}

func (e *Engine) matchedOn(b, l ledger.Transaction) []string {
	on := make([]string, 0, 4)
	if !b.Amount.Sub(l.Amount).Abs().GreaterThan(e.cfg.AmountTolerance) {
		on = append(on, "amount")
	}
	if absInt(dateDelta(b, l)) <= e.cfg.DateWindowDays {
		on = append(on, "date")
	}
	if Similarity(b.Description, l.Description) > 0.5 {
		on = append(on, "description")
	}
	if sameReference(b, l) {
		on = append(on, "reference")
	}
	return on
}

func better(ref bool, sim float64, days int, bestRef bool, bestSim float64, bestDays int) bool {
	if ref != bestRef {
		return ref
	}
	if sim != bestSim {
		return sim > bestSim
	}
	return days < bestDays
}

func sameReference(b, l ledger.Transaction) bool {
	return b.Reference != "" && strings.EqualFold(b.Reference, l.Reference)
}

// dateDelta is bank date minus ledger date in whole days.
func dateDelta(b, l ledger.Transaction) int {
	return int(math.Round(ledger.Day(b.Date).Sub(ledger.Day(l.Date)).Hours() / 24))
}

func sum(txs []ledger.Transaction) decimal.Decimal {
	total := decimal.Zero
	for _, tx := range txs {
		total = total.Add(tx.Amount)
	}
	return total
}

func totals(txs []ledger.Transaction) Totals {
	t := Totals{Credits: decimal.Zero, Debits: decimal.Zero, Balance: decimal.Zero, Count: len(txs)}
	for _, tx := range txs {
		if tx.Amount.IsNegative() {
			t.Debits = t.Debits.Add(tx.Amount.Abs())
		} else {
			t.Credits = t.Credits.Add(tx.Amount)
		}
		t.Balance = t.Balance.Add(tx.Amount)
	}
	return t
}

func recent(txs []ledger.Transaction, limit int) []ledger.Transaction {
	out := make([]ledger.Transaction, len(txs))
	copy(out, txs)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].Seq > out[j].Seq
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
