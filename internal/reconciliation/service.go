package reconciliation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	jobmetrics "github.com/odyssey-erp/fundops/internal/jobs"
	"github.com/odyssey-erp/fundops/internal/ledger"
	"github.com/odyssey-erp/fundops/internal/shared"
)

// AuditRecorder stores an audit trail entry per run.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service fetches both sides of a period and runs the matching engine.
type Service struct {
	normalizer *ledger.Normalizer
	engine     *Engine
	metrics    *jobmetrics.Metrics
	audit      AuditRecorder
	logger     *slog.Logger
	base       string
	now        func() time.Time
}

// NewService builds the service. metrics and audit may be nil.
func NewService(bank ledger.BankFeed, entries ledger.LedgerSource, engine *Engine, metrics *jobmetrics.Metrics, audit AuditRecorder, logger *slog.Logger) *Service {
	if engine == nil {
		engine = NewEngine(DefaultConfig(), logger)
	}
	return &Service{
		normalizer: ledger.NewNormalizer(bank, entries, logger),
		engine:     engine,
		metrics:    metrics,
		audit:      audit,
		logger:     logger,
		now:        time.Now,
	}
}

// WithBaseCurrency sets the currency reported for runs whose request and
// sets carry none.
func (s *Service) WithBaseCurrency(code string) *Service {
	s.base = strings.ToUpper(strings.TrimSpace(code))
	return s
}

// Reconcile runs the period against the configured bank feed and ledger.
func (s *Service) Reconcile(ctx context.Context, req ledger.Request) (Result, error) {
	return s.run(ctx, s.normalizer, req, "feed")
}

// ReconcileArtifacts runs the period against uploaded statement exports
// instead of the configured sources.
func (s *Service) ReconcileArtifacts(ctx context.Context, req ledger.Request, bankCSV, ledgerCSV string) (Result, error) {
	feed, err := ledger.NewStaticFeedFromCSV(bankCSV, ledgerCSV)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ledger.ErrInvalidRequest, err)
	}
	return s.run(ctx, ledger.NewNormalizer(feed, feed, s.logger), req, "artifacts")
}

func (s *Service) run(ctx context.Context, normalizer *ledger.Normalizer, req ledger.Request, origin string) (Result, error) {
	req.ClientID = strings.TrimSpace(req.ClientID)
	sets, err := normalizer.Fetch(ctx, req)
	if err != nil {
		return Result{}, err
	}
	res := s.engine.Match(sets.Bank, sets.Ledger)
	res.ClientID = req.ClientID
	res.PeriodStart = ledger.Day(req.PeriodStart)
	res.PeriodEnd = ledger.Day(req.PeriodEnd)
	res.Currency = sets.Currency
	if res.Currency == "" {
		res.Currency = s.base
	}
	res.GeneratedAt = s.now().UTC()

	logger := s.log().With(slog.String("client_id", res.ClientID), slog.String("origin", origin))
	if err := Verify(res); err != nil {
		logger.Error("reconciliation does not balance", slog.Any("error", err))
		return res, err
	}
	for kind, count := range res.CountByType() {
		s.metrics.AddDiscrepancies(string(kind), count)
	}
	logger.Info("reconciliation complete",
		slog.String("status", string(res.Status)),
		slog.Float64("match_rate", res.MatchRate),
		slog.String("discrepancy", res.Discrepancy.StringFixed(2)),
		slog.Int("records", len(res.Discrepancies)),
	)
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			Action:   "reconciliation.run",
			Entity:   "client",
			EntityID: res.ClientID,
			Meta: map[string]any{
				"period_start": res.PeriodStart.Format(time.DateOnly),
				"period_end":   res.PeriodEnd.Format(time.DateOnly),
				"currency":     res.Currency,
				"status":       string(res.Status),
				"discrepancy":  res.Discrepancy.StringFixed(2),
				"match_rate":   res.MatchRate,
				"origin":       origin,
			},
			At: res.GeneratedAt,
		}); err != nil {
			logger.Warn("record reconciliation audit", slog.Any("error", err))
		}
	}
	return res, nil
}

func (s *Service) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(slog.String("component", "reconciliation"))
	}
	return slog.Default().With(slog.String("component", "reconciliation"))
}
