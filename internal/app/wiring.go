package app

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/fundops/internal/compliance"
	jobmetrics "github.com/odyssey-erp/fundops/internal/jobs"
	"github.com/odyssey-erp/fundops/internal/ledger"
	"github.com/odyssey-erp/fundops/internal/platform/cache"
	"github.com/odyssey-erp/fundops/internal/reconciliation"
	"github.com/odyssey-erp/fundops/internal/shared"
)

// PolicyCacheNamespace prefixes every policy cache key and the bump channel.
const PolicyCacheNamespace = "fundops:policies"

// NewReconService builds the reconciliation service from RECON_* settings.
func NewReconService(cfg *Config, repo *ledger.Repository, metrics *jobmetrics.Metrics, audit *shared.AuditLogger, logger *slog.Logger) (*reconciliation.Service, error) {
	tolerance, err := cfg.AmountTolerance()
	if err != nil {
		return nil, err
	}
	engineCfg := reconciliation.DefaultConfig()
	engineCfg.AmountTolerance = tolerance
	engineCfg.DateWindowDays = cfg.ReconDateWindowDays
	engineCfg.DescriptionSimilarity = cfg.ReconDescriptionSimilarity
	engine := reconciliation.NewEngine(engineCfg, logger)
	return reconciliation.NewService(repo, repo, engine, metrics, audit, logger).WithBaseCurrency(cfg.ReconBaseCurrency), nil
}

// NewComplianceStack builds the checker and the stores it reads from. A nil
// redis client leaves the policy cache disabled.
func NewComplianceStack(ctx context.Context, cfg *Config, pool *pgxpool.Pool, redisClient *redis.Client, metrics *jobmetrics.Metrics, audit *shared.AuditLogger, logger *slog.Logger) (*compliance.Checker, *compliance.Repository, compliance.PolicyStore, error) {
	expressions, err := compliance.NewExpressionEvaluator()
	if err != nil {
		return nil, nil, nil, err
	}
	validator, err := compliance.NewPolicyValidator(expressions)
	if err != nil {
		return nil, nil, nil, err
	}
	repo := compliance.NewRepository(pool, validator)

	policyCache := cache.NewVersioned(redisClient, PolicyCacheNamespace, cfg.PolicyCacheTTL)
	if err := policyCache.ListenForInvalidation(ctx); err != nil {
		logger.Warn("policy cache invalidation listener", slog.Any("error", err))
	}
	policies := compliance.NewCachedPolicyStore(repo, policyCache, logger)

	var analyzer compliance.Analyzer
	if cfg.OpenAIAPIKey != "" {
		analyzer = compliance.NewOpenAIAnalyzer(cfg.OpenAIAPIKey, cfg.OpenAIModel, logger)
	} else {
		logger.Info("OPENAI_API_KEY not set, ai_analysis rules will need review")
	}
	evaluator := compliance.NewEvaluator(analyzer, expressions, logger)

	checker := compliance.NewChecker(repo, policies, repo, evaluator, audit, metrics, compliance.CheckerConfig{
		Concurrency: cfg.ComplianceConcurrency,
		ScanLimit:   cfg.GapAnalysisScanLimit,
	}, logger)
	return checker, repo, policies, nil
}
