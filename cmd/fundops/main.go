package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/fundops/internal/app"
	compliancehttp "github.com/odyssey-erp/fundops/internal/compliance/http"
	"github.com/odyssey-erp/fundops/internal/gapanalysis"
	gaphttp "github.com/odyssey-erp/fundops/internal/gapanalysis/http"
	jobmetrics "github.com/odyssey-erp/fundops/internal/jobs"
	"github.com/odyssey-erp/fundops/internal/ledger"
	"github.com/odyssey-erp/fundops/internal/observability"
	"github.com/odyssey-erp/fundops/internal/platform/cache"
	"github.com/odyssey-erp/fundops/internal/platform/db"
	reconhttp "github.com/odyssey-erp/fundops/internal/reconciliation/http"
	"github.com/odyssey-erp/fundops/internal/shared"
	"github.com/odyssey-erp/fundops/internal/tasks"
	taskshttp "github.com/odyssey-erp/fundops/internal/tasks/http"
	"github.com/odyssey-erp/fundops/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg, "api")

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, policy cache disabled", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())

	auditLogger := shared.NewAuditLogger(pool)
	approvalRecorder := shared.NewApprovalRecorder(pool, logger)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient, err := jobs.NewClient(redisOpts, cfg.JobMaxRetry)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	taskService := tasks.NewService(tasks.NewRepository(pool), jobClient, approvalRecorder, logger)

	reconService, err := app.NewReconService(cfg, ledger.NewRepository(pool), jobMetrics, auditLogger, logger)
	if err != nil {
		logger.Error("init reconciliation", slog.Any("error", err))
		os.Exit(1)
	}

	checker, complianceRepo, policies, err := app.NewComplianceStack(ctx, cfg, pool, redisClient, jobMetrics, auditLogger, logger)
	if err != nil {
		logger.Error("init compliance", slog.Any("error", err))
		os.Exit(1)
	}
	gapService := gapanalysis.NewService(complianceRepo, policies, complianceRepo, taskService, cfg.GapAnalysisScanLimit, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		TasksHandler:      taskshttp.NewHandler(logger, taskService, idempotencyStore),
		ReconHandler:      reconhttp.NewHandler(logger, reconService, taskService),
		ComplianceHandler: compliancehttp.NewHandler(logger, checker, taskService),
		GapHandler:        gaphttp.NewHandler(logger, gapService),
		JobHandler:        jobs.NewHandler(inspector, logger),
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
