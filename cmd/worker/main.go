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

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/fundops/internal/app"
	"github.com/odyssey-erp/fundops/internal/compliance"
	jobmetrics "github.com/odyssey-erp/fundops/internal/jobs"
	"github.com/odyssey-erp/fundops/internal/ledger"
	"github.com/odyssey-erp/fundops/internal/observability"
	"github.com/odyssey-erp/fundops/internal/platform/cache"
	"github.com/odyssey-erp/fundops/internal/platform/db"
	"github.com/odyssey-erp/fundops/internal/reconciliation"
	"github.com/odyssey-erp/fundops/internal/shared"
	"github.com/odyssey-erp/fundops/internal/tasks"
	"github.com/odyssey-erp/fundops/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg, "worker")

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
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

	taskService := tasks.NewService(tasks.NewRepository(pool), jobClient, shared.NewApprovalRecorder(pool, logger), logger)

	reconService, err := app.NewReconService(cfg, ledger.NewRepository(pool), jobMetrics, auditLogger, logger)
	if err != nil {
		logger.Error("init reconciliation", slog.Any("error", err))
		os.Exit(1)
	}
	checker, complianceRepo, _, err := app.NewComplianceStack(ctx, cfg, pool, redisClient, jobMetrics, auditLogger, logger)
	if err != nil {
		logger.Error("init compliance", slog.Any("error", err))
		os.Exit(1)
	}

	reconJob := reconciliation.NewBankReconJob(taskService, reconService, jobMetrics, logger)
	checkJob := compliance.NewCheckJob(checker, taskService, jobMetrics, logger)
	sweepJob := compliance.NewSweepJob(checker, complianceRepo, jobMetrics, logger)
	cleanupJob := jobs.NewIdempotencyCleanupJob(idempotencyStore, cfg.IdempotencyRetention, jobMetrics, logger)

	sweepTask, err := jobs.NewComplianceSweepTask("")
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskBankRecon, Handler: reconJob.Handle},
			{Type: jobs.TaskComplianceCheck, Handler: checkJob.Handle},
			{Type: jobs.TaskComplianceSweep, Handler: sweepJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ComplianceSweep, Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(1), asynq.Queue(jobs.QueueDefault)}},
			{Spec: "30 3 * * *", Task: jobs.NewIdempotencyCleanupTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	r := chi.NewRouter()
	r.Route("/jobs", jobs.NewHandler(inspector, logger).MountRoutes)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	adminServer := &http.Server{Addr: cfg.WorkerAddr, Handler: r, ReadTimeout: 5 * time.Second, WriteTimeout: 10 * time.Second}
	go func() {
		logger.Info("starting worker admin server", slog.String("addr", cfg.WorkerAddr))
		if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("worker admin server", slog.Any("error", err))
		}
	}()

	runErr := worker.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("admin server shutdown", slog.Any("error", err))
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error("worker run", slog.Any("error", runErr))
		os.Exit(1)
	}
}
