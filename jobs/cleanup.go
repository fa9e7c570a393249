package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/fundops/internal/jobs"
)

// KeyPruner deletes idempotency keys older than a retention window.
type KeyPruner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// IdempotencyCleanupJob prunes idempotency keys on a schedule.
type IdempotencyCleanupJob struct {
	store     KeyPruner
	retention time.Duration
	metrics   *jobmetrics.Metrics
	logger    *slog.Logger
}

// NewIdempotencyCleanupJob constructs the job. A non-positive retention keeps
// keys for seven days.
func NewIdempotencyCleanupJob(store KeyPruner, retention time.Duration, metrics *jobmetrics.Metrics, logger *slog.Logger) *IdempotencyCleanupJob {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &IdempotencyCleanupJob{store: store, retention: retention, metrics: metrics, logger: logger}
}

// NewIdempotencyCleanupTask constructs the scheduled task.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyCleanup, nil)
}

// Handle implements asynq.HandlerFunc.
func (j *IdempotencyCleanupJob) Handle(ctx context.Context, _ *asynq.Task) error {
	tracker := j.metrics.Track(TaskIdempotencyCleanup)
	removed, err := j.store.Cleanup(ctx, j.retention)
	if err != nil {
		j.logger.Error("idempotency cleanup", slog.Any("error", err))
		return tracker.End(err)
	}
	j.logger.Info("idempotency cleanup", slog.Int64("removed", removed), slog.Duration("retention", j.retention))
	return tracker.End(nil)
}
