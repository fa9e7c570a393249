package reconciliation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/fundops/internal/jobs"
	"github.com/odyssey-erp/fundops/internal/ledger"
	"github.com/odyssey-erp/fundops/internal/tasks"
	"github.com/odyssey-erp/fundops/jobs"
)

// BankReconJob processes BANK_RECON tasks from the queue.
type BankReconJob struct {
	tasks   *tasks.Service
	service *Service
	metrics *jobmetrics.Metrics
	logger  *slog.Logger
}

// NewBankReconJob constructs the job handler.
func NewBankReconJob(taskService *tasks.Service, service *Service, metrics *jobmetrics.Metrics, logger *slog.Logger) *BankReconJob {
	return &BankReconJob{tasks: taskService, service: service, metrics: metrics, logger: logger}
}

// Handle fulfils the asynq.HandlerFunc contract.
func (j *BankReconJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.tasks == nil || j.service == nil {
		return errors.New("bank recon: handler not configured")
	}
	var payload jobs.BankReconPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	taskID, parseErr := uuid.Parse(payload.TaskID)
	if parseErr != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics.Track(jobs.TaskBankRecon)
	defer func() {
		err = tracker.End(err)
	}()
	logger := j.log().With(slog.String("task_id", taskID.String()))

	task, err := j.tasks.Get(ctx, taskID)
	if err != nil {
		if tasks.IsNotFound(err) {
			logger.Warn("bank recon task vanished")
			return asynq.SkipRetry
		}
		return err
	}
	if task.Kind != tasks.KindBankRecon || task.Status == tasks.StatusDone {
		return asynq.SkipRetry
	}
	decoded, err := task.DecodePayload()
	if err != nil {
		return j.block(ctx, logger, taskID, "INVALID_PAYLOAD", err)
	}
	req := decoded.(tasks.BankReconPayload)
	if _, err := j.tasks.Start(ctx, taskID); err != nil {
		return err
	}

	request := ledger.Request{
		ClientID:    task.ClientID,
		PeriodStart: req.PeriodStart,
		PeriodEnd:   req.PeriodEnd,
		Currency:    req.Currency,
	}
	var res Result
	if req.Artifacts != nil {
		res, err = j.service.ReconcileArtifacts(ctx, request, req.Artifacts.BankCSV, req.Artifacts.LedgerCSV)
	} else {
		res, err = j.service.Reconcile(ctx, request)
	}
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrDataUnavailable):
			if finalAttempt(ctx) {
				_, blockErr := j.tasks.Block(ctx, taskID, tasks.Flag{Severity: tasks.SeverityError, Code: "DATA_UNAVAILABLE", Message: err.Error()})
				if blockErr != nil {
					logger.Error("block task", slog.Any("error", blockErr))
				}
			}
			logger.Warn("bank recon sources unavailable", slog.Any("error", err))
			return err
		case errors.Is(err, ledger.ErrInvalidRequest), errors.Is(err, ledger.ErrInvalidCurrency):
			return j.block(ctx, logger, taskID, "INVALID_REQUEST", err)
		case errors.Is(err, ledger.ErrMixedCurrency):
			return j.block(ctx, logger, taskID, "MIXED_CURRENCY", err)
		case errors.Is(err, ErrUnreconciled):
			return j.block(ctx, logger, taskID, "UNRECONCILED", err)
		}
		return err
	}

	outcome := tasks.Outcome{Status: tasks.StatusDone, Result: res, Flags: FlagsFor(res)}
	if res.Status != StatusPassed {
		outcome.Status = tasks.StatusNeedsReview
	}
	if _, err := j.tasks.Complete(ctx, taskID, outcome); err != nil {
		return err
	}
	return nil
}

func (j *BankReconJob) block(ctx context.Context, logger *slog.Logger, id uuid.UUID, code string, cause error) error {
	logger.Warn("bank recon blocked", slog.String("code", code), slog.Any("error", cause))
	if _, err := j.tasks.Block(ctx, id, tasks.Flag{Severity: tasks.SeverityError, Code: code, Message: cause.Error()}); err != nil {
		return err
	}
	return fmt.Errorf("%w: %w", asynq.SkipRetry, cause)
}

func (j *BankReconJob) log() *slog.Logger {
	if j.logger != nil {
		return j.logger.With(slog.String("job", jobs.TaskBankRecon))
	}
	return slog.Default().With(slog.String("job", jobs.TaskBankRecon))
}

func finalAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return true
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		return true
	}
	return retried >= maxRetry
}

// FlagsFor turns a run into task flags: one per discrepancy kind plus a
// review flag when the run did not pass.
func FlagsFor(res Result) []tasks.Flag {
	var missingBank, missingLedger int
	counts := res.CountByType()
	for _, d := range res.Discrepancies {
		if d.Type != DiscrepancyMissing {
			continue
		}
		if d.BankTransactionID != "" {
			missingBank++
		} else {
			missingLedger++
		}
	}
	var flags []tasks.Flag
	if missingBank > 0 {
		flags = append(flags, tasks.Flag{Severity: tasks.SeverityWarning, Code: "UNMATCHED_BANK", Message: fmt.Sprintf("%d bank transactions have no ledger entry", missingBank)})
	}
	if missingLedger > 0 {
		flags = append(flags, tasks.Flag{Severity: tasks.SeverityInfo, Code: "UNMATCHED_LEDGER", Message: fmt.Sprintf("%d ledger entries have no bank transaction", missingLedger)})
	}
	if n := counts[DiscrepancyIncorrectAmount]; n > 0 {
		flags = append(flags, tasks.Flag{Severity: tasks.SeverityError, Code: string(DiscrepancyIncorrectAmount), Message: fmt.Sprintf("%d pairs booked with different amounts", n)})
	}
	if n := counts[DiscrepancyTiming]; n > 0 {
		flags = append(flags, tasks.Flag{Severity: tasks.SeverityInfo, Code: string(DiscrepancyTiming), Message: fmt.Sprintf("%d pairs booked on different days", n)})
	}
	if n := counts[DiscrepancyRounding]; n > 0 {
		flags = append(flags, tasks.Flag{Severity: tasks.SeverityInfo, Code: string(DiscrepancyRounding), Message: fmt.Sprintf("%d pairs differ within tolerance", n)})
	}
	if res.Status == StatusReviewRequired {
		flags = append(flags, tasks.Flag{
			Severity: tasks.SeverityWarning,
			Code:     string(StatusReviewRequired),
			Message:  fmt.Sprintf("discrepancy %s %s at match rate %.2f", res.Discrepancy.StringFixed(2), res.Currency, res.MatchRate),
		})
	}
	return flags
}
