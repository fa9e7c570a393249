package compliance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/fundops/internal/jobs"
	"github.com/odyssey-erp/fundops/internal/tasks"
	"github.com/odyssey-erp/fundops/jobs"
)

// CheckJob runs queued compliance checks and reports back to the linked
// COMPLIANCE_CHECK task when there is one.
type CheckJob struct {
	checker *Checker
	tasks   *tasks.Service
	metrics *jobmetrics.Metrics
	logger  *slog.Logger
}

// NewCheckJob constructs the handler. taskService may be nil.
func NewCheckJob(checker *Checker, taskService *tasks.Service, metrics *jobmetrics.Metrics, logger *slog.Logger) *CheckJob {
	return &CheckJob{checker: checker, tasks: taskService, metrics: metrics, logger: logger}
}

// Handle fulfils the asynq.HandlerFunc contract.
func (j *CheckJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.checker == nil {
		return errors.New("compliance check: handler not configured")
	}
	var payload jobs.ComplianceCheckPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.DocumentID == "" {
		return asynq.SkipRetry
	}
	var taskID uuid.UUID
	if payload.TaskID != "" {
		id, parseErr := uuid.Parse(payload.TaskID)
		if parseErr != nil {
			return asynq.SkipRetry
		}
		taskID = id
	}

	tracker := j.metrics.Track(jobs.TaskComplianceCheck)
	defer func() {
		err = tracker.End(err)
	}()
	logger := j.log().With(slog.String("document_id", payload.DocumentID))

	linked := taskID != uuid.Nil && j.tasks != nil
	if linked {
		task, err := j.tasks.Get(ctx, taskID)
		if err != nil {
			if tasks.IsNotFound(err) {
				logger.Warn("compliance task vanished", slog.String("task_id", taskID.String()))
				return asynq.SkipRetry
			}
			return err
		}
		if task.Status == tasks.StatusDone {
			return asynq.SkipRetry
		}
		if _, err := j.tasks.Start(ctx, taskID); err != nil {
			return err
		}
	}

	var res CheckAllResult
	if payload.PolicyID != "" {
		var check Check
		check, err = j.checker.Check(ctx, payload.DocumentID, payload.PolicyID)
		res = CheckAllResult{DocumentID: payload.DocumentID, Checks: []Check{check}, Failures: []PolicyFailure{}}
	} else {
		res, err = j.checker.CheckAll(ctx, payload.DocumentID)
	}
	if err != nil {
		var code string
		switch {
		case errors.Is(err, ErrDocumentNotFound):
			code = "DOCUMENT_NOT_FOUND"
		case errors.Is(err, ErrPolicyNotFound):
			code = "POLICY_NOT_FOUND"
		case errors.Is(err, ErrDocumentNotIndexed):
			code = "DOCUMENT_NOT_INDEXED"
		case errors.Is(err, ErrInvalidPolicy):
			code = "INVALID_POLICY"
		default:
			return err
		}
		logger.Warn("compliance check rejected", slog.String("code", code), slog.Any("error", err))
		if linked {
			if _, blockErr := j.tasks.Block(ctx, taskID, tasks.Flag{Severity: tasks.SeverityError, Code: code, Message: err.Error()}); blockErr != nil {
				return blockErr
			}
		}
		return fmt.Errorf("%w: %w", asynq.SkipRetry, err)
	}

	logger.Info("compliance check finished", slog.Int("checks", len(res.Checks)), slog.Int("failures", len(res.Failures)))
	if linked {
		if _, err := j.tasks.Complete(ctx, taskID, tasks.Outcome{Result: res, Flags: FlagsFor(res)}); err != nil {
			return err
		}
	}
	return nil
}

func (j *CheckJob) log() *slog.Logger {
	if j.logger != nil {
		return j.logger.With(slog.String("job", jobs.TaskComplianceCheck))
	}
	return slog.Default().With(slog.String("job", jobs.TaskComplianceCheck))
}

// FlagsFor turns check results into task flags.
func FlagsFor(res CheckAllResult) []tasks.Flag {
	var flags []tasks.Flag
	for _, check := range res.Checks {
		switch check.Status {
		case StatusNonCompliant:
			flags = append(flags, tasks.Flag{Severity: tasks.SeverityError, Code: string(StatusNonCompliant), Message: fmt.Sprintf("%s: %d gaps", check.PolicyName, len(check.Result.Gaps))})
		case StatusNeedsReview:
			flags = append(flags, tasks.Flag{Severity: tasks.SeverityWarning, Code: string(StatusNeedsReview), Message: fmt.Sprintf("%s: %d gaps", check.PolicyName, len(check.Result.Gaps))})
		}
	}
	for _, f := range res.Failures {
		flags = append(flags, tasks.Flag{Severity: tasks.SeverityWarning, Code: "POLICY_FAILED", Message: f.PolicyID + ": " + f.Error})
	}
	return flags
}

// SweepJob re-checks every indexed document, optionally for a single client.
type SweepJob struct {
	checker *Checker
	docs    DocumentStore
	metrics *jobmetrics.Metrics
	logger  *slog.Logger
}

// NewSweepJob constructs the sweep handler.
func NewSweepJob(checker *Checker, docs DocumentStore, metrics *jobmetrics.Metrics, logger *slog.Logger) *SweepJob {
	return &SweepJob{checker: checker, docs: docs, metrics: metrics, logger: logger}
}

// Handle fulfils the asynq.HandlerFunc contract. A document that fails is
// logged and skipped; the sweep only fails when listing fails.
func (j *SweepJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.checker == nil || j.docs == nil {
		return errors.New("compliance sweep: handler not configured")
	}
	var payload jobs.ComplianceSweepPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	tracker := j.metrics.Track(jobs.TaskComplianceSweep)
	defer func() {
		err = tracker.End(err)
	}()

	docs, err := j.docs.ListDocuments(ctx, DocumentFilter{ClientID: payload.ClientID, Status: DocumentIndexed})
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}
	var checked, failed int
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := j.checker.CheckAll(ctx, doc.ID)
		if err != nil {
			failed++
			j.log().Warn("sweep document", slog.String("document_id", doc.ID), slog.Any("error", err))
			continue
		}
		checked += len(res.Checks)
		failed += len(res.Failures)
	}
	j.log().Info("compliance sweep finished",
		slog.String("client_id", payload.ClientID),
		slog.Int("documents", len(docs)),
		slog.Int("checks", checked),
		slog.Int("failures", failed),
	)
	return nil
}

func (j *SweepJob) log() *slog.Logger {
	if j.logger != nil {
		return j.logger.With(slog.String("job", jobs.TaskComplianceSweep))
	}
	return slog.Default().With(slog.String("job", jobs.TaskComplianceSweep))
}
