package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/fundops/internal/shared"
	"github.com/odyssey-erp/fundops/jobs"
)

// Repository persists tasks.
type Repository interface {
	Insert(ctx context.Context, task Task) error
	Get(ctx context.Context, id uuid.UUID) (Task, error)
	Update(ctx context.Context, task Task) error
	List(ctx context.Context, filter ListFilter) ([]Task, error)
}

// Enqueuer hands work to the job queue.
type Enqueuer interface {
	EnqueueBankRecon(ctx context.Context, payload jobs.BankReconPayload) (*asynq.TaskInfo, error)
	EnqueueComplianceCheck(ctx context.Context, payload jobs.ComplianceCheckPayload) (*asynq.TaskInfo, error)
}

// ApprovalRecorder stores approval history.
type ApprovalRecorder interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
}

const approvalModule = "tasks"

// Service coordinates the task lifecycle.
type Service struct {
	repo      Repository
	queue     Enqueuer
	approvals ApprovalRecorder
	logger    *slog.Logger
	now       func() time.Time
}

// NewService builds the service. queue and approvals may be nil.
func NewService(repo Repository, queue Enqueuer, approvals ApprovalRecorder, logger *slog.Logger) *Service {
	return &Service{repo: repo, queue: queue, approvals: approvals, logger: logger, now: time.Now}
}

// Create validates input, persists a QUEUED task and dispatches its job.
// A dispatch failure leaves the task BLOCKED with a flag rather than failing
// the call.
func (s *Service) Create(ctx context.Context, input CreateInput) (Task, error) {
	input.ClientID = strings.TrimSpace(input.ClientID)
	input.Kind = Kind(strings.ToUpper(strings.TrimSpace(string(input.Kind))))
	if err := validate.Struct(input); err != nil {
		return Task{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if !input.Kind.Valid() {
		return Task{}, fmt.Errorf("%w: %q", ErrInvalidKind, input.Kind)
	}
	payload, err := DecodePayload(input.Kind, input.Payload)
	if err != nil {
		return Task{}, err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Task{}, err
	}
	now := s.now().UTC()
	task := Task{
		ID:          uuid.New(),
		ClientID:    input.ClientID,
		Kind:        input.Kind,
		Status:      StatusQueued,
		Title:       strings.TrimSpace(input.Title),
		Description: strings.TrimSpace(input.Description),
		Priority:    input.Priority,
		Payload:     raw,
		Flags:       []Flag{},
		AssigneeID:  input.AssigneeID,
		DueAt:       input.DueAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if task.Title == "" {
		task.Title = defaultTitle(task.Kind)
	}
	if task.Priority == "" {
		task.Priority = PriorityMedium
	}
	if err := s.repo.Insert(ctx, task); err != nil {
		return Task{}, err
	}
	s.log().Info("task created", slog.String("task_id", task.ID.String()), slog.String("kind", string(task.Kind)), slog.String("client_id", task.ClientID))

	if err := s.dispatch(ctx, task, payload); err != nil {
		s.log().Warn("dispatch task", slog.String("task_id", task.ID.String()), slog.Any("error", err))
		return s.Block(ctx, task.ID, Flag{Severity: SeverityError, Code: "ENQUEUE_FAILED", Message: "could not enqueue job: " + err.Error()})
	}
	return task, nil
}

func (s *Service) dispatch(ctx context.Context, task Task, payload Payload) error {
	if s.queue == nil {
		return nil
	}
	switch p := payload.(type) {
	case BankReconPayload:
		_, err := s.queue.EnqueueBankRecon(ctx, jobs.BankReconPayload{TaskID: task.ID.String()})
		return err
	case ComplianceCheckPayload:
		_, err := s.queue.EnqueueComplianceCheck(ctx, jobs.ComplianceCheckPayload{DocumentID: p.DocumentID, PolicyID: p.PolicyID, TaskID: task.ID.String()})
		return err
	}
	return nil
}

// Get loads a task.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (Task, error) {
	return s.repo.Get(ctx, id)
}

// List returns tasks matching the filter, newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Task, error) {
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	return s.repo.List(ctx, filter)
}

// Start marks the task IN_PROGRESS. Calling it on a task already in progress
// is allowed so retried jobs can resume.
func (s *Service) Start(ctx context.Context, id uuid.UUID) (Task, error) {
	task, err := s.repo.Get(ctx, id)
	if err != nil {
		return Task{}, err
	}
	if task.Status == StatusDone {
		return Task{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, task.Status, StatusInProgress)
	}
	task.Status = StatusInProgress
	task.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, task); err != nil {
		return Task{}, err
	}
	return task, nil
}

// Complete merges the outcome result and flags into the task. When the
// outcome carries no status, any error or warning flag routes the task to
// NEEDS_REVIEW and a clean run to DONE.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, outcome Outcome) (Task, error) {
	task, err := s.repo.Get(ctx, id)
	if err != nil {
		return Task{}, err
	}
	if task.Status == StatusDone {
		return Task{}, fmt.Errorf("%w: task already done", ErrInvalidTransition)
	}
	status := outcome.Status
	if status == "" {
		status = StatusDone
		for _, f := range outcome.Flags {
			if f.Severity == SeverityError || f.Severity == SeverityWarning {
				status = StatusNeedsReview
				break
			}
		}
	}
	switch status {
	case StatusNeedsReview, StatusDone, StatusBlocked:
	default:
		return Task{}, fmt.Errorf("%w: cannot complete with %s", ErrInvalidTransition, status)
	}
	if outcome.Result != nil {
		raw, err := json.Marshal(outcome.Result)
		if err != nil {
			return Task{}, err
		}
		task.Result = mergeResult(task.Result, raw)
	}
	task.Flags = mergeFlags(task.Flags, outcome.Flags)
	task.Status = status
	task.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, task); err != nil {
		return Task{}, err
	}
	s.log().Info("task completed", slog.String("task_id", id.String()), slog.String("status", string(status)), slog.Int("flags", len(task.Flags)))
	return task, nil
}

// Block parks a task with a flag explaining why.
func (s *Service) Block(ctx context.Context, id uuid.UUID, flag Flag) (Task, error) {
	return s.Complete(ctx, id, Outcome{Status: StatusBlocked, Flags: []Flag{flag}})
}

// Approve signs off a task waiting for review.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, actorID int64, note string) (Task, error) {
	if actorID <= 0 {
		return Task{}, fmt.Errorf("%w: actor required", ErrInvalidInput)
	}
	task, err := s.repo.Get(ctx, id)
	if err != nil {
		return Task{}, err
	}
	if task.Status != StatusNeedsReview {
		return Task{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, task.Status, StatusDone)
	}
	task.Status = StatusDone
	task.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, task); err != nil {
		return Task{}, err
	}
	if s.approvals != nil {
		if err := s.approvals.Record(ctx, shared.ApprovalLog{
			Module:  approvalModule,
			RefID:   task.ID,
			ActorID: actorID,
			Action:  shared.ApprovalApprove,
			Note:    note,
		}); err != nil {
			s.log().Warn("record approval", slog.String("task_id", id.String()), slog.Any("error", err))
		}
	}
	return task, nil
}

// CreateForGaps opens a QC_CHECK task for each high or medium gap. The tasks
// go straight to NEEDS_REVIEW since a person has to act on them.
func (s *Service) CreateForGaps(ctx context.Context, clientID string, gaps []GapInput, assigneeID string) ([]Task, error) {
	if strings.TrimSpace(clientID) == "" {
		return nil, fmt.Errorf("%w: client id required", ErrInvalidInput)
	}
	created := make([]Task, 0, len(gaps))
	for _, gap := range gaps {
		severity := strings.ToLower(gap.Severity)
		if severity != "high" && severity != "medium" {
			continue
		}
		payload := QCCheckPayload{GapID: gap.ID, GapType: gap.Type, Severity: severity, DocumentID: gap.DocumentID, PolicyID: gap.PolicyID}
		if err := validate.Struct(payload); err != nil {
			return created, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return created, err
		}
		description := gap.Description
		if gap.Recommendation != "" {
			description += "\n\nRecommendation: " + gap.Recommendation
		}
		priority := PriorityMedium
		if severity == "high" {
			priority = PriorityHigh
		}
		now := s.now().UTC()
		task := Task{
			ID:          uuid.New(),
			ClientID:    clientID,
			Kind:        KindQCCheck,
			Status:      StatusNeedsReview,
			Title:       "Fix gap: " + gap.Title,
			Description: description,
			Priority:    priority,
			Payload:     raw,
			Flags:       []Flag{},
			AssigneeID:  assigneeID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.repo.Insert(ctx, task); err != nil {
			return created, err
		}
		created = append(created, task)
	}
	return created, nil
}

func (s *Service) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(slog.String("component", "tasks"))
	}
	return slog.Default().With(slog.String("component", "tasks"))
}

func defaultTitle(kind Kind) string {
	switch kind {
	case KindBankRecon:
		return "Bank reconciliation"
	case KindKYCReview:
		return "KYC review"
	case KindReportDraft:
		return "Report draft"
	case KindComplianceCheck:
		return "Compliance check"
	case KindQCCheck:
		return "Quality check"
	}
	return string(kind)
}

// mergeResult overlays update onto existing when both are JSON objects;
// otherwise update replaces existing.
func mergeResult(existing, update json.RawMessage) json.RawMessage {
	if len(existing) == 0 {
		return update
	}
	var base, overlay map[string]json.RawMessage
	if err := json.Unmarshal(existing, &base); err != nil || base == nil {
		return update
	}
	if err := json.Unmarshal(update, &overlay); err != nil || overlay == nil {
		return update
	}
	for k, v := range overlay {
		base[k] = v
	}
	merged, err := json.Marshal(base)
	if err != nil {
		return update
	}
	return merged
}

func mergeFlags(existing, update []Flag) []Flag {
	out := make([]Flag, 0, len(existing)+len(update))
	seen := make(map[string]struct{}, len(existing)+len(update))
	for _, list := range [][]Flag{existing, update} {
		for _, f := range list {
			key := string(f.Severity) + "|" + f.Code + "|" + f.Message
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, f)
		}
	}
	return out
}

// IsNotFound reports whether err means the task does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTaskNotFound)
}
