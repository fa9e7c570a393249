package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/fundops/internal/shared"
	"github.com/odyssey-erp/fundops/jobs"
)

type memoryRepo struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]Task
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{tasks: map[uuid.UUID]Task{}}
}

func (m *memoryRepo) Insert(_ context.Context, task Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[task.ID] = task
	return nil
}

func (m *memoryRepo) Get(_ context.Context, id uuid.UUID) (Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[id]
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	return task, nil
}

func (m *memoryRepo) Update(_ context.Context, task Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[task.ID]; !ok {
		return ErrTaskNotFound
	}
	m.tasks[task.ID] = task
	return nil
}

func (m *memoryRepo) List(_ context.Context, filter ListFilter) ([]Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Task
	for _, task := range m.tasks {
		if filter.ClientID != "" && task.ClientID != filter.ClientID {
			continue
		}
		if filter.Kind != "" && task.Kind != filter.Kind {
			continue
		}
		if filter.Status != "" && task.Status != filter.Status {
			continue
		}
		out = append(out, task)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

type stubQueue struct {
	recon      []jobs.BankReconPayload
	compliance []jobs.ComplianceCheckPayload
	err        error
}

func (s *stubQueue) EnqueueBankRecon(_ context.Context, p jobs.BankReconPayload) (*asynq.TaskInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.recon = append(s.recon, p)
	return &asynq.TaskInfo{ID: "recon:bank:" + p.TaskID}, nil
}

func (s *stubQueue) EnqueueComplianceCheck(_ context.Context, p jobs.ComplianceCheckPayload) (*asynq.TaskInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.compliance = append(s.compliance, p)
	return &asynq.TaskInfo{ID: "compliance:check:" + p.TaskID}, nil
}

type stubApprovals struct {
	logs []shared.ApprovalLog
}

func (s *stubApprovals) Record(_ context.Context, log shared.ApprovalLog) error {
	s.logs = append(s.logs, log)
	return nil
}

func newTestService() (*Service, *memoryRepo, *stubQueue, *stubApprovals) {
	repo := newMemoryRepo()
	queue := &stubQueue{}
	approvals := &stubApprovals{}
	svc := NewService(repo, queue, approvals, slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.now = func() time.Time { return time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC) }
	return svc, repo, queue, approvals
}

func TestCreateBankReconEnqueuesJob(t *testing.T) {
	svc, repo, queue, _ := newTestService()

	task, err := svc.Create(context.Background(), CreateInput{
		ClientID: "client-1",
		Kind:     "bank_recon",
		Payload:  json.RawMessage(`{"periodStart":"2024-01-01T00:00:00Z","periodEnd":"2024-01-31T00:00:00Z"}`),
	})
	require.NoError(t, err)
	require.Equal(t, KindBankRecon, task.Kind)
	require.Equal(t, StatusQueued, task.Status)
	require.Equal(t, PriorityMedium, task.Priority)
	require.Equal(t, "Bank reconciliation", task.Title)
	require.Len(t, queue.recon, 1)
	require.Equal(t, task.ID.String(), queue.recon[0].TaskID)

	stored, err := repo.Get(context.Background(), task.ID)
	require.NoError(t, err)
	require.Equal(t, StatusQueued, stored.Status)
}

func TestCreateRejectsBadInput(t *testing.T) {
	svc, repo, _, _ := newTestService()

	_, err := svc.Create(context.Background(), CreateInput{ClientID: "c", Kind: "PAYROLL"})
	require.ErrorIs(t, err, ErrInvalidKind)

	_, err = svc.Create(context.Background(), CreateInput{Kind: KindKYCReview, Payload: json.RawMessage(`{"investorId":"i-1"}`)})
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Create(context.Background(), CreateInput{ClientID: "c", Kind: KindKYCReview})
	require.ErrorIs(t, err, ErrInvalidPayload)

	_, err = svc.Create(context.Background(), CreateInput{
		ClientID: "c",
		Kind:     KindBankRecon,
		Payload:  json.RawMessage(`{"periodStart":"2024-02-01T00:00:00Z","periodEnd":"2024-01-01T00:00:00Z"}`),
	})
	require.ErrorIs(t, err, ErrInvalidPayload)
	require.Empty(t, repo.tasks)
}

func TestCreateBlocksWhenQueueFails(t *testing.T) {
	svc, _, queue, _ := newTestService()
	queue.err = errors.New("redis down")

	task, err := svc.Create(context.Background(), CreateInput{
		ClientID: "client-1",
		Kind:     KindComplianceCheck,
		Payload:  json.RawMessage(`{"documentId":"doc-1"}`),
	})
	require.NoError(t, err)
	require.Equal(t, StatusBlocked, task.Status)
	require.Len(t, task.Flags, 1)
	require.Equal(t, "ENQUEUE_FAILED", task.Flags[0].Code)
}

func TestReportDraftDefaultsType(t *testing.T) {
	svc, _, queue, _ := newTestService()

	task, err := svc.Create(context.Background(), CreateInput{ClientID: "c", Kind: KindReportDraft, Priority: PriorityLow})
	require.NoError(t, err)
	payload, err := task.DecodePayload()
	require.NoError(t, err)
	require.Equal(t, DefaultReportType, payload.(ReportDraftPayload).ReportType)
	require.Equal(t, PriorityLow, task.Priority)
	require.Empty(t, queue.recon)
	require.Empty(t, queue.compliance)
}

func TestCompleteRoutesFlagsToReview(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	task, err := svc.Create(ctx, CreateInput{ClientID: "c", Kind: KindComplianceCheck, Payload: json.RawMessage(`{"documentId":"doc-1"}`)})
	require.NoError(t, err)
	_, err = svc.Start(ctx, task.ID)
	require.NoError(t, err)

	done, err := svc.Complete(ctx, task.ID, Outcome{
		Result: map[string]any{"score": 0.5},
		Flags:  []Flag{{Severity: SeverityWarning, Code: "NEEDS_REVIEW", Message: "check manually"}},
	})
	require.NoError(t, err)
	require.Equal(t, StatusNeedsReview, done.Status)
	require.JSONEq(t, `{"score":0.5}`, string(done.Result))

	again, err := svc.Complete(ctx, task.ID, Outcome{
		Status: StatusNeedsReview,
		Result: map[string]any{"checkId": "chk-1"},
		Flags:  []Flag{{Severity: SeverityWarning, Code: "NEEDS_REVIEW", Message: "check manually"}},
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"score":0.5,"checkId":"chk-1"}`, string(again.Result))
	require.Len(t, again.Flags, 1)
}

func TestCompleteCleanRunIsDone(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()

	task, err := svc.Create(ctx, CreateInput{ClientID: "c", Kind: KindKYCReview, Payload: json.RawMessage(`{"investorId":"inv-1"}`)})
	require.NoError(t, err)
	done, err := svc.Complete(ctx, task.ID, Outcome{Flags: []Flag{{Severity: SeverityInfo, Code: "NOTE", Message: "ok"}}})
	require.NoError(t, err)
	require.Equal(t, StatusDone, done.Status)

	_, err = svc.Complete(ctx, task.ID, Outcome{})
	require.ErrorIs(t, err, ErrInvalidTransition)
	_, err = svc.Start(ctx, task.ID)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestApproveRecordsLog(t *testing.T) {
	svc, _, _, approvals := newTestService()
	ctx := context.Background()

	task, err := svc.Create(ctx, CreateInput{ClientID: "c", Kind: KindKYCReview, Payload: json.RawMessage(`{"investorId":"inv-1"}`)})
	require.NoError(t, err)

	_, err = svc.Approve(ctx, task.ID, 7, "")
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.Complete(ctx, task.ID, Outcome{Status: StatusNeedsReview})
	require.NoError(t, err)
	_, err = svc.Approve(ctx, task.ID, 0, "")
	require.ErrorIs(t, err, ErrInvalidInput)

	approved, err := svc.Approve(ctx, task.ID, 7, "looks good")
	require.NoError(t, err)
	require.Equal(t, StatusDone, approved.Status)
	require.Len(t, approvals.logs, 1)
	require.Equal(t, "tasks", approvals.logs[0].Module)
	require.Equal(t, task.ID, approvals.logs[0].RefID)
	require.Equal(t, shared.ApprovalApprove, approvals.logs[0].Action)
}

func TestCreateForGapsSkipsLowSeverity(t *testing.T) {
	svc, _, _, _ := newTestService()

	created, err := svc.CreateForGaps(context.Background(), "client-1", []GapInput{
		{ID: "g1", Type: "expired_document", Severity: "high", Title: "Passport expired", Description: "doc-1 expired", DocumentID: "doc-1", Recommendation: "Request a renewed passport"},
		{ID: "g2", Type: "missing_field", Severity: "medium", Title: "Missing address"},
		{ID: "g3", Type: "policy_violation", Severity: "low", Title: "Minor wording"},
	}, "coordinator-1")
	require.NoError(t, err)
	require.Len(t, created, 2)

	require.Equal(t, KindQCCheck, created[0].Kind)
	require.Equal(t, StatusNeedsReview, created[0].Status)
	require.Equal(t, PriorityHigh, created[0].Priority)
	require.Equal(t, "Fix gap: Passport expired", created[0].Title)
	require.Contains(t, created[0].Description, "Request a renewed passport")
	require.Equal(t, "coordinator-1", created[0].AssigneeID)
	require.Equal(t, PriorityMedium, created[1].Priority)

	payload, err := created[0].DecodePayload()
	require.NoError(t, err)
	require.Equal(t, "doc-1", payload.(QCCheckPayload).DocumentID)

	_, err = svc.CreateForGaps(context.Background(), "", nil, "")
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestListAppliesDefaultLimit(t *testing.T) {
	svc, _, _, _ := newTestService()
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := svc.Create(ctx, CreateInput{ClientID: "c", Kind: KindKYCReview, Payload: json.RawMessage(`{"investorId":"inv"}`)})
		require.NoError(t, err)
	}
	_, err := svc.Create(ctx, CreateInput{ClientID: "other", Kind: KindKYCReview, Payload: json.RawMessage(`{"investorId":"inv"}`)})
	require.NoError(t, err)

	items, err := svc.List(ctx, ListFilter{ClientID: "c"})
	require.NoError(t, err)
	require.Len(t, items, 3)
}
