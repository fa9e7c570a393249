package compliance

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/fundops/internal/tasks"
	"github.com/odyssey-erp/fundops/jobs"
)

type taskRepo struct {
	items map[uuid.UUID]tasks.Task
}

func (r *taskRepo) Insert(_ context.Context, task tasks.Task) error {
	r.items[task.ID] = task
	return nil
}

func (r *taskRepo) Get(_ context.Context, id uuid.UUID) (tasks.Task, error) {
	task, ok := r.items[id]
	if !ok {
		return tasks.Task{}, tasks.ErrTaskNotFound
	}
	return task, nil
}

func (r *taskRepo) Update(_ context.Context, task tasks.Task) error {
	r.items[task.ID] = task
	return nil
}

func (r *taskRepo) List(context.Context, tasks.ListFilter) ([]tasks.Task, error) {
	return nil, nil
}

func checkTask(t *testing.T, payload jobs.ComplianceCheckPayload) *asynq.Task {
	t.Helper()
	task, err := jobs.NewComplianceCheckTask(payload)
	require.NoError(t, err)
	return task
}

func newComplianceTask(t *testing.T, svc *tasks.Service, documentID string) tasks.Task {
	t.Helper()
	raw, err := json.Marshal(tasks.ComplianceCheckPayload{DocumentID: documentID})
	require.NoError(t, err)
	task, err := svc.Create(context.Background(), tasks.CreateInput{ClientID: "client-1", Kind: tasks.KindComplianceCheck, Payload: raw})
	require.NoError(t, err)
	return task
}

func TestCheckJobCompletesLinkedTask(t *testing.T) {
	store := newMemoryStore(kycDocument())
	store.policies = []Policy{policyDates, policyAML}
	repo := &taskRepo{items: map[uuid.UUID]tasks.Task{}}
	taskSvc := tasks.NewService(repo, nil, nil, discard())
	job := NewCheckJob(newTestChecker(t, store, nil), taskSvc, nil, discard())

	task := newComplianceTask(t, taskSvc, "doc-1")
	require.NoError(t, job.Handle(context.Background(), checkTask(t, jobs.ComplianceCheckPayload{DocumentID: "doc-1", TaskID: task.ID.String()})))

	stored := repo.items[task.ID]
	require.Equal(t, tasks.StatusNeedsReview, stored.Status)
	require.Len(t, stored.Flags, 1)
	require.Equal(t, string(StatusNonCompliant), stored.Flags[0].Code)
	var res CheckAllResult
	require.NoError(t, json.Unmarshal(stored.Result, &res))
	require.Len(t, res.Checks, 2)
	require.Len(t, store.checks, 2)
}

func TestCheckJobSinglePolicyWithoutTask(t *testing.T) {
	store := newMemoryStore(kycDocument())
	store.policies = []Policy{policyDates, policyAML}
	job := NewCheckJob(newTestChecker(t, store, nil), nil, nil, discard())

	require.NoError(t, job.Handle(context.Background(), checkTask(t, jobs.ComplianceCheckPayload{DocumentID: "doc-1", PolicyID: "p-dates"})))
	require.Len(t, store.checks, 1)
	require.Equal(t, "p-dates", store.checks[0].PolicyID)
}

func TestCheckJobBlocksOnPermanentFailure(t *testing.T) {
	pending := kycDocument()
	pending.Status = DocumentUploaded
	store := newMemoryStore(pending)
	store.policies = []Policy{policyDates}
	repo := &taskRepo{items: map[uuid.UUID]tasks.Task{}}
	taskSvc := tasks.NewService(repo, nil, nil, discard())
	job := NewCheckJob(newTestChecker(t, store, nil), taskSvc, nil, discard())

	task := newComplianceTask(t, taskSvc, "doc-1")
	err := job.Handle(context.Background(), checkTask(t, jobs.ComplianceCheckPayload{DocumentID: "doc-1", TaskID: task.ID.String()}))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.ErrorIs(t, err, ErrDocumentNotIndexed)
	stored := repo.items[task.ID]
	require.Equal(t, tasks.StatusBlocked, stored.Status)
	require.Equal(t, "DOCUMENT_NOT_INDEXED", stored.Flags[0].Code)
}

func TestCheckJobRejectsBadPayload(t *testing.T) {
	job := NewCheckJob(newTestChecker(t, newMemoryStore(), nil), nil, nil, discard())
	require.ErrorIs(t, job.Handle(context.Background(), asynq.NewTask(jobs.TaskComplianceCheck, []byte("{"))), asynq.SkipRetry)
	require.ErrorIs(t, job.Handle(context.Background(), checkTask(t, jobs.ComplianceCheckPayload{})), asynq.SkipRetry)
	require.ErrorIs(t, job.Handle(context.Background(), checkTask(t, jobs.ComplianceCheckPayload{DocumentID: "d", TaskID: "nope"})), asynq.SkipRetry)
}

func TestSweepJobChecksIndexedDocuments(t *testing.T) {
	indexed := kycDocument()
	failed := kycDocument()
	failed.ID = "doc-2"
	failed.Status = DocumentFailed
	other := kycDocument()
	other.ID = "doc-3"
	other.ClientID = "client-2"
	store := newMemoryStore(indexed, failed, other)
	store.policies = []Policy{policyDates}
	checker := newTestChecker(t, store, nil)
	job := NewSweepJob(checker, store, nil, discard())

	task, err := jobs.NewComplianceSweepTask("client-1")
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Len(t, store.checks, 1)
	require.Equal(t, "doc-1", store.checks[0].DocumentID)

	all, err := jobs.NewComplianceSweepTask("")
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), all))
	require.Len(t, store.checks, 3)
}
