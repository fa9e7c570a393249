package compliancehttp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/fundops/internal/compliance"
	"github.com/odyssey-erp/fundops/internal/tasks"
)

type storeStub struct {
	docs     map[string]compliance.Document
	policies []compliance.Policy
	checks   []compliance.Check
}

func (s *storeStub) GetDocument(_ context.Context, id string) (compliance.Document, error) {
	doc, ok := s.docs[id]
	if !ok {
		return compliance.Document{}, compliance.ErrDocumentNotFound
	}
	return doc, nil
}

func (s *storeStub) ListDocuments(context.Context, compliance.DocumentFilter) ([]compliance.Document, error) {
	return nil, nil
}

func (s *storeStub) GetPolicy(_ context.Context, id string) (compliance.Policy, error) {
	for _, p := range s.policies {
		if p.ID == id {
			return p, nil
		}
	}
	return compliance.Policy{}, compliance.ErrPolicyNotFound
}

func (s *storeStub) ListActivePolicies(context.Context) ([]compliance.Policy, error) {
	return s.policies, nil
}

func (s *storeStub) InsertCheck(_ context.Context, check compliance.Check) error {
	s.checks = append(s.checks, check)
	return nil
}

func (s *storeStub) ListChecks(_ context.Context, filter compliance.CheckFilter) ([]compliance.Check, error) {
	var out []compliance.Check
	for _, c := range s.checks {
		if filter.DocumentID != "" && c.DocumentID != filter.DocumentID {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

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

func newTestRouter(withTasks bool) (http.Handler, *storeStub) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := &storeStub{
		docs: map[string]compliance.Document{
			"doc-1": {ID: "doc-1", ClientID: "client-1", FileName: "a.pdf", Title: "Agreement", Category: "LEGAL",
				Status: compliance.DocumentIndexed, ExtractedText: "Signed by both parties", UploadedAt: time.Now()},
			"doc-2": {ID: "doc-2", ClientID: "client-1", FileName: "b.pdf", Status: compliance.DocumentProcessing},
		},
		policies: []compliance.Policy{
			{ID: "signed", Name: "Signed", Category: "LEGAL", IsActive: true, Rules: []compliance.Rule{
				{ID: "sig", Name: "Signature", CheckType: compliance.CheckTextMatch, Pattern: "signed by"},
			}},
		},
	}
	checker := compliance.NewChecker(store, store, store, nil, nil, nil, compliance.CheckerConfig{}, logger)
	var taskSvc *tasks.Service
	if withTasks {
		taskSvc = tasks.NewService(&taskRepo{items: map[uuid.UUID]tasks.Task{}}, nil, nil, logger)
	}
	r := chi.NewRouter()
	NewHandler(logger, checker, taskSvc).MountRoutes(r)
	return r, store
}

func post(router http.Handler, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCheckSinglePolicy(t *testing.T) {
	router, store := newTestRouter(false)
	rec := post(router, "/api/compliance/check", `{"documentId":"doc-1","policyId":"signed"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Check compliance.Check `json:"check"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, compliance.StatusCompliant, body.Check.Status)
	require.Len(t, store.checks, 1)
}

func TestCheckAllPolicies(t *testing.T) {
	router, _ := newTestRouter(false)
	rec := post(router, "/api/compliance/check", `{"documentId":"doc-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var res compliance.CheckAllResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	require.Len(t, res.Checks, 1)
	require.Empty(t, res.Failures)
}

func TestCheckErrors(t *testing.T) {
	router, _ := newTestRouter(false)

	require.Equal(t, http.StatusBadRequest, post(router, "/api/compliance/check", `{}`).Code)
	require.Equal(t, http.StatusNotFound, post(router, "/api/compliance/check", `{"documentId":"missing"}`).Code)
	require.Equal(t, http.StatusNotFound, post(router, "/api/compliance/check", `{"documentId":"doc-1","policyId":"nope"}`).Code)
	require.Equal(t, http.StatusUnprocessableEntity, post(router, "/api/compliance/check", `{"documentId":"doc-2"}`).Code)
	require.Equal(t, http.StatusServiceUnavailable, post(router, "/api/compliance/check", `{"documentId":"doc-1","clientId":"client-1","async":true}`).Code)
}

func TestCheckAsyncCreatesTask(t *testing.T) {
	router, store := newTestRouter(true)
	rec := post(router, "/api/compliance/check", `{"documentId":"doc-1","clientId":"client-1","async":true}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var task tasks.Task
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&task))
	require.Equal(t, tasks.KindComplianceCheck, task.Kind)
	require.Equal(t, tasks.StatusQueued, task.Status)
	require.Empty(t, store.checks)

	require.Equal(t, http.StatusBadRequest, post(router, "/api/compliance/check", `{"documentId":"doc-1","async":true}`).Code)
}

func TestDocumentStatusAndSummary(t *testing.T) {
	router, _ := newTestRouter(false)
	require.Equal(t, http.StatusOK, post(router, "/api/compliance/check", `{"documentId":"doc-1"}`).Code)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/compliance/documents/doc-1/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var status compliance.DocumentStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	require.Equal(t, compliance.StatusCompliant, status.Overall)
	require.Equal(t, 1.0, status.Score)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/compliance/documents/missing/status", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/compliance/summary?clientId=client-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var summary compliance.Summary
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&summary))
	require.Equal(t, 1, summary.Total)
}
