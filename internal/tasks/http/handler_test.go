package taskshttp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/fundops/internal/shared"
	"github.com/odyssey-erp/fundops/internal/tasks"
)

type repoStub struct {
	items map[uuid.UUID]tasks.Task
}

func (r *repoStub) Insert(_ context.Context, task tasks.Task) error {
	r.items[task.ID] = task
	return nil
}

func (r *repoStub) Get(_ context.Context, id uuid.UUID) (tasks.Task, error) {
	task, ok := r.items[id]
	if !ok {
		return tasks.Task{}, tasks.ErrTaskNotFound
	}
	return task, nil
}

func (r *repoStub) Update(_ context.Context, task tasks.Task) error {
	r.items[task.ID] = task
	return nil
}

func (r *repoStub) List(_ context.Context, _ tasks.ListFilter) ([]tasks.Task, error) {
	out := make([]tasks.Task, 0, len(r.items))
	for _, task := range r.items {
		out = append(out, task)
	}
	return out, nil
}

type keyStub struct {
	seen map[string]bool
}

func (k *keyStub) CheckAndInsert(_ context.Context, key, _ string) error {
	if k.seen[key] {
		return shared.ErrIdempotencyConflict
	}
	k.seen[key] = true
	return nil
}

func (k *keyStub) Delete(_ context.Context, key string) error {
	delete(k.seen, key)
	return nil
}

func newTestRouter() (http.Handler, *repoStub, *keyStub) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := &repoStub{items: map[uuid.UUID]tasks.Task{}}
	keys := &keyStub{seen: map[string]bool{}}
	svc := tasks.NewService(repo, nil, nil, logger)
	r := chi.NewRouter()
	NewHandler(logger, svc, keys).MountRoutes(r)
	return r, repo, keys
}

func TestCreateAndFetchTask(t *testing.T) {
	router, _, _ := newTestRouter()

	body := `{"clientId":"client-1","kind":"KYC_REVIEW","payload":{"investorId":"inv-1"}}`
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/tasks/", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code)

	var created tasks.Task
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, tasks.StatusQueued, created.Status)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tasks/"+created.ID.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tasks/"+uuid.NewString(), nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tasks/not-a-uuid", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateRejectsInvalidPayload(t *testing.T) {
	router, repo, keys := newTestRouter()

	req := httptest.NewRequest(http.MethodPost, "/api/tasks/", strings.NewReader(`{"clientId":"c","kind":"KYC_REVIEW","payload":{}}`))
	req.Header.Set("Idempotency-Key", "k-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Empty(t, repo.items)
	require.False(t, keys.seen["k-1"], "failed create releases the key")
}

func TestCreateHonoursIdempotencyKey(t *testing.T) {
	router, repo, _ := newTestRouter()
	body := `{"clientId":"c","kind":"REPORT_DRAFT"}`

	for i, want := range []int{http.StatusCreated, http.StatusConflict} {
		req := httptest.NewRequest(http.MethodPost, "/api/tasks/", strings.NewReader(body))
		req.Header.Set("Idempotency-Key", "same")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		require.Equal(t, want, rec.Code, "attempt %d", i)
	}
	require.Len(t, repo.items, 1)
}

func TestApproveRequiresActorAndReviewState(t *testing.T) {
	router, repo, _ := newTestRouter()
	id := uuid.New()
	repo.items[id] = tasks.Task{ID: id, ClientID: "c", Kind: tasks.KindQCCheck, Status: tasks.StatusNeedsReview}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/tasks/"+id.String()+"/approve", nil))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/tasks/"+id.String()+"/approve", strings.NewReader(`{"note":"ok"}`))
	req.Header.Set("X-Actor-ID", "42")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, tasks.StatusDone, repo.items[id].Status)

	req = httptest.NewRequest(http.MethodPost, "/api/tasks/"+id.String()+"/approve", nil)
	req.Header.Set("X-Actor-ID", "42")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusConflict, rec.Code)
}
