package taskshttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/fundops/internal/platform/httpx"
	"github.com/odyssey-erp/fundops/internal/shared"
	"github.com/odyssey-erp/fundops/internal/tasks"
)

const idempotencyModule = "tasks.create"

// IdempotencyStore guards task creation against duplicate submissions.
type IdempotencyStore interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Handler exposes the task board over JSON.
type Handler struct {
	logger      *slog.Logger
	service     *tasks.Service
	idempotency IdempotencyStore
}

// NewHandler constructs the handler. idempotency may be nil.
func NewHandler(logger *slog.Logger, service *tasks.Service, idempotency IdempotencyStore) *Handler {
	return &Handler{logger: logger, service: service, idempotency: idempotency}
}

// MountRoutes registers routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/api/tasks", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Get("/{id}", h.show)
		r.Post("/{id}/approve", h.approve)
	})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var input tasks.CreateInput
	if err := httpx.DecodeJSON(r, &input); err != nil {
		httpx.RespondError(w, err)
		return
	}
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" && h.idempotency != nil {
		if err := h.idempotency.CheckAndInsert(r.Context(), key, idempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				httpx.RespondError(w, fmt.Errorf("%w: %w", httpx.ErrDuplicate, err))
				return
			}
			h.logger.Error("idempotency check", slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
	}
	task, err := h.service.Create(r.Context(), input)
	if err != nil {
		if key != "" && h.idempotency != nil {
			if delErr := h.idempotency.Delete(r.Context(), key); delErr != nil {
				h.logger.Warn("release idempotency key", slog.Any("error", delErr))
			}
		}
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, task)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := tasks.ListFilter{
		ClientID: strings.TrimSpace(q.Get("clientId")),
		Kind:     tasks.Kind(strings.ToUpper(q.Get("kind"))),
		Status:   tasks.Status(strings.ToUpper(q.Get("status"))),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			httpx.RespondError(w, fmt.Errorf("%w: limit must be a number", httpx.ErrValidation))
			return
		}
		filter.Limit = limit
	}
	items, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"tasks": items})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	task, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, task)
}

type approveRequest struct {
	Note string `json:"note"`
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	actor, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get("X-Actor-ID")), 10, 64)
	if err != nil || actor <= 0 {
		httpx.RespondError(w, fmt.Errorf("%w: X-Actor-ID header required", httpx.ErrUnauthorized))
		return
	}
	var req approveRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	task, err := h.service.Approve(r.Context(), id, actor, req.Note)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, task)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	mapped := MapError(err)
	if mapped == err {
		h.logger.Error("tasks request failed", slog.Any("error", err))
	}
	httpx.RespondError(w, mapped)
}

// MapError translates task errors into httpx sentinels.
func MapError(err error) error {
	switch {
	case errors.Is(err, tasks.ErrTaskNotFound):
		return fmt.Errorf("%w: %w", httpx.ErrNotFound, err)
	case errors.Is(err, tasks.ErrInvalidKind), errors.Is(err, tasks.ErrInvalidPayload), errors.Is(err, tasks.ErrInvalidInput):
		return fmt.Errorf("%w: %w", httpx.ErrValidation, err)
	case errors.Is(err, tasks.ErrInvalidTransition):
		return fmt.Errorf("%w: %w", httpx.ErrConflict, err)
	}
	return err
}

func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: invalid task id", httpx.ErrValidation))
		return uuid.Nil, false
	}
	return id, true
}
