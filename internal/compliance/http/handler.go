package compliancehttp

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/fundops/internal/compliance"
	"github.com/odyssey-erp/fundops/internal/platform/httpx"
	"github.com/odyssey-erp/fundops/internal/tasks"
	taskshttp "github.com/odyssey-erp/fundops/internal/tasks/http"
)

var validate = validator.New()

// Handler exposes compliance checks and rollups.
type Handler struct {
	logger  *slog.Logger
	checker *compliance.Checker
	tasks   *tasks.Service
}

// NewHandler constructs the handler. taskService may be nil, in which case
// asynchronous checks are rejected.
func NewHandler(logger *slog.Logger, checker *compliance.Checker, taskService *tasks.Service) *Handler {
	return &Handler{logger: logger, checker: checker, tasks: taskService}
}

// MountRoutes registers routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/api/compliance/check", h.check)
	r.Get("/api/compliance/documents/{id}/status", h.documentStatus)
	r.Get("/api/compliance/summary", h.summary)
}

type checkRequest struct {
	DocumentID string `json:"documentId" validate:"required"`
	PolicyID   string `json:"policyId"`
	ClientID   string `json:"clientId" validate:"required_if=Async true"`
	Async      bool   `json:"async"`
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %w", httpx.ErrValidation, err))
		return
	}
	if req.Async {
		h.enqueue(w, r, req)
		return
	}
	if req.PolicyID != "" {
		check, err := h.checker.Check(r.Context(), req.DocumentID, req.PolicyID)
		if err != nil {
			h.fail(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, map[string]any{"check": check})
		return
	}
	res, err := h.checker.CheckAll(r.Context(), req.DocumentID)
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request, req checkRequest) {
	if h.tasks == nil {
		httpx.RespondError(w, fmt.Errorf("%w: task queue not configured", httpx.ErrUnavailable))
		return
	}
	raw, err := json.Marshal(tasks.ComplianceCheckPayload{DocumentID: req.DocumentID, PolicyID: req.PolicyID})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	task, err := h.tasks.Create(r.Context(), tasks.CreateInput{ClientID: req.ClientID, Kind: tasks.KindComplianceCheck, Payload: raw})
	if err != nil {
		httpx.RespondError(w, taskshttp.MapError(err))
		return
	}
	httpx.JSON(w, http.StatusAccepted, task)
}

func (h *Handler) documentStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.checker.DocumentStatus(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, status)
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.checker.Summary(r.Context(), strings.TrimSpace(r.URL.Query().Get("clientId")))
	if err != nil {
		h.fail(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	mapped := MapError(err)
	if mapped == err {
		h.logger.Error("compliance request failed", slog.Any("error", err))
	}
	httpx.RespondError(w, mapped)
}

// MapError translates compliance errors into httpx sentinels.
func MapError(err error) error {
	switch {
	case errors.Is(err, compliance.ErrDocumentNotFound), errors.Is(err, compliance.ErrPolicyNotFound):
		return fmt.Errorf("%w: %w", httpx.ErrNotFound, err)
	case errors.Is(err, compliance.ErrDocumentNotIndexed), errors.Is(err, compliance.ErrInvalidPolicy):
		return fmt.Errorf("%w: %w", httpx.ErrUnprocessable, err)
	case errors.Is(err, compliance.ErrInvalidScope):
		return fmt.Errorf("%w: %w", httpx.ErrValidation, err)
	}
	return err
}
