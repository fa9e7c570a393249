package gaphttp

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	compliancehttp "github.com/odyssey-erp/fundops/internal/compliance/http"
	"github.com/odyssey-erp/fundops/internal/gapanalysis"
	"github.com/odyssey-erp/fundops/internal/platform/httpx"
	taskshttp "github.com/odyssey-erp/fundops/internal/tasks/http"
)

// Handler exposes gap analysis.
type Handler struct {
	logger  *slog.Logger
	service *gapanalysis.Service
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service *gapanalysis.Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/api/compliance/gap-analysis", h.analyze)
}

type analyzeRequest struct {
	DocumentID  string `json:"documentId"`
	ClientID    string `json:"clientId"`
	CreateTasks bool   `json:"createTasks"`
	AssigneeID  string `json:"assigneeId"`
}

func (h *Handler) analyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	analysis, err := h.service.Analyze(r.Context(), gapanalysis.Scope{DocumentID: req.DocumentID, ClientID: req.ClientID})
	if err != nil {
		mapped := compliancehttp.MapError(err)
		if mapped == err {
			h.logger.Error("gap analysis", slog.Any("error", err))
		}
		httpx.RespondError(w, mapped)
		return
	}
	if !req.CreateTasks {
		httpx.JSON(w, http.StatusOK, analysis)
		return
	}
	created, err := h.service.CreateTasks(r.Context(), analysis, req.AssigneeID)
	if err != nil {
		mapped := taskshttp.MapError(err)
		if mapped == err {
			h.logger.Error("gap analysis tasks", slog.Any("error", err))
		}
		httpx.RespondError(w, mapped)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"analysis": analysis,
		"tasks":    created,
	})
}
