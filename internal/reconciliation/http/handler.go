package reconhttp

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/fundops/internal/ledger"
	"github.com/odyssey-erp/fundops/internal/platform/httpx"
	"github.com/odyssey-erp/fundops/internal/reconciliation"
	"github.com/odyssey-erp/fundops/internal/tasks"
	taskshttp "github.com/odyssey-erp/fundops/internal/tasks/http"
)

var validate = validator.New()

// Handler exposes reconciliation runs.
type Handler struct {
	logger  *slog.Logger
	service *reconciliation.Service
	tasks   *tasks.Service
}

// NewHandler constructs the handler. taskService may be nil, in which case
// asynchronous runs are rejected.
func NewHandler(logger *slog.Logger, service *reconciliation.Service, taskService *tasks.Service) *Handler {
	return &Handler{logger: logger, service: service, tasks: taskService}
}

// MountRoutes registers routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/api/reconciliation/runs", h.run)
}

type runRequest struct {
	ClientID    string    `json:"clientId" validate:"required"`
	PeriodStart time.Time `json:"periodStart" validate:"required"`
	PeriodEnd   time.Time `json:"periodEnd" validate:"required,gtefield=PeriodStart"`
	Currency    string    `json:"currency" validate:"omitempty,len=3,alpha"`
	BankCSV     string    `json:"bankCsv" validate:"required_with=LedgerCSV"`
	LedgerCSV   string    `json:"ledgerCsv" validate:"required_with=BankCSV"`
	Async       bool      `json:"async"`
}

func (h *Handler) run(w http.ResponseWriter, r *http.Request) {
	var req runRequest
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

	ledgerReq := ledger.Request{ClientID: req.ClientID, PeriodStart: req.PeriodStart, PeriodEnd: req.PeriodEnd, Currency: req.Currency}
	var (
		res reconciliation.Result
		err error
	)
	if req.BankCSV != "" {
		res, err = h.service.ReconcileArtifacts(r.Context(), ledgerReq, req.BankCSV, req.LedgerCSV)
	} else {
		res, err = h.service.Reconcile(r.Context(), ledgerReq)
	}
	if err != nil {
		mapped := MapError(err)
		if mapped == err {
			h.logger.Error("reconciliation run", slog.String("client_id", req.ClientID), slog.Any("error", err))
		}
		httpx.RespondError(w, mapped)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"result": res,
		"flags":  reconciliation.FlagsFor(res),
	})
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request, req runRequest) {
	if h.tasks == nil {
		httpx.RespondError(w, fmt.Errorf("%w: task queue not configured", httpx.ErrUnavailable))
		return
	}
	payload := tasks.BankReconPayload{PeriodStart: req.PeriodStart, PeriodEnd: req.PeriodEnd, Currency: req.Currency}
	if req.BankCSV != "" {
		payload.Artifacts = &tasks.ReconArtifacts{BankCSV: req.BankCSV, LedgerCSV: req.LedgerCSV}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	task, err := h.tasks.Create(r.Context(), tasks.CreateInput{ClientID: req.ClientID, Kind: tasks.KindBankRecon, Payload: raw})
	if err != nil {
		httpx.RespondError(w, taskshttp.MapError(err))
		return
	}
	httpx.JSON(w, http.StatusAccepted, task)
}

// MapError translates reconciliation errors into httpx sentinels.
func MapError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrInvalidRequest), errors.Is(err, ledger.ErrInvalidCurrency):
		return fmt.Errorf("%w: %w", httpx.ErrValidation, err)
	case errors.Is(err, ledger.ErrMixedCurrency):
		return fmt.Errorf("%w: %w", httpx.ErrUnprocessable, err)
	case errors.Is(err, ledger.ErrDataUnavailable):
		return fmt.Errorf("%w: %w", httpx.ErrUnavailable, err)
	}
	return err
}
