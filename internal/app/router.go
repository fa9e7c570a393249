package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	compliancehttp "github.com/odyssey-erp/fundops/internal/compliance/http"
	gaphttp "github.com/odyssey-erp/fundops/internal/gapanalysis/http"
	"github.com/odyssey-erp/fundops/internal/observability"
	reconhttp "github.com/odyssey-erp/fundops/internal/reconciliation/http"
	taskshttp "github.com/odyssey-erp/fundops/internal/tasks/http"
	"github.com/odyssey-erp/fundops/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	TasksHandler      *taskshttp.Handler
	ReconHandler      *reconhttp.Handler
	ComplianceHandler *compliancehttp.Handler
	GapHandler        *gaphttp.Handler
	JobHandler        *jobs.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with the API defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.TasksHandler != nil {
		params.TasksHandler.MountRoutes(r)
	}
	if params.ReconHandler != nil {
		params.ReconHandler.MountRoutes(r)
	}
	if params.ComplianceHandler != nil {
		params.ComplianceHandler.MountRoutes(r)
	}
	if params.GapHandler != nil {
		params.GapHandler.MountRoutes(r)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
