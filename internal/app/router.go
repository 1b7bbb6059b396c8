package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/odyssey-cmms/internal/auth"
	"github.com/odyssey-erp/odyssey-cmms/internal/inventory"
	"github.com/odyssey-erp/odyssey-cmms/internal/meters"
	"github.com/odyssey-erp/odyssey-cmms/internal/observability"
	"github.com/odyssey-erp/odyssey-cmms/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-cmms/internal/pm"
	"github.com/odyssey-erp/odyssey-cmms/internal/returns"
	"github.com/odyssey-erp/odyssey-cmms/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	Verifier         *auth.Verifier
	InventoryHandler *inventory.Handler
	ReturnsHandler   *returns.Handler
	MetersHandler    *meters.Handler
	PMHandler        *pm.Handler
	JobHandler       *jobs.Handler
	Metrics          *observability.Metrics
}

// NewRouter constructs the chi.Router with API defaults. Everything under /api
// requires a bearer principal.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	if params.Config == nil || !params.Config.IsProduction() {
		r.Use(chimw.Logger)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware(params.Verifier, params.Logger))
		if params.InventoryHandler != nil {
			r.Route("/inventory", params.InventoryHandler.MountRoutes)
		}
		if params.ReturnsHandler != nil {
			r.Route("/returns", params.ReturnsHandler.MountRoutes)
		}
		if params.PMHandler != nil {
			r.Route("/pm/schedules", params.PMHandler.MountRoutes)
		}
		r.Route("/assets/{id}", func(r chi.Router) {
			if params.MetersHandler != nil {
				params.MetersHandler.MountRoutes(r)
			}
			if params.PMHandler != nil {
				params.PMHandler.MountAssetRoutes(r)
			}
		})
	})

	return r
}
