package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/pos-ledger/internal/credit"
	"github.com/odyssey-erp/pos-ledger/internal/observability"
	"github.com/odyssey-erp/pos-ledger/internal/returns"
	"github.com/odyssey-erp/pos-ledger/internal/sales"
	"github.com/odyssey-erp/pos-ledger/internal/stock"
	"github.com/odyssey-erp/pos-ledger/jobs"
)

// HealthChecker reports whether a backing dependency is reachable.
type HealthChecker func(ctx context.Context) error

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	StockHandler   *stock.Handler
	CreditHandler  *credit.Handler
	SalesHandler   *sales.Handler
	ReturnsHandler *returns.Handler
	JobHandler     *jobs.Handler
	Metrics        *observability.Metrics
	// Checks run on /readyz keyed by dependency name.
	Checks map[string]HealthChecker
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

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", readiness(params.Checks, params.Logger))

	if params.StockHandler != nil {
		r.Route("/stock", params.StockHandler.MountRoutes)
	}
	if params.CreditHandler != nil {
		r.Route("/customers/{id}", params.CreditHandler.MountRoutes)
	}
	if params.SalesHandler != nil {
		r.Route("/sales", params.SalesHandler.MountRoutes)
	}
	if params.ReturnsHandler != nil {
		r.Route("/returns", params.ReturnsHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	return r
}

func readiness(checks map[string]HealthChecker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status := http.StatusOK
		result := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				if logger != nil {
					logger.Warn("readiness check failed", slog.String("dependency", name), slog.Any("error", err))
				}
				result[name] = "unavailable"
				status = http.StatusServiceUnavailable
				continue
			}
			result[name] = "ok"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(result)
	}
}
