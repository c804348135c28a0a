package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/boddenberg/cashflow-bfa-go/internal/domain"
	"github.com/boddenberg/cashflow-bfa-go/internal/infra/events"
	"github.com/boddenberg/cashflow-bfa-go/internal/infra/observability"
	"github.com/boddenberg/cashflow-bfa-go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// Pinger reports whether the data backend answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the services and infrastructure the router serves.
type Deps struct {
	CashFlow *service.CashFlowService
	Payments *service.PaymentsService
	Exports  *service.ExportService
	Events   *events.Broadcaster
	Backend  Pinger
	Auth     *TokenValidator // nil disables auth on /v1

	BackendName    string
	AllowedOrigins []string
	Metrics        *observability.Metrics
	Logger         *zap.Logger
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Content-Disposition", "X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(d.Backend, d.BackendName))
	r.Get("/readyz", readyzHandler(d.Backend))
	r.Handle("/metrics", promhttp.HandlerFor(d.Metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		if d.Auth != nil {
			r.Use(JWTAuthMiddleware(d.Auth, logger))
		}

		// =============================================
		// Cash flow (read side)
		// =============================================
		r.Route("/cashflow", func(r chi.Router) {
			r.Get("/items", itemsHandler(d.CashFlow, logger))
			r.Get("/monthly", monthlyHandler(d.CashFlow, logger))
			r.Get("/categories", categoriesHandler(d.CashFlow, logger))
			r.Get("/clients", clientsHandler(d.CashFlow, logger))
			r.Get("/metrics", cashflowMetricsHandler(d.CashFlow, logger))
			r.Get("/projection", projectionHandler(d.CashFlow, logger))
			r.Get("/projection/growth", growthProjectionHandler(d.CashFlow, logger))
			r.Get("/duplicates", duplicatesHandler(d.CashFlow, logger))
			r.Get("/export.csv", exportCSVHandler(d.CashFlow, logger))
			r.Post("/export", archiveExportHandler(d.Exports, logger))
			r.Get("/exports", listExportsHandler(d.Exports, logger))
			r.Post("/invalidate", invalidateHandler(d.Payments))
		})

		r.Get("/receivables", receivablesHandler(d.CashFlow, logger))

		// =============================================
		// Write path
		// =============================================
		r.Post("/payments/{paymentId}/mark-paid", markPaidHandler(d.Payments, logger))
		r.Post("/incomes", createIncomeHandler(d.Payments, logger))

		// =============================================
		// Invalidation stream & metrics
		// =============================================
		r.Get("/events", eventsHandler(d.Events, d.AllowedOrigins, logger))
		r.Get("/metrics/pipeline", pipelineMetricsHandler(d.Metrics))
	})

	return r
}

// ============================================================
// Health
// ============================================================

func healthzHandler(backend Pinger, name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().Format(time.RFC3339)

		services := []domain.ServiceHealth{
			{Name: "cashflow-bfa", Status: "healthy", LastChecked: now},
		}

		if backend != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
			defer cancel()

			start := time.Now()
			err := backend.Ping(ctx)
			status := "healthy"
			if err != nil {
				status = "unhealthy"
			}
			services = append(services, domain.ServiceHealth{
				Name: name, Status: status, LatencyMs: time.Since(start).Milliseconds(), LastChecked: now,
			})
		}

		overallStatus := "healthy"
		for _, s := range services {
			if s.Status != "healthy" {
				overallStatus = "degraded"
			}
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{
			Status:   overallStatus,
			Services: services,
		})
	}
}

func readyzHandler(backend Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if backend == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "no data backend configured"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}

func pipelineMetricsHandler(metrics *observability.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, metrics.GetPipelineSnapshot())
	}
}
