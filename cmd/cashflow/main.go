package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/cashflow-bfa-go/internal/cashflow"
	"github.com/boddenberg/cashflow-bfa-go/internal/config"
	"github.com/boddenberg/cashflow-bfa-go/internal/domain"
	"github.com/boddenberg/cashflow-bfa-go/internal/handler"
	"github.com/boddenberg/cashflow-bfa-go/internal/infra/cache"
	"github.com/boddenberg/cashflow-bfa-go/internal/infra/events"
	"github.com/boddenberg/cashflow-bfa-go/internal/infra/objectstore"
	"github.com/boddenberg/cashflow-bfa-go/internal/infra/observability"
	"github.com/boddenberg/cashflow-bfa-go/internal/infra/postgres"
	"github.com/boddenberg/cashflow-bfa-go/internal/infra/resilience"
	"github.com/boddenberg/cashflow-bfa-go/internal/infra/scheduler"
	"github.com/boddenberg/cashflow-bfa-go/internal/infra/supabase"
	"github.com/boddenberg/cashflow-bfa-go/internal/port"
	"github.com/boddenberg/cashflow-bfa-go/internal/service"

	"go.uber.org/zap"
)

const postgresMaxConns = 10

func main() {
	// --- Load .env file (for local development) ---
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.Bool("use_postgres", cfg.UsePostgres()),
		zap.Bool("use_supabase", cfg.UseSupabase()),
		zap.Bool("auth_enabled", cfg.JWTSecret != ""),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.String("reporting_currency", cfg.ReportingCurrency),
		zap.Float64("usd_rate", cfg.USDRate),
		zap.String("balance_order", cfg.BalanceOrder),
		zap.String("dedup_strategy", cfg.DedupStrategy),
		zap.String("refresh_schedule", cfg.RefreshSchedule),
	)

	// --- Tracing ---
	shutdownTracer, err := observability.InitTracer(cfg.OTLPEndpoint, "cashflow-bfa")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdownTracer(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Data backend ---
	ctx := context.Background()
	var store port.RecordsStore
	var backendName string
	var closeStore func()

	switch {
	case cfg.UsePostgres():
		pg, err := postgres.Connect(ctx, cfg.DatabaseURL, postgresMaxConns, logger)
		if err != nil {
			logger.Fatal("failed to connect to postgres", zap.Error(err))
		}
		store, backendName, closeStore = pg, "postgres", pg.Close
		logger.Info("using Postgres as data backend")

	case cfg.UseSupabase():
		resilienceCfg := resilience.Config{
			MaxRetries:     cfg.MaxRetries,
			InitialBackoff: cfg.InitialBackoff,
			MaxConcurrency: cfg.MaxConcurrency,
		}
		store = supabase.NewClient(
			&http.Client{Timeout: cfg.HTTPTimeout},
			cfg.SupabaseURL,
			cfg.SupabaseAnonKey,
			cfg.SupabaseServiceKey,
			resilience.NewCircuitBreaker("supabase"),
			resilienceCfg,
			logger,
		)
		backendName, closeStore = "supabase", func() {}
		logger.Info("using Supabase as data backend", zap.String("supabase_url", cfg.SupabaseURL))

	default:
		logger.Fatal("no data backend configured: set DATABASE_URL or SUPABASE_URL")
	}
	defer closeStore()

	// --- Engine ---
	normalizer := cashflow.NewNormalizer(cfg.ReportingCurrency, rateTable(cfg))
	pipeline := cashflow.NewPipeline(normalizer)

	snapshots := cache.New[*cashflow.Result](cfg.CacheTTL)
	defer snapshots.Close()

	broadcaster := events.NewBroadcaster(logger, func(evt domain.Event) {
		metrics.IncrEventPublished(evt.Type)
	})

	// --- Services ---
	cashflowSvc := service.NewCashFlowService(store, pipeline, snapshots, broadcaster, service.Settings{
		Identity:      cashflow.IdentityByName(cfg.DedupStrategy),
		BalanceOrder:  cashflow.ParseBalanceOrder(cfg.BalanceOrder),
		AverageWindow: cfg.AverageWindowMonths,
	}, metrics, logger)

	paymentsSvc := service.NewPaymentsService(store, cashflowSvc, broadcaster, normalizer, logger)

	var sink port.ExportSink
	if cfg.ExportBucket != "" {
		gcs, err := objectstore.NewGCSSink(ctx, cfg.ExportBucket, cfg.ExportPrefix, cfg.ExportCredentialsFile)
		if err != nil {
			logger.Fatal("failed to open export bucket", zap.String("bucket", cfg.ExportBucket), zap.Error(err))
		}
		defer gcs.Close()
		sink = gcs
		logger.Info("CSV export archive enabled", zap.String("bucket", cfg.ExportBucket))
	} else {
		logger.Warn("export archive: EXPORT_BUCKET not set, archive routes unavailable")
	}
	exportSvc := service.NewExportService(cashflowSvc, sink, logger)

	// --- Scheduler ---
	sched := scheduler.New(logger, cfg.HTTPTimeout*3)
	if cfg.RefreshSchedule != "" {
		if err := sched.AddJob(cfg.RefreshSchedule, cashflowSvc.RefreshJob()); err != nil {
			logger.Fatal("invalid REFRESH_SCHEDULE", zap.String("schedule", cfg.RefreshSchedule), zap.Error(err))
		}
	}
	sched.Start()

	// --- Router ---
	router := handler.NewRouter(handler.Deps{
		CashFlow:       cashflowSvc,
		Payments:       paymentsSvc,
		Exports:        exportSvc,
		Events:         broadcaster,
		Backend:        store,
		Auth:           handler.NewTokenValidator(cfg.JWTSecret),
		BackendName:    backendName,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Metrics:        metrics,
		Logger:         logger,
	})

	// --- Server ---
	// No WriteTimeout: /v1/events keeps websocket connections open.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	sched.Stop(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

// rateTable expresses the configured COP/USD rate relative to the reporting currency.
func rateTable(cfg *config.Config) map[string]float64 {
	switch cfg.ReportingCurrency {
	case cashflow.USD:
		return map[string]float64{cashflow.COP: 1 / cfg.USDRate}
	default:
		return map[string]float64{cashflow.USD: cfg.USDRate}
	}
}
