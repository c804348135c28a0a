package handler

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/boddenberg/cashflow-bfa-go/internal/cashflow"
	"github.com/boddenberg/cashflow-bfa-go/internal/domain"
	"github.com/boddenberg/cashflow-bfa-go/internal/service"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Response shapes
// ============================================================

type itemsResponse struct {
	Items        []domain.CashFlowItem `json:"items"`
	BalanceOrder string                `json:"balanceOrder"`
	Currency     string                `json:"currency"`
	AsOf         string                `json:"asOf"`
}

type metricsResponse struct {
	domain.Metrics
	Currency string                       `json:"currency"`
	AsOf     string                       `json:"asOf"`
	Warnings []cashflow.ConversionWarning `json:"warnings"`
}

type projectionResponse struct {
	Model      string                   `json:"model"`
	AvgIncome  float64                  `json:"avgIncome"`
	AvgExpense float64                  `json:"avgExpense"`
	Points     []domain.ProjectionPoint `json:"points"`
}

type duplicatesResponse struct {
	Count   int                       `json:"count"`
	Dropped []domain.DroppedDuplicate `json:"dropped"`
}

// snapshotHandler serves one view of a pipeline result.
func snapshotHandler(svc *service.CashFlowService, route string, logger *zap.Logger, view func(*cashflow.Result) any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET "+route)
		defer span.End()

		q, err := parseQuery(r)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		res, err := svc.Snapshot(ctx, q)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.Int("items", len(res.Items)))
		writeJSON(w, http.StatusOK, view(res))
	}
}

// ============================================================
// Read side
// ============================================================

func itemsHandler(svc *service.CashFlowService, logger *zap.Logger) http.HandlerFunc {
	return snapshotHandler(svc, "/v1/cashflow/items", logger, func(res *cashflow.Result) any {
		return itemsResponse{
			Items:        res.Items,
			BalanceOrder: res.BalanceOrder.String(),
			Currency:     svc.ReportingCurrency(),
			AsOf:         res.AsOf.Format(dateLayout),
		}
	})
}

func monthlyHandler(svc *service.CashFlowService, logger *zap.Logger) http.HandlerFunc {
	return snapshotHandler(svc, "/v1/cashflow/monthly", logger, func(res *cashflow.Result) any {
		return res.Monthly
	})
}

func categoriesHandler(svc *service.CashFlowService, logger *zap.Logger) http.HandlerFunc {
	return snapshotHandler(svc, "/v1/cashflow/categories", logger, func(res *cashflow.Result) any {
		return res.Categories
	})
}

func clientsHandler(svc *service.CashFlowService, logger *zap.Logger) http.HandlerFunc {
	return snapshotHandler(svc, "/v1/cashflow/clients", logger, func(res *cashflow.Result) any {
		return res.Clients
	})
}

func cashflowMetricsHandler(svc *service.CashFlowService, logger *zap.Logger) http.HandlerFunc {
	return snapshotHandler(svc, "/v1/cashflow/metrics", logger, func(res *cashflow.Result) any {
		return metricsResponse{
			Metrics:  res.Metrics,
			Currency: svc.ReportingCurrency(),
			AsOf:     res.AsOf.Format(dateLayout),
			Warnings: res.Warnings,
		}
	})
}

func projectionHandler(svc *service.CashFlowService, logger *zap.Logger) http.HandlerFunc {
	return snapshotHandler(svc, "/v1/cashflow/projection", logger, func(res *cashflow.Result) any {
		return projectionResponse{
			Model:      "flat",
			AvgIncome:  res.Metrics.AvgIncome,
			AvgExpense: res.Metrics.AvgExpense,
			Points:     res.Projection,
		}
	})
}

func growthProjectionHandler(svc *service.CashFlowService, logger *zap.Logger) http.HandlerFunc {
	return snapshotHandler(svc, "/v1/cashflow/projection/growth", logger, func(res *cashflow.Result) any {
		return res.Growth
	})
}

func duplicatesHandler(svc *service.CashFlowService, logger *zap.Logger) http.HandlerFunc {
	return snapshotHandler(svc, "/v1/cashflow/duplicates", logger, func(res *cashflow.Result) any {
		return duplicatesResponse{Count: len(res.Dropped), Dropped: res.Dropped}
	})
}

func receivablesHandler(svc *service.CashFlowService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/receivables")
		defer span.End()

		asOf, err := parseDateParam(r.URL.Query().Get("asOf"), "asOf")
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		var at time.Time
		if asOf != nil {
			at = *asOf
		}

		summary, err := svc.Receivables(ctx, at)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

// ============================================================
// Export
// ============================================================

func exportCSVHandler(svc *service.CashFlowService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/cashflow/export.csv")
		defer span.End()

		q, err := parseQuery(r)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		// Rendered to a buffer so a failure can still become a JSON error.
		var buf bytes.Buffer
		n, err := svc.ExportCSV(ctx, q, &buf)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		span.SetAttributes(attribute.Int("items", n))

		filename := fmt.Sprintf("cashflow-%s.csv", time.Now().Format(dateLayout))
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
		w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
		w.WriteHeader(http.StatusOK)
		w.Write(buf.Bytes())
	}
}

func archiveExportHandler(svc *service.ExportService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/cashflow/export")
		defer span.End()

		q, err := parseQuery(r)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		res, err := svc.Archive(ctx, q)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, res)
	}
}

func listExportsHandler(svc *service.ExportService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/cashflow/exports")
		defer span.End()

		objs, err := svc.List(ctx)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, objs)
	}
}
