package handler

import (
	"net/http"
	"strconv"

	"github.com/boddenberg/cashflow-bfa-go/internal/domain"
	"github.com/boddenberg/cashflow-bfa-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Write path
// ============================================================

func markPaidHandler(svc *service.PaymentsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/payments/{paymentId}/mark-paid")
		defer span.End()

		id, err := strconv.ParseInt(chi.URLParam(r, "paymentId"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "paymentId must be an integer")
			return
		}
		span.SetAttributes(attribute.Int64("payment.id", id))

		var req domain.MarkPaidRequest
		if err := decodeBody(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		res, err := svc.MarkPaymentPaid(ctx, id, req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		logger.Info("payment marked paid",
			zap.Int64("payment_id", id),
			zap.String("user_id", UserIDFromContext(ctx)),
			zap.Bool("income_recorded", res.Income != nil),
		)
		writeJSON(w, http.StatusOK, res)
	}
}

func createIncomeHandler(svc *service.PaymentsService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/incomes")
		defer span.End()

		var req domain.NewIncomeRequest
		if err := decodeBody(r, &req); err != nil {
			handleServiceError(w, err, logger)
			return
		}

		created, err := svc.CreateIncome(ctx, req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

func invalidateHandler(svc *service.PaymentsService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc.InvalidateAll(r.Context())
		writeJSON(w, http.StatusAccepted, domain.SuccessResponse{Message: "cash-flow snapshots invalidated"})
	}
}
