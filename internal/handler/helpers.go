package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/boddenberg/cashflow-bfa-go/internal/domain"
	"github.com/boddenberg/cashflow-bfa-go/internal/service"

	"go.uber.org/zap"
)

// ============================================================
// Shared helper functions
// ============================================================

const dateLayout = "2006-01-02"

// maxMonths bounds the trailing window a client can request.
const maxMonths = 60

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// decodeBody decodes an optional JSON body into dst. An empty body leaves dst untouched.
func decodeBody(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &domain.ErrValidation{Field: "body", Message: "invalid JSON: " + err.Error()}
	}
	return nil
}

// parseQuery reads the cash-flow view selected by the query string:
// from, to (YYYY-MM-DD, to exclusive), type, category, client, asOf, months.
func parseQuery(r *http.Request) (service.Query, error) {
	v := r.URL.Query()
	var q service.Query

	from, err := parseDateParam(v.Get("from"), "from")
	if err != nil {
		return q, err
	}
	to, err := parseDateParam(v.Get("to"), "to")
	if err != nil {
		return q, err
	}
	if from != nil && to != nil && !to.After(*from) {
		return q, &domain.ErrValidation{Field: "to", Message: "must be after from"}
	}
	q.Filter.From, q.Filter.To = from, to

	switch t := strings.ToLower(strings.TrimSpace(v.Get("type"))); t {
	case "":
	case string(domain.Income), string(domain.Expense):
		q.Filter.Type = domain.ItemType(t)
	default:
		return q, &domain.ErrValidation{Field: "type", Message: "must be income or expense"}
	}
	q.Filter.Category = strings.TrimSpace(v.Get("category"))
	q.Filter.Client = strings.TrimSpace(v.Get("client"))

	asOf, err := parseDateParam(v.Get("asOf"), "asOf")
	if err != nil {
		return q, err
	}
	if asOf != nil {
		q.AsOf = *asOf
	}

	if s := v.Get("months"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > maxMonths {
			return q, &domain.ErrValidation{Field: "months", Message: "must be between 1 and " + strconv.Itoa(maxMonths)}
		}
		q.TrendMonths = n
	}
	return q, nil
}

func parseDateParam(s, field string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil, &domain.ErrValidation{Field: field, Message: "expected YYYY-MM-DD"}
	}
	return &t, nil
}

// handleServiceError maps domain errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var notFound *domain.ErrNotFound
	var external *domain.ErrExternalService
	var circuitOpen *domain.ErrCircuitOpen
	var timeout *domain.ErrTimeout
	var validation *domain.ErrValidation
	var unauthorized *domain.ErrUnauthorized
	var conflict *domain.ErrConflict
	var unavailable *domain.ErrUnavailable

	switch {
	case errors.As(err, &notFound):
		logger.Debug("not found", zap.String("error", err.Error()))
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &validation):
		logger.Debug("validation error", zap.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &conflict):
		logger.Debug("conflict", zap.String("error", err.Error()))
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &unauthorized):
		logger.Warn("unauthorized", zap.String("error", err.Error()))
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.As(err, &circuitOpen):
		logger.Error("circuit breaker open", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &unavailable):
		logger.Debug("feature unavailable", zap.String("error", err.Error()))
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &timeout):
		logger.Error("request timeout", zap.Error(err))
		writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.As(err, &external):
		logger.Error("data backend error", zap.String("service", external.Service), zap.Error(err))
		writeError(w, http.StatusBadGateway, "failed to load data from "+external.Service)
	default:
		logger.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
