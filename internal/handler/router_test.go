package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/boddenberg/cashflow-bfa-go/internal/cashflow"
	"github.com/boddenberg/cashflow-bfa-go/internal/domain"
	"github.com/boddenberg/cashflow-bfa-go/internal/handler"
	"github.com/boddenberg/cashflow-bfa-go/internal/infra/cache"
	"github.com/boddenberg/cashflow-bfa-go/internal/infra/events"
	"github.com/boddenberg/cashflow-bfa-go/internal/infra/observability"
	"github.com/boddenberg/cashflow-bfa-go/internal/service"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

const testSecret = "super-secret-jwt-token-with-at-least-32-characters"

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// --- Fake store ---

type fakeStore struct {
	mu      sync.Mutex
	set     domain.RecordSet
	listErr error
	pingErr error
	nextID  int64
}

func newFakeStore() *fakeStore {
	paid := day(2024, 3, 10)
	return &fakeStore{nextID: 10, set: domain.RecordSet{
		Incomes: []domain.ManualIncomeRecord{{
			ID: 1, Description: "Payment for Website", Date: paid,
			Amount: 5_000_000, Type: "Project", Currency: "COP",
		}},
		Payments: []domain.ProjectPaymentRecord{
			{
				ID: 1, ProjectName: "Website", ClientName: "ACME", Date: day(2024, 3, 1),
				PaidDate: &paid, Amount: 5_000_000, Currency: "COP", Type: "Implementation", Status: "Paid",
			},
			{
				ID: 2, ProjectName: "Website", ClientName: "ACME", Date: day(2024, 4, 1),
				Amount: 1_000_000, Currency: "COP", Type: "Recurring", Status: "Pending",
			},
		},
		Expenses: []domain.ExpenseRecord{{
			ID: 1, Description: "Hosting", Date: day(2024, 3, 12), Amount: 2_000_000,
			Currency: "COP", Category: "Infrastructure", Status: "Paid", SourceType: domain.ExpenseVariable,
		}},
	}}
}

func (f *fakeStore) ListIncomes(_ context.Context) ([]domain.ManualIncomeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ManualIncomeRecord(nil), f.set.Incomes...), f.listErr
}

func (f *fakeStore) ListProjectPayments(_ context.Context) ([]domain.ProjectPaymentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.ProjectPaymentRecord(nil), f.set.Payments...), nil
}

func (f *fakeStore) ListExpenses(_ context.Context) ([]domain.ExpenseRecord, error) {
	return f.set.Expenses, nil
}

func (f *fakeStore) ListRecurringPlans(_ context.Context) ([]domain.RecurringPlan, error) {
	return nil, nil
}

func (f *fakeStore) GetProjectPayment(_ context.Context, id int64) (*domain.ProjectPaymentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.set.Payments {
		if p.ID == id {
			cp := p
			return &cp, nil
		}
	}
	return nil, &domain.ErrNotFound{Resource: "project payment", ID: "unknown"}
}

func (f *fakeStore) MarkPaymentPaid(_ context.Context, id int64, paidDate time.Time, method string) (*domain.ProjectPaymentRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.set.Payments {
		if f.set.Payments[i].ID == id {
			f.set.Payments[i].Status = domain.StatusPaid
			f.set.Payments[i].PaidDate = &paidDate
			f.set.Payments[i].PaymentMethod = method
			cp := f.set.Payments[i]
			return &cp, nil
		}
	}
	return nil, &domain.ErrNotFound{Resource: "project payment", ID: "unknown"}
}

func (f *fakeStore) CreateIncome(_ context.Context, in *domain.ManualIncomeRecord) (*domain.ManualIncomeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	cp := *in
	cp.ID = f.nextID
	f.set.Incomes = append(f.set.Incomes, cp)
	return &cp, nil
}

func (f *fakeStore) Ping(_ context.Context) error { return f.pingErr }

// --- Router setup ---

type testEnv struct {
	router http.Handler
	store  *fakeStore
	events *events.Broadcaster
}

func newEnv(t *testing.T, secret string) *testEnv {
	t.Helper()
	store := newFakeStore()
	logger := zap.NewNop()
	metrics := observability.NewMetrics()

	c := cache.New[*cashflow.Result](time.Minute)
	t.Cleanup(c.Close)

	b := events.NewBroadcaster(logger, nil)
	pipeline := cashflow.NewPipeline(nil)
	cf := service.NewCashFlowService(store, pipeline, c, b, service.Settings{}, metrics, logger)
	payments := service.NewPaymentsService(store, cf, b, pipeline.Normalizer(), logger)

	router := handler.NewRouter(handler.Deps{
		CashFlow:       cf,
		Payments:       payments,
		Exports:        service.NewExportService(cf, nil, logger),
		Events:         b,
		Backend:        store,
		Auth:           handler.NewTokenValidator(secret),
		BackendName:    "supabase",
		AllowedOrigins: []string{"*"},
		Metrics:        metrics,
		Logger:         logger,
	})
	return &testEnv{router: router, store: store, events: b}
}

func (e *testEnv) do(t *testing.T, method, target, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type itemsBody struct {
	Items        []domain.CashFlowItem `json:"items"`
	BalanceOrder string                `json:"balanceOrder"`
	Currency     string                `json:"currency"`
	AsOf         string                `json:"asOf"`
}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return tok
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub": "user-123",
		"aud": "authenticated",
		"exp": time.Now().Add(time.Hour).Unix(),
	}
}

// ============================================================
// Operational endpoints
// ============================================================

func TestHealthz(t *testing.T) {
	env := newEnv(t, "")

	rec := env.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	health := decode[domain.HealthStatus](t, rec)
	assert.Equal(t, "healthy", health.Status)
	require.Len(t, health.Services, 2)
	assert.Equal(t, "supabase", health.Services[1].Name)
}

func TestHealthz_DegradedWhenBackendDown(t *testing.T) {
	env := newEnv(t, "")
	env.store.pingErr = errors.New("connection refused")

	rec := env.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "degraded", decode[domain.HealthStatus](t, rec).Status)
}

func TestReadyzAndMetrics(t *testing.T) {
	env := newEnv(t, "")

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/readyz", "").Code)

	rec := env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cashflow_")
}

// ============================================================
// Read side
// ============================================================

func TestItems_DeduplicatedWithRunningBalance(t *testing.T) {
	env := newEnv(t, "")

	rec := env.do(t, http.MethodGet, "/v1/cashflow/items?asOf=2024-03-31", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[itemsBody](t, rec)
	assert.Equal(t, "descending", body.BalanceOrder)
	assert.Equal(t, "COP", body.Currency)
	assert.Equal(t, "2024-03-31", body.AsOf)

	items := body.Items
	require.Len(t, items, 2)
	assert.Equal(t, domain.Expense, items[0].Type)
	assert.Equal(t, -2_000_000.0, items[0].Balance)
	assert.Equal(t, domain.SourceProjectPayment, items[1].Source)
	assert.Equal(t, 3_000_000.0, items[1].Balance)
}

func TestItems_TypeFilter(t *testing.T) {
	env := newEnv(t, "")

	rec := env.do(t, http.MethodGet, "/v1/cashflow/items?asOf=2024-03-31&type=expense", "")
	require.Equal(t, http.StatusOK, rec.Code)

	items := decode[itemsBody](t, rec).Items
	require.Len(t, items, 1)
	assert.Equal(t, "Hosting", items[0].Description)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newEnv(t, "")

	rec := env.do(t, http.MethodGet, "/v1/cashflow/metrics?asOf=2024-03-31", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "COP", body["currency"])
	assert.Equal(t, "2024-03-31", body["asOf"])
	assert.EqualValues(t, 3_000_000, body["currentBalance"])
}

func TestDuplicatesEndpoint(t *testing.T) {
	env := newEnv(t, "")

	rec := env.do(t, http.MethodGet, "/v1/cashflow/duplicates?asOf=2024-03-31", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
}

func TestReceivablesEndpoint(t *testing.T) {
	env := newEnv(t, "")

	rec := env.do(t, http.MethodGet, "/v1/receivables?asOf=2024-03-31", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Website")
}

func TestExportCSV(t *testing.T) {
	env := newEnv(t, "")

	rec := env.do(t, http.MethodGet, "/v1/cashflow/export.csv?asOf=2024-03-31", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment;")

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	assert.Len(t, lines, 3)
}

func TestArchiveExport_UnavailableWithoutBucket(t *testing.T) {
	env := newEnv(t, "")

	rec := env.do(t, http.MethodPost, "/v1/cashflow/export", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestQueryValidation(t *testing.T) {
	env := newEnv(t, "")

	tests := []struct {
		name  string
		query string
	}{
		{"bad date", "from=2024-13-01"},
		{"bad type", "type=transfer"},
		{"inverted range", "from=2024-03-01&to=2024-02-01"},
		{"months out of range", "months=0"},
		{"months not a number", "months=abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/v1/cashflow/items?"+tt.query, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestBackendErrorIsBadGateway(t *testing.T) {
	env := newEnv(t, "")
	env.store.listErr = &domain.ErrExternalService{Service: "supabase/incomes", Err: errors.New("boom")}

	rec := env.do(t, http.MethodGet, "/v1/cashflow/items", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "supabase/incomes")
}

// ============================================================
// Write path
// ============================================================

func TestMarkPaid(t *testing.T) {
	env := newEnv(t, "")

	rec := env.do(t, http.MethodPost, "/v1/payments/2/mark-paid", `{"paid_date":"2024-04-02","payment_method":"Transfer"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decode[service.MarkPaidResult](t, rec)
	assert.Equal(t, domain.StatusPaid, res.Payment.Status)
	require.NotNil(t, res.Income)
	require.NotNil(t, res.Income.PaymentID)
	assert.Equal(t, int64(2), *res.Income.PaymentID)

	// Paying twice conflicts.
	rec = env.do(t, http.MethodPost, "/v1/payments/2/mark-paid", `{"paid_date":"2024-04-02"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestMarkPaid_InvalidatesSnapshot(t *testing.T) {
	env := newEnv(t, "")

	rec := env.do(t, http.MethodGet, "/v1/cashflow/metrics?asOf=2024-04-30", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/payments/2/mark-paid", `{"paid_date":"2024-04-02"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/cashflow/metrics?asOf=2024-04-30", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 4_000_000, body["currentBalance"])
}

func TestMarkPaid_Errors(t *testing.T) {
	env := newEnv(t, "")

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"non numeric id", "/v1/payments/abc/mark-paid", "", http.StatusBadRequest},
		{"unknown payment", "/v1/payments/99/mark-paid", "", http.StatusNotFound},
		{"bad date", "/v1/payments/2/mark-paid", `{"paid_date":"02/04/2024"}`, http.StatusBadRequest},
		{"unknown field", "/v1/payments/2/mark-paid", `{"paid":true}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestCreateIncome(t *testing.T) {
	env := newEnv(t, "")

	rec := env.do(t, http.MethodPost, "/v1/incomes",
		`{"description":"Consulting","date":"2024-03-20","amount":250,"type":"Consulting","currency":"USD"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	created := decode[domain.ManualIncomeRecord](t, rec)
	assert.Equal(t, int64(11), created.ID)
	assert.Equal(t, "USD", created.Currency)

	rec = env.do(t, http.MethodPost, "/v1/incomes", `{"description":"Bad","date":"2024-03-20","amount":-1,"type":"Other"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInvalidate(t *testing.T) {
	env := newEnv(t, "")

	rec := env.do(t, http.MethodPost, "/v1/cashflow/invalidate", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

// ============================================================
// Auth
// ============================================================

func TestAuth(t *testing.T) {
	env := newEnv(t, testSecret)

	expired := validClaims()
	expired["exp"] = time.Now().Add(-time.Hour).Unix()
	wrongAud := validClaims()
	wrongAud["aud"] = "anon"

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"malformed header", "Token abc", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + signToken(t, "another-secret", validClaims()), http.StatusUnauthorized},
		{"expired", "Bearer " + signToken(t, testSecret, expired), http.StatusUnauthorized},
		{"wrong audience", "Bearer " + signToken(t, testSecret, wrongAud), http.StatusUnauthorized},
		{"valid", "Bearer " + signToken(t, testSecret, validClaims()), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var rec *httptest.ResponseRecorder
			if tt.header == "" {
				rec = env.do(t, http.MethodGet, "/v1/cashflow/items", "")
			} else {
				rec = env.do(t, http.MethodGet, "/v1/cashflow/items", "", "Authorization", tt.header)
			}
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestAuth_OperationalEndpointsArePublic(t *testing.T) {
	env := newEnv(t, testSecret)

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/ping", "").Code)
}

// ============================================================
// Event stream
// ============================================================

func TestEventsStream(t *testing.T) {
	env := newEnv(t, testSecret)
	srv := httptest.NewServer(env.router)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	token := signToken(t, testSecret, validClaims())
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events?resource=payment&access_token=" + token
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.Eventually(t, func() bool { return env.events.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	env.events.Publish(domain.Event{Type: domain.EventSnapshotReady, Resource: "cashflow"})
	env.events.Publish(domain.Event{Type: domain.EventPaymentPaid, Resource: "payment", ResourceID: "2"})

	typ, data, err := conn.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageText, typ)

	var evt domain.Event
	require.NoError(t, json.Unmarshal(data, &evt))
	assert.Equal(t, domain.EventPaymentPaid, evt.Type)
	assert.Equal(t, "2", evt.ResourceID)
	assert.NotEmpty(t, evt.ID)
}
