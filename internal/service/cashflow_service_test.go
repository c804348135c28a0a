package service_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boddenberg/cashflow-bfa-go/internal/cashflow"
	"github.com/boddenberg/cashflow-bfa-go/internal/domain"
	"github.com/boddenberg/cashflow-bfa-go/internal/infra/cache"
	"github.com/boddenberg/cashflow-bfa-go/internal/infra/observability"
	"github.com/boddenberg/cashflow-bfa-go/internal/port"
	"github.com/boddenberg/cashflow-bfa-go/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var asOf = day(2024, 3, 31)

func newCashFlow(t *testing.T, store *mockStore, events *recorder) (*service.CashFlowService, *observability.Metrics) {
	t.Helper()
	c := cache.New[*cashflow.Result](time.Minute)
	t.Cleanup(c.Close)
	metrics := observability.NewMetrics()

	var publisher port.EventPublisher
	if events != nil {
		publisher = events
	}
	svc := service.NewCashFlowService(store, cashflow.NewPipeline(nil), c, publisher, service.Settings{}, metrics, zap.NewNop())
	return svc, metrics
}

func TestSnapshot_WebsiteScenario(t *testing.T) {
	svc, metrics := newCashFlow(t, newMockStore(websiteScenario()), nil)

	res, err := svc.Snapshot(context.Background(), service.Query{AsOf: asOf})
	require.NoError(t, err)

	require.Len(t, res.Items, 2)
	assert.Equal(t, domain.SourceProjectPayment, res.Items[1].Source)
	assert.Equal(t, 5_000_000.0, res.Metrics.TotalIncome)
	assert.Equal(t, 2_000_000.0, res.Metrics.TotalExpense)
	assert.Equal(t, 3_000_000.0, res.Metrics.CurrentBalance)
	require.Len(t, res.Dropped, 1)
	assert.Len(t, res.Monthly, cashflow.DefaultTrendMonths)

	snap := metrics.GetPipelineSnapshot()
	assert.Equal(t, int64(1), snap.Runs)
	assert.Equal(t, int64(1), snap.DuplicatesDropped)
}

func TestSnapshot_CachedUntilInvalidated(t *testing.T) {
	store := newMockStore(websiteScenario())
	svc, metrics := newCashFlow(t, store, nil)
	ctx := context.Background()
	q := service.Query{AsOf: asOf}

	first, err := svc.Snapshot(ctx, q)
	require.NoError(t, err)
	second, err := svc.Snapshot(ctx, q)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), store.fetches.Load())
	assert.InDelta(t, 0.5, metrics.GetPipelineSnapshot().CacheHitRate, 1e-9)

	svc.Invalidate(ctx, domain.Event{Type: domain.EventPaymentPaid})

	_, err = svc.Snapshot(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, int32(2), store.fetches.Load())
}

func TestSnapshot_FilterIsPartOfCacheKey(t *testing.T) {
	store := newMockStore(websiteScenario())
	svc, _ := newCashFlow(t, store, nil)
	ctx := context.Background()

	all, err := svc.Snapshot(ctx, service.Query{AsOf: asOf})
	require.NoError(t, err)
	expenses, err := svc.Snapshot(ctx, service.Query{AsOf: asOf, Filter: domain.Filter{Type: domain.Expense}})
	require.NoError(t, err)

	assert.Len(t, all.Items, 2)
	require.Len(t, expenses.Items, 1)
	assert.Equal(t, domain.Expense, expenses.Items[0].Type)
	assert.Equal(t, int32(2), store.fetches.Load())
}

func TestSnapshot_StaleRunIsNotCached(t *testing.T) {
	store := newMockStore(websiteScenario())
	svc, metrics := newCashFlow(t, store, nil)
	ctx := context.Background()

	var once sync.Once
	store.onFetch = func() {
		once.Do(func() { svc.Invalidate(ctx, domain.Event{Type: domain.EventIncomeCreated}) })
	}

	res, err := svc.Snapshot(ctx, service.Query{AsOf: asOf})
	require.NoError(t, err)
	assert.Len(t, res.Items, 2)
	assert.Equal(t, int64(1), metrics.GetPipelineSnapshot().StaleResultsRejected)

	_, err = svc.Snapshot(ctx, service.Query{AsOf: asOf})
	require.NoError(t, err)
	assert.Equal(t, int32(2), store.fetches.Load())
}

func TestSnapshot_FetchErrorIsExternalService(t *testing.T) {
	store := newMockStore(websiteScenario())
	store.expensesErr = errors.New("connection refused")
	svc, metrics := newCashFlow(t, store, nil)

	_, err := svc.Snapshot(context.Background(), service.Query{AsOf: asOf})

	var ext *domain.ErrExternalService
	require.ErrorAs(t, err, &ext)
	assert.Equal(t, "expenses", ext.Service)
	assert.Equal(t, int64(1), metrics.GetPipelineSnapshot().FetchErrors)
}

func TestSnapshot_TypedFetchErrorKept(t *testing.T) {
	store := newMockStore(websiteScenario())
	store.paymentsErr = &domain.ErrCircuitOpen{Service: "supabase"}
	svc, _ := newCashFlow(t, store, nil)

	_, err := svc.Snapshot(context.Background(), service.Query{AsOf: asOf})

	var open *domain.ErrCircuitOpen
	assert.ErrorAs(t, err, &open)
}

func TestSnapshot_UnsupportedCurrencyCounted(t *testing.T) {
	set := websiteScenario()
	set.Expenses = append(set.Expenses, domain.ExpenseRecord{
		ID: 2, Description: "Conference", Date: day(2024, 3, 5), Amount: 300,
		Currency: "EUR", Category: "Travel", Status: "Paid", SourceType: domain.ExpenseVariable,
	})
	svc, metrics := newCashFlow(t, newMockStore(set), nil)

	res, err := svc.Snapshot(context.Background(), service.Query{AsOf: asOf})
	require.NoError(t, err)

	require.Len(t, res.Warnings, 1)
	assert.Equal(t, int64(1), metrics.GetPipelineSnapshot().UnsupportedCurrency)
}

func TestReceivables(t *testing.T) {
	svc, _ := newCashFlow(t, newMockStore(websiteScenario()), nil)

	summary, err := svc.Receivables(context.Background(), day(2024, 3, 28))
	require.NoError(t, err)

	require.Len(t, summary.Items, 1)
	assert.Equal(t, domain.ReceivableDueSoon, summary.Items[0].Status)
	assert.Equal(t, 1_000_000.0, summary.Totals[domain.ReceivableDueSoon])
}

func TestExportCSV(t *testing.T) {
	svc, _ := newCashFlow(t, newMockStore(websiteScenario()), nil)

	var buf bytes.Buffer
	n, err := svc.ExportCSV(context.Background(), service.Query{AsOf: asOf}, &buf)
	require.NoError(t, err)

	assert.Equal(t, 2, n)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "Date,Description,Type,Category,PaymentMethod,Amount(COP)"))
}

func TestRefreshJob_PublishesSnapshotReady(t *testing.T) {
	events := &recorder{}
	svc, _ := newCashFlow(t, newMockStore(websiteScenario()), events)

	job := svc.RefreshJob()
	assert.Equal(t, "cashflow-refresh", job.Name())
	require.NoError(t, job.Run(context.Background()))

	assert.Equal(t, []string{domain.EventSnapshotReady}, events.types())
}

// gatedStore blocks the first ListIncomes after reading its data until
// release is closed. Later calls pass straight through.
type gatedStore struct {
	*mockStore

	mu      sync.Mutex
	incomes []domain.ManualIncomeRecord

	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func newGatedStore(amount float64) *gatedStore {
	g := &gatedStore{
		mockStore: newMockStore(domain.RecordSet{}),
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}
	g.setIncome(amount)
	return g
}

func (g *gatedStore) setIncome(amount float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.incomes = []domain.ManualIncomeRecord{{
		ID: 1, Description: "Consulting", Date: day(2024, 3, 10),
		Amount: amount, Type: "Service", Currency: "COP",
	}}
}

func (g *gatedStore) ListIncomes(ctx context.Context) ([]domain.ManualIncomeRecord, error) {
	g.mu.Lock()
	v := g.incomes
	g.mu.Unlock()

	if g.calls.Add(1) == 1 {
		close(g.entered)
		<-g.release
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return v, nil
}

func newGatedCashFlow(t *testing.T, store *gatedStore) *service.CashFlowService {
	t.Helper()
	c := cache.New[*cashflow.Result](time.Minute)
	t.Cleanup(c.Close)
	return service.NewCashFlowService(store, cashflow.NewPipeline(nil), c, nil, service.Settings{}, observability.NewMetrics(), zap.NewNop())
}

type snapshotResult struct {
	res *cashflow.Result
	err error
}

func TestSnapshot_RequestAfterInvalidateSeesNewData(t *testing.T) {
	store := newGatedStore(1)
	svc := newGatedCashFlow(t, store)
	ctx := context.Background()
	q := service.Query{AsOf: asOf}

	first := make(chan snapshotResult, 1)
	go func() {
		res, err := svc.Snapshot(ctx, q)
		first <- snapshotResult{res, err}
	}()
	<-store.entered

	store.setIncome(2)
	svc.Invalidate(ctx, domain.Event{Type: domain.EventIncomeCreated})

	second := make(chan snapshotResult, 1)
	go func() {
		res, err := svc.Snapshot(ctx, q)
		second <- snapshotResult{res, err}
	}()

	select {
	case got := <-second:
		require.NoError(t, got.err)
		assert.Equal(t, 2.0, got.res.Metrics.TotalIncome)
	case <-time.After(2 * time.Second):
		close(store.release)
		t.Fatal("snapshot issued after invalidation waited on the earlier run")
	}

	close(store.release)
	got := <-first
	require.NoError(t, got.err)
	assert.Equal(t, 1.0, got.res.Metrics.TotalIncome)

	// the pre-invalidation run must not have replaced the fresh snapshot
	latest, err := svc.Snapshot(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 2.0, latest.Metrics.TotalIncome)
}

func TestSnapshot_CancelledCallerDoesNotFailSharedRun(t *testing.T) {
	store := newGatedStore(1)
	svc := newGatedCashFlow(t, store)
	q := service.Query{AsOf: asOf}

	cancelCtx, cancel := context.WithCancel(context.Background())
	first := make(chan snapshotResult, 1)
	go func() {
		res, err := svc.Snapshot(cancelCtx, q)
		first <- snapshotResult{res, err}
	}()
	<-store.entered

	second := make(chan snapshotResult, 1)
	go func() {
		res, err := svc.Snapshot(context.Background(), q)
		second <- snapshotResult{res, err}
	}()

	cancel()
	close(store.release)

	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, 1.0, got.res.Metrics.TotalIncome)
	<-first
}
