package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/boddenberg/cashflow-bfa-go/internal/cashflow"
	"github.com/boddenberg/cashflow-bfa-go/internal/domain"
	"github.com/boddenberg/cashflow-bfa-go/internal/infra/observability"
	"github.com/boddenberg/cashflow-bfa-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

var tracer = otel.Tracer("service/cashflow")

const snapshotCache = "snapshot"

// Settings are the engine options fixed at startup.
type Settings struct {
	Identity      cashflow.EventIdentity
	BalanceOrder  cashflow.BalanceOrder
	AverageWindow int
}

// Query selects one view of the cash flow.
type Query struct {
	Filter      domain.Filter
	AsOf        time.Time
	TrendMonths int
}

// cacheKey identifies a snapshot. AsOf is truncated to the day.
func (q Query) cacheKey() string {
	f := q.Filter
	key := fmt.Sprintf("%s|m=%d|t=%s|c=%s|cl=%s", q.AsOf.Format("2006-01-02"), q.TrendMonths, f.Type, f.Category, f.Client)
	if f.From != nil {
		key += "|from=" + f.From.Format("2006-01-02")
	}
	if f.To != nil {
		key += "|to=" + f.To.Format("2006-01-02")
	}
	return key
}

// CashFlowService fetches the record sets, runs the pipeline and keeps the
// results in a snapshot cache until the write path invalidates them.
type CashFlowService struct {
	store    port.RecordsFetcher
	pipeline *cashflow.Pipeline
	cache    port.Cache[*cashflow.Result]
	events   port.EventPublisher
	metrics  *observability.Metrics
	logger   *zap.Logger
	settings Settings
	now      func() time.Time

	group singleflight.Group

	// generation is bumped on every invalidation. A run that started under
	// an older generation is returned to its caller but never cached.
	generation atomic.Uint64
	mu         sync.Mutex
}

// NewCashFlowService creates the read-side service. events may be nil.
func NewCashFlowService(
	store port.RecordsFetcher,
	pipeline *cashflow.Pipeline,
	cache port.Cache[*cashflow.Result],
	events port.EventPublisher,
	settings Settings,
	metrics *observability.Metrics,
	logger *zap.Logger,
) *CashFlowService {
	if pipeline == nil {
		pipeline = cashflow.NewPipeline(nil)
	}
	if settings.Identity == nil {
		settings.Identity = cashflow.HeuristicIdentity{}
	}
	return &CashFlowService{
		store:    store,
		pipeline: pipeline,
		cache:    cache,
		events:   events,
		metrics:  metrics,
		logger:   logger,
		settings: settings,
		now:      time.Now,
	}
}

// ReportingCurrency is the currency every amount is reported in.
func (s *CashFlowService) ReportingCurrency() string {
	return s.pipeline.Normalizer().Base()
}

// Snapshot returns the pipeline result for q, from cache when possible.
func (s *CashFlowService) Snapshot(ctx context.Context, q Query) (*cashflow.Result, error) {
	ctx, span := tracer.Start(ctx, "CashFlowService.Snapshot")
	defer span.End()

	start := time.Now()
	defer func() { s.metrics.RecordRequestDuration("snapshot", time.Since(start)) }()

	q = s.normalize(q)
	key := q.cacheKey()
	span.SetAttributes(attribute.String("snapshot.key", key))

	if res, ok := s.cache.Get(key); ok {
		s.metrics.IncrCacheHit(snapshotCache)
		return res, nil
	}
	s.metrics.IncrCacheMiss(snapshotCache)

	// Callers only share a run started under the current generation, so a
	// request issued after an invalidation never gets pre-write data. The
	// shared run outlives any single caller's cancellation.
	gen := s.generation.Load()
	flight := strconv.FormatUint(gen, 10) + "/" + key
	v, err, shared := s.group.Do(flight, func() (any, error) {
		return s.compute(context.WithoutCancel(ctx), q, key, gen)
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Bool("snapshot.shared", shared))
	return v.(*cashflow.Result), nil
}

// Receivables classifies the non-paid project payments as of asOf.
func (s *CashFlowService) Receivables(ctx context.Context, asOf time.Time) (*domain.ReceivablesSummary, error) {
	ctx, span := tracer.Start(ctx, "CashFlowService.Receivables")
	defer span.End()

	if asOf.IsZero() {
		asOf = s.now()
	}
	payments, err := s.store.ListProjectPayments(ctx)
	if err != nil {
		return nil, s.fetchError("project_payments", err)
	}
	summary := cashflow.Receivables(payments, s.pipeline.Normalizer(), asOf)
	return &summary, nil
}

// ExportCSV writes the filtered items of q as CSV and returns the row count.
func (s *CashFlowService) ExportCSV(ctx context.Context, q Query, w io.Writer) (int, error) {
	ctx, span := tracer.Start(ctx, "CashFlowService.ExportCSV")
	defer span.End()

	res, err := s.Snapshot(ctx, q)
	if err != nil {
		return 0, err
	}
	if err := cashflow.WriteCSV(w, s.ReportingCurrency(), res.Items); err != nil {
		return 0, fmt.Errorf("write csv: %w", err)
	}
	return len(res.Items), nil
}

// Invalidate drops every cached snapshot. Runs in flight when this is
// called will not be cached.
func (s *CashFlowService) Invalidate(ctx context.Context, evt domain.Event) {
	_, span := tracer.Start(ctx, "CashFlowService.Invalidate")
	defer span.End()

	s.mu.Lock()
	gen := s.generation.Add(1)
	s.cache.Purge()
	s.mu.Unlock()

	s.logger.Info("cash-flow snapshots invalidated",
		zap.String("event_type", evt.Type),
		zap.String("resource", evt.Resource),
		zap.String("resource_id", evt.ResourceID),
		zap.Uint64("generation", gen),
	)
}

// Refresh recomputes the default snapshot for today, bypassing the cache.
func (s *CashFlowService) Refresh(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "CashFlowService.Refresh")
	defer span.End()

	q := s.normalize(Query{})
	res, err := s.compute(ctx, q, q.cacheKey(), s.generation.Load())
	if err != nil {
		return err
	}
	if s.events != nil {
		s.events.Publish(domain.Event{
			Type:     domain.EventSnapshotReady,
			Resource: "cashflow",
			Data: map[string]any{
				"items":          len(res.Items),
				"currentBalance": res.Metrics.CurrentBalance,
			},
		})
	}
	return nil
}

// RefreshJob adapts Refresh to the scheduler.
func (s *CashFlowService) RefreshJob() *RefreshJob {
	return &RefreshJob{svc: s}
}

// RefreshJob recomputes the default snapshot on a schedule.
type RefreshJob struct {
	svc *CashFlowService
}

func (j *RefreshJob) Name() string { return "cashflow-refresh" }

func (j *RefreshJob) Run(ctx context.Context) error { return j.svc.Refresh(ctx) }

// ============================================================
// internals
// ============================================================

func (s *CashFlowService) normalize(q Query) Query {
	if q.AsOf.IsZero() {
		q.AsOf = s.now()
	}
	if q.TrendMonths <= 0 {
		q.TrendMonths = cashflow.DefaultTrendMonths
	}
	return q
}

// compute runs the pipeline and caches the result unless an invalidation
// happened after gen was observed.
func (s *CashFlowService) compute(ctx context.Context, q Query, key string, gen uint64) (*cashflow.Result, error) {
	set, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}

	res := s.pipeline.Run(set, cashflow.Options{
		Identity:      s.settings.Identity,
		BalanceOrder:  s.settings.BalanceOrder,
		AverageWindow: s.settings.AverageWindow,
		TrendMonths:   q.TrendMonths,
		AsOf:          q.AsOf,
		Filter:        q.Filter,
	})

	s.metrics.RecordPipelineRun(res.Counts.Unified, res.Counts.Surviving, res.Counts.Filtered, res.Counts.Dropped)
	base := s.ReportingCurrency()
	for _, w := range res.Warnings {
		s.metrics.IncrUnsupportedCurrency(w.Currency, base)
		s.logger.Warn("unsupported currency pair, amount left unconverted",
			zap.String("source", string(w.Source)),
			zap.Int64("source_id", w.SourceID),
			zap.String("from", w.Currency),
			zap.String("to", base),
			zap.Float64("amount", w.Amount),
		)
	}
	s.logger.Debug("pipeline run",
		zap.String("identity", s.settings.Identity.Name()),
		zap.Int("unified", res.Counts.Unified),
		zap.Int("dropped", res.Counts.Dropped),
		zap.Int("surviving", res.Counts.Surviving),
		zap.Int("filtered", res.Counts.Filtered),
	)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation.Load() != gen {
		s.metrics.IncrStaleResult()
		s.logger.Debug("discarding stale snapshot", zap.String("key", key))
		return res, nil
	}
	s.cache.Set(key, res)
	return res, nil
}

// fetch loads the four record sets concurrently. The first failure cancels
// the other fetches.
func (s *CashFlowService) fetch(ctx context.Context) (domain.RecordSet, error) {
	ctx, span := tracer.Start(ctx, "CashFlowService.fetch")
	defer span.End()

	var set domain.RecordSet
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		v, err := s.store.ListIncomes(gctx)
		if err != nil {
			return s.fetchError("incomes", err)
		}
		set.Incomes = v
		return nil
	})
	g.Go(func() error {
		v, err := s.store.ListProjectPayments(gctx)
		if err != nil {
			return s.fetchError("project_payments", err)
		}
		set.Payments = v
		return nil
	})
	g.Go(func() error {
		v, err := s.store.ListExpenses(gctx)
		if err != nil {
			return s.fetchError("expenses", err)
		}
		set.Expenses = v
		return nil
	})
	g.Go(func() error {
		v, err := s.store.ListRecurringPlans(gctx)
		if err != nil {
			return s.fetchError("recurring_plans", err)
		}
		set.RecurringPlans = v
		return nil
	})

	if err := g.Wait(); err != nil {
		return domain.RecordSet{}, err
	}
	span.SetAttributes(
		attribute.Int("incomes", len(set.Incomes)),
		attribute.Int("payments", len(set.Payments)),
		attribute.Int("expenses", len(set.Expenses)),
	)
	return set, nil
}

// fetchError counts a failed fetch and makes sure it surfaces as a typed
// domain error.
func (s *CashFlowService) fetchError(resource string, err error) error {
	s.metrics.IncrExternalError(resource)

	var (
		ext     *domain.ErrExternalService
		timeout *domain.ErrTimeout
		open    *domain.ErrCircuitOpen
	)
	if errors.As(err, &ext) || errors.As(err, &timeout) || errors.As(err, &open) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.ErrTimeout{Operation: "fetch " + resource}
	}
	return &domain.ErrExternalService{Service: resource, Err: err}
}
