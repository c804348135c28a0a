package cashflow

import (
	"time"

	"github.com/boddenberg/cashflow-bfa-go/internal/domain"
)

// Options tunes one pipeline run. Zero values select the defaults.
type Options struct {
	Identity         EventIdentity
	BalanceOrder     BalanceOrder
	AverageWindow    int
	TrendMonths      int
	ProjectionMonths int
	AsOf             time.Time
	Filter           domain.Filter
}

// StageCounts is the number of items after each pipeline stage.
type StageCounts struct {
	Unified   int `json:"unified"`
	Dropped   int `json:"dropped"`
	Surviving int `json:"surviving"`
	Filtered  int `json:"filtered"`
}

// Result is everything derived from one set of records.
type Result struct {
	AsOf         time.Time                 `json:"asOf"`
	BalanceOrder BalanceOrder              `json:"balanceOrder"`
	Items        []domain.CashFlowItem     `json:"items"`
	Monthly      []domain.MonthlyBucket    `json:"monthly"`
	Categories   []domain.CategoryBucket   `json:"categories"`
	Clients      []domain.ClientBucket     `json:"clients"`
	Metrics      domain.Metrics            `json:"metrics"`
	Projection   []domain.ProjectionPoint  `json:"projection"`
	Growth       domain.GrowthProjection   `json:"growth"`
	Dropped      []domain.DroppedDuplicate `json:"dropped"`
	Warnings     []ConversionWarning       `json:"warnings"`
	Counts       StageCounts               `json:"counts"`
}

// Pipeline runs fetch results through unify, dedup, filter, balance,
// aggregation and KPIs. It holds no state between runs.
type Pipeline struct {
	normalizer *Normalizer
	unifier    *Unifier
	now        func() time.Time
}

// NewPipeline creates a pipeline reporting in the normalizer's base currency.
func NewPipeline(n *Normalizer) *Pipeline {
	if n == nil {
		n = DefaultNormalizer()
	}
	return &Pipeline{normalizer: n, unifier: NewUnifier(n), now: time.Now}
}

// Normalizer returns the currency normalizer used by the pipeline.
func (p *Pipeline) Normalizer() *Normalizer {
	return p.normalizer
}

// Run derives a fresh Result from set. The inputs are not modified.
func (p *Pipeline) Run(set domain.RecordSet, opts Options) *Result {
	opts = p.withDefaults(opts)

	unified, warnings := p.unifier.Unify(set.Incomes, set.Payments, set.Expenses)
	surviving, dropped := Deduplicate(unified, opts.Identity)
	filtered := ApplyFilter(surviving, opts.Filter)
	items := RunningBalance(filtered, opts.BalanceOrder)

	metrics := ComputeMetrics(items, set.RecurringPlans, p.normalizer, opts.AsOf, opts.AverageWindow)
	monthly := Monthly(items, opts.AsOf, opts.TrendMonths)

	if dropped == nil {
		dropped = []domain.DroppedDuplicate{}
	}
	if warnings == nil {
		warnings = []ConversionWarning{}
	}

	return &Result{
		AsOf:         opts.AsOf,
		BalanceOrder: opts.BalanceOrder,
		Items:        items,
		Monthly:      monthly,
		Categories:   ByCategory(items),
		Clients:      ByClient(items),
		Metrics:      metrics,
		Projection:   FlatProjection(metrics.AvgIncome, metrics.AvgExpense, metrics.CurrentBalance, opts.AsOf, opts.ProjectionMonths),
		Growth:       GrowthProjection(monthly, metrics.CurrentBalance, opts.AsOf, opts.ProjectionMonths),
		Dropped:      dropped,
		Warnings:     warnings,
		Counts: StageCounts{
			Unified:   len(unified),
			Dropped:   len(dropped),
			Surviving: len(surviving),
			Filtered:  len(items),
		},
	}
}

func (p *Pipeline) withDefaults(opts Options) Options {
	if opts.Identity == nil {
		opts.Identity = HeuristicIdentity{}
	}
	if opts.AverageWindow <= 0 {
		opts.AverageWindow = DefaultAverageWindow
	}
	if opts.TrendMonths <= 0 {
		opts.TrendMonths = DefaultTrendMonths
	}
	if opts.ProjectionMonths <= 0 {
		opts.ProjectionMonths = DefaultProjectionMonths
	}
	if opts.AsOf.IsZero() {
		opts.AsOf = p.now()
	}
	return opts
}
