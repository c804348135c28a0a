package cashflow

import (
	"math"
	"strings"
	"time"

	"github.com/boddenberg/cashflow-bfa-go/internal/domain"

	"gonum.org/v1/gonum/stat"
)

// DefaultAverageWindow is the number of trailing months averaged for KPIs.
const DefaultAverageWindow = 6

// DefaultProjectionMonths is the horizon of both projections.
const DefaultProjectionMonths = 6

// monthsPerCycle converts a billing frequency into months per cycle.
var monthsPerCycle = map[string]float64{
	"weekly":     0.25,
	"semanal":    0.25,
	"biweekly":   0.5,
	"quincenal":  0.5,
	"monthly":    1,
	"mensual":    1,
	"bimonthly":  2,
	"bimestral":  2,
	"quarterly":  3,
	"trimestral": 3,
	"semiannual": 6,
	"semestral":  6,
	"annual":     12,
	"yearly":     12,
	"anual":      12,
}

// MonthsPerCycle returns the cycle length of a frequency. Unknown frequencies
// are treated as monthly.
func MonthsPerCycle(frequency string) float64 {
	if m, ok := monthsPerCycle[strings.ToLower(strings.TrimSpace(frequency))]; ok {
		return m
	}
	return 1
}

// MonthlyEquivalent normalizes a recurring amount to one month.
func MonthlyEquivalent(amount float64, frequency string) float64 {
	return amount / MonthsPerCycle(frequency)
}

// Averages returns the mean monthly income and expense over the trailing
// window ending with the month of asOf. Only months with activity count;
// with none, both averages are zero.
func Averages(items []domain.CashFlowItem, asOf time.Time, window int) (avgIncome, avgExpense float64) {
	if window <= 0 {
		window = DefaultAverageWindow
	}
	var incomes, expenses []float64
	for _, b := range Monthly(items, asOf, window) {
		if !b.HasData() {
			continue
		}
		incomes = append(incomes, b.TotalIncome)
		expenses = append(expenses, b.TotalExpense)
	}
	if len(incomes) == 0 {
		return 0, 0
	}
	return stat.Mean(incomes, nil), stat.Mean(expenses, nil)
}

// ComputeRunway divides balance by the average monthly expense. With no
// expense the runway is the infinite sentinel.
func ComputeRunway(balance, avgExpense float64) domain.Runway {
	if avgExpense <= 0 {
		return domain.InfiniteRunway
	}
	return domain.Runway{Months: balance / avgExpense}
}

// MRR is the monthly recurring revenue: manual operational income booked in
// the month of asOf (partner contributions excluded) plus the monthly
// equivalent of every active recurring plan, in the reporting currency.
func MRR(items []domain.CashFlowItem, plans []domain.RecurringPlan, n *Normalizer, asOf time.Time) float64 {
	period := asOf.Format(PeriodLayout)

	var total float64
	for _, it := range items {
		if it.Source != domain.SourceManualIncome || it.Type != domain.Income {
			continue
		}
		if strings.EqualFold(it.Category, domain.IncomePartnerContribution) {
			continue
		}
		if it.Date.Format(PeriodLayout) != period {
			continue
		}
		total += it.Amount
	}

	for _, p := range plans {
		if !p.Active {
			continue
		}
		amount := n.ToBase(math.Abs(p.Amount), p.Currency).Amount
		total += MonthlyEquivalent(amount, p.Frequency)
	}
	return total
}

// ComputeMetrics derives the KPI object from the surviving items.
// CurrentBalance is the net of every item, whatever the window.
func ComputeMetrics(
	items []domain.CashFlowItem,
	plans []domain.RecurringPlan,
	n *Normalizer,
	asOf time.Time,
	window int,
) domain.Metrics {
	if window <= 0 {
		window = DefaultAverageWindow
	}
	var m domain.Metrics
	for _, it := range items {
		if it.Type == domain.Expense {
			m.TotalExpense += it.Amount
		} else {
			m.TotalIncome += it.Amount
		}
	}
	m.CurrentBalance = m.TotalIncome - m.TotalExpense
	m.AvgIncome, m.AvgExpense = Averages(items, asOf, window)
	m.Runway = ComputeRunway(m.CurrentBalance, m.AvgExpense)
	m.BurnRate = m.AvgExpense
	m.MRR = MRR(items, plans, n, asOf)
	m.WindowMonths = window
	return m
}

// FlatProjection repeats the average income and expense for each of the next
// months after asOf, accumulating the balance from currentBalance.
func FlatProjection(avgIncome, avgExpense, currentBalance float64, asOf time.Time, months int) []domain.ProjectionPoint {
	if months <= 0 {
		months = DefaultProjectionMonths
	}
	start := monthStart(asOf)
	points := make([]domain.ProjectionPoint, months)
	balance := currentBalance
	for i := range points {
		net := avgIncome - avgExpense
		balance += net
		points[i] = domain.ProjectionPoint{
			PeriodKey: start.AddDate(0, i+1, 0).Format(PeriodLayout),
			Income:    avgIncome,
			Expense:   avgExpense,
			Net:       net,
			Balance:   balance,
		}
	}
	return points
}

// GrowthRate is the naive per-period growth of a series ordered oldest first:
// (newest/oldest - 1) / len(series). It is zero when the series has fewer
// than two points or starts at zero.
func GrowthRate(series []float64) float64 {
	if len(series) < 2 {
		return 0
	}
	oldest, newest := series[0], series[len(series)-1]
	if oldest == 0 {
		return 0
	}
	return (newest/oldest - 1) / float64(len(series))
}

// GrowthProjection compounds the growth rates of the active months of the
// history forward from the newest active month. History must be ordered
// oldest first, as Monthly returns it.
func GrowthProjection(history []domain.MonthlyBucket, currentBalance float64, asOf time.Time, months int) domain.GrowthProjection {
	if months <= 0 {
		months = DefaultProjectionMonths
	}
	var incomes, expenses []float64
	for _, b := range history {
		if !b.HasData() {
			continue
		}
		incomes = append(incomes, b.TotalIncome)
		expenses = append(expenses, b.TotalExpense)
	}

	gp := domain.GrowthProjection{
		IncomeGrowthRate:  GrowthRate(incomes),
		ExpenseGrowthRate: GrowthRate(expenses),
		Points:            make([]domain.ProjectionPoint, months),
	}

	var income, expense float64
	if len(incomes) > 0 {
		income, expense = incomes[len(incomes)-1], expenses[len(expenses)-1]
	}
	start := monthStart(asOf)
	balance := currentBalance
	for i := range gp.Points {
		income *= 1 + gp.IncomeGrowthRate
		expense *= 1 + gp.ExpenseGrowthRate
		net := income - expense
		balance += net
		gp.Points[i] = domain.ProjectionPoint{
			PeriodKey: start.AddDate(0, i+1, 0).Format(PeriodLayout),
			Income:    income,
			Expense:   expense,
			Net:       net,
			Balance:   balance,
		}
	}
	return gp
}
