package cashflow_test

import (
	"testing"
	"time"

	"github.com/boddenberg/cashflow-bfa-go/internal/cashflow"
	"github.com/boddenberg/cashflow-bfa-go/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonthly_ZeroFillsTrailingWindow(t *testing.T) {
	var items []domain.CashFlowItem
	for m := time.January; m <= time.December; m++ {
		if m == time.March || m == time.July {
			continue
		}
		items = append(items,
			income(int64(m), day(2024, m, 5), 1000, "fee"),
			expense(int64(100+m), day(2024, m, 6), 400, "Rent"),
		)
	}
	// outside the window
	items = append(items, income(99, day(2023, 12, 31), 1, "old"))

	buckets := cashflow.Monthly(items, day(2024, 12, 20), 12)

	require.Len(t, buckets, 12)
	assert.Equal(t, "2024-01", buckets[0].PeriodKey)
	assert.Equal(t, "2024-12", buckets[11].PeriodKey)
	for _, i := range []int{2, 6} {
		assert.Zero(t, buckets[i].TotalIncome, buckets[i].PeriodKey)
		assert.Zero(t, buckets[i].TotalExpense, buckets[i].PeriodKey)
		assert.False(t, buckets[i].HasData())
	}
	assert.Equal(t, 1000.0, buckets[0].TotalIncome)
	assert.Equal(t, 400.0, buckets[0].TotalExpense)
	assert.Equal(t, 600.0, buckets[0].Balance)
}

func TestMonthly_CrossesYearBoundary(t *testing.T) {
	buckets := cashflow.Monthly(nil, day(2024, 2, 29), 3)

	require.Len(t, buckets, 3)
	assert.Equal(t, []string{"2023-12", "2024-01", "2024-02"},
		[]string{buckets[0].PeriodKey, buckets[1].PeriodKey, buckets[2].PeriodKey})
}

func TestMonthlyObserved(t *testing.T) {
	items := []domain.CashFlowItem{
		income(1, day(2023, 11, 3), 10, "a"),
		expense(2, day(2024, 2, 3), 4, "b"),
	}

	buckets := cashflow.MonthlyObserved(items)

	require.Len(t, buckets, 4)
	assert.Equal(t, "2023-11", buckets[0].PeriodKey)
	assert.Equal(t, "2024-02", buckets[3].PeriodKey)
	assert.Equal(t, -4.0, buckets[3].Balance)
	assert.Empty(t, cashflow.MonthlyObserved(nil))
}

func TestByCategory_SortedDescending(t *testing.T) {
	items := []domain.CashFlowItem{
		expense(1, day(2024, 1, 1), 100, "Rent"),
		expense(2, day(2024, 2, 1), 100, "Rent"),
		expense(3, day(2024, 1, 2), 300, "Payroll"),
		expense(4, day(2024, 1, 3), 50, ""),
		income(5, day(2024, 1, 3), 999, "ignored"),
	}

	cats := cashflow.ByCategory(items)

	require.Len(t, cats, 3)
	assert.Equal(t, domain.CategoryBucket{Label: "Payroll", Total: 300, Count: 1, Average: 300}, cats[0])
	assert.Equal(t, domain.CategoryBucket{Label: "Rent", Total: 200, Count: 2, Average: 100}, cats[1])
	assert.Equal(t, cashflow.Uncategorized, cats[2].Label)
}

func TestByClient_TotalsAndPercentage(t *testing.T) {
	a1 := income(1, day(2024, 1, 1), 300, "x")
	a1.Client = "ACME"
	a2 := income(2, day(2024, 1, 2), 100, "y")
	a2.Client = "ACME"
	b := income(3, day(2024, 1, 3), 400, "z")
	b.Client = "Globex"
	anon := income(4, day(2024, 1, 4), 200, "no client")

	clients := cashflow.ByClient([]domain.CashFlowItem{a1, a2, b, anon, expense(5, day(2024, 1, 5), 70, "Rent")})

	require.Len(t, clients, 2)
	assert.Equal(t, "ACME", clients[0].Label)
	assert.Equal(t, 400.0, clients[0].Total)
	assert.Equal(t, 2, clients[0].Count)
	assert.Equal(t, 200.0, clients[0].Average)
	assert.InDelta(t, 40, clients[0].Percentage, 1e-9)
	assert.Equal(t, "Globex", clients[1].Label)
}

func TestApplyFilter(t *testing.T) {
	acme := income(1, day(2024, 1, 10), 300, "x")
	acme.Client = "ACME"
	items := []domain.CashFlowItem{
		acme,
		expense(2, day(2024, 1, 31), 50, "Rent"),
		expense(3, day(2024, 2, 1), 60, "Payroll"),
	}

	jan := cashflow.ApplyFilter(items, domain.Filter{From: ptr(day(2024, 1, 1)), To: ptr(day(2024, 2, 1))})
	assert.Len(t, jan, 2)

	rent := cashflow.ApplyFilter(items, domain.Filter{Type: domain.Expense, Category: "rent"})
	require.Len(t, rent, 1)
	assert.Equal(t, int64(2), rent[0].ID)

	client := cashflow.ApplyFilter(items, domain.Filter{Client: "acme"})
	require.Len(t, client, 1)

	assert.Len(t, cashflow.ApplyFilter(items, domain.Filter{}), 3)
}
