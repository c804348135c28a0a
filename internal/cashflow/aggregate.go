package cashflow

import (
	"sort"
	"strings"
	"time"

	"github.com/boddenberg/cashflow-bfa-go/internal/domain"
)

// PeriodLayout is the layout of MonthlyBucket.PeriodKey.
const PeriodLayout = "2006-01"

// DefaultTrendMonths is the trailing window of the monthly chart.
const DefaultTrendMonths = 12

// ApplyFilter returns the items that match f, in input order.
func ApplyFilter(items []domain.CashFlowItem, f domain.Filter) []domain.CashFlowItem {
	if f.IsZero() {
		return items
	}
	out := make([]domain.CashFlowItem, 0, len(items))
	for _, it := range items {
		if matches(it, f) {
			out = append(out, it)
		}
	}
	return out
}

func matches(it domain.CashFlowItem, f domain.Filter) bool {
	if f.From != nil && it.Date.Before(*f.From) {
		return false
	}
	if f.To != nil && !it.Date.Before(*f.To) {
		return false
	}
	if f.Type != "" && it.Type != f.Type {
		return false
	}
	if f.Category != "" && !strings.EqualFold(it.Category, f.Category) {
		return false
	}
	if f.Client != "" && !strings.EqualFold(it.Client, f.Client) {
		return false
	}
	return true
}

// Monthly buckets items into the trailing window of months ending with the
// month of asOf. Every month of the window is present, oldest first; months
// without activity are zero. Items outside the window are ignored.
func Monthly(items []domain.CashFlowItem, asOf time.Time, months int) []domain.MonthlyBucket {
	if months <= 0 {
		months = DefaultTrendMonths
	}
	last := monthStart(asOf)
	first := last.AddDate(0, -(months - 1), 0)

	buckets := make([]domain.MonthlyBucket, months)
	pos := make(map[string]int, months)
	for i := 0; i < months; i++ {
		key := first.AddDate(0, i, 0).Format(PeriodLayout)
		buckets[i].PeriodKey = key
		pos[key] = i
	}

	for _, it := range items {
		i, ok := pos[it.Date.Format(PeriodLayout)]
		if !ok {
			continue
		}
		addToBucket(&buckets[i], it)
	}
	return buckets
}

// MonthlyObserved buckets every item, from the month of the oldest item to
// the month of the newest, zero-filling the gaps.
func MonthlyObserved(items []domain.CashFlowItem) []domain.MonthlyBucket {
	if len(items) == 0 {
		return []domain.MonthlyBucket{}
	}
	oldest, newest := items[0].Date, items[0].Date
	for _, it := range items[1:] {
		if it.Date.Before(oldest) {
			oldest = it.Date
		}
		if it.Date.After(newest) {
			newest = it.Date
		}
	}
	first, last := monthStart(oldest), monthStart(newest)
	months := (last.Year()-first.Year())*12 + int(last.Month()-first.Month()) + 1
	return Monthly(items, newest, months)
}

func addToBucket(b *domain.MonthlyBucket, it domain.CashFlowItem) {
	if it.Type == domain.Expense {
		b.TotalExpense += it.Amount
	} else {
		b.TotalIncome += it.Amount
	}
	b.Balance = b.TotalIncome - b.TotalExpense
}

// ByCategory groups expense items per category, largest total first.
func ByCategory(items []domain.CashFlowItem) []domain.CategoryBucket {
	groups := make(map[string]*domain.CategoryBucket)
	for _, it := range items {
		if it.Type != domain.Expense {
			continue
		}
		label := orDefault(it.Category, Uncategorized)
		b, ok := groups[label]
		if !ok {
			b = &domain.CategoryBucket{Label: label}
			groups[label] = b
		}
		b.Total += it.Amount
		b.Count++
	}

	out := make([]domain.CategoryBucket, 0, len(groups))
	for _, b := range groups {
		b.Average = b.Total / float64(b.Count)
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// ByClient groups income items that name a client, largest total first.
// Percentage is the share of all income in items, not only of named clients.
func ByClient(items []domain.CashFlowItem) []domain.ClientBucket {
	var grandIncome float64
	groups := make(map[string]*domain.ClientBucket)
	for _, it := range items {
		if it.Type != domain.Income {
			continue
		}
		grandIncome += it.Amount
		label := strings.TrimSpace(it.Client)
		if label == "" {
			continue
		}
		b, ok := groups[label]
		if !ok {
			b = &domain.ClientBucket{Label: label}
			groups[label] = b
		}
		b.Total += it.Amount
		b.Count++
	}

	out := make([]domain.ClientBucket, 0, len(groups))
	for _, b := range groups {
		b.Average = b.Total / float64(b.Count)
		if grandIncome > 0 {
			b.Percentage = b.Total / grandIncome * 100
		}
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].Label < out[j].Label
	})
	return out
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}
