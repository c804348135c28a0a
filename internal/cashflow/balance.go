package cashflow

import (
	"sort"
	"strings"

	"github.com/boddenberg/cashflow-bfa-go/internal/domain"
)

// BalanceOrder selects how the running balance is accumulated.
type BalanceOrder int

const (
	// BalanceDescending accumulates in display order (newest first), so each
	// item holds the sum of itself and everything newer; the oldest holds the total.
	BalanceDescending BalanceOrder = iota
	// BalanceChronological accumulates oldest first, giving each item the true
	// historical balance after it. Display order stays newest first.
	BalanceChronological
)

func (o BalanceOrder) String() string {
	if o == BalanceChronological {
		return "chronological"
	}
	return "descending"
}

func (o BalanceOrder) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// ParseBalanceOrder reads a configured order. Unknown values mean descending.
func ParseBalanceOrder(s string) BalanceOrder {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "chronological", "ascending", "asc":
		return BalanceChronological
	default:
		return BalanceDescending
	}
}

// SortForDisplay returns a copy of items ordered newest first. Items on the
// same date are ordered by id, highest first, so the order is total.
func SortForDisplay(items []domain.CashFlowItem) []domain.CashFlowItem {
	sorted := make([]domain.CashFlowItem, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Date.Equal(sorted[j].Date) {
			return sorted[i].Date.After(sorted[j].Date)
		}
		return sorted[i].ID > sorted[j].ID
	})
	return sorted
}

// RunningBalance sorts items for display and assigns Balance to each of them.
// The input slice is not modified.
func RunningBalance(items []domain.CashFlowItem, order BalanceOrder) []domain.CashFlowItem {
	sorted := SortForDisplay(items)

	var balance float64
	if order == BalanceChronological {
		for i := len(sorted) - 1; i >= 0; i-- {
			balance += sorted[i].Signed()
			sorted[i].Balance = balance
		}
		return sorted
	}

	for i := range sorted {
		balance += sorted[i].Signed()
		sorted[i].Balance = balance
	}
	return sorted
}

// NetTotal is the sum of signed amounts: total income minus total expense.
func NetTotal(items []domain.CashFlowItem) float64 {
	var net float64
	for _, it := range items {
		net += it.Signed()
	}
	return net
}
