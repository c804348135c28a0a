package cashflow

import (
	"strconv"
	"strings"

	"github.com/boddenberg/cashflow-bfa-go/internal/domain"
)

// EventIdentity decides when two cash-flow items describe the same economic event.
//
// Keys returns the lookup keys of an item; two items can only be the same
// event when they share at least one key. SameEvent settles a key collision.
type EventIdentity interface {
	Name() string
	Keys(item domain.CashFlowItem) []string
	SameEvent(existing, candidate domain.CashFlowItem) bool
}

// HeuristicIdentity matches items on day, amount and related descriptions:
// one description must contain the other, case-insensitively.
type HeuristicIdentity struct{}

func (HeuristicIdentity) Name() string { return "heuristic" }

// Keys returns the single "<day>|<amount>" key of the item. The amount is
// the post-normalization value rounded to cents.
func (HeuristicIdentity) Keys(item domain.CashFlowItem) []string {
	return []string{heuristicKey(item)}
}

func (HeuristicIdentity) SameEvent(existing, candidate domain.CashFlowItem) bool {
	return relatedDescriptions(existing.Description, candidate.Description)
}

// LinkedIdentity matches a manual income to the project payment it was
// created from through the income's payment link. Unlinked manual incomes
// fall back to the heuristic.
type LinkedIdentity struct{}

func (LinkedIdentity) Name() string { return "linked" }

func (LinkedIdentity) Keys(item domain.CashFlowItem) []string {
	switch {
	case item.Source == domain.SourceProjectPayment:
		return []string{paymentKey(item.SourceID), heuristicKey(item)}
	case item.Source == domain.SourceManualIncome && item.LinkedPaymentID != nil:
		return []string{paymentKey(*item.LinkedPaymentID)}
	default:
		return []string{heuristicKey(item)}
	}
}

func (LinkedIdentity) SameEvent(existing, candidate domain.CashFlowItem) bool {
	if candidate.LinkedPaymentID != nil && existing.Source == domain.SourceProjectPayment {
		return *candidate.LinkedPaymentID == existing.SourceID
	}
	return relatedDescriptions(existing.Description, candidate.Description)
}

// IdentityByName resolves a configured strategy name. Unknown names get the heuristic.
func IdentityByName(name string) EventIdentity {
	if strings.EqualFold(strings.TrimSpace(name), "linked") {
		return LinkedIdentity{}
	}
	return HeuristicIdentity{}
}

// Deduplicate removes manual incomes that duplicate a project payment.
//
// Expenses are kept unconditionally. Project payments are authoritative: a
// later payment that is the same event as an earlier one replaces it in
// place. A manual income is dropped only when one of its keys collides with
// a project payment the identity considers the same event; manual incomes
// never shadow each other. On a coincidental collision both are kept. The survivors keep insertion order: expenses, payments,
// then manual incomes.
func Deduplicate(items []domain.CashFlowItem, identity EventIdentity) ([]domain.CashFlowItem, []domain.DroppedDuplicate) {
	if identity == nil {
		identity = HeuristicIdentity{}
	}

	out := make([]domain.CashFlowItem, 0, len(items))
	index := make(map[string][]int)
	var dropped []domain.DroppedDuplicate

	for _, it := range items {
		if it.Source == domain.SourceExpense || it.Type == domain.Expense {
			out = append(out, it)
		}
	}

	for _, it := range items {
		if it.Source != domain.SourceProjectPayment || it.Type == domain.Expense {
			continue
		}
		keys := identity.Keys(it)
		if pos, key, ok := findSame(out, index, keys, it, identity, domain.SourceProjectPayment); ok {
			dropped = append(dropped, domain.DroppedDuplicate{Item: out[pos], MatchedID: it.ID, Key: key})
			out[pos] = it
			continue
		}
		out = append(out, it)
		indexAt(index, keys, len(out)-1)
	}

	for _, it := range items {
		if it.Source != domain.SourceManualIncome || it.Type == domain.Expense {
			continue
		}
		keys := identity.Keys(it)
		if pos, key, ok := findSame(out, index, keys, it, identity, domain.SourceProjectPayment); ok {
			dropped = append(dropped, domain.DroppedDuplicate{Item: it, MatchedID: out[pos].ID, Key: key})
			continue
		}
		out = append(out, it)
	}

	return out, dropped
}

// findSame looks up every key of candidate and returns the first indexed item
// that is the same event. When source is set only items from it are considered.
func findSame(
	out []domain.CashFlowItem,
	index map[string][]int,
	keys []string,
	candidate domain.CashFlowItem,
	identity EventIdentity,
	source domain.Source,
) (int, string, bool) {
	for _, key := range keys {
		for _, pos := range index[key] {
			existing := out[pos]
			if source != "" && existing.Source != source {
				continue
			}
			if identity.SameEvent(existing, candidate) {
				return pos, key, true
			}
		}
	}
	return 0, "", false
}

func indexAt(index map[string][]int, keys []string, pos int) {
	for _, key := range keys {
		index[key] = append(index[key], pos)
	}
}

func heuristicKey(item domain.CashFlowItem) string {
	return item.Date.Format("2006-01-02") + "|" + strconv.FormatFloat(item.Amount, 'f', 2, 64)
}

func paymentKey(id int64) string {
	return "payment:" + strconv.FormatInt(id, 10)
}

func relatedDescriptions(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	return strings.Contains(a, b) || strings.Contains(b, a)
}
