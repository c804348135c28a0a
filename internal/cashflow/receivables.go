package cashflow

import (
	"math"
	"sort"
	"time"

	"github.com/boddenberg/cashflow-bfa-go/internal/domain"
)

// DueSoonDays is how close a due date must be to count as due soon.
const DueSoonDays = 7

// Receivables classifies every project payment that is not paid yet by its
// nominal date relative to the day of asOf. Items are ordered by due date,
// then payment id.
func Receivables(payments []domain.ProjectPaymentRecord, n *Normalizer, asOf time.Time) domain.ReceivablesSummary {
	today := dayOf(asOf)
	summary := domain.ReceivablesSummary{
		Items: make([]domain.Receivable, 0),
		Totals: map[domain.ReceivableStatus]float64{
			domain.ReceivableOverdue: 0,
			domain.ReceivableDueSoon: 0,
			domain.ReceivablePending: 0,
		},
	}

	for _, p := range payments {
		if IsPaid(p.Status) {
			continue
		}
		due := dayOf(p.Date)
		days := int(math.Round(today.Sub(due).Hours() / 24))

		r := domain.Receivable{
			PaymentID:   p.ID,
			ProjectName: p.ProjectName,
			Client:      orDefault(p.ClientName, UnknownClient),
			DueDate:     p.Date,
			Amount:      n.ToBase(math.Abs(p.Amount), p.Currency).Amount,
		}
		switch {
		case days > 0:
			r.Status = domain.ReceivableOverdue
			r.DaysOverdue = days
		case -days <= DueSoonDays:
			r.Status = domain.ReceivableDueSoon
		default:
			r.Status = domain.ReceivablePending
		}
		summary.Items = append(summary.Items, r)
		summary.Totals[r.Status] += r.Amount
	}

	sort.SliceStable(summary.Items, func(i, j int) bool {
		a, b := summary.Items[i], summary.Items[j]
		if !a.DueDate.Equal(b.DueDate) {
			return a.DueDate.Before(b.DueDate)
		}
		return a.PaymentID < b.PaymentID
	})
	return summary
}

// dayOf truncates t to midnight UTC of its calendar day.
func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
