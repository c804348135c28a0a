package cashflow

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/boddenberg/cashflow-bfa-go/internal/domain"
)

// ID offsets keep item ids from different record sets apart. Recurring
// expense charges live in their own table and get their own offset.
const (
	PaymentIDOffset          = 100000
	ExpenseIDOffset          = 200000
	RecurringExpenseIDOffset = 300000
)

// Defaults for missing optional fields.
const (
	UnknownClient        = "Sin cliente"
	UnknownPaymentMethod = "N/A"
	Uncategorized        = "Uncategorized"
)

// Categories assigned to project payments.
const (
	CategoryImplementationIncome = "Implementation Income"
	CategoryRecurringIncome      = "Recurring Income"
)

// ConversionWarning reports a record whose currency could not be converted.
// The amount was kept as-is, so totals that include it are in mixed currency.
type ConversionWarning struct {
	Source   domain.Source `json:"source"`
	SourceID int64         `json:"sourceId"`
	Currency string        `json:"currency"`
	Amount   float64       `json:"amount"`
}

// Unifier maps the three source record shapes into CashFlowItems.
type Unifier struct {
	normalizer *Normalizer
}

// NewUnifier creates a unifier that normalizes amounts with n.
func NewUnifier(n *Normalizer) *Unifier {
	return &Unifier{normalizer: n}
}

// Unify returns manual incomes, then paid project payments, then paid expenses.
func (u *Unifier) Unify(
	incomes []domain.ManualIncomeRecord,
	payments []domain.ProjectPaymentRecord,
	expenses []domain.ExpenseRecord,
) ([]domain.CashFlowItem, []ConversionWarning) {
	items := make([]domain.CashFlowItem, 0, len(incomes)+len(payments)+len(expenses))
	var warnings []ConversionWarning

	for _, in := range incomes {
		item := domain.CashFlowItem{
			ID:              in.ID,
			Date:            in.Date,
			Description:     strings.TrimSpace(in.Description),
			Category:        orDefault(in.Type, Uncategorized),
			PaymentMethod:   orDefault(in.PaymentMethod, UnknownPaymentMethod),
			Type:            domain.Income,
			Client:          strings.TrimSpace(in.Client),
			Source:          domain.SourceManualIncome,
			SourceID:        in.ID,
			LinkedPaymentID: in.PaymentID,
		}
		if w := u.setAmount(&item, in.Amount, in.Currency); w {
			warnings = append(warnings, warningFor(item, in.Currency, in.Amount))
		}
		items = append(items, item)
	}

	for _, p := range payments {
		if !IsPaid(p.Status) {
			continue
		}
		category := CategoryImplementationIncome
		if strings.EqualFold(p.Type, domain.PaymentRecurring) {
			category = CategoryRecurringIncome
		}
		item := domain.CashFlowItem{
			ID:            p.ID + PaymentIDOffset,
			Date:          effectiveDate(p.Date, p.PaidDate),
			Description:   PaymentDescription(p),
			Category:      category,
			PaymentMethod: orDefault(p.PaymentMethod, UnknownPaymentMethod),
			Type:          domain.Income,
			Client:        orDefault(p.ClientName, UnknownClient),
			Source:        domain.SourceProjectPayment,
			SourceID:      p.ID,
		}
		if w := u.setAmount(&item, p.Amount, p.Currency); w {
			warnings = append(warnings, warningFor(item, p.Currency, p.Amount))
		}
		items = append(items, item)
	}

	for _, e := range expenses {
		if !IsPaid(e.Status) {
			continue
		}
		offset := int64(ExpenseIDOffset)
		if strings.EqualFold(e.SourceType, domain.ExpenseRecurring) {
			offset = RecurringExpenseIDOffset
		}
		item := domain.CashFlowItem{
			ID:            e.ID + offset,
			Date:          effectiveDate(e.Date, e.PaidDate),
			Description:   strings.TrimSpace(e.Description),
			Category:      orDefault(e.Category, Uncategorized),
			PaymentMethod: orDefault(e.PaymentMethod, UnknownPaymentMethod),
			Type:          domain.Expense,
			Source:        domain.SourceExpense,
			SourceID:      e.ID,
		}
		if w := u.setAmount(&item, e.Amount, e.Currency); w {
			warnings = append(warnings, warningFor(item, e.Currency, e.Amount))
		}
		items = append(items, item)
	}

	return items, warnings
}

// setAmount fills Amount and, when a rate was applied, the original values.
// It returns true when the currency pair is unsupported.
func (u *Unifier) setAmount(item *domain.CashFlowItem, amount float64, currency string) bool {
	amount = math.Abs(amount)
	c := u.normalizer.ToBase(amount, currency)
	item.Amount = c.Amount
	if c.Status == Converted {
		original := amount
		item.OriginalAmount = &original
		item.OriginalCurrency = c.From
	}
	return c.Status == Unsupported
}

// PaymentDescription synthesizes the label of a project payment:
// "Payment for <project> - <type> fee", plus the installment number when present.
func PaymentDescription(p domain.ProjectPaymentRecord) string {
	fee := domain.PaymentImplementation
	if strings.EqualFold(p.Type, domain.PaymentRecurring) {
		fee = domain.PaymentRecurring
	}
	desc := fmt.Sprintf("Payment for %s - %s fee", strings.TrimSpace(p.ProjectName), fee)
	if p.InstallmentNumber != nil {
		desc += fmt.Sprintf(" (installment %d)", *p.InstallmentNumber)
	}
	return desc
}

// IsPaid reports whether a status marks the record as realized.
func IsPaid(status string) bool {
	s := strings.TrimSpace(status)
	return strings.EqualFold(s, domain.StatusPaid) || strings.EqualFold(s, "Pagado")
}

func effectiveDate(nominal time.Time, paid *time.Time) time.Time {
	if paid != nil && !paid.IsZero() {
		return *paid
	}
	return nominal
}

func orDefault(v, fallback string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return fallback
}

func warningFor(item domain.CashFlowItem, currency string, amount float64) ConversionWarning {
	return ConversionWarning{
		Source:   item.Source,
		SourceID: item.SourceID,
		Currency: normalizeCode(currency),
		Amount:   amount,
	}
}
