package domain

import (
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// ============================================================
// Cash-flow items
// ============================================================

// ItemType is the direction of a cash-flow item.
type ItemType string

const (
	Income  ItemType = "income"
	Expense ItemType = "expense"
)

// Source is the record set an item was unified from.
type Source string

const (
	SourceManualIncome   Source = "manual_income"
	SourceProjectPayment Source = "project_payment"
	SourceExpense        Source = "expense"
)

// CashFlowItem is a single normalized income or expense event in the reporting currency.
// Amount is never negative; the sign comes from Type.
type CashFlowItem struct {
	ID               int64     `json:"id"`
	Date             time.Time `json:"date"`
	Description      string    `json:"description"`
	Category         string    `json:"category"`
	PaymentMethod    string    `json:"paymentMethod"`
	Type             ItemType  `json:"type"`
	Amount           float64   `json:"amount"`
	OriginalAmount   *float64  `json:"originalAmount,omitempty"`
	OriginalCurrency string    `json:"originalCurrency,omitempty"`
	Client           string    `json:"client,omitempty"`
	Source           Source    `json:"source"`
	SourceID         int64     `json:"sourceId"`
	Balance          float64   `json:"balance"`

	// LinkedPaymentID is set on manual incomes created from a paid project payment.
	LinkedPaymentID *int64 `json:"linkedPaymentId,omitempty"`
}

// Signed returns the amount with the sign implied by the item type.
func (i CashFlowItem) Signed() float64 {
	if i.Type == Expense {
		return -i.Amount
	}
	return i.Amount
}

// Converted reports whether the amount went through currency conversion.
func (i CashFlowItem) Converted() bool {
	return i.OriginalAmount != nil
}

// ============================================================
// Aggregations
// ============================================================

// MonthlyBucket holds one calendar month. Balance is the net of that month only.
type MonthlyBucket struct {
	PeriodKey    string  `json:"periodKey"` // YYYY-MM
	TotalIncome  float64 `json:"totalIncome"`
	TotalExpense float64 `json:"totalExpense"`
	Balance      float64 `json:"balance"`
}

// HasData reports whether any income or expense fell into the month.
func (b MonthlyBucket) HasData() bool {
	return b.TotalIncome != 0 || b.TotalExpense != 0
}

// CategoryBucket aggregates expense items per category.
type CategoryBucket struct {
	Label   string  `json:"label"`
	Total   float64 `json:"total"`
	Count   int     `json:"count"`
	Average float64 `json:"average"`
}

// ClientBucket aggregates income items per client.
type ClientBucket struct {
	Label      string  `json:"label"`
	Total      float64 `json:"total"`
	Count      int     `json:"count"`
	Average    float64 `json:"average"`
	Percentage float64 `json:"percentage,omitempty"`
}

// ============================================================
// KPIs
// ============================================================

// Runway is the number of months the current balance lasts at the average
// monthly expense. Infinite is set when there is no expense to divide by.
type Runway struct {
	Months   float64
	Infinite bool
}

// InfiniteRunway is the sentinel reported when average monthly expense is zero.
var InfiniteRunway = Runway{Infinite: true}

// Exceeds reports whether the runway is longer than the given number of months.
// An infinite runway exceeds every finite threshold.
func (r Runway) Exceeds(months float64) bool {
	if r.Infinite {
		return true
	}
	return r.Months > months
}

// String renders the runway for display.
func (r Runway) String() string {
	if r.Infinite {
		return "∞"
	}
	return strconv.FormatFloat(math.Round(r.Months*10)/10, 'f', 1, 64)
}

// MarshalJSON encodes the runway as {"months": n, "infinite": bool, "display": "..."}.
// Months is null when infinite so no Infinity ever reaches the encoder.
func (r Runway) MarshalJSON() ([]byte, error) {
	var months *float64
	if !r.Infinite {
		m := r.Months
		months = &m
	}
	return json.Marshal(struct {
		Months   *float64 `json:"months"`
		Infinite bool     `json:"infinite"`
		Display  string   `json:"display"`
	}{months, r.Infinite, r.String()})
}

// Metrics is the KPI object consumed by the dashboard header.
type Metrics struct {
	TotalIncome    float64 `json:"totalIncome"`
	TotalExpense   float64 `json:"totalExpense"`
	CurrentBalance float64 `json:"currentBalance"`
	AvgIncome      float64 `json:"avgIncome"`
	AvgExpense     float64 `json:"avgExpense"`
	Runway         Runway  `json:"runway"`
	BurnRate       float64 `json:"burnRate"`
	MRR            float64 `json:"mrr"`
	WindowMonths   int     `json:"windowMonths"`
}

// ProjectionPoint is one forward month of a projection.
type ProjectionPoint struct {
	PeriodKey string  `json:"periodKey"`
	Income    float64 `json:"income"`
	Expense   float64 `json:"expense"`
	Net       float64 `json:"net"`
	Balance   float64 `json:"balance"`
}

// GrowthProjection is the compounded projection with the rates used.
type GrowthProjection struct {
	IncomeGrowthRate  float64           `json:"incomeGrowthRate"`
	ExpenseGrowthRate float64           `json:"expenseGrowthRate"`
	Points            []ProjectionPoint `json:"points"`
}

// ============================================================
// Filters & reports
// ============================================================

// Filter narrows the deduplicated set before aggregation. Zero values mean "no filter".
// From is inclusive, To is exclusive.
type Filter struct {
	From     *time.Time `json:"from,omitempty"`
	To       *time.Time `json:"to,omitempty"`
	Type     ItemType   `json:"type,omitempty"`
	Category string     `json:"category,omitempty"`
	Client   string     `json:"client,omitempty"`
}

// IsZero reports whether the filter selects everything.
func (f Filter) IsZero() bool {
	return f.From == nil && f.To == nil && f.Type == "" && f.Category == "" && f.Client == ""
}

// DroppedDuplicate records an item removed because another item already
// represents the same event. MatchedID is the id of the survivor.
type DroppedDuplicate struct {
	Item      CashFlowItem `json:"item"`
	MatchedID int64        `json:"matchedId"`
	Key       string       `json:"key"`
}

// ReceivableStatus classifies a non-paid project payment.
type ReceivableStatus string

const (
	ReceivableOverdue ReceivableStatus = "overdue"
	ReceivableDueSoon ReceivableStatus = "due_soon"
	ReceivablePending ReceivableStatus = "pending"
)

// Receivable is a pending project payment with its classification.
type Receivable struct {
	PaymentID   int64            `json:"paymentId"`
	ProjectName string           `json:"projectName"`
	Client      string           `json:"client"`
	DueDate     time.Time        `json:"dueDate"`
	Amount      float64          `json:"amount"`
	Status      ReceivableStatus `json:"status"`
	DaysOverdue int              `json:"daysOverdue,omitempty"`
}

// ReceivablesSummary groups receivables and their totals per status.
type ReceivablesSummary struct {
	Items  []Receivable                 `json:"items"`
	Totals map[ReceivableStatus]float64 `json:"totals"`
}

// ExportObject is an archived CSV export.
type ExportObject struct {
	Name      string    `json:"name"`
	URI       string    `json:"uri"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"createdAt"`
}

// ExportResult is returned after archiving an export.
type ExportResult struct {
	URI   string `json:"uri"`
	Items int    `json:"items"`
	Bytes int    `json:"bytes"`
}
