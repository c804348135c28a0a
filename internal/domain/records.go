package domain

import "time"

// ============================================================
// Source records (as fetched from Supabase)
// ============================================================

// Payment statuses as stored in project_payments / expenses.
const (
	StatusPaid    = "Paid"
	StatusPending = "Pending"
)

// Project payment fee types.
const (
	PaymentImplementation = "Implementation"
	PaymentRecurring      = "Recurring"
)

// Expense source types.
const (
	ExpenseVariable  = "Variable"
	ExpenseRecurring = "Recurring"
)

// IncomePartnerContribution is the income type excluded from MRR.
const IncomePartnerContribution = "Partner Contribution"

// ManualIncomeRecord is a row of the incomes table entered by hand.
type ManualIncomeRecord struct {
	ID            int64     `json:"id"`
	Description   string    `json:"description"`
	Date          time.Time `json:"date"`
	Amount        float64   `json:"amount"`
	Type          string    `json:"type"`
	Client        string    `json:"client,omitempty"`
	PaymentMethod string    `json:"payment_method,omitempty"`
	Currency      string    `json:"currency"`

	// PaymentID links the income to the project payment that produced it,
	// when the row was created by the mark-paid flow.
	PaymentID *int64 `json:"payment_id,omitempty"`
}

// ProjectPaymentRecord is a project_payments row joined with its project and client.
type ProjectPaymentRecord struct {
	ID                int64      `json:"id"`
	ProjectName       string     `json:"project_name"`
	ClientName        string     `json:"client_name"`
	Date              time.Time  `json:"date"`
	PaidDate          *time.Time `json:"paid_date,omitempty"`
	Amount            float64    `json:"amount"`
	Currency          string     `json:"currency"`
	Type              string     `json:"type"` // Implementation | Recurring
	InstallmentNumber *int       `json:"installment_number,omitempty"`
	Status            string     `json:"status"`
	PaymentMethod     string     `json:"payment_method,omitempty"`
}

// ExpenseRecord is a caused expense, variable or recurring.
type ExpenseRecord struct {
	ID            int64      `json:"id"`
	Description   string     `json:"description"`
	Date          time.Time  `json:"date"`
	PaidDate      *time.Time `json:"paid_date,omitempty"`
	Amount        float64    `json:"amount"`
	Currency      string     `json:"currency"`
	Category      string     `json:"category"`
	PaymentMethod string     `json:"payment_method,omitempty"`
	Status        string     `json:"status"`
	SourceType    string     `json:"source_type"` // Variable | Recurring
}

// RecurringPlan is an active recurring fee agreed with a client, used for MRR.
type RecurringPlan struct {
	ID          int64   `json:"id"`
	ProjectName string  `json:"project_name"`
	ClientName  string  `json:"client_name"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	Frequency   string  `json:"frequency"` // weekly, biweekly, monthly, quarterly, semiannual, annual
	Active      bool    `json:"active"`
}

// RecordSet groups everything one pipeline run consumes.
type RecordSet struct {
	Incomes        []ManualIncomeRecord
	Payments       []ProjectPaymentRecord
	Expenses       []ExpenseRecord
	RecurringPlans []RecurringPlan
}

// NewIncomeRequest is the body of POST /v1/incomes.
type NewIncomeRequest struct {
	Description   string  `json:"description"`
	Date          string  `json:"date"` // YYYY-MM-DD
	Amount        float64 `json:"amount"`
	Type          string  `json:"type"`
	Client        string  `json:"client,omitempty"`
	PaymentMethod string  `json:"payment_method,omitempty"`
	Currency      string  `json:"currency"`
}

// MarkPaidRequest is the body of POST /v1/payments/{paymentId}/mark-paid.
type MarkPaidRequest struct {
	PaidDate      string `json:"paid_date,omitempty"` // YYYY-MM-DD, defaults to today
	PaymentMethod string `json:"payment_method,omitempty"`
}
