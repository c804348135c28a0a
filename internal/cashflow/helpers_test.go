package cashflow_test

import (
	"time"

	"github.com/boddenberg/cashflow-bfa-go/internal/domain"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ptr[T any](v T) *T { return &v }

func income(id int64, date time.Time, amount float64, desc string) domain.CashFlowItem {
	return domain.CashFlowItem{
		ID: id, Date: date, Amount: amount, Description: desc,
		Type: domain.Income, Source: domain.SourceManualIncome, SourceID: id,
	}
}

func expense(id int64, date time.Time, amount float64, category string) domain.CashFlowItem {
	return domain.CashFlowItem{
		ID: id, Date: date, Amount: amount, Category: category, Description: category,
		Type: domain.Expense, Source: domain.SourceExpense, SourceID: id,
	}
}

func payment(id int64, date time.Time, amount float64, desc string) domain.CashFlowItem {
	return domain.CashFlowItem{
		ID: id + 100000, Date: date, Amount: amount, Description: desc,
		Type: domain.Income, Source: domain.SourceProjectPayment, SourceID: id,
	}
}

// websiteScenario is one manual income duplicating a paid project payment,
// plus one paid expense.
func websiteScenario() domain.RecordSet {
	return domain.RecordSet{
		Incomes: []domain.ManualIncomeRecord{{
			ID: 1, Description: "Payment for Website", Date: day(2024, 3, 10),
			Amount: 5_000_000, Type: "Project", Currency: "COP",
		}},
		Payments: []domain.ProjectPaymentRecord{{
			ID: 1, ProjectName: "Website", ClientName: "ACME", Date: day(2024, 3, 1),
			PaidDate: ptr(day(2024, 3, 10)), Amount: 5_000_000, Currency: "COP",
			Type: "Implementation", Status: "Paid",
		}},
		Expenses: []domain.ExpenseRecord{{
			ID: 1, Description: "Hosting", Date: day(2024, 3, 1), PaidDate: ptr(day(2024, 3, 12)),
			Amount: 2_000_000, Currency: "COP", Category: "Infrastructure", Status: "Paid",
			SourceType: domain.ExpenseVariable,
		}},
	}
}
