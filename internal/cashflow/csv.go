package cashflow

import (
	"encoding/csv"
	"io"

	"github.com/boddenberg/cashflow-bfa-go/internal/domain"

	"github.com/shopspring/decimal"
)

// CSVHeader returns the export header for the given reporting currency.
func CSVHeader(base string) []string {
	return []string{
		"Date", "Description", "Type", "Category", "PaymentMethod",
		"Amount(" + base + ")", "OriginalAmount", "OriginalCurrency", "Balance",
	}
}

// WriteCSV writes items, in the given order, as comma-separated rows under
// one header row. Original amount and currency are empty for items that
// were not converted.
func WriteCSV(w io.Writer, base string, items []domain.CashFlowItem) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader(base)); err != nil {
		return err
	}
	for _, it := range items {
		var original string
		if it.OriginalAmount != nil {
			original = money(*it.OriginalAmount)
		}
		typ := "Income"
		if it.Type == domain.Expense {
			typ = "Expense"
		}
		row := []string{
			it.Date.Format("2006-01-02"),
			it.Description,
			typ,
			it.Category,
			it.PaymentMethod,
			money(it.Amount),
			original,
			it.OriginalCurrency,
			money(it.Balance),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func money(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}
