// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the service layer
// from the Supabase, Postgres, object storage and push adapters.
package port

import (
	"context"
	"time"

	"github.com/boddenberg/cashflow-bfa-go/internal/domain"
)

// RecordsFetcher retrieves the record sets the cash-flow pipeline consumes.
type RecordsFetcher interface {
	ListIncomes(ctx context.Context) ([]domain.ManualIncomeRecord, error)
	// ListProjectPayments returns every payment, paid or not, joined with
	// its project and client names.
	ListProjectPayments(ctx context.Context) ([]domain.ProjectPaymentRecord, error)
	// ListExpenses returns variable and recurring expense charges.
	ListExpenses(ctx context.Context) ([]domain.ExpenseRecord, error)
	ListRecurringPlans(ctx context.Context) ([]domain.RecurringPlan, error)
}

// RecordsWriter performs the write operations that invalidate cash-flow results.
type RecordsWriter interface {
	GetProjectPayment(ctx context.Context, id int64) (*domain.ProjectPaymentRecord, error)
	MarkPaymentPaid(ctx context.Context, id int64, paidDate time.Time, paymentMethod string) (*domain.ProjectPaymentRecord, error)
	CreateIncome(ctx context.Context, income *domain.ManualIncomeRecord) (*domain.ManualIncomeRecord, error)
}

// RecordsStore is a full persistence backend.
// Implemented by the Supabase adapter and the Postgres adapter.
type RecordsStore interface {
	RecordsFetcher
	RecordsWriter
	Ping(ctx context.Context) error
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
	Purge()
}

// Invalidator drops derived state after a write.
type Invalidator interface {
	Invalidate(ctx context.Context, evt domain.Event)
}

// EventPublisher fans events out to subscribed dashboard clients.
type EventPublisher interface {
	Publish(evt domain.Event)
}

// ExportSink stores exported reports and returns their location.
type ExportSink interface {
	Put(ctx context.Context, name string, data []byte, contentType string) (string, error)
	List(ctx context.Context) ([]domain.ExportObject, error)
}
