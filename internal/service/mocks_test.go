package service_test

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/boddenberg/cashflow-bfa-go/internal/domain"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ptr[T any](v T) *T { return &v }

// --- Mocks ---

type mockStore struct {
	set domain.RecordSet

	incomesErr  error
	paymentsErr error
	expensesErr error

	// onFetch runs inside ListIncomes, before it returns.
	onFetch func()

	fetches atomic.Int32

	mu        sync.Mutex
	paid      map[int64]time.Time
	created   []domain.ManualIncomeRecord
	createErr error
	nextID    int64
}

func newMockStore(set domain.RecordSet) *mockStore {
	return &mockStore{set: set, paid: map[int64]time.Time{}, nextID: 100}
}

func (m *mockStore) ListIncomes(_ context.Context) ([]domain.ManualIncomeRecord, error) {
	m.fetches.Add(1)
	if m.onFetch != nil {
		m.onFetch()
	}
	return m.set.Incomes, m.incomesErr
}

func (m *mockStore) ListProjectPayments(_ context.Context) ([]domain.ProjectPaymentRecord, error) {
	return m.set.Payments, m.paymentsErr
}

func (m *mockStore) ListExpenses(_ context.Context) ([]domain.ExpenseRecord, error) {
	return m.set.Expenses, m.expensesErr
}

func (m *mockStore) ListRecurringPlans(_ context.Context) ([]domain.RecurringPlan, error) {
	return m.set.RecurringPlans, nil
}

func (m *mockStore) GetProjectPayment(_ context.Context, id int64) (*domain.ProjectPaymentRecord, error) {
	for _, p := range m.set.Payments {
		if p.ID == id {
			cp := p
			return &cp, nil
		}
	}
	return nil, &domain.ErrNotFound{Resource: "project payment", ID: "x"}
}

func (m *mockStore) MarkPaymentPaid(_ context.Context, id int64, paidDate time.Time, method string) (*domain.ProjectPaymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, p := range m.set.Payments {
		if p.ID == id {
			p.Status = domain.StatusPaid
			p.PaidDate = &paidDate
			p.PaymentMethod = method
			m.set.Payments[i] = p
			m.paid[id] = paidDate
			cp := p
			return &cp, nil
		}
	}
	return nil, &domain.ErrNotFound{Resource: "project payment", ID: "x"}
}

func (m *mockStore) CreateIncome(_ context.Context, income *domain.ManualIncomeRecord) (*domain.ManualIncomeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.nextID++
	cp := *income
	cp.ID = m.nextID
	m.created = append(m.created, cp)
	return &cp, nil
}

type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Invalidate(_ context.Context, evt domain.Event) { r.add(evt) }

func (r *recorder) Publish(evt domain.Event) { r.add(evt) }

func (r *recorder) add(evt domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type mockSink struct {
	names []string
	data  [][]byte
	objs  []domain.ExportObject
	err   error
}

func (m *mockSink) Put(_ context.Context, name string, data []byte, _ string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.names = append(m.names, name)
	m.data = append(m.data, data)
	return "gs://bucket/exports/" + name, nil
}

func (m *mockSink) List(_ context.Context) ([]domain.ExportObject, error) {
	return m.objs, m.err
}

// websiteScenario is one manual income duplicating a paid project payment,
// plus one paid expense and one pending payment.
func websiteScenario() domain.RecordSet {
	return domain.RecordSet{
		Incomes: []domain.ManualIncomeRecord{{
			ID: 1, Description: "Payment for Website", Date: day(2024, 3, 10),
			Amount: 5_000_000, Type: "Project", Currency: "COP",
		}},
		Payments: []domain.ProjectPaymentRecord{
			{
				ID: 1, ProjectName: "Website", ClientName: "ACME", Date: day(2024, 3, 1),
				PaidDate: ptr(day(2024, 3, 10)), Amount: 5_000_000, Currency: "COP",
				Type: "Implementation", Status: "Paid",
			},
			{
				ID: 2, ProjectName: "Website", ClientName: "ACME", Date: day(2024, 4, 1),
				Amount: 1_000_000, Currency: "COP", Type: "Recurring", Status: "Pending",
			},
		},
		Expenses: []domain.ExpenseRecord{{
			ID: 1, Description: "Hosting", Date: day(2024, 3, 1), PaidDate: ptr(day(2024, 3, 12)),
			Amount: 2_000_000, Currency: "COP", Category: "Infrastructure", Status: "Paid",
			SourceType: domain.ExpenseVariable,
		}},
	}
}
