// Package postgres reads and writes cash-flow records straight from the
// Supabase Postgres database through a pgx connection pool. It is selected
// instead of the PostgREST adapter when DATABASE_URL is set.
package postgres

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/boddenberg/cashflow-bfa-go/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("postgres")

const service = "postgres"

// Store implements port.RecordsStore on a pgxpool.Pool.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Connect opens a pool for dsn and verifies it with a ping.
func Connect(ctx context.Context, dsn string, maxConns int32, logger *zap.Logger) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, &domain.ErrExternalService{Service: service, Err: err}
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &domain.ErrExternalService{Service: service, Err: err}
	}
	return New(pool, logger), nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool, logger *zap.Logger) *Store {
	return &Store{pool: pool, logger: logger}
}

// Close releases every pooled connection.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks a connection can be acquired.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return s.wrap("ping", err)
	}
	return nil
}

// ============================================================
// Queries
// ============================================================

const incomesQuery = `
SELECT id, COALESCE(description, ''), date, amount, COALESCE(type, ''),
       COALESCE(client, ''), COALESCE(payment_method, ''), COALESCE(currency, 'COP'), payment_id
FROM incomes
ORDER BY date DESC, id DESC`

const paymentColumns = `
SELECT pp.id, COALESCE(p.name, ''), COALESCE(c.name, ''), pp.date, pp.paid_date, pp.amount,
       COALESCE(pp.currency, 'COP'), COALESCE(pp.type, ''), pp.installment_number,
       COALESCE(pp.status, ''), COALESCE(pp.payment_method, '')
FROM project_payments pp
LEFT JOIN projects p ON p.id = pp.project_id
LEFT JOIN clients c ON c.id = p.client_id`

const paymentsQuery = paymentColumns + `
ORDER BY pp.date DESC, pp.id DESC`

const paymentByIDQuery = paymentColumns + `
WHERE pp.id = $1`

// Both expense tables share a shape; source_type tells them apart downstream.
const expensesQuery = `
SELECT id, COALESCE(description, ''), date, paid_date, amount, COALESCE(currency, 'COP'),
       COALESCE(category, ''), COALESCE(payment_method, ''), COALESCE(status, ''), 'Variable' AS source_type
FROM variable_expenses
UNION ALL
SELECT id, COALESCE(description, ''), date, paid_date, amount, COALESCE(currency, 'COP'),
       COALESCE(category, ''), COALESCE(payment_method, ''), COALESCE(status, ''), 'Recurring' AS source_type
FROM recurring_expense_charges
ORDER BY date DESC, id DESC`

const plansQuery = `
SELECT rp.id, COALESCE(p.name, ''), COALESCE(c.name, ''), rp.amount, COALESCE(rp.currency, 'COP'),
       COALESCE(rp.frequency, 'monthly'), rp.active
FROM recurring_plans rp
LEFT JOIN projects p ON p.id = rp.project_id
LEFT JOIN clients c ON c.id = p.client_id`

const markPaidQuery = `
UPDATE project_payments
SET status = $2, paid_date = $3, payment_method = COALESCE(NULLIF($4, ''), payment_method)
WHERE id = $1`

const insertIncomeQuery = `
INSERT INTO incomes (description, date, amount, type, client, payment_method, currency, payment_id)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), $7, $8)
RETURNING id`

// ============================================================
// RecordsFetcher
// ============================================================

// ListIncomes returns every manual income row.
func (s *Store) ListIncomes(ctx context.Context) ([]domain.ManualIncomeRecord, error) {
	ctx, span := tracer.Start(ctx, "Postgres.ListIncomes")
	defer span.End()

	rows, err := s.pool.Query(ctx, incomesQuery)
	if err != nil {
		return nil, s.wrap("incomes", err)
	}
	defer rows.Close()

	out := []domain.ManualIncomeRecord{}
	for rows.Next() {
		var r domain.ManualIncomeRecord
		if err := rows.Scan(&r.ID, &r.Description, &r.Date, &r.Amount, &r.Type,
			&r.Client, &r.PaymentMethod, &r.Currency, &r.PaymentID); err != nil {
			return nil, s.wrap("incomes", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("incomes", err)
	}
	span.SetAttributes(attribute.Int("rows", len(out)))
	return out, nil
}

// ListProjectPayments returns every payment with its project and client names.
func (s *Store) ListProjectPayments(ctx context.Context) ([]domain.ProjectPaymentRecord, error) {
	ctx, span := tracer.Start(ctx, "Postgres.ListProjectPayments")
	defer span.End()

	rows, err := s.pool.Query(ctx, paymentsQuery)
	if err != nil {
		return nil, s.wrap("project_payments", err)
	}
	defer rows.Close()

	out := []domain.ProjectPaymentRecord{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, s.wrap("project_payments", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("project_payments", err)
	}
	span.SetAttributes(attribute.Int("rows", len(out)))
	return out, nil
}

// ListExpenses returns variable expenses and recurring charges in one query.
func (s *Store) ListExpenses(ctx context.Context) ([]domain.ExpenseRecord, error) {
	ctx, span := tracer.Start(ctx, "Postgres.ListExpenses")
	defer span.End()

	rows, err := s.pool.Query(ctx, expensesQuery)
	if err != nil {
		return nil, s.wrap("expenses", err)
	}
	defer rows.Close()

	out := []domain.ExpenseRecord{}
	for rows.Next() {
		var e domain.ExpenseRecord
		if err := rows.Scan(&e.ID, &e.Description, &e.Date, &e.PaidDate, &e.Amount, &e.Currency,
			&e.Category, &e.PaymentMethod, &e.Status, &e.SourceType); err != nil {
			return nil, s.wrap("expenses", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("expenses", err)
	}
	span.SetAttributes(attribute.Int("rows", len(out)))
	return out, nil
}

// ListRecurringPlans returns recurring fee plans.
func (s *Store) ListRecurringPlans(ctx context.Context) ([]domain.RecurringPlan, error) {
	ctx, span := tracer.Start(ctx, "Postgres.ListRecurringPlans")
	defer span.End()

	rows, err := s.pool.Query(ctx, plansQuery)
	if err != nil {
		return nil, s.wrap("recurring_plans", err)
	}
	defer rows.Close()

	out := []domain.RecurringPlan{}
	for rows.Next() {
		var p domain.RecurringPlan
		if err := rows.Scan(&p.ID, &p.ProjectName, &p.ClientName, &p.Amount, &p.Currency,
			&p.Frequency, &p.Active); err != nil {
			return nil, s.wrap("recurring_plans", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrap("recurring_plans", err)
	}
	return out, nil
}

// ============================================================
// RecordsWriter
// ============================================================

// GetProjectPayment fetches one payment or returns ErrNotFound.
func (s *Store) GetProjectPayment(ctx context.Context, id int64) (*domain.ProjectPaymentRecord, error) {
	ctx, span := tracer.Start(ctx, "Postgres.GetProjectPayment")
	defer span.End()
	span.SetAttributes(attribute.Int64("payment.id", id))

	p, err := scanPayment(s.pool.QueryRow(ctx, paymentByIDQuery, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound(id)
		}
		return nil, s.wrap("project_payments", err)
	}
	return &p, nil
}

// MarkPaymentPaid updates and re-reads the payment in one transaction.
func (s *Store) MarkPaymentPaid(ctx context.Context, id int64, paidDate time.Time, paymentMethod string) (*domain.ProjectPaymentRecord, error) {
	ctx, span := tracer.Start(ctx, "Postgres.MarkPaymentPaid")
	defer span.End()
	span.SetAttributes(attribute.Int64("payment.id", id))

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, s.wrap("project_payments", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, markPaidQuery, id, domain.StatusPaid, paidDate, paymentMethod)
	if err != nil {
		return nil, s.wrap("project_payments", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, notFound(id)
	}

	p, err := scanPayment(tx.QueryRow(ctx, paymentByIDQuery, id))
	if err != nil {
		return nil, s.wrap("project_payments", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, s.wrap("project_payments", err)
	}

	s.logger.Info("payment marked as paid",
		zap.Int64("payment_id", id),
		zap.String("paid_date", paidDate.Format("2006-01-02")),
	)
	return &p, nil
}

// CreateIncome inserts a manual income and returns it with its new id.
func (s *Store) CreateIncome(ctx context.Context, income *domain.ManualIncomeRecord) (*domain.ManualIncomeRecord, error) {
	ctx, span := tracer.Start(ctx, "Postgres.CreateIncome")
	defer span.End()

	created := *income
	err := s.pool.QueryRow(ctx, insertIncomeQuery,
		income.Description, income.Date, income.Amount, income.Type,
		income.Client, income.PaymentMethod, income.Currency, income.PaymentID,
	).Scan(&created.ID)
	if err != nil {
		return nil, s.wrap("incomes", err)
	}
	span.SetAttributes(attribute.Int64("income.id", created.ID))
	return &created, nil
}

// ============================================================
// helpers
// ============================================================

func scanPayment(row pgx.Row) (domain.ProjectPaymentRecord, error) {
	var p domain.ProjectPaymentRecord
	err := row.Scan(&p.ID, &p.ProjectName, &p.ClientName, &p.Date, &p.PaidDate, &p.Amount,
		&p.Currency, &p.Type, &p.InstallmentNumber, &p.Status, &p.PaymentMethod)
	return p, err
}

func notFound(id int64) error {
	return &domain.ErrNotFound{Resource: "project payment", ID: strconv.FormatInt(id, 10)}
}

func (s *Store) wrap(resource string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.ErrTimeout{Operation: service + "/" + resource}
	}
	s.logger.Error("postgres: query failed", zap.String("resource", resource), zap.Error(err))
	return &domain.ErrExternalService{Service: service + "/" + resource, Err: err}
}
