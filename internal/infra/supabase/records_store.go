package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/boddenberg/cashflow-bfa-go/internal/domain"
	"github.com/boddenberg/cashflow-bfa-go/internal/infra/resilience"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Embedded selects for rows that carry a project and its client.
const (
	paymentSelect = "select=id,date,paid_date,amount,currency,type,installment_number,status,payment_method,project:projects(name,client:clients(name))"
	planSelect    = "select=id,amount,currency,frequency,active,project:projects(name,client:clients(name))"
	expenseSelect = "select=id,description,date,paid_date,amount,currency,category,payment_method,status"
)

// Expense tables merged into one record set.
var expenseTables = []struct {
	table      string
	sourceType string
}{
	{"variable_expenses", domain.ExpenseVariable},
	{"recurring_expense_charges", domain.ExpenseRecurring},
}

// --- row mappings ---

type incomeRow struct {
	ID            int64   `json:"id"`
	Description   string  `json:"description"`
	Date          string  `json:"date"`
	Amount        float64 `json:"amount"`
	Type          string  `json:"type"`
	Client        string  `json:"client"`
	PaymentMethod string  `json:"payment_method"`
	Currency      string  `json:"currency"`
	PaymentID     *int64  `json:"payment_id"`
}

func (r incomeRow) toDomain() domain.ManualIncomeRecord {
	return domain.ManualIncomeRecord{
		ID:            r.ID,
		Description:   r.Description,
		Date:          parseDate(r.Date),
		Amount:        r.Amount,
		Type:          r.Type,
		Client:        r.Client,
		PaymentMethod: r.PaymentMethod,
		Currency:      r.Currency,
		PaymentID:     r.PaymentID,
	}
}

type projectRef struct {
	Name   string `json:"name"`
	Client *struct {
		Name string `json:"name"`
	} `json:"client"`
}

func (p *projectRef) names() (project, client string) {
	if p == nil {
		return "", ""
	}
	if p.Client != nil {
		client = p.Client.Name
	}
	return p.Name, client
}

type paymentRow struct {
	ID                int64       `json:"id"`
	Date              string      `json:"date"`
	PaidDate          string      `json:"paid_date"`
	Amount            float64     `json:"amount"`
	Currency          string      `json:"currency"`
	Type              string      `json:"type"`
	InstallmentNumber *int        `json:"installment_number"`
	Status            string      `json:"status"`
	PaymentMethod     string      `json:"payment_method"`
	Project           *projectRef `json:"project"`
}

func (r paymentRow) toDomain() domain.ProjectPaymentRecord {
	project, client := r.Project.names()
	return domain.ProjectPaymentRecord{
		ID:                r.ID,
		ProjectName:       project,
		ClientName:        client,
		Date:              parseDate(r.Date),
		PaidDate:          parseOptionalDate(r.PaidDate),
		Amount:            r.Amount,
		Currency:          r.Currency,
		Type:              r.Type,
		InstallmentNumber: r.InstallmentNumber,
		Status:            r.Status,
		PaymentMethod:     r.PaymentMethod,
	}
}

type expenseRow struct {
	ID            int64   `json:"id"`
	Description   string  `json:"description"`
	Date          string  `json:"date"`
	PaidDate      string  `json:"paid_date"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	Category      string  `json:"category"`
	PaymentMethod string  `json:"payment_method"`
	Status        string  `json:"status"`
}

type planRow struct {
	ID        int64       `json:"id"`
	Amount    float64     `json:"amount"`
	Currency  string      `json:"currency"`
	Frequency string      `json:"frequency"`
	Active    bool        `json:"active"`
	Project   *projectRef `json:"project"`
}

// --- RecordsFetcher ---

// ListIncomes fetches every manual income.
func (c *Client) ListIncomes(ctx context.Context) ([]domain.ManualIncomeRecord, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListIncomes")
	defer span.End()

	var out []domain.ManualIncomeRecord
	err := c.call(ctx, "incomes", func() error {
		body, err := c.doRequest(ctx, http.MethodGet, "incomes?order=date.desc")
		if err != nil {
			return err
		}
		var rows []incomeRow
		if err := decodeRows(body, &rows); err != nil {
			return err
		}
		out = make([]domain.ManualIncomeRecord, 0, len(rows))
		for _, r := range rows {
			out = append(out, r.toDomain())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("rows", len(out)))
	return out, nil
}

// ListProjectPayments fetches every project payment with its project and client names.
func (c *Client) ListProjectPayments(ctx context.Context) ([]domain.ProjectPaymentRecord, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListProjectPayments")
	defer span.End()

	var out []domain.ProjectPaymentRecord
	err := c.call(ctx, "project_payments", func() error {
		body, err := c.doRequest(ctx, http.MethodGet, "project_payments?"+paymentSelect+"&order=date.desc")
		if err != nil {
			return err
		}
		var rows []paymentRow
		if err := decodeRows(body, &rows); err != nil {
			return err
		}
		out = make([]domain.ProjectPaymentRecord, 0, len(rows))
		for _, r := range rows {
			out = append(out, r.toDomain())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("rows", len(out)))
	return out, nil
}

// ListExpenses fetches variable expenses and recurring expense charges
// concurrently and merges them.
func (c *Client) ListExpenses(ctx context.Context) ([]domain.ExpenseRecord, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListExpenses")
	defer span.End()

	parts := make([][]domain.ExpenseRecord, len(expenseTables))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range expenseTables {
		i, src := i, src // per-iteration copies (go directive < 1.22)
		g.Go(func() error {
			return c.call(gctx, src.table, func() error {
				body, err := c.doRequest(gctx, http.MethodGet, src.table+"?"+expenseSelect+"&order=date.desc")
				if err != nil {
					return err
				}
				var rows []expenseRow
				if err := decodeRows(body, &rows); err != nil {
					return err
				}
				records := make([]domain.ExpenseRecord, 0, len(rows))
				for _, r := range rows {
					records = append(records, domain.ExpenseRecord{
						ID:            r.ID,
						Description:   r.Description,
						Date:          parseDate(r.Date),
						PaidDate:      parseOptionalDate(r.PaidDate),
						Amount:        r.Amount,
						Currency:      r.Currency,
						Category:      r.Category,
						PaymentMethod: r.PaymentMethod,
						Status:        r.Status,
						SourceType:    src.sourceType,
					})
				}
				parts[i] = records
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []domain.ExpenseRecord
	for _, p := range parts {
		out = append(out, p...)
	}
	if out == nil {
		out = []domain.ExpenseRecord{}
	}
	span.SetAttributes(attribute.Int("rows", len(out)))
	return out, nil
}

// ListRecurringPlans fetches recurring fee plans.
func (c *Client) ListRecurringPlans(ctx context.Context) ([]domain.RecurringPlan, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListRecurringPlans")
	defer span.End()

	var out []domain.RecurringPlan
	err := c.call(ctx, "recurring_plans", func() error {
		body, err := c.doRequest(ctx, http.MethodGet, "recurring_plans?"+planSelect)
		if err != nil {
			return err
		}
		var rows []planRow
		if err := decodeRows(body, &rows); err != nil {
			return err
		}
		out = make([]domain.RecurringPlan, 0, len(rows))
		for _, r := range rows {
			project, client := r.Project.names()
			out = append(out, domain.RecurringPlan{
				ID:          r.ID,
				ProjectName: project,
				ClientName:  client,
				Amount:      r.Amount,
				Currency:    r.Currency,
				Frequency:   r.Frequency,
				Active:      r.Active,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// --- RecordsWriter ---

// GetProjectPayment fetches a single project payment.
func (c *Client) GetProjectPayment(ctx context.Context, id int64) (*domain.ProjectPaymentRecord, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetProjectPayment")
	defer span.End()
	span.SetAttributes(attribute.Int64("payment.id", id))

	var out *domain.ProjectPaymentRecord
	err := c.call(ctx, "project_payments", func() error {
		path := fmt.Sprintf("project_payments?id=eq.%d&%s&limit=1", id, paymentSelect)
		body, err := c.doRequest(ctx, http.MethodGet, path)
		if err != nil {
			return err
		}
		out, err = firstPayment(body, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkPaymentPaid sets the payment status to Paid with the given date and method.
func (c *Client) MarkPaymentPaid(ctx context.Context, id int64, paidDate time.Time, paymentMethod string) (*domain.ProjectPaymentRecord, error) {
	ctx, span := tracer.Start(ctx, "Supabase.MarkPaymentPaid")
	defer span.End()
	span.SetAttributes(attribute.Int64("payment.id", id))

	update := map[string]any{
		"status":    domain.StatusPaid,
		"paid_date": paidDate.Format("2006-01-02"),
	}
	if paymentMethod != "" {
		update["payment_method"] = paymentMethod
	}

	var out *domain.ProjectPaymentRecord
	err := c.call(ctx, "project_payments", func() error {
		path := fmt.Sprintf("project_payments?id=eq.%d&%s", id, paymentSelect)
		body, err := c.doPatch(ctx, path, update)
		if err != nil {
			return err
		}
		out, err = firstPayment(body, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("payment marked as paid",
		zap.Int64("payment_id", id),
		zap.String("paid_date", paidDate.Format("2006-01-02")),
	)
	return out, nil
}

// CreateIncome inserts a manual income and returns the stored row.
func (c *Client) CreateIncome(ctx context.Context, income *domain.ManualIncomeRecord) (*domain.ManualIncomeRecord, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateIncome")
	defer span.End()

	data := map[string]any{
		"description": income.Description,
		"date":        income.Date.Format("2006-01-02"),
		"amount":      income.Amount,
		"type":        income.Type,
		"currency":    income.Currency,
	}
	if income.Client != "" {
		data["client"] = income.Client
	}
	if income.PaymentMethod != "" {
		data["payment_method"] = income.PaymentMethod
	}
	if income.PaymentID != nil {
		data["payment_id"] = *income.PaymentID
	}

	var out *domain.ManualIncomeRecord
	err := c.call(ctx, "incomes", func() error {
		body, err := c.doPost(ctx, "incomes", data)
		if err != nil {
			return err
		}
		var rows []incomeRow
		if err := decodeRows(body, &rows); err != nil {
			return err
		}
		if len(rows) == 0 {
			return fmt.Errorf("insert into incomes returned no rows")
		}
		created := rows[0].toDomain()
		out = &created
		return nil
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int64("income.id", out.ID))
	return out, nil
}

// Ping checks that PostgREST answers.
func (c *Client) Ping(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "Supabase.Ping")
	defer span.End()

	_, err := c.doRequest(ctx, http.MethodGet, "incomes?select=id&limit=1")
	return err
}

func decodeRows(body []byte, rows any) error {
	if isEmptyBody(body) {
		return nil
	}
	if err := json.Unmarshal(body, rows); err != nil {
		return fmt.Errorf("failed to decode rows: %w", err)
	}
	return nil
}

func firstPayment(body []byte, id int64) (*domain.ProjectPaymentRecord, error) {
	var rows []paymentRow
	if err := decodeRows(body, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, resilience.Permanent(&domain.ErrNotFound{Resource: "project payment", ID: strconv.FormatInt(id, 10)})
	}
	p := rows[0].toDomain()
	return &p, nil
}
