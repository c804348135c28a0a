package service

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/boddenberg/cashflow-bfa-go/internal/cashflow"
	"github.com/boddenberg/cashflow-bfa-go/internal/domain"
	"github.com/boddenberg/cashflow-bfa-go/internal/port"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var paymentsTracer = otel.Tracer("service/payments")

// IncomeTypeProjectPayment is the type of incomes recorded by MarkPaymentPaid.
const IncomeTypeProjectPayment = "Project Payment"

// PaymentsService owns the write path. Every successful write invalidates
// the read side and is announced to dashboards.
type PaymentsService struct {
	store       port.RecordsWriter
	invalidator port.Invalidator
	events      port.EventPublisher
	normalizer  *cashflow.Normalizer
	logger      *zap.Logger
	now         func() time.Time
}

// NewPaymentsService creates the write-path service. events may be nil.
func NewPaymentsService(
	store port.RecordsWriter,
	invalidator port.Invalidator,
	events port.EventPublisher,
	normalizer *cashflow.Normalizer,
	logger *zap.Logger,
) *PaymentsService {
	if normalizer == nil {
		normalizer = cashflow.DefaultNormalizer()
	}
	return &PaymentsService{
		store:       store,
		invalidator: invalidator,
		events:      events,
		normalizer:  normalizer,
		logger:      logger,
		now:         time.Now,
	}
}

// MarkPaidResult is the paid payment and the income row recorded for it.
type MarkPaidResult struct {
	Payment *domain.ProjectPaymentRecord `json:"payment"`
	Income  *domain.ManualIncomeRecord   `json:"income,omitempty"`
}

// MarkPaymentPaid marks a pending payment as paid and records a linked
// manual income for it. Paying an already paid payment is a conflict.
func (s *PaymentsService) MarkPaymentPaid(ctx context.Context, id int64, req domain.MarkPaidRequest) (*MarkPaidResult, error) {
	ctx, span := paymentsTracer.Start(ctx, "PaymentsService.MarkPaymentPaid")
	defer span.End()
	span.SetAttributes(attribute.Int64("payment.id", id))

	if id <= 0 {
		return nil, &domain.ErrValidation{Field: "paymentId", Message: "must be positive"}
	}
	paidDate, err := s.parseDateOrToday("paid_date", req.PaidDate)
	if err != nil {
		return nil, err
	}

	current, err := s.store.GetProjectPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	if cashflow.IsPaid(current.Status) {
		return nil, &domain.ErrConflict{Message: "payment " + strconv.FormatInt(id, 10) + " is already paid"}
	}

	paid, err := s.store.MarkPaymentPaid(ctx, id, paidDate, strings.TrimSpace(req.PaymentMethod))
	if err != nil {
		return nil, err
	}

	result := &MarkPaidResult{Payment: paid}
	income, err := s.store.CreateIncome(ctx, linkedIncome(paid, paidDate, req.PaymentMethod))
	if err != nil {
		// The payment itself is already paid and counts as income.
		s.logger.Error("failed to record linked income for paid payment",
			zap.Int64("payment_id", id),
			zap.Error(err),
		)
	} else {
		result.Income = income
	}

	s.announce(ctx, domain.Event{
		Type:       domain.EventPaymentPaid,
		Resource:   "payment",
		ResourceID: strconv.FormatInt(id, 10),
		Data: map[string]any{
			"paidDate": paidDate.Format("2006-01-02"),
			"amount":   paid.Amount,
			"currency": paid.Currency,
		},
	})
	return result, nil
}

// CreateIncome validates and stores a manual income.
func (s *PaymentsService) CreateIncome(ctx context.Context, req domain.NewIncomeRequest) (*domain.ManualIncomeRecord, error) {
	ctx, span := paymentsTracer.Start(ctx, "PaymentsService.CreateIncome")
	defer span.End()

	income, err := s.validateIncome(req)
	if err != nil {
		return nil, err
	}

	created, err := s.store.CreateIncome(ctx, income)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int64("income.id", created.ID))

	s.announce(ctx, domain.Event{
		Type:       domain.EventIncomeCreated,
		Resource:   "income",
		ResourceID: strconv.FormatInt(created.ID, 10),
		Data: map[string]any{
			"date":     created.Date.Format("2006-01-02"),
			"amount":   created.Amount,
			"currency": created.Currency,
		},
	})
	return created, nil
}

// InvalidateAll drops derived state without a write, for operators.
func (s *PaymentsService) InvalidateAll(ctx context.Context) {
	s.announce(ctx, domain.Event{Type: domain.EventManualInvalidate, Resource: "cashflow"})
}

func (s *PaymentsService) announce(ctx context.Context, evt domain.Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = s.now().UTC()
	}
	s.invalidator.Invalidate(ctx, evt)
	if s.events != nil {
		s.events.Publish(evt)
	}
}

func (s *PaymentsService) validateIncome(req domain.NewIncomeRequest) (*domain.ManualIncomeRecord, error) {
	description := strings.TrimSpace(req.Description)
	if description == "" {
		return nil, &domain.ErrValidation{Field: "description", Message: "required"}
	}
	if req.Amount <= 0 {
		return nil, &domain.ErrValidation{Field: "amount", Message: "must be positive"}
	}
	incomeType := strings.TrimSpace(req.Type)
	if incomeType == "" {
		return nil, &domain.ErrValidation{Field: "type", Message: "required"}
	}
	date, err := s.parseDateOrToday("date", req.Date)
	if err != nil {
		return nil, err
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.normalizer.Base()
	}
	if !s.normalizer.Supports(currency) {
		return nil, &domain.ErrValidation{Field: "currency", Message: "unsupported currency " + currency}
	}

	return &domain.ManualIncomeRecord{
		Description:   description,
		Date:          date,
		Amount:        req.Amount,
		Type:          incomeType,
		Client:        strings.TrimSpace(req.Client),
		PaymentMethod: strings.TrimSpace(req.PaymentMethod),
		Currency:      currency,
	}, nil
}

func (s *PaymentsService) parseDateOrToday(field, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		y, m, d := s.now().Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, &domain.ErrValidation{Field: field, Message: "expected YYYY-MM-DD"}
	}
	return t, nil
}

func linkedIncome(p *domain.ProjectPaymentRecord, paidDate time.Time, method string) *domain.ManualIncomeRecord {
	id := p.ID
	return &domain.ManualIncomeRecord{
		Description:   cashflow.PaymentDescription(*p),
		Date:          paidDate,
		Amount:        p.Amount,
		Type:          IncomeTypeProjectPayment,
		Client:        p.ClientName,
		PaymentMethod: strings.TrimSpace(method),
		Currency:      p.Currency,
		PaymentID:     &id,
	}
}
