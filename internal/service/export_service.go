package service

import (
	"bytes"
	"context"
	"time"

	"github.com/boddenberg/cashflow-bfa-go/internal/domain"
	"github.com/boddenberg/cashflow-bfa-go/internal/port"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const csvContentType = "text/csv; charset=utf-8"

// ExportService archives CSV exports to object storage.
type ExportService struct {
	cashflow *CashFlowService
	sink     port.ExportSink
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
}

// NewExportService creates the export service. A nil sink disables archiving.
func NewExportService(cf *CashFlowService, sink port.ExportSink, logger *zap.Logger) *ExportService {
	return &ExportService{
		cashflow: cf,
		sink:     sink,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Enabled reports whether an export sink is configured.
func (s *ExportService) Enabled() bool {
	return s.sink != nil
}

// Archive renders the CSV for q and stores it as <date>/<uuid>.csv.
func (s *ExportService) Archive(ctx context.Context, q Query) (*domain.ExportResult, error) {
	ctx, span := tracer.Start(ctx, "ExportService.Archive")
	defer span.End()

	if s.sink == nil {
		return nil, &domain.ErrUnavailable{Feature: "export archive"}
	}

	var buf bytes.Buffer
	n, err := s.cashflow.ExportCSV(ctx, q, &buf)
	if err != nil {
		return nil, err
	}

	name := s.now().UTC().Format("2006-01-02") + "/" + s.newID() + ".csv"
	uri, err := s.sink.Put(ctx, name, buf.Bytes(), csvContentType)
	if err != nil {
		return nil, err
	}

	s.logger.Info("cash-flow export archived",
		zap.String("uri", uri),
		zap.Int("items", n),
		zap.Int("bytes", buf.Len()),
	)
	return &domain.ExportResult{URI: uri, Items: n, Bytes: buf.Len()}, nil
}

// List returns archived exports, newest first.
func (s *ExportService) List(ctx context.Context) ([]domain.ExportObject, error) {
	ctx, span := tracer.Start(ctx, "ExportService.List")
	defer span.End()

	if s.sink == nil {
		return nil, &domain.ErrUnavailable{Feature: "export archive"}
	}
	objs, err := s.sink.List(ctx)
	if err != nil {
		return nil, err
	}
	if objs == nil {
		objs = []domain.ExportObject{}
	}
	return objs, nil
}
