package service

import (
	"context"
	"fmt"
	"time"

	"academy-ledger/internal/domain"
)

// Counter hands out consecutive values per (tenant, month). Implementations
// must be atomic: two callers never receive the same value.
type Counter interface {
	Next(ctx context.Context, tenantID, yearMonth string) (int64, error)
}

type InvoiceSequencer struct {
	counter Counter
	now     func() time.Time
	loc     *time.Location
}

func NewInvoiceSequencer(counter Counter, loc *time.Location) *InvoiceSequencer {
	if loc == nil {
		loc = time.UTC
	}
	return &InvoiceSequencer{counter: counter, now: time.Now, loc: loc}
}

// Next issues the next invoice number for the tenant in the current month.
func (s *InvoiceSequencer) Next(ctx context.Context, tenantID string) (string, error) {
	return s.NextFor(ctx, tenantID, s.now().In(s.loc).Format("200601"))
}

// NextFor issues INV-YYYYMM-NNNN for an explicit month. A counter failure is
// fatal for the caller: numbers are never made up locally.
func (s *InvoiceSequencer) NextFor(ctx context.Context, tenantID, yearMonth string) (string, error) {
	if tenantID == "" {
		return "", domain.Errorf(domain.ErrMissingField, "tenantId is required")
	}
	n, err := s.counter.Next(ctx, tenantID, yearMonth)
	if err != nil {
		return "", domain.Wrap(domain.ErrCounterUnavailable, err, "invoice counter unavailable")
	}
	return FormatInvoiceNumber(yearMonth, n), nil
}

func FormatInvoiceNumber(yearMonth string, n int64) string {
	return fmt.Sprintf("INV-%s-%04d", yearMonth, n)
}
