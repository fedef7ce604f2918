package service

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"academy-ledger/internal/domain"
)

type SubscriptionRequest struct {
	PaymentRequest

	WithDiscounts        bool
	MonthlyFee           decimal.Decimal
	DiscountedMonthlyFee decimal.Decimal
	CommitmentPeriod     int
}

// CreateSubscription opens a monthly subscription and records its first
// month's payment in the same commit. A zero amount pays the opening fee.
func (s *PaymentService) CreateSubscription(ctx context.Context, tenantID string, req SubscriptionRequest) (*PaymentResult, error) {
	if !req.MonthlyFee.IsPositive() {
		return nil, domain.Errorf(domain.ErrInvalidAmount, "monthlyFee must be greater than zero")
	}
	if req.CommitmentPeriod < 0 {
		return nil, domain.Errorf(domain.ErrInvalidField, "commitmentPeriod must not be negative")
	}
	if req.DiscountedMonthlyFee.IsNegative() {
		return nil, domain.Errorf(domain.ErrInvalidAmount, "discountedMonthlyFee must not be negative")
	}

	typ := domain.SubscriptionStandard
	req.PaymentOption = domain.OptionMonthlySubscription
	if req.WithDiscounts {
		typ = domain.SubscriptionWithDiscounts
		req.PaymentOption = domain.OptionMonthlyWithDiscounts
	}
	if strings.TrimSpace(req.PaymentMode) == "" {
		return nil, domain.Errorf(domain.ErrMissingField, "paymentMode is required")
	}

	// an empty amount is filled in once the opening fee is known
	probe := req.PaymentRequest
	if !probe.Amount.IsPositive() {
		probe.Amount = req.MonthlyFee
	}
	in, err := s.parseRequest(tenantID, probe)
	if err != nil {
		return nil, err
	}

	seed := domain.NewMonthlySubscription(typ, in.paidDate, req.MonthlyFee, req.DiscountedMonthlyFee, req.CommitmentPeriod)
	if req.Amount.IsZero() {
		req.Amount = seed.MonthlyFee
	}
	if !req.Amount.IsPositive() {
		return nil, domain.Errorf(domain.ErrInvalidAmount, "payment amount must be greater than zero")
	}
	in.seed = &seed

	return s.record(ctx, tenantID, req.PaymentRequest, in)
}
