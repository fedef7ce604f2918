package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

type Balance struct {
	TotalFees  decimal.Decimal
	Received   decimal.Decimal
	MaxAllowed decimal.Decimal
}

func ComputeBalance(fees FeeComponents, received decimal.Decimal) Balance {
	total := fees.TotalDue()
	maxAllowed := total.Sub(received)
	if maxAllowed.IsNegative() {
		maxAllowed = decimal.Zero
	}
	return Balance{TotalFees: total, Received: received, MaxAllowed: maxAllowed}
}

// ValidateAmount checks a payment against the remaining balance. A zero fee
// total is rejected outright since there is nothing to collect against.
func (b Balance) ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return Errorf(ErrInvalidAmount, "payment amount must be greater than zero")
	}
	if !b.TotalFees.IsPositive() {
		return Errorf(ErrZeroFeeLedger, "ledger has no chargeable fees")
	}
	if amount.GreaterThan(b.MaxAllowed) {
		if b.MaxAllowed.IsZero() {
			return Errorf(ErrAmountExceedsBalance, "ledger is already fully paid")
		}
		return Errorf(ErrAmountExceedsBalance, "amount %s exceeds remaining balance %s",
			amount.StringFixed(2), b.MaxAllowed.StringFixed(2))
	}
	return nil
}

type BalanceOutcome struct {
	ReceivedAmount  decimal.Decimal
	Outstanding     Outstanding
	CollectionRate  decimal.Decimal
	WillBeFullyPaid bool
}

// Apply returns the balance after amount is received. Callers validate first.
func (b Balance) Apply(amount decimal.Decimal) BalanceOutcome {
	received := b.Received.Add(amount)
	return BalanceOutcome{
		ReceivedAmount:  received,
		Outstanding:     FixedOutstanding(b.TotalFees.Sub(received)),
		CollectionRate:  CollectionRate(received, b.TotalFees),
		WillBeFullyPaid: received.GreaterThanOrEqual(b.TotalFees),
	}
}

// CollectionRate is received/total as a whole percentage capped at 100.
func CollectionRate(received, total decimal.Decimal) decimal.Decimal {
	if !total.IsPositive() {
		return decimal.Zero
	}
	rate := received.Div(total).Mul(hundred).Round(0)
	if rate.GreaterThan(hundred) {
		return hundred
	}
	return rate
}

const (
	SubTypeFullPayment    = "Full Payment"
	SubTypePartialPayment = "Partial Payment"
)

// PaymentSubType labels a transaction for receipts and history.
func PaymentSubType(plan PlanClass, explicit string, emiNumber int, fullyPaid bool) string {
	if explicit != "" {
		return explicit
	}
	switch {
	case plan.IsMonthly():
		return ""
	case plan.IsInstallmentPlan:
		return fmt.Sprintf("EMI %d", emiNumber)
	case fullyPaid:
		return SubTypeFullPayment
	default:
		return SubTypePartialPayment
	}
}

var paymentDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParsePaymentDate accepts ISO dates and timestamps; an empty value means now.
func ParsePaymentDate(s string, now time.Time, loc *time.Location) (time.Time, error) {
	if s == "" {
		return now, nil
	}
	for _, layout := range paymentDateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, Errorf(ErrInvalidDate, "invalid payment date %q", s)
}
