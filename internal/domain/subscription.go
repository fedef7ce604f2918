package domain

import (
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

type SubscriptionType string

const (
	SubscriptionStandard      SubscriptionType = "STANDARD"
	SubscriptionWithDiscounts SubscriptionType = "WITH_DISCOUNTS"
)

type MonthStatus string

const (
	MonthPaid   MonthStatus = "PAID"
	MonthUnpaid MonthStatus = "UNPAID"
)

const monthLayout = "2006-01"

type MonthlyRecord struct {
	Month         string          `json:"month"`
	Status        MonthStatus     `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	PaidDate      *time.Time      `json:"paidDate,omitempty"`
	TransactionID string          `json:"transactionId,omitempty"`
}

type MonthlySubscription struct {
	Type                 SubscriptionType `json:"type"`
	CurrentMonth         string           `json:"currentMonth"`
	MonthlyFee           decimal.Decimal  `json:"monthlyFee"`
	OriginalMonthlyFee   decimal.Decimal  `json:"originalMonthlyFee"`
	DiscountedMonthlyFee decimal.Decimal  `json:"discountedMonthlyFee"`
	CommitmentPeriod     int              `json:"commitmentPeriod"`
	IsFirstPayment       bool             `json:"isFirstPayment"`
	MonthlyRecords       []MonthlyRecord  `json:"monthlyRecords"`
}

// NewMonthlySubscription opens a subscription whose first billed month is start's month.
func NewMonthlySubscription(typ SubscriptionType, start time.Time, original, discounted decimal.Decimal, commitment int) MonthlySubscription {
	fee := original
	if typ == SubscriptionWithDiscounts && commitment > 0 && discounted.IsPositive() {
		fee = discounted
	}
	return MonthlySubscription{
		Type:                 typ,
		CurrentMonth:         start.Format(monthLayout),
		MonthlyFee:           fee,
		OriginalMonthlyFee:   original,
		DiscountedMonthlyFee: discounted,
		CommitmentPeriod:     commitment,
		IsFirstPayment:       true,
		MonthlyRecords:       []MonthlyRecord{},
	}
}

func (s MonthlySubscription) Clone() MonthlySubscription {
	out := s
	out.MonthlyRecords = make([]MonthlyRecord, len(s.MonthlyRecords))
	for i, r := range s.MonthlyRecords {
		out.MonthlyRecords[i] = r
		out.MonthlyRecords[i].PaidDate = cloneTime(r.PaidDate)
	}
	return out
}

func (s MonthlySubscription) PaidMonths() int {
	return lo.CountBy(s.MonthlyRecords, func(r MonthlyRecord) bool {
		return r.Status == MonthPaid
	})
}

type MonthlyPayment struct {
	Amount        decimal.Decimal
	PaidDate      time.Time
	TransactionID string
}

type SubscriptionOutcome struct {
	PaidMonths          int
	IsStillInCommitment bool
	NextMonth           string
	NextMonthFee        decimal.Decimal
	Reminder            ReminderPlan
}

// AdvanceMonth settles the current month and rolls the subscription forward
// to the next one, pricing it by the remaining commitment.
func AdvanceMonth(sub MonthlySubscription, p MonthlyPayment, reminderHour int, loc *time.Location) (MonthlySubscription, SubscriptionOutcome, error) {
	current, err := time.ParseInLocation(monthLayout, sub.CurrentMonth, loc)
	if err != nil {
		return sub, SubscriptionOutcome{}, Errorf(ErrInvalidDate, "invalid subscription month %q", sub.CurrentMonth)
	}

	out := sub.Clone()
	paidDate := p.PaidDate
	record := MonthlyRecord{
		Month:         sub.CurrentMonth,
		Status:        MonthPaid,
		Amount:        p.Amount,
		PaidDate:      &paidDate,
		TransactionID: p.TransactionID,
	}
	_, idx, found := lo.FindIndexOf(out.MonthlyRecords, func(r MonthlyRecord) bool {
		return r.Month == sub.CurrentMonth
	})
	switch {
	case found && out.MonthlyRecords[idx].Status == MonthPaid:
		return sub, SubscriptionOutcome{}, Errorf(ErrAlreadyPaid, "month %s is already paid", sub.CurrentMonth)
	case found:
		out.MonthlyRecords[idx] = record
	default:
		out.MonthlyRecords = append(out.MonthlyRecords, record)
	}

	paid := out.PaidMonths()
	inCommitment := false
	if out.CommitmentPeriod > 0 {
		inCommitment = paid < out.CommitmentPeriod
	}
	nextFee := out.OriginalMonthlyFee
	if out.Type == SubscriptionWithDiscounts && inCommitment {
		nextFee = out.DiscountedMonthlyFee
	}

	nextMonthStart := time.Date(current.Year(), current.Month()+1, 1, 0, 0, 0, 0, loc)
	remindAt := time.Date(nextMonthStart.Year(), nextMonthStart.Month(), 1, reminderHour, 0, 0, 0, loc)
	nextMonth := nextMonthStart.Format(monthLayout)

	out.CurrentMonth = nextMonth
	out.MonthlyFee = nextFee
	out.IsFirstPayment = false

	due := nextMonthStart
	return out, SubscriptionOutcome{
		PaidMonths:          paid,
		IsStillInCommitment: inCommitment,
		NextMonth:           nextMonth,
		NextMonthFee:        nextFee,
		Reminder: ReminderPlan{
			Set:              true,
			Enabled:          true,
			Frequency:        FrequencyMonthly,
			NextDueDate:      &due,
			NextReminderDate: &remindAt,
		},
	}, nil
}
