package domain

import (
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

type InstallmentStatus string

const (
	InstallmentUnpaid InstallmentStatus = "UNPAID"
	InstallmentPaid   InstallmentStatus = "PAID"
)

type Installment struct {
	InstallmentNumber int               `json:"installmentNumber"`
	Amount            decimal.Decimal   `json:"amount"`
	DueDate           time.Time         `json:"dueDate"`
	ReminderDate      time.Time         `json:"reminderDate"`
	Status            InstallmentStatus `json:"status"`
	PaidDate          *time.Time        `json:"paidDate,omitempty"`
	PaidAmount        *decimal.Decimal  `json:"paidAmount,omitempty"`
	TransactionID     *string           `json:"transactionId,omitempty"`
}

type InstallmentsConfig struct {
	TotalAmount      decimal.Decimal `json:"totalAmount"`
	InstallmentCount int             `json:"installmentCount"`
	CourseDuration   int             `json:"courseDuration"`
	Installments     []Installment   `json:"installments"`
}

func (c InstallmentsConfig) Clone() InstallmentsConfig {
	out := c
	out.Installments = make([]Installment, len(c.Installments))
	for i, inst := range c.Installments {
		out.Installments[i] = inst
		out.Installments[i].PaidDate = cloneTime(inst.PaidDate)
		if inst.PaidAmount != nil {
			v := *inst.PaidAmount
			out.Installments[i].PaidAmount = &v
		}
		if inst.TransactionID != nil {
			v := *inst.TransactionID
			out.Installments[i].TransactionID = &v
		}
	}
	return out
}

// FirstUnpaid returns the earliest unpaid installment in stored order and its index.
func (c InstallmentsConfig) FirstUnpaid() (Installment, int, bool) {
	return lo.FindIndexOf(c.Installments, func(i Installment) bool {
		return i.Status == InstallmentUnpaid
	})
}

func (c InstallmentsConfig) PaidCount() int {
	return lo.CountBy(c.Installments, func(i Installment) bool {
		return i.Status == InstallmentPaid
	})
}

type InstallmentPayment struct {
	Amount        decimal.Decimal
	PaidDate      time.Time
	TransactionID string
}

// ReminderPlan is the follow-up schedule a plan-specific engine derived. Set
// marks that the engine took responsibility for the reminder fields.
type ReminderPlan struct {
	Set              bool
	Enabled          bool
	Frequency        ReminderFrequency
	NextDueDate      *time.Time
	NextReminderDate *time.Time
}

// PayInstallment marks one installment paid and derives the next due and
// reminder dates from the first installment still unpaid. The input config is
// left untouched, so a rejected replay has no effect on the caller's state.
func PayInstallment(cfg InstallmentsConfig, number int, p InstallmentPayment) (InstallmentsConfig, ReminderPlan, error) {
	_, idx, found := lo.FindIndexOf(cfg.Installments, func(i Installment) bool {
		return i.InstallmentNumber == number
	})
	if !found {
		return cfg, ReminderPlan{}, Errorf(ErrUnknownInstallment, "installment %d does not exist", number)
	}
	if cfg.Installments[idx].Status == InstallmentPaid {
		return cfg, ReminderPlan{}, Errorf(ErrAlreadyPaid, "installment %d is already paid", number)
	}

	out := cfg.Clone()
	paidDate := p.PaidDate
	amount := p.Amount
	txID := p.TransactionID
	out.Installments[idx].Status = InstallmentPaid
	out.Installments[idx].PaidDate = &paidDate
	out.Installments[idx].PaidAmount = &amount
	out.Installments[idx].TransactionID = &txID

	next, _, ok := out.FirstUnpaid()
	if !ok {
		return out, ReminderPlan{Set: true, Enabled: false, Frequency: FrequencyNone}, nil
	}
	due := next.DueDate
	remind := next.ReminderDate
	return out, ReminderPlan{
		Set:              true,
		Enabled:          true,
		NextDueDate:      &due,
		NextReminderDate: &remind,
	}, nil
}

// BuildInstallmentSchedule splits total into count installments spread over
// durationDays from start. The last installment absorbs rounding.
func BuildInstallmentSchedule(total decimal.Decimal, count, durationDays int, start time.Time, leadDays, reminderHour int) InstallmentsConfig {
	if count < 1 {
		count = 1
	}
	step := 30
	if durationDays > 0 {
		step = durationDays / count
		if step < 1 {
			step = 1
		}
	}

	per := total.Div(decimal.NewFromInt(int64(count))).RoundDown(2)
	remaining := total

	cfg := InstallmentsConfig{
		TotalAmount:      total,
		InstallmentCount: count,
		CourseDuration:   durationDays,
		Installments:     make([]Installment, 0, count),
	}
	for i := 0; i < count; i++ {
		amount := per
		if i == count-1 {
			amount = remaining
		}
		remaining = remaining.Sub(amount)

		due := start.AddDate(0, 0, i*step)
		remindDay := due.AddDate(0, 0, -leadDays)
		if remindDay.Before(start) {
			remindDay = start
		}
		cfg.Installments = append(cfg.Installments, Installment{
			InstallmentNumber: i + 1,
			Amount:            amount,
			DueDate:           due,
			ReminderDate:      AtHour(remindDay, reminderHour, start.Location()),
			Status:            InstallmentUnpaid,
		})
	}
	return cfg
}

// AtHour returns t's calendar day in loc at the given hour.
func AtHour(t time.Time, hour int, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), hour, 0, 0, 0, loc)
}
