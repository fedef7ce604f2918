package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerUpdate collects the fragments one payment event produces and folds
// them onto a ledger in a fixed order:
//
//	plan, fees, balance, installments, subscription, reminders, status, back-reference
//
// Each With* call returns a new value; nothing is applied until Apply.
type LedgerUpdate struct {
	plan         *PlanClass
	fees         *ResolvedFees
	balance      *BalanceOutcome
	installments *InstallmentsConfig
	subscription *MonthlySubscription
	reminders    *ReminderDecision
	lastTxID     *string
	at           *time.Time
}

func (u LedgerUpdate) WithPlan(c PlanClass) LedgerUpdate {
	u.plan = &c
	return u
}

// WithFees replaces the fee amounts, leaving their paid flags as stored.
func (u LedgerUpdate) WithFees(f ResolvedFees) LedgerUpdate {
	u.fees = &f
	return u
}

func (u LedgerUpdate) WithBalance(b BalanceOutcome) LedgerUpdate {
	u.balance = &b
	return u
}

func (u LedgerUpdate) WithInstallments(cfg InstallmentsConfig) LedgerUpdate {
	c := cfg.Clone()
	u.installments = &c
	return u
}

func (u LedgerUpdate) WithSubscription(sub MonthlySubscription) LedgerUpdate {
	s := sub.Clone()
	u.subscription = &s
	return u
}

func (u LedgerUpdate) WithReminders(d ReminderDecision) LedgerUpdate {
	u.reminders = &d
	return u
}

func (u LedgerUpdate) WithLastTransaction(id string) LedgerUpdate {
	u.lastTxID = &id
	return u
}

func (u LedgerUpdate) At(t time.Time) LedgerUpdate {
	u.at = &t
	return u
}

// Apply returns a copy of l with every fragment folded in.
func (u LedgerUpdate) Apply(l Ledger) Ledger {
	out := l.Clone()

	if u.plan != nil {
		out.PlanType = u.plan.Plan
		out.PaymentOption = u.plan.Option
	}

	if u.fees != nil {
		out.CourseFee = u.fees.Components.CourseFee
		out.CourseRegistrationFee = u.fees.Components.CourseRegistrationFee
		out.StudentRegistrationFee = u.fees.Components.StudentRegistrationFee
		if u.fees.CourseType != "" {
			out.CourseType = u.fees.CourseType
		}
		if out.Plan().HasFixedTotal() {
			out.Outstanding = FixedOutstanding(out.TotalDue().Sub(out.ReceivedAmount))
		}
	}

	if u.balance != nil {
		out.ReceivedAmount = u.balance.ReceivedAmount
		out.Outstanding = u.balance.Outstanding
		out.CollectionRate = u.balance.CollectionRate
	}

	if u.installments != nil {
		cfg := u.installments.Clone()
		out.InstallmentsConfig = &cfg
	}

	if u.subscription != nil {
		sub := u.subscription.Clone()
		out.MonthlySubscription = &sub
	}

	if u.reminders != nil {
		st := u.reminders.State
		out.ReminderEnabled = st.Enabled
		out.ReminderFrequency = st.Frequency
		out.NextDueDate = cloneTime(st.NextDueDate)
		out.NextReminderDate = cloneTime(st.NextReminderDate)

		out.Status = u.reminders.Status
		if out.Status == StatusCompleted {
			out.CourseFeePaid = true
			out.CourseRegistrationFeePaid = true
			out.StudentRegistrationFeePaid = true
		}
	}

	if u.lastTxID != nil {
		id := *u.lastTxID
		out.LastTransactionID = &id
	}

	if u.at != nil {
		t := *u.at
		out.UpdatedAt = &t
	}
	return out
}

// MonthlyReceipt is the balance fragment for a subscription payment: money is
// counted as received but there is no remaining total to reduce.
func MonthlyReceipt(received, amount decimal.Decimal) BalanceOutcome {
	return BalanceOutcome{
		ReceivedAmount: received.Add(amount),
		Outstanding:    OutstandingNotApplicable(),
		CollectionRate: hundred,
	}
}
