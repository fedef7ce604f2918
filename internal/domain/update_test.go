package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStandardLedger() Ledger {
	return NewLedger("ledger-1", "tenant-1", "student-1", ResolvedFees{Components: standardFees(), CourseType: "REGULAR"})
}

func payOneTime(t *testing.T, l Ledger, amount string) Ledger {
	t.Helper()
	c := plan(t, OptionOneTime)
	b := ComputeBalance(l.FeeComponents, l.ReceivedAmount)
	require.NoError(t, b.ValidateAmount(dec(amount)))
	out := b.Apply(dec(amount))
	d := ScheduleReminders(ReminderInput{
		Plan:         c,
		FullyPaid:    out.WillBeFullyPaid,
		PaymentDate:  paidOn,
		Current:      l.ReminderState(),
		ReminderHour: 9,
		Location:     time.UTC,
	})
	return LedgerUpdate{}.WithPlan(c).WithBalance(out).WithReminders(d).Apply(l)
}

func TestLedgerUpdate_TwoPaymentsSettleLedger(t *testing.T) {
	l := newStandardLedger()

	l = payOneTime(t, l, "3000")
	got, _ := l.Outstanding.Amount()
	assert.True(t, got.Equal(dec("3500")))
	assert.True(t, l.CollectionRate.Equal(dec("46")))
	assert.Equal(t, StatusPending, l.Status)
	assert.True(t, l.ReminderEnabled)
	assert.Equal(t, FrequencyDaily, l.ReminderFrequency)

	l = payOneTime(t, l, "3500")
	assert.True(t, l.ReceivedAmount.Equal(dec("6500")))
	assert.Equal(t, StatusCompleted, l.Status)
	assert.True(t, l.CourseFeePaid)
	assert.True(t, l.CourseRegistrationFeePaid)
	assert.True(t, l.StudentRegistrationFeePaid)
	assert.False(t, l.ReminderEnabled)
	assert.Equal(t, FrequencyNone, l.ReminderFrequency)
	assert.Nil(t, l.NextDueDate)
	assert.Nil(t, l.NextReminderDate)
	assert.True(t, l.IsFullyPaid())
}

func TestLedgerUpdate_DoesNotMutateInput(t *testing.T) {
	l := newStandardLedger()
	cfg := BuildInstallmentSchedule(dec("6500"), 2, 60, paidOn, 3, 9)
	l.InstallmentsConfig = &cfg

	paid, _, err := PayInstallment(cfg, 1, InstallmentPayment{Amount: dec("3250"), PaidDate: paidOn})
	require.NoError(t, err)

	next := LedgerUpdate{}.WithInstallments(paid).Apply(l)
	assert.Equal(t, InstallmentPaid, next.InstallmentsConfig.Installments[0].Status)
	assert.Equal(t, InstallmentUnpaid, l.InstallmentsConfig.Installments[0].Status)
}

func TestLedgerUpdate_FeeCorrectionRecomputesOutstanding(t *testing.T) {
	l := NewLedger("ledger-1", "tenant-1", "student-1", ResolvedFees{})
	l.ReceivedAmount = dec("500")

	l = LedgerUpdate{}.WithFees(ResolvedFees{Components: standardFees(), CourseType: "WEEKEND"}).Apply(l)
	got, ok := l.Outstanding.Amount()
	require.True(t, ok)
	assert.True(t, got.Equal(dec("6000")))
	assert.Equal(t, "WEEKEND", l.CourseType)
}

func TestLedgerUpdate_MonthlyReceiptHasNoOutstanding(t *testing.T) {
	l := newStandardLedger()
	c := plan(t, OptionMonthlySubscription)

	l = LedgerUpdate{}.WithPlan(c).WithBalance(MonthlyReceipt(l.ReceivedAmount, dec("1200"))).Apply(l)
	_, ok := l.Outstanding.Amount()
	assert.False(t, ok)
	assert.True(t, l.ReceivedAmount.Equal(dec("1200")))
	assert.Equal(t, PlanMonthlySubscription, l.PlanType)
	assert.False(t, l.IsFullyPaid())
}

func TestOutstanding_JSON(t *testing.T) {
	b, err := json.Marshal(struct {
		A Outstanding `json:"a"`
		B Outstanding `json:"b"`
	}{FixedOutstanding(decimal.NewFromInt(3500)), OutstandingNotApplicable()})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"3500","b":null}`, string(b))

	var back struct {
		A Outstanding `json:"a"`
		B Outstanding `json:"b"`
	}
	require.NoError(t, json.Unmarshal(b, &back))
	amount, ok := back.A.Amount()
	assert.True(t, ok)
	assert.True(t, amount.Equal(dec("3500")))
	assert.False(t, back.B.Applicable())
}
