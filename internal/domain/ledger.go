package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type LedgerStatus string

const (
	StatusPending   LedgerStatus = "Pending"
	StatusPaid      LedgerStatus = "Paid"
	StatusCompleted LedgerStatus = "Completed"
)

type ReminderFrequency string

const (
	FrequencyNone    ReminderFrequency = "NONE"
	FrequencyOnce    ReminderFrequency = "ONCE"
	FrequencyDaily   ReminderFrequency = "DAILY"
	FrequencyWeekly  ReminderFrequency = "WEEKLY"
	FrequencyMonthly ReminderFrequency = "MONTHLY"
)

func ParseReminderFrequency(s string) (ReminderFrequency, bool) {
	switch f := ReminderFrequency(s); f {
	case FrequencyNone, FrequencyOnce, FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return f, true
	case "":
		return "", true
	default:
		return "", false
	}
}

type FeeComponents struct {
	CourseFee                  decimal.Decimal `json:"courseFee"`
	CourseFeePaid              bool            `json:"courseFeePaid"`
	CourseRegistrationFee      decimal.Decimal `json:"courseRegistrationFee"`
	CourseRegistrationFeePaid  bool            `json:"courseRegistrationFeePaid"`
	StudentRegistrationFee     decimal.Decimal `json:"studentRegistrationFee"`
	StudentRegistrationFeePaid bool            `json:"studentRegistrationFeePaid"`
}

// Sum is the gross fee total, ignoring paid flags.
func (f FeeComponents) Sum() decimal.Decimal {
	return f.CourseFee.Add(f.CourseRegistrationFee).Add(f.StudentRegistrationFee)
}

// TotalDue excludes registration components that were already settled
// outside the running balance.
func (f FeeComponents) TotalDue() decimal.Decimal {
	total := f.CourseFee
	if !f.CourseRegistrationFeePaid {
		total = total.Add(f.CourseRegistrationFee)
	}
	if !f.StudentRegistrationFeePaid {
		total = total.Add(f.StudentRegistrationFee)
	}
	return total
}

// Outstanding is either a fixed remaining amount or not applicable. Monthly
// subscriptions never carry a remaining balance: each month is its own charge.
type Outstanding struct {
	amount     decimal.Decimal
	applicable bool
}

func FixedOutstanding(amount decimal.Decimal) Outstanding {
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	return Outstanding{amount: amount, applicable: true}
}

func OutstandingNotApplicable() Outstanding {
	return Outstanding{}
}

// Amount returns the remaining amount and whether the ledger has one at all.
func (o Outstanding) Amount() (decimal.Decimal, bool) {
	return o.amount, o.applicable
}

func (o Outstanding) Applicable() bool { return o.applicable }

func (o Outstanding) MarshalJSON() ([]byte, error) {
	if !o.applicable {
		return []byte("null"), nil
	}
	return json.Marshal(o.amount)
}

func (o *Outstanding) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*o = OutstandingNotApplicable()
		return nil
	}
	var d decimal.Decimal
	if err := json.Unmarshal(b, &d); err != nil {
		return err
	}
	*o = FixedOutstanding(d)
	return nil
}

// Ledger is the per-student running balance (one per tenant and student).
type Ledger struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenantId"`
	StudentID string `json:"studentId"`

	FeeComponents

	CourseType string `json:"courseType"`

	ReceivedAmount decimal.Decimal `json:"receivedAmount"`
	Outstanding    Outstanding     `json:"outstandingAmount"`
	CollectionRate decimal.Decimal `json:"collectionRate"`
	Status         LedgerStatus    `json:"status"`

	PlanType      PlanType `json:"planType"`
	PaymentOption string   `json:"paymentOption"`

	NextDueDate       *time.Time        `json:"nextDueDate"`
	NextReminderDate  *time.Time        `json:"nextReminderDate"`
	ReminderEnabled   bool              `json:"reminderEnabled"`
	ReminderFrequency ReminderFrequency `json:"reminderFrequency"`

	InstallmentsConfig  *InstallmentsConfig  `json:"installmentsConfig,omitempty"`
	MonthlySubscription *MonthlySubscription `json:"monthlySubscription,omitempty"`

	LastTransactionID *string `json:"lastTransactionId,omitempty"`

	Version   int64      `json:"version"`
	CreatedAt *time.Time `json:"createdAt"`
	UpdatedAt *time.Time `json:"updatedAt"`
}

// NewLedger builds the initial ledger for a student that has never paid.
func NewLedger(id, tenantID, studentID string, fees ResolvedFees) Ledger {
	l := Ledger{
		ID:                id,
		TenantID:          tenantID,
		StudentID:         studentID,
		FeeComponents:     fees.Components,
		CourseType:        fees.CourseType,
		ReceivedAmount:    decimal.Zero,
		CollectionRate:    decimal.Zero,
		Status:            StatusPending,
		PlanType:          PlanOneTime,
		PaymentOption:     OptionOneTime,
		ReminderFrequency: FrequencyNone,
	}
	l.Outstanding = FixedOutstanding(l.TotalDue())
	return l
}

// Plan returns the stored plan classification.
func (l Ledger) Plan() PlanClass {
	return PlanOf(l.PlanType, l.PaymentOption)
}

// Clone returns a deep copy so derived ledgers never share embedded documents.
func (l Ledger) Clone() Ledger {
	c := l
	c.NextDueDate = cloneTime(l.NextDueDate)
	c.NextReminderDate = cloneTime(l.NextReminderDate)
	if l.InstallmentsConfig != nil {
		cfg := l.InstallmentsConfig.Clone()
		c.InstallmentsConfig = &cfg
	}
	if l.MonthlySubscription != nil {
		sub := l.MonthlySubscription.Clone()
		c.MonthlySubscription = &sub
	}
	if l.LastTransactionID != nil {
		id := *l.LastTransactionID
		c.LastTransactionID = &id
	}
	return c
}

func (l Ledger) IsFullyPaid() bool {
	if !l.Plan().HasFixedTotal() {
		return false
	}
	total := l.TotalDue()
	return total.IsPositive() && l.ReceivedAmount.GreaterThanOrEqual(total)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// ResolvedFees is the fee set derived for a student from course reference data.
type ResolvedFees struct {
	Components FeeComponents
	CourseType string
	CourseID   string
}

func (r ResolvedFees) Total() decimal.Decimal {
	return r.Components.Sum()
}
