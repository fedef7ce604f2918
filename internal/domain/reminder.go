package domain

import "time"

type ReminderState struct {
	Enabled          bool
	Frequency        ReminderFrequency
	NextDueDate      *time.Time
	NextReminderDate *time.Time
}

func (l Ledger) ReminderState() ReminderState {
	return ReminderState{
		Enabled:          l.ReminderEnabled,
		Frequency:        l.ReminderFrequency,
		NextDueDate:      cloneTime(l.NextDueDate),
		NextReminderDate: cloneTime(l.NextReminderDate),
	}
}

func clearedReminders() ReminderState {
	return ReminderState{Enabled: false, Frequency: FrequencyNone}
}

type ReminderInput struct {
	Plan               PlanClass
	FullyPaid          bool
	StopReminders      bool
	RequestedFrequency ReminderFrequency
	NextPaymentDate    *time.Time
	PaymentDate        time.Time

	// Engine is what the installment tracker or subscription engine derived, if anything.
	Engine  ReminderPlan
	Current ReminderState

	ReminderHour int
	Location     *time.Location
}

type ReminderDecision struct {
	State  ReminderState
	Status LedgerStatus
}

// ScheduleReminders derives the follow-up state of a ledger after a payment.
// An explicit stop always wins.
func ScheduleReminders(in ReminderInput) ReminderDecision {
	loc := in.Location
	if loc == nil {
		loc = time.Local
	}

	status := StatusPending
	switch {
	case in.Plan.IsMonthly():
		status = StatusPaid
	case in.FullyPaid:
		status = StatusCompleted
	}

	var st ReminderState
	switch {
	case in.Plan.HasFixedTotal() && in.FullyPaid:
		st = clearedReminders()
	case (in.Plan.IsInstallmentPlan || in.Plan.IsMonthly()) && engineScheduled(in.Engine):
		st = fromEngine(in.Engine, in.RequestedFrequency)
	case in.Plan.Plan == PlanOneTime:
		st = oneTimePartial(in, loc)
	default:
		st = nextPaymentReminder(in, loc)
	}

	if in.StopReminders {
		st = clearedReminders()
	}
	return ReminderDecision{State: st, Status: status}
}

// engineScheduled guards against scheduling twice: the generic rule only
// applies when the sub-engine did not already produce both dates or an
// explicit "nothing left" result.
func engineScheduled(p ReminderPlan) bool {
	if !p.Set {
		return false
	}
	if !p.Enabled {
		return true
	}
	return p.NextDueDate != nil && p.NextReminderDate != nil
}

func fromEngine(p ReminderPlan, requested ReminderFrequency) ReminderState {
	if !p.Enabled {
		return clearedReminders()
	}
	freq := p.Frequency
	if freq == "" {
		freq = requested
	}
	if freq == "" || freq == FrequencyNone {
		freq = FrequencyMonthly
	}
	return ReminderState{
		Enabled:          true,
		Frequency:        freq,
		NextDueDate:      cloneTime(p.NextDueDate),
		NextReminderDate: cloneTime(p.NextReminderDate),
	}
}

// oneTimePartial keeps chasing a partially paid one-time plan every day; the
// requested frequency is ignored.
func oneTimePartial(in ReminderInput, loc *time.Location) ReminderState {
	due := cloneTime(in.Current.NextDueDate)
	remind := AtHour(in.PaymentDate.AddDate(0, 0, 1), in.ReminderHour, loc)
	if in.NextPaymentDate != nil {
		due = cloneTime(in.NextPaymentDate)
		remind = reminderBefore(*in.NextPaymentDate, in.PaymentDate, in.ReminderHour, loc)
	}
	return ReminderState{
		Enabled:          true,
		Frequency:        FrequencyDaily,
		NextDueDate:      due,
		NextReminderDate: &remind,
	}
}

func nextPaymentReminder(in ReminderInput, loc *time.Location) ReminderState {
	if in.NextPaymentDate == nil {
		return in.Current
	}
	freq := in.RequestedFrequency
	if freq == "" || freq == FrequencyNone {
		freq = FrequencyOnce
	}
	remind := reminderBefore(*in.NextPaymentDate, in.PaymentDate, in.ReminderHour, loc)
	return ReminderState{
		Enabled:          true,
		Frequency:        freq,
		NextDueDate:      cloneTime(in.NextPaymentDate),
		NextReminderDate: &remind,
	}
}

func reminderBefore(due, paidOn time.Time, hour int, loc *time.Location) time.Time {
	r := AtHour(due.AddDate(0, 0, -1), hour, loc)
	if r.Before(paidOn) {
		r = AtHour(paidOn.AddDate(0, 0, 1), hour, loc)
	}
	return r
}

// NextReminderAfter advances a reminder date by its frequency. The second
// result is false when the frequency does not repeat.
func NextReminderAfter(at time.Time, freq ReminderFrequency) (time.Time, bool) {
	switch freq {
	case FrequencyDaily:
		return at.AddDate(0, 0, 1), true
	case FrequencyWeekly:
		return at.AddDate(0, 0, 7), true
	case FrequencyMonthly:
		return at.AddDate(0, 1, 0), true
	default:
		return time.Time{}, false
	}
}

// ReminderBacklog counts the due reminders of one tenant. An empty TenantID
// groups ledgers that were stored before tenants existed.
type ReminderBacklog struct {
	TenantID string
	Due      int
}
