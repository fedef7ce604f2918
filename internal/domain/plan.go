package domain

import "strings"

type PlanType string

const (
	PlanOneTime             PlanType = "ONE_TIME"
	PlanEMI                 PlanType = "EMI"
	PlanMonthlySubscription PlanType = "MONTHLY_SUBSCRIPTION"
	PlanCustom              PlanType = "CUSTOM"
)

// Plan selections as offered to administrators.
const (
	OptionOneTime                 = "ONE_TIME"
	OptionOneTimeWithInstallments = "ONE_TIME_WITH_INSTALLMENTS"
	OptionMonthlySubscription     = "MONTHLY_SUBSCRIPTION"
	OptionMonthlyWithDiscounts    = "MONTHLY_WITH_DISCOUNTS"
	OptionEMI                     = "EMI"
	OptionCustom                  = "CUSTOM"
)

type PlanClass struct {
	Plan                     PlanType
	Option                   string
	IsInstallmentPlan        bool
	IsDiscountedSubscription bool
}

// IsMonthly reports whether the plan is billed as an independent charge per month.
func (c PlanClass) IsMonthly() bool {
	return c.Plan == PlanMonthlySubscription
}

// HasFixedTotal reports whether payments on the plan count toward a fixed fee total.
func (c PlanClass) HasFixedTotal() bool {
	return !c.IsMonthly()
}

// NormalizePlan maps a plan selection onto its canonical plan type.
func NormalizePlan(option string) (PlanClass, error) {
	opt := strings.ToUpper(strings.TrimSpace(option))
	switch opt {
	case OptionOneTime:
		return PlanClass{Plan: PlanOneTime, Option: opt}, nil
	case OptionOneTimeWithInstallments, OptionEMI:
		return PlanClass{Plan: PlanEMI, Option: opt, IsInstallmentPlan: true}, nil
	case OptionMonthlySubscription:
		return PlanClass{Plan: PlanMonthlySubscription, Option: opt}, nil
	case OptionMonthlyWithDiscounts:
		return PlanClass{Plan: PlanMonthlySubscription, Option: opt, IsDiscountedSubscription: true}, nil
	case OptionCustom:
		return PlanClass{Plan: PlanCustom, Option: opt}, nil
	default:
		return PlanClass{}, Errorf(ErrInvalidPlanType, "unsupported payment plan %q", option)
	}
}

// PlanOf rebuilds the class of a stored plan type.
func PlanOf(plan PlanType, option string) PlanClass {
	if option != "" {
		if c, err := NormalizePlan(option); err == nil && c.Plan == plan {
			return c
		}
	}
	if c, err := NormalizePlan(string(plan)); err == nil {
		return c
	}
	return PlanClass{Plan: PlanOneTime, Option: OptionOneTime}
}

// PaymentOptionLabel is the display label stored alongside the canonical plan.
func PaymentOptionLabel(c PlanClass) string {
	switch c.Option {
	case OptionOneTime:
		return "One-time"
	case OptionOneTimeWithInstallments:
		return "One-time with installments"
	case OptionEMI:
		return "EMI"
	case OptionMonthlySubscription:
		return "Monthly subscription"
	case OptionMonthlyWithDiscounts:
		return "Monthly with discounts"
	case OptionCustom:
		return "Custom"
	default:
		return string(c.Plan)
	}
}
