package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizePlan(t *testing.T) {
	tests := []struct {
		in          string
		plan        PlanType
		installment bool
		discounted  bool
	}{
		{"ONE_TIME", PlanOneTime, false, false},
		{"ONE_TIME_WITH_INSTALLMENTS", PlanEMI, true, false},
		{"EMI", PlanEMI, true, false},
		{"MONTHLY_SUBSCRIPTION", PlanMonthlySubscription, false, false},
		{"MONTHLY_WITH_DISCOUNTS", PlanMonthlySubscription, false, true},
		{"CUSTOM", PlanCustom, false, false},
		{" emi ", PlanEMI, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			c, err := NormalizePlan(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.plan, c.Plan)
			assert.Equal(t, tt.installment, c.IsInstallmentPlan)
			assert.Equal(t, tt.discounted, c.IsDiscountedSubscription)
		})
	}
}

func TestNormalizePlan_Unknown(t *testing.T) {
	_, err := NormalizePlan("WEEKLY")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidPlanType))
	assert.Equal(t, KindValidation, KindOf(err))
}

func TestPlanOf_KeepsDiscountFlag(t *testing.T) {
	c := PlanOf(PlanMonthlySubscription, OptionMonthlyWithDiscounts)
	assert.True(t, c.IsDiscountedSubscription)
	assert.True(t, c.IsMonthly())

	c = PlanOf(PlanEMI, "")
	assert.True(t, c.IsInstallmentPlan)

	c = PlanOf("", "")
	assert.Equal(t, PlanOneTime, c.Plan)
}
