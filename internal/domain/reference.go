package domain

import "github.com/shopspring/decimal"

type Student struct {
	ID       string
	TenantID string
	Name     string
	Email    string
	Phone    string
	CourseID *string
	CohortID *string
}

type Course struct {
	ID    string
	Name  string
	Price decimal.Decimal
	Type  string
}

type Cohort struct {
	ID       string
	Name     string
	CourseID *string
}
