package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type InvoiceLine struct {
	Description string
	Amount      decimal.Decimal
}

type InvoiceData struct {
	InvoiceNumber string
	TenantID      string
	LedgerID      string
	TransactionID string
	IssuedAt      time.Time

	StudentID    string
	StudentName  string
	StudentEmail string
	CourseType   string
	PlanLabel    string

	Lines []InvoiceLine

	TotalFees        decimal.Decimal
	AmountPaid       decimal.Decimal
	PaidToDate       decimal.Decimal
	Outstanding      Outstanding
	PaymentMode      string
	PaymentSubType   string
	PreviousPayments []Transaction
	IsFinalPayment   bool
}

type IncomeRecord struct {
	ID          string
	TenantID    string
	Date        time.Time
	Amount      decimal.Decimal
	Category    string
	PaymentMode string
	ReceivedBy  string
	Description string
	Reference   string
}

const IncomeCategoryCourseFees = "Course Fees"
