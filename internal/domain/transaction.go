package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const TransactionConfirmed = "CONFIRMED"

// Transaction is one recorded payment event. Only InvoiceURL changes after insert.
type Transaction struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenantId"`
	PaymentID string `json:"paymentId"`
	StudentID string `json:"studentId"`

	PaidAmount  decimal.Decimal `json:"paidAmount"`
	PaidDate    time.Time       `json:"paidDate"`
	PaymentMode string          `json:"paymentMode"`

	PayerType string `json:"payerType,omitempty"`
	PayerName string `json:"payerName,omitempty"`

	PaymentSubType    string `json:"paymentSubType,omitempty"`
	InstallmentNumber *int   `json:"installmentNumber,omitempty"`
	EMINumber         *int   `json:"emiNumber,omitempty"`
	SubscriptionMonth string `json:"subscriptionMonth,omitempty"`

	InvoiceNumber    string  `json:"invoiceNumber"`
	InvoiceGenerated bool    `json:"invoiceGenerated"`
	InvoiceURL       *string `json:"invoiceUrl,omitempty"`

	Status     string `json:"status"`
	ReceivedBy string `json:"receivedBy,omitempty"`
	Notes      string `json:"notes,omitempty"`

	CreatedAt *time.Time `json:"createdAt"`
}
