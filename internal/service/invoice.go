package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"
	"github.com/xuri/excelize/v2"

	"academy-ledger/internal/domain"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// FileStore persists a generated document and returns a URL for it. Both the
// local storage client and the S3 client satisfy it.
type FileStore interface {
	Put(ctx context.Context, fileName, contentType string, data []byte) (string, error)
}

// GenerateInvoiceData assembles everything printed on an invoice. The ledger
// is the state after the payment; history may include the transaction itself.
func GenerateInvoiceData(l domain.Ledger, student domain.Student, tx domain.Transaction, invoiceNumber string, history []domain.Transaction) domain.InvoiceData {
	previous := lo.Filter(history, func(t domain.Transaction, _ int) bool {
		return t.ID != tx.ID
	})
	sort.SliceStable(previous, func(i, j int) bool {
		return previous[i].PaidDate.Before(previous[j].PaidDate)
	})

	data := domain.InvoiceData{
		InvoiceNumber:    invoiceNumber,
		TenantID:         l.TenantID,
		LedgerID:         l.ID,
		TransactionID:    tx.ID,
		IssuedAt:         tx.PaidDate,
		StudentID:        l.StudentID,
		StudentName:      student.Name,
		StudentEmail:     student.Email,
		CourseType:       l.CourseType,
		PlanLabel:        domain.PaymentOptionLabel(l.Plan()),
		AmountPaid:       tx.PaidAmount,
		PaidToDate:       l.ReceivedAmount,
		Outstanding:      l.Outstanding,
		PaymentMode:      tx.PaymentMode,
		PaymentSubType:   tx.PaymentSubType,
		PreviousPayments: previous,
		IsFinalPayment:   l.IsFullyPaid(),
	}

	if l.Plan().IsMonthly() {
		data.TotalFees = tx.PaidAmount
		data.Lines = []domain.InvoiceLine{{
			Description: "Monthly subscription " + tx.SubscriptionMonth,
			Amount:      tx.PaidAmount,
		}}
		return data
	}

	data.TotalFees = l.TotalDue()
	data.Lines = append(data.Lines, domain.InvoiceLine{Description: "Course fee", Amount: l.CourseFee})
	if !l.CourseRegistrationFeePaid && l.CourseRegistrationFee.IsPositive() {
		data.Lines = append(data.Lines, domain.InvoiceLine{Description: "Course registration fee", Amount: l.CourseRegistrationFee})
	}
	if !l.StudentRegistrationFeePaid && l.StudentRegistrationFee.IsPositive() {
		data.Lines = append(data.Lines, domain.InvoiceLine{Description: "Student registration fee", Amount: l.StudentRegistrationFee})
	}
	return data
}

// BuildInvoiceWorkbook renders invoice data as a single-sheet workbook.
func BuildInvoiceWorkbook(data domain.InvoiceData) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := "Invoice"
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return nil, err
	}
	_ = f.SetDocProps(&excelize.DocProperties{
		Title:   data.InvoiceNumber,
		Creator: "tenant_" + data.TenantID,
	})

	row := 1
	put := func(label string, value any) {
		_ = f.SetCellValue(sheet, fmt.Sprintf("A%d", row), label)
		_ = f.SetCellValue(sheet, fmt.Sprintf("B%d", row), value)
		row++
	}

	put("Invoice", data.InvoiceNumber)
	put("Date", data.IssuedAt.Format("2006-01-02"))
	put("Student", data.StudentName)
	put("Student ID", data.StudentID)
	put("Course type", data.CourseType)
	put("Plan", data.PlanLabel)
	row++

	put("Description", "Amount")
	for _, line := range data.Lines {
		put(line.Description, line.Amount.StringFixed(2))
	}
	row++

	put("Total fees", data.TotalFees.StringFixed(2))
	put("This payment", data.AmountPaid.StringFixed(2))
	put("Payment mode", data.PaymentMode)
	if data.PaymentSubType != "" {
		put("Payment type", data.PaymentSubType)
	}
	put("Paid to date", data.PaidToDate.StringFixed(2))
	if amount, ok := data.Outstanding.Amount(); ok {
		put("Outstanding", amount.StringFixed(2))
	}

	if len(data.PreviousPayments) > 0 {
		row++
		put("Previous payments", "")
		for _, p := range data.PreviousPayments {
			put(p.PaidDate.Format("2006-01-02")+" "+p.InvoiceNumber, p.PaidAmount.StringFixed(2))
		}
	}

	_ = f.SetColWidth(sheet, "A", "A", 36)
	_ = f.SetColWidth(sheet, "B", "B", 24)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type RenderedInvoice struct {
	FileName string
	URL      string
	Document []byte
}

// InvoiceRenderer turns invoice data into a stored document.
type InvoiceRenderer struct {
	store FileStore
}

func NewInvoiceRenderer(store FileStore) *InvoiceRenderer {
	return &InvoiceRenderer{store: store}
}

func (r *InvoiceRenderer) Render(ctx context.Context, data domain.InvoiceData) (RenderedInvoice, error) {
	doc, err := BuildInvoiceWorkbook(data)
	if err != nil {
		return RenderedInvoice{}, fmt.Errorf("build invoice %s: %w", data.InvoiceNumber, err)
	}
	name := data.InvoiceNumber + ".xlsx"
	url, err := r.store.Put(ctx, name, xlsxContentType, doc)
	if err != nil {
		return RenderedInvoice{}, fmt.Errorf("store invoice %s: %w", data.InvoiceNumber, err)
	}
	return RenderedInvoice{FileName: name, URL: url, Document: doc}, nil
}

func timeString(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02 15:04:05")
}
