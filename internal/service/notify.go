package service

import (
	"context"
	"fmt"
	"html"

	"academy-ledger/internal/clients"
	"academy-ledger/internal/domain"
)

type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody string, attachments ...clients.Attachment) error
}

// EmailNotifier writes the student-facing payment and reminder mails.
type EmailNotifier struct {
	mailer Mailer
}

func NewEmailNotifier(mailer Mailer) *EmailNotifier {
	return &EmailNotifier{mailer: mailer}
}

func (n *EmailNotifier) SendPaymentConfirmation(ctx context.Context, student domain.Student, l domain.Ledger, tx domain.Transaction, inv RenderedInvoice, final bool) error {
	if student.Email == "" {
		return fmt.Errorf("student %s has no email address", student.ID)
	}

	subject := fmt.Sprintf("Payment received - %s", tx.InvoiceNumber)
	if final {
		subject = fmt.Sprintf("Fees fully paid - %s", tx.InvoiceNumber)
	}

	body := fmt.Sprintf(`
		<h1>Payment received</h1>
		<p>Dear %s,</p>
		<p>We received <strong>%s</strong> by %s on %s.</p>
		<p>Invoice number: <strong>%s</strong></p>
		%s
		%s
		<small>This is an automated message, please do not reply.</small>
	`,
		html.EscapeString(student.Name),
		tx.PaidAmount.StringFixed(2),
		html.EscapeString(tx.PaymentMode),
		tx.PaidDate.Format("02 Jan 2006"),
		html.EscapeString(tx.InvoiceNumber),
		balanceParagraph(l, final),
		invoiceLink(inv.URL),
	)

	var attachments []clients.Attachment
	if len(inv.Document) > 0 {
		attachments = append(attachments, clients.Attachment{Name: inv.FileName, Data: inv.Document})
	}
	return n.mailer.Send(ctx, student.Email, subject, body, attachments...)
}

func (n *EmailNotifier) SendReminder(ctx context.Context, student domain.Student, l domain.Ledger) error {
	if student.Email == "" {
		return fmt.Errorf("student %s has no email address", student.ID)
	}

	due := "soon"
	if l.NextDueDate != nil {
		due = "on " + l.NextDueDate.Format("02 Jan 2006")
	}
	body := fmt.Sprintf(`
		<h1>Payment reminder</h1>
		<p>Dear %s,</p>
		<p>Your next payment is due %s.</p>
		%s
		<small>This is an automated message, please do not reply.</small>
	`, html.EscapeString(student.Name), due, balanceParagraph(l, false))

	return n.mailer.Send(ctx, student.Email, "Payment reminder", body)
}

func balanceParagraph(l domain.Ledger, final bool) string {
	if final {
		return "<p>Your fees are now fully paid. Thank you.</p>"
	}
	if l.Plan().IsMonthly() && l.MonthlySubscription != nil {
		return fmt.Sprintf("<p>Next month's fee: <strong>%s</strong></p>", l.MonthlySubscription.MonthlyFee.StringFixed(2))
	}
	if amount, ok := l.Outstanding.Amount(); ok {
		return fmt.Sprintf("<p>Outstanding balance: <strong>%s</strong></p>", amount.StringFixed(2))
	}
	return ""
}

func invoiceLink(url string) string {
	if url == "" {
		return ""
	}
	return fmt.Sprintf(`<p><a href="%s">Download your invoice</a></p>`, html.EscapeString(url))
}
