package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"academy-ledger/internal/clients"
	"academy-ledger/internal/domain"
)

type sentMail struct {
	to, subject, body string
	attachments       []clients.Attachment
}

type fakeMailer struct {
	sent []sentMail
}

func (m *fakeMailer) Send(_ context.Context, to, subject, htmlBody string, attachments ...clients.Attachment) error {
	m.sent = append(m.sent, sentMail{to: to, subject: subject, body: htmlBody, attachments: attachments})
	return nil
}

func TestPaymentConfirmationMail(t *testing.T) {
	mailer := &fakeMailer{}
	n := NewEmailNotifier(mailer)
	student := domain.Student{ID: "s1", Name: "Ada <Lovelace>", Email: "ada@example.com"}
	l := invoiceLedger()
	tx := domain.Transaction{InvoiceNumber: "INV-202403-0001", PaidAmount: dec("2000"), PaymentMode: "UPI", PaidDate: time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)}
	inv := RenderedInvoice{FileName: "INV-202403-0001.xlsx", URL: "https://files/x.xlsx", Document: []byte("doc")}

	require.NoError(t, n.SendPaymentConfirmation(context.Background(), student, l, tx, inv, false))
	require.Len(t, mailer.sent, 1)
	m := mailer.sent[0]
	assert.Equal(t, "ada@example.com", m.to)
	assert.Equal(t, "Payment received - INV-202403-0001", m.subject)
	assert.Contains(t, m.body, "Ada &lt;Lovelace&gt;")
	assert.Contains(t, m.body, "Outstanding balance: <strong>4000.00</strong>")
	assert.Contains(t, m.body, `href="https://files/x.xlsx"`)
	require.Len(t, m.attachments, 1)
	assert.Equal(t, "INV-202403-0001.xlsx", m.attachments[0].Name)

	require.NoError(t, n.SendPaymentConfirmation(context.Background(), student, l, tx, RenderedInvoice{}, true))
	final := mailer.sent[1]
	assert.Equal(t, "Fees fully paid - INV-202403-0001", final.subject)
	assert.Contains(t, final.body, "fully paid")
	assert.Empty(t, final.attachments)
}

func TestReminderMail(t *testing.T) {
	mailer := &fakeMailer{}
	n := NewEmailNotifier(mailer)
	l := invoiceLedger()
	due := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	l.NextDueDate = &due

	require.NoError(t, n.SendReminder(context.Background(), domain.Student{ID: "s1", Name: "Ada", Email: "ada@example.com"}, l))
	require.Len(t, mailer.sent, 1)
	assert.Equal(t, "Payment reminder", mailer.sent[0].subject)
	assert.Contains(t, mailer.sent[0].body, "due on 01 Apr 2024")

	err := n.SendReminder(context.Background(), domain.Student{ID: "s2"}, l)
	assert.Error(t, err)
	assert.Len(t, mailer.sent, 1)
}
