package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"academy-ledger/internal/domain"
)

const transactionColumns = `id, COALESCE(tenant_id, ''), payment_id, student_id,
	paid_amount, paid_date, payment_mode, payer_type, payer_name, payment_sub_type,
	installment_number, emi_number, subscription_month, invoice_number, invoice_generated,
	invoice_url, status, received_by, notes, created_at`

type TransactionsFilter struct {
	TenantID    string
	LedgerID    *string
	StudentID   *string
	PaymentMode *string
	From        *time.Time
	To          *time.Time
}

type TransactionRepository struct {
	db *sql.DB
}

func NewTransactionRepository(db *sql.DB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

func insertTransaction(ctx context.Context, ex execer, t domain.Transaction) error {
	query := `
		INSERT INTO payment_transactions (
			id, tenant_id, payment_id, student_id, paid_amount, paid_date, payment_mode,
			payer_type, payer_name, payment_sub_type, installment_number, emi_number,
			subscription_month, invoice_number, invoice_generated, invoice_url,
			status, received_by, notes, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`

	createdAt := time.Now()
	if t.CreatedAt != nil {
		createdAt = *t.CreatedAt
	}
	_, err := ex.ExecContext(ctx, query,
		t.ID, t.TenantID, t.PaymentID, t.StudentID, t.PaidAmount, t.PaidDate, t.PaymentMode,
		t.PayerType, t.PayerName, t.PaymentSubType, t.InstallmentNumber, t.EMINumber,
		t.SubscriptionMonth, t.InvoiceNumber, t.InvoiceGenerated, t.InvoiceURL,
		t.Status, t.ReceivedBy, t.Notes, createdAt,
	)
	if isUniqueViolation(err) {
		return domain.Errorf(domain.ErrCounterUnavailable, "invoice number %s is already taken", t.InvoiceNumber)
	}
	return err
}

// List returns matching transactions newest first.
func (r *TransactionRepository) List(ctx context.Context, f TransactionsFilter) ([]domain.Transaction, error) {
	where, args, _ := transactionWhere(f, 1)
	query := `SELECT ` + transactionColumns + ` FROM payment_transactions WHERE ` +
		strings.Join(where, " AND ") + ` ORDER BY paid_date DESC, created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *TransactionRepository) ListByLedger(ctx context.Context, tenantID, ledgerID string) ([]domain.Transaction, error) {
	return r.List(ctx, TransactionsFilter{TenantID: tenantID, LedgerID: &ledgerID})
}

func (r *TransactionRepository) ListByStudent(ctx context.Context, tenantID, studentID string) ([]domain.Transaction, error) {
	return r.List(ctx, TransactionsFilter{TenantID: tenantID, StudentID: &studentID})
}

func (r *TransactionRepository) HasMoreThan(ctx context.Context, limit int64, f TransactionsFilter) (bool, error) {
	where, args, _ := transactionWhere(f, 2)
	query := `SELECT COUNT(*) > $1 FROM payment_transactions WHERE ` + strings.Join(where, " AND ")

	var tooMany bool
	if err := r.db.QueryRowContext(ctx, query, append([]any{limit}, args...)...).Scan(&tooMany); err != nil {
		return false, err
	}
	return tooMany, nil
}

// CountByLedger is the number of transactions recorded against a ledger.
func (r *TransactionRepository) CountByLedger(ctx context.Context, tenantID, ledgerID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM payment_transactions WHERE tenant_id = $1 AND payment_id = $2`,
		tenantID, ledgerID,
	).Scan(&n)
	return n, err
}

// SetInvoiceURL is the only update a transaction receives after insert.
func (r *TransactionRepository) SetInvoiceURL(ctx context.Context, tenantID, id, url string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE payment_transactions SET invoice_url = $3, invoice_generated = TRUE WHERE tenant_id = $1 AND id = $2`,
		tenantID, id, url,
	)
	return err
}

func transactionWhere(f TransactionsFilter, i int) ([]string, []any, int) {
	where := []string{fmt.Sprintf("tenant_id = $%d", i)}
	args := []any{f.TenantID}
	i++

	if f.LedgerID != nil && *f.LedgerID != "" {
		where = append(where, fmt.Sprintf("payment_id = $%d", i))
		args = append(args, *f.LedgerID)
		i++
	}
	if f.StudentID != nil && *f.StudentID != "" {
		where = append(where, fmt.Sprintf("student_id = $%d", i))
		args = append(args, *f.StudentID)
		i++
	}
	if f.PaymentMode != nil && *f.PaymentMode != "" {
		where = append(where, fmt.Sprintf("payment_mode = $%d", i))
		args = append(args, *f.PaymentMode)
		i++
	}
	if f.From != nil {
		where = append(where, fmt.Sprintf("paid_date >= $%d", i))
		args = append(args, *f.From)
		i++
	}
	if f.To != nil {
		where = append(where, fmt.Sprintf("paid_date <= $%d", i))
		args = append(args, *f.To)
		i++
	}
	return where, args, i
}

func scanTransaction(row rowScanner) (domain.Transaction, error) {
	var (
		t           domain.Transaction
		installment sql.NullInt64
		emi         sql.NullInt64
		invoiceURL  sql.NullString
		createdAt   time.Time
	)
	if err := row.Scan(
		&t.ID, &t.TenantID, &t.PaymentID, &t.StudentID,
		&t.PaidAmount, &t.PaidDate, &t.PaymentMode, &t.PayerType, &t.PayerName, &t.PaymentSubType,
		&installment, &emi, &t.SubscriptionMonth, &t.InvoiceNumber, &t.InvoiceGenerated,
		&invoiceURL, &t.Status, &t.ReceivedBy, &t.Notes, &createdAt,
	); err != nil {
		return t, err
	}

	if installment.Valid {
		n := int(installment.Int64)
		t.InstallmentNumber = &n
	}
	if emi.Valid {
		n := int(emi.Int64)
		t.EMINumber = &n
	}
	if invoiceURL.Valid {
		t.InvoiceURL = &invoiceURL.String
	}
	t.CreatedAt = &createdAt
	return t, nil
}
