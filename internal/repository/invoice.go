package repository

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"

	"academy-ledger/internal/domain"
)

type InvoiceRepository struct {
	db *sql.DB
}

func NewInvoiceRepository(db *sql.DB) *InvoiceRepository {
	return &InvoiceRepository{db: db}
}

// Save stores the rendered invoice's data snapshot and where the file lives.
func (r *InvoiceRepository) Save(ctx context.Context, data domain.InvoiceData, fileURL string) error {
	snapshot, err := json.Marshal(data)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO invoices (id, tenant_id, invoice_number, ledger_id, transaction_id, student_id, amount, file_url, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tenant_id, invoice_number) DO UPDATE SET file_url = EXCLUDED.file_url, data = EXCLUDED.data`

	_, err = r.db.ExecContext(ctx, query,
		uuid.NewString(), data.TenantID, data.InvoiceNumber, data.LedgerID, data.TransactionID,
		data.StudentID, data.AmountPaid, fileURL, string(snapshot),
	)
	return err
}
