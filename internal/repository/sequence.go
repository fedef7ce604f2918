package repository

import (
	"context"
	"database/sql"
)

// InvoiceSequenceRepository keeps one counter row per tenant and month.
type InvoiceSequenceRepository struct {
	db *sql.DB
}

func NewInvoiceSequenceRepository(db *sql.DB) *InvoiceSequenceRepository {
	return &InvoiceSequenceRepository{db: db}
}

// Next atomically increments and returns the counter for (tenantID,
// yearMonth), creating it at 1. Concurrent callers never see the same value.
func (r *InvoiceSequenceRepository) Next(ctx context.Context, tenantID, yearMonth string) (int64, error) {
	query := `
		INSERT INTO invoice_sequences (tenant_id, year_month, last_value)
		VALUES ($1, $2, 1)
		ON CONFLICT (tenant_id, year_month)
		DO UPDATE SET last_value = invoice_sequences.last_value + 1, updated_at = now()
		RETURNING last_value`

	var value int64
	if err := r.db.QueryRowContext(ctx, query, tenantID, yearMonth).Scan(&value); err != nil {
		return 0, err
	}
	return value, nil
}

// Peek returns the last issued value without incrementing; 0 when none.
func (r *InvoiceSequenceRepository) Peek(ctx context.Context, tenantID, yearMonth string) (int64, error) {
	var value int64
	err := r.db.QueryRowContext(ctx,
		`SELECT last_value FROM invoice_sequences WHERE tenant_id = $1 AND year_month = $2`,
		tenantID, yearMonth,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return value, err
}
