package repository

import (
	"context"
	"database/sql"

	"academy-ledger/internal/domain"
)

type IncomeRepository struct {
	db *sql.DB
}

func NewIncomeRepository(db *sql.DB) *IncomeRepository {
	return &IncomeRepository{db: db}
}

func (r *IncomeRepository) Create(ctx context.Context, rec domain.IncomeRecord) error {
	query := `
		INSERT INTO incomes (id, tenant_id, date, amount, category, payment_mode, received_by, description, reference)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.ExecContext(ctx, query,
		rec.ID, rec.TenantID, rec.Date, rec.Amount, rec.Category,
		rec.PaymentMode, rec.ReceivedBy, rec.Description, rec.Reference,
	)
	return err
}
