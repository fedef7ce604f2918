package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"academy-ledger/internal/domain"
)

const uniqueViolation = "23505"

const ledgerColumns = `id, COALESCE(tenant_id, ''), student_id,
	course_fee, course_fee_paid, course_registration_fee, course_registration_fee_paid,
	student_registration_fee, student_registration_fee_paid, course_type,
	received_amount, outstanding_amount, collection_rate, status, plan_type, payment_option,
	next_due_date, next_reminder_date, reminder_enabled, reminder_frequency,
	installments_config, monthly_subscription, last_transaction_id, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type LedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

func (r *LedgerRepository) FindByStudent(ctx context.Context, tenantID, studentID string) (*domain.Ledger, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledgers WHERE tenant_id = $1 AND student_id = $2`
	l, err := scanLedger(r.db.QueryRowContext(ctx, query, tenantID, studentID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.Errorf(domain.ErrLedgerNotFound, "no ledger for student %s", studentID)
	}
	return l, err
}

func (r *LedgerRepository) FindByID(ctx context.Context, tenantID, id string) (*domain.Ledger, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledgers WHERE tenant_id = $1 AND id = $2`
	l, err := scanLedger(r.db.QueryRowContext(ctx, query, tenantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.Errorf(domain.ErrLedgerNotFound, "ledger %s not found", id)
	}
	return l, err
}

// PaymentCommit is everything one payment event writes. Ledger carries the
// new state; its Version is the version the caller read.
type PaymentCommit struct {
	Ledger       domain.Ledger
	IsNew        bool
	Transactions []domain.Transaction
}

// CommitPayment writes the ledger and its new transactions in one database
// transaction. An existing ledger is only updated if its version still
// matches, and the returned value is the version now stored.
func (r *LedgerRepository) CommitPayment(ctx context.Context, c PaymentCommit) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var version int64
	if c.IsNew {
		version, err = insertLedger(ctx, tx, c.Ledger)
	} else {
		version, err = updateLedger(ctx, tx, c.Ledger)
	}
	if err != nil {
		return 0, err
	}

	for _, t := range c.Transactions {
		if err := insertTransaction(ctx, tx, t); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return version, nil
}

func insertLedger(ctx context.Context, tx *sql.Tx, l domain.Ledger) (int64, error) {
	cfg, sub, err := ledgerDocuments(l)
	if err != nil {
		return 0, err
	}
	query := `
		INSERT INTO ledgers (
			id, tenant_id, student_id,
			course_fee, course_fee_paid, course_registration_fee, course_registration_fee_paid,
			student_registration_fee, student_registration_fee_paid, course_type,
			received_amount, outstanding_amount, collection_rate, status, plan_type, payment_option,
			next_due_date, next_reminder_date, reminder_enabled, reminder_frequency,
			installments_config, monthly_subscription, last_transaction_id, version, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, 1, $24, $24
		)`

	now := time.Now()
	if l.CreatedAt != nil {
		now = *l.CreatedAt
	}
	_, err = tx.ExecContext(ctx, query,
		l.ID, l.TenantID, l.StudentID,
		l.CourseFee, l.CourseFeePaid, l.CourseRegistrationFee, l.CourseRegistrationFeePaid,
		l.StudentRegistrationFee, l.StudentRegistrationFeePaid, l.CourseType,
		l.ReceivedAmount, outstandingValue(l.Outstanding), l.CollectionRate, string(l.Status),
		string(l.PlanType), l.PaymentOption,
		l.NextDueDate, l.NextReminderDate, l.ReminderEnabled, string(l.ReminderFrequency),
		cfg, sub, l.LastTransactionID, now,
	)
	if isUniqueViolation(err) {
		return 0, domain.Errorf(domain.ErrDuplicateLedger, "student %s already has a ledger", l.StudentID)
	}
	if err != nil {
		return 0, err
	}
	return 1, nil
}

func updateLedger(ctx context.Context, tx *sql.Tx, l domain.Ledger) (int64, error) {
	cfg, sub, err := ledgerDocuments(l)
	if err != nil {
		return 0, err
	}
	query := `
		UPDATE ledgers SET
			course_fee = $4, course_fee_paid = $5,
			course_registration_fee = $6, course_registration_fee_paid = $7,
			student_registration_fee = $8, student_registration_fee_paid = $9,
			course_type = $10, received_amount = $11, outstanding_amount = $12,
			collection_rate = $13, status = $14, plan_type = $15, payment_option = $16,
			next_due_date = $17, next_reminder_date = $18, reminder_enabled = $19,
			reminder_frequency = $20, installments_config = $21, monthly_subscription = $22,
			last_transaction_id = $23, updated_at = $24, version = version + 1
		WHERE id = $1 AND tenant_id = $2 AND version = $3
		RETURNING version`

	updatedAt := time.Now()
	if l.UpdatedAt != nil {
		updatedAt = *l.UpdatedAt
	}
	var version int64
	err = tx.QueryRowContext(ctx, query,
		l.ID, l.TenantID, l.Version,
		l.CourseFee, l.CourseFeePaid, l.CourseRegistrationFee, l.CourseRegistrationFeePaid,
		l.StudentRegistrationFee, l.StudentRegistrationFeePaid,
		l.CourseType, l.ReceivedAmount, outstandingValue(l.Outstanding),
		l.CollectionRate, string(l.Status), string(l.PlanType), l.PaymentOption,
		l.NextDueDate, l.NextReminderDate, l.ReminderEnabled,
		string(l.ReminderFrequency), cfg, sub,
		l.LastTransactionID, updatedAt,
	).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.Errorf(domain.ErrStaleLedger, "ledger %s changed since version %d", l.ID, l.Version)
	}
	if err != nil {
		return 0, err
	}
	return version, nil
}

// UpdateReminder moves a ledger's reminder fields forward after a sweep.
// Version-checked like payments, so a concurrent payment wins.
func (r *LedgerRepository) UpdateReminder(ctx context.Context, tenantID, id string, version int64, st domain.ReminderState) error {
	query := `
		UPDATE ledgers SET
			reminder_enabled = $4, reminder_frequency = $5,
			next_due_date = $6, next_reminder_date = $7,
			updated_at = now(), version = version + 1
		WHERE id = $1 AND tenant_id = $2 AND version = $3`

	res, err := r.db.ExecContext(ctx, query, id, tenantID, version,
		st.Enabled, string(st.Frequency), st.NextDueDate, st.NextReminderDate)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.Errorf(domain.ErrStaleLedger, "ledger %s changed since version %d", id, version)
	}
	return nil
}

const dueReminderWhere = `reminder_enabled AND next_reminder_date IS NOT NULL AND next_reminder_date <= $1`

// ReminderBacklog counts due reminders per tenant. Ledgers without a tenant
// are grouped under the empty tenant ID.
func (r *LedgerRepository) ReminderBacklog(ctx context.Context, now time.Time) ([]domain.ReminderBacklog, error) {
	query := `SELECT COALESCE(tenant_id, ''), count(*) FROM ledgers
		WHERE ` + dueReminderWhere + `
		GROUP BY 1
		ORDER BY 1`

	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ReminderBacklog
	for rows.Next() {
		var b domain.ReminderBacklog
		if err := rows.Scan(&b.TenantID, &b.Due); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// ListDueReminders returns a tenant's enabled ledgers whose reminder date has
// passed, oldest first.
func (r *LedgerRepository) ListDueReminders(ctx context.Context, tenantID string, now time.Time, limit int) ([]domain.Ledger, error) {
	query := `SELECT ` + ledgerColumns + ` FROM ledgers
		WHERE tenant_id = $2 AND ` + dueReminderWhere + `
		ORDER BY next_reminder_date
		LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query, now, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Ledger
	for rows.Next() {
		l, err := scanLedger(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type BackfillResult struct {
	Ledgers      int64
	Transactions int64
	DryRun       bool
	// students whose legacy ledger would duplicate one already held by the
	// tenant, or another legacy ledger; these are left without a tenant
	Conflicts []string
}

// backfillConflict matches a tenant-less ledger l that cannot take tenant $1
// without breaking the one-ledger-per-student index.
const backfillConflict = `(
	EXISTS (SELECT 1 FROM ledgers o WHERE o.tenant_id = $1 AND o.student_id = l.student_id)
	OR (SELECT count(*) FROM ledgers d WHERE d.tenant_id IS NULL AND d.student_id = l.student_id) > 1)`

// BackfillTenant assigns tenantID to every ledger stored without one;
// transactions then inherit their ledger's tenant. Ledgers that would collide
// with an existing student ledger are reported in Conflicts and skipped. With
// dryRun the counts are reported and nothing is kept.
func (r *LedgerRepository) BackfillTenant(ctx context.Context, tenantID string, dryRun bool) (BackfillResult, error) {
	res := BackfillResult{DryRun: dryRun}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()

	if res.Conflicts, err = backfillConflicts(ctx, tx, tenantID); err != nil {
		return res, fmt.Errorf("backfill conflicts: %w", err)
	}
	if res.Ledgers, err = execCount(ctx, tx, `
		UPDATE ledgers l SET tenant_id = $1
		WHERE l.tenant_id IS NULL AND NOT `+backfillConflict, tenantID); err != nil {
		return res, backfillError(err)
	}
	if res.Transactions, err = execCount(ctx, tx, `
		UPDATE payment_transactions t SET tenant_id = l.tenant_id
		FROM ledgers l
		WHERE t.payment_id = l.id AND t.tenant_id IS NULL AND l.tenant_id IS NOT NULL`); err != nil {
		return res, fmt.Errorf("backfill transactions: %w", err)
	}

	if dryRun {
		return res, nil
	}
	return res, tx.Commit()
}

func backfillConflicts(ctx context.Context, tx *sql.Tx, tenantID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT DISTINCT l.student_id FROM ledgers l
		WHERE l.tenant_id IS NULL AND `+backfillConflict+`
		ORDER BY 1`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// backfillError reports a ledger that slipped into the tenant between the
// conflict check and the update as a duplicate instead of a raw driver error.
func backfillError(err error) error {
	if isUniqueViolation(err) {
		return domain.Wrap(domain.ErrDuplicateLedger, err, "a student ledger was created for the tenant during the backfill, run it again")
	}
	return fmt.Errorf("backfill ledgers: %w", err)
}

func execCount(ctx context.Context, ex execer, query string, args ...any) (int64, error) {
	res, err := ex.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanLedger(row rowScanner) (*domain.Ledger, error) {
	var (
		l            domain.Ledger
		status       string
		plan         string
		frequency    string
		outstanding  decimal.NullDecimal
		nextDue      sql.NullTime
		nextReminder sql.NullTime
		cfgJSON      []byte
		subJSON      []byte
		lastTx       sql.NullString
		createdAt    time.Time
		updatedAt    time.Time
	)
	if err := row.Scan(
		&l.ID, &l.TenantID, &l.StudentID,
		&l.CourseFee, &l.CourseFeePaid, &l.CourseRegistrationFee, &l.CourseRegistrationFeePaid,
		&l.StudentRegistrationFee, &l.StudentRegistrationFeePaid, &l.CourseType,
		&l.ReceivedAmount, &outstanding, &l.CollectionRate, &status, &plan, &l.PaymentOption,
		&nextDue, &nextReminder, &l.ReminderEnabled, &frequency,
		&cfgJSON, &subJSON, &lastTx, &l.Version, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	l.Status = domain.LedgerStatus(status)
	l.PlanType = domain.PlanType(plan)
	l.ReminderFrequency = domain.ReminderFrequency(frequency)
	if outstanding.Valid {
		l.Outstanding = domain.FixedOutstanding(outstanding.Decimal)
	} else {
		l.Outstanding = domain.OutstandingNotApplicable()
	}
	if nextDue.Valid {
		l.NextDueDate = &nextDue.Time
	}
	if nextReminder.Valid {
		l.NextReminderDate = &nextReminder.Time
	}
	if lastTx.Valid {
		l.LastTransactionID = &lastTx.String
	}
	l.CreatedAt = &createdAt
	l.UpdatedAt = &updatedAt

	if len(cfgJSON) > 0 {
		var cfg domain.InstallmentsConfig
		if err := json.Unmarshal(cfgJSON, &cfg); err != nil {
			return nil, fmt.Errorf("decode installments_config of ledger %s: %w", l.ID, err)
		}
		l.InstallmentsConfig = &cfg
	}
	if len(subJSON) > 0 {
		var sub domain.MonthlySubscription
		if err := json.Unmarshal(subJSON, &sub); err != nil {
			return nil, fmt.Errorf("decode monthly_subscription of ledger %s: %w", l.ID, err)
		}
		l.MonthlySubscription = &sub
	}
	return &l, nil
}

// ledgerDocuments encodes the embedded documents for JSONB columns; a nil
// document is stored as NULL.
func ledgerDocuments(l domain.Ledger) (cfg, sub any, err error) {
	if l.InstallmentsConfig != nil {
		b, err := json.Marshal(l.InstallmentsConfig)
		if err != nil {
			return nil, nil, err
		}
		cfg = string(b)
	}
	if l.MonthlySubscription != nil {
		b, err := json.Marshal(l.MonthlySubscription)
		if err != nil {
			return nil, nil, err
		}
		sub = string(b)
	}
	return cfg, sub, nil
}

func outstandingValue(o domain.Outstanding) decimal.NullDecimal {
	amount, ok := o.Amount()
	return decimal.NullDecimal{Decimal: amount, Valid: ok}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
