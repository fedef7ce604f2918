package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"

	"academy-ledger/internal/domain"
	"academy-ledger/internal/repository"
)

type ExportStatus struct {
	Key      string    `json:"key"`
	Type     string    `json:"type"`
	TenantID string    `json:"tenant_id"`
	UserID   int64     `json:"user_id"`
	Filters  any       `json:"filters"`
	Progress float64   `json:"progress"`
	FileURL  *string   `json:"file_url"`
	Error    *string   `json:"error,omitempty"`
	Created  time.Time `json:"created_at"`
}

const (
	exportTTL                = 20 * time.Minute
	maxTransactionsForExport = 500_000
	exportChunkSize          = 1000
)

func exportSetKey(tenantID string) string {
	return "export_ids:" + tenantID
}

type ExportCache interface {
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	SAdd(ctx context.Context, key string, members ...any) error
	SMembers(ctx context.Context, key string) ([]string, error)
}

type ExportFileStore interface {
	Save(ctx context.Context, fileName string, data []byte) (string, error)
	GetURL(fileName string) string
}

type ExportNotifier interface {
	NotifyExportProgress(ctx context.Context, tenantID string, userID int64, exportID string, progress float64, stage string) error
	NotifyExportComplete(ctx context.Context, tenantID string, userID int64, exportID, url, filename string) error
	NotifyExportFailed(ctx context.Context, tenantID string, userID int64, exportID, errMsg string) error
}

type TransactionLister interface {
	List(ctx context.Context, f repository.TransactionsFilter) ([]domain.Transaction, error)
	HasMoreThan(ctx context.Context, limit int64, f repository.TransactionsFilter) (bool, error)
}

type TransactionColumn struct {
	Header string
	Value  func(t domain.Transaction) any
}

var transactionColumns = map[string]TransactionColumn{
	"id":              {Header: "ID", Value: func(t domain.Transaction) any { return t.ID }},
	"payment_id":      {Header: "Ledger ID", Value: func(t domain.Transaction) any { return t.PaymentID }},
	"student_id":      {Header: "Student ID", Value: func(t domain.Transaction) any { return t.StudentID }},
	"invoice_number":  {Header: "Invoice", Value: func(t domain.Transaction) any { return t.InvoiceNumber }},
	"paid_amount":     {Header: "Amount", Value: func(t domain.Transaction) any { return t.PaidAmount.StringFixed(2) }},
	"paid_date":       {Header: "Paid on", Value: func(t domain.Transaction) any { return t.PaidDate.Format("2006-01-02 15:04:05") }},
	"payment_mode":    {Header: "Mode", Value: func(t domain.Transaction) any { return t.PaymentMode }},
	"payment_subtype": {Header: "Payment type", Value: func(t domain.Transaction) any { return t.PaymentSubType }},
	"installment_number": {Header: "Installment", Value: func(t domain.Transaction) any {
		if t.InstallmentNumber == nil {
			return ""
		}
		return *t.InstallmentNumber
	}},
	"subscription_month": {Header: "Month", Value: func(t domain.Transaction) any { return t.SubscriptionMonth }},
	"payer_type":         {Header: "Payer type", Value: func(t domain.Transaction) any { return t.PayerType }},
	"payer_name":         {Header: "Payer", Value: func(t domain.Transaction) any { return t.PayerName }},
	"status":             {Header: "Status", Value: func(t domain.Transaction) any { return t.Status }},
	"received_by":        {Header: "Received by", Value: func(t domain.Transaction) any { return t.ReceivedBy }},
	"invoice_url": {Header: "Invoice file", Value: func(t domain.Transaction) any {
		if t.InvoiceURL == nil {
			return ""
		}
		return *t.InvoiceURL
	}},
	"notes":      {Header: "Notes", Value: func(t domain.Transaction) any { return t.Notes }},
	"created_at": {Header: "Created", Value: func(t domain.Transaction) any { return timeString(t.CreatedAt) }},
}

var defaultTransactionColumns = []string{
	"paid_date", "invoice_number", "student_id", "paid_amount", "payment_mode",
	"payment_subtype", "installment_number", "subscription_month", "payer_name",
	"received_by", "status",
}

type TransactionExportService struct {
	repo  TransactionLister
	cache ExportCache
	files ExportFileStore
	ws    ExportNotifier
	log   *logrus.Logger

	// async runs the export body; tests replace it to run inline.
	async func(func())
}

func NewTransactionExportService(repo TransactionLister, cache ExportCache, files ExportFileStore, ws ExportNotifier, log *logrus.Logger) *TransactionExportService {
	return &TransactionExportService{
		repo:  repo,
		cache: cache,
		files: files,
		ws:    ws,
		log:   log,
		async: func(f func()) { go f() },
	}
}

func saveExportStatus(ctx context.Context, cache ExportCache, st *ExportStatus) error {
	if cache == nil {
		return nil
	}
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	if err := cache.Set(ctx, st.Key, string(data), exportTTL); err != nil {
		return err
	}
	return cache.SAdd(ctx, exportSetKey(st.TenantID), st.Key)
}

// StartTransactionsExport validates the request, stores the initial status
// and builds the workbook in the background. It returns the export id.
func (s *TransactionExportService) StartTransactionsExport(ctx context.Context, selected []string, filter repository.TransactionsFilter, userID int64) (string, error) {
	if filter.TenantID == "" {
		return "", domain.Errorf(domain.ErrMissingField, "tenantId is required")
	}
	if len(selected) == 0 {
		selected = defaultTransactionColumns
	}
	for _, key := range selected {
		if _, ok := transactionColumns[key]; !ok {
			return "", domain.Errorf(domain.ErrInvalidField, "unknown export column %q", key)
		}
	}

	tooMany, err := s.repo.HasMoreThan(ctx, maxTransactionsForExport, filter)
	if err != nil {
		return "", err
	}
	if tooMany {
		return "", domain.Errorf(domain.ErrInvalidField, "too many transactions to export (more than %d)", maxTransactionsForExport)
	}

	status := &ExportStatus{
		Key:      fmt.Sprintf("exports:%s", uuid.NewString()),
		Type:     "transactions",
		TenantID: filter.TenantID,
		UserID:   userID,
		Filters:  buildTransactionsFiltersMap(filter, selected),
		Created:  time.Now(),
	}
	if err := saveExportStatus(ctx, s.cache, status); err != nil {
		s.log.WithError(err).WithField("export_id", status.Key).Warn("failed to store export status")
	}

	s.async(func() { s.runTransactionsExport(context.Background(), status, selected, filter) })
	return status.Key, nil
}

func (s *TransactionExportService) runTransactionsExport(ctx context.Context, status *ExportStatus, selected []string, filter repository.TransactionsFilter) {
	logger := s.log.WithFields(logrus.Fields{"export_id": status.Key, "tenant_id": status.TenantID})

	fail := func(msg string) {
		logger.Error(msg)
		status.Error = &msg
		status.Progress = 100
		_ = saveExportStatus(ctx, s.cache, status)
		if s.ws != nil {
			_ = s.ws.NotifyExportFailed(ctx, status.TenantID, status.UserID, status.Key, msg)
		}
	}

	txs, err := s.repo.List(ctx, filter)
	if err != nil {
		fail(fmt.Sprintf("load transactions: %v", err))
		return
	}

	cols := make([]TransactionColumn, 0, len(selected))
	for _, key := range selected {
		cols = append(cols, transactionColumns[key])
	}

	f := excelize.NewFile()
	defer f.Close()
	sheet := "Transactions"
	_ = f.SetSheetName(f.GetSheetName(0), sheet)
	_ = f.SetDocProps(&excelize.DocProperties{Creator: fmt.Sprintf("tenant_%s_user_%d", status.TenantID, status.UserID)})

	for i, col := range cols {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(sheet, cell, col.Header)
	}

	total := len(txs)
	for i, t := range txs {
		for colIdx, col := range cols {
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, i+2)
			_ = f.SetCellValue(sheet, cell, col.Value(t))
		}

		if (i+1)%exportChunkSize == 0 || i == total-1 {
			progress := math.Round(float64(i+1) / float64(total) * 100.0)
			if progress >= 100 {
				progress = 95
			}
			status.Progress = progress
			_ = saveExportStatus(ctx, s.cache, status)
			if s.ws != nil {
				_ = s.ws.NotifyExportProgress(ctx, status.TenantID, status.UserID, status.Key, progress, "generating")
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		fail(fmt.Sprintf("write workbook: %v", err))
		return
	}

	fileName := fmt.Sprintf("transactions_%s.xlsx", time.Now().Format("20060102_150405"))
	savedName, err := s.files.Save(ctx, fileName, buf.Bytes())
	if err != nil {
		fail(fmt.Sprintf("save export failed: %v", err))
		return
	}

	url := s.files.GetURL(savedName)
	status.FileURL = &url
	status.Progress = 100
	_ = saveExportStatus(ctx, s.cache, status)
	if s.ws != nil {
		_ = s.ws.NotifyExportProgress(ctx, status.TenantID, status.UserID, status.Key, 100, "ready")
		_ = s.ws.NotifyExportComplete(ctx, status.TenantID, status.UserID, status.Key, url, fileName)
	}
	logger.WithField("rows", total).Info("transactions export ready")
}

func buildTransactionsFiltersMap(f repository.TransactionsFilter, fields []string) map[string]any {
	m := map[string]any{
		"payment_id":   nil,
		"student_id":   nil,
		"payment_mode": nil,
		"from":         nil,
		"to":           nil,
		"fields":       fields,
	}
	if f.LedgerID != nil {
		m["payment_id"] = *f.LedgerID
	}
	if f.StudentID != nil {
		m["student_id"] = *f.StudentID
	}
	if f.PaymentMode != nil {
		m["payment_mode"] = *f.PaymentMode
	}
	if f.From != nil {
		m["from"] = f.From.Format("2006-01-02")
	}
	if f.To != nil {
		m["to"] = f.To.Format("2006-01-02")
	}
	return m
}
