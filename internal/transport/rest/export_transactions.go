package rest

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"academy-ledger/internal/repository"
	"academy-ledger/internal/transport/auth"
)

func (h *Handler) exportTransactions(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, ok := identity(w, r)
	if !ok {
		return
	}

	req, err := ValidateTransactionsExportRequest(r)
	if err != nil {
		ErrorBadRequest(w, err.Error())
		return
	}

	exportID, err := h.exports.StartTransactionsExport(r.Context(), req.Fields, req.ToRepositoryFilter(tenantID), userID)
	if err != nil {
		ErrorFrom(w, h.logger(r), err)
		return
	}

	SuccessAccepted(w, "Export queued", map[string]any{"export_id": exportID})
}

type TransactionsExportRequest struct {
	Fields      []string
	PaymentID   *string
	StudentID   *string
	PaymentMode *string
	From        *time.Time
	To          *time.Time
}

type rawTransactionsExportRequest struct {
	Fields      []string `json:"fields"`
	PaymentID   any      `json:"paymentId"`
	StudentID   any      `json:"studentId"`
	PaymentMode any      `json:"paymentMode"`
	From        any      `json:"from"`
	To          any      `json:"to"`
}

// ValidateTransactionsExportRequest parses the export filter. Empty values
// mean "no filter"; dates are YYYY-MM-DD.
func ValidateTransactionsExportRequest(r *http.Request) (*TransactionsExportRequest, error) {
	var raw rawTransactionsExportRequest
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return nil, &ValidationError{Message: "invalid JSON"}
	}

	paymentID, err := toStringPtr(raw.PaymentID)
	if err != nil {
		return nil, &ValidationError{Field: "paymentId", Message: "paymentId must be string or empty"}
	}
	studentID, err := toStringPtr(raw.StudentID)
	if err != nil {
		return nil, &ValidationError{Field: "studentId", Message: "studentId must be string or empty"}
	}
	mode, err := toStringPtr(raw.PaymentMode)
	if err != nil {
		return nil, &ValidationError{Field: "paymentMode", Message: "paymentMode must be string or empty"}
	}
	from, err := toDatePtr(raw.From)
	if err != nil {
		return nil, &ValidationError{Field: "from", Message: "from must be YYYY-MM-DD or empty"}
	}
	to, err := toDatePtr(raw.To)
	if err != nil {
		return nil, &ValidationError{Field: "to", Message: "to must be YYYY-MM-DD or empty"}
	}
	if from != nil && to != nil && to.Before(*from) {
		return nil, &ValidationError{Field: "to", Message: "to must not be before from"}
	}

	return &TransactionsExportRequest{
		Fields:      raw.Fields,
		PaymentID:   paymentID,
		StudentID:   studentID,
		PaymentMode: mode,
		From:        from,
		To:          to,
	}, nil
}

func (r *TransactionsExportRequest) ToRepositoryFilter(tenantID string) repository.TransactionsFilter {
	f := repository.TransactionsFilter{
		TenantID:    tenantID,
		LedgerID:    r.PaymentID,
		StudentID:   r.StudentID,
		PaymentMode: r.PaymentMode,
		From:        r.From,
	}
	if r.To != nil {
		// inclusive of the whole day
		end := r.To.AddDate(0, 0, 1).Add(-time.Nanosecond)
		f.To = &end
	}
	return f
}

func identity(w http.ResponseWriter, r *http.Request) (string, int64, bool) {
	tenantID, err := auth.GetTenantID(r.Context())
	if err != nil {
		ErrorUnauthorized(w, "Unauthorized")
		return "", 0, false
	}
	userID, err := auth.GetUserID(r.Context())
	if err != nil {
		ErrorUnauthorized(w, "Unauthorized")
		return "", 0, false
	}
	return tenantID, userID, true
}
