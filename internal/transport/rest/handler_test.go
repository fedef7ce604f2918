package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"academy-ledger/internal/domain"
	"academy-ledger/internal/repository"
	"academy-ledger/internal/service"
	"academy-ledger/internal/transport/auth"
)

type fakePayments struct {
	calls   int
	err     error
	lastReq service.PaymentRequest
	lastSub service.SubscriptionRequest
	history service.HistoryQuery
}

func (f *fakePayments) RecordPayment(_ context.Context, tenantID string, req service.PaymentRequest) (*service.PaymentResult, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &service.PaymentResult{
		Ledger:        domain.Ledger{ID: "ledger-1", TenantID: tenantID, StudentID: req.StudentID},
		InvoiceNumber: "INV-202403-0001",
	}, nil
}

func (f *fakePayments) CreateSubscription(_ context.Context, tenantID string, req service.SubscriptionRequest) (*service.PaymentResult, error) {
	f.calls++
	f.lastSub = req
	if f.err != nil {
		return nil, f.err
	}
	return &service.PaymentResult{InvoiceNumber: "INV-202403-0002"}, nil
}

func (f *fakePayments) GetPaymentHistory(_ context.Context, _ string, q service.HistoryQuery) ([]domain.Transaction, error) {
	f.history = q
	if f.err != nil {
		return nil, f.err
	}
	return []domain.Transaction{{ID: "tx-1"}}, nil
}

func (f *fakePayments) GetLedger(_ context.Context, tenantID, studentID string) (*domain.Ledger, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Ledger{ID: "ledger-1", TenantID: tenantID, StudentID: studentID}, nil
}

type fakeExporter struct {
	selected []string
	filter   repository.TransactionsFilter
	userID   int64
}

func (f *fakeExporter) StartTransactionsExport(_ context.Context, selected []string, filter repository.TransactionsFilter, userID int64) (string, error) {
	f.selected, f.filter, f.userID = selected, filter, userID
	return "exports:abc", nil
}

type fakeExportList struct {
	requested string
}

func (f *fakeExportList) GetExports(context.Context, string, int64) ([]map[string]any, error) {
	return []map[string]any{{"key": "exports:abc"}}, nil
}

func (f *fakeExportList) GetExport(_ context.Context, _ string, exportID string, _ int64) (map[string]any, error) {
	f.requested = exportID
	if exportID != "exports:abc" {
		return nil, domain.Errorf(domain.ErrExportNotFound, "export %s not found", exportID)
	}
	return map[string]any{"key": exportID}, nil
}

// memKV backs a real idempotency store in memory.
type memKV struct {
	mu   sync.Mutex
	vals map[string]string
}

func (m *memKV) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vals[key]; ok {
		return false, nil
	}
	m.vals[key] = value.(string)
	return true, nil
}

func (m *memKV) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vals[key] = value.(string)
	return nil
}

func (m *memKV) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.vals[key], nil
}

func (m *memKV) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.vals, k)
	}
	return nil
}

type testServer struct {
	router   *chi.Mux
	payments *fakePayments
	exporter *fakeExporter
	list     *fakeExportList
}

func newTestServer() *testServer {
	log := logrus.New()
	log.SetOutput(io.Discard)

	ts := &testServer{payments: &fakePayments{}, exporter: &fakeExporter{}, list: &fakeExportList{}}
	idem := service.NewIdempotencyStore(&memKV{vals: map[string]string{}}, time.Hour)
	h := NewHandler(ts.payments, ts.exporter, ts.list, idem, log)
	ts.router = h.InitRouterWithAuth(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), "tenant-1", 42)))
		})
	})
	return ts
}

func (ts *testServer) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestRecordPaymentHandler(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(http.MethodPost, "/payments/", `{"studentId":" s1 ","amount":"3000.50","paymentMode":"CASH","installmentNumber":2,"expectedVersion":4}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	resp := decode(t, rec)
	assert.Equal(t, "success", resp.Status)
	data := resp.Data.(map[string]any)
	assert.Equal(t, "INV-202403-0001", data["invoiceNumber"])

	req := ts.payments.lastReq
	assert.Equal(t, "s1", req.StudentID)
	assert.Equal(t, "3000.5", req.Amount.String())
	require.NotNil(t, req.InstallmentNumber)
	assert.Equal(t, 2, *req.InstallmentNumber)
	require.NotNil(t, req.ExpectedVersion)
	assert.Equal(t, int64(4), *req.ExpectedVersion)
}

func TestRecordPaymentHandlerValidation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		message string
	}{
		{name: "missing student", body: `{"amount":10,"paymentMode":"CASH"}`, message: "studentId is required"},
		{name: "blank mode", body: `{"studentId":"s1","amount":10,"paymentMode":"  "}`, message: "paymentMode is required"},
		{name: "zero installment", body: `{"studentId":"s1","amount":10,"paymentMode":"CASH","installmentNumber":0}`, message: "installmentNumber must be at least 1"},
		{name: "broken json", body: `{"studentId":`, message: "invalid JSON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer()
			rec := ts.do(http.MethodPost, "/payments/", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.message, decode(t, rec).Message)
			assert.Zero(t, ts.payments.calls)
		})
	}
}

func TestRecordPaymentHandlerErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{err: domain.Errorf(domain.ErrInvalidAmount, "payment amount must be greater than zero"), status: http.StatusBadRequest, code: "InvalidAmount"},
		{err: domain.Errorf(domain.ErrAmountExceedsBalance, "too much"), status: http.StatusBadRequest, code: "AmountExceedsBalance"},
		{err: domain.Errorf(domain.ErrStudentNotFound, "no student"), status: http.StatusNotFound, code: "StudentNotFound"},
		{err: domain.Errorf(domain.ErrStaleLedger, "stale"), status: http.StatusConflict, code: "StaleLedger"},
		{err: domain.Wrap(domain.ErrCounterUnavailable, errors.New("down"), "invoice counter unavailable"), status: http.StatusInternalServerError, code: "CounterUnavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			ts := newTestServer()
			ts.payments.err = tt.err
			rec := ts.do(http.MethodPost, "/payments/", `{"studentId":"s1","amount":10,"paymentMode":"CASH"}`)

			assert.Equal(t, tt.status, rec.Code)
			resp := decode(t, rec)
			assert.Equal(t, "error", resp.Status)
			assert.Equal(t, tt.status, resp.ErrorCode)
			assert.Equal(t, tt.code, resp.Data.(map[string]any)["code"])
		})
	}

	ts := newTestServer()
	ts.payments.err = errors.New("pq: connection refused")
	rec := ts.do(http.MethodPost, "/payments/", `{"studentId":"s1","amount":10,"paymentMode":"CASH"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal error", decode(t, rec).Message)
}

func TestRecordPaymentHandlerIdempotency(t *testing.T) {
	ts := newTestServer()
	body := `{"studentId":"s1","amount":10,"paymentMode":"CASH"}`

	first := ts.do(http.MethodPost, "/payments/", body, "Idempotency-Key", "retry-1")
	require.Equal(t, http.StatusCreated, first.Code)
	second := ts.do(http.MethodPost, "/payments/", body, "Idempotency-Key", "retry-1")
	require.Equal(t, http.StatusCreated, second.Code)

	assert.Equal(t, 1, ts.payments.calls)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	// a different scope does not share the key
	sub := ts.do(http.MethodPost, "/subscriptions", `{"studentId":"s1","paymentMode":"CASH","monthlyFee":100}`, "Idempotency-Key", "retry-1")
	assert.Equal(t, http.StatusCreated, sub.Code)
	assert.Equal(t, 2, ts.payments.calls)
}

func TestRecordPaymentHandlerFailedRunReleasesKey(t *testing.T) {
	ts := newTestServer()
	body := `{"studentId":"s1","amount":10,"paymentMode":"CASH"}`

	ts.payments.err = domain.Errorf(domain.ErrStaleLedger, "stale")
	rec := ts.do(http.MethodPost, "/payments/", body, "Idempotency-Key", "k")
	assert.Equal(t, http.StatusConflict, rec.Code)

	ts.payments.err = nil
	rec = ts.do(http.MethodPost, "/payments/", body, "Idempotency-Key", "k")
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Empty(t, rec.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, 2, ts.payments.calls)
}

func TestCreateSubscriptionHandler(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(http.MethodPost, "/subscriptions", `{"studentId":"s1","paymentMode":"UPI","withDiscounts":true,"monthlyFee":"1000","discountedMonthlyFee":"800","commitmentPeriod":6}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	sub := ts.payments.lastSub
	assert.True(t, sub.WithDiscounts)
	assert.Equal(t, "1000", sub.MonthlyFee.String())
	assert.Equal(t, "800", sub.DiscountedMonthlyFee.String())
	assert.Equal(t, 6, sub.CommitmentPeriod)
	assert.Equal(t, "s1", sub.StudentID)

	rec = ts.do(http.MethodPost, "/subscriptions", `{"studentId":"s1","paymentMode":"UPI","monthlyFee":"1000","commitmentPeriod":-1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "commitmentPeriod must be at least 0", decode(t, rec).Message)
}

func TestPaymentHistoryAndLedgerHandlers(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(http.MethodGet, "/payments/history?studentId=s1&paymentId=ledger-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, service.HistoryQuery{PaymentID: "ledger-1", StudentID: "s1"}, ts.payments.history)
	assert.Len(t, decode(t, rec).Data, 1)

	rec = ts.do(http.MethodGet, "/ledgers/s7", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := decode(t, rec).Data.(map[string]any)
	assert.Equal(t, "s7", data["studentId"])
	assert.Equal(t, "tenant-1", data["tenantId"])

	ts.payments.err = domain.Errorf(domain.ErrLedgerNotFound, "no ledger")
	rec = ts.do(http.MethodGet, "/ledgers/s8", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExportHandlers(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(http.MethodPost, "/export/transactions", `{"fields":["invoice_number"],"studentId":"s1","from":"2024-03-01","to":"2024-03-31"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, "exports:abc", decode(t, rec).Data.(map[string]any)["export_id"])
	assert.Equal(t, []string{"invoice_number"}, ts.exporter.selected)
	assert.Equal(t, int64(42), ts.exporter.userID)
	assert.Equal(t, "tenant-1", ts.exporter.filter.TenantID)
	require.NotNil(t, ts.exporter.filter.To)
	assert.Equal(t, "2024-03-31T23:59:59", ts.exporter.filter.To.Format("2006-01-02T15:04:05"))

	rec = ts.do(http.MethodPost, "/export/transactions", `{"from":"2024-03-10","to":"2024-03-01"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = ts.do(http.MethodPost, "/export/transactions", `{"from":"10.03.2024"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodGet, "/export/", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodGet, "/export/abc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "exports:abc", ts.list.requested)

	rec = ts.do(http.MethodGet, "/export/zzz", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlersRequireIdentity(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)
	router := NewHandler(&fakePayments{}, &fakeExporter{}, &fakeExportList{}, nil, log).InitRouter()

	for _, path := range []string{"/payments/history?studentId=s1", "/ledgers/s1", "/export/"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}
