package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"academy-ledger/internal/domain"
	"academy-ledger/internal/repository"
	"academy-ledger/internal/service"
)

type PaymentService interface {
	RecordPayment(ctx context.Context, tenantID string, req service.PaymentRequest) (*service.PaymentResult, error)
	CreateSubscription(ctx context.Context, tenantID string, req service.SubscriptionRequest) (*service.PaymentResult, error)
	GetPaymentHistory(ctx context.Context, tenantID string, q service.HistoryQuery) ([]domain.Transaction, error)
	GetLedger(ctx context.Context, tenantID, studentID string) (*domain.Ledger, error)
}

type TransactionExporter interface {
	StartTransactionsExport(ctx context.Context, selected []string, filter repository.TransactionsFilter, userID int64) (string, error)
}

type IdempotencyStore interface {
	Begin(ctx context.Context, tenantID, scope, key string) ([]byte, bool, error)
	Complete(ctx context.Context, tenantID, scope, key string, response []byte) error
	Abort(ctx context.Context, tenantID, scope, key string) error
}

type Handler struct {
	payments   PaymentService
	exports    TransactionExporter
	exportList ExportListService
	idem       IdempotencyStore
	log        *logrus.Logger
}

func NewHandler(payments PaymentService, exports TransactionExporter, exportList ExportListService, idem IdempotencyStore, log *logrus.Logger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{
		payments:   payments,
		exports:    exports,
		exportList: exportList,
		idem:       idem,
		log:        log,
	}
}

func (h *Handler) logger(r *http.Request) *logrus.Entry {
	return h.log.WithFields(logrus.Fields{
		"request_id": middleware.GetReqID(r.Context()),
		"path":       r.URL.Path,
	})
}

func (h *Handler) InitRouter() *chi.Mux {
	return h.InitRouterWithAuth(nil)
}

func (h *Handler) InitRouterWithAuth(authMiddleware func(http.Handler) http.Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
		middleware.Timeout(60*time.Second),
	)

	if authMiddleware != nil {
		r.Use(authMiddleware)
	}

	r.Route("/payments", func(r chi.Router) {
		r.Post("/", h.recordPayment)
		r.Get("/history", h.paymentHistory)
	})
	r.Get("/ledgers/{studentId}", h.getLedger)
	r.Post("/subscriptions", h.createSubscription)

	r.Route("/export", func(r chi.Router) {
		r.Get("/", h.listExports)
		r.Get("/{export_id}", h.getExport)
		r.Post("/transactions", h.exportTransactions)
	})

	return r
}
