package rest

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"academy-ledger/internal/service"
)

const idempotencyHeader = "Idempotency-Key"

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := identity(w, r)
	if !ok {
		return
	}

	var body PaymentRequestBody
	if err := decodeAndValidate(r, &body); err != nil {
		ErrorBadRequest(w, err.Error())
		return
	}

	h.idempotent(w, r, tenantID, "payments", func() (*service.PaymentResult, error) {
		return h.payments.RecordPayment(r.Context(), tenantID, body.ToServiceRequest())
	})
}

func (h *Handler) createSubscription(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := identity(w, r)
	if !ok {
		return
	}

	var body SubscriptionRequestBody
	if err := decodeAndValidate(r, &body); err != nil {
		ErrorBadRequest(w, err.Error())
		return
	}

	h.idempotent(w, r, tenantID, "subscriptions", func() (*service.PaymentResult, error) {
		return h.payments.CreateSubscription(r.Context(), tenantID, body.ToServiceRequest())
	})
}

// idempotent runs a write once per Idempotency-Key. A repeated key replays
// the stored response; without a key the write simply runs.
func (h *Handler) idempotent(w http.ResponseWriter, r *http.Request, tenantID, scope string, run func() (*service.PaymentResult, error)) {
	log := h.logger(r)
	key := strings.TrimSpace(r.Header.Get(idempotencyHeader))

	if key == "" || h.idem == nil {
		res, err := run()
		if err != nil {
			ErrorFrom(w, log, err)
			return
		}
		SuccessCreated(w, "Payment recorded", res)
		return
	}

	cached, replay, err := h.idem.Begin(r.Context(), tenantID, scope, key)
	if err != nil {
		ErrorFrom(w, log, err)
		return
	}
	if replay {
		w.Header().Set("Idempotent-Replayed", "true")
		writeBody(w, http.StatusCreated, cached)
		return
	}

	res, err := run()
	if err != nil {
		if aerr := h.idem.Abort(r.Context(), tenantID, scope, key); aerr != nil {
			log.WithError(aerr).Warn("failed to release idempotency key")
		}
		ErrorFrom(w, log, err)
		return
	}

	body, err := json.Marshal(APIResponse{Status: "success", Message: "Payment recorded", Data: res})
	if err != nil {
		ErrorFrom(w, log, err)
		return
	}
	if err := h.idem.Complete(r.Context(), tenantID, scope, key, body); err != nil {
		log.WithError(err).Warn("failed to store idempotent response")
	}
	writeBody(w, http.StatusCreated, body)
}

func (h *Handler) paymentHistory(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := identity(w, r)
	if !ok {
		return
	}

	q := service.HistoryQuery{
		PaymentID: strings.TrimSpace(r.URL.Query().Get("paymentId")),
		StudentID: strings.TrimSpace(r.URL.Query().Get("studentId")),
	}
	txs, err := h.payments.GetPaymentHistory(r.Context(), tenantID, q)
	if err != nil {
		ErrorFrom(w, h.logger(r), err)
		return
	}

	Success(w, "", txs)
}

func (h *Handler) getLedger(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := identity(w, r)
	if !ok {
		return
	}

	l, err := h.payments.GetLedger(r.Context(), tenantID, chi.URLParam(r, "studentId"))
	if err != nil {
		ErrorFrom(w, h.logger(r), err)
		return
	}

	Success(w, "", l)
}
