package clients

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	ws "academy-ledger/internal/transport/websocket"
)

// PaymentEvent is what back-office sessions see when a payment lands.
type PaymentEvent struct {
	LedgerID      string          `json:"ledger_id"`
	StudentID     string          `json:"student_id"`
	TransactionID string          `json:"transaction_id"`
	InvoiceNumber string          `json:"invoice_number"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMode   string          `json:"payment_mode"`
	IsFullyPaid   bool            `json:"is_fully_paid"`
	InvoiceURL    string          `json:"invoice_url,omitempty"`
}

type WebSocketClient struct {
	hub *ws.Hub
}

func NewWebSocketClient(hub *ws.Hub) *WebSocketClient {
	return &WebSocketClient{hub: hub}
}

// NotifyPaymentRecorded reaches every open session of the tenant.
func (c *WebSocketClient) NotifyPaymentRecorded(ctx context.Context, tenantID string, ev PaymentEvent) error {
	if c.hub == nil {
		return nil
	}
	c.hub.Broadcast(tenantID, 0, &ws.Message{
		Type:    "payment_recorded",
		Channel: "ledger_payments#" + tenantID,
		Data:    ev,
	})
	return nil
}

func (c *WebSocketClient) NotifyExportProgress(ctx context.Context, tenantID string, userID int64, exportID string, progress float64, stage string) error {
	if c.hub == nil {
		return nil
	}
	data := map[string]any{
		"id":       exportID,
		"progress": progress,
	}
	if stage != "" {
		data["stage"] = stage
	}
	c.hub.Broadcast(tenantID, userID, &ws.Message{
		Type:    "export_progress",
		Channel: fmt.Sprintf("notify_user_of_progress_export#%d", userID),
		Data:    data,
	})
	return nil
}

func (c *WebSocketClient) NotifyExportComplete(ctx context.Context, tenantID string, userID int64, exportID, url, filename string) error {
	if c.hub == nil {
		return nil
	}
	c.hub.Broadcast(tenantID, userID, &ws.Message{
		Type:    "export_complete",
		Channel: fmt.Sprintf("notify_user_when_export_complete#%d", userID),
		Data: map[string]any{
			"id":       exportID,
			"url":      url,
			"filename": filename,
			"user_id":  userID,
		},
	})
	return nil
}

func (c *WebSocketClient) NotifyExportFailed(ctx context.Context, tenantID string, userID int64, exportID, errMsg string) error {
	if c.hub == nil {
		return nil
	}
	c.hub.Broadcast(tenantID, userID, &ws.Message{
		Type:    "export_failed",
		Channel: fmt.Sprintf("notify_user_when_export_failed#%d", userID),
		Data: map[string]any{
			"id":      exportID,
			"message": errMsg,
			"user_id": userID,
		},
	})
	return nil
}
