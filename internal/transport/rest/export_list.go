package rest

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type ExportListService interface {
	GetExports(ctx context.Context, tenantID string, userID int64) ([]map[string]any, error)
	GetExport(ctx context.Context, tenantID, exportID string, userID int64) (map[string]any, error)
}

func (h *Handler) listExports(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, ok := identity(w, r)
	if !ok {
		return
	}

	exports, err := h.exportList.GetExports(r.Context(), tenantID, userID)
	if err != nil {
		h.logger(r).WithError(err).Error("list exports")
		ErrorInternal(w, "failed to get exports")
		return
	}

	Success(w, "", exports)
}

func (h *Handler) getExport(w http.ResponseWriter, r *http.Request) {
	tenantID, userID, ok := identity(w, r)
	if !ok {
		return
	}

	exportIDParam := chi.URLParam(r, "export_id")
	if exportIDParam == "" {
		ErrorBadRequest(w, "export_id is required")
		return
	}

	export, err := h.exportList.GetExport(r.Context(), tenantID, "exports:"+exportIDParam, userID)
	if err != nil {
		ErrorFrom(w, h.logger(r), err)
		return
	}

	Success(w, "", export)
}
