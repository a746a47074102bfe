package handler

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/xela07ax/webhook-gate/internal/audit"
)

type AuditReader interface {
	FetchLogs(ctx context.Context, f audit.Filter) ([]audit.Event, error)
}

type AuditHandler struct {
	service AuditReader
	logger  *zap.Logger
}

func NewAuditHandler(s AuditReader, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{service: s, logger: logger}
}

// GetLogs: GET /v1/audit?repository=&delivery_id=&run_id=&kind=&status=&limit=
func (h *AuditHandler) GetLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := audit.Filter{
		Repository: q.Get("repository"),
		DeliveryID: q.Get("delivery_id"),
		RunID:      q.Get("run_id"),
		Kind:       audit.Kind(q.Get("kind")),
		Status:     q.Get("status"),
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}

	logs, err := h.service.FetchLogs(r.Context(), f)
	if err != nil {
		h.logger.Error("fetch audit logs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch audit logs")
		return
	}
	writeJSON(w, http.StatusOK, logs)
}
