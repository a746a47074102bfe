package handler

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/webhook-gate/internal/domain"
)

// DashboardService Описываем, что нам нужно от сервиса
type DashboardService interface {
	GetGateStats(ctx context.Context, window time.Duration) (*domain.GateStats, error)
}

type DashboardHandler struct {
	service DashboardService
	logger  *zap.Logger
}

func NewDashboardHandler(s DashboardService, logger *zap.Logger) *DashboardHandler {
	return &DashboardHandler{service: s, logger: logger}
}

// GetStats: GET /v1/dashboard/stats?window=1h
func (h *DashboardHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	var window time.Duration
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "window must be a positive duration")
			return
		}
		window = d
	}

	stats, err := h.service.GetGateStats(r.Context(), window)
	if err != nil {
		h.logger.Error("gate stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
