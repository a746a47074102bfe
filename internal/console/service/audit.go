package service

import (
	"context"
	"fmt"
	"time"

	"github.com/xela07ax/webhook-gate/internal/audit"
	"github.com/xela07ax/webhook-gate/internal/domain"
)

// AuditLogProvider: чтение журнала аудита и сводок по нему.
type AuditLogProvider interface {
	FetchLogs(ctx context.Context, f audit.Filter) ([]audit.Event, error)
	GetGateStats(ctx context.Context, window time.Duration) (*domain.GateStats, error)
}

// DefaultStatsWindow: окно дашборда, если клиент его не задал.
const DefaultStatsWindow = time.Hour

type AuditService struct {
	repo AuditLogProvider
}

func NewAuditService(repo AuditLogProvider) *AuditService {
	return &AuditService{repo: repo}
}

// FetchLogs отдает события журнала по фильтру. Лимит нормализуется здесь.
func (s *AuditService) FetchLogs(ctx context.Context, f audit.Filter) ([]audit.Event, error) {
	logs, err := s.repo.FetchLogs(ctx, f.Normalize())
	if err != nil {
		return nil, fmt.Errorf("audit_service: failed to fetch logs: %w", err)
	}
	if logs == nil {
		logs = []audit.Event{}
	}
	return logs, nil
}

// GetGateStats: сводка для дашборда за окно (по умолчанию час).
func (s *AuditService) GetGateStats(ctx context.Context, window time.Duration) (*domain.GateStats, error) {
	if window <= 0 {
		window = DefaultStatsWindow
	}
	stats, err := s.repo.GetGateStats(ctx, window)
	if err != nil {
		return nil, fmt.Errorf("audit_service: failed to build stats: %w", err)
	}
	return stats, nil
}
