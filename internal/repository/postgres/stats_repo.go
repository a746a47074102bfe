package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/xela07ax/webhook-gate/internal/domain"
)

// GetGateStats собирает сводку по журналу аудита за последнее окно.
func (r *AuditRepo) GetGateStats(ctx context.Context, window time.Duration) (*domain.GateStats, error) {
	s := &domain.GateStats{Window: window}

	// PERCENTILE_CONT дает честный P95 по длительности попыток действий
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE kind = 'VERDICT'),
			COUNT(*) FILTER (WHERE kind = 'VERDICT' AND status = 'ADMITTED'),
			COUNT(*) FILTER (WHERE kind = 'VERDICT' AND status = 'REJECTED'),
			COUNT(*) FILTER (WHERE kind = 'SECURITY'),
			COUNT(*) FILTER (WHERE kind = 'ACTION' AND status = 'FAILED'),
			COALESCE(PERCENTILE_CONT(0.95) WITHIN GROUP (ORDER BY duration_ms) FILTER (WHERE kind = 'ACTION'), 0)
		FROM audit_logs
		WHERE timestamp > $1`, time.Now().Add(-window)).Scan(
		&s.Deliveries, &s.Admitted, &s.Rejected, &s.SecurityEvents, &s.ActionFailures, &s.P95ActionMs,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: gate stats: %w", err)
	}

	if s.Deliveries > 0 {
		s.AdmissionRate = float64(s.Admitted) / float64(s.Deliveries) * 100
	}
	return s, nil
}
