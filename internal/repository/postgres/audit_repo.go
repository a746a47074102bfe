package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xela07ax/webhook-gate/internal/audit"
)

// auditColumns: порядок колонок audit_logs при пакетной вставке.
var auditColumns = []string{
	"id", "trace_id", "run_id", "delivery_id", "repository", "sender",
	"kind", "category", "status", "reason", "attempts", "details", "duration_ms", "timestamp",
}

type AuditRepo struct {
	db *sql.DB
}

func NewAuditRepo(db *sql.DB) *AuditRepo {
	return &AuditRepo{db: db}
}

// WriteBatch пишет пачку событий одним INSERT.
func (r *AuditRepo) WriteBatch(ctx context.Context, events []audit.Event) error {
	if len(events) == 0 {
		return nil
	}

	n := len(auditColumns)
	var sb strings.Builder
	vals := make([]any, 0, len(events)*n)

	// Динамически строим VALUES ($1, ..., $14), (...)
	for i, e := range events {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for j := 0; j < n; j++ {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", i*n+j+1)
		}
		sb.WriteByte(')')

		details, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("postgres: marshal audit details: %w", err)
		}
		vals = append(vals,
			e.ID, e.TraceID, e.RunID, e.DeliveryID, e.Repository, e.Sender,
			string(e.Kind), e.Category, e.Status, e.Reason, e.Attempts, details, e.DurationMs, e.Timestamp,
		)
	}

	query := fmt.Sprintf("INSERT INTO audit_logs (%s) VALUES %s", strings.Join(auditColumns, ", "), sb.String())
	if _, err := r.db.ExecContext(ctx, query, vals...); err != nil {
		return fmt.Errorf("postgres: write audit batch: %w", err)
	}
	return nil
}

// FetchLogs возвращает события журнала, новые сверху.
func (r *AuditRepo) FetchLogs(ctx context.Context, f audit.Filter) ([]audit.Event, error) {
	f = f.Normalize()

	var (
		where []string
		args  []any
	)
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		where = append(where, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("repository", f.Repository)
	add("delivery_id", f.DeliveryID)
	add("run_id", f.RunID)
	add("kind", string(f.Kind))
	add("status", f.Status)

	query := "SELECT " + strings.Join(auditColumns, ", ") + " FROM audit_logs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit)
	query += fmt.Sprintf(" ORDER BY timestamp DESC LIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: fetch audit logs: %w", err)
	}
	defer rows.Close()

	var out []audit.Event
	for rows.Next() {
		var (
			e       audit.Event
			kind    string
			details []byte
		)
		if err := rows.Scan(
			&e.ID, &e.TraceID, &e.RunID, &e.DeliveryID, &e.Repository, &e.Sender,
			&kind, &e.Category, &e.Status, &e.Reason, &e.Attempts, &details, &e.DurationMs, &e.Timestamp,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan audit event: %w", err)
		}
		e.Kind = audit.Kind(kind)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, fmt.Errorf("postgres: decode audit details: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
