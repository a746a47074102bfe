package postgres

/*
policy_repo.go хранит политики соответствия репозиториев. Гейт читает их целиком
при старте и по сигналу из Redis, консоль меняет точечно.
*/

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xela07ax/webhook-gate/internal/domain"
)

const policyColumns = `id, repository, required_rule_satisfaction, max_defect_density, min_completeness, enabled_actions, created_at, updated_at`

type PolicyRepo struct {
	db *sql.DB
}

func NewPolicyRepo(db *sql.DB) *PolicyRepo {
	return &PolicyRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPolicy(row rowScanner) (domain.RepoPolicy, error) {
	var (
		p       domain.RepoPolicy
		actions []byte
	)
	if err := row.Scan(&p.ID, &p.Repository, &p.RequiredRuleSatisfaction, &p.MaxDefectDensity,
		&p.MinCompleteness, &actions, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return p, err
	}
	if len(actions) > 0 {
		if err := json.Unmarshal(actions, &p.EnabledActions); err != nil {
			return p, fmt.Errorf("decode enabled_actions: %w", err)
		}
	}
	return p, nil
}

func encodeActions(actions []string) ([]byte, error) {
	if actions == nil {
		actions = []string{}
	}
	return json.Marshal(actions)
}

// GetPolicyByID возвращает nil, nil, если политики нет: хендлер отдаст 404.
func (r *PolicyRepo) GetPolicyByID(ctx context.Context, id string) (*domain.RepoPolicy, error) {
	p, err := scanPolicy(r.db.QueryRowContext(ctx,
		`SELECT `+policyColumns+` FROM repo_policies WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: get policy: %w", err)
	}
	return &p, nil
}

// GetAllPolicies: холодная загрузка всего набора для кэша гейта.
func (r *PolicyRepo) GetAllPolicies(ctx context.Context) ([]domain.RepoPolicy, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+policyColumns+` FROM repo_policies ORDER BY repository`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list policies: %w", err)
	}
	defer rows.Close()

	var out []domain.RepoPolicy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan policy: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CreatePolicy создает запись. repository = '*' задает глобальную политику.
func (r *PolicyRepo) CreatePolicy(ctx context.Context, p *domain.RepoPolicy) error {
	actions, err := encodeActions(p.EnabledActions)
	if err != nil {
		return err
	}
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO repo_policies (id, repository, required_rule_satisfaction, max_defect_density, min_completeness, enabled_actions)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`,
		p.Repository, p.RequiredRuleSatisfaction, p.MaxDefectDensity, p.MinCompleteness, actions,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: failed to create policy: %w", err)
	}
	return nil
}

// UpdatePolicy меняет пороги и список действий.
func (r *PolicyRepo) UpdatePolicy(ctx context.Context, p *domain.RepoPolicy) error {
	actions, err := encodeActions(p.EnabledActions)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE repo_policies
		SET required_rule_satisfaction = $1, max_defect_density = $2, min_completeness = $3,
			enabled_actions = $4, updated_at = NOW()
		WHERE id = $5`,
		p.RequiredRuleSatisfaction, p.MaxDefectDensity, p.MinCompleteness, actions, p.ID,
	)
	if err != nil {
		return fmt.Errorf("postgres: failed to update policy: %w", err)
	}
	return expectAffected(res, "policy "+p.ID)
}

// DeletePolicy удаляет политику по ID.
func (r *PolicyRepo) DeletePolicy(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM repo_policies WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: failed to delete policy: %w", err)
	}
	return expectAffected(res, "policy "+id)
}

func expectAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return nil
}
