package domain

import (
	"time"
)

// Пороги по умолчанию, если для репозитория не задана собственная политика.
const (
	DefaultRequiredRuleSatisfaction = 95.0
	DefaultMaxDefectDensity         = 1.0
	DefaultMinCompleteness          = 80.0
)

// RepoPolicy: политика соответствия для конкретного репозитория.
// Хранится в Postgres, в рантайме гейт читает только кэш в памяти.
type RepoPolicy struct {
	ID         string `json:"id"`
	Repository string `json:"repository"` // "owner/name" или "*" для глобальной политики

	RequiredRuleSatisfaction float64 `json:"required_rule_satisfaction"` // %, по умолчанию 95
	MaxDefectDensity         float64 `json:"max_defect_density"`         // маркеров на 1000 строк, строго меньше
	MinCompleteness          float64 `json:"min_completeness"`           // %, по умолчанию 80

	// Какие действия разрешено выполнять в репозитории. Пустой список — все зарегистрированные.
	EnabledActions []string `json:"enabled_actions,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultRepoPolicy возвращает политику, применяемую когда конфигурация не найдена.
func DefaultRepoPolicy(repo string) RepoPolicy {
	return RepoPolicy{
		Repository:               repo,
		RequiredRuleSatisfaction: DefaultRequiredRuleSatisfaction,
		MaxDefectDensity:         DefaultMaxDefectDensity,
		MinCompleteness:          DefaultMinCompleteness,
	}
}

// Normalize гарантирует валидные пороги даже для частично заполненной записи (Zero Trust).
func (p RepoPolicy) Normalize() RepoPolicy {
	if p.RequiredRuleSatisfaction <= 0 || p.RequiredRuleSatisfaction > 100 {
		p.RequiredRuleSatisfaction = DefaultRequiredRuleSatisfaction
	}
	if p.MaxDefectDensity <= 0 {
		p.MaxDefectDensity = DefaultMaxDefectDensity
	}
	if p.MinCompleteness <= 0 || p.MinCompleteness > 100 {
		p.MinCompleteness = DefaultMinCompleteness
	}
	return p
}

// ActionEnabled проверяет, разрешено ли действие политикой репозитория.
func (p RepoPolicy) ActionEnabled(name string) bool {
	if len(p.EnabledActions) == 0 {
		return true
	}
	for _, a := range p.EnabledActions {
		if a == name {
			return true
		}
	}
	return false
}
