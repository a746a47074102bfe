package domain

import (
	"github.com/xela07ax/webhook-gate/internal/connectors"
	core "github.com/xela07ax/webhook-gate/internal/domain"
	"github.com/xela07ax/webhook-gate/internal/policy"
	"github.com/xela07ax/webhook-gate/internal/validate"
)

// PolicyRequest: тело POST/PUT /v1/policies.
type PolicyRequest struct {
	Repository               string   `json:"repository"`
	RequiredRuleSatisfaction float64  `json:"required_rule_satisfaction"`
	MaxDefectDensity         float64  `json:"max_defect_density"`
	MinCompleteness          float64  `json:"min_completeness"`
	EnabledActions           []string `json:"enabled_actions"`
}

// Validate возвращает все нарушения сразу, пустой список — запрос корректен.
func (r PolicyRequest) Validate() []string {
	var results []validate.Result

	if r.Repository != policy.WildcardRepository {
		results = append(results, validate.RepositoryFullName(r.Repository))
	}
	percent := validate.NumberOptions{Min: validate.Float(0), Max: validate.Float(100)}
	results = append(results,
		validate.Number("required_rule_satisfaction", r.RequiredRuleSatisfaction, percent),
		validate.Number("min_completeness", r.MinCompleteness, percent),
		validate.Number("max_defect_density", r.MaxDefectDensity, validate.NumberOptions{Positive: true}),
		validate.Array("enabled_actions", r.EnabledActions, validate.ArrayOptions{
			MaxItems: len(connectors.ActionNames),
			Item: func(field string, v any) validate.Result {
				return validate.Enum(field, v, connectors.ActionNames...)
			},
		}),
	)

	return validate.Merge(results...).Errors
}

// ToRepoPolicy переносит поля запроса в модель хранилища.
func (r PolicyRequest) ToRepoPolicy(id string) *core.RepoPolicy {
	return &core.RepoPolicy{
		ID:                       id,
		Repository:               r.Repository,
		RequiredRuleSatisfaction: r.RequiredRuleSatisfaction,
		MaxDefectDensity:         r.MaxDefectDensity,
		MinCompleteness:          r.MinCompleteness,
		EnabledActions:           r.EnabledActions,
	}
}
