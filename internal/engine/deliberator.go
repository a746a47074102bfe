package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/xela07ax/webhook-gate/internal/connectors"
	"github.com/xela07ax/webhook-gate/internal/domain"
	"github.com/xela07ax/webhook-gate/internal/risk"
)

// Штраф за стратегию, часть действий которой не зарегистрирована.
const unregisteredPenalty = 0.2

type candidate struct {
	name        string
	actions     []string
	feasibility float64
	// needsNumber: стратегия работает только с конкретным issue/PR
	needsNumber bool
	rationale   string
	// boost: поправка к базовой выполнимости для конкретного события
	boost func(e domain.WebhookEvent, c domain.EventClassification) float64
}

var (
	issueStrategies = []candidate{
		{
			name:        "label-triage",
			actions:     []string{connectors.ActionClassifyIssue, connectors.ActionAddLabels},
			feasibility: 0.85,
			needsNumber: true,
			rationale:   "classify and label the issue so maintainers can route it",
		},
		{
			name:        "full-triage",
			actions:     []string{connectors.ActionClassifyIssue, connectors.ActionAddLabels, connectors.ActionPostReviewComment},
			feasibility: 0.75,
			needsNumber: true,
			rationale:   "label the issue and post a triage summary for urgent reports",
			boost: func(_ domain.WebhookEvent, c domain.EventClassification) float64 {
				if c.Urgency == domain.UrgencyCritical || c.Urgency == domain.UrgencyHigh {
					return 0.2
				}
				return 0
			},
		},
		{
			name:        "acknowledge",
			actions:     []string{connectors.ActionPostReviewComment},
			feasibility: 0.6,
			needsNumber: true,
			rationale:   "acknowledge the report with a summary comment",
		},
	}

	pullRequestStrategies = []candidate{
		{
			name:        "automated-review",
			actions:     []string{connectors.ActionPostReviewComment, connectors.ActionAddLabels},
			feasibility: 0.8,
			needsNumber: true,
			rationale:   "post a review summary and label the change by priority",
		},
		{
			name:        "request-review",
			actions:     []string{connectors.ActionRequestReviewers, connectors.ActionAddLabels},
			feasibility: 0.7,
			needsNumber: true,
			rationale:   "large changes need a human reviewer",
			boost: func(e domain.WebhookEvent, _ domain.EventClassification) float64 {
				if e.ChangedFiles > 10 {
					return 0.2
				}
				return 0
			},
		},
		{
			name:        "label-only",
			actions:     []string{connectors.ActionAddLabels},
			feasibility: 0.5,
			needsNumber: true,
			rationale:   "minimal footprint: label by priority only",
		},
	}

	genericStrategies = []candidate{
		{
			name:        "record",
			actions:     []string{connectors.ActionRecordEvent},
			feasibility: 0.9,
			rationale:   "no issue or pull request to act on, record the event",
		},
		{
			name:        "acknowledge",
			actions:     []string{connectors.ActionPostReviewComment},
			feasibility: 0.4,
			needsNumber: true,
			rationale:   "comment on the related issue or pull request",
		},
	}
)

// ActionCatalog сообщает, какие действия реально зарегистрированы.
type ActionCatalog interface {
	Has(name string) bool
}

// Deliberator: Stage 2: классификация, приоритет и выбор стратегии.
type Deliberator struct {
	analyzer *risk.Analyzer
	actions  ActionCatalog
	logger   *zap.Logger
}

func NewDeliberator(analyzer *risk.Analyzer, actions ActionCatalog, logger *zap.Logger) *Deliberator {
	return &Deliberator{
		analyzer: analyzer,
		actions:  actions,
		logger:   logger.With(zap.String("mod", "deliberator")),
	}
}

func catalogFor(c domain.EventClassification) []candidate {
	switch c.Type {
	case risk.TypeIssue:
		return issueStrategies
	case risk.TypePullRequest:
		return pullRequestStrategies
	default:
		return genericStrategies
	}
}

// Deliberate строит план. Побеждает стратегия с наибольшей выполнимостью,
// при равенстве — первая по каталогу. Остальные сохраняются как альтернативы.
func (d *Deliberator) Deliberate(_ context.Context, e domain.WebhookEvent) domain.ActionPlan {
	c := d.analyzer.Classify(e)
	p := d.analyzer.Priority(e, c)

	catalog := catalogFor(c)
	scored := make([]domain.Strategy, 0, len(catalog))
	for _, cand := range catalog {
		scored = append(scored, d.score(cand, e, c))
	}
	// SliceStable сохраняет порядок каталога при равной выполнимости
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Feasibility > scored[j].Feasibility })

	chosen := scored[0]
	plan := domain.ActionPlan{
		Classification: c,
		Priority:       p,
		Strategy:       chosen.Name,
		Actions:        append([]string(nil), chosen.Actions...),
		Rationale:      chosen.Rationale,
		Alternatives:   scored[1:],
	}

	d.logger.Info("plan selected",
		zap.String("event_id", e.ID),
		zap.String("strategy", plan.Strategy),
		zap.Strings("actions", plan.Actions),
		zap.Int("priority", p.Total),
		zap.Float64("feasibility", chosen.Feasibility),
	)
	return plan
}

func (d *Deliberator) score(cand candidate, e domain.WebhookEvent, c domain.EventClassification) domain.Strategy {
	f := cand.feasibility
	reasons := []string{cand.rationale}

	if cand.boost != nil {
		if b := cand.boost(e, c); b != 0 {
			f += b
			reasons = append(reasons, fmt.Sprintf("adjusted %+.1f for this event", b))
		}
	}
	if cand.needsNumber && !e.HasNumber() {
		f = 0.1
		reasons = append(reasons, "event has no issue or pull request number")
	}

	var missing []string
	if d.actions != nil {
		for _, a := range cand.actions {
			if !d.actions.Has(a) {
				missing = append(missing, a)
			}
		}
	}
	if len(missing) > 0 {
		f -= unregisteredPenalty
		reasons = append(reasons, "unregistered actions: "+strings.Join(missing, ", "))
	}

	return domain.Strategy{
		Name:        cand.name,
		Actions:     append([]string(nil), cand.actions...),
		Feasibility: clamp01(f),
		Rationale:   strings.Join(reasons, "; "),
	}
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		// до сотых
		return float64(int(f*100+0.5)) / 100
	}
}
