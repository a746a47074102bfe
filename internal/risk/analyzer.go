// Package risk классифицирует допущенное событие и оценивает его приоритет.
package risk

import (
	"strings"

	"go.uber.org/zap"

	"github.com/xela07ax/webhook-gate/internal/domain"
)

// Типы событий после классификации.
const (
	TypeIssue       = "issue"
	TypePullRequest = "pull_request"
	TypePush        = "push"
	TypeOther       = "other"
)

// Подтипы.
const (
	SubtypeBug           = "bug"
	SubtypeFeature       = "feature"
	SubtypeQuestion      = "question"
	SubtypeDocumentation = "documentation"
	SubtypeGeneral       = "general"

	SubtypeNewChange = "new-change"
	SubtypeUpdate    = "update"
	SubtypeClosed    = "closed"
	SubtypeActivity  = "activity"
	SubtypeCommit    = "commit"
)

type keywordRule struct {
	keywords []string
	value    string
}

// Порядок правил важен: побеждает первое совпадение.
var (
	urgencyRules = []keywordRule{
		{[]string{"critical", "urgent", "security", "outage"}, string(domain.UrgencyCritical)},
		{[]string{"important", "asap", "regression"}, string(domain.UrgencyHigh)},
		{[]string{"minor", "typo", "docs"}, string(domain.UrgencyLow)},
	}
	subtypeRules = []keywordRule{
		{[]string{"bug", "crash", "error"}, SubtypeBug},
		{[]string{"feature", "enhancement"}, SubtypeFeature},
		{[]string{"question", "how to"}, SubtypeQuestion},
		{[]string{"doc"}, SubtypeDocumentation},
	}
	highImpact = []string{"security", "outage"}
)

var urgencyPoints = map[domain.Urgency]int{
	domain.UrgencyCritical: 40,
	domain.UrgencyHigh:     30,
	domain.UrgencyMedium:   20,
	domain.UrgencyLow:      10,
}

type Analyzer struct {
	logger *zap.Logger
}

func NewAnalyzer(logger *zap.Logger) *Analyzer {
	return &Analyzer{logger: logger.Named("analyzer")}
}

// text: все свободные поля события в нижнем регистре.
func text(e domain.WebhookEvent) string {
	parts := append([]string{e.Title, e.Body}, e.Labels...)
	return strings.ToLower(strings.Join(parts, "\n"))
}

func match(s string, rules []keywordRule) (string, bool) {
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(s, kw) {
				return r.value, true
			}
		}
	}
	return "", false
}

// Classify сопоставляет метаданные и текст события с ключевыми словами.
func (a *Analyzer) Classify(e domain.WebhookEvent) domain.EventClassification {
	t := text(e)

	c := domain.EventClassification{Urgency: domain.UrgencyMedium}
	if u, ok := match(t, urgencyRules); ok {
		c.Urgency = domain.Urgency(u)
	}

	switch e.Type {
	case "issues", "issue_comment":
		c.Type = TypeIssue
		c.Subtype = SubtypeGeneral
		if s, ok := match(t, subtypeRules); ok {
			c.Subtype = s
		}
	case "pull_request", "pull_request_review", "pull_request_review_comment":
		c.Type = TypePullRequest
		c.Subtype = pullRequestSubtype(e.Action)
	case "push":
		c.Type = TypePush
		c.Subtype = SubtypeCommit
	default:
		c.Type = TypeOther
		c.Subtype = e.Type
	}

	a.logger.Debug("event classified",
		zap.String("event_id", e.ID),
		zap.String("type", c.Type),
		zap.String("subtype", c.Subtype),
		zap.String("urgency", string(c.Urgency)),
	)
	return c
}

func pullRequestSubtype(action string) string {
	switch action {
	case "opened", "reopened", "ready_for_review":
		return SubtypeNewChange
	case "synchronize", "edited":
		return SubtypeUpdate
	case "closed":
		return SubtypeClosed
	default:
		return SubtypeActivity
	}
}

// Priority: сумма трех независимых осей: срочность, сложность, влияние.
func (a *Analyzer) Priority(e domain.WebhookEvent, c domain.EventClassification) domain.PriorityBreakdown {
	p := domain.PriorityBreakdown{
		Urgency:    urgencyPoints[c.Urgency],
		Complexity: complexity(e, c),
		Impact:     impact(text(e), c),
	}
	if p.Urgency == 0 {
		p.Urgency = urgencyPoints[domain.UrgencyMedium]
	}
	p.Total = p.Urgency + p.Complexity + p.Impact
	return p
}

func complexity(e domain.WebhookEvent, c domain.EventClassification) int {
	if c.Type != TypePullRequest {
		return 10
	}
	switch n := e.ChangedFiles; {
	case n <= 3:
		return 5
	case n <= 10:
		return 15
	case n <= 30:
		return 25
	default:
		return 35
	}
}

func impact(t string, c domain.EventClassification) int {
	for _, kw := range highImpact {
		if strings.Contains(t, kw) {
			return 25
		}
	}
	switch c.Subtype {
	case SubtypeBug:
		return 15
	case SubtypeFeature:
		return 10
	default:
		return 5
	}
}
