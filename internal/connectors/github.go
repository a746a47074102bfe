package connectors

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/xela07ax/webhook-gate/internal/domain"
)

// Имена действий, которые понимает реестр.
const (
	ActionPostReviewComment = "post-review-comment"
	ActionAddLabels         = "add-labels"
	ActionClassifyIssue     = "classify-issue"
	ActionRequestReviewers  = "request-reviewers"
	ActionRecordEvent       = "record-event"
)

// ActionNames: все штатные действия. По нему консоль проверяет enabled_actions.
var ActionNames = []string{
	ActionPostReviewComment,
	ActionAddLabels,
	ActionClassifyIssue,
	ActionRequestReviewers,
	ActionRecordEvent,
}

// Ключи ExecutionContext.State, которые заполняет оркестратор до Stage 4.
const (
	StateClassification = "classification"
	StatePriority       = "priority"
	StateStrategy       = "strategy"
	StateLabels         = "labels"
	StateReviewers      = "reviewers"
)

// NewGitHubClient: клиент с токеном. baseURL задается только для GitHub Enterprise.
func NewGitHubClient(ctx context.Context, token, baseURL string) (*github.Client, error) {
	var hc *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		hc = oauth2.NewClient(ctx, ts)
	}
	client := github.NewClient(hc)
	if baseURL == "" {
		return client, nil
	}
	return client.WithEnterpriseURLs(baseURL, baseURL)
}

// GitHubActions: реальные обработчики действий поверх REST API.
type GitHubActions struct {
	client    *github.Client
	reviewers []string
	logger    *zap.Logger
	now       func() time.Time
}

func NewGitHubActions(client *github.Client, reviewers []string, logger *zap.Logger) *GitHubActions {
	return &GitHubActions{
		client:    client,
		reviewers: reviewers,
		logger:    logger.Named("github_actions"),
		now:       time.Now,
	}
}

// Register добавляет все GitHub-действия и record-event в реестр.
func (g *GitHubActions) Register(r *Registry) error {
	for name, a := range map[string]Action{
		ActionPostReviewComment: ActionFunc(g.PostReviewComment),
		ActionAddLabels:         labelAction{g},
		ActionClassifyIssue:     ActionFunc(g.ClassifyIssue),
		ActionRequestReviewers:  ActionFunc(g.RequestReviewers),
		ActionRecordEvent:       ActionFunc(RecordEvent),
	} {
		if err := r.Register(name, a); err != nil {
			return err
		}
	}
	return nil
}

func target(ec *domain.ExecutionContext) (owner, repo string, number int, err error) {
	owner, repo, ok := strings.Cut(ec.Repository, "/")
	if !ok || owner == "" || repo == "" {
		return "", "", 0, fmt.Errorf("%w: bad repository %q", domain.ErrExecution, ec.Repository)
	}
	if ec.Number <= 0 {
		return "", "", 0, fmt.Errorf("%w: event %s has no issue or pull request number", domain.ErrExecution, ec.EventID)
	}
	return owner, repo, ec.Number, nil
}

func classification(ec *domain.ExecutionContext) domain.EventClassification {
	c, _ := ec.State[StateClassification].(domain.EventClassification)
	return c
}

func stringsFromState(ec *domain.ExecutionContext, key string) []string {
	switch v := ec.State[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, x := range v {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Summary: текст комментария с итогами классификации.
func Summary(ec *domain.ExecutionContext) string {
	c := classification(ec)
	p, _ := ec.State[StatePriority].(domain.PriorityBreakdown)
	strategy, _ := ec.State[StateStrategy].(string)

	var sb strings.Builder
	sb.WriteString("### Automated triage\n\n")
	fmt.Fprintf(&sb, "- type: `%s` / `%s`\n", c.Type, c.Subtype)
	fmt.Fprintf(&sb, "- urgency: `%s`\n", c.Urgency)
	fmt.Fprintf(&sb, "- priority: %d (urgency %d, complexity %d, impact %d)\n", p.Total, p.Urgency, p.Complexity, p.Impact)
	if strategy != "" {
		fmt.Fprintf(&sb, "- strategy: `%s`\n", strategy)
	}
	return sb.String()
}

// PostReviewComment оставляет комментарий в issue или PR (PR в API GitHub — тоже issue).
func (g *GitHubActions) PostReviewComment(ctx context.Context, ec *domain.ExecutionContext) (any, error) {
	owner, repo, number, err := target(ec)
	if err != nil {
		return nil, err
	}
	comment, _, err := g.client.Issues.CreateComment(ctx, owner, repo, number, &github.IssueComment{
		Body: github.String(Summary(ec)),
	})
	if err != nil {
		return nil, classifyGitHubError("create comment", err, g.now())
	}
	return map[string]any{"comment_id": comment.GetID(), "url": comment.GetHTMLURL()}, nil
}

// Labels: метки, которые ставит add-labels: явные из состояния или выведенные из классификации.
func Labels(ec *domain.ExecutionContext) []string {
	if l := stringsFromState(ec, StateLabels); len(l) > 0 {
		return l
	}
	c := classification(ec)
	if c.Urgency == "" {
		return nil
	}
	return []string{"priority/" + string(c.Urgency)}
}

type labelAction struct{ g *GitHubActions }

func (a labelAction) Execute(ctx context.Context, ec *domain.ExecutionContext) (any, error) {
	return a.g.AddLabels(ctx, ec)
}

// Rollback снимает метки, поставленные действием.
func (a labelAction) Rollback(ctx context.Context, ec *domain.ExecutionContext) error {
	owner, repo, number, err := target(ec)
	if err != nil {
		return err
	}
	for _, l := range Labels(ec) {
		resp, err := a.g.client.Issues.RemoveLabelForIssue(ctx, owner, repo, number, l)
		if err != nil && (resp == nil || resp.StatusCode != http.StatusNotFound) {
			return classifyGitHubError("remove label", err, a.g.now())
		}
	}
	return nil
}

// AddLabels ставит метки приоритета.
func (g *GitHubActions) AddLabels(ctx context.Context, ec *domain.ExecutionContext) (any, error) {
	owner, repo, number, err := target(ec)
	if err != nil {
		return nil, err
	}
	labels := Labels(ec)
	if len(labels) == 0 {
		return nil, fmt.Errorf("%w: no labels to add", domain.ErrExecution)
	}
	applied, _, err := g.client.Issues.AddLabelsToIssue(ctx, owner, repo, number, labels)
	if err != nil {
		return nil, classifyGitHubError("add labels", err, g.now())
	}
	names := make([]string, 0, len(applied))
	for _, l := range applied {
		names = append(names, l.GetName())
	}
	return map[string]any{"labels": names}, nil
}

// ClassifyIssue фиксирует результат классификации меткой kind/<subtype>.
func (g *GitHubActions) ClassifyIssue(ctx context.Context, ec *domain.ExecutionContext) (any, error) {
	owner, repo, number, err := target(ec)
	if err != nil {
		return nil, err
	}
	c := classification(ec)
	if c.Subtype == "" {
		return nil, fmt.Errorf("%w: event is not classified", domain.ErrExecution)
	}
	label := "kind/" + c.Subtype
	if _, _, err := g.client.Issues.AddLabelsToIssue(ctx, owner, repo, number, []string{label}); err != nil {
		return nil, classifyGitHubError("classify issue", err, g.now())
	}
	return map[string]any{"label": label}, nil
}

// RequestReviewers запрашивает ревью у ревьюеров из состояния или из конфигурации.
func (g *GitHubActions) RequestReviewers(ctx context.Context, ec *domain.ExecutionContext) (any, error) {
	owner, repo, number, err := target(ec)
	if err != nil {
		return nil, err
	}
	reviewers := stringsFromState(ec, StateReviewers)
	if len(reviewers) == 0 {
		reviewers = g.reviewers
	}
	// автор PR не может быть ревьюером
	filtered := make([]string, 0, len(reviewers))
	for _, r := range reviewers {
		if !strings.EqualFold(r, ec.Event.Sender) {
			filtered = append(filtered, r)
		}
	}
	if len(filtered) == 0 {
		return map[string]any{"requested": []string{}}, nil
	}

	if _, _, err := g.client.PullRequests.RequestReviewers(ctx, owner, repo, number, github.ReviewersRequest{
		Reviewers: filtered,
	}); err != nil {
		return nil, classifyGitHubError("request reviewers", err, g.now())
	}
	return map[string]any{"requested": filtered}, nil
}

// RecordEvent не ходит во внешние системы: результатом является сводка события для аудита.
func RecordEvent(_ context.Context, ec *domain.ExecutionContext) (any, error) {
	return map[string]any{
		"event_id":   ec.EventID,
		"event_type": ec.EventType,
		"repository": ec.Repository,
		"summary":    Summary(ec),
	}, nil
}
