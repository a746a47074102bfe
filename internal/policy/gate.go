// Package policy — Stage 1: единственная граница, после которой оркестратор решает,
// обрабатывать ли событие дальше.
package policy

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/webhook-gate/internal/audit"
	"github.com/xela07ax/webhook-gate/internal/compliance"
	"github.com/xela07ax/webhook-gate/internal/domain"
	"github.com/xela07ax/webhook-gate/internal/ratelimit"
	"github.com/xela07ax/webhook-gate/internal/signature"
	"github.com/xela07ax/webhook-gate/internal/validate"
)

// Заголовки доставки GitHub.
const (
	HeaderSignature = "X-Hub-Signature-256"
	HeaderEvent     = "X-GitHub-Event"
	HeaderDelivery  = "X-GitHub-Delivery"
	// HeaderTimestamp: время отправки (unix-секунды или RFC 3339), выставляется прокси перед гейтом.
	HeaderTimestamp = "X-Webhook-Timestamp"
)

// Request: входящая доставка. Body — сырые байты ровно в том виде, в каком они подписаны.
type Request struct {
	Headers    http.Header
	Body       []byte
	Secret     string
	Repository string
	SenderID   string
	DeliveryID string
	// Event: метаданные, разобранные из тела транспортом. Может быть пустым.
	Event   domain.WebhookEvent
	TraceID string
	// SentAt: момент подписи. Нулевое значение отключает проверку возраста.
	SentAt time.Time
}

// ParseTimestamp разбирает значение HeaderTimestamp. Пустое или битое значение дает нулевое время.
func ParseTimestamp(v string) time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}
	}
	if sec, err := strconv.ParseInt(v, 10, 64); err == nil && sec > 0 {
		return time.Unix(sec, 0)
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t
	}
	return time.Time{}
}

func (r Request) sentAt() time.Time {
	if !r.SentAt.IsZero() {
		return r.SentAt
	}
	return ParseTimestamp(r.Headers.Get(HeaderTimestamp))
}

func (r Request) deliveryID() string {
	if r.DeliveryID != "" {
		return r.DeliveryID
	}
	return r.Headers.Get(HeaderDelivery)
}

func (r Request) eventType() string {
	if r.Event.Type != "" {
		return r.Event.Type
	}
	return r.Headers.Get(HeaderEvent)
}

type Gate struct {
	verifier *signature.Verifier
	limiter  *ratelimit.Limiter
	resolver ConfigResolver
	auditor  audit.Auditor
	metrics  *Metrics
	logger   *zap.Logger
	now      func() time.Time
}

func NewGate(
	verifier *signature.Verifier,
	limiter *ratelimit.Limiter,
	resolver ConfigResolver,
	auditor audit.Auditor,
	metrics *Metrics,
	logger *zap.Logger,
) *Gate {
	if auditor == nil {
		auditor = audit.Nop{}
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Gate{
		verifier: verifier,
		limiter:  limiter,
		resolver: resolver,
		auditor:  auditor,
		metrics:  metrics,
		logger:   logger.Named("policy_gate"),
		now:      time.Now,
	}
}

// Evaluate прогоняет доставку через все проверки Stage 1. Нарушения копятся,
// а не обрывают цепочку: в вердикте оказываются все причины сразу.
// Исключение — пустое тело или секрет: тогда проверять нечего.
func (g *Gate) Evaluate(ctx context.Context, req Request) domain.Verdict {
	start := g.now()
	event := g.event(req)

	verdict := domain.Verdict{Event: event}
	add := func(kind domain.ViolationKind, field, msg string) {
		verdict.Violations = append(verdict.Violations, domain.Violation{Kind: kind, Field: field, Message: msg})
	}

	// 0. Без тела или секрета подпись не проверить
	if len(req.Body) == 0 || req.Secret == "" {
		add(domain.KindValidation, "signature", signature.ReasonMissingParameters)
		return g.finish(req, verdict, start)
	}

	// 1. Идентичности; дальше идут только очищенные значения
	g.validateFields(req, &event, add)
	verdict.Event = event

	// 2. Подпись
	header := req.Headers.Get(HeaderSignature)
	if header == "" {
		add(domain.KindValidation, "signature", "missing signature header")
	} else if res := g.verifier.VerifyFresh(req.Body, header, req.Secret, req.sentAt()); !res.Valid {
		add(domain.KindValidation, "signature", res.Reason)
	}

	// 3. Допуск по четырем скоупам
	admission, err := g.limiter.Admit(ctx, ratelimit.Request{
		Sender:     event.Sender,
		Repository: event.Repository,
		DeliveryID: event.DeliveryID,
	})
	if err != nil {
		g.logger.Error("admission check failed", zap.Error(err))
		add(domain.KindAdmission, "admission", "admission check failed: "+err.Error())
	}
	for _, v := range admission.Violations {
		add(domain.KindAdmission, "scope:"+string(v.Scope),
			fmt.Sprintf("limit %d exceeded, retry after %s", v.Decision.Limit, v.Decision.RetryAfter.Round(time.Second)))
	}
	verdict.RetryAfter = admission.RetryAfter

	// 4. Плотность дефектов и процент правил по сырому телу
	th := compliance.ThresholdsFrom(g.resolver.Resolve(ctx, event.Repository))
	verdict.Report = compliance.Score(string(req.Body), nil, th)
	verdict.Confidence = verdict.Report.Rules.Score
	if !verdict.Report.Density.Passed {
		add(domain.KindConstitutional, "defect_density",
			fmt.Sprintf("defect density %.2f must be below %.2f", verdict.Report.Density.Score, th.MaxDefectDensity))
	}
	if !verdict.Report.Rules.Passed {
		add(domain.KindConstitutional, "rule_satisfaction",
			fmt.Sprintf("rule satisfaction %.2f below %.2f", verdict.Report.Rules.Score, th.RuleSatisfaction))
	}

	verdict.Admitted = len(verdict.Violations) == 0 &&
		verdict.Report.Density.Passed && verdict.Report.Rules.Passed

	return g.finish(req, verdict, start)
}

func (g *Gate) event(req Request) domain.WebhookEvent {
	e := req.Event
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if req.Repository != "" {
		e.Repository = req.Repository
	}
	if req.SenderID != "" {
		e.Sender = req.SenderID
	}
	e.DeliveryID = req.deliveryID()
	e.Type = req.eventType()
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = g.now()
	}
	return e
}

func (g *Gate) validateFields(req Request, e *domain.WebhookEvent, add func(domain.ViolationKind, string, string)) {
	checks := []struct {
		field string
		dst   *string
		res   validate.Result
	}{
		{"repository", &e.Repository, validate.RepositoryFullName(e.Repository)},
		{"sender", &e.Sender, validate.SenderLogin(e.Sender)},
		{"event_type", &e.Type, validate.EventType(e.Type)},
		{"delivery_id", &e.DeliveryID, validate.DeliveryID(e.DeliveryID)},
		{"action", &e.Action, validate.EventAction(e.Action)},
	}
	for _, c := range checks {
		if c.res.Valid {
			if s, ok := c.res.Value.(string); ok {
				*c.dst = s
			}
			continue
		}
		msg := strings.Join(c.res.Errors, "; ")
		add(domain.KindValidation, c.field, msg)
		g.auditor.Log(audit.Event{
			TraceID:    req.TraceID,
			DeliveryID: e.DeliveryID,
			Repository: e.Repository,
			Sender:     e.Sender,
			Kind:       audit.KindSecurity,
			Category:   audit.CategoryInvalidField,
			Status:     "REJECTED",
			Reason:     msg,
			Details:    map[string]any{"field": c.field},
		})
	}
}

func (g *Gate) finish(req Request, v domain.Verdict, start time.Time) domain.Verdict {
	v.DecidedAt = g.now()

	status := "REJECTED"
	if v.Admitted {
		status = "ADMITTED"
	}
	g.metrics.Verdicts.WithLabelValues(strings.ToLower(status)).Inc()
	g.metrics.RuleSatisfaction.Observe(v.Report.Rules.Score)
	for _, vi := range v.Violations {
		g.metrics.Violations.WithLabelValues(string(vi.Kind), vi.Field).Inc()
	}

	if v.HasKind(domain.KindAdmission) {
		g.auditor.Log(audit.Event{
			TraceID:    req.TraceID,
			DeliveryID: v.Event.DeliveryID,
			Repository: v.Event.Repository,
			Sender:     v.Event.Sender,
			Kind:       audit.KindSecurity,
			Category:   audit.CategoryAdmissionDenied,
			Status:     status,
			Reason:     fmt.Sprintf("retry after %s", v.RetryAfter),
		})
	}

	g.auditor.Log(audit.Event{
		TraceID:    req.TraceID,
		RunID:      v.Event.ID,
		DeliveryID: v.Event.DeliveryID,
		Repository: v.Event.Repository,
		Sender:     v.Event.Sender,
		Kind:       audit.KindVerdict,
		Category:   v.Event.Type,
		Status:     status,
		Reason:     strings.Join(v.Reasons(), "; "),
		Details: map[string]any{
			"confidence":     v.Confidence,
			"defect_density": v.Report.Density.Score,
		},
		Timestamp:  v.DecidedAt,
		DurationMs: v.DecidedAt.Sub(start).Milliseconds(),
	})

	if v.Admitted {
		g.logger.Info("delivery admitted",
			zap.String("delivery_id", v.Event.DeliveryID),
			zap.String("repository", v.Event.Repository),
			zap.Float64("confidence", v.Confidence),
		)
	} else {
		g.logger.Warn("delivery rejected",
			zap.String("delivery_id", v.Event.DeliveryID),
			zap.String("repository", v.Event.Repository),
			zap.Strings("reasons", v.Reasons()),
		)
	}
	return v
}

// Err сводит вердикт к ошибке со sentinel-классом первого нарушения.
// Для допущенного вердикта возвращает nil.
func Err(v domain.Verdict) error {
	if v.Admitted {
		return nil
	}
	if len(v.Violations) == 0 {
		return fmt.Errorf("%w: thresholds not met", domain.ErrConstitutionalViolation)
	}
	// приоритет: validation > admission > constitutional
	for _, kind := range []domain.ViolationKind{domain.KindValidation, domain.KindAdmission, domain.KindConstitutional} {
		if v.HasKind(kind) {
			return fmt.Errorf("%w: %s", kind.Err(), strings.Join(v.Reasons(), "; "))
		}
	}
	return fmt.Errorf("%w: %s", domain.ErrValidation, strings.Join(v.Reasons(), "; "))
}
