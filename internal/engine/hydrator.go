package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/webhook-gate/internal/audit"
	"github.com/xela07ax/webhook-gate/internal/connectors"
	"github.com/xela07ax/webhook-gate/internal/domain"
	"github.com/xela07ax/webhook-gate/internal/policy"
)

// Hydrator: Stage 3: собирает ExecutionContext и ведет его журнал переходов.
type Hydrator struct {
	resolver      policy.ConfigResolver
	checks        []HealthCheck
	healthTimeout time.Duration
	auditor       audit.Auditor
	logger        *zap.Logger
	now           func() time.Time
}

func NewHydrator(resolver policy.ConfigResolver, checks []HealthCheck, healthTimeout time.Duration, auditor audit.Auditor, logger *zap.Logger) *Hydrator {
	if healthTimeout <= 0 {
		healthTimeout = 2 * time.Second
	}
	if auditor == nil {
		auditor = audit.Nop{}
	}
	return &Hydrator{
		resolver:      resolver,
		checks:        checks,
		healthTimeout: healthTimeout,
		auditor:       auditor,
		logger:        logger.With(zap.String("mod", "hydrator")),
		now:           time.Now,
	}
}

// Hydrate разрешает политику репозитория и снимок здоровья зависимостей,
// кладет в состояние результаты Stage 2 и пишет INITIALIZE.
func (h *Hydrator) Hydrate(ctx context.Context, e domain.WebhookEvent, plan domain.ActionPlan) (*domain.ExecutionContext, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ec := &domain.ExecutionContext{
		EventID:    e.ID,
		EventType:  e.Type,
		Repository: e.Repository,
		Number:     e.Number,
		Event:      e,
		Config:     h.resolver.Resolve(ctx, e.Repository),
		Health:     h.snapshot(ctx),
		State: map[string]any{
			connectors.StateClassification: plan.Classification,
			connectors.StatePriority:       plan.Priority,
			connectors.StateStrategy:       plan.Strategy,
		},
		CreatedAt: h.now(),
	}

	if err := ec.Append(domain.Transition{
		Type:  domain.TransitionInitialize,
		Name:  "hydrate",
		After: ec.Snapshot(),
		At:    ec.CreatedAt,
	}); err != nil {
		return nil, err
	}
	h.audit(ec, domain.TransitionInitialize, "hydrate", "")

	if !ec.Health.Healthy() {
		h.logger.Warn("dependencies degraded", zap.String("event_id", ec.EventID), zap.Any("health", ec.Health.Dependencies))
	}
	return ec, nil
}

// snapshot опрашивает все проверки параллельно, каждая под общим таймаутом.
func (h *Hydrator) snapshot(ctx context.Context) domain.HealthSnapshot {
	snap := domain.HealthSnapshot{Dependencies: make(map[string]domain.DependencyHealth, len(h.checks))}

	ctx, cancel := context.WithTimeout(ctx, h.healthTimeout)
	defer cancel()

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, c := range h.checks {
		wg.Add(1)
		go func(c HealthCheck) {
			defer wg.Done()
			start := h.now()
			err := c.Check(ctx)
			dep := domain.DependencyHealth{
				Name:      c.Name(),
				Healthy:   err == nil,
				Latency:   h.now().Sub(start),
				CheckedAt: h.now(),
			}
			if err != nil {
				dep.Error = err.Error()
			}
			mu.Lock()
			snap.Dependencies[dep.Name] = dep
			mu.Unlock()
		}(c)
	}
	wg.Wait()

	snap.CheckedAt = h.now()
	return snap
}

// Transition выполняет мутацию состояния и пишет TRANSITION со снимками до/после
// или ERROR. Ошибка всегда возвращается вызывающему.
func (h *Hydrator) Transition(ec *domain.ExecutionContext, name string, fn func(state map[string]any) error) error {
	if ec.Finalized() {
		return fmt.Errorf("%w: transition %q on finalized context", domain.ErrInvalidState, name)
	}

	before := ec.Snapshot()
	start := h.now()
	err := fn(ec.State)

	t := domain.Transition{Name: name, Before: before, At: h.now(), Duration: h.now().Sub(start)}
	if err != nil {
		t.Type = domain.TransitionError
		t.Error = err.Error()
	} else {
		t.Type = domain.TransitionChange
		t.After = ec.Snapshot()
	}
	if appendErr := ec.Append(t); appendErr != nil {
		return appendErr
	}
	h.audit(ec, t.Type, name, t.Error)

	if err != nil {
		return fmt.Errorf("transition %s: %w", name, err)
	}
	return nil
}

// Complete пишет COMPLETE с длительностью и числом записей и закрывает контекст.
func (h *Hydrator) Complete(ec *domain.ExecutionContext) error {
	now := h.now()
	if err := ec.Append(domain.Transition{
		Type:     domain.TransitionComplete,
		Name:     "complete",
		At:       now,
		Duration: now.Sub(ec.CreatedAt),
		Count:    len(ec.Transitions()),
	}); err != nil {
		return err
	}
	ec.Finalize()
	h.audit(ec, domain.TransitionComplete, "complete", "")
	return nil
}

// ValidateState: структурная проверка перед Stage 4.
func (h *Hydrator) ValidateState(ec *domain.ExecutionContext) error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", domain.ErrInvalidState, fmt.Sprintf(format, args...))
	}

	switch {
	case ec == nil:
		return invalid("context is nil")
	case ec.EventID == "":
		return invalid("event id is empty")
	case ec.Repository == "":
		return invalid("repository is empty")
	case ec.Config.Repository == "":
		return invalid("repository policy is not resolved")
	case ec.Health.CheckedAt.IsZero() || ec.Health.Dependencies == nil:
		return invalid("health snapshot is missing")
	case ec.State == nil:
		return invalid("state is nil")
	case ec.Finalized():
		return invalid("context is already completed")
	}
	for _, key := range []string{connectors.StateClassification, connectors.StatePriority, connectors.StateStrategy} {
		if _, ok := ec.State[key]; !ok {
			return invalid("state key %q is missing", key)
		}
	}

	ts := ec.Transitions()
	if len(ts) == 0 || ts[0].Type != domain.TransitionInitialize {
		return invalid("journal must start with INITIALIZE")
	}
	for i := 1; i < len(ts); i++ {
		if ts[i].At.Before(ts[i-1].At) {
			return invalid("journal is not ordered at %d", i)
		}
		if ts[i].Type == domain.TransitionInitialize || ts[i].Type == domain.TransitionComplete {
			return invalid("unexpected %s at %d", ts[i].Type, i)
		}
	}
	return nil
}

func (h *Hydrator) audit(ec *domain.ExecutionContext, t domain.TransitionType, name, reason string) {
	h.auditor.Log(audit.Event{
		RunID:      ec.EventID,
		DeliveryID: ec.Event.DeliveryID,
		Repository: ec.Repository,
		Kind:       audit.KindTransition,
		Category:   name,
		Status:     string(t),
		Reason:     reason,
	})
}
