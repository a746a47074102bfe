package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Scope: уровень, на котором считается нагрузка.
type Scope string

const (
	ScopeGlobal     Scope = "global"
	ScopeSender     Scope = "sender"
	ScopeRepository Scope = "repo"
	ScopeDelivery   Scope = "delivery"
)

// Rule: лимит одного скоупа.
type Rule struct {
	Max    int           `mapstructure:"max"`
	Window time.Duration `mapstructure:"window"`
}

// Limits: четыре скоупа, проверяемые на каждый запрос.
type Limits struct {
	Global     Rule `mapstructure:"global"`
	Sender     Rule `mapstructure:"sender"`
	Repository Rule `mapstructure:"repository"`
	Delivery   Rule `mapstructure:"delivery"`
}

// DefaultLimits: значения по умолчанию.
func DefaultLimits() Limits {
	return Limits{
		Global:     Rule{Max: 5000, Window: time.Hour},
		Sender:     Rule{Max: 100, Window: time.Minute},
		Repository: Rule{Max: 500, Window: time.Hour},
		Delivery:   Rule{Max: 1, Window: 24 * time.Hour},
	}
}

// MaxWindow: наибольшее окно; окна, простаивающие дольше, удаляются при Sweep.
func (l Limits) MaxWindow() time.Duration {
	m := l.Global.Window
	for _, r := range []Rule{l.Sender, l.Repository, l.Delivery} {
		if r.Window > m {
			m = r.Window
		}
	}
	return m
}

// Request: идентичности запроса, уже прошедшие валидацию.
type Request struct {
	Sender     string
	Repository string
	DeliveryID string
}

// Violation: нарушенный скоуп.
type Violation struct {
	Scope    Scope
	Decision Decision
}

// Result: итог проверки всех скоупов.
type Result struct {
	Allowed    bool
	Decisions  []Decision
	Violations []Violation
	RetryAfter time.Duration // максимум по нарушенным скоупам
}

// ViolatedScopes возвращает имена всех нарушенных скоупов.
func (r Result) ViolatedScopes() []string {
	out := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		out = append(out, string(v.Scope))
	}
	return out
}

// Limiter: AdmissionLimiter. Состояние целиком живет в инжектируемом WindowStore.
type Limiter struct {
	store  WindowStore
	limits Limits
	logger *zap.Logger
	now    func() time.Time
}

type Option func(*Limiter)

// WithClock подменяет источник времени.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

func NewLimiter(store WindowStore, limits Limits, logger *zap.Logger, opts ...Option) *Limiter {
	l := &Limiter{
		store:  store,
		limits: limits,
		logger: logger.Named("admission"),
		now:    time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Limits возвращает действующие лимиты.
func (l *Limiter) Limits() Limits { return l.limits }

// Check: проверка одного ключа фиксированным окном.
func (l *Limiter) Check(ctx context.Context, key string, max int, window time.Duration) (Decision, error) {
	if max <= 0 || window <= 0 {
		return Decision{}, fmt.Errorf("invalid admission rule for %s: max=%d window=%s", key, max, window)
	}
	return l.store.Check(ctx, key, max, window, l.now())
}

// Admit проверяет все скоупы запроса. Запрос допускается, только если допустили все;
// нарушенные скоупы возвращаются вместе, а не только первый.
func (l *Limiter) Admit(ctx context.Context, req Request) (Result, error) {
	type scoped struct {
		scope Scope
		key   string
		rule  Rule
	}

	// Порядок фиксирован: global -> sender -> repo -> delivery
	checks := []scoped{{ScopeGlobal, "global:system", l.limits.Global}}
	if req.Sender != "" {
		checks = append(checks, scoped{ScopeSender, "sender:" + req.Sender, l.limits.Sender})
	}
	if req.Repository != "" {
		checks = append(checks, scoped{ScopeRepository, "repo:" + req.Repository, l.limits.Repository})
	}
	if req.DeliveryID != "" {
		checks = append(checks, scoped{ScopeDelivery, "delivery:" + req.DeliveryID, l.limits.Delivery})
	}

	res := Result{Allowed: true}
	for _, c := range checks {
		d, err := l.Check(ctx, c.key, c.rule.Max, c.rule.Window)
		if err != nil {
			return Result{}, err
		}
		res.Decisions = append(res.Decisions, d)
		if !d.Allowed {
			res.Allowed = false
			res.Violations = append(res.Violations, Violation{Scope: c.scope, Decision: d})
			if d.RetryAfter > res.RetryAfter {
				res.RetryAfter = d.RetryAfter
			}
		}
	}

	if !res.Allowed {
		l.logger.Warn("admission denied",
			zap.Strings("scopes", res.ViolatedScopes()),
			zap.Duration("retry_after", res.RetryAfter),
			zap.String("repository", req.Repository),
			zap.String("sender", req.Sender),
		)
	}
	return res, nil
}

// Sweep удаляет окна, простаивающие дольше наибольшего окна.
func (l *Limiter) Sweep(ctx context.Context) (int, error) {
	return l.store.Sweep(ctx, l.limits.MaxWindow(), l.now())
}

// StartSweeper периодически чистит окна до отмены контекста.
func (l *Limiter) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := l.Sweep(ctx)
			if err != nil {
				l.logger.Error("admission sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				l.logger.Debug("admission windows swept", zap.Int("removed", n))
			}
		}
	}
}
