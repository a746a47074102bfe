package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/avast/retry-go/v5"
	"go.uber.org/zap"

	"github.com/xela07ax/webhook-gate/internal/audit"
	"github.com/xela07ax/webhook-gate/internal/connectors"
	"github.com/xela07ax/webhook-gate/internal/domain"
)

// MaxAttempts: жесткий предел попыток на одно действие.
const MaxAttempts = 2

type ExecutorOptions struct {
	// ActionTimeout ограничивает одну попытку действия.
	ActionTimeout time.Duration
	Delays        DiagnosisDelays
}

func DefaultExecutorOptions() ExecutorOptions {
	return ExecutorOptions{ActionTimeout: 10 * time.Second, Delays: DefaultDiagnosisDelays()}
}

// Executor: Stage 4. Для каждого действия: Dispatching -> Verifying -> Success
// или Diagnosing -> (Retry | Fail). Провал одного действия не останавливает остальные.
type Executor struct {
	registry    *connectors.Registry
	reliability *ReliabilityWrapper
	auditor     audit.Auditor
	metrics     *Metrics
	logger      *zap.Logger
	opts        ExecutorOptions
	now         func() time.Time
}

func NewExecutor(
	registry *connectors.Registry,
	reliability *ReliabilityWrapper,
	auditor audit.Auditor,
	metrics *Metrics,
	logger *zap.Logger,
	opts ExecutorOptions,
) *Executor {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if reliability == nil {
		reliability = NewReliabilityWrapper(DefaultReliabilitySettings(), metrics)
	}
	if auditor == nil {
		auditor = audit.Nop{}
	}
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = DefaultExecutorOptions().ActionTimeout
	}
	return &Executor{
		registry:    registry,
		reliability: reliability,
		auditor:     auditor,
		metrics:     metrics,
		logger:      logger.With(zap.String("mod", "executor")),
		opts:        opts,
		now:         time.Now,
	}
}

// Diagnose: диагностика с паузами исполнителя.
func (e *Executor) Diagnose(err error, attempt int) domain.Diagnosis {
	return Diagnose(err, attempt, e.opts.Delays)
}

// Execute выполняет действия плана по порядку.
func (e *Executor) Execute(ctx context.Context, ec *domain.ExecutionContext, plan domain.ActionPlan) domain.ExecutionReport {
	start := e.now()
	report := domain.ExecutionReport{Outcomes: make([]domain.ActionOutcome, 0, len(plan.Actions))}

	for _, name := range plan.Actions {
		outcome := e.run(ctx, ec, name)
		report.Outcomes = append(report.Outcomes, outcome)
		if outcome.Success {
			report.Succeeded++
		} else {
			report.Failed++
		}
	}

	report.CompletedAt = e.now()
	report.TotalElapsed = report.CompletedAt.Sub(start)
	return report
}

func (e *Executor) run(ctx context.Context, ec *domain.ExecutionContext, name string) domain.ActionOutcome {
	start := e.now()
	outcome := domain.ActionOutcome{Action: name}

	fail := func(err error, attempts int) domain.ActionOutcome {
		d := e.Diagnose(err, attempts)
		outcome.Error = err.Error()
		outcome.Attempts = attempts
		outcome.Diagnosis = &d
		outcome.Elapsed = e.now().Sub(start)
		e.record(ec, name, "FAILED", attempts, outcome.Elapsed, &d)
		return outcome
	}

	// Нарушение контракта — без ретраев
	action, ok := e.registry.Lookup(name)
	if !ok {
		return fail(fmt.Errorf("%w: %s", domain.ErrUnknownAction, name), 1)
	}
	if !ec.Config.ActionEnabled(name) {
		return fail(fmt.Errorf("%s: %w", name, errActionDisabled), 0)
	}

	var (
		attempts int
		output   any
		lastErr  error
		last     domain.Diagnosis
	)

	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(MaxAttempts),
		// Повтор только если диагностика признала ошибку восстановимой
		retry.RetryIf(func(error) bool { return last.Recoverable }),
		// Пауза берется из диагностики, а не из бэкоффа
		retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
			return last.Delay
		}),
	)

	err := r.Do(func() error {
		attempts++
		attemptStart := e.now()

		out, err := e.dispatch(ctx, ec, action)
		if err == nil && out == nil {
			err = ErrVerification
		}
		if err == nil {
			output = out
			e.record(ec, name, "SUCCESS", attempts, e.now().Sub(attemptStart), nil)
			return nil
		}

		lastErr = err
		last = e.Diagnose(err, attempts)
		status := "FAILED"
		if last.Recoverable && attempts < MaxAttempts {
			status = "RETRYING"
		}
		e.record(ec, name, status, attempts, e.now().Sub(attemptStart), &last)
		e.logger.Warn("action attempt failed",
			zap.String("event_id", ec.EventID),
			zap.String("action", name),
			zap.Int("attempt", attempts),
			zap.String("cause", last.Cause),
			zap.Bool("recoverable", last.Recoverable),
			zap.Error(err),
		)
		return err
	})

	outcome.Attempts = attempts
	outcome.Elapsed = e.now().Sub(start)
	if err == nil {
		outcome.Success = true
		outcome.Output = output
		return outcome
	}

	if lastErr == nil {
		// контекст отменили до первой попытки
		lastErr = err
		last = e.Diagnose(err, attempts)
	}
	outcome.Error = lastErr.Error()
	outcome.Diagnosis = &last
	return outcome
}

// dispatch: одна попытка под собственным таймаутом, через лимитер и предохранитель.
func (e *Executor) dispatch(ctx context.Context, ec *domain.ExecutionContext, action connectors.Action) (any, error) {
	actx, cancel := context.WithTimeout(ctx, e.opts.ActionTimeout)
	defer cancel()

	return e.reliability.Call(actx, func(ctx context.Context) (any, error) {
		return action.Execute(ctx, ec)
	})
}

// record пишет каждую попытку в аудит и метрики.
func (e *Executor) record(ec *domain.ExecutionContext, name, status string, attempts int, elapsed time.Duration, d *domain.Diagnosis) {
	e.metrics.ActionAttempts.WithLabelValues(name, status).Inc()

	ev := audit.Event{
		RunID:      ec.EventID,
		DeliveryID: ec.Event.DeliveryID,
		Repository: ec.Repository,
		Sender:     ec.Event.Sender,
		Kind:       audit.KindAction,
		Category:   name,
		Status:     status,
		Attempts:   attempts,
		DurationMs: elapsed.Milliseconds(),
	}
	if d != nil {
		ev.Reason = d.Message
		ev.Details = map[string]any{"cause": d.Cause, "strategy": d.Strategy, "recoverable": d.Recoverable}
	}
	e.auditor.Log(ev)
}

// Rollback вызывает компенсирующее действие. Исполнитель сам его не запускает:
// это точка входа для внешнего супервизора.
func (e *Executor) Rollback(ctx context.Context, ec *domain.ExecutionContext, name string) error {
	action, ok := e.registry.Lookup(name)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownAction, name)
	}
	comp, ok := action.(connectors.Compensator)
	if !ok {
		return fmt.Errorf("%w: action %s has no rollback", domain.ErrExecution, name)
	}

	start := e.now()
	err := comp.Rollback(ctx, ec)
	status := "ROLLED_BACK"
	if err != nil {
		status = "ROLLBACK_FAILED"
	}
	e.auditor.Log(audit.Event{
		RunID:      ec.EventID,
		Repository: ec.Repository,
		Kind:       audit.KindAction,
		Category:   name,
		Status:     status,
		Reason:     errString(err),
		DurationMs: e.now().Sub(start).Milliseconds(),
	})
	if err != nil {
		return fmt.Errorf("rollback %s: %w", name, err)
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
