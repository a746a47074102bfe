package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xela07ax/webhook-gate/internal/audit"
	"github.com/xela07ax/webhook-gate/internal/compliance"
	"github.com/xela07ax/webhook-gate/internal/domain"
	"github.com/xela07ax/webhook-gate/internal/policy"
)

// Stage: текущая стадия прогона. У прогона всегда ровно одна текущая стадия.
type Stage string

const (
	StagePolicyGate   Stage = "policy_gate"
	StageDeliberation Stage = "deliberation"
	StageHydration    Stage = "hydration"
	StageExecution    Stage = "execution"
	StageFeedback     Stage = "feedback"
	StageDone         Stage = "done"
	StageRejected     Stage = "rejected"
	// StageFailed: внутренняя ошибка после допуска (контекст не собран или не прошел проверку).
	StageFailed Stage = "failed"
)

// Terminal: стадия, на которой прогон останавливается.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageRejected || s == StageFailed
}

// FullComplianceThreshold: порог процента правил для флага полного соответствия.
const FullComplianceThreshold = 95.0

type Gatekeeper interface {
	Evaluate(ctx context.Context, req policy.Request) domain.Verdict
}

type Planner interface {
	Deliberate(ctx context.Context, e domain.WebhookEvent) domain.ActionPlan
}

type ContextHydrator interface {
	Hydrate(ctx context.Context, e domain.WebhookEvent, plan domain.ActionPlan) (*domain.ExecutionContext, error)
	Transition(ec *domain.ExecutionContext, name string, fn func(state map[string]any) error) error
	Complete(ec *domain.ExecutionContext) error
	ValidateState(ec *domain.ExecutionContext) error
}

type ActionRunner interface {
	Execute(ctx context.Context, ec *domain.ExecutionContext, plan domain.ActionPlan) domain.ExecutionReport
}

type QualityScorer interface {
	Optimize(report domain.ExecutionReport, compliance domain.ComplianceReport) domain.Optimization
}

// Result: итог прогона: выходы всех пройденных стадий.
type Result struct {
	RunID          string                   `json:"run_id"`
	Stage          Stage                    `json:"stage"`
	Verdict        domain.Verdict           `json:"verdict"`
	Plan           *domain.ActionPlan       `json:"plan,omitempty"`
	Context        *domain.ExecutionContext `json:"context,omitempty"`
	Execution      *domain.ExecutionReport  `json:"execution,omitempty"`
	Compliance     *domain.ComplianceReport `json:"compliance,omitempty"`
	Optimization   domain.Optimization      `json:"optimization"`
	Grade          string                   `json:"grade"`
	FullyCompliant bool                     `json:"fully_compliant"`
	Elapsed        time.Duration            `json:"elapsed"`
	StageElapsed   map[Stage]time.Duration  `json:"stage_elapsed"`
	Error          string                   `json:"error,omitempty"`
}

// ActionsAttempted: суммарное число попыток действий.
func (r Result) ActionsAttempted() int {
	if r.Execution == nil {
		return 0
	}
	return r.Execution.TotalAttempts()
}

// Err: ошибка прогона с sentinel-классом, nil для успешного.
func (r Result) Err() error {
	switch r.Stage {
	case StageRejected:
		return policy.Err(r.Verdict)
	case StageFailed:
		return errors.New(r.Error)
	default:
		return nil
	}
}

type Option func(*Orchestrator)

// WithTracerProvider подменяет глобальный провайдер трассировки.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *Orchestrator) { o.tracer = tp.Tracer(tracerName) }
}

const tracerName = "github.com/xela07ax/webhook-gate/internal/engine"

// Orchestrator: конечный автомат из пяти стадий. Отказ Stage 1 переводит прогон
// в rejected, и стадии 2+ не вызываются.
type Orchestrator struct {
	gate      Gatekeeper
	planner   Planner
	hydrator  ContextHydrator
	executor  ActionRunner
	optimizer QualityScorer
	auditor   audit.Auditor
	metrics   *Metrics
	tracer    trace.Tracer
	logger    *zap.Logger
	now       func() time.Time
}

func NewOrchestrator(
	gate Gatekeeper,
	planner Planner,
	hydrator ContextHydrator,
	executor ActionRunner,
	optimizer QualityScorer,
	auditor audit.Auditor,
	metrics *Metrics,
	logger *zap.Logger,
	opts ...Option,
) *Orchestrator {
	if auditor == nil {
		auditor = audit.Nop{}
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	o := &Orchestrator{
		gate:      gate,
		planner:   planner,
		hydrator:  hydrator,
		executor:  executor,
		optimizer: optimizer,
		auditor:   auditor,
		metrics:   metrics,
		tracer:    otel.Tracer(tracerName),
		logger:    logger.Named("orchestrator"),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// run: состояние одного прогона; принадлежит только ему.
type run struct {
	stage  Stage
	req    policy.Request
	result Result
}

// Run прогоняет доставку через автомат до терминальной стадии.
func (o *Orchestrator) Run(ctx context.Context, req policy.Request) Result {
	start := o.now()
	ctx, span := o.tracer.Start(ctx, "pipeline.run")
	defer span.End()

	r := &run{
		stage:  StagePolicyGate,
		req:    req,
		result: Result{StageElapsed: make(map[Stage]time.Duration)},
	}

	for !r.stage.Terminal() {
		r.stage = o.advance(ctx, r)
	}

	r.result.Stage = r.stage
	r.result.Elapsed = o.now().Sub(start)
	if r.stage != StageDone {
		r.result.Grade = GradeFailed
		r.result.Optimization = domain.Optimization{Grade: GradeFailed}
	}

	o.metrics.Runs.WithLabelValues(string(r.stage)).Inc()
	o.metrics.Grades.WithLabelValues(r.result.Grade).Inc()

	span.SetAttributes(
		attribute.String("run.id", r.result.RunID),
		attribute.String("run.stage", string(r.stage)),
		attribute.String("run.grade", r.result.Grade),
	)
	o.logger.Info("pipeline finished",
		zap.String("run_id", r.result.RunID),
		zap.String("stage", string(r.stage)),
		zap.String("grade", r.result.Grade),
		zap.Bool("fully_compliant", r.result.FullyCompliant),
		zap.Duration("elapsed", r.result.Elapsed),
	)
	return r.result
}

// advance выполняет текущую стадию в отдельном span и возвращает следующую.
func (o *Orchestrator) advance(ctx context.Context, r *run) Stage {
	stage := r.stage
	sctx, span := o.tracer.Start(ctx, "stage."+string(stage))
	defer span.End()

	start := o.now()
	next, headline, err := o.step(sctx, r)
	elapsed := o.now().Sub(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.result.Error = fmt.Sprintf("%s: %v", stage, err)
		next = StageFailed
	}
	span.SetAttributes(attribute.String("stage.next", string(next)))

	r.result.StageElapsed[stage] = elapsed
	o.metrics.StageDuration.WithLabelValues(string(stage)).Observe(elapsed.Seconds())

	fields := append([]zap.Field{
		zap.String("run_id", r.result.RunID),
		zap.String("stage", string(stage)),
		zap.String("next", string(next)),
		zap.Duration("elapsed", elapsed),
	}, headline...)
	if err != nil {
		o.logger.Error("stage failed", append(fields, zap.Error(err))...)
	} else {
		o.logger.Info("stage completed", fields...)
	}

	o.auditor.Log(audit.Event{
		TraceID:    r.req.TraceID,
		RunID:      r.result.RunID,
		DeliveryID: r.result.Verdict.Event.DeliveryID,
		Repository: r.result.Verdict.Event.Repository,
		Kind:       audit.KindStage,
		Category:   string(stage),
		Status:     string(next),
		Reason:     errString(err),
		DurationMs: elapsed.Milliseconds(),
	})
	return next
}

func (o *Orchestrator) step(ctx context.Context, r *run) (Stage, []zap.Field, error) {
	res := &r.result

	switch r.stage {
	case StagePolicyGate:
		res.Verdict = o.gate.Evaluate(ctx, r.req)
		res.RunID = res.Verdict.Event.ID
		res.FullyCompliant = res.Verdict.Report.Rules.Score >= FullComplianceThreshold && res.Verdict.Report.Density.Passed
		headline := []zap.Field{
			zap.Bool("admitted", res.Verdict.Admitted),
			zap.Float64("confidence", res.Verdict.Confidence),
			zap.Int("violations", len(res.Verdict.Violations)),
		}
		if !res.Verdict.Admitted {
			return StageRejected, headline, nil
		}
		return StageDeliberation, headline, nil

	case StageDeliberation:
		plan := o.planner.Deliberate(ctx, res.Verdict.Event)
		res.Plan = &plan
		return StageHydration, []zap.Field{
			zap.String("strategy", plan.Strategy),
			zap.Int("priority", plan.Priority.Total),
			zap.Int("actions", len(plan.Actions)),
		}, nil

	case StageHydration:
		ec, err := o.hydrator.Hydrate(ctx, res.Verdict.Event, *res.Plan)
		if err != nil {
			return StageFailed, nil, err
		}
		res.Context = ec
		plan := *res.Plan
		if err := o.hydrator.Transition(ec, "plan", func(state map[string]any) error {
			state["actions"] = append([]string(nil), plan.Actions...)
			state["alternatives"] = len(plan.Alternatives)
			return nil
		}); err != nil {
			return StageFailed, nil, err
		}
		return StageExecution, []zap.Field{zap.Bool("dependencies_healthy", ec.Health.Healthy())}, nil

	case StageExecution:
		ec := res.Context
		if err := o.hydrator.ValidateState(ec); err != nil {
			return StageFailed, nil, err
		}
		report := o.executor.Execute(ctx, ec, *res.Plan)
		res.Execution = &report

		if err := o.hydrator.Transition(ec, "execution", func(state map[string]any) error {
			state["succeeded"] = report.Succeeded
			state["failed"] = report.Failed
			return nil
		}); err != nil {
			return StageFailed, nil, err
		}
		if err := o.hydrator.Complete(ec); err != nil {
			return StageFailed, nil, err
		}
		return StageFeedback, []zap.Field{
			zap.Int("succeeded", report.Succeeded),
			zap.Int("failed", report.Failed),
			zap.Int("attempts", report.TotalAttempts()),
		}, nil

	case StageFeedback:
		// готовность плана: каждое действие — функциональность, 100 при успехе и 0 при провале
		features := make([]domain.Feature, 0, len(res.Execution.Outcomes))
		for _, out := range res.Execution.Outcomes {
			c := 0.0
			if out.Success {
				c = 100
			}
			features = append(features, domain.Feature{Name: out.Action, Completeness: c})
		}
		report := compliance.Score(string(r.req.Body), features, compliance.ThresholdsFrom(res.Context.Config))
		res.Compliance = &report

		res.Optimization = o.optimizer.Optimize(*res.Execution, report)
		res.Grade = res.Optimization.Grade
		return StageDone, []zap.Field{
			zap.String("grade", res.Grade),
			zap.Float64("overall", res.Optimization.OverallScore),
		}, nil
	}

	return StageFailed, nil, fmt.Errorf("%w: unexpected stage %q", domain.ErrInvalidState, r.stage)
}
