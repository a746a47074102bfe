package engine

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"

	"github.com/xela07ax/webhook-gate/internal/audit"
	"github.com/xela07ax/webhook-gate/internal/connectors"
	"github.com/xela07ax/webhook-gate/internal/domain"
	"github.com/xela07ax/webhook-gate/internal/policy"
	"github.com/xela07ax/webhook-gate/internal/ratelimit"
	"github.com/xela07ax/webhook-gate/internal/risk"
	"github.com/xela07ax/webhook-gate/internal/signature"
)

const (
	pipelineSecret = "pipeline-secret"
	// тело проходит шесть обязательных правил каталога и не содержит маркеров
	pipelineBody = `{"action":"opened","issue":{"number":7,"title":"validate input"},"body":"err != nil handled by logger; type Config struct; tests added"}`
)

// stageSpy фиксирует вызовы стадий 2+.
type stageSpy struct {
	verdict    domain.Verdict
	hydrateErr error
	calls      []string
}

func (s *stageSpy) Evaluate(context.Context, policy.Request) domain.Verdict {
	s.calls = append(s.calls, "gate")
	return s.verdict
}

func (s *stageSpy) Deliberate(context.Context, domain.WebhookEvent) domain.ActionPlan {
	s.calls = append(s.calls, "deliberate")
	return domain.ActionPlan{Strategy: "record", Actions: []string{connectors.ActionRecordEvent}}
}

func (s *stageSpy) Hydrate(context.Context, domain.WebhookEvent, domain.ActionPlan) (*domain.ExecutionContext, error) {
	s.calls = append(s.calls, "hydrate")
	return nil, s.hydrateErr
}

func (s *stageSpy) Transition(*domain.ExecutionContext, string, func(map[string]any) error) error {
	s.calls = append(s.calls, "transition")
	return nil
}

func (s *stageSpy) Complete(*domain.ExecutionContext) error {
	s.calls = append(s.calls, "complete")
	return nil
}

func (s *stageSpy) ValidateState(*domain.ExecutionContext) error {
	s.calls = append(s.calls, "validate")
	return nil
}

func (s *stageSpy) Execute(context.Context, *domain.ExecutionContext, domain.ActionPlan) domain.ExecutionReport {
	s.calls = append(s.calls, "execute")
	return domain.ExecutionReport{}
}

func (s *stageSpy) Optimize(domain.ExecutionReport, domain.ComplianceReport) domain.Optimization {
	s.calls = append(s.calls, "optimize")
	return domain.Optimization{Grade: "A+"}
}

func spanNames(sr *tracetest.SpanRecorder) []string {
	var out []string
	for _, s := range sr.Ended() {
		out = append(out, s.Name())
	}
	return out
}

func newSpyOrchestrator(spy *stageSpy, sr *tracetest.SpanRecorder, m *Metrics) *Orchestrator {
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	return NewOrchestrator(spy, spy, spy, spy, spy, nil, m, zap.NewNop(), WithTracerProvider(tp))
}

func TestRun_RejectedShortCircuits(t *testing.T) {
	spy := &stageSpy{verdict: domain.Verdict{
		Admitted:   false,
		Event:      domain.WebhookEvent{ID: "run-1"},
		Violations: []domain.Violation{{Kind: domain.KindValidation, Field: "signature", Message: "invalid signature"}},
	}}
	sr := tracetest.NewSpanRecorder()
	m := NewMetrics(prometheus.NewRegistry())

	res := newSpyOrchestrator(spy, sr, m).Run(context.Background(), policy.Request{})

	assert.Equal(t, StageRejected, res.Stage)
	assert.Equal(t, []string{"gate"}, spy.calls)
	assert.Equal(t, GradeFailed, res.Grade)
	assert.Equal(t, GradeFailed, res.Optimization.Grade)
	assert.Nil(t, res.Plan)
	assert.Nil(t, res.Context)
	assert.Nil(t, res.Execution)
	assert.Nil(t, res.Compliance)
	assert.Zero(t, res.ActionsAttempted())
	assert.Equal(t, "run-1", res.RunID)
	assert.ErrorIs(t, res.Err(), domain.ErrValidation)

	assert.ElementsMatch(t, []string{"stage.policy_gate", "pipeline.run"}, spanNames(sr))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues(string(StageRejected))))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Grades.WithLabelValues(GradeFailed)))
}

func TestRun_HydrationFailure(t *testing.T) {
	spy := &stageSpy{
		verdict:    domain.Verdict{Admitted: true, Event: domain.WebhookEvent{ID: "run-2"}},
		hydrateErr: errors.New("policy store unavailable"),
	}
	sr := tracetest.NewSpanRecorder()

	res := newSpyOrchestrator(spy, sr, nil).Run(context.Background(), policy.Request{})

	assert.Equal(t, StageFailed, res.Stage)
	assert.Equal(t, []string{"gate", "deliberate", "hydrate"}, spy.calls)
	assert.Equal(t, GradeFailed, res.Grade)
	assert.Contains(t, res.Error, "hydration: policy store unavailable")
	assert.Error(t, res.Err())
	assert.Contains(t, spanNames(sr), "stage.hydration")
}

type permissiveResolver struct{}

func (permissiveResolver) Resolve(_ context.Context, repo string) domain.RepoPolicy {
	return domain.RepoPolicy{
		Repository:               repo,
		RequiredRuleSatisfaction: 50,
		MaxDefectDensity:         1,
		MinCompleteness:          80,
	}
}

// newPipeline собирает пайплайн из настоящих стадий поверх двойников действий.
func newPipeline(t *testing.T, sr *tracetest.SpanRecorder, rec *audit.Recorder) *Orchestrator {
	t.Helper()
	logger := zap.NewNop()
	m := NewMetrics(prometheus.NewRegistry())
	reg := connectors.NewMockRegistry()

	gate := policy.NewGate(
		signature.NewVerifier(rec, logger),
		ratelimit.NewLimiter(ratelimit.NewMemoryStore(), ratelimit.DefaultLimits(), logger),
		permissiveResolver{},
		rec,
		policy.NewMetrics(prometheus.NewRegistry()),
		logger,
	)
	deliberator := NewDeliberator(risk.NewAnalyzer(logger), reg, logger)
	hydrator := NewHydrator(permissiveResolver{}, nil, time.Second, rec, logger)
	executor := NewExecutor(reg, nil, rec, m, logger, fastOptions())
	optimizer := NewOptimizer(5*time.Second, logger)

	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	return NewOrchestrator(gate, deliberator, hydrator, executor, optimizer, rec, m, logger, WithTracerProvider(tp))
}

func pipelineRequest(delivery string) policy.Request {
	h := http.Header{}
	h.Set(policy.HeaderSignature, signature.Sign([]byte(pipelineBody), pipelineSecret))
	h.Set(policy.HeaderEvent, "issues")
	h.Set(policy.HeaderDelivery, delivery)
	return policy.Request{
		Headers:    h,
		Body:       []byte(pipelineBody),
		Secret:     pipelineSecret,
		Repository: "octo/hello",
		SenderID:   "octocat",
		Event:      domain.WebhookEvent{Type: "issues", Action: "opened", Number: 7, Title: "validate input"},
		TraceID:    "trace-1",
	}
}

func TestRun_HappyPath(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	rec := &audit.Recorder{}

	res := newPipeline(t, sr, rec).Run(context.Background(), pipelineRequest("d-100"))

	require.Equal(t, StageDone, res.Stage, res.Error)
	assert.NoError(t, res.Err())
	assert.True(t, res.Verdict.Admitted)
	require.NotNil(t, res.Plan)
	assert.Equal(t, "label-triage", res.Plan.Strategy)

	require.NotNil(t, res.Execution)
	assert.Equal(t, 2, res.Execution.Succeeded)
	assert.Equal(t, 2, res.ActionsAttempted())

	require.NotNil(t, res.Compliance)
	assert.Equal(t, 100.0, res.Compliance.Completeness.Score)
	assert.Equal(t, "A+", res.Grade)
	// 6 из 7 правил: ниже порога полного соответствия
	assert.False(t, res.FullyCompliant)

	require.NotNil(t, res.Context)
	assert.True(t, res.Context.Finalized())
	var journal []domain.TransitionType
	for _, tr := range res.Context.Transitions() {
		journal = append(journal, tr.Type)
	}
	assert.Equal(t, []domain.TransitionType{
		domain.TransitionInitialize, domain.TransitionChange, domain.TransitionChange, domain.TransitionComplete,
	}, journal)

	for _, stage := range []Stage{StagePolicyGate, StageDeliberation, StageHydration, StageExecution, StageFeedback} {
		assert.Contains(t, res.StageElapsed, stage)
		assert.Contains(t, spanNames(sr), "stage."+string(stage))
	}
	assert.Len(t, rec.Filter(audit.KindStage), 5)
}

func TestRun_DuplicateDeliveryRejected(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	o := newPipeline(t, sr, &audit.Recorder{})

	first := o.Run(context.Background(), pipelineRequest("d-dup"))
	second := o.Run(context.Background(), pipelineRequest("d-dup"))

	assert.Equal(t, StageDone, first.Stage)
	assert.Equal(t, StageRejected, second.Stage)
	assert.ErrorIs(t, second.Err(), domain.ErrAdmissionDenied)
	assert.Zero(t, second.ActionsAttempted())
}

func TestStageTerminal(t *testing.T) {
	assert.True(t, StageDone.Terminal())
	assert.True(t, StageRejected.Terminal())
	assert.True(t, StageFailed.Terminal())
	assert.False(t, StageExecution.Terminal())
}
