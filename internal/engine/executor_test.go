package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/webhook-gate/internal/audit"
	"github.com/xela07ax/webhook-gate/internal/connectors"
	"github.com/xela07ax/webhook-gate/internal/domain"
)

func fastOptions() ExecutorOptions {
	return ExecutorOptions{
		ActionTimeout: time.Second,
		Delays: DiagnosisDelays{
			RateLimit:    5 * time.Millisecond,
			Network:      time.Millisecond,
			Unclassified: time.Millisecond,
			MaxThrottle:  10 * time.Millisecond,
		},
	}
}

func testContext(p domain.RepoPolicy) *domain.ExecutionContext {
	return &domain.ExecutionContext{
		EventID:    "run-1",
		Repository: "octo/hello",
		Number:     7,
		Event:      domain.WebhookEvent{ID: "run-1", DeliveryID: "d-1", Repository: "octo/hello", Number: 7},
		Config:     p,
		State:      map[string]any{},
	}
}

func newTestExecutor(t *testing.T, actions map[string]connectors.Action) (*Executor, *audit.Recorder) {
	t.Helper()
	reg := connectors.NewRegistry()
	for name, a := range actions {
		require.NoError(t, reg.Register(name, a))
	}
	rec := &audit.Recorder{}
	return NewExecutor(reg, nil, rec, NewMetrics(prometheus.NewRegistry()), zap.NewNop(), fastOptions()), rec
}

func plan(actions ...string) domain.ActionPlan {
	return domain.ActionPlan{Strategy: "test", Actions: actions}
}

func TestExecutor_Success(t *testing.T) {
	ok := connectors.MockOK(map[string]any{"id": 1})
	ex, rec := newTestExecutor(t, map[string]connectors.Action{"a": ok})

	report := ex.Execute(context.Background(), testContext(domain.DefaultRepoPolicy("octo/hello")), plan("a"))

	require.Len(t, report.Outcomes, 1)
	out := report.Outcomes[0]
	assert.True(t, out.Success)
	assert.Equal(t, 1, out.Attempts)
	assert.Nil(t, out.Diagnosis)
	assert.Equal(t, 1, report.Succeeded)
	assert.True(t, report.Success())

	events := rec.Filter(audit.KindAction)
	require.Len(t, events, 1)
	assert.Equal(t, "SUCCESS", events[0].Status)
	assert.Equal(t, "a", events[0].Category)
}

func TestExecutor_NotFoundIsTerminal(t *testing.T) {
	missing := connectors.MockFail(errors.New("GET /repos/octo/hello: 404 Not Found"))
	ex, _ := newTestExecutor(t, map[string]connectors.Action{"a": missing})

	report := ex.Execute(context.Background(), testContext(domain.DefaultRepoPolicy("octo/hello")), plan("a"))

	out := report.Outcomes[0]
	assert.False(t, out.Success)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, 1, missing.Calls())
	require.NotNil(t, out.Diagnosis)
	assert.Equal(t, CauseNotFound, out.Diagnosis.Cause)
	assert.False(t, out.Diagnosis.Recoverable)
}

func TestExecutor_TimeoutThenSuccess(t *testing.T) {
	flaky := connectors.MockSequence(
		connectors.MockStep{Err: errors.New("request timeout")},
		connectors.MockStep{Output: "done"},
	)
	ex, rec := newTestExecutor(t, map[string]connectors.Action{"a": flaky})

	report := ex.Execute(context.Background(), testContext(domain.DefaultRepoPolicy("octo/hello")), plan("a"))

	out := report.Outcomes[0]
	assert.True(t, out.Success)
	assert.Equal(t, 2, out.Attempts)
	assert.Equal(t, "done", out.Output)

	var statuses []string
	for _, e := range rec.Filter(audit.KindAction) {
		statuses = append(statuses, e.Status)
	}
	assert.Equal(t, []string{"RETRYING", "SUCCESS"}, statuses)
}

func TestExecutor_AttemptsAreBounded(t *testing.T) {
	down := connectors.MockFail(errors.New("connection refused"))
	ex, _ := newTestExecutor(t, map[string]connectors.Action{"a": down})

	report := ex.Execute(context.Background(), testContext(domain.DefaultRepoPolicy("octo/hello")), plan("a"))

	out := report.Outcomes[0]
	assert.False(t, out.Success)
	assert.Equal(t, MaxAttempts, out.Attempts)
	assert.Equal(t, MaxAttempts, down.Calls())
	assert.Equal(t, CauseNetwork, out.Diagnosis.Cause)
}

func TestExecutor_UnknownAction(t *testing.T) {
	ok := connectors.MockOK("x")
	ex, _ := newTestExecutor(t, map[string]connectors.Action{"a": ok})

	report := ex.Execute(context.Background(), testContext(domain.DefaultRepoPolicy("octo/hello")), plan("ghost", "a"))

	require.Len(t, report.Outcomes, 2)
	ghost := report.Outcomes[0]
	assert.False(t, ghost.Success)
	assert.Equal(t, 1, ghost.Attempts)
	assert.Equal(t, CauseUnknownAction, ghost.Diagnosis.Cause)

	// провал одного действия не останавливает следующие
	assert.True(t, report.Outcomes[1].Success)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
}

func TestExecutor_NilOutputFailsVerification(t *testing.T) {
	empty := connectors.MockOK(nil)
	ex, _ := newTestExecutor(t, map[string]connectors.Action{"a": empty})

	report := ex.Execute(context.Background(), testContext(domain.DefaultRepoPolicy("octo/hello")), plan("a"))

	out := report.Outcomes[0]
	assert.False(t, out.Success)
	assert.Equal(t, MaxAttempts, out.Attempts)
	assert.Equal(t, CauseVerification, out.Diagnosis.Cause)
	assert.False(t, out.Diagnosis.Recoverable)
}

func TestExecutor_DisabledByPolicy(t *testing.T) {
	a := connectors.MockOK("x")
	b := connectors.MockOK("y")
	ex, _ := newTestExecutor(t, map[string]connectors.Action{"a": a, "b": b})

	p := domain.DefaultRepoPolicy("octo/hello")
	p.EnabledActions = []string{"b"}
	report := ex.Execute(context.Background(), testContext(p), plan("a", "b"))

	assert.False(t, report.Outcomes[0].Success)
	assert.Equal(t, 0, report.Outcomes[0].Attempts)
	assert.Equal(t, CausePolicyDisabled, report.Outcomes[0].Diagnosis.Cause)
	assert.Equal(t, 0, a.Calls())
	assert.True(t, report.Outcomes[1].Success)
}

func TestExecutor_ThrottleUsesRetryAfter(t *testing.T) {
	throttled := connectors.MockSequence(
		connectors.MockStep{Err: &connectors.ThrottleError{RetryAfter: time.Hour}},
		connectors.MockStep{Output: "ok"},
	)
	ex, _ := newTestExecutor(t, map[string]connectors.Action{"a": throttled})

	start := time.Now()
	report := ex.Execute(context.Background(), testContext(domain.DefaultRepoPolicy("octo/hello")), plan("a"))

	assert.True(t, report.Outcomes[0].Success)
	assert.Equal(t, 2, report.Outcomes[0].Attempts)
	// пауза ограничена MaxThrottle
	assert.Less(t, time.Since(start), time.Second)
}

func TestExecutor_ActionTimeout(t *testing.T) {
	slow := connectors.MockOK("late")
	slow.Latency = 200 * time.Millisecond
	ex, _ := newTestExecutor(t, map[string]connectors.Action{"a": slow})
	ex.opts.ActionTimeout = 10 * time.Millisecond

	report := ex.Execute(context.Background(), testContext(domain.DefaultRepoPolicy("octo/hello")), plan("a"))

	out := report.Outcomes[0]
	assert.False(t, out.Success)
	assert.Equal(t, MaxAttempts, out.Attempts)
	assert.Equal(t, CauseNetwork, out.Diagnosis.Cause)
}

func TestExecutor_Rollback(t *testing.T) {
	a := connectors.MockOK("x")
	reg := connectors.NewRegistry()
	require.NoError(t, reg.Register("a", a))
	require.NoError(t, reg.Register("plain", connectors.ActionFunc(connectors.RecordEvent)))
	rec := &audit.Recorder{}
	ex := NewExecutor(reg, nil, rec, nil, zap.NewNop(), fastOptions())
	ec := testContext(domain.DefaultRepoPolicy("octo/hello"))

	require.NoError(t, ex.Rollback(context.Background(), ec, "a"))
	assert.Equal(t, 1, a.Rollbacks())

	err := ex.Rollback(context.Background(), ec, "plain")
	assert.ErrorIs(t, err, domain.ErrExecution)

	err = ex.Rollback(context.Background(), ec, "ghost")
	assert.ErrorIs(t, err, domain.ErrUnknownAction)

	events := rec.Filter(audit.KindAction)
	require.Len(t, events, 1)
	assert.Equal(t, "ROLLED_BACK", events[0].Status)
}
