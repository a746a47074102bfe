package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/webhook-gate/internal/audit"
	"github.com/xela07ax/webhook-gate/internal/connectors"
	"github.com/xela07ax/webhook-gate/internal/domain"
)

type fixedResolver struct{ policy domain.RepoPolicy }

func (r fixedResolver) Resolve(_ context.Context, repo string) domain.RepoPolicy {
	p := r.policy.Normalize()
	p.Repository = repo
	return p
}

func hydrateFixture(t *testing.T, checks ...HealthCheck) (*Hydrator, *domain.ExecutionContext, *audit.Recorder) {
	t.Helper()
	rec := &audit.Recorder{}
	h := NewHydrator(fixedResolver{}, checks, 100*time.Millisecond, rec, zap.NewNop())
	e := domain.WebhookEvent{ID: "run-1", DeliveryID: "d-1", Type: "issues", Repository: "octo/hello", Number: 4}
	ec, err := h.Hydrate(context.Background(), e, domain.ActionPlan{Strategy: "label-triage", Actions: []string{"add-labels"}})
	require.NoError(t, err)
	return h, ec, rec
}

func TestHydrate(t *testing.T) {
	up := CheckFunc{CheckName: "redis", Fn: func(context.Context) error { return nil }}
	down := CheckFunc{CheckName: "storage", Fn: func(context.Context) error { return errors.New("connection refused") }}

	_, ec, rec := hydrateFixture(t, up, down)

	assert.Equal(t, "run-1", ec.EventID)
	assert.Equal(t, "octo/hello", ec.Config.Repository)
	assert.Equal(t, domain.DefaultMinCompleteness, ec.Config.MinCompleteness)
	assert.Equal(t, "label-triage", ec.State[connectors.StateStrategy])

	require.Len(t, ec.Health.Dependencies, 2)
	assert.True(t, ec.Health.Dependencies["redis"].Healthy)
	assert.False(t, ec.Health.Dependencies["storage"].Healthy)
	assert.Equal(t, "connection refused", ec.Health.Dependencies["storage"].Error)
	assert.False(t, ec.Health.Healthy())

	ts := ec.Transitions()
	require.Len(t, ts, 1)
	assert.Equal(t, domain.TransitionInitialize, ts[0].Type)
	assert.Len(t, rec.Filter(audit.KindTransition), 1)
}

func TestHydrate_HealthTimeout(t *testing.T) {
	hang := CheckFunc{CheckName: "classifier", Fn: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}

	start := time.Now()
	_, ec, _ := hydrateFixture(t, hang)

	assert.Less(t, time.Since(start), time.Second)
	assert.False(t, ec.Health.Dependencies["classifier"].Healthy)
}

func TestHydrate_CancelledContext(t *testing.T) {
	h := NewHydrator(fixedResolver{}, nil, 0, nil, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.Hydrate(ctx, domain.WebhookEvent{ID: "x"}, domain.ActionPlan{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTransition(t *testing.T) {
	h, ec, _ := hydrateFixture(t)

	require.NoError(t, h.Transition(ec, "plan", func(state map[string]any) error {
		state["actions"] = []string{"add-labels"}
		return nil
	}))

	boom := errors.New("boom")
	err := h.Transition(ec, "broken", func(state map[string]any) error { return boom })
	assert.ErrorIs(t, err, boom)

	ts := ec.Transitions()
	require.Len(t, ts, 3)

	assert.Equal(t, domain.TransitionChange, ts[1].Type)
	assert.NotContains(t, ts[1].Before, "actions")
	assert.Contains(t, ts[1].After, "actions")

	assert.Equal(t, domain.TransitionError, ts[2].Type)
	assert.Equal(t, "boom", ts[2].Error)
	assert.Nil(t, ts[2].After)

	for i := 1; i < len(ts); i++ {
		assert.False(t, ts[i].At.Before(ts[i-1].At))
	}
}

func TestComplete(t *testing.T) {
	h, ec, rec := hydrateFixture(t)
	require.NoError(t, h.Transition(ec, "plan", func(map[string]any) error { return nil }))

	require.NoError(t, h.Complete(ec))

	ts := ec.Transitions()
	last := ts[len(ts)-1]
	assert.Equal(t, domain.TransitionComplete, last.Type)
	assert.Equal(t, 2, last.Count)
	assert.True(t, ec.Finalized())

	// закрытый контекст только на чтение
	err := h.Transition(ec, "late", func(map[string]any) error { return nil })
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.ErrorIs(t, h.Complete(ec), domain.ErrInvalidState)

	statuses := []string{}
	for _, e := range rec.Filter(audit.KindTransition) {
		statuses = append(statuses, e.Status)
	}
	assert.Equal(t, []string{"INITIALIZE", "TRANSITION", "COMPLETE"}, statuses)
}

func TestValidateState(t *testing.T) {
	h, ec, _ := hydrateFixture(t)
	require.NoError(t, h.ValidateState(ec))

	tests := []struct {
		name   string
		mutate func(ec *domain.ExecutionContext)
	}{
		{"no event id", func(ec *domain.ExecutionContext) { ec.EventID = "" }},
		{"no policy", func(ec *domain.ExecutionContext) { ec.Config = domain.RepoPolicy{} }},
		{"no health", func(ec *domain.ExecutionContext) { ec.Health = domain.HealthSnapshot{} }},
		{"missing state key", func(ec *domain.ExecutionContext) { delete(ec.State, connectors.StatePriority) }},
		{"journal without initialize", func(ec *domain.ExecutionContext) {
			*ec = domain.ExecutionContext{
				EventID: ec.EventID, Repository: ec.Repository, Config: ec.Config,
				Health: ec.Health, State: ec.State,
			}
		}},
		{"finalized", func(ec *domain.ExecutionContext) { ec.Finalize() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, fresh, _ := hydrateFixture(t)
			tt.mutate(fresh)
			assert.ErrorIs(t, h.ValidateState(fresh), domain.ErrInvalidState)
		})
	}

	assert.ErrorIs(t, h.ValidateState(nil), domain.ErrInvalidState)
}
