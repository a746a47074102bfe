package connectors

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/webhook-gate/internal/domain"
)

type recorded struct {
	method string
	path   string
	body   string
}

func newGitHub(t *testing.T, handler http.HandlerFunc) (*GitHubActions, func() []recorded) {
	t.Helper()
	var mu sync.Mutex
	var calls []recorded

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		calls = append(calls, recorded{r.Method, r.URL.Path, string(b)})
		mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	client := github.NewClient(nil)
	base, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	client.BaseURL = base

	return NewGitHubActions(client, []string{"octocat", "reviewer"}, zap.NewNop()), func() []recorded {
		mu.Lock()
		defer mu.Unlock()
		return append([]recorded(nil), calls...)
	}
}

func testContext() *domain.ExecutionContext {
	return &domain.ExecutionContext{
		EventID:    "run-1",
		EventType:  "issues",
		Repository: "octo/hello",
		Number:     7,
		Event:      domain.WebhookEvent{Sender: "octocat"},
		State: map[string]any{
			StateClassification: domain.EventClassification{Type: "issue", Subtype: "bug", Urgency: domain.UrgencyCritical},
			StatePriority:       domain.PriorityBreakdown{Urgency: 40, Complexity: 10, Impact: 15, Total: 65},
			StateStrategy:       "label-triage",
		},
	}
}

func TestPostReviewComment(t *testing.T) {
	g, calls := newGitHub(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": 42, "html_url": "https://github.com/octo/hello/issues/7#issuecomment-42"}`))
	})

	out, err := g.PostReviewComment(context.Background(), testContext())
	require.NoError(t, err)
	assert.Equal(t, int64(42), out.(map[string]any)["comment_id"])

	c := calls()
	require.Len(t, c, 1)
	assert.Equal(t, http.MethodPost, c[0].method)
	assert.Equal(t, "/repos/octo/hello/issues/7/comments", c[0].path)

	var body struct{ Body string }
	require.NoError(t, json.Unmarshal([]byte(c[0].body), &body))
	assert.Contains(t, body.Body, "urgency: `critical`")
	assert.Contains(t, body.Body, "priority: 65")
}

func TestAddLabelsAndClassify(t *testing.T) {
	g, calls := newGitHub(t, func(w http.ResponseWriter, r *http.Request) {
		var labels []string
		_ = json.NewDecoder(r.Body).Decode(&labels)
		_, _ = w.Write([]byte(`[{"name": "priority/critical"}]`))
	})

	out, err := g.AddLabels(context.Background(), testContext())
	require.NoError(t, err)
	assert.Equal(t, []string{"priority/critical"}, out.(map[string]any)["labels"])

	out, err = g.ClassifyIssue(context.Background(), testContext())
	require.NoError(t, err)
	assert.Equal(t, "kind/bug", out.(map[string]any)["label"])

	c := calls()
	require.Len(t, c, 2)
	assert.JSONEq(t, `["priority/critical"]`, c[0].body)
	assert.JSONEq(t, `["kind/bug"]`, c[1].body)
}

func TestRequestReviewers_SkipsAuthor(t *testing.T) {
	g, calls := newGitHub(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"number": 7}`))
	})

	out, err := g.RequestReviewers(context.Background(), testContext())
	require.NoError(t, err)
	assert.Equal(t, []string{"reviewer"}, out.(map[string]any)["requested"])

	c := calls()
	require.Len(t, c, 1)
	assert.Equal(t, "/repos/octo/hello/pulls/7/requested_reviewers", c[0].path)
	assert.Contains(t, c[0].body, `"reviewer"`)
	assert.NotContains(t, c[0].body, "octocat")
}

func TestGitHubErrors(t *testing.T) {
	t.Run("not found", func(t *testing.T) {
		g, _ := newGitHub(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message": "Not Found"}`))
		})
		_, err := g.PostReviewComment(context.Background(), testContext())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "404")
	})

	t.Run("rate limit", func(t *testing.T) {
		reset := time.Now().Add(30 * time.Second).Unix()
		g, _ := newGitHub(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-RateLimit-Limit", "60")
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset, 10))
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"message": "API rate limit exceeded for 127.0.0.1."}`))
		})
		_, err := g.AddLabels(context.Background(), testContext())
		require.Error(t, err)

		var throttle *ThrottleError
		require.True(t, errors.As(err, &throttle))
		assert.Greater(t, throttle.RetryAfter, time.Duration(0))
		assert.Contains(t, err.Error(), "rate limit")
	})

	t.Run("missing number", func(t *testing.T) {
		g, calls := newGitHub(t, func(w http.ResponseWriter, r *http.Request) {})
		ec := testContext()
		ec.Number = 0
		_, err := g.PostReviewComment(context.Background(), ec)
		assert.ErrorIs(t, err, domain.ErrExecution)
		assert.Empty(t, calls())
	})
}

func TestLabelRollback(t *testing.T) {
	g, calls := newGitHub(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`[]`))
	})
	r := NewRegistry()
	require.NoError(t, g.Register(r))

	a, ok := r.Lookup(ActionAddLabels)
	require.True(t, ok)
	comp, ok := a.(Compensator)
	require.True(t, ok)
	require.NoError(t, comp.Rollback(context.Background(), testContext()))

	c := calls()
	require.Len(t, c, 1)
	assert.Equal(t, http.MethodDelete, c[0].method)
	assert.Equal(t, "/repos/octo/hello/issues/7/labels/priority/critical", c[0].path)
}

func TestRecordEvent(t *testing.T) {
	out, err := RecordEvent(context.Background(), testContext())
	require.NoError(t, err)
	assert.Equal(t, "octo/hello", out.(map[string]any)["repository"])
}
