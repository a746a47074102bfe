package policy

import (
	"context"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/webhook-gate/internal/audit"
	"github.com/xela07ax/webhook-gate/internal/domain"
	"github.com/xela07ax/webhook-gate/internal/ratelimit"
	"github.com/xela07ax/webhook-gate/internal/signature"
)

const (
	testSecret = "s3cr3t"
	// тело покрывает шесть обязательных правил каталога
	testBody = `{"action":"opened","title":"validate input","body":"err != nil handled by logger; type Config struct; tests added"}`
)

type staticResolver struct{ policy domain.RepoPolicy }

func (r staticResolver) Resolve(_ context.Context, repo string) domain.RepoPolicy {
	p := r.policy
	p.Repository = repo
	return p
}

func permissive() staticResolver {
	return staticResolver{policy: domain.RepoPolicy{RequiredRuleSatisfaction: 50, MaxDefectDensity: 1, MinCompleteness: 80}}
}

type fixture struct {
	gate     *Gate
	recorder *audit.Recorder
	metrics  *Metrics
}

func newFixture(t *testing.T, resolver ConfigResolver, limits ratelimit.Limits, opts ...signature.Option) fixture {
	t.Helper()
	rec := &audit.Recorder{}
	m := NewMetrics(prometheus.NewRegistry())
	verifier := signature.NewVerifier(rec, zap.NewNop(), opts...)
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), limits, zap.NewNop())
	return fixture{
		gate:     NewGate(verifier, limiter, resolver, rec, m, zap.NewNop()),
		recorder: rec,
		metrics:  m,
	}
}

func signedRequest(body string, delivery string) Request {
	h := http.Header{}
	h.Set(HeaderSignature, signature.Sign([]byte(body), testSecret))
	h.Set(HeaderEvent, "issues")
	h.Set(HeaderDelivery, delivery)
	return Request{
		Headers:    h,
		Body:       []byte(body),
		Secret:     testSecret,
		Repository: "octo/hello-world",
		SenderID:   "octocat",
	}
}

func fields(v domain.Verdict) []string {
	out := make([]string, 0, len(v.Violations))
	for _, vi := range v.Violations {
		out = append(out, vi.Field)
	}
	return out
}

func TestEvaluate_Admitted(t *testing.T) {
	f := newFixture(t, permissive(), ratelimit.DefaultLimits())

	v := f.gate.Evaluate(context.Background(), signedRequest(testBody, "d-1"))

	require.True(t, v.Admitted, v.Reasons())
	assert.Empty(t, v.Violations)
	assert.InDelta(t, 85.71, v.Confidence, 0.01)
	assert.Equal(t, "issues", v.Event.Type)
	assert.Equal(t, "d-1", v.Event.DeliveryID)
	assert.Equal(t, "octo/hello-world", v.Event.Repository)
	assert.NotEmpty(t, v.Event.ID)
	assert.NoError(t, Err(v))

	verdicts := f.recorder.Filter(audit.KindVerdict)
	require.Len(t, verdicts, 1)
	assert.Equal(t, "ADMITTED", verdicts[0].Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Verdicts.WithLabelValues("admitted")))
}

func TestEvaluate_MissingParameters(t *testing.T) {
	f := newFixture(t, permissive(), ratelimit.DefaultLimits())

	req := signedRequest(testBody, "d-1")
	req.Secret = ""
	v := f.gate.Evaluate(context.Background(), req)

	assert.False(t, v.Admitted)
	require.Len(t, v.Violations, 1)
	assert.Equal(t, signature.ReasonMissingParameters, v.Violations[0].Message)
	assert.ErrorIs(t, Err(v), domain.ErrValidation)
}

func TestEvaluate_BadSignature(t *testing.T) {
	f := newFixture(t, permissive(), ratelimit.DefaultLimits())

	req := signedRequest(testBody, "d-1")
	req.Body = []byte(testBody + " ")
	v := f.gate.Evaluate(context.Background(), req)

	assert.False(t, v.Admitted)
	assert.Equal(t, []string{"signature"}, fields(v))
	assert.Equal(t, signature.ReasonHashMismatch, v.Violations[0].Message)

	security := f.recorder.Filter(audit.KindSecurity)
	require.Len(t, security, 1)
	assert.Equal(t, audit.CategorySignatureFailed, security[0].Category)
}

func TestEvaluate_MissingHeader(t *testing.T) {
	f := newFixture(t, permissive(), ratelimit.DefaultLimits())

	req := signedRequest(testBody, "d-1")
	req.Headers.Del(HeaderSignature)
	v := f.gate.Evaluate(context.Background(), req)

	assert.False(t, v.Admitted)
	assert.Equal(t, "missing signature header", v.Violations[0].Message)
}

func TestEvaluate_AccumulatesViolations(t *testing.T) {
	f := newFixture(t, permissive(), ratelimit.DefaultLimits())

	req := signedRequest(testBody, "bad delivery")
	req.Repository = "not-a-repo"
	req.Body = []byte(testBody + "x")
	v := f.gate.Evaluate(context.Background(), req)

	assert.False(t, v.Admitted)
	assert.Equal(t, []string{"repository", "delivery_id", "signature"}, fields(v))
	assert.Len(t, f.recorder.Filter(audit.KindSecurity), 3) // 2 invalid_field + signature_failed
}

func TestEvaluate_DuplicateDeliveryDenied(t *testing.T) {
	f := newFixture(t, permissive(), ratelimit.DefaultLimits())
	ctx := context.Background()

	first := f.gate.Evaluate(ctx, signedRequest(testBody, "d-dup"))
	require.True(t, first.Admitted)

	second := f.gate.Evaluate(ctx, signedRequest(testBody, "d-dup"))
	assert.False(t, second.Admitted)
	assert.Equal(t, []string{"scope:delivery"}, fields(second))
	assert.True(t, second.HasKind(domain.KindAdmission))
	assert.Positive(t, second.RetryAfter)
	assert.ErrorIs(t, Err(second), domain.ErrAdmissionDenied)

	denied := f.recorder.Filter(audit.KindSecurity)
	require.Len(t, denied, 1)
	assert.Equal(t, audit.CategoryAdmissionDenied, denied[0].Category)
}

func TestEvaluate_ConstitutionalThresholds(t *testing.T) {
	f := newFixture(t, staticResolver{policy: domain.DefaultRepoPolicy("")}, ratelimit.DefaultLimits())

	v := f.gate.Evaluate(context.Background(), signedRequest(testBody, "d-1"))

	assert.False(t, v.Admitted)
	assert.Equal(t, []string{"rule_satisfaction"}, fields(v))
	assert.ErrorIs(t, Err(v), domain.ErrConstitutionalViolation)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Violations.WithLabelValues("CONSTITUTIONAL", "rule_satisfaction")))

	marked := signedRequest(testBody+"\n// TODO", "d-2")
	v = f.gate.Evaluate(context.Background(), marked)
	assert.Contains(t, fields(v), "defect_density")
}

type recordingResolver struct {
	staticResolver
	seen []string
}

func (r *recordingResolver) Resolve(ctx context.Context, repo string) domain.RepoPolicy {
	r.seen = append(r.seen, repo)
	return r.staticResolver.Resolve(ctx, repo)
}

func TestEvaluate_TrimmedIdentitiesShareWindow(t *testing.T) {
	limits := ratelimit.DefaultLimits()
	limits.Repository = ratelimit.Rule{Max: 1, Window: time.Minute}
	resolver := &recordingResolver{staticResolver: permissive()}
	f := newFixture(t, resolver, limits)
	ctx := context.Background()

	first := f.gate.Evaluate(ctx, signedRequest(testBody, "d-1"))
	require.True(t, first.Admitted)

	padded := signedRequest(testBody, "  d-2  ")
	padded.Repository = "  octo/hello-world  "
	padded.SenderID = " octocat "
	padded.Event.Action = " opened "
	second := f.gate.Evaluate(ctx, padded)

	assert.False(t, second.Admitted)
	assert.Equal(t, []string{"scope:repo"}, fields(second))
	assert.Equal(t, "octo/hello-world", second.Event.Repository)
	assert.Equal(t, "octocat", second.Event.Sender)
	assert.Equal(t, "d-2", second.Event.DeliveryID)
	assert.Equal(t, "opened", second.Event.Action)
	assert.Equal(t, []string{"octo/hello-world", "octo/hello-world"}, resolver.seen)
}

func TestEvaluate_InvalidAction(t *testing.T) {
	f := newFixture(t, permissive(), ratelimit.DefaultLimits())

	req := signedRequest(testBody, "d-1")
	req.Event.Action = "Opened; DROP"
	v := f.gate.Evaluate(context.Background(), req)

	assert.False(t, v.Admitted)
	assert.Equal(t, []string{"action"}, fields(v))
	assert.ErrorIs(t, Err(v), domain.ErrValidation)
}

func TestEvaluate_SignatureFreshness(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, permissive(), ratelimit.DefaultLimits(),
		signature.WithMaxAge(time.Minute), signature.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	stale := signedRequest(testBody, "d-1")
	stale.SentAt = now.Add(-2 * time.Minute)
	v := f.gate.Evaluate(ctx, stale)
	assert.False(t, v.Admitted)
	require.Equal(t, []string{"signature"}, fields(v))
	assert.Equal(t, signature.ReasonExpired, v.Violations[0].Message)

	viaHeader := signedRequest(testBody, "d-2")
	viaHeader.Headers.Set(HeaderTimestamp, strconv.FormatInt(now.Add(-10*time.Minute).Unix(), 10))
	v = f.gate.Evaluate(ctx, viaHeader)
	assert.Equal(t, signature.ReasonExpired, v.Violations[0].Message)

	fresh := signedRequest(testBody, "d-3")
	fresh.Headers.Set(HeaderTimestamp, now.Add(-10*time.Second).Format(time.RFC3339))
	assert.True(t, f.gate.Evaluate(ctx, fresh).Admitted)
}

func TestParseTimestamp(t *testing.T) {
	assert.True(t, ParseTimestamp("").IsZero())
	assert.True(t, ParseTimestamp("yesterday").IsZero())
	assert.Equal(t, int64(1700000000), ParseTimestamp("1700000000").Unix())
	assert.Equal(t, int64(1700000000), ParseTimestamp(time.Unix(1700000000, 0).UTC().Format(time.RFC3339)).Unix())
}
