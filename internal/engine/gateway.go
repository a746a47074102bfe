package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"

	"github.com/xela07ax/webhook-gate/internal/domain"
	"github.com/xela07ax/webhook-gate/internal/policy"
)

// WebhookPath: маршрут приема доставок GitHub.
const WebhookPath = "/v1/webhooks/github"

// Pipeline: то, что гейтвей запускает на каждую доставку.
type Pipeline interface {
	Run(ctx context.Context, req policy.Request) Result
}

// Gateway: HTTP-вход: читает сырое тело, разбирает метаданные события и
// отдает прогон оркестратору.
type Gateway struct {
	pipeline Pipeline
	secret   string
	maxBody  int64
	logger   *zap.Logger
}

func NewGateway(pipeline Pipeline, secret string, maxBody int64, logger *zap.Logger) *Gateway {
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &Gateway{
		pipeline: pipeline,
		secret:   secret,
		maxBody:  maxBody,
		logger:   logger.With(zap.String("mod", "gateway")),
	}
}

// Response: сводка прогона для отправителя вебхука.
type Response struct {
	RunID          string   `json:"run_id"`
	Stage          Stage    `json:"stage"`
	Admitted       bool     `json:"admitted"`
	Grade          string   `json:"grade"`
	FullyCompliant bool     `json:"fully_compliant"`
	Actions        int      `json:"actions_attempted"`
	Reasons        []string `json:"reasons,omitempty"`
	Error          string   `json:"error,omitempty"`
	ElapsedMs      int64    `json:"elapsed_ms"`
}

// HandleWebhook принимает POST с подписанным телом.
func (g *Gateway) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	// 1. Тело читаем целиком и как есть: подпись считается по сырым байтам
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, g.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, Response{Error: "payload too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, Response{Error: "failed to read body"})
		return
	}
	defer r.Body.Close()

	// 2. Метаданные события; нераспознанный тип проверит гейт
	event := ParseEvent(github.WebHookType(r), body)

	// 3. Прогон
	res := g.pipeline.Run(r.Context(), policy.Request{
		Headers:    r.Header,
		Body:       body,
		Secret:     g.secret,
		Repository: event.Repository,
		SenderID:   event.Sender,
		DeliveryID: github.DeliveryID(r),
		Event:      event,
		TraceID:    TraceID(r.Context()),
		SentAt:     policy.ParseTimestamp(r.Header.Get(policy.HeaderTimestamp)),
	})

	// 4. Ответ
	status := StatusFor(res)
	if status == http.StatusTooManyRequests {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(res.Verdict.RetryAfter.Seconds()))))
	}
	if status >= http.StatusInternalServerError {
		g.logger.Error("pipeline failed", zap.String("run_id", res.RunID), zap.String("error", res.Error))
	}
	writeJSON(w, status, Summarize(res))
}

// StatusFor отображает итог прогона на HTTP-статус.
func StatusFor(res Result) int {
	switch res.Stage {
	case StageDone:
		return http.StatusAccepted
	case StageRejected:
		v := res.Verdict
		for _, vi := range v.Violations {
			if vi.Field == "signature" {
				return http.StatusUnauthorized
			}
		}
		if v.HasKind(domain.KindValidation) {
			return http.StatusBadRequest
		}
		if v.HasKind(domain.KindAdmission) {
			return http.StatusTooManyRequests
		}
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func Summarize(res Result) Response {
	return Response{
		RunID:          res.RunID,
		Stage:          res.Stage,
		Admitted:       res.Verdict.Admitted,
		Grade:          res.Grade,
		FullyCompliant: res.FullyCompliant,
		Actions:        res.ActionsAttempted(),
		Reasons:        res.Verdict.Reasons(),
		Error:          res.Error,
		ElapsedMs:      res.Elapsed.Milliseconds(),
	}
}

// envelope: общие для всех событий поля.
type envelope struct {
	Action string             `json:"action"`
	Repo   *github.Repository `json:"repository"`
	Sender *github.User       `json:"sender"`
}

// ParseEvent достает из тела то, что нужно стадиям 2+. Ошибки разбора не фатальны:
// пустые поля отсеет валидация гейта.
func ParseEvent(eventType string, body []byte) domain.WebhookEvent {
	e := domain.WebhookEvent{Type: eventType, ReceivedAt: time.Now()}

	var env envelope
	if err := json.Unmarshal(body, &env); err == nil {
		e.Action = env.Action
		e.Repository = env.Repo.GetFullName()
		e.Sender = env.Sender.GetLogin()
	}

	parsed, err := github.ParseWebHook(eventType, body)
	if err != nil {
		return e
	}

	switch ev := parsed.(type) {
	case *github.IssuesEvent:
		fillIssue(&e, ev.GetIssue())
	case *github.IssueCommentEvent:
		fillIssue(&e, ev.GetIssue())
		e.Body = ev.GetComment().GetBody()
	case *github.PullRequestEvent:
		fillPull(&e, ev.GetPullRequest())
		e.Number = ev.GetNumber()
	case *github.PullRequestReviewEvent:
		fillPull(&e, ev.GetPullRequest())
		e.Body = ev.GetReview().GetBody()
	case *github.PullRequestReviewCommentEvent:
		fillPull(&e, ev.GetPullRequest())
		e.Body = ev.GetComment().GetBody()
	case *github.PushEvent:
		e.Repository = ev.GetRepo().GetFullName()
		e.Sender = ev.GetSender().GetLogin()
		msg := ev.GetHeadCommit().GetMessage()
		e.Title, _, _ = strings.Cut(msg, "\n")
		e.Body = msg
	case *github.ReleaseEvent:
		e.Title = ev.GetRelease().GetName()
		e.Body = ev.GetRelease().GetBody()
	}
	return e
}

func fillIssue(e *domain.WebhookEvent, issue *github.Issue) {
	e.Number = issue.GetNumber()
	e.Title = issue.GetTitle()
	e.Body = issue.GetBody()
	for _, l := range issue.Labels {
		e.Labels = append(e.Labels, l.GetName())
	}
}

func fillPull(e *domain.WebhookEvent, pr *github.PullRequest) {
	e.Number = pr.GetNumber()
	e.Title = pr.GetTitle()
	e.Body = pr.GetBody()
	e.ChangedFiles = pr.GetChangedFiles()
	for _, l := range pr.Labels {
		e.Labels = append(e.Labels, l.GetName())
	}
}

// NewRouter собирает HTTP-роутер гейта.
func NewRouter(g *Gateway) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(TracingMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Post(WebhookPath, g.HandleWebhook)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
