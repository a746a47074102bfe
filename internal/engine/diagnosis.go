package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/xela07ax/webhook-gate/internal/connectors"
	"github.com/xela07ax/webhook-gate/internal/domain"
)

// Причины в каталоге диагностики.
const (
	CauseRateLimit      = "rate_limit"
	CauseNetwork        = "network"
	CauseNotFound       = "not_found"
	CauseAuth           = "auth"
	CauseUnknownAction  = "unknown_action"
	CausePolicyDisabled = "policy_disabled"
	CauseVerification   = "verification"
	CauseUnclassified   = "unclassified"
)

// Стратегии восстановления. Обе ретрай-стратегии ждут фиксированную паузу.
const (
	StrategyWaitAndRetry = "wait-and-retry"
	StrategyFixedDelay   = "fixed-delay-retry"
	StrategyNone         = "none"
)

// ErrVerification: действие вернуло nil вместо результата.
var ErrVerification = errors.New("verification failed: action returned no output")

// DiagnosisDelays: паузы перед повтором по классам причин.
type DiagnosisDelays struct {
	RateLimit    time.Duration
	Network      time.Duration
	Unclassified time.Duration
	// MaxThrottle ограничивает Retry-After, пришедший от внешнего API.
	MaxThrottle time.Duration
}

func DefaultDiagnosisDelays() DiagnosisDelays {
	return DiagnosisDelays{
		RateLimit:    2 * time.Second,
		Network:      time.Second,
		Unclassified: time.Second,
		MaxThrottle:  30 * time.Second,
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// Diagnose классифицирует ошибку попытки attempt (с 1) по фиксированному каталогу.
// Неклассифицированная ошибка восстановима, только пока остаются попытки.
func Diagnose(err error, attempt int, delays DiagnosisDelays) domain.Diagnosis {
	if err == nil {
		return domain.Diagnosis{Cause: "", Strategy: StrategyNone}
	}
	msg := strings.ToLower(err.Error())
	attemptsLeft := attempt < MaxAttempts

	terminal := func(cause string) domain.Diagnosis {
		return domain.Diagnosis{Cause: cause, Recoverable: false, Strategy: StrategyNone, Message: err.Error()}
	}

	var throttle *connectors.ThrottleError
	var netErr net.Error
	switch {
	case errors.Is(err, domain.ErrUnknownAction):
		return terminal(CauseUnknownAction)

	case errors.Is(err, errActionDisabled):
		return terminal(CausePolicyDisabled)

	case errors.As(err, &throttle) || containsAny(msg, "rate limit"):
		delay := delays.RateLimit
		if throttle != nil && throttle.RetryAfter > delay {
			delay = min(throttle.RetryAfter, delays.MaxThrottle)
		}
		return domain.Diagnosis{Cause: CauseRateLimit, Recoverable: true, Strategy: StrategyWaitAndRetry, Delay: delay, Message: err.Error()}

	case errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) ||
		containsAny(msg, "network", "timeout", "connection refused", "connection reset"):
		return domain.Diagnosis{Cause: CauseNetwork, Recoverable: true, Strategy: StrategyFixedDelay, Delay: delays.Network, Message: err.Error()}

	case containsAny(msg, "not found", "404"):
		return terminal(CauseNotFound)

	case containsAny(msg, "authentication", "unauthorized", "bad credentials", "401"):
		return terminal(CauseAuth)

	case errors.Is(err, ErrVerification):
		return domain.Diagnosis{Cause: CauseVerification, Recoverable: attemptsLeft, Strategy: retryStrategy(attemptsLeft), Delay: delays.Unclassified, Message: err.Error()}

	default:
		return domain.Diagnosis{Cause: CauseUnclassified, Recoverable: attemptsLeft, Strategy: retryStrategy(attemptsLeft), Delay: delays.Unclassified, Message: err.Error()}
	}
}

func retryStrategy(retry bool) string {
	if retry {
		return StrategyFixedDelay
	}
	return StrategyNone
}

var errActionDisabled = fmt.Errorf("%w: action disabled by repository policy", domain.ErrExecution)
