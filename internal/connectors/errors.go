package connectors

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/go-github/v57/github"
)

// ThrottleError: внешний API попросил подождать. RetryAfter берется из заголовков ответа.
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("rate limit: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }

// classifyGitHubError превращает ограничения GitHub в ThrottleError, остальное оборачивает как есть.
func classifyGitHubError(op string, err error, now time.Time) error {
	if err == nil {
		return nil
	}

	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		wait := rateErr.Rate.Reset.Time.Sub(now)
		if wait < 0 {
			wait = 0
		}
		return fmt.Errorf("%s: %w", op, &ThrottleError{RetryAfter: wait, Cause: err})
	}

	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		var wait time.Duration
		if abuseErr.RetryAfter != nil {
			wait = *abuseErr.RetryAfter
		}
		return fmt.Errorf("%s: %w", op, &ThrottleError{RetryAfter: wait, Cause: err})
	}

	return fmt.Errorf("%s: %w", op, err)
}
