package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/xela07ax/webhook-gate/internal/connectors"
	"github.com/xela07ax/webhook-gate/internal/domain"
)

func TestDiagnose_NilError(t *testing.T) {
	d := Diagnose(nil, 1, DefaultDiagnosisDelays())
	assert.Equal(t, StrategyNone, d.Strategy)
	assert.False(t, d.Recoverable)
}

func TestDiagnose(t *testing.T) {
	delays := DefaultDiagnosisDelays()

	tests := []struct {
		name        string
		err         error
		attempt     int
		cause       string
		recoverable bool
		strategy    string
		delay       time.Duration
	}{
		{"rate limit text", errors.New("API rate limit exceeded"), 1, CauseRateLimit, true, StrategyWaitAndRetry, 2 * time.Second},
		{"throttle error", &connectors.ThrottleError{RetryAfter: 10 * time.Second}, 1, CauseRateLimit, true, StrategyWaitAndRetry, 10 * time.Second},
		{"throttle capped", &connectors.ThrottleError{RetryAfter: time.Hour}, 1, CauseRateLimit, true, StrategyWaitAndRetry, 30 * time.Second},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), 1, CauseNetwork, true, StrategyFixedDelay, time.Second},
		{"connection refused", errors.New("dial tcp: connection refused"), 1, CauseNetwork, true, StrategyFixedDelay, time.Second},
		{"not found", errors.New("404 Not Found"), 1, CauseNotFound, false, StrategyNone, 0},
		{"bad credentials", errors.New("401 Bad credentials"), 1, CauseAuth, false, StrategyNone, 0},
		{"unknown action", fmt.Errorf("%w: ghost", domain.ErrUnknownAction), 1, CauseUnknownAction, false, StrategyNone, 0},
		{"disabled", fmt.Errorf("a: %w", errActionDisabled), 0, CausePolicyDisabled, false, StrategyNone, 0},
		{"verification first", ErrVerification, 1, CauseVerification, true, StrategyFixedDelay, time.Second},
		{"verification last", ErrVerification, 2, CauseVerification, false, StrategyNone, time.Second},
		{"unclassified first", errors.New("boom"), 1, CauseUnclassified, true, StrategyFixedDelay, time.Second},
		{"unclassified last", errors.New("boom"), 2, CauseUnclassified, false, StrategyNone, time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Diagnose(tt.err, tt.attempt, delays)
			assert.Equal(t, tt.cause, d.Cause)
			assert.Equal(t, tt.recoverable, d.Recoverable)
			assert.Equal(t, tt.strategy, d.Strategy)
			assert.Equal(t, tt.delay, d.Delay)
			assert.Equal(t, tt.err.Error(), d.Message)
		})
	}
}
