package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ReliabilitySettings: параметры предохранителя и исходящего лимитера.
type ReliabilitySettings struct {
	Name                string
	RPS                 float64
	Burst               int
	MaxHalfOpenRequests uint32
	Interval            time.Duration
	OpenTimeout         time.Duration
	ConsecutiveFailures uint32
}

func DefaultReliabilitySettings() ReliabilitySettings {
	return ReliabilitySettings{
		Name:                "gate-dispatch",
		RPS:                 100,
		Burst:               20,
		MaxHalfOpenRequests: 3,
		Interval:            5 * time.Second,
		OpenTimeout:         30 * time.Second, // через сколько CB попробует "закрыться"
		ConsecutiveFailures: 5,
	}
}

// ReliabilityWrapper: общий для всех действий предохранитель и исходящий лимитер.
// Ретраи здесь не делаются: ими управляет исполнитель после диагностики.
type ReliabilityWrapper struct {
	cb      *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

func NewReliabilityWrapper(s ReliabilitySettings, metrics *Metrics) *ReliabilityWrapper {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	gauge := metrics.CircuitBreakerState.WithLabelValues(s.Name)
	gauge.Set(0)

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: s.MaxHalfOpenRequests,
		Interval:    s.Interval,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			// больше N ошибок подряд — открываемся
			return counts.ConsecutiveFailures > s.ConsecutiveFailures
		},
		OnStateChange: func(_ string, _, to gobreaker.State) {
			gauge.Set(float64(to))
		},
	})

	return &ReliabilityWrapper{
		cb:      cb,
		limiter: rate.NewLimiter(rate.Limit(s.RPS), s.Burst),
	}
}

// Call пропускает вызов через лимитер и предохранитель.
func (w *ReliabilityWrapper) Call(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	// 1. Rate Limiter
	if err := w.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("dispatch rate limit exceeded: %w", err)
	}

	// 2. Circuit Breaker
	return w.cb.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
}

// State: текущее состояние предохранителя.
func (w *ReliabilityWrapper) State() gobreaker.State { return w.cb.State() }
