package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: сколько длилась каждая стадия
	StageDuration *prometheus.HistogramVec

	// Traffic: прогоны по итоговой стадии (done, rejected, failed)
	Runs *prometheus.CounterVec

	// Errors: попытки действий по статусу
	ActionAttempts *prometheus.CounterVec

	// Quality: распределение оценок
	Grades *prometheus.CounterVec

	// Saturation: состояние Circuit Breaker (0 - closed, 1 - half-open, 2 - open)
	CircuitBreakerState *prometheus.GaugeVec

	// Audit: заполненность буфера (backpressure)
	AuditBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - если регистр не передан, используем локальный
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		StageDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gate_stage_duration_seconds",
			Help:    "Histogram of pipeline stage latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"stage"}),

		Runs: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "gate_runs_total",
			Help: "Total number of pipeline runs by final stage.",
		}, []string{"stage"}),

		ActionAttempts: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "gate_action_attempts_total",
			Help: "Total number of action attempts by action and status.",
		}, []string{"action", "status"}),

		Grades: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "gate_quality_grades_total",
			Help: "Total number of runs by quality grade.",
		}, []string{"grade"}),

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "gate_circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 1=half-open, 2=open).",
		}, []string{"name"}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "gate_audit_buffer_utilization",
			Help: "Current number of events in audit buffer.",
		}),
	}
}
