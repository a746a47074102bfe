package policy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Verdicts: решения Stage 1 (admitted/rejected)
	Verdicts *prometheus.CounterVec

	// Violations: нарушения по классу и полю
	Violations *prometheus.CounterVec

	// RuleSatisfaction: распределение процента выполненных правил
	RuleSatisfaction prometheus.Histogram
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Если регистр не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		Verdicts: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "gate_verdicts_total",
			Help: "Total number of policy gate verdicts.",
		}, []string{"status"}),

		Violations: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "gate_violations_total",
			Help: "Total number of policy gate violations by kind and field.",
		}, []string{"kind", "field"}),

		RuleSatisfaction: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "gate_rule_satisfaction_percent",
			Help:    "Rule satisfaction score of evaluated payloads.",
			Buckets: []float64{0, 25, 50, 75, 85, 90, 95, 100},
		}),
	}
}
