package engine

import (
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/webhook-gate/internal/domain"
)

// Пороги рекомендаций.
const (
	accuracyTarget     = 80.0
	ruleTarget         = 95.0
	efficiencyTarget   = 70.0
	timelinessTarget   = 80.0
	completenessTarget = 80.0

	efficiencyBonus = 10.0
)

// Веса итоговой оценки. Сумма — 1.
var scoreWeights = struct {
	rules, density, completeness, accuracy, timeliness, efficiency float64
}{0.30, 0.20, 0.20, 0.15, 0.10, 0.05}

var gradeCutoffs = []struct {
	min   float64
	grade string
}{
	{95, "A+"}, {90, "A"}, {85, "B+"}, {80, "B"}, {75, "C+"}, {70, "C"}, {60, "D"},
}

// GradeFailed: оценка отклоненного или сломанного прогона.
const GradeFailed = "F"

// Grade переводит итоговый балл в букву.
func Grade(score float64) string {
	for _, c := range gradeCutoffs {
		if score >= c.min {
			return c.grade
		}
	}
	return GradeFailed
}

// Optimizer: Stage 5: метрики качества, рекомендации и поощрения.
// Поощрения — чистая бухгалтерия, на поведение пайплайна они не влияют.
type Optimizer struct {
	target time.Duration
	logger *zap.Logger
}

func NewOptimizer(timelinessTarget time.Duration, logger *zap.Logger) *Optimizer {
	if timelinessTarget <= 0 {
		timelinessTarget = 5 * time.Second
	}
	return &Optimizer{target: timelinessTarget, logger: logger.Named("optimizer")}
}

// Optimize считает метрики по отчету исполнения и отчету соответствия.
func (o *Optimizer) Optimize(report domain.ExecutionReport, compliance domain.ComplianceReport) domain.Optimization {
	n := len(report.Outcomes)

	m := domain.QualityMetrics{
		DefectDensity:    compliance.Density.Score,
		DensityPassed:    compliance.Density.Passed,
		RuleSatisfaction: compliance.Rules.Score,
		Completeness:     compliance.Completeness.Score,
		Accuracy:         accuracy(report),
		Timeliness:       o.timeliness(report),
	}

	singleRate := singleAttemptRate(report)
	m.Efficiency = singleRate
	if compliance.Density.Passed {
		m.Efficiency += efficiencyBonus
	}
	if compliance.Completeness.Passed {
		m.Efficiency += efficiencyBonus
	}
	m.Efficiency = math.Min(100, m.Efficiency)

	densityPoints := 0.0
	if m.DensityPassed {
		densityPoints = 100
	}
	overall := scoreWeights.rules*m.RuleSatisfaction +
		scoreWeights.density*densityPoints +
		scoreWeights.completeness*m.Completeness +
		scoreWeights.accuracy*m.Accuracy +
		scoreWeights.timeliness*m.Timeliness +
		scoreWeights.efficiency*m.Efficiency

	opt := domain.Optimization{
		Metrics: m,
		Improvements: map[string]float64{
			"accuracy":          gap(accuracyTarget, m.Accuracy),
			"rule_satisfaction": gap(ruleTarget, m.RuleSatisfaction),
			"efficiency":        gap(efficiencyTarget, m.Efficiency),
			"timeliness":        gap(timelinessTarget, m.Timeliness),
			"completeness":      gap(completenessTarget, m.Completeness),
			"defect_density":    densityGap(m),
		},
		Recommendations: recommendations(m),
		Incentives:      incentives(m, report, singleRate, n),
		OverallScore:    overall,
		Grade:           Grade(overall),
	}

	o.logger.Debug("run scored",
		zap.Float64("overall", overall),
		zap.String("grade", opt.Grade),
		zap.Int("recommendations", len(opt.Recommendations)),
	)
	return opt
}

// accuracy: идеальные попытки (по одной на действие) к фактическим.
func accuracy(r domain.ExecutionReport) float64 {
	actual := r.TotalAttempts()
	if actual == 0 {
		if len(r.Outcomes) == 0 {
			return 100
		}
		return 0
	}
	return math.Min(100, float64(len(r.Outcomes))/float64(actual)*100)
}

// timeliness: 100, если среднее время действия укладывается в цель, иначе пропорционально меньше.
func (o *Optimizer) timeliness(r domain.ExecutionReport) float64 {
	if len(r.Outcomes) == 0 {
		return 100
	}
	avg := r.TotalElapsed / time.Duration(len(r.Outcomes))
	if avg <= o.target {
		return 100
	}
	return float64(o.target) / float64(avg) * 100
}

// singleAttemptRate: доля действий, успешных с первой попытки, в процентах.
func singleAttemptRate(r domain.ExecutionReport) float64 {
	if len(r.Outcomes) == 0 {
		return 100
	}
	single := 0
	for _, o := range r.Outcomes {
		if o.Success && o.Attempts == 1 {
			single++
		}
	}
	return float64(single) / float64(len(r.Outcomes)) * 100
}

func gap(target, value float64) float64 {
	return math.Max(0, target-value)
}

// densityGap: сколько маркеров на 1000 строк нужно убрать; 0, если порог пройден.
func densityGap(m domain.QualityMetrics) float64 {
	if m.DensityPassed {
		return 0
	}
	return m.DefectDensity
}

func recommendations(m domain.QualityMetrics) []domain.Recommendation {
	var out []domain.Recommendation
	add := func(metric string, p domain.RecommendationPriority, format string, args ...any) {
		out = append(out, domain.Recommendation{Metric: metric, Priority: p, Message: fmt.Sprintf(format, args...)})
	}

	if m.Accuracy < accuracyTarget {
		add("accuracy", domain.PriorityMedium, "accuracy %.1f%% is below %.0f%%: reduce retries by fixing flaky actions", m.Accuracy, accuracyTarget)
	}
	if !m.DensityPassed {
		add("defect_density", domain.PriorityHigh, "defect density %.2f per 1000 lines: remove incompleteness markers", m.DefectDensity)
	}
	if m.RuleSatisfaction < ruleTarget {
		add("rule_satisfaction", domain.PriorityHigh, "rule satisfaction %.1f%% is below %.0f%%", m.RuleSatisfaction, ruleTarget)
	}
	if m.Efficiency < efficiencyTarget {
		add("efficiency", domain.PriorityLow, "efficiency %.1f%% is below %.0f%%", m.Efficiency, efficiencyTarget)
	}
	if m.Timeliness < timelinessTarget {
		add("timeliness", domain.PriorityLow, "timeliness %.1f%% is below %.0f%%: actions are slower than the target", m.Timeliness, timelinessTarget)
	}
	if m.Completeness < completenessTarget {
		add("completeness", domain.PriorityMedium, "completeness %.1f%% is below %.0f%%: some planned actions failed", m.Completeness, completenessTarget)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority.Rank() < out[j].Priority.Rank() })
	return out
}

func incentives(m domain.QualityMetrics, r domain.ExecutionReport, singleRate float64, n int) []string {
	tags := []string{}
	if m.Accuracy >= 90 {
		tags = append(tags, "high-accuracy")
	}
	if m.Efficiency >= 90 {
		tags = append(tags, "high-efficiency")
	}
	if m.RuleSatisfaction >= 95 {
		tags = append(tags, "constitutional-excellence")
	}
	if n > 0 && r.Failed == 0 {
		tags = append(tags, "zero-failures")
	}
	if n > 0 && singleRate >= 90 {
		tags = append(tags, "first-attempt-precision")
	}
	return tags
}
