package domain

// QualityMetrics: метрики качества прогона. Первые три копируются из ComplianceReport,
// остальные выводятся из ExecutionReport.
type QualityMetrics struct {
	DefectDensity    float64 `json:"defect_density"`
	DensityPassed    bool    `json:"density_passed"`
	RuleSatisfaction float64 `json:"rule_satisfaction"`
	Completeness     float64 `json:"completeness"`
	Accuracy         float64 `json:"accuracy"`
	Timeliness       float64 `json:"timeliness"`
	Efficiency       float64 `json:"efficiency"`
}

// RecommendationPriority: приоритет рекомендации.
type RecommendationPriority string

const (
	PriorityHigh   RecommendationPriority = "high"
	PriorityMedium RecommendationPriority = "medium"
	PriorityLow    RecommendationPriority = "low"
)

// Rank для сортировки: меньше — важнее.
func (p RecommendationPriority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	default:
		return 2
	}
}

type Recommendation struct {
	Metric   string                 `json:"metric"`
	Message  string                 `json:"message"`
	Priority RecommendationPriority `json:"priority"`
}

// Optimization: результат Stage 5. Теги поощрений чисто наблюдательные.
type Optimization struct {
	Metrics         QualityMetrics     `json:"metrics"`
	Improvements    map[string]float64 `json:"improvements"`
	Recommendations []Recommendation   `json:"recommendations"`
	Incentives      []string           `json:"incentives"`
	OverallScore    float64            `json:"overall_score"`
	Grade           string             `json:"grade"`
}
