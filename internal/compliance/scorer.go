// Package compliance считает три независимых показателя соответствия текста политике:
// плотность маркеров незавершенной работы, процент выполненных правил и готовность функциональностей.
// Все функции детерминированы и не держат состояния.
package compliance

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/xela07ax/webhook-gate/internal/domain"
)

// markerPattern: маркеры незавершенной работы. Строка с несколькими маркерами считается один раз.
var markerPattern = regexp.MustCompile(
	`\b(TODO|FIXME|XXX|HACK)\b|@ts-ignore|eslint-disable|\bnolint\b|(?i:\bplaceholder\b|\bmock data\b|\bnot implemented\b|\bstub\b)`,
)

// Thresholds: пороги прохождения, обычно берутся из RepoPolicy.
type Thresholds struct {
	RuleSatisfaction float64 // >=
	MaxDefectDensity float64 // строго <
	MinCompleteness  float64 // >=
}

// DefaultThresholds: 95 / 1.0 / 80.
func DefaultThresholds() Thresholds {
	return ThresholdsFrom(domain.DefaultRepoPolicy(""))
}

// ThresholdsFrom берет пороги из нормализованной политики репозитория.
func ThresholdsFrom(p domain.RepoPolicy) Thresholds {
	p = p.Normalize()
	return Thresholds{
		RuleSatisfaction: p.RequiredRuleSatisfaction,
		MaxDefectDensity: p.MaxDefectDensity,
		MinCompleteness:  p.MinCompleteness,
	}
}

// CountMarkers возвращает число строк с маркерами и общее число строк.
func CountMarkers(text string) (markers, lines int) {
	lines = strings.Count(text, "\n") + 1
	for _, line := range strings.Split(text, "\n") {
		if markerPattern.MatchString(line) {
			markers++
		}
	}
	return markers, lines
}

// DefectDensity: маркеров на 1000 строк с порогом по умолчанию.
func DefectDensity(text string) domain.DensityScore {
	return defectDensity(text, DefaultThresholds().MaxDefectDensity)
}

func defectDensity(text string, maxDensity float64) domain.DensityScore {
	markers, lines := CountMarkers(text)
	score := float64(markers) / float64(lines) * 1000
	return domain.DensityScore{
		Score:   score,
		Markers: markers,
		Lines:   lines,
		Passed:  score < maxDensity,
	}
}

// RuleSatisfaction проверяет текст по каталогу правил с порогом по умолчанию.
func RuleSatisfaction(text string) domain.RuleScore {
	return ruleSatisfaction(text, DefaultThresholds().RuleSatisfaction)
}

func ruleSatisfaction(text string, threshold float64) domain.RuleScore {
	markers, _ := CountMarkers(text)

	var total, satisfied float64
	results := make([]domain.RuleResult, 0, len(Catalog))
	for _, r := range Catalog {
		ok := r.match(text, markers)
		total += r.Weight
		if ok {
			satisfied += r.Weight
		}
		results = append(results, domain.RuleResult{
			Name:      r.Name,
			Weight:    r.Weight,
			Required:  r.Required,
			Satisfied: ok,
		})
	}

	score := 0.0
	if total > 0 {
		score = satisfied / total * 100
	}
	return domain.RuleScore{Score: score, Rules: results, Passed: score >= threshold}
}

// Completeness: средняя готовность. Пустой набор дает 0 и провал.
func Completeness(features []domain.Feature) domain.CompletenessScore {
	return completeness(features, DefaultThresholds().MinCompleteness)
}

func completeness(features []domain.Feature, threshold float64) domain.CompletenessScore {
	out := domain.CompletenessScore{Features: append([]domain.Feature(nil), features...)}
	if len(features) == 0 {
		return out
	}

	var sum float64
	for _, f := range features {
		c := math.Max(0, math.Min(100, f.Completeness))
		sum += c
		switch {
		case c >= 100:
			out.Implemented++
		case c > 0:
			out.Partial++
		default:
			out.Missing++
		}
	}
	out.Score = sum / (float64(len(features)) * 100) * 100
	out.Passed = out.Score >= threshold
	return out
}

// Score сводит три показателя в отчет. Отчет проходит, только если выполнены все
// обязательные правила, плотность и готовность в пределах порогов.
func Score(text string, features []domain.Feature, th Thresholds) domain.ComplianceReport {
	report := domain.ComplianceReport{
		Density:      defectDensity(text, th.MaxDefectDensity),
		Rules:        ruleSatisfaction(text, th.RuleSatisfaction),
		Completeness: completeness(features, th.MinCompleteness),
		Violations:   []string{},
	}

	requiredOK := true
	for _, r := range report.Rules.Rules {
		if r.Required && !r.Satisfied {
			requiredOK = false
			report.Violations = append(report.Violations, "required rule not satisfied: "+r.Name)
		}
	}
	if !report.Density.Passed {
		report.Violations = append(report.Violations,
			fmt.Sprintf("defect density %.2f exceeds %.2f", report.Density.Score, th.MaxDefectDensity))
	}
	if !report.Completeness.Passed {
		report.Violations = append(report.Violations,
			fmt.Sprintf("completeness %.2f below %.2f", report.Completeness.Score, th.MinCompleteness))
	}

	report.Passed = requiredOK && report.Density.Passed && report.Completeness.Passed
	return report
}
