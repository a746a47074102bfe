package domain

import "time"

// SignatureRecord: разобранный заголовок подписи. Живет только в рамках запроса.
type SignatureRecord struct {
	Algorithm string `json:"algorithm"`
	Digest    string `json:"digest"`
}

// AdmissionWindow: счетчик фиксированного окна для одного ключа скоупа.
type AdmissionWindow struct {
	Key         string    `json:"key"` // "sender:alice", "repo:org/name", "global:system"
	Count       int       `json:"count"`
	WindowStart time.Time `json:"window_start"`
	LastRequest time.Time `json:"last_request"`
}

// RuleResult: результат проверки одного правила каталога.
type RuleResult struct {
	Name      string  `json:"name"`
	Weight    float64 `json:"weight"`
	Required  bool    `json:"required"`
	Satisfied bool    `json:"satisfied"`
}

// Feature: именованная функциональность с процентом готовности (0..100).
type Feature struct {
	Name         string  `json:"name"`
	Completeness float64 `json:"completeness"`
}

// DensityScore: плотность маркеров незавершенной работы на 1000 строк.
type DensityScore struct {
	Score   float64 `json:"score"`
	Markers int     `json:"markers"`
	Lines   int     `json:"lines"`
	Passed  bool    `json:"passed"`
}

// RuleScore: взвешенный процент выполненных правил.
type RuleScore struct {
	Score  float64      `json:"score"`
	Rules  []RuleResult `json:"rules"`
	Passed bool         `json:"passed"`
}

// CompletenessScore: средняя готовность по набору функциональностей.
type CompletenessScore struct {
	Score       float64   `json:"score"`
	Features    []Feature `json:"features"`
	Implemented int       `json:"implemented"`
	Partial     int       `json:"partial"`
	Missing     int       `json:"missing"`
	Passed      bool      `json:"passed"`
}

// ComplianceReport неизменяем после создания.
type ComplianceReport struct {
	Density      DensityScore      `json:"density"`
	Rules        RuleScore         `json:"rules"`
	Completeness CompletenessScore `json:"completeness"`
	Passed       bool              `json:"passed"`
	Violations   []string          `json:"violations"`
}

// Violation: одно нарушение, найденное гейтом.
type Violation struct {
	Kind    ViolationKind `json:"kind"`
	Field   string        `json:"field"` // signature, scope:sender, rule_satisfaction ...
	Message string        `json:"message"`
}

// Verdict: результат Stage 1.
type Verdict struct {
	Admitted   bool             `json:"admitted"`
	Confidence float64          `json:"confidence"` // процент выполнения правил
	Report     ComplianceReport `json:"report"`
	Violations []Violation      `json:"violations"`
	RetryAfter time.Duration    `json:"retry_after,omitempty"`
	Event      WebhookEvent     `json:"event"`
	DecidedAt  time.Time        `json:"decided_at"`
}

// Reasons возвращает текстовые причины отказа.
func (v Verdict) Reasons() []string {
	out := make([]string, 0, len(v.Violations))
	for _, vi := range v.Violations {
		out = append(out, vi.Field+": "+vi.Message)
	}
	return out
}

// HasKind проверяет наличие нарушения заданного класса.
func (v Verdict) HasKind(kind ViolationKind) bool {
	for _, vi := range v.Violations {
		if vi.Kind == kind {
			return true
		}
	}
	return false
}
