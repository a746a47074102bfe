package compliance

import "regexp"

// Rule: одно правило каталога. match получает исходный текст и число маркеров,
// уже посчитанное для плотности дефектов.
type Rule struct {
	Name     string
	Weight   float64
	Required bool
	match    func(text string, markers int) bool
}

func pattern(expr string) func(string, int) bool {
	re := regexp.MustCompile(expr)
	return func(text string, _ int) bool { return re.MatchString(text) }
}

// Catalog: фиксированный набор из 8 правил. Порядок стабилен и попадает в отчет как есть.
var Catalog = []Rule{
	{Name: "input-validation", Weight: 1, Required: true,
		match: pattern(`(?i)\b(validat\w*|sanitiz\w*|schema)\b`)},
	{Name: "error-handling", Weight: 1, Required: true,
		match: pattern(`(?i)(\berr\s*!=\s*nil\b|\btry\b|\bcatch\b|\bexcept\b|\berrors?\.\w+)`)},
	{Name: "audit-logging", Weight: 1, Required: true,
		match: pattern(`(?i)\b(audit\w*|logger|log\.\w+)`)},
	{Name: "strict-typing", Weight: 1, Required: true,
		match: pattern(`(?i)(\bstrict\b|\binterface\b|\bstruct\b|\btype\s+[A-Za-z_]\w*)`)},
	{Name: "test-coverage", Weight: 1, Required: true,
		match: pattern(`(?i)\b(test\w*|assert\w*|expect)\b`)},
	{Name: "no-incompleteness-markers", Weight: 1, Required: true,
		match: func(_ string, markers int) bool { return markers == 0 }},
	{Name: "policy-decorators", Weight: 0.5,
		match: pattern(`(?m)^\s*@[A-Za-z_]\w*`)},
	{Name: "multi-stage-pipeline", Weight: 0.5,
		match: pattern(`(?i)\b(pipeline|stage\s*[1-9])\b`)},
}
