package validate

import "regexp"

// Композитные проверки идентичностей GitHub. Каждая — одна строковая проверка с шаблоном.
var (
	repoFullNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)
	loginPattern        = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9-]{0,38})(?:\[bot\])?$`)
	deliveryPattern     = regexp.MustCompile(`^[A-Za-z0-9-]{1,64}$`)
	actionPattern       = regexp.MustCompile(`^[a-z_]{1,64}$`)
)

// SupportedEvents: типы событий, которые гейт готов принять.
var SupportedEvents = []string{
	"ping",
	"issues",
	"issue_comment",
	"pull_request",
	"pull_request_review",
	"pull_request_review_comment",
	"push",
	"release",
	"workflow_run",
	"check_suite",
}

// RepositoryFullName: "owner/name".
func RepositoryFullName(v any) Result {
	return String("repository", v, StringOptions{
		Required:    true,
		Trim:        true,
		MaxLength:   140,
		Pattern:     repoFullNamePattern,
		PatternHint: "owner/name",
	})
}

// SenderLogin: логин пользователя или бота.
func SenderLogin(v any) Result {
	return String("sender", v, StringOptions{
		Required:    true,
		Trim:        true,
		MaxLength:   45,
		Pattern:     loginPattern,
		PatternHint: "GitHub login",
	})
}

// EventType: значение X-GitHub-Event.
func EventType(v any) Result {
	return Enum("event_type", v, SupportedEvents...)
}

// DeliveryID: значение X-GitHub-Delivery (обычно UUID).
func DeliveryID(v any) Result {
	return String("delivery_id", v, StringOptions{
		Required:    true,
		Trim:        true,
		Pattern:     deliveryPattern,
		PatternHint: "delivery GUID",
	})
}

// EventAction: поле action из тела события; пустое допустимо (push).
func EventAction(v any) Result {
	return String("action", v, StringOptions{Trim: true, Pattern: actionPattern, PatternHint: "snake_case action"})
}
