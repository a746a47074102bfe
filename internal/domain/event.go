package domain

import "time"

// WebhookEvent: событие после zero-trust валидации. Все поля, которыми
// пользуются стадии 2+, прошли через validate.
type WebhookEvent struct {
	ID           string    `json:"id"`          // внутренний UUID прогона
	DeliveryID   string    `json:"delivery_id"` // X-GitHub-Delivery
	Type         string    `json:"type"`        // X-GitHub-Event: issues, pull_request ...
	Action       string    `json:"action"`      // opened, synchronize ...
	Repository   string    `json:"repository"`  // owner/name
	Sender       string    `json:"sender"`
	Number       int       `json:"number,omitempty"` // номер issue/PR, 0 если нет
	Title        string    `json:"title,omitempty"`
	Body         string    `json:"body,omitempty"`
	Labels       []string  `json:"labels,omitempty"`
	ChangedFiles int       `json:"changed_files,omitempty"`
	ReceivedAt   time.Time `json:"received_at"`
}

// HasNumber сообщает, относится ли событие к конкретному issue/PR.
func (e WebhookEvent) HasNumber() bool {
	return e.Number > 0
}

// Urgency: срочность события.
type Urgency string

const (
	UrgencyCritical Urgency = "critical"
	UrgencyHigh     Urgency = "high"
	UrgencyMedium   Urgency = "medium"
	UrgencyLow      Urgency = "low"
)

// EventClassification: результат классификации на Stage 2.
type EventClassification struct {
	Type    string  `json:"type"`    // issue, pull_request, push, other
	Subtype string  `json:"subtype"` // bug, feature, question, documentation, review ...
	Urgency Urgency `json:"urgency"`
}

// PriorityBreakdown: вклад каждой оси в итоговый приоритет.
type PriorityBreakdown struct {
	Urgency    int `json:"urgency"`
	Complexity int `json:"complexity"`
	Impact     int `json:"impact"`
	Total      int `json:"total"`
}
