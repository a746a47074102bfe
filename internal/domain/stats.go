package domain

import "time"

// GateStats: сводка работы гейта за окно по журналу аудита.
type GateStats struct {
	Window         time.Duration `json:"window"`
	Deliveries     int64         `json:"deliveries"`
	Admitted       int64         `json:"admitted"`
	Rejected       int64         `json:"rejected"`
	SecurityEvents int64         `json:"security_events"`
	ActionFailures int64         `json:"action_failures"`
	P95ActionMs    float64       `json:"p95_action_ms"`
	AdmissionRate  float64       `json:"admission_rate"` // % допущенных
}
