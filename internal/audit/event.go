package audit

import "time"

// Kind: к какому слою пайплайна относится событие.
type Kind string

const (
	KindSecurity   Kind = "SECURITY"   // подписи, подозрительные запросы
	KindVerdict    Kind = "VERDICT"    // решение Stage 1
	KindTransition Kind = "TRANSITION" // журнал ExecutionContext
	KindAction     Kind = "ACTION"     // попытка исполнения действия
	KindStage      Kind = "STAGE"      // переходы оркестратора
)

// Категории security-событий.
const (
	CategorySignatureFailed = "signature_failed"
	CategoryAdmissionDenied = "admission_denied"
	CategoryInvalidField    = "invalid_field"
)

type Event struct {
	ID         string `json:"id"`          // UUID записи
	TraceID    string `json:"trace_id"`    // сквозной ID HTTP-запроса
	RunID      string `json:"run_id"`      // ID прогона пайплайна
	DeliveryID string `json:"delivery_id"` // X-GitHub-Delivery
	Repository string `json:"repository"`
	Sender     string `json:"sender"`

	Kind     Kind   `json:"kind"`
	Category string `json:"category"` // signature_failed, stage name, action name ...
	Status   string `json:"status"`   // ADMITTED, REJECTED, SUCCESS, FAILED ...
	Reason   string `json:"reason"`

	Attempts   int            `json:"attempts,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	DurationMs int64          `json:"duration_ms"`
}

// Filter: выборка журнала для консоли. Пустые поля не фильтруют.
type Filter struct {
	Repository string
	DeliveryID string
	RunID      string
	Kind       Kind
	Status     string
	Limit      int
}

// MaxFilterLimit: потолок выборки за один запрос.
const MaxFilterLimit = 500

// Normalize приводит лимит к диапазону 1..MaxFilterLimit, по умолчанию 100.
func (f Filter) Normalize() Filter {
	switch {
	case f.Limit <= 0:
		f.Limit = 100
	case f.Limit > MaxFilterLimit:
		f.Limit = MaxFilterLimit
	}
	return f
}
