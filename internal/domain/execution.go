package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// TransitionType: тип записи в журнале состояний контекста.
type TransitionType string

const (
	TransitionInitialize TransitionType = "INITIALIZE"
	TransitionChange     TransitionType = "TRANSITION"
	TransitionError      TransitionType = "ERROR"
	TransitionComplete   TransitionType = "COMPLETE"
)

// Transition: одна запись журнала. Журнал только дописывается.
type Transition struct {
	Type     TransitionType `json:"type"`
	Name     string         `json:"name"`
	Before   map[string]any `json:"before,omitempty"`
	After    map[string]any `json:"after,omitempty"`
	Error    string         `json:"error,omitempty"`
	At       time.Time      `json:"at"`
	Duration time.Duration  `json:"duration,omitempty"`
	Count    int            `json:"count,omitempty"` // для COMPLETE: сколько записей было до него
}

// DependencyHealth: состояние одной внешней зависимости.
type DependencyHealth struct {
	Name      string        `json:"name"`
	Healthy   bool          `json:"healthy"`
	Latency   time.Duration `json:"latency"`
	Error     string        `json:"error,omitempty"`
	CheckedAt time.Time     `json:"checked_at"`
}

// HealthSnapshot: снимок здоровья зависимостей на момент гидратации.
type HealthSnapshot struct {
	Dependencies map[string]DependencyHealth `json:"dependencies"`
	CheckedAt    time.Time                   `json:"checked_at"`
}

// Healthy возвращает true, если все зависимости доступны.
func (h HealthSnapshot) Healthy() bool {
	for _, d := range h.Dependencies {
		if !d.Healthy {
			return false
		}
	}
	return true
}

// ExecutionContext принадлежит единственному прогону пайплайна.
// Журнал переходов только дописывается и упорядочен по времени;
// после Finalize контекст доступен только на чтение.
type ExecutionContext struct {
	EventID    string         `json:"event_id"`
	EventType  string         `json:"event_type"`
	Repository string         `json:"repository"`
	Number     int            `json:"number,omitempty"`
	Event      WebhookEvent   `json:"event"`
	Config     RepoPolicy     `json:"config"`
	Health     HealthSnapshot `json:"health"`
	State      map[string]any `json:"state"`
	CreatedAt  time.Time      `json:"created_at"`

	transitions []Transition
	finalized   bool
}

// Append дописывает запись в журнал. Метка времени не может уйти назад.
func (c *ExecutionContext) Append(t Transition) error {
	if c.finalized {
		return fmt.Errorf("%w: context %s is finalized", ErrInvalidState, c.EventID)
	}
	if t.At.IsZero() {
		t.At = time.Now()
	}
	if n := len(c.transitions); n > 0 && t.At.Before(c.transitions[n-1].At) {
		t.At = c.transitions[n-1].At
	}
	c.transitions = append(c.transitions, t)
	return nil
}

// Transitions возвращает копию журнала.
func (c *ExecutionContext) Transitions() []Transition {
	out := make([]Transition, len(c.transitions))
	copy(out, c.transitions)
	return out
}

// Finalize переводит контекст в режим только чтения.
func (c *ExecutionContext) Finalize() { c.finalized = true }

// Finalized сообщает, закрыт ли контекст.
func (c *ExecutionContext) Finalized() bool { return c.finalized }

// Snapshot: плоский снимок изменяемой части состояния.
func (c *ExecutionContext) Snapshot() map[string]any {
	out := make(map[string]any, len(c.State))
	for k, v := range c.State {
		out[k] = v
	}
	return out
}

func (c *ExecutionContext) MarshalJSON() ([]byte, error) {
	type alias ExecutionContext
	return json.Marshal(struct {
		*alias
		Transitions []Transition `json:"transitions"`
		Finalized   bool         `json:"finalized"`
	}{alias: (*alias)(c), Transitions: c.transitions, Finalized: c.finalized})
}

// Strategy: кандидатная стратегия ответа на событие.
type Strategy struct {
	Name        string   `json:"name"`
	Actions     []string `json:"actions"`
	Feasibility float64  `json:"feasibility"`
	Rationale   string   `json:"rationale"`
}

// ActionPlan неизменяем после Stage 2.
type ActionPlan struct {
	Classification EventClassification `json:"classification"`
	Priority       PriorityBreakdown   `json:"priority"`
	Strategy       string              `json:"strategy"`
	Actions        []string            `json:"actions"`
	Rationale      string              `json:"rationale"`
	Alternatives   []Strategy          `json:"alternatives"`
}

// Diagnosis: классификация ошибки исполнения до принятия решения о ретрае.
type Diagnosis struct {
	Cause       string        `json:"cause"` // rate_limit, network, not_found, auth, unknown_action, verification, unclassified
	Recoverable bool          `json:"recoverable"`
	Strategy    string        `json:"strategy"` // wait-and-retry, fixed-delay-retry, none
	Delay       time.Duration `json:"delay"`
	Message     string        `json:"message"`
}

// ActionOutcome: итог одного действия плана.
type ActionOutcome struct {
	Action    string        `json:"action"`
	Success   bool          `json:"success"`
	Output    any           `json:"output,omitempty"`
	Error     string        `json:"error,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
	Attempts  int           `json:"attempts"`
	Diagnosis *Diagnosis    `json:"diagnosis,omitempty"`
}

// ExecutionReport агрегирует исходы всех действий.
type ExecutionReport struct {
	Outcomes     []ActionOutcome `json:"outcomes"`
	TotalElapsed time.Duration   `json:"total_elapsed"`
	Succeeded    int             `json:"succeeded"`
	Failed       int             `json:"failed"`
	CompletedAt  time.Time       `json:"completed_at"`
}

// Success: ни одно действие не провалилось.
func (r ExecutionReport) Success() bool { return r.Failed == 0 }

// TotalAttempts: суммарное число попыток по всем действиям.
func (r ExecutionReport) TotalAttempts() int {
	n := 0
	for _, o := range r.Outcomes {
		n += o.Attempts
	}
	return n
}
