package connectors

import (
	"context"
	"sync"
	"time"

	"github.com/xela07ax/webhook-gate/internal/domain"
)

// MockStep: один ответ двойника: результат или ошибка.
type MockStep struct {
	Output any
	Err    error
}

// MockAction: тестовый двойник действия. Шаги выдаются по очереди, последний повторяется.
// Latency имитирует задержку внешней системы и уважает отмену контекста.
type MockAction struct {
	mu       sync.Mutex
	steps    []MockStep
	calls    int
	rollback int
	Latency  time.Duration
}

// MockOK всегда возвращает output.
func MockOK(output any) *MockAction {
	return &MockAction{steps: []MockStep{{Output: output}}}
}

// MockFail всегда возвращает err.
func MockFail(err error) *MockAction {
	return &MockAction{steps: []MockStep{{Err: err}}}
}

// MockSequence выдает шаги по порядку.
func MockSequence(steps ...MockStep) *MockAction {
	return &MockAction{steps: steps}
}

func (m *MockAction) Execute(ctx context.Context, _ *domain.ExecutionContext) (any, error) {
	m.mu.Lock()
	i := m.calls
	m.calls++
	latency := m.Latency
	m.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if len(m.steps) == 0 {
		return nil, nil
	}
	if i >= len(m.steps) {
		i = len(m.steps) - 1
	}
	return m.steps[i].Output, m.steps[i].Err
}

func (m *MockAction) Rollback(context.Context, *domain.ExecutionContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollback++
	return nil
}

// Calls: сколько раз вызывался Execute.
func (m *MockAction) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Rollbacks: сколько раз вызывался Rollback.
func (m *MockAction) Rollbacks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rollback
}

// NewMockRegistry: реестр с двойниками всех штатных действий. Используется в тестах
// и в dry-run режиме гейта, когда токен GitHub не настроен.
func NewMockRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register(ActionPostReviewComment, MockOK(map[string]any{"status": "simulated", "comment_id": 0}))
	_ = r.Register(ActionAddLabels, MockOK(map[string]any{"status": "simulated", "labels": []string{}}))
	_ = r.Register(ActionClassifyIssue, MockOK(map[string]any{"status": "simulated", "label": "kind/general"}))
	_ = r.Register(ActionRequestReviewers, MockOK(map[string]any{"status": "simulated", "requested": []string{}}))
	_ = r.Register(ActionRecordEvent, ActionFunc(RecordEvent))
	return r
}
