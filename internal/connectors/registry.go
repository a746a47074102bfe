// Package connectors — граница исполнения действий: реестр имя -> Action и реальные
// обработчики поверх GitHub API.
package connectors

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/xela07ax/webhook-gate/internal/domain"
)

// Action: единый контракт действия. Не-nil результат означает успех.
type Action interface {
	Execute(ctx context.Context, ec *domain.ExecutionContext) (any, error)
}

// Compensator: действие, которое умеет откатывать свой эффект.
type Compensator interface {
	Rollback(ctx context.Context, ec *domain.ExecutionContext) error
}

// ActionFunc позволяет зарегистрировать функцию как Action.
type ActionFunc func(ctx context.Context, ec *domain.ExecutionContext) (any, error)

func (f ActionFunc) Execute(ctx context.Context, ec *domain.ExecutionContext) (any, error) {
	return f(ctx, ec)
}

// Registry: потокобезопасный реестр действий. Новое действие добавляется регистрацией,
// а не правкой диспетчера.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]Action)}
}

// Register добавляет действие. Повторная регистрация имени — ошибка.
func (r *Registry) Register(name string, a Action) error {
	if name == "" || a == nil {
		return fmt.Errorf("invalid action registration %q", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.actions[name]; exists {
		return fmt.Errorf("action %q already registered", name)
	}
	r.actions[name] = a
	return nil
}

// Lookup возвращает действие по имени.
func (r *Registry) Lookup(name string) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actions[name]
	return a, ok
}

// Has: зарегистрировано ли действие.
func (r *Registry) Has(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

// Names: отсортированный список имен.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.actions))
	for n := range r.actions {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
