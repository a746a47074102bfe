// Package ratelimit реализует допуск запросов фиксированными окнами по ключам скоупов.
package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"github.com/xela07ax/webhook-gate/internal/domain"
)

// Decision: результат проверки одного ключа.
type Decision struct {
	Key        string        `json:"key"`
	Allowed    bool          `json:"allowed"`
	Count      int           `json:"count"`
	Limit      int           `json:"limit"`
	Remaining  int           `json:"remaining"`
	ResetAt    time.Time     `json:"reset_at"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
}

// WindowStore хранит окна допуска. Связка чтение-проверка-инкремент
// обязана быть атомарной для одного ключа.
type WindowStore interface {
	Check(ctx context.Context, key string, max int, window time.Duration, now time.Time) (Decision, error)
	Sweep(ctx context.Context, idle time.Duration, now time.Time) (int, error)
}

const shardCount = 32

type shard struct {
	mu      sync.Mutex
	windows map[string]*domain.AdmissionWindow
}

// MemoryStore: локальное хранилище с шардированными мьютексами:
// конкурентные запросы к разным ключам почти не конкурируют за блокировку.
type MemoryStore struct {
	shards [shardCount]*shard
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	for i := range s.shards {
		s.shards[i] = &shard{windows: make(map[string]*domain.AdmissionWindow)}
	}
	return s
}

func (s *MemoryStore) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum32()%shardCount]
}

func (s *MemoryStore) Check(_ context.Context, key string, max int, window time.Duration, now time.Time) (Decision, error) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	w, ok := sh.windows[key]
	if !ok {
		w = &domain.AdmissionWindow{Key: key, WindowStart: now}
		sh.windows[key] = w
	}
	// Жесткий сброс окна, не скользящее затухание
	if now.Sub(w.WindowStart) >= window {
		w.Count = 0
		w.WindowStart = now
	}
	w.LastRequest = now

	return decide(key, w, max, window, now), nil
}

// decide применяет правило окна к уже захваченному состоянию.
func decide(key string, w *domain.AdmissionWindow, max int, window time.Duration, now time.Time) Decision {
	resetAt := w.WindowStart.Add(window)
	if w.Count >= max {
		return Decision{
			Key:        key,
			Allowed:    false,
			Count:      w.Count,
			Limit:      max,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: resetAt.Sub(now),
		}
	}
	remaining := max - w.Count - 1
	w.Count++
	return Decision{
		Key:       key,
		Allowed:   true,
		Count:     w.Count,
		Limit:     max,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

// Sweep удаляет окна, простаивающие дольше idle.
func (s *MemoryStore) Sweep(_ context.Context, idle time.Duration, now time.Time) (int, error) {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for k, w := range sh.windows {
			if now.Sub(w.LastRequest) > idle {
				delete(sh.windows, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed, nil
}

// Len: количество живых окон.
func (s *MemoryStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.windows)
		sh.mu.Unlock()
	}
	return n
}

// Window возвращает копию окна (для диагностики и тестов).
func (s *MemoryStore) Window(key string) (domain.AdmissionWindow, bool) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	w, ok := sh.windows[key]
	if !ok {
		return domain.AdmissionWindow{}, false
	}
	return *w, true
}
