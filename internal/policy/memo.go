package policy

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/webhook-gate/internal/domain"
	"github.com/xela07ax/webhook-gate/internal/infra"
)

// WildcardRepository: ключ глобальной политики, действующей для всех репозиториев.
const WildcardRepository = "*"

type PolicyRepository interface {
	GetAllPolicies(ctx context.Context) ([]domain.RepoPolicy, error)
}

// ConfigResolver отдает политику репозитория. Реализация не ходит в БД на горячем пути.
type ConfigResolver interface {
	Resolve(ctx context.Context, repository string) domain.RepoPolicy
}

// MemoResolver: in-memory кэш политик репозиториев. Синхронизируется с Postgres через Refresh,
// а сигнал на обновление приходит по Redis pub/sub от консоли.
type MemoResolver struct {
	mu sync.RWMutex
	// Кэш: "owner/name" -> RepoPolicy, "*" -> глобальная
	policies map[string]domain.RepoPolicy

	repo   PolicyRepository // используется только в Refresh()
	rdb    *redis.Client
	logger *zap.Logger
}

func NewMemoResolver(repo PolicyRepository, rdb *redis.Client, logger *zap.Logger) *MemoResolver {
	return &MemoResolver{
		policies: make(map[string]domain.RepoPolicy),
		repo:     repo,
		rdb:      rdb,
		logger:   logger.Named("policy_resolver"),
	}
}

// Resolve: горячий путь: только RAM.
func (m *MemoResolver) Resolve(_ context.Context, repository string) domain.RepoPolicy {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// 1. Персональная политика репозитория
	if p, ok := m.policies[repository]; ok {
		return withRepository(p, repository)
	}

	// 2. Глобальная политика
	if p, ok := m.policies[WildcardRepository]; ok {
		return withRepository(p, repository)
	}

	// 3. Ничего не нашли — пороги по умолчанию
	return domain.DefaultRepoPolicy(repository)
}

func withRepository(p domain.RepoPolicy, repository string) domain.RepoPolicy {
	p = p.Normalize()
	p.Repository = repository
	return p
}

// Len: количество закэшированных политик.
func (m *MemoResolver) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.policies)
}

// Refresh полностью перечитывает политики из хранилища и атомарно подменяет кэш.
// При ошибке старый кэш остается в силе.
func (m *MemoResolver) Refresh(ctx context.Context) error {
	fromDB, err := m.repo.GetAllPolicies(ctx)
	if err != nil {
		return err
	}

	next := make(map[string]domain.RepoPolicy, len(fromDB))
	for _, p := range fromDB {
		if p.Repository == "" {
			continue
		}
		next[p.Repository] = p
	}

	m.mu.Lock()
	m.policies = next
	m.mu.Unlock()

	m.logger.Info("policy cache refreshed", zap.Int("count", len(next)))
	return nil
}

// Listen держит подписку на канал обновлений политик до отмены ctx.
// Любое сообщение в канале — сигнал перечитать кэш целиком.
func (m *MemoResolver) Listen(ctx context.Context) {
	if m.rdb == nil {
		m.logger.Warn("redis is not configured, policy updates are not tracked")
		return
	}
	infra.ListenResilient(ctx, m.rdb, m.logger, infra.RedisChanPolicyUpdate,
		m.Refresh,
		func(payload string) {
			if err := m.Refresh(ctx); err != nil {
				m.logger.Error("policy refresh failed", zap.String("signal", payload), zap.Error(err))
			}
		},
	)
}
