package service

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/webhook-gate/internal/domain"
	"github.com/xela07ax/webhook-gate/internal/infra"
)

// PolicyRepository описывает требования сервиса к хранилищу политик
type PolicyRepository interface {
	GetPolicyByID(ctx context.Context, id string) (*domain.RepoPolicy, error)
	GetAllPolicies(ctx context.Context) ([]domain.RepoPolicy, error)
	CreatePolicy(ctx context.Context, p *domain.RepoPolicy) error
	UpdatePolicy(ctx context.Context, p *domain.RepoPolicy) error
	DeletePolicy(ctx context.Context, id string) error
}

type PolicyService struct {
	repo   PolicyRepository
	rdb    *redis.Client
	logger *zap.Logger
}

func NewPolicyService(repo PolicyRepository, rdb *redis.Client, logger *zap.Logger) *PolicyService {
	return &PolicyService{
		repo:   repo,
		rdb:    rdb,
		logger: logger.Named("policy-service"),
	}
}

func (s *PolicyService) GetByID(ctx context.Context, id string) (*domain.RepoPolicy, error) {
	return s.repo.GetPolicyByID(ctx, id)
}

// GetAll возвращает все политики. Пустой набор отдается как [], а не null.
func (s *PolicyService) GetAll(ctx context.Context) ([]domain.RepoPolicy, error) {
	policies, err := s.repo.GetAllPolicies(ctx)
	if err != nil {
		return nil, err
	}
	if policies == nil {
		policies = []domain.RepoPolicy{}
	}
	return policies, nil
}

// Create сохраняет политику и уведомляет гейты об обновлении
func (s *PolicyService) Create(ctx context.Context, p *domain.RepoPolicy) error {
	if err := s.repo.CreatePolicy(ctx, p); err != nil {
		return err
	}
	s.logger.Info("policy created", zap.String("id", p.ID), zap.String("repository", p.Repository))
	s.notifyUpdate(ctx)
	return nil
}

// Update меняет пороги и инициирует перечитывание кэша на гейтах
func (s *PolicyService) Update(ctx context.Context, p *domain.RepoPolicy) error {
	if err := s.repo.UpdatePolicy(ctx, p); err != nil {
		return err
	}
	s.logger.Info("policy updated", zap.String("id", p.ID))
	s.notifyUpdate(ctx)
	return nil
}

func (s *PolicyService) Delete(ctx context.Context, id string) error {
	if err := s.repo.DeletePolicy(ctx, id); err != nil {
		return err
	}
	s.logger.Info("policy deleted", zap.String("id", id))
	s.notifyUpdate(ctx)
	return nil
}

// notifyUpdate шлет "refresh" всем гейтам. Сбой Redis запись не откатывает:
// гейт перечитает политики при переподключении подписки.
func (s *PolicyService) notifyUpdate(ctx context.Context) {
	if err := s.rdb.Publish(ctx, infra.RedisChanPolicyUpdate, "refresh").Err(); err != nil {
		s.logger.Warn("policy refresh signal failed",
			zap.String("channel", infra.RedisChanPolicyUpdate),
			zap.Error(err))
	}
}
