package repository

import (
	"context"

	"github.com/kursadbilgin/batch-engine/internal/domain"
	"gorm.io/gorm"
)

type AttemptRepository interface {
	Create(ctx context.Context, a *domain.Attempt) error
	ListByOperationID(ctx context.Context, operationID string) ([]domain.Attempt, error)
	ListByBatchID(ctx context.Context, batchID string) ([]domain.Attempt, error)
}

type GormAttemptRepo struct {
	db *gorm.DB
}

func NewGormAttemptRepo(db *gorm.DB) *GormAttemptRepo {
	return &GormAttemptRepo{db: db}
}

func (r *GormAttemptRepo) Create(ctx context.Context, a *domain.Attempt) error {
	model := attemptModelFromDomain(a)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if a != nil {
		*a = *attemptModelToDomain(model)
	}
	return nil
}

func (r *GormAttemptRepo) ListByOperationID(ctx context.Context, operationID string) ([]domain.Attempt, error) {
	return r.list(ctx, "operation_id = ?", operationID)
}

func (r *GormAttemptRepo) ListByBatchID(ctx context.Context, batchID string) ([]domain.Attempt, error) {
	return r.list(ctx, "batch_id = ?", batchID)
}

func (r *GormAttemptRepo) list(ctx context.Context, query string, arg string) ([]domain.Attempt, error) {
	var models []OperationAttemptModel
	err := r.db.WithContext(ctx).
		Where(query, arg).
		Order("operation_id ASC, attempt_number ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	attempts := make([]domain.Attempt, 0, len(models))
	for i := range models {
		attempts = append(attempts, *attemptModelToDomain(&models[i]))
	}

	return attempts, nil
}
