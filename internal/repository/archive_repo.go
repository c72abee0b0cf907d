package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/batch-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BatchArchive keeps finished batches after they leave the in-memory registry.
type BatchArchive interface {
	Save(ctx context.Context, snapshot *domain.BatchSnapshot) error
	GetByID(ctx context.Context, id string) (*domain.BatchSnapshot, error)
}

type GormBatchArchive struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormBatchArchive(db *gorm.DB) *GormBatchArchive {
	return &GormBatchArchive{db: db, now: time.Now}
}

// Save upserts the batch record; archiving the same batch twice keeps the latest snapshot.
func (r *GormBatchArchive) Save(ctx context.Context, snapshot *domain.BatchSnapshot) error {
	model, err := batchRecordFromSnapshot(snapshot, r.now())
	if err != nil {
		return err
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"status",
				"completed_operations",
				"failed_operations",
				"cancelled_operations",
				"error_message",
				"snapshot",
				"started_at",
				"finished_at",
				"archived_at",
			}),
		}).
		Create(model).Error
}

func (r *GormBatchArchive) GetByID(ctx context.Context, id string) (*domain.BatchSnapshot, error) {
	var model BatchRecordModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return batchRecordToSnapshot(&model)
}
