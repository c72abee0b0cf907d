package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/batch-engine/internal/repository"
	"gorm.io/gorm"
)

func createBatchRecordsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_batch_records",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.BatchRecordModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_batch_records_status_finished ON batch_records (status, finished_at)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.BatchRecordModel{})
		},
	}
}
