package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/batch-engine/internal/repository"
	"gorm.io/gorm"
)

func createOperationAttemptsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_operation_attempts",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.OperationAttemptModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE INDEX IF NOT EXISTS idx_attempts_operation_id ON operation_attempts (operation_id, attempt_number)`,
				`CREATE INDEX IF NOT EXISTS idx_attempts_batch_id ON operation_attempts (batch_id)`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.OperationAttemptModel{})
		},
	}
}
