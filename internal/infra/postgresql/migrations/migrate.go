package migrations

import (
	"fmt"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// All lists the schema migrations in apply order.
func All() []*gormigrate.Migration {
	return []*gormigrate.Migration{
		createOperationAttemptsTable(),
		createBatchRecordsTable(),
	}
}

func Migrate(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("database handle is required")
	}

	m := gormigrate.New(db, gormigrate.DefaultOptions, All())
	if err := m.Migrate(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
