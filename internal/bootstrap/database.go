package bootstrap

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"ghvault/internal/models"
	"ghvault/internal/repository"
)

// MigrateAndSeed ensures required tables exist and repairs state left by
// an unclean shutdown.
func MigrateAndSeed(db *gorm.DB) error {
	if err := db.AutoMigrate(allModels()...); err != nil {
		return fmt.Errorf("auto migrate failed: %w", err)
	}
	if err := sealOrphanedRuns(db); err != nil {
		return fmt.Errorf("seal orphaned runs failed: %w", err)
	}
	return nil
}

func allModels() []interface{} {
	return []interface{}{
		&models.ScheduledTask{},
		&models.CredentialAccount{},
		&models.TaskExecutionLog{},
	}
}

// sealOrphanedRuns closes "running" log rows from a previous process.
// Anything still marked running at startup can never be sealed by its
// worker, so it is marked failed immediately.
func sealOrphanedRuns(db *gorm.DB) error {
	logs := repository.NewExecutionLogRepository(db)
	_, err := logs.SealStaleRunning(time.Now().UTC())
	return err
}
