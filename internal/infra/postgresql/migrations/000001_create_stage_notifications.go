package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/podledger/internal/repository"
	"gorm.io/gorm"
)

func createStageNotificationsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000001_create_stage_notifications",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.NotificationModel{}); err != nil {
				return err
			}
			indexes := []string{
				`CREATE UNIQUE INDEX IF NOT EXISTS idx_stage_notifications_record_stage ON stage_notifications (record_id, stage_id)`,
				`CREATE INDEX IF NOT EXISTS idx_stage_notifications_due ON stage_notifications (scheduled_for) WHERE read = false`,
			}
			for _, sql := range indexes {
				if err := tx.Exec(sql).Error; err != nil {
					return err
				}
			}
			return nil
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.NotificationModel{})
		},
	}
}
