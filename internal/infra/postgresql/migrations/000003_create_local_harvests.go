package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/podledger/internal/repository"
	"gorm.io/gorm"
)

func createLocalHarvestsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_local_harvests",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.LocalHarvestModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_local_harvests_throw_id ON local_harvests (throw_id, harvested_at DESC)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.LocalHarvestModel{})
		},
	}
}
