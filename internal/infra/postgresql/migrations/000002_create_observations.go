package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/podledger/internal/repository"
	"gorm.io/gorm"
)

func createObservationsTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_observations",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.ObservationModel{}); err != nil {
				return err
			}
			return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_observations_throw_id ON observations (throw_id, observed_at DESC)`).Error
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.ObservationModel{})
		},
	}
}
