package repository

import (
	"context"

	"github.com/kursadbilgin/podledger/internal/domain"
	"gorm.io/gorm"
)

// JournalRepository stores observations and harvests kept off chain.
type JournalRepository interface {
	CreateObservation(ctx context.Context, o *domain.Observation) error
	ListObservations(ctx context.Context, throwID string) ([]domain.Observation, error)
	CreateLocalHarvest(ctx context.Context, h *domain.LocalHarvest) error
	ListLocalHarvests(ctx context.Context, throwID string) ([]domain.LocalHarvest, error)
}

type GormJournalRepo struct {
	db *gorm.DB
}

func NewGormJournalRepo(db *gorm.DB) *GormJournalRepo {
	return &GormJournalRepo{db: db}
}

func (r *GormJournalRepo) CreateObservation(ctx context.Context, o *domain.Observation) error {
	model := observationModelFromDomain(o)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if o != nil {
		*o = *observationModelToDomain(model)
	}
	return nil
}

// ListObservations returns the newest observations first. An empty throwID
// lists every throw.
func (r *GormJournalRepo) ListObservations(ctx context.Context, throwID string) ([]domain.Observation, error) {
	query := r.db.WithContext(ctx).Model(&ObservationModel{})
	if throwID != "" {
		query = query.Where("throw_id = ?", throwID)
	}

	var models []ObservationModel
	if err := query.Order("observed_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}

	out := make([]domain.Observation, 0, len(models))
	for i := range models {
		out = append(out, *observationModelToDomain(&models[i]))
	}
	return out, nil
}

func (r *GormJournalRepo) CreateLocalHarvest(ctx context.Context, h *domain.LocalHarvest) error {
	model := localHarvestModelFromDomain(h)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if h != nil {
		*h = *localHarvestModelToDomain(model)
	}
	return nil
}

func (r *GormJournalRepo) ListLocalHarvests(ctx context.Context, throwID string) ([]domain.LocalHarvest, error) {
	query := r.db.WithContext(ctx).Model(&LocalHarvestModel{})
	if throwID != "" {
		query = query.Where("throw_id = ?", throwID)
	}

	var models []LocalHarvestModel
	if err := query.Order("harvested_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}

	out := make([]domain.LocalHarvest, 0, len(models))
	for i := range models {
		out = append(out, *localHarvestModelToDomain(&models[i]))
	}
	return out, nil
}
