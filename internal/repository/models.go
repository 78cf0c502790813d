package repository

import (
	"time"

	"github.com/kursadbilgin/podledger/internal/domain"
)

// NotificationModel is the persistence model for the stage_notifications table.
type NotificationModel struct {
	ID           string    `gorm:"type:uuid;primaryKey"`
	RecordID     string    `gorm:"type:varchar(64);not null"`
	StageID      string    `gorm:"type:varchar(32);not null"`
	StageName    string    `gorm:"type:varchar(64);not null"`
	StageIcon    string    `gorm:"type:varchar(16);not null"`
	Title        string    `gorm:"type:varchar(255);not null"`
	Body         string    `gorm:"type:text;not null"`
	ScheduledFor time.Time `gorm:"type:timestamptz;not null"`
	Read         bool      `gorm:"not null;default:false"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (NotificationModel) TableName() string {
	return "stage_notifications"
}

// ObservationModel is the persistence model for observations.
type ObservationModel struct {
	ID         string    `gorm:"type:uuid;primaryKey"`
	ThrowID    string    `gorm:"type:varchar(64);not null"`
	StageID    string    `gorm:"type:varchar(32);not null"`
	ObservedAt time.Time `gorm:"type:timestamptz;not null"`
	Notes      string    `gorm:"type:text;not null;default:''"`
	CreatedAt  time.Time
}

func (ObservationModel) TableName() string {
	return "observations"
}

// LocalHarvestModel is the persistence model for local_harvests.
type LocalHarvestModel struct {
	ID            string               `gorm:"type:uuid;primaryKey"`
	ThrowID       string               `gorm:"type:varchar(64);not null"`
	PlantID       string               `gorm:"type:varchar(128);not null"`
	QuantityClass domain.QuantityClass `gorm:"type:varchar(10);not null"`
	HarvestedAt   time.Time            `gorm:"type:timestamptz;not null"`
	Notes         string               `gorm:"type:text;not null;default:''"`
	CreatedAt     time.Time
}

func (LocalHarvestModel) TableName() string {
	return "local_harvests"
}

func notificationModelFromDomain(n *domain.Notification) *NotificationModel {
	if n == nil {
		return nil
	}

	return &NotificationModel{
		ID:           n.ID,
		RecordID:     n.RecordID,
		StageID:      n.StageID,
		StageName:    n.StageName,
		StageIcon:    n.StageIcon,
		Title:        n.Title,
		Body:         n.Body,
		ScheduledFor: n.ScheduledFor,
		Read:         n.Read,
		CreatedAt:    n.CreatedAt,
	}
}

func notificationModelToDomain(m *NotificationModel) *domain.Notification {
	if m == nil {
		return nil
	}

	return &domain.Notification{
		ID:           m.ID,
		RecordID:     m.RecordID,
		StageID:      m.StageID,
		StageName:    m.StageName,
		StageIcon:    m.StageIcon,
		Title:        m.Title,
		Body:         m.Body,
		ScheduledFor: m.ScheduledFor.UTC(),
		Read:         m.Read,
		CreatedAt:    m.CreatedAt.UTC(),
	}
}

func observationModelFromDomain(o *domain.Observation) *ObservationModel {
	if o == nil {
		return nil
	}

	return &ObservationModel{
		ID:         o.ID,
		ThrowID:    o.ThrowID,
		StageID:    o.StageID,
		ObservedAt: o.ObservedAt,
		Notes:      o.Notes,
	}
}

func observationModelToDomain(m *ObservationModel) *domain.Observation {
	if m == nil {
		return nil
	}

	return &domain.Observation{
		ID:         m.ID,
		ThrowID:    m.ThrowID,
		StageID:    m.StageID,
		ObservedAt: m.ObservedAt.UTC(),
		Notes:      m.Notes,
	}
}

func localHarvestModelFromDomain(h *domain.LocalHarvest) *LocalHarvestModel {
	if h == nil {
		return nil
	}

	return &LocalHarvestModel{
		ID:            h.ID,
		ThrowID:       h.ThrowID,
		PlantID:       h.PlantID,
		QuantityClass: h.QuantityClass,
		HarvestedAt:   h.HarvestedAt,
		Notes:         h.Notes,
	}
}

func localHarvestModelToDomain(m *LocalHarvestModel) *domain.LocalHarvest {
	if m == nil {
		return nil
	}

	return &domain.LocalHarvest{
		ID:            m.ID,
		ThrowID:       m.ThrowID,
		PlantID:       m.PlantID,
		QuantityClass: m.QuantityClass,
		HarvestedAt:   m.HarvestedAt.UTC(),
		Notes:         m.Notes,
	}
}
