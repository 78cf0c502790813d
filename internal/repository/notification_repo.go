package repository

import (
	"context"
	"time"

	"github.com/kursadbilgin/podledger/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ListParams struct {
	UnreadOnly bool
	DueBefore  *time.Time
	Limit      int
}

type NotificationRepository interface {
	CreateMany(ctx context.Context, notifications []domain.Notification) (int64, error)
	ExistsForRecord(ctx context.Context, recordID string) (bool, error)
	List(ctx context.Context, params ListParams) ([]domain.Notification, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Notification, error)
	CountDue(ctx context.Context, now time.Time) (int64, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) (int64, error)
}

type GormNotificationRepo struct {
	db *gorm.DB
}

func NewGormNotificationRepo(db *gorm.DB) *GormNotificationRepo {
	return &GormNotificationRepo{db: db}
}

// CreateMany inserts notifications, skipping any (record, stage) pair that
// already exists, and reports how many rows were written.
func (r *GormNotificationRepo) CreateMany(ctx context.Context, notifications []domain.Notification) (int64, error) {
	if len(notifications) == 0 {
		return 0, nil
	}

	models := make([]NotificationModel, 0, len(notifications))
	for i := range notifications {
		models = append(models, *notificationModelFromDomain(&notifications[i]))
	}

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "record_id"}, {Name: "stage_id"}},
			DoNothing: true,
		}).
		CreateInBatches(&models, 100)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *GormNotificationRepo) ExistsForRecord(ctx context.Context, recordID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("record_id = ?", recordID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *GormNotificationRepo) List(ctx context.Context, params ListParams) ([]domain.Notification, error) {
	query := r.db.WithContext(ctx).Model(&NotificationModel{})

	if params.UnreadOnly {
		query = query.Where("read = ?", false)
	}
	if params.DueBefore != nil {
		query = query.Where("scheduled_for <= ?", *params.DueBefore)
	}

	limit := params.Limit
	if limit < 1 {
		limit = 100
	}
	limit = min(limit, 500)

	var models []NotificationModel
	err := query.
		Order("scheduled_for ASC").
		Order("stage_id ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	return toNotifications(models), nil
}

func (r *GormNotificationRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]domain.Notification, error) {
	return r.List(ctx, ListParams{UnreadOnly: true, DueBefore: &now, Limit: limit})
}

func (r *GormNotificationRepo) CountDue(ctx context.Context, now time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("read = ? AND scheduled_for <= ?", false, now).
		Count(&count).Error
	return count, err
}

func (r *GormNotificationRepo) MarkRead(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ?", id).
		Update("read", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormNotificationRepo) MarkAllRead(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("read = ?", false).
		Update("read", true)
	return result.RowsAffected, result.Error
}

func toNotifications(models []NotificationModel) []domain.Notification {
	notifications := make([]domain.Notification, 0, len(models))
	for i := range models {
		notifications = append(notifications, *notificationModelToDomain(&models[i]))
	}
	return notifications
}
