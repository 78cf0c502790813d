// Package notify schedules growth stage notifications for confirmed throws and
// fans out the ones that come due.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kursadbilgin/podledger/internal/domain"
	"github.com/kursadbilgin/podledger/internal/growth"
	"github.com/kursadbilgin/podledger/internal/repository"
	"go.uber.org/zap"
)

// Scheduler owns the stage notification lifecycle: seeding, listing and
// marking read.
type Scheduler struct {
	notifications repository.NotificationRepository
	catalog       *growth.Catalog
	logger        *zap.Logger
	now           func() time.Time
	newID         func() string
}

func NewScheduler(
	notifications repository.NotificationRepository,
	catalog *growth.Catalog,
	logger *zap.Logger,
) (*Scheduler, error) {
	return newScheduler(notifications, catalog, logger, time.Now)
}

func newScheduler(
	notifications repository.NotificationRepository,
	catalog *growth.Catalog,
	logger *zap.Logger,
	nowFn func() time.Time,
) (*Scheduler, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if catalog == nil {
		return nil, fmt.Errorf("growth catalog is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if nowFn == nil {
		nowFn = time.Now
	}

	return &Scheduler{
		notifications: notifications,
		catalog:       catalog,
		logger:        logger,
		now:           nowFn,
		newID:         uuid.NewString,
	}, nil
}

// Seed creates one notification per stage of modelID that starts at or after
// now. It does nothing when recordID already has notifications or the model is
// unknown, and reports how many notifications were actually stored. A
// concurrent seed of the same record can make that fewer than it built.
func (s *Scheduler) Seed(ctx context.Context, recordID string, eventTime time.Time, modelID string) (int, error) {
	if recordID == "" {
		return 0, fmt.Errorf("%w: record id is required", domain.ErrValidation)
	}

	model, ok := s.catalog.Model(modelID)
	if !ok {
		s.logger.Debug("unknown growth model, nothing to seed",
			zap.String("record_id", recordID), zap.String("model_id", modelID))
		return 0, nil
	}

	exists, err := s.notifications.ExistsForRecord(ctx, recordID)
	if err != nil {
		return 0, fmt.Errorf("failed to check notifications for %s: %w", recordID, err)
	}
	if exists {
		return 0, nil
	}

	now := s.now().UTC()
	pending := make([]domain.Notification, 0, len(model.Stages))
	for _, start := range growth.StageStarts(model, eventTime) {
		if start.At.Before(now) {
			continue
		}
		pending = append(pending, domain.Notification{
			ID:           s.newID(),
			RecordID:     recordID,
			StageID:      start.Stage.ID,
			StageName:    start.Stage.Name,
			StageIcon:    start.Stage.Icon,
			Title:        fmt.Sprintf("%s %s stage starting", start.Stage.Icon, start.Stage.Name),
			Body:         start.Stage.WhatToExpect,
			ScheduledFor: start.At.UTC(),
			CreatedAt:    now,
		})
	}
	if len(pending) == 0 {
		return 0, nil
	}

	created, err := s.notifications.CreateMany(ctx, pending)
	if err != nil {
		return 0, fmt.Errorf("failed to store notifications for %s: %w", recordID, err)
	}

	s.logger.Info("stage notifications seeded",
		zap.String("record_id", recordID),
		zap.String("model_id", modelID),
		zap.Int64("count", created),
		zap.Int("skipped", len(pending)-int(created)),
	)
	return int(created), nil
}

// GetDue returns the unread notifications whose time has come.
func GetDue(notifications []domain.Notification, now time.Time) []domain.Notification {
	due := make([]domain.Notification, 0, len(notifications))
	for _, n := range notifications {
		if n.IsDue(now) {
			due = append(due, n)
		}
	}
	return due
}

func (s *Scheduler) List(ctx context.Context, unreadOnly bool, limit int) ([]domain.Notification, error) {
	notifications, err := s.notifications.List(ctx, repository.ListParams{UnreadOnly: unreadOnly, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	return notifications, nil
}

func (s *Scheduler) Due(ctx context.Context, limit int) ([]domain.Notification, error) {
	notifications, err := s.notifications.ListDue(ctx, s.now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due notifications: %w", err)
	}
	return notifications, nil
}

func (s *Scheduler) UnreadDueCount(ctx context.Context) (int64, error) {
	n, err := s.notifications.CountDue(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to count due notifications: %w", err)
	}
	return n, nil
}

func (s *Scheduler) MarkRead(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: notification id is required", domain.ErrValidation)
	}
	if err := s.notifications.MarkRead(ctx, id); err != nil {
		return fmt.Errorf("failed to mark notification %s read: %w", id, err)
	}
	return nil
}

func (s *Scheduler) MarkAllRead(ctx context.Context) (int64, error) {
	n, err := s.notifications.MarkAllRead(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	return n, nil
}
