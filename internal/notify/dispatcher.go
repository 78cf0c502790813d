package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/podledger/internal/observability"
	"github.com/kursadbilgin/podledger/internal/queue"
	"github.com/kursadbilgin/podledger/internal/repository"
	"go.uber.org/zap"
)

const (
	defaultDispatchScanInterval = 30 * time.Second
	defaultDispatchScanLimit    = 100
)

// Deduper makes sure a notification is announced at most once across
// restarts and replicas.
type Deduper interface {
	Claim(ctx context.Context, id string) (bool, error)
	Release(ctx context.Context, id string) error
}

// Dispatcher periodically publishes due notifications. It never changes a
// notification: read state belongs to the user.
type Dispatcher struct {
	notifications repository.NotificationRepository
	publisher     queue.Publisher
	deduper       Deduper
	metrics       *observability.Metrics
	logger        *zap.Logger
	interval      time.Duration
	limit         int
	now           func() time.Time
}

func NewDispatcher(
	notifications repository.NotificationRepository,
	publisher queue.Publisher,
	deduper Deduper,
	interval time.Duration,
	limit int,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if deduper == nil {
		return nil, fmt.Errorf("deduper is required")
	}
	if interval <= 0 {
		interval = defaultDispatchScanInterval
	}
	if limit <= 0 {
		limit = defaultDispatchScanLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		notifications: notifications,
		publisher:     publisher,
		deduper:       deduper,
		metrics:       metrics,
		logger:        logger,
		interval:      interval,
		limit:         limit,
		now:           time.Now,
	}, nil
}

func (d *Dispatcher) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := d.scanDue(ctx); err != nil && ctx.Err() == nil {
		d.logger.Error("dispatcher initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := d.scanDue(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				d.logger.Error("dispatcher scan failed", zap.Error(err))
			}
		}
	}
}

func (d *Dispatcher) scanDue(ctx context.Context) error {
	due, err := d.notifications.ListDue(ctx, d.now().UTC(), d.limit)
	if err != nil {
		return fmt.Errorf("failed to fetch due notifications: %w", err)
	}

	for i := range due {
		n := due[i]

		claimed, err := d.deduper.Claim(ctx, n.ID)
		if err != nil {
			d.metrics.IncStageDue(err)
			d.logger.Error("failed to claim due notification",
				zap.String("notificationId", n.ID),
				zap.Error(err),
			)
			continue
		}
		if !claimed {
			continue
		}

		msg := queue.NewStageDueMessage(n)
		if cid, ok := observability.CorrelationIDFromContext(ctx); ok {
			msg.CorrelationID = cid
		}

		if err := d.publisher.Publish(ctx, queue.StageDueQueue, msg); err != nil {
			d.metrics.IncStageDue(err)
			d.logger.Error("failed to publish due notification",
				zap.String("notificationId", n.ID),
				zap.String("queue", queue.StageDueQueue),
				zap.Error(err),
			)
			if relErr := d.deduper.Release(ctx, n.ID); relErr != nil {
				d.logger.Warn("failed to release dispatch claim",
					zap.String("notificationId", n.ID),
					zap.Error(relErr),
				)
			}
			continue
		}

		d.metrics.IncStageDue(nil)
		d.logger.Debug("due notification published",
			zap.String("notificationId", n.ID),
			zap.String("throwId", n.RecordID),
			zap.String("stageId", n.StageID),
		)
	}

	return nil
}
