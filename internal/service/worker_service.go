package service

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/kursadbilgin/podledger/internal/observability"
	"github.com/kursadbilgin/podledger/internal/provider"
	"github.com/kursadbilgin/podledger/internal/queue"
	"github.com/kursadbilgin/podledger/internal/ratelimit"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	minWorkerConcurrency  = 1
	defaultAnnounceTries  = 3
	maxRetryDelay         = 60 * time.Second
	baseRetryDelay        = time.Second
	maxRetryJitterMillis  = 250
	announceLimiterBucket = "webhook"
)

// Announcer delivers a due stage reminder outside the process.
type Announcer interface {
	Announce(ctx context.Context, msg queue.StageDueMessage) error
}

// WorkerService consumes stage-due messages with a pool of workers and hands
// each one to the announcer, retrying transient failures in place.
type WorkerService struct {
	consumer    queue.Consumer
	announcer   Announcer
	rateLimiter ratelimit.RateLimiter
	logger      *zap.Logger
	metrics     *observability.Metrics
	concurrency int
	maxAttempts int
	sleep       func(ctx context.Context, d time.Duration) error
	randIntn    func(n int) int
}

func NewWorkerService(
	consumer queue.Consumer,
	announcer Announcer,
	rateLimiter ratelimit.RateLimiter,
	concurrency int,
	metrics *observability.Metrics,
	logger *zap.Logger,
) (*WorkerService, error) {
	if consumer == nil {
		return nil, fmt.Errorf("consumer is required")
	}
	if announcer == nil {
		return nil, fmt.Errorf("announcer is required")
	}
	if concurrency < minWorkerConcurrency {
		concurrency = minWorkerConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &WorkerService{
		consumer:    consumer,
		announcer:   announcer,
		rateLimiter: rateLimiter,
		logger:      logger,
		metrics:     metrics,
		concurrency: concurrency,
		maxAttempts: defaultAnnounceTries,
		sleep:       sleepContext,
		randIntn:    rand.Intn,
	}, nil
}

// Start consumes the stage-due queue until context cancellation.
func (s *WorkerService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < s.concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			s.logger.Info("worker started", zap.Int("workerId", workerID))

			if err := s.consumer.Consume(groupCtx, queue.StageDueQueue, s.processMessage); err != nil {
				s.logger.Error("worker stopped with error", zap.Int("workerId", workerID), zap.Error(err))
				return err
			}

			s.logger.Info("worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

func (s *WorkerService) processMessage(ctx context.Context, msg queue.StageDueMessage) error {
	logger := observability.WithContextLogger(s.logger, observability.WithCorrelationID(ctx, msg.CorrelationID)).
		With(zap.String("notificationId", msg.NotificationID))

	if s.rateLimiter != nil {
		if err := s.rateLimiter.Wait(ctx, announceLimiterBucket); err != nil {
			return fmt.Errorf("rate limiter wait failed: %w", err)
		}
	}

	s.metrics.IncAnnounceInFlight()
	defer s.metrics.DecAnnounceInFlight()

	var err error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err = s.announcer.Announce(ctx, msg)
		if err == nil {
			s.metrics.IncAnnounce("ok")
			logger.Debug("stage reminder delivered", zap.Int("attempt", attempt))
			return nil
		}

		if !provider.IsTransient(err) {
			s.metrics.IncAnnounce("failed")
			logger.Warn("stage reminder rejected", zap.Error(err))
			return fmt.Errorf("%w: %v", queue.ErrPermanent, err)
		}
		if attempt == s.maxAttempts {
			break
		}

		delay := s.computeRetryDelay(attempt)
		logger.Info("stage reminder delivery failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if sleepErr := s.sleep(ctx, delay); sleepErr != nil {
			return sleepErr
		}
	}

	s.metrics.IncAnnounce("retry_exhausted")
	return fmt.Errorf("failed to deliver stage reminder after %d attempts: %w", s.maxAttempts, err)
}

func (s *WorkerService) computeRetryDelay(attemptNumber int) time.Duration {
	if attemptNumber < 1 {
		attemptNumber = 1
	}

	delay := baseRetryDelay
	for i := 1; i < attemptNumber; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			delay = maxRetryDelay
			break
		}
	}

	jitterMillis := 0
	if s.randIntn != nil && maxRetryJitterMillis > 0 {
		jitterMillis = s.randIntn(maxRetryJitterMillis + 1)
	}

	return delay + time.Duration(jitterMillis)*time.Millisecond
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
