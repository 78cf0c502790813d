package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

var _ Consumer = (*RabbitMQConsumer)(nil)

// disposition is what happens to a delivery once its handler has run.
type disposition int

const (
	dispositionAck disposition = iota
	dispositionRequeue
	dispositionDeadLetter
)

func (d disposition) String() string {
	switch d {
	case dispositionAck:
		return "ack"
	case dispositionRequeue:
		return "requeue"
	default:
		return "dead-letter"
	}
}

// RabbitMQConsumer delivers stage-due messages to a handler, reconnecting with
// backoff when the broker goes away.
type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if prefetch < 1 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RabbitMQConsumer{client: client, prefetch: prefetch, logger: logger}
}

// Consume blocks until ctx is done. Broker errors are logged and retried.
func (c *RabbitMQConsumer) Consume(ctx context.Context, queue string, handler MessageHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	backoff := reconnectBackoff
	for {
		err := c.consumeOnce(ctx, queue, handler)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			backoff = reconnectBackoff
			continue
		}

		c.logger.Warn("consumer interrupted, reconnecting",
			zap.String("queue", queue),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *RabbitMQConsumer) consumeOnce(ctx context.Context, queue string, handler MessageHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			if err := c.handleDelivery(ctx, d, handler); err != nil {
				return err
			}
		}
	}
}

func (c *RabbitMQConsumer) handleDelivery(ctx context.Context, d amqp.Delivery, handler MessageHandler) error {
	next := c.dispose(ctx, d.Body, handler)

	var err error
	switch next {
	case dispositionAck:
		err = d.Ack(false)
	case dispositionRequeue:
		err = d.Nack(false, true)
	default:
		err = d.Reject(false)
	}
	if err != nil {
		return fmt.Errorf("failed to %s delivery: %w", next, err)
	}
	return nil
}

// dispose runs handler on a raw body. Undecodable or invalid payloads and
// ErrPermanent failures are dead-lettered; other failures are requeued.
func (c *RabbitMQConsumer) dispose(ctx context.Context, body []byte, handler MessageHandler) disposition {
	msg, err := decodeDelivery(body)
	if err != nil {
		c.logger.Warn("dead-lettering undecodable message", zap.Error(err))
		return dispositionDeadLetter
	}
	if err := msg.Validate(); err != nil {
		c.logger.Warn("dead-lettering invalid message",
			zap.String("notificationId", msg.NotificationID),
			zap.Error(err),
		)
		return dispositionDeadLetter
	}

	if err := handler(ctx, msg); err != nil {
		next := dispositionRequeue
		if errors.Is(err, ErrPermanent) {
			next = dispositionDeadLetter
		}
		c.logger.Warn("stage due handler failed",
			zap.String("notificationId", msg.NotificationID),
			zap.Stringer("disposition", next),
			zap.Error(err),
		)
		return next
	}
	return dispositionAck
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func decodeDelivery(body []byte) (StageDueMessage, error) {
	var msg StageDueMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return StageDueMessage{}, fmt.Errorf("failed to decode stage due message: %w", err)
	}
	return msg, nil
}
