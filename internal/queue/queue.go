package queue

import (
	"context"
	"errors"
	"fmt"
)

// ErrPermanent marks a handler failure that retrying will not fix. The
// consumer rejects such messages to the dead-letter queue instead of
// requeueing them.
var ErrPermanent = errors.New("permanent failure")

// Publisher publishes stage-due messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg StageDueMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message.
type MessageHandler func(ctx context.Context, msg StageDueMessage) error

// Consumer consumes stage-due messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

const (
	// StageDueQueue receives one message per notification that came due.
	StageDueQueue = "podledger.stage-due"

	stageDueRoutingKey = "stage-due"
)

// DLQName returns the dead-letter queue name for a work queue.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", queue)
}
