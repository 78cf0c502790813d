package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type recordingAcknowledger struct {
	acked    int
	nacked   int
	rejected int
	requeue  bool
}

func (a *recordingAcknowledger) Ack(uint64, bool) error {
	a.acked++
	return nil
}

func (a *recordingAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked++
	a.requeue = requeue
	return nil
}

func (a *recordingAcknowledger) Reject(_ uint64, requeue bool) error {
	a.rejected++
	a.requeue = requeue
	return nil
}

func newDelivery(t *testing.T, ack amqp.Acknowledger, msg any) amqp.Delivery {
	t.Helper()

	body, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: body}
}

func TestHandleDelivery(t *testing.T) {
	t.Parallel()

	valid := StageDueMessage{NotificationID: "n1", ThrowID: "chain-7", StageID: "sprout"}

	testCases := []struct {
		name         string
		msg          any
		handlerErr   error
		wantAcked    int
		wantNacked   int
		wantRejected int
		wantRequeue  bool
		wantCalled   bool
	}{
		{name: "success acks", msg: valid, wantAcked: 1, wantCalled: true},
		{name: "transient failure requeues", msg: valid, handlerErr: errors.New("webhook down"), wantNacked: 1, wantRequeue: true, wantCalled: true},
		{name: "permanent failure dead-letters", msg: valid, handlerErr: fmt.Errorf("%w: 400", ErrPermanent), wantRejected: 1, wantCalled: true},
		{name: "invalid payload is rejected", msg: StageDueMessage{NotificationID: "n1"}, wantRejected: 1},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ack := &recordingAcknowledger{}
			called := false
			c := NewRabbitMQConsumer(nil, 1, zap.NewNop())
			err := c.handleDelivery(context.Background(), newDelivery(t, ack, tc.msg), func(context.Context, StageDueMessage) error {
				called = true
				return tc.handlerErr
			})
			if err != nil {
				t.Fatalf("handleDelivery() error = %v", err)
			}
			if called != tc.wantCalled {
				t.Fatalf("handler called = %v, want %v", called, tc.wantCalled)
			}
			if ack.acked != tc.wantAcked || ack.nacked != tc.wantNacked || ack.rejected != tc.wantRejected {
				t.Fatalf("ack/nack/reject = %d/%d/%d, want %d/%d/%d",
					ack.acked, ack.nacked, ack.rejected, tc.wantAcked, tc.wantNacked, tc.wantRejected)
			}
			if ack.requeue != tc.wantRequeue {
				t.Fatalf("requeue = %v, want %v", ack.requeue, tc.wantRequeue)
			}
		})
	}
}

func TestConsumeRequiresClient(t *testing.T) {
	t.Parallel()

	c := NewRabbitMQConsumer(nil, 1, nil)
	if err := c.Consume(context.Background(), StageDueQueue, func(context.Context, StageDueMessage) error { return nil }); err == nil {
		t.Fatal("Consume() error = nil, want error without a client")
	}
}

func TestHandleDeliveryDeadLettersGarbage(t *testing.T) {
	t.Parallel()

	ack := &recordingAcknowledger{}
	c := NewRabbitMQConsumer(nil, 1, nil)
	d := amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: []byte("{not json")}
	err := c.handleDelivery(context.Background(), d, func(context.Context, StageDueMessage) error {
		t.Fatal("handler must not run for an undecodable body")
		return nil
	})
	if err != nil {
		t.Fatalf("handleDelivery() error = %v", err)
	}
	if ack.rejected != 1 || ack.requeue {
		t.Fatalf("rejected = %d requeue = %v, want 1 false", ack.rejected, ack.requeue)
	}
}

func TestDispositionString(t *testing.T) {
	t.Parallel()

	for d, want := range map[disposition]string{
		dispositionAck:        "ack",
		dispositionRequeue:    "requeue",
		dispositionDeadLetter: "dead-letter",
	} {
		if got := d.String(); got != want {
			t.Fatalf("disposition(%d).String() = %q, want %q", d, got, want)
		}
	}
}
