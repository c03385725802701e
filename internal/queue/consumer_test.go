package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/notifyhub/delivery-engine/internal/domain"
	"github.com/notifyhub/delivery-engine/internal/observability"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

func TestSettleAcksHandledMessage(t *testing.T) {
	t.Parallel()

	c := &RabbitMQConsumer{logger: zap.NewNop()}
	ack := &fakeAcknowledger{}

	handled := false
	err := c.settle(context.Background(), testDelivery(t, ack), func(ctx context.Context, msg SendMessage) error {
		handled = true
		return nil
	})
	if err != nil {
		t.Fatalf("settle() error = %v", err)
	}
	if !handled {
		t.Fatal("expected handler to run")
	}
	if ack.acks != 1 || ack.nacks != 0 || ack.rejects != 0 {
		t.Fatalf("settlement = %+v, want a single ack", ack)
	}
}

func TestSettleRequeuesFirstHandlerFailure(t *testing.T) {
	t.Parallel()

	c := &RabbitMQConsumer{logger: zap.NewNop()}
	ack := &fakeAcknowledger{}

	err := c.settle(context.Background(), testDelivery(t, ack), func(ctx context.Context, msg SendMessage) error {
		return errors.New("database unavailable")
	})
	if err != nil {
		t.Fatalf("settle() error = %v", err)
	}
	if ack.nacks != 1 {
		t.Fatalf("nacks = %d, want 1", ack.nacks)
	}
	if !ack.requeued {
		t.Fatal("first failure should requeue the delivery")
	}
}

func TestSettlePoisonsRepeatedHandlerFailure(t *testing.T) {
	t.Parallel()

	c := &RabbitMQConsumer{logger: zap.NewNop()}
	ack := &fakeAcknowledger{}

	d := testDelivery(t, ack)
	d.Redelivered = true

	err := c.settle(context.Background(), d, func(ctx context.Context, msg SendMessage) error {
		return errors.New("database unavailable")
	})
	if err != nil {
		t.Fatalf("settle() error = %v", err)
	}
	if ack.rejects != 1 {
		t.Fatalf("rejects = %d, want 1", ack.rejects)
	}
	if ack.requeued {
		t.Fatal("a redelivered failure must not requeue again")
	}
}

func TestSettlePoisonsUndecodablePayload(t *testing.T) {
	t.Parallel()

	c := &RabbitMQConsumer{logger: zap.NewNop()}
	ack := &fakeAcknowledger{}

	d := testDelivery(t, ack)
	d.Body = []byte("{not json")

	err := c.settle(context.Background(), d, func(ctx context.Context, msg SendMessage) error {
		t.Fatal("handler must not run for an undecodable payload")
		return nil
	})
	if err != nil {
		t.Fatalf("settle() error = %v", err)
	}
	if ack.rejects != 1 || ack.requeued {
		t.Fatalf("settlement = %+v, want a single non-requeueing reject", ack)
	}
}

func TestSettlePoisonsInvalidPayload(t *testing.T) {
	t.Parallel()

	c := &RabbitMQConsumer{logger: zap.NewNop()}
	ack := &fakeAcknowledger{}

	d := testDelivery(t, ack)
	d.Body = mustMarshal(t, SendMessage{NotificationID: "n1", Channel: domain.ChannelPush, Priority: domain.PriorityNormal})

	err := c.settle(context.Background(), d, func(ctx context.Context, msg SendMessage) error {
		t.Fatal("handler must not run for an invalid payload")
		return nil
	})
	if err != nil {
		t.Fatalf("settle() error = %v", err)
	}
	if ack.rejects != 1 {
		t.Fatalf("rejects = %d, want 1", ack.rejects)
	}
}

func TestSettleRestoresCorrelationID(t *testing.T) {
	t.Parallel()

	c := &RabbitMQConsumer{logger: zap.NewNop()}
	ack := &fakeAcknowledger{}

	d := testDelivery(t, ack)
	d.CorrelationId = "cid-42"

	var got string
	err := c.settle(context.Background(), d, func(ctx context.Context, msg SendMessage) error {
		got, _ = observability.CorrelationIDFromContext(ctx)
		return nil
	})
	if err != nil {
		t.Fatalf("settle() error = %v", err)
	}
	if got != "cid-42" {
		t.Fatalf("correlation id in handler context = %q, want cid-42", got)
	}
}

func TestSettlePropagatesAckFailure(t *testing.T) {
	t.Parallel()

	c := &RabbitMQConsumer{logger: zap.NewNop()}
	ack := &fakeAcknowledger{ackErr: errors.New("channel closed")}

	err := c.settle(context.Background(), testDelivery(t, ack), func(ctx context.Context, msg SendMessage) error {
		return nil
	})
	if err == nil {
		t.Fatal("expected ack failure to propagate")
	}
}

func testDelivery(t *testing.T, ack amqp.Acknowledger) amqp.Delivery {
	t.Helper()

	return amqp.Delivery{
		Acknowledger: ack,
		RoutingKey:   "send.push",
		Body: mustMarshal(t, SendMessage{
			NotificationID: "n1",
			UserID:         "u1",
			Channel:        domain.ChannelPush,
			Priority:       domain.PriorityNormal,
		}),
	}
}

func mustMarshal(t *testing.T, msg SendMessage) []byte {
	t.Helper()

	body, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("json.Marshal() error = %v", err)
	}
	return body
}

type fakeAcknowledger struct {
	acks     int
	nacks    int
	rejects  int
	requeued bool
	ackErr   error
}

func (a *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	a.acks++
	return a.ackErr
}

func (a *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	a.nacks++
	a.requeued = requeue
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	a.rejects++
	a.requeued = requeue
	return nil
}
