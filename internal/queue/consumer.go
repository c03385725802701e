package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/notifyhub/delivery-engine/internal/observability"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// RabbitMQConsumer drains one work queue and settles every delivery exactly
// once: ack on success, requeue on a first handler failure, reject otherwise.
// Rejected deliveries travel through the queue's dead-letter exchange into
// the matching poison queue, where operators can inspect and replay them.
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

	return &RabbitMQConsumer{
		client:   client,
		prefetch: prefetch,
		logger:   logger,
	}
}

// Consume drains queueName until context cancellation, reconnecting with
// exponential backoff after broker failures.
func (c *RabbitMQConsumer) Consume(ctx context.Context, queueName string, handler MessageHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if queueName == "" {
		return fmt.Errorf("queue name is required")
	}
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	wait := reconnectBackoff
	for {
		err := c.drain(ctx, queueName, handler)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			wait = reconnectBackoff
			continue
		}

		c.logger.Warn("consume loop interrupted",
			zap.String("queue", queueName),
			zap.Duration("retryIn", wait),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
		wait = min(wait*2, maxBackoff)
	}
}

func (c *RabbitMQConsumer) drain(ctx context.Context, queueName string, handler MessageHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck // best-effort channel close

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queueName, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery stream for %q closed", queueName)
			}
			if err := c.settle(ctx, d, handler); err != nil {
				return err
			}
		}
	}
}

// settle decides one delivery's fate. Undecodable payloads go straight to the
// poison queue. Handler failures are requeued once; a redelivered message
// that fails again is poisoned too, so a persistently failing message cannot
// occupy the prefetch window forever.
func (c *RabbitMQConsumer) settle(ctx context.Context, d amqp.Delivery, handler MessageHandler) error {
	msg, err := decodeSendMessage(d.Body)
	if err != nil {
		c.logger.Warn("poisoning undecodable message",
			zap.String("queue", d.RoutingKey),
			zap.Error(err),
		)
		return settleOutcome("reject", d.Reject(false))
	}

	msgCtx := ctx
	if d.CorrelationId != "" {
		msgCtx = observability.WithCorrelationID(ctx, d.CorrelationId)
	}

	if err := handler(msgCtx, msg); err != nil {
		logger := observability.WithContextLogger(c.logger, msgCtx)
		if d.Redelivered {
			logger.Error("poisoning message after repeated handler failure",
				zap.String("notificationId", msg.NotificationID),
				zap.Error(err),
			)
			return settleOutcome("reject", d.Reject(false))
		}

		logger.Warn("requeueing message after handler failure",
			zap.String("notificationId", msg.NotificationID),
			zap.Error(err),
		)
		return settleOutcome("nack", d.Nack(false, true))
	}

	return settleOutcome("ack", d.Ack(false))
}

func settleOutcome(op string, err error) error {
	if err != nil {
		return fmt.Errorf("failed to %s delivery: %w", op, err)
	}
	return nil
}

func (c *RabbitMQConsumer) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
