// Package queue carries first-attempt send work from the ingest API to the
// worker process. Retries never travel through the broker; the retry
// orchestrator owns them via the database scan.
package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/notifyhub/delivery-engine/internal/domain"
)

// Publisher publishes send messages to a channel work queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg SendMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message.
type MessageHandler func(ctx context.Context, msg SendMessage) error

// Consumer consumes send messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

var supportedChannels = []domain.Channel{
	domain.ChannelPush,
	domain.ChannelEmail,
	domain.ChannelInApp,
}

// queueMaxPriority is the RabbitMQ x-max-priority value for work queues.
const queueMaxPriority int32 = 4

// QueueName returns the channel work queue name, e.g. send.push.
func QueueName(channel domain.Channel) string {
	return fmt.Sprintf("send.%s", strings.ToLower(channel.String()))
}

// PoisonQueueName returns the broker dead-letter queue for undecodable
// messages, e.g. poison.send.push. Unrelated to the database DLQ.
func PoisonQueueName(channel domain.Channel) string {
	return fmt.Sprintf("poison.%s", QueueName(channel))
}

// WorkQueueNames returns all channel work queues.
func WorkQueueNames() []string {
	queues := make([]string, 0, len(supportedChannels))
	for _, channel := range supportedChannels {
		queues = append(queues, QueueName(channel))
	}
	return queues
}

// PriorityValue maps domain priority to RabbitMQ message priority.
func PriorityValue(priority domain.Priority) uint8 {
	switch priority {
	case domain.PriorityUrgent:
		return 4
	case domain.PriorityHigh:
		return 3
	case domain.PriorityNormal:
		return 2
	case domain.PriorityLow:
		return 1
	default:
		return 0
	}
}
