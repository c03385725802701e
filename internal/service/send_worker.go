package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/notifyhub/delivery-engine/internal/domain"
	"github.com/notifyhub/delivery-engine/internal/observability"
	"github.com/notifyhub/delivery-engine/internal/queue"
	"github.com/notifyhub/delivery-engine/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SendWorker consumes first-attempt send messages from the broker and runs
// them through the shared delivery routine. Failed first attempts stay in the
// database for the retry orchestrator; the broker message is always acked.
type SendWorker struct {
	consumer      queue.Consumer
	notifications repository.NotificationRepository
	orchestrator  *RetryOrchestrator
	logger        *zap.Logger
}

func NewSendWorker(
	consumer queue.Consumer,
	notifications repository.NotificationRepository,
	orchestrator *RetryOrchestrator,
	logger *zap.Logger,
) (*SendWorker, error) {
	if consumer == nil {
		return nil, fmt.Errorf("queue consumer is required")
	}
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if orchestrator == nil {
		return nil, fmt.Errorf("retry orchestrator is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SendWorker{
		consumer:      consumer,
		notifications: notifications,
		orchestrator:  orchestrator,
		logger:        logger,
	}, nil
}

// Start consumes every channel work queue until context cancellation.
func (w *SendWorker) Start(ctx context.Context) error {
	g, groupCtx := errgroup.WithContext(ctx)

	for _, name := range queue.WorkQueueNames() {
		g.Go(func() error {
			w.logger.Info("consuming work queue", zap.String("queue", name))
			return w.consumer.Consume(groupCtx, name, w.Handle)
		})
	}

	return g.Wait()
}

// Handle performs the first delivery attempt for a queued notification.
// Returning an error requeues the message, so only infrastructure failures
// propagate; delivery failures are absorbed after the database records them.
func (w *SendWorker) Handle(ctx context.Context, msg queue.SendMessage) error {
	logger := observability.WithContextLogger(w.logger, ctx)

	n, err := w.notifications.GetByID(ctx, msg.NotificationID)
	if errors.Is(err, domain.ErrNotFound) {
		logger.Warn("dropping message for unknown notification",
			zap.String("notificationId", msg.NotificationID),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load notification %s: %w", msg.NotificationID, err)
	}

	// Idempotency: redelivered messages for settled rows are dropped.
	if n.Status != domain.StatusPending {
		logger.Debug("skipping non-pending notification",
			zap.String("notificationId", n.ID),
			zap.String("status", n.Status.String()),
		)
		return nil
	}

	if _, err := w.orchestrator.Deliver(ctx, n); err != nil {
		return fmt.Errorf("first attempt for notification %s failed: %w", n.ID, err)
	}

	return nil
}
