package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/notifyhub/delivery-engine/internal/domain"
	"github.com/notifyhub/delivery-engine/internal/observability"
	"github.com/notifyhub/delivery-engine/internal/queue"
	"github.com/notifyhub/delivery-engine/internal/repository"
	"go.uber.org/zap"
)

// DispatchService accepts new notifications, persists them as PENDING, and
// hands first attempts to the broker.
type DispatchService struct {
	notifications repository.NotificationRepository
	publisher     queue.Publisher
	logger        *zap.Logger
}

func NewDispatchService(
	notifications repository.NotificationRepository,
	publisher queue.Publisher,
	logger *zap.Logger,
) (*DispatchService, error) {
	if notifications == nil {
		return nil, fmt.Errorf("notification repository is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("queue publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DispatchService{
		notifications: notifications,
		publisher:     publisher,
		logger:        logger,
	}, nil
}

// Dispatch validates and stores the notification, then publishes the send
// message. A publish failure leaves the row FAILED so the retry orchestrator
// picks it up instead of losing it.
func (s *DispatchService) Dispatch(ctx context.Context, n *domain.Notification) (*domain.Notification, error) {
	if n == nil {
		return nil, fmt.Errorf("%w: notification is required", domain.ErrValidation)
	}

	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	n.Status = domain.StatusPending
	n.RetryCount = 0

	if err := n.Validate(); err != nil {
		return nil, err
	}

	if err := s.notifications.Create(ctx, n); err != nil {
		return nil, fmt.Errorf("failed to store notification: %w", err)
	}

	correlationID, _ := observability.CorrelationIDFromContext(ctx)
	msg := queue.SendMessage{
		NotificationID: n.ID,
		UserID:         n.UserID,
		Channel:        n.Channel,
		Priority:       n.Priority,
		CorrelationID:  correlationID,
	}

	if err := s.publisher.Publish(ctx, queue.QueueName(n.Channel), msg); err != nil {
		s.logger.Error("failed to publish send message",
			zap.String("notificationId", n.ID),
			zap.Error(err),
		)
		if markErr := s.notifications.MarkFailed(ctx, n.ID, "queued for retry: broker unavailable", "PUBLISH_FAILED"); markErr != nil {
			return nil, fmt.Errorf("publish failed and notification could not be marked: %w", markErr)
		}
		refreshed, getErr := s.notifications.GetByID(ctx, n.ID)
		if getErr != nil {
			return nil, getErr
		}
		return refreshed, nil
	}

	s.logger.Info("notification dispatched",
		zap.String("notificationId", n.ID),
		zap.String("channel", n.Channel.String()),
		zap.String("priority", n.Priority.String()),
	)

	return n, nil
}

// Get returns a notification by id.
func (s *DispatchService) Get(ctx context.Context, id string) (*domain.Notification, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", domain.ErrValidation)
	}
	return s.notifications.GetByID(ctx, id)
}
