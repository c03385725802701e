package repository

import (
	"context"
	"errors"
	"time"

	"github.com/notifyhub/delivery-engine/internal/domain"
	"gorm.io/gorm"
)

// RetryStats aggregates counters for dashboards and alert checks.
type RetryStats struct {
	TotalFailed    int64
	PendingRetry   int64
	RetriedTotal   int64
	RetriedSucceed int64
}

// SuccessRate is successful-sends-with-retries over all items that were
// retried at least once. Returns 1 when nothing has been retried yet.
func (s RetryStats) SuccessRate() float64 {
	if s.RetriedTotal == 0 {
		return 1
	}
	return float64(s.RetriedSucceed) / float64(s.RetriedTotal)
}

type NotificationRepository interface {
	Create(ctx context.Context, n *domain.Notification) error
	GetByID(ctx context.Context, id string) (*domain.Notification, error)

	// FindEligibleForRetry returns FAILED notifications whose per-attempt
	// backoff has elapsed, urgent and oldest first, capped at limit.
	FindEligibleForRetry(ctx context.Context, maxRetries int, backoffs []time.Duration, limit int) ([]domain.Notification, error)

	// ClaimForRetry conditionally moves a FAILED notification to PENDING and
	// increments its retry count. Returns false when another worker already
	// claimed the row or its status changed.
	ClaimForRetry(ctx context.Context, id string) (bool, error)

	MarkSent(ctx context.Context, id string, sentAt time.Time) error
	MarkFailed(ctx context.Context, id string, message, code string) error

	// ResetForManualRetry returns a FAILED or DLQ notification to PENDING
	// with a zero retry count and cleared error fields.
	ResetForManualRetry(ctx context.Context, id string) (*domain.Notification, error)

	// IncrementPendingRetry bumps the retry count of a PENDING notification.
	// Returns false when the row is absent or no longer pending.
	IncrementPendingRetry(ctx context.Context, id string) (bool, error)

	CountByStatus(ctx context.Context, status domain.Status) (int64, error)
	RetryStats(ctx context.Context) (RetryStats, error)
}

type GormNotificationRepo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormNotificationRepo(db *gorm.DB) *GormNotificationRepo {
	return &GormNotificationRepo{db: db, now: time.Now}
}

func (r *GormNotificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	model := notificationModelFromDomain(n)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if n != nil {
		*n = *notificationModelToDomain(model)
	}
	return nil
}

func (r *GormNotificationRepo) GetByID(ctx context.Context, id string) (*domain.Notification, error) {
	var model NotificationModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return notificationModelToDomain(&model), nil
}

func (r *GormNotificationRepo) FindEligibleForRetry(
	ctx context.Context,
	maxRetries int,
	backoffs []time.Duration,
	limit int,
) ([]domain.Notification, error) {
	if maxRetries <= 0 || limit <= 0 || len(backoffs) == 0 {
		return nil, nil
	}

	now := r.now().UTC()
	query := r.db.WithContext(ctx).
		Where("status = ? AND retry_count < ?", domain.StatusFailed, maxRetries)

	// Each retry count has its own backoff window; counts beyond the schedule
	// use the last interval.
	backoff := r.db.Session(&gorm.Session{NewDB: true})
	for i := 0; i < maxRetries; i++ {
		interval := backoffs[min(i, len(backoffs)-1)]
		cutoff := now.Add(-interval)
		if i == maxRetries-1 {
			backoff = backoff.Or("retry_count >= ? AND updated_at <= ?", i, cutoff)
		} else {
			backoff = backoff.Or("retry_count = ? AND updated_at <= ?", i, cutoff)
		}
	}
	query = query.Where(backoff)

	var models []NotificationModel
	err := query.
		Order(priorityRankExpr + ", created_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	notifications := make([]domain.Notification, 0, len(models))
	for i := range models {
		notifications = append(notifications, *notificationModelToDomain(&models[i]))
	}

	return notifications, nil
}

const priorityRankExpr = `CASE priority
	WHEN 'URGENT' THEN 0
	WHEN 'HIGH' THEN 1
	WHEN 'NORMAL' THEN 2
	ELSE 3
END`

func (r *GormNotificationRepo) ClaimForRetry(ctx context.Context, id string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND status = ?", id, domain.StatusFailed).
		Updates(map[string]any{
			"status":      domain.StatusPending,
			"retry_count": gorm.Expr("retry_count + 1"),
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *GormNotificationRepo) MarkSent(ctx context.Context, id string, sentAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        domain.StatusSent,
			"sent_at":       sentAt,
			"error_message": nil,
			"error_code":    nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormNotificationRepo) MarkFailed(ctx context.Context, id string, message, code string) error {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        domain.StatusFailed,
			"error_message": message,
			"error_code":    code,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormNotificationRepo) ResetForManualRetry(ctx context.Context, id string) (*domain.Notification, error) {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND status IN ?", id, []domain.Status{domain.StatusFailed, domain.StatusDLQ}).
		Updates(map[string]any{
			"status":        domain.StatusPending,
			"retry_count":   0,
			"error_message": nil,
			"error_code":    nil,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, domain.ErrConflict
	}

	return r.GetByID(ctx, id)
}

func (r *GormNotificationRepo) IncrementPendingRetry(ctx context.Context, id string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND status = ?", id, domain.StatusPending).
		Update("retry_count", gorm.Expr("retry_count + 1"))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *GormNotificationRepo) CountByStatus(ctx context.Context, status domain.Status) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("status = ?", status).
		Count(&count).Error
	return count, err
}

func (r *GormNotificationRepo) RetryStats(ctx context.Context) (RetryStats, error) {
	var stats RetryStats

	queries := []struct {
		dest  *int64
		where *gorm.DB
	}{
		{&stats.TotalFailed, r.db.Where("status = ?", domain.StatusFailed)},
		{&stats.PendingRetry, r.db.Where("status = ?", domain.StatusPending)},
		{&stats.RetriedTotal, r.db.Where("retry_count > 0")},
		{&stats.RetriedSucceed, r.db.Where("retry_count > 0 AND status = ?", domain.StatusSent)},
	}

	for _, q := range queries {
		err := r.db.WithContext(ctx).
			Model(&NotificationModel{}).
			Where(q.where).
			Count(q.dest).Error
		if err != nil {
			return RetryStats{}, err
		}
	}

	return stats, nil
}
