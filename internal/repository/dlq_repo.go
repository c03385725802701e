package repository

import (
	"context"
	"time"

	"github.com/notifyhub/delivery-engine/internal/domain"
	"gorm.io/gorm"
)

// DLQFields are the diagnostic fields stamped onto a row when it is moved to
// the dead letter queue.
type DLQFields struct {
	MovedAt time.Time
	Reason  string
	Stack   string
	Extra   map[string]any
}

// DLQListParams filter and page the DLQ listing, newest moves first.
type DLQListParams struct {
	UserID    string
	ErrorCode string
	From      *time.Time
	To        *time.Time
	Page      int
	PageSize  int
}

// CodeCount is one error-code bucket in the DLQ breakdown.
type CodeCount struct {
	ErrorCode string `gorm:"column:error_code"`
	Count     int64  `gorm:"column:count"`
}

// UserCount is one user bucket in the DLQ breakdown.
type UserCount struct {
	UserID string `gorm:"column:user_id"`
	Count  int64  `gorm:"column:count"`
}

// DLQStatistics summarizes the quarantine for operator dashboards.
type DLQStatistics struct {
	Total       int64
	ByErrorCode []CodeCount
	ByUser      []UserCount
	OldestEntry *time.Time
	NewestEntry *time.Time
}

type DLQRepository interface {
	// MoveToDLQ transitions a row to DLQ status, preserving its payload and
	// merging diagnostic fields. Persistence failures propagate: losing a DLQ
	// write means silently dropping a notification.
	MoveToDLQ(ctx context.Context, id string, fields DLQFields) error

	List(ctx context.Context, params DLQListParams) ([]domain.Notification, int64, error)
	Statistics(ctx context.Context, topCodes int) (*DLQStatistics, error)

	// ResetForReplay returns a DLQ entry to PENDING with retry count zero and
	// an incremented replay counter.
	ResetForReplay(ctx context.Context, id string) (*domain.Notification, error)

	// Delete permanently removes an entry, scoped to DLQ status so live rows
	// cannot be deleted by operator tooling.
	Delete(ctx context.Context, id string) error

	// DeleteOlderThan removes DLQ entries moved before the cutoff, returning
	// the number deleted.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	Count(ctx context.Context) (int64, error)
}

type GormDLQRepo struct {
	db *gorm.DB
}

func NewGormDLQRepo(db *gorm.DB) *GormDLQRepo {
	return &GormDLQRepo{db: db}
}

func (r *GormDLQRepo) MoveToDLQ(ctx context.Context, id string, fields DLQFields) error {
	updates := map[string]any{
		"status":       domain.StatusDLQ,
		"dlq_moved_at": fields.MovedAt,
		"dlq_reason":   fields.Reason,
	}
	if fields.Stack != "" {
		updates["dlq_stack"] = fields.Stack
	}
	for key, value := range fields.Extra {
		switch key {
		case "error_message", "error_code":
			updates[key] = value
		}
	}

	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormDLQRepo) List(ctx context.Context, params DLQListParams) ([]domain.Notification, int64, error) {
	query := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("status = ?", domain.StatusDLQ)

	if params.UserID != "" {
		query = query.Where("user_id = ?", params.UserID)
	}
	if params.ErrorCode != "" {
		query = query.Where("error_code = ?", params.ErrorCode)
	}
	if params.From != nil {
		query = query.Where("dlq_moved_at >= ?", *params.From)
	}
	if params.To != nil {
		query = query.Where("dlq_moved_at <= ?", *params.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	page := max(params.Page, 1)
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = 50
	}
	pageSize = min(pageSize, 100)

	var models []NotificationModel
	err := query.
		Order("dlq_moved_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&models).Error
	if err != nil {
		return nil, 0, err
	}

	entries := make([]domain.Notification, 0, len(models))
	for i := range models {
		entries = append(entries, *notificationModelToDomain(&models[i]))
	}

	return entries, total, nil
}

func (r *GormDLQRepo) Statistics(ctx context.Context, topCodes int) (*DLQStatistics, error) {
	if topCodes <= 0 {
		topCodes = 10
	}

	base := func() *gorm.DB {
		return r.db.WithContext(ctx).
			Model(&NotificationModel{}).
			Where("status = ?", domain.StatusDLQ)
	}

	stats := &DLQStatistics{}

	if err := base().Count(&stats.Total).Error; err != nil {
		return nil, err
	}

	err := base().
		Select("COALESCE(error_code, 'UNKNOWN_ERROR') AS error_code, COUNT(*) AS count").
		Group("COALESCE(error_code, 'UNKNOWN_ERROR')").
		Order("count DESC").
		Limit(topCodes).
		Scan(&stats.ByErrorCode).Error
	if err != nil {
		return nil, err
	}

	err = base().
		Select("user_id, COUNT(*) AS count").
		Group("user_id").
		Order("count DESC").
		Limit(10).
		Scan(&stats.ByUser).Error
	if err != nil {
		return nil, err
	}

	var bounds struct {
		Oldest *time.Time `gorm:"column:oldest"`
		Newest *time.Time `gorm:"column:newest"`
	}
	err = base().
		Select("MIN(dlq_moved_at) AS oldest, MAX(dlq_moved_at) AS newest").
		Scan(&bounds).Error
	if err != nil {
		return nil, err
	}
	stats.OldestEntry = bounds.Oldest
	stats.NewestEntry = bounds.Newest

	return stats, nil
}

func (r *GormDLQRepo) ResetForReplay(ctx context.Context, id string) (*domain.Notification, error) {
	result := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("id = ? AND status = ?", id, domain.StatusDLQ).
		Updates(map[string]any{
			"status":          domain.StatusPending,
			"retry_count":     0,
			"error_message":   nil,
			"error_code":      nil,
			"dlq_retry_count": gorm.Expr("dlq_retry_count + 1"),
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, domain.ErrNotFound
	}

	var model NotificationModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return notificationModelToDomain(&model), nil
}

func (r *GormDLQRepo) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Where("id = ? AND status = ?", id, domain.StatusDLQ).
		Delete(&NotificationModel{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormDLQRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status = ? AND dlq_moved_at < ?", domain.StatusDLQ, cutoff).
		Delete(&NotificationModel{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *GormDLQRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&NotificationModel{}).
		Where("status = ?", domain.StatusDLQ).
		Count(&count).Error
	return count, err
}
