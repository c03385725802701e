package repository

import (
	"context"
	"time"

	"github.com/notifyhub/delivery-engine/internal/domain"
	"gorm.io/gorm"
)

type DeviceTokenRepository interface {
	FindActiveByUser(ctx context.Context, userID string) ([]domain.DeviceToken, error)

	// Deactivate marks a single token inactive with the recorded reason.
	Deactivate(ctx context.Context, tokenID, reason string, at time.Time) error

	// DeleteInactiveByReasonPattern removes inactive tokens whose deactivation
	// reason matches the regex and that were deactivated before the cutoff.
	DeleteInactiveByReasonPattern(ctx context.Context, pattern string, before time.Time) (int64, error)
}

type GormDeviceTokenRepo struct {
	db *gorm.DB
}

func NewGormDeviceTokenRepo(db *gorm.DB) *GormDeviceTokenRepo {
	return &GormDeviceTokenRepo{db: db}
}

func (r *GormDeviceTokenRepo) FindActiveByUser(ctx context.Context, userID string) ([]domain.DeviceToken, error) {
	var models []DeviceTokenModel
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND active", userID).
		Order("created_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	tokens := make([]domain.DeviceToken, 0, len(models))
	for i := range models {
		tokens = append(tokens, *tokenModelToDomain(&models[i]))
	}

	return tokens, nil
}

func (r *GormDeviceTokenRepo) Deactivate(ctx context.Context, tokenID, reason string, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&DeviceTokenModel{}).
		Where("id = ? AND active", tokenID).
		Updates(map[string]any{
			"active":              false,
			"deactivation_reason": reason,
			"deactivated_at":      at,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormDeviceTokenRepo) DeleteInactiveByReasonPattern(ctx context.Context, pattern string, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("NOT active AND deactivation_reason ~* ? AND deactivated_at < ?", pattern, before).
		Delete(&DeviceTokenModel{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
