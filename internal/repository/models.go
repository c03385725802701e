package repository

import (
	"time"

	"github.com/notifyhub/delivery-engine/internal/domain"
)

// NotificationModel is the persistence model for the notifications table.
// DLQ entries live in the same table with status = DLQ.
type NotificationModel struct {
	ID           string          `gorm:"type:uuid;primaryKey"`
	UserID       string          `gorm:"type:varchar(64);not null;index"`
	Channel      domain.Channel  `gorm:"type:varchar(10);not null"`
	Priority     domain.Priority `gorm:"type:varchar(10);not null"`
	Title        string          `gorm:"type:varchar(255)"`
	Body         string          `gorm:"type:text"`
	Payload      map[string]any  `gorm:"type:jsonb;serializer:json"`
	Status       domain.Status   `gorm:"type:varchar(10);not null"`
	RetryCount   int             `gorm:"not null;default:0"`
	ErrorMessage *string         `gorm:"type:text"`
	ErrorCode    *string         `gorm:"type:varchar(64)"`

	DLQMovedAt    *time.Time
	DLQReason     *string `gorm:"type:text"`
	DLQStack      *string `gorm:"type:text"`
	DLQRetryCount int     `gorm:"not null;default:0"`

	SentAt    *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (NotificationModel) TableName() string {
	return "notifications"
}

// DeviceTokenModel is the persistence model for device_tokens.
type DeviceTokenModel struct {
	ID                 string  `gorm:"type:uuid;primaryKey"`
	UserID             string  `gorm:"type:varchar(64);not null;index"`
	Token              string  `gorm:"type:text;not null"`
	Platform           string  `gorm:"type:varchar(20)"`
	Active             bool    `gorm:"not null;default:true"`
	DeactivationReason *string `gorm:"type:text"`
	DeactivatedAt      *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (DeviceTokenModel) TableName() string {
	return "device_tokens"
}

func notificationModelFromDomain(n *domain.Notification) *NotificationModel {
	if n == nil {
		return nil
	}

	return &NotificationModel{
		ID:            n.ID,
		UserID:        n.UserID,
		Channel:       n.Channel,
		Priority:      n.Priority,
		Title:         n.Title,
		Body:          n.Body,
		Payload:       n.Payload,
		Status:        n.Status,
		RetryCount:    n.RetryCount,
		ErrorMessage:  n.ErrorMessage,
		ErrorCode:     n.ErrorCode,
		DLQMovedAt:    n.DLQMovedAt,
		DLQReason:     n.DLQReason,
		DLQStack:      n.DLQStack,
		DLQRetryCount: n.DLQRetryCount,
		SentAt:        n.SentAt,
		CreatedAt:     n.CreatedAt,
		UpdatedAt:     n.UpdatedAt,
	}
}

func notificationModelToDomain(m *NotificationModel) *domain.Notification {
	if m == nil {
		return nil
	}

	return &domain.Notification{
		ID:            m.ID,
		UserID:        m.UserID,
		Channel:       m.Channel,
		Priority:      m.Priority,
		Title:         m.Title,
		Body:          m.Body,
		Payload:       m.Payload,
		Status:        m.Status,
		RetryCount:    m.RetryCount,
		ErrorMessage:  m.ErrorMessage,
		ErrorCode:     m.ErrorCode,
		DLQMovedAt:    m.DLQMovedAt,
		DLQReason:     m.DLQReason,
		DLQStack:      m.DLQStack,
		DLQRetryCount: m.DLQRetryCount,
		SentAt:        m.SentAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func tokenModelToDomain(m *DeviceTokenModel) *domain.DeviceToken {
	if m == nil {
		return nil
	}

	return &domain.DeviceToken{
		ID:                 m.ID,
		UserID:             m.UserID,
		Token:              m.Token,
		Platform:           m.Platform,
		Active:             m.Active,
		DeactivationReason: m.DeactivationReason,
		DeactivatedAt:      m.DeactivatedAt,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}
