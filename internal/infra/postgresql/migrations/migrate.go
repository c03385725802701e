package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/notifyhub/delivery-engine/internal/repository"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "000001_create_notifications",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.NotificationModel{}); err != nil {
					return err
				}
				indexes := []string{
					// The retry scan filters FAILED rows by retry count and age.
					`CREATE INDEX IF NOT EXISTS idx_notifications_retry_scan ON notifications (retry_count, updated_at) WHERE status = 'FAILED'`,
					`CREATE INDEX IF NOT EXISTS idx_notifications_status_created ON notifications (status, created_at)`,
					`CREATE INDEX IF NOT EXISTS idx_notifications_dlq_moved ON notifications (dlq_moved_at) WHERE status = 'DLQ'`,
					`CREATE INDEX IF NOT EXISTS idx_notifications_dlq_error_code ON notifications (error_code) WHERE status = 'DLQ'`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.NotificationModel{})
			},
		},
		{
			ID: "000002_create_device_tokens",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.DeviceTokenModel{}); err != nil {
					return err
				}
				indexes := []string{
					`CREATE INDEX IF NOT EXISTS idx_device_tokens_user_active ON device_tokens (user_id) WHERE active`,
					`CREATE INDEX IF NOT EXISTS idx_device_tokens_deactivated ON device_tokens (deactivated_at) WHERE NOT active`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.DeviceTokenModel{})
			},
		},
	})

	return m.Migrate()
}
