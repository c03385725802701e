package domain

import "time"

// DeviceToken is a push subscription credential owned by a user.
// Tokens are never deleted on delivery failure; they are deactivated with a
// recorded reason so operator sweeps can audit why a token died.
type DeviceToken struct {
	ID                 string
	UserID             string
	Token              string
	Platform           string
	Active             bool
	DeactivationReason *string
	DeactivatedAt      *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
