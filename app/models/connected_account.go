package models

import "time"

const (
	ACCOUNT_PURPOSE_LOGIN    = "login"
	ACCOUNT_PURPOSE_PLATFORM = "platform"
)

// ConnectedAccount stores an external identity or platform credential linked to
// a user. Secrets are sealed before they reach this struct.
type ConnectedAccount struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	UserID         uint       `gorm:"not null;index" json:"user_id"`
	Purpose        string     `gorm:"type:varchar(20);not null;default:'platform';index" json:"purpose"`
	Provider       string     `gorm:"type:varchar(50);not null;index" json:"provider"`
	ProviderUserID string     `gorm:"type:varchar(191);index" json:"provider_user_id,omitempty"`
	IntegrationID  *string    `gorm:"type:varchar(36);index" json:"integration_id,omitempty"`
	Secret         string     `gorm:"type:text" json:"-"`
	RefreshSecret  string     `gorm:"type:text" json:"-"`
	ExpiresAt      *time.Time `gorm:"default:null" json:"expires_at,omitempty"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
