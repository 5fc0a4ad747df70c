package models

import (
	"time"

	"gorm.io/datatypes"
)

// ErrorLog records a failed sync of an integration.
type ErrorLog struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	IntegrationID string         `gorm:"type:varchar(36);not null;index" json:"integration_id"`
	ErrorMessage  string         `gorm:"type:text;not null" json:"error_message"`
	ErrorCode     string         `gorm:"type:varchar(100)" json:"error_code"`
	Timestamp     time.Time      `gorm:"not null;index" json:"timestamp"`
	Details       datatypes.JSON `json:"details"`
}
