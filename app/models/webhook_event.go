package models

import (
	"time"

	"gorm.io/datatypes"
)

// WebhookEvent is an inbound platform callback. Rows are append-only; the
// payload is kept verbatim without any schema assumed.
type WebhookEvent struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	IntegrationID string         `gorm:"type:varchar(36);not null;index" json:"integration_id"`
	EventType     string         `gorm:"type:varchar(100);not null;index" json:"event_type"`
	Payload       datatypes.JSON `json:"payload"`
	CreatedAt     time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
}
