package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// ActivityLog is the append-only audit trail of user and system actions.
type ActivityLog struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	UserID    uint           `gorm:"not null;index" json:"user_id"`
	Action    string         `gorm:"type:varchar(150);not null" json:"action"`
	Details   datatypes.JSON `json:"details"`
	CreatedAt time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
}

// NewActivityLog marshals details into the opaque JSON column. Details that
// cannot be marshalled are replaced by null.
func NewActivityLog(userID uint, action string, details any) ActivityLog {
	entry := ActivityLog{UserID: userID, Action: action}
	if details != nil {
		if raw, err := json.Marshal(details); err == nil {
			entry.Details = datatypes.JSON(raw)
		}
	}
	return entry
}
