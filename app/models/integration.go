package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	INTEGRATION_ACTIVE   = "Active"
	INTEGRATION_INACTIVE = "Inactive"
	INTEGRATION_ERROR    = "Error"
)

// FieldMapping pairs one source field with one target field.
type FieldMapping struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// Integration is a configured data link between two platforms owned by a user.
type Integration struct {
	ID             string         `gorm:"type:varchar(36);primaryKey" json:"id"`
	UserID         uint           `gorm:"not null;index" json:"user_id"`
	Name           string         `gorm:"type:varchar(150);not null" json:"name"`
	Platform       string         `gorm:"type:varchar(50);not null" json:"platform"`
	TargetPlatform string         `gorm:"type:varchar(50);not null" json:"target_platform"`
	FieldMappings  []FieldMapping `gorm:"type:text;serializer:json" json:"field_mappings"`
	Status         string         `gorm:"type:varchar(20);not null;default:'Active';index" json:"status"`
	LastSync       *time.Time     `gorm:"default:null" json:"last_sync"`
	ErrorMessage   string         `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt      time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (i *Integration) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	if i.Status == "" {
		i.Status = INTEGRATION_ACTIVE
	}
	return nil
}

func (i *Integration) IsErrored() bool {
	return i.Status == INTEGRATION_ERROR
}
