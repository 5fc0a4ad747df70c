package models

import "time"

// APIUsage holds the flushed API call counter of one user for one month.
type APIUsage struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index:ux_api_usage_user_period,unique,priority:1" json:"user_id"`
	Period    string    `gorm:"type:varchar(7);not null;index:ux_api_usage_user_period,unique,priority:2" json:"period"`
	CallCount int64     `gorm:"not null;default:0" json:"call_count"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (APIUsage) TableName() string {
	return "api_usage"
}

// UsagePeriod formats t as the YYYY-MM period key (UTC).
func UsagePeriod(t time.Time) string {
	return t.UTC().Format("2006-01")
}
