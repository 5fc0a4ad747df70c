package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/SyncFox/app/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type webhookEventRepository struct {
	db *gorm.DB
}

// NewWebhookEventRepository creates a new webhook event repository instance
func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &webhookEventRepository{db: db}
}

// Record appends the event and stamps the integration's last_sync in one
// transaction. It returns the stored event together with the updated
// integration so callers can notify its owner.
func (r *webhookEventRepository) Record(ctx context.Context, integrationID, eventType string, payload []byte) (*models.WebhookEvent, *models.Integration, error) {
	var (
		event       models.WebhookEvent
		integration models.Integration
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&integration, "id = ?", integrationID).Error; err != nil {
			return translate(err)
		}

		event = models.WebhookEvent{
			IntegrationID: integrationID,
			EventType:     eventType,
			Payload:       datatypes.JSON(payload),
		}
		if err := tx.Create(&event).Error; err != nil {
			return err
		}

		now := time.Now().UTC()
		if err := tx.Model(&models.Integration{}).Where("id = ?", integrationID).
			Update("last_sync", now).Error; err != nil {
			return err
		}
		integration.LastSync = &now
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &event, &integration, nil
}

// RecentForUser returns the newest events across all integrations of a user.
func (r *webhookEventRepository) RecentForUser(ctx context.Context, userID uint, limit int) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	err := r.db.WithContext(ctx).
		Joins("JOIN integrations ON integrations.id = webhook_events.integration_id").
		Where("integrations.user_id = ?", userID).
		Order("webhook_events.created_at DESC, webhook_events.id DESC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

func (r *webhookEventRepository) CountByIntegration(ctx context.Context, integrationID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.WebhookEvent{}).Where("integration_id = ?", integrationID).Count(&count).Error
	return count, err
}
