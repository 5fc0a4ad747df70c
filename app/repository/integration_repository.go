package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/SyncFox/app/models"
	"gorm.io/gorm"
)

type integrationRepository struct {
	db *gorm.DB
}

// NewIntegrationRepository creates a new integration repository instance
func NewIntegrationRepository(db *gorm.DB) IntegrationRepository {
	return &integrationRepository{db: db}
}

// CreateWithinLimit inserts the integration only while the owner's count is
// below integration_limit. Writing the owner's row first takes its row lock,
// so concurrent creations for the same user run one after another and the
// count they read is current.
func (r *integrationRepository) CreateWithinLimit(ctx context.Context, integration *models.Integration) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.User{}).Where("id = ?", integration.UserID).
			Update("updated_at", time.Now()).Error; err != nil {
			return err
		}

		var owner models.User
		if err := tx.Select("id", "integration_limit").First(&owner, integration.UserID).Error; err != nil {
			return translate(err)
		}

		var count int64
		if err := tx.Model(&models.Integration{}).Where("user_id = ?", integration.UserID).Count(&count).Error; err != nil {
			return err
		}
		if count >= int64(owner.IntegrationLimit) {
			return ErrQuotaExceeded
		}

		return tx.Create(integration).Error
	})
}

func (r *integrationRepository) GetByID(ctx context.Context, id string) (*models.Integration, error) {
	var integration models.Integration
	if err := r.db.WithContext(ctx).First(&integration, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &integration, nil
}

// GetForUser only returns the integration if userID owns it.
func (r *integrationRepository) GetForUser(ctx context.Context, userID uint, id string) (*models.Integration, error) {
	var integration models.Integration
	err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&integration).Error
	if err != nil {
		return nil, translate(err)
	}
	return &integration, nil
}

func (r *integrationRepository) ListByUser(ctx context.Context, userID uint) ([]models.Integration, error) {
	var integrations []models.Integration
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&integrations).Error
	return integrations, err
}

func (r *integrationRepository) CountByUser(ctx context.Context, userID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Integration{}).Where("user_id = ?", userID).Count(&count).Error
	return count, err
}

func (r *integrationRepository) UpdateStatus(ctx context.Context, id string, status, errorMessage string) error {
	res := r.db.WithContext(ctx).Model(&models.Integration{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":        status,
		"error_message": errorMessage,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
