package repository

import (
	"context"

	"github.com/ManuelReschke/SyncFox/app/models"
	"gorm.io/gorm"
)

type connectedAccountRepository struct {
	db *gorm.DB
}

func NewConnectedAccountRepository(db *gorm.DB) ConnectedAccountRepository {
	return &connectedAccountRepository{db: db}
}

func (r *connectedAccountRepository) Create(ctx context.Context, account *models.ConnectedAccount) error {
	return r.db.WithContext(ctx).Create(account).Error
}

func (r *connectedAccountRepository) Save(ctx context.Context, account *models.ConnectedAccount) error {
	return r.db.WithContext(ctx).Save(account).Error
}

func (r *connectedAccountRepository) GetForUser(ctx context.Context, userID, id uint) (*models.ConnectedAccount, error) {
	var account models.ConnectedAccount
	err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&account).Error
	if err != nil {
		return nil, translate(err)
	}
	return &account, nil
}

// FindLogin resolves a provider identity used for signing in.
func (r *connectedAccountRepository) FindLogin(ctx context.Context, provider, providerUserID string) (*models.ConnectedAccount, error) {
	var account models.ConnectedAccount
	err := r.db.WithContext(ctx).
		Where("purpose = ? AND provider = ? AND provider_user_id = ?", models.ACCOUNT_PURPOSE_LOGIN, provider, providerUserID).
		First(&account).Error
	if err != nil {
		return nil, translate(err)
	}
	return &account, nil
}

// LinkToIntegration attaches wizard credentials to the integration they were
// collected for. Accounts of other users are left untouched.
func (r *connectedAccountRepository) LinkToIntegration(ctx context.Context, userID uint, accountIDs []uint, integrationID string) error {
	if len(accountIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&models.ConnectedAccount{}).
		Where("user_id = ? AND id IN ?", userID, accountIDs).
		Update("integration_id", integrationID).Error
}
