package repository

import (
	"context"
	"errors"
	"time"

	"github.com/ManuelReschke/SyncFox/app/models"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned instead of gorm.ErrRecordNotFound.
	ErrNotFound = errors.New("record not found")
	// ErrQuotaExceeded is returned when an insert would push a user's
	// integration count above integration_limit.
	ErrQuotaExceeded = errors.New("integration limit reached")
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uint) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByStripeCustomerID(ctx context.Context, customerID string) (*models.User, error)
	UpdateProfile(ctx context.Context, id uint, name string) error
	UpdateAvatar(ctx context.Context, id uint, avatarURL string) error
	SetStripeCustomerID(ctx context.Context, id uint, customerID string) error
	UpdateSubscription(ctx context.Context, id uint, update SubscriptionUpdate) error
	TouchLastLogin(ctx context.Context, id uint, at time.Time) error
}

// SubscriptionUpdate is the complete subscription state written to a user row.
// Empty strings are written as-is, which clears the stored value.
type SubscriptionUpdate struct {
	Status           string
	SubscriptionID   string
	Tier             string
	IntegrationLimit int
}

// IntegrationRepository defines the interface for integration operations
type IntegrationRepository interface {
	CreateWithinLimit(ctx context.Context, integration *models.Integration) error
	GetByID(ctx context.Context, id string) (*models.Integration, error)
	GetForUser(ctx context.Context, userID uint, id string) (*models.Integration, error)
	ListByUser(ctx context.Context, userID uint) ([]models.Integration, error)
	CountByUser(ctx context.Context, userID uint) (int64, error)
	UpdateStatus(ctx context.Context, id string, status, errorMessage string) error
}

// WebhookEventRepository is the only write path into webhook_events.
type WebhookEventRepository interface {
	Record(ctx context.Context, integrationID, eventType string, payload []byte) (*models.WebhookEvent, *models.Integration, error)
	RecentForUser(ctx context.Context, userID uint, limit int) ([]models.WebhookEvent, error)
	CountByIntegration(ctx context.Context, integrationID string) (int64, error)
}

// ActivityRepository defines the interface for the activity log
type ActivityRepository interface {
	Log(ctx context.Context, entry *models.ActivityLog) error
	Recent(ctx context.Context, userID uint, limit int) ([]models.ActivityLog, error)
}

// ErrorLogRepository defines the interface for integration error logs
type ErrorLogRepository interface {
	Create(ctx context.Context, entry *models.ErrorLog) error
	ListByIntegration(ctx context.Context, integrationID string, limit int) ([]models.ErrorLog, error)
}

// UsageRepository defines the interface for flushed API usage counters
type UsageRepository interface {
	AddCalls(ctx context.Context, period string, deltas map[uint]int64) error
	Get(ctx context.Context, userID uint, period string) (int64, error)
}

// ConnectedAccountRepository defines the interface for linked identities and
// platform credentials
type ConnectedAccountRepository interface {
	Create(ctx context.Context, account *models.ConnectedAccount) error
	Save(ctx context.Context, account *models.ConnectedAccount) error
	GetForUser(ctx context.Context, userID, id uint) (*models.ConnectedAccount, error)
	FindLogin(ctx context.Context, provider, providerUserID string) (*models.ConnectedAccount, error)
	LinkToIntegration(ctx context.Context, userID uint, accountIDs []uint, integrationID string) error
}

// Repositories struct holds all repository instances
type Repositories struct {
	User        UserRepository
	Integration IntegrationRepository
	Webhook     WebhookEventRepository
	Activity    ActivityRepository
	ErrorLog    ErrorLogRepository
	Usage       UsageRepository
	Account     ConnectedAccountRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:        NewUserRepository(db),
		Integration: NewIntegrationRepository(db),
		Webhook:     NewWebhookEventRepository(db),
		Activity:    NewActivityRepository(db),
		ErrorLog:    NewErrorLogRepository(db),
		Usage:       NewUsageRepository(db),
		Account:     NewConnectedAccountRepository(db),
	}
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
