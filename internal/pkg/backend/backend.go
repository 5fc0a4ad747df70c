// Package backend bundles the data access and realtime capabilities that
// controllers and services receive at construction time.
package backend

import (
	"context"

	"gorm.io/gorm"

	"github.com/ManuelReschke/SyncFox/app/models"
	"github.com/ManuelReschke/SyncFox/app/repository"
	"github.com/ManuelReschke/SyncFox/internal/pkg/realtime"
)

type Backend struct {
	Repos *repository.Repositories
	Hub   realtime.Hub
}

func New(repos *repository.Repositories, hub realtime.Hub) *Backend {
	return &Backend{Repos: repos, Hub: hub}
}

// FromDB wires all repositories onto db.
func FromDB(db *gorm.DB, hub realtime.Hub) *Backend {
	return New(repository.NewRepositories(db), hub)
}

func (b *Backend) GetUser(ctx context.Context, id uint) (*models.User, error) {
	return b.Repos.User.GetByID(ctx, id)
}

func (b *Backend) Subscribe(ctx context.Context, channel string) (realtime.Subscription, error) {
	return b.Hub.Subscribe(ctx, channel)
}

func (b *Backend) Publish(ctx context.Context, channel string, payload []byte) error {
	return b.Hub.Publish(ctx, channel, payload)
}

// LogActivity appends to the user's activity log. Failures are returned so
// callers decide whether they matter.
func (b *Backend) LogActivity(ctx context.Context, userID uint, action string, details any) error {
	entry := models.NewActivityLog(userID, action, details)
	return b.Repos.Activity.Log(ctx, &entry)
}
