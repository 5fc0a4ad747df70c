// Package dashboard assembles the overview a user sees after login and keeps
// the recent webhook list live.
package dashboard

import (
	"context"
	"fmt"
	"time"

	"github.com/ManuelReschke/SyncFox/app/models"
	"github.com/ManuelReschke/SyncFox/internal/pkg/backend"
	"github.com/ManuelReschke/SyncFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/SyncFox/internal/pkg/usage"
)

const (
	ActivityLimit     = 10
	RecentEventsLimit = 5
)

type Usage struct {
	Period string `json:"period"`
	Calls  int64  `json:"calls"`
	Limit  int64  `json:"limit"`
}

type Subscription struct {
	Tier             string `json:"tier"`
	Status           string `json:"status"`
	IntegrationLimit int    `json:"integrationLimit"`
	IntegrationCount int    `json:"integrationCount"`
}

type Snapshot struct {
	User         *models.User          `json:"user"`
	Subscription Subscription          `json:"subscription"`
	Integrations []models.Integration  `json:"integrations"`
	Usage        Usage                 `json:"usage"`
	Activity     []models.ActivityLog  `json:"activity"`
	RecentEvents []models.WebhookEvent `json:"recentEvents"`
}

// Aggregator loads dashboard snapshots.
type Aggregator struct {
	backend *backend.Backend
	usage   usage.Reader
	now     func() time.Time
}

func NewAggregator(b *backend.Backend, usage usage.Reader) *Aggregator {
	return &Aggregator{backend: b, usage: usage, now: time.Now}
}

// Load reads the user, their integrations, this month's usage, the latest
// activity and the latest webhook events, one after the other.
func (a *Aggregator) Load(ctx context.Context, userID uint) (*Snapshot, error) {
	repos := a.backend.Repos

	user, err := a.backend.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	integrations, err := repos.Integration.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load integrations: %w", err)
	}

	tier := entitlements.Normalize(user.SubscriptionTier)
	period := models.UsagePeriod(a.now())
	calls, err := a.usage.Calls(ctx, userID, period)
	if err != nil {
		return nil, fmt.Errorf("load usage: %w", err)
	}

	activity, err := repos.Activity.Recent(ctx, userID, ActivityLimit)
	if err != nil {
		return nil, fmt.Errorf("load activity: %w", err)
	}

	events, err := repos.Webhook.RecentForUser(ctx, userID, RecentEventsLimit)
	if err != nil {
		return nil, fmt.Errorf("load webhook events: %w", err)
	}

	return &Snapshot{
		User: user,
		Subscription: Subscription{
			Tier:             string(tier),
			Status:           user.SubscriptionStatus,
			IntegrationLimit: user.IntegrationLimit,
			IntegrationCount: len(integrations),
		},
		Integrations: integrations,
		Usage:        Usage{Period: period, Calls: calls, Limit: entitlements.MonthlyAPICalls(tier)},
		Activity:     activity,
		RecentEvents: events,
	}, nil
}
