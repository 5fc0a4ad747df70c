package repository_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/SyncFox/app/models"
	"github.com/ManuelReschke/SyncFox/app/repository"
	"github.com/ManuelReschke/SyncFox/internal/pkg/testdb"
)

func TestCreateWithinLimit(t *testing.T) {
	db := testdb.Open(t)
	repos := repository.NewRepositories(db)
	ctx := context.Background()
	user := testdb.CreateUser(t, db, "quota@example.com", "pro", 2)

	for i := 0; i < 2; i++ {
		err := repos.Integration.CreateWithinLimit(ctx, &models.Integration{
			UserID: user.ID, Name: "sync", Platform: "hubspot", TargetPlatform: "airtable",
		})
		require.NoError(t, err)
	}

	err := repos.Integration.CreateWithinLimit(ctx, &models.Integration{
		UserID: user.ID, Name: "one too many", Platform: "hubspot", TargetPlatform: "airtable",
	})
	assert.ErrorIs(t, err, repository.ErrQuotaExceeded)

	count, err := repos.Integration.CountByUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestCreateWithinLimitConcurrent(t *testing.T) {
	db := testdb.Open(t)
	repos := repository.NewRepositories(db)
	ctx := context.Background()
	user := testdb.CreateUser(t, db, "race@example.com", "free", 1)

	const workers = 8
	errs := make([]error, workers)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			errs[i] = repos.Integration.CreateWithinLimit(ctx, &models.Integration{
				UserID: user.ID, Name: fmt.Sprintf("sync-%d", i), Platform: "hubspot", TargetPlatform: "airtable",
			})
		}(i)
	}
	close(start)
	wg.Wait()

	var created, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			created++
		case errors.Is(err, repository.ErrQuotaExceeded):
			rejected++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, workers-1, rejected)

	count, err := repos.Integration.CountByUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestCreateWithinLimitUnknownUser(t *testing.T) {
	db := testdb.Open(t)
	repos := repository.NewRepositories(db)

	err := repos.Integration.CreateWithinLimit(context.Background(), &models.Integration{
		UserID: 404, Name: "ghost", Platform: "hubspot", TargetPlatform: "airtable",
	})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestCreateWithinLimitRaisedLimit(t *testing.T) {
	db := testdb.Open(t)
	repos := repository.NewRepositories(db)
	ctx := context.Background()
	user := testdb.CreateUser(t, db, "upgrade@example.com", "free", 1)
	testdb.CreateIntegration(t, db, user.ID, "first")

	err := repos.Integration.CreateWithinLimit(ctx, &models.Integration{UserID: user.ID, Name: "second", Platform: "shopify", TargetPlatform: "hubspot"})
	require.ErrorIs(t, err, repository.ErrQuotaExceeded)

	require.NoError(t, repos.User.UpdateSubscription(ctx, user.ID, repository.SubscriptionUpdate{
		Status: "active", SubscriptionID: "sub_123", Tier: "pro", IntegrationLimit: 5,
	}))
	err = repos.Integration.CreateWithinLimit(ctx, &models.Integration{UserID: user.ID, Name: "second", Platform: "shopify", TargetPlatform: "hubspot"})
	assert.NoError(t, err)
}

func TestWebhookRecordStampsLastSync(t *testing.T) {
	db := testdb.Open(t)
	repos := repository.NewRepositories(db)
	ctx := context.Background()
	user := testdb.CreateUser(t, db, "hooks@example.com", "free", 1)
	integration := testdb.CreateIntegration(t, db, user.ID, "orders")

	event, owner, err := repos.Webhook.Record(ctx, integration.ID, "order.created", []byte(`{"event_type":"order.created","id":1}`))
	require.NoError(t, err)
	assert.NotZero(t, event.ID)
	assert.Equal(t, user.ID, owner.UserID)

	stored, err := repos.Integration.GetByID(ctx, integration.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastSync)
	assert.WithinDuration(t, time.Now(), *stored.LastSync, 5*time.Second)

	count, err := repos.Webhook.CountByIntegration(ctx, integration.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestWebhookRecordUnknownIntegration(t *testing.T) {
	db := testdb.Open(t)
	repos := repository.NewRepositories(db)

	_, _, err := repos.Webhook.Record(context.Background(), "missing", "x", []byte(`{}`))
	assert.ErrorIs(t, err, repository.ErrNotFound)

	var count int64
	require.NoError(t, db.Model(&models.WebhookEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestRecentForUserScopesAndOrders(t *testing.T) {
	db := testdb.Open(t)
	repos := repository.NewRepositories(db)
	ctx := context.Background()
	alice := testdb.CreateUser(t, db, "alice@example.com", "pro", 5)
	bob := testdb.CreateUser(t, db, "bob@example.com", "pro", 5)
	a := testdb.CreateIntegration(t, db, alice.ID, "a")
	b := testdb.CreateIntegration(t, db, bob.ID, "b")

	for _, typ := range []string{"one", "two", "three"} {
		_, _, err := repos.Webhook.Record(ctx, a.ID, typ, []byte(`{}`))
		require.NoError(t, err)
	}
	_, _, err := repos.Webhook.Record(ctx, b.ID, "other", []byte(`{}`))
	require.NoError(t, err)

	events, err := repos.Webhook.RecentForUser(ctx, alice.ID, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "three", events[0].EventType)
	assert.Equal(t, "two", events[1].EventType)
}

func TestActivityRecentNewestFirst(t *testing.T) {
	db := testdb.Open(t)
	repos := repository.NewRepositories(db)
	ctx := context.Background()
	user := testdb.CreateUser(t, db, "log@example.com", "free", 1)

	for i := 0; i < 12; i++ {
		entry := models.NewActivityLog(user.ID, "action", map[string]int{"n": i})
		require.NoError(t, repos.Activity.Log(ctx, &entry))
	}

	recent, err := repos.Activity.Recent(ctx, user.ID, 10)
	require.NoError(t, err)
	require.Len(t, recent, 10)
	assert.JSONEq(t, `{"n":11}`, string(recent[0].Details))
}

func TestUsageAddCallsAccumulates(t *testing.T) {
	db := testdb.Open(t)
	repos := repository.NewRepositories(db)
	ctx := context.Background()
	user := testdb.CreateUser(t, db, "usage@example.com", "free", 1)

	require.NoError(t, repos.Usage.AddCalls(ctx, "2026-10", map[uint]int64{user.ID: 3}))
	require.NoError(t, repos.Usage.AddCalls(ctx, "2026-10", map[uint]int64{user.ID: 4}))

	calls, err := repos.Usage.Get(ctx, user.ID, "2026-10")
	require.NoError(t, err)
	assert.Equal(t, int64(7), calls)

	calls, err = repos.Usage.Get(ctx, user.ID, "2026-09")
	require.NoError(t, err)
	assert.Zero(t, calls)
}

func TestUserSubscriptionLookup(t *testing.T) {
	db := testdb.Open(t)
	repos := repository.NewRepositories(db)
	ctx := context.Background()
	user := testdb.CreateUser(t, db, "stripe@example.com", "free", 1)

	_, err := repos.User.GetByStripeCustomerID(ctx, "cus_1")
	assert.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, repos.User.SetStripeCustomerID(ctx, user.ID, "cus_1"))
	found, err := repos.User.GetByStripeCustomerID(ctx, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)

	assert.ErrorIs(t, repos.User.UpdateProfile(ctx, 999, "nobody"), repository.ErrNotFound)
}

func TestLinkToIntegrationOnlyOwnAccounts(t *testing.T) {
	db := testdb.Open(t)
	repos := repository.NewRepositories(db)
	ctx := context.Background()
	alice := testdb.CreateUser(t, db, "alice@example.com", "free", 1)
	bob := testdb.CreateUser(t, db, "bob@example.com", "free", 1)
	integration := testdb.CreateIntegration(t, db, alice.ID, "a")

	own := &models.ConnectedAccount{UserID: alice.ID, Provider: "hubspot", Secret: "sealed"}
	foreign := &models.ConnectedAccount{UserID: bob.ID, Provider: "hubspot", Secret: "sealed"}
	require.NoError(t, repos.Account.Create(ctx, own))
	require.NoError(t, repos.Account.Create(ctx, foreign))

	require.NoError(t, repos.Account.LinkToIntegration(ctx, alice.ID, []uint{own.ID, foreign.ID}, integration.ID))

	got, err := repos.Account.GetForUser(ctx, alice.ID, own.ID)
	require.NoError(t, err)
	require.NotNil(t, got.IntegrationID)
	assert.Equal(t, integration.ID, *got.IntegrationID)

	other, err := repos.Account.GetForUser(ctx, bob.ID, foreign.ID)
	require.NoError(t, err)
	assert.Nil(t, other.IntegrationID)
}
