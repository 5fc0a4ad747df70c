// Package testdb opens migrated in-memory SQLite databases for tests.
package testdb

import (
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/SyncFox/app/models"
	"github.com/ManuelReschke/SyncFox/internal/pkg/database"
)

// Open returns a fresh database that lives until the test finishes.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.ReplaceAll(uuid.NewString(), "-", "")
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// A single connection keeps the in-memory database alive and serializes writers.
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

// CreateUser inserts an active user on the given tier and limit.
func CreateUser(t testing.TB, db *gorm.DB, email string, tier string, limit int) *models.User {
	t.Helper()

	hash, err := models.HashPassword("password123")
	require.NoError(t, err)
	u := &models.User{
		Name:             strings.Split(email, "@")[0],
		Email:            email,
		Password:         hash,
		Role:             models.ROLE_USER,
		Status:           models.STATUS_ACTIVE,
		SubscriptionTier: tier,
		IntegrationLimit: limit,
	}
	require.NoError(t, db.Create(u).Error)
	return u
}

// CreateIntegration inserts an integration bypassing the quota check.
func CreateIntegration(t testing.TB, db *gorm.DB, userID uint, name string) *models.Integration {
	t.Helper()

	i := &models.Integration{
		UserID:         userID,
		Name:           name,
		Platform:       "shopify",
		TargetPlatform: "google_sheets",
		FieldMappings:  []models.FieldMapping{{Source: "email", Target: "email"}},
	}
	require.NoError(t, db.Create(i).Error)
	return i
}
