package database

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/ManuelReschke/SyncFox/app/models"
	"github.com/ManuelReschke/SyncFox/internal/pkg/env"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// Driver returns the configured database driver, defaulting to mysql.
func Driver() string {
	switch d := env.GetEnv("DB_DRIVER", DriverMySQL); d {
	case DriverPostgres, "postgresql", "pgx":
		return DriverPostgres
	default:
		return DriverMySQL
	}
}

// DSN builds the connection string for the configured driver. DATABASE_URL wins
// over the individual DB_* settings.
func DSN() string {
	if url := env.GetEnv("DATABASE_URL", ""); url != "" {
		return url
	}
	if Driver() == DriverPostgres {
		return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
			env.GetEnv("DB_HOST", "127.0.0.1"),
			env.GetEnv("DB_USER", "syncfox"),
			env.GetEnv("DB_PASSWORD", ""),
			env.GetEnv("DB_NAME", "syncfox"),
			env.GetEnv("DB_PORT", "5432"),
			env.GetEnv("DB_SSLMODE", "disable"),
		)
	}
	// "user:pass@tcp(127.0.0.1:3306)/dbname?charset=utf8mb4&parseTime=True&loc=Local"
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		env.GetEnv("DB_USER", "syncfox"),
		env.GetEnv("DB_PASSWORD", ""),
		env.GetEnv("DB_HOST", "127.0.0.1"),
		env.GetEnv("DB_PORT", "3306"),
		env.GetEnv("DB_NAME", "syncfox"),
	)
}

func dialector() gorm.Dialector {
	if Driver() == DriverPostgres {
		return postgres.Open(DSN())
	}
	return mysql.New(mysql.Config{
		DSN:                       DSN(),
		DefaultStringSize:         256,   // default size for string fields
		DisableDatetimePrecision:  true,  // disable datetime precision, which not supported before MySQL 5.6
		DontSupportRenameIndex:    true,  // drop & create when rename index, rename index not supported before MySQL 5.7, MariaDB
		DontSupportRenameColumn:   true,  // `change` when rename column, rename column not supported before MySQL 8, MariaDB
		SkipInitializeWithVersion: false, // auto configure based on currently MySQL version
	})
}

// SetupDatabase connects with retries. The schema is auto-migrated unless
// DB_AUTO_MIGRATE=false, in which case cmd/migrate owns it.
func SetupDatabase() *gorm.DB {
	var (
		db  *gorm.DB
		err error
	)
	for i := 0; i < maxRetries; i++ {
		db, err = gorm.Open(dialector(), &gorm.Config{})
		if err == nil {
			if env.GetEnvBool("DB_AUTO_MIGRATE", true) {
				if err = Migrate(db); err != nil {
					panic(fmt.Errorf("auto migrate: %w", err))
				}
			}
			log.Infof("[Database] connected (%s)", Driver())
			return db
		}

		log.Warnf("[Database] failed to connect (try %d/%d): %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			log.Infof("[Database] retrying in %v...", retryDelay)
			time.Sleep(retryDelay)
		}
	}

	panic(err)
}

// Migrate creates or updates every table the application owns.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Integration{},
		&models.WebhookEvent{},
		&models.ActivityLog{},
		&models.ErrorLog{},
		&models.APIUsage{},
		&models.ConnectedAccount{},
		&models.BillingWebhookEvent{},
		&models.BillingPlanMapping{},
	)
}
